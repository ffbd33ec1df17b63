// Command collard runs the collar positioning daemon: a UDP listener for
// beacon scan batches, the estimation and geofencing pipeline, and the
// HTTP API.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/collarkit/collarkit/internal/api"
	"github.com/collarkit/collarkit/internal/config"
	"github.com/collarkit/collarkit/internal/store"
	"github.com/collarkit/collarkit/internal/tracking"
	"github.com/collarkit/collarkit/internal/version"
)

var (
	configPath = flag.String("config", "", "Path to the service YAML config")
	listen     = flag.String("listen", "", "HTTP listen address (overrides config)")
	udpListen  = flag.String("udp", "", "UDP scan listen address (overrides config)")
	dbPath     = flag.String("db", "", "Event database path (overrides config)")
)

// scanPacket is the UDP wire format: one JSON object per datagram.
type scanPacket struct {
	Readings []tracking.Reading `json:"readings"`
}

func main() {
	flag.Parse()

	log.Printf("collard %s (%s)", version.Version, version.GitSHA)

	svc := config.DefaultServiceConfig()
	if *configPath != "" {
		var err error
		svc, err = config.LoadServiceConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load service config: %v", err)
		}
	}
	if *listen != "" {
		svc.Listen = *listen
	}
	if *udpListen != "" {
		svc.UDPListen = *udpListen
	}
	if *dbPath != "" {
		svc.Database = *dbPath
	}

	tuning := config.EmptyTuningConfig()
	if svc.Tuning != "" {
		var err error
		tuning, err = config.LoadTuningConfig(svc.Tuning)
		if err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
	}

	var events *store.Store
	if svc.Database != "" {
		var err error
		events, err = store.Open(svc.Database)
		if err != nil {
			log.Fatalf("failed to open event database: %v", err)
		}
		defer events.Close()
	}

	pipeline := tracking.New(tuning, nil, events, nil)

	if svc.Beacons != "" {
		doc, err := config.LoadBeacons(svc.Beacons)
		if err != nil {
			log.Fatalf("failed to load beacons: %v", err)
		}
		if err := pipeline.ApplyBeacons(doc); err != nil {
			log.Fatalf("failed to apply beacons: %v", err)
		}
		log.Printf("loaded %d beacons from %s", len(doc.Beacons), svc.Beacons)
	}
	if svc.Zones != "" {
		doc, err := config.LoadZones(svc.Zones)
		if err != nil {
			log.Fatalf("failed to load zones: %v", err)
		}
		if err := pipeline.ApplyZones(doc); err != nil {
			log.Fatalf("failed to apply zones: %v", err)
		}
		log.Printf("loaded %d zones from %s", len(doc.Zones), svc.Zones)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// UDP scan listener: collars push one JSON scan batch per datagram.
	conn, err := net.ListenPacket("udp", svc.UDPListen)
	if err != nil {
		log.Fatalf("failed to listen on %s: %v", svc.UDPListen, err)
	}
	log.Printf("UDP scan listener on %s", svc.UDPListen)

	wg.Add(1)
	go func() {
		defer wg.Done()
		readScans(ctx, conn, pipeline)
		log.Print("scan listener terminated")
	}()

	// close the socket on shutdown to unblock the read loop
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		conn.Close()
	}()

	// housekeeping: re-evaluate schedules between scans and prune the
	// event log
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(svc.GetTickInterval())
		defer ticker.Stop()
		pruneEvery := time.Hour
		lastPrune := time.Now()
		for {
			select {
			case <-ticker.C:
				pipeline.Evaluate()
				if time.Since(lastPrune) >= pruneEvery {
					pipeline.Prune(svc.GetRetention())
					lastPrune = time.Now()
				}
			case <-ctx.Done():
				log.Print("housekeeping terminated")
				return
			}
		}
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		server := &http.Server{
			Addr:    svc.Listen,
			Handler: api.LoggingMiddleware(api.NewServer(pipeline, events).ServeMux()),
		}

		go func() {
			log.Printf("HTTP API on %s", svc.Listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}()

	wg.Wait()
	log.Print("collard stopped")
}

// readScans consumes scan datagrams until the socket is closed.
func readScans(ctx context.Context, conn net.PacketConn, pipeline *tracking.Pipeline) {
	buffer := make([]byte, 65536)
	for {
		n, _, err := conn.ReadFrom(buffer)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("read error: %v", err)
			continue
		}

		var pkt scanPacket
		if err := json.Unmarshal(buffer[:n], &pkt); err != nil {
			log.Printf("failed to unmarshal scan packet: %v", err)
			continue
		}
		if len(pkt.Readings) == 0 {
			continue
		}

		// Rejected cycles are routine: sparse coverage or outliers.
		pipeline.Observe(pkt.Readings)
	}
}
