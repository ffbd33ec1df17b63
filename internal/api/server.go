// Package api exposes the collar pipeline over HTTP JSON.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/collarkit/collarkit/internal/config"
	"github.com/collarkit/collarkit/internal/httputil"
	"github.com/collarkit/collarkit/internal/locate"
	"github.com/collarkit/collarkit/internal/monitoring"
	"github.com/collarkit/collarkit/internal/store"
	"github.com/collarkit/collarkit/internal/tracking"
	"github.com/collarkit/collarkit/internal/version"
	"github.com/collarkit/collarkit/internal/zones"
)

// ANSI escape codes for request log colouring
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Server serves the collar HTTP API. The event store is optional; with
// no store the transition endpoints fall back to the in-memory history.
type Server struct {
	pipeline *tracking.Pipeline
	events   *store.Store
}

func NewServer(pipeline *tracking.Pipeline, events *store.Store) *Server {
	return &Server{
		pipeline: pipeline,
		events:   events,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	default:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	}
}

// LoggingMiddleware logs method, path, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/position", s.showPosition)
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/scan", s.ingestScan)
	mux.HandleFunc("/api/anchors", s.handleAnchors)
	mux.HandleFunc("/api/zones", s.handleZones)
	mux.HandleFunc("/api/transitions", s.listTransitions)
	mux.HandleFunc("/api/alerts", s.listAlerts)
	mux.HandleFunc("/api/version", s.showVersion)
	return mux
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}

func (s *Server) showPosition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	pos, ok := s.pipeline.Position()
	if !ok {
		httputil.NotFound(w, "no position fix yet")
		return
	}
	httputil.WriteJSONOK(w, pos)
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.pipeline.Status())
}

type scanRequest struct {
	Readings []tracking.Reading `json:"readings"`
}

type scanResponse struct {
	Position *locate.Position `json:"position,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// ingestScan accepts one scan cycle over HTTP. Estimation rejections are
// reported in the body with status 200: a rejected cycle is normal
// operation, not a request failure.
func (s *Server) ingestScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid scan payload: "+err.Error())
		return
	}

	pos, err := s.pipeline.Observe(req.Readings)
	if err != nil {
		httputil.WriteJSONOK(w, scanResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSONOK(w, scanResponse{Position: &pos})
}

func (s *Server) handleAnchors(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, map[string]any{"anchors": s.pipeline.Anchors()})

	case http.MethodPost:
		var entry config.BeaconEntry
		if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
			httputil.BadRequest(w, "invalid beacon entry: "+err.Error())
			return
		}
		if entry.Name == "" || entry.Location == "" {
			httputil.BadRequest(w, "beacon entry needs name and location")
			return
		}
		if err := s.pipeline.AddAnchor(entry.Name, entry.Location, entry.X, entry.Y, entry.Z); err != nil {
			if errors.Is(err, locate.ErrCapacityExceeded) {
				httputil.WriteJSONError(w, http.StatusConflict, err.Error())
				return
			}
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, map[string]string{"status": "ok"})

	case http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			httputil.BadRequest(w, "failed to read body: "+err.Error())
			return
		}
		doc, err := config.ParseBeacons(body)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		if err := s.pipeline.ApplyBeacons(doc); err != nil {
			httputil.WriteJSONError(w, http.StatusConflict, err.Error())
			return
		}
		httputil.WriteJSONOK(w, map[string]string{"status": "ok"})

	case http.MethodDelete:
		name := r.URL.Query().Get("name")
		if name == "" {
			httputil.BadRequest(w, "missing name parameter")
			return
		}
		if !s.pipeline.RemoveAnchor(name) {
			httputil.NotFound(w, "unknown anchor "+name)
			return
		}
		httputil.WriteJSONOK(w, map[string]string{"status": "ok"})

	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) handleZones(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		doc := config.ZoneDocumentFrom(s.pipeline.Zones())
		httputil.WriteJSONOK(w, doc)

	case http.MethodPost:
		var entry config.ZoneEntry
		if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
			httputil.BadRequest(w, "invalid zone entry: "+err.Error())
			return
		}
		if err := entry.Validate(); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		if err := s.pipeline.AddZone(entry.Zone()); err != nil {
			s.writeZoneError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, map[string]string{"status": "ok"})

	case http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			httputil.BadRequest(w, "failed to read body: "+err.Error())
			return
		}
		doc, err := config.ParseZones(body)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		if err := s.pipeline.ApplyZones(doc); err != nil {
			s.writeZoneError(w, err)
			return
		}
		httputil.WriteJSONOK(w, map[string]string{"status": "ok"})

	case http.MethodDelete:
		id := r.URL.Query().Get("id")
		if id == "" {
			httputil.BadRequest(w, "missing id parameter")
			return
		}
		if !s.pipeline.RemoveZone(id) {
			httputil.NotFound(w, "unknown zone "+id)
			return
		}
		httputil.WriteJSONOK(w, map[string]string{"status": "ok"})

	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) writeZoneError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, zones.ErrInvalidGeometry):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, zones.ErrZoneExists), errors.Is(err, zones.ErrCapacityExceeded):
		httputil.WriteJSONError(w, http.StatusConflict, err.Error())
	default:
		httputil.InternalServerError(w, err.Error())
	}
}

func (s *Server) listTransitions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	limit := queryLimit(r, 100)

	if s.events != nil {
		trs, err := s.events.RecentTransitions(limit)
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, map[string]any{"transitions": trs})
		return
	}

	// No store configured: serve the in-memory history, newest first.
	trs := s.pipeline.Transitions()
	for i, j := 0, len(trs)-1; i < j; i, j = i+1, j-1 {
		trs[i], trs[j] = trs[j], trs[i]
	}
	if len(trs) > limit {
		trs = trs[:limit]
	}
	httputil.WriteJSONOK(w, map[string]any{"transitions": trs})
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.events == nil {
		httputil.NotFound(w, "no event store configured")
		return
	}

	alerts, err := s.events.RecentBoundaryAlerts(queryLimit(r, 100))
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]any{"alerts": alerts})
}

func queryLimit(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
