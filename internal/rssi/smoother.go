package rssi

import (
	"sort"
	"time"

	"github.com/collarkit/collarkit/internal/timeutil"
)

const (
	// SmootherWindow is how many recent packets feed one smoothed value.
	SmootherWindow = 10

	// SmootherMaxAge drops packets older than this so the smoothed value
	// tracks the current scan cycle instead of lagging behind movement.
	SmootherMaxAge = 500 * time.Millisecond
)

type packet struct {
	rssi int
	seen time.Time
}

// Smoother aggregates raw advertising packets per beacon and reports a
// median-smoothed RSSI, damping single-packet spikes before distance
// conversion. Scanners commonly deliver several adverts per beacon per
// cycle; the median of the surviving window is robust to a lone outlier
// where a mean is not.
type Smoother struct {
	clock   timeutil.Clock
	window  int
	maxAge  time.Duration
	beacons map[string][]packet
}

// NewSmoother creates a smoother with the default window and packet age
// bound. A nil clock defaults to the real clock.
func NewSmoother(clock timeutil.Clock) *Smoother {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Smoother{
		clock:   clock,
		window:  SmootherWindow,
		maxAge:  SmootherMaxAge,
		beacons: make(map[string][]packet),
	}
}

// Add records one advertising packet and returns the smoothed RSSI over
// the beacon's surviving window. A zero RSSI is the "no signal" sentinel
// and passes through unchanged without entering the window.
func (s *Smoother) Add(beacon string, rssi int) int {
	if rssi == 0 {
		return 0
	}
	now := s.clock.Now()
	pkts := s.fresh(s.beacons[beacon], now)
	pkts = append(pkts, packet{rssi: rssi, seen: now})
	if len(pkts) > s.window {
		pkts = pkts[len(pkts)-s.window:]
	}
	s.beacons[beacon] = pkts
	return median(pkts)
}

// fresh drops packets past the age bound. Packets arrive in time order,
// so the survivors are a suffix.
func (s *Smoother) fresh(pkts []packet, now time.Time) []packet {
	cut := 0
	for cut < len(pkts) && now.Sub(pkts[cut].seen) > s.maxAge {
		cut++
	}
	return pkts[cut:]
}

// Reset drops all collected packets for all beacons.
func (s *Smoother) Reset() {
	s.beacons = make(map[string][]packet)
}

func median(pkts []packet) int {
	vals := make([]int, len(pkts))
	for i, p := range pkts {
		vals[i] = p.rssi
	}
	sort.Ints(vals)
	n := len(vals)
	if n%2 == 1 {
		return vals[n/2]
	}
	return (vals[n/2-1] + vals[n/2]) / 2
}
