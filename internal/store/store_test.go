package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collarkit/collarkit/internal/zones"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenAppliesMigrations(t *testing.T) {
	s := newTestStore(t)

	// The migrated schema must accept rows immediately.
	n, err := s.CountTransitions()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.RecordTransition(zones.Transition{
		ID: uuid.NewString(), ToZoneID: "home", Timestamp: time.Now(),
	}))
	require.NoError(t, s1.Close())

	// Reopening an already-migrated database is a no-op migration.
	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	n, err := s2.CountTransitions()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTransitionRoundTrip(t *testing.T) {
	s := newTestStore(t)

	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	ids := make([]string, 3)
	for i := range ids {
		ids[i] = uuid.NewString()
		require.NoError(t, s.RecordTransition(zones.Transition{
			ID:         ids[i],
			FromZoneID: "",
			ToZoneID:   "home",
			X:          1.5,
			Y:          -2.25,
			Confidence: 0.87,
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
		}))
	}

	got, err := s.RecentTransitions(2)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Newest first.
	assert.Equal(t, ids[2], got[0].ID)
	assert.Equal(t, ids[1], got[1].ID)
	assert.Equal(t, "home", got[0].ToZoneID)
	assert.Equal(t, "", got[0].FromZoneID)
	assert.InDelta(t, 0.87, got[0].Confidence, 1e-9)
	assert.True(t, got[0].Timestamp.Equal(base.Add(2*time.Minute)))
}

func TestBoundaryAlertRoundTrip(t *testing.T) {
	s := newTestStore(t)

	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordBoundaryAlert(BoundaryAlert{
		ZoneID: "home", X: 5.3, Y: 0, Distance: 0.3, Timestamp: now,
	}))

	got, err := s.RecentBoundaryAlerts(10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "home", got[0].ZoneID)
	assert.InDelta(t, 0.3, got[0].Distance, 1e-9)
}

func TestPruneBefore(t *testing.T) {
	s := newTestStore(t)

	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		require.NoError(t, s.RecordTransition(zones.Transition{
			ID:        uuid.NewString(),
			ToZoneID:  "home",
			Timestamp: base.Add(time.Duration(i) * time.Hour),
		}))
	}
	require.NoError(t, s.RecordBoundaryAlert(BoundaryAlert{
		ZoneID: "home", Timestamp: base,
	}))

	removed, err := s.PruneBefore(base.Add(2 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	n, err := s.CountTransitions()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
