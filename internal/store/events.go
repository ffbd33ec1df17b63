package store

import (
	"fmt"
	"time"

	"github.com/collarkit/collarkit/internal/zones"
)

// BoundaryAlert is one persisted boundary-proximity event.
type BoundaryAlert struct {
	ZoneID    string    `json:"zone_id"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Distance  float64   `json:"distance"`
	Timestamp time.Time `json:"timestamp"`
}

// RecordTransition persists one confirmed zone transition.
func (s *Store) RecordTransition(tr zones.Transition) error {
	_, err := s.Exec(
		`INSERT INTO transitions (id, from_zone_id, to_zone_id, x, y, confidence, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tr.ID, tr.FromZoneID, tr.ToZoneID, tr.X, tr.Y, tr.Confidence, tr.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record transition %s: %w", tr.ID, err)
	}
	return nil
}

// RecentTransitions returns up to limit transitions, newest first.
func (s *Store) RecentTransitions(limit int) ([]zones.Transition, error) {
	rows, err := s.Query(
		`SELECT id, from_zone_id, to_zone_id, x, y, confidence, timestamp
		 FROM transitions ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	defer rows.Close()

	var out []zones.Transition
	for rows.Next() {
		var tr zones.Transition
		if err := rows.Scan(&tr.ID, &tr.FromZoneID, &tr.ToZoneID, &tr.X, &tr.Y, &tr.Confidence, &tr.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// CountTransitions returns the total number of persisted transitions.
func (s *Store) CountTransitions() (int, error) {
	var n int
	if err := s.QueryRow(`SELECT COUNT(*) FROM transitions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count transitions: %w", err)
	}
	return n, nil
}

// RecordBoundaryAlert persists one boundary-proximity event.
func (s *Store) RecordBoundaryAlert(a BoundaryAlert) error {
	_, err := s.Exec(
		`INSERT INTO boundary_alerts (zone_id, x, y, distance, timestamp)
		 VALUES (?, ?, ?, ?, ?)`,
		a.ZoneID, a.X, a.Y, a.Distance, a.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record boundary alert for zone %s: %w", a.ZoneID, err)
	}
	return nil
}

// RecentBoundaryAlerts returns up to limit alerts, newest first.
func (s *Store) RecentBoundaryAlerts(limit int) ([]BoundaryAlert, error) {
	rows, err := s.Query(
		`SELECT zone_id, x, y, distance, timestamp
		 FROM boundary_alerts ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query boundary alerts: %w", err)
	}
	defer rows.Close()

	var out []BoundaryAlert
	for rows.Next() {
		var a BoundaryAlert
		if err := rows.Scan(&a.ZoneID, &a.X, &a.Y, &a.Distance, &a.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan boundary alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// PruneBefore deletes transitions and boundary alerts older than cutoff,
// returning the number of rows removed.
func (s *Store) PruneBefore(cutoff time.Time) (int64, error) {
	var total int64
	for _, table := range []string{"transitions", "boundary_alerts"} {
		res, err := s.Exec(
			fmt.Sprintf(`DELETE FROM %s WHERE timestamp < ?`, table), cutoff.UTC())
		if err != nil {
			return total, fmt.Errorf("failed to prune %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
