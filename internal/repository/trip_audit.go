package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// OpenTripConflict device with more than one trip lacking end_time
type OpenTripConflict struct {
	DeviceID    string
	OpenTrips   int
	OldestStart time.Time
	NewestStart time.Time
}

// DriftedState state row claiming ignition on while no trip is open
type DriftedState struct {
	DeviceID    string
	LastPointAt *time.Time
}

// TripAudit read-only consistency checks over the trip tables
type TripAudit struct {
	db *sql.DB
}

// NewTripAudit creates the audit repository
func NewTripAudit(db *sql.DB) *TripAudit {
	return &TripAudit{db: db}
}

// OpenTripConflicts devices violating the single-open-trip rule
func (a *TripAudit) OpenTripConflicts(ctx context.Context) ([]OpenTripConflict, error) {
	query := `
		SELECT device_id, COUNT(*), MIN(start_time), MAX(start_time)
		FROM trips
		WHERE end_time IS NULL
		GROUP BY device_id
		HAVING COUNT(*) > 1
		ORDER BY device_id`

	rows, err := a.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query open trips: %w", err)
	}
	defer rows.Close()

	var conflicts []OpenTripConflict
	for rows.Next() {
		var c OpenTripConflict
		if err := rows.Scan(&c.DeviceID, &c.OpenTrips, &c.OldestStart, &c.NewestStart); err != nil {
			return nil, fmt.Errorf("failed to scan open trips: %w", err)
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}

// DriftedStates ignition_on rows with no resolvable open trip
func (a *TripAudit) DriftedStates(ctx context.Context) ([]DriftedState, error) {
	query := `
		SELECT s.device_id, s.last_point_at
		FROM trip_current_state s
		WHERE s.ignition_on
		  AND NOT EXISTS (
		      SELECT 1 FROM trips t
		      WHERE t.device_id = s.device_id AND t.end_time IS NULL
		  )
		ORDER BY s.device_id`

	rows, err := a.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query drifted states: %w", err)
	}
	defer rows.Close()

	var drifted []DriftedState
	for rows.Next() {
		var (
			d           DriftedState
			lastPointAt sql.NullTime
		)
		if err := rows.Scan(&d.DeviceID, &lastPointAt); err != nil {
			return nil, fmt.Errorf("failed to scan drifted states: %w", err)
		}
		if lastPointAt.Valid {
			d.LastPointAt = &lastPointAt.Time
		}
		drifted = append(drifted, d)
	}
	return drifted, rows.Err()
}
