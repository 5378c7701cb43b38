package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JesusCabrera84/siscom-trips/internal/models"
)

const (
	claimStateSQL = `
		INSERT INTO trip_current_state (device_id, ignition_on, last_updated_at)
		VALUES ($1, FALSE, NOW())
		ON CONFLICT (device_id) DO NOTHING`

	lockStateSQL = `
		SELECT current_trip_id, ignition_on, last_correlation_id
		FROM trip_current_state
		WHERE device_id = $1
		FOR UPDATE`

	findOpenTripSQL = `
		SELECT trip_id
		FROM trips
		WHERE device_id = $1 AND end_time IS NULL
		ORDER BY start_time DESC
		LIMIT 1`

	insertTripSQL = `
		INSERT INTO trips (trip_id, device_id, start_time, start_lat, start_lng, start_odometer)
		VALUES ($1, $2, $3, $4, $5, $6)`

	closeTripSQL = `
		UPDATE trips
		SET end_time = $2,
		    end_lat = $3,
		    end_lng = $4,
		    end_odometer = COALESCE($5, end_odometer),
		    odometer_delta = CASE
		        WHEN $5::double precision IS NOT NULL AND start_odometer IS NOT NULL
		        THEN $5::double precision - start_odometer
		        ELSE odometer_delta
		    END
		WHERE trip_id = $1 AND end_time IS NULL`

	insertTripPointSQL = `
		INSERT INTO trip_points (trip_id, device_id, timestamp, lat, lng, speed, heading, correlation_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	insertTripAlertSQL = `
		INSERT INTO trip_alerts (alert_id, trip_id, timestamp, lat, lon, alert_type, raw_code, severity, device_id, correlation_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	insertIdleActivitySQL = `
		INSERT INTO device_idle_activity (idle_id, device_id, timestamp, lat, lon, activity_type, raw_code, severity, metadata, correlation_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10)`

	upsertStateSQL = `
		INSERT INTO trip_current_state (
			device_id, current_trip_id, ignition_on,
			last_point_at, last_lat, last_lng, last_speed,
			last_updated_at, last_correlation_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), $8)
		ON CONFLICT (device_id) DO UPDATE SET
			current_trip_id = EXCLUDED.current_trip_id,
			ignition_on = EXCLUDED.ignition_on,
			last_point_at = EXCLUDED.last_point_at,
			last_lat = EXCLUDED.last_lat,
			last_lng = EXCLUDED.last_lng,
			last_speed = EXCLUDED.last_speed,
			last_updated_at = NOW(),
			last_correlation_id = EXCLUDED.last_correlation_id`
)

// PostgresTripStore TripStore backed by PostgreSQL
type PostgresTripStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresTripStore creates the trip state repository
func NewPostgresTripStore(db *sql.DB, logger *zap.Logger) *PostgresTripStore {
	return &PostgresTripStore{
		db:     db,
		logger: logger,
	}
}

// BeginTx starts a read-committed transaction
func (s *PostgresTripStore) BeginTx(ctx context.Context) (TripTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &postgresTripTx{tx: tx, logger: s.logger}, nil
}

type postgresTripTx struct {
	tx     *sql.Tx
	logger *zap.Logger
}

func (t *postgresTripTx) LockDeviceState(ctx context.Context, deviceID string) (*models.DeviceCurrentState, error) {
	res, err := t.tx.ExecContext(ctx, claimStateSQL, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim device state: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		t.logger.Debug("Created device state", zap.String("device_id", deviceID))
	}

	var (
		tripID        uuid.NullUUID
		correlationID uuid.NullUUID
	)
	state := &models.DeviceCurrentState{DeviceID: deviceID}
	err = t.tx.QueryRowContext(ctx, lockStateSQL, deviceID).Scan(&tripID, &state.IgnitionOn, &correlationID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock device state: %w", err)
	}

	if tripID.Valid {
		state.CurrentTripID = &tripID.UUID
	}
	if correlationID.Valid {
		state.LastCorrelationID = &correlationID.UUID
	}
	return state, nil
}

func (t *postgresTripTx) FindOpenTrip(ctx context.Context, deviceID string) (uuid.UUID, error) {
	var tripID uuid.UUID
	err := t.tx.QueryRowContext(ctx, findOpenTripSQL, deviceID).Scan(&tripID)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, ErrNoOpenTrip
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to find open trip: %w", err)
	}
	return tripID, nil
}

func (t *postgresTripTx) InsertTrip(ctx context.Context, trip *models.Trip) error {
	_, err := t.tx.ExecContext(ctx, insertTripSQL,
		trip.TripID, trip.DeviceID, trip.StartTime,
		trip.StartLat, trip.StartLng, trip.StartOdometer,
	)
	if err != nil {
		return fmt.Errorf("failed to insert trip: %w", err)
	}
	return nil
}

func (t *postgresTripTx) CloseTrip(ctx context.Context, end TripEnd) error {
	res, err := t.tx.ExecContext(ctx, closeTripSQL,
		end.TripID, end.EndTime, end.EndLat, end.EndLng, end.Odometer,
	)
	if err != nil {
		return fmt.Errorf("failed to close trip: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to close trip: %w", err)
	}
	if n == 0 {
		t.logger.Warn("Trip already closed or missing",
			zap.String("trip_id", end.TripID.String()),
		)
		return ErrNoOpenTrip
	}
	return nil
}

func (t *postgresTripTx) InsertTripPoint(ctx context.Context, p *models.TripPoint) error {
	_, err := t.tx.ExecContext(ctx, insertTripPointSQL,
		p.TripID, p.DeviceID, p.Timestamp, p.Lat, p.Lng, p.Speed, p.Heading, p.CorrelationID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert trip point: %w", err)
	}
	return nil
}

func (t *postgresTripTx) InsertTripAlert(ctx context.Context, a *models.TripAlert) error {
	_, err := t.tx.ExecContext(ctx, insertTripAlertSQL,
		a.AlertID, a.TripID, a.Timestamp, a.Lat, a.Lon,
		a.AlertType, a.RawCode, a.Severity, a.DeviceID, a.CorrelationID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert trip alert: %w", err)
	}
	return nil
}

func (t *postgresTripTx) InsertIdleActivity(ctx context.Context, a *models.DeviceIdleActivity) error {
	metadata := "{}"
	if len(a.Metadata) > 0 {
		metadata = string(a.Metadata)
	}
	_, err := t.tx.ExecContext(ctx, insertIdleActivitySQL,
		a.IdleID, a.DeviceID, a.Timestamp, a.Lat, a.Lon,
		a.ActivityType, a.RawCode, a.Severity, metadata, a.CorrelationID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert idle activity: %w", err)
	}
	return nil
}

func (t *postgresTripTx) UpsertDeviceState(ctx context.Context, s *models.DeviceCurrentState) error {
	_, err := t.tx.ExecContext(ctx, upsertStateSQL,
		s.DeviceID, s.CurrentTripID, s.IgnitionOn,
		s.LastPointAt, s.LastLat, s.LastLng, s.LastSpeed,
		s.LastCorrelationID,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert device state: %w", err)
	}
	return nil
}

func (t *postgresTripTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (t *postgresTripTx) Rollback() error {
	err := t.tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}
