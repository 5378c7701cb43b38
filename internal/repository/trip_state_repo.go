package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/JesusCabrera84/siscom-trips/internal/models"
)

// ErrNoOpenTrip no trip without end_time matched
var ErrNoOpenTrip = errors.New("no open trip")

// TripStore opens one unit of work per event
type TripStore interface {
	BeginTx(ctx context.Context) (TripTx, error)
}

// TripTx a single transaction. LockDeviceState goes first; the device row
// stays locked until Commit or Rollback.
type TripTx interface {
	// LockDeviceState claims the device row and reads it FOR UPDATE. A
	// freshly claimed row reports IgnitionOn=false.
	LockDeviceState(ctx context.Context, deviceID string) (*models.DeviceCurrentState, error)
	// FindOpenTrip most recent trip of the device with no end_time
	FindOpenTrip(ctx context.Context, deviceID string) (uuid.UUID, error)

	InsertTrip(ctx context.Context, trip *models.Trip) error
	// CloseTrip returns ErrNoOpenTrip if the trip is unknown or already closed
	CloseTrip(ctx context.Context, end TripEnd) error
	InsertTripPoint(ctx context.Context, point *models.TripPoint) error
	InsertTripAlert(ctx context.Context, alert *models.TripAlert) error
	InsertIdleActivity(ctx context.Context, activity *models.DeviceIdleActivity) error
	UpsertDeviceState(ctx context.Context, state *models.DeviceCurrentState) error

	Commit() error
	Rollback() error
}

// TripEnd closing values for an open trip
type TripEnd struct {
	TripID   uuid.UUID
	EndTime  time.Time
	EndLat   float64
	EndLng   float64
	Odometer *float64
}
