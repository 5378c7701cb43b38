package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Synthetic alert types written at trip boundaries
const (
	AlertIgnitionOn  = "ignition_on"
	AlertIgnitionOff = "ignition_off"
)

// ActivityGPSIdle activity_type for idle events without alert text
const ActivityGPSIdle = "gps_idle_point"

// DefaultSeverity placeholder until alerts get a real taxonomy
const DefaultSeverity int16 = 1

// DeviceCurrentState one row per device. CurrentTripID is only non-null
// while IgnitionOn is true.
type DeviceCurrentState struct {
	DeviceID          string     `gorm:"primaryKey;type:text"`
	CurrentTripID     *uuid.UUID `gorm:"type:uuid"`
	IgnitionOn        bool       `gorm:"not null;default:false"`
	LastPointAt       *time.Time `gorm:"type:timestamp"`
	LastLat           *float64
	LastLng           *float64
	LastSpeed         *float64
	LastUpdatedAt     time.Time  `gorm:"type:timestamptz;not null;default:now()"`
	LastCorrelationID *uuid.UUID `gorm:"type:uuid"`
}

func (DeviceCurrentState) TableName() string {
	return "trip_current_state"
}

// Trip start/end boundaries of one ignition cycle
type Trip struct {
	TripID        uuid.UUID  `gorm:"primaryKey;type:uuid"`
	DeviceID      string     `gorm:"type:text;not null;index:idx_trips_device_open,priority:1"`
	StartTime     time.Time  `gorm:"type:timestamp;not null;index:idx_trips_device_open,priority:3"`
	StartLat      *float64
	StartLng      *float64
	EndTime       *time.Time `gorm:"type:timestamp;index:idx_trips_device_open,priority:2"`
	EndLat        *float64
	EndLng        *float64
	StartOdometer *float64
	EndOdometer   *float64
	OdometerDelta *float64
}

func (Trip) TableName() string {
	return "trips"
}

// TripPoint GPS sample inside an open trip
type TripPoint struct {
	PointID       int64     `gorm:"primaryKey;autoIncrement"`
	TripID        uuid.UUID `gorm:"type:uuid;not null;index"`
	DeviceID      string    `gorm:"type:text;not null"`
	Timestamp     time.Time `gorm:"type:timestamp;not null"`
	Lat           float64   `gorm:"not null"`
	Lng           float64   `gorm:"not null"`
	Speed         *float64
	Heading       *float64
	CorrelationID uuid.UUID `gorm:"type:uuid;not null"`
}

func (TripPoint) TableName() string {
	return "trip_points"
}

// TripAlert alert raised while a trip is open, including the synthetic
// ignition_on / ignition_off rows
type TripAlert struct {
	AlertID       uuid.UUID  `gorm:"primaryKey;type:uuid"`
	TripID        uuid.UUID  `gorm:"type:uuid;not null;index"`
	Timestamp     time.Time  `gorm:"type:timestamp;not null"`
	Lat           *float64
	Lon           *float64
	AlertType     string     `gorm:"type:text;not null"`
	RawCode       *int32
	Severity      int16      `gorm:"not null;default:1"`
	DeviceID      string     `gorm:"type:text;not null"`
	CorrelationID *uuid.UUID `gorm:"type:uuid"`
}

func (TripAlert) TableName() string {
	return "trip_alerts"
}

// DeviceIdleActivity event received while no trip is open
type DeviceIdleActivity struct {
	IdleID        uuid.UUID       `gorm:"primaryKey;type:uuid"`
	DeviceID      string          `gorm:"type:text;not null;index"`
	Timestamp     time.Time       `gorm:"type:timestamp;not null"`
	Lat           *float64
	Lon           *float64
	ActivityType  string          `gorm:"type:text;not null"`
	RawCode       *int32
	Severity      int16           `gorm:"not null;default:1"`
	Metadata      json.RawMessage `gorm:"type:jsonb"`
	CorrelationID *uuid.UUID      `gorm:"type:uuid"`
}

func (DeviceIdleActivity) TableName() string {
	return "device_idle_activity"
}

// AllTables models handed to schema migration
func AllTables() []interface{} {
	return []interface{}{
		&DeviceCurrentState{},
		&Trip{},
		&TripPoint{},
		&TripAlert{},
		&DeviceIdleActivity{},
	}
}
