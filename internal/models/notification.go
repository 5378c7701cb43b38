package models

import (
	"time"

	"github.com/google/uuid"
)

// Trip lifecycle notification types
const (
	NotificationTripStarted = "trip_started"
	NotificationTripEnded   = "trip_ended"
)

// TripNotification published after a trip boundary commits
type TripNotification struct {
	Type          string    `json:"type"`
	TripID        uuid.UUID `json:"trip_id"`
	DeviceID      string    `json:"device_id"`
	Timestamp     time.Time `json:"timestamp"`
	Lat           float64   `json:"lat"`
	Lng           float64   `json:"lng"`
	CorrelationID uuid.UUID `json:"correlation_id"`
}
