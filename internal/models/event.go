package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event canonical telemetry event, identical for every source adapter
type Event struct {
	DeviceID string
	EventID  uuid.UUID
	// Idempotent is false when EventID was generated locally because the
	// payload carried no usable uuid.
	Idempotent bool

	Alert    *string
	MsgClass string

	Timestamp time.Time
	Latitude  float64
	Longitude float64
	Speed     float64
	Heading   float64
	Odometer  float64
	// HasOdometer distinguishes a real zero reading from a missing one
	HasOdometer bool

	RawCode *int32

	// Metadata opaque JSON object forwarded into idle activity rows
	Metadata json.RawMessage
}

// AlertText returns the trimmed alert, "" when absent
func (e *Event) AlertText() string {
	if e.Alert == nil {
		return ""
	}
	return strings.TrimSpace(*e.Alert)
}

// DeviceMetadata receipt record attached to binary payloads
type DeviceMetadata struct {
	WorkerID      int64  `json:"WORKER_ID"`
	Bytes         int64  `json:"BYTES"`
	ClientIP      string `json:"CLIENT_IP,omitempty"`
	ClientPort    int64  `json:"CLIENT_PORT,omitempty"`
	ReceivedEpoch int64  `json:"RECEIVED_EPOCH,omitempty"`
	DecodedEpoch  int64  `json:"DECODED_EPOCH,omitempty"`
	DeviceID      string `json:"DEVICE_ID,omitempty"`
}
