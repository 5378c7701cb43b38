package transformer

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JesusCabrera84/siscom-trips/internal/models"
)

// Vendor field names
const (
	FieldDeviceID    = "DEVICE_ID"
	FieldAlert       = "ALERT"
	FieldMsgClass    = "MSG_CLASS"
	FieldGPSDateTime = "GPS_DATETIME"
	FieldGPSEpoch    = "GPS_EPOCH"
	FieldLatitude    = "LATITUD"
	FieldLongitude   = "LONGITUD"
	FieldSpeed       = "SPEED"
	FieldHeading     = "COURSE"
	FieldOdometer    = "ODOMETER"
	FieldRawCode     = "raw_code"
	FieldUUID        = "uuid"
)

var gpsDateTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// ParseGPSDateTime parses the vendor timestamp, interpreted as UTC
func ParseGPSDateTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range gpsDateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// envelope source-neutral input to normalize
type envelope struct {
	fields   Fields
	uuid     string
	metadata json.RawMessage
	// metaDeviceID device id carried by the metadata record
	metaDeviceID string
	// fallbackTime is used when GPS_DATETIME is unusable; nil means the event
	// is dropped instead.
	fallbackTime func() time.Time
}

func normalize(env envelope) (*models.Event, error) {
	f := env.fields

	deviceID := f.Text(FieldDeviceID)
	if deviceID == "" {
		deviceID = strings.TrimSpace(env.metaDeviceID)
	}
	if deviceID == "" {
		return nil, ErrMissingDeviceID
	}

	ts, ok := ParseGPSDateTime(f.Text(FieldGPSDateTime))
	if !ok {
		if env.fallbackTime == nil {
			return nil, ErrInvalidTimestamp
		}
		ts = env.fallbackTime().UTC()
	}

	event := &models.Event{
		DeviceID:  deviceID,
		MsgClass:  f.Text(FieldMsgClass),
		Timestamp: ts,
		Latitude:  f.Float(FieldLatitude),
		Longitude: f.Float(FieldLongitude),
		Speed:     f.Float(FieldSpeed),
		Heading:   f.Float(FieldHeading),
		Metadata:  env.metadata,
	}

	if id, err := uuid.Parse(strings.TrimSpace(env.uuid)); err == nil && id != uuid.Nil {
		event.EventID = id
		event.Idempotent = true
	} else {
		event.EventID = uuid.New()
	}

	if alert, ok := f.Get(FieldAlert).Raw(); ok {
		event.Alert = &alert
	}
	if odo, ok := f.Get(FieldOdometer).Float(); ok {
		event.Odometer = odo
		event.HasOdometer = true
	}
	if code, ok := f.Get(FieldRawCode, strings.ToUpper(FieldRawCode)).Int32(); ok {
		event.RawCode = &code
	}
	if len(event.Metadata) == 0 {
		event.Metadata = json.RawMessage(`{}`)
	}

	return event, nil
}
