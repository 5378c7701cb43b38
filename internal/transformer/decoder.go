package transformer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/JesusCabrera84/siscom-trips/internal/models"
)

// Payload formats
const (
	FormatAuto   = "auto"
	FormatJSON   = "json"
	FormatBinary = "binary"
)

// Decoder turns raw source payloads into canonical events
type Decoder struct {
	format string
	now    func() time.Time
}

// NewDecoder creates a decoder for the given format (auto, json, binary)
func NewDecoder(format string) (*Decoder, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	switch format {
	case "":
		format = FormatAuto
	case FormatAuto, FormatJSON, FormatBinary:
	default:
		return nil, fmt.Errorf("unsupported payload format %q", format)
	}
	return &Decoder{format: format, now: time.Now}, nil
}

// Decode decodes a payload. In auto mode a leading '{' selects JSON.
func (d *Decoder) Decode(payload []byte) (*models.Event, error) {
	switch d.format {
	case FormatJSON:
		return DecodeJSON(payload)
	case FormatBinary:
		return DecodeBinary(payload, d.now)
	}

	trimmed := bytes.TrimLeft(payload, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedPayload)
	}
	if trimmed[0] == '{' {
		return DecodeJSON(trimmed)
	}
	return DecodeBinary(payload, d.now)
}

// DecodeFields normalizes a flat field map, as carried by stream entries.
// receivedAt is recorded in the metadata and used when GPS_DATETIME is
// unusable.
func (d *Decoder) DecodeFields(values map[string]string, receivedAt time.Time) (*models.Event, error) {
	fields := FieldsFromStrings(values)
	env := envelope{
		fields: fields,
		uuid:   fields.Text(FieldUUID, strings.ToUpper(FieldUUID)),
	}

	if receivedAt.IsZero() {
		receivedAt = d.now()
	}
	meta := models.DeviceMetadata{
		ReceivedEpoch: receivedAt.UnixMilli(),
		DeviceID:      fields.Text(FieldDeviceID),
	}
	if b, err := json.Marshal(meta); err == nil {
		env.metadata = b
	}
	env.fallbackTime = func() time.Time { return receivedAt }

	return normalize(env)
}
