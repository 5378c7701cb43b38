package transformer

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/JesusCabrera84/siscom-trips/internal/models"
)

type jsonEnvelope struct {
	Data     Fields          `json:"data"`
	Metadata json.RawMessage `json:"metadata"`
	UUID     string          `json:"uuid"`
}

type jsonMetadata struct {
	DeviceID FlexValue `json:"DEVICE_ID"`
}

// DecodeJSON decodes the {data, metadata, uuid} envelope. GPS_DATETIME is
// mandatory for this shape.
func DecodeJSON(payload []byte) (*models.Event, error) {
	var raw jsonEnvelope
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if raw.Data == nil {
		return nil, fmt.Errorf("%w: missing data object", ErrMalformedPayload)
	}

	env := envelope{
		fields: raw.Data,
		uuid:   raw.UUID,
	}

	meta := bytes.TrimSpace(raw.Metadata)
	if len(meta) > 0 && meta[0] == '{' {
		env.metadata = json.RawMessage(meta)
		var m jsonMetadata
		if err := json.Unmarshal(meta, &m); err == nil {
			env.metaDeviceID, _ = m.DeviceID.Text()
		}
	}

	return normalize(env)
}
