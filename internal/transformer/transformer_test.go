package transformer

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

const turnOnPayload = `{
  "data": {
    "ALERT": "Turn On",
    "BACKUP_BATTERY_PERCENT": "",
    "COURSE": "128",
    "DEVICE_ID": "867564050638581",
    "GPS_DATETIME": "2025-09-02 19:26:43",
    "LATITUD": "20.605243",
    "LONGITUD": "-100.384140",
    "MSG_CLASS": "ALERT",
    "ODOMETER": "121.8",
    "SPEED": "33.9",
    "raw_code": "30"
  },
  "metadata": {
    "BYTES": 152,
    "CLIENT_IP": "10.0.0.7",
    "CLIENT_PORT": 60001,
    "DECODED_EPOCH": 1756841203512,
    "RECEIVED_EPOCH": 1756841203508,
    "WORKER_ID": 3
  },
  "uuid": "40f8ef36-4d01-50cd-88da-06fad8a19bac"
}`

const statusPayload = `{
  "data": {
    "ALERT": "",
    "DEVICE_ID": "0848086072",
    "GPS_DATETIME": "2025-09-02T19:30:00",
    "LATITUD": "+20.652494",
    "LONGITUD": "-100.391400",
    "MSG_CLASS": "STATUS",
    "SPEED": "0.00",
    "ODOMETER": ""
  },
  "metadata": {"WORKER_ID": 1},
  "uuid": ""
}`

func TestDecodeJSON_TurnOn(t *testing.T) {
	event, err := DecodeJSON([]byte(turnOnPayload))
	require.NoError(t, err)

	assert.Equal(t, "867564050638581", event.DeviceID)
	assert.Equal(t, uuid.MustParse("40f8ef36-4d01-50cd-88da-06fad8a19bac"), event.EventID)
	assert.True(t, event.Idempotent)
	require.NotNil(t, event.Alert)
	assert.Equal(t, "Turn On", *event.Alert)
	assert.Equal(t, "ALERT", event.MsgClass)
	assert.Equal(t, time.Date(2025, 9, 2, 19, 26, 43, 0, time.UTC), event.Timestamp)
	assert.InDelta(t, 20.605243, event.Latitude, 1e-9)
	assert.InDelta(t, -100.384140, event.Longitude, 1e-9)
	assert.InDelta(t, 33.9, event.Speed, 1e-9)
	assert.InDelta(t, 128, event.Heading, 1e-9)
	assert.True(t, event.HasOdometer)
	assert.InDelta(t, 121.8, event.Odometer, 1e-9)
	require.NotNil(t, event.RawCode)
	assert.Equal(t, int32(30), *event.RawCode)

	var meta map[string]interface{}
	require.NoError(t, json.Unmarshal(event.Metadata, &meta))
	assert.Equal(t, "10.0.0.7", meta["CLIENT_IP"])
}

func TestDecodeJSON_StatusWithoutUUID(t *testing.T) {
	event, err := DecodeJSON([]byte(statusPayload))
	require.NoError(t, err)

	assert.Equal(t, "0848086072", event.DeviceID)
	assert.False(t, event.Idempotent)
	assert.NotEqual(t, uuid.Nil, event.EventID)
	assert.InDelta(t, 20.652494, event.Latitude, 1e-9)
	assert.Zero(t, event.Speed)
	assert.False(t, event.HasOdometer)
	assert.Nil(t, event.RawCode)
	require.NotNil(t, event.Alert)
	assert.Equal(t, "", event.AlertText())
	assert.Equal(t, time.Date(2025, 9, 2, 19, 30, 0, 0, time.UTC), event.Timestamp)
}

func TestDecodeJSON_NumericFields(t *testing.T) {
	payload := `{"data":{"DEVICE_ID":"dev-1","GPS_DATETIME":"2025-01-01 00:00:00","LATITUD":19.5,"LONGITUD":-99.1,"SPEED":"abc","raw_code":7},"uuid":"not-a-uuid"}`

	event, err := DecodeJSON([]byte(payload))
	require.NoError(t, err)

	assert.InDelta(t, 19.5, event.Latitude, 1e-9)
	assert.InDelta(t, -99.1, event.Longitude, 1e-9)
	assert.Zero(t, event.Speed, "unparseable numbers default to zero")
	assert.False(t, event.Idempotent)
	assert.Nil(t, event.Alert)
	require.NotNil(t, event.RawCode)
	assert.Equal(t, int32(7), *event.RawCode)
	assert.JSONEq(t, `{}`, string(event.Metadata))
}

func TestDecodeJSON_OutOfRangeNumbers(t *testing.T) {
	payload := `{"data":{"DEVICE_ID":"dev-1","GPS_DATETIME":"2025-01-01 00:00:00","LATITUD":19.5,"SPEED":1e400,"ODOMETER":-1e999}}`

	event, err := DecodeJSON([]byte(payload))
	require.NoError(t, err)

	assert.Equal(t, "dev-1", event.DeviceID)
	assert.InDelta(t, 19.5, event.Latitude, 1e-9)
	assert.Zero(t, event.Speed)
	assert.False(t, event.HasOdometer)
}

func TestDecodeJSON_DeviceIDFromMetadata(t *testing.T) {
	payload := `{"data":{"GPS_DATETIME":"2025-01-01 00:00:00"},"metadata":{"DEVICE_ID":"meta-dev"}}`

	event, err := DecodeJSON([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, "meta-dev", event.DeviceID)
}

func TestDecodeJSON_Errors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    error
	}{
		{"malformed", `{"data":`, ErrMalformedPayload},
		{"no data", `{"uuid":"x"}`, ErrMalformedPayload},
		{"missing device", `{"data":{"GPS_DATETIME":"2025-01-01 00:00:00"}}`, ErrMissingDeviceID},
		{"blank device", `{"data":{"DEVICE_ID":"  ","GPS_DATETIME":"2025-01-01 00:00:00"}}`, ErrMissingDeviceID},
		{"missing timestamp", `{"data":{"DEVICE_ID":"d"}}`, ErrInvalidTimestamp},
		{"bad timestamp", `{"data":{"DEVICE_ID":"d","GPS_DATETIME":"02/09/2025"}}`, ErrInvalidTimestamp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeJSON([]byte(tt.payload))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, errors.Is(err, ErrDecode))
		})
	}
}

func TestFlexValue_Float(t *testing.T) {
	tests := []struct {
		name  string
		value FlexValue
		want  float64
		ok    bool
	}{
		{"number", NumberValue(1.5), 1.5, true},
		{"signed text", TextValue("+20.652494"), 20.652494, true},
		{"padded text", TextValue(" 33.9 "), 33.9, true},
		{"empty", TextValue(""), 0, false},
		{"garbage", TextValue("n/a"), 0, false},
		{"absent", FlexValue{}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.value.Float()
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

// binary test helpers build the envelope by hand with protowire

func appendStringField(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func buildBinary(id string, data map[string]string, received int64) []byte {
	var b []byte
	if id != "" {
		b = appendStringField(b, envelopeUUIDField, id)
	}
	for k, v := range data {
		var entry []byte
		entry = appendStringField(entry, mapKeyField, k)
		entry = appendStringField(entry, mapValueField, v)
		b = protowire.AppendTag(b, envelopeDataField, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}
	var meta []byte
	meta = appendVarintField(meta, metaWorkerIDField, 2)
	meta = appendVarintField(meta, metaBytesField, 88)
	meta = appendStringField(meta, metaClientIPField, "10.1.1.1")
	meta = appendVarintField(meta, metaReceivedEpochField, uint64(received))
	b = protowire.AppendTag(b, envelopeMetadataField, protowire.BytesType)
	b = protowire.AppendBytes(b, meta)
	// unknown field is skipped
	b = appendVarintField(b, 99, 1)
	return b
}

func TestDecodeBinary(t *testing.T) {
	payload := buildBinary("40f8ef36-4d01-50cd-88da-06fad8a19bac", map[string]string{
		"DEVICE_ID":    "867564050638581",
		"ALERT":        "ENGINE OFF",
		"GPS_DATETIME": "2025-09-02 20:00:00",
		"LATITUD":      "20.6",
		"LONGITUD":     "-100.3",
		"ODOMETER":     "130.2",
	}, 1756843200000)

	event, err := DecodeBinary(payload, time.Now)
	require.NoError(t, err)

	assert.Equal(t, "867564050638581", event.DeviceID)
	assert.True(t, event.Idempotent)
	assert.Equal(t, "ENGINE OFF", event.AlertText())
	assert.Equal(t, time.Date(2025, 9, 2, 20, 0, 0, 0, time.UTC), event.Timestamp)
	assert.InDelta(t, 130.2, event.Odometer, 1e-9)

	var meta map[string]interface{}
	require.NoError(t, json.Unmarshal(event.Metadata, &meta))
	assert.Equal(t, "10.1.1.1", meta["CLIENT_IP"])
	assert.EqualValues(t, 88, meta["BYTES"])
}

func TestDecodeBinary_TimestampFallback(t *testing.T) {
	received := time.Date(2025, 9, 2, 21, 0, 0, 0, time.UTC)
	fixedNow := func() time.Time { return time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC) }

	payload := buildBinary("", map[string]string{"DEVICE_ID": "d1", "GPS_DATETIME": "garbage"}, received.UnixMilli())
	event, err := DecodeBinary(payload, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, received, event.Timestamp)
	assert.False(t, event.Idempotent)

	payload = buildBinary("", map[string]string{"DEVICE_ID": "d1", "GPS_EPOCH": "1756843200"}, received.UnixMilli())
	event, err = DecodeBinary(payload, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1756843200, 0).UTC(), event.Timestamp)

	payload = buildBinary("", map[string]string{"DEVICE_ID": "d1"}, 0)
	event, err = DecodeBinary(payload, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, fixedNow(), event.Timestamp)
}

func TestDecodeBinary_Truncated(t *testing.T) {
	payload := buildBinary("", map[string]string{"DEVICE_ID": "d1"}, 1)
	_, err := DecodeBinary(payload[:len(payload)-4], time.Now)
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestDecoder_AutoDetect(t *testing.T) {
	d, err := NewDecoder("")
	require.NoError(t, err)

	event, err := d.Decode([]byte("  \n" + turnOnPayload))
	require.NoError(t, err)
	assert.Equal(t, "867564050638581", event.DeviceID)

	payload := buildBinary("", map[string]string{"DEVICE_ID": "bin-1", "GPS_DATETIME": "2025-09-02 20:00:00"}, 1)
	event, err = d.Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, "bin-1", event.DeviceID)

	_, err = d.Decode([]byte("   "))
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestDecoder_ForcedFormat(t *testing.T) {
	d, err := NewDecoder("JSON")
	require.NoError(t, err)
	payload := buildBinary("", map[string]string{"DEVICE_ID": "bin-1"}, 1)
	_, err = d.Decode(payload)
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = NewDecoder("xml")
	assert.Error(t, err)
}

func TestDecoder_DecodeFields(t *testing.T) {
	d, err := NewDecoder(FormatAuto)
	require.NoError(t, err)
	received := time.Date(2025, 9, 2, 22, 0, 0, 0, time.UTC)

	event, err := d.DecodeFields(map[string]string{
		"DEVICE_ID": "flat-1",
		"ALERT":     "Turn Off",
		"SPEED":     "12.5",
		"uuid":      "40f8ef36-4d01-50cd-88da-06fad8a19bac",
	}, received)
	require.NoError(t, err)

	assert.Equal(t, "flat-1", event.DeviceID)
	assert.True(t, event.Idempotent)
	assert.Equal(t, received, event.Timestamp)
	assert.InDelta(t, 12.5, event.Speed, 1e-9)
	assert.Contains(t, string(event.Metadata), `"RECEIVED_EPOCH":1756850400000`)
}
