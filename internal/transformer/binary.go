package transformer

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/JesusCabrera84/siscom-trips/internal/models"
)

// Binary payloads are protobuf-encoded envelopes:
//
//	message Envelope {
//	  string uuid = 1;
//	  map<string, string> data = 2;
//	  Metadata metadata = 3;
//	}
//	message Metadata {
//	  int64 worker_id = 1;
//	  int64 bytes = 2;
//	  string client_ip = 3;
//	  int64 client_port = 4;
//	  int64 received_epoch = 5; // milliseconds
//	  int64 decoded_epoch = 6;  // milliseconds
//	  string device_id = 7;
//	}
//
// Unknown fields are skipped.
const (
	envelopeUUIDField     protowire.Number = 1
	envelopeDataField     protowire.Number = 2
	envelopeMetadataField protowire.Number = 3

	mapKeyField   protowire.Number = 1
	mapValueField protowire.Number = 2

	metaWorkerIDField      protowire.Number = 1
	metaBytesField         protowire.Number = 2
	metaClientIPField      protowire.Number = 3
	metaClientPortField    protowire.Number = 4
	metaReceivedEpochField protowire.Number = 5
	metaDecodedEpochField  protowire.Number = 6
	metaDeviceIDField      protowire.Number = 7
)

type binaryEnvelope struct {
	uuid     string
	data     map[string]string
	metadata *models.DeviceMetadata
}

// DecodeBinary decodes a protobuf envelope. When GPS_DATETIME is unusable
// the timestamp falls back to GPS_EPOCH, then to the receipt epoch, then
// to now.
func DecodeBinary(payload []byte, now func() time.Time) (*models.Event, error) {
	raw, err := parseBinaryEnvelope(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	fields := FieldsFromStrings(raw.data)
	env := envelope{
		fields: fields,
		uuid:   raw.uuid,
	}

	if raw.metadata != nil {
		env.metaDeviceID = raw.metadata.DeviceID
		if b, err := json.Marshal(raw.metadata); err == nil {
			env.metadata = b
		}
	}

	env.fallbackTime = func() time.Time {
		if secs, ok := fields.Get(FieldGPSEpoch).Float(); ok && secs > 0 {
			return time.Unix(int64(secs), 0)
		}
		if raw.metadata != nil && raw.metadata.ReceivedEpoch > 0 {
			return time.UnixMilli(raw.metadata.ReceivedEpoch)
		}
		return now()
	}

	return normalize(env)
}

func parseBinaryEnvelope(b []byte) (*binaryEnvelope, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("empty payload")
	}

	env := &binaryEnvelope{data: make(map[string]string)}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case num == envelopeUUIDField && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			env.uuid = v
			b = b[n:]
		case num == envelopeDataField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			key, value, err := parseMapEntry(v)
			if err != nil {
				return nil, fmt.Errorf("data entry: %w", err)
			}
			env.data[key] = value
			b = b[n:]
		case num == envelopeMetadataField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			meta, err := parseMetadata(v)
			if err != nil {
				return nil, fmt.Errorf("metadata: %w", err)
			}
			env.metadata = meta
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return env, nil
}

func parseMapEntry(b []byte) (string, string, error) {
	var key, value string
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", "", protowire.ParseError(n)
		}
		b = b[n:]

		if typ == protowire.BytesType && (num == mapKeyField || num == mapValueField) {
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return "", "", protowire.ParseError(n)
			}
			if num == mapKeyField {
				key = v
			} else {
				value = v
			}
			b = b[n:]
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return "", "", protowire.ParseError(n)
		}
		b = b[n:]
	}
	return key, value, nil
}

func parseMetadata(b []byte) (*models.DeviceMetadata, error) {
	meta := &models.DeviceMetadata{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			switch num {
			case metaWorkerIDField:
				meta.WorkerID = int64(v)
			case metaBytesField:
				meta.Bytes = int64(v)
			case metaClientPortField:
				meta.ClientPort = int64(v)
			case metaReceivedEpochField:
				meta.ReceivedEpoch = int64(v)
			case metaDecodedEpochField:
				meta.DecodedEpoch = int64(v)
			}
		case typ == protowire.BytesType && (num == metaClientIPField || num == metaDeviceIDField):
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			if num == metaClientIPField {
				meta.ClientIP = v
			} else {
				meta.DeviceID = v
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return meta, nil
}
