package transformer

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

type flexKind uint8

const (
	flexAbsent flexKind = iota
	flexNumber
	flexText
)

// FlexValue a vendor field that may arrive as a JSON number or as text
// ("+20.652494", "0.00", ""). Coercion happens in the accessors, never via
// reflection.
type FlexValue struct {
	kind   flexKind
	number float64
	text   string
}

// NumberValue wraps a decoded number
func NumberValue(f float64) FlexValue {
	return FlexValue{kind: flexNumber, number: f}
}

// TextValue wraps raw text
func TextValue(s string) FlexValue {
	return FlexValue{kind: flexText, text: s}
}

// UnmarshalJSON accepts strings and numbers. Anything else (null, bool,
// objects) decodes as absent rather than failing the whole payload.
func (v *FlexValue) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*v = FlexValue{}
	if len(b) == 0 {
		return nil
	}

	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = TextValue(s)
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		// out-of-range literals stay absent so the numeric default applies
		var f float64
		if err := json.Unmarshal(b, &f); err != nil {
			return nil
		}
		*v = NumberValue(f)
	}
	return nil
}

// Present reports whether the field carried anything at all
func (v FlexValue) Present() bool {
	return v.kind != flexAbsent
}

// Raw returns the untrimmed text form
func (v FlexValue) Raw() (string, bool) {
	switch v.kind {
	case flexText:
		return v.text, true
	case flexNumber:
		return strconv.FormatFloat(v.number, 'f', -1, 64), true
	default:
		return "", false
	}
}

// Text returns the trimmed text; empty text counts as absent
func (v FlexValue) Text() (string, bool) {
	s, ok := v.Raw()
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// Float parses the value; empty or unparseable text counts as absent
func (v FlexValue) Float() (float64, bool) {
	switch v.kind {
	case flexNumber:
		return v.number, true
	case flexText:
		s := strings.TrimSpace(v.text)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Int32 parses an integral value
func (v FlexValue) Int32() (int32, bool) {
	switch v.kind {
	case flexNumber:
		if v.number != math.Trunc(v.number) || v.number > math.MaxInt32 || v.number < math.MinInt32 {
			return 0, false
		}
		return int32(v.number), true
	case flexText:
		n, err := strconv.ParseInt(strings.TrimSpace(v.text), 10, 32)
		if err != nil {
			return 0, false
		}
		return int32(n), true
	default:
		return 0, false
	}
}

// Fields vendor field map, keyed by the upstream field names. Both payload
// shapes are reduced to Fields before normalization.
type Fields map[string]FlexValue

// FieldsFromStrings builds Fields from a flat string-keyed map
func FieldsFromStrings(values map[string]string) Fields {
	fields := make(Fields, len(values))
	for k, v := range values {
		fields[k] = TextValue(v)
	}
	return fields
}

// Get returns the first present key
func (f Fields) Get(keys ...string) FlexValue {
	for _, k := range keys {
		if v, ok := f[k]; ok && v.Present() {
			return v
		}
	}
	return FlexValue{}
}

// Float returns the value for key or 0 when missing or unparseable
func (f Fields) Float(keys ...string) float64 {
	v, _ := f.Get(keys...).Float()
	return v
}

// Text returns the trimmed text for key
func (f Fields) Text(keys ...string) string {
	v, _ := f.Get(keys...).Text()
	return v
}
