package transformer

import (
	"errors"
	"fmt"
)

// ErrDecode is wrapped by every permanent decode failure. Callers drop the
// message instead of asking for redelivery.
var ErrDecode = errors.New("decode error")

var (
	ErrMalformedPayload = fmt.Errorf("%w: malformed payload", ErrDecode)
	ErrMissingDeviceID  = fmt.Errorf("%w: missing device id", ErrDecode)
	ErrInvalidTimestamp = fmt.Errorf("%w: invalid GPS_DATETIME", ErrDecode)
)
