package device

import (
	"errors"
	"fmt"
)

// ErrNoAddress is returned when an account has an empty device address.
// Surfaces upstream as a configuration failure before any loop starts.
var ErrNoAddress = errors.New("device address is empty")

// TransportError reports a network failure or a non-2xx device response.
// Recoverable: the relay loop backs off and retries the whole cycle.
type TransportError struct {
	Status int // zero when the request never reached the device
	Body   string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("device request failed: %v", e.Err)
	}
	if e.Body != "" {
		return fmt.Sprintf("device returned %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("device returned %d", e.Status)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError reports a response body that is not parseable as JSON.
// Callers treat it as "no messages this cycle" rather than propagating it,
// to keep the poll loop alive.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("device response not decodable: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
