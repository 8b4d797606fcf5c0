package salobj

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when no acknowledgement or sample arrives in time.
	ErrTimeout = errors.New("salobj: timeout")

	// ErrNoData is returned when a sample field is missing or has the wrong type.
	ErrNoData = errors.New("salobj: no data")

	// ErrInvalidName is returned for malformed "Name[:index]" strings.
	ErrInvalidName = errors.New("salobj: invalid component name")

	// ErrInvalidState is returned for unknown summary state names.
	ErrInvalidState = errors.New("salobj: invalid summary state")

	// ErrTransition is returned when no command sequence reaches the requested state.
	ErrTransition = errors.New("salobj: invalid state transition")
)

// AckError reports a command that did not complete.
//
// A command that timed out carries AckNoAck and wraps ErrTimeout, so both
// errors.As(err, &ackErr) and errors.Is(err, ErrTimeout) hold.
type AckError struct {
	Component string
	Command   string
	Ack       AckCode
	Code      int
	Result    string
	err       error
}

func (e *AckError) Error() string {
	msg := fmt.Sprintf("salobj: command %s.%s failed: ack=%s", e.Component, e.Command, e.Ack)
	if e.Code != 0 {
		msg += fmt.Sprintf(" error=%d", e.Code)
	}
	if e.Result != "" {
		msg += " result=" + e.Result
	}
	return msg
}

func (e *AckError) Unwrap() error {
	return e.err
}
