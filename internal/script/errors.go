package script

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is returned when a host operation is not allowed in the
	// current lifecycle state.
	ErrInvalidState = errors.New("script: invalid state")

	// ErrInvalidSchema is returned when a script schema does not parse.
	ErrInvalidSchema = errors.New("script: invalid schema")
)

// ExpectedError is a failure the script anticipated, such as bad
// configuration or a violated precondition. Hosts log it as a plain message
// rather than an internal error.
type ExpectedError struct {
	// Msg is the complete message.
	Msg string
	Err error
}

func (e *ExpectedError) Error() string {
	if e.Msg == "" && e.Err != nil {
		return e.Err.Error()
	}
	return e.Msg
}

func (e *ExpectedError) Unwrap() error {
	return e.Err
}

// Expectedf returns an ExpectedError with a formatted message. A %w verb
// wraps its operand as usual.
func Expectedf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	return &ExpectedError{Msg: err.Error(), Err: errors.Unwrap(err)}
}

// AsExpected marks err as expected. A nil err returns nil.
func AsExpected(err error) error {
	if err == nil || IsExpected(err) {
		return err
	}
	return &ExpectedError{Msg: err.Error(), Err: err}
}

// IsExpected reports whether err is, or wraps, an ExpectedError.
func IsExpected(err error) bool {
	var e *ExpectedError
	return errors.As(err, &e)
}
