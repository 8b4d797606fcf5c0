package imageserver

import "errors"

var (
	// ErrRequestFailed wraps transport errors and non-200 responses.
	ErrRequestFailed = errors.New("imageserver: request failed")

	// ErrBadResponse is returned when the response body is not a list of ids.
	ErrBadResponse = errors.New("imageserver: bad response")
)
