package lfa

import "errors"

var (
	// ErrDisabled indicates LFA uploads are disabled in configuration.
	ErrDisabled = errors.New("lfa: disabled in configuration")

	// ErrUploadFailed wraps S3 upload errors.
	ErrUploadFailed = errors.New("lfa: upload failed")
)
