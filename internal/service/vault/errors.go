package vault

import "errors"

var (
	// ErrUnauthorized is returned when a caller touches a file it does not own.
	ErrUnauthorized = errors.New("file does not belong to caller")

	// ErrQuotaExceeded is returned when storing a new blob would push the
	// owner past the physical byte budget. References never trigger it.
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrFileReferenced is returned on an attempt to delete a canonical file
	// whose bytes other logical files still depend on.
	ErrFileReferenced = errors.New("file has live references")
)
