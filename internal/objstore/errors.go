package objstore

import "errors"

// Object store error kinds.
var (
	ErrNotFound          = errors.New("object not found")
	ErrRemoteUnavailable = errors.New("remote store unavailable")
	ErrInvalidRange      = errors.New("invalid byte range")
	ErrInvalidName       = errors.New("invalid bucket or key")
)

// IsNotFound reports whether err represents a missing bucket, key or prefix.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
