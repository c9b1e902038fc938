package vfs

import "errors"

var (
	// ErrNotFile is returned when opening a path that is not a file.
	ErrNotFile = errors.New("not a file")

	// ErrIsDir is returned alongside ErrNotFile when opening a directory.
	ErrIsDir = errors.New("is a directory")

	// ErrNegativeOffset is returned by Seek when the result would be negative.
	ErrNegativeOffset = errors.New("negative offset")

	// ErrInvalidWhence is returned by Seek for an unknown whence.
	ErrInvalidWhence = errors.New("invalid whence")
)
