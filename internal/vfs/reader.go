package vfs

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/bucketfs/bucketfs/internal/blockcache"
	"github.com/bucketfs/bucketfs/internal/namespace"
)

// Reader is a cursor over one object opened through FS.OpenReader.
// A Reader is owned by a single caller and is not safe for concurrent use;
// many Readers share the FS's block cache.
type Reader struct {
	ctx     context.Context
	cache   *blockcache.Cache
	path    namespace.VirtualPath
	size    int64
	pos     int64
	session string
	logger  zerolog.Logger
}

var (
	_ io.Reader   = (*Reader)(nil)
	_ io.ReaderAt = (*Reader)(nil)
	_ io.Seeker   = (*Reader)(nil)
	_ io.Closer   = (*Reader)(nil)
)

// Path returns the opened path.
func (r *Reader) Path() namespace.VirtualPath { return r.path }

// Size returns the object size snapshotted at open time.
func (r *Reader) Size() int64 { return r.size }

// Position returns the current read position.
func (r *Reader) Position() int64 { return r.pos }

// Session returns the reader's session id, used to correlate log lines.
func (r *Reader) Session() string { return r.session }

// ReadN reads up to n bytes from the current position and advances it by
// the number of bytes returned. A negative n reads to the end of the
// object. At or past the end it returns an empty slice and no error.
func (r *Reader) ReadN(n int64) ([]byte, error) {
	remaining := max(r.size-r.pos, 0)
	if n < 0 || n > remaining {
		n = remaining
	}
	data, err := r.get(r.pos, n)
	if err != nil {
		return nil, err
	}
	r.pos += int64(len(data))
	return data, nil
}

// ReadAtOffset seeks to the absolute offset and reads up to n bytes from there.
func (r *Reader) ReadAtOffset(offset, n int64) ([]byte, error) {
	if _, err := r.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}
	return r.ReadN(n)
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if r.pos >= r.size {
		return 0, io.EOF
	}
	data, err := r.ReadN(int64(len(p)))
	if err != nil {
		return 0, err
	}
	return copy(p, data), nil
}

// ReadAt implements io.ReaderAt. It does not move the read position.
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("read at %d: %w", off, ErrNegativeOffset)
	}
	if off >= r.size {
		return 0, io.EOF
	}
	n := min(int64(len(p)), r.size-off)
	data, err := r.get(off, n)
	if err != nil {
		return 0, err
	}
	copied := copy(p, data)
	if copied < len(p) {
		return copied, io.EOF
	}
	return copied, nil
}

// Seek implements io.Seeker with the standard whence values. Seeking past
// the end is allowed; reads there return no data.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = r.pos
	case io.SeekEnd:
		base = r.size
	default:
		return r.pos, fmt.Errorf("seek whence %d: %w", whence, ErrInvalidWhence)
	}
	pos := base + offset
	if pos < 0 {
		return r.pos, fmt.Errorf("seek to %d: %w", pos, ErrNegativeOffset)
	}
	r.pos = pos
	return pos, nil
}

// Close resets the read position. Cached blocks stay shared.
func (r *Reader) Close() error {
	r.pos = 0
	r.logger.Debug().Msg("Closed reader")
	return nil
}

func (r *Reader) get(offset, n int64) ([]byte, error) {
	if n <= 0 {
		return []byte{}, nil
	}
	data, err := r.cache.Get(r.ctx, r.path.ID(), r.size, offset, n)
	if err != nil {
		r.logger.Debug().Err(err).Int64("offset", offset).Int64("length", n).Msg("Read failed")
		return nil, err
	}
	return data, nil
}
