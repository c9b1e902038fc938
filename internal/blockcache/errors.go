package blockcache

import (
	"errors"
	"fmt"

	"github.com/bucketfs/bucketfs/internal/objstore"
)

// ErrFetchFailed is matched by every block fetch failure.
var ErrFetchFailed = errors.New("block fetch failed")

// FetchError reports a failed remote fetch of one block. Every caller
// waiting on the same fetch receives the same *FetchError. It unwraps to
// both ErrFetchFailed and the remote cause.
type FetchError struct {
	ID    objstore.ObjectID
	Index int64
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch block %d of %s: %v", e.Index, e.ID, e.Err)
}

func (e *FetchError) Unwrap() []error {
	return []error{ErrFetchFailed, e.Err}
}
