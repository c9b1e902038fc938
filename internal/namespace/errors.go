package namespace

import "errors"

// ErrEmptyObject marks an exact-match object of size zero. Classify
// reports such objects as Missing unless empty objects are exposed.
var ErrEmptyObject = errors.New("empty object")
