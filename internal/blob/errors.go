package blob

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the object id or filename does not resolve.
	ErrNotFound = errors.New("blob: object not found")

	// ErrTooLarge means an object exceeded the caller's byte cap.
	ErrTooLarge = errors.New("blob: object exceeds size limit")

	ErrQueueFull = errors.New("blob: upload queue is full")
)

// WriteError wraps an I/O failure while storing an object. A partially
// written object may exist under Key; it is never indexed and must not be
// referenced.
type WriteError struct {
	Key string
	Err error
}

func (e *WriteError) Error() string { return fmt.Sprintf("blob: write %s: %v", e.Key, e.Err) }
func (e *WriteError) Unwrap() error { return e.Err }

// ReadError wraps an I/O failure while fetching an object.
type ReadError struct {
	Key string
	Err error
}

func (e *ReadError) Error() string { return fmt.Sprintf("blob: read %s: %v", e.Key, e.Err) }
func (e *ReadError) Unwrap() error { return e.Err }
