package queue

import "errors"

// A job message carries nothing but the photo record id. Workers fetch the
// record and the source object themselves, so redelivered messages never go
// stale. Delivery is at-least-once; the whole pipeline is safe to rerun for
// the same id.
const payloadField = "payload"
const attemptField = "attempt"

// permanentError marks failures that redelivery can never fix: the record is
// gone, or the source bytes will never decode. The consume loop acks these
// instead of retrying.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the consume loop drops the message after logging
// instead of requeueing it.
func Permanent(err error) error {
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
