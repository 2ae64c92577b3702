package job

import "errors"

// nonRetryable marks a handler error as permanent.
type nonRetryable struct {
	err error
}

func (e *nonRetryable) Error() string { return e.err.Error() }
func (e *nonRetryable) Unwrap() error { return e.err }

// NonRetryable wraps err so the worker pool routes the job straight to
// failed-terminal regardless of remaining attempts. Wrapping nil returns nil.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryable{err: err}
}

// IsNonRetryable reports whether err (or anything it wraps) was marked
// permanent with NonRetryable.
func IsNonRetryable(err error) bool {
	var nr *nonRetryable
	return errors.As(err, &nr)
}
