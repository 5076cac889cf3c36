package bus

import (
	"errors"
	"fmt"
	"time"
)

// RetryableError marks a reset handler error as transient, e.g. the
// capability store was briefly unreachable.
type RetryableError struct {
	Err   error
	Delay time.Duration
}

func (e *RetryableError) Error() string {
	if e == nil {
		return ""
	}
	if e.Delay > 0 {
		return fmt.Sprintf("retry after %s: %v", e.Delay, e.Err)
	}
	return fmt.Sprintf("retry: %v", e.Err)
}

func (e *RetryableError) RetryDelay() time.Duration {
	if e == nil {
		return 0
	}
	return e.Delay
}

func (e *RetryableError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// RetryAfter wraps err with a retry delay.
func RetryAfter(err error, delay time.Duration) error {
	if err == nil {
		err = errors.New("retry requested")
	}
	return &RetryableError{Err: err, Delay: max(delay, 0)}
}

// RetryDelay extracts a retry delay from err when it is retryable.
func RetryDelay(err error) (time.Duration, bool) {
	var rd interface{ RetryDelay() time.Duration }
	if errors.As(err, &rd) {
		return max(rd.RetryDelay(), 0), true
	}
	return 0, false
}
