package timer

import (
	"math"
	"time"

	"github.com/cockroachdb/errors"
)

// FromNanos converts a raw nanosecond count to a time.Duration, rejecting
// values that do not fit.
func FromNanos(ns uint64) (time.Duration, error) {
	if ns > math.MaxInt64 {
		return 0, errors.Wrapf(ErrInvalidArgument, "%d nanoseconds overflows time.Duration", ns)
	}
	return time.Duration(ns), nil
}

func ValidatePeriod(d time.Duration) error {
	if d <= 0 {
		return errors.Wrapf(ErrInvalidArgument, "period must be positive, got %s", d)
	}
	return nil
}

func ValidateDelay(d time.Duration) error {
	if d < 0 {
		return errors.Wrapf(ErrInvalidArgument, "delay must not be negative, got %s", d)
	}
	return nil
}
