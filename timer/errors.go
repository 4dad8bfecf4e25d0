package timer

import "github.com/cockroachdb/errors"

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrServiceStopped  = errors.New("timer service stopped")
)
