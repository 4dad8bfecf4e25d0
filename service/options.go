package service

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/segmentio/ksuid"

	"github.com/jaym/go-microtimer/service/internal/dispatch"
)

// DefaultPoolCapacity bounds concurrent sleeps when WithPoolCapacity is not
// given.
const DefaultPoolCapacity = dispatch.DefaultPoolCapacity

type serviceOptions struct {
	clock              clock.Clock
	pool               dispatch.Submitter
	poolCapacity       *int
	poolReleaseTimeout time.Duration
	idGenerator        func() string
}

func (so *serviceOptions) Clock() clock.Clock {
	if so.clock == nil {
		return clock.New()
	}
	return so.clock
}

func (so *serviceOptions) PoolCapacity() int {
	if so.poolCapacity == nil {
		return DefaultPoolCapacity
	}
	return *so.poolCapacity
}

func (so *serviceOptions) PoolReleaseTimeout() time.Duration {
	if so.poolReleaseTimeout <= 0 {
		return 5 * time.Second
	}
	return so.poolReleaseTimeout
}

func (so *serviceOptions) IDGenerator() func() string {
	if so.idGenerator == nil {
		return func() string {
			return ksuid.New().String()
		}
	}
	return so.idGenerator
}

type Option func(*serviceOptions)

func WithClock(c clock.Clock) Option {
	return func(so *serviceOptions) {
		so.clock = c
	}
}

// WithPool shares an existing bounded pool with the service. The service does
// not release a pool it was given.
func WithPool(p dispatch.Submitter) Option {
	return func(so *serviceOptions) {
		so.pool = p
	}
}

// WithPoolCapacity sizes the pool the service creates for itself. Zero
// disables pooling; every sleep then gets its own goroutine.
func WithPoolCapacity(n int) Option {
	return func(so *serviceOptions) {
		so.poolCapacity = &n
	}
}

func WithPoolReleaseTimeout(d time.Duration) Option {
	return func(so *serviceOptions) {
		so.poolReleaseTimeout = d
	}
}

func WithIDGenerator(f func() string) Option {
	return func(so *serviceOptions) {
		so.idGenerator = f
	}
}
