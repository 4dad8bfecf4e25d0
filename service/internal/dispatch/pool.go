package dispatch

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"
	"github.com/panjf2000/ants/v2"
)

const DefaultPoolCapacity = 16

type poolLogger struct {
	log logr.Logger
}

func (l poolLogger) Printf(format string, args ...interface{}) {
	l.log.V(1).Info(fmt.Sprintf(format, args...))
}

// NewPool builds the bounded pool shared by all sleep requests. Submissions
// to a full pool fail immediately with ants.ErrPoolOverload instead of
// waiting for a slot.
func NewPool(log logr.Logger, capacity int) (*ants.Pool, error) {
	if capacity <= 0 {
		return nil, errors.Newf("pool capacity must be positive, got %d", capacity)
	}
	return ants.NewPool(capacity,
		ants.WithNonblocking(true),
		ants.WithLogger(poolLogger{log: log}),
		ants.WithPanicHandler(func(r interface{}) {
			log.V(1).Error(errors.Mark(errors.Newf("%v", r), ErrUnexpectedPanic), "pooled task panicked")
		}),
	)
}
