package timer

import (
	"context"
	"time"

	"github.com/jaym/go-microtimer/caller"
)

type TimerService interface {
	Sleep(d time.Duration, c caller.Handle) error
	SleepNanos(ns uint64, c caller.Handle) error
	Interval(period time.Duration, c caller.Handle, repeat int32) (Handle, error)
	IntervalNanos(ns uint64, c caller.Handle, repeat int32) (Handle, error)
	Cancel(h Handle)
	CancelID(id string)
	Stop(ctx context.Context) error
}
