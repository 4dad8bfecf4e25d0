package service

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"
	"github.com/hashicorp/go-multierror"
	"github.com/panjf2000/ants/v2"
	"golang.org/x/exp/maps"

	"github.com/jaym/go-microtimer/caller"
	"github.com/jaym/go-microtimer/service/internal/dispatch"
	"github.com/jaym/go-microtimer/service/internal/interval"
	"github.com/jaym/go-microtimer/timer"
)

// Service hands out sleeps and intervals. All notifications go through the
// Notifier given to New.
type Service struct {
	log            logr.Logger
	clock          clock.Clock
	notifier       timer.Notifier
	newID          func() string
	dispatcher     *dispatch.Dispatcher
	ownedPool      *ants.Pool
	releaseTimeout time.Duration

	lock      sync.Mutex
	stopped   bool
	intervals map[string]*interval.Engine
	wg        sync.WaitGroup
}

var _ timer.TimerService = (*Service)(nil)

func New(log logr.Logger, notifier timer.Notifier, opts ...Option) (*Service, error) {
	if notifier == nil {
		return nil, errors.Wrap(timer.ErrInvalidArgument, "notifier is required")
	}
	options := serviceOptions{}
	for _, o := range opts {
		o(&options)
	}

	s := &Service{
		log:            log.WithName("timerService"),
		clock:          options.Clock(),
		notifier:       notifier,
		newID:          options.IDGenerator(),
		releaseTimeout: options.PoolReleaseTimeout(),
		intervals:      make(map[string]*interval.Engine),
	}

	pool := options.pool
	if pool == nil && options.PoolCapacity() > 0 {
		p, err := dispatch.NewPool(s.log.WithName("pool"), options.PoolCapacity())
		if err != nil {
			return nil, errors.Wrap(err, "creating sleep pool")
		}
		s.ownedPool = p
		pool = p
	}
	s.dispatcher = dispatch.New(s.log.WithName("dispatcher"), s.clock, notifier, pool)

	s.log.V(3).Info("started timer service", "poolCapacity", options.PoolCapacity(), "sharedPool", options.pool != nil)
	return s, nil
}

// Sleep accepts the request and returns immediately. One ok event follows
// once d has elapsed.
func (s *Service) Sleep(d time.Duration, c caller.Handle) error {
	if err := timer.ValidateDelay(d); err != nil {
		return err
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	if s.stopped {
		return timer.ErrServiceStopped
	}
	s.log.V(4).Info("processing sleep", "caller", c, "delay", d)
	s.dispatcher.Sleep(d, c)
	return nil
}

func (s *Service) SleepNanos(ns uint64, c caller.Handle) error {
	d, err := timer.FromNanos(ns)
	if err != nil {
		return err
	}
	return s.Sleep(d, c)
}

// Interval starts a repeating timer. repeat <= 0 runs until cancelled.
func (s *Service) Interval(period time.Duration, c caller.Handle, repeat int32) (timer.Handle, error) {
	if err := timer.ValidatePeriod(period); err != nil {
		return timer.Handle{}, err
	}

	e, err := interval.New(s.log.WithName("interval"), interval.Config{
		ID:       s.newID(),
		Caller:   c,
		Period:   period,
		Repeat:   repeat,
		Clock:    s.clock,
		Notifier: s.notifier,
	})
	if err != nil {
		return timer.Handle{}, err
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	if s.stopped {
		return timer.Handle{}, timer.ErrServiceStopped
	}
	if _, ok := s.intervals[e.ID()]; ok {
		return timer.Handle{}, errors.Newf("duplicate timer id %q", e.ID())
	}
	s.intervals[e.ID()] = e
	s.wg.Add(1)
	e.Start()
	go s.reap(e)

	return e.Handle(), nil
}

func (s *Service) IntervalNanos(ns uint64, c caller.Handle, repeat int32) (timer.Handle, error) {
	d, err := timer.FromNanos(ns)
	if err != nil {
		return timer.Handle{}, err
	}
	return s.Interval(d, c, repeat)
}

func (s *Service) reap(e *interval.Engine) {
	defer s.wg.Done()
	<-e.Done()

	s.lock.Lock()
	delete(s.intervals, e.ID())
	s.lock.Unlock()
	s.log.V(4).Info("removed interval", "timerID", e.ID())
}

// Cancel is fire and forget. Cancelling a finished interval is not an error.
func (s *Service) Cancel(h timer.Handle) {
	s.log.V(4).Info("processing cancel", "timerID", h.ID, "owner", h.Owner)
	h.Cancel()
}

// CancelID cancels by timer id, for callers that only kept the id.
func (s *Service) CancelID(id string) {
	s.lock.Lock()
	e, ok := s.intervals[id]
	s.lock.Unlock()

	if !ok {
		s.log.V(4).Info("cancel for unknown or retired interval", "timerID", id)
		return
	}
	e.Cancel()
}

// Active reports the number of intervals that have not retired yet.
func (s *Service) Active() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.intervals)
}

// Stop refuses new requests, cancels every live interval and waits for
// intervals and outstanding sleeps to finish.
func (s *Service) Stop(ctx context.Context) error {
	s.lock.Lock()
	if s.stopped {
		s.lock.Unlock()
		return nil
	}
	s.stopped = true
	engines := maps.Values(s.intervals)
	s.lock.Unlock()

	s.log.V(3).Info("stopping timer service", "intervals", len(engines))
	for _, e := range engines {
		e.Cancel()
	}

	var err error

	doneChan := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(doneChan)
	}()
	select {
	case <-ctx.Done():
		err = multierror.Append(err, errors.Wrap(ctx.Err(), "waiting for intervals"))
	case <-doneChan:
	}

	if errSleep := s.dispatcher.Wait(ctx); errSleep != nil {
		err = multierror.Append(err, errors.Wrap(errSleep, "waiting for sleeps"))
	}

	if s.ownedPool != nil {
		if errRelease := s.ownedPool.ReleaseTimeout(s.releaseTimeout); errRelease != nil {
			err = multierror.Append(err, errors.Wrap(errRelease, "releasing sleep pool"))
		}
	}

	return err
}
