package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"
	"github.com/panjf2000/ants/v2"

	"github.com/jaym/go-microtimer/caller"
	"github.com/jaym/go-microtimer/timer"
)

var (
	ErrDispatchExhausted = errors.New("dispatch pool exhausted")
	ErrUnexpectedPanic   = errors.New("unexpected panic in dispatch")
)

// Submitter is the bounded side of the dispatcher. *ants.Pool satisfies it.
type Submitter interface {
	Submit(task func()) error
}

// Dispatcher runs each task on its own unit of execution: a pool slot when
// one is free, otherwise a fresh goroutine. Dispatch never fails.
type Dispatcher struct {
	log      logr.Logger
	clock    clock.Clock
	notifier timer.Notifier
	pool     Submitter

	wg sync.WaitGroup
}

// New returns a dispatcher. A nil pool dispatches every task on a new
// goroutine.
func New(log logr.Logger, c clock.Clock, notifier timer.Notifier, pool Submitter) *Dispatcher {
	if c == nil {
		c = clock.New()
	}
	return &Dispatcher{
		log:      log,
		clock:    c,
		notifier: notifier,
		pool:     pool,
	}
}

// Sleep delivers one ok event to c once d has elapsed.
func (d *Dispatcher) Sleep(delay time.Duration, c caller.Handle) {
	d.Dispatch(func() {
		start := d.clock.Now()
		d.clock.Sleep(delay)
		d.log.V(4).Info("sleep elapsed", "caller", c, "requested", delay, "elapsed", d.clock.Since(start))
		if err := d.notifier.Notify(c, timer.Ok(c)); err != nil {
			d.log.V(1).Error(err, "failed to deliver sleep notification", "caller", c)
		}
	})
}

func (d *Dispatcher) Dispatch(task func()) {
	d.wg.Add(1)
	run := func() {
		defer d.wg.Done()
		d.exec(task)
	}

	if d.pool == nil {
		go run()
		return
	}

	err := d.trySubmit(run)
	if err == nil {
		return
	}
	if errors.Is(err, ErrDispatchExhausted) {
		d.log.V(1).Info("pool saturated, dispatching on a new goroutine")
	} else {
		d.log.V(1).Error(err, "pool dispatch failed, dispatching on a new goroutine")
	}
	go run()
}

func (d *Dispatcher) trySubmit(run func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Mark(errors.Newf("pool submit panicked: %v", r), ErrUnexpectedPanic)
		}
	}()

	if err := d.pool.Submit(run); err != nil {
		if errors.Is(err, ants.ErrPoolOverload) {
			return errors.Mark(err, ErrDispatchExhausted)
		}
		return errors.Wrap(err, "submit")
	}
	return nil
}

func (d *Dispatcher) exec(task func()) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.Mark(errors.Newf("task panicked: %v", r), ErrUnexpectedPanic)
			d.log.V(1).Error(err, "dropping dispatched task")
		}
	}()
	task()
}

// Wait blocks until every dispatched task has finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	doneChan := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(doneChan)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-doneChan:
	}
	return nil
}
