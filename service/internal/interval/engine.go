package interval

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"

	"github.com/jaym/go-microtimer/caller"
	"github.com/jaym/go-microtimer/timer"
)

type State int32

const (
	StateActive State = iota
	StateDraining
	StateRetired
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateRetired:
		return "retired"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

type Config struct {
	ID       string
	Caller   caller.Handle
	Period   time.Duration
	Repeat   int32
	Clock    clock.Clock
	Notifier timer.Notifier
}

// Engine runs one interval. A generator goroutine turns clock fires into
// Tick messages on the relay channel; a single consumer goroutine reads the
// relay and control channels, notifies the caller and retires on the first
// Cancel it reads.
type Engine struct {
	log      logr.Logger
	id       string
	caller   caller.Handle
	repeat   int32
	notifier timer.Notifier
	source   *ClockSource

	relay   chan message
	control chan message
	stop    chan struct{}
	genDone chan struct{}
	done    chan struct{}

	started atomic.Bool
	state   atomic.Int32
}

func New(log logr.Logger, cfg Config) (*Engine, error) {
	if cfg.Notifier == nil {
		return nil, errors.Wrap(timer.ErrInvalidArgument, "notifier is required")
	}
	source, err := NewClockSource(cfg.Clock, cfg.Period)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		log:      log.WithValues("timerID", cfg.ID, "caller", cfg.Caller),
		id:       cfg.ID,
		caller:   cfg.Caller,
		repeat:   cfg.Repeat,
		notifier: cfg.Notifier,
		source:   source,
		relay:    make(chan message),
		// Capacity one: a pending cancel is enough, later ones are dropped.
		control: make(chan message, 1),
		stop:    make(chan struct{}),
		genDone: make(chan struct{}),
		done:    make(chan struct{}),
	}
	e.state.Store(int32(StateActive))
	return e, nil
}

func (e *Engine) ID() string {
	return e.id
}

func (e *Engine) Handle() timer.Handle {
	return timer.NewHandle(e.id, e.caller, e)
}

// Start launches the generator and consumer goroutines. Calling it more than
// once has no effect.
func (e *Engine) Start() {
	if !e.started.CompareAndSwap(false, true) {
		return
	}
	e.log.V(4).Info("starting interval", "period", e.source.Period(), "repeat", e.repeat)
	go e.generate()
	go e.consume()
}

// Cancel never blocks. Cancels sent after the engine retired are dropped.
func (e *Engine) Cancel() {
	select {
	case e.control <- cancelMessage(e.caller, cancelReasonRequested):
	default:
	}
}

// Done is closed once the engine has retired and both of its goroutines have
// exited.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) generate() {
	defer close(e.genDone)
	e.source.Start()
	defer e.source.Stop()

	var fired int64
	for {
		select {
		case <-e.stop:
			e.log.V(5).Info("generator stopped", "fired", fired)
			return
		case <-e.source.C():
			e.source.Next()
			fired++
			if !e.forward(tickMessage(e.caller)) {
				return
			}
			if e.repeat > 0 && fired == int64(e.repeat) {
				e.forward(cancelMessage(e.caller, cancelReasonLimit))
				return
			}
		}
	}
}

func (e *Engine) forward(msg message) bool {
	select {
	case e.relay <- msg:
		return true
	case <-e.stop:
		return false
	}
}

func (e *Engine) receive() message {
	// A pending cancel is read before any tick already waiting on the relay.
	select {
	case msg := <-e.control:
		return msg
	default:
	}
	select {
	case msg := <-e.control:
		return msg
	case msg := <-e.relay:
		return msg
	}
}

func (e *Engine) consume() {
	var ticks uint64

LOOP:
	for {
		msg := e.receive()
		switch msg.msgType {
		case messageTypeTick:
			ticks++
			e.log.V(5).Info("tick", "seq", ticks)
			e.notify(timer.Tick(msg.caller, e.id, ticks))
		case messageTypeCancel:
			e.state.Store(int32(StateDraining))
			close(e.stop)
			e.log.V(4).Info("retiring interval", "reason", msg.reason, "ticks", ticks)
			e.notify(timer.Cancelled(msg.caller, e.id, ticks))
			break LOOP
		default:
			e.log.V(0).Info("unknown interval message", "type", msg.msgType)
		}
	}

	<-e.genDone
	e.state.Store(int32(StateRetired))
	close(e.done)
}

func (e *Engine) notify(ev timer.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.log.V(1).Error(errors.Newf("notifier panic: %v", r), "failed to deliver timer event", "event", ev.Kind, "seq", ev.Seq)
		}
	}()
	if err := e.notifier.Notify(ev.Caller, ev); err != nil {
		e.log.V(1).Error(err, "failed to deliver timer event", "event", ev.Kind, "seq", ev.Seq)
	}
}
