package dispatch

import (
	"context"
	stdlog "log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/require"

	"github.com/jaym/go-microtimer/caller"
	"github.com/jaym/go-microtimer/timer"
)

type capture struct {
	l      sync.Mutex
	wg     sync.WaitGroup
	events []timer.Event
	at     []time.Time
}

func (c *capture) Notify(h caller.Handle, ev timer.Event) error {
	c.l.Lock()
	c.events = append(c.events, ev)
	c.at = append(c.at, time.Now())
	c.l.Unlock()
	c.wg.Done()
	return nil
}

func (c *capture) wait(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timed out waiting for notifications")
	}
}

type panickingSubmitter struct{}

func (panickingSubmitter) Submit(func()) error {
	panic("submit exploded")
}

type closedSubmitter struct{}

func (closedSubmitter) Submit(func()) error {
	return ants.ErrPoolClosed
}

func testLogger() logr.Logger {
	return stdr.NewWithOptions(stdlog.New(os.Stderr, "", stdlog.LstdFlags), stdr.Options{LogCaller: stdr.All})
}

func TestDispatcherSleep(t *testing.T) {
	h := caller.Handle{Kind: "test", ID: "sleeper"}

	t.Run("delivers one ok no earlier than the delay", func(t *testing.T) {
		c := &capture{}
		c.wg.Add(1)
		d := New(testLogger(), nil, c, nil)

		start := time.Now()
		d.Sleep(20*time.Millisecond, h)
		c.wait(t)
		require.NoError(t, d.Wait(context.Background()))

		require.Len(t, c.events, 1)
		require.Equal(t, timer.Ok(h), c.events[0])
		require.True(t, c.at[0].Sub(start) >= 20*time.Millisecond, "delivered early: %s", c.at[0].Sub(start))
	})

	t.Run("uses the pool", func(t *testing.T) {
		pool, err := NewPool(testLogger(), 4)
		require.NoError(t, err)
		defer pool.Release()

		c := &capture{}
		c.wg.Add(4)
		d := New(testLogger(), nil, c, pool)
		for i := 0; i < 4; i++ {
			d.Sleep(time.Millisecond, h)
		}
		c.wait(t)
		require.Len(t, c.events, 4)
	})

	t.Run("falls back when the pool is saturated", func(t *testing.T) {
		pool, err := NewPool(testLogger(), 1)
		require.NoError(t, err)
		defer pool.Release()

		block := make(chan struct{})
		require.NoError(t, pool.Submit(func() { <-block }))
		defer close(block)

		c := &capture{}
		c.wg.Add(3)
		d := New(testLogger(), nil, c, pool)
		for i := 0; i < 3; i++ {
			d.Sleep(time.Millisecond, h)
		}
		c.wait(t)
		require.Len(t, c.events, 3)
		require.Equal(t, 1, pool.Running())
	})

	t.Run("falls back when submit panics", func(t *testing.T) {
		c := &capture{}
		c.wg.Add(1)
		d := New(testLogger(), nil, c, panickingSubmitter{})
		require.NotPanics(t, func() {
			d.Sleep(time.Millisecond, h)
		})
		c.wait(t)
		require.Len(t, c.events, 1)
	})

	t.Run("falls back when the pool is closed", func(t *testing.T) {
		c := &capture{}
		c.wg.Add(1)
		d := New(testLogger(), nil, c, closedSubmitter{})
		d.Sleep(0, h)
		c.wait(t)
		require.Len(t, c.events, 1)
	})
}

func TestDispatcherTaskPanic(t *testing.T) {
	pool, err := NewPool(testLogger(), 2)
	require.NoError(t, err)
	defer pool.Release()

	d := New(testLogger(), nil, &capture{}, pool)
	d.Dispatch(func() {
		panic("task exploded")
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Wait(ctx))

	ran := make(chan struct{})
	d.Dispatch(func() { close(ran) })
	<-ran
}

func TestDispatcherWaitContext(t *testing.T) {
	d := New(testLogger(), nil, &capture{}, nil)
	block := make(chan struct{})
	defer close(block)
	d.Dispatch(func() { <-block })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, d.Wait(ctx), context.DeadlineExceeded)
}

func TestNewPool(t *testing.T) {
	_, err := NewPool(testLogger(), 0)
	require.Error(t, err)

	pool, err := NewPool(testLogger(), DefaultPoolCapacity)
	require.NoError(t, err)
	defer pool.Release()
	require.Equal(t, DefaultPoolCapacity, pool.Cap())
}
