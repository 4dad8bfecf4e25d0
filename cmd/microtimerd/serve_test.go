package main

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"
	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/require"

	"github.com/jaym/go-microtimer/caller"
	"github.com/jaym/go-microtimer/plugins/notifier/mailbox"
	"github.com/jaym/go-microtimer/service"
)

type recordingStopper struct {
	ctxErr error
	called bool
}

func (s *recordingStopper) Stop(ctx context.Context) error {
	s.called = true
	s.ctxErr = ctx.Err()
	return s.ctxErr
}

func TestShutdown(t *testing.T) {
	t.Run("a stuck sleep does not eat the stream drain timeout", func(t *testing.T) {
		boxes := mailbox.New(logr.Discard())
		// The mock clock never advances, so the sleep never completes.
		svc, err := service.New(logr.Discard(), boxes,
			service.WithClock(clock.NewMock()),
			service.WithPoolCapacity(0),
		)
		require.NoError(t, err)

		h := caller.New("test")
		_, err = boxes.Open(h)
		require.NoError(t, err)
		require.NoError(t, svc.Sleep(time.Hour, h))

		server := &recordingStopper{}
		err = shutdown(svc, boxes, server, 20*time.Millisecond)

		require.True(t, server.called)
		require.NoError(t, server.ctxErr)

		var merr *multierror.Error
		require.True(t, errors.As(err, &merr))
		require.Len(t, merr.Errors, 1)
		require.True(t, errors.Is(err, context.DeadlineExceeded))
	})

	t.Run("clean shutdown", func(t *testing.T) {
		boxes := mailbox.New(logr.Discard())
		svc, err := service.New(logr.Discard(), boxes)
		require.NoError(t, err)

		server := &recordingStopper{}
		require.NoError(t, shutdown(svc, boxes, server, time.Second))
		require.True(t, server.called)
	})
}
