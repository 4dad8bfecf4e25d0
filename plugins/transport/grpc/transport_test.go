package grpc

import (
	"context"
	"io"
	stdlog "log"
	"net"
	"os"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/stretchr/testify/require"
	ggrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jaym/go-microtimer/plugins/notifier/mailbox"
	"github.com/jaym/go-microtimer/service"
	"github.com/jaym/go-microtimer/timer"
)

func testLogger() logr.Logger {
	return stdr.NewWithOptions(stdlog.New(os.Stderr, "", stdlog.LstdFlags), stdr.Options{LogCaller: stdr.All})
}

type fixture struct {
	svc    *service.Service
	server *Server
	client *Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := testLogger()

	boxes := mailbox.New(log.WithName("mailbox"))
	svc, err := service.New(log.WithName("service"), boxes)
	require.NoError(t, err)
	server := NewServer(log.WithName("server"), svc, boxes)

	lis := bufconn.Listen(1 << 20)
	go server.Serve(lis)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, log.WithName("client"), "bufnet",
		ggrpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
			return lis.Dial()
		}),
		ggrpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		client.Close()
		require.NoError(t, svc.Stop(ctx))
		boxes.Stop()
		server.Stop(ctx)
	})
	return &fixture{svc: svc, server: server, client: client}
}

func TestTransportSleep(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("ok after the delay", func(t *testing.T) {
		start := time.Now()
		fut, err := f.client.Sleep(ctx, 20*time.Millisecond)
		require.NoError(t, err)
		ev, err := fut.Await(ctx)
		require.NoError(t, err)
		require.Equal(t, timer.EventKindOk, ev.Kind)
		require.Equal(t, callerKind, ev.Caller.Kind)
		require.True(t, time.Since(start) >= 20*time.Millisecond)
	})

	t.Run("rejected delay keeps its error identity", func(t *testing.T) {
		stream, _, err := f.client.openStream(ctx, sleepStreamDesc, sleepMethod, sleepRequest(1<<63))
		require.Nil(t, stream)
		require.True(t, errors.Is(err, timer.ErrInvalidArgument), "got %v", err)
	})

	t.Run("negative delay is rejected locally", func(t *testing.T) {
		_, err := f.client.Sleep(ctx, -time.Second)
		require.True(t, errors.Is(err, timer.ErrInvalidArgument))
	})
}

func TestTransportInterval(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("bounded interval", func(t *testing.T) {
		stream, err := f.client.Interval(ctx, time.Millisecond, 3)
		require.NoError(t, err)
		require.NotEmpty(t, stream.ID())

		var kinds []timer.EventKind
		for {
			ev, err := stream.Recv()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			require.Equal(t, stream.ID(), ev.TimerID)
			kinds = append(kinds, ev.Kind)
		}
		require.Equal(t, []timer.EventKind{
			timer.EventKindTick,
			timer.EventKindTick,
			timer.EventKindTick,
			timer.EventKindCancelled,
		}, kinds)
	})

	t.Run("cancel by id", func(t *testing.T) {
		stream, err := f.client.Interval(ctx, time.Millisecond, 0)
		require.NoError(t, err)

		ev, err := stream.Recv()
		require.NoError(t, err)
		require.Equal(t, timer.EventKindTick, ev.Kind)

		require.NoError(t, f.client.Cancel(ctx, stream.ID()))
		for {
			ev, err = stream.Recv()
			require.NoError(t, err)
			if ev.Kind == timer.EventKindCancelled {
				break
			}
			require.Equal(t, timer.EventKindTick, ev.Kind)
		}
		_, err = stream.Recv()
		require.Equal(t, io.EOF, err)
	})

	t.Run("cancel of an unknown id succeeds", func(t *testing.T) {
		require.NoError(t, f.client.Cancel(ctx, "does-not-exist"))
	})

	t.Run("zero period keeps its error identity", func(t *testing.T) {
		_, _, err := f.client.openStream(ctx, intervalStreamDesc, intervalMethod, intervalRequest(0, 1))
		require.True(t, errors.Is(err, timer.ErrInvalidArgument), "got %v", err)
	})

	t.Run("repeat outside int32 is rejected", func(t *testing.T) {
		for _, repeat := range []*structpb.Value{
			structpb.NewStringValue("3000000000"),
			structpb.NewStringValue("-2147483649"),
			structpb.NewStringValue("1.5"),
			structpb.NewNumberValue(3e9),
		} {
			req := &structpb.Struct{Fields: map[string]*structpb.Value{
				fieldPeriodNs: uintValue(1_000_000),
				fieldRepeat:   repeat,
			}}
			_, _, err := f.client.openStream(ctx, intervalStreamDesc, intervalMethod, req)
			require.True(t, errors.Is(err, timer.ErrInvalidArgument), "repeat %v: got %v", repeat, err)
		}
		require.Eventually(t, func() bool {
			return f.svc.Active() == 0
		}, 5*time.Second, time.Millisecond)
	})

	t.Run("dropping the stream cancels the interval", func(t *testing.T) {
		streamCtx, streamCancel := context.WithCancel(ctx)
		stream, err := f.client.Interval(streamCtx, time.Millisecond, 0)
		require.NoError(t, err)
		_, err = stream.Recv()
		require.NoError(t, err)

		streamCancel()
		require.Eventually(t, func() bool {
			return f.svc.Active() == 0
		}, 5*time.Second, time.Millisecond)
	})
}
