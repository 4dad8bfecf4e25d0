package grpc

import (
	"context"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"
	ggrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jaym/go-microtimer/future"
	"github.com/jaym/go-microtimer/timer"
)

var (
	sleepStreamDesc = &ggrpc.StreamDesc{
		StreamName:    "Sleep",
		ServerStreams: true,
	}
	intervalStreamDesc = &ggrpc.StreamDesc{
		StreamName:    "Interval",
		ServerStreams: true,
	}
)

// Client talks to a remote timer service.
type Client struct {
	log  logr.Logger
	conn ggrpc.ClientConnInterface
	cc   *ggrpc.ClientConn
}

func NewClient(log logr.Logger, conn ggrpc.ClientConnInterface) *Client {
	return &Client{
		log:  log,
		conn: conn,
	}
}

// Dial connects to addr. Without dial options the connection is insecure.
func Dial(ctx context.Context, log logr.Logger, addr string, opts ...ggrpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []ggrpc.DialOption{ggrpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	cc, err := ggrpc.DialContext(ctx, addr, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}
	c := NewClient(log, cc)
	c.cc = cc
	return c, nil
}

func (c *Client) Close() error {
	if c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

func (c *Client) openStream(ctx context.Context, desc *ggrpc.StreamDesc, method string, req *structpb.Struct) (ggrpc.ClientStream, string, error) {
	stream, err := c.conn.NewStream(ctx, desc, method)
	if err != nil {
		return nil, "", err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, "", err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, "", err
	}
	ack := new(structpb.Struct)
	if err := stream.RecvMsg(ack); err != nil {
		return nil, "", err
	}
	id, err := parseAck(ctx, ack)
	if err != nil {
		return nil, "", err
	}
	return stream, id, nil
}

// Sleep asks the server for a single ok event after d. A rejected request
// returns its error immediately; otherwise the returned future resolves with
// the ok event.
func (c *Client) Sleep(ctx context.Context, d time.Duration) (future.Future[timer.Event], error) {
	if err := timer.ValidateDelay(d); err != nil {
		return nil, err
	}
	stream, _, err := c.openStream(ctx, sleepStreamDesc, sleepMethod, sleepRequest(uint64(d)))
	if err != nil {
		return nil, err
	}

	f, p := future.NewFuture[timer.Event]()
	go func() {
		resp := new(structpb.Struct)
		if err := stream.RecvMsg(resp); err != nil {
			p.Reject(err)
			return
		}
		ev, err := parseEvent(resp)
		if err != nil {
			p.Reject(err)
			return
		}
		c.log.V(4).Info("sleep completed", "caller", ev.Caller)
		p.Resolve(ev)
	}()
	return f, nil
}

// IntervalStream delivers the events of one remote interval.
type IntervalStream struct {
	id     string
	stream ggrpc.ClientStream
	done   bool
}

func (s *IntervalStream) ID() string {
	return s.id
}

// Recv returns the next event. After the cancelled event it returns io.EOF.
func (s *IntervalStream) Recv() (timer.Event, error) {
	if s.done {
		return timer.Event{}, io.EOF
	}
	resp := new(structpb.Struct)
	if err := s.stream.RecvMsg(resp); err != nil {
		return timer.Event{}, err
	}
	ev, err := parseEvent(resp)
	if err != nil {
		return timer.Event{}, err
	}
	if ev.Kind == timer.EventKindCancelled {
		s.done = true
	}
	return ev, nil
}

// Interval starts a remote interval. Cancelling ctx cancels the interval.
func (c *Client) Interval(ctx context.Context, period time.Duration, repeat int32) (*IntervalStream, error) {
	if err := timer.ValidatePeriod(period); err != nil {
		return nil, err
	}
	stream, id, err := c.openStream(ctx, intervalStreamDesc, intervalMethod, intervalRequest(uint64(period), repeat))
	if err != nil {
		return nil, err
	}
	c.log.V(4).Info("interval accepted", "timerID", id, "period", period, "repeat", repeat)
	return &IntervalStream{id: id, stream: stream}, nil
}

// Cancel cancels the interval with the given id. Unknown ids are ignored by
// the server.
func (c *Client) Cancel(ctx context.Context, id string) error {
	resp := new(structpb.Struct)
	return c.conn.Invoke(ctx, cancelMethod, cancelRequest(id), resp)
}
