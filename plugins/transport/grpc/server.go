package grpc

import (
	"context"
	"net"

	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"
	ggrpc "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jaym/go-microtimer/caller"
	"github.com/jaym/go-microtimer/plugins/notifier/mailbox"
	"github.com/jaym/go-microtimer/timer"
)

const callerKind = "grpc"

// TimerServer is the handler side of the microtimer.Timer service.
type TimerServer interface {
	Sleep(req *structpb.Struct, stream ggrpc.ServerStream) error
	Interval(req *structpb.Struct, stream ggrpc.ServerStream) error
	Cancel(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var timerServiceDesc = ggrpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*TimerServer)(nil),
	Methods: []ggrpc.MethodDesc{
		{
			MethodName: "Cancel",
			Handler:    cancelHandler,
		},
	},
	Streams: []ggrpc.StreamDesc{
		{
			StreamName:    "Sleep",
			Handler:       sleepHandler,
			ServerStreams: true,
		},
		{
			StreamName:    "Interval",
			Handler:       intervalHandler,
			ServerStreams: true,
		},
	},
}

func RegisterTimerServer(s ggrpc.ServiceRegistrar, srv TimerServer) {
	s.RegisterService(&timerServiceDesc, srv)
}

func cancelHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor ggrpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TimerServer).Cancel(ctx, in)
	}
	info := &ggrpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: cancelMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TimerServer).Cancel(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func sleepHandler(srv interface{}, stream ggrpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(TimerServer).Sleep(in, stream)
}

func intervalHandler(srv interface{}, stream ggrpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(TimerServer).Interval(in, stream)
}

// Server exposes a TimerService over gRPC. Every stream gets its own caller
// handle and mailbox; the TimerService must deliver through the same mailbox
// notifier.
type Server struct {
	log        logr.Logger
	svc        timer.TimerService
	mailboxes  *mailbox.Notifier
	grpcServer *ggrpc.Server
}

var _ TimerServer = (*Server)(nil)

func NewServer(log logr.Logger, svc timer.TimerService, mailboxes *mailbox.Notifier, opts ...ggrpc.ServerOption) *Server {
	s := &Server{
		log:        log,
		svc:        svc,
		mailboxes:  mailboxes,
		grpcServer: ggrpc.NewServer(opts...),
	}
	RegisterTimerServer(s.grpcServer, s)
	return s
}

// Start listens on listenAddress and serves in the background.
func (s *Server) Start(listenAddress string) (net.Addr, error) {
	lis, err := net.Listen("tcp", listenAddress)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", listenAddress)
	}
	go func() {
		if err := s.Serve(lis); err != nil {
			s.log.Error(err, "serve failed")
		}
	}()
	return lis.Addr(), nil
}

func (s *Server) Serve(lis net.Listener) error {
	s.log.V(0).Info("serving timer service", "addr", lis.Addr().String())
	return s.grpcServer.Serve(lis)
}

// Stop drains open streams until ctx is done, then closes them forcibly.
func (s *Server) Stop(ctx context.Context) error {
	doneChan := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(doneChan)
	}()
	select {
	case <-ctx.Done():
		s.grpcServer.Stop()
		return ctx.Err()
	case <-doneChan:
	}
	return nil
}

func (s *Server) open() (caller.Handle, *mailbox.Mailbox, error) {
	h := caller.New(callerKind)
	box, err := s.mailboxes.Open(h)
	if err != nil {
		return caller.Handle{}, nil, status.Error(codes.Unavailable, err.Error())
	}
	return h, box, nil
}

func (s *Server) reject(stream ggrpc.ServerStream, err error) error {
	s.log.V(4).Info("rejecting request", "reason", err.Error())
	return stream.SendMsg(rejectedMessage(stream.Context(), err))
}

func (s *Server) Sleep(req *structpb.Struct, stream ggrpc.ServerStream) error {
	ctx := stream.Context()
	delayNs, err := uintField(req, fieldDelayNs)
	if err != nil {
		return s.reject(stream, errors.Mark(err, timer.ErrInvalidArgument))
	}

	h, box, err := s.open()
	if err != nil {
		return err
	}
	defer s.mailboxes.Close(h)

	if err := s.svc.SleepNanos(delayNs, h); err != nil {
		return s.reject(stream, err)
	}
	if err := stream.SendMsg(acceptedMessage("")); err != nil {
		return err
	}

	ev, err := box.Receive(ctx)
	if err != nil {
		return s.receiveError(err)
	}
	return stream.SendMsg(eventMessage(ev))
}

func (s *Server) Interval(req *structpb.Struct, stream ggrpc.ServerStream) error {
	ctx := stream.Context()
	periodNs, err := uintField(req, fieldPeriodNs)
	if err != nil {
		return s.reject(stream, errors.Mark(err, timer.ErrInvalidArgument))
	}
	repeat, err := int32Field(req, fieldRepeat)
	if err != nil {
		return s.reject(stream, errors.Mark(err, timer.ErrInvalidArgument))
	}

	h, box, err := s.open()
	if err != nil {
		return err
	}
	defer s.mailboxes.Close(h)

	th, err := s.svc.IntervalNanos(periodNs, h, repeat)
	if err != nil {
		return s.reject(stream, err)
	}
	log := s.log.WithValues("timerID", th.ID, "caller", h)

	if err := stream.SendMsg(acceptedMessage(th.ID)); err != nil {
		s.svc.Cancel(th)
		return err
	}

	for {
		ev, err := box.Receive(ctx)
		if err != nil {
			log.V(4).Info("interval stream ended early", "reason", err.Error())
			s.svc.Cancel(th)
			return s.receiveError(err)
		}
		if err := stream.SendMsg(eventMessage(ev)); err != nil {
			s.svc.Cancel(th)
			return err
		}
		if ev.Kind == timer.EventKindCancelled {
			return nil
		}
	}
}

func (s *Server) Cancel(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	s.svc.CancelID(stringField(req, fieldID))
	return &structpb.Struct{}, nil
}

func (s *Server) receiveError(err error) error {
	if errors.Is(err, mailbox.ErrMailboxClosed) {
		return status.Error(codes.Unavailable, "timer service stopping")
	}
	return status.FromContextError(err).Err()
}
