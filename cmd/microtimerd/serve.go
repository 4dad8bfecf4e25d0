package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/jaym/go-microtimer/plugins/notifier/mailbox"
	"github.com/jaym/go-microtimer/plugins/transport/grpc"
	"github.com/jaym/go-microtimer/service"
)

var (
	listenAddress   string
	poolCapacity    int
	shutdownTimeout time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the timer service over gRPC.",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()

		boxes := mailbox.New(log.WithName("mailbox"))
		svc, err := service.New(log.WithName("service"), boxes, service.WithPoolCapacity(poolCapacity))
		if err != nil {
			return err
		}
		server := grpc.NewServer(log.WithName("grpc"), svc, boxes)
		bound, err := server.Start(listenAddress)
		if err != nil {
			return err
		}
		log.Info("timer service started", "addr", bound.String(), "poolCapacity", poolCapacity)

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
		sig := <-stop
		log.Info("shutting down", "signal", sig.String())

		return shutdown(svc, boxes, server, shutdownTimeout)
	},
}

type stopper interface {
	Stop(ctx context.Context) error
}

// shutdown stops the service, then the mailboxes, then the server. The
// service and the server each get their own timeout so outstanding sleeps
// cannot use up the time reserved for draining streams. Cancelled events are
// queued before the mailboxes close.
func shutdown(svc stopper, boxes *mailbox.Notifier, server stopper, timeout time.Duration) error {
	var result *multierror.Error

	svcCtx, svcCancel := context.WithTimeout(context.Background(), timeout)
	defer svcCancel()
	if err := svc.Stop(svcCtx); err != nil {
		result = multierror.Append(result, err)
	}

	boxes.Stop()

	serverCtx, serverCancel := context.WithTimeout(context.Background(), timeout)
	defer serverCancel()
	if err := server.Stop(serverCtx); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func init() {
	serveCmd.Flags().StringVar(&listenAddress, "listen", envString("MICROTIMER_LISTEN", ":7070"), "Address to serve gRPC on")
	serveCmd.Flags().IntVar(&poolCapacity, "pool-capacity", envInt("MICROTIMER_POOL_CAPACITY", service.DefaultPoolCapacity), "Sleep worker pool capacity, 0 disables the pool")
	serveCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 10*time.Second, "How long to wait for the service, and then for open streams, on shutdown")
}
