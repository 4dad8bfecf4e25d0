package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jaym/go-microtimer/plugins/transport/grpc"
)

var (
	delay  time.Duration
	period time.Duration
	repeat int32
)

var sleepCmd = &cobra.Command{
	Use:   "sleep",
	Short: "Ask a timer service for one ok event after a delay.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		client, err := grpc.Dial(ctx, newLogger().WithName("client"), addr)
		if err != nil {
			return err
		}
		defer client.Close()

		start := time.Now()
		f, err := client.Sleep(ctx, delay)
		if err != nil {
			return err
		}
		ev, err := f.Await(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s after %s\n", ev.Kind, ev.Caller, time.Since(start))
		return nil
	},
}

var intervalCmd = &cobra.Command{
	Use:   "interval",
	Short: "Stream interval ticks from a timer service until cancelled.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		client, err := grpc.Dial(ctx, newLogger().WithName("client"), addr)
		if err != nil {
			return err
		}
		defer client.Close()

		stream, err := client.Interval(ctx, period, repeat)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "interval %s\n", stream.ID())
		for {
			ev, err := stream.Recv()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			fmt.Fprintf(out, "%s %d\n", ev.Kind, ev.Seq)
		}
	},
}

func init() {
	for _, c := range []*cobra.Command{sleepCmd, intervalCmd} {
		c.Flags().StringVar(&addr, "addr", envString("MICROTIMER_ADDR", "127.0.0.1:7070"), "Timer service address")
	}
	sleepCmd.Flags().DurationVar(&delay, "delay", time.Second, "Sleep delay")
	intervalCmd.Flags().DurationVar(&period, "period", 100*time.Millisecond, "Interval period")
	intervalCmd.Flags().Int32Var(&repeat, "repeat", 0, "Number of ticks, 0 runs until interrupted")
}
