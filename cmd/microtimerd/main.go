package main

import (
	"context"
	stdlog "log"
	"os"
	"strconv"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/spf13/cobra"
)

var (
	verbosity int
	addr      string
)

var rootCmd = &cobra.Command{
	Use:           "microtimerd",
	Short:         "Serve and call a sleep and interval timer service.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		stdlog.Fatalf("microtimerd: %v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().IntVarP(&verbosity, "verbosity", "v", envInt("MICROTIMER_VERBOSITY", 0), "Log verbosity")
	rootCmd.AddCommand(serveCmd, sleepCmd, intervalCmd)
}

func newLogger() logr.Logger {
	stdr.SetVerbosity(verbosity)
	return stdr.NewWithOptions(stdlog.New(os.Stderr, "", stdlog.LstdFlags), stdr.Options{LogCaller: stdr.All})
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		stdlog.Printf("ignoring %s=%q: %v", key, v, err)
		return def
	}
	return n
}
