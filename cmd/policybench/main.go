package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"policy-bench/internal/logging"
)

var (
	logLevel string
	logFile  string
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "policybench",
		Short: "Fixture and traffic generator for connect-path policy benchmarks",
		Long: `policybench produces the inputs of a policy-enforcement overhead benchmark:
	deterministic network rule fixtures for several policy engines, and a
	connect/accept workload pair that drives the connect syscall path.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			slog.SetDefault(logging.Setup(logLevel, logFile))
		},
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Log file path (default: stderr)")

	rootCmd.AddCommand(
		newGenerateCmd(),
		newProbeCmd(),
		newSweepCmd(),
		newConnectCmd(),
		newServeCmd(),
	)
	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
