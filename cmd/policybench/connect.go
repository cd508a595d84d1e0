package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"policy-bench/internal/workload"
)

func newConnectCmd() *cobra.Command {
	var (
		host    string
		port    int
		count   int
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Issue back-to-back TCP connects against a target",
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 0 {
				return fmt.Errorf("count must not be negative, got %d", count)
			}
			client := workload.NewClient(host, port, timeout)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "[workload] connect -> %s x %d\n", client.Addr(), count)

			res := client.Run(cmd.Context(), count)
			if cmd.Context().Err() != nil {
				slog.Info("Workload interrupted", "completed", res.Success+res.Fail, "requested", count)
			}
			fmt.Fprintf(out, "[workload] connect finished: %s\n", res)
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", workload.DefaultClientHost, "Target host")
	cmd.Flags().IntVar(&port, "port", workload.DefaultPort, "Target port")
	cmd.Flags().IntVar(&count, "count", workload.DefaultCount, "Number of connect attempts")
	cmd.Flags().DurationVar(&timeout, "timeout", workload.DefaultTimeout, "Timeout for each connect attempt")
	return cmd
}
