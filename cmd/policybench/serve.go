package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"policy-bench/internal/workload"
)

func newServeCmd() *cobra.Command {
	var (
		host    string
		port    int
		backlog int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept and immediately close TCP connections until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := workload.Listen(host, port, backlog)
			if err != nil {
				slog.Error("Failed to start server", "error", err)
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "[server] listening on %s (backlog=%d)\n", srv.Addr(), backlog)

			total, err := srv.Serve(cmd.Context())
			if err != nil {
				slog.Error("Accept loop stopped", "error", err, "accepted", total)
			}
			fmt.Fprintf(out, "[server] stopped, %d connections accepted\n", total)
			return err
		},
	}

	cmd.Flags().StringVar(&host, "host", workload.DefaultServerHost, "Bind address")
	cmd.Flags().IntVar(&port, "port", workload.DefaultPort, "Listen port")
	cmd.Flags().IntVar(&backlog, "backlog", workload.DefaultBacklog, "Listen backlog")
	return cmd
}
