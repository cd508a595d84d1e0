package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"policy-bench/internal/engine"
	"policy-bench/internal/traffic"
)

func newSweepCmd() *cobra.Command {
	var (
		gen         generationFlags
		targetsFile string
		portsFile   string
		outFile     string
		deniedFile  string
		workers     int
		matchMode   string
		maxHosts    uint64
		maxFlows    uint64
		lpm         bool
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Replay a target list against a generated rule set and record each decision",
		Long: `sweep crosses every destination in a targets CSV with every entry of a
	ports file, evaluates each flow against the generated rule set and writes one
	CSV row per flow. The result tells a benchmark run which connects the policy
	engine is expected to deny.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			startTime := time.Now()
			mode, err := traffic.ParseMode(matchMode)
			if err != nil {
				return err
			}

			set, _, err := gen.build(cmd)
			if err != nil {
				slog.Error("Failed to generate rules", "error", err)
				return err
			}
			evaluator, err := engine.NewEvaluator(set)
			if err != nil {
				return err
			}
			slog.Info("Rules generated", "count", set.Len(), "type", set.Metadata.Type, "seed", set.Metadata.Seed)

			in, err := openInputs(targetsFile, portsFile)
			if err != nil {
				slog.Error("Failed to parse inputs", "error", err)
				return err
			}
			total := traffic.EstimateFlows(in, mode, maxHosts)
			slog.Info("Inputs parsed", "targets", len(in.Targets), "ports", len(in.Ports), "total_flows", total)
			if maxFlows > 0 && total > maxFlows {
				return fmt.Errorf("estimated %d flows exceeds --max-flows %d", total, maxFlows)
			}

			out, err := os.Create(outFile)
			if err != nil {
				return err
			}
			defer out.Close()
			var denied io.Writer
			if deniedFile != "" {
				f, err := os.Create(deniedFile)
				if err != nil {
					return err
				}
				defer f.Close()
				denied = f
			}

			summary, err := traffic.Sweep(cmd.Context(), evaluator, in, traffic.Config{
				Workers:          workers,
				Mode:             mode,
				MaxHosts:         maxHosts,
				LPM:              lpm,
				ProgressInterval: 5 * time.Second,
			}, out, denied)
			if err != nil {
				slog.Error("Sweep failed", "error", err, "flows", summary.Flows)
				return err
			}

			slog.Info("Sweep complete", "flows", summary.Flows, "duration", time.Since(startTime))
			fmt.Fprintf(cmd.OutOrStdout(), "[+] %d flows: %d allowed, %d denied -> %s\n", summary.Flows, summary.Allowed, summary.Denied, outFile)
			return nil
		},
	}

	gen.register(cmd)
	cmd.Flags().StringVar(&targetsFile, "targets", "", "Targets CSV file with a 'destination' column (required)")
	cmd.Flags().StringVar(&portsFile, "ports", "", "Ports list file (required)")
	cmd.Flags().StringVar(&outFile, "out", "results.csv", "Output CSV file for all flows")
	cmd.Flags().StringVar(&deniedFile, "denied", "", "Optional CSV file receiving only denied flows")
	cmd.Flags().IntVarP(&workers, "workers", "w", runtime.NumCPU(), "Number of concurrent workers")
	cmd.Flags().StringVar(&matchMode, "mode", string(traffic.ModeSample), "Matching mode: 'sample' (first address) or 'expand' (every address of small targets)")
	cmd.Flags().Uint64Var(&maxHosts, "max-hosts", traffic.DefaultMaxHosts, "Maximum number of hosts in a target to expand in 'expand' mode")
	cmd.Flags().Uint64Var(&maxFlows, "max-flows", 100000000, "Abort when the estimated flow count exceeds this (0 disables)")
	cmd.Flags().BoolVar(&lpm, "lpm", false, "Resolve prefix rules by longest prefix instead of priority order")
	cmd.MarkFlagRequired("targets")
	cmd.MarkFlagRequired("ports")
	return cmd
}

func openInputs(targetsPath, portsPath string) (*traffic.Inputs, error) {
	targetsF, err := os.Open(targetsPath)
	if err != nil {
		return nil, err
	}
	defer targetsF.Close()

	portsF, err := os.Open(portsPath)
	if err != nil {
		return nil, err
	}
	defer portsF.Close()

	return traffic.ParseInputs(targetsF, portsF)
}
