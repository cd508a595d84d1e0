package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"policy-bench/internal/engine"
	"policy-bench/internal/generator"
	"policy-bench/internal/model"
	"policy-bench/internal/render"
	"policy-bench/internal/store"
)

// generationFlags are shared by every subcommand that builds a rule set.
type generationFlags struct {
	count    int
	seed     int64
	ruleType string
	format   string
}

func (g *generationFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&g.count, "count", 0, "Number of rules to generate (required)")
	cmd.Flags().Int64Var(&g.seed, "seed", 42, "Random seed")
	cmd.Flags().StringVar(&g.ruleType, "type", string(model.TypeMixed), "Rule type: 'lpm' (CIDR), 'hash' (IP:PORT) or 'mixed'; engine formats default to 'lpm'")
	cmd.Flags().StringVar(&g.format, "format", string(render.FormatJSON), "Output format: 'json', 'falco', 'kloudknox' or 'tetragon'")
	cmd.MarkFlagRequired("count")
}

// build resolves the flags and generates the rule set with the draw profile
// that matches the target format.
func (g *generationFlags) build(cmd *cobra.Command) (*model.RuleSet, render.Format, error) {
	format, err := render.ParseFormat(g.format)
	if err != nil {
		return nil, "", err
	}
	ruleType := model.TypeLPM
	if format == render.FormatJSON || cmd.Flags().Changed("type") {
		if ruleType, err = generator.ParseRuleType(g.ruleType); err != nil {
			return nil, "", err
		}
	}

	set, err := generator.New(profileFor(format)).Generate(ruleType, g.count, g.seed)
	if err != nil {
		return nil, "", err
	}
	return set, format, nil
}

func profileFor(format render.Format) generator.Profile {
	switch format {
	case render.FormatFalco, render.FormatKloudKnox:
		return generator.ProfileEngine
	case render.FormatTetragon:
		return generator.ProfileCIDROnly
	default:
		return generator.ProfileGeneric
	}
}

func newGenerateCmd() *cobra.Command {
	var (
		gen        generationFlags
		output     string
		layout     string
		chunkSize  int
		namespace  string
		namePrefix string
		dbDSN      string
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a network rule fixture for one policy engine format",
		RunE: func(cmd *cobra.Command, args []string) error {
			startTime := time.Now()
			set, format, err := gen.build(cmd)
			if err != nil {
				slog.Error("Failed to generate rules", "error", err)
				return err
			}
			slog.Info("Rules generated", "count", set.Len(), "type", set.Metadata.Type, "seed", set.Metadata.Seed, "format", format)

			parsedLayout, err := render.ParseLayout(layout)
			if err != nil {
				return err
			}
			renderer, err := render.New(format, render.Options{
				Layout:     parsedLayout,
				ChunkSize:  chunkSize,
				Namespace:  namespace,
				NamePrefix: namePrefix,
			})
			if err != nil {
				return err
			}

			docs, err := writeFixture(output, renderer, set)
			if err != nil {
				slog.Error("Failed to write fixture", "path", output, "error", err)
				return err
			}

			if dbDSN != "" {
				setID, err := saveRuleSet(cmd, dbDSN, set, format)
				if err != nil {
					slog.Error("Failed to store rule set", "error", err)
					return err
				}
				slog.Info("Rule set stored", "set_id", setID)
			}

			slog.Info("Fixture written", "path", output, "documents", docs, "duration", time.Since(startTime))
			fmt.Fprintf(cmd.OutOrStdout(), "[+] %s: %d rules, %d documents -> %s\n", format, set.Len(), docs, output)
			return nil
		},
	}

	gen.register(cmd)
	cmd.Flags().StringVar(&output, "output", "", "Output file path (required)")
	cmd.Flags().StringVar(&layout, "layout", string(render.LayoutChunked), "Document layout for kloudknox/tetragon: 'per-rule' or 'chunked'")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", render.DefaultChunkSize, "Maximum rules per document in chunked layout")
	cmd.Flags().StringVar(&namespace, "namespace", render.DefaultNamespace, "Namespace for namespaced policy resources")
	cmd.Flags().StringVar(&namePrefix, "name-prefix", render.DefaultNamePrefix, "Name prefix for generated policy resources")
	cmd.Flags().StringVar(&dbDSN, "db", "", "Optional MariaDB DSN; when set the rule set is also stored in the database")
	cmd.MarkFlagRequired("output")
	return cmd
}

// writeFixture renders set into path. A failed write removes the file so a
// truncated fixture is never left behind.
func writeFixture(path string, renderer render.Renderer, set *model.RuleSet) (docs int, err error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			os.Remove(path)
		}
	}()

	w := bufio.NewWriter(f)
	docs, err = renderer.Render(w, set)
	if err == nil {
		err = w.Flush()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, err
	}
	return docs, nil
}

func saveRuleSet(cmd *cobra.Command, dsn string, set *model.RuleSet, format render.Format) (int64, error) {
	s, err := store.NewMariaDBStore(dsn)
	if err != nil {
		return 0, err
	}
	defer s.Close()
	if err := s.EnsureSchema(cmd.Context()); err != nil {
		return 0, err
	}
	return s.SaveRuleSet(cmd.Context(), set, string(format))
}

func newProbeCmd() *cobra.Command {
	var (
		gen  generationFlags
		ip   string
		port int
		lpm  bool
	)

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Show which generated rule a connect to ip:port would hit",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := net.ParseIP(ip)
			if target == nil {
				return fmt.Errorf("invalid IP address %q", ip)
			}
			set, _, err := gen.build(cmd)
			if err != nil {
				return err
			}
			evaluator, err := engine.NewEvaluator(set)
			if err != nil {
				return err
			}

			mode := "linear"
			decision := evaluator.Evaluate(target, port)
			if lpm {
				mode = "lpm"
				decision = evaluator.EvaluateLPM(target, port)
			}
			cidr := decision.MatchedCIDR
			if cidr == "" {
				cidr = "-"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s:%d (%s) mode=%s decision=%s rule=%d cidr=%s reason=%s\n",
				target, port, decision.Service, mode, decision.Action, decision.MatchedRuleID, cidr, decision.Reason)
			return nil
		},
	}

	gen.register(cmd)
	cmd.Flags().StringVar(&ip, "ip", "", "Destination IP to evaluate (required)")
	cmd.Flags().IntVar(&port, "port", 80, "Destination port to evaluate")
	cmd.Flags().BoolVar(&lpm, "lpm", false, "Resolve prefix rules by longest prefix instead of priority order")
	cmd.MarkFlagRequired("ip")
	return cmd
}
