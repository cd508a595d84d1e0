package traffic

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"policy-bench/internal/engine"
	"policy-bench/internal/model"
	"policy-bench/internal/utils"
)

type Mode string

const (
	ModeSample Mode = "sample" // first address of each target only
	ModeExpand Mode = "expand" // every address of targets up to MaxHosts
)

const DefaultMaxHosts = 65536

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeSample, ModeExpand:
		return m, nil
	default:
		return "", fmt.Errorf("unknown sweep mode %q (want sample or expand)", s)
	}
}

type Config struct {
	Workers  int
	Mode     Mode
	MaxHosts uint64
	LPM      bool // resolve prefix rules by longest prefix instead of priority
	// ProgressInterval is how often progress is logged; zero disables it.
	ProgressInterval time.Duration
}

type flow struct {
	dstIP   net.IP
	dstCIDR string
	meta    map[string]string
	port    PortInfo
}

type outcome struct {
	flow
	decision engine.Decision
}

// Summary counts what a sweep wrote.
type Summary struct {
	Flows   uint64
	Allowed uint64
	Denied  uint64
}

// EstimateFlows returns how many flows Sweep will evaluate for in.
func EstimateFlows(in *Inputs, mode Mode, maxHosts uint64) uint64 {
	if in == nil {
		return 0
	}
	var total uint64
	for _, t := range in.Targets {
		total += hostCount(t.IPNet, mode, maxHosts) * uint64(len(in.Ports))
	}
	return total
}

func hostCount(n *net.IPNet, mode Mode, maxHosts uint64) uint64 {
	if mode == ModeExpand {
		if size := utils.CIDRSize(n); size > 1 && size <= maxHosts {
			return size
		}
	}
	return 1
}

// Sweep evaluates every target/port flow against ev with a pool of workers
// and writes one CSV row per flow to out. When denied is non-nil, rows the
// rule set denies are also written there. Row order across workers is not
// deterministic.
func Sweep(ctx context.Context, ev *engine.Evaluator, in *Inputs, cfg Config, out, denied io.Writer) (Summary, error) {
	if ev == nil || in == nil {
		return Summary{}, errors.New("sweep needs an evaluator and inputs")
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	total := EstimateFlows(in, cfg.Mode, cfg.MaxHosts)
	metaCols := metadataColumns(in.Targets)

	flows := make(chan flow, workers*100)
	results := make(chan outcome, workers*100)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go worker(&wg, i+1, ev, cfg.LPM, flows, results)
	}
	go produce(ctx, in, cfg, flows)
	go func() {
		wg.Wait()
		close(results)
	}()

	var completed atomic.Uint64
	stopProgress := startProgress(cfg.ProgressInterval, total, &completed)
	defer stopProgress()

	summary, err := writeResults(results, metaCols, out, denied, &completed)
	if err != nil {
		// Drain so workers and the producer can exit.
		for range results {
		}
		return summary, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return summary, ctxErr
	}
	return summary, nil
}

func produce(ctx context.Context, in *Inputs, cfg Config, flows chan<- flow) {
	defer close(flows)
	slog.Debug("Flow producer started", "mode", cfg.Mode)
	var count int
	for _, t := range in.Targets {
		expand := hostCount(t.IPNet, cfg.Mode, cfg.MaxHosts) > 1
		cidr := t.IPNet.String()
		for ip := t.IPNet.IP.Mask(t.IPNet.Mask); t.IPNet.Contains(ip); utils.Inc(ip) {
			dstIP := make(net.IP, len(ip))
			copy(dstIP, ip)
			for _, p := range in.Ports {
				select {
				case flows <- flow{dstIP: dstIP, dstCIDR: cidr, meta: t.Metadata, port: p}:
					count++
				case <-ctx.Done():
					slog.Info("Flow producer cancelled", "flows", count)
					return
				}
			}
			if !expand {
				break
			}
		}
	}
	slog.Debug("Flow producer finished", "flows", count)
}

func worker(wg *sync.WaitGroup, id int, ev *engine.Evaluator, lpm bool, flows <-chan flow, results chan<- outcome) {
	defer wg.Done()
	slog.Debug("Worker started", "id", id)
	for f := range flows {
		var d engine.Decision
		if lpm {
			d = ev.EvaluateLPM(f.dstIP, f.port.Port)
		} else {
			d = ev.Evaluate(f.dstIP, f.port.Port)
		}
		results <- outcome{flow: f, decision: d}
	}
	slog.Debug("Worker finished", "id", id)
}

var resultHeader = []string{"dst_network_segment", "dst_ip", "service_label", "protocol", "port", "decision", "matched_rule_id", "matched_cidr", "reason"}

func writeResults(results <-chan outcome, metaCols []string, out, denied io.Writer, completed *atomic.Uint64) (Summary, error) {
	var summary Summary
	header := append(append([]string{}, resultHeader...), metaCols...)

	outWriter := csv.NewWriter(out)
	if err := outWriter.Write(header); err != nil {
		return summary, err
	}
	var deniedWriter *csv.Writer
	if denied != nil {
		deniedWriter = csv.NewWriter(denied)
		if err := deniedWriter.Write(header); err != nil {
			return summary, err
		}
	}

	for r := range results {
		record := []string{
			r.dstCIDR,
			r.dstIP.String(),
			r.port.Label,
			string(r.port.Protocol),
			strconv.Itoa(r.port.Port),
			string(r.decision.Action),
			strconv.Itoa(r.decision.MatchedRuleID),
			r.decision.MatchedCIDR,
			r.decision.Reason,
		}
		for _, col := range metaCols {
			record = append(record, r.meta[col])
		}
		if err := outWriter.Write(record); err != nil {
			return summary, err
		}

		summary.Flows++
		if r.decision.Action == model.Deny {
			summary.Denied++
			if deniedWriter != nil {
				if err := deniedWriter.Write(record); err != nil {
					return summary, err
				}
			}
		} else {
			summary.Allowed++
		}
		if summary.Flows%1024 == 0 {
			completed.Store(summary.Flows)
		}
	}
	completed.Store(summary.Flows)

	outWriter.Flush()
	if err := outWriter.Error(); err != nil {
		return summary, err
	}
	if deniedWriter != nil {
		deniedWriter.Flush()
		if err := deniedWriter.Error(); err != nil {
			return summary, err
		}
	}
	return summary, nil
}

func metadataColumns(targets []Target) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, t := range targets {
		for k := range t.Metadata {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	sort.Strings(cols)
	return cols
}

func startProgress(interval time.Duration, total uint64, completed *atomic.Uint64) func() {
	if interval <= 0 || total == 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		var lastLogged uint64
		for {
			select {
			case <-ticker.C:
				n := completed.Load()
				if n == lastLogged {
					continue
				}
				percent := float64(n) / float64(total) * 100
				slog.Info("Progress", "total_flows", total, "completed_flows", n, "percent", fmt.Sprintf("%.2f", percent))
				lastLogged = n
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}
