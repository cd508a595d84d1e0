package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"policy-bench/internal/model"
	"policy-bench/internal/render"
)

func execute(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--log-level", "ERROR"}, args...))
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read %s: %v", path, err)
	}
	return string(data)
}

func TestNewRootCmd(t *testing.T) {
	cmd := newRootCmd()
	if cmd == nil {
		t.Fatal("newRootCmd returned nil")
	}
	if cmd.Use != "policybench" {
		t.Errorf("Expected use 'policybench', got '%s'", cmd.Use)
	}
	for _, name := range []string{"generate", "probe", "sweep", "connect", "serve"} {
		if sub, _, err := cmd.Find([]string{name}); err != nil || sub.Name() != name {
			t.Errorf("Expected subcommand %q to be registered", name)
		}
	}
}

func TestGenerateJSONMatchesReferenceFixture(t *testing.T) {
	out := filepath.Join(t.TempDir(), "rules.json")
	if _, err := execute(t, context.Background(), "generate", "--count", "10", "--seed", "42", "--type", "mixed", "--output", out); err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	got := readFile(t, out)
	want := readFile(t, filepath.Join("testdata", "rules_mixed_10_seed42.json"))
	if got != want {
		t.Errorf("Generated fixture differs from reference.\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestGenerateEngineFormats(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		format   string
		count    int
		docs     int
		contains []string
		absent   string
	}{
		{"falco", 3, 1, []string{"fd.snet = 10.48.0.0/12", "priority: NOTICE"}, "fd.sip = "},
		{"kloudknox", 1200, 3, []string{"kind: KloudKnoxPolicy", "name: bench-scale-0002", "namespace: bench-policy"}, "fd.snet"},
		{"tetragon", 501, 2, []string{"kind: TracingPolicy", "__x64_sys_connect", "10.48.0.0/12"}, "namespace: bench-policy"},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			out := filepath.Join(dir, tt.format+".yaml")
			stdout, err := execute(t, context.Background(), "generate", "--format", tt.format, "--count", strconv.Itoa(tt.count), "--output", out)
			if err != nil {
				t.Fatalf("generate failed: %v", err)
			}
			if !strings.Contains(stdout, strconv.Itoa(tt.docs)+" documents") {
				t.Errorf("Expected %d documents in summary, got %q", tt.docs, stdout)
			}

			body := readFile(t, out)
			for _, s := range tt.contains {
				if !strings.Contains(body, s) {
					t.Errorf("Expected output to contain %q", s)
				}
			}
			if strings.Contains(body, tt.absent) {
				t.Errorf("Expected output not to contain %q", tt.absent)
			}
		})
	}
}

func TestGenerateExactRulesForEngine(t *testing.T) {
	out := filepath.Join(t.TempDir(), "falco.yaml")
	if _, err := execute(t, context.Background(), "generate", "--format", "falco", "--type", "hash", "--count", "1", "--output", out); err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	// Long conditions are folded across lines, so compare the decoded value.
	var rules []render.FalcoRule
	if err := yaml.Unmarshal([]byte(readFile(t, out)), &rules); err != nil {
		t.Fatalf("Failed to decode Falco rules: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("Expected 1 rule, got %d", len(rules))
	}
	want := "evt.type = connect and container.id != host and fd.sip = 10.127.74.91 and fd.sport = 3601"
	if rules[0].Condition != want {
		t.Errorf("Expected condition %q, got %q", want, rules[0].Condition)
	}
}

func TestGenerateErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		args []string
	}{
		{"MissingCount", []string{"generate", "--output", filepath.Join(dir, "a.json")}},
		{"MissingOutput", []string{"generate", "--count", "1"}},
		{"UnknownFormat", []string{"generate", "--count", "1", "--format", "iptables", "--output", filepath.Join(dir, "b")}},
		{"UnknownType", []string{"generate", "--count", "1", "--type", "trie", "--output", filepath.Join(dir, "c")}},
		{"UnknownLayout", []string{"generate", "--count", "1", "--format", "tetragon", "--layout", "single", "--output", filepath.Join(dir, "d")}},
		{"NegativeCount", []string{"generate", "--count", "-1", "--output", filepath.Join(dir, "e")}},
		{"BadChunkSize", []string{"generate", "--count", "1", "--chunk-size", "0", "--output", filepath.Join(dir, "f")}},
		{"UnwritableOutput", []string{"generate", "--count", "1", "--output", filepath.Join(dir, "missing", "rules.json")}},
		{"InvalidDSN", []string{"generate", "--count", "1", "--output", filepath.Join(dir, "g.json"), "--db", "not a dsn"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := execute(t, context.Background(), tt.args...); err == nil {
				t.Errorf("Expected error for args %v", tt.args)
			}
		})
	}
}

type failingRenderer struct{}

func (failingRenderer) Render(w io.Writer, set *model.RuleSet) (int, error) {
	io.WriteString(w, "- rule: partial")
	return 0, errors.New("render failed")
}

func TestWriteFixtureRemovesFileOnError(t *testing.T) {
	out := filepath.Join(t.TempDir(), "rules.yaml")
	if _, err := writeFixture(out, failingRenderer{}, &model.RuleSet{}); err == nil {
		t.Fatal("Expected render error")
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("Expected %s to be removed, stat returned %v", out, err)
	}

	docs, err := writeFixture(out, render.JSONRenderer{}, &model.RuleSet{})
	if err != nil || docs != 1 {
		t.Fatalf("Expected 1 document, got %d, %v", docs, err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("Expected %s to exist: %v", out, err)
	}
}

func TestProbe(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{
			name: "ExactHit",
			args: []string{"probe", "--type", "hash", "--count", "3", "--ip", "10.127.74.91", "--port", "3601"},
			want: "decision=allow rule=1 cidr=- reason=MATCH_EXACT",
		},
		{
			name: "PrefixHit",
			args: []string{"probe", "--type", "lpm", "--count", "1", "--ip", "10.50.1.1", "--port", "8443"},
			want: "decision=deny rule=1 cidr=10.48.0.0/12 reason=MATCH_PREFIX",
		},
		{
			name: "Miss",
			args: []string{"probe", "--type", "lpm", "--count", "1", "--ip", "192.168.1.1", "--port", "8443", "--lpm"},
			want: "mode=lpm decision=allow rule=0 cidr=- reason=IMPLICIT_ALLOW",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, err := execute(t, context.Background(), tt.args...)
			if err != nil {
				t.Fatalf("probe failed: %v", err)
			}
			if !strings.Contains(stdout, tt.want) {
				t.Errorf("Expected %q in output, got %q", tt.want, stdout)
			}
		})
	}

	if _, err := execute(t, context.Background(), "probe", "--count", "1", "--ip", "not-an-ip"); err == nil {
		t.Error("Expected error for invalid IP")
	}
}

func unusedPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to reserve port: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

func TestConnectRefused(t *testing.T) {
	port := unusedPort(t)
	stdout, err := execute(t, context.Background(), "connect", "--host", "127.0.0.1", "--port", strconv.Itoa(port), "--count", "2")
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if !strings.Contains(stdout, "success=0, fail=2") {
		t.Errorf("Expected two failures, got %q", stdout)
	}
}

func TestConnectNegativeCount(t *testing.T) {
	if _, err := execute(t, context.Background(), "connect", "--count", "-3"); err == nil {
		t.Error("Expected error for negative count")
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stdout, err := execute(t, ctx, "serve", "--host", "127.0.0.1", "--port", "0")
	if err != nil {
		t.Fatalf("serve returned error after cancellation: %v", err)
	}
	if !strings.Contains(stdout, "[server] listening on 127.0.0.1:") {
		t.Errorf("Expected listening line, got %q", stdout)
	}
	if !strings.Contains(stdout, "stopped, 0 connections accepted") {
		t.Errorf("Expected stop summary, got %q", stdout)
	}
}

func TestSweep(t *testing.T) {
	dir := t.TempDir()
	targets := filepath.Join(dir, "targets.csv")
	ports := filepath.Join(dir, "ports.txt")
	results := filepath.Join(dir, "results.csv")
	denied := filepath.Join(dir, "denied.csv")
	if err := os.WriteFile(targets, []byte("destination,site\n10.50.1.1,DC1\n192.168.1.1,DC2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(ports, []byte("https-alt,8443/tcp\nhttp\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	stdout, err := execute(t, context.Background(), "sweep", "--type", "lpm", "--count", "1",
		"--targets", targets, "--ports", ports, "--out", results, "--denied", denied, "-w", "1")
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if !strings.Contains(stdout, "4 flows: 3 allowed, 1 denied") {
		t.Errorf("Unexpected summary %q", stdout)
	}

	deniedRows := strings.Split(strings.TrimSpace(readFile(t, denied)), "\n")
	if len(deniedRows) != 2 || !strings.HasPrefix(deniedRows[1], "10.50.1.1/32,10.50.1.1,https-alt,tcp,8443,deny,1,10.48.0.0/12,") {
		t.Errorf("Unexpected denied rows %q", deniedRows)
	}
	if rows := strings.Split(strings.TrimSpace(readFile(t, results)), "\n"); len(rows) != 5 {
		t.Errorf("Expected header plus 4 rows, got %d", len(rows))
	}

	if _, err := execute(t, context.Background(), "sweep", "--count", "1", "--targets", targets, "--ports", ports,
		"--out", results, "--max-flows", "3"); err == nil {
		t.Error("Expected error when flow estimate exceeds --max-flows")
	}
}
