package engine

import (
	"net"
	"testing"

	"policy-bench/internal/generator"
	"policy-bench/internal/model"
)

func TestEvaluatorHonorsPriorityAndImplicitAllow(t *testing.T) {
	set := &model.RuleSet{
		Prefix: []model.PrefixRule{
			{ID: 2, CIDR: "10.0.0.0/8", Port: 0, Action: model.Allow, Priority: 2},
			{ID: 1, CIDR: "10.1.0.0/16", Port: 443, Action: model.Deny, Priority: 1},
		},
	}
	evaluator, err := NewEvaluator(set)
	if err != nil {
		t.Fatalf("NewEvaluator failed: %v", err)
	}

	d := evaluator.Evaluate(net.ParseIP("10.1.2.3"), 443)
	if d.Action != model.Deny || d.MatchedRuleID != 1 || d.Reason != ReasonPrefix {
		t.Fatalf("expected deny from rule 1, got %+v", d)
	}
	if d.Service != "https" {
		t.Errorf("expected https service label, got %q", d.Service)
	}

	d = evaluator.Evaluate(net.ParseIP("10.1.2.3"), 80)
	if d.Action != model.Allow || d.MatchedRuleID != 2 {
		t.Fatalf("expected allow from rule 2 on port 80, got %+v", d)
	}

	d = evaluator.Evaluate(net.ParseIP("192.168.1.1"), 80)
	if d.Reason != ReasonImplicitAllow || d.Action != model.Allow || d.MatchedRuleID != 0 {
		t.Fatalf("expected implicit allow, got %+v", d)
	}
}

func TestEvaluatorComparesLinearAndLPM(t *testing.T) {
	set := &model.RuleSet{
		Prefix: []model.PrefixRule{
			{ID: 1, CIDR: "10.0.0.0/8", Action: model.Deny, Priority: 1},
			{ID: 2, CIDR: "10.48.0.0/12", Action: model.Allow, Priority: 2},
			{ID: 3, CIDR: "10.48.7.0/24", Action: model.Allow, Priority: 3},
		},
		Exact: []model.ExactRule{
			{ID: 4, IP: "10.48.7.9", Port: 3601, Action: model.Deny},
		},
	}
	evaluator, err := NewEvaluator(set)
	if err != nil {
		t.Fatalf("NewEvaluator failed: %v", err)
	}

	tests := []struct {
		name       string
		ip         string
		port       int
		wantLinear int
		wantLPM    int
		wantReason string
	}{
		{"exact key wins in both", "10.48.7.9", 3601, 4, 4, ReasonExact},
		{"linear picks highest priority", "10.48.7.9", 80, 1, 3, ReasonPrefix},
		{"mid-size network", "10.50.0.1", 80, 1, 2, ReasonPrefix},
		{"outside every rule", "172.16.0.1", 80, 0, 0, ReasonImplicitAllow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ip := net.ParseIP(tt.ip)
			linear := evaluator.Evaluate(ip, tt.port)
			lpm := evaluator.EvaluateLPM(ip, tt.port)
			if linear.MatchedRuleID != tt.wantLinear {
				t.Errorf("linear matched %d, want %d", linear.MatchedRuleID, tt.wantLinear)
			}
			if lpm.MatchedRuleID != tt.wantLPM {
				t.Errorf("LPM matched %d, want %d", lpm.MatchedRuleID, tt.wantLPM)
			}
			if lpm.Reason != tt.wantReason {
				t.Errorf("LPM reason %s, want %s", lpm.Reason, tt.wantReason)
			}
		})
	}
}

func TestEvaluatorMatchesEveryGeneratedRule(t *testing.T) {
	set, err := generator.Mixed(2000, 42)
	if err != nil {
		t.Fatalf("generation failed: %v", err)
	}
	evaluator, err := NewEvaluator(set)
	if err != nil {
		t.Fatalf("NewEvaluator failed: %v", err)
	}

	for _, r := range set.Exact {
		d := evaluator.Evaluate(net.ParseIP(r.IP), r.Port)
		if d.Reason != ReasonExact || d.MatchedRuleID != r.ID {
			t.Fatalf("exact rule %d not resolved by hash lookup: %+v", r.ID, d)
		}
	}
	for _, r := range set.Prefix {
		ipNet := mustParseCIDR(t, r.CIDR)
		port := r.Port
		if port == 0 {
			port = 1
		}
		// The network address of a rule is always covered by some rule with
		// equal or higher priority.
		d := evaluator.Evaluate(ipNet.IP, port)
		if d.Reason != ReasonPrefix && d.Reason != ReasonExact {
			t.Fatalf("rule %d (%s) unmatched: %+v", r.ID, r.CIDR, d)
		}
		if d.Reason == ReasonPrefix && d.MatchedRuleID > r.ID {
			t.Fatalf("rule %d (%s) resolved to lower-priority rule %d", r.ID, r.CIDR, d.MatchedRuleID)
		}
	}
}

func TestNewEvaluatorRejectsInvalidRules(t *testing.T) {
	if _, err := NewEvaluator(&model.RuleSet{Prefix: []model.PrefixRule{{ID: 1, CIDR: "10.0.0.0/33"}}}); err == nil {
		t.Error("expected error for invalid CIDR")
	}
	if _, err := NewEvaluator(&model.RuleSet{Exact: []model.ExactRule{{ID: 1, IP: "not-an-ip"}}}); err == nil {
		t.Error("expected error for invalid IP")
	}
	dup := []model.ExactRule{{ID: 1, IP: "10.0.0.1", Port: 80}, {ID: 2, IP: "10.0.0.1", Port: 80}}
	if _, err := NewEvaluator(&model.RuleSet{Exact: dup}); err == nil {
		t.Error("expected error for duplicate exact key")
	}
}

func mustParseCIDR(t *testing.T, cidr string) *net.IPNet {
	_, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		t.Fatalf("failed to parse CIDR %s: %v", cidr, err)
	}
	return ipNet
}
