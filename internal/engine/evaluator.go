package engine

import (
	"fmt"
	"net"
	"sort"
	"strconv"

	"policy-bench/internal/model"
	"policy-bench/pkg/wellknown"
)

const (
	ReasonExact         = "MATCH_EXACT"
	ReasonPrefix        = "MATCH_PREFIX"
	ReasonImplicitAllow = "IMPLICIT_ALLOW"
)

type Decision struct {
	Action        model.Action
	MatchedRuleID int
	MatchedCIDR   string
	Reason        string
	Service       string
}

type prefixEntry struct {
	rule  model.PrefixRule
	ipNet *net.IPNet
	ones  int
}

// Evaluator answers "what would an engine loaded with this rule set decide
// for a connect to ip:port". Exact rules are looked up in a hash index first;
// prefix rules are then consulted either linearly in priority order or by
// longest prefix.
type Evaluator struct {
	prefixes []prefixEntry
	exact    map[string]*model.ExactRule
}

func NewEvaluator(set *model.RuleSet) (*Evaluator, error) {
	e := &Evaluator{
		prefixes: make([]prefixEntry, 0, len(set.Prefix)),
		exact:    make(map[string]*model.ExactRule, len(set.Exact)),
	}
	for _, r := range set.Prefix {
		_, ipNet, err := net.ParseCIDR(r.CIDR)
		if err != nil {
			return nil, fmt.Errorf("rule %d: invalid CIDR %q: %w", r.ID, r.CIDR, err)
		}
		ones, _ := ipNet.Mask.Size()
		e.prefixes = append(e.prefixes, prefixEntry{rule: r, ipNet: ipNet, ones: ones})
	}
	sort.SliceStable(e.prefixes, func(i, j int) bool {
		return e.prefixes[i].rule.Priority < e.prefixes[j].rule.Priority
	})

	for i := range set.Exact {
		r := &set.Exact[i]
		ip := net.ParseIP(r.IP)
		if ip == nil {
			return nil, fmt.Errorf("rule %d: invalid IP %q", r.ID, r.IP)
		}
		key := exactKey(ip, r.Port)
		if _, dup := e.exact[key]; dup {
			return nil, fmt.Errorf("rule %d: duplicate exact key %s", r.ID, key)
		}
		e.exact[key] = r
	}
	return e, nil
}

// Evaluate returns the first prefix rule in priority order that matches,
// which is how a linear rule engine resolves overlapping rules.
func (e *Evaluator) Evaluate(ip net.IP, port int) Decision {
	if d, ok := e.lookupExact(ip, port); ok {
		return d
	}
	for i := range e.prefixes {
		if e.prefixes[i].matches(ip, port) {
			return prefixDecision(&e.prefixes[i], port)
		}
	}
	return implicitAllow(port)
}

// EvaluateLPM returns the most specific matching prefix rule, breaking ties by
// priority, which is how an LPM-trie backed engine resolves the same set.
func (e *Evaluator) EvaluateLPM(ip net.IP, port int) Decision {
	if d, ok := e.lookupExact(ip, port); ok {
		return d
	}
	var best *prefixEntry
	for i := range e.prefixes {
		entry := &e.prefixes[i]
		if !entry.matches(ip, port) {
			continue
		}
		if best == nil || entry.ones > best.ones {
			best = entry
		}
	}
	if best == nil {
		return implicitAllow(port)
	}
	return prefixDecision(best, port)
}

func (e *Evaluator) lookupExact(ip net.IP, port int) (Decision, bool) {
	r, ok := e.exact[exactKey(ip, port)]
	if !ok {
		return Decision{}, false
	}
	return Decision{
		Action:        r.Action,
		MatchedRuleID: r.ID,
		Reason:        ReasonExact,
		Service:       wellknown.Label(port, model.TCP),
	}, true
}

func (p *prefixEntry) matches(ip net.IP, port int) bool {
	if p.rule.Port != 0 && p.rule.Port != port {
		return false
	}
	return p.ipNet.Contains(ip)
}

func prefixDecision(p *prefixEntry, port int) Decision {
	return Decision{
		Action:        p.rule.Action,
		MatchedRuleID: p.rule.ID,
		MatchedCIDR:   p.rule.CIDR,
		Reason:        ReasonPrefix,
		Service:       wellknown.Label(port, model.TCP),
	}
}

func implicitAllow(port int) Decision {
	return Decision{
		Action:  model.Allow,
		Reason:  ReasonImplicitAllow,
		Service: wellknown.Label(port, model.TCP),
	}
}

func exactKey(ip net.IP, port int) string {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	return net.JoinHostPort(ip.String(), strconv.Itoa(port))
}
