package render

import (
	"fmt"
	"io"

	"policy-bench/internal/model"
)

const (
	falcoPriority = "NOTICE"
	falcoBase     = "evt.type = connect and container.id != host"
	falcoFields   = "(command=%proc.cmdline dest=%fd.sip:%fd.sport container=%container.name ns=%k8s.ns.name)"
)

var falcoTags = []string{"bench", "policy-scalability"}

type FalcoRule struct {
	Rule      string   `json:"rule"`
	Desc      string   `json:"desc"`
	Condition string   `json:"condition"`
	Output    string   `json:"output"`
	Priority  string   `json:"priority"`
	Tags      []string `json:"tags"`
}

// FalcoRenderer emits one flat rule per generated rule. Falco evaluates every
// rule condition for each event, so nothing is shared between rules.
type FalcoRenderer struct{}

func FalcoRules(set *model.RuleSet) []FalcoRule {
	total := set.Len()
	rules := make([]FalcoRule, 0, total)
	for i, r := range set.Prefix {
		cond := falcoBase + " and fd.snet = " + r.CIDR
		if r.Port > 0 {
			cond += fmt.Sprintf(" and fd.sport = %d", r.Port)
		}
		rules = append(rules, FalcoRule{
			Rule:      fmt.Sprintf("Bench Network Rule %d", r.ID),
			Desc:      fmt.Sprintf("Audit connect to %s (rule %d/%d)", r.CIDR, i+1, total),
			Condition: cond,
			Output:    fmt.Sprintf("Connection to monitored network %s %s", r.CIDR, falcoFields),
			Priority:  falcoPriority,
			Tags:      falcoTags,
		})
	}
	for i, r := range set.Exact {
		endpoint := fmt.Sprintf("%s:%d", r.IP, r.Port)
		rules = append(rules, FalcoRule{
			Rule:      fmt.Sprintf("Bench Network Rule %d", r.ID),
			Desc:      fmt.Sprintf("Audit connect to %s (rule %d/%d)", endpoint, len(set.Prefix)+i+1, total),
			Condition: fmt.Sprintf("%s and fd.sip = %s and fd.sport = %d", falcoBase, r.IP, r.Port),
			Output:    fmt.Sprintf("Connection to monitored endpoint %s %s", endpoint, falcoFields),
			Priority:  falcoPriority,
			Tags:      falcoTags,
		})
	}
	return rules
}

// Render writes a single YAML document holding the rule list.
func (FalcoRenderer) Render(w io.Writer, set *model.RuleSet) (int, error) {
	if _, err := writeDocuments(w, [][]FalcoRule{FalcoRules(set)}); err != nil {
		return 0, err
	}
	return 1, nil
}
