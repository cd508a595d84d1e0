package render

import (
	"encoding/json"
	"fmt"
	"io"

	"policy-bench/internal/model"
)

// RuleFile is the generic JSON fixture: metadata plus every rule, prefix
// rules first.
type RuleFile struct {
	Metadata model.Metadata `json:"metadata"`
	Rules    []any          `json:"rules"`
}

type JSONRenderer struct{}

func NewRuleFile(set *model.RuleSet) RuleFile {
	rules := make([]any, 0, set.Len())
	for _, r := range set.Prefix {
		rules = append(rules, r)
	}
	for _, r := range set.Exact {
		rules = append(rules, r)
	}
	return RuleFile{Metadata: set.Metadata, Rules: rules}
}

// Render writes the rule file indented by two spaces and without a trailing
// newline, which keeps output byte-identical to previously published fixtures.
func (JSONRenderer) Render(w io.Writer, set *model.RuleSet) (int, error) {
	out, err := json.MarshalIndent(NewRuleFile(set), "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to marshal rule file: %w", err)
	}
	if _, err := w.Write(out); err != nil {
		return 0, err
	}
	return 1, nil
}
