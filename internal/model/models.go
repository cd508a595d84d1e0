package model

type Protocol string // "tcp", "udp"

const (
	TCP Protocol = "tcp"
	UDP Protocol = "udp"
)

type Action string // "allow", "deny"

const (
	Allow Action = "allow"
	Deny  Action = "deny"
)

// RuleType names the kind of rule set a generation run produced.
type RuleType string

const (
	TypeLPM   RuleType = "lpm"   // prefix rules only
	TypeHash  RuleType = "hash"  // exact ip:port rules only
	TypeMixed RuleType = "mixed" // prefix rules followed by exact rules
)

// PrefixRule matches a destination CIDR and, when Port is non-zero, a port.
type PrefixRule struct {
	ID       int      `json:"id"`
	CIDR     string   `json:"cidr"`
	Port     int      `json:"port"` // 0 = any
	Protocol Protocol `json:"protocol"`
	Action   Action   `json:"action"`
	Priority int      `json:"priority"`
}

// ExactRule matches a single destination ip:port pair.
type ExactRule struct {
	ID       int      `json:"id"`
	IP       string   `json:"ip"`
	Port     int      `json:"port"`
	Protocol Protocol `json:"protocol"`
	Action   Action   `json:"action"`
}

type Metadata struct {
	TotalRules int      `json:"total_rules"`
	Type       RuleType `json:"type"`
	Seed       int64    `json:"seed"`
}

// RuleSet is the output of one generation run. Prefix rules always precede
// exact rules and IDs are unique across both slices.
type RuleSet struct {
	Metadata Metadata
	Prefix   []PrefixRule
	Exact    []ExactRule
}

func (s *RuleSet) Len() int {
	return len(s.Prefix) + len(s.Exact)
}
