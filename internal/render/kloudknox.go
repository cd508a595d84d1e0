package render

import (
	"io"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"policy-bench/internal/model"
)

const (
	kloudKnoxAPIVersion = "security.boanlab.com/v1"
	kloudKnoxKind       = "KloudKnoxPolicy"
	kloudKnoxAction     = "Audit"
)

// ObjectMeta carries the subset of Kubernetes object metadata the fixtures
// set. metav1.ObjectMeta is avoided because it serializes a null
// creationTimestamp.
type ObjectMeta struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace,omitempty"`
}

type KloudKnoxPolicy struct {
	metav1.TypeMeta `json:",inline"`
	Metadata        ObjectMeta    `json:"metadata"`
	Spec            KloudKnoxSpec `json:"spec"`
}

type KloudKnoxSpec struct {
	Selector map[string]string `json:"selector"`
	Network  []NetworkRule     `json:"network"`
	Action   string            `json:"action"`
}

type NetworkRule struct {
	Direction string     `json:"direction"`
	IPBlock   IPBlock    `json:"ipBlock"`
	Ports     []PortRule `json:"ports,omitempty"`
}

type IPBlock struct {
	CIDR string `json:"cidr"`
}

type PortRule struct {
	Protocol string `json:"protocol"`
	Port     int    `json:"port"`
}

// KloudKnoxRenderer emits KloudKnoxPolicy custom resources. The agent merges
// the network rules of all resources into its BPF maps, so the layout only
// changes how many objects the API server stores.
type KloudKnoxRenderer struct {
	Options Options
}

func networkRules(set *model.RuleSet) []NetworkRule {
	rules := make([]NetworkRule, 0, set.Len())
	for _, r := range set.Prefix {
		rules = append(rules, networkRule(r.CIDR, r.Port))
	}
	for _, r := range set.Exact {
		rules = append(rules, networkRule(exactCIDR(r), r.Port))
	}
	return rules
}

func networkRule(cidr string, port int) NetworkRule {
	rule := NetworkRule{Direction: "egress", IPBlock: IPBlock{CIDR: cidr}}
	if port > 0 {
		rule.Ports = []PortRule{{Protocol: "TCP", Port: port}}
	}
	return rule
}

// KloudKnoxPolicies builds the policy documents for set.
func KloudKnoxPolicies(set *model.RuleSet, opts Options) []KloudKnoxPolicy {
	rules := networkRules(set)
	groups := Chunk(rules, opts.groupSize())

	policies := make([]KloudKnoxPolicy, 0, len(groups))
	for i, group := range groups {
		name := chunkName(opts.NamePrefix, i, len(groups))
		if opts.Layout == LayoutPerRule {
			name = indexedName(opts.NamePrefix, i)
		}
		policies = append(policies, KloudKnoxPolicy{
			TypeMeta: metav1.TypeMeta{APIVersion: kloudKnoxAPIVersion, Kind: kloudKnoxKind},
			Metadata: ObjectMeta{Name: name, Namespace: opts.Namespace},
			Spec: KloudKnoxSpec{
				Selector: map[string]string{"app": "workload"},
				Network:  group,
				Action:   kloudKnoxAction,
			},
		})
	}
	return policies
}

func (r KloudKnoxRenderer) Render(w io.Writer, set *model.RuleSet) (int, error) {
	return writeDocuments(w, KloudKnoxPolicies(set, r.Options))
}
