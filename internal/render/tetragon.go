package render

import (
	"io"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"policy-bench/internal/model"
)

const (
	tetragonAPIVersion = "cilium.io/v1alpha1"
	tetragonKind       = "TracingPolicy"
	connectSyscall     = "__x64_sys_connect"
	sockaddrArgIndex   = 1
)

type TracingPolicy struct {
	metav1.TypeMeta `json:",inline"`
	Metadata        ObjectMeta        `json:"metadata"`
	Spec            TracingPolicySpec `json:"spec"`
}

type TracingPolicySpec struct {
	KProbes []KProbeSpec `json:"kprobes"`
}

type KProbeSpec struct {
	Call      string           `json:"call"`
	Syscall   bool             `json:"syscall"`
	Args      []KProbeArg      `json:"args"`
	Selectors []KProbeSelector `json:"selectors"`
}

type KProbeArg struct {
	Index int    `json:"index"`
	Type  string `json:"type"`
}

type KProbeSelector struct {
	MatchNamespaces []NamespaceSelector `json:"matchNamespaces"`
	MatchArgs       []ArgSelector       `json:"matchArgs"`
}

type NamespaceSelector struct {
	Namespace string   `json:"namespace"`
	Operator  string   `json:"operator"`
	Values    []string `json:"values"`
}

type ArgSelector struct {
	Index    int      `json:"index"`
	Operator string   `json:"operator"`
	Values   []string `json:"values"`
}

// TetragonRenderer emits TracingPolicy resources. Tetragon attaches a
// separate sensor per policy, so LayoutPerRule yields one connect kprobe per
// CIDR while LayoutChunked shares one kprobe across up to ChunkSize CIDRs
// matched as a value list.
type TetragonRenderer struct {
	Options Options
}

func matchValues(set *model.RuleSet) []string {
	values := make([]string, 0, set.Len())
	for _, r := range set.Prefix {
		values = append(values, r.CIDR)
	}
	for _, r := range set.Exact {
		values = append(values, exactCIDR(r))
	}
	return values
}

func connectKProbe(values []string) KProbeSpec {
	return KProbeSpec{
		Call:    connectSyscall,
		Syscall: true,
		Args:    []KProbeArg{{Index: sockaddrArgIndex, Type: "sockaddr"}},
		Selectors: []KProbeSelector{{
			MatchNamespaces: []NamespaceSelector{
				{Namespace: "Mnt", Operator: "NotIn", Values: []string{"host_ns"}},
				{Namespace: "Pid", Operator: "NotIn", Values: []string{"host_ns"}},
			},
			MatchArgs: []ArgSelector{
				{Index: sockaddrArgIndex, Operator: "Prefix", Values: values},
			},
		}},
	}
}

// TracingPolicies builds the policy documents for set.
func TracingPolicies(set *model.RuleSet, opts Options) []TracingPolicy {
	values := matchValues(set)
	groups := Chunk(values, opts.groupSize())

	policies := make([]TracingPolicy, 0, len(groups))
	for i, group := range groups {
		name := chunkName(opts.NamePrefix, i, len(groups))
		if opts.Layout == LayoutPerRule {
			name = indexedName(opts.NamePrefix, i)
		}
		policies = append(policies, TracingPolicy{
			TypeMeta: metav1.TypeMeta{APIVersion: tetragonAPIVersion, Kind: tetragonKind},
			Metadata: ObjectMeta{Name: name},
			Spec:     TracingPolicySpec{KProbes: []KProbeSpec{connectKProbe(group)}},
		})
	}
	return policies
}

func (r TetragonRenderer) Render(w io.Writer, set *model.RuleSet) (int, error) {
	return writeDocuments(w, TracingPolicies(set, r.Options))
}
