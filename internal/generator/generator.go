package generator

import (
	"fmt"
	"net"
	"strconv"

	"policy-bench/internal/model"
	"policy-bench/internal/utils"
)

// BaseBlock is the address block every generated rule falls inside.
var BaseBlock = mustParseCIDR("10.0.0.0/8")

// DefaultPrefixLengths is the candidate set drawn from for prefix rules.
var DefaultPrefixLengths = []int{8, 12, 16, 20, 24, 28, 32}

// Port candidate sets. Order is part of the fixture contract: reordering them
// changes every generated rule set.
var (
	GenericPorts = []int{80, 443, 8080, 8443, 3306, 5432, 6379, 27017, 0}
	EnginePorts  = []int{80, 443, 8080, 8443, 3306, 5432, 6379, 0}
)

const minAttemptsPerRule = 100

// Profile fixes the candidate sets used for a run. Two runs with the same
// profile, count and seed produce identical rules.
type Profile struct {
	PrefixLengths []int
	// Ports is drawn from after each prefix key is settled. A nil Ports
	// skips the draw entirely and every prefix rule gets port 0.
	Ports []int
}

var (
	// ProfileGeneric is used for the generic JSON rule file.
	ProfileGeneric = Profile{PrefixLengths: DefaultPrefixLengths, Ports: GenericPorts}
	// ProfileEngine is used for Falco and KloudKnox fixtures.
	ProfileEngine = Profile{PrefixLengths: DefaultPrefixLengths, Ports: EnginePorts}
	// ProfileCIDROnly is used for Tetragon fixtures, which match on address only.
	ProfileCIDROnly = Profile{PrefixLengths: DefaultPrefixLengths}
)

type Generator struct {
	profile Profile
}

func New(profile Profile) *Generator {
	return &Generator{profile: profile}
}

// ParseRuleType validates a rule type tag.
func ParseRuleType(s string) (model.RuleType, error) {
	switch t := model.RuleType(s); t {
	case model.TypeLPM, model.TypeHash, model.TypeMixed:
		return t, nil
	default:
		return "", fmt.Errorf("unknown rule type %q (want lpm, hash or mixed)", s)
	}
}

// Generate builds a complete rule set of the given type. Mixed sets split
// count into floor(count/2) prefix rules followed by the remaining exact rules,
// with exact-rule IDs continuing after the last prefix-rule ID.
func (g *Generator) Generate(ruleType model.RuleType, count int, seed int64) (*model.RuleSet, error) {
	set := &model.RuleSet{}
	var err error
	switch ruleType {
	case model.TypeLPM:
		set.Prefix, err = g.PrefixRules(count, seed)
	case model.TypeHash:
		set.Exact, err = g.ExactRules(count, seed, 0)
	case model.TypeMixed:
		prefixCount := count / 2
		set.Prefix, err = g.PrefixRules(prefixCount, seed)
		if err == nil {
			set.Exact, err = g.ExactRules(count-prefixCount, seed, len(set.Prefix))
		}
	default:
		return nil, fmt.Errorf("unknown rule type %q", ruleType)
	}
	if err != nil {
		return nil, err
	}
	set.Metadata = model.Metadata{
		TotalRules: set.Len(),
		Type:       ruleType,
		Seed:       seed,
	}
	return set, nil
}

// PrefixRules draws count unique CIDRs from BaseBlock. Every third rule,
// starting with the first, denies; ID and priority both equal the 1-based
// generation order.
func (g *Generator) PrefixRules(count int, seed int64) ([]model.PrefixRule, error) {
	if count < 0 {
		return nil, fmt.Errorf("rule count must not be negative, got %d", count)
	}
	if len(g.profile.PrefixLengths) == 0 {
		return nil, fmt.Errorf("profile has no prefix lengths")
	}
	keySpace := g.prefixKeySpace()
	if uint64(count) > keySpace {
		return nil, &CapacityError{Kind: model.TypeLPM, Requested: count, KeySpace: keySpace, Index: int(keySpace)}
	}

	src := NewSource(seed)
	seen := make(map[string]struct{}, count)
	budget := attemptBudget(count)
	base := BaseBlock.IP.To4()
	rules := make([]model.PrefixRule, 0, count)

	for i := 0; i < count; i++ {
		cidr, attempts, err := drawUnique(seen, budget, func() (string, error) {
			ip := net.IPv4(base[0], byte(src.Below(256)), byte(src.Below(256)), byte(src.Below(256)))
			return utils.NetworkString(ip, Choice(src, g.profile.PrefixLengths))
		})
		if err != nil {
			return nil, err
		}
		if cidr == "" {
			return nil, &CapacityError{Kind: model.TypeLPM, Requested: count, KeySpace: keySpace, Index: i, Attempts: attempts}
		}

		action := model.Allow
		if i%3 == 0 {
			action = model.Deny
		}
		port := 0
		if g.profile.Ports != nil {
			port = Choice(src, g.profile.Ports)
		}

		rules = append(rules, model.PrefixRule{
			ID:       i + 1,
			CIDR:     cidr,
			Port:     port,
			Protocol: model.TCP,
			Action:   action,
			Priority: i + 1,
		})
	}
	return rules, nil
}

// ExactRules draws count unique ip:port pairs from BaseBlock using the stream
// seeded with seed+1000, so the result does not depend on whether prefix rules
// were generated first. IDs start at idOffset+1.
func (g *Generator) ExactRules(count int, seed int64, idOffset int) ([]model.ExactRule, error) {
	if count < 0 {
		return nil, fmt.Errorf("rule count must not be negative, got %d", count)
	}
	keySpace := exactKeySpace()
	if uint64(count) > keySpace {
		return nil, &CapacityError{Kind: model.TypeHash, Requested: count, KeySpace: keySpace, Index: int(keySpace)}
	}

	src := NewSource(seed + 1000)
	seen := make(map[string]struct{}, count)
	budget := attemptBudget(count)
	base := BaseBlock.IP.To4()
	rules := make([]model.ExactRule, 0, count)

	for i := 0; i < count; i++ {
		var ip string
		var port int
		key, attempts, _ := drawUnique(seen, budget, func() (string, error) {
			ip = net.IPv4(base[0], byte(src.IntRange(0, 255)), byte(src.IntRange(0, 255)), byte(src.IntRange(1, 254))).String()
			port = src.IntRange(1, 65535)
			return net.JoinHostPort(ip, strconv.Itoa(port)), nil
		})
		if key == "" {
			return nil, &CapacityError{Kind: model.TypeHash, Requested: count, KeySpace: keySpace, Index: i, Attempts: attempts}
		}

		action := model.Allow
		if i%2 == 1 {
			action = model.Deny
		}
		rules = append(rules, model.ExactRule{
			ID:       idOffset + i + 1,
			IP:       ip,
			Port:     port,
			Protocol: model.TCP,
			Action:   action,
		})
	}
	return rules, nil
}

// prefixKeySpace counts the distinct networks reachable with the profile's
// prefix lengths inside BaseBlock.
func (g *Generator) prefixKeySpace() uint64 {
	var total uint64
	counted := make(map[int]bool)
	for _, p := range g.profile.PrefixLengths {
		if counted[p] {
			continue
		}
		counted[p] = true
		total += utils.SubnetCount(BaseBlock, p)
	}
	return total
}

// exactKeySpace is 256*256 middle octets * 254 host octets * 65535 ports.
func exactKeySpace() uint64 {
	return 256 * 256 * 254 * 65535
}

// drawUnique calls draw until it yields a key not yet in seen, records it and
// returns it with the number of attempts used. An empty key means budget
// attempts were spent on duplicates.
func drawUnique(seen map[string]struct{}, budget int, draw func() (string, error)) (string, int, error) {
	for attempt := 1; ; attempt++ {
		key, err := draw()
		if err != nil {
			return "", attempt, err
		}
		if _, dup := seen[key]; !dup {
			seen[key] = struct{}{}
			return key, attempt, nil
		}
		if attempt >= budget {
			return "", attempt, nil
		}
	}
}

func attemptBudget(count int) int {
	if budget := 10 * count; budget > minAttemptsPerRule {
		return budget
	}
	return minAttemptsPerRule
}

// GeneratePrefixRules draws prefix rules with the generic profile.
func GeneratePrefixRules(count int, seed int64) ([]model.PrefixRule, error) {
	return New(ProfileGeneric).PrefixRules(count, seed)
}

// GenerateExactRules draws exact rules numbered from 1.
func GenerateExactRules(count int, seed int64) ([]model.ExactRule, error) {
	return New(ProfileGeneric).ExactRules(count, seed, 0)
}

// Mixed builds a mixed rule set with the generic profile.
func Mixed(count int, seed int64) (*model.RuleSet, error) {
	return New(ProfileGeneric).Generate(model.TypeMixed, count, seed)
}

func mustParseCIDR(s string) *net.IPNet {
	_, ipNet, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return ipNet
}
