package discovery

import (
	"runtime"
	"sort"
	"strings"
)

// AliasRule collapses two OS aliases of one device. A name containing Marker
// yields the suffix after it; any other name sharing that suffix is dropped
// when it contains AliasMustContain (if set) and lacks AliasMustNotContain
// (if set).
type AliasRule struct {
	Marker              string `toml:"marker"`
	AliasMustContain    string `toml:"alias_must_contain"`
	AliasMustNotContain string `toml:"alias_must_not_contain"`
}

// RuleTable is the canonicalization data. Spurious patterns are discarded
// wherever they appear in a name.
type RuleTable struct {
	Aliases  []AliasRule `toml:"aliases"`
	Spurious []string    `toml:"spurious"`
}

func DefaultRules() RuleTable {
	return DefaultRulesFor(runtime.GOOS)
}

// DefaultRulesFor returns the built-in table for goos.
func DefaultRulesFor(goos string) RuleTable {
	rules := RuleTable{
		Aliases: []AliasRule{
			{Marker: "modem", AliasMustNotContain: "modem"},
			{Marker: "serial-", AliasMustContain: "wch"},
		},
		Spurious: []string{"cu.SLAB_USBtoUART"},
	}
	if goos == "linux" {
		rules.Spurious = append(rules.Spurious, "ttyAMA0")
	}
	return rules
}

// Canonicalize returns the sorted, de-duplicated names left after alias
// collapsing and spurious-name removal.
func (r RuleTable) Canonicalize(names []string) []string {
	seen := make(map[string]bool, len(names))
	work := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		work = append(work, name)
	}

	dropped := make(map[string]bool)
	for _, item := range work {
		if dropped[item] {
			continue
		}
		for _, rule := range r.Aliases {
			idx := strings.Index(item, rule.Marker)
			if rule.Marker == "" || idx < 0 {
				continue
			}
			suffix := item[idx+len(rule.Marker):]
			if suffix != "" {
				for _, other := range work {
					if other != item && rule.aliases(other, suffix) {
						dropped[other] = true
					}
				}
			}
			break
		}
	}

	out := make([]string, 0, len(work))
	for _, name := range work {
		if !dropped[name] && !r.spurious(name) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (a AliasRule) aliases(name, suffix string) bool {
	if !strings.Contains(name, suffix) {
		return false
	}
	if a.AliasMustContain != "" && !strings.Contains(name, a.AliasMustContain) {
		return false
	}
	if a.AliasMustNotContain != "" && strings.Contains(name, a.AliasMustNotContain) {
		return false
	}
	return true
}

func (r RuleTable) spurious(name string) bool {
	for _, pattern := range r.Spurious {
		if pattern != "" && strings.Contains(name, pattern) {
			return true
		}
	}
	return false
}
