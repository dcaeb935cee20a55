package tiers

import (
	"sort"
)

// All is the sentinel granting every member of a resource kind. It dominates
// any union it participates in.
const All = "all"

// ResourceSpec is the symbolic description of what a sub-test may use. It
// holds references to skill/agent/tool sets plus composed instruction text,
// never raw file copies, so baselines stay cheap to propagate and
// hash-verifiable.
type ResourceSpec struct {
	Skills       []string `yaml:"skills,omitempty" json:"skills,omitempty"`
	Agents       []string `yaml:"agents,omitempty" json:"agents,omitempty"`
	Tools        []string `yaml:"tools,omitempty" json:"tools,omitempty"`
	Services     []string `yaml:"services,omitempty" json:"services,omitempty"`
	Instructions string   `yaml:"instructions,omitempty" json:"instructions,omitempty"`
}

// Merge combines specs left to right with one explicit rule per field: list
// kinds are unioned with the "all" sentinel dominating, instruction text is
// replaced by the last non-empty contributor, never concatenated.
func Merge(specs ...ResourceSpec) ResourceSpec {
	var out ResourceSpec
	skills := make([][]string, 0, len(specs))
	agents := make([][]string, 0, len(specs))
	tools := make([][]string, 0, len(specs))
	services := make([][]string, 0, len(specs))
	for _, s := range specs {
		skills = append(skills, s.Skills)
		agents = append(agents, s.Agents)
		tools = append(tools, s.Tools)
		services = append(services, s.Services)
		if s.Instructions != "" {
			out.Instructions = s.Instructions
		}
	}
	out.Skills = mergeLists(skills)
	out.Agents = mergeLists(agents)
	out.Tools = mergeLists(tools)
	out.Services = mergeLists(services)
	return out
}

func mergeLists(lists [][]string) []string {
	set := map[string]bool{}
	for _, list := range lists {
		for _, item := range list {
			if item == All {
				return []string{All}
			}
			if item != "" {
				set[item] = true
			}
		}
	}
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for item := range set {
		out = append(out, item)
	}
	sort.Strings(out)
	return out
}

// Baseline is a tier winner's resource specification, the only channel by
// which one tier's outcome influences a later tier. Immutable once recorded.
type Baseline struct {
	TierID    string       `json:"tier_id"`
	SubTestID string       `json:"subtest_id"`
	Resources ResourceSpec `json:"resources"`
}
