package tiers

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// SubTestDef is one concrete configuration variant within a tier.
type SubTestDef struct {
	ID        string       `yaml:"id"`
	Name      string       `yaml:"name"`
	AgentTeam bool         `yaml:"agent_team"`
	Resources ResourceSpec `yaml:"resources"`
}

// TierDef is one configuration level in the ladder. DependsOn orders
// execution; InheritFrom names the tiers whose winning baselines seed this
// tier's sub-tests (empty means the rolling baseline from the previous
// group). The table is static configuration, never composed at runtime.
type TierDef struct {
	ID          string       `yaml:"id"`
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	DependsOn   []string     `yaml:"depends_on"`
	InheritFrom []string     `yaml:"inherit_from"`
	SubTests    []SubTestDef `yaml:"subtests"`
}

type Registry struct {
	tiers map[string]TierDef
	order []string
}

type tierFile struct {
	Tiers []TierDef `yaml:"tiers"`
}

// Load reads a tier table from a YAML file, or returns the built-in ladder
// when path is empty.
func Load(path string) (*Registry, error) {
	if path == "" {
		return Builtin(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tier file %s: %w", path, err)
	}
	var tf tierFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parsing tier file %s: %w", path, err)
	}
	return newRegistry(tf.Tiers)
}

func newRegistry(defs []TierDef) (*Registry, error) {
	r := &Registry{tiers: map[string]TierDef{}}
	for _, def := range defs {
		if def.ID == "" {
			return nil, fmt.Errorf("tier with empty id")
		}
		if _, dup := r.tiers[def.ID]; dup {
			return nil, fmt.Errorf("duplicate tier %q", def.ID)
		}
		if len(def.SubTests) == 0 {
			return nil, fmt.Errorf("tier %q has no subtests", def.ID)
		}
		subSeen := map[string]bool{}
		for _, st := range def.SubTests {
			if st.ID == "" {
				return nil, fmt.Errorf("tier %q: subtest with empty id", def.ID)
			}
			if subSeen[st.ID] {
				return nil, fmt.Errorf("tier %q: duplicate subtest %q", def.ID, st.ID)
			}
			subSeen[st.ID] = true
		}
		r.tiers[def.ID] = def
		r.order = append(r.order, def.ID)
	}
	for _, def := range defs {
		for _, dep := range def.DependsOn {
			if _, ok := r.tiers[dep]; !ok {
				return nil, fmt.Errorf("tier %q depends on unknown tier %q", def.ID, dep)
			}
		}
		for _, src := range def.InheritFrom {
			if _, ok := r.tiers[src]; !ok {
				return nil, fmt.Errorf("tier %q inherits from unknown tier %q", def.ID, src)
			}
		}
	}
	return r, nil
}

func (r *Registry) Get(id string) (TierDef, error) {
	def, ok := r.tiers[id]
	if !ok {
		known := append([]string(nil), r.order...)
		sort.Strings(known)
		return TierDef{}, fmt.Errorf("unknown tier %q (known: %v)", id, known)
	}
	return def, nil
}

// IDs returns tier ids in declaration order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.order...)
}

// Dependencies returns the static tier dependency table for the grouper.
func (r *Registry) Dependencies() map[string][]string {
	deps := make(map[string][]string, len(r.tiers))
	for id, def := range r.tiers {
		deps[id] = append([]string(nil), def.DependsOn...)
	}
	return deps
}

// Builtin is the default five-tier ladder: a bare agent, then skills, tools,
// and delegation added independently, then a combined tier inheriting from
// all three branches.
func Builtin() *Registry {
	r, err := newRegistry([]TierDef{
		{
			ID:          "t0-bare",
			Name:        "Bare agent",
			Description: "Single agent, no extra resources",
			SubTests: []SubTestDef{
				{ID: "bare-minimal", Name: "Minimal prompt"},
				{ID: "bare-guided", Name: "Guided prompt", Resources: ResourceSpec{
					Instructions: "Work incrementally. Run the test suite after every change.",
				}},
			},
		},
		{
			ID:          "t1-skills",
			Name:        "Skill library",
			Description: "Bare winner plus curated skills",
			DependsOn:   []string{"t0-bare"},
			SubTests: []SubTestDef{
				{ID: "skills-core", Name: "Core skills", Resources: ResourceSpec{
					Skills: []string{"debugging", "refactoring"},
				}},
				{ID: "skills-all", Name: "Every skill", Resources: ResourceSpec{
					Skills: []string{All},
				}},
			},
		},
		{
			ID:          "t2-tools",
			Name:        "Tool access",
			Description: "Bare winner plus external tools",
			DependsOn:   []string{"t0-bare"},
			SubTests: []SubTestDef{
				{ID: "tools-search", Name: "Search tools", Resources: ResourceSpec{
					Tools: []string{"code-search", "web-search"},
				}},
				{ID: "tools-all", Name: "Every tool", Resources: ResourceSpec{
					Tools: []string{All},
				}},
			},
		},
		{
			ID:          "t3-team",
			Name:        "Agent delegation",
			Description: "Bare winner plus sub-agent delegation",
			DependsOn:   []string{"t0-bare"},
			SubTests: []SubTestDef{
				{ID: "team-pair", Name: "Planner and implementer", AgentTeam: true, Resources: ResourceSpec{
					Agents: []string{"planner", "implementer"},
				}},
				{ID: "team-review", Name: "Pair plus reviewer", AgentTeam: true, Resources: ResourceSpec{
					Agents: []string{"planner", "implementer", "reviewer"},
				}},
			},
		},
		{
			ID:          "t4-combined",
			Name:        "Combined",
			Description: "Merged baselines from the skills, tools, and team branches",
			DependsOn:   []string{"t1-skills", "t2-tools", "t3-team"},
			InheritFrom: []string{"t1-skills", "t2-tools", "t3-team"},
			SubTests: []SubTestDef{
				{ID: "combined-union", Name: "Union of branch winners"},
				{ID: "combined-lean", Name: "Union minus delegation", Resources: ResourceSpec{
					Instructions: "Prefer doing the work directly; delegate only builds and test runs.",
				}},
			},
		},
	})
	if err != nil {
		panic(err)
	}
	return r
}
