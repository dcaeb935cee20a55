package tiers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// SubTestConfig is the effective configuration of one sub-test after baseline
// inheritance. Hash covers the composed content for reproducibility auditing.
type SubTestConfig struct {
	TierID       string       `json:"tier_id"`
	SubTestID    string       `json:"subtest_id"`
	Name         string       `json:"name"`
	AgentTeam    bool         `json:"agent_team,omitempty"`
	Resources    ResourceSpec `json:"resources"`
	BaselineFrom []string     `json:"baseline_from,omitempty"`
	Hash         string       `json:"hash"`
}

// Manifest is the per-sub-test config_manifest.json payload.
type Manifest struct {
	TierID       string       `json:"tier_id"`
	SubTestID    string       `json:"subtest_id"`
	Hash         string       `json:"hash"`
	Resources    ResourceSpec `json:"resources"`
	BaselineFrom []string     `json:"baseline_from,omitempty"`
	ComposedAt   time.Time    `json:"composed_at"`
}

func (c SubTestConfig) Manifest() Manifest {
	return Manifest{
		TierID:       c.TierID,
		SubTestID:    c.SubTestID,
		Hash:         c.Hash,
		Resources:    c.Resources,
		BaselineFrom: c.BaselineFrom,
		ComposedAt:   time.Now().UTC(),
	}
}

// Composer turns tier definitions plus inherited baselines into effective
// sub-test configurations.
type Composer struct {
	reg         *Registry
	maxSubTests int
	skipTeam    bool
}

func NewComposer(reg *Registry, maxSubTests int, skipTeam bool) *Composer {
	if maxSubTests < 1 {
		maxSubTests = 1
	}
	return &Composer{reg: reg, maxSubTests: maxSubTests, skipTeam: skipTeam}
}

// Compose builds each sub-test's effective configuration: from scratch when
// no baseline applies, by extending a single inherited baseline, or by
// merging the specs of multiple contributing baselines. The sub-test's own
// spec is merged last so its instruction text wins.
func (c *Composer) Compose(tierID string, baselines []Baseline) ([]SubTestConfig, error) {
	def, err := c.reg.Get(tierID)
	if err != nil {
		return nil, err
	}

	specs := make([]ResourceSpec, 0, len(baselines)+1)
	from := make([]string, 0, len(baselines))
	for _, b := range baselines {
		specs = append(specs, b.Resources)
		from = append(from, b.TierID)
	}

	var out []SubTestConfig
	for _, st := range def.SubTests {
		if c.skipTeam && st.AgentTeam {
			continue
		}
		if len(out) >= c.maxSubTests {
			break
		}
		cfg := SubTestConfig{
			TierID:       tierID,
			SubTestID:    st.ID,
			Name:         st.Name,
			AgentTeam:    st.AgentTeam,
			Resources:    Merge(append(append([]ResourceSpec(nil), specs...), st.Resources)...),
			BaselineFrom: append([]string(nil), from...),
		}
		cfg.Hash = contentHash(cfg)
		out = append(out, cfg)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("tier %q: no runnable subtests after filtering", tierID)
	}
	return out, nil
}

func contentHash(cfg SubTestConfig) string {
	cfg.Hash = ""
	data, err := json.Marshal(cfg)
	if err != nil {
		panic(fmt.Sprintf("marshaling subtest config: %v", err))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
