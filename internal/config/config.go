package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the immutable description of one experiment. It is created once
// from user input and hashed for resume validation; a checkpoint written under
// one hash refuses to resume under another.
type Config struct {
	ExperimentID string      `yaml:"experiment_id" json:"experiment_id"`
	Repo         Repo        `yaml:"repo" json:"repo"`
	TaskFile     string      `yaml:"task_file" json:"task_file"`
	Tiers        []string    `yaml:"tiers" json:"tiers"`
	RunsPerSub   int         `yaml:"runs_per_subtest" json:"runs_per_subtest"`
	MaxSubTests  int         `yaml:"max_subtests_per_tier" json:"max_subtests_per_tier"`
	SkipTeamSubs bool        `yaml:"skip_team_subtests" json:"skip_team_subtests"`
	Judge        Judge       `yaml:"judge" json:"judge"`
	Parallelism  Parallelism `yaml:"parallelism" json:"parallelism"`
	Executor     Executor    `yaml:"executor" json:"executor"`
	Results      Results     `yaml:"results" json:"results"`
	TierFile     string      `yaml:"tier_file" json:"tier_file"`
	PricingFile  string      `yaml:"pricing_file" json:"pricing_file"`

	// Early-stop markers for partial/debug runs. Empty means run to COMPLETE.
	UntilExperimentState string `yaml:"until_experiment_state" json:"until_experiment_state"`
	UntilTierState       string `yaml:"until_tier_state" json:"until_tier_state"`
}

type Repo struct {
	URL    string `yaml:"url" json:"url"`
	Commit string `yaml:"commit" json:"commit"`
}

type Judge struct {
	Models       []string `yaml:"models" json:"models"`
	TieThreshold float64  `yaml:"tie_threshold" json:"tie_threshold"`
}

// Parallelism bounds concurrent operations per memory class. Heavy agent and
// judge subprocesses must not run at the same concurrency as cheap file I/O.
type Parallelism struct {
	Low    int `yaml:"low" json:"low"`
	Medium int `yaml:"medium" json:"medium"`
	High   int `yaml:"high" json:"high"`
}

type Executor struct {
	RunCmd         string            `yaml:"run_cmd" json:"run_cmd"`
	JudgeCmd       string            `yaml:"judge_cmd" json:"judge_cmd"`
	TimeoutMinutes int               `yaml:"timeout_minutes" json:"timeout_minutes"`
	Env            map[string]string `yaml:"env" json:"env"`
}

type Results struct {
	Dir string `yaml:"dir" json:"dir"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.ExperimentID == "" {
		return fmt.Errorf("experiment_id is required")
	}
	if cfg.Repo.URL == "" {
		return fmt.Errorf("repo.url is required")
	}
	if cfg.Repo.Commit == "" {
		return fmt.Errorf("repo.commit is required")
	}
	if cfg.TaskFile == "" {
		return fmt.Errorf("task_file is required")
	}
	if len(cfg.Tiers) == 0 {
		return fmt.Errorf("no tiers selected")
	}
	seen := map[string]bool{}
	for _, id := range cfg.Tiers {
		if seen[id] {
			return fmt.Errorf("tier %q listed twice", id)
		}
		seen[id] = true
	}
	if cfg.RunsPerSub < 1 {
		cfg.RunsPerSub = 3
	}
	if cfg.MaxSubTests < 1 {
		cfg.MaxSubTests = 8
	}
	if cfg.Executor.RunCmd == "" {
		return fmt.Errorf("executor.run_cmd is required")
	}
	if cfg.Executor.JudgeCmd == "" {
		return fmt.Errorf("executor.judge_cmd is required")
	}
	if cfg.Executor.TimeoutMinutes < 1 {
		cfg.Executor.TimeoutMinutes = 30
	}
	if cfg.Judge.TieThreshold <= 0 {
		cfg.Judge.TieThreshold = 0.05
	}
	if len(cfg.Judge.Models) == 0 {
		cfg.Judge.Models = []string{"claude-sonnet-4"}
	}
	if cfg.Parallelism.Low < 1 {
		cfg.Parallelism.Low = 16
	}
	if cfg.Parallelism.Medium < 1 {
		cfg.Parallelism.Medium = 4
	}
	if cfg.Parallelism.High < 1 {
		cfg.Parallelism.High = 2
	}
	if cfg.Results.Dir == "" {
		cfg.Results.Dir = "results"
	}
	return nil
}

// Hash returns a hex digest of the canonical JSON form of the config.
// Checkpoints store it so a resume against an edited config fails fast
// instead of silently mixing two experiment definitions.
func (c *Config) Hash() string {
	data, err := json.Marshal(c)
	if err != nil {
		// Config is plain data; marshal cannot fail on it.
		panic(fmt.Sprintf("marshaling config: %v", err))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
