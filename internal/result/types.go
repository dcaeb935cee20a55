package result

import (
	"math"
	"sort"
)

// RunOutcome is one completed run of one sub-test.
type RunOutcome struct {
	RunNum       int     `json:"run_num"`
	Passed       bool    `json:"passed"`
	Score        float64 `json:"score"`
	CostUSD      float64 `json:"cost_usd"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	DurationS    int     `json:"duration_s"`
	ExitReason   string  `json:"exit_reason"`
}

// SubTestResult aggregates every run of one sub-test within its owning tier.
type SubTestResult struct {
	SubTestID       string       `json:"subtest_id"`
	TierID          string       `json:"tier_id"`
	Runs            []RunOutcome `json:"runs"`
	PassRate        float64      `json:"pass_rate"`
	MeanCostUSD     float64      `json:"mean_cost_usd"`
	TotalCostUSD    float64      `json:"total_cost_usd"`
	TotalTokens     int          `json:"total_tokens"`
	MedianScore     float64      `json:"median_score"`
	Consistency     float64      `json:"consistency"`
	Selected        bool         `json:"selected"`
	SelectionReason string       `json:"selection_reason,omitempty"`
}

// TierResult summarizes one tier: every sub-test, the winner, and what it
// inherited. Each SubTestResult under it belongs to this tier.
type TierResult struct {
	TierID          string                    `json:"tier_id"`
	SubTests        map[string]*SubTestResult `json:"subtests"`
	WinnerID        string                    `json:"winner_id"`
	WinnerScore     float64                   `json:"winner_score"`
	BaselineFrom    []string                  `json:"baseline_from,omitempty"`
	TiebreakerFired bool                      `json:"tiebreaker_fired"`
	TotalCostUSD    float64                   `json:"total_cost_usd"`
	TotalTokens     int                       `json:"total_tokens"`
	DurationS       int                       `json:"duration_s"`
}

// Aggregate recomputes the derived fields from Runs.
func (r *SubTestResult) Aggregate() {
	if len(r.Runs) == 0 {
		return
	}
	sort.Slice(r.Runs, func(i, j int) bool { return r.Runs[i].RunNum < r.Runs[j].RunNum })

	var passed int
	var scores []float64
	r.TotalCostUSD = 0
	r.TotalTokens = 0
	for _, run := range r.Runs {
		if run.Passed {
			passed++
		}
		scores = append(scores, run.Score)
		r.TotalCostUSD += run.CostUSD
		r.TotalTokens += run.InputTokens + run.OutputTokens
	}
	n := float64(len(r.Runs))
	r.PassRate = float64(passed) / n
	r.MeanCostUSD = r.TotalCostUSD / n
	r.MedianScore = median(scores)
	r.Consistency = consistency(scores)
}

// CostOfPass is the efficiency metric used to rank sub-tests and tiers: mean
// cost divided by pass rate. A zero pass rate yields +Inf so the candidate is
// never forwarded as a baseline.
func (r *SubTestResult) CostOfPass() float64 {
	if r.PassRate == 0 {
		return math.Inf(1)
	}
	return r.MeanCostUSD / r.PassRate
}

// Winner returns the winning sub-test result, or nil when none was selected.
func (t *TierResult) Winner() *SubTestResult {
	if t.WinnerID == "" {
		return nil
	}
	return t.SubTests[t.WinnerID]
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// consistency maps score variance into (0, 1]: 1 means every run scored the
// same, trending to 0 as the spread grows.
func consistency(scores []float64) float64 {
	if len(scores) < 2 {
		return 1
	}
	var mean float64
	for _, s := range scores {
		mean += s
	}
	mean /= float64(len(scores))
	var variance float64
	for _, s := range scores {
		variance += (s - mean) * (s - mean)
	}
	variance /= float64(len(scores))
	return 1 / (1 + math.Sqrt(variance))
}
