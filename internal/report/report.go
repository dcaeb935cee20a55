package report

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/signalnine/gauntlet/internal/result"
)

// TierSummary is one row of the tier comparison.
type TierSummary struct {
	TierID      string  `json:"tier_id"`
	WinnerID    string  `json:"winner_id"`
	WinnerScore float64 `json:"winner_score"`
	PassRate    float64 `json:"pass_rate"`
	// CostOfPass is -1 when the winner never passed; JSON cannot carry +Inf.
	CostOfPass      float64  `json:"cost_of_pass"`
	TotalCostUSD    float64  `json:"total_cost_usd"`
	TotalTokens     int      `json:"total_tokens"`
	DurationS       int      `json:"duration_s"`
	SubTests        int      `json:"subtests"`
	TiebreakerFired bool     `json:"tiebreaker_fired"`
	BaselineFrom    []string `json:"baseline_from,omitempty"`
}

// ExperimentSummary is the experiment-root result.json payload.
type ExperimentSummary struct {
	ExperimentID string        `json:"experiment_id"`
	GeneratedAt  time.Time     `json:"generated_at"`
	Tiers        []TierSummary `json:"tiers"`
	BestTier     string        `json:"best_tier,omitempty"`
	TotalCostUSD float64       `json:"total_cost_usd"`
	TotalTokens  int           `json:"total_tokens"`
	DurationS    int           `json:"duration_s"`
}

// WriteFiles aggregates every tier result under the experiment root into
// result.json and tier_comparison.json.
func WriteFiles(experimentDir, experimentID string) error {
	summary, err := build(experimentDir, experimentID)
	if err != nil {
		return err
	}
	if err := result.WriteJSON(filepath.Join(experimentDir, "tier_comparison.json"), summary.Tiers); err != nil {
		return err
	}
	return result.WriteJSON(filepath.Join(experimentDir, "result.json"), summary)
}

// Generate renders the tier comparison as a table, markdown, or json.
func Generate(experimentDir, format string, w io.Writer) error {
	summary, err := build(experimentDir, "")
	if err != nil {
		return err
	}
	switch format {
	case "markdown":
		return writeMarkdown(summary.Tiers, w)
	case "json":
		return writeJSON(summary.Tiers, w)
	default:
		return writeTable(summary.Tiers, w)
	}
}

func build(experimentDir, experimentID string) (*ExperimentSummary, error) {
	tierResults, err := collectTierResults(experimentDir)
	if err != nil {
		return nil, err
	}
	summary := &ExperimentSummary{
		ExperimentID: experimentID,
		GeneratedAt:  time.Now().UTC(),
	}
	bestCost := math.Inf(1)
	for _, tr := range tierResults {
		row := TierSummary{
			TierID:          tr.TierID,
			WinnerID:        tr.WinnerID,
			WinnerScore:     tr.WinnerScore,
			TotalCostUSD:    tr.TotalCostUSD,
			TotalTokens:     tr.TotalTokens,
			DurationS:       tr.DurationS,
			SubTests:        len(tr.SubTests),
			TiebreakerFired: tr.TiebreakerFired,
			BaselineFrom:    tr.BaselineFrom,
			CostOfPass:      -1,
		}
		if winner := tr.Winner(); winner != nil {
			row.PassRate = winner.PassRate
			if cop := winner.CostOfPass(); !math.IsInf(cop, 1) {
				row.CostOfPass = cop
				if cop < bestCost {
					bestCost = cop
					summary.BestTier = tr.TierID
				}
			}
		}
		summary.Tiers = append(summary.Tiers, row)
		summary.TotalCostUSD += tr.TotalCostUSD
		summary.TotalTokens += tr.TotalTokens
		summary.DurationS += tr.DurationS
	}
	sort.Slice(summary.Tiers, func(i, j int) bool {
		return summary.Tiers[i].TierID < summary.Tiers[j].TierID
	})
	return summary, nil
}

func collectTierResults(experimentDir string) ([]*result.TierResult, error) {
	entries, err := os.ReadDir(experimentDir)
	if err != nil {
		return nil, fmt.Errorf("reading experiment dir: %w", err)
	}
	var out []*result.TierResult
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		tr, err := result.ReadTierResult(experimentDir, e.Name())
		if err != nil {
			continue
		}
		out = append(out, tr)
	}
	return out, nil
}

func formatCostOfPass(v float64) string {
	if v < 0 {
		return "-"
	}
	return fmt.Sprintf("$%.4f", v)
}

func writeTable(rows []TierSummary, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIER\tWINNER\tSCORE\tPASS RATE\tCOST/PASS\tTOKENS\tTIEBREAK")
	fmt.Fprintln(tw, strings.Repeat("-", 80))
	for _, r := range rows {
		tiebreak := ""
		if r.TiebreakerFired {
			tiebreak = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%.3f\t%.0f%%\t%s\t%d\t%s\n",
			r.TierID, r.WinnerID, r.WinnerScore, r.PassRate*100,
			formatCostOfPass(r.CostOfPass), r.TotalTokens, tiebreak)
	}
	return tw.Flush()
}

func writeMarkdown(rows []TierSummary, w io.Writer) error {
	fmt.Fprintln(w, "| Tier | Winner | Score | Pass Rate | Cost/Pass | Tokens | Tiebreak |")
	fmt.Fprintln(w, "|---|---|---|---|---|---|---|")
	for _, r := range rows {
		tiebreak := "no"
		if r.TiebreakerFired {
			tiebreak = "yes"
		}
		fmt.Fprintf(w, "| %s | %s | %.3f | %.0f%% | %s | %d | %s |\n",
			r.TierID, r.WinnerID, r.WinnerScore, r.PassRate*100,
			formatCostOfPass(r.CostOfPass), r.TotalTokens, tiebreak)
	}
	return nil
}

func writeJSON(rows []TierSummary, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}
