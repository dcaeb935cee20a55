// Package judge picks a winning sub-test from noisy repeated-run aggregates.
// Selection is deterministic: identical inputs always produce the same
// winner, including through the tie-break.
package judge

import (
	"fmt"
	"sort"
)

// Candidate is one sub-test's aggregated results for a single tier.
type Candidate struct {
	SubTestID   string  `json:"subtest_id"`
	MedianScore float64 `json:"median_score"`
	PassRate    float64 `json:"pass_rate"`
	Consistency float64 `json:"consistency"`
	TotalTokens int     `json:"total_tokens"`
}

// Vote is one candidate's audit record within a selection.
type Vote struct {
	Candidate
	Rank     int    `json:"rank"`
	Selected bool   `json:"selected"`
	Reason   string `json:"reason"`
}

// Selection records the winner and enough context to audit why it won.
type Selection struct {
	WinnerID         string  `json:"winner_id"`
	WinnerScore      float64 `json:"winner_score"`
	Margin           float64 `json:"margin"`
	TiebreakerNeeded bool    `json:"tiebreaker_needed"`
	TiebreakReason   string  `json:"tiebreak_reason,omitempty"`
	Votes            []Vote  `json:"votes"`
}

// Select ranks candidates by descending median score. A lone candidate wins
// trivially. When the top two scores differ by less than tieThreshold the
// winner is the one with lower total token usage: cost-efficiency beats a
// statistically indistinguishable score edge.
func Select(candidates []Candidate, tieThreshold float64) (*Selection, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no candidates to select from")
	}

	ranked := append([]Candidate(nil), candidates...)
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].MedianScore != ranked[j].MedianScore {
			return ranked[i].MedianScore > ranked[j].MedianScore
		}
		if ranked[i].TotalTokens != ranked[j].TotalTokens {
			return ranked[i].TotalTokens < ranked[j].TotalTokens
		}
		return ranked[i].SubTestID < ranked[j].SubTestID
	})

	sel := &Selection{}
	if len(ranked) == 1 {
		sel.WinnerID = ranked[0].SubTestID
		sel.WinnerScore = ranked[0].MedianScore
		sel.Votes = []Vote{{Candidate: ranked[0], Rank: 1, Selected: true, Reason: "only candidate"}}
		return sel, nil
	}

	top, second := ranked[0], ranked[1]
	sel.Margin = top.MedianScore - second.MedianScore
	winnerIdx := 0
	if sel.Margin < tieThreshold {
		sel.TiebreakerNeeded = true
		if second.TotalTokens < top.TotalTokens {
			winnerIdx = 1
			sel.TiebreakReason = fmt.Sprintf(
				"scores within %.3f of each other; %s wins on lower token usage (%d vs %d)",
				tieThreshold, second.SubTestID, second.TotalTokens, top.TotalTokens)
		} else {
			sel.TiebreakReason = fmt.Sprintf(
				"scores within %.3f of each other; %s keeps the top spot on token usage (%d vs %d)",
				tieThreshold, top.SubTestID, top.TotalTokens, second.TotalTokens)
		}
	}

	winner := ranked[winnerIdx]
	sel.WinnerID = winner.SubTestID
	sel.WinnerScore = winner.MedianScore

	for i, c := range ranked {
		v := Vote{Candidate: c, Rank: i + 1, Selected: i == winnerIdx}
		switch {
		case v.Selected && sel.TiebreakerNeeded:
			v.Reason = sel.TiebreakReason
		case v.Selected:
			v.Reason = fmt.Sprintf("highest median score by %.3f", sel.Margin)
		default:
			if diff := winner.MedianScore - c.MedianScore; diff < 0 {
				// The tie-break put a lower scorer on top.
				v.Reason = fmt.Sprintf("outscored winner by %.3f but lost the tie-break on token usage (%d vs %d)",
					-diff, c.TotalTokens, winner.TotalTokens)
			} else {
				v.Reason = fmt.Sprintf("median score %.3f behind winner", diff)
			}
		}
		sel.Votes = append(sel.Votes, v)
	}
	return sel, nil
}
