// Package usage parses the JSONL token-usage logs that executors leave
// behind in each run directory and turns them into token totals and cost.
package usage

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/signalnine/gauntlet/internal/pricing"
)

type Record struct {
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// ParseLogs reads a JSONL usage log, skipping malformed lines and records
// without a model. A missing file is zero usage, not an error: not every
// executor reports usage.
func ParseLogs(logPath string) ([]Record, error) {
	data, err := os.ReadFile(logPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading usage log: %w", err)
	}
	var records []Record
	for _, line := range splitLines(data) {
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if rec.Model != "" {
			records = append(records, rec)
		}
	}
	return records, nil
}

func Totals(records []Record) (inputTokens, outputTokens int) {
	for _, r := range records {
		inputTokens += r.InputTokens
		outputTokens += r.OutputTokens
	}
	return
}

func EstimateCost(records []Record, table *pricing.Table) float64 {
	if table == nil {
		return 0
	}
	var total float64
	for _, r := range records {
		total += table.Cost(r.Provider, r.Model, r.InputTokens, r.OutputTokens)
	}
	return total
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i])
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}
