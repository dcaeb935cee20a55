package usage_test

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/signalnine/gauntlet/internal/pricing"
	"github.com/signalnine/gauntlet/internal/usage"
)

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "usage.jsonl")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing log: %v", err)
	}
	return path
}

func TestParseLogs(t *testing.T) {
	log := `{"provider":"anthropic","model":"claude-sonnet-4","input_tokens":1000,"output_tokens":200}
not json at all
{"provider":"openai","input_tokens":50,"output_tokens":10}
{"provider":"openai","model":"gpt-4o","input_tokens":400,"output_tokens":100}
`
	records, err := usage.ParseLogs(writeLog(t, log))
	if err != nil {
		t.Fatalf("ParseLogs: %v", err)
	}
	// The malformed line and the model-less record are skipped.
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	in, out := usage.Totals(records)
	if in != 1400 || out != 300 {
		t.Errorf("totals = %d/%d, want 1400/300", in, out)
	}
}

func TestParseLogsMissingFile(t *testing.T) {
	records, err := usage.ParseLogs(filepath.Join(t.TempDir(), "absent.jsonl"))
	if err != nil {
		t.Fatalf("missing usage log is not an error: %v", err)
	}
	if records != nil {
		t.Errorf("expected nil records, got %v", records)
	}
}

func TestParseLogsNoTrailingNewline(t *testing.T) {
	records, err := usage.ParseLogs(writeLog(t, `{"model":"m","input_tokens":1,"output_tokens":2}`))
	if err != nil {
		t.Fatalf("ParseLogs: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("expected 1 record, got %d", len(records))
	}
}

func TestEstimateCost(t *testing.T) {
	records := []usage.Record{
		{Provider: "anthropic", Model: "claude-sonnet-4", InputTokens: 1000, OutputTokens: 1000},
		{Provider: "unknown", Model: "mystery", InputTokens: 99999, OutputTokens: 99999},
	}
	table := pricing.Default()
	got := usage.EstimateCost(records, table)
	// 1K in at 0.003 plus 1K out at 0.015; the unknown provider prices to 0.
	if math.Abs(got-0.018) > 1e-9 {
		t.Errorf("cost = %v, want 0.018", got)
	}
	if usage.EstimateCost(records, nil) != 0 {
		t.Error("nil table must cost 0")
	}
}
