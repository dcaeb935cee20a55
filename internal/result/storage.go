package result

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Directory layout per experiment root:
//
//	<root>/checkpoint.json
//	<root>/gauntlet.pid
//	<root>/result.json
//	<root>/tier_comparison.json
//	<root>/<tier>/result.json
//	<root>/<tier>/best_subtest.json
//	<root>/<tier>/baseline.json
//	<root>/<tier>/<subtest>/config_manifest.json
//	<root>/<tier>/<subtest>/run-<n>/

func TierDir(experimentDir, tierID string) string {
	return filepath.Join(experimentDir, tierID)
}

func SubTestDir(experimentDir, tierID, subTestID string) string {
	return filepath.Join(experimentDir, tierID, subTestID)
}

func RunDir(experimentDir, tierID, subTestID string, runNum int) string {
	return filepath.Join(SubTestDir(experimentDir, tierID, subTestID), fmt.Sprintf("run-%d", runNum))
}

// WriteJSON writes v as indented JSON via write-temp-then-rename so a crash
// never leaves a partially written file behind.
func WriteJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", filepath.Base(path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func WriteTierResult(experimentDir string, tr *TierResult) error {
	return WriteJSON(filepath.Join(TierDir(experimentDir, tr.TierID), "result.json"), tr)
}

func ReadTierResult(experimentDir, tierID string) (*TierResult, error) {
	var tr TierResult
	if err := ReadJSON(filepath.Join(TierDir(experimentDir, tierID), "result.json"), &tr); err != nil {
		return nil, err
	}
	return &tr, nil
}

func WriteRunOutcome(experimentDir, tierID, subTestID string, out *RunOutcome) error {
	dir := RunDir(experimentDir, tierID, subTestID, out.RunNum)
	return WriteJSON(filepath.Join(dir, "outcome.json"), out)
}

// ReadRunOutcomes loads every persisted run outcome for one sub-test.
func ReadRunOutcomes(experimentDir, tierID, subTestID string) ([]RunOutcome, error) {
	dir := SubTestDir(experimentDir, tierID, subTestID)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	var outs []RunOutcome
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name(), "outcome.json")
		var out RunOutcome
		if err := ReadJSON(path, &out); err != nil {
			continue
		}
		outs = append(outs, out)
	}
	return outs, nil
}

// WritePIDFile records the owning process id at the experiment root for
// external status-monitoring tooling.
func WritePIDFile(experimentDir string) error {
	path := filepath.Join(experimentDir, "gauntlet.pid")
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}

func RemovePIDFile(experimentDir string) {
	os.Remove(filepath.Join(experimentDir, "gauntlet.pid"))
}
