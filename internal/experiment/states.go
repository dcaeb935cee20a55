package experiment

import "github.com/signalnine/gauntlet/internal/fsm"

// Experiment-level states, in execution order. COMPLETE is terminal.
const (
	ExpInitializing     fsm.State = "INITIALIZING"
	ExpDirCreated       fsm.State = "DIR_CREATED"
	ExpRepoCloned       fsm.State = "REPO_CLONED"
	ExpTiersRunning     fsm.State = "TIERS_RUNNING"
	ExpTiersComplete    fsm.State = "TIERS_COMPLETE"
	ExpReportsGenerated fsm.State = "REPORTS_GENERATED"
	ExpComplete         fsm.State = "COMPLETE"
)

// Tier-level states, in execution order. COMPLETE is terminal.
const (
	TierPending          fsm.State = "PENDING"
	TierConfigLoaded     fsm.State = "CONFIG_LOADED"
	TierSubTestsRunning  fsm.State = "SUBTESTS_RUNNING"
	TierSubTestsComplete fsm.State = "SUBTESTS_COMPLETE"
	TierBestSelected     fsm.State = "BEST_SELECTED"
	TierReportsGenerated fsm.State = "REPORTS_GENERATED"
	TierComplete         fsm.State = "COMPLETE"
)

// ExperimentStates returns the ordered experiment enumeration.
func ExperimentStates() []fsm.State {
	return []fsm.State{
		ExpInitializing, ExpDirCreated, ExpRepoCloned, ExpTiersRunning,
		ExpTiersComplete, ExpReportsGenerated, ExpComplete,
	}
}

// TierStates returns the ordered tier enumeration.
func TierStates() []fsm.State {
	return []fsm.State{
		TierPending, TierConfigLoaded, TierSubTestsRunning, TierSubTestsComplete,
		TierBestSelected, TierReportsGenerated, TierComplete,
	}
}
