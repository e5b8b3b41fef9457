package schema

// Event type constants for the run history log.
const (
	EventRunStarted   = "run_started"
	EventRunCompleted = "run_completed"
	EventRunAborted   = "run_aborted"

	EventPhaseStarted = "phase_started"

	EventAssertionViolated = "assertion_violated"
	EventStepFailed        = "step_failed"
	EventRunCancelled      = "run_cancelled"
)

// RunStatus represents the lifecycle state of a workflow run.
type RunStatus string

const (
	RunStatusNotStarted RunStatus = "not_started"
	RunStatusRunning    RunStatus = "running"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusAborted    RunStatus = "aborted"
)

// Phase is one of the ordered per-step phases of a running workflow.
type Phase string

const (
	PhaseCheckBefore Phase = "before"
	PhaseExecute     Phase = "execute"
	PhaseCheckAfter  Phase = "after"
	PhaseAdvance     Phase = "advance"
)

// Side selects the before or after expression of an assertion.
type Side string

const (
	SideBefore Side = "before"
	SideAfter  Side = "after"
)

// Phase returns the check phase that evaluates this side.
func (s Side) Phase() Phase {
	if s == SideAfter {
		return PhaseCheckAfter
	}
	return PhaseCheckBefore
}
