package engine

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rendis/assertflow/internal/store"
	"github.com/rendis/assertflow/pkg/schema"
)

// TransitionHook is called before or after a state transition.
type TransitionHook func(from, to string) error

// EventAppender is satisfied by the Store and EventLog; used by FSMs to emit events on transitions.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

// nopAppender discards events; used when no run history is configured.
type nopAppender struct{}

func (nopAppender) AppendEvent(context.Context, *store.Event) error { return nil }

// phaseIdle is the phase of a run that has not entered its first step yet.
const phaseIdle schema.Phase = ""

// --- Run FSM ---

type runHookKey struct {
	from, to schema.RunStatus
}

// RunFSM manages run lifecycle state transitions.
type RunFSM struct {
	mu       sync.Mutex
	appender EventAppender
	before   map[runHookKey][]TransitionHook
	after    map[runHookKey][]TransitionHook
}

// NewRunFSM creates a new RunFSM that emits events via the given appender.
func NewRunFSM(appender EventAppender) *RunFSM {
	if appender == nil {
		appender = nopAppender{}
	}
	return &RunFSM{
		appender: appender,
		before:   make(map[runHookKey][]TransitionHook),
		after:    make(map[runHookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a run transition.
func (f *RunFSM) OnBefore(from, to schema.RunStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := runHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a run transition.
func (f *RunFSM) OnAfter(from, to schema.RunStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := runHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates and executes a run state transition and emits the
// corresponding event with payload attached.
func (f *RunFSM) Transition(ctx context.Context, runID string, from, to schema.RunStatus, payload json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !isValidRunTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid run transition: %s -> %s", from, to).
			WithDetails(map[string]any{"run_id": runID, "from": string(from), "to": string(to)})
	}

	key := runHookKey{from, to}

	for _, hook := range f.before[key] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	if eventType := runEventType(to); eventType != "" {
		event := &store.Event{
			RunID:     runID,
			StepIndex: -1,
			Type:      eventType,
			Payload:   payload,
		}
		if err := f.appender.AppendEvent(ctx, event); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "emit run event: %s", err.Error()).WithCause(err)
		}
	}

	for _, hook := range f.after[key] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	return nil
}

func isValidRunTransition(from, to schema.RunStatus) bool {
	allowed, ok := ValidRunTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

func runEventType(to schema.RunStatus) string {
	switch to {
	case schema.RunStatusRunning:
		return schema.EventRunStarted
	case schema.RunStatusCompleted:
		return schema.EventRunCompleted
	case schema.RunStatusAborted:
		return schema.EventRunAborted
	default:
		return ""
	}
}

// --- Phase FSM ---

type phaseHookKey struct {
	from, to schema.Phase
}

// PhaseFSM validates the per-step phase sequence of a run and emits a
// phase_started event on every transition.
type PhaseFSM struct {
	mu       sync.Mutex
	appender EventAppender
	before   map[phaseHookKey][]TransitionHook
	after    map[phaseHookKey][]TransitionHook
}

// NewPhaseFSM creates a new PhaseFSM that emits events via the given appender.
func NewPhaseFSM(appender EventAppender) *PhaseFSM {
	if appender == nil {
		appender = nopAppender{}
	}
	return &PhaseFSM{
		appender: appender,
		before:   make(map[phaseHookKey][]TransitionHook),
		after:    make(map[phaseHookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a phase transition.
func (f *PhaseFSM) OnBefore(from, to schema.Phase, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := phaseHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a phase transition.
func (f *PhaseFSM) OnAfter(from, to schema.Phase, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := phaseHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates and executes a phase transition of the step at stepIndex.
func (f *PhaseFSM) Transition(ctx context.Context, runID string, stepIndex int, stepID string, from, to schema.Phase) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !isValidPhaseTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid phase transition: %s -> %s", phaseName(from), phaseName(to)).
			WithStep(stepID).
			WithDetails(map[string]any{"run_id": runID, "step_index": stepIndex, "from": string(from), "to": string(to)})
	}

	key := phaseHookKey{from, to}

	for _, hook := range f.before[key] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	event := &store.Event{
		RunID:     runID,
		StepID:    stepID,
		StepIndex: stepIndex,
		Type:      schema.EventPhaseStarted,
		Phase:     to,
	}
	if err := f.appender.AppendEvent(ctx, event); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "emit phase event: %s", err.Error()).
			WithStep(stepID).WithCause(err)
	}

	for _, hook := range f.after[key] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	return nil
}

func isValidPhaseTransition(from, to schema.Phase) bool {
	allowed, ok := ValidPhaseTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

func phaseName(p schema.Phase) string {
	if p == phaseIdle {
		return "idle"
	}
	return string(p)
}

// --- Transition tables ---

// ValidRunTransitions defines the allowed state transitions for runs.
var ValidRunTransitions = map[schema.RunStatus][]schema.RunStatus{
	schema.RunStatusNotStarted: {schema.RunStatusRunning},
	schema.RunStatusRunning:    {schema.RunStatusCompleted, schema.RunStatusAborted},
	schema.RunStatusCompleted:  {},
	schema.RunStatusAborted:    {},
}

// ValidPhaseTransitions defines the per-step phase order. Advance leads into
// the next step's CheckBefore.
var ValidPhaseTransitions = map[schema.Phase][]schema.Phase{
	phaseIdle:               {schema.PhaseCheckBefore},
	schema.PhaseCheckBefore: {schema.PhaseExecute},
	schema.PhaseExecute:     {schema.PhaseCheckAfter},
	schema.PhaseCheckAfter:  {schema.PhaseAdvance},
	schema.PhaseAdvance:     {schema.PhaseCheckBefore},
}
