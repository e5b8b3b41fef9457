package engine

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rendis/assertflow/internal/actions"
	"github.com/rendis/assertflow/internal/assertion"
	"github.com/rendis/assertflow/internal/execctx"
	"github.com/rendis/assertflow/internal/expressions"
	"github.com/rendis/assertflow/internal/logging"
	"github.com/rendis/assertflow/internal/store"
	"github.com/rendis/assertflow/pkg/schema"
)

// RunRecorder persists one record per run. Satisfied by store.Store.
type RunRecorder interface {
	CreateRun(ctx context.Context, run *store.Run) error
	UpdateRun(ctx context.Context, id string, update store.RunUpdate) error
}

// Config holds the optional collaborators of an Engine.
type Config struct {
	Appender       EventAppender  // run and phase events (nil = not recorded)
	Recorder       RunRecorder    // run records (nil = not recorded)
	Logger         *zap.Logger    // nil = no logging
	DefaultDialect schema.Dialect // dialect for workflows that set none (empty = native)
}

// Engine drives workflow runs through the per-step phases
// CheckBefore, Execute, CheckAfter and Advance.
//
// An Engine holds no per-run state and may run any number of workflows
// concurrently; each run is confined to the goroutine that drives it.
type Engine struct {
	executor       actions.StepExecutor
	dialects       *expressions.Dialects
	runFSM         *RunFSM
	phaseFSM       *PhaseFSM
	appender       EventAppender
	recorder       RunRecorder
	logger         *zap.Logger
	defaultDialect schema.Dialect
}

// New creates an Engine that executes steps with executor and evaluates
// assertions with the engines registered in dialects.
func New(executor actions.StepExecutor, dialects *expressions.Dialects, cfg Config) *Engine {
	appender := cfg.Appender
	if appender == nil {
		appender = nopAppender{}
	}
	return &Engine{
		executor:       executor,
		dialects:       dialects,
		runFSM:         NewRunFSM(appender),
		phaseFSM:       NewPhaseFSM(appender),
		appender:       appender,
		recorder:       cfg.Recorder,
		logger:         logging.OrNop(cfg.Logger),
		defaultDialect: cfg.DefaultDialect,
	}
}

// RunFSM exposes the run state machine so callers can attach hooks.
func (e *Engine) RunFSM() *RunFSM { return e.runFSM }

// PhaseFSM exposes the phase state machine so callers can attach hooks.
func (e *Engine) PhaseFSM() *PhaseFSM { return e.phaseFSM }

// run is the mutable state of one in-flight run.
type run struct {
	id        string
	wf        *schema.WorkflowDefinition
	checker   *assertion.Checker
	start     int
	vars      execctx.Context
	status    schema.RunStatus
	phase     schema.Phase
	trace     []schema.PhaseRecord
	startedAt time.Time
	log       *zap.Logger
}

// Run executes wf from its first step. The initial context is layered over
// the workflow's default vars. Cancelling ctx cancels the run at the next
// phase boundary. The error is non-nil only for invalid input; every
// accepted run yields exactly one outcome.
func (e *Engine) Run(ctx context.Context, wf *schema.WorkflowDefinition, initial map[string]any) (*schema.RunOutcome, error) {
	r, err := e.prepareRun(wf, initial)
	if err != nil {
		return nil, err
	}
	return e.drive(ctx, r)
}

// RunFrom executes wf starting at stepIndex with vars as the complete
// context; workflow default vars are not applied. It is the building block
// for resuming a run after a failed step.
func (e *Engine) RunFrom(ctx context.Context, wf *schema.WorkflowDefinition, stepIndex int, vars map[string]any) (*schema.RunOutcome, error) {
	if wf == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow is nil")
	}
	if stepIndex < 0 || stepIndex > len(wf.Steps) {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"step index %d out of range [0, %d]", stepIndex, len(wf.Steps))
	}
	c, err := execctx.New(vars)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid context: %s", err.Error()).WithCause(err)
	}
	r, err := e.prepare(wf, stepIndex, c)
	if err != nil {
		return nil, err
	}
	return e.drive(ctx, r)
}

// Start begins a run in its own goroutine and returns a handle that can
// cancel it and wait for its outcome. Input errors are reported
// synchronously.
func (e *Engine) Start(ctx context.Context, wf *schema.WorkflowDefinition, initial map[string]any) (*RunHandle, error) {
	r, err := e.prepareRun(wf, initial)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	h := &RunHandle{id: r.id, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		defer cancel(nil)
		h.outcome, h.err = e.drive(runCtx, r)
	}()
	return h, nil
}

func (e *Engine) prepareRun(wf *schema.WorkflowDefinition, initial map[string]any) (*run, error) {
	if wf == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow is nil")
	}
	defaults, err := execctx.New(wf.Vars)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid workflow vars: %s", err.Error()).WithCause(err)
	}
	supplied, err := execctx.New(initial)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid initial context: %s", err.Error()).WithCause(err)
	}
	return e.prepare(wf, 0, supplied.Merge(defaults))
}

func (e *Engine) prepare(wf *schema.WorkflowDefinition, start int, vars execctx.Context) (*run, error) {
	if dup := wf.DuplicateStepID(); dup != "" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "duplicate step id %q", dup).WithStep(dup)
	}

	dialect := wf.Dialect
	if dialect == "" {
		dialect = e.defaultDialect
	}
	checker, err := assertion.ForDialect(e.dialects, dialect)
	if err != nil {
		return nil, err
	}

	return &run{
		id:      uuid.New().String(),
		wf:      wf,
		checker: checker,
		start:   start,
		vars:    vars,
		status:  schema.RunStatusNotStarted,
		phase:   phaseIdle,
	}, nil
}

// drive advances r until it reaches a terminal outcome.
func (e *Engine) drive(ctx context.Context, r *run) (*schema.RunOutcome, error) {
	ctx = logging.WithIDs(ctx, r.id, r.wf.Name)
	r.log = logging.LogWith(ctx, e.logger)
	r.startedAt = time.Now().UTC()

	// History writes must land even after the run is cancelled.
	hctx := context.WithoutCancel(ctx)

	if e.recorder != nil {
		rec := &store.Run{
			ID:        r.id,
			Workflow:  r.wf.Name,
			Status:    schema.RunStatusRunning,
			StepIndex: r.start,
			Initial:   r.vars.Map(),
			StartedAt: r.startedAt,
		}
		if err := e.recorder.CreateRun(hctx, rec); err != nil {
			r.log.Warn("record run start failed", zap.Error(err))
		}
	}

	if err := e.transitionRun(hctx, r, schema.RunStatusRunning, mustJSON(map[string]any{
		"start_index": r.start,
		"steps":       len(r.wf.Steps),
	})); err != nil {
		return nil, err
	}
	r.log.Info("run started", zap.Int("steps", len(r.wf.Steps)), zap.Int("start_index", r.start))

	for i := r.start; i < len(r.wf.Steps); i++ {
		step := &r.wf.Steps[i]

		if out, err := e.enter(ctx, r, i, step, schema.PhaseCheckBefore); out != nil || err != nil {
			return out, err
		}
		if v := r.checker.CheckBefore(step.Assertion, r.vars); !v.Satisfied {
			return e.finish(hctx, r, violation(i, step, schema.SideBefore, v))
		}

		if out, err := e.enter(ctx, r, i, step, schema.PhaseExecute); out != nil || err != nil {
			return out, err
		}
		// An in-flight action is never interrupted by run cancellation.
		next, err := e.executor.Execute(context.WithoutCancel(ctx), step, r.vars)
		if err != nil {
			return e.finish(hctx, r, &schema.RunOutcome{
				Kind:      schema.OutcomeStepFailed,
				StepIndex: i,
				StepID:    step.ID,
				Phase:     schema.PhaseExecute,
				Cause:     err,
			})
		}
		r.vars = next

		if out, err := e.enter(ctx, r, i, step, schema.PhaseCheckAfter); out != nil || err != nil {
			return out, err
		}
		if v := r.checker.CheckAfter(step.Assertion, r.vars); !v.Satisfied {
			return e.finish(hctx, r, violation(i, step, schema.SideAfter, v))
		}

		if out, err := e.enter(ctx, r, i, step, schema.PhaseAdvance); out != nil || err != nil {
			return out, err
		}
	}

	return e.finish(hctx, r, &schema.RunOutcome{Kind: schema.OutcomeCompleted, StepIndex: -1})
}

// enter crosses a phase boundary. Cancellation is observed only here: a
// cancelled run ends before phase starts.
func (e *Engine) enter(ctx context.Context, r *run, i int, step *schema.StepDefinition, phase schema.Phase) (*schema.RunOutcome, error) {
	hctx := context.WithoutCancel(ctx)

	if ctx.Err() != nil {
		return e.finish(hctx, r, &schema.RunOutcome{
			Kind:      schema.OutcomeCancelled,
			StepIndex: i,
			StepID:    step.ID,
			Phase:     phase,
			Reason:    cancelReason(ctx),
		})
	}

	if err := e.phaseFSM.Transition(hctx, r.id, i, step.ID, r.phase, phase); err != nil {
		if !isStoreError(err) {
			return nil, err
		}
		r.log.Warn("record phase failed", zap.String("phase", string(phase)), zap.Error(err))
	}
	r.phase = phase
	r.trace = append(r.trace, schema.PhaseRecord{StepIndex: i, StepID: step.ID, Phase: phase})

	r.log.Debug("phase started",
		zap.Int("step_index", i), zap.String("step_id", step.ID), zap.String("phase", string(phase)))
	return nil, nil
}

// finish completes out with the run's final state, records it and moves the
// run to its terminal status.
func (e *Engine) finish(hctx context.Context, r *run, out *schema.RunOutcome) (*schema.RunOutcome, error) {
	out.RunID = r.id
	out.Workflow = r.wf.Name
	out.Context = r.vars.Map()
	out.Trace = append([]schema.PhaseRecord(nil), r.trace...)
	out.StartedAt = r.startedAt
	out.CompletedAt = time.Now().UTC()
	if out.Cause != nil {
		out.CauseText = out.Cause.Error()
	}

	status := schema.RunStatusCompleted
	if out.Aborted() {
		status = schema.RunStatusAborted
		e.emitAbort(hctx, r, out)
	}
	if err := e.transitionRun(hctx, r, status, mustJSON(map[string]any{"kind": out.Kind})); err != nil {
		return nil, err
	}

	if e.recorder != nil {
		kind := out.Kind
		idx := out.StepIndex
		done := out.CompletedAt
		if err := e.recorder.UpdateRun(hctx, r.id, store.RunUpdate{
			Status:      &status,
			Kind:        &kind,
			StepIndex:   &idx,
			StepID:      out.StepID,
			Phase:       out.Phase,
			Outcome:     mustJSON(out),
			CompletedAt: &done,
		}); err != nil {
			r.log.Warn("record run outcome failed", zap.Error(err))
		}
	}

	e.logOutcome(r, out)
	return out, nil
}

func (e *Engine) emitAbort(hctx context.Context, r *run, out *schema.RunOutcome) {
	var eventType string
	switch out.Kind {
	case schema.OutcomeAssertionFailed:
		eventType = schema.EventAssertionViolated
	case schema.OutcomeStepFailed:
		eventType = schema.EventStepFailed
	case schema.OutcomeCancelled:
		eventType = schema.EventRunCancelled
	default:
		return
	}
	event := &store.Event{
		RunID:     r.id,
		StepID:    out.StepID,
		StepIndex: out.StepIndex,
		Type:      eventType,
		Phase:     out.Phase,
		Payload:   mustJSON(out.Report()),
	}
	if err := e.appender.AppendEvent(hctx, event); err != nil {
		r.log.Warn("record abort event failed", zap.String("event", eventType), zap.Error(err))
	}
}

func (e *Engine) transitionRun(hctx context.Context, r *run, to schema.RunStatus, payload json.RawMessage) error {
	if err := e.runFSM.Transition(hctx, r.id, r.status, to, payload); err != nil {
		if !isStoreError(err) {
			return err
		}
		r.log.Warn("record run transition failed", zap.String("to", string(to)), zap.Error(err))
	}
	r.status = to
	return nil
}

func (e *Engine) logOutcome(r *run, out *schema.RunOutcome) {
	duration := zap.Duration("duration", out.CompletedAt.Sub(out.StartedAt))
	switch out.Kind {
	case schema.OutcomeCompleted:
		r.log.Info("run completed", duration)
	case schema.OutcomeAssertionFailed:
		fields := []zap.Field{
			duration,
			zap.String("step_id", out.StepID),
			zap.Int("step_index", out.StepIndex),
			zap.String("side", string(out.Side)),
			zap.String("expression", out.Verdict.Expression),
			zap.Any("bindings", out.Verdict.Bindings),
		}
		if out.Verdict.Err != nil {
			fields = append(fields, zap.String("eval_error", out.Verdict.Err.Error()))
		}
		r.log.Warn("assertion violated", fields...)
	case schema.OutcomeStepFailed:
		r.log.Warn("step failed", duration,
			zap.String("step_id", out.StepID), zap.Int("step_index", out.StepIndex), zap.Error(out.Cause))
	case schema.OutcomeCancelled:
		r.log.Info("run cancelled", duration,
			zap.String("step_id", out.StepID), zap.Int("step_index", out.StepIndex),
			zap.String("phase", string(out.Phase)), zap.String("reason", out.Reason))
	}
}

func violation(i int, step *schema.StepDefinition, side schema.Side, v schema.Verdict) *schema.RunOutcome {
	return &schema.RunOutcome{
		Kind:      schema.OutcomeAssertionFailed,
		StepIndex: i,
		StepID:    step.ID,
		Phase:     side.Phase(),
		Side:      side,
		Verdict:   &v,
	}
}

func isStoreError(err error) bool {
	var se *schema.Error
	return errors.As(err, &se) && se.Code == schema.ErrCodeStore
}

// mustJSON marshals values built from JSON-safe types; a failure yields nil.
func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
