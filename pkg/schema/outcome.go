package schema

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// OutcomeKind is the terminal result kind of a workflow run.
type OutcomeKind string

const (
	OutcomeCompleted       OutcomeKind = "completed"
	OutcomeAssertionFailed OutcomeKind = "assertion_failed"
	OutcomeStepFailed      OutcomeKind = "step_failed"
	OutcomeCancelled       OutcomeKind = "cancelled"
)

// Verdict is the result of checking one side of an assertion.
// A violated verdict carries the expression text and the values of the
// variables the expression references (never the whole context).
type Verdict struct {
	Satisfied  bool           `json:"satisfied"`
	Expression string         `json:"expression,omitempty"`
	Bindings   map[string]any `json:"bindings,omitempty"`
	Err        *EvalError     `json:"error,omitempty"`
}

// Satisfied is the verdict of an absent or true condition.
func Satisfied() Verdict {
	return Verdict{Satisfied: true}
}

// Violated builds a failed verdict.
func Violated(expression string, bindings map[string]any, err *EvalError) Verdict {
	return Verdict{Expression: expression, Bindings: bindings, Err: err}
}

// PhaseRecord is one entry of a run's phase trace.
type PhaseRecord struct {
	StepIndex int    `json:"step_index"`
	StepID    string `json:"step_id"`
	Phase     Phase  `json:"phase"`
}

// RunOutcome is the terminal result of a workflow run. Every run produces
// exactly one outcome; it is never left partially resolved.
type RunOutcome struct {
	RunID    string      `json:"run_id"`
	Workflow string      `json:"workflow"`
	Kind     OutcomeKind `json:"kind"`

	// StepIndex and StepID locate the step the run ended on; StepIndex is -1
	// for a completed run.
	StepIndex int    `json:"step_index"`
	StepID    string `json:"step_id,omitempty"`

	// Phase is the failing phase, or for a cancelled run the phase that was
	// not started.
	Phase Phase `json:"phase,omitempty"`

	Side    Side     `json:"side,omitempty"`
	Verdict *Verdict `json:"verdict,omitempty"`

	Cause     error  `json:"-"`
	CauseText string `json:"cause,omitempty"`
	Reason    string `json:"reason,omitempty"`

	// Context is the execution context in effect when the run ended.
	Context map[string]any `json:"context"`
	Trace   []PhaseRecord  `json:"trace,omitempty"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// Aborted reports whether the run ended in any state other than completed.
func (o *RunOutcome) Aborted() bool {
	return o.Kind != OutcomeCompleted
}

// Report is the structured diagnostic of an aborted run. It carries no run
// identity or timestamps: repeated runs of the same workflow on the same
// context produce equal reports.
type Report struct {
	Workflow   string         `json:"workflow"`
	Kind       OutcomeKind    `json:"kind"`
	StepIndex  int            `json:"step_index"`
	StepID     string         `json:"step_id"`
	Phase      Phase          `json:"phase"`
	Expression string         `json:"expression,omitempty"`
	Bindings   map[string]any `json:"bindings,omitempty"`
	EvalError  *EvalError     `json:"eval_error,omitempty"`
	Cause      string         `json:"cause,omitempty"`
	Reason     string         `json:"reason,omitempty"`
}

// Report returns the diagnostic report for an aborted run, or nil when the
// run completed.
func (o *RunOutcome) Report() *Report {
	if !o.Aborted() {
		return nil
	}
	r := &Report{
		Workflow:  o.Workflow,
		Kind:      o.Kind,
		StepIndex: o.StepIndex,
		StepID:    o.StepID,
		Phase:     o.Phase,
		Cause:     o.CauseText,
		Reason:    o.Reason,
	}
	if o.Verdict != nil {
		r.Expression = o.Verdict.Expression
		r.Bindings = o.Verdict.Bindings
		r.EvalError = o.Verdict.Err
	}
	return r
}

// String renders the report for terminals and logs. Bindings are listed in
// name order so the rendering is stable.
func (r *Report) String() string {
	var b strings.Builder
	switch r.Kind {
	case OutcomeAssertionFailed:
		fmt.Fprintf(&b, "assertion failed: workflow %q step %q (#%d) %s-condition violated\n",
			r.Workflow, r.StepID, r.StepIndex, r.Phase)
		fmt.Fprintf(&b, "  expression: %s\n", r.Expression)
		if r.EvalError != nil {
			fmt.Fprintf(&b, "  error: %s\n", r.EvalError.Error())
		}
		if len(r.Bindings) > 0 {
			b.WriteString("  bindings:\n")
			names := make([]string, 0, len(r.Bindings))
			for name := range r.Bindings {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(&b, "    %s = %s\n", name, FormatValue(r.Bindings[name]))
			}
		}
	case OutcomeStepFailed:
		fmt.Fprintf(&b, "step failed: workflow %q step %q (#%d) during %s\n",
			r.Workflow, r.StepID, r.StepIndex, r.Phase)
		fmt.Fprintf(&b, "  cause: %s\n", r.Cause)
	case OutcomeCancelled:
		fmt.Fprintf(&b, "cancelled: workflow %q at step %q (#%d) before %s phase\n",
			r.Workflow, r.StepID, r.StepIndex, r.Phase)
		if r.Reason != "" {
			fmt.Fprintf(&b, "  reason: %s\n", r.Reason)
		}
	default:
		fmt.Fprintf(&b, "%s: workflow %q\n", r.Kind, r.Workflow)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatValue renders a context value the way it would be written as a literal.
func FormatValue(v any) string {
	switch val := v.(type) {
	case string:
		return fmt.Sprintf("%q", val)
	case float64:
		return fmt.Sprintf("%g", val)
	case nil:
		return "<unbound>"
	default:
		return fmt.Sprintf("%v", val)
	}
}
