package schema

import "encoding/json"

// Dialect names the expression language used by a workflow's assertions.
type Dialect string

const (
	DialectNative Dialect = "native"
	DialectCEL    Dialect = "cel"
	DialectExpr   Dialect = "expr"
)

// WorkflowDefinition is the JSON/YAML-serializable workflow format.
// A loaded definition is treated as immutable and may be shared by concurrent runs.
type WorkflowDefinition struct {
	Name     string           `json:"name"`
	Dialect  Dialect          `json:"dialect,omitempty"` // native | cel | expr (default: native)
	Vars     map[string]any   `json:"vars,omitempty"`    // default initial variables
	Steps    []StepDefinition `json:"steps"`
	Metadata map[string]any   `json:"metadata,omitempty"`
}

// StepDefinition describes a single step in a workflow.
type StepDefinition struct {
	ID          string          `json:"id"`
	Description string          `json:"description,omitempty"`
	Action      string          `json:"action,omitempty"` // action name (default: noop)
	Params      json.RawMessage `json:"params,omitempty"` // action-specific parameters
	Assertion   *Assertion      `json:"assertion,omitempty"`
}

// Assertion is a pre/post-condition pair attached to a step. An empty
// expression is absent and always satisfied.
type Assertion struct {
	Before string `json:"before,omitempty"`
	After  string `json:"after,omitempty"`
}

// Expression returns the expression for the given side, or "" when absent
// (including when the assertion itself is nil).
func (a *Assertion) Expression(side Side) string {
	if a == nil {
		return ""
	}
	switch side {
	case SideBefore:
		return a.Before
	case SideAfter:
		return a.After
	default:
		return ""
	}
}

// EffectiveDialect returns the workflow dialect, defaulting to native.
func (d *WorkflowDefinition) EffectiveDialect() Dialect {
	if d.Dialect == "" {
		return DialectNative
	}
	return d.Dialect
}

// DuplicateStepID returns the first step ID that occurs more than once, or "".
func (d *WorkflowDefinition) DuplicateStepID() string {
	seen := make(map[string]struct{}, len(d.Steps))
	for _, s := range d.Steps {
		if _, ok := seen[s.ID]; ok {
			return s.ID
		}
		seen[s.ID] = struct{}{}
	}
	return ""
}
