package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/assertflow/pkg/schema"
)

// Run is the persisted record of one workflow run.
type Run struct {
	ID          string             `json:"id"`
	Workflow    string             `json:"workflow"`
	Status      schema.RunStatus   `json:"status"`
	Kind        schema.OutcomeKind `json:"kind,omitempty"`
	StepIndex   int                `json:"step_index"`
	StepID      string             `json:"step_id,omitempty"`
	Phase       schema.Phase       `json:"phase,omitempty"`
	Initial     map[string]any     `json:"initial,omitempty"`
	Outcome     json.RawMessage    `json:"outcome,omitempty"` // serialized schema.RunOutcome
	StartedAt   time.Time          `json:"started_at"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// Event is an immutable entry in a run's phase log.
type Event struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	StepID    string          `json:"step_id,omitempty"`
	StepIndex int             `json:"step_index"`
	Type      string          `json:"event_type"`
	Phase     schema.Phase    `json:"phase,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// --- Filter and update types ---

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Workflow string              `json:"workflow,omitempty"`
	Status   *schema.RunStatus   `json:"status,omitempty"`
	Kind     *schema.OutcomeKind `json:"kind,omitempty"`
	Since    *time.Time          `json:"since,omitempty"`
	Limit    int                 `json:"limit,omitempty"`
	Offset   int                 `json:"offset,omitempty"`
}

// RunUpdate specifies mutable fields of a run.
type RunUpdate struct {
	Status      *schema.RunStatus   `json:"status,omitempty"`
	Kind        *schema.OutcomeKind `json:"kind,omitempty"`
	StepIndex   *int                `json:"step_index,omitempty"`
	StepID      string              `json:"step_id,omitempty"`
	Phase       schema.Phase        `json:"phase,omitempty"`
	Outcome     json.RawMessage     `json:"outcome,omitempty"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
}

// EventFilter specifies criteria for listing events.
type EventFilter struct {
	RunID  string     `json:"run_id,omitempty"`
	StepID string     `json:"step_id,omitempty"`
	Since  *time.Time `json:"since,omitempty"`
	Limit  int        `json:"limit,omitempty"`
}
