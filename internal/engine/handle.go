package engine

import (
	"context"
	"errors"

	"github.com/rendis/assertflow/pkg/schema"
)

// CancelError is the cancellation cause recorded by RunHandle.Cancel.
type CancelError struct {
	Reason string
}

func (e *CancelError) Error() string { return "run cancelled: " + e.Reason }

// RunHandle controls a run started with Engine.Start.
type RunHandle struct {
	id      string
	cancel  context.CancelCauseFunc
	done    chan struct{}
	outcome *schema.RunOutcome
	err     error
}

// ID returns the run ID.
func (h *RunHandle) ID() string { return h.id }

// Cancel requests cancellation. The run stops at its next phase boundary;
// an action that is already executing runs to completion first.
// Cancelling a finished run has no effect.
func (h *RunHandle) Cancel(reason string) {
	if reason == "" {
		reason = "cancelled by caller"
	}
	h.cancel(&CancelError{Reason: reason})
}

// Done is closed when the run has produced its outcome.
func (h *RunHandle) Done() <-chan struct{} { return h.done }

// Wait blocks until the run ends and returns its outcome.
func (h *RunHandle) Wait() (*schema.RunOutcome, error) {
	<-h.done
	return h.outcome, h.err
}

// cancelReason describes why ctx was cancelled.
func cancelReason(ctx context.Context) string {
	cause := context.Cause(ctx)
	var ce *CancelError
	if errors.As(cause, &ce) {
		return ce.Reason
	}
	if cause != nil {
		return cause.Error()
	}
	return "cancelled"
}
