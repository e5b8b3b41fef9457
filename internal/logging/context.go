// Package logging carries run correlation ids through context.Context and
// builds the zap loggers used across assertflow.
package logging

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey int

const (
	runIDKey ctxKey = iota
	workflowKey
	stepIDKey
)

// WithRunID returns a context with the run ID set.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// WithWorkflow returns a context with the workflow name set.
func WithWorkflow(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, workflowKey, name)
}

// WithStepID returns a context with the step ID set.
func WithStepID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, stepIDKey, id)
}

// RunID extracts the run ID from the context, or "" if absent.
func RunID(ctx context.Context) string {
	v, _ := ctx.Value(runIDKey).(string)
	return v
}

// Workflow extracts the workflow name from the context, or "" if absent.
func Workflow(ctx context.Context) string {
	v, _ := ctx.Value(workflowKey).(string)
	return v
}

// StepID extracts the step ID from the context, or "" if absent.
func StepID(ctx context.Context) string {
	v, _ := ctx.Value(stepIDKey).(string)
	return v
}

// WithIDs sets the run ID and workflow name on the context at once.
func WithIDs(ctx context.Context, runID, workflow string) context.Context {
	ctx = WithRunID(ctx, runID)
	ctx = WithWorkflow(ctx, workflow)
	return ctx
}

// LogWith returns a logger enriched with correlation IDs from the context.
// Only non-empty values are added as fields.
func LogWith(ctx context.Context, logger *zap.Logger) *zap.Logger {
	var fields []zap.Field
	if v := RunID(ctx); v != "" {
		fields = append(fields, zap.String("run_id", v))
	}
	if v := Workflow(ctx); v != "" {
		fields = append(fields, zap.String("workflow", v))
	}
	if v := StepID(ctx); v != "" {
		fields = append(fields, zap.String("step_id", v))
	}
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}
