package engine

import (
	"context"

	"github.com/rendis/assertflow/pkg/schema"
)

// BatchItem is one run of a batch.
type BatchItem struct {
	Workflow *schema.WorkflowDefinition
	Initial  map[string]any
}

// BatchResult is the result of the batch item at Index.
type BatchResult struct {
	Index   int                `json:"index"`
	Outcome *schema.RunOutcome `json:"outcome,omitempty"`
	Err     error              `json:"-"`
}

// Batch runs items concurrently, at most poolSize at a time, and returns
// one result per item in input order. Runs are independent: each has its
// own context and history. Cancelling ctx cancels in-flight runs at their
// next phase boundary; items not yet started report the context error.
func (e *Engine) Batch(ctx context.Context, items []BatchItem, poolSize int) []BatchResult {
	results := make([]BatchResult, len(items))
	pool := NewWorkerPool(poolSize, e.logger)

	for i := range items {
		results[i].Index = i
		item := items[i]
		res := &results[i]

		err := pool.Submit(ctx, func(ctx context.Context) error {
			res.Outcome, res.Err = e.Run(ctx, item.Workflow, item.Initial)
			return res.Err
		}, func(err error) {
			res.Err = err
		})
		if err != nil {
			res.Err = err
		}
	}

	pool.Shutdown()
	return results
}
