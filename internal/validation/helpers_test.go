package validation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rendis/assertflow/internal/actions"
	"github.com/rendis/assertflow/internal/expressions"
	"github.com/rendis/assertflow/pkg/schema"
)

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func newTestValidator(t *testing.T) *WorkflowValidator {
	t.Helper()
	reg, err := actions.NewDefaultRegistry()
	require.NoError(t, err)
	dialects, err := expressions.NewDialects()
	require.NoError(t, err)
	wv, err := NewWorkflowValidator(reg, dialects)
	require.NoError(t, err)
	return wv
}

func paths(issues []schema.ValidationIssue) []string {
	out := make([]string, len(issues))
	for i, issue := range issues {
		out[i] = issue.Path
	}
	return out
}
