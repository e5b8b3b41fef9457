package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/assertflow/pkg/schema"
)

func dataflowWarnings(t *testing.T, def *schema.WorkflowDefinition) []schema.ValidationIssue {
	t.Helper()
	semantic, compiled := validateSemantic(def, semanticDeps(t))
	require.True(t, semantic.Valid(), "%v", semantic.Errors)
	return validateDataflow(def, compiled).Warnings
}

func TestDataflow_BoundByVarsAndEarlierSteps(t *testing.T) {
	def := &schema.WorkflowDefinition{
		Name: "w",
		Vars: map[string]any{"limit": 3},
		Steps: []schema.StepDefinition{
			{ID: "a", Action: "vars.set", Params: mustJSON(map[string]any{"values": map[string]any{"count": 0}}),
				Assertion: &schema.Assertion{Before: "limit > 0", After: "count = 0"}},
			{ID: "b", Action: "expr.eval", Params: mustJSON(map[string]any{"assign": map[string]any{"next": "count + 1"}}),
				Assertion: &schema.Assertion{After: "next <= limit"}},
			{ID: "c", Action: "jq", Params: mustJSON(map[string]any{"filter": ".next", "into": "copy"}),
				Assertion: &schema.Assertion{After: "copy = next"}},
		},
	}
	assert.Empty(t, dataflowWarnings(t, def))
}

func TestDataflow_WarnsOnCallerSuppliedNames(t *testing.T) {
	def := &schema.WorkflowDefinition{Name: "w", Steps: []schema.StepDefinition{
		{ID: "a", Assertion: &schema.Assertion{Before: "ready and count > 1"}},
		{ID: "b", Action: "vars.set", Params: mustJSON(map[string]any{"values": map[string]any{"x": 1}}),
			Assertion: &schema.Assertion{Before: "x = 1"}},
	}}
	warnings := dataflowWarnings(t, def)
	require.Len(t, warnings, 3)
	assert.Equal(t, "steps[0].assertion.before", warnings[0].Path)
	assert.Contains(t, warnings[0].Message, `"ready"`)
	assert.Contains(t, warnings[1].Message, `"count"`)
	// x is bound by the step itself only after Execute.
	assert.Equal(t, "steps[1].assertion.before", warnings[2].Path)
}

func TestDataflow_OpenStepStopsWarnings(t *testing.T) {
	def := &schema.WorkflowDefinition{Name: "w", Steps: []schema.StepDefinition{
		{ID: "merge", Action: "jq", Params: mustJSON(map[string]any{"filter": "{a: 1}"})},
		{ID: "b", Assertion: &schema.Assertion{Before: "anything"}},
	}}
	assert.Empty(t, dataflowWarnings(t, def))
}

func TestDataflow_WarnsOnUnboundParamReferences(t *testing.T) {
	def := &schema.WorkflowDefinition{Name: "w", Vars: map[string]any{"owner": "ana"}, Steps: []schema.StepDefinition{
		{ID: "a", Action: "vars.set", Params: mustJSON(map[string]any{"values": map[string]any{
			"note": "${{vars.owner}} pays ${{vars.amount}}",
		}})},
		{ID: "b", Action: "fail", Params: mustJSON(map[string]any{"message": "${{vars.note}}"})},
	}}
	warnings := dataflowWarnings(t, def)
	require.Len(t, warnings, 1)
	assert.Equal(t, "steps[0].params", warnings[0].Path)
	assert.Contains(t, warnings[0].Message, `"amount"`)
}
