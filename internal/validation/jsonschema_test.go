package validation

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/assertflow/pkg/schema"
)

func newJSV(t *testing.T) *JSONSchemaValidator {
	t.Helper()
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	return v
}

func violations(t *testing.T, err error) []string {
	t.Helper()
	require.Error(t, err)
	se, ok := err.(*schema.Error)
	require.True(t, ok, "expected *schema.Error, got %T", err)
	assert.Equal(t, schema.ErrCodeValidation, se.Code)
	v, _ := se.Details["violations"].([]string)
	return v
}

func TestJSONSchema_ValidDefinition(t *testing.T) {
	def := &schema.WorkflowDefinition{
		Name:    "deploy",
		Dialect: schema.DialectCEL,
		Vars:    map[string]any{"replicas": 3, "env": "prod", "dry": false},
		Steps: []schema.StepDefinition{
			{ID: "scale", Action: "vars.set", Params: mustJSON(map[string]any{"values": map[string]any{"n": 1}}),
				Assertion: &schema.Assertion{Before: "replicas > 0", After: "n == 1.0"}},
		},
	}
	assert.NoError(t, newJSV(t).ValidateDefinition(def))
}

func TestJSONSchema_EmptyWorkflowIsLegal(t *testing.T) {
	assert.NoError(t, newJSV(t).ValidateDefinition(&schema.WorkflowDefinition{Name: "empty"}))
	assert.NoError(t, newJSV(t).ValidateDocument([]byte(`{"name":"empty","steps":[]}`)))
}

func TestJSONSchema_NilDefinition(t *testing.T) {
	err := newJSV(t).ValidateDefinition(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil")
}

func TestJSONSchema_RejectsBadStepIDs(t *testing.T) {
	cases := []string{"", "has space", "semi;colon"}
	for _, id := range cases {
		def := &schema.WorkflowDefinition{Name: "w", Steps: []schema.StepDefinition{{ID: id}}}
		v := violations(t, newJSV(t).ValidateDefinition(def))
		require.NotEmpty(t, v, "id %q", id)
		assert.Contains(t, v[0], "/steps/0/id")
	}
}

func TestJSONSchema_RejectsNonScalarVars(t *testing.T) {
	def := &schema.WorkflowDefinition{Name: "w", Vars: map[string]any{"list": []any{1, 2}}}
	v := violations(t, newJSV(t).ValidateDefinition(def))
	require.NotEmpty(t, v)
	assert.Contains(t, v[0], "/vars/list")
}

func TestJSONSchema_DocumentUnknownKeys(t *testing.T) {
	doc := `{"name":"w","steps":[{"id":"a","asertion":{"before":"x"}}]}`
	v := violations(t, newJSV(t).ValidateDocument([]byte(doc)))
	require.NotEmpty(t, v)
	assert.Contains(t, v[0], "/steps/0")
}

func TestJSONSchema_DocumentUnknownAssertionSide(t *testing.T) {
	doc := `{"steps":[{"id":"a","assertion":{"during":"x > 1"}}]}`
	assert.Error(t, newJSV(t).ValidateDocument([]byte(doc)))
}

func TestJSONSchema_DocumentNotJSON(t *testing.T) {
	err := newJSV(t).ValidateDocument([]byte(`{steps:`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid JSON")
}

func TestJSONSchema_MultipleViolationsSummarized(t *testing.T) {
	doc := `{"name":"","steps":[{"id":""},{"action":"noop"}]}`
	err := newJSV(t).ValidateDocument([]byte(doc))
	v := violations(t, err)
	assert.Greater(t, len(v), 1)
	assert.Contains(t, err.Error(), "validation failed with")
}

func TestJSONSchema_ValidateParams(t *testing.T) {
	v := newJSV(t)
	inputSchema := json.RawMessage(`{
		"type": "object",
		"required": ["duration"],
		"properties": {"duration": {"type": "string"}}
	}`)

	assert.NoError(t, v.ValidateParams(map[string]any{"duration": "1s"}, inputSchema))
	assert.Error(t, v.ValidateParams(map[string]any{}, inputSchema))
	assert.Error(t, v.ValidateParams(nil, inputSchema))
	assert.Error(t, v.ValidateParams(map[string]any{"duration": 5}, inputSchema))
	assert.NoError(t, v.ValidateParams(map[string]any{"anything": true}, nil))
}

func TestJSONSchema_ValidateParamsBadSchema(t *testing.T) {
	err := newJSV(t).ValidateParams(map[string]any{}, json.RawMessage(`{"type": 12}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid action input schema")
}

func TestJSONSchema_ParamSchemaCache(t *testing.T) {
	v := newJSV(t)
	s := json.RawMessage(`{"type":"object"}`)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, v.ValidateParams(map[string]any{"a": 1}, s))
		}()
	}
	wg.Wait()

	v.mu.RLock()
	defer v.mu.RUnlock()
	assert.Len(t, v.cache, 1)
}
