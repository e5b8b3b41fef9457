package expressions

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/assertflow/pkg/schema"
)

func interpolationScope() *InterpolationScope {
	return &InterpolationScope{
		Vars: vars(map[string]any{"amount": 12.5, "owner": "ana", "ok": true, "order.id": "A-1"}),
		Step: map[string]any{"id": "pay", "action": "vars.set"},
	}
}

func requireInterpolationError(t *testing.T, err error) *schema.Error {
	t.Helper()
	require.Error(t, err)
	var se *schema.Error
	require.True(t, errors.As(err, &se), "expected *schema.Error, got %T", err)
	assert.Equal(t, schema.ErrCodeInterpolation, se.Code)
	return se
}

func TestInterpolator_WholeReferenceKeepsType(t *testing.T) {
	interp := NewInterpolator()
	out, err := interp.Resolve(map[string]any{
		"amount": "${{vars.amount}}",
		"ok":     "${{ vars.ok }}",
		"dotted": "${{vars.order.id}}",
		"step":   "${{step.id}}",
	}, interpolationScope())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"amount": 12.5, "ok": true, "dotted": "A-1", "step": "pay"}, out)
}

func TestInterpolator_EmbeddedReferencesRenderAsText(t *testing.T) {
	interp := NewInterpolator()
	out, err := interp.Resolve(map[string]any{
		"message": "${{vars.owner}} owes ${{vars.amount}} (ok=${{vars.ok}}) at ${{step.action}}",
		"plain":   "no references",
	}, interpolationScope())
	require.NoError(t, err)
	assert.Equal(t, "ana owes 12.5 (ok=true) at vars.set", out["message"])
	assert.Equal(t, "no references", out["plain"])
}

func TestInterpolator_WalksNestedValuesWithoutMutating(t *testing.T) {
	params := map[string]any{
		"values": map[string]any{"who": "${{vars.owner}}", "n": 3.0},
		"list":   []any{"${{vars.amount}}", false},
	}
	out, err := NewInterpolator().Resolve(params, interpolationScope())
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"who": "ana", "n": 3.0}, out["values"])
	assert.Equal(t, []any{12.5, false}, out["list"])
	assert.Equal(t, "${{vars.owner}}", params["values"].(map[string]any)["who"])
}

func TestInterpolator_Errors(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  string
	}{
		{"unclosed", "${{vars.owner", "unclosed"},
		{"nested", "${{ ${{vars.owner}} }}", "nested"},
		{"empty", "${{  }}", "empty reference"},
		{"unknown namespace", "${{secrets.key}}", `unknown namespace "secrets"`},
		{"missing field", "${{vars}}", "expected vars.<name>"},
		{"unbound variable", "${{vars.missing}}", `variable "missing" not bound`},
		{"unknown step field", "${{step.index}}", `unknown step field "index"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewInterpolator().Resolve(map[string]any{"v": tt.value}, interpolationScope())
			se := requireInterpolationError(t, err)
			assert.Contains(t, se.Message, tt.want)
		})
	}
}

func TestInterpolator_UnboundListsAvailableVars(t *testing.T) {
	_, err := NewInterpolator().Resolve(map[string]any{"v": "${{vars.balance}}"}, interpolationScope())
	se := requireInterpolationError(t, err)
	assert.Equal(t, []string{"amount", "ok", "order.id", "owner"}, se.Details["available_vars"])
}

func TestInterpolator_FirstErrorIsDeterministic(t *testing.T) {
	params := map[string]any{"b": "${{vars.second}}", "a": "${{vars.first}}", "c": "${{vars.third}}"}
	for i := 0; i < 20; i++ {
		_, err := NewInterpolator().Resolve(params, interpolationScope())
		se := requireInterpolationError(t, err)
		require.Contains(t, se.Message, `"first"`)
	}
}

func TestReferencedVars(t *testing.T) {
	names, err := ReferencedVars(map[string]any{
		"b": "${{vars.y}} and ${{vars.x}}",
		"a": []any{"${{vars.x}}", "${{step.id}}"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, names)

	_, err = ReferencedVars(map[string]any{"a": "${{inputs.x}}"})
	requireInterpolationError(t, err)
}

func TestHasInterpolation(t *testing.T) {
	assert.True(t, HasInterpolation(json.RawMessage(`{"a": "${{vars.x}}"}`)))
	assert.False(t, HasInterpolation(json.RawMessage(`{"a": "$x"}`)))
	assert.False(t, HasInterpolation(nil))
}
