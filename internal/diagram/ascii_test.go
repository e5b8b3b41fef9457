package diagram

import (
	"strings"
	"testing"

	"github.com/rendis/assertflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderASCIIChain(t *testing.T) {
	model, err := Build(depositWorkflow(), nil)
	require.NoError(t, err)

	output := RenderASCII(model)

	assert.True(t, strings.HasPrefix(output, "=== deposit ===\n"))
	assert.Contains(t, output, "│ Start │")
	assert.Contains(t, output, "│ before: balance >= 0 │")
	assert.Contains(t, output, "│ vars.set │")
	assert.Contains(t, output, "│ holds")
	assert.Contains(t, output, "any violated check -> Aborted\n")
	assert.Less(t, strings.Index(output, "│ open"), strings.Index(output, "│ deposit"))
}

func TestRenderASCIIWithStatus(t *testing.T) {
	verdict := schema.Violated("balance >= 0", map[string]any{"balance": float64(-1)}, nil)
	out := &schema.RunOutcome{
		Kind:    schema.OutcomeAssertionFailed,
		StepID:  "deposit",
		Side:    schema.SideBefore,
		Verdict: &verdict,
		Trace:   trace("open", "before", "open", "execute", "open", "after", "open", "advance", "deposit", "before"),
	}
	model, err := Build(depositWorkflow(), out)
	require.NoError(t, err)

	output := RenderASCII(model)
	assert.Contains(t, output, "[OK]")
	assert.Contains(t, output, "[VIOLATED]")
	assert.Contains(t, output, "balance = -1")
	assert.Contains(t, output, "-> Aborted [ABORT]")
}

func TestRenderASCIINoAbortLine(t *testing.T) {
	model, err := Build(plainWorkflow(), nil)
	require.NoError(t, err)
	assert.NotContains(t, RenderASCII(model), "any violated check")
}

func TestMakeBoxAligns(t *testing.T) {
	lines := makeBox(&Node{Label: "ab\nlonger", Kind: NodeKindStep})
	require.Len(t, lines, 4)
	assert.Equal(t, "┌────────┐", lines[0])
	assert.Equal(t, "│ ab     │", lines[1])
	assert.Equal(t, "│ longer │", lines[2])
	assert.Equal(t, "└────────┘", lines[3])
}
