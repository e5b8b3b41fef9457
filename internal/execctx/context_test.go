package execctx

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_NormalizesNumbers(t *testing.T) {
	c, err := New(map[string]any{
		"i":   3,
		"i64": int64(-4),
		"f32": float32(1.5),
		"num": json.Number("2.25"),
		"s":   "x",
		"b":   true,
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"i": 3.0, "i64": -4.0, "f32": 1.5, "num": 2.25, "s": "x", "b": true,
	}, c.Map())
}

func TestNew_RejectsNonScalars(t *testing.T) {
	for name, v := range map[string]any{
		"map":   map[string]any{"a": 1},
		"slice": []any{1},
		"nil":   nil,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := New(map[string]any{"v": v})
			require.Error(t, err)
			assert.Contains(t, err.Error(), `variable "v"`)
		})
	}
}

func TestApply_IsCopyOnWrite(t *testing.T) {
	orig := MustNew(map[string]any{"x": 1, "y": "keep"})

	next, err := orig.Apply(map[string]any{"x": 2, "z": true}, []string{"y"})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"x": 1.0, "y": "keep"}, orig.Map())
	assert.Equal(t, map[string]any{"x": 2.0, "z": true}, next.Map())
}

func TestApply_ErrorLeavesReceiver(t *testing.T) {
	orig := MustNew(map[string]any{"x": 1})

	got, err := orig.Apply(map[string]any{"bad": []string{"a"}}, nil)
	require.Error(t, err)
	assert.True(t, got.Equal(orig))
}

func TestZeroValueUsable(t *testing.T) {
	var c Context
	assert.Equal(t, 0, c.Len())
	_, ok := c.Lookup("x")
	assert.False(t, ok)

	c2, err := c.With("x", 1)
	require.NoError(t, err)
	assert.True(t, c2.Has("x"))
	assert.False(t, c.Has("x"))
}

func TestSnapshot_OnlyBoundNames(t *testing.T) {
	c := MustNew(map[string]any{"a": 1, "b": 2, "c": 3})
	assert.Equal(t, map[string]any{"a": 1.0, "c": 3.0}, c.Snapshot([]string{"a", "c", "missing"}))
}

func TestMerge_OverlayWins(t *testing.T) {
	defaults := MustNew(map[string]any{"env": "dev", "retries": 1})
	caller := MustNew(map[string]any{"env": "prod"})

	merged := caller.Merge(defaults)
	assert.Equal(t, map[string]any{"env": "prod", "retries": 1.0}, merged.Map())
	assert.Equal(t, []string{"env", "retries"}, merged.Names())
}

func TestJSONRoundTrip(t *testing.T) {
	var c Context
	require.NoError(t, json.Unmarshal([]byte(`{"n": 4, "ok": false}`), &c))
	assert.Equal(t, 4.0, c.Map()["n"])

	out, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n": 4, "ok": false}`, string(out))
}
