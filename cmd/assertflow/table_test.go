package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/assertflow/pkg/schema"
)

func TestRenderTable(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 30, 0, 0, time.Local)
	rows := []runRow{
		{ID: "run-1", Workflow: "deposit", Status: schema.RunStatusCompleted, Kind: schema.OutcomeCompleted, StartedAt: started},
		{ID: "run-2", Workflow: "a long workflow name with spaces in it", Status: schema.RunStatusAborted, Kind: schema.OutcomeAssertionFailed, StepID: "withdraw"},
	}

	var buf bytes.Buffer
	require.NoError(t, renderTable(&buf, rows, tableOptions{}))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"RUN", "WORKFLOW", "STATUS", "OUTCOME", "STEP", "STARTED"}, strings.Fields(lines[0]))
	assert.Contains(t, lines[1], "run-1")
	assert.Contains(t, lines[1], "2026-03-01 12:30:00")
	assert.Contains(t, lines[2], "a long workflow name with spaces in it")
	assert.Contains(t, lines[2], "assertion_failed")
	assert.Contains(t, lines[2], "withdraw")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(lines[2]), "-"), "zero time renders as a dash")
}

func TestRenderTableTimeFormat(t *testing.T) {
	rows := []eventRow{{Sequence: 1, Timestamp: time.Date(2026, 3, 1, 8, 5, 9, 0, time.Local), Type: "phase_started"}}

	var buf bytes.Buffer
	require.NoError(t, renderTable(&buf, rows, tableOptions{TimeFormat: time.TimeOnly}))
	assert.Contains(t, buf.String(), "08:05:09")
	assert.NotContains(t, buf.String(), "2026")
}

func TestRenderTableEmptyAndInvalid(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderTable(&buf, []jobRow(nil), tableOptions{}))
	assert.Empty(t, buf.String())

	require.Error(t, renderTable(&buf, runRow{}, tableOptions{}))
	require.Error(t, renderTable(&buf, []string{"x"}, tableOptions{}))
}
