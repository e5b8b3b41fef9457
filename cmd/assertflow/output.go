package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rendis/assertflow/internal/execctx"
	"github.com/rendis/assertflow/pkg/schema"
)

// Exit codes by outcome kind.
const (
	exitOK              = 0
	exitFailure         = 1
	exitAssertionFailed = 2
	exitStepFailed      = 3
	exitCancelled       = 4
)

// exitError ends the process with code. err, when set, is printed first.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit status %d", e.code)
}

func (e *exitError) Unwrap() error { return e.err }

func exitCodeFor(kind schema.OutcomeKind) int {
	switch kind {
	case schema.OutcomeCompleted:
		return exitOK
	case schema.OutcomeAssertionFailed:
		return exitAssertionFailed
	case schema.OutcomeStepFailed:
		return exitStepFailed
	case schema.OutcomeCancelled:
		return exitCancelled
	default:
		return exitFailure
	}
}

// parseVars turns name=value pairs into a context map. Values are read as
// YAML scalars, so 3, true and "quoted" are typed; anything that is not a
// supported scalar stays a string.
func parseVars(pairs []string) (map[string]any, error) {
	vars := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --var %q (want name=value)", pair)
		}
		vars[name] = scalar(raw)
	}
	return vars, nil
}

func scalar(raw string) any {
	var decoded any
	if err := yaml.Unmarshal([]byte(raw), &decoded); err != nil || decoded == nil {
		return raw
	}
	v, err := execctx.Normalize(decoded)
	if err != nil {
		return raw
	}
	return v
}

// collectVars merges a JSON/YAML vars file with --var pairs; pairs win.
func collectVars(file string, pairs []string) (map[string]any, error) {
	vars := map[string]any{}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read vars file: %w", err)
		}
		if err := yaml.Unmarshal(data, &vars); err != nil {
			return nil, fmt.Errorf("parse vars file %s: %w", file, err)
		}
	}
	fromFlags, err := parseVars(pairs)
	if err != nil {
		return nil, err
	}
	for k, v := range fromFlags {
		vars[k] = v
	}
	return vars, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeOutcome prints a completed run with its final context, or the
// diagnostic report of an aborted one.
func writeOutcome(w io.Writer, out *schema.RunOutcome) {
	if report := out.Report(); report != nil {
		fmt.Fprintln(w, report.String())
		fmt.Fprintf(w, "  run: %s\n", out.RunID)
		return
	}
	fmt.Fprintf(w, "completed: workflow %q (run %s) in %s\n",
		out.Workflow, out.RunID, out.CompletedAt.Sub(out.StartedAt).Round(time.Millisecond))
	writeContext(w, out.Context)
}

func writeContext(w io.Writer, vars map[string]any) {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %s = %s\n", name, schema.FormatValue(vars[name]))
	}
}

func writeWarnings(w io.Writer, source string, issues []schema.ValidationIssue) {
	for _, issue := range issues {
		fmt.Fprintf(w, "warning: %s: %s\n", source, issue.String())
	}
}
