package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/rendis/assertflow/internal/assertion"
	"github.com/rendis/assertflow/internal/diagram"
	"github.com/rendis/assertflow/internal/execctx"
	"github.com/rendis/assertflow/internal/loader"
	"github.com/rendis/assertflow/internal/store"
	"github.com/rendis/assertflow/pkg/schema"
)

const inlineWorkflowName = "inline"

// runResult is the payload of assertflow.run.
type runResult struct {
	Outcome  *schema.RunOutcome       `json:"outcome"`
	Report   *schema.Report           `json:"report,omitempty"`
	Warnings []schema.ValidationIssue `json:"warnings,omitempty"`
}

// validateResult is the payload of assertflow.validate.
type validateResult struct {
	Valid    bool                     `json:"valid"`
	Name     string                   `json:"name,omitempty"`
	Steps    int                      `json:"steps"`
	Error    *schema.Error            `json:"error,omitempty"`
	Warnings []schema.ValidationIssue `json:"warnings,omitempty"`
}

// handleRun loads, validates and runs a workflow.
func (s *Server) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	loaded, errResult := s.loadWorkflow(req)
	if errResult != nil {
		return errResult, nil
	}
	vars := mcp.ParseStringMap(req, "vars", nil)

	out, err := s.runner.Run(ctx, loaded.Definition, vars)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run failed: %v", err)), nil
	}

	if nErr := s.notifier.Notify(ctx, out); nErr != nil {
		s.logger.Debug("run notification failed", zap.String("run_id", out.RunID), zap.Error(nErr))
	}

	return marshalResult(runResult{Outcome: out, Report: out.Report(), Warnings: loaded.Warnings})
}

// handleValidate reports whether a workflow loads. An invalid workflow is a
// regular result, not a tool error.
func (s *Server) handleValidate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if req.GetString("path", "") == "" && mcp.ParseStringMap(req, "workflow", nil) == nil {
		return mcp.NewToolResultError("one of workflow or path is required"), nil
	}

	loaded, err := s.load(req)
	if err != nil {
		var se *schema.Error
		if !errors.As(err, &se) {
			se = schema.NewError(schema.ErrCodeLoad, err.Error()).WithCause(err)
		}
		return marshalResult(validateResult{Error: se})
	}

	return marshalResult(validateResult{
		Valid:    true,
		Name:     loaded.Definition.Name,
		Steps:    len(loaded.Definition.Steps),
		Warnings: loaded.Warnings,
	})
}

// handleCheck evaluates one condition the way the checker evaluates a
// before-condition.
func (s *Server) handleCheck(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	expression, err := req.RequireString("expression")
	if err != nil || expression == "" {
		return mcp.NewToolResultError("expression is required"), nil
	}
	dialect := schema.Dialect(req.GetString("dialect", string(s.defaultDialect)))

	vars, err := execctx.New(mcp.ParseStringMap(req, "vars", nil))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid vars: %v", err)), nil
	}
	checker, err := assertion.ForDialect(s.dialects, dialect)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("unknown dialect: %v", err)), nil
	}

	verdict := checker.Check(schema.SideBefore, &schema.Assertion{Before: expression}, vars)
	if verdict.Satisfied {
		verdict.Expression = expression
	}
	return marshalResult(verdict)
}

// handleHistory returns one run with its events, or a filtered run list.
func (s *Server) handleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.history == nil {
		return mcp.NewToolResultError("run history is disabled"), nil
	}

	if runID := req.GetString("run_id", ""); runID != "" {
		run, err := s.history.GetRun(ctx, runID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("run lookup failed: %v", err)), nil
		}
		events, err := s.history.GetEvents(ctx, runID, 0)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("events lookup failed: %v", err)), nil
		}
		return marshalResult(map[string]any{"run": run, "events": events})
	}

	filter := mcp.ParseStringMap(req, "filter", nil)
	rf := store.RunFilter{
		Limit:  extractInt(filter, "limit", 20),
		Offset: extractInt(filter, "offset", 0),
	}
	if wf, ok := filter["workflow"].(string); ok {
		rf.Workflow = wf
	}
	if k, ok := filter["kind"].(string); ok && k != "" {
		kind := schema.OutcomeKind(k)
		rf.Kind = &kind
	}
	if st, ok := filter["status"].(string); ok && st != "" {
		status := schema.RunStatus(st)
		rf.Status = &status
	}

	runs, err := s.history.ListRuns(ctx, rf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query runs failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"runs": runs, "count": len(runs)})
}

// handleDiagram draws a workflow, optionally overlaid with a recorded run.
func (s *Server) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}
	if format != "ascii" && format != "mermaid" && format != "image" {
		return mcp.NewToolResultError("format must be ascii, mermaid, or image"), nil
	}

	loaded, errResult := s.loadWorkflow(req)
	if errResult != nil {
		return errResult, nil
	}

	var outcome *schema.RunOutcome
	if runID := req.GetString("run_id", ""); runID != "" {
		if s.history == nil {
			return mcp.NewToolResultError("run history is disabled"), nil
		}
		outcome, err = s.recordedOutcome(ctx, runID)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}

	model, err := diagram.Build(loaded.Definition, outcome)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", err)), nil
	}

	switch format {
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	default:
		png, imgErr := diagram.RenderImage(ctx, model, diagram.ImagePNG)
		if imgErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("image render failed: %v", imgErr)), nil
		}
		return mcp.NewToolResultText(base64.StdEncoding.EncodeToString(png)), nil
	}
}

func (s *Server) recordedOutcome(ctx context.Context, runID string) (*schema.RunOutcome, error) {
	run, err := s.history.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("run lookup failed: %w", err)
	}
	if len(run.Outcome) == 0 {
		return nil, fmt.Errorf("run %s has no recorded outcome", runID)
	}
	var out schema.RunOutcome
	if err := json.Unmarshal(run.Outcome, &out); err != nil {
		return nil, fmt.Errorf("decode outcome of run %s: %w", runID, err)
	}
	return &out, nil
}

// loadWorkflow is load with the error already turned into a tool result.
func (s *Server) loadWorkflow(req mcp.CallToolRequest) (*loader.Loaded, *mcp.CallToolResult) {
	if req.GetString("path", "") == "" && mcp.ParseStringMap(req, "workflow", nil) == nil {
		return nil, mcp.NewToolResultError("one of workflow or path is required")
	}
	loaded, err := s.load(req)
	if err != nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("invalid workflow: %v", err))
	}
	return loaded, nil
}

// load reads the workflow from the path argument, or from the inline
// workflow object when no path is given.
func (s *Server) load(req mcp.CallToolRequest) (*loader.Loaded, error) {
	if path := req.GetString("path", ""); path != "" {
		return s.loader.LoadFile(path)
	}
	raw, err := json.Marshal(mcp.ParseStringMap(req, "workflow", nil))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeLoad, "encode inline workflow: %s", err.Error()).WithCause(err)
	}
	return s.loader.Load(raw, loader.FormatJSON, inlineWorkflowName)
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
