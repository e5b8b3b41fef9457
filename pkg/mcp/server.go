package mcp

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/rendis/assertflow/internal/expressions"
	"github.com/rendis/assertflow/internal/loader"
	"github.com/rendis/assertflow/internal/logging"
	"github.com/rendis/assertflow/internal/store"
	"github.com/rendis/assertflow/pkg/schema"
)

// Runner executes workflow runs.
type Runner interface {
	Run(ctx context.Context, wf *schema.WorkflowDefinition, initial map[string]any) (*schema.RunOutcome, error)
}

// History reads persisted runs and their phase events.
type History interface {
	GetRun(ctx context.Context, id string) (*store.Run, error)
	ListRuns(ctx context.Context, filter store.RunFilter) ([]*store.Run, error)
	GetEvents(ctx context.Context, runID string, since int64) ([]*store.Event, error)
}

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Runner         Runner
	Loader         *loader.Loader
	Dialects       *expressions.Dialects
	History        History // nil disables assertflow.history and run overlays
	DefaultDialect schema.Dialect
	Version        string
	Logger         *zap.Logger
}

// Server wraps an MCP server with assertflow tool handlers.
type Server struct {
	runner         Runner
	loader         *loader.Loader
	dialects       *expressions.Dialects
	history        History
	defaultDialect schema.Dialect
	logger         *zap.Logger
	notifier       *RunNotifier
	mcpServer      *server.MCPServer
}

// NewServer creates a Server with every tool registered.
func NewServer(deps ServerDeps) *Server {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	dialect := deps.DefaultDialect
	if dialect == "" {
		dialect = schema.DialectNative
	}

	s := &Server{
		runner:         deps.Runner,
		loader:         deps.Loader,
		dialects:       deps.Dialects,
		history:        deps.History,
		defaultDialect: dialect,
		logger:         logging.OrNop(deps.Logger).Named("mcp"),
	}

	mcpSrv := server.NewMCPServer(
		"assertflow",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("assertflow runs workflows whose steps carry before/after assertions. Use assertflow.validate to check a definition, assertflow.run to execute it, assertflow.check to evaluate a single condition, assertflow.history to inspect past runs and assertflow.diagram to draw a workflow."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewRunNotifier(mcpSrv)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: checkTool(), Handler: s.handleCheck},
		{Tool: historyTool(), Handler: s.handleHistory},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("assertflow.run",
		mcp.WithDescription("Run a workflow and return its outcome"),
		mcp.WithObject("workflow", mcp.Description("Inline workflow definition (alternative to path)")),
		mcp.WithString("path", mcp.Description("Path of a JSON or YAML workflow file")),
		mcp.WithObject("vars", mcp.Description("Initial execution context; overrides the workflow's vars")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("assertflow.validate",
		mcp.WithDescription("Validate a workflow definition without running it"),
		mcp.WithObject("workflow", mcp.Description("Inline workflow definition (alternative to path)")),
		mcp.WithString("path", mcp.Description("Path of a JSON or YAML workflow file")),
	)
}

func checkTool() mcp.Tool {
	return mcp.NewTool("assertflow.check",
		mcp.WithDescription("Evaluate a single condition against a context"),
		mcp.WithString("expression", mcp.Required(), mcp.Description("Condition to evaluate")),
		mcp.WithObject("vars", mcp.Description("Execution context the condition is evaluated against")),
		mcp.WithString("dialect",
			mcp.Enum(string(schema.DialectNative), string(schema.DialectCEL), string(schema.DialectExpr)),
			mcp.Description("Expression dialect (default: native)"),
		),
	)
}

func historyTool() mcp.Tool {
	return mcp.NewTool("assertflow.history",
		mcp.WithDescription("Query past runs or the phase events of one run"),
		mcp.WithString("run_id", mcp.Description("Run to fetch together with its phase events")),
		mcp.WithObject("filter", mcp.Description("Filter criteria for listing runs (workflow, kind, status, limit, offset)")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("assertflow.diagram",
		mcp.WithDescription("Draw a workflow as ASCII art, a Mermaid flowchart or a base64-encoded PNG image"),
		mcp.WithObject("workflow", mcp.Description("Inline workflow definition (alternative to path)")),
		mcp.WithString("path", mcp.Description("Path of a JSON or YAML workflow file")),
		mcp.WithString("run_id", mcp.Description("Overlay the outcome of this run from history")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("ascii", "mermaid", "image"),
			mcp.Description("Output format: ascii (text), mermaid (flowchart syntax), or image (base64 PNG)"),
		),
	)
}
