package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/assertflow/pkg/schema"
)

// RunNotifier pushes run outcomes to the MCP client session that started
// the run.
type RunNotifier struct {
	mcpServer *server.MCPServer
}

// NewRunNotifier creates a notifier that pushes through mcpServer.
func NewRunNotifier(mcpServer *server.MCPServer) *RunNotifier {
	return &RunNotifier{mcpServer: mcpServer}
}

// Notify sends a log message notification describing out. Best-effort: it
// returns nil when ctx carries no client session or the session is gone.
func (n *RunNotifier) Notify(ctx context.Context, out *schema.RunOutcome) error {
	session := server.ClientSessionFromContext(ctx)
	if session == nil {
		return nil
	}
	err := n.mcpServer.SendNotificationToSpecificClient(session.SessionID(), "notifications/message", notification(out))
	if errors.Is(err, server.ErrSessionNotFound) {
		return nil
	}
	return err
}

func notification(out *schema.RunOutcome) map[string]any {
	level := "info"
	text := "workflow " + out.Workflow + " completed"
	if report := out.Report(); report != nil {
		level = "warning"
		text = report.String()
	}
	return map[string]any{
		"level":  level,
		"logger": "assertflow",
		"data": map[string]any{
			"run_id":   out.RunID,
			"workflow": out.Workflow,
			"kind":     out.Kind,
			"message":  text,
		},
	}
}
