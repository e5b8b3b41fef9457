package diagram

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// statusTag returns a short ASCII indicator for a status string.
func statusTag(status string) string {
	switch status {
	case StatusPassed:
		return "[OK]"
	case StatusViolated:
		return "[VIOLATED]"
	case StatusFailed:
		return "[FAIL]"
	case StatusCancelled:
		return "[CANCEL]"
	case StatusAborted:
		return "[ABORT]"
	default:
		return ""
	}
}

// RenderASCII renders a DiagramModel as a vertical chain of boxes. Checks
// are drawn as boxes with angled corners; the abort terminal is listed
// once at the bottom instead of being connected from every check.
func RenderASCII(model *DiagramModel) string {
	var b strings.Builder

	if model.Title != "" {
		fmt.Fprintf(&b, "=== %s ===\n\n", model.Title)
	}

	var abort *Node
	chain := make([]*Node, 0, len(model.Nodes))
	for _, node := range model.Nodes {
		if node.Kind == NodeKindAbort {
			abort = node
			continue
		}
		chain = append(chain, node)
	}

	for i, node := range chain {
		for _, line := range makeBox(node) {
			b.WriteString(line)
			b.WriteString("\n")
		}
		if i < len(chain)-1 {
			renderConnector(&b, edgeBetween(model, node.ID, chain[i+1].ID))
		}
	}

	if abort != nil {
		b.WriteString("\n")
		fmt.Fprintf(&b, "any violated check -> %s", abort.Label)
		if tag := statusTag(abort.Status); tag != "" {
			b.WriteString(" " + tag)
		}
		b.WriteString("\n")
	}

	return b.String()
}

// makeBox renders the lines of a single node box.
func makeBox(node *Node) []string {
	content := strings.Split(node.Label, "\n")
	if node.Kind == NodeKindBefore || node.Kind == NodeKindAfter {
		content[0] = string(node.Kind) + ": " + content[0]
	}
	if tag := statusTag(node.Status); tag != "" {
		content = append(content, tag)
	}
	if node.Detail != "" {
		content = append(content, node.Detail)
	}

	width := 0
	for _, line := range content {
		if n := utf8.RuneCountInString(line); n > width {
			width = n
		}
	}

	tl, tr, bl, br, side := "┌", "┐", "└", "┘", "│"
	if node.Kind == NodeKindBefore || node.Kind == NodeKindAfter {
		tl, tr, bl, br = "/", "\\", "\\", "/"
	}

	lines := make([]string, 0, len(content)+2)
	lines = append(lines, tl+strings.Repeat("─", width+2)+tr)
	for _, line := range content {
		pad := width - utf8.RuneCountInString(line)
		lines = append(lines, side+" "+line+strings.Repeat(" ", pad)+" "+side)
	}
	lines = append(lines, bl+strings.Repeat("─", width+2)+br)
	return lines
}

// firstLine returns only the first line of a multi-line label.
func firstLine(s string) string {
	if i := strings.Index(s, "\n"); i >= 0 {
		return s[:i]
	}
	return s
}

func edgeBetween(model *DiagramModel, from, to string) string {
	for _, e := range model.Edges {
		if e.From == from && e.To == to {
			return e.Label
		}
	}
	return ""
}

// renderConnector draws a downward arrow, labelled when the edge has one.
func renderConnector(b *strings.Builder, label string) {
	b.WriteString("  │")
	if label != "" {
		b.WriteString(" " + label)
	}
	b.WriteString("\n  ▼\n")
}
