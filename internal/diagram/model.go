package diagram

// NodeKind classifies a diagram node.
type NodeKind string

const (
	NodeKindStart  NodeKind = "start"
	NodeKindEnd    NodeKind = "end"
	NodeKindAbort  NodeKind = "abort"
	NodeKindStep   NodeKind = "step"
	NodeKindBefore NodeKind = "before" // pre-condition check
	NodeKindAfter  NodeKind = "after"  // post-condition check
)

// Status values of a node overlaid from a run outcome.
const (
	StatusPassed    = "passed"
	StatusViolated  = "violated"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusAborted   = "aborted"
)

// DiagramModel is the intermediate representation used by all renderers.
// Nodes are listed in execution order.
type DiagramModel struct {
	Title string
	Nodes []*Node
	Edges []Edge
}

// Node is a step, one of its checks, or a terminal.
type Node struct {
	ID     string
	Label  string
	Kind   NodeKind
	Status string // empty when the run did not reach the node
	Detail string // e.g. the bindings of a violated check
}

// Edge connects two nodes. Violation edges lead to the abort terminal.
type Edge struct {
	From      string
	To        string
	Label     string
	Violation bool
}
