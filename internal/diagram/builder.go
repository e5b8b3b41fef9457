package diagram

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rendis/assertflow/pkg/schema"
)

const (
	startID = "__start__"
	endID   = "__end__"
	abortID = "__abort__"
)

// Build constructs a DiagramModel from a workflow and, optionally, the
// outcome of one of its runs. Each step becomes a node framed by its
// before and after checks; every check has a violation edge to the abort
// terminal.
func Build(def *schema.WorkflowDefinition, outcome *schema.RunOutcome) (*DiagramModel, error) {
	if def == nil {
		return nil, fmt.Errorf("diagram: workflow definition is nil")
	}

	m := &DiagramModel{Title: def.Name}
	m.Nodes = append(m.Nodes, &Node{ID: startID, Label: "Start", Kind: NodeKindStart})

	prev, fromCheck := startID, false
	hasCheck := false
	link := func(to string) {
		label := ""
		if fromCheck {
			label = "holds"
		}
		m.Edges = append(m.Edges, Edge{From: prev, To: to, Label: label})
	}
	for i := range def.Steps {
		step := &def.Steps[i]

		if expr := step.Assertion.Expression(schema.SideBefore); expr != "" {
			id := checkID(step.ID, schema.SideBefore)
			m.Nodes = append(m.Nodes, &Node{ID: id, Label: expr, Kind: NodeKindBefore})
			link(id)
			m.Edges = append(m.Edges, Edge{From: id, To: abortID, Label: "violated", Violation: true})
			prev, fromCheck, hasCheck = id, true, true
		}

		m.Nodes = append(m.Nodes, &Node{ID: step.ID, Label: stepLabel(step), Kind: NodeKindStep})
		link(step.ID)
		prev, fromCheck = step.ID, false

		if expr := step.Assertion.Expression(schema.SideAfter); expr != "" {
			id := checkID(step.ID, schema.SideAfter)
			m.Nodes = append(m.Nodes, &Node{ID: id, Label: expr, Kind: NodeKindAfter})
			link(id)
			m.Edges = append(m.Edges, Edge{From: id, To: abortID, Label: "violated", Violation: true})
			prev, fromCheck, hasCheck = id, true, true
		}
	}

	m.Nodes = append(m.Nodes, &Node{ID: endID, Label: "End", Kind: NodeKindEnd})
	link(endID)
	if hasCheck || (outcome != nil && outcome.Aborted()) {
		m.Nodes = append(m.Nodes, &Node{ID: abortID, Label: "Aborted", Kind: NodeKindAbort})
	}

	if outcome != nil {
		overlay(m, def, outcome)
	}
	return m, nil
}

// overlay marks the nodes the run reached, then the node it ended on.
func overlay(m *DiagramModel, def *schema.WorkflowDefinition, out *schema.RunOutcome) {
	index := make(map[string]*Node, len(m.Nodes))
	for _, n := range m.Nodes {
		index[n.ID] = n
	}
	mark := func(id, status string) {
		if n, ok := index[id]; ok {
			n.Status = status
		}
	}

	mark(startID, StatusPassed)
	for _, rec := range out.Trace {
		switch rec.Phase {
		case schema.PhaseCheckBefore:
			mark(checkID(rec.StepID, schema.SideBefore), StatusPassed)
		case schema.PhaseExecute:
			mark(rec.StepID, StatusPassed)
		case schema.PhaseCheckAfter:
			mark(checkID(rec.StepID, schema.SideAfter), StatusPassed)
		}
	}

	switch out.Kind {
	case schema.OutcomeCompleted:
		mark(endID, StatusPassed)
	case schema.OutcomeAssertionFailed:
		id := checkID(out.StepID, out.Side)
		mark(id, StatusViolated)
		if n, ok := index[id]; ok && out.Verdict != nil {
			n.Detail = formatBindings(out.Verdict.Bindings)
			if out.Verdict.Err != nil {
				n.Detail = out.Verdict.Err.Error()
			}
		}
		mark(abortID, StatusAborted)
	case schema.OutcomeStepFailed:
		mark(out.StepID, StatusFailed)
		if n, ok := index[out.StepID]; ok {
			n.Detail = out.CauseText
		}
		mark(abortID, StatusAborted)
	case schema.OutcomeCancelled:
		mark(cancelledNode(def, out), StatusCancelled)
		mark(abortID, StatusAborted)
	}
}

// cancelledNode returns the node of the phase the cancelled run did not start.
func cancelledNode(def *schema.WorkflowDefinition, out *schema.RunOutcome) string {
	if out.StepIndex < 0 || out.StepIndex >= len(def.Steps) {
		return endID
	}
	step := &def.Steps[out.StepIndex]
	switch out.Phase {
	case schema.PhaseCheckBefore:
		if step.Assertion.Expression(schema.SideBefore) != "" {
			return checkID(step.ID, schema.SideBefore)
		}
		return step.ID
	case schema.PhaseExecute:
		return step.ID
	case schema.PhaseCheckAfter:
		if step.Assertion.Expression(schema.SideAfter) != "" {
			return checkID(step.ID, schema.SideAfter)
		}
	}
	if out.StepIndex+1 < len(def.Steps) {
		return cancelledNode(def, &schema.RunOutcome{StepIndex: out.StepIndex + 1, Phase: schema.PhaseCheckBefore})
	}
	return endID
}

func checkID(stepID string, side schema.Side) string {
	return stepID + "__" + string(side)
}

func stepLabel(step *schema.StepDefinition) string {
	action := step.Action
	if action == "" {
		action = "noop"
	}
	label := step.ID + "\n" + action
	if step.Description != "" {
		label += "\n" + step.Description
	}
	return label
}

func formatBindings(bindings map[string]any) string {
	if len(bindings) == 0 {
		return ""
	}
	names := make([]string, 0, len(bindings))
	for name := range bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + " = " + schema.FormatValue(bindings[name])
	}
	return strings.Join(parts, ", ")
}
