package workflow

import (
	"fmt"
)

// ConfigValidator checks node configs against registered node types. The
// handler registry satisfies this; the indirection keeps the domain package
// free of engine imports.
type ConfigValidator interface {
	Has(nodeType string) bool
	ValidateConfig(nodeType string, config map[string]interface{}) error
}

// Issue is a non-fatal validation finding.
type Issue struct {
	NodeID  string `json:"nodeId,omitempty"`
	Message string `json:"message"`
}

// Validate checks a workflow's structural invariants: unique node ids, edge
// endpoints that exist in the node set, a recognized error-handling mode,
// and, when a validator is supplied, per-node config schemas. Violations are
// configuration errors; they fail the workflow, never crash it.
//
// Cycles are deliberately not an error here. The scheduler degrades around
// them, so a cycle surfaces as a warning issue instead.
func Validate(wf *Workflow, cv ConfigValidator) ([]Issue, error) {
	if wf == nil {
		return nil, fmt.Errorf("workflow is nil")
	}

	seen := make(map[string]bool, len(wf.Nodes))
	for _, n := range wf.Nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("workflow %s contains a node without an id", wf.ID)
		}
		if seen[n.ID] {
			return nil, fmt.Errorf("duplicate node id %q", n.ID)
		}
		seen[n.ID] = true
	}

	for _, e := range wf.Edges {
		if !seen[e.Source] {
			return nil, fmt.Errorf("edge references unknown source node %q", e.Source)
		}
		if !seen[e.Target] {
			return nil, fmt.Errorf("edge references unknown target node %q", e.Target)
		}
	}

	switch wf.Settings.ErrorHandling {
	case "", ErrorHandlingStop, ErrorHandlingContinue:
	default:
		return nil, fmt.Errorf("unknown error handling mode %q", wf.Settings.ErrorHandling)
	}

	if wf.Settings.OutputNodeID != "" && !seen[wf.Settings.OutputNodeID] {
		return nil, fmt.Errorf("output node %q does not exist", wf.Settings.OutputNodeID)
	}

	var issues []Issue
	if cv != nil {
		for _, n := range wf.Nodes {
			if !n.Enabled {
				continue
			}
			if !cv.Has(n.Type) {
				issues = append(issues, Issue{
					NodeID:  n.ID,
					Message: fmt.Sprintf("no handler registered for node type %q", n.Type),
				})
				continue
			}
			if err := cv.ValidateConfig(n.Type, n.Config); err != nil {
				return issues, fmt.Errorf("node %s: %w", n.ID, err)
			}
		}
	}

	if hasCycle(wf.Nodes, wf.Edges) {
		issues = append(issues, Issue{Message: "workflow contains a cycle; nodes inside it will not run"})
	}

	return issues, nil
}

func hasCycle(nodes []Node, edges []Edge) bool {
	graph := make(map[string][]string)
	for _, e := range edges {
		graph[e.Source] = append(graph[e.Source], e.Target)
	}

	visited := make(map[string]bool)
	inStack := make(map[string]bool)

	var dfs func(id string) bool
	dfs = func(id string) bool {
		visited[id] = true
		inStack[id] = true
		for _, next := range graph[id] {
			if !visited[next] {
				if dfs(next) {
					return true
				}
			} else if inStack[next] {
				return true
			}
		}
		inStack[id] = false
		return false
	}

	for _, n := range nodes {
		if !visited[n.ID] {
			if dfs(n.ID) {
				return true
			}
		}
	}
	return false
}
