// Package schedule orders workflow nodes by their edge dependencies.
package schedule

import (
	"github.com/nodeflow-go/internal/domain/workflow"
)

// Graph is an adjacency view over a workflow's nodes and edges.
type Graph struct {
	nodes    []workflow.Node
	index    map[string]int
	adjacent map[string][]string
	inDegree map[string]int
	outCount map[string]int
}

// NewGraph builds the dependency graph. Edges whose endpoints do not exist in
// the node set are ignored here; the workflow validator reports them as
// configuration errors before a run starts.
func NewGraph(nodes []workflow.Node, edges []workflow.Edge) *Graph {
	g := &Graph{
		nodes:    nodes,
		index:    make(map[string]int, len(nodes)),
		adjacent: make(map[string][]string),
		inDegree: make(map[string]int, len(nodes)),
		outCount: make(map[string]int),
	}

	for i, n := range nodes {
		g.index[n.ID] = i
		g.inDegree[n.ID] = 0
	}

	for _, e := range edges {
		if _, ok := g.index[e.Source]; !ok {
			continue
		}
		if _, ok := g.index[e.Target]; !ok {
			continue
		}
		g.adjacent[e.Source] = append(g.adjacent[e.Source], e.Target)
		g.inDegree[e.Target]++
		g.outCount[e.Source]++
	}

	return g
}

// Order returns the nodes in a dependency-respecting sequence using Kahn's
// algorithm with a FIFO queue. When several nodes reach zero in-degree at the
// same time, declaration order breaks the tie. Nodes caught in a cycle are
// returned separately and are never scheduled; the caller decides how loudly
// to complain.
func (g *Graph) Order() (ordered []workflow.Node, cyclic []string) {
	inDegree := make(map[string]int, len(g.inDegree))
	for id, d := range g.inDegree {
		inDegree[id] = d
	}

	queue := make([]string, 0, len(g.nodes))
	for _, n := range g.nodes {
		if inDegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}

	ordered = make([]workflow.Node, 0, len(g.nodes))
	scheduled := make(map[string]bool, len(g.nodes))

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		ordered = append(ordered, g.nodes[g.index[current]])
		scheduled[current] = true

		// Collect neighbors that just reached zero, then enqueue them in
		// declaration order so sibling ordering stays deterministic.
		var ready []string
		for _, neighbor := range g.adjacent[current] {
			inDegree[neighbor]--
			if inDegree[neighbor] == 0 {
				ready = append(ready, neighbor)
			}
		}
		if len(ready) > 1 {
			sortByDeclaration(ready, g.index)
		}
		queue = append(queue, ready...)
	}

	if len(ordered) < len(g.nodes) {
		for _, n := range g.nodes {
			if !scheduled[n.ID] {
				cyclic = append(cyclic, n.ID)
			}
		}
	}

	return ordered, cyclic
}

// Terminals returns node IDs with no outgoing edges, in declaration order.
// These are the candidates for a run's final output.
func (g *Graph) Terminals() []string {
	var terminals []string
	for _, n := range g.nodes {
		if g.outCount[n.ID] == 0 {
			terminals = append(terminals, n.ID)
		}
	}
	return terminals
}

// HasCycle reports whether any node is unreachable by topological ordering.
func (g *Graph) HasCycle() bool {
	_, cyclic := g.Order()
	return len(cyclic) > 0
}

func sortByDeclaration(ids []string, index map[string]int) {
	// Insertion sort; sibling groups are tiny.
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && index[ids[j]] < index[ids[j-1]]; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
}
