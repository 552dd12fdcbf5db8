// Package graph implements the workload dependency graph: a DAG with cycle
// detection, dependency queries, and connected-component discovery for
// default wave partitioning.
package graph

import (
	"fmt"
	"sync"
)

// node is a single vertex keyed by workload name.
type node struct {
	id         string
	deps       map[string]*node
	dependents map[string]*node
}

// Graph is a directed dependency graph. An edge from A to B means B depends
// on A. Insertion order is preserved so traversals are deterministic.
type Graph struct {
	mutex sync.RWMutex
	nodes map[string]*node
	order []string
}

// New creates and returns an initialized, empty Graph.
func New() *Graph {
	return &Graph{nodes: make(map[string]*node)}
}

// AddNode adds a new node with the given ID to the graph. If a node with
// the same ID already exists, the function does nothing.
func (g *Graph) AddNode(id string) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if _, ok := g.nodes[id]; ok {
		return
	}

	g.nodes[id] = &node{
		id:         id,
		deps:       make(map[string]*node),
		dependents: make(map[string]*node),
	}
	g.order = append(g.order, id)
}

// AddEdge creates a directed edge from the `fromID` node to the `toID` node,
// meaning `toID` depends on `fromID`. An error is returned if either node
// does not exist or if the edge would be a self-reference.
func (g *Graph) AddEdge(fromID, toID string) error {
	if fromID == toID {
		return fmt.Errorf("self-referential edge not allowed: %s -> %s", fromID, fromID)
	}

	g.mutex.Lock()
	defer g.mutex.Unlock()

	fromNode, ok := g.nodes[fromID]
	if !ok {
		return fmt.Errorf("source node not found: %s", fromID)
	}

	toNode, ok := g.nodes[toID]
	if !ok {
		return fmt.Errorf("destination node not found: %s", toID)
	}

	toNode.deps[fromID] = fromNode
	fromNode.dependents[toID] = toNode

	return nil
}

// Nodes returns all node IDs in insertion order.
func (g *Graph) Nodes() []string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return append([]string(nil), g.order...)
}

// Dependencies returns the IDs the given node depends on, in insertion order.
func (g *Graph) Dependencies(id string) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	return g.ordered(n.deps), nil
}

// Dependents returns the IDs that depend on the given node, in insertion order.
func (g *Graph) Dependents(id string) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	return g.ordered(n.dependents), nil
}

// ordered projects a node set onto the graph's insertion order.
func (g *Graph) ordered(set map[string]*node) []string {
	out := make([]string, 0, len(set))
	for _, id := range g.order {
		if _, ok := set[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// DetectCycles checks the graph for any cycles. It returns a non-nil error
// if a cycle is found, naming the first node involved in the detected cycle.
func (g *Graph) DetectCycles() error {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	// Classic depth-first search with three node sets:
	// permanent: fully visited, known cycle-free.
	// temporary: on the current recursion stack.
	// unvisited: everything else.
	permanent := make(map[string]bool)
	temporary := make(map[string]bool)

	var visit func(n *node) error
	visit = func(n *node) error {
		if permanent[n.id] {
			return nil
		}
		if temporary[n.id] {
			return fmt.Errorf("cycle detected involving node '%s'", n.id)
		}

		temporary[n.id] = true
		for _, dependent := range n.dependents {
			if err := visit(dependent); err != nil {
				return err
			}
		}
		delete(temporary, n.id)
		permanent[n.id] = true

		return nil
	}

	for _, id := range g.order {
		if !permanent[id] {
			if err := visit(g.nodes[id]); err != nil {
				return err
			}
		}
	}

	return nil
}

// Components returns the weakly connected components of the graph, each
// listed in insertion order. Components themselves are ordered by their
// first-declared member.
func (g *Graph) Components() [][]string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	seen := make(map[string]bool)
	var components [][]string

	for _, id := range g.order {
		if seen[id] {
			continue
		}
		// Flood fill over edges in both directions.
		member := make(map[string]bool)
		stack := []string{id}
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if member[cur] {
				continue
			}
			member[cur] = true
			seen[cur] = true
			n := g.nodes[cur]
			for next := range n.deps {
				if !member[next] {
					stack = append(stack, next)
				}
			}
			for next := range n.dependents {
				if !member[next] {
					stack = append(stack, next)
				}
			}
		}
		components = append(components, g.ordered(mapToNodeSet(g, member)))
	}

	return components
}

func mapToNodeSet(g *Graph, ids map[string]bool) map[string]*node {
	set := make(map[string]*node, len(ids))
	for id := range ids {
		set[id] = g.nodes[id]
	}
	return set
}
