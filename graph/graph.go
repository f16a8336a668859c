//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"context"
	"sort"
	"time"
)

// Special node names.
const (
	// Start is the virtual source node. AddEdge(Start, x) declares x as the entry.
	Start = "__start__"
	// End is the virtual sink node. Routing to End terminates the run.
	End = "__end__"
)

// NodeID is the compiled identifier of a node. IDs are dense, assigned in
// declaration order, and only meaningful for the Graph that issued them.
type NodeID int

// EndNode is the NodeID of End.
const EndNode NodeID = -1

// NodeFunc is a unit of work. It receives a private copy of the state and
// returns nil, a State holding the channels to write, or a *Command.
type NodeFunc func(ctx context.Context, state State) (any, error)

// Router picks an outgoing branch. The returned key is looked up in the
// mapping given to AddConditionalEdges.
type Router func(ctx context.Context, state State) (string, error)

// Command lets a node write state and pick its successor in one result.
type Command struct {
	Update State
	// GoTo names the next node. Empty means follow the declared edges.
	GoTo string
}

// When says on which side of a node an interrupt fires.
type When string

// Interrupt positions.
const (
	Before When = "before"
	After  When = "after"
	// Dynamic marks a pause requested by the node itself.
	Dynamic When = "dynamic"
)

// Node is a compiled node.
type Node struct {
	ID          NodeID
	Name        string
	Label       string
	Description string
	Type        NodeType

	fn           NodeFunc
	timeout      time.Duration
	retry        *RetryPolicy
	destinations []string
}

type conditionalEdge struct {
	router  Router
	mapping map[string]NodeID
}

// Graph is a compiled, immutable graph.
type Graph struct {
	schema      *StateSchema
	nodes       []*Node
	byName      map[string]NodeID
	entry       NodeID
	edges       [][]NodeID
	conditional []*conditionalEdge
	gotoAllowed []map[NodeID]bool
	before      []bool
	after       []bool
}

// Schema returns the state schema.
func (g *Graph) Schema() *StateSchema { return g.schema }

// Entry returns the entry node name.
func (g *Graph) Entry() string { return g.nodes[g.entry].Name }

// NodeID resolves a node name. End resolves to EndNode.
func (g *Graph) NodeID(name string) (NodeID, bool) {
	if name == End {
		return EndNode, true
	}
	id, ok := g.byName[name]
	return id, ok
}

// NodeName returns the name of id.
func (g *Graph) NodeName(id NodeID) string {
	if id == EndNode {
		return End
	}
	if id < 0 || int(id) >= len(g.nodes) {
		return ""
	}
	return g.nodes[id].Name
}

// Node returns the compiled node called name.
func (g *Graph) Node(name string) (*Node, bool) {
	id, ok := g.byName[name]
	if !ok {
		return nil, false
	}
	return g.nodes[id], true
}

// Nodes returns node names in declaration order.
func (g *Graph) Nodes() []string {
	out := make([]string, len(g.nodes))
	for i, n := range g.nodes {
		out[i] = n.Name
	}
	return out
}

// Interrupts returns the statically marked nodes for a position.
func (g *Graph) Interrupts(when When) []string {
	marks := g.before
	if when == After {
		marks = g.after
	}
	var out []string
	for i, m := range marks {
		if m {
			out = append(out, g.nodes[i].Name)
		}
	}
	return out
}

// conditionalTargets lists the mapping keys of a node's router, sorted.
func (g *Graph) conditionalTargets(id NodeID) []string {
	ce := g.conditional[id]
	if ce == nil {
		return nil
	}
	keys := make([]string, 0, len(ce.mapping))
	for k := range ce.mapping {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
