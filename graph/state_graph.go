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
	"fmt"
	"time"
)

// StateGraph builds a Graph. Methods record misuse instead of panicking; every
// problem is reported together by Compile.
type StateGraph struct {
	schema      *StateSchema
	nodes       []*Node
	index       map[string]int
	edges       [][2]string
	conditional map[string]*conditionalSpec
	condOrder   []string
	entries     []string
	marks       []markSpec
	problems    []string
}

type conditionalSpec struct {
	router  Router
	mapping map[string]string
}

type markSpec struct {
	node string
	when When
}

// NewStateGraph creates a builder over schema.
func NewStateGraph(schema *StateSchema) *StateGraph {
	if schema == nil {
		schema = NewStateSchema()
	}
	return &StateGraph{
		schema:      schema,
		index:       make(map[string]int),
		conditional: make(map[string]*conditionalSpec),
	}
}

// Option configures a node.
type Option func(*Node)

// WithName sets the display label of the node. The name passed to AddNode
// stays the routing key.
func WithName(label string) Option {
	return func(n *Node) { n.Label = label }
}

// WithDescription sets the description of the node.
func WithDescription(description string) Option {
	return func(n *Node) { n.Description = description }
}

// WithNodeType sets the type of the node.
func WithNodeType(t NodeType) Option {
	return func(n *Node) { n.Type = t }
}

// WithTimeout bounds a single invocation of the node. It overrides the
// executor wide node timeout.
func WithTimeout(d time.Duration) Option {
	return func(n *Node) { n.timeout = d }
}

// WithRetryPolicy retries the node on matching failures.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(n *Node) { n.retry = &p }
}

// WithDestinations declares the nodes a Command returned by this node may
// route to. Declared destinations count as outgoing edges.
func WithDestinations(names ...string) Option {
	return func(n *Node) { n.destinations = append(n.destinations, names...) }
}

// AddNode registers a node under name.
func (sg *StateGraph) AddNode(name string, fn NodeFunc, opts ...Option) *StateGraph {
	switch {
	case name == "":
		sg.problemf("node with empty name")
		return sg
	case name == Start || name == End:
		sg.problemf("node name %q is reserved", name)
		return sg
	case fn == nil:
		sg.problemf("node %q has nil function", name)
		return sg
	}
	if _, dup := sg.index[name]; dup {
		sg.problemf("node %q declared twice", name)
		return sg
	}
	n := &Node{Name: name, Label: name, Type: NodeTypeFunction, fn: fn}
	for _, opt := range opts {
		opt(n)
	}
	sg.index[name] = len(sg.nodes)
	sg.nodes = append(sg.nodes, n)
	return sg
}

// AddEdge adds an unconditional edge.
func (sg *StateGraph) AddEdge(from, to string) *StateGraph {
	if from == Start {
		return sg.SetEntryPoint(to)
	}
	sg.edges = append(sg.edges, [2]string{from, to})
	return sg
}

// AddConditionalEdges routes out of from through router. The router's result
// must be a key of mapping; the value is the target node (or End).
func (sg *StateGraph) AddConditionalEdges(from string, router Router, mapping map[string]string) *StateGraph {
	if router == nil {
		sg.problemf("conditional edge from %q has nil router", from)
		return sg
	}
	if _, dup := sg.conditional[from]; dup {
		sg.problemf("node %q has more than one conditional edge", from)
		return sg
	}
	m := make(map[string]string, len(mapping))
	for k, v := range mapping {
		m[k] = v
	}
	sg.conditional[from] = &conditionalSpec{router: router, mapping: m}
	sg.condOrder = append(sg.condOrder, from)
	return sg
}

// SetEntryPoint designates the node a fresh run starts at.
func (sg *StateGraph) SetEntryPoint(name string) *StateGraph {
	for _, e := range sg.entries {
		if e == name {
			return sg
		}
	}
	sg.entries = append(sg.entries, name)
	return sg
}

// SetFinishPoint designates name as terminal by routing it to End.
func (sg *StateGraph) SetFinishPoint(name string) *StateGraph {
	return sg.AddEdge(name, End)
}

// Mark attaches an interrupt to a node.
func (sg *StateGraph) Mark(node string, when When) *StateGraph {
	if when != Before && when != After {
		sg.problemf("interrupt on %q has invalid position %q", node, when)
		return sg
	}
	sg.marks = append(sg.marks, markSpec{node: node, when: when})
	return sg
}

// InterruptBefore marks nodes to pause before they run.
func (sg *StateGraph) InterruptBefore(nodes ...string) *StateGraph {
	for _, n := range nodes {
		sg.Mark(n, Before)
	}
	return sg
}

// InterruptAfter marks nodes to pause after they run.
func (sg *StateGraph) InterruptAfter(nodes ...string) *StateGraph {
	for _, n := range nodes {
		sg.Mark(n, After)
	}
	return sg
}

func (sg *StateGraph) problemf(format string, args ...any) {
	sg.problems = append(sg.problems, fmt.Sprintf(format, args...))
}

// Compile validates the definition and returns the immutable Graph. Every
// problem is reported in a single *GraphConfigurationError.
func (sg *StateGraph) Compile() (*Graph, error) {
	problems := append([]string(nil), sg.problems...)
	addf := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	g := &Graph{
		schema:      sg.schema.Clone(),
		nodes:       make([]*Node, len(sg.nodes)),
		byName:      make(map[string]NodeID, len(sg.nodes)),
		entry:       EndNode,
		edges:       make([][]NodeID, len(sg.nodes)),
		conditional: make([]*conditionalEdge, len(sg.nodes)),
		gotoAllowed: make([]map[NodeID]bool, len(sg.nodes)),
		before:      make([]bool, len(sg.nodes)),
		after:       make([]bool, len(sg.nodes)),
	}
	for i, n := range sg.nodes {
		cp := *n
		cp.ID = NodeID(i)
		cp.destinations = append([]string(nil), n.destinations...)
		g.nodes[i] = &cp
		g.byName[n.Name] = cp.ID
	}
	resolve := func(name string) (NodeID, bool) {
		if name == End {
			return EndNode, true
		}
		id, ok := g.byName[name]
		return id, ok
	}

	switch len(sg.entries) {
	case 0:
		addf("no entry point")
	case 1:
		id, ok := g.byName[sg.entries[0]]
		if !ok {
			addf("entry point %q is not a declared node", sg.entries[0])
		} else {
			g.entry = id
		}
	default:
		addf("multiple entry points %v", sg.entries)
	}

	outgoing := make([]int, len(sg.nodes))
	for _, e := range sg.edges {
		from, okFrom := g.byName[e[0]]
		to, okTo := resolve(e[1])
		if !okFrom {
			addf("edge %s -> %s: source %q is not a declared node", e[0], e[1], e[0])
		}
		if !okTo {
			addf("edge %s -> %s: target %q is not a declared node", e[0], e[1], e[1])
		}
		if !okFrom || !okTo {
			continue
		}
		if !containsID(g.edges[from], to) {
			g.edges[from] = append(g.edges[from], to)
		}
		outgoing[from]++
	}

	for _, from := range sg.condOrder {
		pending := sg.conditional[from]
		id, ok := g.byName[from]
		if !ok {
			addf("conditional edge source %q is not a declared node", from)
			continue
		}
		if len(pending.mapping) == 0 {
			addf("conditional edge from %q has an empty mapping", from)
			continue
		}
		ce := &conditionalEdge{router: pending.router, mapping: make(map[string]NodeID, len(pending.mapping))}
		valid := true
		for key, target := range pending.mapping {
			tid, ok := resolve(target)
			if !ok {
				addf("conditional edge from %q: key %q targets undeclared node %q", from, key, target)
				valid = false
				continue
			}
			ce.mapping[key] = tid
		}
		if valid {
			g.conditional[id] = ce
			outgoing[id]++
		}
	}

	for i, n := range g.nodes {
		if len(n.destinations) == 0 {
			continue
		}
		allowed := make(map[NodeID]bool, len(n.destinations))
		for _, d := range n.destinations {
			tid, ok := resolve(d)
			if !ok {
				addf("node %q: destination %q is not a declared node", n.Name, d)
				continue
			}
			allowed[tid] = true
		}
		g.gotoAllowed[i] = allowed
		outgoing[i] += len(allowed)
	}

	for i, n := range g.nodes {
		if outgoing[i] == 0 {
			addf("node %q has no outgoing edge", n.Name)
		}
	}

	for _, m := range sg.marks {
		id, ok := g.byName[m.node]
		if !ok {
			addf("interrupt %s %q: not a declared node", m.when, m.node)
			continue
		}
		if m.when == Before {
			g.before[id] = true
		} else {
			g.after[id] = true
		}
	}

	if len(problems) > 0 {
		return nil, &GraphConfigurationError{Problems: problems}
	}
	return g, nil
}

// MustCompile is Compile that panics on error.
func (sg *StateGraph) MustCompile() *Graph {
	g, err := sg.Compile()
	if err != nil {
		panic(err)
	}
	return g
}

func containsID(ids []NodeID, id NodeID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
