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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context, State) (any, error) { return nil, nil }

func route(key string) Router {
	return func(context.Context, State) (string, error) { return key, nil }
}

func TestCompile(t *testing.T) {
	tests := []struct {
		name    string
		build   func(sg *StateGraph)
		problem string
	}{
		{
			name: "linear",
			build: func(sg *StateGraph) {
				sg.AddNode("a", noop).AddNode("b", noop)
				sg.AddEdge(Start, "a").AddEdge("a", "b").SetFinishPoint("b")
			},
		},
		{
			name: "conditional with end",
			build: func(sg *StateGraph) {
				sg.AddNode("a", noop).AddNode("b", noop)
				sg.SetEntryPoint("a")
				sg.AddConditionalEdges("a", route("x"), map[string]string{"x": "b", "done": End})
				sg.AddEdge("b", "a")
			},
		},
		{
			name: "destinations count as edges",
			build: func(sg *StateGraph) {
				sg.AddNode("a", noop, WithDestinations("b", End)).AddNode("b", noop)
				sg.SetEntryPoint("a").SetFinishPoint("b")
			},
		},
		{
			name: "undeclared edge target",
			build: func(sg *StateGraph) {
				sg.AddNode("a", noop)
				sg.SetEntryPoint("a").AddEdge("a", "ghost")
			},
			problem: `target "ghost" is not a declared node`,
		},
		{
			name: "undeclared edge source",
			build: func(sg *StateGraph) {
				sg.AddNode("a", noop)
				sg.SetEntryPoint("a").SetFinishPoint("a").AddEdge("ghost", "a")
			},
			problem: `source "ghost" is not a declared node`,
		},
		{
			name: "undeclared conditional target",
			build: func(sg *StateGraph) {
				sg.AddNode("a", noop)
				sg.SetEntryPoint("a")
				sg.AddConditionalEdges("a", route("x"), map[string]string{"x": "ghost"})
			},
			problem: `targets undeclared node "ghost"`,
		},
		{
			name: "node without outgoing edge",
			build: func(sg *StateGraph) {
				sg.AddNode("a", noop).AddNode("b", noop)
				sg.SetEntryPoint("a").AddEdge("a", "b")
			},
			problem: `node "b" has no outgoing edge`,
		},
		{
			name: "no entry",
			build: func(sg *StateGraph) {
				sg.AddNode("a", noop).SetFinishPoint("a")
			},
			problem: "no entry point",
		},
		{
			name: "two entries",
			build: func(sg *StateGraph) {
				sg.AddNode("a", noop).AddNode("b", noop)
				sg.SetEntryPoint("a").SetEntryPoint("b").SetFinishPoint("a").SetFinishPoint("b")
			},
			problem: "multiple entry points",
		},
		{
			name: "duplicate node",
			build: func(sg *StateGraph) {
				sg.AddNode("a", noop).AddNode("a", noop)
				sg.SetEntryPoint("a").SetFinishPoint("a")
			},
			problem: `node "a" declared twice`,
		},
		{
			name: "reserved name",
			build: func(sg *StateGraph) {
				sg.AddNode(End, noop).AddNode("a", noop)
				sg.SetEntryPoint("a").SetFinishPoint("a")
			},
			problem: "is reserved",
		},
		{
			name: "interrupt on undeclared node",
			build: func(sg *StateGraph) {
				sg.AddNode("a", noop)
				sg.SetEntryPoint("a").SetFinishPoint("a").InterruptBefore("ghost")
			},
			problem: `interrupt before "ghost"`,
		},
		{
			name: "empty mapping",
			build: func(sg *StateGraph) {
				sg.AddNode("a", noop)
				sg.SetEntryPoint("a")
				sg.AddConditionalEdges("a", route("x"), nil)
			},
			problem: "empty mapping",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sg := NewStateGraph(NewStateSchema())
			tt.build(sg)
			g, err := sg.Compile()
			if tt.problem == "" {
				require.NoError(t, err)
				require.NotNil(t, g)
				return
			}
			var ce *GraphConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.Nil(t, g)
			assert.True(t, containsProblem(ce.Problems, tt.problem), "problems %v lack %q", ce.Problems, tt.problem)
		})
	}
}

func containsProblem(problems []string, want string) bool {
	for _, p := range problems {
		if strings.Contains(p, want) {
			return true
		}
	}
	return false
}

func TestCompileReportsEveryProblem(t *testing.T) {
	sg := NewStateGraph(nil)
	sg.AddNode("a", noop).AddNode("b", noop)
	sg.AddEdge("a", "ghost")
	_, err := sg.Compile()
	var ce *GraphConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.True(t, containsProblem(ce.Problems, "no entry point"))
	assert.True(t, containsProblem(ce.Problems, `target "ghost"`))
	assert.True(t, containsProblem(ce.Problems, `node "b" has no outgoing edge`))
}

func TestCompiledGraphIsIndependentOfBuilder(t *testing.T) {
	sg := NewStateGraph(nil)
	sg.AddNode("a", noop).AddNode("b", noop)
	sg.SetEntryPoint("a").AddEdge("a", "b").SetFinishPoint("b").InterruptBefore("b")
	g := sg.MustCompile()

	sg.AddNode("c", noop).AddEdge("b", "c")

	assert.Equal(t, []string{"a", "b"}, g.Nodes())
	assert.Equal(t, "a", g.Entry())
	assert.Equal(t, []string{"b"}, g.Interrupts(Before))
	assert.Empty(t, g.Interrupts(After))

	id, ok := g.NodeID("b")
	require.True(t, ok)
	assert.Equal(t, "b", g.NodeName(id))
	end, ok := g.NodeID(End)
	require.True(t, ok)
	assert.Equal(t, EndNode, end)
	_, ok = g.NodeID("c")
	assert.False(t, ok)
	assert.Equal(t, "", g.NodeName(NodeID(42)))

	n, ok := g.Node("a")
	require.True(t, ok)
	assert.Equal(t, NodeTypeFunction, n.Type)
}

func TestCompiledSchemaIsIndependentOfBuilder(t *testing.T) {
	schema := NewStateSchema().AddField("text", StateField{})
	sg := NewStateGraph(schema)
	sg.AddNode("a", noop).SetEntryPoint("a").SetFinishPoint("a")
	g := sg.MustCompile()

	schema.AddField("late", StateField{})

	_, ok := g.Schema().Field("late")
	assert.False(t, ok)
	_, ok = g.Schema().Field("text")
	assert.True(t, ok)
	_, err := g.Schema().Merge(State{}, State{"late": "x"})
	assert.ErrorIs(t, err, ErrUnknownChannel)
}

func TestMustCompilePanics(t *testing.T) {
	assert.Panics(t, func() { NewStateGraph(nil).MustCompile() })
}

func TestDOT(t *testing.T) {
	sg := NewStateGraph(nil)
	sg.AddNode("chatbot", noop, WithNodeType(NodeTypeLLM)).
		AddNode("tools", noop, WithNodeType(NodeTypeTool), WithName("Tools \"node\""))
	sg.SetEntryPoint("chatbot").AddEdge("tools", "chatbot")
	sg.AddConditionalEdges("chatbot", route(End), map[string]string{"tools": "tools", End: End})
	sg.InterruptBefore("tools")
	g := sg.MustCompile()

	dot := g.DOT(WithGraphLabel("chat"), WithRankDir(RankDirTB))
	assert.True(t, strings.HasPrefix(dot, "digraph G {"))
	assert.Contains(t, dot, "rankdir=TB;")
	assert.Contains(t, dot, `label="chat";`)
	assert.Contains(t, dot, `"__start__" -> "chatbot";`)
	assert.Contains(t, dot, `"tools" -> "chatbot";`)
	assert.Contains(t, dot, `"chatbot" -> "tools" [style=dashed`)
	assert.Contains(t, dot, `"chatbot" -> "__end__" [style=dashed`)
	assert.Contains(t, dot, `Tools \"node\"`)
	assert.Contains(t, dot, "peripheries=2")

	hidden := g.DOT(WithIncludeStartEnd(false))
	assert.NotContains(t, hidden, "__start__")
	assert.NotContains(t, hidden, "__end__")

	var b strings.Builder
	require.NoError(t, g.WriteDOT(&b))
	assert.Equal(t, g.DOT(), b.String())
}
