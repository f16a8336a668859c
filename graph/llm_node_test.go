//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package graph_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-agent-graph/graph"
	"trpc.group/trpc-go/trpc-agent-graph/model"
	"trpc.group/trpc-go/trpc-agent-graph/model/modeltest"
	"trpc.group/trpc-go/trpc-agent-graph/tool"
	"trpc.group/trpc-go/trpc-agent-graph/tool/function"
)

type addArgs struct {
	A int `json:"a"`
	B int `json:"b"`
}

type addResult struct {
	Sum int `json:"sum"`
}

func addTool() tool.Tool {
	return function.NewFunctionTool(func(_ context.Context, in addArgs) (addResult, error) {
		return addResult{Sum: in.A + in.B}, nil
	}, function.WithName("add"), function.WithDescription("adds two numbers"))
}

// chatGraph is llm -> (tools -> llm)* -> End.
func chatGraph(t *testing.T, llm model.Model, tools map[string]tool.Tool, llmOpts ...graph.Option) *graph.Executor {
	t.Helper()
	sg := graph.NewStateGraph(graph.MessagesSchema())
	sg.AddNode("llm", graph.NewLLMNodeFunc(llm, "be brief", tools), append(llmOpts, graph.WithNodeType(graph.NodeTypeLLM))...)
	sg.AddNode("tools", graph.NewToolsNodeFunc(tools), graph.WithNodeType(graph.NodeTypeTool))
	sg.SetEntryPoint("llm")
	sg.AddConditionalEdges("llm", graph.ToolsRouter, map[string]string{"tools": "tools", graph.End: graph.End})
	sg.AddEdge("tools", "llm")
	exec, _ := newExecutor(t, sg.MustCompile())
	return exec
}

func userInput(text string) graph.State {
	return graph.State{graph.StateKeyMessages: []model.Message{model.NewUserMessage(text)}}
}

func TestLLMNodeAppendsAnswer(t *testing.T) {
	llm := modeltest.New(modeltest.Text("hello there"))
	exec := chatGraph(t, llm, nil)

	res, err := exec.Invoke(context.Background(), "t1", userInput("hi"))
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, "hello there", res.State[graph.StateKeyLastResponse])

	msgs := graph.Messages(res.State)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "hello there", msgs[1].Content)

	reqs := llm.Requests()
	require.Len(t, reqs, 1)
	require.Len(t, reqs[0].Messages, 2)
	assert.Equal(t, model.NewSystemMessage("be brief"), reqs[0].Messages[0])
	assert.Equal(t, "hi", reqs[0].Messages[1].Content)
}

func TestLLMNodeToolLoop(t *testing.T) {
	llm := modeltest.New(
		modeltest.ToolCall("call-1", "add", `{"a":1,"b":2}`),
		modeltest.Text("the sum is 3"),
	)
	tools := tool.Index(addTool())
	exec := chatGraph(t, llm, tools)

	res, err := exec.Invoke(context.Background(), "t1", userInput("1+2?"))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Step)

	msgs := graph.Messages(res.State)
	require.Len(t, msgs, 4)
	assert.Len(t, msgs[1].ToolCalls, 1)
	assert.Equal(t, model.RoleTool, msgs[2].Role)
	assert.Equal(t, "call-1", msgs[2].ToolID)
	assert.Equal(t, "add", msgs[2].ToolName)
	assert.JSONEq(t, `{"sum":3}`, msgs[2].Content)
	assert.Equal(t, "the sum is 3", msgs[3].Content)

	reqs := llm.Requests()
	require.Len(t, reqs, 2)
	assert.Contains(t, reqs[0].Tools, "add")
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	assert.Equal(t, model.RoleTool, last.Role)
}

func TestLLMNodeCapabilityErrors(t *testing.T) {
	tests := []struct {
		name  string
		reply modeltest.Reply
		kind  string
	}{
		{"rate limited", modeltest.Failure(model.ErrorTypeRateLimited, "slow down"), graph.KindRateLimited},
		{"network", modeltest.Failure(model.ErrorTypeNetwork, "unreachable"), graph.KindNetworkUnavailable},
		{"malformed", modeltest.Failure(model.ErrorTypeMalformedResponse, "bad json"), graph.KindMalformedResponse},
		{"no choices", modeltest.Reply{Response: &model.Response{Done: true}}, graph.KindMalformedResponse},
		{"call failed", modeltest.Reply{Err: errors.New("dial tcp: refused")}, graph.KindUnknown},
		{"deadline", modeltest.Reply{Err: context.DeadlineExceeded}, graph.KindNetworkUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := chatGraph(t, modeltest.New(tt.reply), nil)
			_, err := exec.Invoke(context.Background(), "t1", userInput("hi"))

			var ne *graph.NodeExecutionError
			require.ErrorAs(t, err, &ne)
			assert.Equal(t, "llm", ne.Node)
			var ce *graph.CapabilityError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, graph.CapabilityLLM, ce.Capability)
			assert.Equal(t, tt.kind, ce.Kind)
			assert.Equal(t, "scripted", ce.Name)
			assert.True(t, graph.IsCapabilityKind(err, tt.kind))
		})
	}
}

func TestLLMNodeRetriesRateLimit(t *testing.T) {
	llm := modeltest.New(
		modeltest.Failure(model.ErrorTypeRateLimited, "slow down"),
		modeltest.Text("ok"),
	)
	exec := chatGraph(t, llm, nil, graph.WithRetryPolicy(graph.RetryPolicy{
		MaxAttempts: 2,
		RetryOn:     []graph.RetryCondition{graph.RetryOnCapability(graph.KindRateLimited)},
	}))

	res, err := exec.Invoke(context.Background(), "t1", userInput("hi"))
	require.NoError(t, err)
	assert.Equal(t, "ok", res.State[graph.StateKeyLastResponse])
	assert.Len(t, llm.Requests(), 2)
}

func toolFailureCases() []struct {
	name  string
	tools map[string]tool.Tool
	args  string
} {
	failing := function.NewFunctionTool(func(context.Context, addArgs) (addResult, error) {
		return addResult{}, errors.New("overflow")
	}, function.WithName("add"))
	return []struct {
		name  string
		tools map[string]tool.Tool
		args  string
	}{
		{"unknown tool", nil, `{}`},
		{"tool error", tool.Index(failing), `{"a":1}`},
		{"bad arguments", tool.Index(addTool()), `not json`},
	}
}

func TestToolsNodeAnswersFailures(t *testing.T) {
	for _, tt := range toolFailureCases() {
		t.Run(tt.name, func(t *testing.T) {
			llm := modeltest.New(modeltest.ToolCall("c1", "add", tt.args), modeltest.Text("sorry"))
			exec := chatGraph(t, llm, tt.tools)
			res, err := exec.Invoke(context.Background(), "t1", userInput("hi"))
			require.NoError(t, err)
			assert.True(t, res.Completed)

			msgs := graph.Messages(res.State)
			require.Len(t, msgs, 4)
			assert.Equal(t, model.RoleTool, msgs[2].Role)
			assert.Equal(t, "c1", msgs[2].ToolID)
			assert.True(t, strings.HasPrefix(msgs[2].Content, "Error: "))
			assert.Contains(t, msgs[2].Content, graph.KindToolFailed)

			reqs := llm.Requests()
			require.Len(t, reqs, 2)
			second := reqs[1].Messages
			assert.Equal(t, model.RoleTool, second[len(second)-1].Role)
		})
	}
}

func TestToolsNodeErrorsPropagated(t *testing.T) {
	for _, tt := range toolFailureCases() {
		t.Run(tt.name, func(t *testing.T) {
			llm := modeltest.New(modeltest.ToolCall("c1", "add", tt.args))
			sg := graph.NewStateGraph(graph.MessagesSchema())
			sg.AddNode("llm", graph.NewLLMNodeFunc(llm, "", tt.tools))
			sg.AddNode("tools", graph.NewToolsNodeFunc(tt.tools, graph.WithToolErrorsPropagated()))
			sg.SetEntryPoint("llm")
			sg.AddConditionalEdges("llm", graph.ToolsRouter, map[string]string{"tools": "tools", graph.End: graph.End})
			sg.AddEdge("tools", "llm")
			exec, _ := newExecutor(t, sg.MustCompile())

			_, err := exec.Invoke(context.Background(), "t1", userInput("hi"))
			var ne *graph.NodeExecutionError
			require.ErrorAs(t, err, &ne)
			assert.Equal(t, "tools", ne.Node)
			assert.True(t, graph.IsCapabilityKind(err, graph.KindToolFailed))
		})
	}
}

func TestToolsNodeNeedsAssistantMessage(t *testing.T) {
	fn := graph.NewToolsNodeFunc(nil)
	_, err := fn(context.Background(), graph.State{})
	assert.Error(t, err)
	_, err = fn(context.Background(), userInput("hi"))
	assert.ErrorContains(t, err, "want assistant")
}

func TestToolsRouter(t *testing.T) {
	key, err := graph.ToolsRouter(context.Background(), graph.State{})
	require.NoError(t, err)
	assert.Equal(t, graph.End, key)

	call := model.NewAssistantMessage("")
	call.ToolCalls = []model.ToolCall{{ID: "c1", Function: model.FunctionDefinitionParam{Name: "add"}}}
	key, err = graph.ToolsRouter(context.Background(), graph.State{graph.StateKeyMessages: []model.Message{call}})
	require.NoError(t, err)
	assert.Equal(t, "tools", key)
}

// Conversation state written by the LLM node survives a JSON round trip
// through a checkpoint and is re-typed by the schema.
func TestMessagesSurviveRestore(t *testing.T) {
	llm := modeltest.New(modeltest.ToolCall("c1", "add", `{"a":2,"b":2}`), modeltest.Text("4"))
	exec := chatGraph(t, llm, tool.Index(addTool()))
	res, err := exec.Invoke(context.Background(), "t1", userInput("2+2?"))
	require.NoError(t, err)

	raw, err := json.Marshal(res.State)
	require.NoError(t, err)
	var decoded graph.State
	require.NoError(t, json.Unmarshal(raw, &decoded))
	restored, err := graph.MessagesSchema().Restore(decoded)
	require.NoError(t, err)
	assert.Equal(t, graph.Messages(res.State), graph.Messages(restored))
}
