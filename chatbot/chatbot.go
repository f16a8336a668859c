//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package chatbot builds the Russian speaking assistant graph: a chatbot
// node backed by a model, a tools node with the current time tool, and a
// router between them.
package chatbot

import (
	"context"
	"errors"
	"strings"
	"time"

	"trpc.group/trpc-go/trpc-agent-graph/graph"
	"trpc.group/trpc-go/trpc-agent-graph/log"
	"trpc.group/trpc-go/trpc-agent-graph/model"
	"trpc.group/trpc-go/trpc-agent-graph/tool"
)

// Node names.
const (
	NodeChatbot = "chatbot"
	NodeTools   = "tools"
)

// DefaultTemperature is the sampling temperature of the chatbot.
const DefaultTemperature = 0.7

// SystemPrompt is the instruction sent ahead of every conversation.
const SystemPrompt = "You are a helpful AI assistant that responds in Russian language. " +
	"You can answer questions and use available tools to provide accurate information. " +
	"IMPORTANT: Only use tools when the user specifically requests that functionality. " +
	"For example, only use the time tool when the user asks about the current time. " +
	"Do NOT use tools for general questions about your capabilities or other topics. " +
	"When using tools, provide the final answer to the user without sharing your thought process or reasoning. " +
	"Be concise, helpful, and maintain a friendly conversational tone. " +
	"Always respond in Russian, even if the user asks in another language."

var exitCommands = map[string]bool{"quit": true, "exit": true, "bye": true, "выход": true}

// IsExitCommand reports whether input ends the chat.
func IsExitCommand(input string) bool {
	return exitCommands[strings.ToLower(strings.TrimSpace(input))]
}

// Option configures the chatbot graph.
type Option func(*options)

type options struct {
	instruction     string
	temperature     float64
	maxTokens       int
	clock           func() time.Time
	propagateErrors bool
	extraTools      []tool.Tool
	nodeTimeout     time.Duration
	retry           *graph.RetryPolicy
	approveTools    bool
}

// WithInstruction replaces SystemPrompt.
func WithInstruction(instruction string) Option {
	return func(o *options) { o.instruction = instruction }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *options) { o.temperature = t }
}

// WithMaxTokens caps the answer length. Zero leaves it to the model.
func WithMaxTokens(n int) Option {
	return func(o *options) { o.maxTokens = n }
}

// WithClock sets the time source of the time tool.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// WithTools adds tools next to get_current_time.
func WithTools(tools ...tool.Tool) Option {
	return func(o *options) { o.extraTools = append(o.extraTools, tools...) }
}

// WithPropagateErrors makes model and tool failures fail the run instead of
// being answered with an error message.
func WithPropagateErrors() Option {
	return func(o *options) { o.propagateErrors = true }
}

// WithNodeTimeout bounds each model call.
func WithNodeTimeout(d time.Duration) Option {
	return func(o *options) { o.nodeTimeout = d }
}

// WithRetryPolicy retries failed model calls.
func WithRetryPolicy(p graph.RetryPolicy) Option {
	return func(o *options) { o.retry = &p }
}

// WithToolApproval pauses the run before every tool call. Resume with
// user_input set to an approval word (see IsApproval) to run the tools;
// anything else answers each call with a refusal.
func WithToolApproval() Option {
	return func(o *options) { o.approveTools = true }
}

// New builds the compiled chatbot graph on llm.
func New(llm model.Model, opts ...Option) (*graph.Graph, error) {
	if llm == nil {
		return nil, errors.New("chatbot: nil model")
	}
	o := options{
		instruction: SystemPrompt,
		temperature: DefaultTemperature,
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	tools := tool.Index(append([]tool.Tool{NewTimeTool(o.clock)}, o.extraTools...)...)

	cfg := model.GenerationConfig{Temperature: &o.temperature}
	if o.maxTokens > 0 {
		cfg.MaxTokens = &o.maxTokens
	}
	chat := graph.NewLLMNodeFunc(llm, o.instruction, tools, graph.WithGenerationConfig(cfg))
	if !o.propagateErrors {
		chat = answerFailures(chat)
	}

	chatOpts := []graph.Option{
		graph.WithNodeType(graph.NodeTypeLLM),
		graph.WithDescription("answers the conversation with " + llm.Info().Name),
	}
	if o.nodeTimeout > 0 {
		chatOpts = append(chatOpts, graph.WithTimeout(o.nodeTimeout))
	}
	if o.retry != nil {
		chatOpts = append(chatOpts, graph.WithRetryPolicy(*o.retry))
	}

	sg := graph.NewStateGraph(graph.MessagesSchema())
	sg.AddNode(NodeChatbot, chat, chatOpts...)
	var toolsOpts []graph.ToolsNodeOption
	if o.propagateErrors {
		toolsOpts = append(toolsOpts, graph.WithToolErrorsPropagated())
	}
	runTools := graph.NewToolsNodeFunc(tools, toolsOpts...)
	if o.approveTools {
		runTools = approveFirst(runTools)
	}
	sg.AddNode(NodeTools, runTools,
		graph.WithNodeType(graph.NodeTypeTool),
		graph.WithDescription("runs the requested tools"))
	sg.AddEdge(graph.Start, NodeChatbot)
	sg.AddConditionalEdges(NodeChatbot, graph.ToolsRouter, map[string]string{
		NodeTools: NodeTools,
		graph.End: graph.End,
	})
	sg.AddEdge(NodeTools, NodeChatbot)
	return sg.Compile()
}

// answerFailures turns a failed model call into an assistant message so the
// conversation goes on. Cancellation still fails the run.
func answerFailures(next graph.NodeFunc) graph.NodeFunc {
	return func(ctx context.Context, state graph.State) (any, error) {
		res, err := next(ctx, state)
		var ce *graph.CapabilityError
		if err == nil || !errors.As(err, &ce) || ctx.Err() != nil {
			return res, err
		}
		log.Errorf("chatbot: model call failed (%s): %v", ce.Kind, err)
		text := "Ошибка: " + err.Error()
		return graph.State{
			graph.StateKeyMessages:     []model.Message{model.NewAssistantMessage(text)},
			graph.StateKeyLastResponse: text,
		}, nil
	}
}
