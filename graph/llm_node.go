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
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	itelemetry "trpc.group/trpc-go/trpc-agent-graph/internal/telemetry"
	"trpc.group/trpc-go/trpc-agent-graph/log"
	"trpc.group/trpc-go/trpc-agent-graph/model"
	"trpc.group/trpc-go/trpc-agent-graph/telemetry/trace"
	"trpc.group/trpc-go/trpc-agent-graph/tool"
)

// MessagesSchema returns the schema of a message based conversation graph.
func MessagesSchema() *StateSchema {
	schema := NewStateSchema()
	schema.AddField(StateKeyMessages, StateField{
		Type:    reflect.TypeOf([]model.Message{}),
		Reducer: MessageReducer,
		Default: func() any { return []model.Message{} },
	})
	schema.AddField(StateKeyUserInput, StateField{
		Type: reflect.TypeOf(""),
	})
	schema.AddField(StateKeyLastResponse, StateField{
		Type: reflect.TypeOf(""),
	})
	return schema
}

// Messages returns the conversation held in state.
func Messages(state State) []model.Message {
	msgs, _ := state[StateKeyMessages].([]model.Message)
	return msgs
}

// NewLLMNodeFunc creates a node that sends the conversation to llm and
// appends the assistant answer. instruction, when set, is sent as the system
// message ahead of the conversation. Failed calls are returned as
// *CapabilityError.
func NewLLMNodeFunc(llm model.Model, instruction string, tools map[string]tool.Tool, opts ...LLMNodeOption) NodeFunc {
	o := llmNodeOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	return func(ctx context.Context, state State) (any, error) {
		name := llm.Info().Name
		ctx, span := trace.Tracer.Start(ctx, itelemetry.SpanNameCallLLM)
		defer span.End()
		span.SetAttributes(attribute.String(itelemetry.KeyModel, name))

		history := Messages(state)
		messages := make([]model.Message, 0, len(history)+1)
		if instruction != "" {
			messages = append(messages, model.NewSystemMessage(instruction))
		}
		messages = append(messages, history...)

		rsp, err := generate(ctx, llm, &model.Request{
			Messages:         messages,
			GenerationConfig: o.config,
			Tools:            tools,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		msg := rsp.Choices[0].Message
		msg.Role = model.RoleAssistant
		return State{
			StateKeyMessages:     []model.Message{msg},
			StateKeyLastResponse: msg.Content,
		}, nil
	}
}

// LLMNodeOption configures NewLLMNodeFunc.
type LLMNodeOption func(*llmNodeOptions)

type llmNodeOptions struct {
	config model.GenerationConfig
}

// WithGenerationConfig sets the sampling parameters sent with each request.
func WithGenerationConfig(cfg model.GenerationConfig) LLMNodeOption {
	return func(o *llmNodeOptions) { o.config = cfg }
}

// generate drains the response stream and returns the final response.
func generate(ctx context.Context, llm model.Model, req *model.Request) (*model.Response, error) {
	name := llm.Info().Name
	ch, err := llm.GenerateContent(ctx, req)
	if err != nil {
		return nil, &CapabilityError{Capability: CapabilityLLM, Kind: llmErrorKind(err), Name: name, Err: err}
	}
	var final *model.Response
	for rsp := range ch {
		// The first error wins; keep draining so the producer never blocks.
		if rsp == nil || (final != nil && final.Error != nil) {
			continue
		}
		final = rsp
	}
	switch {
	case final == nil:
		return nil, &CapabilityError{Capability: CapabilityLLM, Kind: KindMalformedResponse, Name: name,
			Err: errors.New("model returned no response")}
	case final.Error != nil:
		return nil, &CapabilityError{Capability: CapabilityLLM, Kind: llmErrorKind(final.Error), Name: name,
			Err: final.Error}
	case len(final.Choices) == 0:
		return nil, &CapabilityError{Capability: CapabilityLLM, Kind: KindMalformedResponse, Name: name,
			Err: errors.New("model response has no choices")}
	}
	return final, nil
}

func llmErrorKind(err error) string {
	var re *model.ResponseError
	if !errors.As(err, &re) {
		if errors.Is(err, context.DeadlineExceeded) {
			return KindNetworkUnavailable
		}
		return KindUnknown
	}
	switch re.Type {
	case model.ErrorTypeRateLimited:
		return KindRateLimited
	case model.ErrorTypeNetwork:
		return KindNetworkUnavailable
	case model.ErrorTypeMalformedResponse:
		return KindMalformedResponse
	default:
		return KindUnknown
	}
}

// ToolsNodeOption configures NewToolsNodeFunc.
type ToolsNodeOption func(*toolsNodeOptions)

type toolsNodeOptions struct {
	propagateErrors bool
}

// WithToolErrorsPropagated makes a failed tool call fail the node with a
// *CapabilityError instead of answering the call with the error text.
func WithToolErrorsPropagated() ToolsNodeOption {
	return func(o *toolsNodeOptions) { o.propagateErrors = true }
}

// ToolErrorContent is the content of the tool message answering a failed
// call.
func ToolErrorContent(err error) string {
	return "Error: " + err.Error()
}

// NewToolsNodeFunc creates a node that runs the tool calls requested by the
// last assistant message and appends one tool message per call, in order.
// Every call is answered: a failed call gets a tool message carrying the
// error, so the conversation stays valid for the model.
func NewToolsNodeFunc(tools map[string]tool.Tool, opts ...ToolsNodeOption) NodeFunc {
	var o toolsNodeOptions
	for _, opt := range opts {
		opt(&o)
	}
	return func(ctx context.Context, state State) (any, error) {
		msgs := Messages(state)
		if len(msgs) == 0 {
			return nil, errors.New("no messages in state")
		}
		last := msgs[len(msgs)-1]
		if last.Role != model.RoleAssistant {
			return nil, fmt.Errorf("last message has role %s, want assistant", last.Role)
		}
		results := make([]model.Message, 0, len(last.ToolCalls))
		for _, call := range last.ToolCalls {
			content, err := runTool(ctx, tools, call)
			if err != nil {
				if o.propagateErrors {
					return nil, err
				}
				log.Warnf("graph: tool call %s: %v", call.ID, err)
				content = ToolErrorContent(err)
			}
			results = append(results, model.NewToolMessage(call.ID, call.Function.Name, content))
		}
		return State{StateKeyMessages: results}, nil
	}
}

func runTool(ctx context.Context, tools map[string]tool.Tool, call model.ToolCall) (string, error) {
	name := call.Function.Name
	ctx, span := trace.Tracer.Start(ctx, itelemetry.SpanNameTool)
	defer span.End()
	span.SetAttributes(attribute.String(itelemetry.KeyToolName, name))

	fail := func(err error) (string, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", &CapabilityError{Capability: CapabilityTool, Kind: KindToolFailed, Name: name, Err: err}
	}
	t, ok := tools[name]
	if !ok {
		return fail(errors.New("tool not found"))
	}
	callable, ok := t.(tool.CallableTool)
	if !ok {
		return fail(errors.New("tool is not callable"))
	}
	result, err := callable.Call(ctx, call.Function.Arguments)
	if err != nil {
		return fail(err)
	}
	if s, ok := result.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(result)
	if err != nil {
		return fail(fmt.Errorf("encode result: %w", err))
	}
	return string(b), nil
}

// ToolsRouter routes to "tools" when the last message requests tool calls
// and to End otherwise.
func ToolsRouter(_ context.Context, state State) (string, error) {
	msgs := Messages(state)
	if len(msgs) > 0 && len(msgs[len(msgs)-1].ToolCalls) > 0 {
		return "tools", nil
	}
	return End, nil
}
