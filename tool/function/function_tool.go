//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package function wraps plain Go functions as callable tools.
package function

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"trpc.group/trpc-go/trpc-agent-graph/internal/jsonschema"
	"trpc.group/trpc-go/trpc-agent-graph/tool"
)

// FunctionTool implements tool.CallableTool for a typed function. Arguments
// arrive as json and are decoded into I.
type FunctionTool[I, O any] struct {
	name         string
	description  string
	inputSchema  *tool.Schema
	outputSchema *tool.Schema
	fn           func(context.Context, I) (O, error)
}

// Option is a function that configures a FunctionTool.
type Option func(*options)

type options struct {
	name        string
	description string
}

// WithName sets the name of the function tool.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithDescription sets the description of the function tool.
func WithDescription(description string) Option {
	return func(o *options) { o.description = description }
}

// NewFunctionTool creates a FunctionTool around fn.
func NewFunctionTool[I, O any](fn func(context.Context, I) (O, error), opts ...Option) *FunctionTool[I, O] {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	var (
		emptyI I
		emptyO O
	)
	return &FunctionTool[I, O]{
		name:         o.name,
		description:  o.description,
		fn:           fn,
		inputSchema:  jsonschema.Generate(reflect.TypeOf(emptyI)),
		outputSchema: jsonschema.Generate(reflect.TypeOf(emptyO)),
	}
}

// Call decodes jsonArgs into I and runs the function. Empty arguments decode
// as the zero value.
func (ft *FunctionTool[I, O]) Call(ctx context.Context, jsonArgs []byte) (any, error) {
	var input I
	if len(jsonArgs) > 0 {
		if err := json.Unmarshal(jsonArgs, &input); err != nil {
			return nil, fmt.Errorf("tool %s: decode arguments: %w", ft.name, err)
		}
	}
	return ft.fn(ctx, input)
}

// Declaration returns the tool's declaration information.
func (ft *FunctionTool[I, O]) Declaration() *tool.Declaration {
	return &tool.Declaration{
		Name:         ft.name,
		Description:  ft.description,
		InputSchema:  ft.inputSchema,
		OutputSchema: ft.outputSchema,
	}
}
