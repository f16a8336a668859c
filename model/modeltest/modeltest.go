//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package modeltest provides a scripted model.Model for tests.
package modeltest

import (
	"context"
	"errors"
	"sync"

	"trpc.group/trpc-go/trpc-agent-graph/model"
)

// ErrExhausted is returned once every scripted reply was consumed.
var ErrExhausted = errors.New("modeltest: script exhausted")

// Reply is one scripted answer. Err fails the call itself; otherwise
// Response is delivered on the stream.
type Reply struct {
	Response *model.Response
	Err      error
}

// Model replays Replies in order and records every request.
type Model struct {
	Name string

	mu       sync.Mutex
	replies  []Reply
	requests []*model.Request
}

var _ model.Model = (*Model)(nil)

// New creates a Model that answers with replies in order.
func New(replies ...Reply) *Model {
	return &Model{Name: "scripted", replies: replies}
}

// Text is a reply with an assistant message.
func Text(content string) Reply {
	return Reply{Response: &model.Response{
		Object:  model.ObjectTypeChatCompletion,
		Choices: []model.Choice{{Message: model.NewAssistantMessage(content)}},
		Done:    true,
	}}
}

// ToolCall is a reply requesting a single tool call.
func ToolCall(id, name, args string) Reply {
	msg := model.NewAssistantMessage("")
	msg.ToolCalls = []model.ToolCall{{
		Type:     "function",
		ID:       id,
		Function: model.FunctionDefinitionParam{Name: name, Arguments: []byte(args)},
	}}
	return Reply{Response: &model.Response{
		Object:  model.ObjectTypeChatCompletion,
		Choices: []model.Choice{{Message: msg}},
		Done:    true,
	}}
}

// Failure is a reply carrying a service error of errType.
func Failure(errType, message string) Reply {
	return Reply{Response: &model.Response{
		Object: model.ObjectTypeError,
		Error:  &model.ResponseError{Type: errType, Message: message},
		Done:   true,
	}}
}

// Push appends replies to the script.
func (m *Model) Push(replies ...Reply) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, replies...)
}

// Requests returns the requests seen so far.
func (m *Model) Requests() []*model.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.Request(nil), m.requests...)
}

// GenerateContent implements model.Model.
func (m *Model) GenerateContent(_ context.Context, req *model.Request) (<-chan *model.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *req
	cp.Messages = append([]model.Message(nil), req.Messages...)
	m.requests = append(m.requests, &cp)
	if len(m.replies) == 0 {
		return nil, ErrExhausted
	}
	r := m.replies[0]
	m.replies = m.replies[1:]
	if r.Err != nil {
		return nil, r.Err
	}
	ch := make(chan *model.Response, 1)
	ch <- r.Response.Clone()
	close(ch)
	return ch, nil
}

// Info implements model.Model.
func (m *Model) Info() model.Info {
	return model.Info{Name: m.Name}
}
