//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package model

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelInterface(t *testing.T) {
	var m Model = &mockModel{}
	_, err := m.GenerateContent(context.Background(), nil)
	require.Error(t, err)

	ch, err := m.GenerateContent(context.Background(), &Request{
		Messages: []Message{NewUserMessage("hi")},
	})
	require.NoError(t, err)
	rsp := <-ch
	require.NotNil(t, rsp)
	assert.Equal(t, "Test response", rsp.Choices[0].Message.Content)
	assert.False(t, rsp.IsToolCallResponse())
}

func TestResponseClone(t *testing.T) {
	rsp := &Response{
		ID:      "r1",
		Choices: []Choice{{Message: NewAssistantMessage("a")}},
		Usage:   &Usage{TotalTokens: 3},
		Error:   &ResponseError{Type: ErrorTypeRateLimited, Message: "slow down"},
	}
	c := rsp.Clone()
	c.Choices[0].Message.Content = "b"
	c.Usage.TotalTokens = 9
	c.Error.Message = "x"

	assert.Equal(t, "a", rsp.Choices[0].Message.Content)
	assert.Equal(t, 3, rsp.Usage.TotalTokens)
	assert.Equal(t, "slow down", rsp.Error.Message)
	assert.Nil(t, (*Response)(nil).Clone())
	assert.Equal(t, "rate_limited: slow down", rsp.Error.Error())
}

func TestRole(t *testing.T) {
	assert.True(t, RoleTool.IsValid())
	assert.False(t, Role("narrator").IsValid())
	msg := NewToolMessage("call-1", "get_current_time", "{}")
	assert.Equal(t, RoleTool, msg.Role)
	assert.Equal(t, "call-1", msg.ToolID)
}

type mockModel struct{}

func (m *mockModel) Info() Info { return Info{Name: "mock"} }

func (m *mockModel) GenerateContent(ctx context.Context, request *Request) (<-chan *Response, error) {
	if request == nil {
		return nil, errors.New("request cannot be nil")
	}
	ch := make(chan *Response, 1)
	ch <- &Response{
		ID:      "test-response",
		Done:    true,
		Choices: []Choice{{Message: NewAssistantMessage("Test response")}},
	}
	close(ch)
	return ch, nil
}
