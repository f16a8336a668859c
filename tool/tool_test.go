//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubTool struct{ name string }

func (s stubTool) Declaration() *Declaration { return &Declaration{Name: s.name} }

func (s stubTool) Call(context.Context, []byte) (any, error) { return s.name, nil }

func TestIndex(t *testing.T) {
	idx := Index(stubTool{"a"}, nil, stubTool{"b"})
	assert.Len(t, idx, 2)
	_, ok := idx["a"].(CallableTool)
	assert.True(t, ok)
}
