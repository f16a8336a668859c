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
	"time"
)

// NodeCallbackContext describes the node invocation a callback observes.
type NodeCallbackContext struct {
	ThreadID     string
	InvocationID string
	NodeName     string
	NodeType     NodeType
	// Step is the checkpoint step the invocation will produce.
	Step      int
	Attempt   int
	StartedAt time.Time
}

// BeforeNodeCallback runs before a node. A non-nil result replaces the node
// invocation; a non-nil error fails the step.
type BeforeNodeCallback func(ctx context.Context, cbCtx *NodeCallbackContext, state State) (any, error)

// AfterNodeCallback runs after a node. A non-nil result replaces the node's
// result; a non-nil error fails the step.
type AfterNodeCallback func(ctx context.Context, cbCtx *NodeCallbackContext, state State, result any, nodeErr error) (any, error)

// OnNodeErrorCallback observes node failures. It cannot change them.
type OnNodeErrorCallback func(ctx context.Context, cbCtx *NodeCallbackContext, state State, err error)

// NodeCallbacks holds callbacks for node operations.
type NodeCallbacks struct {
	BeforeNode  []BeforeNodeCallback
	AfterNode   []AfterNodeCallback
	OnNodeError []OnNodeErrorCallback
}

// NewNodeCallbacks creates a new NodeCallbacks instance.
func NewNodeCallbacks() *NodeCallbacks {
	return &NodeCallbacks{}
}

// RegisterBeforeNode registers a before node callback.
func (c *NodeCallbacks) RegisterBeforeNode(cb BeforeNodeCallback) *NodeCallbacks {
	c.BeforeNode = append(c.BeforeNode, cb)
	return c
}

// RegisterAfterNode registers an after node callback.
func (c *NodeCallbacks) RegisterAfterNode(cb AfterNodeCallback) *NodeCallbacks {
	c.AfterNode = append(c.AfterNode, cb)
	return c
}

// RegisterOnNodeError registers an on node error callback.
func (c *NodeCallbacks) RegisterOnNodeError(cb OnNodeErrorCallback) *NodeCallbacks {
	c.OnNodeError = append(c.OnNodeError, cb)
	return c
}

// RunBeforeNode runs before callbacks in order and stops at the first one
// that returns a result or an error.
func (c *NodeCallbacks) RunBeforeNode(ctx context.Context, cbCtx *NodeCallbackContext, state State) (any, error) {
	if c == nil {
		return nil, nil
	}
	for _, cb := range c.BeforeNode {
		res, err := cb(ctx, cbCtx, state)
		if err != nil || res != nil {
			return res, err
		}
	}
	return nil, nil
}

// RunAfterNode threads the result through every after callback.
func (c *NodeCallbacks) RunAfterNode(ctx context.Context, cbCtx *NodeCallbackContext, state State, result any, nodeErr error) (any, error) {
	if c == nil {
		return result, nil
	}
	current := result
	for _, cb := range c.AfterNode {
		res, err := cb(ctx, cbCtx, state, current, nodeErr)
		if err != nil {
			return nil, err
		}
		if res != nil {
			current = res
		}
	}
	return current, nil
}

// RunOnNodeError runs every error callback.
func (c *NodeCallbacks) RunOnNodeError(ctx context.Context, cbCtx *NodeCallbackContext, state State, err error) {
	if c == nil {
		return
	}
	for _, cb := range c.OnNodeError {
		cb(ctx, cbCtx, state, err)
	}
}
