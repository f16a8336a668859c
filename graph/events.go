//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package graph

// Event authors and object types.
const (
	AuthorGraphExecutor = "graph-executor"

	// ObjectTypeGraphStep is emitted after a node completed and its
	// checkpoint was saved.
	ObjectTypeGraphStep = "graph.step"
	// ObjectTypeGraphInterrupt is emitted when a run pauses.
	ObjectTypeGraphInterrupt = "graph.interrupt"
	// ObjectTypeGraphCompletion is emitted when a run reaches End.
	ObjectTypeGraphCompletion = "graph.completion"
)

// NodeType classifies nodes for visualisation and telemetry.
type NodeType string

// Node types.
const (
	NodeTypeFunction NodeType = "function"
	NodeTypeLLM      NodeType = "llm"
	NodeTypeTool     NodeType = "tool"
	NodeTypeRouter   NodeType = "router"
)
