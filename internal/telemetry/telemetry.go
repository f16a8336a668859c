//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package telemetry holds names and helpers shared by the tracing and
// metrics packages.
package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// telemetry service constants.
const (
	ServiceName      = "chatgraph"
	ServiceVersion   = "v0.1.0"
	ServiceNamespace = "trpc-agent-graph"
	InstrumentName   = "trpc.agent.graph"

	SpanNameGraphRun  = "chatgraph.graph.run"
	SpanNameGraphNode = "chatgraph.graph.node"
	SpanNameCallLLM   = "call_llm"
	SpanNameTool      = "execute_tool"
)

const (
	// ProtocolGRPC uses gRPC protocol for OTLP exporter.
	ProtocolGRPC string = "grpc"
	// ProtocolHTTP uses HTTP protocol for OTLP exporter.
	ProtocolHTTP string = "http"
)

// Metric names.
const (
	MetricGraphSteps        = "chatgraph.graph.steps"
	MetricGraphNodeDuration = "chatgraph.graph.node.duration"
	MetricGraphErrors       = "chatgraph.graph.errors"
)

// Attribute keys.
const (
	KeyThreadID     = "chatgraph.thread_id"
	KeyInvocationID = "chatgraph.invocation_id"
	KeyStep         = "chatgraph.step"
	KeyNode         = "chatgraph.node"
	KeyNodeType     = "chatgraph.node_type"
	KeyErrorType    = "chatgraph.error_type"
	KeyModel        = "gen_ai.request.model"
	KeyToolName     = "gen_ai.tool.name"
)

// NodeAttributes returns the attributes describing one node invocation.
func NodeAttributes(threadID string, step int, node, nodeType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(KeyThreadID, threadID),
		attribute.Int(KeyStep, step),
		attribute.String(KeyNode, node),
		attribute.String(KeyNodeType, nodeType),
	}
}

// NewGRPCConn creates a plaintext gRPC connection to the OpenTelemetry collector.
func NewGRPCConn(endpoint string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection to collector: %w", err)
	}
	return conn, nil
}
