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

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	itelemetry "trpc.group/trpc-go/trpc-agent-graph/internal/telemetry"
	"trpc.group/trpc-go/trpc-agent-graph/log"
	gmetric "trpc.group/trpc-go/trpc-agent-graph/telemetry/metric"
)

type executorMetrics struct {
	steps    metric.Int64Counter
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

// newExecutorMetrics binds instruments to the current global meter. An
// instrument that cannot be created is left nil and skipped.
func newExecutorMetrics() *executorMetrics {
	m := &executorMetrics{}
	var err error
	if m.steps, err = gmetric.Meter.Int64Counter(itelemetry.MetricGraphSteps,
		metric.WithDescription("completed graph steps")); err != nil {
		log.Warnf("graph: create metric %s: %v", itelemetry.MetricGraphSteps, err)
	}
	if m.duration, err = gmetric.Meter.Float64Histogram(itelemetry.MetricGraphNodeDuration,
		metric.WithDescription("node invocation latency"), metric.WithUnit("ms")); err != nil {
		log.Warnf("graph: create metric %s: %v", itelemetry.MetricGraphNodeDuration, err)
	}
	if m.errors, err = gmetric.Meter.Int64Counter(itelemetry.MetricGraphErrors,
		metric.WithDescription("failed runs by error type")); err != nil {
		log.Warnf("graph: create metric %s: %v", itelemetry.MetricGraphErrors, err)
	}
	return m
}

func (m *executorMetrics) recordNode(ctx context.Context, node *Node, elapsed time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String(itelemetry.KeyNode, node.Name),
		attribute.String(itelemetry.KeyNodeType, string(node.Type)),
		attribute.Bool("error", err != nil),
	)
	if m.duration != nil {
		m.duration.Record(ctx, float64(elapsed)/float64(time.Millisecond), attrs)
	}
}

func (m *executorMetrics) recordStep(ctx context.Context, node *Node) {
	if m.steps != nil {
		m.steps.Add(ctx, 1, metric.WithAttributes(attribute.String(itelemetry.KeyNode, node.Name)))
	}
}

func (m *executorMetrics) recordError(ctx context.Context, errType string) {
	if m.errors != nil {
		m.errors.Add(ctx, 1, metric.WithAttributes(attribute.String(itelemetry.KeyErrorType, errType)))
	}
}
