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
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors.
var (
	// ErrUnknownChannel is returned when an update writes a channel the
	// schema does not declare.
	ErrUnknownChannel = errors.New("graph: unknown state channel")
	// ErrChannelType is returned when a write has the wrong Go type.
	ErrChannelType = errors.New("graph: state channel type mismatch")
	// ErrNoCheckpoint is returned by Saver.Load for a missing step.
	ErrNoCheckpoint = errors.New("graph: checkpoint not found")
	// ErrStepConflict is returned by Saver.Save when the step is not newer
	// than the latest checkpoint of the thread.
	ErrStepConflict = errors.New("graph: checkpoint step is not newer than latest")
	// ErrInvalidResumeToken is returned when a resume token does not name
	// the latest checkpoint of its thread.
	ErrInvalidResumeToken = errors.New("graph: stale or malformed resume token")
	// ErrNothingToResume is returned when resume is requested for a thread
	// that is not paused.
	ErrNothingToResume = errors.New("graph: thread has no pending node to resume")
	// ErrMaxStepsExceeded is returned when a run takes more steps than allowed.
	ErrMaxStepsExceeded = errors.New("graph: maximum number of steps exceeded")
	// ErrNodeTimeout is returned when a node does not finish within its timeout.
	ErrNodeTimeout = errors.New("graph: node timed out")
	// ErrEmptyThreadID is returned for runs without a thread id.
	ErrEmptyThreadID = errors.New("graph: empty thread id")
)

// GraphConfigurationError reports every problem found while compiling a graph.
type GraphConfigurationError struct {
	Problems []string
}

func (e *GraphConfigurationError) Error() string {
	return "graph configuration: " + strings.Join(e.Problems, "; ")
}

// RoutingError is returned when a router yields a key its mapping does not
// declare, or a command routes to an undeclared node. The failing step is not
// checkpointed.
type RoutingError struct {
	ThreadID string
	Step     int
	Node     string
	Key      string
	Reason   string
	// Err is set when the router itself failed.
	Err error
}

func (e *RoutingError) Error() string {
	msg := fmt.Sprintf("routing from node %q at step %d: key %q %s", e.Node, e.Step, e.Key, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RoutingError) Unwrap() error { return e.Err }

// NodeExecutionError wraps a failure raised by a node. The checkpoint of the
// last successful step is left intact.
type NodeExecutionError struct {
	ThreadID string
	Step     int
	Node     string
	Err      error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %q failed at step %d: %v", e.Node, e.Step, e.Err)
}

func (e *NodeExecutionError) Unwrap() error { return e.Err }

// ThreadBusyError is returned when a run is requested for a thread that
// already has one in flight. Nothing was changed; retry later.
type ThreadBusyError struct {
	ThreadID string
}

func (e *ThreadBusyError) Error() string {
	return fmt.Sprintf("thread %q is busy", e.ThreadID)
}

// Capability names.
const (
	CapabilityLLM  = "llm"
	CapabilityTool = "tool"
)

// CapabilityError kinds.
const (
	KindRateLimited        = "rate_limited"
	KindMalformedResponse  = "malformed_response"
	KindNetworkUnavailable = "network_unavailable"
	KindToolFailed         = "tool_failed"
	KindUnknown            = "unknown"
)

// CapabilityError wraps a failed LLM or tool call. Unless the node handles it,
// it reaches the caller inside a NodeExecutionError.
type CapabilityError struct {
	Capability string
	Kind       string
	// Name is the model or tool name.
	Name string
	Err  error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s %q %s: %v", e.Capability, e.Name, e.Kind, e.Err)
}

func (e *CapabilityError) Unwrap() error { return e.Err }

// IsCapabilityKind reports whether err carries a CapabilityError of kind.
func IsCapabilityKind(err error, kind string) bool {
	var ce *CapabilityError
	return errors.As(err, &ce) && ce.Kind == kind
}

// errorType classifies err for error events.
func errorType(err error) string {
	var (
		re *RoutingError
		ne *NodeExecutionError
		be *ThreadBusyError
	)
	switch {
	case errors.As(err, &re):
		return "routing_error"
	case errors.As(err, &ne):
		return "node_execution_error"
	case errors.As(err, &be):
		return "thread_busy"
	case errors.Is(err, ErrMaxStepsExceeded):
		return "max_steps_exceeded"
	case errors.Is(err, ErrStepConflict):
		return "checkpoint_conflict"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "execution_error"
	}
}
