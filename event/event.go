//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package event provides the events emitted while a graph runs.
package event

import (
	"time"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-agent-graph/model"
)

// Event is one entry of a run's output stream.
type Event struct {
	// Response carries the object type and, on failure, the error details.
	*model.Response

	// InvocationID identifies the run that produced the event.
	InvocationID string `json:"invocationId"`
	// Author is the emitter, usually the graph executor or a node name.
	Author string `json:"author"`
	// ID is the unique identifier of the event.
	ID string `json:"id"`
	// Timestamp is the timestamp of the event.
	Timestamp time.Time `json:"timestamp"`

	// ThreadID is the conversation the event belongs to.
	ThreadID string `json:"threadId,omitempty"`
	// Step is the checkpoint step the event describes.
	Step int `json:"step"`
	// Node is the node that ran (or is about to run, for interrupts).
	Node string `json:"node,omitempty"`

	// Update is the partial state written by the node.
	Update map[string]any `json:"update,omitempty"`
	// State is the merged state after the step.
	State map[string]any `json:"state,omitempty"`

	// Interrupt is set when the run paused.
	Interrupt *Interrupt `json:"interrupt,omitempty"`

	// Err is the typed cause of an error event. Not serialized.
	Err error `json:"-"`
}

// Interrupt describes a pause that awaits external input.
type Interrupt struct {
	Node   string `json:"node"`
	When   string `json:"when"`
	Prompt any    `json:"prompt,omitempty"`
	// Token is the resumption token to hand back on resume.
	Token string `json:"token"`
}

// Option is a function that can be used to configure the Event.
type Option func(*Event)

// WithObject sets the object for the event.
func WithObject(o string) Option {
	return func(e *Event) { e.Object = o }
}

// WithThread sets the thread and step for the event.
func WithThread(threadID string, step int) Option {
	return func(e *Event) {
		e.ThreadID = threadID
		e.Step = step
	}
}

// WithNode sets the node for the event.
func WithNode(node string) Option {
	return func(e *Event) { e.Node = node }
}

// WithUpdate sets the node update for the event.
func WithUpdate(update map[string]any) Option {
	return func(e *Event) { e.Update = update }
}

// WithState sets the merged state for the event.
func WithState(state map[string]any) Option {
	return func(e *Event) { e.State = state }
}

// WithInterrupt marks the event as a pause.
func WithInterrupt(in *Interrupt) Option {
	return func(e *Event) { e.Interrupt = in }
}

// WithDone marks the event as the last of its stream.
func WithDone() Option {
	return func(e *Event) { e.Done = true }
}

// New creates a new Event with generated ID and timestamp.
func New(invocationID, author string, opts ...Option) *Event {
	e := &Event{
		Response:     &model.Response{},
		ID:           uuid.New().String(),
		Timestamp:    time.Now(),
		InvocationID: invocationID,
		Author:       author,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewErrorEvent creates a terminal error event. errorType classifies err for
// consumers that only see the serialized form.
func NewErrorEvent(invocationID, author, errorType string, err error, opts ...Option) *Event {
	e := New(invocationID, author, opts...)
	e.Object = model.ObjectTypeError
	e.Done = true
	e.Err = err
	e.Error = &model.ResponseError{Type: errorType, Message: err.Error()}
	return e
}

// IsError reports whether the event carries a failure.
func (e *Event) IsError() bool {
	return e != nil && e.Response != nil && e.Error != nil
}

// Clone creates a copy of the event whose maps can be modified independently.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Response = e.Response.Clone()
	clone.Update = copyMap(e.Update)
	clone.State = copyMap(e.State)
	if e.Interrupt != nil {
		in := *e.Interrupt
		clone.Interrupt = &in
	}
	return &clone
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
