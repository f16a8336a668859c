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

	"trpc.group/trpc-go/trpc-agent-graph/event"
)

// Result is the outcome of a run collected by Invoke.
type Result struct {
	// State is the latest state seen on the stream.
	State State
	// Step is the last checkpointed step.
	Step int
	// Interrupt is set when the run paused.
	Interrupt *event.Interrupt
	// Token resumes a paused run.
	Token *ResumeToken
	// Events holds every event in emission order.
	Events []*event.Event
	// Completed reports whether the run reached End.
	Completed bool
}

// Invoke runs the graph and drains the event stream. It returns the first
// error event's cause, together with what was collected up to that point.
func (e *Executor) Invoke(ctx context.Context, threadID string, input State, opts ...RunOption) (*Result, error) {
	ch, err := e.Run(ctx, threadID, input, opts...)
	if err != nil {
		return nil, err
	}
	res := &Result{}
	var runErr error
	for evt := range ch {
		res.Events = append(res.Events, evt)
		if evt.Step > res.Step {
			res.Step = evt.Step
		}
		if evt.IsError() {
			if runErr == nil {
				runErr = evt.Err
			}
			continue
		}
		if evt.State != nil {
			res.State = State(evt.State)
		}
		if evt.Response == nil {
			continue
		}
		switch evt.Object {
		case ObjectTypeGraphInterrupt:
			res.Interrupt = evt.Interrupt
			if evt.Interrupt != nil {
				if tok, err := ParseResumeToken(evt.Interrupt.Token); err == nil {
					res.Token = tok
				}
			}
		case ObjectTypeGraphCompletion:
			res.Completed = true
		}
	}
	return res, runErr
}
