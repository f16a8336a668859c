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
)

// InterruptError is returned by a node that needs external input before it
// can finish. The executor checkpoints the state the node was given and the
// node runs again, from the start, when the thread is resumed.
type InterruptError struct {
	Prompt any
}

func (e *InterruptError) Error() string {
	return fmt.Sprintf("interrupt: %v", e.Prompt)
}

// Interrupt pauses the running node. prompt is surfaced to the caller.
func Interrupt(prompt any) error {
	return &InterruptError{Prompt: prompt}
}

// IsInterruptError reports whether err asks for a pause.
func IsInterruptError(err error) bool {
	var ie *InterruptError
	return errors.As(err, &ie)
}

type resumedKey struct{}

type resumeInfo struct {
	input State
}

func withResumed(ctx context.Context, input State) context.Context {
	return context.WithValue(ctx, resumedKey{}, &resumeInfo{input: input})
}

// Resumed reports whether the node is being re-run after an interrupt. Only
// the first node of a resumed run sees true.
func Resumed(ctx context.Context) bool {
	_, ok := ctx.Value(resumedKey{}).(*resumeInfo)
	return ok
}

// ResumeInput returns the input the caller supplied when resuming.
func ResumeInput(ctx context.Context) (State, bool) {
	ri, ok := ctx.Value(resumedKey{}).(*resumeInfo)
	if !ok {
		return nil, false
	}
	return ri.input, true
}
