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
	"strconv"
	"strings"
	"time"
)

// Checkpoint sources.
const (
	// SourceInput is a checkpoint taken before any node ran in a run.
	SourceInput = "input"
	// SourceLoop is a checkpoint taken after a node completed.
	SourceLoop = "loop"
	// SourceInterrupt is a checkpoint taken when a node asked to pause.
	SourceInterrupt = "interrupt"
	// SourceFork is the first checkpoint of a run replayed from history.
	SourceFork = "fork"
)

// Checkpoint is an immutable snapshot of a thread after a step.
type Checkpoint struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
	// Step is the sequence number within the thread, starting at 1.
	Step int `json:"step"`
	// ParentStep is the step this one was derived from, 0 for the first.
	ParentStep int `json:"parent_step"`
	// Node is the node that completed in this step, empty for input and
	// interrupt checkpoints.
	Node string `json:"node,omitempty"`
	// State is the full merged state.
	State State `json:"state"`
	// Input is the caller input this run merged before the step, set only
	// on the first checkpoint a run saves.
	Input State `json:"input,omitempty"`
	// Update is what the node wrote.
	Update State `json:"update,omitempty"`
	// NextNodes are the nodes to run next, in order. Empty once the run
	// reached End.
	NextNodes []string          `json:"next_nodes,omitempty"`
	Source    string            `json:"source"`
	Interrupt *PendingInterrupt `json:"interrupt,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// PendingInterrupt describes why a checkpoint is a pause point.
type PendingInterrupt struct {
	Node   string `json:"node"`
	When   When   `json:"when"`
	Prompt any    `json:"prompt,omitempty"`
}

// Copy returns a deep copy of the checkpoint.
func (c *Checkpoint) Copy() *Checkpoint {
	if c == nil {
		return nil
	}
	cp := *c
	cp.State = c.State.Clone()
	cp.Input = c.Input.Clone()
	cp.Update = c.Update.Clone()
	cp.NextNodes = append([]string(nil), c.NextNodes...)
	if c.Interrupt != nil {
		in := *c.Interrupt
		in.Prompt = deepCopy(c.Interrupt.Prompt)
		cp.Interrupt = &in
	}
	return &cp
}

// Token returns the resumption token pointing at this checkpoint.
func (c *Checkpoint) Token() *ResumeToken {
	return &ResumeToken{ThreadID: c.ThreadID, Step: c.Step}
}

// Saver is an append-only checkpoint store.
//
// Implementations must allow concurrent saves to different threads and
// serialize saves to one thread. A save is visible to LoadLatest and List only
// once it has fully completed.
type Saver interface {
	// Save appends ckpt. A step that is not greater than the latest step of
	// the thread fails with ErrStepConflict.
	Save(ctx context.Context, ckpt *Checkpoint) error
	// LoadLatest returns the newest checkpoint of a thread, or nil, nil.
	LoadLatest(ctx context.Context, threadID string) (*Checkpoint, error)
	// Load returns the checkpoint at step, or ErrNoCheckpoint.
	Load(ctx context.Context, threadID string, step int) (*Checkpoint, error)
	// List returns the thread's checkpoints, oldest first.
	List(ctx context.Context, threadID string) ([]*Checkpoint, error)
	// Close releases resources held by the saver.
	Close() error
}

// ResumeToken identifies the checkpoint a paused run can be resumed from.
type ResumeToken struct {
	ThreadID string `json:"thread_id"`
	Step     int    `json:"step"`
}

// String encodes the token as "<thread>@<step>".
func (t ResumeToken) String() string {
	return t.ThreadID + "@" + strconv.Itoa(t.Step)
}

// ParseResumeToken decodes a token produced by ResumeToken.String.
func ParseResumeToken(s string) (*ResumeToken, error) {
	i := strings.LastIndex(s, "@")
	if i <= 0 || i == len(s)-1 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidResumeToken, s)
	}
	step, err := strconv.Atoi(s[i+1:])
	if err != nil || step < 1 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidResumeToken, s)
	}
	return &ResumeToken{ThreadID: s[:i], Step: step}, nil
}

// ValidateCheckpoint reports whether ckpt can be saved. Stores call it before
// writing.
func ValidateCheckpoint(ckpt *Checkpoint) error {
	switch {
	case ckpt == nil:
		return errors.New("checkpoint is nil")
	case ckpt.ThreadID == "":
		return ErrEmptyThreadID
	case ckpt.Step < 1:
		return fmt.Errorf("checkpoint step %d: steps start at 1", ckpt.Step)
	}
	return nil
}
