//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides an in-memory checkpoint store. It keeps every
// checkpoint for the life of the process and suits tests and single process
// deployments.
package inmemory

import (
	"context"
	"fmt"
	"sync"

	"trpc.group/trpc-go/trpc-agent-graph/graph"
)

// Saver is an arena of immutable checkpoints indexed by thread and step.
type Saver struct {
	mu      sync.RWMutex
	threads map[string][]*graph.Checkpoint
}

var _ graph.Saver = (*Saver)(nil)

// NewSaver creates a new in-memory checkpoint saver.
func NewSaver() *Saver {
	return &Saver{threads: make(map[string][]*graph.Checkpoint)}
}

// Save appends a copy of ckpt to its thread.
func (s *Saver) Save(_ context.Context, ckpt *graph.Checkpoint) error {
	if err := graph.ValidateCheckpoint(ckpt); err != nil {
		return err
	}
	rec := ckpt.Copy()

	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.threads[rec.ThreadID]
	if n := len(history); n > 0 && history[n-1].Step >= rec.Step {
		return fmt.Errorf("%w: thread %q step %d, latest %d",
			graph.ErrStepConflict, rec.ThreadID, rec.Step, history[n-1].Step)
	}
	s.threads[rec.ThreadID] = append(history, rec)
	return nil
}

// LoadLatest returns the newest checkpoint of a thread.
func (s *Saver) LoadLatest(_ context.Context, threadID string) (*graph.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.threads[threadID]
	if len(history) == 0 {
		return nil, nil
	}
	return history[len(history)-1].Copy(), nil
}

// Load returns the checkpoint at step.
func (s *Saver) Load(_ context.Context, threadID string, step int) (*graph.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.threads[threadID]
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Step == step {
			return history[i].Copy(), nil
		}
		if history[i].Step < step {
			break
		}
	}
	return nil, fmt.Errorf("%w: thread %q step %d", graph.ErrNoCheckpoint, threadID, step)
}

// List returns copies of the thread's checkpoints, oldest first.
func (s *Saver) List(_ context.Context, threadID string) ([]*graph.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.threads[threadID]
	out := make([]*graph.Checkpoint, len(history))
	for i, ck := range history {
		out[i] = ck.Copy()
	}
	return out, nil
}

// Threads returns the ids of all threads with at least one checkpoint.
func (s *Saver) Threads() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.threads))
	for id := range s.threads {
		out = append(out, id)
	}
	return out
}

// Close implements graph.Saver.
func (s *Saver) Close() error { return nil }
