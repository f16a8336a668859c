//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package checkpointtest holds the behaviour every graph.Saver must show.
// Backends call RunSaverContract from their own tests.
package checkpointtest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-agent-graph/graph"
)

// NewSaverFunc returns an empty store. The contract closes it.
type NewSaverFunc func(t *testing.T) graph.Saver

// NewCheckpoint returns a checkpoint holding only JSON native values, so
// durable stores return it unchanged.
func NewCheckpoint(thread string, step int) *graph.Checkpoint {
	ck := &graph.Checkpoint{
		ID:         fmt.Sprintf("%s-%d", thread, step),
		ThreadID:   thread,
		Step:       step,
		ParentStep: step - 1,
		Node:       "greet",
		State: graph.State{
			"text": fmt.Sprintf("hi %d", step),
			"meta": map[string]any{"lang": "ru"},
		},
		Update:    graph.State{"text": fmt.Sprintf("hi %d", step)},
		NextNodes: []string{"ask_name"},
		Source:    graph.SourceLoop,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	if step == 1 {
		ck.Input = graph.State{"meta": map[string]any{"lang": "ru"}}
	}
	return ck
}

// RunSaverContract runs the store contract against fresh stores from newSaver.
func RunSaverContract(t *testing.T, newSaver NewSaverFunc) {
	run := func(name string, fn func(t *testing.T, s graph.Saver)) {
		t.Run(name, func(t *testing.T) {
			s := newSaver(t)
			defer func() { assert.NoError(t, s.Close()) }()
			fn(t, s)
		})
	}
	run("EmptyThread", testEmptyThread)
	run("SaveAndLoad", testSaveAndLoad)
	run("ListOldestFirst", testListOldestFirst)
	run("StepConflict", testStepConflict)
	run("ThreadsAreIsolated", testThreadsAreIsolated)
	run("InterruptRoundTrip", testInterruptRoundTrip)
	run("ReturnsCopies", testReturnsCopies)
	run("ConcurrentThreads", testConcurrentThreads)
	run("ConcurrentSameStep", testConcurrentSameStep)
	run("RejectsInvalid", testRejectsInvalid)
}

func testEmptyThread(t *testing.T, s graph.Saver) {
	ctx := context.Background()
	latest, err := s.LoadLatest(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, latest)

	list, err := s.List(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = s.Load(ctx, "nobody", 1)
	assert.ErrorIs(t, err, graph.ErrNoCheckpoint)
}

func testSaveAndLoad(t *testing.T, s graph.Saver) {
	ctx := context.Background()
	want := NewCheckpoint("t1", 1)
	require.NoError(t, s.Save(ctx, want))

	got, err := s.LoadLatest(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assertSame(t, want, got)

	byStep, err := s.Load(ctx, "t1", 1)
	require.NoError(t, err)
	assertSame(t, want, byStep)

	_, err = s.Load(ctx, "t1", 2)
	assert.ErrorIs(t, err, graph.ErrNoCheckpoint)
}

func testListOldestFirst(t *testing.T, s graph.Saver) {
	ctx := context.Background()
	for step := 1; step <= 5; step++ {
		require.NoError(t, s.Save(ctx, NewCheckpoint("t1", step)))
	}
	list, err := s.List(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, list, 5)
	for i, ck := range list {
		assert.Equal(t, i+1, ck.Step)
	}

	latest, err := s.LoadLatest(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 5, latest.Step)

	// Listing is restartable.
	again, err := s.List(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, again, 5)
}

func testStepConflict(t *testing.T, s graph.Saver) {
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, NewCheckpoint("t1", 1)))
	require.NoError(t, s.Save(ctx, NewCheckpoint("t1", 2)))

	assert.ErrorIs(t, s.Save(ctx, NewCheckpoint("t1", 2)), graph.ErrStepConflict)
	assert.ErrorIs(t, s.Save(ctx, NewCheckpoint("t1", 1)), graph.ErrStepConflict)

	list, err := s.List(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func testThreadsAreIsolated(t *testing.T, s graph.Saver) {
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, NewCheckpoint("a", 1)))
	require.NoError(t, s.Save(ctx, NewCheckpoint("a", 2)))
	require.NoError(t, s.Save(ctx, NewCheckpoint("b", 1)))

	a, err := s.List(ctx, "a")
	require.NoError(t, err)
	b, err := s.List(ctx, "b")
	require.NoError(t, err)
	assert.Len(t, a, 2)
	assert.Len(t, b, 1)
	assert.Equal(t, "b", b[0].ThreadID)

	// A thread id that prefixes another must not see its records.
	require.NoError(t, s.Save(ctx, NewCheckpoint("ab", 1)))
	a, err = s.List(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, a, 2)
}

func testInterruptRoundTrip(t *testing.T, s graph.Saver) {
	ctx := context.Background()
	ck := NewCheckpoint("t1", 1)
	ck.Source = graph.SourceInterrupt
	ck.Interrupt = &graph.PendingInterrupt{Node: "ask_name", When: graph.Before, Prompt: "what is your name?"}
	require.NoError(t, s.Save(ctx, ck))

	got, err := s.LoadLatest(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, got.Interrupt)
	assert.Equal(t, "ask_name", got.Interrupt.Node)
	assert.Equal(t, graph.Before, got.Interrupt.When)
	assert.Equal(t, "what is your name?", got.Interrupt.Prompt)
	assert.Equal(t, graph.SourceInterrupt, got.Source)
	assert.Equal(t, &graph.ResumeToken{ThreadID: "t1", Step: 1}, got.Token())
}

func testReturnsCopies(t *testing.T, s graph.Saver) {
	ctx := context.Background()
	ck := NewCheckpoint("t1", 1)
	require.NoError(t, s.Save(ctx, ck))

	// Neither the saved value nor a loaded value aliases the store.
	ck.State["text"] = "changed"
	ck.NextNodes[0] = "changed"
	got, err := s.LoadLatest(ctx, "t1")
	require.NoError(t, err)
	got.State["text"] = "changed again"

	again, err := s.LoadLatest(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "hi 1", again.State["text"])
	assert.Equal(t, []string{"ask_name"}, again.NextNodes)
}

func testConcurrentThreads(t *testing.T, s graph.Saver) {
	ctx := context.Background()
	const threads, steps = 8, 5
	var wg sync.WaitGroup
	errs := make(chan error, threads*steps)
	for i := 0; i < threads; i++ {
		wg.Add(1)
		go func(thread string) {
			defer wg.Done()
			for step := 1; step <= steps; step++ {
				if err := s.Save(ctx, NewCheckpoint(thread, step)); err != nil {
					errs <- err
				}
			}
		}(fmt.Sprintf("thread-%d", i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	for i := 0; i < threads; i++ {
		list, err := s.List(ctx, fmt.Sprintf("thread-%d", i))
		require.NoError(t, err)
		assert.Len(t, list, steps)
	}
}

func testConcurrentSameStep(t *testing.T, s graph.Saver) {
	ctx := context.Background()
	const writers = 8
	var wg sync.WaitGroup
	results := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- s.Save(ctx, NewCheckpoint("t1", 1))
		}()
	}
	wg.Wait()
	close(results)
	var ok, conflicts int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, graph.ErrStepConflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, writers-1, conflicts)
}

func testRejectsInvalid(t *testing.T, s graph.Saver) {
	ctx := context.Background()
	assert.Error(t, s.Save(ctx, nil))
	assert.Error(t, s.Save(ctx, NewCheckpoint("", 1)))
	assert.Error(t, s.Save(ctx, NewCheckpoint("t1", 0)))
}

func assertSame(t *testing.T, want, got *graph.Checkpoint) {
	t.Helper()
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.ThreadID, got.ThreadID)
	assert.Equal(t, want.Step, got.Step)
	assert.Equal(t, want.ParentStep, got.ParentStep)
	assert.Equal(t, want.Node, got.Node)
	assert.Equal(t, want.State, got.State)
	assert.Equal(t, want.Input, got.Input)
	assert.Equal(t, want.Update, got.Update)
	assert.Equal(t, want.NextNodes, got.NextNodes)
	assert.Equal(t, want.Source, got.Source)
	assert.WithinDuration(t, want.CreatedAt, got.CreatedAt, time.Millisecond)
}
