//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package runner is the caller facing front door of a conversation graph:
// text in, reply out, with runs for distinct threads executed on a bounded
// worker pool.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"

	"trpc.group/trpc-go/trpc-agent-graph/graph"
	"trpc.group/trpc-go/trpc-agent-graph/log"
	"trpc.group/trpc-go/trpc-agent-graph/model"
	"trpc.group/trpc-go/trpc-agent-graph/telemetry/trace"
)

const defaultPoolSize = 16

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("runner: closed")

// Option is a function that configures a Runner.
type Option func(*Options)

// Options is the options for the Runner.
type Options struct {
	// PoolSize bounds the number of runs executing at once.
	PoolSize int
	// RunTimeout bounds a whole run. Zero means no bound.
	RunTimeout time.Duration
}

// WithPoolSize sets the number of workers.
func WithPoolSize(size int) Option {
	return func(o *Options) { o.PoolSize = size }
}

// WithRunTimeout bounds every run.
func WithRunTimeout(d time.Duration) Option {
	return func(o *Options) { o.RunTimeout = d }
}

// Reply is the outcome of one turn.
type Reply struct {
	// Text is the latest assistant answer.
	Text string
	// Step is the last checkpointed step of the thread.
	Step int
	// Interrupt is set when the graph paused; pass it to Resume.
	Interrupt *graph.ResumeToken
	// Prompt is what the paused node asked for, if anything.
	Prompt any
	// State is the thread state after the turn.
	State graph.State
}

// Runner executes turns of a message based graph. The graph must use
// graph.MessagesSchema or a superset of it.
type Runner struct {
	exec    *graph.Executor
	pool    *ants.Pool
	timeout time.Duration
}

// New creates a Runner on exec.
func New(exec *graph.Executor, opts ...Option) (*Runner, error) {
	if exec == nil {
		return nil, errors.New("runner: nil executor")
	}
	o := Options{PoolSize: defaultPoolSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.PoolSize <= 0 {
		o.PoolSize = defaultPoolSize
	}
	pool, err := ants.NewPool(o.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	return &Runner{exec: exec, pool: pool, timeout: o.RunTimeout}, nil
}

// Run sends text as a user message to the thread.
func (r *Runner) Run(ctx context.Context, threadID, text string) (*Reply, error) {
	return r.do(ctx, threadID, userInput(text))
}

// Resume continues a paused thread. Empty text resumes without new input.
func (r *Runner) Resume(ctx context.Context, token *graph.ResumeToken, text string) (*Reply, error) {
	if token == nil {
		return nil, fmt.Errorf("%w: nil token", graph.ErrInvalidResumeToken)
	}
	var input graph.State
	if text != "" {
		input = userInput(text)
	}
	return r.ResumeWith(ctx, token, input)
}

// Answer resumes a thread paused on a question, such as a tool approval,
// recording answer as user_input without adding it to the conversation.
func (r *Runner) Answer(ctx context.Context, token *graph.ResumeToken, answer string) (*Reply, error) {
	return r.ResumeWith(ctx, token, graph.State{graph.StateKeyUserInput: answer})
}

// ResumeWith continues a paused thread with an arbitrary state update.
func (r *Runner) ResumeWith(ctx context.Context, token *graph.ResumeToken, input graph.State) (*Reply, error) {
	if token == nil {
		return nil, fmt.Errorf("%w: nil token", graph.ErrInvalidResumeToken)
	}
	return r.do(ctx, token.ThreadID, input, graph.WithResume(token))
}

// History returns the checkpoints of a thread, oldest first.
func (r *Runner) History(ctx context.Context, threadID string) ([]*graph.Checkpoint, error) {
	return r.exec.Saver().List(ctx, threadID)
}

// Close stops the worker pool. Runs already submitted finish.
func (r *Runner) Close() error {
	r.pool.Release()
	return nil
}

func (r *Runner) do(ctx context.Context, threadID string, input graph.State, opts ...graph.RunOption) (*Reply, error) {
	if r.pool.IsClosed() {
		return nil, ErrClosed
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	type outcome struct {
		res *graph.Result
		err error
	}
	done := make(chan outcome, 1)
	task := func() {
		ctx, span := trace.Tracer.Start(ctx, "runner.turn")
		defer span.End()
		res, err := r.exec.Invoke(ctx, threadID, input, opts...)
		done <- outcome{res, err}
	}
	if err := r.pool.Submit(task); err != nil {
		if errors.Is(err, ants.ErrPoolClosed) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("submit run of thread %q: %w", threadID, err)
	}

	var o outcome
	select {
	case o = <-done:
	case <-ctx.Done():
		// The run stops at its next step boundary and releases the thread.
		return nil, ctx.Err()
	}
	if o.err != nil {
		log.Warnf("runner: thread=%s turn failed: %v", threadID, o.err)
		return nil, o.err
	}
	return newReply(o.res), nil
}

func newReply(res *graph.Result) *Reply {
	reply := &Reply{Step: res.Step, State: res.State, Interrupt: res.Token}
	if res.Interrupt != nil {
		reply.Prompt = res.Interrupt.Prompt
	}
	if s, ok := res.State[graph.StateKeyLastResponse].(string); ok && s != "" {
		reply.Text = s
		return reply
	}
	msgs := graph.Messages(res.State)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleAssistant && msgs[i].Content != "" {
			reply.Text = msgs[i].Content
			break
		}
	}
	return reply
}

func userInput(text string) graph.State {
	return graph.State{
		graph.StateKeyMessages:  []model.Message{model.NewUserMessage(text)},
		graph.StateKeyUserInput: text,
	}
}
