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
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"trpc.group/trpc-go/trpc-agent-graph/event"
	itelemetry "trpc.group/trpc-go/trpc-agent-graph/internal/telemetry"
	"trpc.group/trpc-go/trpc-agent-graph/log"
	"trpc.group/trpc-go/trpc-agent-graph/telemetry/trace"
)

const (
	defaultChannelBufferSize = 256
	defaultMaxSteps          = 100

	noNode NodeID = -2
)

// Executor runs a compiled graph against a checkpoint store.
type Executor struct {
	graph             *Graph
	saver             Saver
	locker            Locker
	callbacks         *NodeCallbacks
	nodeTimeout       time.Duration
	maxSteps          int
	channelBufferSize int
	metrics           *executorMetrics
}

// ExecutorOption is a function that configures an Executor.
type ExecutorOption func(*ExecutorOptions)

// ExecutorOptions contains configuration options for creating an Executor.
type ExecutorOptions struct {
	// ChannelBufferSize is the buffer size of the event stream (default: 256).
	ChannelBufferSize int
	// MaxSteps bounds the number of nodes a single run may execute (default: 100).
	MaxSteps int
	// NodeTimeout bounds each node invocation. Zero means no bound.
	NodeTimeout time.Duration
	// Saver stores checkpoints. Required.
	Saver Saver
	// Locker guards threads. Defaults to an in-process LocalLocker.
	Locker Locker
	// Callbacks observe node invocations.
	Callbacks *NodeCallbacks
}

// WithChannelBufferSize sets the buffer size for event channels.
func WithChannelBufferSize(size int) ExecutorOption {
	return func(o *ExecutorOptions) { o.ChannelBufferSize = size }
}

// WithMaxSteps sets the maximum number of steps for one run.
func WithMaxSteps(maxSteps int) ExecutorOption {
	return func(o *ExecutorOptions) { o.MaxSteps = maxSteps }
}

// WithNodeTimeout sets the default per node timeout.
func WithNodeTimeout(d time.Duration) ExecutorOption {
	return func(o *ExecutorOptions) { o.NodeTimeout = d }
}

// WithCheckpointSaver sets the checkpoint store.
func WithCheckpointSaver(s Saver) ExecutorOption {
	return func(o *ExecutorOptions) { o.Saver = s }
}

// WithLocker sets the per thread lock implementation.
func WithLocker(l Locker) ExecutorOption {
	return func(o *ExecutorOptions) { o.Locker = l }
}

// WithNodeCallbacks sets callbacks run around every node.
func WithNodeCallbacks(cb *NodeCallbacks) ExecutorOption {
	return func(o *ExecutorOptions) { o.Callbacks = cb }
}

// NewExecutor creates a new graph executor.
func NewExecutor(g *Graph, opts ...ExecutorOption) (*Executor, error) {
	if g == nil {
		return nil, errors.New("graph: nil graph")
	}
	o := ExecutorOptions{
		ChannelBufferSize: defaultChannelBufferSize,
		MaxSteps:          defaultMaxSteps,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Saver == nil {
		return nil, errors.New("graph: a checkpoint saver is required")
	}
	if o.Locker == nil {
		o.Locker = NewLocalLocker()
	}
	if o.MaxSteps <= 0 {
		o.MaxSteps = defaultMaxSteps
	}
	if o.ChannelBufferSize < 0 {
		o.ChannelBufferSize = 0
	}
	return &Executor{
		graph:             g,
		saver:             o.Saver,
		locker:            o.Locker,
		callbacks:         o.Callbacks,
		nodeTimeout:       o.NodeTimeout,
		maxSteps:          o.MaxSteps,
		channelBufferSize: o.ChannelBufferSize,
		metrics:           newExecutorMetrics(),
	}, nil
}

// Graph returns the graph the executor runs.
func (e *Executor) Graph() *Graph { return e.graph }

// Saver returns the checkpoint store.
func (e *Executor) Saver() Saver { return e.saver }

// RunOption configures a single run.
type RunOption func(*runOptions)

type runOptions struct {
	resume       bool
	token        *ResumeToken
	replayFrom   int
	invocationID string
	before       []string
	after        []string
}

// WithResume continues a paused thread. token may be nil to resume from the
// latest checkpoint; otherwise it must name that checkpoint.
func WithResume(token *ResumeToken) RunOption {
	return func(o *runOptions) {
		o.resume = true
		o.token = token
	}
}

// WithReplayFrom forks the thread from an earlier checkpoint. The new steps
// are appended to the history with ParentStep pointing at step.
func WithReplayFrom(step int) RunOption {
	return func(o *runOptions) { o.replayFrom = step }
}

// WithInvocationID sets the id stamped on every event of the run.
func WithInvocationID(id string) RunOption {
	return func(o *runOptions) { o.invocationID = id }
}

// WithInterruptBefore pauses this run before the named nodes, in addition
// to the markers compiled into the graph.
func WithInterruptBefore(nodes ...string) RunOption {
	return func(o *runOptions) { o.before = append(o.before, nodes...) }
}

// WithInterruptAfter pauses this run after the named nodes.
func WithInterruptAfter(nodes ...string) RunOption {
	return func(o *runOptions) { o.after = append(o.after, nodes...) }
}

// run is the private, single goroutine state of one execution.
type run struct {
	threadID     string
	invocationID string
	state        State
	// step is the latest step persisted for the thread.
	step int
	// parent becomes ParentStep of the next checkpoint.
	parent    int
	queue     []NodeID
	persisted bool
	bypass    NodeID
	resumed   bool
	resumeIn  State
	// input is recorded on the next checkpoint saved by this run.
	input    State
	fork     bool
	before   []bool
	after    []bool
	executed int
}

// Run executes the graph for threadID and streams events. The returned
// channel is closed when the run ends: at End, at an interrupt, or on the
// first failure (delivered as an error event).
//
// Preconditions are checked before Run returns: a thread that already has a
// run in flight yields *ThreadBusyError, and nothing is changed.
func (e *Executor) Run(ctx context.Context, threadID string, input State, opts ...RunOption) (<-chan *event.Event, error) {
	if threadID == "" {
		return nil, ErrEmptyThreadID
	}
	var ro runOptions
	for _, opt := range opts {
		opt(&ro)
	}
	if ro.invocationID == "" {
		ro.invocationID = uuid.New().String()
	}

	unlock, err := e.locker.TryLock(ctx, threadID)
	if err != nil {
		return nil, err
	}
	r, err := e.prepare(ctx, threadID, input, &ro)
	if err != nil {
		unlock()
		return nil, err
	}

	ch := make(chan *event.Event, e.channelBufferSize)
	go func() {
		defer close(ch)
		defer unlock()
		e.loop(ctx, r, ch)
	}()
	return ch, nil
}

func (e *Executor) prepare(ctx context.Context, threadID string, input State, ro *runOptions) (*run, error) {
	g := e.graph
	r := &run{
		threadID:     threadID,
		invocationID: ro.invocationID,
		bypass:       noNode,
		before:       append([]bool(nil), g.before...),
		after:        append([]bool(nil), g.after...),
	}
	if err := e.applyRunMarks(r, ro); err != nil {
		return nil, err
	}

	latest, err := e.loadLatest(ctx, threadID)
	if err != nil {
		return nil, err
	}
	schema := g.Schema()

	switch {
	case ro.replayFrom > 0:
		base, err := e.saver.Load(ctx, threadID, ro.replayFrom)
		if err != nil {
			return nil, fmt.Errorf("load checkpoint %d of thread %q: %w", ro.replayFrom, threadID, err)
		}
		if latest == nil {
			return nil, fmt.Errorf("%w: thread %q is empty", ErrNoCheckpoint, threadID)
		}
		if base.State, err = schema.Restore(base.State); err != nil {
			return nil, err
		}
		if r.state, err = schema.Merge(base.State, input); err != nil {
			return nil, err
		}
		r.step, r.parent, r.fork = latest.Step, base.Step, true
		r.input = input
		if r.queue, err = e.resolve(base.NextNodes); err != nil {
			return nil, err
		}
		if len(r.queue) == 0 {
			r.queue = []NodeID{g.entry}
		} else if base.Interrupt != nil {
			r.bypass = r.queue[0]
			r.resumed, r.resumeIn = true, input
		}

	case ro.resume:
		if latest == nil {
			return nil, fmt.Errorf("%w: thread %q has no checkpoint", ErrNothingToResume, threadID)
		}
		if ro.token != nil && (ro.token.ThreadID != threadID || ro.token.Step != latest.Step) {
			return nil, fmt.Errorf("%w: token %s, latest step %d", ErrInvalidResumeToken, ro.token, latest.Step)
		}
		if len(latest.NextNodes) == 0 {
			return nil, fmt.Errorf("%w: thread %q finished at step %d", ErrNothingToResume, threadID, latest.Step)
		}
		if r.state, err = schema.Merge(latest.State, input); err != nil {
			return nil, err
		}
		if r.queue, err = e.resolve(latest.NextNodes); err != nil {
			return nil, err
		}
		r.step, r.parent = latest.Step, latest.Step
		r.persisted = len(input) == 0
		r.bypass = r.queue[0]
		r.resumed, r.resumeIn = true, input
		r.input = input

	default:
		if latest == nil {
			r.state, err = schema.Init(input)
		} else {
			r.state, err = schema.Merge(latest.State, input)
			r.step, r.parent = latest.Step, latest.Step
		}
		if err != nil {
			return nil, err
		}
		r.queue = []NodeID{g.entry}
		r.input = input
	}
	return r, nil
}

func (e *Executor) applyRunMarks(r *run, ro *runOptions) error {
	for _, set := range []struct {
		names []string
		marks []bool
		when  When
	}{{ro.before, r.before, Before}, {ro.after, r.after, After}} {
		for _, name := range set.names {
			id, ok := e.graph.byName[name]
			if !ok {
				return &GraphConfigurationError{Problems: []string{
					fmt.Sprintf("interrupt %s %q: not a declared node", set.when, name),
				}}
			}
			set.marks[id] = true
		}
	}
	return nil
}

func (e *Executor) loadLatest(ctx context.Context, threadID string) (*Checkpoint, error) {
	latest, err := e.saver.LoadLatest(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("load latest checkpoint of thread %q: %w", threadID, err)
	}
	if latest == nil {
		return nil, nil
	}
	if latest.State, err = e.graph.Schema().Restore(latest.State); err != nil {
		return nil, err
	}
	return latest, nil
}

// resolve maps stored node names back to ids of this graph.
func (e *Executor) resolve(names []string) ([]NodeID, error) {
	ids := make([]NodeID, 0, len(names))
	for _, n := range names {
		id, ok := e.graph.byName[n]
		if !ok {
			return nil, fmt.Errorf("checkpoint names node %q which this graph does not declare", n)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (e *Executor) names(ids []NodeID) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = e.graph.NodeName(id)
	}
	return out
}

func (e *Executor) loop(ctx context.Context, r *run, ch chan<- *event.Event) {
	ctx, span := trace.Tracer.Start(ctx, itelemetry.SpanNameGraphRun)
	defer span.End()
	span.SetAttributes(
		attribute.String(itelemetry.KeyThreadID, r.threadID),
		attribute.String(itelemetry.KeyInvocationID, r.invocationID),
	)

	for {
		if len(r.queue) == 0 {
			e.complete(ctx, r, ch)
			return
		}
		id := r.queue[0]
		if r.before[id] && id != r.bypass {
			if !r.persisted {
				ck := &Checkpoint{
					State:     r.state,
					NextNodes: e.names(r.queue),
					Source:    SourceInput,
					Interrupt: &PendingInterrupt{Node: e.graph.NodeName(id), When: Before},
				}
				if err := e.save(ctx, r, ck); err != nil {
					e.fail(ctx, r, ch, err)
					return
				}
			}
			e.pause(ctx, r, ch, e.graph.NodeName(id), Before, nil)
			return
		}
		r.bypass = noNode

		if err := ctx.Err(); err != nil {
			e.fail(ctx, r, ch, fmt.Errorf("run cancelled before step %d: %w", r.step+1, err))
			return
		}
		if r.executed >= e.maxSteps {
			e.fail(ctx, r, ch, fmt.Errorf("%w: %d", ErrMaxStepsExceeded, e.maxSteps))
			return
		}
		r.executed++
		if !e.step(ctx, r, ch, e.graph.nodes[id]) {
			return
		}
	}
}

// step runs one node and reports whether the run continues.
func (e *Executor) step(ctx context.Context, r *run, ch chan<- *event.Event, node *Node) bool {
	nodeCtx := ctx
	if r.resumed {
		nodeCtx = withResumed(ctx, r.resumeIn)
		r.resumed = false
	}
	result, err := e.invoke(nodeCtx, r, node)
	if err != nil {
		var ie *InterruptError
		if errors.As(err, &ie) {
			ck := &Checkpoint{
				State:     r.state,
				NextNodes: e.names(r.queue),
				Source:    SourceInterrupt,
				Interrupt: &PendingInterrupt{Node: node.Name, When: Dynamic, Prompt: ie.Prompt},
			}
			if err := e.save(ctx, r, ck); err != nil {
				e.fail(ctx, r, ch, err)
				return false
			}
			e.pause(ctx, r, ch, node.Name, Dynamic, ie.Prompt)
			return false
		}
		e.fail(ctx, r, ch, e.nodeError(r, node, err))
		return false
	}

	update, goTo, err := parseResult(result)
	if err != nil {
		e.fail(ctx, r, ch, e.nodeError(r, node, err))
		return false
	}
	merged, err := e.graph.Schema().Merge(r.state, update)
	if err != nil {
		e.fail(ctx, r, ch, e.nodeError(r, node, err))
		return false
	}
	next, err := e.route(ctx, r, node, merged, goTo)
	if err != nil {
		e.fail(ctx, r, ch, err)
		return false
	}

	queue := append([]NodeID(nil), r.queue[1:]...)
	for _, id := range next {
		if !containsID(queue, id) {
			queue = append(queue, id)
		}
	}
	ck := &Checkpoint{
		Node:      node.Name,
		State:     merged,
		Update:    update,
		NextNodes: e.names(queue),
		Source:    SourceLoop,
	}
	// An after mark on a node with nothing left to run has nothing to
	// resume, so the run completes instead.
	pauseAfter := r.after[node.ID] && len(queue) > 0
	switch {
	case pauseAfter:
		ck.Interrupt = &PendingInterrupt{Node: node.Name, When: After}
	case len(queue) > 0 && r.before[queue[0]]:
		ck.Interrupt = &PendingInterrupt{Node: e.graph.NodeName(queue[0]), When: Before}
	}
	if err := e.save(ctx, r, ck); err != nil {
		e.fail(ctx, r, ch, err)
		return false
	}
	r.state, r.queue, r.persisted = merged, queue, true
	e.metrics.recordStep(ctx, node)
	log.Debugf("graph: thread=%s step=%d node=%s next=%v", r.threadID, r.step, node.Name, ck.NextNodes)

	emit(ctx, ch, event.New(r.invocationID, node.Name,
		event.WithObject(ObjectTypeGraphStep),
		event.WithThread(r.threadID, r.step),
		event.WithNode(node.Name),
		event.WithUpdate(update.Clone()),
		event.WithState(merged.Clone()),
	))

	if pauseAfter {
		e.pause(ctx, r, ch, node.Name, After, nil)
		return false
	}
	return true
}

func (e *Executor) nodeError(r *run, node *Node, err error) error {
	return &NodeExecutionError{ThreadID: r.threadID, Step: r.step + 1, Node: node.Name, Err: err}
}

// invoke runs the node with callbacks, retries and the timeout.
func (e *Executor) invoke(ctx context.Context, r *run, node *Node) (any, error) {
	ctx, span := trace.Tracer.Start(ctx, itelemetry.SpanNameGraphNode+" "+node.Name)
	defer span.End()
	span.SetAttributes(itelemetry.NodeAttributes(r.threadID, r.step+1, node.Name, string(node.Type))...)

	attempts := 1
	if node.retry != nil && node.retry.MaxAttempts > 1 {
		attempts = node.retry.MaxAttempts
	}
	for attempt := 1; ; attempt++ {
		cbCtx := &NodeCallbackContext{
			ThreadID:     r.threadID,
			InvocationID: r.invocationID,
			NodeName:     node.Name,
			NodeType:     node.Type,
			Step:         r.step + 1,
			Attempt:      attempt,
			StartedAt:    time.Now(),
		}
		result, err := e.invokeOnce(ctx, node, r.state.Clone(), cbCtx)
		e.metrics.recordNode(ctx, node, time.Since(cbCtx.StartedAt), err)
		if err == nil || attempt >= attempts || !node.retry.ShouldRetry(err) {
			if err != nil && !IsInterruptError(err) {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return result, err
		}
		delay := node.retry.NextDelay(attempt)
		log.Warnf("graph: thread=%s node=%s attempt %d failed, retrying in %s: %v",
			r.threadID, node.Name, attempt, delay, err)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, err
		}
	}
}

func (e *Executor) invokeOnce(ctx context.Context, node *Node, state State, cbCtx *NodeCallbackContext) (any, error) {
	if res, err := e.callbacks.RunBeforeNode(ctx, cbCtx, state); err != nil || res != nil {
		return res, err
	}
	result, err := e.callNode(ctx, node, state)
	if IsInterruptError(err) {
		return nil, err
	}
	if err != nil {
		e.callbacks.RunOnNodeError(ctx, cbCtx, state, err)
	}
	res, cbErr := e.callbacks.RunAfterNode(ctx, cbCtx, state, result, err)
	switch {
	case cbErr != nil:
		return nil, cbErr
	case err != nil:
		return nil, err
	}
	return res, nil
}

// callNode enforces the timeout. A node that overruns is abandoned: its
// result is discarded when it eventually returns.
func (e *Executor) callNode(ctx context.Context, node *Node, state State) (any, error) {
	timeout := node.timeout
	if timeout <= 0 {
		timeout = e.nodeTimeout
	}
	if timeout <= 0 {
		return safeCall(ctx, node, state)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := safeCall(ctx, node, state)
		done <- outcome{res, err}
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case o := <-done:
		return o.result, o.err
	case <-timer.C:
		return nil, fmt.Errorf("%w after %s: %w", ErrNodeTimeout, timeout, context.DeadlineExceeded)
	}
}

func safeCall(ctx context.Context, node *Node, state State) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("node %q panicked: %v", node.Name, p)
		}
	}()
	return node.fn(ctx, state)
}

func parseResult(result any) (State, string, error) {
	switch v := result.(type) {
	case nil:
		return nil, "", nil
	case State:
		return v, "", nil
	case map[string]any:
		return State(v), "", nil
	case *Command:
		if v == nil {
			return nil, "", nil
		}
		return v.Update, v.GoTo, nil
	case Command:
		return v.Update, v.GoTo, nil
	default:
		return nil, "", fmt.Errorf("unsupported node result type %T", result)
	}
}

// route computes the successors of node against the merged state.
func (e *Executor) route(ctx context.Context, r *run, node *Node, state State, goTo string) ([]NodeID, error) {
	g := e.graph
	routingErr := func(key, reason string, err error) error {
		return &RoutingError{ThreadID: r.threadID, Step: r.step + 1, Node: node.Name, Key: key, Reason: reason, Err: err}
	}

	if goTo != "" {
		id, ok := g.NodeID(goTo)
		if !ok {
			return nil, routingErr(goTo, "is not a declared node", nil)
		}
		if allowed := g.gotoAllowed[node.ID]; allowed != nil && !allowed[id] {
			return nil, routingErr(goTo, "is not a declared destination", nil)
		}
		if id == EndNode {
			return nil, nil
		}
		return []NodeID{id}, nil
	}

	var next []NodeID
	for _, id := range g.edges[node.ID] {
		if id != EndNode {
			next = append(next, id)
		}
	}
	if ce := g.conditional[node.ID]; ce != nil {
		key, err := ce.router(ctx, state.Clone())
		if err != nil {
			return nil, routingErr(key, "router failed", err)
		}
		id, ok := ce.mapping[key]
		if !ok {
			return nil, routingErr(key, fmt.Sprintf("is not one of %v", g.conditionalTargets(node.ID)), nil)
		}
		if id != EndNode && !containsID(next, id) {
			next = append(next, id)
		}
	}
	return next, nil
}

// save persists ck as the next step. The write ignores cancellation of ctx
// so a completed step is never lost.
func (e *Executor) save(ctx context.Context, r *run, ck *Checkpoint) error {
	ck.ID = uuid.New().String()
	ck.ThreadID = r.threadID
	ck.Step = r.step + 1
	ck.ParentStep = r.parent
	ck.CreatedAt = time.Now()
	if r.fork {
		ck.Source = SourceFork
		r.fork = false
	}
	if len(r.input) > 0 {
		ck.Input = r.input.Clone()
	}
	if err := e.saver.Save(context.WithoutCancel(ctx), ck); err != nil {
		log.Errorf("graph: thread=%s save checkpoint step %d: %v", r.threadID, ck.Step, err)
		return fmt.Errorf("save checkpoint step %d of thread %q: %w", ck.Step, r.threadID, err)
	}
	r.step, r.parent = ck.Step, ck.Step
	r.input = nil
	return nil
}

func (e *Executor) pause(ctx context.Context, r *run, ch chan<- *event.Event, node string, when When, prompt any) {
	token := ResumeToken{ThreadID: r.threadID, Step: r.step}
	log.Infof("graph: thread=%s paused %s %s, resume with %s", r.threadID, when, node, token)
	emit(ctx, ch, event.New(r.invocationID, AuthorGraphExecutor,
		event.WithObject(ObjectTypeGraphInterrupt),
		event.WithThread(r.threadID, r.step),
		event.WithNode(node),
		event.WithState(r.state.Clone()),
		event.WithInterrupt(&event.Interrupt{Node: node, When: string(when), Prompt: prompt, Token: token.String()}),
		event.WithDone(),
	))
}

func (e *Executor) complete(ctx context.Context, r *run, ch chan<- *event.Event) {
	log.Debugf("graph: thread=%s completed at step %d", r.threadID, r.step)
	emit(ctx, ch, event.New(r.invocationID, AuthorGraphExecutor,
		event.WithObject(ObjectTypeGraphCompletion),
		event.WithThread(r.threadID, r.step),
		event.WithState(r.state.Clone()),
		event.WithDone(),
	))
}

func (e *Executor) fail(ctx context.Context, r *run, ch chan<- *event.Event, err error) {
	errType := errorType(err)
	log.Warnf("graph: thread=%s run failed after step %d: %v", r.threadID, r.step, err)
	e.metrics.recordError(ctx, errType)
	emit(ctx, ch, event.NewErrorEvent(r.invocationID, AuthorGraphExecutor, errType, err,
		event.WithThread(r.threadID, r.step)))
}

// emit prefers delivery: it only gives up when the buffer is full and the
// consumer has gone away.
func emit(ctx context.Context, ch chan<- *event.Event, evt *event.Event) {
	select {
	case ch <- evt:
		return
	default:
	}
	select {
	case ch <- evt:
	case <-ctx.Done():
		log.Warnf("graph: dropped %s event for thread %s: %v", evt.Object, evt.ThreadID, ctx.Err())
	}
}
