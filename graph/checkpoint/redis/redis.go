//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package redis provides a Redis checkpoint store.
//
// Each thread owns a sorted set of its steps and one string key per
// checkpoint. Keys of a thread share a hash tag so the append script also
// works on Redis Cluster.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"trpc.group/trpc-go/trpc-agent-graph/graph"
	storage "trpc.group/trpc-go/trpc-agent-graph/storage/redis"
)

const defaultKeyPrefix = "chatgraph"

// appendScript writes the checkpoint only when its step is above the latest
// step of the thread. It returns 1 on success and 0 on conflict.
var appendScript = redis.NewScript(`
local last = redis.call('ZREVRANGE', KEYS[1], 0, 0, 'WITHSCORES')
if last[2] ~= nil and tonumber(last[2]) >= tonumber(ARGV[1]) then
  return 0
end
redis.call('SET', KEYS[2], ARGV[2])
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[1])
return 1
`)

// Saver is a Redis-backed graph.Saver.
type Saver struct {
	client redis.UniversalClient
	owned  bool
	prefix string
	schema *graph.StateSchema
}

var _ graph.Saver = (*Saver)(nil)

// Option configures a Saver.
type Option func(*Saver)

// WithKeyPrefix sets the prefix of every key. Default "chatgraph".
func WithKeyPrefix(prefix string) Option {
	return func(s *Saver) { s.prefix = prefix }
}

// WithSchema re-types loaded state through schema.Restore.
func WithSchema(schema *graph.StateSchema) Option {
	return func(s *Saver) { s.schema = schema }
}

// NewSaver creates a saver on an existing client. The caller keeps
// ownership of client.
func NewSaver(client redis.UniversalClient, opts ...Option) (*Saver, error) {
	if client == nil {
		return nil, errors.New("redis client is nil")
	}
	s := &Saver{client: client, prefix: defaultKeyPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// New creates a saver that owns a client built from a registered instance
// name or a redis url.
func New(nameOrURL string, opts ...Option) (*Saver, error) {
	client, err := storage.NewClient(nameOrURL, storage.WithPing())
	if err != nil {
		return nil, err
	}
	s, err := NewSaver(client, opts...)
	if err != nil {
		client.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

func (s *Saver) stepsKey(threadID string) string {
	return fmt.Sprintf("%s:{%s}:steps", s.prefix, threadID)
}

func (s *Saver) checkpointKey(threadID string, step int) string {
	return fmt.Sprintf("%s:{%s}:ckpt:%d", s.prefix, threadID, step)
}

// Save appends ckpt atomically.
func (s *Saver) Save(ctx context.Context, ckpt *graph.Checkpoint) error {
	if err := graph.ValidateCheckpoint(ckpt); err != nil {
		return err
	}
	blob, err := json.Marshal(ckpt)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	keys := []string{s.stepsKey(ckpt.ThreadID), s.checkpointKey(ckpt.ThreadID, ckpt.Step)}
	ok, err := appendScript.Run(ctx, s.client, keys, ckpt.Step, blob).Int()
	if err != nil {
		return fmt.Errorf("redis save checkpoint: %w", err)
	}
	if ok == 0 {
		return fmt.Errorf("%w: thread %q step %d", graph.ErrStepConflict, ckpt.ThreadID, ckpt.Step)
	}
	return nil
}

// LoadLatest returns the newest checkpoint of a thread.
func (s *Saver) LoadLatest(ctx context.Context, threadID string) (*graph.Checkpoint, error) {
	members, err := s.client.ZRevRange(ctx, s.stepsKey(threadID), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("redis latest step: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}
	step, err := strconv.Atoi(members[0])
	if err != nil {
		return nil, fmt.Errorf("redis latest step %q: %w", members[0], err)
	}
	return s.Load(ctx, threadID, step)
}

// Load returns the checkpoint at step.
func (s *Saver) Load(ctx context.Context, threadID string, step int) (*graph.Checkpoint, error) {
	blob, err := s.client.Get(ctx, s.checkpointKey(threadID, step)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: thread %q step %d", graph.ErrNoCheckpoint, threadID, step)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get checkpoint: %w", err)
	}
	return s.decode(blob)
}

// List returns the thread's checkpoints, oldest first.
func (s *Saver) List(ctx context.Context, threadID string) ([]*graph.Checkpoint, error) {
	members, err := s.client.ZRange(ctx, s.stepsKey(threadID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list steps: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}
	keys := make([]string, len(members))
	for i, m := range members {
		step, err := strconv.Atoi(m)
		if err != nil {
			return nil, fmt.Errorf("redis step %q: %w", m, err)
		}
		keys[i] = s.checkpointKey(threadID, step)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget checkpoints: %w", err)
	}
	out := make([]*graph.Checkpoint, 0, len(values))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("redis checkpoint %s is missing", keys[i])
		}
		ck, err := s.decode([]byte(str))
		if err != nil {
			return nil, err
		}
		out = append(out, ck)
	}
	return out, nil
}

func (s *Saver) decode(blob []byte) (*graph.Checkpoint, error) {
	var ck graph.Checkpoint
	if err := json.Unmarshal(blob, &ck); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	if s.schema == nil {
		return &ck, nil
	}
	var err error
	if ck.State, err = s.schema.Restore(ck.State); err != nil {
		return nil, err
	}
	if ck.Update, err = s.schema.Restore(ck.Update); err != nil {
		return nil, err
	}
	if ck.Input, err = s.schema.Restore(ck.Input); err != nil {
		return nil, err
	}
	return &ck, nil
}

// Close closes the client when the saver built it.
func (s *Saver) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
