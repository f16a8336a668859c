//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package redis provides a graph.Locker shared by every process that talks
// to the same Redis, so one thread never runs in two processes at once.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"trpc.group/trpc-go/trpc-agent-graph/graph"
	"trpc.group/trpc-go/trpc-agent-graph/log"
)

const (
	defaultKeyPrefix = "chatgraph"
	defaultTTL       = 30 * time.Second
)

// releaseScript deletes the lock only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// refreshScript extends the lock only if this holder still owns it.
var refreshScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// Locker implements graph.Locker with SET NX PX. The lock is refreshed while
// held so a long run keeps it; a crashed holder loses it after the TTL.
type Locker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ graph.Locker = (*Locker)(nil)

// Option configures a Locker.
type Option func(*Locker)

// WithKeyPrefix sets the key prefix. Default "chatgraph".
func WithKeyPrefix(prefix string) Option {
	return func(l *Locker) { l.prefix = prefix }
}

// WithTTL sets how long a lock survives without refresh. Default 30s.
func WithTTL(ttl time.Duration) Option {
	return func(l *Locker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// New creates a Locker on client.
func New(client redis.UniversalClient, opts ...Option) (*Locker, error) {
	if client == nil {
		return nil, errors.New("redis client is nil")
	}
	l := &Locker{client: client, prefix: defaultKeyPrefix, ttl: defaultTTL}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *Locker) key(threadID string) string {
	return fmt.Sprintf("%s:{%s}:lock", l.prefix, threadID)
}

// TryLock implements graph.Locker.
func (l *Locker) TryLock(ctx context.Context, threadID string) (func(), error) {
	key := l.key(threadID)
	owner := uuid.New().String()
	ok, err := l.client.SetNX(ctx, key, owner, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lock %s: %w", key, err)
	}
	if !ok {
		return nil, &graph.ThreadBusyError{ThreadID: threadID}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.refresh(key, owner, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			if err := releaseScript.Run(context.Background(), l.client, []string{key}, owner).Err(); err != nil {
				log.Warnf("redis lock: release %s: %v", key, err)
			}
		})
	}, nil
}

func (l *Locker) refresh(key, owner string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			n, err := refreshScript.Run(context.Background(), l.client, []string{key}, owner, l.ttl.Milliseconds()).Int()
			if err != nil {
				log.Warnf("redis lock: refresh %s: %v", key, err)
				continue
			}
			if n == 0 {
				log.Warnf("redis lock: %s was lost", key)
				return
			}
		}
	}
}
