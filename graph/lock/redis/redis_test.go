//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-agent-graph/graph"
)

func newLocker(t *testing.T, opts ...Option) (*Locker, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	l, err := New(client, opts...)
	require.NoError(t, err)
	return l, mr
}

func TestTryLockExclusive(t *testing.T) {
	l, mr := newLocker(t)
	ctx := context.Background()

	unlock, err := l.TryLock(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("chatgraph:{t1}:lock"))

	_, err = l.TryLock(ctx, "t1")
	var busy *graph.ThreadBusyError
	require.ErrorAs(t, err, &busy)
	assert.Equal(t, "t1", busy.ThreadID)

	other, err := l.TryLock(ctx, "t2")
	require.NoError(t, err)
	other()

	unlock()
	unlock()
	assert.False(t, mr.Exists("chatgraph:{t1}:lock"))

	again, err := l.TryLock(ctx, "t1")
	require.NoError(t, err)
	again()
}

func TestReleaseKeepsForeignLock(t *testing.T) {
	l, mr := newLocker(t)
	unlock, err := l.TryLock(context.Background(), "t1")
	require.NoError(t, err)

	// Another holder took over after expiry.
	require.NoError(t, mr.Set("chatgraph:{t1}:lock", "someone-else"))
	unlock()
	got, err := mr.Get("chatgraph:{t1}:lock")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestLockExpiresWithoutHolder(t *testing.T) {
	l, mr := newLocker(t, WithTTL(time.Minute))
	unlock, err := l.TryLock(context.Background(), "t1")
	require.NoError(t, err)
	defer unlock()

	mr.FastForward(2 * time.Minute)
	assert.False(t, mr.Exists("chatgraph:{t1}:lock"))
}

func TestNewNilClient(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}
