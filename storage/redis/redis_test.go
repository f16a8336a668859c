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
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolateRegistry(t *testing.T) {
	registryMu.Lock()
	old := registry
	registry = map[string][]ClientBuilderOpt{}
	registryMu.Unlock()
	t.Cleanup(func() {
		registryMu.Lock()
		registry = old
		registryMu.Unlock()
	})
}

func TestSetGetClientBuilder(t *testing.T) {
	old := GetClientBuilder()
	defer SetClientBuilder(old)

	var seen string
	SetClientBuilder(func(opts ...ClientBuilderOpt) (redis.UniversalClient, error) {
		o := &ClientBuilderOpts{}
		for _, opt := range opts {
			opt(o)
		}
		seen = o.URL
		return nil, nil
	})
	_, err := NewClient("redis://localhost:6379")
	require.NoError(t, err)
	assert.Equal(t, "redis://localhost:6379", seen)
}

func TestDefaultClientBuilderErrors(t *testing.T) {
	_, err := DefaultClientBuilder()
	require.EqualError(t, err, "redis: url is empty")

	_, err = DefaultClientBuilder(WithClientBuilderURL("127.0.0.1:6379"))
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "redis: parse url 127.0.0.1:6379:"))
}

func TestDefaultClientBuilderPing(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := DefaultClientBuilder(WithClientBuilderURL("redis://"+mr.Addr()), WithPing())
	require.NoError(t, err)
	defer client.Close()

	addr := mr.Addr()
	mr.Close()
	_, err = DefaultClientBuilder(WithClientBuilderURL("redis://"+addr), WithPing())
	assert.Error(t, err)
}

func TestNewClientFromInstance(t *testing.T) {
	isolateRegistry(t)
	mr := miniredis.RunT(t)
	RegisterRedisInstance("checkpoints", WithClientBuilderURL("redis://"+mr.Addr()))

	opts, ok := GetRedisInstance("checkpoints")
	require.True(t, ok)
	assert.Len(t, opts, 1)
	_, ok = GetRedisInstance("missing")
	assert.False(t, ok)

	client, err := NewClient("checkpoints", WithPing())
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}
