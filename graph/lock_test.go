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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	unlock, err := l.TryLock(ctx, "t1")
	require.NoError(t, err)

	_, err = l.TryLock(ctx, "t1")
	var be *ThreadBusyError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "t1", be.ThreadID)

	other, err := l.TryLock(ctx, "t2")
	require.NoError(t, err)
	other()

	unlock()
	unlock()
	again, err := l.TryLock(ctx, "t1")
	require.NoError(t, err)
	again()
}
