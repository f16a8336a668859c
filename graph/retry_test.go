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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestNextDelay(t *testing.T) {
	p := RetryPolicy{InitialInterval: 100 * time.Millisecond, BackoffFactor: 2, MaxInterval: 300 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, p.NextDelay(0))
	assert.Equal(t, 100*time.Millisecond, p.NextDelay(1))
	assert.Equal(t, 200*time.Millisecond, p.NextDelay(2))
	assert.Equal(t, 300*time.Millisecond, p.NextDelay(3))

	flat := RetryPolicy{InitialInterval: 50 * time.Millisecond}
	assert.Equal(t, 50*time.Millisecond, flat.NextDelay(4))

	jitter := RetryPolicy{InitialInterval: 10 * time.Millisecond, Jitter: true}
	d := jitter.NextDelay(1)
	assert.GreaterOrEqual(t, d, 10*time.Millisecond)
	assert.Less(t, d, 20*time.Millisecond)
}

func TestShouldRetry(t *testing.T) {
	sentinel := errors.New("sentinel")
	rateLimited := &CapabilityError{Capability: CapabilityLLM, Kind: KindRateLimited, Err: errors.New("429")}
	toolFailed := &CapabilityError{Capability: CapabilityTool, Kind: KindToolFailed, Err: errors.New("boom")}

	tests := []struct {
		name   string
		policy RetryPolicy
		err    error
		want   bool
	}{
		{"no conditions", RetryPolicy{MaxAttempts: 3}, sentinel, false},
		{"nil error", SimpleRetry(3), nil, false},
		{"wrapped sentinel", RetryPolicy{RetryOn: []RetryCondition{RetryOnErrors(sentinel)}}, fmt.Errorf("x: %w", sentinel), true},
		{"other error", RetryPolicy{RetryOn: []RetryCondition{RetryOnErrors(sentinel)}}, errors.New("other"), false},
		{"capability kind", RetryPolicy{RetryOn: []RetryCondition{RetryOnCapability(KindRateLimited)}}, rateLimited, true},
		{"capability other kind", RetryPolicy{RetryOn: []RetryCondition{RetryOnCapability(KindRateLimited)}}, toolFailed, false},
		{"transient deadline", SimpleRetry(3), context.DeadlineExceeded, true},
		{"transient net timeout", SimpleRetry(3), fmt.Errorf("dial: %w", timeoutErr{}), true},
		{"transient rate limit", SimpleRetry(3), &NodeExecutionError{Err: rateLimited}, true},
		{"tool failure is not transient", SimpleRetry(3), toolFailed, false},
		{"interrupt never retried", RetryPolicy{RetryOn: []RetryCondition{func(error) bool { return true }}}, Interrupt("q"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.ShouldRetry(tt.err))
		})
	}
}

func TestSimpleRetry(t *testing.T) {
	p := SimpleRetry(0)
	assert.Equal(t, 1, p.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, p.InitialInterval)
	assert.True(t, p.Jitter)
}
