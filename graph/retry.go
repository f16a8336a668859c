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
	"math/rand/v2"
	"net"
	"time"
)

// RetryCondition picks the failures a RetryPolicy retries.
type RetryCondition func(err error) bool

// RetryPolicy retries a single node. MaxAttempts counts the first try, so 3
// allows two retries. The executor never retries a node that has no policy.
//
// The wait after failed attempt n is InitialInterval*BackoffFactor^(n-1),
// capped at MaxInterval (InitialInterval when unset). Jitter adds a random
// share of up to one more interval.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	BackoffFactor   float64
	MaxInterval     time.Duration
	Jitter          bool
	RetryOn         []RetryCondition
}

// NextDelay returns the wait after the given failed attempt (1 based).
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	ceiling := p.MaxInterval
	if ceiling <= 0 {
		ceiling = p.InitialInterval
	}
	delay := p.InitialInterval
	if p.BackoffFactor > 1 {
		for n := 1; n < attempt && delay < ceiling; n++ {
			delay = time.Duration(float64(delay) * p.BackoffFactor)
		}
	}
	delay = min(delay, ceiling)
	if p.Jitter && delay > 0 {
		delay += rand.N(delay)
	}
	return delay
}

// ShouldRetry reports whether err matches one of RetryOn. Interrupts are
// never retried.
func (p RetryPolicy) ShouldRetry(err error) bool {
	if err == nil || IsInterruptError(err) {
		return false
	}
	for _, match := range p.RetryOn {
		if match != nil && match(err) {
			return true
		}
	}
	return false
}

// RetryOnErrors matches errors wrapping one of targets.
func RetryOnErrors(targets ...error) RetryCondition {
	return func(err error) bool {
		for _, target := range targets {
			if target != nil && errors.Is(err, target) {
				return true
			}
		}
		return false
	}
}

// RetryOnCapability matches capability failures of the given kinds.
func RetryOnCapability(kinds ...string) RetryCondition {
	return func(err error) bool {
		for _, kind := range kinds {
			if IsCapabilityKind(err, kind) {
				return true
			}
		}
		return false
	}
}

// DefaultTransientCondition matches timeouts, rate limits and network
// failures.
func DefaultTransientCondition() RetryCondition {
	return func(err error) bool {
		var netErr net.Error
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return true
		case errors.As(err, &netErr) && netErr.Timeout():
			return true
		}
		return IsCapabilityKind(err, KindRateLimited) || IsCapabilityKind(err, KindNetworkUnavailable)
	}
}

// SimpleRetry allows attempts tries on transient failures, waiting 500ms
// and doubling up to 8s, with jitter.
func SimpleRetry(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     max(attempts, 1),
		InitialInterval: 500 * time.Millisecond,
		BackoffFactor:   2,
		MaxInterval:     8 * time.Second,
		Jitter:          true,
		RetryOn:         []RetryCondition{DefaultTransientCondition()},
	}
}
