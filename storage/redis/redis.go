//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package redis manages the redis clients shared by the checkpoint store and
// the thread lock. Clients are described by URL, either directly or through
// a named instance registered at startup.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

var (
	registryMu sync.RWMutex
	registry   = map[string][]ClientBuilderOpt{}
)

// ClientBuilder creates a client from options.
type ClientBuilder func(builderOpts ...ClientBuilderOpt) (redis.UniversalClient, error)

var globalBuilder ClientBuilder = DefaultClientBuilder

// SetClientBuilder replaces the builder used by NewClient.
func SetClientBuilder(builder ClientBuilder) {
	globalBuilder = builder
}

// GetClientBuilder returns the builder used by NewClient.
func GetClientBuilder() ClientBuilder {
	return globalBuilder
}

// ClientBuilderOpt is the option for the redis client.
type ClientBuilderOpt func(*ClientBuilderOpts)

// ClientBuilderOpts is the options for the redis client.
type ClientBuilderOpts struct {
	URL string
	// Ping checks the connection when the client is built.
	Ping bool
}

// WithClientBuilderURL sets the redis url:
// redis://<username>:<password>@<host>:<port>/<db>?<options>.
func WithClientBuilderURL(url string) ClientBuilderOpt {
	return func(opts *ClientBuilderOpts) { opts.URL = url }
}

// WithPing makes the builder ping the server before returning.
func WithPing() ClientBuilderOpt {
	return func(opts *ClientBuilderOpts) { opts.Ping = true }
}

// DefaultClientBuilder parses the url into a universal client.
func DefaultClientBuilder(builderOpts ...ClientBuilderOpt) (redis.UniversalClient, error) {
	o := &ClientBuilderOpts{}
	for _, opt := range builderOpts {
		opt(o)
	}
	if o.URL == "" {
		return nil, errors.New("redis: url is empty")
	}
	opts, err := redis.ParseURL(o.URL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url %s: %w", o.URL, err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:           []string{opts.Addr},
		DB:              opts.DB,
		Username:        opts.Username,
		Password:        opts.Password,
		Protocol:        opts.Protocol,
		ClientName:      opts.ClientName,
		TLSConfig:       opts.TLSConfig,
		MaxRetries:      opts.MaxRetries,
		DialTimeout:     opts.DialTimeout,
		ReadTimeout:     opts.ReadTimeout,
		WriteTimeout:    opts.WriteTimeout,
		PoolSize:        opts.PoolSize,
		MinIdleConns:    opts.MinIdleConns,
		ConnMaxIdleTime: opts.ConnMaxIdleTime,
	})
	if o.Ping {
		if err := client.Ping(context.Background()).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("redis: ping %s: %w", opts.Addr, err)
		}
	}
	return client, nil
}

// RegisterRedisInstance registers options under name.
func RegisterRedisInstance(name string, opts ...ClientBuilderOpt) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = append(registry[name], opts...)
}

// GetRedisInstance returns the options registered under name.
func GetRedisInstance(name string) ([]ClientBuilderOpt, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	opts, ok := registry[name]
	return opts, ok
}

// NewClient builds a client for a registered instance name or, when no
// instance has that name, treats nameOrURL as a url.
func NewClient(nameOrURL string, extra ...ClientBuilderOpt) (redis.UniversalClient, error) {
	opts, ok := GetRedisInstance(nameOrURL)
	if !ok {
		opts = []ClientBuilderOpt{WithClientBuilderURL(nameOrURL)}
	}
	return globalBuilder(append(append([]ClientBuilderOpt(nil), opts...), extra...)...)
}
