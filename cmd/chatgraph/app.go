//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"trpc.group/trpc-go/trpc-agent-graph/chatbot"
	"trpc.group/trpc-go/trpc-agent-graph/graph"
	"trpc.group/trpc-go/trpc-agent-graph/graph/checkpoint/badger"
	"trpc.group/trpc-go/trpc-agent-graph/graph/checkpoint/inmemory"
	redisckpt "trpc.group/trpc-go/trpc-agent-graph/graph/checkpoint/redis"
	"trpc.group/trpc-go/trpc-agent-graph/graph/checkpoint/sqlite"
	redislock "trpc.group/trpc-go/trpc-agent-graph/graph/lock/redis"
	"trpc.group/trpc-go/trpc-agent-graph/internal/config"
	"trpc.group/trpc-go/trpc-agent-graph/log"
	"trpc.group/trpc-go/trpc-agent-graph/model"
	"trpc.group/trpc-go/trpc-agent-graph/model/openai"
	"trpc.group/trpc-go/trpc-agent-graph/runner"
	storage "trpc.group/trpc-go/trpc-agent-graph/storage/redis"
	"trpc.group/trpc-go/trpc-agent-graph/telemetry/metric"
	"trpc.group/trpc-go/trpc-agent-graph/telemetry/trace"
)

const serviceName = "chatgraph"

// newModel builds the LLM. Tests replace it.
var newModel = func(cfg config.ModelConfig) model.Model {
	opts := []openai.Option{
		openai.WithAPIKey(cfg.APIKey),
		openai.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, openai.WithHTTPClientOptions(openai.WithHTTPClientTimeout(cfg.Timeout)))
	}
	if cfg.RequestsPerSecond > 0 {
		opts = append(opts, openai.WithRateLimit(cfg.RequestsPerSecond, cfg.Burst))
	}
	return openai.New(cfg.Name, opts...)
}

// app holds everything a command needs. close releases it in reverse order.
type app struct {
	cfg     *config.Config
	graph   *graph.Graph
	saver   graph.Saver
	runner  *runner.Runner
	closers []func() error
}

func (a *app) onClose(fn func() error) { a.closers = append(a.closers, fn) }

func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// newApp loads the configuration named by the --config flag and wires the
// logger, telemetry, checkpoint store, model, graph and runner.
func newApp(cmd *cobra.Command, botOpts ...chatbot.Option) (a *app, err error) {
	path, _ := cmd.Flags().GetString(flagConfig)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.close()
		}
	}()

	logger, sync, err := log.New(log.Options{Level: cfg.Log.Level, File: cfg.Log.File, Quiet: true})
	if err != nil {
		return nil, err
	}
	log.Default = logger
	a.onClose(func() error {
		_ = sync()
		return nil
	})

	if cfg.Telemetry.Enabled {
		if err := a.startTelemetry(cmd.Context()); err != nil {
			return nil, err
		}
	}

	opts := []chatbot.Option{chatbot.WithTemperature(cfg.Model.Temperature)}
	if cfg.Model.MaxTokens > 0 {
		opts = append(opts, chatbot.WithMaxTokens(cfg.Model.MaxTokens))
	}
	if a.graph, err = chatbot.New(newModel(cfg.Model), append(opts, botOpts...)...); err != nil {
		return nil, err
	}
	if a.saver, err = openSaver(cfg.Checkpoint, a.graph.Schema()); err != nil {
		return nil, err
	}
	a.onClose(a.saver.Close)

	execOpts := []graph.ExecutorOption{
		graph.WithCheckpointSaver(a.saver),
		graph.WithMaxSteps(cfg.Runner.MaxSteps),
	}
	if cfg.Runner.NodeTimeout > 0 {
		execOpts = append(execOpts, graph.WithNodeTimeout(cfg.Runner.NodeTimeout))
	}
	if cfg.Checkpoint.DistributedLock {
		locker, closeLocker, err := openLocker(cfg.Checkpoint)
		if err != nil {
			return nil, err
		}
		a.onClose(closeLocker)
		execOpts = append(execOpts, graph.WithLocker(locker))
	}
	exec, err := graph.NewExecutor(a.graph, execOpts...)
	if err != nil {
		return nil, err
	}
	a.runner, err = runner.New(exec,
		runner.WithPoolSize(cfg.Runner.PoolSize),
		runner.WithRunTimeout(cfg.Runner.RunTimeout))
	if err != nil {
		return nil, err
	}
	a.onClose(a.runner.Close)
	log.Infof("chatgraph: model=%s checkpoint=%s", cfg.Model.Name, cfg.Checkpoint.Driver)
	return a, nil
}

func (a *app) startTelemetry(ctx context.Context) error {
	t := a.cfg.Telemetry
	cleanTrace, err := trace.Start(ctx,
		trace.WithEndpoint(t.Endpoint),
		trace.WithProtocol(t.Protocol),
		trace.WithServiceName(serviceName))
	if err != nil {
		return fmt.Errorf("start tracing: %w", err)
	}
	a.onClose(cleanTrace)
	cleanMetric, err := metric.Start(ctx,
		metric.WithEndpoint(t.Endpoint),
		metric.WithProtocol(t.Protocol),
		metric.WithServiceName(serviceName))
	if err != nil {
		return fmt.Errorf("start metrics: %w", err)
	}
	a.onClose(cleanMetric)
	return nil
}

func openSaver(cfg config.CheckpointConfig, schema *graph.StateSchema) (graph.Saver, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return inmemory.NewSaver(), nil
	case config.DriverSQLite:
		return sqlite.Open(cfg.DSN, sqlite.WithSchema(schema))
	case config.DriverRedis:
		opts := []redisckpt.Option{redisckpt.WithSchema(schema)}
		if cfg.KeyPrefix != "" {
			opts = append(opts, redisckpt.WithKeyPrefix(cfg.KeyPrefix))
		}
		return redisckpt.New(cfg.DSN, opts...)
	case config.DriverBadger:
		return badger.Open(badger.Config{Path: cfg.DSN}, badger.WithSchema(schema))
	default:
		return nil, fmt.Errorf("unknown checkpoint driver %q", cfg.Driver)
	}
}

func openLocker(cfg config.CheckpointConfig) (graph.Locker, func() error, error) {
	client, err := storage.NewClient(cfg.DSN, storage.WithPing())
	if err != nil {
		return nil, nil, fmt.Errorf("lock client: %w", err)
	}
	opts := []redislock.Option{redislock.WithTTL(cfg.LockTTL)}
	if cfg.KeyPrefix != "" {
		opts = append(opts, redislock.WithKeyPrefix(cfg.KeyPrefix))
	}
	locker, err := redislock.New(client, opts...)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return locker, client.Close, nil
}
