//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package config loads the process configuration of the chatgraph command
// from a YAML file overlaid by environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Environment variables read by Load.
const (
	EnvAnthropicAPIKey  = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey     = "OPENAI_API_KEY"
	EnvModel            = "CHATGRAPH_MODEL"
	EnvBaseURL          = "CHATGRAPH_BASE_URL"
	EnvCheckpointDriver = "CHATGRAPH_CHECKPOINT_DRIVER"
	EnvCheckpointDSN    = "CHATGRAPH_CHECKPOINT_DSN"
	EnvLogLevel         = "CHATGRAPH_LOG_LEVEL"
	EnvTemperature      = "CHATGRAPH_TEMPERATURE"
)

// Checkpoint drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
	DriverBadger = "badger"
)

// Config is the whole process configuration.
type Config struct {
	Model      ModelConfig      `yaml:"model"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Runner     RunnerConfig     `yaml:"runner"`
	Log        LogConfig        `yaml:"log"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ModelConfig selects and tunes the LLM.
type ModelConfig struct {
	Name    string `yaml:"name" validate:"required"`
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
	// APIKey is usually supplied through the environment.
	APIKey      string        `yaml:"api_key" validate:"required"`
	Temperature float64       `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int           `yaml:"max_tokens" validate:"gte=0"`
	Timeout     time.Duration `yaml:"timeout" validate:"gte=0"`
	MaxRetries  int           `yaml:"max_retries" validate:"gte=0,lte=10"`
	// RequestsPerSecond enables client side rate limiting when positive.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
	Burst             int     `yaml:"burst" validate:"gte=0"`
}

// CheckpointConfig selects the checkpoint store.
type CheckpointConfig struct {
	Driver string `yaml:"driver" validate:"oneof=memory sqlite redis badger"`
	// DSN is a file name for sqlite, a redis URL or instance name, or a
	// directory for badger.
	DSN       string `yaml:"dsn" validate:"required_unless=Driver memory"`
	KeyPrefix string `yaml:"key_prefix"`
	// DistributedLock guards threads with a redis lock. Requires the redis
	// driver.
	DistributedLock bool          `yaml:"distributed_lock"`
	LockTTL         time.Duration `yaml:"lock_ttl" validate:"gte=0"`
}

// RunnerConfig bounds execution.
type RunnerConfig struct {
	PoolSize    int           `yaml:"pool_size" validate:"gte=1"`
	MaxSteps    int           `yaml:"max_steps" validate:"gte=1"`
	NodeTimeout time.Duration `yaml:"node_timeout" validate:"gte=0"`
	RunTimeout  time.Duration `yaml:"run_timeout" validate:"gte=0"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error fatal"`
	File  string `yaml:"file"`
}

// TelemetryConfig enables OTLP export.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint" validate:"required_if=Enabled true"`
	Protocol string `yaml:"protocol" validate:"oneof=grpc http"`
}

// Default returns the configuration used when nothing is set. The model is
// reached through the OpenAI compatible Anthropic endpoint.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Name:        "claude-3-5-sonnet-20241022",
			BaseURL:     "https://api.anthropic.com/v1/",
			Temperature: 0.7,
			Timeout:     60 * time.Second,
			MaxRetries:  2,
		},
		Checkpoint: CheckpointConfig{
			Driver:  DriverMemory,
			LockTTL: 30 * time.Second,
		},
		Runner: RunnerConfig{
			PoolSize: 16,
			MaxSteps: 25,
		},
		Log: LogConfig{
			Level: "info",
			File:  "chatbot.log",
		},
		Telemetry: TelemetryConfig{
			Protocol: "grpc",
		},
	}
}

// LookupFunc reads one environment variable.
type LookupFunc func(key string) (string, bool)

// Load reads path (optional), applies the process environment and validates
// the result.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment.
func LoadWithEnv(path string, lookup LookupFunc) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := Parse(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg, keeping values the document does not set.
// Unknown keys are rejected.
func Parse(raw []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyEnv(cfg *Config, lookup LookupFunc) error {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	// The Anthropic key wins over the OpenAI one.
	set(EnvOpenAIAPIKey, &cfg.Model.APIKey)
	set(EnvAnthropicAPIKey, &cfg.Model.APIKey)
	set(EnvModel, &cfg.Model.Name)
	set(EnvBaseURL, &cfg.Model.BaseURL)
	set(EnvCheckpointDriver, &cfg.Checkpoint.Driver)
	set(EnvCheckpointDSN, &cfg.Checkpoint.DSN)
	set(EnvLogLevel, &cfg.Log.Level)
	if v, ok := lookup(EnvTemperature); ok && v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTemperature, err)
		}
		cfg.Model.Temperature = t
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the struct tags and the cross field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]error, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Errorf("config: %s fails %q %s", fe.Namespace(), fe.Tag(), fe.Param()))
			}
			return errors.Join(msgs...)
		}
		return fmt.Errorf("config: %w", err)
	}
	if c.Checkpoint.DistributedLock && c.Checkpoint.Driver != DriverRedis {
		return fmt.Errorf("config: checkpoint.distributed_lock requires the %s driver", DriverRedis)
	}
	return nil
}
