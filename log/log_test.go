//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package log

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestSetLevel(t *testing.T) {
	defer SetLevel(LevelInfo)
	cases := []struct {
		in       string
		expected zapcore.Level
	}{
		{LevelDebug, zapcore.DebugLevel},
		{LevelInfo, zapcore.InfoLevel},
		{LevelWarn, zapcore.WarnLevel},
		{LevelError, zapcore.ErrorLevel},
		{LevelFatal, zapcore.FatalLevel},
		{"verbose", zapcore.InfoLevel},
	}
	for _, c := range cases {
		SetLevel(c.in)
		if got := zapLevel.Level(); got != c.expected {
			t.Fatalf("SetLevel(%q) = %v; want %v", c.in, got, c.expected)
		}
	}
}

func TestNewWritesFile(t *testing.T) {
	defer SetLevel(LevelInfo)
	path := filepath.Join(t.TempDir(), "chatbot.log")
	l, sync, err := New(Options{Level: LevelDebug, File: path, Quiet: true})
	require.NoError(t, err)

	l.Infof("step %d done", 3)
	l.Debug("detail")
	require.NoError(t, sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"message":"step 3 done"`)
	assert.Contains(t, lines[0], `"lvl":"INFO"`)
	assert.Contains(t, lines[1], `"lvl":"DEBUG"`)
}

func TestNewBadFile(t *testing.T) {
	_, _, err := New(Options{File: filepath.Join(t.TempDir(), "missing", "x.log")})
	assert.Error(t, err)
}

func TestPackageFuncsForward(t *testing.T) {
	rec := &recorder{}
	old := Default
	Default = rec
	defer func() { Default = old }()

	Debug("a")
	Debugf("b")
	Info("c")
	Infof("d")
	Warn("e")
	Warnf("f")
	Error("g")
	Errorf("h")
	assert.Equal(t, 8, rec.calls)
}

type recorder struct{ calls int }

func (r *recorder) Debug(...any)          { r.calls++ }
func (r *recorder) Debugf(string, ...any) { r.calls++ }
func (r *recorder) Info(...any)           { r.calls++ }
func (r *recorder) Infof(string, ...any)  { r.calls++ }
func (r *recorder) Warn(...any)           { r.calls++ }
func (r *recorder) Warnf(string, ...any)  { r.calls++ }
func (r *recorder) Error(...any)          { r.calls++ }
func (r *recorder) Errorf(string, ...any) { r.calls++ }
func (r *recorder) Fatal(...any)          { r.calls++ }
func (r *recorder) Fatalf(string, ...any) { r.calls++ }
