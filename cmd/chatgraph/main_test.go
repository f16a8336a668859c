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
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-agent-graph/chatbot"
	"trpc.group/trpc-go/trpc-agent-graph/internal/config"
	"trpc.group/trpc-go/trpc-agent-graph/model"
	"trpc.group/trpc-go/trpc-agent-graph/model/modeltest"
)

// setup writes a config using driver and makes every command use llm.
func setup(t *testing.T, driver string, llm model.Model) string {
	t.Helper()
	for _, key := range []string{
		config.EnvModel, config.EnvBaseURL, config.EnvCheckpointDriver,
		config.EnvCheckpointDSN, config.EnvLogLevel, config.EnvTemperature,
	} {
		t.Setenv(key, "")
	}
	dir := t.TempDir()
	dsn := ""
	if driver != config.DriverMemory {
		dsn = filepath.Join(dir, "checkpoints")
	}
	body := fmt.Sprintf(`
model:
  api_key: test-key
checkpoint:
  driver: %s
  dsn: %q
log:
  level: debug
  file: %q
`, driver, dsn, filepath.Join(dir, "chatbot.log"))
	path := filepath.Join(dir, "chatgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	prev := newModel
	newModel = func(config.ModelConfig) model.Model { return llm }
	t.Cleanup(func() { newModel = prev })
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.Execute()
	return out.String(), err
}

func TestChat(t *testing.T) {
	cfg := setup(t, config.DriverMemory, modeltest.New(modeltest.Text("Привет! Чем могу помочь?")))

	out, err := execute(t, "Hello\n\nquit\n", "chat", "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Вы: ")
	assert.Contains(t, out, "Ассистент: Привет! Чем могу помочь?")
	assert.True(t, strings.HasSuffix(out, "До свидания!\n"))
}

func TestChatEndOfInput(t *testing.T) {
	cfg := setup(t, config.DriverMemory, modeltest.New())
	out, err := execute(t, "", "chat", "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "До свидания!")
}

func TestChatAnswersModelFailure(t *testing.T) {
	cfg := setup(t, config.DriverMemory,
		modeltest.New(modeltest.Failure(model.ErrorTypeNetwork, "connection refused")))

	out, err := execute(t, "Hello\nвыход\n", "chat", "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Ассистент: Ошибка:")
	assert.Contains(t, out, "connection refused")
}

func TestChatToolApproval(t *testing.T) {
	llm := modeltest.New(
		modeltest.ToolCall("call-1", chatbot.TimeToolName, `{}`),
		modeltest.Text("Сейчас утро."),
	)
	cfg := setup(t, config.DriverMemory, llm)

	out, err := execute(t, "Который час?\nда\nbye\n", "chat", "-c", cfg, "--approve-tools")
	require.NoError(t, err)
	assert.Contains(t, out, "Разрешить вызов: get_current_time? (да/нет)")
	assert.Contains(t, out, "Ассистент: Сейчас утро.")
	assert.Len(t, llm.Requests(), 2)
}

func TestChatThenHistory(t *testing.T) {
	cfg := setup(t, config.DriverSQLite, modeltest.New(
		modeltest.Text("Первый ответ."),
		modeltest.Text("Второй ответ."),
	))

	_, err := execute(t, "раз\nдва\nexit\n", "chat", "-c", cfg, "--thread", "t1")
	require.NoError(t, err)

	out, err := execute(t, "", "history", "-c", cfg, "--thread", "t1")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "STEP")
	assert.Contains(t, lines[1], chatbot.NodeChatbot)
	assert.Contains(t, lines[2], chatbot.NodeChatbot)

	out, err = execute(t, "", "history", "-c", cfg, "--thread", "t1", "-v")
	require.NoError(t, err)
	assert.Contains(t, out, `"thread_id": "t1"`)
	assert.Contains(t, out, "Второй ответ.")
}

func TestHistoryUnknownThread(t *testing.T) {
	cfg := setup(t, config.DriverMemory, modeltest.New())
	_, err := execute(t, "", "history", "-c", cfg, "--thread", "nobody")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no checkpoints")
}

func TestHistoryRequiresThread(t *testing.T) {
	cfg := setup(t, config.DriverMemory, modeltest.New())
	_, err := execute(t, "", "history", "-c", cfg)
	require.Error(t, err)
}

func TestGraphCommand(t *testing.T) {
	setup(t, config.DriverMemory, modeltest.New())
	out, err := execute(t, "", "graph")
	require.NoError(t, err)
	assert.Contains(t, out, "digraph")
	assert.Contains(t, out, `"chatbot" -> "tools"`)
}

func TestBadConfig(t *testing.T) {
	setup(t, config.DriverMemory, modeltest.New())
	_, err := execute(t, "hi\n", "chat", "-c", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}
