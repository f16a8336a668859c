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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResumeTokenRoundTrip(t *testing.T) {
	tok := ResumeToken{ThreadID: "user@example.com", Step: 12}
	assert.Equal(t, "user@example.com@12", tok.String())

	parsed, err := ParseResumeToken(tok.String())
	require.NoError(t, err)
	assert.Equal(t, tok, *parsed)
}

func TestParseResumeTokenRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "t1", "@3", "t1@", "t1@x", "t1@0", "t1@-2"} {
		_, err := ParseResumeToken(s)
		assert.ErrorIs(t, err, ErrInvalidResumeToken, s)
	}
}

func TestCheckpointCopyIsIndependent(t *testing.T) {
	ck := &Checkpoint{
		ThreadID:  "t1",
		Step:      2,
		State:     State{"log": []string{"a"}},
		Input:     State{"log": []string{"in"}},
		Update:    State{"log": "a"},
		NextNodes: []string{"b"},
		Interrupt: &PendingInterrupt{Node: "b", When: Before, Prompt: map[string]any{"q": "name?"}},
		CreatedAt: time.Now(),
	}
	cp := ck.Copy()
	cp.State["log"].([]string)[0] = "changed"
	cp.Input["log"].([]string)[0] = "changed"
	cp.NextNodes[0] = "c"
	cp.Interrupt.Prompt.(map[string]any)["q"] = "changed"

	assert.Equal(t, []string{"a"}, ck.State["log"])
	assert.Equal(t, []string{"in"}, ck.Input["log"])
	assert.Equal(t, []string{"b"}, ck.NextNodes)
	assert.Equal(t, "name?", ck.Interrupt.Prompt.(map[string]any)["q"])
	assert.Equal(t, &ResumeToken{ThreadID: "t1", Step: 2}, ck.Token())

	var nilCk *Checkpoint
	assert.Nil(t, nilCk.Copy())
}

func TestValidateCheckpoint(t *testing.T) {
	assert.Error(t, ValidateCheckpoint(nil))
	assert.ErrorIs(t, ValidateCheckpoint(&Checkpoint{Step: 1}), ErrEmptyThreadID)
	assert.ErrorContains(t, ValidateCheckpoint(&Checkpoint{ThreadID: "t", Step: 0}), "steps start at 1")
	assert.NoError(t, ValidateCheckpoint(&Checkpoint{ThreadID: "t", Step: 1}))
}
