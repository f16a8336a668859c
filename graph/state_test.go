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
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-agent-graph/model"
)

func testSchema() *StateSchema {
	return NewStateSchema().
		AddField("text", StateField{Type: reflect.TypeOf("")}).
		AddField("log", StateField{
			Type:    reflect.TypeOf([]string{}),
			Reducer: StringSliceReducer,
			Default: func() any { return []string{} },
		}).
		AddField("meta", StateField{Reducer: MergeReducer}).
		AddField("count", StateField{
			Type:    reflect.TypeOf(0),
			Reducer: func(existing, update any) any { n, _ := existing.(int); return n + update.(int) },
		})
}

func TestMergeAppliesReducers(t *testing.T) {
	s := testSchema()
	current := State{"text": "a", "log": []string{"one"}, "meta": map[string]any{"x": 1}, "count": 1}

	got, err := s.Merge(current, State{
		"text":  "b",
		"log":   "two",
		"meta":  map[string]any{"y": 2},
		"count": 2,
	})
	require.NoError(t, err)
	assert.Equal(t, State{
		"text":  "b",
		"log":   []string{"one", "two"},
		"meta":  map[string]any{"x": 1, "y": 2},
		"count": 3,
	}, got)

	// current is untouched.
	assert.Equal(t, "a", current["text"])
	assert.Equal(t, []string{"one"}, current["log"])
}

func TestMergePassesThroughUnwrittenChannels(t *testing.T) {
	s := testSchema()
	got, err := s.Merge(State{"text": "a", "count": 5}, State{"count": 1})
	require.NoError(t, err)
	assert.Equal(t, "a", got["text"])
	assert.Equal(t, 6, got["count"])
}

func TestMergeRejectsUnknownChannel(t *testing.T) {
	s := testSchema()
	_, err := s.Merge(State{}, State{"text": "ok", "nope": 1})
	assert.ErrorIs(t, err, ErrUnknownChannel)
}

func TestMergeRejectsWrongType(t *testing.T) {
	s := testSchema()
	current := State{"count": 1}
	_, err := s.Merge(current, State{"count": "one", "text": "x"})
	assert.ErrorIs(t, err, ErrChannelType)
	assert.Equal(t, State{"count": 1}, current)
}

func TestMergeDoesNotAliasUpdate(t *testing.T) {
	s := testSchema()
	update := State{"meta": map[string]any{"k": []string{"v"}}}
	got, err := s.Merge(nil, update)
	require.NoError(t, err)
	update["meta"].(map[string]any)["k"].([]string)[0] = "changed"
	assert.Equal(t, "v", got["meta"].(map[string]any)["k"].([]string)[0])
}

func TestInitAppliesDefaults(t *testing.T) {
	s := testSchema()
	got, err := s.Init(State{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, State{"text": "hi", "log": []string{}}, got)

	_, err = s.Init(State{"bogus": true})
	assert.ErrorIs(t, err, ErrUnknownChannel)
}

// Resuming from any recorded step and merging the remaining updates yields
// the same state as merging every update in order.
func TestMergeReplayConsistency(t *testing.T) {
	s := testSchema()
	updates := []State{
		{"text": "a", "log": "1"},
		{"count": 2},
		{"log": []string{"2", "3"}, "meta": map[string]any{"k": "v"}},
		{"text": "b", "count": 3},
	}

	state, err := s.Init(nil)
	require.NoError(t, err)
	history := []State{state}
	for _, u := range updates {
		state, err = s.Merge(state, u)
		require.NoError(t, err)
		history = append(history, state)
	}
	assert.Equal(t, State{
		"text":  "b",
		"log":   []string{"1", "2", "3"},
		"meta":  map[string]any{"k": "v"},
		"count": 5,
	}, state)

	for from := range history {
		replayed := history[from]
		for _, u := range updates[from:] {
			replayed, err = s.Merge(replayed, u)
			require.NoError(t, err)
		}
		assert.Equal(t, state, replayed, "replay from step %d", from)
	}
}

func TestRestoreRetypesDecodedValues(t *testing.T) {
	s := MessagesSchema()
	raw := State{
		StateKeyMessages: []any{
			map[string]any{"role": "user", "content": "привет"},
			map[string]any{"role": "assistant", "content": "hi", "tool_calls": []any{
				map[string]any{"type": "function", "id": "c1", "function": map[string]any{"name": "get_current_time"}},
			}},
		},
		StateKeyLastResponse: "hi",
		"undeclared":         1.5,
	}
	got, err := s.Restore(raw)
	require.NoError(t, err)
	msgs, ok := got[StateKeyMessages].([]model.Message)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "get_current_time", msgs[1].ToolCalls[0].Function.Name)
	assert.Equal(t, "hi", got[StateKeyLastResponse])
	assert.Equal(t, 1.5, got["undeclared"])

	_, err = s.Restore(State{StateKeyMessages: "not a list"})
	assert.Error(t, err)
}

func TestStateCloneIsDeep(t *testing.T) {
	type item struct {
		Tags []string
		Ptr  *int
	}
	n := 1
	s := State{"item": item{Tags: []string{"a"}, Ptr: &n}, "list": []any{map[string]any{"k": "v"}}}
	c := s.Clone()

	c["item"].(item).Tags[0] = "b"
	*c["item"].(item).Ptr = 2
	c["list"].([]any)[0].(map[string]any)["k"] = "w"

	assert.Equal(t, "a", s["item"].(item).Tags[0])
	assert.Equal(t, 1, n)
	assert.Equal(t, "v", s["list"].([]any)[0].(map[string]any)["k"])
	assert.Nil(t, State(nil).Clone())
	assert.Equal(t, []string{"item", "list"}, s.Keys())
}

func TestAppendReducer(t *testing.T) {
	prev := []int{1, 2}
	got := AppendReducer(prev, []int{3})
	assert.Equal(t, []int{1, 2, 3}, got)
	assert.Equal(t, []int{1, 2, 3, 4}, AppendReducer(got, 4))
	assert.Equal(t, []int{5}, AppendReducer(nil, 5))
	assert.Equal(t, []int{6}, AppendReducer(nil, []int{6}))
	assert.Equal(t, prev, AppendReducer(prev, nil))
	assert.Equal(t, []any{"a", 1}, AppendReducer([]any{"a"}, 1))

	// The result never shares a backing array with its input.
	base := make([]int, 1, 10)
	a := AppendReducer(base, 1).([]int)
	b := AppendReducer(base, 2).([]int)
	assert.Equal(t, []int{0, 1}, a)
	assert.Equal(t, []int{0, 2}, b)
}

func TestMessageReducer(t *testing.T) {
	prev := []model.Message{
		{ID: "1", Role: model.RoleUser, Content: "hi"},
		model.NewAssistantMessage("hello"),
	}
	got := MessageReducer(prev, []model.Message{
		{ID: "1", Role: model.RoleUser, Content: "hi, edited"},
		model.NewUserMessage("next"),
	}).([]model.Message)
	require.Len(t, got, 3)
	assert.Equal(t, "hi, edited", got[0].Content)
	assert.Equal(t, "next", got[2].Content)
	assert.Equal(t, "hi", prev[0].Content)

	single := MessageReducer(nil, model.NewUserMessage("one")).([]model.Message)
	assert.Len(t, single, 1)
}
