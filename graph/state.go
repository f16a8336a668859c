//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package graph provides a stateful, checkpointed graph executor for
// conversational agents.
package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// State represents the state that flows through the graph: a mapping from
// channel name to value.
type State map[string]any

// Clone creates a deep copy of the state. Maps, slices and pointers are
// copied so the clone can be written without touching the original.
func (s State) Clone() State {
	if s == nil {
		return nil
	}
	clone := make(State, len(s))
	for k, v := range s {
		clone[k] = deepCopy(v)
	}
	return clone
}

// Keys returns the channel names in sorted order.
func (s State) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// StateReducer determines how a write combines with a channel's prior value.
// existing is nil when the channel has no value yet.
type StateReducer func(existing, update any) any

// StateField declares a channel.
type StateField struct {
	// Type, when set, is the Go type every value of the channel must be
	// assignable to. It is also used to re-type values read back from a
	// durable checkpoint store.
	Type reflect.Type
	// Reducer combines writes. Nil means ReplaceReducer.
	Reducer StateReducer
	// Default produces the initial value of the channel for a new thread.
	Default func() any
}

// StateSchema is the closed set of channels a graph may read and write.
// It is built once, before Compile, and treated as read only afterwards.
type StateSchema struct {
	mu     sync.RWMutex
	Fields map[string]StateField
}

// NewStateSchema creates a new state schema.
func NewStateSchema() *StateSchema {
	return &StateSchema{Fields: make(map[string]StateField)}
}

// AddField declares a channel.
func (s *StateSchema) AddField(name string, field StateField) *StateSchema {
	s.mu.Lock()
	defer s.mu.Unlock()
	if field.Reducer == nil {
		field.Reducer = ReplaceReducer
	}
	s.Fields[name] = field
	return s
}

// Field returns the declaration of a channel.
func (s *StateSchema) Field(name string) (StateField, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.Fields[name]
	return f, ok
}

// Clone returns a schema with its own copy of the channel declarations.
func (s *StateSchema) Clone() *StateSchema {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fields := make(map[string]StateField, len(s.Fields))
	for name, f := range s.Fields {
		fields[name] = f
	}
	return &StateSchema{Fields: fields}
}

// Init builds the state of a new thread: every channel with a Default gets
// its default value, then input is merged on top.
func (s *StateSchema) Init(input State) (State, error) {
	s.mu.RLock()
	base := make(State, len(s.Fields))
	for name, f := range s.Fields {
		if f.Default != nil {
			base[name] = f.Default()
		}
	}
	s.mu.RUnlock()
	return s.Merge(base, input)
}

// Merge resolves every channel present in update through its reducer against
// current and returns the new state. Channels absent from update pass through.
// current is never modified. A channel that is not declared yields
// ErrUnknownChannel; a value of the wrong type yields ErrChannelType.
func (s *StateSchema) Merge(current, update State) (State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Validate first so a bad update leaves nothing half applied.
	for _, key := range update.Keys() {
		field, ok := s.Fields[key]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, key)
		}
		if err := checkType(key, field, update[key]); err != nil {
			return nil, err
		}
	}

	result := current.Clone()
	if result == nil {
		result = make(State, len(update))
	}
	for _, key := range update.Keys() {
		field := s.Fields[key]
		result[key] = field.Reducer(result[key], deepCopy(update[key]))
	}
	return result, nil
}

func checkType(key string, field StateField, v any) error {
	if field.Type == nil || v == nil {
		return nil
	}
	vt := reflect.TypeOf(v)
	if vt.AssignableTo(field.Type) {
		return nil
	}
	// Append style channels accept a single element as well as a slice.
	if field.Type.Kind() == reflect.Slice && vt.AssignableTo(field.Type.Elem()) {
		return nil
	}
	return fmt.Errorf("%w: channel %q wants %v, got %v", ErrChannelType, key, field.Type, vt)
}

// Restore re-types a state decoded from JSON into the declared channel types.
// Values already of the right type are kept as they are. Channels without a
// Type keep their decoded representation.
func (s *StateSchema) Restore(raw State) (State, error) {
	if raw == nil {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(State, len(raw))
	var errs []error
	for k, v := range raw {
		field, ok := s.Fields[k]
		if !ok || field.Type == nil || v == nil || reflect.TypeOf(v).AssignableTo(field.Type) {
			out[k] = v
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("channel %q: %w", k, err))
			continue
		}
		ptr := reflect.New(field.Type)
		if err := json.Unmarshal(b, ptr.Interface()); err != nil {
			errs = append(errs, fmt.Errorf("channel %q: %w", k, err))
			continue
		}
		out[k] = ptr.Elem().Interface()
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("restore state: %w", errors.Join(errs...))
	}
	return out, nil
}
