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

	"trpc.group/trpc-go/trpc-agent-graph/model"
)

// ReplaceReducer overwrites the existing value with the update.
func ReplaceReducer(_, update any) any {
	return update
}

// AppendReducer appends update to the existing slice. The update may be a
// slice of the same type or a single element. The result is always a fresh
// slice so earlier snapshots never share a backing array with later ones.
func AppendReducer(existing, update any) any {
	if update == nil {
		return existing
	}
	uv := reflect.ValueOf(update)
	if existing == nil {
		if uv.Kind() == reflect.Slice {
			return cloneSlice(uv).Interface()
		}
		s := reflect.MakeSlice(reflect.SliceOf(uv.Type()), 0, 1)
		return reflect.Append(s, uv).Interface()
	}
	ev := reflect.ValueOf(existing)
	if ev.Kind() != reflect.Slice {
		return update
	}
	out := reflect.MakeSlice(ev.Type(), 0, ev.Len()+1)
	out = reflect.AppendSlice(out, ev)
	switch {
	case uv.Type().AssignableTo(ev.Type()):
		out = reflect.AppendSlice(out, uv)
	case uv.Type().AssignableTo(ev.Type().Elem()):
		out = reflect.Append(out, uv)
	case uv.Kind() == reflect.Slice && uv.Type().Elem().AssignableTo(ev.Type().Elem()):
		for i := 0; i < uv.Len(); i++ {
			out = reflect.Append(out, uv.Index(i))
		}
	default:
		return update
	}
	return out.Interface()
}

func cloneSlice(v reflect.Value) reflect.Value {
	out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
	reflect.Copy(out, v)
	return out
}

// StringSliceReducer appends string slices.
func StringSliceReducer(existing, update any) any {
	prev, _ := existing.([]string)
	switch u := update.(type) {
	case []string:
		out := make([]string, 0, len(prev)+len(u))
		return append(append(out, prev...), u...)
	case string:
		out := make([]string, 0, len(prev)+1)
		return append(append(out, prev...), u)
	default:
		return update
	}
}

// MergeReducer merges the update map into the existing map, key by key.
func MergeReducer(existing, update any) any {
	prev, _ := existing.(map[string]any)
	next, ok := update.(map[string]any)
	if !ok {
		return update
	}
	out := make(map[string]any, len(prev)+len(next))
	for k, v := range prev {
		out[k] = v
	}
	for k, v := range next {
		out[k] = v
	}
	return out
}

// MessageReducer appends messages. An update message whose ID matches a
// stored message replaces it in place instead of being appended.
func MessageReducer(existing, update any) any {
	prev, _ := existing.([]model.Message)
	var next []model.Message
	switch u := update.(type) {
	case []model.Message:
		next = u
	case model.Message:
		next = []model.Message{u}
	default:
		return update
	}
	out := make([]model.Message, len(prev), len(prev)+len(next))
	copy(out, prev)
	index := make(map[string]int, len(out))
	for i, m := range out {
		if m.ID != "" {
			index[m.ID] = i
		}
	}
	for _, m := range next {
		if i, ok := index[m.ID]; ok && m.ID != "" {
			out[i] = m
			continue
		}
		if m.ID != "" {
			index[m.ID] = len(out)
		}
		out = append(out, m)
	}
	return out
}
