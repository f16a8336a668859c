//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package jsonschema derives tool schemas from Go types.
package jsonschema

import (
	"reflect"
	"strings"
	"time"

	"trpc.group/trpc-go/trpc-agent-graph/tool"
)

var timeType = reflect.TypeOf(time.Time{})

// Generate returns the schema for t. Struct fields are named after their
// json tag; a field is required unless it is a pointer or tagged omitempty.
// A `description:"..."` tag is copied to the property.
func Generate(t reflect.Type) *tool.Schema {
	if t == nil {
		return &tool.Schema{Type: "object"}
	}
	if t.Kind() == reflect.Ptr {
		return Generate(t.Elem())
	}
	return fieldSchema(t)
}

func fieldSchema(t reflect.Type) *tool.Schema {
	if t == timeType {
		return &tool.Schema{Type: "string", Description: "RFC 3339 timestamp"}
	}
	switch t.Kind() {
	case reflect.String:
		return &tool.Schema{Type: "string"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &tool.Schema{Type: "integer"}
	case reflect.Float32, reflect.Float64:
		return &tool.Schema{Type: "number"}
	case reflect.Bool:
		return &tool.Schema{Type: "boolean"}
	case reflect.Slice, reflect.Array:
		return &tool.Schema{Type: "array", Items: fieldSchema(t.Elem())}
	case reflect.Map:
		return &tool.Schema{Type: "object", AdditionalProperties: fieldSchema(t.Elem())}
	case reflect.Ptr:
		return fieldSchema(t.Elem())
	case reflect.Struct:
		return structSchema(t)
	default:
		return &tool.Schema{Type: "object"}
	}
}

func structSchema(t reflect.Type) *tool.Schema {
	s := &tool.Schema{Type: "object", Properties: map[string]*tool.Schema{}}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		if name == "" {
			name = f.Name
		}
		prop := fieldSchema(f.Type)
		if d := f.Tag.Get("description"); d != "" {
			prop.Description = d
		}
		s.Properties[name] = prop
		if f.Type.Kind() != reflect.Ptr && !strings.Contains(opts, "omitempty") {
			s.Required = append(s.Required, name)
		}
	}
	return s
}
