//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package model defines the LLM capability consumed by graph nodes.
package model

import "context"

// Model is the interface for all language models.
//
// Failures that prevent the call from being made at all (bad request,
// unreachable endpoint) are returned as error. Failures reported by the
// service are delivered as a Response whose Error field is set; its Type is
// one of the ErrorType constants so callers can tell a rate limit from a
// malformed answer.
type Model interface {
	// GenerateContent generates content from the given request.
	GenerateContent(ctx context.Context, request *Request) (<-chan *Response, error)

	// Info returns basic information about the model.
	Info() Info
}

// Info contains basic information about a Model.
type Info struct {
	Name string
}
