//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package graph

// Well known state channels.
const (
	// StateKeyMessages holds the conversation as []model.Message.
	StateKeyMessages = "messages"
	// StateKeyUserInput is the latest raw user input.
	StateKeyUserInput = "user_input"
	// StateKeyLastResponse is the content of the latest assistant message.
	StateKeyLastResponse = "last_response"
)
