//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package chatbot

import (
	"context"
	"time"

	"trpc.group/trpc-go/trpc-agent-graph/log"
	"trpc.group/trpc-go/trpc-agent-graph/tool"
	"trpc.group/trpc-go/trpc-agent-graph/tool/function"
)

// TimeToolName is the name the model calls the time tool by.
const TimeToolName = "get_current_time"

const timeToolDescription = `Use this tool ONLY when the user explicitly asks for the current time,
time-related information, or what time it is.

Examples of when to use:
- "What time is it?"
- "Tell me the current time"
- "What's the time now?"

DO NOT use for general questions about capabilities or other topics.`

// TimeArgs is the empty argument object of the time tool.
type TimeArgs struct{}

// TimeResult is the current time in the local zone and in UTC.
type TimeResult struct {
	Local string `json:"local"`
	UTC   string `json:"utc"`
}

// NewTimeTool returns the get_current_time tool reading now.
func NewTimeTool(now func() time.Time) tool.CallableTool {
	if now == nil {
		now = time.Now
	}
	return function.NewFunctionTool(func(_ context.Context, _ TimeArgs) (TimeResult, error) {
		t := now()
		res := TimeResult{
			Local: t.Local().Format(time.RFC3339Nano),
			UTC:   t.UTC().Format(time.RFC3339Nano),
		}
		log.Debugf("chatbot: current time local=%s utc=%s", res.Local, res.UTC)
		return res, nil
	}, function.WithName(TimeToolName), function.WithDescription(timeToolDescription))
}
