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
	"strings"

	"trpc.group/trpc-go/trpc-agent-graph/graph"
	"trpc.group/trpc-go/trpc-agent-graph/log"
	"trpc.group/trpc-go/trpc-agent-graph/model"
)

// DeniedToolResult is the tool message content of a refused call.
const DeniedToolResult = "Пользователь отклонил вызов инструмента."

var approvals = map[string]bool{"да": true, "д": true, "yes": true, "y": true}

// IsApproval reports whether input approves pending tool calls.
func IsApproval(input string) bool {
	return approvals[strings.ToLower(strings.TrimSpace(input))]
}

// ApprovalPrompt is surfaced when a run pauses before the tools node.
type ApprovalPrompt struct {
	Tools []string `json:"tools"`
}

func (p ApprovalPrompt) String() string {
	return "Разрешить вызов: " + strings.Join(p.Tools, ", ") + "? (да/нет)"
}

func approveFirst(next graph.NodeFunc) graph.NodeFunc {
	return func(ctx context.Context, state graph.State) (any, error) {
		msgs := graph.Messages(state)
		if len(msgs) == 0 {
			return next(ctx, state)
		}
		calls := msgs[len(msgs)-1].ToolCalls
		if !graph.Resumed(ctx) {
			prompt := ApprovalPrompt{}
			for _, c := range calls {
				prompt.Tools = append(prompt.Tools, c.Function.Name)
			}
			return nil, graph.Interrupt(prompt)
		}
		in, _ := graph.ResumeInput(ctx)
		if answer, _ := in[graph.StateKeyUserInput].(string); IsApproval(answer) {
			return next(ctx, state)
		}
		log.Infof("chatbot: %d tool call(s) denied", len(calls))
		denied := make([]model.Message, 0, len(calls))
		for _, c := range calls {
			denied = append(denied, model.NewToolMessage(c.ID, c.Function.Name, DeniedToolResult))
		}
		return graph.State{graph.StateKeyMessages: denied}, nil
	}
}
