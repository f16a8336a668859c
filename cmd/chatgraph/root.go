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
	"github.com/spf13/cobra"
)

const (
	flagConfig = "config"
	flagThread = "thread"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "chatgraph",
		Short: "Chat with an assistant whose every step is checkpointed",
		Long: `chatgraph runs a chatbot graph (model node, tools node and a router)
on a checkpointed executor. Conversations are grouped by thread and can be
inspected or continued later when a durable checkpoint driver is configured.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringP(flagConfig, "c", "", "path to a YAML config file")
	root.AddCommand(newChatCmd(), newHistoryCmd(), newGraphCmd())
	return root
}
