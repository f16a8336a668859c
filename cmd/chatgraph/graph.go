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

	"trpc.group/trpc-go/trpc-agent-graph/chatbot"
	"trpc.group/trpc-go/trpc-agent-graph/graph"
	"trpc.group/trpc-go/trpc-agent-graph/internal/config"
)

func newGraphCmd() *cobra.Command {
	var (
		rankDir string
		output  string
		format  string
	)
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the chatbot graph in Graphviz DOT",
		Long: `Prints the compiled chatbot graph in DOT. With --output the graph is
rendered through the dot binary instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// The shape does not depend on the model, so no credentials are needed.
			g, err := chatbot.New(newModel(config.Default().Model))
			if err != nil {
				return err
			}
			opts := []graph.VizOption{graph.WithRankDir(rankDir), graph.WithGraphLabel("chatbot")}
			if output != "" {
				return g.RenderImage(cmd.Context(), format, output, opts...)
			}
			return g.WriteDOT(cmd.OutOrStdout(), opts...)
		},
	}
	cmd.Flags().StringVar(&rankDir, "rankdir", "LR", "layout direction (LR or TB)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "render to this file instead of printing DOT")
	cmd.Flags().StringVar(&format, "format", "png", "image format for --output")
	return cmd
}
