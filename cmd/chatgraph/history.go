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
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"trpc.group/trpc-go/trpc-agent-graph/graph"
)

func newHistoryCmd() *cobra.Command {
	var (
		thread  string
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the checkpoints of a thread, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			history, err := a.runner.History(cmd.Context(), thread)
			if err != nil {
				return err
			}
			if len(history) == 0 {
				return fmt.Errorf("thread %q has no checkpoints", thread)
			}
			if verbose {
				return printCheckpoints(cmd, history)
			}
			return printHistoryTable(cmd, history)
		},
	}
	cmd.Flags().StringVarP(&thread, flagThread, "t", "", "thread id")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print every checkpoint as JSON")
	_ = cmd.MarkFlagRequired(flagThread)
	return cmd
}

func printHistoryTable(cmd *cobra.Command, history []*graph.Checkpoint) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tPARENT\tSOURCE\tNODE\tNEXT\tMESSAGES\tTIME")
	for _, ck := range history {
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%v\t%d\t%s\n",
			ck.Step, ck.ParentStep, ck.Source, ck.Node, ck.NextNodes,
			len(graph.Messages(ck.State)), ck.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func printCheckpoints(cmd *cobra.Command, history []*graph.Checkpoint) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	for _, ck := range history {
		if err := enc.Encode(ck); err != nil {
			return err
		}
	}
	return nil
}
