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
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"trpc.group/trpc-go/trpc-agent-graph/chatbot"
	"trpc.group/trpc-go/trpc-agent-graph/log"
	"trpc.group/trpc-go/trpc-agent-graph/runner"
)

const (
	promptUser      = "Вы: "
	promptAssistant = "Ассистент: "
	farewell        = "До свидания!"
)

func newChatCmd() *cobra.Command {
	var (
		thread       string
		approveTools bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Long: `Reads one message per line and prints the assistant's answer.
Type quit, exit, bye or выход to leave. With --thread the conversation
continues an existing thread.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var botOpts []chatbot.Option
			if approveTools {
				botOpts = append(botOpts, chatbot.WithToolApproval())
			}
			a, err := newApp(cmd, botOpts...)
			if err != nil {
				return err
			}
			defer a.close()
			if thread == "" {
				thread = uuid.NewString()
			}
			return chatLoop(cmd, a.runner, thread)
		},
	}
	cmd.Flags().StringVarP(&thread, flagThread, "t", "", "thread id; a new one is generated when empty")
	cmd.Flags().BoolVar(&approveTools, "approve-tools", false, "ask before every tool call")
	return cmd
}

func chatLoop(cmd *cobra.Command, r *runner.Runner, thread string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	in := bufio.NewScanner(cmd.InOrStdin())
	fmt.Fprintf(out, "Чат запущен (поток %s). Для выхода введите quit, exit, bye или выход.\n", thread)

	readLine := func(prompt string) (string, bool) {
		fmt.Fprint(out, prompt)
		if !in.Scan() {
			return "", false
		}
		return strings.TrimSpace(in.Text()), true
	}

	for {
		text, ok := readLine(promptUser)
		if !ok {
			fmt.Fprintln(out)
			fmt.Fprintln(out, farewell)
			return in.Err()
		}
		if text == "" {
			continue
		}
		if chatbot.IsExitCommand(text) {
			fmt.Fprintln(out, farewell)
			return nil
		}

		reply, err := r.Run(ctx, thread, text)
		for err == nil && reply.Interrupt != nil {
			answer, ok := readLine(fmt.Sprintf("%v ", reply.Prompt))
			if !ok {
				fmt.Fprintln(out)
				fmt.Fprintf(out, "Поток %s приостановлен.\n", thread)
				return in.Err()
			}
			reply, err = r.Answer(ctx, reply.Interrupt, answer)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Errorf("chatgraph: thread=%s: %v", thread, err)
			fmt.Fprintf(out, "%sОшибка: %v\n", promptAssistant, err)
			continue
		}
		printReply(out, reply)
	}
}

func printReply(out io.Writer, reply *runner.Reply) {
	fmt.Fprintf(out, "%s%s\n", promptAssistant, reply.Text)
}
