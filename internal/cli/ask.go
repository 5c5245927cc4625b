// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - One-shot question command.
//
// Command: ask
// Short:   Ask a single question and stream the answer
//
// Examples:
//   notechat ask "what did I plant last spring?"
//   notechat ask --source garden.md "summarize this note"
//   notechat ask --session 1718000000000 "and the year before?"
//   echo "question" | notechat ask
//   notechat ask --json "question"        Print the transcript as JSON

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/notechat/internal/model"
	"github.com/jeranaias/notechat/internal/util"
)

// maxPipedQuery bounds a query read from stdin.
const maxPipedQuery = 1 << 20

type askOptions struct {
	sessionID   string
	sources     []string
	maxSnippets int
	noContext   bool
}

func newAskCmd(root *rootOptions) *cobra.Command {
	opts := &askOptions{}
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question and stream the answer",
		Long: `Ask a single question. The answer is streamed to stdout and the
transcript is saved like any other session. With no argument the question
is read from stdin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.TrimSpace(strings.Join(args, " "))
			if query == "" && !IsTTY() {
				q, err := readQuery(cmd.InOrStdin())
				if err != nil {
					return err
				}
				query = q
			}
			if query == "" {
				return NewValidationError("question", "", "must not be empty")
			}
			return withApp(root, func(a *app) error {
				return runAsk(cmd.Context(), a, opts, query, cmd.OutOrStdout(), cmd.ErrOrStderr())
			})
		},
	}

	cmd.Flags().StringVarP(&opts.sessionID, "session", "s", "", "Continue a saved session")
	cmd.Flags().StringSliceVar(&opts.sources, "source", nil, "Ground the question in these notes (repeatable)")
	cmd.Flags().IntVar(&opts.maxSnippets, "max-snippets", 0, "Search results used for grounding (default from config)")
	cmd.Flags().BoolVar(&opts.noContext, "no-context", false, "Send the question without grounding")
	return cmd
}

func runAsk(ctx context.Context, a *app, opts *askOptions, query string, out, errOut io.Writer) error {
	a.startPipeline(ctx)
	if opts.sessionID != "" {
		if err := a.loadSession(ctx, opts.sessionID); err != nil {
			return err
		}
	}

	var filters *model.ChatFilters
	if !opts.noContext {
		limit := opts.maxSnippets
		if limit <= 0 {
			limit = a.cfg.Chat.DefaultMaxSnippets
		}
		filters = &model.ChatFilters{MaxSnippets: limit, ExplicitSources: opts.sources}
	}

	printer := newStreamPrinter(out)
	onChange := printer.Update
	if a.opts.json {
		onChange = nil
	}
	start := 0
	if s, ok := a.sessions.Get(opts.sessionID); ok {
		start = len(s.Turns)
	}
	printer.Follow(start)

	orch := a.newOrchestrator(nil, onChange)
	id, accepted := orch.Submit(ctx, opts.sessionID, query, filters)
	if !accepted {
		return errors.New("question not sent: the first message of a session needs context (use --source or disable legacy_skip_unfiltered_first_turn)")
	}
	if err := orch.WaitIdle(ctx); err != nil {
		return err
	}

	sess, ok := a.sessions.Get(id)
	if !ok {
		return &NotFoundError{Resource: "session", ID: id}
	}
	if a.opts.json {
		return outputJSON(out, sess)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(errOut, RenderConditional(DimStyle, "session "+id))

	if last := sess.LastTurn(); last != nil && last.Status.IsError() {
		return fmt.Errorf("the model did not answer: %s", util.SingleLine(last.Content))
	}
	return nil
}

// readQuery reads a question from piped input.
func readQuery(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(bufio.NewReader(r), maxPipedQuery))
	if err != nil {
		return "", fmt.Errorf("read question from stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
