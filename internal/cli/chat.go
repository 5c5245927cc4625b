// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat command.
//
// Command: chat
// Short:   Start an interactive chat session
//
// Examples:
//   notechat chat                          Start a new session
//   notechat chat --session 1718000000000  Continue a saved session
//   notechat chat --source garden.md       Ground the first message in one note
//   notechat chat -m llama3.1              Use a specific model
//
// Interactive Commands (during chat):
//   /help, /h             Show available commands
//   /new                  Start a new session
//   /sources [paths...]   Show the current session's sources, or pick notes
//                         to ground the next new session in
//   /model [name]         Show or switch model
//   /quit, /q             Exit chat
//   Ctrl+D                Exit chat

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/notechat/internal/chat"
	"github.com/jeranaias/notechat/internal/config"
	"github.com/jeranaias/notechat/internal/model"
	"github.com/jeranaias/notechat/internal/offline"
)

const chatPrompt = "notechat> "

// =============================================================================
// COMMAND
// =============================================================================

type chatOptions struct {
	sessionID   string
	sources     []string
	maxSnippets int
	noContext   bool
}

func newChatCmd(root *rootOptions) *cobra.Command {
	opts := &chatOptions{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long: `Start an interactive chat session.

The first message of a new session is grounded in your notes: the best
matching excerpts are retrieved and sent with it. Use --source (or /sources
inside the chat) to name the notes instead. Later messages are sent as a
plain conversation.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !IsTTY() {
				return errors.New("chat needs an interactive terminal; use 'notechat ask' for piped input")
			}
			return withApp(root, func(a *app) error {
				return runChat(cmd.Context(), a, opts, cmd.OutOrStdout())
			})
		},
	}

	cmd.Flags().StringVarP(&opts.sessionID, "session", "s", "", "Continue a saved session")
	cmd.Flags().StringSliceVar(&opts.sources, "source", nil, "Ground the first message in these notes (repeatable)")
	cmd.Flags().IntVar(&opts.maxSnippets, "max-snippets", 0, "Search results used for grounding (default from config)")
	cmd.Flags().BoolVar(&opts.noContext, "no-context", false, "Send the first message without grounding")
	return cmd
}

func runChat(ctx context.Context, a *app, opts *chatOptions, out io.Writer) error {
	a.startPipeline(ctx)
	if opts.sessionID != "" {
		if err := a.loadSession(ctx, opts.sessionID); err != nil {
			return err
		}
	}

	historyFile := filepath.Join(os.TempDir(), "notechat_history")
	if dir, err := config.ConfigDir(); err == nil {
		historyFile = filepath.Join(dir, "chat_history")
	}
	input := NewChatCLI(historyFile)
	defer input.Close()

	repl := newChatREPL(a, opts, out)
	repl.printWelcome()
	return repl.run(ctx, input)
}

// =============================================================================
// INPUT HISTORY
// =============================================================================

// ChatCLI provides input history and line editing for interactive chat.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a ChatCLI and loads history from historyFile.
func NewChatCLI(historyFile string) *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	c := &ChatCLI{line: line, historyFile: historyFile}
	c.LoadHistory()
	return c
}

// LoadHistory loads command history from file.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		_, _ = c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line with prompt. A non-empty draft is pre-filled for
// editing.
func (c *ChatCLI) ReadInput(prompt, draft string) (string, error) {
	var (
		input string
		err   error
	)
	if draft != "" {
		input, err = c.line.PromptWithSuggestion(prompt, draft, -1)
	} else {
		input, err = c.line.Prompt(prompt)
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory writes history to file, owner read/write only.
func (c *ChatCLI) SaveHistory() {
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0700); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = c.line.WriteHistory(f)
}

// Close saves history and restores the terminal.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

// =============================================================================
// PENDING INPUT
// =============================================================================

// pendingInput is the line awaiting submission. The orchestrator clears it
// once a query is accepted; anything left over is offered again at the next
// prompt.
type pendingInput struct {
	mu   sync.Mutex
	text string
}

func (p *pendingInput) Set(s string) {
	p.mu.Lock()
	p.text = s
	p.mu.Unlock()
}

// Clear implements chat.InputBuffer.
func (p *pendingInput) Clear() {
	p.Set("")
}

// Take returns the pending text and clears it.
func (p *pendingInput) Take() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.text
	p.text = ""
	return s
}

// =============================================================================
// REPL
// =============================================================================

// lineReader is the part of ChatCLI the REPL uses.
type lineReader interface {
	ReadInput(prompt, draft string) (string, error)
}

type chatREPL struct {
	app     *app
	out     io.Writer
	orch    *chat.Orchestrator
	printer *streamPrinter
	input   *pendingInput

	sessionID   string
	sources     []string
	maxSnippets int
	noContext   bool
	modelName   string
}

func newChatREPL(a *app, opts *chatOptions, out io.Writer) *chatREPL {
	r := &chatREPL{
		app:         a,
		out:         out,
		printer:     newStreamPrinter(out),
		input:       &pendingInput{},
		sessionID:   opts.sessionID,
		sources:     opts.sources,
		maxSnippets: opts.maxSnippets,
		noContext:   opts.noContext,
		modelName:   a.modelName(),
	}
	if r.maxSnippets <= 0 {
		r.maxSnippets = a.cfg.Chat.DefaultMaxSnippets
	}
	r.orch = a.newOrchestrator(r.input, r.printer.Update)
	return r
}

func (r *chatREPL) printWelcome() {
	title := RenderConditional(TitleStyle, "notechat") + " " + RenderConditional(DimStyle, Version)
	if badge := offline.StatusBadge(r.app.cfg.Offline); badge != "" {
		title += " " + RenderConditional(WarningStyle, badge)
	}
	fmt.Fprintln(r.out, title)
	if r.sessionID != "" {
		if s, ok := r.app.sessions.Get(r.sessionID); ok {
			fmt.Fprintf(r.out, "Continuing session %s (%d turns)\n", s.ID, len(s.Turns))
		}
	}
	fmt.Fprintln(r.out, RenderConditional(DimStyle, "Type /help for commands, Ctrl+D to exit."))
	fmt.Fprintln(r.out)
}

// run reads lines until the user quits or ctx is cancelled.
func (r *chatREPL) run(ctx context.Context, in lineReader) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := in.ReadInput(chatPrompt, r.input.Take())
		if err != nil {
			// Ctrl+C at the prompt, Ctrl+D or a closed terminal.
			fmt.Fprintln(r.out)
			return nil
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if !r.handleCommand(ctx, line) {
				return nil
			}
			continue
		}
		if err := r.submit(ctx, line); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(r.out, "%s %v\n", RenderConditional(ErrorStyle, "[Error]"), err)
		}
	}
}

// submit sends one message and streams the reply.
func (r *chatREPL) submit(ctx context.Context, line string) error {
	var filters *model.ChatFilters
	if !r.noContext {
		filters = &model.ChatFilters{MaxSnippets: r.maxSnippets, ExplicitSources: r.sources}
	}

	start := 0
	if s, ok := r.app.sessions.Get(r.sessionID); ok {
		start = len(s.Turns)
	}
	r.printer.Follow(start)
	r.input.Set(line)

	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, RenderConditional(AssistantStyle, model.RoleAssistant.DisplayName()))
	id, accepted := r.orch.Submit(ctx, r.sessionID, line, filters)
	r.sessionID = id
	if !accepted {
		fmt.Fprintln(r.out, RenderConditional(WarningStyle,
			"Not sent: a first message needs context. Pick notes with /sources and press enter again."))
		return nil
	}
	r.sources = nil

	if err := r.orch.WaitIdle(ctx); err != nil {
		return err
	}
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out)
	return nil
}

// handleCommand runs a slash command. It returns false to end the REPL.
func (r *chatREPL) handleCommand(ctx context.Context, line string) bool {
	name, args := parseSlashCommand(line)
	switch name {
	case "quit", "q", "exit":
		return false

	case "help", "h":
		r.printHelp()

	case "new":
		r.sessionID = ""
		r.sources = args
		fmt.Fprintln(r.out, RenderConditional(SuccessStyle, "Started a new session."))

	case "sources":
		r.handleSources(args)

	case "model":
		if len(args) == 0 {
			name := r.modelName
			if name == "" {
				name, _ = r.app.models.DefaultModelName(ctx)
			}
			fmt.Fprintf(r.out, "Model: %s\n", name)
			break
		}
		r.modelName = args[0]
		r.orch.SetModel(r.modelName)
		fmt.Fprintf(r.out, "Switched to %s\n", r.modelName)

	default:
		fmt.Fprintf(r.out, "%s unknown command /%s (try /help)\n", RenderConditional(WarningStyle, "[Warn]"), name)
	}
	return true
}

func (r *chatREPL) handleSources(args []string) {
	sess, ok := r.app.sessions.Get(r.sessionID)
	started := ok && !sess.IsEmpty()

	if len(args) > 0 {
		if started {
			fmt.Fprintln(r.out, RenderConditional(WarningStyle, "Sources only ground the first message; use /new to start over."))
			return
		}
		r.sources = args
		fmt.Fprintf(r.out, "The next message will be grounded in: %s\n", strings.Join(args, ", "))
		return
	}

	switch {
	case started:
		fmt.Fprintln(r.out, renderSources(sess.Turns[0].Context))
	case len(r.sources) > 0:
		fmt.Fprintf(r.out, "Pending sources: %s\n", strings.Join(r.sources, ", "))
	default:
		fmt.Fprintln(r.out, "No sources yet. The first message will search your notes.")
	}
}

func (r *chatREPL) printHelp() {
	rows := [][2]string{
		{"/new [paths...]", "Start a new session"},
		{"/sources [paths...]", "Show sources, or pick notes for the first message"},
		{"/model [name]", "Show or switch model"},
		{"/help", "Show this help"},
		{"/quit", "Exit (or Ctrl+D)"},
	}
	for _, row := range rows {
		fmt.Fprintf(r.out, "  %s %s\n", LabelStyle.Width(22).Render(row[0]), row[1])
	}
}

// parseSlashCommand splits "/name arg1 arg2" into its name and arguments.
func parseSlashCommand(line string) (string, []string) {
	fields := strings.Fields(strings.TrimPrefix(line, "/"))
	if len(fields) == 0 {
		return "", nil
	}
	return strings.ToLower(fields[0]), fields[1:]
}
