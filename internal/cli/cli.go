// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - Root command and entry point.

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set at build time)
var (
	Version   = "0.3.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Execute runs the command line and exits with a code matching the error.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	root, opts := newRootCmd()
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		DisplayError(os.Stderr, err, opts.json)
		os.Exit(GetExitCode(err))
	}
}

func newRootCmd() (*cobra.Command, *rootOptions) {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "notechat",
		Short: "Chat with a model grounded in your notes",
		Long: `notechat answers questions about your notes.

The first message of a session is grounded: matching note excerpts (or the
notes you name with --source) are retrieved and sent to the model with
your question. Follow-up messages continue the conversation. Transcripts
are saved under ~/.notechat/sessions.

Quick start:
  notechat index                        # build the notes index
  notechat chat                         # interactive chat
  notechat ask "what did I decide about the garden?"`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Config file (default ~/.notechat/config.toml)")
	flags.StringVarP(&opts.model, "model", "m", "", "Model to use (overrides default_model)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	flags.BoolVar(&opts.json, "json", false, "Output JSON where supported")
	flags.BoolVar(&opts.offline, "offline", false, "Use only a local Ollama server")

	root.AddCommand(
		newChatCmd(opts),
		newAskCmd(opts),
		newSessionsCmd(opts),
		newIndexCmd(opts),
		newModelsCmd(opts),
		newServeCmd(opts),
		newVersionCmd(),
	)
	return root, opts
}

// withApp builds the components for one command run and releases them after.
func withApp(opts *rootOptions, fn func(a *app) error) error {
	a, err := newApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "notechat %s (commit: %s, built: %s)\n", Version, GitCommit, BuildDate)
			return err
		},
	}
}
