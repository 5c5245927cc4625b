// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// sessions.go - Saved session management.
//
// Command: sessions [subcommand]
// Short:   Manage saved chat sessions
//
// Subcommands:
//   list                 List sessions, newest first
//   show ID              Print a transcript
//   rename ID NAME       Set the display name
//   delete ID            Delete a session
//   export ID            Export to markdown, json or yaml
//
// Examples:
//   notechat sessions list --search garden
//   notechat sessions show 1718000000000
//   notechat sessions rename 1718000000000 "Garden plans"
//   notechat sessions delete 1718000000000 --yes
//   notechat sessions export 1718000000000 --format yaml --output ./exports

package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/notechat/internal/export"
	"github.com/jeranaias/notechat/internal/model"
	"github.com/jeranaias/notechat/internal/storage"
)

func newSessionsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session"},
		Short:   "Manage saved chat sessions",
	}
	cmd.AddCommand(
		newSessionsListCmd(root),
		newSessionsShowCmd(root),
		newSessionsRenameCmd(root),
		newSessionsDeleteCmd(root),
		newSessionsExportCmd(root),
	)
	return cmd
}

func newSessionsListCmd(root *rootOptions) *cobra.Command {
	var search string
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List sessions, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(root, func(a *app) error {
				var (
					metas []model.SessionMetadata
					err   error
				)
				if search != "" {
					metas, err = a.store.SearchTranscripts(cmd.Context(), search)
				} else {
					metas, err = a.store.ListMetadata(cmd.Context())
				}
				if err != nil {
					return err
				}
				if root.json {
					if metas == nil {
						metas = []model.SessionMetadata{}
					}
					return outputJSON(cmd.OutOrStdout(), metas)
				}
				_, err = fmt.Fprint(cmd.OutOrStdout(), storage.FormatSessionList(metas))
				if len(metas) == 0 {
					fmt.Fprintln(cmd.OutOrStdout())
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&search, "search", "", "Only sessions whose transcript contains this text")
	return cmd
}

func newSessionsShowCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Print a transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(root, func(a *app) error {
				id := args[0]
				sess, err := a.store.Load(cmd.Context(), id)
				if err != nil {
					return sessionError(id, err)
				}
				meta, err := a.store.Metadata(cmd.Context(), id)
				if err != nil && !errors.Is(err, storage.ErrSessionNotFound) {
					return err
				}
				t := export.NewTranscript(sess, meta)
				if root.json {
					return outputJSON(cmd.OutOrStdout(), t)
				}
				renderTranscript(cmd.OutOrStdout(), t.Metadata, t.Session, GetTerminalWidth())
				return nil
			})
		},
	}
}

func newSessionsRenameCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rename ID NAME",
		Short: "Set a session's display name",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, name := args[0], strings.TrimSpace(strings.Join(args[1:], " "))
			if name == "" {
				return NewValidationError("name", "", "must not be empty")
			}
			return withApp(root, func(a *app) error {
				if err := a.store.Rename(cmd.Context(), id, name); err != nil {
					return sessionError(id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s is now %q\n", RenderConditional(SuccessStyle, "[OK]"), id, name)
				return nil
			})
		},
	}
}

func newSessionsDeleteCmd(root *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:     "delete ID",
		Aliases: []string{"rm"},
		Short:   "Delete a session",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withApp(root, func(a *app) error {
				meta, err := a.store.Metadata(cmd.Context(), id)
				if err != nil {
					return sessionError(id, err)
				}
				ok, err := RequireConfirmation(cmd.InOrStdin(), cmd.OutOrStdout(), yes,
					fmt.Sprintf("delete %q (%d turns)", meta.DisplayName, meta.TurnCount), root.json)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
					return nil
				}
				if err := a.store.Delete(cmd.Context(), id); err != nil {
					return sessionError(id, err)
				}
				if root.json {
					return outputJSON(cmd.OutOrStdout(), map[string]any{"deleted": id})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s deleted %s\n", RenderConditional(SuccessStyle, "[OK]"), id)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func newSessionsExportCmd(root *rootOptions) *cobra.Command {
	var (
		format    string
		outputDir string
		open      bool
		noContext bool
		prompts   bool
	)
	cmd := &cobra.Command{
		Use:   "export ID",
		Short: "Export a transcript to markdown, json or yaml",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withApp(root, func(a *app) error {
				opts := export.DefaultOptions()
				opts.OutputDir = outputDir
				opts.OpenAfterExport = open
				opts.IncludeContext = !noContext
				opts.ShowPrompts = prompts
				opts.Logger = a.logger

				exporter, err := export.ForFormat(format, opts)
				if err != nil {
					return &ValidationError{Field: "format", Value: format, Reason: "unsupported format",
						Example: strings.Join(export.Formats, ", ")}
				}

				sess, err := a.store.Load(cmd.Context(), id)
				if err != nil {
					return sessionError(id, err)
				}
				meta, err := a.store.Metadata(cmd.Context(), id)
				if err != nil && !errors.Is(err, storage.ErrSessionNotFound) {
					return err
				}

				path, err := export.ExportToFile(export.NewTranscript(sess, meta), exporter, opts)
				if err != nil {
					return err
				}
				if root.json {
					return outputJSON(cmd.OutOrStdout(), map[string]any{"session_id": id, "path": path})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s exported to %s\n", RenderConditional(SuccessStyle, "[OK]"), path)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "markdown", "Export format: markdown, json, yaml")
	cmd.Flags().StringVarP(&outputDir, "output", "o", ".", "Output directory")
	cmd.Flags().BoolVar(&open, "open", false, "Open the file after exporting")
	cmd.Flags().BoolVar(&noContext, "no-context", false, "Leave out retrieved sources")
	cmd.Flags().BoolVar(&prompts, "prompts", false, "Show the grounded prompt instead of the typed question")
	return cmd
}
