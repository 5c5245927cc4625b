// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// index_cmd.go - Notes index command.
//
// Command: index
// Short:   Rebuild the notes index
//
// Examples:
//   notechat index             Rebuild, then print stats
//   notechat index --watch     Rebuild, then reindex notes as they change
//   notechat index --stats     Print stats without rebuilding

package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/notechat/internal/index"
)

func newIndexCmd(root *rootOptions) *cobra.Command {
	var (
		watch     bool
		statsOnly bool
	)
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Rebuild the notes index",
		Long: `Rebuild the search index over the notes directory (notes.root).

With --watch the command keeps running and reindexes each note as it is
created, changed or removed. Stop it with Ctrl+C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(root, func(a *app) error {
				ctx := cmd.Context()
				out := cmd.OutOrStdout()

				idx, err := a.openIndex(ctx)
				if err != nil {
					return err
				}

				if !statsOnly {
					if !root.json {
						fmt.Fprintf(out, "Indexing %s...\n", a.cfg.Notes.Root)
					}
					start := time.Now()
					if err := idx.Index(ctx); err != nil {
						return err
					}
					a.logger.Info("index rebuilt", zap.Duration("elapsed", time.Since(start)))
				}

				if root.json {
					if err := outputJSON(out, idx.Stats()); err != nil {
						return err
					}
				} else {
					printIndexStats(out, idx.Stats())
				}
				if !watch {
					return nil
				}

				w, err := idx.Watch(ctx)
				if err != nil {
					return err
				}
				defer w.Close()
				w.SetOnUpdate(func(path string, err error) {
					if err != nil {
						fmt.Fprintf(out, "%s %s: %v\n", RenderConditional(ErrorStyle, "[FAIL]"), path, err)
						return
					}
					fmt.Fprintf(out, "%s %s\n", RenderConditional(SuccessStyle, "[OK]"), path)
				})
				fmt.Fprintln(out, RenderConditional(DimStyle, "Watching for changes. Press Ctrl+C to stop."))
				<-ctx.Done()
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep running and reindex notes as they change")
	cmd.Flags().BoolVar(&statsOnly, "stats", false, "Print index stats without rebuilding")
	return cmd
}

func printIndexStats(w io.Writer, s index.Stats) {
	fmt.Fprintln(w, RenderConditional(TitleStyle, "Notes index"))
	fmt.Fprintf(w, "%s%s\n", RenderLabel("Root"), s.Root)
	fmt.Fprintf(w, "%s%d\n", RenderLabel("Files"), s.FileCount)
	fmt.Fprintf(w, "%s%d\n", RenderLabel("Chunks"), s.ChunkCount)
	fmt.Fprintf(w, "%s%s\n", RenderLabel("Search mode"), s.SearchMode)
	if s.EmbeddingEngine != "" {
		fmt.Fprintf(w, "%s%s\n", RenderLabel("Embeddings"), s.EmbeddingEngine)
	}
	fmt.Fprintf(w, "%s%s\n", RenderLabel("Database"), formatBytes(s.DatabaseSize))
	fmt.Fprintf(w, "%s%s\n", RenderLabel("Last indexed"), formatAge(s.LastIndexed, time.Now()))
}
