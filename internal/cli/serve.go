// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// serve.go - HTTP host command.
//
// Command: serve
// Short:   Run the HTTP host
//
// Examples:
//   notechat serve                       Listen on server.addr (127.0.0.1:8085)
//   notechat serve --addr :9000          Listen on another address
//   notechat serve --watch               Also reindex notes as they change

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/notechat/internal/server"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var (
		addr  string
		watch bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP host",
		Long: `Run the HTTP host. Sessions are created and continued with
POST /v1/chat and followed live with GET /v1/sessions/:id/events.

Set server.auth_token_env to require a bearer token on /v1 routes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(root, func(a *app) error {
				ctx := cmd.Context()
				a.startPipeline(ctx)

				if addr == "" {
					addr = a.cfg.Server.Addr
				}

				var stats server.IndexStats
				if a.index != nil {
					stats = a.index
					if watch || a.cfg.Notes.Watch {
						w, err := a.index.Watch(ctx)
						if err != nil {
							a.logger.Warn("notes watcher unavailable", zap.Error(err))
						} else {
							defer w.Close()
						}
					}
				}

				srv := server.New(server.Config{
					Addr:                          addr,
					AuthToken:                     a.cfg.Server.AuthToken(),
					RequestsPerSecond:             a.cfg.Server.RequestsPerSecond,
					AllowedOrigins:                a.cfg.Server.AllowedOrigins,
					LegacySkipUnfilteredFirstTurn: a.cfg.Chat.LegacySkipUnfilteredFirstTurn,
				}, server.Deps{
					Sessions:  a.sessions,
					Consumer:  a.consumer,
					Store:     a.store,
					Scheduler: a.scheduler,
					Resolver:  a.resolver,
					Models:    a.models,
					Transport: a.transport,
					Index:     stats,
					Logger:    a.logger,
				})

				fmt.Fprintf(cmd.ErrOrStderr(), "%s listening on http://%s\n", RenderConditional(SuccessStyle, "notechat"), addr)
				return srv.Start(ctx)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from server.addr)")
	cmd.Flags().BoolVar(&watch, "watch", false, "Reindex notes as they change")
	return cmd
}
