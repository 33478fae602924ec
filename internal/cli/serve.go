// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// serve.go - The HTTP server command.

package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/jarvischat/internal/config"
	"github.com/jeranaias/jarvischat/internal/server"
)

// shutdownTimeout bounds the drain of live sessions and connections.
const shutdownTimeout = 15 * time.Second

func newServeCmd(root *rootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the chat API and SSE relay.

On start the database is seeded with the default profile and presets, and any
reply left pending by a crash is marked errored. Edits to the config file are
applied live where possible; the listen address and database path need a
restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), root, listen)
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Listen address (overrides server.listen)")
	return cmd
}

func runServe(ctx context.Context, root *rootOptions, listen string) error {
	a, err := loadApp(root, os.Stderr, slog.LevelDebug)
	if err != nil {
		return err
	}
	defer a.Close()
	if listen != "" {
		a.cfg.Server.Listen = listen
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.seed(ctx); err != nil {
		return err
	}
	recovered, err := a.store.RecoverPending(ctx)
	if err != nil {
		return err
	}
	if recovered > 0 {
		a.logger.Warn("PENDING_RECOVERED", "messages", recovered)
	}

	if v, err := a.client.Version(ctx); err != nil {
		a.logger.Warn("OLLAMA_UNREACHABLE", "url", a.cfg.Ollama.URL, "error", err)
	} else {
		a.logger.Info("OLLAMA_CONNECTED", "url", a.cfg.Ollama.URL, "version", v)
	}

	srv := server.NewServer(serverOptions(a.cfg), a.store, a.sessions, a.client, a.logger.With("component", "server"))

	if _, statErr := os.Stat(a.cfgPath); statErr == nil {
		if err := config.Watch(ctx, a.cfgPath, a.reloader(srv)); err != nil {
			a.logger.Warn("CONFIG_WATCH_FAILED", "path", a.cfgPath, "error", err)
		} else {
			a.logger.Info("CONFIG_WATCHING", "path", a.cfgPath)
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("SHUTDOWN_REQUESTED")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Sessions first: open SSE responses end once their session is done.
	sessErr := a.sessions.Shutdown(shutdownCtx)
	srvErr := srv.Shutdown(shutdownCtx)
	return errors.Join(sessErr, srvErr, <-errCh)
}

// reloader applies a changed config to the running components.
func (a *app) reloader(srv *server.Server) func(*config.Config, error) {
	return func(next *config.Config, err error) {
		if err != nil {
			a.logger.Warn("CONFIG_RELOAD_FAILED", "error", err)
			return
		}

		a.sessions.SetOptions(sessionOptions(next))
		a.prompts.SetOptions(promptOptions(next))
		srv.WithHeartbeat(next.Chat.Heartbeat.Duration)
		if lvl, err := config.ParseLevel(next.Log.Level); err == nil {
			a.level.Set(lvl)
		}

		if next.Server.Listen != a.cfg.Server.Listen || next.DatabasePath() != a.cfg.DatabasePath() {
			a.logger.Warn("CONFIG_RESTART_REQUIRED",
				"listen", next.Server.Listen,
				"db", next.DatabasePath(),
			)
		}
		config.SetGlobal(next)
		a.logger.Info("CONFIG_RELOADED", "path", a.cfgPath)
	}
}
