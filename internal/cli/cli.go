// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - Root command and shared bootstrap for jarvischat.

package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeranaias/jarvischat/internal/config"
	"github.com/jeranaias/jarvischat/internal/ollama"
	"github.com/jeranaias/jarvischat/internal/prompt"
	"github.com/jeranaias/jarvischat/internal/server"
	"github.com/jeranaias/jarvischat/internal/session"
	"github.com/jeranaias/jarvischat/internal/storage"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.3.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// =============================================================================
// ROOT COMMAND
// =============================================================================

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	logLevel   string
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "jarvischat",
		Short: "Local chat front end for Ollama",
		Long: `jarvischat serves a chat UI backed by a local Ollama instance and keeps
every conversation in SQLite.

Examples:
  jarvischat serve                         # start the HTTP server
  jarvischat chat                          # chat in the terminal
  jarvischat chat -c <id>                  # resume a conversation
  jarvischat models                        # list installed models
  jarvischat conversations list            # list saved conversations
  jarvischat conversations export <id> -f html -o ./out`,
		Version:           fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildDate),
		SilenceUsage:      true,
		SilenceErrors:     true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file (default $JARVIS_CONFIG or ~/.jarvischat/config.toml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(opts),
		newChatCmd(opts),
		newModelsCmd(opts),
		newConversationsCmd(opts),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	root := NewRootCmd()
	if err := root.ExecuteContext(context.Background()); err != nil {
		DisplayError(os.Stderr, err)
		return GetExitCode(err)
	}
	return ExitSuccess
}

// =============================================================================
// BOOTSTRAP
// =============================================================================

// app holds the components a command runs against.
type app struct {
	cfg      *config.Config
	cfgPath  string
	logger   *slog.Logger
	level    *slog.LevelVar
	store    *storage.Store
	client   *ollama.Client
	prompts  *prompt.Assembler
	sessions *session.Manager
}

// loadApp loads config and builds the engine. Interactive commands pass a
// quiet floor so info logs do not interleave with their output.
func loadApp(opts *rootOptions, logOut io.Writer, floor slog.Level) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		if _, err := config.ParseLevel(opts.logLevel); err != nil {
			return nil, &UsageError{Reason: err.Error(), Example: "--log-level debug"}
		}
		cfg.Log.Level = opts.logLevel
	}
	cfgPath, _, err := config.ResolvePath(opts.configPath)
	if err != nil {
		return nil, err
	}
	config.SetGlobal(cfg)

	logger, level := config.NewLogger(cfg.Log, logOut)
	if level.Level() < floor {
		level.Set(floor)
	}

	store, err := storage.Open(storage.Config{Path: cfg.DatabasePath()})
	if err != nil {
		return nil, err
	}

	client := ollama.NewClientWithConfig(clientConfig(cfg))
	prompts := prompt.New(store, promptOptions(cfg), logger.With("component", "prompt"))
	sessions := session.NewManager(store, prompts, client, sessionOptions(cfg), logger.With("component", "session"))

	return &app{
		cfg:      cfg,
		cfgPath:  cfgPath,
		logger:   logger,
		level:    level,
		store:    store,
		client:   client,
		prompts:  prompts,
		sessions: sessions,
	}, nil
}

// seed writes first-run defaults. Existing data is never overwritten.
func (a *app) seed(ctx context.Context) error {
	return a.store.Seed(ctx, storage.SeedOptions{
		DefaultModel: a.cfg.Ollama.DefaultModel,
		StopTokens:   a.cfg.Chat.StopTokens,
	})
}

// Close releases the store.
func (a *app) Close() error {
	return a.store.Close()
}

// =============================================================================
// CONFIG MAPPING
// =============================================================================

func clientConfig(cfg *config.Config) *ollama.ClientConfig {
	return &ollama.ClientConfig{
		BaseURL:       cfg.Ollama.URL,
		Timeout:       cfg.Ollama.Timeout.Duration,
		StreamTimeout: cfg.Ollama.StreamTimeout.Duration,
		DefaultModel:  cfg.Ollama.DefaultModel,
	}
}

func promptOptions(cfg *config.Config) prompt.Options {
	return prompt.Options{
		DefaultModel: cfg.Ollama.DefaultModel,
		StopTokens:   cfg.Chat.StopTokens,
		MaxHistory:   cfg.Chat.MaxHistory,
	}
}

func sessionOptions(cfg *config.Config) session.Options {
	return session.Options{
		FinalizeRetries: cfg.Chat.FinalizeRetries,
		FinalizeTimeout: cfg.Chat.FinalizeTimeout.Duration,
		RetryDelay:      cfg.Chat.RetryDelay.Duration,
	}
}

func serverOptions(cfg *config.Config) server.Options {
	return server.Options{
		Listen:      cfg.Server.Listen,
		ReadTimeout: cfg.Server.ReadTimeout.Duration,
		IdleTimeout: cfg.Server.IdleTimeout.Duration,
		RateLimit:   cfg.Server.RateLimit,
		RateBurst:   cfg.Server.RateBurst,
		CORSOrigins: cfg.Server.CORSOrigins,
		Heartbeat:   cfg.Chat.Heartbeat.Duration,
	}
}
