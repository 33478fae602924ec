// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive terminal chat sharing the server's engine.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/jarvischat/internal/config"
	"github.com/jeranaias/jarvischat/internal/model"
	"github.com/jeranaias/jarvischat/internal/session"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// lineReader provides input history and line editing for interactive chat.
type lineReader struct {
	line        *liner.State
	historyFile string
}

func newLineReader() *lineReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	r := &lineReader{line: line, historyFile: filepath.Join(dir, "chat_history")}
	if f, err := os.Open(r.historyFile); err == nil {
		r.line.ReadHistory(f)
		f.Close()
	}
	return r
}

// ReadInput reads a line of input with the given prompt.
func (r *lineReader) ReadInput(prompt string) (string, error) {
	input, err := r.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history with owner-only permissions and restores the terminal.
func (r *lineReader) Close() {
	if err := os.MkdirAll(filepath.Dir(r.historyFile), 0755); err == nil {
		if f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			r.line.WriteHistory(f)
			f.Close()
		}
	}
	r.line.Close()
}

// =============================================================================
// CHAT STATE
// =============================================================================

// chatState is the selection carried between turns.
type chatState struct {
	conversationID string
	model          string
	presetID       string
}

func newChatCmd(root *rootOptions) *cobra.Command {
	state := &chatState{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with a local model in the terminal",
		Long: `Start an interactive chat. Replies stream as they are generated and are
saved exactly like replies sent through the web UI.

Press Ctrl+C while a reply streams to stop it; press Ctrl+C or Ctrl+D at the
prompt to quit. Type /help for commands.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), root, state, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&state.conversationID, "conversation", "c", "", "Resume a conversation by id")
	cmd.Flags().StringVarP(&state.model, "model", "m", "", "Model for this session")
	cmd.Flags().StringVarP(&state.presetID, "preset", "p", "", "Preset id for this session")
	return cmd
}

func runChat(ctx context.Context, root *rootOptions, state *chatState, out io.Writer) error {
	if !IsTTY() {
		return &UsageError{Reason: "chat needs an interactive terminal", Example: "jarvischat chat"}
	}

	a, err := loadApp(root, os.Stderr, slog.LevelWarn)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.seed(ctx); err != nil {
		return err
	}
	if state.conversationID != "" {
		conv, err := a.store.GetConversation(ctx, state.conversationID)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %s\n", DimStyle.Render("Resuming:"), conv.Title)
	}

	fmt.Fprintln(out, TitleStyle.Render("jarvischat")+" "+DimStyle.Render("model "+a.cfg.Ollama.DefaultModel+" · /help for commands"))

	reader := newLineReader()
	defer reader.Close()

	for {
		input, err := reader.ReadInput("you> ")
		if err != nil {
			// Ctrl+C, Ctrl+D and closed stdin all end the session.
			fmt.Fprintln(out)
			return nil
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			quit, err := handleSlashCommand(ctx, a, state, input, out)
			if err != nil {
				DisplayError(os.Stderr, err)
			}
			if quit {
				return nil
			}
			continue
		}

		if err := streamTurn(ctx, a, state, input, out); err != nil {
			DisplayError(os.Stderr, err)
		}
	}
}

// streamTurn sends one message and prints the reply as it streams. Ctrl+C
// stops the reply; the partial text is kept.
func streamTurn(ctx context.Context, a *app, state *chatState, message string, out io.Writer) error {
	sess, err := a.sessions.Start(ctx, session.StartRequest{
		ConversationID: state.conversationID,
		PresetID:       state.presetID,
		Model:          state.model,
		Message:        message,
	})
	if err != nil {
		return err
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)

	for {
		select {
		case <-interrupt:
			sess.Cancel()

		case ev, ok := <-sess.Events():
			if !ok {
				return nil
			}
			switch ev.Type {
			case session.EventStart:
				state.conversationID = ev.ConversationID
				fmt.Fprint(out, PromptStyle.Render(ev.Model+"> "))
			case session.EventToken:
				fmt.Fprint(out, ev.Content)
			case session.EventDone:
				fmt.Fprintln(out)
				if ev.Status != model.StatusComplete {
					fmt.Fprintln(out, RenderStatus(ev.Status))
				}
				if ev.Error != "" {
					return errors.New(ev.Error)
				}
				return nil
			}
		}
	}
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

const chatHelp = `Commands:
  /new              start a new conversation
  /model <name>     switch model (empty resets to the default)
  /preset <id>      switch preset (empty resets)
  /presets          list presets
  /info             show the current selection
  /export [format]  export this conversation (md, json, html)
  /quit             exit`

// handleSlashCommand runs a REPL command. It reports whether to quit.
func handleSlashCommand(ctx context.Context, a *app, state *chatState, input string, out io.Writer) (bool, error) {
	name, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(name) {
	case "/quit", "/exit", "/q":
		return true, nil

	case "/help", "/?":
		fmt.Fprintln(out, chatHelp)

	case "/new":
		state.conversationID = ""
		fmt.Fprintln(out, DimStyle.Render("New conversation."))

	case "/model":
		state.model = arg
		if arg == "" {
			fmt.Fprintln(out, DimStyle.Render("Model reset to the default."))
		} else {
			fmt.Fprintln(out, DimStyle.Render("Model: "+arg))
		}

	case "/preset":
		if arg != "" {
			p, err := a.store.GetPreset(ctx, arg)
			if err != nil {
				return false, err
			}
			fmt.Fprintln(out, DimStyle.Render("Preset: "+p.Name))
		} else {
			fmt.Fprintln(out, DimStyle.Render("Preset cleared."))
		}
		state.presetID = arg

	case "/presets":
		presets, err := a.store.ListPresets(ctx)
		if err != nil {
			return false, err
		}
		for _, p := range presets {
			fmt.Fprintf(out, "  %s %s\n", RenderLabel(p.ID), p.Name)
		}

	case "/info":
		conv := state.conversationID
		if conv == "" {
			conv = "(new)"
		}
		fmt.Fprintf(out, "%s %s\n%s %s\n%s %s\n",
			RenderLabel("conversation"), conv,
			RenderLabel("model"), valueOr(state.model, a.cfg.Ollama.DefaultModel+" (default)"),
			RenderLabel("preset"), valueOr(state.presetID, "(settings default)"),
		)

	case "/export":
		if state.conversationID == "" {
			return false, &UsageError{Reason: "nothing to export yet"}
		}
		path, err := exportConversation(ctx, a, state.conversationID, arg, ".", "")
		if err != nil {
			return false, err
		}
		fmt.Fprintln(out, SuccessStyle.Render("Exported: ")+path)

	default:
		return false, &UsageError{Reason: "unknown command " + name, Example: "/help"}
	}
	return false, nil
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
