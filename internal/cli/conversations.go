// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// conversations.go - Saved conversation management: list, show, export, delete.

package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jeranaias/jarvischat/internal/export"
	"github.com/jeranaias/jarvischat/internal/model"
)

// titleColumnWidth bounds the title column of the list table.
const titleColumnWidth = 48

func newConversationsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv", "c"},
		Short:   "Manage saved conversations",
	}
	cmd.AddCommand(
		newConversationsListCmd(root),
		newConversationsShowCmd(root),
		newConversationsExportCmd(root),
		newConversationsDeleteCmd(root),
	)
	return cmd
}

// withApp runs fn against a quiet app and closes it afterwards.
func withApp(root *rootOptions, fn func(a *app) error) error {
	a, err := loadApp(root, os.Stderr, slog.LevelWarn)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// =============================================================================
// LIST
// =============================================================================

func newConversationsListCmd(root *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List conversations, most recently updated first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return &UsageError{Reason: "--limit must be >= 0", Example: "jarvischat conversations list -n 20"}
			}
			return withApp(root, func(a *app) error {
				convs, err := a.store.ListConversations(cmd.Context(), limit)
				if err != nil {
					return err
				}
				renderConversations(cmd.OutOrStdout(), convs)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum conversations to show (0 for all)")
	return cmd
}

func renderConversations(w io.Writer, convs []model.ConversationSummary) {
	if len(convs) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No conversations yet. Start one with: jarvischat chat"))
		return
	}

	t := newTable("ID", "TITLE", "MODEL", "MESSAGES", "UPDATED")
	for _, c := range convs {
		t.Row(
			c.ID,
			truncateCell(c.Title, titleColumnWidth),
			valueOr(c.Model, "-"),
			humanize.Comma(int64(c.MessageCount)),
			humanize.Time(c.UpdatedAt),
		)
	}
	fmt.Fprintln(w, t.Render())
}

// =============================================================================
// SHOW
// =============================================================================

func newConversationsShowCmd(root *rootOptions) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a conversation with its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(root, func(a *app) error {
				conv, err := a.store.GetConversationWithMessages(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				renderConversation(cmd.OutOrStdout(), conv, raw || !IsStdoutTTY())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "Print message text without markdown rendering")
	return cmd
}

func renderConversation(w io.Writer, conv *model.Conversation, raw bool) {
	fmt.Fprintln(w, TitleStyle.Render(conv.Title))
	fmt.Fprintf(w, "%s %s\n", RenderLabel("id"), conv.ID)
	if conv.Model != "" {
		fmt.Fprintf(w, "%s %s\n", RenderLabel("model"), conv.Model)
	}
	if conv.PresetID != "" {
		fmt.Fprintf(w, "%s %s\n", RenderLabel("preset"), conv.PresetID)
	}
	fmt.Fprintf(w, "%s %s\n", RenderLabel("updated"), humanize.Time(conv.UpdatedAt))

	width := GetTerminalWidth()
	for i := range conv.Messages {
		msg := &conv.Messages[i]
		header := msg.Role.DisplayName()
		if msg.Model != "" {
			header += " (" + msg.Model + ")"
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, PromptStyle.Render(header))
		if raw {
			fmt.Fprintln(w, msg.Content)
		} else {
			fmt.Fprint(w, renderMarkdown(msg.Content, width))
		}
		if msg.Role == model.RoleAssistant && msg.Status != model.StatusComplete {
			fmt.Fprintln(w, RenderStatus(msg.Status))
		}
	}
}

// =============================================================================
// EXPORT
// =============================================================================

func newConversationsExportCmd(root *rootOptions) *cobra.Command {
	var format, output, theme string
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export a conversation as markdown, JSON or HTML",
		Long: `Export a conversation to a file in the output directory. Use -o - to write
to stdout instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(root, func(a *app) error {
				if output == "-" {
					return exportToWriter(cmd.Context(), a, args[0], format, theme, cmd.OutOrStdout())
				}
				path, err := exportConversation(cmd.Context(), a, args[0], format, output, theme)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "md", "Export format (md, json, html)")
	cmd.Flags().StringVarP(&output, "output", "o", ".", "Output directory, or - for stdout")
	cmd.Flags().StringVar(&theme, "theme", "", "HTML theme (dark, light)")
	return cmd
}

func exportOptions(dir, theme string) *export.Options {
	opts := export.DefaultOptions()
	if dir != "" {
		opts.OutputDir = dir
	}
	if theme != "" {
		opts.Theme = theme
	}
	return opts
}

// exportConversation writes conversation id into dir and returns the path.
func exportConversation(ctx context.Context, a *app, id, format, dir, theme string) (string, error) {
	conv, err := a.store.GetConversationWithMessages(ctx, id)
	if err != nil {
		return "", err
	}
	opts := exportOptions(dir, theme)
	exporter, err := export.New(format, opts)
	if err != nil {
		return "", err
	}
	return export.ExportToFile(conv, exporter, opts)
}

func exportToWriter(ctx context.Context, a *app, id, format, theme string, w io.Writer) error {
	conv, err := a.store.GetConversationWithMessages(ctx, id)
	if err != nil {
		return err
	}
	exporter, err := export.New(format, exportOptions("", theme))
	if err != nil {
		return err
	}
	content, err := exporter.Export(conv)
	if err != nil {
		return err
	}
	_, err = w.Write(content)
	return err
}

// =============================================================================
// DELETE
// =============================================================================

func newConversationsDeleteCmd(root *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a conversation and its messages",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(root, func(a *app) error {
				conv, err := a.store.GetConversation(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !yes && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), fmt.Sprintf("Delete %q?", conv.Title)) {
					fmt.Fprintln(cmd.OutOrStdout(), DimStyle.Render("Cancelled."))
					return nil
				}
				if err := a.store.DeleteConversation(cmd.Context(), conv.ID); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("Deleted ")+conv.ID)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}

// confirm asks a yes/no question; anything but y or yes is a no.
func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N] ", question)
	answer, _ := bufio.NewReader(in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}
