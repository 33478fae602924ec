// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// models.go - Installed and loaded model listings.

package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jeranaias/jarvischat/internal/ollama"
)

func newModelsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "models",
		Aliases: []string{"model"},
		Short:   "List models installed in Ollama",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(root, os.Stderr, slog.LevelWarn)
			if err != nil {
				return err
			}
			defer a.Close()

			models, err := a.client.ListModels(cmd.Context())
			if err != nil {
				return err
			}
			renderModels(cmd.OutOrStdout(), models, a.cfg.Ollama.DefaultModel)
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "ps",
		Short: "List models currently loaded in memory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(root, os.Stderr, slog.LevelWarn)
			if err != nil {
				return err
			}
			defer a.Close()

			running, err := a.client.RunningModels(cmd.Context())
			if err != nil {
				return err
			}
			renderRunning(cmd.OutOrStdout(), running, time.Now())
			return nil
		},
	})
	return cmd
}

// =============================================================================
// RENDERING
// =============================================================================

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(DimStyle).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return HeaderCellStyle
			}
			return CellStyle
		})
}

func renderModels(w io.Writer, models []ollama.ModelInfo, defaultModel string) {
	if len(models) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No models installed. Run: ollama pull "+defaultModel))
		return
	}

	t := newTable("NAME", "SIZE", "PARAMS", "QUANT", "MODIFIED")
	for i := range models {
		m := &models[i]
		name := m.Name
		if name == defaultModel {
			name += " *"
		}
		t.Row(name, m.FormatSize(), m.Details.ParameterSize, m.Details.QuantizationLevel, humanize.Time(m.ModifiedAt))
	}
	fmt.Fprintln(w, t.Render())
	fmt.Fprintln(w, DimStyle.Render("* default model"))
}

func renderRunning(w io.Writer, running []ollama.RunningModel, now time.Time) {
	if len(running) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No models loaded."))
		return
	}

	t := newTable("NAME", "SIZE", "VRAM", "UNLOADS")
	for _, m := range running {
		unloads := "-"
		if !m.ExpiresAt.IsZero() {
			unloads = humanize.RelTime(m.ExpiresAt, now, "ago", "from now")
		}
		t.Row(m.Name, humanize.IBytes(uint64(max(m.Size, 0))), humanize.IBytes(uint64(max(m.SizeVRAM, 0))), unloads)
	}
	fmt.Fprintln(w, t.Render())
}
