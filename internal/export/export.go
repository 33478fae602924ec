// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/jeranaias/jarvischat/internal/model"
	"github.com/jeranaias/jarvischat/internal/util"
)

// Generator is written into exported documents.
const Generator = "jarvischat"

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter defines the interface for conversation exporters.
type Exporter interface {
	// Export converts a conversation to the target format and returns the content.
	Export(conv *model.Conversation) ([]byte, error)

	// FileExtension returns the appropriate file extension (e.g., ".md", ".html").
	FileExtension() string

	// MimeType returns the MIME type for the exported format.
	MimeType() string
}

// =============================================================================
// EXPORT OPTIONS
// =============================================================================

// Options configures export behavior.
type Options struct {
	// OutputDir is the directory where files will be saved.
	// Default: current working directory
	OutputDir string

	// IncludeMetadata includes the metadata header and per-message model and status.
	IncludeMetadata bool

	// IncludeTimestamps includes per-message timestamps.
	IncludeTimestamps bool

	// Theme for HTML export ("light" or "dark").
	// Default: "dark"
	Theme string
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		OutputDir:         ".",
		IncludeMetadata:   true,
		IncludeTimestamps: true,
		Theme:             "dark",
	}
}

// New returns the exporter for a format name: "md"/"markdown", "json" or
// "html"/"htm". Unknown names fail with ErrInvalidInput.
func New(format string, opts *Options) (Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "markdown", "md", "":
		return NewMarkdownExporter(opts), nil
	case "json":
		return NewJSONExporter(opts), nil
	case "html", "htm":
		return NewHTMLExporter(opts), nil
	default:
		return nil, fmt.Errorf("export: %w: unsupported format %q", model.ErrInvalidInput, format)
	}
}

// =============================================================================
// EXPORT FUNCTIONS
// =============================================================================

// Filename returns the download name for conv in the exporter's format.
func Filename(conv *model.Conversation, exporter Exporter) string {
	return fmt.Sprintf("conversation_%s_%s%s",
		util.SanitizeFilename(conv.Title),
		conv.CreatedAt.UTC().Format("20060102_150405"),
		exporter.FileExtension(),
	)
}

// ExportToFile exports a conversation into opts.OutputDir and returns the
// path written.
func ExportToFile(conv *model.Conversation, exporter Exporter, opts *Options) (string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	content, err := exporter.Export(conv)
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}

	dir := opts.OutputDir
	if dir == "" {
		dir = "."
	}
	outputPath := filepath.Join(dir, Filename(conv, exporter))
	if err := util.AtomicWriteFile(outputPath, content, 0644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return outputPath, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// validate rejects conversations that cannot be rendered.
func validate(conv *model.Conversation) error {
	if conv == nil {
		return fmt.Errorf("conversation is nil")
	}
	if len(conv.Messages) == 0 {
		return fmt.Errorf("conversation has no messages")
	}
	if conv.CreatedAt.IsZero() {
		return fmt.Errorf("conversation has invalid creation timestamp")
	}
	return nil
}

// roleLabel returns the heading used for a message role.
func roleLabel(role model.Role) string {
	if role == "" {
		return "Unknown"
	}
	return cases.Title(language.English).String(string(role))
}

// statusLabel returns a readable form of a message status, such as
// "Truncated By Stop Token".
func statusLabel(status model.Status) string {
	return cases.Title(language.English).String(strings.ReplaceAll(string(status), "-", " "))
}

// messageMeta lists the model and non-complete status of an assistant message.
func messageMeta(msg *model.Message) []string {
	if msg.Role != model.RoleAssistant {
		return nil
	}
	var parts []string
	if msg.Model != "" {
		parts = append(parts, "Model: "+msg.Model)
	}
	if msg.Status != "" && msg.Status != model.StatusComplete {
		parts = append(parts, "Status: "+statusLabel(msg.Status))
	}
	return parts
}

// formatTimestamp formats a timestamp for display.
func formatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

// formatShortTimestamp formats a timestamp for inline display.
func formatShortTimestamp(t time.Time) string {
	return t.Format("15:04:05")
}
