// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"bytes"
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	chromaStyles "github.com/alecthomas/chroma/v2/styles"

	"github.com/jeranaias/jarvischat/internal/model"
)

var (
	codeBlockRegex  = regexp.MustCompile("(?s)```([^\\n`]*)\\n(.*?)```")
	inlineCodeRegex = regexp.MustCompile("`([^`\\n]+)`")
)

// =============================================================================
// HTML EXPORTER
// =============================================================================

// HTMLExporter exports conversations to a standalone HTML page.
type HTMLExporter struct {
	options *Options
	now     func() time.Time
}

// NewHTMLExporter creates a new HTML exporter.
func NewHTMLExporter(opts *Options) *HTMLExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Theme != "light" {
		opts.Theme = "dark"
	}
	return &HTMLExporter{options: opts, now: time.Now}
}

// Export converts a conversation to HTML format.
func (e *HTMLExporter) Export(conv *model.Conversation) ([]byte, error) {
	if err := validate(conv); err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	sb.WriteString("<meta charset=\"UTF-8\">\n")
	sb.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
	fmt.Fprintf(&sb, "<title>%s</title>\n", html.EscapeString(conv.Title))
	fmt.Fprintf(&sb, "<meta name=\"generator\" content=\"%s\">\n", Generator)
	fmt.Fprintf(&sb, "<meta name=\"date\" content=\"%s\">\n", conv.CreatedAt.Format(time.RFC3339))
	sb.WriteString(pageCSS)
	sb.WriteString("</head>\n")
	fmt.Fprintf(&sb, "<body class=\"%s-theme\">\n<div class=\"container\">\n", e.options.Theme)

	if e.options.IncludeMetadata {
		e.renderHeader(&sb, conv)
	} else {
		fmt.Fprintf(&sb, "<header class=\"header\"><h1>%s</h1></header>\n", html.EscapeString(conv.Title))
	}

	sb.WriteString("<main class=\"conversation\">\n")
	for i := range conv.Messages {
		e.renderMessage(&sb, &conv.Messages[i])
	}
	sb.WriteString("</main>\n")

	fmt.Fprintf(&sb, "<footer class=\"footer\">Exported from <strong>JarvisChat</strong> on %s</footer>\n",
		e.now().Format("January 2, 2006 at 3:04 PM"))
	sb.WriteString("</div>\n</body>\n</html>\n")

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for HTML.
func (e *HTMLExporter) FileExtension() string {
	return ".html"
}

// MimeType returns the MIME type for HTML.
func (e *HTMLExporter) MimeType() string {
	return "text/html"
}

// =============================================================================
// RENDERING FUNCTIONS
// =============================================================================

func (e *HTMLExporter) renderHeader(sb *strings.Builder, conv *model.Conversation) {
	sb.WriteString("<header class=\"header\">\n")
	fmt.Fprintf(sb, "<h1>%s</h1>\n<div class=\"metadata\">\n", html.EscapeString(conv.Title))
	if conv.Model != "" {
		fmt.Fprintf(sb, "<span class=\"meta-item\"><strong>Model:</strong> %s</span>\n", html.EscapeString(conv.Model))
	}
	fmt.Fprintf(sb, "<span class=\"meta-item\"><strong>Created:</strong> %s</span>\n", formatTimestamp(conv.CreatedAt))
	fmt.Fprintf(sb, "<span class=\"meta-item\"><strong>Messages:</strong> %d</span>\n", len(conv.Messages))
	sb.WriteString("</div>\n</header>\n")
}

func (e *HTMLExporter) renderMessage(sb *strings.Builder, msg *model.Message) {
	fmt.Fprintf(sb, "<div class=\"message %s-message\">\n<div class=\"message-header\">\n", html.EscapeString(strings.ToLower(string(msg.Role))))
	fmt.Fprintf(sb, "<span class=\"role-label\">%s</span>\n", html.EscapeString(roleLabel(msg.Role)))
	if e.options.IncludeTimestamps {
		fmt.Fprintf(sb, "<span class=\"timestamp\">%s</span>\n", formatShortTimestamp(msg.CreatedAt))
	}
	sb.WriteString("</div>\n<div class=\"message-content\">\n")
	sb.WriteString(e.formatContent(msg.Content))
	sb.WriteString("</div>\n")

	if e.options.IncludeMetadata {
		if meta := messageMeta(msg); len(meta) > 0 {
			sb.WriteString("<div class=\"message-stats\">")
			for _, m := range meta {
				fmt.Fprintf(sb, "<span class=\"stat\">%s</span>", html.EscapeString(m))
			}
			sb.WriteString("</div>\n")
		}
	}
	sb.WriteString("</div>\n")
}

// =============================================================================
// CONTENT FORMATTING
// =============================================================================

// formatContent renders fenced code blocks through chroma and the prose
// between them as escaped paragraphs.
func (e *HTMLExporter) formatContent(content string) string {
	var sb strings.Builder
	last := 0
	for _, loc := range codeBlockRegex.FindAllStringSubmatchIndex(content, -1) {
		sb.WriteString(formatProse(content[last:loc[0]]))
		lang := strings.TrimSpace(content[loc[2]:loc[3]])
		code := content[loc[4]:loc[5]]
		sb.WriteString(e.renderCodeBlock(lang, code))
		last = loc[1]
	}
	sb.WriteString(formatProse(content[last:]))
	return sb.String()
}

func (e *HTMLExporter) renderCodeBlock(lang, code string) string {
	var sb strings.Builder
	sb.WriteString("<div class=\"code-block\">")
	if lang != "" {
		fmt.Fprintf(&sb, "<div class=\"code-lang\">%s</div>", html.EscapeString(lang))
	}
	sb.WriteString(e.highlight(strings.TrimRight(code, "\n"), lang))
	sb.WriteString("</div>\n")
	return sb.String()
}

// highlight applies syntax highlighting; it falls back to escaped plain text.
func (e *HTMLExporter) highlight(code, lang string) string {
	plain := "<pre><code>" + html.EscapeString(code) + "</code></pre>"

	lexer := lexers.Get(lang)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		return plain
	}
	lexer = chroma.Coalesce(lexer)

	styleName := "monokai"
	if e.options.Theme == "light" {
		styleName = "github"
	}
	style := chromaStyles.Get(styleName)
	if style == nil {
		style = chromaStyles.Fallback
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return plain
	}
	var buf bytes.Buffer
	if err := chromahtml.New(chromahtml.TabWidth(4)).Format(&buf, style, iterator); err != nil {
		return plain
	}
	return buf.String()
}

// formatProse escapes text and turns blank-line separated blocks into
// paragraphs with line breaks.
func formatProse(text string) string {
	text = strings.Trim(text, "\n")
	if strings.TrimSpace(text) == "" {
		return ""
	}
	var sb strings.Builder
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		escaped := html.EscapeString(para)
		escaped = inlineCodeRegex.ReplaceAllString(escaped, "<code class=\"inline-code\">$1</code>")
		sb.WriteString("<p>")
		sb.WriteString(strings.ReplaceAll(escaped, "\n", "<br>\n"))
		sb.WriteString("</p>\n")
	}
	return sb.String()
}

// =============================================================================
// EMBEDDED CSS
// =============================================================================

const pageCSS = `<style>
:root { --font-mono: "SF Mono", Menlo, Consolas, monospace; }
.dark-theme { --bg: #0d1117; --panel: #161b22; --text: #e6edf3; --muted: #8b949e; --border: #30363d; --user: #1f6feb22; --assistant: #23863622; }
.light-theme { --bg: #f6f8fa; --panel: #ffffff; --text: #1f2328; --muted: #656d76; --border: #d0d7de; --user: #ddf4ff; --assistant: #dafbe1; }
* { box-sizing: border-box; }
body { margin: 0; padding: 24px; background: var(--bg); color: var(--text); font: 16px/1.6 -apple-system, "Segoe UI", Roboto, sans-serif; }
.container { max-width: 920px; margin: 0 auto; background: var(--panel); border: 1px solid var(--border); border-radius: 12px; overflow: hidden; }
.header { padding: 24px 32px; border-bottom: 1px solid var(--border); }
.header h1 { margin: 0 0 8px; font-size: 24px; }
.metadata { display: flex; flex-wrap: wrap; gap: 16px; color: var(--muted); font-size: 14px; }
.conversation { padding: 24px 32px; }
.message { margin-bottom: 20px; padding: 16px 20px; border: 1px solid var(--border); border-radius: 8px; }
.user-message { background: var(--user); }
.assistant-message { background: var(--assistant); }
.message-header { display: flex; justify-content: space-between; margin-bottom: 8px; font-weight: 600; }
.timestamp { color: var(--muted); font-weight: 400; font-size: 13px; }
.message-content p { margin: 0 0 12px; }
.code-block { margin: 12px 0; border: 1px solid var(--border); border-radius: 8px; overflow: hidden; }
.code-lang { padding: 4px 12px; font-size: 12px; text-transform: uppercase; color: var(--muted); border-bottom: 1px solid var(--border); }
.code-block pre { margin: 0; padding: 12px 16px; overflow-x: auto; font-family: var(--font-mono); font-size: 14px; }
.inline-code { font-family: var(--font-mono); font-size: 14px; padding: 1px 5px; border: 1px solid var(--border); border-radius: 4px; }
.message-stats { margin-top: 8px; display: flex; gap: 16px; font-size: 13px; color: var(--muted); }
.footer { padding: 16px 32px; text-align: center; font-size: 14px; color: var(--muted); border-top: 1px solid var(--border); }
@media print { body { padding: 0; } .message { page-break-inside: avoid; } }
</style>
`
