// Package export renders a conversation transcript for saving or copying.
package export

import (
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/diogo/kiki/internal/models"
)

// Format is a transcript output format.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatHTML     Format = "html"
)

// Formats lists the supported formats.
func Formats() []Format {
	return []Format{FormatText, FormatMarkdown, FormatJSON, FormatHTML}
}

// ParseFormat accepts a format name or a common file extension.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "", "md", "markdown":
		return FormatMarkdown, nil
	case "txt", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "html", "htm":
		return FormatHTML, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

// Ext returns the file extension for f, with the dot.
func (f Format) Ext() string {
	switch f {
	case FormatText:
		return ".txt"
	case FormatJSON:
		return ".json"
	case FormatHTML:
		return ".html"
	default:
		return ".md"
	}
}

// Options configures an export.
type Options struct {
	Title string
	Model string
	// IncludeSystem keeps the system prompt in the transcript.
	IncludeSystem bool
	Now           time.Time
}

// DefaultOptions returns the default export options.
func DefaultOptions() Options {
	return Options{Title: "Chat Export", Now: time.Now()}
}

// visible drops the system prompt and in-flight placeholders.
func visible(msgs []models.Message, includeSystem bool) []models.Message {
	out := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.IsGenerating {
			continue
		}
		if m.Role == models.RoleSystem && !includeSystem {
			continue
		}
		out = append(out, m)
	}
	return out
}

func speaker(r models.Role) string {
	switch r {
	case models.RoleUser:
		return "You"
	case models.RoleSystem:
		return "System"
	default:
		return "Assistant"
	}
}

// Text renders "You: ..." / "Assistant: ..." paragraphs.
func Text(msgs []models.Message, opts Options) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range visible(msgs, opts.IncludeSystem) {
		parts = append(parts, speaker(m.Role)+": "+m.Content)
	}
	return strings.Join(parts, "\n\n")
}

// Markdown renders a transcript with a header and one section per message.
func Markdown(msgs []models.Message, opts Options) string {
	shown := visible(msgs, opts.IncludeSystem)

	var sb strings.Builder
	sb.WriteString("# ")
	sb.WriteString(opts.Title)
	sb.WriteString("\n\n")
	if opts.Model != "" {
		fmt.Fprintf(&sb, "**Model:** %s\n", opts.Model)
	}
	fmt.Fprintf(&sb, "**Exported:** %s\n", opts.Now.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&sb, "**Messages:** %d\n\n---\n\n", len(shown))

	for i, m := range shown {
		sb.WriteString("## ")
		sb.WriteString(speaker(m.Role))
		if !m.CreatedAt.IsZero() {
			sb.WriteString(" (")
			sb.WriteString(m.CreatedAt.Format("15:04:05"))
			sb.WriteString(")")
		}
		sb.WriteString("\n\n")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
		if i < len(shown)-1 {
			sb.WriteString("\n---\n\n")
		}
	}
	return sb.String()
}

type jsonMessage struct {
	ID        string      `json:"id"`
	Role      models.Role `json:"role"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at,omitzero"`
}

type jsonTranscript struct {
	Title      string        `json:"title"`
	Model      string        `json:"model,omitempty"`
	ExportedAt time.Time     `json:"exported_at"`
	Messages   []jsonMessage `json:"messages"`
}

// JSON renders the transcript as indented JSON.
func JSON(msgs []models.Message, opts Options) ([]byte, error) {
	shown := visible(msgs, opts.IncludeSystem)
	out := jsonTranscript{
		Title:      opts.Title,
		Model:      opts.Model,
		ExportedAt: opts.Now,
		Messages:   make([]jsonMessage, len(shown)),
	}
	for i, m := range shown {
		out.Messages[i] = jsonMessage{ID: m.ID, Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt}
	}
	return json.MarshalIndent(out, "", "  ")
}

var htmlTemplate = template.Must(template.New("chat").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: Arial, sans-serif; max-width: 800px; margin: 0 auto; padding: 20px; }
.message { margin-bottom: 20px; padding: 15px; border-radius: 10px; white-space: pre-wrap; }
.user { background-color: #f0f0f0; margin-left: 50px; }
.assistant { background-color: #f9f9f9; margin-right: 50px; }
h4 { margin-top: 0; color: #555; }
</style>
</head>
<body>
<h2>{{.Title}} - {{.Exported}}</h2>
{{range .Messages}}<div class="message {{.Role}}">
<h4>{{.Speaker}}</h4>
<div>{{.Content}}</div>
</div>
{{end}}</body>
</html>
`))

// HTML renders a printable page. Content is escaped.
func HTML(msgs []models.Message, opts Options) (string, error) {
	type item struct {
		Role    string
		Speaker string
		Content string
	}
	data := struct {
		Title    string
		Exported string
		Messages []item
	}{Title: opts.Title, Exported: opts.Now.Format("2006-01-02 15:04:05")}
	for _, m := range visible(msgs, opts.IncludeSystem) {
		data.Messages = append(data.Messages, item{Role: string(m.Role), Speaker: speaker(m.Role), Content: m.Content})
	}

	var sb strings.Builder
	if err := htmlTemplate.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Render renders msgs in format f.
func Render(f Format, msgs []models.Message, opts Options) ([]byte, error) {
	switch f {
	case FormatText:
		return []byte(Text(msgs, opts)), nil
	case FormatMarkdown:
		return []byte(Markdown(msgs, opts)), nil
	case FormatJSON:
		return JSON(msgs, opts)
	case FormatHTML:
		s, err := HTML(msgs, opts)
		return []byte(s), err
	}
	return nil, fmt.Errorf("unknown export format %q", f)
}

// FileName returns a timestamped file name for an export.
func FileName(f Format, now time.Time) string {
	return "chat-" + now.Format("20060102-150405") + f.Ext()
}

// WriteFile renders msgs into dir and returns the written path.
func WriteFile(dir string, f Format, msgs []models.Message, opts Options) (string, error) {
	data, err := Render(f, msgs, opts)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}
	path := filepath.Join(dir, FileName(f, opts.Now))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write export: %w", err)
	}
	return path, nil
}
