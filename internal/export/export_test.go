package export

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/diogo/kiki/internal/models"
)

var fixedNow = time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

func sampleMessages() []models.Message {
	return []models.Message{
		models.SystemMessage(""),
		models.NewMessage(models.RoleUser, "Hello", fixedNow),
		models.NewMessage(models.RoleAssistant, "Hi <b>there</b>", fixedNow.Add(time.Second)),
		{ID: "pending", Role: models.RoleAssistant, Content: "Thinking...", IsGenerating: true},
	}
}

func testOptions() Options {
	return Options{Title: "Chat Export", Model: "gpt-4o", Now: fixedNow}
}

func TestText(t *testing.T) {
	got := Text(sampleMessages(), Options{})
	want := "You: Hello\n\nAssistant: Hi <b>there</b>"
	if got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}

	withSystem := Text(sampleMessages(), Options{IncludeSystem: true})
	if !strings.HasPrefix(withSystem, "System: ") {
		t.Errorf("IncludeSystem not honored: %q", withSystem)
	}
}

func TestMarkdown(t *testing.T) {
	got := Markdown(sampleMessages(), testOptions())

	for _, want := range []string{
		"# Chat Export",
		"**Model:** gpt-4o",
		"**Exported:** 2024-03-01 12:30:00",
		"**Messages:** 2",
		"## You (12:30:00)\n\nHello",
		"## Assistant (12:30:01)\n\nHi <b>there</b>",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Markdown() missing %q\n%s", want, got)
		}
	}
	if strings.Contains(got, "Thinking...") || strings.Contains(got, models.DefaultSystemText) {
		t.Error("Markdown() should skip system and generating messages")
	}
	if strings.Count(got, "---") != 2 {
		t.Errorf("expected header separator plus one between messages, got %d", strings.Count(got, "---"))
	}
}

func TestJSON(t *testing.T) {
	data, err := JSON(sampleMessages(), testOptions())
	if err != nil {
		t.Fatalf("JSON() error = %v", err)
	}
	var out struct {
		Title    string `json:"title"`
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if out.Title != "Chat Export" || out.Model != "gpt-4o" {
		t.Errorf("metadata = %+v", out)
	}
	if len(out.Messages) != 2 || out.Messages[0].Role != "user" || out.Messages[1].Content != "Hi <b>there</b>" {
		t.Errorf("messages = %+v", out.Messages)
	}
}

func TestHTMLEscapes(t *testing.T) {
	got, err := HTML(sampleMessages(), testOptions())
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(got, "<b>there</b>") {
		t.Error("message content not escaped")
	}
	if !strings.Contains(got, `class="message user"`) || !strings.Contains(got, "<h4>Assistant</h4>") {
		t.Errorf("unexpected HTML:\n%s", got)
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatMarkdown, false},
		{"md", FormatMarkdown, false},
		{".json", FormatJSON, false},
		{"TXT", FormatText, false},
		{"htm", FormatHTML, false},
		{"pdf", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFormat(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRenderAllFormats(t *testing.T) {
	for _, f := range Formats() {
		data, err := Render(f, sampleMessages(), testOptions())
		if err != nil {
			t.Errorf("Render(%s) error = %v", f, err)
		}
		if len(data) == 0 {
			t.Errorf("Render(%s) is empty", f)
		}
	}
	if _, err := Render("pdf", nil, testOptions()); err == nil {
		t.Error("Render(pdf) should fail")
	}
}

func TestWriteFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	path, err := WriteFile(dir, FormatMarkdown, sampleMessages(), testOptions())
	if err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if filepath.Base(path) != "chat-20240301-123000.md" {
		t.Errorf("path = %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "# Chat Export") {
		t.Errorf("content = %q", data)
	}
}

type fakeClipboard struct {
	text string
	err  error
}

func (f *fakeClipboard) WriteAll(text string) error {
	if f.err != nil {
		return f.err
	}
	f.text = text
	return nil
}

func TestCopyTranscript(t *testing.T) {
	cb := &fakeClipboard{}
	if err := CopyTranscript(cb, sampleMessages()); err != nil {
		t.Fatal(err)
	}
	if cb.text != "You: Hello\n\nAssistant: Hi <b>there</b>" {
		t.Errorf("copied %q", cb.text)
	}

	if err := CopyTranscript(cb, []models.Message{models.SystemMessage("")}); !errors.Is(err, ErrNothingToCopy) {
		t.Errorf("err = %v, want ErrNothingToCopy", err)
	}

	failing := &fakeClipboard{err: errors.New("no display")}
	if err := CopyTranscript(failing, sampleMessages()); err == nil || !strings.Contains(err.Error(), "no display") {
		t.Errorf("err = %v", err)
	}
}

func TestCopyLastReply(t *testing.T) {
	cb := &fakeClipboard{}
	if err := CopyLastReply(cb, sampleMessages()); err != nil {
		t.Fatal(err)
	}
	if cb.text != "Hi <b>there</b>" {
		t.Errorf("copied %q", cb.text)
	}
	if err := CopyLastReply(cb, sampleMessages()[:2]); !errors.Is(err, ErrNothingToCopy) {
		t.Errorf("err = %v", err)
	}
}
