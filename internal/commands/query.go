package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	apierrors "github.com/diogo/kiki/internal/errors"
	"github.com/diogo/kiki/internal/models"
	"github.com/diogo/kiki/internal/render"
	"github.com/diogo/kiki/internal/router"
)

// Gradient colors for animation
var gradientColors = []lipgloss.Color{
	lipgloss.Color("#ff6b6b"), // Red
	lipgloss.Color("#feca57"), // Yellow
	lipgloss.Color("#48dbfb"), // Cyan
	lipgloss.Color("#ff9ff3"), // Pink
	lipgloss.Color("#54a0ff"), // Blue
	lipgloss.Color("#5f27cd"), // Purple
	lipgloss.Color("#00d2d3"), // Teal
	lipgloss.Color("#1dd1a1"), // Green
}

var (
	colorText     = lipgloss.Color("#c0caf5")
	colorTextDim  = lipgloss.Color("#565f89")
	colorTextMute = lipgloss.Color("#3b4261")
	colorSuccess  = lipgloss.Color("#9ece6a")
	colorPrimary  = lipgloss.Color("#7aa2f7")
	colorError    = lipgloss.Color("#f7768e")
)

// Styles matching the chat TUI
var (
	assistantLabelStyle = lipgloss.NewStyle().
				Foreground(colorPrimary).
				Bold(true)

	assistantBubbleStyle = lipgloss.NewStyle().
				BorderStyle(lipgloss.RoundedBorder()).
				BorderForeground(colorPrimary).
				Foreground(colorText).
				Padding(0, 1).
				MarginTop(1).
				MarginBottom(1)
)

// spinner handles the animated loading indicator
type spinner struct {
	out     io.Writer
	message string
	stop    chan struct{}
	done    chan struct{}
	mu      sync.Mutex
	frame   int
	stopped bool
}

func newSpinner(out io.Writer, message string) *spinner {
	return &spinner{
		out:     out,
		message: message,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (s *spinner) start() {
	go func() {
		defer close(s.done)

		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()

		// Hide cursor
		fmt.Fprint(s.out, "\033[?25l")

		for {
			select {
			case <-s.stop:
				fmt.Fprint(s.out, "\r\033[K\033[?25h")
				return
			case <-ticker.C:
				s.mu.Lock()
				s.render()
				s.frame++
				s.mu.Unlock()
			}
		}
	}()
}

func (s *spinner) render() {
	chars := []string{"⣾", "⣽", "⣻", "⢿", "⡿", "⣟", "⣯", "⣷"}
	barChars := []string{"█", "█", "█", "█", "█", "█", "▓", "▒", "░"}

	spinColor := gradientColors[s.frame%len(gradientColors)]
	spinnerChar := lipgloss.NewStyle().Foreground(spinColor).Bold(true).Render(chars[s.frame%len(chars)])

	barWidth := 16
	var bar strings.Builder
	for i := 0; i < barWidth; i++ {
		colorIdx := (i + s.frame) % len(gradientColors)
		charIdx := (i + s.frame/2) % len(barChars)
		bar.WriteString(lipgloss.NewStyle().Foreground(gradientColors[colorIdx]).Render(barChars[charIdx]))
	}

	var dots strings.Builder
	numDots := (s.frame / 3) % 4
	for i := 0; i < 3; i++ {
		if i < numDots {
			dotColor := gradientColors[(s.frame+i)%len(gradientColors)]
			dots.WriteString(lipgloss.NewStyle().Foreground(dotColor).Render("●"))
		} else {
			dots.WriteString(lipgloss.NewStyle().Foreground(colorTextMute).Render("○"))
		}
	}

	msg := lipgloss.NewStyle().Foreground(colorText).Render(s.message)
	fmt.Fprintf(s.out, "\r\033[K%s %s %s %s", spinnerChar, bar.String(), msg, dots.String())
}

// stopOnce safely closes the stop channel only once
func (s *spinner) stopOnce() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		close(s.stop)
		s.stopped = true
	}
}

func (s *spinner) stopWithSuccess(message string) {
	s.stopOnce()
	<-s.done

	checkmark := lipgloss.NewStyle().Foreground(colorSuccess).Bold(true).Render("✓")
	msg := lipgloss.NewStyle().Foreground(colorSuccess).Render(message)
	fmt.Fprintf(s.out, "%s %s\n", checkmark, msg)
}

func (s *spinner) stopWithError() {
	s.stopOnce()
	<-s.done
}

// progress wraps the spinner so quiet runs skip it.
type progress struct {
	out   io.Writer
	quiet bool
	spin  *spinner
}

func (p *progress) start(message string) {
	if p.quiet {
		return
	}
	p.spin = newSpinner(p.out, message)
	p.spin.start()
}

func (p *progress) success(message string) {
	if p.spin != nil {
		p.spin.stopWithSuccess(message)
		p.spin = nil
	}
}

func (p *progress) fail(err error, context string) {
	if p.spin != nil {
		p.spin.stopWithError()
		p.spin = nil
	}
	if !p.quiet {
		fmt.Fprintln(p.out, formatErrorMessage(err, context))
	}
}

// runQuery sends a single prompt through a fresh conversation and prints
// the reply. Output is plain text when stdout is not a terminal.
func runQuery(ctx context.Context, deps *Dependencies, opts *rootOptions, prompt string) error {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" && opts.image == "" {
		return fmt.Errorf("prompt cannot be empty")
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	s, err := newSession(cfg, deps)
	if err != nil {
		return err
	}
	defer s.Close()

	rawOutput := opts.raw || !isTerminal(deps.Stdout)
	prog := &progress{out: deps.Stderr, quiet: rawOutput}

	if opts.image != "" {
		prog.start("Uploading image")
		data, err := s.client.UploadFile(ctx, opts.image)
		var url string
		if err == nil {
			url, err = s.norm.UploadURL(data)
		}
		if err != nil {
			prog.fail(err, "Failed to upload image")
			return fmt.Errorf("failed to upload image: %w", err)
		}
		s.ctrl.AttachImage(url)
		prog.success("Image uploaded")
	}

	if _, isImage := router.ParseImageCommand(prompt); isImage {
		prog.start("Generating image")
	} else {
		prog.start("Waiting for reply")
	}

	startTime := time.Now()
	s.ctrl.SetInput(prompt)
	err = s.ctrl.Submit(ctx)
	s.logger.Info("query finished", "duration", time.Since(startTime).Round(time.Millisecond), "error", err)
	if err != nil {
		prog.fail(err, "Request failed")
		return fmt.Errorf("request failed: %w", err)
	}
	prog.success("Done")

	text := lastReply(s.ctrl.Messages())

	if rawOutput {
		if opts.output != "" {
			if err := os.WriteFile(opts.output, []byte(text), 0o644); err != nil {
				return fmt.Errorf("failed to write output file: %w", err)
			}
			return nil
		}
		fmt.Fprint(deps.Stdout, text)
		if !strings.HasSuffix(text, "\n") {
			fmt.Fprintln(deps.Stdout)
		}
		return nil
	}

	fmt.Fprintln(deps.Stderr)

	if cfg.Client.CopyToClipboard {
		if err := deps.Clipboard.WriteAll(text); err != nil {
			fmt.Fprintln(deps.Stderr, lipgloss.NewStyle().Foreground(colorError).Render(
				fmt.Sprintf("⚠ Failed to copy to clipboard: %v", err),
			))
		} else {
			fmt.Fprintln(deps.Stderr, lipgloss.NewStyle().Foreground(colorSuccess).Render("✓ Copied to clipboard"))
		}
	}

	if opts.output != "" {
		if err := os.WriteFile(opts.output, []byte(text), 0o644); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		fmt.Fprintln(deps.Stderr, lipgloss.NewStyle().Foreground(colorSuccess).Render(
			fmt.Sprintf("✓ Response saved to %s", opts.output),
		))
		return nil
	}

	bubbleWidth := min(max(getTerminalWidth(deps.Stdout)-4, 40), 120)
	contentWidth := bubbleWidth - 4

	fmt.Fprintln(deps.Stdout, assistantLabelStyle.Render("✦ "+displayModel(s.ctrl.SelectedModel())))
	rendered := render.Message(text, render.FromConfig(cfg.Markdown).WithWidth(contentWidth))
	fmt.Fprintln(deps.Stdout, assistantBubbleStyle.Width(bubbleWidth).Render(rendered))
	return nil
}

// lastReply returns the content of the newest assistant message.
func lastReply(msgs []models.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == models.RoleAssistant {
			return msgs[i].Content
		}
	}
	return ""
}

func displayModel(id string) string {
	if id == "" {
		return "Assistant"
	}
	return models.ShortName(id)
}

// getTerminalWidth returns the terminal width or a default value
func getTerminalWidth(w io.Writer) int {
	if f, ok := w.(*os.File); ok {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
			return width
		}
	}
	return 80
}

// isTerminal reports whether w is a terminal
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// formatErrorMessage formats an error with additional context from structured errors
func formatErrorMessage(err error, context string) string {
	if err == nil {
		return ""
	}

	errorStyle := lipgloss.NewStyle().Foreground(colorError)
	dimStyle := lipgloss.NewStyle().Foreground(colorTextDim)

	var sb strings.Builder
	sb.WriteString(errorStyle.Render(fmt.Sprintf("✗ %s: %v", context, err)))

	if status := apierrors.GetHTTPStatus(err); status > 0 {
		sb.WriteString(dimStyle.Render(fmt.Sprintf("\n  HTTP Status: %d", status)))
	}
	if typ := apierrors.ErrorType(err); typ != "" && typ != apierrors.TypeInternal {
		sb.WriteString(dimStyle.Render(fmt.Sprintf("\n  Error Type: %s", typ)))
	}

	switch {
	case apierrors.IsConfigurationError(err):
		sb.WriteString(dimStyle.Render("\n  Hint: The relay has no upstream API key. Set OPENAI_API_KEY and restart 'kiki serve'"))
	case apierrors.GetHTTPStatus(err) == 429:
		sb.WriteString(dimStyle.Render("\n  Hint: Too many requests. Try again in a moment"))
	case apierrors.IsTimeoutError(err):
		sb.WriteString(dimStyle.Render("\n  Hint: Request timed out. Try again"))
	case apierrors.IsTransportError(err):
		sb.WriteString(dimStyle.Render("\n  Hint: Is the relay running? Start it with 'kiki serve' or pass --relay"))
	}

	return sb.String()
}
