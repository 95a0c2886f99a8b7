package commands

import (
	"io"
	"os"

	"github.com/diogo/kiki/internal/export"
	"github.com/diogo/kiki/internal/fetch"
	"github.com/diogo/kiki/internal/tui"
)

// TUIInterface defines the methods required from the TUI package.
type TUIInterface interface {
	RunChat(cfg tui.Config) error
}

// Dependencies holds the external dependencies for the commands.
// This allows for dependency injection and easier testing.
type Dependencies struct {
	// TUI is the terminal user interface.
	TUI TUIInterface

	// Doer replaces the TLS HTTP client used to reach the relay.
	Doer fetch.Doer

	// Sleeper replaces the wait between retries.
	Sleeper fetch.Sleeper

	Clipboard export.Clipboard

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// DefaultTUI is the production implementation of TUIInterface.
type DefaultTUI struct{}

func (DefaultTUI) RunChat(cfg tui.Config) error {
	return tui.RunChat(cfg)
}

// NewDependencies creates a new Dependencies struct with default implementations.
func NewDependencies() *Dependencies {
	return &Dependencies{
		TUI:       DefaultTUI{},
		Clipboard: export.SystemClipboard{},
		Stdin:     os.Stdin,
		Stdout:    os.Stdout,
		Stderr:    os.Stderr,
	}
}

func (d *Dependencies) withDefaults() *Dependencies {
	def := NewDependencies()
	if d == nil {
		return def
	}
	out := *d
	if out.TUI == nil {
		out.TUI = def.TUI
	}
	if out.Clipboard == nil {
		out.Clipboard = def.Clipboard
	}
	if out.Stdout == nil {
		out.Stdout = def.Stdout
	}
	if out.Stderr == nil {
		out.Stderr = def.Stderr
	}
	return &out
}
