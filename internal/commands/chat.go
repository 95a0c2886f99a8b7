package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/diogo/kiki/internal/config"
	"github.com/diogo/kiki/internal/render"
	"github.com/diogo/kiki/internal/tui"
)

func newChatCmd(deps *Dependencies, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long: `Start an interactive chat session through the relay.

Type /help inside the chat for commands. /imagine <prompt> generates an
image, /attach <path> adds an image to the next message and /export saves
the conversation. Press Esc to cancel a request, Ctrl+C to quit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(deps, opts)
		},
	}
}

func runChat(deps *Dependencies, opts *rootOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	s, err := newSession(cfg, deps)
	if err != nil {
		return err
	}
	defer s.Close()

	dir, err := config.GetConfigDir()
	if err != nil {
		return err
	}

	s.logger.Info("chat started", "relay", s.client.BaseURL())
	if err := deps.TUI.RunChat(tui.Config{
		Controller: s.ctrl,
		Uploader:   s.client,
		Catalog:    s.router,
		Normalizer: s.norm,
		Clipboard:  deps.Clipboard,
		ExportDir:  filepath.Join(dir, "exports"),
		Render:     render.FromConfig(cfg.Markdown),
		Logger:     s.logger,
	}); err != nil {
		return fmt.Errorf("chat: %w", err)
	}
	return nil
}
