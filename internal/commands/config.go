package commands

import (
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/diogo/kiki/internal/config"
)

func newConfigCmd(deps *Dependencies, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		Long: `Show the configuration after env files, the config file, environment
variables and flags have been applied. The API key is never printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			fmt.Fprint(deps.Stdout, formatConfig(cfg))
			return nil
		},
	}
}

func formatConfig(cfg *config.Config) string {
	section := lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
	key := lipgloss.NewStyle().Foreground(colorTextDim)

	line := func(k string, v any) string {
		return fmt.Sprintf("  %s %v\n", key.Render(fmt.Sprintf("%-22s", k)), v)
	}

	apiKey := "not set"
	if cfg.Upstream.APIKey != "" {
		apiKey = "set"
	}
	model := cfg.Client.Model
	if model == "" {
		model = "auto"
	}

	out := section.Render("Relay") + "\n"
	out += line("env", cfg.Env)
	out += line("listen", cfg.Server.Addr())
	out += line("rate limit", fmt.Sprintf("%g/s burst %d", cfg.Server.RateLimit, cfg.Server.RateBurst))
	out += line("upstream", cfg.Upstream.BaseURL)
	out += line("api key", apiKey)
	out += line("mock data", cfg.MockData())

	out += "\n" + section.Render("Client") + "\n"
	out += line("relay url", cfg.Client.RelayURL)
	out += line("model", model)
	out += line("retries", cfg.Client.Retry.MaxRetries)
	out += line("image retries", cfg.Images.Retry.MaxRetries)
	out += line("copy to clipboard", cfg.Client.CopyToClipboard)

	out += "\n" + section.Render("Logging") + "\n"
	out += line("level", cfg.Log.Level)
	out += line("format", cfg.Log.Format)
	out += line("output", cfg.Log.Output)

	if dir, err := config.GetConfigDir(); err == nil {
		out += "\n" + section.Render("Paths") + "\n"
		out += line("config dir", dir)
		out += line("client log", filepath.Join(dir, LogFileName))
		out += line("exports", filepath.Join(dir, "exports"))
	}
	return out
}
