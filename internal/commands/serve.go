package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/diogo/kiki/internal/logger"
	"github.com/diogo/kiki/internal/relay"
)

func newServeCmd(deps *Dependencies, opts *rootOptions) *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		Long: `Run the HTTP relay that forwards chat, vision and image requests to the
upstream API. The API key is read from OPENAI_API_KEY, REDBUILDER_API_KEY
or the config file. Without a key in development the relay serves
placeholder data.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			log, closer, err := logger.New(cfg.Log)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log.Info("starting relay", "env", cfg.Env, "upstream", cfg.Upstream.BaseURL, "key_configured", cfg.Upstream.APIKey != "")
			return relay.FromConfig(cfg, log).Run(ctx)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "Listen address (default 0.0.0.0)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Listen port (default 3000)")
	return cmd
}
