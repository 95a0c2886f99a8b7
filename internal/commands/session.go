package commands

import (
	"io"
	"log/slog"
	"path/filepath"

	"github.com/diogo/kiki/internal/api"
	"github.com/diogo/kiki/internal/config"
	"github.com/diogo/kiki/internal/conversation"
	"github.com/diogo/kiki/internal/events"
	"github.com/diogo/kiki/internal/fetch"
	"github.com/diogo/kiki/internal/logger"
	"github.com/diogo/kiki/internal/normalize"
	"github.com/diogo/kiki/internal/router"
)

// LogFileName is the client log inside the config dir.
const LogFileName = "kiki.log"

// session bundles the client side of one conversation.
type session struct {
	cfg    *config.Config
	logger *slog.Logger
	closer io.Closer
	client *api.Client
	router *router.Router
	norm   *normalize.Normalizer
	ctrl   *conversation.Controller
}

// loadConfig loads env files, then the config file and environment, then
// applies the persistent flags.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	if _, err := config.LoadEnvFiles("."); err != nil {
		return nil, err
	}
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.relayURL != "" {
		cfg.Client.RelayURL = o.relayURL
	}
	if o.model != "" {
		cfg.Client.Model = o.model
	}
	return cfg, nil
}

// clientLogConfig sends client logs to a file unless a file is already
// configured, so they never interleave with terminal output.
func clientLogConfig(lc config.LogConfig) config.LogConfig {
	if lc.Output == "file" || lc.Output == "discard" {
		return lc
	}
	dir, err := config.EnsureConfigDir()
	if err != nil {
		lc.Output = "discard"
		return lc
	}
	lc.Output = "file"
	lc.FilePath = filepath.Join(dir, LogFileName)
	return lc
}

func newSession(cfg *config.Config, deps *Dependencies) (*session, error) {
	log, closer, err := logger.New(clientLogConfig(cfg.Log))
	if err != nil {
		return nil, err
	}

	fetchOpts := []fetch.Option{fetch.WithLogger(log)}
	if deps.Doer != nil {
		fetchOpts = append(fetchOpts, fetch.WithDoer(deps.Doer))
	}
	if deps.Sleeper != nil {
		fetchOpts = append(fetchOpts, fetch.WithSleeper(deps.Sleeper))
	}
	fc, err := fetch.NewClient(fetchOpts...)
	if err != nil {
		closer.Close()
		return nil, err
	}

	policy := cfg.Client.Retry.Policy()
	policy.ShouldRetryResponse = fetch.RetryOnServerError
	client, err := api.NewClient(cfg.Client.RelayURL,
		api.WithFetchClient(fc),
		api.WithPolicy(policy),
		api.WithLogger(log),
	)
	if err != nil {
		closer.Close()
		return nil, err
	}

	rt := router.New(client, log)
	norm := normalize.New(
		normalize.WithMockDetector(cfg.Images.Detector()),
		normalize.WithRewriteRules(cfg.Images.Rewrites),
	)
	ctrl := conversation.New(conversation.Deps{
		API:        client,
		Router:     rt,
		Normalizer: norm,
		Bus:        events.NewBus(),
		Logger:     log,
	}, conversation.Options{
		SystemPrompt:        cfg.Client.SystemPrompt,
		ImagePolicy:         cfg.Images.Retry.Policy(),
		AppendErrorMessages: cfg.Client.AppendErrorMessages,
	})
	if cfg.Client.Model != "" {
		ctrl.SelectModel(cfg.Client.Model)
	}

	log.Debug("session ready", "relay", client.BaseURL(), "model", cfg.Client.Model)
	return &session{
		cfg:    cfg,
		logger: log,
		closer: closer,
		client: client,
		router: rt,
		norm:   norm,
		ctrl:   ctrl,
	}, nil
}

func (s *session) Close() error {
	return s.closer.Close()
}
