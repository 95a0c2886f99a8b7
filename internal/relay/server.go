package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/config"
	"github.com/cloudwego/hertz/pkg/common/hlog"

	kikiconfig "github.com/diogo/kiki/internal/config"
	"github.com/diogo/kiki/internal/logger"
	"github.com/diogo/kiki/internal/models"
)

// ShutdownTimeout bounds graceful shutdown.
const ShutdownTimeout = 30 * time.Second

// Server is the relay HTTP server.
type Server struct {
	h      *server.Hertz
	addr   string
	logger *slog.Logger
}

// NewServer wires the handler and middleware into a hertz server.
func NewServer(cfg kikiconfig.ServerConfig, handler *Handler, log *slog.Logger, extra ...config.Option) *Server {
	hlog.SetLogger(logger.NewHertzAdapter(log))

	opts := []config.Option{
		server.WithHostPorts(cfg.Addr()),
		server.WithReadTimeout(cfg.ReadTimeout),
		server.WithWriteTimeout(cfg.WriteTimeout),
		server.WithMaxRequestBodySize(cfg.MaxRequestBodySize),
		server.WithExitWaitTime(ShutdownTimeout),
	}
	h := server.New(append(opts, extra...)...)

	h.Use(Recovery(log), RequestLogger(log), CORS(cfg.CORSOrigins))
	if cfg.RateLimit > 0 {
		h.Use(onlyAPI(RateLimit(NewRateLimiter(cfg.RateLimit, cfg.RateBurst))))
	}
	Register(h, handler)

	return &Server{h: h, addr: cfg.Addr(), logger: log}
}

// Register mounts the relay routes.
func Register(h *server.Hertz, handler *Handler) {
	h.GET(models.PathHealth, handler.Health)

	h.POST(models.PathChat, handler.Chat)
	h.POST(models.PathVision, handler.Vision)
	h.POST(models.PathImage, handler.Image)
	h.POST(models.PathImageGenerate, handler.GenerateImage)
	h.POST(models.PathImageUpload, handler.Upload)
	h.GET(models.PathModels, handler.Models)
}

// Hertz exposes the underlying engine.
func (s *Server) Hertz() *server.Hertz { return s.h }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("relay listening", "address", s.addr)
		errCh <- s.h.Run()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down relay")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := s.h.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	s.logger.Info("relay stopped")
	return nil
}

// FromConfig builds the upstream client and handler for cfg.
func FromConfig(cfg *kikiconfig.Config, log *slog.Logger) *Server {
	upstream := NewOpenAIUpstream(UpstreamOptions{
		BaseURL:    cfg.Upstream.BaseURL,
		APIKey:     cfg.Upstream.APIKey,
		Timeout:    cfg.Upstream.Timeout,
		MaxRetries: cfg.Upstream.MaxRetries,
	})
	opts := DefaultOptions()
	opts.KeyConfigured = cfg.Upstream.APIKey != ""
	opts.MockData = cfg.MockData()
	opts.DefaultModel = cfg.Upstream.DefaultModel
	opts.ImageRetries = cfg.Images.Retry.MaxRetries

	if opts.MockData {
		log.Warn("no upstream API key configured, serving placeholder data")
	}
	return NewServer(cfg.Server, NewHandler(upstream, opts, log), log)
}
