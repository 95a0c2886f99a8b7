// Package config loads kiki settings from defaults, an optional config file,
// env files and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	apierrors "github.com/diogo/kiki/internal/errors"
	"github.com/diogo/kiki/internal/fetch"
	"github.com/diogo/kiki/internal/models"
	"github.com/diogo/kiki/internal/normalize"
)

// EnvPrefix prefixes every environment override, e.g. KIKI_SERVER_PORT.
const EnvPrefix = "KIKI"

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config is the full application configuration.
type Config struct {
	Env      string         `mapstructure:"env"`
	Server   ServerConfig   `mapstructure:"server"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Client   ClientConfig   `mapstructure:"client"`
	Images   ImagesConfig   `mapstructure:"images"`
	Log      LogConfig      `mapstructure:"log"`
	Markdown MarkdownConfig `mapstructure:"markdown"`
}

// ServerConfig configures the relay HTTP server.
type ServerConfig struct {
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	MaxRequestBodySize int           `mapstructure:"max_request_body_size"`
	// RateLimit is requests per second per client IP. Zero disables limiting.
	RateLimit   float64  `mapstructure:"rate_limit"`
	RateBurst   int      `mapstructure:"rate_burst"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// UpstreamConfig configures the OpenAI-compatible backend the relay forwards to.
type UpstreamConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DefaultModel string        `mapstructure:"default_model"`
}

// RetryConfig mirrors fetch.Policy in a decodable form.
type RetryConfig struct {
	MaxRetries     int           `mapstructure:"max_retries"`
	InitialDelay   time.Duration `mapstructure:"initial_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	BackoffFactor  float64       `mapstructure:"backoff_factor"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
}

// Policy converts the config to a retry policy without predicates.
func (r RetryConfig) Policy() fetch.Policy {
	return fetch.Policy{
		MaxRetries:     r.MaxRetries,
		InitialDelay:   r.InitialDelay,
		MaxDelay:       r.MaxDelay,
		BackoffFactor:  r.BackoffFactor,
		AttemptTimeout: r.AttemptTimeout,
	}
}

// ClientConfig configures the chat client side.
type ClientConfig struct {
	RelayURL            string      `mapstructure:"relay_url"`
	Model               string      `mapstructure:"model"`
	SystemPrompt        string      `mapstructure:"system_prompt"`
	AppendErrorMessages bool        `mapstructure:"append_error_messages"`
	CopyToClipboard     bool        `mapstructure:"copy_to_clipboard"`
	Retry               RetryConfig `mapstructure:"retry"`
}

// ImagesConfig configures image generation and URL normalization.
type ImagesConfig struct {
	Retry          RetryConfig             `mapstructure:"retry"`
	MockMarkers    []string                `mapstructure:"mock_markers"`
	GenuineMarkers []string                `mapstructure:"genuine_markers"`
	Rewrites       []normalize.RewriteRule `mapstructure:"rewrites"`
}

// Detector returns the mock URL detector described by the markers.
func (i ImagesConfig) Detector() normalize.MarkerDetector {
	return normalize.MarkerDetector{Markers: i.MockMarkers, GenuineMarkers: i.GenuineMarkers}
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"`
	Output    string `mapstructure:"output"`
	FilePath  string `mapstructure:"file_path"`
	AddSource bool   `mapstructure:"add_source"`
}

// MarkdownConfig configures markdown rendering options
type MarkdownConfig struct {
	Style            string `mapstructure:"style"`             // "dark", "light", or path to JSON theme
	EnableEmoji      bool   `mapstructure:"enable_emoji"`      // Convert :emoji: to unicode
	PreserveNewLines bool   `mapstructure:"preserve_newlines"` // Preserve original line breaks
	TableWrap        bool   `mapstructure:"table_wrap"`        // Enable word wrap in table cells
	InlineTableLinks bool   `mapstructure:"inline_table_links"`
}

// IsDevelopment reports whether the app runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "" || c.Env == EnvDevelopment
}

// MockData reports whether the relay should serve placeholder data because
// no key is configured in development.
func (c *Config) MockData() bool {
	return c.IsDevelopment() && c.Upstream.APIKey == ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", EnvDevelopment)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)
	// room for the multipart envelope around a maximum size image
	v.SetDefault("server.max_request_body_size", models.MaxImageSize+(1<<20))
	v.SetDefault("server.rate_limit", 10)
	v.SetDefault("server.rate_burst", 20)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("upstream.base_url", models.DefaultUpstreamURL)
	v.SetDefault("upstream.api_key", "")
	v.SetDefault("upstream.timeout", 60*time.Second)
	v.SetDefault("upstream.max_retries", 0)
	v.SetDefault("upstream.default_model", models.ModelTextDefault)

	v.SetDefault("client.relay_url", models.DefaultRelayURL)
	v.SetDefault("client.model", "")
	v.SetDefault("client.system_prompt", models.DefaultSystemText)
	v.SetDefault("client.append_error_messages", false)
	v.SetDefault("client.copy_to_clipboard", false)
	setRetryDefaults(v, "client.retry", 60*time.Second)

	setRetryDefaults(v, "images.retry", 120*time.Second)
	v.SetDefault("images.mock_markers", normalize.DefaultMockMarkers())
	v.SetDefault("images.genuine_markers", []string{})
	rules := make([]map[string]any, 0, len(normalize.DefaultRewriteRules()))
	for _, r := range normalize.DefaultRewriteRules() {
		rules = append(rules, map[string]any{"host": r.Host, "base": r.Base})
	}
	v.SetDefault("images.rewrites", rules)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "stderr")
	v.SetDefault("log.file_path", "")
	v.SetDefault("log.add_source", false)

	v.SetDefault("markdown.style", "dark")
	v.SetDefault("markdown.enable_emoji", true)
	v.SetDefault("markdown.preserve_newlines", true)
	v.SetDefault("markdown.table_wrap", true)
	v.SetDefault("markdown.inline_table_links", false)
}

func setRetryDefaults(v *viper.Viper, prefix string, attemptTimeout time.Duration) {
	def := fetch.DefaultPolicy()
	v.SetDefault(prefix+".max_retries", def.MaxRetries)
	v.SetDefault(prefix+".initial_delay", def.InitialDelay)
	v.SetDefault(prefix+".max_delay", def.MaxDelay)
	v.SetDefault(prefix+".backoff_factor", def.BackoffFactor)
	v.SetDefault(prefix+".attempt_timeout", attemptTimeout)
}

// Default returns the configuration with no file and no environment applied.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Load reads configuration. An explicit configPath must exist; otherwise
// config.{yaml,json,toml} is looked up in the config dir and the working
// directory and is optional. Environment variables override the file.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		if dir, err := GetConfigDir(); err == nil {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Well-known names used by the hosted deployment.
	_ = v.BindEnv("upstream.api_key", "KIKI_UPSTREAM_API_KEY", "REDBUILDER_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("upstream.base_url", "KIKI_UPSTREAM_BASE_URL", "API_BASE_URL")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// EnvFiles returns the env files tried for the given environment, in order.
func EnvFiles(dir, env string) []string {
	if env == "" {
		env = EnvDevelopment
	}
	return []string{
		filepath.Join(dir, ".env."+env),
		filepath.Join(dir, ".env.local"),
		filepath.Join(dir, ".env"),
	}
}

// LoadEnvFiles loads the first existing env file in dir and returns its
// path, or "" when none exists. Variables already set in the process win.
func LoadEnvFiles(dir string) (string, error) {
	for _, path := range EnvFiles(dir, os.Getenv(EnvPrefix+"_ENV")) {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return "", fmt.Errorf("failed to load %s: %w", path, err)
		}
		return path, nil
	}
	return "", nil
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	if c.Env != EnvDevelopment && c.Env != EnvProduction {
		return apierrors.NewValidationError("env", fmt.Sprintf("invalid env %q, must be %q or %q", c.Env, EnvDevelopment, EnvProduction))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return apierrors.NewValidationError("server.port", fmt.Sprintf("invalid server port: %d", c.Server.Port))
	}
	if c.Server.MaxRequestBodySize <= models.MaxImageSize {
		return apierrors.NewValidationError("server.max_request_body_size", fmt.Sprintf("must be larger than the %d byte image limit", models.MaxImageSize))
	}
	if c.Server.RateLimit < 0 {
		return apierrors.NewValidationError("server.rate_limit", "must be >= 0")
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		return apierrors.NewValidationError("server.rate_burst", "must be >= 1 when rate limiting is enabled")
	}
	if c.Upstream.BaseURL == "" {
		return apierrors.NewValidationError("upstream.base_url", "is required")
	}
	if c.Client.RelayURL == "" {
		return apierrors.NewValidationError("client.relay_url", "is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return apierrors.NewValidationError("log.level", fmt.Sprintf("invalid log level: %s", c.Log.Level))
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return apierrors.NewValidationError("log.format", fmt.Sprintf("invalid log format: %s, must be 'json' or 'text'", c.Log.Format))
	}
	if c.Log.Output == "file" && c.Log.FilePath == "" {
		return apierrors.NewValidationError("log.file_path", "is required when log.output is file")
	}

	if err := c.Client.Retry.Policy().Validate(); err != nil {
		return fmt.Errorf("client.retry: %w", err)
	}
	if err := c.Images.Retry.Policy().Validate(); err != nil {
		return fmt.Errorf("images.retry: %w", err)
	}
	return nil
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".kiki"), nil
}

// EnsureConfigDir creates the configuration directory if it doesn't exist
func EnsureConfigDir() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}

	// 0o700: the directory may hold an API key and exported conversations.
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return configDir, nil
}
