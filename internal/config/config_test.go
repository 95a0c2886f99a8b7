package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	apierrors "github.com/diogo/kiki/internal/errors"
	"github.com/diogo/kiki/internal/models"
)

// isolate points HOME at a temp dir and clears env that would leak into Load.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, k := range []string{"OPENAI_API_KEY", "REDBUILDER_API_KEY", "API_BASE_URL", "KIKI_ENV", "KIKI_UPSTREAM_API_KEY", "KIKI_UPSTREAM_BASE_URL"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	wd, _ := os.Getwd()
	if err := os.Chdir(home); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return home
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000", cfg.Server.Port)
	}
	if cfg.Upstream.BaseURL != models.DefaultUpstreamURL {
		t.Errorf("Upstream.BaseURL = %s", cfg.Upstream.BaseURL)
	}
	if cfg.Client.Retry.MaxRetries != 3 || cfg.Client.Retry.InitialDelay != time.Second {
		t.Errorf("Client.Retry = %+v", cfg.Client.Retry)
	}
	if len(cfg.Images.Rewrites) != 1 || cfg.Images.Rewrites[0].Host != "api.redbuilder.io" {
		t.Errorf("Images.Rewrites = %+v", cfg.Images.Rewrites)
	}
	if !cfg.Markdown.EnableEmoji || cfg.Markdown.Style != "dark" {
		t.Errorf("Markdown = %+v", cfg.Markdown)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.MockData() {
		t.Error("development without a key should serve mock data")
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	home := isolate(t)
	if _, err := Load(filepath.Join(home, "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "kiki.yaml")
	body := `
server:
  port: 8081
client:
  model: gpt-4o
  retry:
    max_retries: 5
    initial_delay: 250ms
images:
  mock_markers: [placeholder, mock-error]
  rewrites:
    - host: cdn.example.com
      base: https://mirror.example.com/img
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("KIKI_SERVER_PORT", "9090")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, env should override file", cfg.Server.Port)
	}
	if cfg.Client.Model != "gpt-4o" {
		t.Errorf("Client.Model = %s", cfg.Client.Model)
	}
	if cfg.Client.Retry.MaxRetries != 5 || cfg.Client.Retry.InitialDelay != 250*time.Millisecond {
		t.Errorf("Client.Retry = %+v", cfg.Client.Retry)
	}
	if cfg.Client.Retry.MaxDelay != 10*time.Second {
		t.Errorf("unset retry fields keep defaults, MaxDelay = %s", cfg.Client.Retry.MaxDelay)
	}
	if cfg.Upstream.APIKey != "sk-test" {
		t.Errorf("Upstream.APIKey not bound from OPENAI_API_KEY")
	}
	if cfg.MockData() {
		t.Error("mock data must be off when a key is configured")
	}
	if len(cfg.Images.MockMarkers) != 2 {
		t.Errorf("MockMarkers = %v", cfg.Images.MockMarkers)
	}
	if len(cfg.Images.Rewrites) != 1 || cfg.Images.Rewrites[0].Base != "https://mirror.example.com/img" {
		t.Errorf("Rewrites = %+v", cfg.Images.Rewrites)
	}
}

func TestAPIKeyPrecedence(t *testing.T) {
	isolate(t)
	t.Setenv("OPENAI_API_KEY", "openai")
	t.Setenv("REDBUILDER_API_KEY", "redbuilder")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Upstream.APIKey != "redbuilder" {
		t.Errorf("APIKey = %s, want REDBUILDER_API_KEY to win", cfg.Upstream.APIKey)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad env", func(c *Config) { c.Env = "staging" }, "env"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"negative rate", func(c *Config) { c.Server.RateLimit = -1 }, "server.rate_limit"},
		{"zero burst", func(c *Config) { c.Server.RateBurst = 0 }, "server.rate_burst"},
		{"no upstream", func(c *Config) { c.Upstream.BaseURL = "" }, "upstream.base_url"},
		{"bad level", func(c *Config) { c.Log.Level = "trace" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"file without path", func(c *Config) { c.Log.Output = "file" }, "log.file_path"},
		{"bad retry", func(c *Config) { c.Images.Retry.BackoffFactor = 0.5 }, "backoff_factor"},
		{"body smaller than image", func(c *Config) { c.Server.MaxRequestBodySize = models.MaxImageSize }, "server.max_request_body_size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			var ve *apierrors.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("Validate() = %v, want ValidationError", err)
			}
			if ve.Field != tt.field {
				t.Errorf("Field = %s, want %s", ve.Field, tt.field)
			}
		})
	}
}

func TestRetryConfigPolicy(t *testing.T) {
	r := RetryConfig{MaxRetries: 2, InitialDelay: time.Second, MaxDelay: 4 * time.Second, BackoffFactor: 2, AttemptTimeout: time.Minute}
	p := r.Policy()
	if p.MaxRetries != 2 || p.AttemptTimeout != time.Minute {
		t.Errorf("Policy() = %+v", p)
	}
	if p.Backoff(3) != 4*time.Second {
		t.Errorf("Backoff(3) = %s", p.Backoff(3))
	}
}

func TestDetector(t *testing.T) {
	cfg := Default()
	d := cfg.Images.Detector()
	if !d.IsMock("https://x.test/mock-error.png") {
		t.Error("default markers should flag mock-error")
	}
	if d.IsMock("https://api.redbuilder.io/a.png") {
		t.Error("production host is not mock by default")
	}
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("KIKI_ENV", "")
	os.Unsetenv("KIKI_ENV")
	t.Setenv("KIKI_TEST_FROM_ENV_FILE", "")
	os.Unsetenv("KIKI_TEST_FROM_ENV_FILE")

	if got, err := LoadEnvFiles(dir); err != nil || got != "" {
		t.Fatalf("empty dir: got %q, %v", got, err)
	}

	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("KIKI_TEST_FROM_ENV_FILE=plain\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env.local"), []byte("KIKI_TEST_FROM_ENV_FILE=local\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := LoadEnvFiles(dir)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(got) != ".env.local" {
		t.Errorf("loaded %s, want .env.local before .env", got)
	}
	if v := os.Getenv("KIKI_TEST_FROM_ENV_FILE"); v != "local" {
		t.Errorf("KIKI_TEST_FROM_ENV_FILE = %q", v)
	}
}

func TestEnvFilesOrder(t *testing.T) {
	files := EnvFiles("/app", "production")
	want := []string{"/app/.env.production", "/app/.env.local", "/app/.env"}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("files[%d] = %s, want %s", i, files[i], want[i])
		}
	}
}

func TestEnsureConfigDir(t *testing.T) {
	home := isolate(t)
	dir, err := EnsureConfigDir()
	if err != nil {
		t.Fatal(err)
	}
	if dir != filepath.Join(home, ".kiki") {
		t.Errorf("dir = %s", dir)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("config dir not created: %v", err)
	}
}
