package testsupport

import (
	"path/filepath"
	"testing"

	"ferry/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// Polling is fast so orchestrator tests finish quickly.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Server.URL = "http://127.0.0.1:1/"
	cfg.Server.RequestTimeout = 5
	cfg.Upload.PollIntervalMillis = 10
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.LogDir = filepath.Join(base, "logs")

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithServer points the config at a test server.
func WithServer(url string) ConfigOption {
	return func(c *config.Config) {
		c.Server.URL = url + "/"
	}
}

// WithBatch toggles batch mode.
func WithBatch(batch bool) ConfigOption {
	return func(c *config.Config) {
		c.Upload.Batch = batch
	}
}

// WithCancelStopsPolling makes cancellation also stop processing polls.
func WithCancelStopsPolling() ConfigOption {
	return func(c *config.Config) {
		c.Upload.CancelStopsPolling = true
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
