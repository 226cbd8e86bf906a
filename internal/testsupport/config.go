package testsupport

import (
	"path/filepath"
	"testing"

	"imaginer/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.OutputDir = filepath.Join(base, "outputs")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.MetricsBind = ""
	cfgVal.ComfyUI.Address = "127.0.0.1:0"
	cfgVal.ComfyUI.WorkflowPath = filepath.Join(base, "workflow.json")
	cfgVal.Queue.PollIntervalMS = 20

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithBackend selects the queue persistence backend.
func WithBackend(backend string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Queue.Backend = backend
	}
}

// WithIdleUnloadSeconds overrides the idle reclaim delay.
func WithIdleUnloadSeconds(seconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Queue.IdleUnloadSeconds = seconds
	}
}

// WithComfyUIAddress points the config at a test server.
func WithComfyUIAddress(address string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.ComfyUI.Address = address
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
