package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	OutputDir   string `toml:"output_dir"`
	StateDir    string `toml:"state_dir"`
	MetricsBind string `toml:"metrics_bind"`
	// CORSOrigins lists browser origins allowed to read the status API.
	CORSOrigins []string `toml:"cors_origins"`
}

// Nodes maps generation parameters onto node ids inside the ComfyUI workflow graph.
type Nodes struct {
	Prompt         string `toml:"prompt"`
	Latent         string `toml:"latent"`
	Sampler        string `toml:"sampler"`
	ReferenceImage string `toml:"reference_image"`
}

// ComfyUI contains connection settings for the generation backend.
type ComfyUI struct {
	Address      string `toml:"address"`
	WorkflowPath string `toml:"workflow_path"`
	// ReferenceWorkflowPath replaces WorkflowPath for jobs that use a reference image.
	ReferenceWorkflowPath string `toml:"reference_workflow_path"`
	ClientID              string `toml:"client_id"`
	RequestTimeout        int    `toml:"request_timeout"`
	GenerationTimeout     int    `toml:"generation_timeout"`
	HistoryPollMillis     int    `toml:"history_poll_ms"`
	Nodes                 Nodes  `toml:"nodes"`
}

// Queue contains dispatcher timing, persistence, and enqueue defaults.
type Queue struct {
	Backend           string  `toml:"backend"`
	HistoryLimit      int     `toml:"history_limit"`
	PollIntervalMS    int     `toml:"poll_interval_ms"`
	IdleUnloadSeconds int     `toml:"idle_unload_seconds"`
	DefaultFilePrefix string  `toml:"default_file_prefix"`
	DefaultWidth      int     `toml:"default_width"`
	DefaultHeight     int     `toml:"default_height"`
	DefaultSteps      int     `toml:"default_steps"`
	DefaultCFG        float64 `toml:"default_cfg"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	JobFailed      bool   `toml:"job_failed"`
	QueueDrained   bool   `toml:"queue_drained"`
	Reclaim        bool   `toml:"reclaim"`
	QueueMinItems  int    `toml:"queue_min_items"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for imaginer.
//
// Configuration sections by subsystem:
//   - Paths: output tree, daemon state directory, metrics listener
//   - ComfyUI: backend address, workflow template, node mapping, timeouts
//   - Queue: persistence backend, history bound, polling and idle unload timing
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	ComfyUI       ComfyUI       `toml:"comfyui"`
	Queue         Queue         `toml:"queue"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("imaginer.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.OutputDir, c.Paths.StateDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SocketPath returns the IPC socket location inside the state directory.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.StateDir, "imaginer.sock")
}

// LockPath returns the single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "imaginer.lock")
}

// PIDPath returns the pid file written while the daemon runs.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, "imaginer.pid")
}

// LogPath returns the daemon log file inside the state directory.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.StateDir, "imaginer.log")
}

// QueueStatePath returns the persistence location for the configured queue backend.
func (c *Config) QueueStatePath() string {
	if c.Queue.Backend == BackendJSON {
		return filepath.Join(c.Paths.StateDir, "queue_state.json")
	}
	return filepath.Join(c.Paths.StateDir, "queue.db")
}

// PollInterval is the dispatcher's idle polling interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Queue.PollIntervalMS) * time.Millisecond
}

// IdleUnloadDelay is how long the queue must stay empty before resources are reclaimed.
// Zero disables automatic reclamation.
func (c *Config) IdleUnloadDelay() time.Duration {
	return time.Duration(c.Queue.IdleUnloadSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
