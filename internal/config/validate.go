package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateComfyUI(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.OutputDir == "" {
		return errors.New("paths.output_dir must be set")
	}
	if c.Paths.StateDir == "" {
		return errors.New("paths.state_dir must be set")
	}
	return nil
}

func (c *Config) validateComfyUI() error {
	if c.ComfyUI.Address == "" {
		return errors.New("comfyui.address must be set (or IMAGINER_COMFYUI_ADDRESS)")
	}
	if strings.Contains(c.ComfyUI.Address, " ") {
		return fmt.Errorf("comfyui.address %q must not contain spaces", c.ComfyUI.Address)
	}
	if c.ComfyUI.Nodes.Prompt == "" || c.ComfyUI.Nodes.Latent == "" || c.ComfyUI.Nodes.Sampler == "" {
		return errors.New("comfyui.nodes prompt, latent, and sampler must all be set")
	}
	return nil
}

func (c *Config) validateQueue() error {
	switch c.Queue.Backend {
	case BackendSQLite, BackendJSON:
	default:
		return fmt.Errorf("queue.backend: unsupported value %q (use %q or %q)", c.Queue.Backend, BackendSQLite, BackendJSON)
	}
	if c.Queue.HistoryLimit <= 0 {
		return errors.New("queue.history_limit must be positive")
	}
	if c.Queue.PollIntervalMS <= 0 {
		return errors.New("queue.poll_interval_ms must be positive")
	}
	if c.Queue.IdleUnloadSeconds < 0 {
		return errors.New("queue.idle_unload_seconds must be >= 0 (0 disables idle unload)")
	}
	if strings.ContainsAny(c.Queue.DefaultFilePrefix, `/\`) {
		return errors.New("queue.default_file_prefix must not contain path separators")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.QueueMinItems < 0 {
		return errors.New("notifications.queue_min_items must be >= 0")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
