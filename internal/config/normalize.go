package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeComfyUI(); err != nil {
		return err
	}
	c.normalizeQueue()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		c.Paths.OutputDir = defaultOutputDir
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	// An empty metrics bind disables the listener.
	c.Paths.MetricsBind = strings.TrimSpace(c.Paths.MetricsBind)
	origins := c.Paths.CORSOrigins[:0]
	for _, origin := range c.Paths.CORSOrigins {
		if origin = strings.TrimRight(strings.TrimSpace(origin), "/"); origin != "" {
			origins = append(origins, origin)
		}
	}
	c.Paths.CORSOrigins = origins
	return nil
}

func (c *Config) normalizeComfyUI() error {
	c.ComfyUI.Address = strings.TrimSpace(c.ComfyUI.Address)
	if c.ComfyUI.Address == "" {
		if value, ok := os.LookupEnv("IMAGINER_COMFYUI_ADDRESS"); ok {
			c.ComfyUI.Address = strings.TrimSpace(value)
		}
	}
	if c.ComfyUI.Address == "" {
		c.ComfyUI.Address = defaultComfyUIAddress
	}
	c.ComfyUI.Address = strings.TrimRight(c.ComfyUI.Address, "/")

	var err error
	if strings.TrimSpace(c.ComfyUI.WorkflowPath) == "" {
		c.ComfyUI.WorkflowPath = defaultWorkflowPath
	}
	if c.ComfyUI.WorkflowPath, err = expandPath(c.ComfyUI.WorkflowPath); err != nil {
		return fmt.Errorf("comfyui.workflow_path: %w", err)
	}
	if c.ComfyUI.ReferenceWorkflowPath = strings.TrimSpace(c.ComfyUI.ReferenceWorkflowPath); c.ComfyUI.ReferenceWorkflowPath != "" {
		if c.ComfyUI.ReferenceWorkflowPath, err = expandPath(c.ComfyUI.ReferenceWorkflowPath); err != nil {
			return fmt.Errorf("comfyui.reference_workflow_path: %w", err)
		}
	}
	c.ComfyUI.ClientID = strings.TrimSpace(c.ComfyUI.ClientID)
	if c.ComfyUI.RequestTimeout <= 0 {
		c.ComfyUI.RequestTimeout = defaultRequestTimeout
	}
	if c.ComfyUI.GenerationTimeout <= 0 {
		c.ComfyUI.GenerationTimeout = defaultGenerationTimeout
	}
	if c.ComfyUI.HistoryPollMillis <= 0 {
		c.ComfyUI.HistoryPollMillis = defaultHistoryPollMillis
	}
	c.ComfyUI.Nodes.Prompt = strings.TrimSpace(c.ComfyUI.Nodes.Prompt)
	c.ComfyUI.Nodes.Latent = strings.TrimSpace(c.ComfyUI.Nodes.Latent)
	c.ComfyUI.Nodes.Sampler = strings.TrimSpace(c.ComfyUI.Nodes.Sampler)
	c.ComfyUI.Nodes.ReferenceImage = strings.TrimSpace(c.ComfyUI.Nodes.ReferenceImage)
	return nil
}

func (c *Config) normalizeQueue() {
	c.Queue.Backend = strings.ToLower(strings.TrimSpace(c.Queue.Backend))
	if c.Queue.Backend == "" {
		c.Queue.Backend = defaultQueueBackend
	}
	c.Queue.DefaultFilePrefix = strings.TrimSpace(c.Queue.DefaultFilePrefix)
	if c.Queue.DefaultFilePrefix == "" {
		c.Queue.DefaultFilePrefix = defaultFilePrefix
	}
	if c.Queue.DefaultWidth <= 0 {
		c.Queue.DefaultWidth = defaultImageSize
	}
	if c.Queue.DefaultHeight <= 0 {
		c.Queue.DefaultHeight = defaultImageSize
	}
	if c.Queue.DefaultSteps <= 0 {
		c.Queue.DefaultSteps = defaultSteps
	}
	if c.Queue.DefaultCFG <= 0 {
		c.Queue.DefaultCFG = defaultCFG
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
