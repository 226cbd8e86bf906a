package queue

import "imaginer/internal/config"

// DefaultsFrom reads the enqueue defaults from the [queue] config section.
func DefaultsFrom(cfg *config.Config) Defaults {
	if cfg == nil {
		return Defaults{}
	}
	return Defaults{
		Width:      cfg.Queue.DefaultWidth,
		Height:     cfg.Queue.DefaultHeight,
		Steps:      cfg.Queue.DefaultSteps,
		CFG:        cfg.Queue.DefaultCFG,
		FilePrefix: cfg.Queue.DefaultFilePrefix,
	}
}
