package config

const (
	defaultConfigPath           = "~/.config/imaginer/config.toml"
	defaultOutputDir            = "~/.local/share/imaginer/outputs"
	defaultStateDir             = "~/.local/share/imaginer"
	defaultMetricsBind          = "127.0.0.1:7489"
	defaultComfyUIAddress       = "127.0.0.1:8188"
	defaultWorkflowPath         = "~/.config/imaginer/Imaginer.json"
	defaultRequestTimeout       = 30
	defaultGenerationTimeout    = 300
	defaultHistoryPollMillis    = 1000
	defaultPromptNode           = "75:6"
	defaultLatentNode           = "75:58"
	defaultSamplerNode          = "75:3"
	defaultQueueBackend         = BackendSQLite
	defaultHistoryLimit         = 50
	defaultPollIntervalMS       = 500
	defaultIdleUnloadSeconds    = 300
	defaultFilePrefix           = "comfyui"
	defaultImageSize            = 1024
	defaultSteps                = 4
	defaultCFG                  = 1.0
	defaultNotifyRequestTimeout = 10
	defaultNotifyQueueMinItems  = 2
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
)

// Queue persistence backends.
const (
	BackendSQLite = "sqlite"
	BackendJSON   = "json"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			OutputDir:   defaultOutputDir,
			StateDir:    defaultStateDir,
			MetricsBind: defaultMetricsBind,
		},
		ComfyUI: ComfyUI{
			Address:           "",
			WorkflowPath:      defaultWorkflowPath,
			RequestTimeout:    defaultRequestTimeout,
			GenerationTimeout: defaultGenerationTimeout,
			HistoryPollMillis: defaultHistoryPollMillis,
			Nodes: Nodes{
				Prompt:  defaultPromptNode,
				Latent:  defaultLatentNode,
				Sampler: defaultSamplerNode,
			},
		},
		Queue: Queue{
			Backend:           defaultQueueBackend,
			HistoryLimit:      defaultHistoryLimit,
			PollIntervalMS:    defaultPollIntervalMS,
			IdleUnloadSeconds: defaultIdleUnloadSeconds,
			DefaultFilePrefix: defaultFilePrefix,
			DefaultWidth:      defaultImageSize,
			DefaultHeight:     defaultImageSize,
			DefaultSteps:      defaultSteps,
			DefaultCFG:        defaultCFG,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			JobFailed:      true,
			QueueDrained:   true,
			Reclaim:        false,
			QueueMinItems:  defaultNotifyQueueMinItems,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
