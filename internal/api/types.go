package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// JobParams mirrors queue.Params.
type JobParams struct {
	Prompt            string          `json:"prompt"`
	Width             int             `json:"width"`
	Height            int             `json:"height"`
	Steps             int             `json:"steps"`
	CFG               float64         `json:"cfg"`
	Seed              *uint32         `json:"seed,omitempty"`
	FilePrefix        string          `json:"filePrefix"`
	Subfolder         string          `json:"subfolder,omitempty"`
	UseReferenceImage bool            `json:"useReferenceImage"`
	ReferenceImage    string          `json:"referenceImage,omitempty"`
	Toggles           map[string]bool `json:"toggles,omitempty"`
}

// Job describes a job record in a transport-friendly format.
type Job struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	Params      JobParams `json:"params"`
	AddedAt     string    `json:"addedAt,omitempty"`
	StartedAt   string    `json:"startedAt,omitempty"`
	CompletedAt string    `json:"completedAt,omitempty"`
	FailedAt    string    `json:"failedAt,omitempty"`
	Error       string    `json:"error,omitempty"`
	ResultRef   string    `json:"resultRef,omitempty"`
}

// QueueSnapshot is the list() view.
type QueueSnapshot struct {
	Pending   []Job `json:"pending"`
	Active    *Job  `json:"active,omitempty"`
	Completed []Job `json:"completed"`
}

// MemorySample mirrors hostmem.Sample.
type MemorySample struct {
	TotalBytes     uint64  `json:"totalBytes"`
	AvailableBytes uint64  `json:"availableBytes"`
	UsedPercent    float64 `json:"usedPercent"`
	ProcessRSS     uint64  `json:"processRss"`
}

// ReclaimInfo describes the most recent reclamation.
type ReclaimInfo struct {
	Reason string       `json:"reason"`
	At     string       `json:"at"`
	Error  string       `json:"error,omitempty"`
	Before MemorySample `json:"before"`
	After  MemorySample `json:"after"`
}

// WorkflowStatus summarizes dispatcher and idle timer state.
type WorkflowStatus struct {
	Running            bool         `json:"running"`
	QueueEmpty         bool         `json:"queueEmpty"`
	TimerActive        bool         `json:"timerActive"`
	SecondsRemaining   int          `json:"secondsRemaining"`
	Suppressed         bool         `json:"suppressed"`
	AutoUnloadEnabled  bool         `json:"autoUnloadEnabled"`
	UnloadDelaySeconds int          `json:"unloadDelaySeconds"`
	ModelsUnloaded     bool         `json:"modelsUnloaded"`
	PendingCount       int          `json:"pendingCount"`
	CompletedCount     int          `json:"completedCount"`
	Active             *Job         `json:"active,omitempty"`
	LastError          string       `json:"lastError,omitempty"`
	LastReclaim        *ReclaimInfo `json:"lastReclaim,omitempty"`
}

// StoreHealth mirrors queue.Health.
type StoreHealth struct {
	Backend  string `json:"backend"`
	Path     string `json:"path"`
	Exists   bool   `json:"exists"`
	Readable bool   `json:"readable"`
	Jobs     int    `json:"jobs"`
	Error    string `json:"error,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running         bool           `json:"running"`
	PID             int            `json:"pid"`
	LockFilePath    string         `json:"lockFilePath"`
	OutputDir       string         `json:"outputDir"`
	OutputFreeBytes uint64         `json:"outputFreeBytes"`
	ComfyUIAddress  string         `json:"comfyuiAddress"`
	Store           StoreHealth    `json:"store"`
	HostMemory      MemorySample   `json:"hostMemory"`
	Workflow        WorkflowStatus `json:"workflow"`
}

// CancelOutcome reports what cancel(id) did.
type CancelOutcome string

const (
	CancelRemoved        CancelOutcome = "removed"
	CancelNotFound       CancelOutcome = "not_found"
	CancelRejectedActive CancelOutcome = "rejected_active"
)

// StatusLine is one labelled readiness line rendered by `imaginer status`.
type StatusLine struct {
	Label    string `json:"label"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}
