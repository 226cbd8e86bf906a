package ipc

import "imaginer/internal/api"

// StopRequest asks the daemon process to shut down.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse wraps the aggregated daemon status.
type StatusResponse struct {
	Status api.DaemonStatus `json:"status"`
}

// QueueListRequest fetches the queue snapshot.
type QueueListRequest struct{}

// QueueListResponse contains the pending, active, and completed jobs.
type QueueListResponse struct {
	Snapshot api.QueueSnapshot `json:"snapshot"`
}

// QueueAddRequest enqueues one generation job.
type QueueAddRequest struct {
	Job api.JobRequest `json:"job"`
}

// QueueAddResponse carries the new job id.
type QueueAddResponse struct {
	ID string `json:"id"`
}

// QueueCancelRequest removes a pending job.
type QueueCancelRequest struct {
	ID string `json:"id"`
}

// QueueCancelResponse reports what cancel did.
type QueueCancelResponse struct {
	Outcome api.CancelOutcome `json:"outcome"`
}

// QueueClearRequest drops every pending job.
type QueueClearRequest struct{}

// QueueClearResponse reports number of removed entries.
type QueueClearResponse struct {
	Removed int `json:"removed"`
}

// QueueForgetRequest removes a finished job from history.
type QueueForgetRequest struct {
	ID string `json:"id"`
}

// QueueForgetResponse reports whether the job was in history.
type QueueForgetResponse struct {
	Removed bool `json:"removed"`
}

// ReclaimRequest asks the backend to release models and memory now.
type ReclaimRequest struct{}

// ReclaimResponse carries the recorded reclaim, if any.
type ReclaimResponse struct {
	Reclaim *api.ReclaimInfo `json:"reclaim,omitempty"`
}

// InterruptRequest aborts the active generation.
type InterruptRequest struct{}

// InterruptResponse names the interrupted job. JobID is empty when idle.
type InterruptResponse struct {
	JobID string `json:"job_id"`
}

// LogTailRequest fetches log lines based on offset and follow semantics.
type LogTailRequest struct {
	Offset     int64  `json:"offset"`
	Limit      int    `json:"limit"`
	Follow     bool   `json:"follow"`
	WaitMillis int    `json:"wait_millis"`
	JobID      string `json:"job_id"`
	MinLevel   string `json:"min_level"`
}

// LogTailResponse returns log lines and the next offset.
type LogTailResponse struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification test outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
