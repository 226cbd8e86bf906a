package api

import (
	"time"

	"imaginer/internal/hostmem"
	"imaginer/internal/queue"
	"imaginer/internal/workflow"
)

// FromParams converts queue parameters to their API representation.
func FromParams(params queue.Params) JobParams {
	params = params.Clone()
	return JobParams{
		Prompt:            params.Prompt,
		Width:             params.Width,
		Height:            params.Height,
		Steps:             params.Steps,
		CFG:               params.CFG,
		Seed:              params.Seed,
		FilePrefix:        params.FilePrefix,
		Subfolder:         params.Subfolder,
		UseReferenceImage: params.UseReferenceImage,
		ReferenceImage:    params.ReferenceImage,
		Toggles:           params.Toggles,
	}
}

// FromJob converts a job record to its API representation.
func FromJob(job *queue.Job) Job {
	if job == nil {
		return Job{}
	}
	return Job{
		ID:          job.ID,
		Status:      string(job.Status),
		Params:      FromParams(job.Params),
		AddedAt:     formatTime(job.AddedAt),
		StartedAt:   formatTimePtr(job.StartedAt),
		CompletedAt: formatTimePtr(job.CompletedAt),
		FailedAt:    formatTimePtr(job.FailedAt),
		Error:       job.Error,
		ResultRef:   job.ResultRef,
	}
}

// FromJobs converts a slice of job records, preserving order.
func FromJobs(jobs []*queue.Job) []Job {
	out := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		if job == nil {
			continue
		}
		out = append(out, FromJob(job))
	}
	return out
}

func fromJobPtr(job *queue.Job) *Job {
	if job == nil {
		return nil
	}
	dto := FromJob(job)
	return &dto
}

// FromSnapshot converts a queue snapshot.
func FromSnapshot(snapshot queue.Snapshot) QueueSnapshot {
	return QueueSnapshot{
		Pending:   FromJobs(snapshot.Pending),
		Active:    fromJobPtr(snapshot.Active),
		Completed: FromJobs(snapshot.Completed),
	}
}

// FromMemory converts a host memory sample.
func FromMemory(sample hostmem.Sample) MemorySample {
	return MemorySample{
		TotalBytes:     sample.TotalBytes,
		AvailableBytes: sample.AvailableBytes,
		UsedPercent:    sample.UsedPercent,
		ProcessRSS:     sample.ProcessRSS,
	}
}

// FromReclaimRecord converts the last reclamation record.
func FromReclaimRecord(record *workflow.ReclaimRecord) *ReclaimInfo {
	if record == nil {
		return nil
	}
	return &ReclaimInfo{
		Reason: string(record.Reason),
		At:     formatTime(record.At),
		Error:  record.Error,
		Before: FromMemory(record.Before),
		After:  FromMemory(record.After),
	}
}

// FromStatusSummary converts dispatcher status into its API representation.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	return WorkflowStatus{
		Running:            summary.Running,
		QueueEmpty:         summary.QueueEmpty,
		TimerActive:        summary.TimerActive,
		SecondsRemaining:   summary.SecondsRemaining,
		Suppressed:         summary.Suppressed,
		AutoUnloadEnabled:  summary.AutoUnloadEnabled,
		UnloadDelaySeconds: summary.UnloadDelaySeconds,
		ModelsUnloaded:     summary.ModelsUnloaded,
		PendingCount:       summary.PendingCount,
		CompletedCount:     summary.CompletedCount,
		Active:             fromJobPtr(summary.Active),
		LastError:          summary.LastError,
		LastReclaim:        FromReclaimRecord(summary.LastReclaim),
	}
}

// FromHealth converts store diagnostics.
func FromHealth(health queue.Health) StoreHealth {
	return StoreHealth(health)
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(dateTimeFormat)
}

func formatTimePtr(value *time.Time) string {
	if value == nil {
		return ""
	}
	return formatTime(*value)
}
