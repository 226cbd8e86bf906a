package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime/debug"
	"strings"
	"time"

	"imaginer/internal/fileutil"
	"imaginer/internal/logging"
	"imaginer/internal/queue"
	"imaginer/internal/services"
)

const outputExtension = "png"

// claimNext atomically pops the oldest pending job and installs it as the
// active job. It reports whether the reference-image mode differs from the
// previously dispatched job.
func (m *Manager) claimNext(ctx context.Context) (*queue.Job, bool) {
	m.mu.Lock()
	if m.active != nil {
		m.mu.Unlock()
		return nil, false
	}
	job := m.pending.PopOldest()
	if job == nil {
		m.mu.Unlock()
		return nil, false
	}
	now := m.now()
	job.MarkGenerating(now)
	m.active = job
	m.idle.rearm()
	m.unloaded = false
	modeSwitch := m.hasPrev && m.prevRefMode != job.Params.UseReferenceImage
	m.hasPrev = true
	m.prevRefMode = job.Params.UseReferenceImage
	m.run.begin(now)
	claimed := job.Clone()
	m.mu.Unlock()

	m.persist(ctx)
	return claimed, modeSwitch
}

func (m *Manager) dispatch(ctx context.Context, job *queue.Job, modeSwitch bool) {
	jobCtx := services.WithJobID(ctx, job.ID)
	logger := logging.WithContext(jobCtx, m.logger)
	defer m.releaseActive(job.ID)

	started := m.now()
	logger.Info("generation started",
		logging.String(logging.FieldEventType, "job_start"),
		logging.Int("width", job.Params.Width),
		logging.Int("height", job.Params.Height),
		logging.Int("steps", job.Params.Steps),
		logging.Bool("use_reference_image", job.Params.UseReferenceImage),
	)

	var (
		result  Result
		execErr error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				execErr = fmt.Errorf("worker panic: %v", r)
				logger.Error("worker panicked",
					logging.String(logging.FieldEventType, "worker_panic"),
					logging.Any("panic", r),
					logging.String("stack", string(debug.Stack())),
				)
			}
		}()
		result, execErr = m.execute(jobCtx, logger, job, modeSwitch)
	}()

	m.finalize(ctx, logger, job, result, execErr, started)
}

// execute resolves the seed and output name, then blocks on the worker.
func (m *Manager) execute(ctx context.Context, logger *slog.Logger, job *queue.Job, modeSwitch bool) (Result, error) {
	if modeSwitch {
		logger.Info("reference image mode changed; releasing models before submit",
			logging.Bool("use_reference_image", job.Params.UseReferenceImage),
		)
		if err := m.reclaim(ctx, ReclaimModeSwitch); err != nil && ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
	}

	if job.Params.Seed == nil {
		seed := rand.Uint32()
		job.Params.Seed = &seed
	}
	m.recordSeed(job.ID, *job.Params.Seed)

	prefix := strings.TrimSpace(job.Params.FilePrefix)
	relative, absolute, err := fileutil.NextIndexedPath(m.outputDir, job.Params.Subfolder, prefix, outputExtension)
	if err != nil {
		return Result{}, services.Wrap(services.ErrConfiguration, "dispatcher", "resolve output", "", err)
	}
	job.ResultRef = relative

	return m.worker.Submit(ctx, Request{
		JobID:        job.ID,
		Params:       job.Params.Clone(),
		OutputPath:   absolute,
		RelativePath: relative,
	})
}

func (m *Manager) recordSeed(id string, seed uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil && m.active.ID == id {
		m.active.Params.Seed = &seed
	}
}

// finalize records the outcome, moves the job into history, and persists.
func (m *Manager) finalize(ctx context.Context, logger *slog.Logger, job *queue.Job, result Result, execErr error, started time.Time) {
	now := m.now()
	resultRef := job.ResultRef
	if result.RelativePath != "" {
		resultRef = result.RelativePath
	}
	if execErr == nil {
		job.SetCompleted(now, resultRef)
	} else {
		message := strings.TrimSpace(execErr.Error())
		if ctx.Err() != nil && errors.Is(execErr, context.Canceled) {
			message = queue.DaemonStopReason
		}
		job.ResultRef = ""
		job.SetFailed(now, message)
	}
	finished := job.Clone()

	m.mu.Lock()
	m.active = nil
	m.history.PushFront(finished)
	if execErr != nil {
		m.lastErr = execErr
	}
	summary, drained := m.run.record(finished.Status, m.pending.Len() == 0, now)
	m.mu.Unlock()

	persistCtx := context.WithoutCancel(ctx)
	m.persist(persistCtx)
	elapsed := now.Sub(started)
	m.metrics.observeFinished(string(finished.Status), elapsed)

	if execErr == nil {
		logger.Info("generation completed",
			logging.String(logging.FieldEventType, "job_complete"),
			logging.String("result", resultRef),
			logging.Uint64("seed", uint64(*finished.Params.Seed)),
			logging.Int64("bytes", result.Bytes),
			logging.Duration("duration", elapsed),
		)
	} else {
		logging.ErrorWithContext(logger, "generation failed", "job_failed",
			logging.Error(execErr),
			logging.String(logging.FieldErrorHint, services.FailureHint(execErr)),
			logging.Alert("job_failure"),
			logging.Duration("duration", elapsed),
		)
		if ctx.Err() == nil {
			m.publish(notificationsJobFailed(finished))
		}
	}
	if drained && ctx.Err() == nil {
		m.publish(notificationsQueueCompleted(summary))
	}
	m.signal()
}

// releaseActive clears the active slot if a panic escaped finalize.
func (m *Manager) releaseActive(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil && m.active.ID == id {
		m.active = nil
	}
}
