package workflow

import (
	"context"
	"errors"
	"time"

	"imaginer/internal/logging"
	"imaginer/internal/notifications"
	"imaginer/internal/queue"
)

// queueRun tracks one busy period, from the first dispatch after the queue was
// empty until it drains again.
type queueRun struct {
	active    bool
	started   time.Time
	processed int
	failed    int
}

// RunSummary describes a drained busy period.
type RunSummary struct {
	Processed int
	Failed    int
	Duration  time.Duration
}

func (r *queueRun) begin(now time.Time) {
	if r.active {
		return
	}
	*r = queueRun{active: true, started: now}
}

// record counts a finished job and closes the run when nothing is pending.
func (r *queueRun) record(status queue.Status, drained bool, now time.Time) (RunSummary, bool) {
	if !r.active {
		return RunSummary{}, false
	}
	if status == queue.StatusCompleted {
		r.processed++
	} else {
		r.failed++
	}
	if !drained {
		return RunSummary{}, false
	}
	summary := RunSummary{Processed: r.processed, Failed: r.failed, Duration: now.Sub(r.started)}
	*r = queueRun{}
	return summary, true
}

type notification struct {
	event   notifications.Event
	payload notifications.Payload
}

func notificationsJobFailed(job *queue.Job) notification {
	return notification{
		event: notifications.EventJobFailed,
		payload: notifications.Payload{
			"job_id": job.ID,
			"prompt": job.Params.Prompt,
			"error":  job.Error,
		},
	}
}

func notificationsQueueCompleted(summary RunSummary) notification {
	return notification{
		event: notifications.EventQueueCompleted,
		payload: notifications.Payload{
			"processed": summary.Processed,
			"failed":    summary.Failed,
			"duration":  summary.Duration,
		},
	}
}

// outboxSize bounds notifications waiting for the sender goroutine.
const outboxSize = 32

// publish queues n for the sender goroutine and never blocks. Notifications
// are dropped when the outbox is full.
func (m *Manager) publish(n notification) {
	if m.notifier == nil {
		return
	}
	select {
	case m.outbox <- n:
	default:
		m.logger.Warn("notification outbox full, dropping event",
			logging.String(logging.FieldEventType, "notification_dropped"),
			logging.String("event", string(n.event)),
		)
	}
}

// sendLoop delivers queued notifications until ctx is cancelled.
func (m *Manager) sendLoop(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-m.outbox:
			m.send(ctx, n)
		}
	}
}

func (m *Manager) send(ctx context.Context, n notification) {
	if err := m.notifier.Publish(ctx, n.event, n.payload); err != nil {
		if errors.Is(err, context.Canceled) {
			m.logger.Debug("daemon shutting down, notification skipped", logging.String("event", string(n.event)))
			return
		}
		m.logger.Debug("notification failed", logging.String("event", string(n.event)), logging.Error(err))
	}
}
