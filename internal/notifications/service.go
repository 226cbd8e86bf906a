package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"imaginer/internal/config"
)

const userAgent = "imaginer/0.1.0"

// Event names a dispatcher milestone.
type Event string

const (
	EventJobFailed          Event = "job_failed"
	EventQueueStarted       Event = "queue_started"
	EventQueueCompleted     Event = "queue_completed"
	EventResourcesReclaimed Event = "resources_reclaimed"
	EventTest               Event = "test"
)

// Payload carries event-specific values keyed by name.
type Payload map[string]any

// Service defines the notification surface exposed to dispatcher components.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventJobFailed:          cfg.Notifications.JobFailed,
			EventQueueStarted:       false,
			EventQueueCompleted:     cfg.Notifications.QueueDrained,
			EventResourcesReclaimed: cfg.Notifications.Reclaim,
			EventTest:               true,
		},
		minQueueItems: cfg.Notifications.QueueMinItems,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint      string
	client        *http.Client
	enabled       map[Event]bool
	minQueueItems int
}

func (n *ntfyService) Publish(ctx context.Context, event Event, data Payload) error {
	if !n.enabled[event] {
		return nil
	}
	if event == EventQueueCompleted && payloadInt(data, "processed")+payloadInt(data, "failed") < n.minQueueItems {
		return nil
	}
	msg, ok := format(event, data)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, data Payload) (payload, bool) {
	switch event {
	case EventJobFailed:
		prompt := truncate(payloadString(data, "prompt"), 80)
		return payload{
			title:    "Imaginer - Generation Failed",
			message:  fmt.Sprintf("❌ %s\n%s", prompt, payloadString(data, "error")),
			tags:     []string{"imaginer", "error", "alert"},
			priority: "high",
		}, true
	case EventQueueCompleted:
		processed := payloadInt(data, "processed")
		failed := payloadInt(data, "failed")
		duration := payloadDuration(data, "duration").Round(time.Second)
		if duration < 0 {
			duration = 0
		}
		if failed == 0 {
			return payload{
				title:   "Imaginer - Queue Complete",
				message: fmt.Sprintf("🖼️ %d images generated in %s", processed, duration),
				tags:    []string{"imaginer", "queue", "completed"},
			}, true
		}
		return payload{
			title:   "Imaginer - Queue Complete (with errors)",
			message: fmt.Sprintf("%d succeeded, %d failed in %s", processed, failed, duration),
			tags:    []string{"imaginer", "queue", "completed"},
		}, true
	case EventResourcesReclaimed:
		return payload{
			title:    "Imaginer - Models Unloaded",
			message:  fmt.Sprintf("GPU memory released (%s)", payloadString(data, "reason")),
			tags:     []string{"imaginer", "reclaim"},
			priority: "low",
		}, true
	case EventTest:
		return payload{
			title:    "Imaginer - Test",
			message:  "🧪 Notification system test",
			tags:     []string{"imaginer", "test"},
			priority: "low",
		}, true
	default:
		return payload{}, false
	}
}

func payloadString(data Payload, key string) string {
	switch v := data[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case error:
		return strings.TrimSpace(v.Error())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func payloadInt(data Payload, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}

func payloadDuration(data Payload, key string) time.Duration {
	if v, ok := data[key].(time.Duration); ok {
		return v
	}
	return 0
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
