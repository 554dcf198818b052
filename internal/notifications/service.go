package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dirjobs/internal/config"
)

const userAgent = "dirjobs/0.1.0"

// Event names a notification kind.
type Event string

const (
	EventJobFailed        Event = "job_failed"
	EventWorkerStopped    Event = "worker_stopped"
	EventTestNotification Event = "test"
)

// Payload carries event fields. Keys are documented per event in format.
type Payload map[string]any

// Service is the notification surface used by the worker and the CLI.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds an ntfy-backed service when a topic is configured and a
// no-op service otherwise.
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
			EventJobFailed:        cfg.Notifications.JobFailed,
			EventWorkerStopped:    cfg.Notifications.WorkerStopped,
			EventTestNotification: true,
		},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, data Payload) error {
	if !n.enabled[event] {
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
		job := stringValue(data, "job")
		worker := stringValue(data, "workerID")
		var b strings.Builder
		fmt.Fprintf(&b, "Job failed: %s", job)
		if worker != "" {
			fmt.Fprintf(&b, " (worker %s)", worker)
		}
		if reason := stringValue(data, "reason"); reason != "" {
			b.WriteString("\n")
			b.WriteString(reason)
		}
		return payload{
			title:    "dirjobs - Job Failed",
			message:  b.String(),
			tags:     []string{"dirjobs", "job", "failed"},
			priority: "high",
		}, true
	case EventWorkerStopped:
		worker := stringValue(data, "workerID")
		processed := intValue(data, "processed")
		failed := intValue(data, "failed")
		duration := durationValue(data, "duration").Round(time.Second)
		if duration < 0 {
			duration = 0
		}
		title := "dirjobs - Worker Stopped"
		message := fmt.Sprintf("Worker %s stopped: %d jobs processed in %s", worker, processed, duration)
		if failed > 0 {
			title = "dirjobs - Worker Stopped (with failures)"
			message = fmt.Sprintf("Worker %s stopped: %d succeeded, %d failed in %s", worker, processed-failed, failed, duration)
		}
		return payload{
			title:   title,
			message: message,
			tags:    []string{"dirjobs", "worker", "stopped"},
		}, true
	case EventTestNotification:
		return payload{
			title:    "dirjobs - Test",
			message:  "Notification system test",
			tags:     []string{"dirjobs", "test"},
			priority: "low",
		}, true
	}
	return payload{}, false
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

func stringValue(data Payload, key string) string {
	if data == nil {
		return ""
	}
	switch v := data[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	case error:
		return strings.TrimSpace(v.Error())
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func intValue(data Payload, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func durationValue(data Payload, key string) time.Duration {
	if v, ok := data[key].(time.Duration); ok {
		return v
	}
	return 0
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
