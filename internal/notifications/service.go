package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dubforge/internal/config"
)

const userAgent = "dubforge/0.1.0"

// Event identifies a notification type.
type Event string

const (
	EventJobCompleted   Event = "job_completed"
	EventJobFailed      Event = "job_failed"
	EventBatchCompleted Event = "batch_completed"
	EventTest           Event = "test"
)

// Payload carries event-specific values.
type Payload map[string]any

// Service publishes workflow events.
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
			EventJobCompleted:   cfg.Notifications.JobCompleted,
			EventJobFailed:      cfg.Notifications.JobFailed,
			EventBatchCompleted: cfg.Notifications.BatchCompleted,
			EventTest:           true,
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
	if n == nil || !n.enabled[event] {
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
	case EventJobCompleted:
		message := fmt.Sprintf("Dub ready: %s", text(data, "name"))
		if out := text(data, "output"); out != "" {
			message = fmt.Sprintf("%s\nFile: %s", message, out)
		}
		if drift := number(data, "drifted"); drift > 0 {
			message = fmt.Sprintf("%s\n%d segment(s) overrun their window", message, drift)
		}
		return payload{
			title:   "dubforge - Job Complete",
			message: message,
			tags:    []string{"dubforge", "job", "completed"},
		}, true
	case EventJobFailed:
		var b strings.Builder
		b.WriteString("Job failed")
		if name := text(data, "name"); name != "" {
			b.WriteString(": ")
			b.WriteString(name)
		}
		if stage := text(data, "stage"); stage != "" {
			fmt.Fprintf(&b, " (stage %s)", stage)
		}
		if reason := text(data, "error"); reason != "" {
			b.WriteString("\n")
			b.WriteString(reason)
		}
		return payload{
			title:    "dubforge - Job Failed",
			message:  b.String(),
			tags:     []string{"dubforge", "job", "failed"},
			priority: "high",
		}, true
	case EventBatchCompleted:
		succeeded, failed, cancelled := number(data, "succeeded"), number(data, "failed"), number(data, "cancelled")
		duration := "0s"
		if d, ok := data["duration"].(time.Duration); ok && d > 0 {
			duration = d.Round(time.Second).String()
		}
		title := "dubforge - Batch Complete"
		message := fmt.Sprintf("Batch %s complete: %d dubbed in %s", text(data, "label"), succeeded, duration)
		if failed > 0 || cancelled > 0 {
			title = "dubforge - Batch Complete (with errors)"
			message = fmt.Sprintf("Batch %s complete: %d succeeded, %d failed, %d cancelled in %s",
				text(data, "label"), succeeded, failed, cancelled, duration)
		}
		return payload{
			title:   title,
			message: message,
			tags:    []string{"dubforge", "batch", "completed"},
		}, true
	case EventTest:
		return payload{
			title:    "dubforge - Test",
			message:  "Notification system test",
			tags:     []string{"dubforge", "test"},
			priority: "low",
		}, true
	default:
		return payload{}, false
	}
}

func text(data Payload, key string) string {
	switch v := data[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case error:
		return strings.TrimSpace(v.Error())
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func number(data Payload, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n.client == nil {
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
