package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mediaflow/internal/config"
)

const userAgent = "Mediaflow-Go/0.1.0"

// Service defines the notification surface used by the runner and daemon.
type Service interface {
	NotifyRunStarted(ctx context.Context, eligible int) error
	NotifyRunCompleted(ctx context.Context, completed, failed int, duration time.Duration) error
	NotifyRecovery(ctx context.Context, resumed, completed, failed int) error
	NotifyTaskFailed(ctx context.Context, label, workflow, message string) error
	TestNotification(ctx context.Context) error
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
		run:      cfg.Notifications.Run,
		recovery: cfg.Notifications.Recovery,
		failures: cfg.Notifications.Failures,
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
	run      bool
	recovery bool
	failures bool
}

func (n *ntfyService) NotifyRunStarted(ctx context.Context, eligible int) error {
	if !n.run || eligible == 0 {
		return nil
	}
	data := payload{
		title:   "Mediaflow - Run Started",
		message: fmt.Sprintf("Processing %d eligible rows", eligible),
		tags:    []string{"mediaflow", "run", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRunCompleted(ctx context.Context, completed, failed int, duration time.Duration) error {
	if !n.run || completed+failed == 0 {
		return nil
	}
	duration = duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}

	title := "Mediaflow - Run Complete"
	message := fmt.Sprintf("Run complete: %d tasks completed in %s", completed, duration)
	if failed > 0 {
		title = "Mediaflow - Run Complete (with errors)"
		message = fmt.Sprintf("Run complete: %d succeeded, %d failed in %s", completed, failed, duration)
	}
	data := payload{
		title:   title,
		message: message,
		tags:    []string{"mediaflow", "run", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRecovery(ctx context.Context, resumed, completed, failed int) error {
	if !n.recovery || resumed+completed+failed == 0 {
		return nil
	}
	data := payload{
		title:   "Mediaflow - Recovery",
		message: fmt.Sprintf("Recovered interrupted tasks: %d resumed, %d completed, %d failed", resumed, completed, failed),
		tags:    []string{"mediaflow", "recovery"},
	}
	if failed > 0 {
		data.priority = "high"
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyTaskFailed(ctx context.Context, label, workflow, message string) error {
	if !n.failures {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("Task failed")
	if label = strings.TrimSpace(label); label != "" {
		builder.WriteString(" for ")
		builder.WriteString(label)
	}
	if workflow = strings.TrimSpace(workflow); workflow != "" {
		builder.WriteString(" (")
		builder.WriteString(workflow)
		builder.WriteString(")")
	}
	builder.WriteString(": ")
	if message = strings.TrimSpace(message); message != "" {
		builder.WriteString(message)
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Mediaflow - Error",
		message:  builder.String(),
		tags:     []string{"mediaflow", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Mediaflow - Test",
		message:  "Notification system test",
		tags:     []string{"mediaflow", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
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

func (noopService) NotifyRunStarted(context.Context, int) error                        { return nil }
func (noopService) NotifyRunCompleted(context.Context, int, int, time.Duration) error { return nil }
func (noopService) NotifyRecovery(context.Context, int, int, int) error                { return nil }
func (noopService) NotifyTaskFailed(context.Context, string, string, string) error     { return nil }
func (noopService) TestNotification(context.Context) error                             { return nil }
