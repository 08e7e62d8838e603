package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ferry/internal/config"
	"ferry/internal/ingest"
)

const defaultUserAgent = "ferry/dev"

// Service defines the notification surface used by the CLI.
type Service interface {
	NotifyRunStarted(ctx context.Context, kind string, count int) error
	NotifyRunCompleted(ctx context.Context, summary ingest.RunSummary) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// NewService builds an ntfy-backed service when a topic is configured and a
// no-op one otherwise.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	agent := strings.TrimSpace(cfg.Server.UserAgent)
	if agent == "" {
		agent = defaultUserAgent
	}

	return &ntfyService{
		endpoint:     topic,
		client:       &http.Client{Timeout: timeout},
		userAgent:    agent,
		runStarted:   cfg.Notifications.RunStarted,
		runCompleted: cfg.Notifications.RunCompleted,
		errors:       cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint  string
	client    *http.Client
	userAgent string

	runStarted   bool
	runCompleted bool
	errors       bool
}

func (n *ntfyService) NotifyRunStarted(ctx context.Context, kind string, count int) error {
	if !n.runStarted {
		return nil
	}
	noun := "transcripts"
	if count == 1 {
		noun = "transcript"
	}
	return n.send(ctx, payload{
		title:   "Ferry - " + runLabel(kind) + " Started",
		message: fmt.Sprintf("%s %d %s", runVerb(kind), count, noun),
		tags:    []string{"ferry", kind, "started"},
	})
}

func (n *ntfyService) NotifyRunCompleted(ctx context.Context, summary ingest.RunSummary) error {
	if !n.runCompleted {
		return nil
	}
	duration := summary.Duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}

	label := runLabel(summary.Kind)
	data := payload{tags: []string{"ferry", summary.Kind, "completed"}}
	switch {
	case summary.Cancelled:
		data.title = "Ferry - " + label + " Cancelled"
		data.message = fmt.Sprintf("%s cancelled after %s: %d succeeded, %d failed of %d",
			label, duration, summary.Succeeded, summary.Failed, summary.Attempted)
	case summary.Failed > 0:
		data.title = "Ferry - " + label + " Complete (with errors)"
		data.message = fmt.Sprintf("%s complete: %d succeeded, %d failed in %s",
			label, summary.Succeeded, summary.Failed, duration)
		data.priority = "high"
	default:
		data.title = "Ferry - " + label + " Complete"
		data.message = fmt.Sprintf("%s complete: %d transcripts in %s", label, summary.Succeeded, duration)
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	if !n.errors {
		return nil
	}
	var b strings.Builder
	b.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		b.WriteString(" with ")
		b.WriteString(contextLabel)
	}
	b.WriteString(": ")
	if err != nil {
		b.WriteString(strings.TrimSpace(err.Error()))
	} else {
		b.WriteString("unknown")
	}
	return n.send(ctx, payload{
		title:    "Ferry - Error",
		message:  b.String(),
		tags:     []string{"ferry", "error", "alert"},
		priority: "high",
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "Ferry - Test",
		message:  "Notification system test",
		tags:     []string{"ferry", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", n.userAgent)
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

func runLabel(kind string) string {
	if kind == "delete" {
		return "Delete"
	}
	return "Upload"
}

func runVerb(kind string) string {
	if kind == "delete" {
		return "Deleting"
	}
	return "Uploading"
}

type noopService struct{}

func (noopService) NotifyRunStarted(context.Context, string, int) error         { return nil }
func (noopService) NotifyRunCompleted(context.Context, ingest.RunSummary) error { return nil }
func (noopService) NotifyError(context.Context, error, string) error            { return nil }
func (noopService) TestNotification(context.Context) error                      { return nil }
