package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ferry/internal/config"
	"ferry/internal/ingest"
	"ferry/internal/notifications"
)

type captured struct {
	title    string
	tags     string
	priority string
	agent    string
	body     string
	calls    int
}

func captureServer(t *testing.T, status int) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		got.calls++
		got.title = r.Header.Get("Title")
		got.tags = r.Header.Get("Tags")
		got.priority = r.Header.Get("Priority")
		got.agent = r.Header.Get("User-Agent")
		body, _ := io.ReadAll(r.Body)
		got.body = string(body)
		w.WriteHeader(status)
		if status >= 300 {
			_, _ = w.Write([]byte("topic closed"))
		}
	}))
	t.Cleanup(server.Close)
	return server, got
}

func ntfyConfig(url string) *config.Config {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = url
	cfg.Notifications.RequestTimeout = 5
	cfg.Notifications.RunStarted = true
	return &cfg
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyRunCompleted(context.Background(), ingest.RunSummary{Kind: "upload"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
	if err := svc.TestNotification(context.Background()); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		send           func(notifications.Service) error
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name: "run started",
			send: func(s notifications.Service) error {
				return s.NotifyRunStarted(context.Background(), "upload", 3)
			},
			expectTitle:   "Ferry - Upload Started",
			expectMessage: "Uploading 3 transcripts",
			expectTags:    "ferry,upload,started",
		},
		{
			name: "upload completed",
			send: func(s notifications.Service) error {
				return s.NotifyRunCompleted(context.Background(), ingest.RunSummary{
					Kind: "upload", Attempted: 4, Succeeded: 4, Duration: 95 * time.Second,
				})
			},
			expectTitle:   "Ferry - Upload Complete",
			expectMessage: "Upload complete: 4 transcripts in 1m35s",
			expectTags:    "ferry,upload,completed",
		},
		{
			name: "delete completed with errors",
			send: func(s notifications.Service) error {
				return s.NotifyRunCompleted(context.Background(), ingest.RunSummary{
					Kind: "delete", Attempted: 3, Succeeded: 2, Failed: 1, Duration: 2 * time.Second,
				})
			},
			expectTitle:    "Ferry - Delete Complete (with errors)",
			expectMessage:  "Delete complete: 2 succeeded, 1 failed in 2s",
			expectTags:     "ferry,delete,completed",
			expectPriority: "high",
		},
		{
			name: "cancelled",
			send: func(s notifications.Service) error {
				return s.NotifyRunCompleted(context.Background(), ingest.RunSummary{
					Kind: "upload", Attempted: 5, Succeeded: 1, Cancelled: true, Duration: 10 * time.Second,
				})
			},
			expectTitle:   "Ferry - Upload Cancelled",
			expectMessage: "Upload cancelled after 10s: 1 succeeded, 0 failed of 5",
			expectTags:    "ferry,upload,completed",
		},
		{
			name: "error",
			send: func(s notifications.Service) error {
				return s.NotifyError(context.Background(), errors.New("connection refused"), "corpus server")
			},
			expectTitle:    "Ferry - Error",
			expectMessage:  "Error with corpus server: connection refused",
			expectTags:     "ferry,error,alert",
			expectPriority: "high",
		},
		{
			name:           "test",
			send:           func(s notifications.Service) error { return s.TestNotification(context.Background()) },
			expectTitle:    "Ferry - Test",
			expectMessage:  "Notification system test",
			expectTags:     "ferry,test",
			expectPriority: "low",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server, got := captureServer(t, http.StatusOK)
			svc := notifications.NewService(ntfyConfig(server.URL))
			if err := tc.send(svc); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}
			if got.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, got.title)
			}
			if got.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, got.body)
			}
			if got.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, got.tags)
			}
			if got.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, got.priority)
			}
			if got.agent != "ferry/dev" {
				t.Fatalf("expected configured user agent, got %q", got.agent)
			}
		})
	}
}

func TestNtfyServiceHonoursToggles(t *testing.T) {
	server, got := captureServer(t, http.StatusOK)
	cfg := ntfyConfig(server.URL)
	cfg.Notifications.RunStarted = false
	cfg.Notifications.RunCompleted = false
	cfg.Notifications.Errors = false

	svc := notifications.NewService(cfg)
	ctx := context.Background()
	_ = svc.NotifyRunStarted(ctx, "upload", 1)
	_ = svc.NotifyRunCompleted(ctx, ingest.RunSummary{Kind: "upload"})
	_ = svc.NotifyError(ctx, errors.New("boom"), "")
	if got.calls != 0 {
		t.Fatalf("expected suppressed notifications, got %d calls", got.calls)
	}

	if err := svc.TestNotification(ctx); err != nil {
		t.Fatalf("TestNotification: %v", err)
	}
	if got.calls != 1 {
		t.Fatalf("test notification should ignore toggles, got %d calls", got.calls)
	}
}

func TestNtfyServiceReportsHTTPFailure(t *testing.T) {
	server, _ := captureServer(t, http.StatusForbidden)
	svc := notifications.NewService(ntfyConfig(server.URL))

	err := svc.TestNotification(context.Background())
	if err == nil || !strings.Contains(err.Error(), "403") || !strings.Contains(err.Error(), "topic closed") {
		t.Fatalf("expected status error, got %v", err)
	}
}
