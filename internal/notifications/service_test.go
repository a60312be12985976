package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dubforge/internal/config"
	"dubforge/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventJobCompleted, notifications.Payload{"name": "film.mkv"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:          "job completed",
			event:         notifications.EventJobCompleted,
			payload:       notifications.Payload{"name": "film.mkv", "output": "/out/film.es.mkv"},
			expectTitle:   "dubforge - Job Complete",
			expectMessage: "Dub ready: film.mkv\nFile: /out/film.es.mkv",
			expectTags:    "dubforge,job,completed",
		},
		{
			name:          "job completed with drift",
			event:         notifications.EventJobCompleted,
			payload:       notifications.Payload{"name": "film.mkv", "drifted": 2},
			expectTitle:   "dubforge - Job Complete",
			expectMessage: "Dub ready: film.mkv\n2 segment(s) overrun their window",
			expectTags:    "dubforge,job,completed",
		},
		{
			name:  "job failed",
			event: notifications.EventJobFailed,
			payload: notifications.Payload{
				"name":  "film.mkv",
				"stage": "translate",
				"error": errors.New("llm unavailable"),
			},
			expectTitle:    "dubforge - Job Failed",
			expectMessage:  "Job failed: film.mkv (stage translate)\nllm unavailable",
			expectTags:     "dubforge,job,failed",
			expectPriority: "high",
		},
		{
			name:  "batch with failures",
			event: notifications.EventBatchCompleted,
			payload: notifications.Payload{
				"label":     "season-1",
				"succeeded": 2,
				"failed":    1,
				"duration":  90 * time.Second,
			},
			expectTitle:   "dubforge - Batch Complete (with errors)",
			expectMessage: "Batch season-1 complete: 2 succeeded, 1 failed, 0 cancelled in 1m30s",
			expectTags:    "dubforge,batch,completed",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title    string
				tags     string
				priority string
				body     string
			}

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Fatalf("unexpected method: %s", r.Method)
				}
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				body, err := io.ReadAll(r.Body)
				if err != nil {
					t.Fatalf("read body: %v", err)
				}
				captured.body = string(body)
				_ = r.Body.Close()
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeout = 5
			cfg.Notifications.JobCompleted = true
			cfg.Notifications.JobFailed = true
			cfg.Notifications.BatchCompleted = true

			svc := notifications.NewService(&cfg)
			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			if captured.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, captured.title)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, captured.body)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, captured.tags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, captured.priority)
			}
		})
	}
}

func TestNtfyServiceIgnoresDisabledEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected call for disabled event: %s", r.Header.Get("Title"))
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.JobCompleted = false
	cfg.Notifications.BatchCompleted = false

	svc := notifications.NewService(&cfg)
	for _, event := range []notifications.Event{notifications.EventJobCompleted, notifications.EventBatchCompleted, "unknown"} {
		if err := svc.Publish(context.Background(), event, notifications.Payload{"name": "ignored"}); err != nil {
			t.Fatalf("expected no error for disabled event %s, got %v", event, err)
		}
	}
}

func TestNtfyServiceReportsServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic blocked", http.StatusForbidden)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventTest, nil); err == nil {
		t.Fatal("expected error for 403 response")
	}
}
