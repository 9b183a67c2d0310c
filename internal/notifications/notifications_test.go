package notifications

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"nagare/internal/config"
	"nagare/internal/entity"
	"nagare/internal/observability"
	"nagare/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewReturnsNoopWithoutTopic(t *testing.T) {
	n := New(logger.Discard(), config.Notify{NtfyTopic: "  "}, observability.New(prometheus.NewRegistry()))

	if _, ok := n.(Noop); !ok {
		t.Fatalf("New() = %T, want Noop", n)
	}

	if err := n.NotifyCompleted(context.Background(), entity.DownloadItem{}); err != nil {
		t.Errorf("Noop.NotifyCompleted() = %v", err)
	}
}

func TestNtfyPayloads(t *testing.T) {
	type captured struct {
		title, tags, priority, body string
	}

	var got captured

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got = captured{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		}
	}))
	defer srv.Close()

	n := New(logger.Discard(), config.Notify{NtfyTopic: srv.URL}, observability.New(prometheus.NewRegistry()))

	tests := []struct {
		name   string
		send   func(context.Context, entity.DownloadItem) error
		item   entity.DownloadItem
		want   captured
		inBody string
	}{
		{
			name:   "completed",
			send:   n.NotifyCompleted,
			item:   entity.DownloadItem{Title: "Clip", FilePath: "/d/Clip_720.mp4"},
			want:   captured{title: "nagare - Complete", tags: "nagare,download,completed"},
			inBody: "File: /d/Clip_720.mp4",
		},
		{
			name:   "failed without title",
			send:   n.NotifyFailed,
			item:   entity.DownloadItem{URL: "https://example.com/v", Error: "HTTP Error 403"},
			want:   captured{title: "nagare - Failed", tags: "nagare,download,failed", priority: "high"},
			inBody: "https://example.com/v\nHTTP Error 403",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.send(context.Background(), tt.item); err != nil {
				t.Fatalf("send = %v", err)
			}

			if got.title != tt.want.title || got.tags != tt.want.tags || got.priority != tt.want.priority {
				t.Errorf("headers = %+v, want %+v", got, tt.want)
			}

			if !strings.Contains(got.body, tt.inBody) {
				t.Errorf("body = %q, want to contain %q", got.body, tt.inBody)
			}
		})
	}
}

func TestNtfyErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "topic reserved", http.StatusForbidden)
	}))
	defer srv.Close()

	n := New(logger.Discard(), config.Notify{NtfyTopic: srv.URL}, observability.New(prometheus.NewRegistry()))

	err := n.NotifyFailed(context.Background(), entity.DownloadItem{Title: "x"})
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Errorf("NotifyFailed() = %v, want 403 error", err)
	}
}
