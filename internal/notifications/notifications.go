// Package notifications publishes terminal item transitions to ntfy.
package notifications

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"nagare/internal/config"
	"nagare/internal/consts"
	"nagare/internal/entity"
)

const userAgent = "nagare/1"

// Notifier sends one message per finished item.
type Notifier interface {
	NotifyCompleted(ctx context.Context, item entity.DownloadItem) error
	NotifyFailed(ctx context.Context, item entity.DownloadItem) error
}

// Metrics is the subset of observability.Metrics used by the notifier.
type Metrics interface {
	RecordNotification(result string)
}

// New returns an ntfy notifier, or a Noop when no topic is configured.
func New(log *slog.Logger, cfg config.Notify, metrics Metrics) Notifier {
	topic := strings.TrimSpace(cfg.NtfyTopic)
	if topic == "" {
		return Noop{}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = consts.DefaultNotifyTimeout
	}

	return &Ntfy{
		log:      log.With(slog.String("package", "notifications")),
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		metrics:  metrics,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

// Ntfy posts plain-text messages to an ntfy topic URL.
type Ntfy struct {
	log      *slog.Logger
	endpoint string
	client   *http.Client
	metrics  Metrics
}

var _ Notifier = (*Ntfy)(nil)

// NotifyCompleted announces a finished download or conversion.
func (n *Ntfy) NotifyCompleted(ctx context.Context, item entity.DownloadItem) error {
	message := "Download complete: " + displayTitle(item)
	if item.FilePath != "" {
		message += "\nFile: " + item.FilePath
	}

	return n.send(ctx, payload{
		title:   "nagare - Complete",
		message: message,
		tags:    []string{"nagare", "download", "completed"},
	})
}

// NotifyFailed announces a terminal failure.
func (n *Ntfy) NotifyFailed(ctx context.Context, item entity.DownloadItem) error {
	message := "Download failed: " + displayTitle(item)
	if reason := strings.TrimSpace(item.Error); reason != "" {
		message += "\n" + reason
	}

	return n.send(ctx, payload{
		title:    "nagare - Failed",
		message:  message,
		tags:     []string{"nagare", "download", "failed"},
		priority: "high",
	})
}

func (n *Ntfy) send(ctx context.Context, data payload) error {
	err := n.post(ctx, data)
	if err != nil {
		n.metrics.RecordNotification("error")
		n.log.WarnContext(ctx, "notification not sent", slog.String("title", data.title), slog.Any("error", err))

		return err
	}

	n.metrics.RecordNotification("sent")

	return nil
}

func (n *Ntfy) post(ctx context.Context, data payload) error {
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

	if data.priority != "" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))

		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	_, _ = io.Copy(io.Discard, resp.Body)

	return nil
}

func displayTitle(item entity.DownloadItem) string {
	if t := strings.TrimSpace(item.Title); t != "" {
		return t
	}

	return item.URL
}

// Noop discards every notification.
type Noop struct{}

var _ Notifier = Noop{}

func (Noop) NotifyCompleted(context.Context, entity.DownloadItem) error { return nil }
func (Noop) NotifyFailed(context.Context, entity.DownloadItem) error    { return nil }
