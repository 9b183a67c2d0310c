package downloader

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"nagare/internal/config"
	"nagare/internal/consts"
	"nagare/internal/entity"
	"nagare/internal/errs"
	"nagare/internal/observability"
	"nagare/internal/quality"
	"nagare/pkg/calc"
	"nagare/pkg/urls"
)

// URL markers steering the simulated outcome.
const (
	mockFailMarker      = "mock-fail"
	mockRateLimitMarker = "ratelimit"
	mockTotalBytes      = 50 << 20
	mockSteps           = 10
	mockPlaylistSize    = 3
	mockPlaylistBase    = 900001
)

// Mock simulates transfers and conversions without touching the network. It
// never writes files.
type Mock struct {
	log      *slog.Logger
	duration time.Duration
	*runner
}

var _ Executor = (*Mock)(nil)

// NewMock creates a simulated executor.
func NewMock(log *slog.Logger, cfg *config.Config, metrics *observability.Metrics) *Mock {
	log = log.With(slog.String("package", "downloader"), slog.String("executor", consts.ExecutorMock))

	duration := cfg.Executor.SimulateTime
	if duration <= 0 {
		duration = consts.DefaultSimulateTime
	}

	events := newEmitter(cfg.Queue.EventBuffer, eventInterval(cfg))

	return &Mock{
		log:      log,
		duration: duration,
		runner:   newRunner(log, consts.ExecutorMock, events, metrics),
	}
}

func eventInterval(cfg *config.Config) time.Duration {
	if cfg.Executor.ProgressInterval > 0 {
		return cfg.Executor.ProgressInterval
	}

	return consts.DefaultEventInterval
}

// FetchMetadata returns a fixed record with 1080p, 720p and 480p renditions.
func (m *Mock) FetchMetadata(ctx context.Context, url string) (entity.Metadata, error) {
	if err := m.checkURL(url); err != nil {
		return entity.Metadata{}, err
	}

	md, _ := m.FetchBasicMetadata(ctx, url)
	md.Uploader = "mock"
	md.Formats = []entity.Format{
		{FormatID: "137", Ext: "mp4", Resolution: "1920x1080", VCodec: "avc1", ACodec: "none"},
		{FormatID: "22", Ext: "mp4", Resolution: "1280x720", VCodec: "avc1", ACodec: "mp4a"},
		{FormatID: "135", Ext: "mp4", Resolution: "854x480", VCodec: "avc1", ACodec: "none"},
		{FormatID: "140", Ext: "m4a", Resolution: "audio only", VCodec: "none", ACodec: "mp4a"},
	}

	return md, nil
}

// FetchBasicMetadata returns a title derived from the URL.
func (m *Mock) FetchBasicMetadata(_ context.Context, url string) (entity.Metadata, error) {
	_, id := urls.MediaID(url)
	if id == "" {
		id = urls.Hostname(url)
	}

	return entity.Metadata{Title: "Mock " + id, Duration: 212}, nil
}

// FetchPlaylist lists mockPlaylistSize vimeo entries for any playlist URL and
// nothing for a single video.
func (m *Mock) FetchPlaylist(_ context.Context, url string) ([]entity.PlaylistEntry, error) {
	if err := m.checkURL(url); err != nil {
		return nil, err
	}

	if !urls.IsPlaylist(url) {
		return nil, nil
	}

	entries := make([]entity.PlaylistEntry, 0, mockPlaylistSize)
	for i := range mockPlaylistSize {
		entries = append(entries, entity.PlaylistEntry{
			URL:   fmt.Sprintf("https://vimeo.com/%d", mockPlaylistBase+i),
			Title: fmt.Sprintf("Mock Entry %d", i+1),
		})
	}

	return entries, nil
}

func (m *Mock) checkURL(url string) error {
	switch {
	case strings.Contains(url, mockRateLimitMarker):
		return fmt.Errorf("http error 429: %w", errs.ErrMetadataRecoverable)
	case strings.Contains(url, mockFailMarker):
		return fmt.Errorf("video unavailable: %w", errs.ErrMetadata)
	}

	return nil
}

// SubmitTransfer simulates a transfer of a fixed size over the configured duration.
func (m *Mock) SubmitTransfer(ctx context.Context, req entity.TransferRequest) error {
	log := m.log.With(slog.String("func", "SubmitTransfer"), slog.String("id", req.ID))

	return m.launch(ctx, req.ID, func(ctx context.Context, emit func(entity.ProgressEvent)) (string, error) {
		emit(entity.ProgressEvent{Status: entity.StatusDownloading})

		err := simulate(ctx, m.duration, func(p int, elapsed time.Duration) {
			done := int64(mockTotalBytes) * int64(p) / 100
			emit(entity.ProgressEvent{
				Status:          entity.StatusDownloading,
				Progress:        p,
				DownloadedBytes: done,
				TotalBytes:      mockTotalBytes,
				Speed:           calc.Speed(done, elapsed),
				ETA:             calc.FormatDuration(int(calc.ETA(done, mockTotalBytes, elapsed).Seconds())),
			})
		})
		if err != nil {
			return "", err
		}

		if strings.Contains(req.URL, mockFailMarker) {
			return "", fmt.Errorf("simulated failure: %w", errs.ErrTerminalTransfer)
		}

		name := req.OutputName
		if name == "" {
			name = "Mock Video" + quality.Suffix(req.Quality)
		}

		ext := req.Format
		if ext == "" {
			ext = "mp4"
		}

		path := filepath.Join(req.OutputDir, name+"."+ext)
		log.DebugContext(ctx, "simulated transfer done", slog.String("path", path))

		return path, nil
	})
}

// SubmitConversion simulates a conversion and reports OutputPath on completion.
func (m *Mock) SubmitConversion(ctx context.Context, req entity.ConversionRequest) error {
	return m.launch(ctx, req.ID, func(ctx context.Context, emit func(entity.ProgressEvent)) (string, error) {
		emit(entity.ProgressEvent{Status: entity.StatusConverting})

		err := simulate(ctx, m.duration, func(p int, _ time.Duration) {
			emit(entity.ProgressEvent{Status: entity.StatusConverting, Progress: p})
		})
		if err != nil {
			return "", err
		}

		return req.OutputPath, nil
	})
}

// Cancel stops the simulated run for id.
func (m *Mock) Cancel(_ context.Context, id string) error {
	m.cancel(id)

	return nil
}

// Events returns the progress stream.
func (m *Mock) Events() <-chan entity.ProgressEvent {
	return m.events.out
}

// Close stops every run and closes Events.
func (m *Mock) Close() {
	m.close()
}

// simulate ticks progress from 10 to 100 percent over duration.
func simulate(ctx context.Context, duration time.Duration, progressFn func(progress int, elapsed time.Duration)) error {
	ticker := time.NewTicker(duration / mockSteps)
	defer ticker.Stop()

	start := time.Now()

	for step := 1; step <= mockSteps; step++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			progressFn(step*(100/mockSteps), time.Since(start))
		}
	}

	return nil
}
