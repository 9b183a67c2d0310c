// Package downloader runs transfers and conversions out of process and reports
// them as a stream of progress events.
package downloader

import (
	"context"
	"log/slog"

	"nagare/internal/config"
	"nagare/internal/consts"
	"nagare/internal/entity"
	"nagare/internal/observability"
	"nagare/internal/proxymgr"
)

// MetadataFetcher is the metadata side of an Executor.
type MetadataFetcher interface {
	// FetchMetadata returns the full record including formats.
	FetchMetadata(ctx context.Context, url string) (entity.Metadata, error)
	// FetchBasicMetadata returns a minimal record (title, duration, thumbnail).
	FetchBasicMetadata(ctx context.Context, url string) (entity.Metadata, error)
	// FetchPlaylist lists the entries of a playlist URL without resolving them.
	FetchPlaylist(ctx context.Context, url string) ([]entity.PlaylistEntry, error)
}

// Executor runs transfers and conversions asynchronously. Submit calls return
// as soon as the run is registered. Every run reports on Events and ends with
// exactly one terminal event unless it is cancelled.
type Executor interface {
	MetadataFetcher

	SubmitTransfer(ctx context.Context, req entity.TransferRequest) error
	SubmitConversion(ctx context.Context, req entity.ConversionRequest) error
	// Cancel stops the run for id. No terminal event follows.
	Cancel(ctx context.Context, id string) error
	// Events is closed by Close once every run has returned.
	Events() <-chan entity.ProgressEvent
	Close()
}

// New returns the executor selected by cfg.Executor.Kind.
func New(log *slog.Logger, cfg *config.Config, proxies *proxymgr.Manager, metrics *observability.Metrics) Executor {
	if cfg.Executor.Kind == consts.ExecutorMock {
		return NewMock(log, cfg, metrics)
	}

	return NewYTdlp(log, cfg, proxies, metrics)
}
