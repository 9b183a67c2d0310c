// Package entity defines the core entities used in the application.
package entity

import (
	"log/slog"
	"time"
)

// Status represents the lifecycle status of a download item.
type Status string

const (
	// StatusQueued indicates that the item is admitted and waiting to start.
	StatusQueued Status = "queued"
	// StatusDownloading indicates that the transfer is running in the executor.
	StatusDownloading Status = "downloading"
	// StatusConverting indicates that the conversion is running in the executor.
	StatusConverting Status = "converting"
	// StatusCompleted indicates that the item finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed indicates a terminal transfer failure. Only Retry leaves it.
	StatusFailed Status = "failed"
	// StatusCancelled indicates that the item was stopped by the user.
	StatusCancelled Status = "cancelled"
	// StatusPaused indicates that the item was paused by the user.
	StatusPaused Status = "paused"
	// StatusDuplicate is an admission outcome: a prompt answered with skip.
	StatusDuplicate Status = "duplicate"
	// StatusSkipped is an admission outcome: dropped by a skip policy.
	StatusSkipped Status = "skipped"
)

// IsActive reports whether the status may move to Failed, Cancelled or Paused.
func (s Status) IsActive() bool {
	return s == StatusQueued || s == StatusDownloading || s == StatusConverting
}

// IsRunning reports whether the executor is working on the item.
func (s Status) IsRunning() bool {
	return s == StatusDownloading || s == StatusConverting
}

// ParseStatus converts a string into a Status.
func ParseStatus(raw string) (Status, bool) {
	switch s := Status(raw); s {
	case StatusQueued, StatusDownloading, StatusConverting, StatusCompleted, StatusFailed,
		StatusCancelled, StatusPaused, StatusDuplicate, StatusSkipped:
		return s, true
	default:
		return "", false
	}
}

// DuplicateKind tells which probe flagged a submission.
type DuplicateKind string

const (
	DuplicateKindURL  DuplicateKind = "url"
	DuplicateKindFile DuplicateKind = "file"
)

// DuplicateAction is the action chosen for an admitted duplicate.
type DuplicateAction string

const (
	DuplicateActionOverwrite DuplicateAction = "overwrite"
	DuplicateActionSkip      DuplicateAction = "skip"
	DuplicateActionRename    DuplicateAction = "rename"
	// DuplicateActionAllow admits a URL duplicate. It is never stored on an item.
	DuplicateActionAllow DuplicateAction = "allow"
)

// ParseDuplicateAction converts a string into a DuplicateAction.
func ParseDuplicateAction(raw string) (DuplicateAction, bool) {
	switch a := DuplicateAction(raw); a {
	case DuplicateActionOverwrite, DuplicateActionSkip, DuplicateActionRename, DuplicateActionAllow:
		return a, true
	default:
		return "", false
	}
}

// DownloadItem is one URL's full transfer and conversion lifecycle record.
type DownloadItem struct {
	ID  string `json:"id"`
	Seq int64  `json:"seq"`

	URL           string `json:"url"`
	Platform      string `json:"platform"`
	Title         string `json:"title"`
	Duration      int    `json:"duration,omitempty"` // seconds
	DurationLabel string `json:"durationLabel,omitempty"`
	Thumbnail     string `json:"thumbnail,omitempty"`

	Status           Status `json:"status"`
	Progress         int    `json:"progress"`
	RequestedQuality string `json:"requestedQuality"`
	ResolvedQuality  string `json:"resolvedQuality,omitempty"`
	Format           string `json:"format,omitempty"`
	ConvertFormat    string `json:"convertFormat,omitempty"`
	AutoConvert      bool   `json:"autoConvert"`
	KeepOriginal     bool   `json:"keepOriginal"`
	OutputDir        string `json:"outputDir"`
	OutputName       string `json:"outputName,omitempty"`

	Speed           string `json:"speed,omitempty"`
	ETA             string `json:"eta,omitempty"`
	DownloadedBytes int64  `json:"downloadedBytes,omitempty"`
	TotalBytes      int64  `json:"totalBytes,omitempty"`
	Error           string `json:"error,omitempty"`

	FilePath            string          `json:"filePath,omitempty"`
	IsDuplicate         bool            `json:"isDuplicate"`
	DuplicateKind       DuplicateKind   `json:"duplicateKind,omitempty"`
	DuplicateAction     DuplicateAction `json:"duplicateAction,omitempty"`
	MetadataLoading     bool            `json:"metadataLoading"`
	ConversionScheduled bool            `json:"conversionScheduled"`
	StartRequested      bool            `json:"startRequested"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ResetTelemetry clears the transient transfer fields.
func (d *DownloadItem) ResetTelemetry() {
	d.Speed = ""
	d.ETA = ""
	d.DownloadedBytes = 0
	d.TotalBytes = 0
	d.Error = ""
}

// SetProgress stores progress clamped to [0,100].
func (d *DownloadItem) SetProgress(p int) {
	d.Progress = max(0, min(100, p))
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (d DownloadItem) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", d.ID),
		slog.String("url", d.URL),
		slog.String("status", string(d.Status)),
		slog.Int("progress", d.Progress),
		slog.String("quality", d.RequestedQuality),
		slog.String("resolved_quality", d.ResolvedQuality),
		slog.Bool("auto_convert", d.AutoConvert),
		slog.Bool("duplicate", d.IsDuplicate),
	)
}

// ExtractedURL is an ephemeral submission candidate found in user input.
type ExtractedURL struct {
	URL           string `json:"url"`
	Platform      string `json:"platform"`
	IsPlaylist    bool   `json:"isPlaylist"`
	PlaylistCount int    `json:"playlistCount,omitempty"`
	Valid         bool   `json:"valid"`
	Title         string `json:"title,omitempty"`
}
