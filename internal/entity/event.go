package entity

import "log/slog"

// ProgressEvent is a structured update emitted by the executor for one item.
type ProgressEvent struct {
	ID              string `json:"id"`
	Status          Status `json:"status"`
	Progress        int    `json:"progress"`
	Speed           string `json:"speed,omitempty"`
	ETA             string `json:"eta,omitempty"`
	DownloadedBytes int64  `json:"downloadedBytes,omitempty"`
	TotalBytes      int64  `json:"totalBytes,omitempty"`
	Error           string `json:"error,omitempty"`
	FilePath        string `json:"filePath,omitempty"`
}

// IsTerminal reports whether the event ends the current executor run.
func (e ProgressEvent) IsTerminal() bool {
	return e.Status == StatusCompleted || e.Status == StatusFailed || e.Status == StatusCancelled
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (e ProgressEvent) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", e.ID),
		slog.String("status", string(e.Status)),
		slog.Int("progress", e.Progress),
		slog.String("speed", e.Speed),
		slog.String("eta", e.ETA),
		slog.String("error", e.Error),
		slog.String("file_path", e.FilePath),
	)
}

// TransferRequest is the submitTransfer command payload.
type TransferRequest struct {
	ID              string
	URL             string
	Quality         string
	Format          string
	OutputDir       string
	ConvertFormat   string
	KeepOriginal    bool
	OutputName      string
	DuplicateAction DuplicateAction
}

// ConversionRequest is the submitConversion command payload.
type ConversionRequest struct {
	ID            string
	InputPath     string
	OutputPath    string
	ConvertFormat string
	KeepOriginal  bool
}
