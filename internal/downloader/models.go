package downloader

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"nagare/internal/entity"
	"nagare/pkg/calc"

	"github.com/lrstanley/go-ytdlp"
)

// Result wraps ytdlp.Result for custom logging.
type Result struct {
	*ytdlp.Result
}

// LogValue implements the slog.LogValuer interface for custom logging of Result.
func (r Result) LogValue() slog.Value {
	if r.Result == nil {
		return slog.GroupValue(slog.String("error", "nil result"))
	}

	var outputLogs strings.Builder
	for _, l := range r.OutputLogs {
		fmt.Fprintf(&outputLogs, "%s\n", l)
	}

	return slog.GroupValue(
		slog.String("executable", r.Executable),
		slog.String("args", fmt.Sprintf("%v", r.Args)),
		slog.String("stderr", r.Stderr),
		slog.String("output_logs", outputLogs.String()),
	)
}

// ProgressUpdate wraps ytdlp.ProgressUpdate for custom logging.
type ProgressUpdate struct {
	*ytdlp.ProgressUpdate
}

// LogValue implements the slog.LogValuer interface for custom logging of ProgressUpdate.
func (p ProgressUpdate) LogValue() slog.Value {
	if p.ProgressUpdate == nil {
		return slog.GroupValue(slog.String("error", "nil progress update"))
	}

	downloaded, total := int64(p.DownloadedBytes), int64(p.TotalBytes)

	return slog.GroupValue(
		slog.String("filename", p.Filename),
		slog.String("status", fmt.Sprintf("%v", p.Status)),
		slog.Int64("downloaded_bytes", downloaded),
		slog.Int64("total_bytes", total),
		slog.Int("fragment_index", p.FragmentIndex),
		slog.Int("fragment_count", p.FragmentCount),
		slog.Int("progress", calc.Progress(downloaded, total)),
		slog.Time("started", p.Started),
		slog.String("eta", calc.ETA(downloaded, total, time.Since(p.Started)).String()),
	)
}

// ResultJSON is the subset of the yt-dlp info JSON used for metadata.
type ResultJSON struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Uploader    string       `json:"uploader"`
	Channel     string       `json:"channel"`
	Duration    float64      `json:"duration"`
	Thumbnail   string       `json:"thumbnail"`
	ViewCount   float64      `json:"view_count"`
	UploadDate  string       `json:"upload_date"`
	Formats     []FormatJSON `json:"formats"`
}

// FormatJSON is one entry of the yt-dlp formats list.
type FormatJSON struct {
	FormatID       string  `json:"format_id"`
	Ext            string  `json:"ext"`
	Resolution     string  `json:"resolution"`
	Width          float64 `json:"width"`
	Height         float64 `json:"height"`
	Filesize       float64 `json:"filesize"`
	FilesizeApprox float64 `json:"filesize_approx"`
	Vcodec         string  `json:"vcodec"`
	Acodec         string  `json:"acodec"`
}

// Metadata converts the record into an entity.Metadata.
func (r ResultJSON) Metadata() entity.Metadata {
	md := entity.Metadata{
		Title:       r.Title,
		Duration:    calc.RoundFloat64ToInt(r.Duration),
		Thumbnail:   r.Thumbnail,
		Uploader:    r.Uploader,
		Description: r.Description,
		ViewCount:   int64(r.ViewCount),
		UploadDate:  r.UploadDate,
		Formats:     make([]entity.Format, 0, len(r.Formats)),
	}

	if md.Uploader == "" {
		md.Uploader = r.Channel
	}

	for _, f := range r.Formats {
		md.Formats = append(md.Formats, f.Format())
	}

	return md
}

// Format converts the entry into an entity.Format. Resolution falls back to
// width and height when yt-dlp leaves it empty.
func (f FormatJSON) Format() entity.Format {
	res := f.Resolution
	if res == "" && f.Width > 0 && f.Height > 0 {
		res = fmt.Sprintf("%dx%d", int(f.Width), int(f.Height))
	}

	size := f.Filesize
	if size == 0 {
		size = f.FilesizeApprox
	}

	return entity.Format{
		FormatID:   f.FormatID,
		Ext:        f.Ext,
		Resolution: res,
		FileSize:   int64(size),
		VCodec:     f.Vcodec,
		ACodec:     f.Acodec,
	}
}
