package downloader

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"nagare/internal/config"
	"nagare/internal/consts"
	"nagare/internal/entity"
	"nagare/internal/errs"
	"nagare/internal/observability"
	"nagare/internal/proxymgr"
	"nagare/internal/quality"
	"nagare/pkg/calc"

	"github.com/lrstanley/go-ytdlp"
)

var (
	maxJSONSize = 10 * 1024 * 1024                                       // 10 MiB scanner buffer
	bufSize     = 4096                                                   // 4 KiB buffer size
	reFilepath  = regexp.MustCompile(`(?i)^[^\{\[\n].*\.[a-z0-9]{1,6}$`) // file path

	// changing this may break ParseFilePath().
	printAfterMove = "after_move:filepath"
	// changing this may break ParseBasicMetadata().
	printBasic = "%(title)s\t%(duration)s\t%(thumbnail)s"
	// changing this may break ParsePlaylist().
	printEntry = "%(url)s\t%(title)s"
)

// stderr fragments marking failures worth another attempt.
var (
	transientMarkers = []string{
		"http error 429", "too many requests", "http error 500", "http error 502", "http error 503",
		"timed out", "connection reset", "temporary failure in name resolution", "network is unreachable",
		"unable to download video data", "got error: ", "incomplete read", "remote end closed",
	}
	recoverableMetadataMarkers = []string{
		"http error 429", "too many requests", "rate limit", "rate-limit", "timed out", "sign in to confirm",
	}
)

// YTdlp runs transfers through yt-dlp and conversions through ffmpeg.
type YTdlp struct {
	log       *slog.Logger
	cfg       *config.Config
	proxies   *proxymgr.Manager
	metrics   *observability.Metrics
	retry     Retry
	converter *FFmpeg
	*runner
}

var _ Executor = (*YTdlp)(nil)

// NewYTdlp creates the yt-dlp executor. proxies may be nil.
func NewYTdlp(log *slog.Logger, cfg *config.Config, proxies *proxymgr.Manager,
	metrics *observability.Metrics,
) *YTdlp {
	log = log.With(slog.String("package", "downloader"), slog.String("executor", consts.ExecutorYTdlp))

	if proxies != nil && proxies.HasProxies() {
		log.Info("proxy rotation enabled", slog.Int("available", proxies.AvailableCount()))
	}

	events := newEmitter(cfg.Queue.EventBuffer, eventInterval(cfg))

	return &YTdlp{
		log:       log,
		cfg:       cfg,
		proxies:   proxies,
		metrics:   metrics,
		retry:     Retry{MaxRetries: cfg.Executor.Attempts, Backoff: cfg.Executor.Backoff},
		converter: NewFFmpeg(log, cfg.Executor.FFmpegPath),
		runner:    newRunner(log, consts.ExecutorYTdlp, events, metrics),
	}
}

func (d *YTdlp) command() *ytdlp.Command {
	cmd := ytdlp.New().
		SetExecutable(d.cfg.Executor.YTdlpPath).
		CacheDir(d.cfg.Dir.Cache).
		NoPlaylist()

	if d.cfg.Dir.CookieFile != "" {
		cmd = cmd.Cookies(d.cfg.Dir.CookieFile)
	}

	return cmd
}

// withProxy attaches the next proxy to cmd and returns it, "" when none is used.
func (d *YTdlp) withProxy(ctx context.Context, cmd *ytdlp.Command) string {
	if d.proxies == nil {
		return ""
	}

	proxyURL, err := d.proxies.Next()
	if err != nil {
		d.log.WarnContext(ctx, "no proxy available, going direct", slog.Any("error", err))

		return ""
	}

	if proxyURL != "" {
		cmd.Proxy(proxyURL)
	}

	return proxyURL
}

func (d *YTdlp) proxyOutcome(proxyURL string, err error) {
	if proxyURL == "" || d.proxies == nil {
		return
	}

	if errors.Is(err, errs.ErrTransientTransfer) || errors.Is(err, errs.ErrMetadataRecoverable) {
		d.proxies.MarkFailed(proxyURL)

		return
	}

	d.proxies.MarkSuccess(proxyURL)
}

// FetchMetadata runs yt-dlp without downloading and parses its JSON record.
func (d *YTdlp) FetchMetadata(ctx context.Context, url string) (entity.Metadata, error) {
	log := d.log.With(slog.String("func", "FetchMetadata"), slog.String("url", url))

	cmd := d.command().SkipDownload().PrintJSON()
	proxyURL := d.withProxy(ctx, cmd)

	res, err := cmd.Run(ctx, url)
	if err != nil {
		err = classifyMetadata(ctx, res, err)
		d.proxyOutcome(proxyURL, err)
		log.DebugContext(ctx, "ytdlp metadata", slog.Any("error", err), slog.Any("result", Result{res}))

		return entity.Metadata{}, err
	}

	d.proxyOutcome(proxyURL, nil)

	md, err := ParseMetadata(res.Stdout)
	if err != nil {
		return entity.Metadata{}, fmt.Errorf("%w: %w", errs.ErrMetadata, err)
	}

	return md, nil
}

// FetchBasicMetadata prints only title, duration and thumbnail.
func (d *YTdlp) FetchBasicMetadata(ctx context.Context, url string) (entity.Metadata, error) {
	cmd := d.command().SkipDownload().Print(printBasic)
	proxyURL := d.withProxy(ctx, cmd)

	res, err := cmd.Run(ctx, url)
	if err != nil {
		err = classifyMetadata(ctx, res, err)
		d.proxyOutcome(proxyURL, err)

		return entity.Metadata{}, err
	}

	d.proxyOutcome(proxyURL, nil)

	return ParseBasicMetadata(res.Stdout)
}

// FetchPlaylist lists the entries of a playlist with --flat-playlist, so no
// entry is resolved.
func (d *YTdlp) FetchPlaylist(ctx context.Context, url string) ([]entity.PlaylistEntry, error) {
	log := d.log.With(slog.String("func", "FetchPlaylist"), slog.String("url", url))

	cmd := ytdlp.New().
		SetExecutable(d.cfg.Executor.YTdlpPath).
		CacheDir(d.cfg.Dir.Cache).
		FlatPlaylist().
		Print(printEntry)

	if d.cfg.Dir.CookieFile != "" {
		cmd = cmd.Cookies(d.cfg.Dir.CookieFile)
	}

	proxyURL := d.withProxy(ctx, cmd)

	res, err := cmd.Run(ctx, url)
	if err != nil {
		err = classifyMetadata(ctx, res, err)
		d.proxyOutcome(proxyURL, err)
		log.DebugContext(ctx, "ytdlp playlist", slog.Any("error", err), slog.Any("result", Result{res}))

		return nil, err
	}

	d.proxyOutcome(proxyURL, nil)

	entries := ParsePlaylist(res.Stdout)
	log.DebugContext(ctx, "playlist listed", slog.Int("entries", len(entries)))

	return entries, nil
}

// SubmitTransfer registers the transfer and returns immediately.
func (d *YTdlp) SubmitTransfer(ctx context.Context, req entity.TransferRequest) error {
	return d.launch(ctx, req.ID, func(ctx context.Context, emit func(entity.ProgressEvent)) (string, error) {
		return d.transfer(ctx, req, emit)
	})
}

// SubmitConversion registers the conversion and returns immediately.
func (d *YTdlp) SubmitConversion(ctx context.Context, req entity.ConversionRequest) error {
	return d.launch(ctx, req.ID, func(ctx context.Context, emit func(entity.ProgressEvent)) (string, error) {
		return d.converter.Convert(ctx, req, emit)
	})
}

// Cancel kills the running process for id.
func (d *YTdlp) Cancel(_ context.Context, id string) error {
	d.cancel(id)

	return nil
}

// Events returns the progress stream.
func (d *YTdlp) Events() <-chan entity.ProgressEvent {
	return d.events.out
}

// Close kills every running process and closes Events.
func (d *YTdlp) Close() {
	d.close()
}

func (d *YTdlp) transfer(ctx context.Context, req entity.TransferRequest,
	emit func(entity.ProgressEvent),
) (string, error) {
	log := d.log.With(slog.String("func", "transfer"), slog.String("id", req.ID))
	done := d.metrics.TransferTimer()

	defer done()

	var path string

	err := d.retry.Do(ctx, func(ctx context.Context, _ int) error {
		var err error

		path, err = d.runTransfer(ctx, req, emit)

		return err
	}, func(attempt int, wait time.Duration, err error) {
		d.metrics.RecordExecutorRetry(consts.ExecutorYTdlp)
		log.WarnContext(ctx, "transient failure, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.Any("error", err))
	})
	if err != nil {
		d.metrics.RecordExecutorError(consts.ExecutorYTdlp, errorType(err))

		return "", err
	}

	return path, nil
}

func (d *YTdlp) runTransfer(ctx context.Context, req entity.TransferRequest,
	emit func(entity.ProgressEvent),
) (string, error) {
	log := d.log.With(slog.String("func", "runTransfer"), slog.String("id", req.ID))

	emit(entity.ProgressEvent{Status: entity.StatusDownloading})

	var reported int64

	progressFn := func(p ytdlp.ProgressUpdate) {
		log.DebugContext(ctx, "ytdlp progress", slog.Any("progress_update", ProgressUpdate{&p}))

		downloaded, total := int64(p.DownloadedBytes), int64(p.TotalBytes)
		elapsed := time.Since(p.Started)

		if downloaded > reported {
			d.metrics.RecordTransferBytes(downloaded - reported)
		}

		reported = downloaded

		emit(entity.ProgressEvent{
			Status:          entity.StatusDownloading,
			Progress:        calc.Progress(downloaded, total),
			DownloadedBytes: downloaded,
			TotalBytes:      total,
			Speed:           calc.Speed(downloaded, elapsed),
			ETA:             calc.FormatDuration(int(calc.ETA(downloaded, total, elapsed).Seconds())),
		})
	}

	cmd := d.command().
		ProgressFunc(d.cfg.Executor.ProgressInterval, progressFn).
		Format(quality.Selector(req.Quality)).
		Print(printAfterMove).
		Output(OutputTemplate(req))

	if req.Format != "" {
		cmd = cmd.MergeOutputFormat(req.Format)
	}

	if req.DuplicateAction == entity.DuplicateActionOverwrite {
		cmd = cmd.ForceOverwrites()
	}

	proxyURL := d.withProxy(ctx, cmd)

	res, err := cmd.Run(ctx, req.URL)
	if err != nil {
		err = classifyTransfer(ctx, res, err)
		d.proxyOutcome(proxyURL, err)
		log.ErrorContext(ctx, "ytdlp run", slog.Any("error", err), slog.Any("result", Result{res}))

		return "", err
	}

	d.proxyOutcome(proxyURL, nil)

	path := ParseFilePath(res.Stdout)
	log.InfoContext(ctx, "transfer done", slog.String("path", path))

	return path, nil
}

// OutputTemplate is the yt-dlp -o value for req, rooted at req.OutputDir.
func OutputTemplate(req entity.TransferRequest) string {
	name := req.OutputName
	if name == "" {
		name = "%(title)s" + quality.Suffix(req.Quality)
	}

	// yt-dlp treats % as a template marker, user provided names must not expand
	if req.OutputName != "" {
		name = strings.ReplaceAll(name, "%", "%%")
	}

	dir := strings.TrimRight(req.OutputDir, "/")
	if dir == "" {
		return name + ".%(ext)s"
	}

	return dir + "/" + name + ".%(ext)s"
}

// ParseFilePath returns the last path printed by --print after_move:filepath.
func ParseFilePath(stdout string) string {
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	scanner.Buffer(make([]byte, bufSize), maxJSONSize)

	var path string

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if reFilepath.MatchString(line) {
			path = line
		}
	}

	return path
}

// ParseMetadata decodes the first JSON record in yt-dlp stdout.
func ParseMetadata(stdout string) (entity.Metadata, error) {
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	scanner.Buffer(make([]byte, bufSize), maxJSONSize)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "{") {
			continue
		}

		var r ResultJSON
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			continue
		}

		return r.Metadata(), nil
	}

	if err := scanner.Err(); err != nil {
		return entity.Metadata{}, fmt.Errorf("scan stdout: %w", err)
	}

	return entity.Metadata{}, errors.New("no json record in output")
}

// ParsePlaylist decodes the lines printed for printEntry. Lines without an
// http(s) URL are skipped.
func ParsePlaylist(stdout string) []entity.PlaylistEntry {
	var entries []entity.PlaylistEntry

	for line := range strings.Lines(stdout) {
		rawURL, title, _ := strings.Cut(strings.TrimRight(line, "\r\n"), "\t")

		rawURL = strings.TrimSpace(rawURL)
		if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
			continue
		}

		entries = append(entries, entity.PlaylistEntry{URL: rawURL, Title: cleanNA(title)})
	}

	return entries
}

// ParseBasicMetadata decodes the tab separated line printed for printBasic.
func ParseBasicMetadata(stdout string) (entity.Metadata, error) {
	line, _, _ := strings.Cut(strings.TrimSpace(stdout), "\n")

	fields := strings.Split(line, "\t")
	if len(fields) != 3 {
		return entity.Metadata{}, fmt.Errorf("%w: unexpected basic output %q", errs.ErrMetadata, line)
	}

	md := entity.Metadata{Title: cleanNA(fields[0]), Thumbnail: cleanNA(fields[2])}

	if seconds, err := strconv.ParseFloat(fields[1], 64); err == nil {
		md.Duration = calc.RoundFloat64ToInt(seconds)
	}

	return md, nil
}

// cleanNA maps the yt-dlp placeholder for missing fields to "".
func cleanNA(s string) string {
	if s == "NA" {
		return ""
	}

	return strings.TrimSpace(s)
}

func stderrOf(res *ytdlp.Result) string {
	if res == nil {
		return ""
	}

	return res.Stderr
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")

	return strings.TrimSpace(lines[len(lines)-1])
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}

	return false
}

func classifyTransfer(ctx context.Context, res *ytdlp.Result, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	stderr := stderrOf(res)

	msg := lastLine(stderr)
	if msg == "" {
		msg = err.Error()
	}

	if containsAny(strings.ToLower(stderr), transientMarkers) {
		return fmt.Errorf("%w: %s", errs.ErrTransientTransfer, msg)
	}

	return fmt.Errorf("%w: %s", errs.ErrTerminalTransfer, msg)
}

func classifyMetadata(ctx context.Context, res *ytdlp.Result, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", errs.ErrMetadataRecoverable, ctxErr)
	}

	stderr := stderrOf(res)

	msg := lastLine(stderr)
	if msg == "" {
		msg = err.Error()
	}

	if containsAny(strings.ToLower(stderr), recoverableMetadataMarkers) {
		return fmt.Errorf("%w: %s", errs.ErrMetadataRecoverable, msg)
	}

	return fmt.Errorf("%w: %s", errs.ErrMetadata, msg)
}

func errorType(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, errs.ErrTransientTransfer):
		return "transient"
	case errors.Is(err, errs.ErrTerminalTransfer):
		return "terminal"
	default:
		return "other"
	}
}
