package downloader

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"nagare/internal/entity"
	"nagare/internal/errs"
	"nagare/pkg/calc"
	"nagare/pkg/shellquote"
)

// Conversion targets.
const (
	FormatH264   = entity.ConvertH264
	FormatDNxHR  = entity.ConvertDNxHR
	FormatProRes = entity.ConvertProRes
	FormatMP3    = entity.ConvertMP3
)

var reDuration = regexp.MustCompile(`Duration: (\d+):(\d{2}):(\d{2})\.(\d{2})`)

// ConvertArgs builds the ffmpeg argument list for format.
func ConvertArgs(format, input, output string) ([]string, error) {
	args := []string{"-hide_banner", "-nostdin", "-y", "-i", input}

	switch format {
	case FormatH264:
		args = append(args,
			"-c:v", "libx264", "-profile:v", "high", "-level:v", "4.1",
			"-preset", "medium", "-crf", "18",
			"-c:a", "aac", "-b:a", "192k",
			"-movflags", "+faststart")
	case FormatDNxHR:
		args = append(args,
			"-c:v", "dnxhd", "-profile:v", "dnxhr_sq",
			"-c:a", "pcm_s24le",
			"-f", "mov")
	case FormatProRes:
		args = append(args,
			"-c:v", "prores_ks", "-profile:v", "0",
			"-c:a", "pcm_s16le",
			"-f", "mov")
	case FormatMP3:
		args = append(args, "-vn", "-c:a", "libmp3lame", "-b:a", "320k", "-q:a", "0")
	default:
		return nil, fmt.Errorf("%w: %q", errs.ErrUnknownConvertFormat, format)
	}

	return append(args, "-progress", "pipe:1", output), nil
}

// FFmpeg converts finished transfers.
type FFmpeg struct {
	log  *slog.Logger
	path string
}

// NewFFmpeg creates a converter running the ffmpeg binary at path.
func NewFFmpeg(log *slog.Logger, path string) *FFmpeg {
	return &FFmpeg{log: log.With(slog.String("converter", "ffmpeg")), path: path}
}

// Convert runs ffmpeg for req and reports progress through emit. The input is
// removed after success unless req.KeepOriginal is set.
func (f *FFmpeg) Convert(ctx context.Context, req entity.ConversionRequest,
	emit func(entity.ProgressEvent),
) (string, error) {
	log := f.log.With(slog.String("func", "Convert"), slog.String("id", req.ID))

	args, err := ConvertArgs(req.ConvertFormat, req.InputPath, req.OutputPath)
	if err != nil {
		return "", err
	}

	bin, err := exec.LookPath(f.path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", errs.ErrBinaryNotFound, f.path, err)
	}

	log.InfoContext(ctx, "converting", slog.String("cmd", shellquote.Join(bin, args)))

	emit(entity.ProgressEvent{Status: entity.StatusConverting})

	cmd := exec.CommandContext(ctx, bin, args...)

	var stderr lockedBuffer

	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start ffmpeg: %w", err)
	}

	readProgress(stdout, func(outTime time.Duration) {
		total := ParseDuration(stderr.String())
		emit(entity.ProgressEvent{
			Status:   entity.StatusConverting,
			Progress: calc.Progress(int64(outTime), int64(total)),
		})
	})

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		return "", fmt.Errorf("%w: ffmpeg: %s", errs.ErrTerminalTransfer, lastLine(stderr.String()))
	}

	if !req.KeepOriginal {
		if err := os.Remove(req.InputPath); err != nil {
			log.WarnContext(ctx, "remove original", slog.Any("error", err))
		}
	}

	return req.OutputPath, nil
}

// lockedBuffer lets the progress reader inspect stderr while ffmpeg writes it.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

// readProgress calls fn for every out_time_us line of the -progress stream.
func readProgress(r io.Reader, fn func(outTime time.Duration)) {
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok || key != "out_time_us" {
			continue
		}

		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			continue
		}

		fn(time.Duration(us) * time.Microsecond)
	}
}

// ParseDuration extracts the input duration from ffmpeg stderr.
func ParseDuration(stderr string) time.Duration {
	m := reDuration.FindStringSubmatch(stderr)
	if m == nil {
		return 0
	}

	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	s, _ := strconv.Atoi(m[3])
	cs, _ := strconv.Atoi(m[4])

	return time.Duration(h)*time.Hour + time.Duration(mm)*time.Minute +
		time.Duration(s)*time.Second + time.Duration(cs)*10*time.Millisecond
}
