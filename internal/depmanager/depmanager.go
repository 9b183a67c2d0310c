// Package depmanager locates the external binaries the executor spawns and
// reports their versions.
package depmanager

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"nagare/internal/config"
	"nagare/internal/errs"
)

// BinaryName represents the name of a binary dependency.
type BinaryName string

// Binary dependency names.
const (
	BinaryYTdlp  BinaryName = "yt-dlp"
	BinaryFFmpeg BinaryName = "ffmpeg"
)

const versionTimeout = 10 * time.Second

// Info describes one binary.
type Info struct {
	Name      BinaryName `json:"name"`
	Installed bool       `json:"installed"`
	Path      string     `json:"path,omitempty"`
	Version   string     `json:"version,omitempty"`
	Size      int64      `json:"size,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Status is the result of one check.
type Status struct {
	YTdlp        Info `json:"ytdlp"`
	FFmpeg       Info `json:"ffmpeg"`
	AllInstalled bool `json:"allInstalled"`
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (s Status) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("ytdlp", s.YTdlp.Version),
		slog.String("ffmpeg", s.FFmpeg.Version),
		slog.Bool("all_installed", s.AllInstalled),
	)
}

// Manager checks the binaries configured for the executor.
type Manager struct {
	log   *slog.Logger
	paths map[BinaryName]string
	run   func(ctx context.Context, path string, args ...string) ([]byte, error)
}

func New(log *slog.Logger, cfg config.Executor) *Manager {
	return &Manager{
		log: log.With(slog.String("package", "depmanager")),
		paths: map[BinaryName]string{
			BinaryYTdlp:  cfg.YTdlpPath,
			BinaryFFmpeg: cfg.FFmpegPath,
		},
		run: runOutput,
	}
}

// Check resolves every binary and asks it for its version. A binary that
// resolves but fails to report a version still counts as installed.
func (m *Manager) Check(ctx context.Context) Status {
	st := Status{
		YTdlp:  m.check(ctx, BinaryYTdlp, []string{"--version"}, parseYTdlpVersion),
		FFmpeg: m.check(ctx, BinaryFFmpeg, []string{"-version"}, parseFFmpegVersion),
	}

	st.AllInstalled = st.YTdlp.Installed && st.FFmpeg.Installed

	m.log.DebugContext(ctx, "dependencies checked", slog.Any("status", st))

	return st
}

// Require fails when name cannot be resolved.
func (m *Manager) Require(name BinaryName) (string, error) {
	configured := m.paths[name]
	if configured == "" {
		configured = string(name)
	}

	path, err := exec.LookPath(configured)
	if err != nil {
		return "", fmt.Errorf("%w: %s (%s): %w", errs.ErrBinaryNotFound, name, configured, err)
	}

	return path, nil
}

func (m *Manager) check(ctx context.Context, name BinaryName, args []string, parse func(string) string) Info {
	info := Info{Name: name}

	path, err := m.Require(name)
	if err != nil {
		info.Error = err.Error()

		return info
	}

	info.Installed = true
	info.Path = path

	if fi, err := os.Stat(path); err == nil {
		info.Size = fi.Size()
	}

	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	out, err := m.run(ctx, path, args...)
	if err != nil {
		m.log.WarnContext(ctx, "version probe failed", slog.String("binary", string(name)), slog.Any("error", err))
		info.Error = err.Error()

		return info
	}

	info.Version = parse(string(out))

	return info
}

func runOutput(ctx context.Context, path string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w: %s", path, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}

	return out, nil
}

func parseYTdlpVersion(out string) string {
	return strings.TrimSpace(out)
}

// parseFFmpegVersion takes the third field of "ffmpeg version 6.1.1 Copyright ...".
func parseFFmpegVersion(out string) string {
	line, _, _ := strings.Cut(out, "\n")

	fields := strings.Fields(line)
	if len(fields) < 3 {
		return strings.TrimSpace(line)
	}

	return fields[2]
}
