// Package settings loads, validates and persists the user settings file.
package settings

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"nagare/internal/consts"
	"nagare/internal/entity"
	"nagare/internal/errs"
	"nagare/internal/quality"

	"github.com/gofrs/flock"
	"github.com/pelletier/go-toml/v2"
)

const lockRetryDelay = 50 * time.Millisecond

// Default returns the settings written on first start.
func Default(outputDir string) entity.Settings {
	return entity.Settings{
		MaxConcurrent:         5,
		DefaultQuality:        quality.Best,
		DefaultFormat:         "mp4",
		OutputDir:             outputDir,
		KeepOriginal:          true,
		URLDuplicatePolicy:    entity.URLPolicySkip,
		FileDuplicatePolicy:   entity.FilePolicyRename,
		ShowDuplicateWarnings: true,
		AutoStart:             true,
	}
}

// Validate checks s and returns it normalized: MaxConcurrent is clamped to
// its bounds and an empty quality becomes "best". Every rejection wraps
// errs.ErrValidation and errs.ErrInvalidSettings.
func Validate(s entity.Settings) (entity.Settings, error) {
	var problems []string

	s.MaxConcurrent = max(consts.MinConcurrent, min(consts.MaxConcurrent, s.MaxConcurrent))

	s.DefaultQuality = strings.TrimSpace(s.DefaultQuality)
	if s.DefaultQuality == "" {
		s.DefaultQuality = quality.Best
	}

	if !quality.Valid(s.DefaultQuality) {
		problems = append(problems, fmt.Sprintf("defaultQuality %q is not best, worst or a height", s.DefaultQuality))
	}

	s.OutputDir = strings.TrimSpace(s.OutputDir)
	if s.OutputDir == "" {
		problems = append(problems, "outputDir is empty")
	}

	s.ConvertFormat = strings.ToLower(strings.TrimSpace(s.ConvertFormat))
	if s.ConvertFormat != "" && !slices.Contains(entity.ConvertFormats, s.ConvertFormat) {
		problems = append(problems, fmt.Sprintf("convertFormat %q is not one of %v", s.ConvertFormat, entity.ConvertFormats))
	}

	switch s.URLDuplicatePolicy {
	case entity.URLPolicySkip, entity.URLPolicyAllow, entity.URLPolicyAsk:
	case "":
		s.URLDuplicatePolicy = entity.URLPolicySkip
	default:
		problems = append(problems, fmt.Sprintf("urlDuplicatePolicy %q is invalid", s.URLDuplicatePolicy))
	}

	switch s.FileDuplicatePolicy {
	case entity.FilePolicyOverwrite, entity.FilePolicySkip, entity.FilePolicyRename, entity.FilePolicyAsk:
	case "":
		s.FileDuplicatePolicy = entity.FilePolicyRename
	default:
		problems = append(problems, fmt.Sprintf("fileDuplicatePolicy %q is invalid", s.FileDuplicatePolicy))
	}

	if len(problems) > 0 {
		return s, fmt.Errorf("%w: %w: %s", errs.ErrValidation, errs.ErrInvalidSettings, strings.Join(problems, "; "))
	}

	return s, nil
}

// Store reads and writes the settings file. Writes hold an advisory file
// lock and replace the file atomically.
type Store struct {
	log  *slog.Logger
	path string
	lock *flock.Flock
}

// NewStore creates a Store for the TOML file at path.
func NewStore(log *slog.Logger, path string) *Store {
	return &Store{
		log:  log.With(slog.String("package", "settings")),
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Path returns the settings file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the file over defaults. A missing file is created with defaults.
func (s *Store) Load(ctx context.Context, defaults entity.Settings) (entity.Settings, error) {
	log := s.log.With(slog.String("func", "Load"), slog.String("path", s.path))

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		log.InfoContext(ctx, "settings file missing, writing defaults")

		out, err := Validate(defaults)
		if err != nil {
			return entity.Settings{}, err
		}

		return out, s.Save(ctx, out)
	}

	if err != nil {
		return entity.Settings{}, fmt.Errorf("read settings: %w", err)
	}

	out := defaults

	if err := toml.NewDecoder(bytes.NewReader(data)).Decode(&out); err != nil {
		return entity.Settings{}, fmt.Errorf("parse settings: %w", err)
	}

	return Validate(out)
}

// Save writes settings to a temporary file and renames it over the old one.
func (s *Store) Save(ctx context.Context, settings entity.Settings) error {
	data, err := toml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}

	locked, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock settings: %w", err)
	}

	if !locked {
		return fmt.Errorf("lock settings: %w", context.Cause(ctx))
	}

	defer func() {
		if err := s.lock.Unlock(); err != nil {
			s.log.Warn("unlock settings", slog.Any("error", err))
		}
	}()

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".settings-*.toml")
	if err != nil {
		return fmt.Errorf("create temp settings: %w", err)
	}

	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()

		return fmt.Errorf("write settings: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close settings: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}

	return nil
}
