// Package duplicate classifies submissions against the live queue and the output directory.
package duplicate

import (
	"context"
	"log/slog"
	"path/filepath"

	"nagare/internal/entity"
	"nagare/internal/quality"
	"nagare/pkg/fsname"
	"nagare/pkg/urls"
)

// Extensions probed for file duplicates.
var Extensions = []string{
	"mp4", "mkv", "avi", "mov", "wmv", "flv", "webm", "m4v", "3gp", "ogv",
	"mp3", "m4a", "flac", "wav", "ogg", "aac", "opus", "wma",
}

// FileChecker reports whether a regular file exists at path.
type FileChecker interface {
	CheckFileExists(path string) bool
}

// Candidate is a submission waiting for admission.
type Candidate struct {
	URL     string
	Title   string
	Quality string
}

// Verdict is the outcome of Check.
type Verdict struct {
	IsDuplicate bool
	Kind        entity.DuplicateKind
	// ExistingRef is the item id for url hits and the file path for file hits.
	ExistingRef   string
	SettingsMatch bool
}

// Conflict reports whether the configured policy applies to the verdict.
func (v Verdict) Conflict() bool {
	return v.IsDuplicate && v.SettingsMatch
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (v Verdict) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("duplicate", v.IsDuplicate),
		slog.String("kind", string(v.Kind)),
		slog.String("ref", v.ExistingRef),
		slog.Bool("settings_match", v.SettingsMatch),
	)
}

type Resolver struct {
	log   *slog.Logger
	files FileChecker
}

func NewResolver(log *slog.Logger, files FileChecker) *Resolver {
	return &Resolver{
		log:   log.With(slog.String("package", "duplicate")),
		files: files,
	}
}

// Check never mutates snapshot and only reads the filesystem through the FileChecker.
func (r *Resolver) Check(ctx context.Context, c Candidate, snapshot []entity.DownloadItem, outputDir string,
	settings entity.Settings,
) Verdict {
	wantQuality := quality.Normalize(c.Quality)
	wantConvert := settings.EffectiveAutoConvert()
	canonical := urls.Canonical(c.URL)

	for i := range snapshot {
		it := &snapshot[i]
		if urls.Canonical(it.URL) != canonical {
			continue
		}

		if quality.Normalize(it.RequestedQuality) == wantQuality && itemAutoConvert(it) == wantConvert {
			return Verdict{
				IsDuplicate:   true,
				Kind:          entity.DuplicateKindURL,
				ExistingRef:   it.ID,
				SettingsMatch: true,
			}
		}

		r.log.DebugContext(ctx, "same url with different settings", slog.String("existing", it.ID))
	}

	if c.Title == "" || r.files == nil {
		return Verdict{}
	}

	wantFormat := ""
	if wantConvert {
		wantFormat = settings.ConvertFormat
	}

	return r.checkFiles(outputDir, fsname.Sanitize(c.Title), c.Quality, wantFormat, settings.ConvertFormat)
}

// checkFiles probes every tag combination. Conversion tags are probed with the
// configured format even when this request does not convert.
func (r *Resolver) checkFiles(dir, stem, q, wantFormat, probeFormat string) Verdict {
	if stem == "" {
		return Verdict{}
	}

	want := Tags(q, wantFormat)

	// the matching tag goes first so a mismatched hit never shadows it
	for _, suffix := range append([]string{want}, suffixes(q, probeFormat)...) {
		for _, ext := range Extensions {
			path := filepath.Join(dir, stem+suffix+"."+ext)
			if !r.files.CheckFileExists(path) {
				continue
			}

			return Verdict{
				IsDuplicate:   true,
				Kind:          entity.DuplicateKindFile,
				ExistingRef:   path,
				SettingsMatch: suffix == want,
			}
		}
	}

	return Verdict{}
}

// Tags returns the file-name suffix a request with these settings produces.
func Tags(q, convertFormat string) string {
	s := quality.Suffix(q)
	if convertFormat != "" {
		s += "_" + convertFormat
	}

	return s
}

func suffixes(q, convertFormat string) []string {
	qs := quality.Suffix(q)
	out := []string{"", qs}

	if convertFormat != "" {
		out = append(out, "_"+convertFormat, qs+"_"+convertFormat)
	}

	return out
}

// itemAutoConvert is the effective auto-convert setting an item was admitted with.
// ConvertFormat is stored only when auto-convert was requested, so it survives the
// flag being consumed by the conversion hook.
func itemAutoConvert(it *entity.DownloadItem) bool {
	return it.ConvertFormat != ""
}
