// Package metadata fetches descriptive records for submitted URLs under a bounded parallelism.
package metadata

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"time"

	"nagare/internal/consts"
	"nagare/internal/entity"
	"nagare/internal/errs"
	"nagare/internal/observability"
	"nagare/internal/quality"
)

// Fetcher is the metadata side of the executor.
type Fetcher interface {
	FetchMetadata(ctx context.Context, url string) (entity.Metadata, error)
	FetchBasicMetadata(ctx context.Context, url string) (entity.Metadata, error)
}

// Mode selects how a batch is split across workers.
type Mode string

const (
	// ModeBarrier runs groups of Width fetches and waits for the whole group.
	ModeBarrier Mode = "barrier"
	// ModePool keeps up to Width fetches running at all times.
	ModePool Mode = "pool"
)

// Task is one URL waiting for metadata.
type Task struct {
	ID      string
	URL     string
	Quality string
}

// Result is the terminal outcome for a Task. Stage tells which step of the
// fallback chain produced Metadata, Err keeps the failures that led there.
type Result struct {
	ID              string
	URL             string
	Stage           entity.MetadataStage
	Metadata        entity.Metadata
	ResolvedQuality string
	Err             error
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (r Result) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("id", r.ID),
		slog.String("url", r.URL),
		slog.String("stage", string(r.Stage)),
		slog.String("title", r.Metadata.Title),
		slog.String("resolved_quality", r.ResolvedQuality),
	}

	if r.Err != nil {
		attrs = append(attrs, slog.String("error", r.Err.Error()))
	}

	return slog.GroupValue(attrs...)
}

type Options struct {
	Mode Mode
	// Cores overrides runtime.NumCPU when positive.
	Cores int
	// Timeout bounds each stage. Zero disables it.
	Timeout time.Duration
}

type Scheduler struct {
	log     *slog.Logger
	fetcher Fetcher
	metrics *observability.Metrics
	width   int
	mode    Mode
	timeout time.Duration
}

// Width is the fetch parallelism for a machine with the given core count.
func Width(cores int) int {
	return max(consts.MinMetadataWidth, min(consts.MaxMetadataWidth, cores*2))
}

func New(log *slog.Logger, fetcher Fetcher, metrics *observability.Metrics, opts Options) *Scheduler {
	cores := opts.Cores
	if cores <= 0 {
		cores = runtime.NumCPU()
	}

	mode := opts.Mode
	if mode != ModePool {
		mode = ModeBarrier
	}

	return &Scheduler{
		log:     log.With(slog.String("package", "metadata")),
		fetcher: fetcher,
		metrics: metrics,
		width:   Width(cores),
		mode:    mode,
		timeout: opts.Timeout,
	}
}

func (s *Scheduler) Width() int {
	return s.width
}

func (s *Scheduler) Mode() Mode {
	return s.mode
}

// Run fetches metadata for every task and hands each terminal Result to apply
// as soon as it is known. apply is called from worker goroutines. Run returns
// once every task has been applied.
func (s *Scheduler) Run(ctx context.Context, tasks []Task, apply func(Result)) {
	if len(tasks) == 0 {
		return
	}

	log := s.log.With(slog.String("func", "Run"))
	log.DebugContext(ctx, "metadata batch",
		slog.Int("tasks", len(tasks)),
		slog.Int("width", s.width),
		slog.String("mode", string(s.mode)))

	if s.mode == ModePool {
		s.runPool(ctx, tasks, apply)

		return
	}

	s.runBarrier(ctx, tasks, apply)
}

func (s *Scheduler) runBarrier(ctx context.Context, tasks []Task, apply func(Result)) {
	for group := range slices.Chunk(tasks, s.width) {
		var wg sync.WaitGroup

		for _, t := range group {
			wg.Go(func() {
				apply(s.Fetch(ctx, t))
			})
		}

		wg.Wait()
	}
}

func (s *Scheduler) runPool(ctx context.Context, tasks []Task, apply func(Result)) {
	var wg sync.WaitGroup

	sem := make(chan struct{}, s.width)

	for _, t := range tasks {
		sem <- struct{}{}

		wg.Go(func() {
			defer func() { <-sem }()

			apply(s.Fetch(ctx, t))
		})
	}

	wg.Wait()
}

// Fetch walks the fallback chain for one task. It always returns a usable Result.
func (s *Scheduler) Fetch(ctx context.Context, t Task) Result {
	log := s.log.With(slog.String("func", "Fetch"), slog.String("url", t.URL))
	done := s.metrics.MetadataTimer()

	md, err := s.stage(ctx, s.fetcher.FetchMetadata, t.URL)
	if err == nil {
		res := Result{ID: t.ID, URL: t.URL, Stage: entity.MetadataStageFull, Metadata: fillMissing(md, t.URL)}
		if resolved, ok := quality.Resolve(t.Quality, md.Formats); ok {
			res.ResolvedQuality = resolved
		}

		done(string(res.Stage))

		return res
	}

	log.DebugContext(ctx, "full metadata failed", slog.Any("error", err))

	if recoverable(err) {
		basic, basicErr := s.stage(ctx, s.fetcher.FetchBasicMetadata, t.URL)
		if basicErr == nil {
			done(string(entity.MetadataStageBasic))

			return Result{
				ID:       t.ID,
				URL:      t.URL,
				Stage:    entity.MetadataStageBasic,
				Metadata: fillMissing(basic, t.URL),
				Err:      err,
			}
		}

		log.DebugContext(ctx, "basic metadata failed", slog.Any("error", basicErr))

		err = errors.Join(err, basicErr)
	}

	done(string(entity.MetadataStageSynthetic))

	return Result{
		ID:       t.ID,
		URL:      t.URL,
		Stage:    entity.MetadataStageSynthetic,
		Metadata: Synthesize(t.URL),
		Err:      err,
	}
}

func (s *Scheduler) stage(ctx context.Context, fetch func(context.Context, string) (entity.Metadata, error),
	url string,
) (entity.Metadata, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	return fetch(ctx, url)
}

func recoverable(err error) bool {
	return errors.Is(err, errs.ErrMetadataRecoverable) || errors.Is(err, context.DeadlineExceeded)
}

func fillMissing(md entity.Metadata, url string) entity.Metadata {
	if md.Title != "" && md.Thumbnail != "" {
		return md
	}

	syn := Synthesize(url)

	if md.Title == "" {
		md.Title = syn.Title
	}

	if md.Thumbnail == "" {
		md.Thumbnail = syn.Thumbnail
	}

	return md
}
