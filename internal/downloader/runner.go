package downloader

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"nagare/internal/entity"
	"nagare/internal/errs"
	"nagare/internal/observability"
)

// work is one executor run. It reports intermediate progress through emit and
// returns the produced file path.
type work func(ctx context.Context, emit func(entity.ProgressEvent)) (string, error)

type run struct {
	token  uint64
	cancel context.CancelFunc
}

// runner owns the in-flight runs of an executor. Each id has at most one run.
// Events of a run that was cancelled or replaced never reach the stream.
type runner struct {
	log     *slog.Logger
	name    string
	events  *emitter
	metrics *observability.Metrics

	mu     sync.Mutex
	runs   map[string]*run
	seq    uint64
	closed bool
	wg     sync.WaitGroup
}

func newRunner(log *slog.Logger, name string, events *emitter, metrics *observability.Metrics) *runner {
	return &runner{
		log:     log,
		name:    name,
		events:  events,
		metrics: metrics,
		runs:    make(map[string]*run),
	}
}

func (r *runner) launch(ctx context.Context, id string, fn work) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errs.ErrServiceClosed
	}

	if prev, ok := r.runs[id]; ok {
		prev.cancel()
	}

	runCtx, cancel := context.WithCancel(ctx)

	r.seq++
	current := &run{token: r.seq, cancel: cancel}
	r.runs[id] = current

	r.wg.Go(func() {
		defer cancel()

		emit := func(ev entity.ProgressEvent) {
			ev.ID = id
			if r.isCurrent(id, current.token) {
				r.events.emit(ev)
			}
		}

		path, err := fn(runCtx, emit)

		if !r.finish(id, current.token) {
			return
		}

		switch {
		case err == nil:
			r.metrics.RecordExecutorRequest(r.name, "success")
			r.events.emit(entity.ProgressEvent{ID: id, Status: entity.StatusCompleted, Progress: 100, FilePath: path})
		case errors.Is(err, context.Canceled) && runCtx.Err() != nil:
			// executor shutdown, the item is restored as paused on the next start
			r.log.Debug("run interrupted", slog.String("id", id))
		default:
			r.metrics.RecordExecutorRequest(r.name, "error")
			r.log.Warn("run failed", slog.String("id", id), slog.Any("error", err))
			r.events.emit(entity.ProgressEvent{ID: id, Status: entity.StatusFailed, Error: err.Error()})
		}
	})

	return nil
}

func (r *runner) cancel(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.runs[id]; ok {
		delete(r.runs, id)
		current.cancel()
		r.events.forget(id)
	}
}

func (r *runner) isCurrent(id string, token uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.runs[id]

	return ok && current.token == token
}

// finish removes the run and reports whether it was still the current one.
func (r *runner) finish(id string, token uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.runs[id]
	if !ok || current.token != token {
		return false
	}

	delete(r.runs, id)

	return true
}

func (r *runner) close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()

		return
	}

	r.closed = true
	for _, current := range r.runs {
		current.cancel()
	}
	r.mu.Unlock()

	r.events.stop()
	r.wg.Wait()
	r.events.close()
}
