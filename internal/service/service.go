// Package service owns the download queue. A single actor goroutine applies
// every mutation: user intents, metadata results and executor events.
package service

import (
	"cmp"
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"nagare/internal/config"
	"nagare/internal/duplicate"
	"nagare/internal/entity"
	"nagare/internal/errs"
	"nagare/internal/metadata"
	"nagare/internal/observability"
	"nagare/internal/settings"
)

// Executor is the command side of the external collaborator.
type Executor interface {
	SubmitTransfer(ctx context.Context, req entity.TransferRequest) error
	SubmitConversion(ctx context.Context, req entity.ConversionRequest) error
	Cancel(ctx context.Context, id string) error
	Events() <-chan entity.ProgressEvent
}

// MetadataRunner fetches metadata for a batch and applies each result as it lands.
type MetadataRunner interface {
	Run(ctx context.Context, tasks []metadata.Task, apply func(metadata.Result))
}

// PlaylistFetcher lists the entries behind a playlist URL.
type PlaylistFetcher interface {
	FetchPlaylist(ctx context.Context, url string) ([]entity.PlaylistEntry, error)
}

// ItemStore persists items across restarts.
type ItemStore interface {
	SaveItem(ctx context.Context, item entity.DownloadItem) error
	DeleteItem(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) error
	LoadItems(ctx context.Context) ([]entity.DownloadItem, error)
}

// SettingsStore persists the user settings.
type SettingsStore interface {
	Save(ctx context.Context, s entity.Settings) error
}

// Notifier announces finished items.
type Notifier interface {
	NotifyCompleted(ctx context.Context, item entity.DownloadItem) error
	NotifyFailed(ctx context.Context, item entity.DownloadItem) error
}

// Service is the queue surface used by the delivery layer.
type Service interface {
	Submit(ctx context.Context, req SubmitRequest) (Admission, error)
	SubmitBatch(ctx context.Context, reqs []SubmitRequest) ([]Admission, error)
	SubmitText(ctx context.Context, text, quality, format string) ([]Admission, error)
	ExtractURLs(ctx context.Context, text string) ([]entity.ExtractedURL, int)

	Start(ctx context.Context, id string) (entity.DownloadItem, error)
	Pause(ctx context.Context, id string) (entity.DownloadItem, error)
	Stop(ctx context.Context, id string) (entity.DownloadItem, error)
	Retry(ctx context.Context, id string) (entity.DownloadItem, error)
	Remove(ctx context.Context, id string) error
	Clear(ctx context.Context) (int, error)
	ApplyProgress(ctx context.Context, ev entity.ProgressEvent) error

	Get(ctx context.Context, id string) (entity.DownloadItem, error)
	List(ctx context.Context) ([]entity.DownloadItem, error)

	Settings(ctx context.Context) (entity.Settings, error)
	UpdateSettings(ctx context.Context, s entity.Settings) (entity.Settings, error)

	CurrentPrompt() (duplicate.Prompt, bool)
	Decide(ctx context.Context, promptID string, action entity.DuplicateAction) (Admission, error)

	Export(ctx context.Context, w io.Writer) error
	Import(ctx context.Context, r io.Reader) (int, error)
}

// Deps are the collaborators of a Queue. Notifier may be nil. Without
// Playlists, playlist URLs are admitted as single items.
type Deps struct {
	Executor  Executor
	Metadata  MetadataRunner
	Playlists PlaylistFetcher
	Files     duplicate.FileChecker
	Store     ItemStore
	Settings  SettingsStore
	Notifier  Notifier
	Metrics   *observability.Metrics
}

// state is owned by the actor goroutine.
type state struct {
	ctx      context.Context
	items    map[string]*entity.DownloadItem
	settings entity.Settings
	seq      int64
	timers   map[string]*time.Timer
	// restored items still waiting for metadata
	backlog []metadata.Task
}

// Queue is the single owner of every DownloadItem.
type Queue struct {
	log      *slog.Logger
	cfg      config.Queue
	exec     Executor
	meta     MetadataRunner
	lists    PlaylistFetcher
	files    duplicate.FileChecker
	resolver *duplicate.Resolver
	prompts  *duplicate.Prompts
	store    ItemStore
	settings SettingsStore
	notifier Notifier
	metrics  *observability.Metrics
	now      func() time.Time

	mailbox chan func(*state)
	done    chan struct{}
	running atomic.Bool

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup

	answersMu sync.Mutex
	answers   map[string]chan Admission

	st *state
}

var _ Service = (*Queue)(nil)

// New creates a Queue holding initial settings. Call Restore before Run to
// load persisted items.
func New(log *slog.Logger, cfg config.Queue, deps Deps, initial entity.Settings) *Queue {
	bgCtx, bgCancel := context.WithCancel(context.Background())

	log = log.With(slog.String("package", "service"))

	return &Queue{
		log:      log,
		cfg:      cfg,
		exec:     deps.Executor,
		meta:     deps.Metadata,
		lists:    deps.Playlists,
		files:    deps.Files,
		resolver: duplicate.NewResolver(log, deps.Files),
		prompts:  duplicate.NewPrompts(),
		store:    deps.Store,
		settings: deps.Settings,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		now:      time.Now,
		mailbox:  make(chan func(*state)),
		done:     make(chan struct{}),
		bgCtx:    bgCtx,
		bgCancel: bgCancel,
		answers:  make(map[string]chan Admission),
		st: &state{
			ctx:      context.Background(),
			items:    make(map[string]*entity.DownloadItem),
			settings: initial,
			timers:   make(map[string]*time.Timer),
		},
	}
}

// Restore loads persisted items. Items that were running when the process
// stopped come back Paused, a pending conversion is dropped and items still
// waiting for metadata are fetched again once Run starts.
func (q *Queue) Restore(ctx context.Context) error {
	if q.running.Load() {
		return errors.New("restore: queue already running")
	}

	items, err := q.store.LoadItems(ctx)
	if err != nil {
		return err
	}

	log := q.log.With(slog.String("func", "Restore"))
	st := q.st

	for i := range items {
		it := items[i]

		changed := false

		if it.Status.IsRunning() {
			it.Status = entity.StatusPaused
			it.ResetTelemetry()
			it.StartRequested = false
			changed = true
		}

		if it.ConversionScheduled {
			it.ConversionScheduled = false
			changed = true
		}

		if changed {
			it.UpdatedAt = q.now()
			if err := q.store.SaveItem(ctx, it); err != nil {
				log.WarnContext(ctx, "persist restored item", slog.String("id", it.ID), slog.Any("error", err))
			}
		}

		if it.MetadataLoading {
			st.backlog = append(st.backlog, metadata.Task{ID: it.ID, URL: it.URL, Quality: it.RequestedQuality})
		}

		st.seq = max(st.seq, it.Seq)
		st.items[it.ID] = &it
	}

	q.metrics.ResetItems(st.counts())
	log.InfoContext(ctx, "queue restored", slog.Int("items", len(items)), slog.Int("metadata_backlog", len(st.backlog)))

	return nil
}

// Run is the actor loop. It applies mailbox operations and executor events
// until ctx ends, then stops timers, releases prompt waiters and waits for
// background work. Executor runs started with ctx end with it.
func (q *Queue) Run(ctx context.Context) error {
	if !q.running.CompareAndSwap(false, true) {
		return errors.New("queue already running")
	}

	log := q.log.With(slog.String("func", "Run"))
	log.InfoContext(ctx, "queue started", slog.Any("settings", q.st.settings))

	q.st.ctx = ctx
	defer q.shutdown(ctx)

	q.dispatch(q.st)

	if len(q.st.backlog) > 0 {
		q.fetchMetadata(q.st.backlog)
		q.st.backlog = nil
	}

	events := q.exec.Events()

	for {
		select {
		case fn := <-q.mailbox:
			fn(q.st)
		case ev, ok := <-events:
			if !ok {
				log.WarnContext(ctx, "executor event stream closed")

				events = nil

				continue
			}

			q.applyEvent(q.st, ev)
		case <-ctx.Done():
			log.InfoContext(ctx, "queue stopping", slog.Any("cause", context.Cause(ctx)))

			return nil
		}
	}
}

func (q *Queue) shutdown(ctx context.Context) {
	close(q.done)

	for id, t := range q.st.timers {
		t.Stop()
		delete(q.st.timers, id)
	}

	q.prompts.Close()
	q.bgCancel()
	q.bg.Wait()

	q.log.InfoContext(ctx, "queue stopped")
}

// Done is closed once Run has returned.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// do runs fn on the actor and waits for it to finish.
func (q *Queue) do(ctx context.Context, fn func(*state)) error {
	finished := make(chan struct{})

	op := func(st *state) {
		defer close(finished)

		fn(st)
	}

	select {
	case q.mailbox <- op:
	case <-q.done:
		return errs.ErrServiceClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	<-finished

	return nil
}

// Get returns a copy of the item.
func (q *Queue) Get(ctx context.Context, id string) (entity.DownloadItem, error) {
	if id == "" {
		return entity.DownloadItem{}, errs.ErrItemIDEmpty
	}

	var (
		out   entity.DownloadItem
		found bool
	)

	if err := q.do(ctx, func(st *state) {
		if it, ok := st.items[id]; ok {
			out, found = *it, true
		}
	}); err != nil {
		return entity.DownloadItem{}, err
	}

	if !found {
		return entity.DownloadItem{}, errs.ErrItemNotFound
	}

	return out, nil
}

// List returns copies of every item ordered by admission.
func (q *Queue) List(ctx context.Context) ([]entity.DownloadItem, error) {
	var out []entity.DownloadItem

	if err := q.do(ctx, func(st *state) {
		out = st.snapshot()
	}); err != nil {
		return nil, err
	}

	return out, nil
}

// Settings returns the current settings.
func (q *Queue) Settings(ctx context.Context) (entity.Settings, error) {
	var out entity.Settings

	if err := q.do(ctx, func(st *state) {
		out = st.settings
	}); err != nil {
		return entity.Settings{}, err
	}

	return out, nil
}

// UpdateSettings validates, persists and applies s. Raising MaxConcurrent
// starts waiting items right away.
func (q *Queue) UpdateSettings(ctx context.Context, s entity.Settings) (entity.Settings, error) {
	s, err := settings.Validate(s)
	if err != nil {
		return entity.Settings{}, err
	}

	var saveErr error

	if err := q.do(ctx, func(st *state) {
		if saveErr = q.settings.Save(st.ctx, s); saveErr != nil {
			return
		}

		st.settings = s
		q.log.InfoContext(st.ctx, "settings updated", slog.Any("settings", s))
		q.dispatch(st)
	}); err != nil {
		return entity.Settings{}, err
	}

	if saveErr != nil {
		return entity.Settings{}, saveErr
	}

	return s, nil
}

// CurrentPrompt returns the outstanding duplicate prompt.
func (q *Queue) CurrentPrompt() (duplicate.Prompt, bool) {
	return q.prompts.Current()
}

func (st *state) snapshot() []entity.DownloadItem {
	out := make([]entity.DownloadItem, 0, len(st.items))
	for _, it := range st.items {
		out = append(out, *it)
	}

	slices.SortFunc(out, func(a, b entity.DownloadItem) int {
		return cmp.Compare(a.Seq, b.Seq)
	})

	return out
}

func (st *state) nextSeq() int64 {
	st.seq++

	return st.seq
}

// active counts items occupying a transfer slot.
func (st *state) active() int {
	n := 0

	for _, it := range st.items {
		if it.Status.IsRunning() {
			n++
		}
	}

	return n
}

func (st *state) counts() map[string]int {
	out := make(map[string]int)
	for _, it := range st.items {
		out[string(it.Status)]++
	}

	return out
}

func (st *state) stopTimer(id string) {
	if t, ok := st.timers[id]; ok {
		t.Stop()
		delete(st.timers, id)
	}
}
