package service

import (
	"context"
	"fmt"
	"log/slog"

	"nagare/internal/consts"
	"nagare/internal/entity"
	"nagare/internal/errs"
)

// Reasons a progress event is discarded.
const (
	discardUnknownItem       = "unknown_item"
	discardCancelled         = "cancelled"
	discardStale             = "stale"
	discardUnsupportedStatus = "unsupported_status"
)

// reduce applies ev to it. A non-empty reason means the event was discarded
// and it is returned unchanged.
func reduce(it entity.DownloadItem, ev entity.ProgressEvent) (entity.DownloadItem, string) {
	switch {
	case it.Status == entity.StatusCancelled:
		return it, discardCancelled
	case it.Status == entity.StatusCompleted && it.ConversionScheduled:
		// the conversion may fail before it reports any progress
		switch ev.Status {
		case entity.StatusConverting, entity.StatusFailed, entity.StatusCancelled:
		default:
			return it, discardStale
		}
	case !it.Status.IsRunning():
		return it, discardStale
	}

	switch ev.Status {
	case entity.StatusDownloading:
		if it.Status != entity.StatusDownloading {
			return it, discardStale
		}

		it.SetProgress(ev.Progress)
		it.Speed = ev.Speed
		it.ETA = ev.ETA
		it.DownloadedBytes = ev.DownloadedBytes
		it.TotalBytes = ev.TotalBytes
	case entity.StatusConverting:
		if it.Status != entity.StatusConverting {
			it.Status = entity.StatusConverting
			it.Speed, it.ETA = "", ""
		}

		it.SetProgress(ev.Progress)

		if ev.ETA != "" {
			it.ETA = ev.ETA
		}
	case entity.StatusCompleted:
		if it.Status == entity.StatusConverting {
			it.ConversionScheduled = false
		}

		it.Status = entity.StatusCompleted
		it.SetProgress(100)
		it.Speed, it.ETA = "", ""

		if ev.FilePath != "" {
			it.FilePath = ev.FilePath
		}
	case entity.StatusFailed:
		it.Status = entity.StatusFailed
		it.ConversionScheduled = false
		it.Speed, it.ETA = "", ""

		it.Error = ev.Error
		if it.Error == "" {
			it.Error = "unknown error"
		}
	case entity.StatusCancelled:
		it.Status = entity.StatusCancelled
		it.ConversionScheduled = false
		it.Speed, it.ETA = "", ""
	default:
		return it, discardUnsupportedStatus
	}

	return it, ""
}

// ApplyProgress feeds one executor event through the actor. Run already pumps
// the executor stream, so this is for events from other sources.
func (q *Queue) ApplyProgress(ctx context.Context, ev entity.ProgressEvent) error {
	return q.do(ctx, func(st *state) {
		q.applyEvent(st, ev)
	})
}

func (q *Queue) applyEvent(st *state, ev entity.ProgressEvent) {
	it, ok := st.items[ev.ID]
	if !ok {
		q.discard(st.ctx, ev, discardUnknownItem)

		return
	}

	next, reason := reduce(*it, ev)
	if reason != "" {
		q.discard(st.ctx, ev, reason)

		return
	}

	from := it.Status
	pathChanged := next.FilePath != it.FilePath
	*it = next

	if from == it.Status && !pathChanged {
		it.UpdatedAt = q.now()

		return
	}

	q.commit(st, it, from)
}

func (q *Queue) discard(ctx context.Context, ev entity.ProgressEvent, reason string) {
	q.metrics.RecordEventDiscarded(reason)
	q.log.DebugContext(ctx, "progress event discarded", slog.String("reason", reason), slog.Any("event", ev))
}

// Start moves a Queued, Paused or Failed item to Downloading, or marks it
// start-requested while every transfer slot is taken. Starting a running
// item is a no-op.
func (q *Queue) Start(ctx context.Context, id string) (entity.DownloadItem, error) {
	return q.intent(ctx, id, "start", func(st *state, it *entity.DownloadItem) error {
		switch it.Status {
		case entity.StatusQueued, entity.StatusPaused, entity.StatusFailed:
			q.start(st, it)

			return nil
		case entity.StatusDownloading, entity.StatusConverting:
			return nil
		default:
			return fmt.Errorf("start %s item: %w", it.Status, errs.ErrInvalidTransition)
		}
	})
}

// Retry restarts a Failed item.
func (q *Queue) Retry(ctx context.Context, id string) (entity.DownloadItem, error) {
	return q.intent(ctx, id, "retry", func(st *state, it *entity.DownloadItem) error {
		if it.Status != entity.StatusFailed {
			return fmt.Errorf("retry %s item: %w", it.Status, errs.ErrInvalidTransition)
		}

		q.start(st, it)

		return nil
	})
}

// Pause stops the external run and keeps the item for a later Start.
func (q *Queue) Pause(ctx context.Context, id string) (entity.DownloadItem, error) {
	return q.intent(ctx, id, "pause", func(st *state, it *entity.DownloadItem) error {
		switch {
		case it.Status == entity.StatusPaused:
			return nil
		case !it.Status.IsActive():
			return fmt.Errorf("pause %s item: %w", it.Status, errs.ErrInvalidTransition)
		}

		from := it.Status
		q.halt(st, it)
		it.Status = entity.StatusPaused
		q.commit(st, it, from)

		return nil
	})
}

// Stop cancels the item for good. Later events for it are discarded. A
// Completed item with a pending conversion keeps its status and file and only
// loses the conversion.
func (q *Queue) Stop(ctx context.Context, id string) (entity.DownloadItem, error) {
	return q.intent(ctx, id, "stop", func(st *state, it *entity.DownloadItem) error {
		switch {
		case it.Status == entity.StatusCancelled:
			return nil
		case it.Status == entity.StatusCompleted && it.ConversionScheduled:
			q.halt(st, it)
			q.commit(st, it, it.Status)
			q.notify(st, it)

			return nil
		case !it.Status.IsActive() && it.Status != entity.StatusPaused:
			return fmt.Errorf("stop %s item: %w", it.Status, errs.ErrInvalidTransition)
		}

		from := it.Status
		q.halt(st, it)
		it.Status = entity.StatusCancelled
		q.commit(st, it, from)

		return nil
	})
}

// Remove deletes the item, cancelling whatever runs for it.
func (q *Queue) Remove(ctx context.Context, id string) error {
	if id == "" {
		return errs.ErrItemIDEmpty
	}

	var found bool

	if err := q.do(ctx, func(st *state) {
		it, ok := st.items[id]
		if !ok {
			return
		}

		found = true
		wasRunning := it.Status.IsRunning()

		q.halt(st, it)
		delete(st.items, id)

		if err := q.store.DeleteItem(st.ctx, id); err != nil {
			q.log.ErrorContext(st.ctx, "delete item", slog.String("id", id), slog.Any("error", err))
		}

		q.metrics.RecordTransition(string(it.Status), "")
		q.log.InfoContext(st.ctx, "item removed", slog.Any("item", *it))

		if wasRunning {
			q.dispatch(st)
		}
	}); err != nil {
		return err
	}

	if !found {
		return errs.ErrItemNotFound
	}

	return nil
}

// Clear removes every item and returns how many were removed.
func (q *Queue) Clear(ctx context.Context) (int, error) {
	var n int

	err := q.do(ctx, func(st *state) {
		for _, it := range st.items {
			q.halt(st, it)
		}

		n = len(st.items)
		clear(st.items)

		if err := q.store.DeleteAll(st.ctx); err != nil {
			q.log.ErrorContext(st.ctx, "delete all items", slog.Any("error", err))
		}

		q.metrics.ResetItems(st.counts())
		q.log.InfoContext(st.ctx, "queue cleared", slog.Int("removed", n))
	})

	return n, err
}

// intent runs fn against the item on the actor and returns the item after it.
func (q *Queue) intent(ctx context.Context, id, name string,
	fn func(st *state, it *entity.DownloadItem) error,
) (entity.DownloadItem, error) {
	if id == "" {
		return entity.DownloadItem{}, errs.ErrItemIDEmpty
	}

	var (
		out      entity.DownloadItem
		found    bool
		applyErr error
	)

	if err := q.do(ctx, func(st *state) {
		it, ok := st.items[id]
		if !ok {
			return
		}

		found = true
		applyErr = fn(st, it)
		out = *it
	}); err != nil {
		return entity.DownloadItem{}, err
	}

	if !found {
		return entity.DownloadItem{}, errs.ErrItemNotFound
	}

	if applyErr != nil {
		q.log.DebugContext(ctx, "intent rejected", slog.String("intent", name), slog.String("id", id),
			slog.Any("error", applyErr))

		return out, applyErr
	}

	return out, nil
}

// halt cancels the executor run and any pending conversion of it.
func (q *Queue) halt(st *state, it *entity.DownloadItem) {
	if it.Status.IsRunning() || it.ConversionScheduled {
		if err := q.exec.Cancel(st.ctx, it.ID); err != nil {
			q.log.WarnContext(st.ctx, "cancel run", slog.String("id", it.ID), slog.Any("error", err))
		}
	}

	st.stopTimer(it.ID)

	it.StartRequested = false
	it.ConversionScheduled = false
	it.Speed, it.ETA = "", ""
}

// start launches it when a transfer slot is free. Otherwise it waits Queued
// with StartRequested set until dispatch picks it up.
func (q *Queue) start(st *state, it *entity.DownloadItem) {
	if st.active() < st.settings.MaxConcurrent {
		q.launch(st, it)

		return
	}

	from := it.Status
	it.Status = entity.StatusQueued
	it.StartRequested = true
	it.ResetTelemetry()

	q.log.DebugContext(st.ctx, "no free slot, start deferred", slog.String("id", it.ID),
		slog.Int("max_concurrent", st.settings.MaxConcurrent))
	q.commit(st, it, from)
}

func (q *Queue) launch(st *state, it *entity.DownloadItem) {
	from := it.Status

	it.Status = entity.StatusDownloading
	it.SetProgress(0)
	it.ResetTelemetry()
	it.StartRequested = false
	it.ConversionScheduled = false
	it.AutoConvert = it.ConvertFormat != ""

	req := entity.TransferRequest{
		ID:              it.ID,
		URL:             it.URL,
		Quality:         it.RequestedQuality,
		Format:          it.Format,
		OutputDir:       it.OutputDir,
		ConvertFormat:   it.ConvertFormat,
		KeepOriginal:    it.KeepOriginal,
		OutputName:      it.OutputName,
		DuplicateAction: it.DuplicateAction,
	}

	if err := q.exec.SubmitTransfer(st.ctx, req); err != nil {
		it.Status = entity.StatusFailed
		it.Error = "submit transfer: " + err.Error()
	}

	q.commit(st, it, from)
}

// dispatch starts start-requested items, oldest first, while slots are free.
func (q *Queue) dispatch(st *state) {
	for st.active() < st.settings.MaxConcurrent {
		var next *entity.DownloadItem

		for _, it := range st.items {
			if it.Status != entity.StatusQueued || !it.StartRequested {
				continue
			}

			if next == nil || it.Seq < next.Seq {
				next = it
			}
		}

		if next == nil {
			return
		}

		q.launch(st, next)
	}
}

// commit stamps it, runs the transition hooks when the status changed and
// persists it.
func (q *Queue) commit(st *state, it *entity.DownloadItem, from entity.Status) {
	it.UpdatedAt = q.now()

	changed := from != it.Status
	if changed {
		q.metrics.RecordTransition(string(from), string(it.Status))
		q.log.DebugContext(st.ctx, "status changed", slog.String("from", string(from)), slog.Any("item", *it))

		if it.Status == entity.StatusCompleted {
			q.autoConvert(st, it)
		}

		q.notify(st, it)
	}

	q.persist(st, it)

	if changed && from.IsRunning() && !it.Status.IsRunning() {
		q.dispatch(st)
	}
}

func (q *Queue) persist(st *state, it *entity.DownloadItem) {
	if err := q.store.SaveItem(st.ctx, *it); err != nil {
		q.log.ErrorContext(st.ctx, "persist item", slog.String("id", it.ID), slog.Any("error", err))
	}
}

// notify sends a notification for a Failed item or a Completed item with
// nothing left to do.
func (q *Queue) notify(st *state, it *entity.DownloadItem) {
	if q.notifier == nil || !st.settings.Notifications {
		return
	}

	var send func(context.Context, entity.DownloadItem) error

	switch {
	case it.Status == entity.StatusFailed:
		send = q.notifier.NotifyFailed
	case it.Status == entity.StatusCompleted && !it.ConversionScheduled:
		send = q.notifier.NotifyCompleted
	default:
		return
	}

	item := *it

	q.bg.Go(func() {
		ctx, cancel := context.WithTimeout(q.bgCtx, consts.DefaultNotifyTimeout)
		defer cancel()

		if err := send(ctx, item); err != nil {
			q.log.DebugContext(ctx, "notify", slog.String("id", item.ID), slog.Any("error", err))
		}
	})
}
