package service

import (
	"context"
	"io"
	"log/slog"

	"nagare/internal/entity"
	"nagare/internal/snapshot"
)

// Export writes the queue and the settings as an xz snapshot.
func (q *Queue) Export(ctx context.Context, w io.Writer) error {
	var snap snapshot.Snapshot

	if err := q.do(ctx, func(st *state) {
		snap = snapshot.Snapshot{
			ExportedAt: q.now(),
			Settings:   st.settings,
			Items:      st.snapshot(),
		}
	}); err != nil {
		return err
	}

	return snapshot.Write(w, snap)
}

// Import adds the items of a snapshot that are not in the queue yet and
// returns how many were added. Imported items keep their relative order
// behind the existing ones. Running items come back Paused and the snapshot
// settings are ignored.
func (q *Queue) Import(ctx context.Context, r io.Reader) (int, error) {
	snap, err := snapshot.Read(r)
	if err != nil {
		return 0, err
	}

	var added int

	err = q.do(ctx, func(st *state) {
		for _, it := range snap.Items {
			if it.ID == "" {
				continue
			}

			if _, ok := st.items[it.ID]; ok {
				continue
			}

			if it.Status.IsRunning() || it.Status == entity.StatusQueued {
				it.Status = entity.StatusPaused
			}

			it.Speed, it.ETA = "", ""
			it.SetProgress(it.Progress)
			it.Seq = st.nextSeq()
			it.StartRequested = false
			it.ConversionScheduled = false
			it.MetadataLoading = false
			it.UpdatedAt = q.now()

			st.items[it.ID] = &it
			q.persist(st, &it)

			added++
		}

		q.metrics.ResetItems(st.counts())
		q.log.InfoContext(st.ctx, "snapshot imported", slog.Int("items", len(snap.Items)), slog.Int("added", added))
	})

	return added, err
}
