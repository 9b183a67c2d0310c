package service

import (
	"log/slog"
	"time"

	"nagare/internal/duplicate"
	"nagare/internal/entity"
)

// autoConvert runs inside commit on every transition into Completed. It
// consumes the AutoConvert flag so a repeated completion cannot schedule a
// second conversion.
func (q *Queue) autoConvert(st *state, it *entity.DownloadItem) {
	if !it.AutoConvert {
		return
	}

	it.AutoConvert = false

	log := q.log.With(slog.String("func", "autoConvert"), slog.String("id", it.ID))

	if it.ConvertFormat == "" {
		return
	}

	if it.FilePath == "" {
		log.WarnContext(st.ctx, "completed without a file path, conversion skipped")

		return
	}

	it.ConversionScheduled = true
	q.metrics.RecordConversionScheduled()

	id := it.ID
	delay := q.cfg.ConvertDelay

	st.stopTimer(id)

	var timer *time.Timer

	timer = time.AfterFunc(delay, func() {
		_ = q.do(q.bgCtx, func(st *state) {
			if st.timers[id] != timer {
				return
			}

			delete(st.timers, id)
			q.submitConversion(st, id)
		})
	})
	st.timers[id] = timer

	log.DebugContext(st.ctx, "conversion scheduled", slog.Duration("delay", delay),
		slog.String("format", it.ConvertFormat))
}

func (q *Queue) submitConversion(st *state, id string) {
	it, ok := st.items[id]
	if !ok || it.Status != entity.StatusCompleted || !it.ConversionScheduled {
		return
	}

	log := q.log.With(slog.String("func", "submitConversion"), slog.String("id", id))

	out, err := duplicate.ConversionPath(it.FilePath, it.RequestedQuality, it.ConvertFormat)
	if err == nil {
		err = q.exec.SubmitConversion(st.ctx, entity.ConversionRequest{
			ID:            id,
			InputPath:     it.FilePath,
			OutputPath:    out,
			ConvertFormat: it.ConvertFormat,
			KeepOriginal:  it.KeepOriginal,
		})
	}

	if err != nil {
		log.WarnContext(st.ctx, "conversion not started", slog.Any("error", err))

		it.ConversionScheduled = false
		it.Error = "conversion: " + err.Error()
		it.UpdatedAt = q.now()

		q.persist(st, it)
		q.notify(st, it)

		return
	}

	log.InfoContext(st.ctx, "conversion submitted", slog.String("output", out))
}
