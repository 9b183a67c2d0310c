package httprouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"nagare/internal/consts"
	"nagare/internal/entity"
	"nagare/internal/errs"
	"nagare/internal/infrastructure/delivery/http/request"
	"nagare/internal/infrastructure/delivery/http/response"
	"nagare/internal/service"
	"nagare/internal/snapshot"
)

const maxImportSize = 64 << 20

// ExtractResult is the data of POST /v1/urls/extract.
type ExtractResult struct {
	URLs       []entity.ExtractedURL `json:"urls"`
	Duplicates int                   `json:"duplicates"`
}

// ClearResult is the data of DELETE /v1/items.
type ClearResult struct {
	Removed int `json:"removed"`
}

// ImportResult is the data of POST /v1/items/import.
type ImportResult struct {
	Added int `json:"added"`
}

func (ro *Router) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	if _, err := ro.svc.Settings(ctx); err != nil {
		response.Error(w, consts.RespServiceClosed, err)

		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (ro *Router) Submit(w http.ResponseWriter, r *http.Request) {
	log := ro.log.With("handler", "Submit")
	ctx := r.Context()

	var in request.Submit
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		log.ErrorContext(ctx, consts.RespInvalidRequestBody, slog.Any("error", err))
		response.BadRequest(w, consts.RespInvalidRequestBody, err)

		return
	}

	if err := in.Validate(); err != nil {
		log.DebugContext(ctx, consts.RespUnprocessableEntity, slog.Any("error", err))
		response.UnprocessableEntity(w, consts.RespUnprocessableEntity, err)

		return
	}

	if in.IsText() || in.IsPlaylist() {
		adms, err := ro.submitMany(ctx, in)
		if err != nil {
			log.DebugContext(ctx, consts.RespSubmitFail, slog.Any("error", err))
			response.Error(w, consts.RespSubmitFail, err)

			return
		}

		log.InfoContext(ctx, consts.RespItemsAdmitted, slog.Int("count", len(adms)))
		response.OK(w, consts.RespItemsAdmitted, adms, nil)

		return
	}

	adm, err := ro.svc.Submit(ctx, in.Request())
	if err != nil {
		log.DebugContext(ctx, consts.RespSubmitFail, slog.Any("error", err))
		response.Error(w, consts.RespSubmitFail, err)

		return
	}

	log.InfoContext(ctx, "submission handled", slog.Any("admission", adm))

	switch adm.Outcome {
	case service.OutcomeAdmitted:
		response.Created(w, consts.RespItemAdmitted, adm, nil)
	case service.OutcomePending:
		response.Accepted(w, string(adm.Outcome), adm, nil)
	default:
		response.OK(w, string(adm.Outcome), adm, nil)
	}
}

// submitMany answers with one admission per URL: text submissions and
// playlists, which expand into their entries.
func (ro *Router) submitMany(ctx context.Context, in request.Submit) ([]service.Admission, error) {
	if in.IsText() {
		return ro.svc.SubmitText(ctx, in.Text, in.Quality, in.Format)
	}

	return ro.svc.SubmitBatch(ctx, []service.SubmitRequest{in.Request()})
}

func (ro *Router) ListItems(w http.ResponseWriter, r *http.Request) {
	log := ro.log.With("handler", "ListItems")
	ctx := r.Context()

	items, err := ro.svc.List(ctx)
	if err != nil {
		log.ErrorContext(ctx, "list items", slog.Any("error", err))
		response.Error(w, "list items failed", err)

		return
	}

	response.OK(w, consts.RespItemsRetrieved, items, nil)
}

func (ro *Router) GetItem(w http.ResponseWriter, r *http.Request) {
	log := ro.log.With("handler", "GetItem")
	ctx := r.Context()

	id := r.PathValue("id")
	if id == "" {
		log.ErrorContext(ctx, consts.RespQueryParamMissing)
		response.BadRequest(w, consts.RespQueryParamMissing, nil)

		return
	}

	item, err := ro.svc.Get(ctx, id)
	if err != nil {
		log.DebugContext(ctx, consts.RespItemNotFound, slog.String("id", id), slog.Any("error", err))
		response.Error(w, consts.RespItemNotFound, err)

		return
	}

	response.OK(w, consts.RespItemRetrieved, item, nil)
}

// ItemIntent applies start, pause, stop or retry to one item.
func (ro *Router) ItemIntent(w http.ResponseWriter, r *http.Request) {
	log := ro.log.With("handler", "ItemIntent")
	ctx := r.Context()

	id, intent := r.PathValue("id"), r.PathValue("intent")

	var apply func(context.Context, string) (entity.DownloadItem, error)

	switch intent {
	case "start":
		apply = ro.svc.Start
	case "pause":
		apply = ro.svc.Pause
	case "stop":
		apply = ro.svc.Stop
	case "retry":
		apply = ro.svc.Retry
	default:
		response.NotFound(w, "unknown intent", fmt.Errorf("intent %q", intent))

		return
	}

	item, err := apply(ctx, id)
	if err != nil {
		log.DebugContext(ctx, consts.RespIntentFail, slog.String("intent", intent), slog.String("id", id),
			slog.Any("error", err))
		response.Error(w, consts.RespIntentFail, err)

		return
	}

	log.InfoContext(ctx, consts.RespItemUpdated, slog.String("intent", intent), slog.String("id", id))
	response.OK(w, consts.RespItemUpdated, item, nil)
}

func (ro *Router) RemoveItem(w http.ResponseWriter, r *http.Request) {
	log := ro.log.With("handler", "RemoveItem")
	ctx := r.Context()

	id := r.PathValue("id")

	if err := ro.svc.Remove(ctx, id); err != nil {
		log.DebugContext(ctx, consts.RespIntentFail, slog.String("id", id), slog.Any("error", err))
		response.Error(w, consts.RespIntentFail, err)

		return
	}

	log.InfoContext(ctx, consts.RespItemRemoved, slog.String("id", id))
	response.OK(w, consts.RespItemRemoved, nil, nil)
}

func (ro *Router) ClearItems(w http.ResponseWriter, r *http.Request) {
	log := ro.log.With("handler", "ClearItems")
	ctx := r.Context()

	n, err := ro.svc.Clear(ctx)
	if err != nil {
		log.ErrorContext(ctx, "clear items", slog.Any("error", err))
		response.Error(w, "clear failed", err)

		return
	}

	log.InfoContext(ctx, consts.RespQueueCleared, slog.Int("removed", n))
	response.OK(w, consts.RespQueueCleared, ClearResult{Removed: n}, nil)
}

// ExportItems streams the queue as an xz snapshot download.
func (ro *Router) ExportItems(w http.ResponseWriter, r *http.Request) {
	log := ro.log.With("handler", "ExportItems")
	ctx := r.Context()

	var buf bytes.Buffer
	if err := ro.svc.Export(ctx, &buf); err != nil {
		log.ErrorContext(ctx, consts.RespExportFail, slog.Any("error", err))
		response.Error(w, consts.RespExportFail, err)

		return
	}

	w.Header().Set("Content-Type", "application/x-xz")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", snapshot.FileName(time.Now())))
	w.WriteHeader(http.StatusOK)

	if _, err := buf.WriteTo(w); err != nil {
		log.WarnContext(ctx, "write snapshot", slog.Any("error", err))
	}
}

// ImportItems reads an xz snapshot from the request body.
func (ro *Router) ImportItems(w http.ResponseWriter, r *http.Request) {
	log := ro.log.With("handler", "ImportItems")
	ctx := r.Context()

	n, err := ro.svc.Import(ctx, http.MaxBytesReader(w, r.Body, maxImportSize))
	if err != nil {
		log.ErrorContext(ctx, "import snapshot", slog.Any("error", err))

		if response.StatusOf(err) == http.StatusInternalServerError {
			response.UnprocessableEntity(w, "import failed", err)

			return
		}

		response.Error(w, "import failed", err)

		return
	}

	log.InfoContext(ctx, "snapshot imported", slog.Int("added", n))
	response.OK(w, "snapshot imported", ImportResult{Added: n}, nil)
}

func (ro *Router) GetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	s, err := ro.svc.Settings(ctx)
	if err != nil {
		response.Error(w, consts.RespServiceClosed, err)

		return
	}

	response.OK(w, consts.RespSettingsRetrieved, s, nil)
}

// UpdateSettings merges the body onto the current settings, so a partial
// document changes only the fields it names.
func (ro *Router) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	log := ro.log.With("handler", "UpdateSettings")
	ctx := r.Context()

	s, err := ro.svc.Settings(ctx)
	if err != nil {
		response.Error(w, consts.RespSettingsFail, err)

		return
	}

	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		log.ErrorContext(ctx, consts.RespInvalidRequestBody, slog.Any("error", err))
		response.BadRequest(w, consts.RespInvalidRequestBody, err)

		return
	}

	s, err = ro.svc.UpdateSettings(ctx, s)
	if err != nil {
		log.DebugContext(ctx, consts.RespSettingsFail, slog.Any("error", err))
		response.Error(w, consts.RespSettingsFail, err)

		return
	}

	response.OK(w, consts.RespSettingsUpdated, s, nil)
}

func (ro *Router) CurrentPrompt(w http.ResponseWriter, _ *http.Request) {
	p, ok := ro.svc.CurrentPrompt()
	if !ok {
		response.NoContent(w)

		return
	}

	response.OK(w, consts.RespPromptRetrieved, p, nil)
}

func (ro *Router) DecidePrompt(w http.ResponseWriter, r *http.Request) {
	log := ro.log.With("handler", "DecidePrompt")
	ctx := r.Context()

	id := r.PathValue("id")

	var in request.Decide
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		log.ErrorContext(ctx, consts.RespInvalidRequestBody, slog.Any("error", err))
		response.BadRequest(w, consts.RespInvalidRequestBody, err)

		return
	}

	action, err := in.Parse()
	if err != nil {
		response.UnprocessableEntity(w, consts.RespUnprocessableEntity, err)

		return
	}

	adm, err := ro.svc.Decide(ctx, id, action)
	if err != nil {
		log.DebugContext(ctx, "decide prompt", slog.String("id", id), slog.Any("error", err))
		response.Error(w, "decide failed", err)

		return
	}

	log.InfoContext(ctx, consts.RespPromptResolved, slog.Any("admission", adm))
	response.OK(w, consts.RespPromptResolved, adm, nil)
}

func (ro *Router) ExtractURLs(w http.ResponseWriter, r *http.Request) {
	var in request.Extract
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.BadRequest(w, consts.RespInvalidRequestBody, errors.Join(errs.ErrInvalidRequestBody, err))

		return
	}

	if err := in.Validate(); err != nil {
		response.UnprocessableEntity(w, consts.RespUnprocessableEntity, err)

		return
	}

	found, dups := ro.svc.ExtractURLs(r.Context(), in.Text)

	response.OK(w, consts.RespURLsExtracted, ExtractResult{URLs: found, Duplicates: dups}, nil)
}
