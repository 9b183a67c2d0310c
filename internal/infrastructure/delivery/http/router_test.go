package httprouter_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"nagare/internal/config"
	"nagare/internal/duplicate"
	"nagare/internal/entity"
	"nagare/internal/errs"
	httprouter "nagare/internal/infrastructure/delivery/http"
	"nagare/internal/observability"
	"nagare/internal/service"
	"nagare/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
)

// stubService answers from canned values and records the last call.
type stubService struct {
	lastCall string
	lastID   string
	lastReq  service.SubmitRequest
	lastText string

	admission service.Admission
	item      entity.DownloadItem
	items     []entity.DownloadItem
	settings  entity.Settings
	prompt    *duplicate.Prompt
	imported  []byte
	err       error
}

var _ service.Service = (*stubService)(nil)

func (s *stubService) Submit(_ context.Context, req service.SubmitRequest) (service.Admission, error) {
	s.lastCall, s.lastReq = "submit", req

	return s.admission, s.err
}

func (s *stubService) SubmitBatch(_ context.Context, reqs []service.SubmitRequest) ([]service.Admission, error) {
	s.lastCall = "batch"

	return make([]service.Admission, len(reqs)), s.err
}

func (s *stubService) SubmitText(_ context.Context, text, _, _ string) ([]service.Admission, error) {
	s.lastCall, s.lastText = "text", text

	return []service.Admission{s.admission, s.admission}, s.err
}

func (s *stubService) ExtractURLs(_ context.Context, text string) ([]entity.ExtractedURL, int) {
	s.lastCall, s.lastText = "extract", text

	found, dups := service.Extract(text)
	for i := range found {
		if found[i].IsPlaylist {
			found[i].PlaylistCount = 3
		}
	}

	return found, dups
}

func (s *stubService) intent(name, id string) (entity.DownloadItem, error) {
	s.lastCall, s.lastID = name, id

	return s.item, s.err
}

func (s *stubService) Start(_ context.Context, id string) (entity.DownloadItem, error) {
	return s.intent("start", id)
}

func (s *stubService) Pause(_ context.Context, id string) (entity.DownloadItem, error) {
	return s.intent("pause", id)
}

func (s *stubService) Stop(_ context.Context, id string) (entity.DownloadItem, error) {
	return s.intent("stop", id)
}

func (s *stubService) Retry(_ context.Context, id string) (entity.DownloadItem, error) {
	return s.intent("retry", id)
}

func (s *stubService) Remove(_ context.Context, id string) error {
	_, err := s.intent("remove", id)

	return err
}

func (s *stubService) Clear(context.Context) (int, error) {
	s.lastCall = "clear"

	return len(s.items), s.err
}

func (s *stubService) ApplyProgress(context.Context, entity.ProgressEvent) error {
	return s.err
}

func (s *stubService) Get(_ context.Context, id string) (entity.DownloadItem, error) {
	return s.intent("get", id)
}

func (s *stubService) List(context.Context) ([]entity.DownloadItem, error) {
	return s.items, s.err
}

func (s *stubService) Settings(context.Context) (entity.Settings, error) {
	return s.settings, s.err
}

func (s *stubService) UpdateSettings(_ context.Context, st entity.Settings) (entity.Settings, error) {
	s.lastCall = "settings"
	s.settings = st

	return st, s.err
}

func (s *stubService) CurrentPrompt() (duplicate.Prompt, bool) {
	if s.prompt == nil {
		return duplicate.Prompt{}, false
	}

	return *s.prompt, true
}

func (s *stubService) Decide(_ context.Context, id string, action entity.DuplicateAction) (service.Admission, error) {
	s.lastCall, s.lastID = "decide:"+string(action), id

	return s.admission, s.err
}

func (s *stubService) Export(_ context.Context, w io.Writer) error {
	if s.err != nil {
		return s.err
	}

	_, err := w.Write([]byte("xz-bytes"))

	return err
}

func (s *stubService) Import(_ context.Context, r io.Reader) (int, error) {
	if s.err != nil {
		return 0, s.err
	}

	var err error
	s.imported, err = io.ReadAll(r)

	return 3, err
}

type envelope struct {
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func serve(t *testing.T, svc service.Service, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	router := httprouter.New(logger.Discard(), config.HTTP{}, svc, observability.New(prometheus.NewRegistry()))

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode body %q: %v", rec.Body.String(), err)
		}
	}

	return rec, env
}

func TestSubmit(t *testing.T) {
	item := &entity.DownloadItem{ID: "abc", URL: "https://vimeo.com/1"}

	tests := []struct {
		name       string
		body       string
		admission  service.Admission
		err        error
		wantStatus int
		wantCall   string
	}{
		{
			name:       "admitted",
			body:       `{"url":"https://vimeo.com/1","quality":"720"}`,
			admission:  service.Admission{Outcome: service.OutcomeAdmitted, Item: item},
			wantStatus: http.StatusCreated,
			wantCall:   "submit",
		},
		{
			name:       "pending prompt",
			body:       `{"url":"https://vimeo.com/1"}`,
			admission:  service.Admission{Outcome: service.OutcomePending, PromptID: "p1"},
			wantStatus: http.StatusAccepted,
			wantCall:   "submit",
		},
		{
			name:       "skipped",
			body:       `{"url":"https://vimeo.com/1"}`,
			admission:  service.Admission{Outcome: service.OutcomeSkipped},
			wantStatus: http.StatusOK,
			wantCall:   "submit",
		},
		{
			name:       "text batch",
			body:       `{"text":"a https://vimeo.com/1 b"}`,
			admission:  service.Admission{Outcome: service.OutcomeAdmitted, Item: item},
			wantStatus: http.StatusOK,
			wantCall:   "text",
		},
		{
			name:       "playlist batch",
			body:       `{"url":"https://www.youtube.com/playlist?list=PL1234"}`,
			wantStatus: http.StatusOK,
			wantCall:   "batch",
		},
		{
			name:       "playlist listing failed",
			body:       `{"url":"https://www.youtube.com/playlist?list=PL1234"}`,
			err:        fmt.Errorf("%w: %w", errs.ErrPlaylist, errs.ErrMetadata),
			wantStatus: http.StatusBadGateway,
			wantCall:   "batch",
		},
		{
			name:       "invalid url",
			body:       `{"url":"ftp://x"}`,
			err:        fmt.Errorf("%w: %w", errs.ErrValidation, errs.ErrInvalidURL),
			wantStatus: http.StatusUnprocessableEntity,
			wantCall:   "submit",
		},
		{
			name:       "empty body",
			body:       `{}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "malformed json",
			body:       `{"url":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "closed",
			body:       `{"url":"https://vimeo.com/1"}`,
			err:        errs.ErrServiceClosed,
			wantStatus: http.StatusServiceUnavailable,
			wantCall:   "submit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{admission: tt.admission, err: tt.err}

			rec, env := serve(t, svc, http.MethodPost, "/v1/items", tt.body)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}

			if svc.lastCall != tt.wantCall {
				t.Errorf("call = %q, want %q", svc.lastCall, tt.wantCall)
			}

			if tt.err != nil && env.Error == "" {
				t.Errorf("error message missing")
			}
		})
	}
}

func TestItemIntents(t *testing.T) {
	tests := []struct {
		method     string
		path       string
		err        error
		wantStatus int
		wantCall   string
	}{
		{http.MethodGet, "/v1/items/a1", nil, http.StatusOK, "get"},
		{http.MethodGet, "/v1/items/a1", errs.ErrItemNotFound, http.StatusNotFound, "get"},
		{http.MethodPost, "/v1/items/a1/start", nil, http.StatusOK, "start"},
		{http.MethodPost, "/v1/items/a1/pause", nil, http.StatusOK, "pause"},
		{http.MethodPost, "/v1/items/a1/stop", nil, http.StatusOK, "stop"},
		{http.MethodPost, "/v1/items/a1/retry", errs.ErrInvalidTransition, http.StatusConflict, "retry"},
		{http.MethodPost, "/v1/items/a1/explode", nil, http.StatusNotFound, ""},
		{http.MethodDelete, "/v1/items/a1", nil, http.StatusOK, "remove"},
		{http.MethodDelete, "/v1/items/a1", errs.ErrItemNotFound, http.StatusNotFound, "remove"},
	}

	for _, tt := range tests {
		name := tt.method + " " + tt.path
		if tt.err != nil {
			name += " " + tt.err.Error()
		}

		t.Run(name, func(t *testing.T) {
			svc := &stubService{item: entity.DownloadItem{ID: "a1"}, err: tt.err}

			rec, _ := serve(t, svc, tt.method, tt.path, "")

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}

			if svc.lastCall != tt.wantCall {
				t.Errorf("call = %q, want %q", svc.lastCall, tt.wantCall)
			}

			if tt.wantCall != "" && svc.lastID != "a1" {
				t.Errorf("id = %q, want a1", svc.lastID)
			}
		})
	}
}

func TestListAndClear(t *testing.T) {
	svc := &stubService{items: []entity.DownloadItem{{ID: "a", Seq: 1}, {ID: "b", Seq: 2}}}

	rec, env := serve(t, svc, http.MethodGet, "/v1/items", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}

	var items []entity.DownloadItem
	if err := json.Unmarshal(env.Data, &items); err != nil || len(items) != 2 || items[0].ID != "a" {
		t.Errorf("items = %+v, %v", items, err)
	}

	rec, env = serve(t, svc, http.MethodDelete, "/v1/items", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("clear status = %d", rec.Code)
	}

	var cleared httprouter.ClearResult
	if err := json.Unmarshal(env.Data, &cleared); err != nil || cleared.Removed != 2 {
		t.Errorf("clear result = %+v, %v", cleared, err)
	}
}

func TestSettings(t *testing.T) {
	svc := &stubService{settings: entity.Settings{MaxConcurrent: 3, DefaultQuality: "best", OutputDir: "/out"}}

	rec, _ := serve(t, svc, http.MethodPut, "/v1/settings", `{"maxConcurrent":7}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	if svc.settings.MaxConcurrent != 7 || svc.settings.OutputDir != "/out" {
		t.Errorf("settings = %+v, want a merge of the partial body", svc.settings)
	}

	svc.err = fmt.Errorf("%w: %w", errs.ErrValidation, errs.ErrInvalidSettings)

	rec, _ = serve(t, svc, http.MethodPut, "/v1/settings", `{"maxConcurrent":7}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("invalid settings status = %d, want 422", rec.Code)
	}
}

func TestPrompts(t *testing.T) {
	svc := &stubService{}

	rec, _ := serve(t, svc, http.MethodGet, "/v1/prompts/current", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("no prompt status = %d, want 204", rec.Code)
	}

	svc.prompt = &duplicate.Prompt{ID: "p1", URL: "https://vimeo.com/1", Kind: entity.DuplicateKindURL}

	rec, env := serve(t, svc, http.MethodGet, "/v1/prompts/current", "")
	if rec.Code != http.StatusOK || !bytes.Contains(env.Data, []byte(`"p1"`)) {
		t.Errorf("prompt = %d %s", rec.Code, env.Data)
	}

	svc.admission = service.Admission{Outcome: service.OutcomeDuplicate}

	rec, _ = serve(t, svc, http.MethodPost, "/v1/prompts/p1", `{"action":"Skip"}`)
	if rec.Code != http.StatusOK || svc.lastCall != "decide:skip" || svc.lastID != "p1" {
		t.Errorf("decide = %d %q %q", rec.Code, svc.lastCall, svc.lastID)
	}

	rec, _ = serve(t, svc, http.MethodPost, "/v1/prompts/p1", `{"action":"maybe"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("unknown action status = %d, want 422", rec.Code)
	}

	svc.err = errs.ErrPromptNotFound

	rec, _ = serve(t, svc, http.MethodPost, "/v1/prompts/zz", `{"action":"allow"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("stale prompt status = %d, want 404", rec.Code)
	}
}

func TestExportImport(t *testing.T) {
	svc := &stubService{}

	rec, _ := serve(t, svc, http.MethodGet, "/v1/items/export", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "xz-bytes" {
		t.Errorf("export = %d %q", rec.Code, rec.Body.String())
	}

	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, ".json.xz") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	rec, env := serve(t, svc, http.MethodPost, "/v1/items/import", "snapshot")
	if rec.Code != http.StatusOK || string(svc.imported) != "snapshot" {
		t.Fatalf("import = %d, read %q", rec.Code, svc.imported)
	}

	var res httprouter.ImportResult
	if err := json.Unmarshal(env.Data, &res); err != nil || res.Added != 3 {
		t.Errorf("import result = %+v, %v", res, err)
	}

	svc.err = fmt.Errorf("read snapshot: %w", io.ErrUnexpectedEOF)

	rec, _ = serve(t, svc, http.MethodPost, "/v1/items/import", "junk")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad snapshot status = %d, want 422", rec.Code)
	}
}

func TestExtractURLs(t *testing.T) {
	body := `{"text":"see https://vimeo.com/1 and https://vimeo.com/1?utm_source=x"}`

	rec, env := serve(t, &stubService{}, http.MethodPost, "/v1/urls/extract", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var res httprouter.ExtractResult
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatal(err)
	}

	if len(res.URLs) != 1 || res.URLs[0].Platform != "vimeo" || res.Duplicates != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestExtractURLsPlaylistCount(t *testing.T) {
	body := `{"text":"[mix](https://www.youtube.com/playlist?list=PL1234)"}`

	svc := &stubService{}

	rec, env := serve(t, svc, http.MethodPost, "/v1/urls/extract", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	if svc.lastCall != "extract" {
		t.Errorf("call = %q, want extract", svc.lastCall)
	}

	var res httprouter.ExtractResult
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatal(err)
	}

	if len(res.URLs) != 1 {
		t.Fatalf("urls = %+v", res.URLs)
	}

	got := res.URLs[0]
	if !got.IsPlaylist || got.PlaylistCount != 3 || got.Title != "mix" {
		t.Errorf("url = %+v", got)
	}
}

func TestReadyzAndMetrics(t *testing.T) {
	rec, _ := serve(t, &stubService{}, http.MethodGet, "/v1/readyz", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("readyz = %d %q", rec.Code, rec.Body.String())
	}

	rec, _ = serve(t, &stubService{err: errs.ErrServiceClosed}, http.MethodGet, "/v1/readyz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("closed readyz = %d, want 503", rec.Code)
	}

	rec, _ = serve(t, &stubService{}, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Errorf("metrics = %d", rec.Code)
	}

	if rec.Header().Get("X-Request-ID") == "" {
		t.Errorf("request id header missing")
	}
}
