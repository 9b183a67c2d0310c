package middleware_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nagare/internal/infrastructure/delivery/http/middleware"
	"nagare/internal/observability"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

func TestRecoverer(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus int
		wantBody   string
	}{
		{
			name: "handler ok",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusAccepted)
			},
			wantStatus: http.StatusAccepted,
		},
		{
			name: "string panic",
			handler: func(_ http.ResponseWriter, _ *http.Request) {
				panic("queue exploded")
			},
			wantStatus: http.StatusInternalServerError,
			wantBody:   "internal error",
		},
		{
			name: "error panic",
			handler: func(_ http.ResponseWriter, _ *http.Request) {
				panic(errors.New("nil item"))
			},
			wantStatus: http.StatusInternalServerError,
			wantBody:   "internal error",
		},
		{
			name: "panic after headers",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
				panic("late")
			},
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			middleware.Recoverer(tt.handler).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/items", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}

			if tt.wantBody == "" {
				return
			}

			var env struct {
				Message string `json:"message"`
			}

			if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil || env.Message != tt.wantBody {
				t.Errorf("body = %q (%v), want message %q", rec.Body.String(), err, tt.wantBody)
			}
		})
	}
}

func TestRecovererRepanicsOnAbort(t *testing.T) {
	defer func() {
		if rvr := recover(); rvr != http.ErrAbortHandler {
			t.Errorf("recovered %v, want http.ErrAbortHandler", rvr)
		}
	}()

	h := middleware.Recoverer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/items/export", nil))
	t.Error("ServeHTTP returned without panicking")
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer

	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(slog.New(slog.DiscardHandler)) })

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{}`))
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/items?source=cli", nil)
	req.RemoteAddr = "10.0.0.7:5000"
	req.ContentLength = 42
	req.Header.Set(middleware.HeaderXRequestID, "req-7")

	middleware.RequestID(middleware.Logger(next)).ServeHTTP(httptest.NewRecorder(), req)

	var entry struct {
		Msg       string                `json:"msg"`
		Level     string                `json:"level"`
		Request   middleware.RequestLog `json:"request"`
		RequestID string                `json:"request_id"`
		Status    int                   `json:"status"`
	}

	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log %q: %v", buf.String(), err)
	}

	want := middleware.RequestLog{
		Method:        http.MethodPost,
		URI:           "/v1/items?source=cli",
		RemoteAddr:    "10.0.0.7:5000",
		Proto:         "HTTP/1.1",
		ContentLength: 42,
	}

	if entry.Request != want {
		t.Errorf("request = %+v, want %+v", entry.Request, want)
	}

	if entry.Msg != "http request" || entry.Level != "DEBUG" {
		t.Errorf("msg = %q level = %q", entry.Msg, entry.Level)
	}

	if entry.RequestID != "req-7" || entry.Status != http.StatusCreated {
		t.Errorf("request_id = %q status = %d", entry.RequestID, entry.Status)
	}
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name   string
		header string
		valid  func(string) bool
	}{
		{
			name:   "client supplied",
			header: "cli-1234",
			valid:  func(id string) bool { return id == "cli-1234" },
		},
		{
			name: "generated",
			valid: func(id string) bool {
				_, err := uuid.Parse(id)

				return err == nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string

			next := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				seen = middleware.GetRequestID(r.Context())
			})

			req := httptest.NewRequest(http.MethodGet, "/v1/prompts/current", nil)
			if tt.header != "" {
				req.Header.Set(middleware.HeaderXRequestID, tt.header)
			}

			rec := httptest.NewRecorder()
			middleware.RequestID(next).ServeHTTP(rec, req)

			if !tt.valid(seen) {
				t.Errorf("context id = %q", seen)
			}

			if got := rec.Header().Get(middleware.HeaderXRequestID); got != seen {
				t.Errorf("header id = %q, want %q", got, seen)
			}
		})
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.New(reg)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/items/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	h := middleware.Metrics(m)(mux)

	for _, path := range []string{"/v1/items/a", "/v1/items/b", "/nowhere"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	got := make(map[string]float64)

	for _, mf := range families {
		if mf.GetName() != "nagare_http_requests_total" {
			continue
		}

		for _, metric := range mf.GetMetric() {
			var path, status string

			for _, lp := range metric.GetLabel() {
				switch lp.GetName() {
				case "path":
					path = lp.GetValue()
				case "status":
					status = lp.GetValue()
				}
			}

			got[path+" "+status] = metric.GetCounter().GetValue()
		}
	}

	if got["GET /v1/items/{id} 404"] != 2 {
		t.Errorf("pattern count = %v, want 2 (all: %v)", got["GET /v1/items/{id} 404"], got)
	}

	if got["unmatched 404"] != 1 {
		t.Errorf("unmatched count = %v, want 1 (all: %v)", got["unmatched 404"], got)
	}
}

func TestTimeout(t *testing.T) {
	var deadline time.Time

	next := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		deadline, _ = r.Context().Deadline()
	})

	before := time.Now()
	middleware.Timeout(time.Minute)(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if deadline.IsZero() || deadline.Before(before.Add(59*time.Second)) {
		t.Errorf("deadline = %v, want about a minute from now", deadline)
	}
}
