package response_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"nagare/internal/errs"
	"nagare/internal/infrastructure/delivery/http/response"
)

func TestStatusOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{errs.ErrItemIDEmpty, http.StatusBadRequest},
		{fmt.Errorf("decode: %w", errs.ErrInvalidRequestBody), http.StatusBadRequest},
		{fmt.Errorf("%w: maxConcurrent", errs.ErrValidation), http.StatusUnprocessableEntity},
		{errs.ErrInvalidAction, http.StatusUnprocessableEntity},
		{fmt.Errorf("pause x: %w", errs.ErrItemNotFound), http.StatusNotFound},
		{errs.ErrPromptNotFound, http.StatusNotFound},
		{errs.ErrInvalidTransition, http.StatusConflict},
		{errs.ErrServiceClosed, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: list: %w", errs.ErrPlaylist, errs.ErrMetadata), http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("disk full"), http.StatusInternalServerError},
	}

	for _, tc := range tests {
		if got := response.StatusOf(tc.err); got != tc.want {
			t.Errorf("StatusOf(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestErrorEnvelope(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	response.Error(rec, "item not found", fmt.Errorf("show abc: %w", errs.ErrItemNotFound))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}

	var env response.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if env.Message != "item not found" || env.Error != "show abc: item not found" || env.Data != nil {
		t.Errorf("envelope = %+v", env)
	}
}
