package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"nagare/internal/entity"
	"nagare/internal/errs"
	"nagare/internal/observability"
	"nagare/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
)

func openTest(t *testing.T) *Storage {
	t.Helper()

	path := filepath.Join(t.TempDir(), "nagare.db")

	stg, err := Open(context.Background(), logger.Discard(), path, observability.New(prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}

	t.Cleanup(func() { _ = stg.Close() })

	return stg
}

func item(id string, seq int64, status entity.Status) entity.DownloadItem {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	return entity.DownloadItem{
		ID:               id,
		Seq:              seq,
		URL:              "https://www.youtube.com/watch?v=" + id,
		Title:            "Title " + id,
		Status:           status,
		RequestedQuality: "720p",
		OutputDir:        "/downloads",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestSaveAndLoadOrdered(t *testing.T) {
	stg := openTest(t)
	ctx := context.Background()

	for _, it := range []entity.DownloadItem{
		item("c", 3, entity.StatusQueued),
		item("a", 1, entity.StatusCompleted),
		item("b", 2, entity.StatusFailed),
	} {
		if err := stg.SaveItem(ctx, it); err != nil {
			t.Fatalf("SaveItem(%s) = %v", it.ID, err)
		}
	}

	got, err := stg.LoadItems(ctx)
	if err != nil {
		t.Fatalf("LoadItems() = %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("LoadItems() = %d items, want 3", len(got))
	}

	for i, want := range []string{"a", "b", "c"} {
		if got[i].ID != want {
			t.Errorf("item %d = %s, want %s", i, got[i].ID, want)
		}
	}

	if got[1].Status != entity.StatusFailed || got[1].RequestedQuality != "720p" {
		t.Errorf("item b = %+v", got[1])
	}

	if !got[0].CreatedAt.Equal(item("a", 1, "").CreatedAt) {
		t.Errorf("CreatedAt = %v", got[0].CreatedAt)
	}
}

func TestSaveUpserts(t *testing.T) {
	stg := openTest(t)
	ctx := context.Background()

	it := item("a", 1, entity.StatusDownloading)
	if err := stg.SaveItem(ctx, it); err != nil {
		t.Fatal(err)
	}

	it.Status = entity.StatusCompleted
	it.SetProgress(100)
	it.FilePath = "/downloads/Title a_720.mp4"

	if err := stg.SaveItem(ctx, it); err != nil {
		t.Fatal(err)
	}

	got, err := stg.LoadItems(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if len(got) != 1 || got[0].Status != entity.StatusCompleted || got[0].FilePath != it.FilePath {
		t.Errorf("LoadItems() = %+v", got)
	}
}

func TestSaveEmptyID(t *testing.T) {
	stg := openTest(t)

	if err := stg.SaveItem(context.Background(), entity.DownloadItem{}); !errors.Is(err, errs.ErrItemIDEmpty) {
		t.Errorf("SaveItem() = %v, want ErrItemIDEmpty", err)
	}
}

func TestDelete(t *testing.T) {
	stg := openTest(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := stg.SaveItem(ctx, item(id, int64(id[0]), entity.StatusQueued)); err != nil {
			t.Fatal(err)
		}
	}

	if err := stg.DeleteItem(ctx, "b"); err != nil {
		t.Fatalf("DeleteItem() = %v", err)
	}

	if err := stg.DeleteItem(ctx, "missing"); err != nil {
		t.Errorf("DeleteItem(missing) = %v", err)
	}

	got, _ := stg.LoadItems(ctx)
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Errorf("after delete = %+v", got)
	}

	if err := stg.DeleteAll(ctx); err != nil {
		t.Fatalf("DeleteAll() = %v", err)
	}

	got, _ = stg.LoadItems(ctx)
	if len(got) != 0 {
		t.Errorf("after DeleteAll = %d items", len(got))
	}
}

func TestReopenKeepsItems(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nagare.db")
	ctx := context.Background()
	metrics := observability.New(prometheus.NewRegistry())

	stg, err := Open(ctx, logger.Discard(), path, metrics)
	if err != nil {
		t.Fatal(err)
	}

	if err := stg.SaveItem(ctx, item("a", 1, entity.StatusPaused)); err != nil {
		t.Fatal(err)
	}

	_ = stg.Close()

	stg, err = Open(ctx, logger.Discard(), path, metrics)
	if err != nil {
		t.Fatalf("reopen = %v", err)
	}
	defer stg.Close()

	got, err := stg.LoadItems(ctx)
	if err != nil || len(got) != 1 || got[0].Status != entity.StatusPaused {
		t.Errorf("LoadItems() = %+v, %v", got, err)
	}
}

func TestSchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nagare.db")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}

	for _, q := range []string{
		"CREATE TABLE schema_version (version INTEGER NOT NULL)",
		"INSERT INTO schema_version (version) VALUES (99)",
	} {
		if _, err := db.Exec(q); err != nil {
			t.Fatal(err)
		}
	}

	_ = db.Close()

	_, err = Open(context.Background(), logger.Discard(), path, observability.New(prometheus.NewRegistry()))
	if !errors.Is(err, errs.ErrSchemaMismatch) {
		t.Errorf("Open() = %v, want ErrSchemaMismatch", err)
	}
}

type busyErr struct{}

func (busyErr) Error() string { return "sqlite: busy" }
func (busyErr) Code() int     { return sqliteBusyCode }

func TestRetryOnBusy(t *testing.T) {
	calls := 0

	err := retryOnBusy(context.Background(), func() error {
		calls++
		if calls < 3 {
			return busyErr{}
		}

		return nil
	})
	if err != nil || calls != 3 {
		t.Errorf("retryOnBusy() = %v after %d calls", err, calls)
	}

	calls = 0
	plain := errors.New("constraint failed")

	if err := retryOnBusy(context.Background(), func() error {
		calls++

		return plain
	}); !errors.Is(err, plain) || calls != 1 {
		t.Errorf("retryOnBusy(non-busy) = %v after %d calls", err, calls)
	}

	if !isSQLiteBusy(errors.New("database is locked")) {
		t.Errorf("isSQLiteBusy(locked message) = false")
	}
}
