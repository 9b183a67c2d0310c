//go:build integration

package integration_test

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"nagare/internal/apiclient"
	"nagare/internal/config"
	"nagare/internal/consts"
	"nagare/internal/downloader"
	"nagare/internal/entity"
	httprouter "nagare/internal/infrastructure/delivery/http"
	"nagare/internal/metadata"
	"nagare/internal/notifications"
	"nagare/internal/observability"
	"nagare/internal/service"
	"nagare/internal/settings"
	"nagare/internal/storage"
	"nagare/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
)

// stack is a full server over the mock executor with real sqlite and
// settings files under one data dir.
type stack struct {
	cfg    *config.Config
	client *apiclient.Client
	stop   func()
}

func startStack(t *testing.T, dataDir string) *stack {
	t.Helper()

	cfg, err := config.New()
	if err != nil {
		t.Fatalf("config new: %v", err)
	}

	cfg.Dir.Data = dataDir
	cfg.Dir.Downloads = filepath.Join(dataDir, "downloads")
	cfg.Executor.Kind = consts.ExecutorMock
	cfg.Executor.SimulateTime = 100 * time.Millisecond
	cfg.Executor.ProgressInterval = 10 * time.Millisecond
	cfg.Queue.ConvertDelay = 50 * time.Millisecond
	cfg.Notify.NtfyTopic = ""

	ctx := context.Background()
	log := logger.Discard()
	metrics := observability.New(prometheus.NewRegistry())

	store, err := storage.Open(ctx, log, cfg.Dir.DBPath(), metrics)
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}

	settingsStore := settings.NewStore(log, cfg.Dir.SettingsPath())

	initial, err := settingsStore.Load(ctx, settings.Default(cfg.Dir.Downloads))
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}

	exec := downloader.New(log, cfg, nil, metrics)
	meta := metadata.New(log, exec, metrics, metadata.Options{Mode: metadata.ModePool, Cores: 2})

	queue := service.New(log, cfg.Queue, service.Deps{
		Executor:  exec,
		Metadata:  meta,
		Playlists: exec,
		Files:     downloader.OSFileChecker{},
		Store:     store,
		Settings:  settingsStore,
		Notifier:  notifications.New(log, cfg.Notify, metrics),
		Metrics:   metrics,
	}, initial)

	if err := queue.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)

	go func() { _ = queue.Run(runCtx) }()

	server := httptest.NewServer(httprouter.New(log, cfg.HTTP, queue, metrics))

	client, err := apiclient.New(server.URL, 5*time.Second)
	if err != nil {
		t.Fatalf("api client: %v", err)
	}

	stopped := false
	stop := func() {
		if stopped {
			return
		}

		stopped = true

		server.Close()
		cancel()
		<-queue.Done()
		exec.Close()

		if err := store.Close(); err != nil {
			t.Errorf("close storage: %v", err)
		}
	}

	t.Cleanup(stop)

	return &stack{cfg: cfg, client: client, stop: stop}
}

func waitForItem(t *testing.T, c *apiclient.Client, id string, cond func(entity.DownloadItem) bool) entity.DownloadItem {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)

	var last entity.DownloadItem

	for time.Now().Before(deadline) {
		it, err := c.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}

		if cond(it) {
			return it
		}

		last = it

		time.Sleep(20 * time.Millisecond)
	}

	t.Fatalf("item %s never reached the expected state, last = %+v", id, last)

	return last
}

func mustUpdateSettings(t *testing.T, c *apiclient.Client, patch map[string]any) entity.Settings {
	t.Helper()

	s, err := c.UpdateSettings(context.Background(), patch)
	if err != nil {
		t.Fatalf("update settings %v: %v", patch, err)
	}

	return s
}
