package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"nagare/internal/config"
	"nagare/internal/consts"
	"nagare/internal/depmanager"
	"nagare/internal/downloader"
	"nagare/internal/errs"
	httprouter "nagare/internal/infrastructure/delivery/http"
	"nagare/internal/metadata"
	"nagare/internal/notifications"
	"nagare/internal/observability"
	"nagare/internal/proxymgr"
	"nagare/internal/service"
	"nagare/internal/settings"
	"nagare/internal/storage"
	httpserver "nagare/pkg/http/server"
	"nagare/pkg/logger"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var (
		addr     string
		executor string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the queue and its HTTP API in the foreground",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			if addr != "" {
				cfg.HTTP.Addr = addr
			}

			if executor != "" {
				cfg.Executor.Kind = executor
			}

			log, err := logger.New(&logger.Options{
				AddSource: true,
				Level:     cfg.App.LogLevel,
				Format:    cfg.App.LogFormat,
			})
			if err != nil {
				slog.WarnContext(cmd.Context(), "logger level invalid; defaulting to info", slog.Any("error", err))
			}

			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServer(sigCtx, cfg, log)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides NAGARE_HTTP_ADDR)")
	cmd.Flags().StringVar(&executor, "executor", "", "Executor kind: ytdlp or mock (overrides NAGARE_EXECUTOR_KIND)")

	return cmd
}

// runServer blocks until ctx is cancelled or the listener fails.
func runServer(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if err := os.MkdirAll(cfg.Dir.Data, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	lock := flock.New(cfg.Dir.LockPath())

	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}

	if !locked {
		return fmt.Errorf("%w: %s", errs.ErrAlreadyRunning, cfg.Dir.LockPath())
	}

	defer func() {
		if err := lock.Unlock(); err != nil {
			log.Warn("release lock", slog.Any("error", err))
		}
	}()

	if err := checkDependencies(ctx, log, cfg, depmanager.New(log, cfg.Executor)); err != nil {
		return err
	}

	metrics := observability.New(nil)

	store, err := storage.Open(ctx, log, cfg.Dir.DBPath(), metrics)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("close storage", slog.Any("error", err))
		}
	}()

	settingsStore := settings.NewStore(log, cfg.Dir.SettingsPath())

	initial, err := settingsStore.Load(ctx, settings.Default(cfg.Dir.Downloads))
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	proxies := proxymgr.New(log, cfg.Proxy, metrics)
	if proxies.HasProxies() {
		go checkProxies(ctx, log, proxies)
	}

	exec := downloader.New(log, cfg, proxies, metrics)
	defer exec.Close()

	meta := metadata.New(log, exec, metrics, metadata.Options{
		Mode:    metadata.Mode(cfg.Queue.MetadataMode),
		Cores:   cfg.Queue.MetadataCores,
		Timeout: cfg.Queue.MetadataTimeout,
	})

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
		return fmt.Errorf("restore queue: %w", err)
	}

	// the queue outlives the signal so in-flight requests drain first
	queueCtx, cancelQueue := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelQueue()

	go func() {
		if err := queue.Run(queueCtx); err != nil {
			log.Error("queue run", slog.Any("error", err))
		}
	}()

	router := httprouter.New(log, cfg.HTTP, queue, metrics)

	httpSrv := httpserver.New(router, httpserver.Options{
		Addr:            cfg.HTTP.Addr,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	})

	log.InfoContext(ctx, "nagare started",
		slog.String("addr", cfg.HTTP.Addr),
		slog.String("data_dir", cfg.Dir.Data),
		slog.String("executor", cfg.Executor.Kind),
		slog.Int("metadata_width", meta.Width()))

	var runErr error

	select {
	case <-ctx.Done():
	case err := <-httpSrv.Notify():
		runErr = fmt.Errorf("http server: %w", err)
	}

	if err := httpSrv.Shutdown(); err != nil {
		log.Error("http shutdown", slog.Any("error", err))
	}

	cancelQueue()
	<-queue.Done()

	log.Info("nagare shut down gracefully")

	return runErr
}

func checkProxies(ctx context.Context, log *slog.Logger, proxies *proxymgr.Manager) {
	failed := proxies.CheckAll(ctx)

	for proxyURL, err := range failed {
		log.WarnContext(ctx, "proxy health check failed", slog.String("proxy", proxyURL), slog.Any("error", err))
	}

	log.InfoContext(ctx, "proxy health check done", slog.Int("available", proxies.AvailableCount()))
}

// checkDependencies refuses to start the real executor without yt-dlp. A
// missing ffmpeg only disables conversions.
func checkDependencies(ctx context.Context, log *slog.Logger, cfg *config.Config, deps *depmanager.Manager) error {
	if cfg.Executor.Kind == consts.ExecutorMock {
		return nil
	}

	log.InfoContext(ctx, "checking if yt-dlp and ffmpeg are installed")

	st := deps.Check(ctx)
	if !st.YTdlp.Installed {
		_, err := deps.Require(depmanager.BinaryYTdlp)

		return err
	}

	if !st.FFmpeg.Installed {
		log.WarnContext(ctx, "ffmpeg not found, conversions will fail", slog.String("error", st.FFmpeg.Error))
	}

	log.InfoContext(ctx, "dependencies ready", slog.Any("status", st))

	return nil
}
