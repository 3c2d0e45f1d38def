package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"roomdrop/internal/server/api"
	"roomdrop/internal/server/config"
	"roomdrop/internal/server/database"
	"roomdrop/internal/server/download"
	"roomdrop/internal/server/filestore"
	"roomdrop/internal/server/limits"
	"roomdrop/internal/server/metrics"
	"roomdrop/internal/server/share"
)

func main() {
	// Structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load config
	cfg := config.Load()
	slog.Info("configuration loaded",
		"port", cfg.Port,
		"upload_dir", cfg.UploadDir,
		"max_file_size", cfg.MaxFileSize,
		"file_retention", cfg.FileRetention,
		"share_expiry_days", cfg.ShareExpiryDays,
	)

	// Optional access-log archive
	var archive *database.Archive
	if cfg.DatabaseURL != "" {
		a, err := database.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect access-log archive", "error", err)
			os.Exit(1)
		}
		defer a.Close()
		archive = a
	} else {
		slog.Info("no DATABASE_URL set, access-log archive disabled")
	}

	m := metrics.New(nil)

	// File record store
	files := filestore.NewStore(cfg.UploadDir, cfg.FileRetention, m)
	if err := files.EnsureDir(); err != nil {
		slog.Error("failed to initialize upload directory", "error", err)
		os.Exit(1)
	}
	slog.Info("file store initialized", "path", cfg.UploadDir)

	// Share registry
	var sink share.AccessSink
	if archive != nil {
		sink = archive
	}
	shares := share.NewRegistry(share.Options{
		IDLength:       cfg.ShareIDLength,
		PasswordLength: cfg.PasswordLength,
		LogRetention:   cfg.AccessLogRetention,
		Sink:           sink,
	})

	// Abuse trackers
	concurrency := limits.NewConcurrency(cfg.MaxConcurrentDownloads)
	bandwidth := limits.NewBandwidth(cfg.BandwidthWindow, cfg.MaxBandwidthBytes)
	streams := limits.NewStreams(cfg.MaxActiveStreams)
	limiters := api.NewLimiters(cfg)

	pipeline := download.NewPipeline(shares, files, concurrency, bandwidth, streams, cfg.MaxFileSize, m)

	// Background sweepers
	bgCtx, bgCancel := context.WithCancel(context.Background())

	retention := filestore.NewRetentionService(files, cfg.RetentionInterval)
	retention.Start(bgCtx)

	sweepers := append(limiters.Sweepers(), bandwidth, shares)
	janitor := limits.NewJanitor(cfg.RegistryInterval, sweepers...)
	janitor.Start(bgCtx)

	// Setup HTTP router
	handler := api.NewHandler(cfg, shares, files, pipeline, streams, archive, m)
	e := api.NewRouter(handler, limiters)

	// Start server in a goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		slog.Info("starting server", "addr", addr, "base_url", cfg.BaseURL)
		if err := e.Start(addr); err != nil {
			slog.Info("server stopped", "reason", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutting down", "signal", sig)

	// Stop accepting new requests, finish in-flight transfers
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Stop background sweepers
	bgCancel()
	retention.Wait()
	janitor.Wait()

	slog.Info("server exited cleanly")
}
