package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"coffer/internal/compress"
	"coffer/internal/core"
	"coffer/internal/server/api"
	"coffer/internal/server/audit"
	"coffer/internal/server/config"
	"coffer/internal/server/database"
	"coffer/internal/server/service"
	"coffer/internal/server/storage"
)

func main() {
	// Structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Optional .env for local development
	if err := godotenv.Load(); err == nil {
		slog.Info("loaded environment from .env")
	}

	// Load config
	cfg := config.Load()
	slog.Info("configuration loaded",
		"port", cfg.Port,
		"storage_backend", cfg.Storage.Backend,
		"max_file_size", cfg.MaxFileSize,
		"sweep_interval", cfg.SweepInterval,
	)

	// Connect to database
	ctx := context.Background()
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Run migrations
	if err := db.RunMigrations(ctx); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("database migrations complete")

	// Initialize blob storage
	blobs, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		slog.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	slog.Info("blob storage initialized", "backend", cfg.Storage.Backend)

	// Repositories
	files := database.NewFileRepository(db)
	shares := database.NewShareRepository(db)
	principals := database.NewPrincipalRepository(db)
	audits := database.NewAuditRepository(db)

	// Services
	clock := core.RealClock{}
	sink := audit.NewSink(audits, clock)
	pipeline := compress.NewPipeline(int64(cfg.CompressConcurrency))

	shareSvc := service.NewShareService(shares, files, sink, clock)
	fileSvc := service.NewFileService(files, blobs, pipeline, shareSvc, sink, clock, cfg.MaxFileSize)
	authSvc := service.NewAuthService(principals, clock, cfg.JWTSecret, cfg.TokenTTL)
	auditSvc := service.NewAuditQueryService(audits, files)

	// Start the expired-share sweeper
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	sweeper := service.NewShareSweeper(shares, clock, cfg.SweepInterval, cfg.SweepGrace)
	sweeper.Start(sweepCtx)

	// Setup HTTP router
	handler := api.NewHandler(fileSvc, shareSvc, authSvc, auditSvc, db, cfg.BaseURL)
	authn := api.NewAuthenticator(authSvc)
	e := api.SetupRouter(handler, authn, cfg)

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

	// Stop accepting new requests, finish in-flight with 30s timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Stop the sweeper
	sweepCancel()
	sweeper.Wait()

	slog.Info("server exited cleanly")
}
