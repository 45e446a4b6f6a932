package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	utils "clipflow/internal"
	"clipflow/internal/api"
	"clipflow/internal/deps"
	"clipflow/internal/migrations"
	"clipflow/internal/playback"
	"clipflow/internal/s3"
	"clipflow/internal/transcode"
	"clipflow/internal/upload"
	"clipflow/internal/webhook"
)

func newServeCommand() *cobra.Command {
	var drainTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the transcode workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), drainTimeout)
		},
	}
	cmd.Flags().DurationVar(&drainTimeout, "drain-timeout", 5*time.Minute, "how long shutdown waits for in-flight finalizations")
	return cmd
}

func runServe(ctx context.Context, drainTimeout time.Duration) error {
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg, logger := a.cfg, a.logger

	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if cfg.APIKey == "" {
		return errors.New("API_KEY is required")
	}
	if a.db != nil {
		if err := migrations.Up(ctx, a.db); err != nil {
			return err
		}
	} else {
		logger.Warn(ctx, "DATABASE_URL not set; sessions are kept in memory")
	}
	for _, m := range deps.Missing(deps.CheckBinaries(deps.TranscodeRequirements(cfg.FFmpegPath, cfg.FFprobePath))) {
		logger.Warn(ctx, "transcoder dependency missing", "name", m.Name, "detail", m.Detail)
	}

	storage, err := s3.NewClient(ctx, cfg.S3Region, cfg.S3Bucket, cfg.AWSAccessKey, cfg.AWSSecretKey, cfg.S3Endpoint)
	if err != nil {
		return fmt.Errorf("failed to create S3 client: %w", err)
	}

	pool := transcode.NewPool(cfg.TranscodeWorkers, logger)
	transcoder := transcode.NewTranscoder(cfg, a.pipeline, storage, logger)
	svc := upload.NewService(a.repo, storage, cfg, logger)
	coordinator := upload.NewCoordinator(a.repo, storage, cfg.PartURLTTL)
	tracker := upload.NewTracker(cfg.UploadMode, svc, coordinator)
	orchestrator := upload.NewOrchestrator(a.repo, storage, transcoder, pool, logger).
		WithHeartbeat(cfg.ProcessingHeartbeat)
	resolver := playback.NewResolver(a.repo, storage, a.tiers, a.pipeline, cfg, logger)

	if _, err := orchestrator.Reclaim(ctx, cfg.ProcessingStaleAfter); err != nil {
		logger.Warn(ctx, "failed to reclaim interrupted sessions", "error", err)
	}

	routes := &api.API{
		Uploads:   upload.NewHandler(tracker, svc, coordinator, orchestrator, logger),
		Playback:  playback.NewHandler(resolver, logger),
		Webhooks:  webhook.NewHandler(a.tiers, a.pipeline, logger),
		JWTSecret: []byte(cfg.JWTSecret),
		APIKey:    cfg.APIKey,
		Logger:    logger,
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      routes.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	utils.NotifyShutdown()
	go func() {
		logger.Info(ctx, "starting server", "port", cfg.Port, "upload_mode", tracker.Mode(), "workers", cfg.TranscodeWorkers)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.GracefulExit(fmt.Sprintf("Server failed to start: %v", err))
		}
	}()

	<-utils.QuitChan
	logger.Info(ctx, "shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "server forced to shutdown", "error", err)
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), drainTimeout)
	defer cancelDrain()
	if err := pool.Wait(drainCtx); err != nil {
		logger.Warn(ctx, "finalizations still running at exit; they will be reclaimed on next start", "error", err)
	}

	logger.Info(ctx, "server exited")
	return nil
}
