package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"clipflow/internal/config"
	"clipflow/internal/logging"
	"clipflow/internal/playback"
	"clipflow/internal/session"
)

// app holds what every command builds from the environment.
type app struct {
	cfg      *config.Config
	pipeline *config.PipelineConfig
	logger   *logging.SlogLogger
	db       *sql.DB
	repo     session.Repository
	tiers    playback.TierStore
}

// loadApp reads configuration and opens the session store. Without
// DATABASE_URL sessions and tiers live in memory.
func loadApp(ctx context.Context) (*app, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	pipeline, err := config.LoadPipelineConfig(cfg.PipelineConfigPath)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		pipeline: pipeline,
		logger:   logging.New(cfg.LogFormat, cfg.LogLevel),
	}
	if cfg.DatabaseURL == "" {
		a.repo = session.NewMemoryRepository()
		a.tiers = playback.NewStaticTierStore(pipeline.DefaultTier, nil)
		return a, nil
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	a.db = db
	a.repo = session.NewPostgresRepository(db)
	a.tiers = playback.NewPostgresTierStore(db, pipeline.DefaultTier)
	return a, nil
}

func (a *app) requireDB() error {
	if a.db == nil {
		return errors.New("DATABASE_URL is required for this command")
	}
	return nil
}

func (a *app) Close() {
	if a.db != nil {
		_ = a.db.Close()
	}
}
