package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"parcelflow/internal/blob"
	"parcelflow/internal/config"
	"parcelflow/internal/db"
	"parcelflow/internal/engine"
	"parcelflow/internal/logging"
	"parcelflow/internal/metrics"
	"parcelflow/internal/migrate"
	"parcelflow/internal/repo"
)

// ResolveConfig returns the active workflow config, seeding the database when
// none is stored yet. A parcelflow.yml in the workspace wins over the built-in
// tables for the initial seed; later changes go through config import.
func ResolveConfig(ctx context.Context, workspace string, r repo.Repo) (*config.Config, error) {
	cfg, err := r.GetConfig(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	seed, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", config.Path(workspace), err)
	}
	if seed == nil {
		seed = config.Default()
	}
	if err := r.UpsertConfig(ctx, seed); err != nil {
		return nil, fmt.Errorf("seed workflow config: %w", err)
	}
	return seed, nil
}

// Runtime is everything a command needs to act on a workspace.
type Runtime struct {
	DB      *db.DB
	Engine  engine.Engine
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Open connects to the database, applies migrations, resolves the workflow
// config and wires the engine with the configured blob store.
func Open(ctx context.Context, s config.Settings, logger *zap.Logger) (*Runtime, error) {
	logger = logging.OrNop(logger)
	if err := s.Validate(); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: s.Workspace, DSN: s.DatabaseURL})
	if err != nil {
		return nil, err
	}
	rt, err := wire(ctx, conn, s, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return rt, nil
}

func wire(ctx context.Context, conn *db.DB, s config.Settings, logger *zap.Logger) (*Runtime, error) {
	if err := migrate.Migrate(conn); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := ResolveConfig(ctx, s.Workspace, repo.Repo{DB: conn})
	if err != nil {
		return nil, err
	}
	blobs, err := blob.Open(ctx, s.Workspace, s.Blob)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	m := metrics.New()
	e := engine.New(conn, cfg, blobs)
	e.BaseURL = s.BaseURL
	if s.Authority != "" {
		e.Authority = s.Authority
	}
	e.Metrics = m
	e.Logger = logger
	logger.Debug("workspace opened",
		zap.String("workspace", s.Workspace),
		zap.String("dialect", string(conn.Dialect)),
		zap.String("blob_driver", string(blobs.Driver())))
	return &Runtime{DB: conn, Engine: e, Metrics: m, Logger: logger}, nil
}

func (rt *Runtime) Close() error {
	if rt == nil || rt.DB == nil {
		return nil
	}
	_ = rt.Logger.Sync()
	return rt.DB.Close()
}
