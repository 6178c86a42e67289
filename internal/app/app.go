// Package app wires the workspace pieces (config, database, logger, render
// client, engine) into one handle for the CLI and the server command.
package app

import (
	"database/sql"
	"fmt"
	"log/slog"

	"cutline/internal/config"
	"cutline/internal/db"
	"cutline/internal/draftcache"
	"cutline/internal/engine"
	"cutline/internal/logging"
	"cutline/internal/migrate"
	"cutline/internal/render"
)

type App struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Engine    engine.Engine
	Drafts    *draftcache.Cache
	Log       *slog.Logger
}

// Open loads the workspace config (defaults when no cutline.yml exists),
// opens and migrates the database, and builds the engine.
func Open(workspace string) (*App, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	drafts, err := draftcache.Open(workspace, log)
	if err != nil {
		conn.Close()
		return nil, err
	}
	e := engine.New(conn, cfg, render.NewClient(cfg.Render), log)
	return &App{
		Workspace: workspace,
		Config:    cfg,
		DB:        conn,
		Engine:    e,
		Drafts:    drafts,
		Log:       log,
	}, nil
}

func (a *App) Close() error {
	if a.Drafts != nil {
		a.Drafts.Close()
	}
	return a.DB.Close()
}
