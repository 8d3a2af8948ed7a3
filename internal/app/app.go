// Package app wires a workspace into a running system: database, migrations,
// config, engine, and the background workers.
package app

import (
	"database/sql"
	"fmt"
	"time"

	"ideahub/internal/config"
	"ideahub/internal/db"
	"ideahub/internal/engine"
	"ideahub/internal/migrate"
	"ideahub/internal/notify"
	"ideahub/internal/similarity"
	"ideahub/internal/sla"
)

// App bundles everything a CLI command or the serve loop needs.
type App struct {
	DB      *sql.DB
	Config  *config.Config
	Engine  engine.Engine
	Sweeper sla.Sweeper
	Sender  notify.Sender
}

// Open builds an App from a workspace directory. The database is created and
// migrated on first use. A nil embedder disables duplicate detection.
func Open(workspace string, embedder similarity.Embedder) (*App, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	e := engine.New(conn, cfg, embedder)
	sendInterval, err := cfg.SendInterval()
	if err != nil {
		sendInterval = 30 * time.Second
	}
	return &App{
		DB:      conn,
		Config:  cfg,
		Engine:  e,
		Sweeper: sla.Sweeper{Engine: e},
		Sender: notify.Sender{
			Repo:     e.Repo,
			Mailer:   notify.LogMailer{},
			Interval: sendInterval,
			MaxBatch: cfg.Notify.MaxBatch,
		},
	}, nil
}

// Close releases the database handle.
func (a *App) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	return a.DB.Close()
}
