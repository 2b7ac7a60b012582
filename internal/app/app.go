// Package app wires configuration into a ready execution service.
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/michaelbrown/execd/internal/artifact"
	"github.com/michaelbrown/execd/internal/config"
	"github.com/michaelbrown/execd/internal/execution"
	"github.com/michaelbrown/execd/internal/storage"
	"github.com/michaelbrown/execd/internal/storage/s3store"
	"github.com/michaelbrown/execd/internal/storage/sqlite"
)

// App holds the long-lived components shared by every request.
type App struct {
	Service *execution.Service
	Blobs   storage.BlobStore // Set only for the sqlite backend

	cfg    *config.Config
	logger *slog.Logger
}

// New builds the execution service. Publisher problems are logged and leave
// the service returning artifacts inline; they never fail startup.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{cfg: cfg, logger: logger}

	var pub artifact.Publisher
	switch cfg.Publisher.Backend {
	case "":
		logger.Info("no artifact publisher configured, images are returned inline")
	case "s3":
		p, err := s3store.New(ctx, cfg.S3(), logger)
		if err != nil {
			logger.Warn("s3 publisher unavailable, images are returned inline", "error", err)
			break
		}
		pub = p
		logger.Info("publishing artifacts to s3", "bucket", cfg.Publisher.S3.Bucket)
	case "sqlite":
		store, err := sqlite.Open(cfg.Publisher.SQLite.Path, cfg.SQLiteBaseURL())
		if err != nil {
			logger.Warn("sqlite publisher unavailable, images are returned inline", "error", err)
			break
		}
		pub = store
		a.Blobs = store
		logger.Info("storing artifacts in sqlite", "path", cfg.Publisher.SQLite.Path)
	default:
		logger.Warn("unknown publisher backend, images are returned inline", "backend", cfg.Publisher.Backend)
	}

	a.Service = execution.New(cfg.Policy(), pub,
		execution.WithLogger(logger),
		execution.WithLanguage(cfg.Exec.Language),
		execution.WithPublishTimeout(cfg.Publisher.Timeout),
	)
	return a
}

// RunJanitor purges stored artifacts older than the configured retention
// until ctx is cancelled. It returns immediately when nothing is stored
// locally or retention is disabled.
func (a *App) RunJanitor(ctx context.Context) {
	retention := a.cfg.Publisher.SQLite.Retention
	if a.Blobs == nil || retention <= 0 {
		return
	}
	interval := retention / 4
	if interval < time.Minute {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := a.Blobs.Purge(ctx, now.Add(-retention))
			if err != nil {
				a.logger.WarnContext(ctx, "purging artifacts failed", "error", err)
				continue
			}
			if n > 0 {
				a.logger.InfoContext(ctx, "purged expired artifacts", "count", n)
			}
		}
	}
}

// Close releases the publisher's resources.
func (a *App) Close() error {
	if a.Blobs != nil {
		return a.Blobs.Close()
	}
	return nil
}
