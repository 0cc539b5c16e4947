package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gofrs/flock"

	"github.com/lapseforge/lapseforge/internal/catalog"
	"github.com/lapseforge/lapseforge/internal/config"
	"github.com/lapseforge/lapseforge/internal/db"
	"github.com/lapseforge/lapseforge/internal/export"
	"github.com/lapseforge/lapseforge/internal/framestore"
	"github.com/lapseforge/lapseforge/internal/pipeline"
)

const doctorTimeout = 30 * time.Second

var errLocked = errors.New("another lapseforge instance is running (use its HTTP API, or stop it first)")

// app holds every long lived component. serve and the one-shot commands
// share it so both drive jobs through the same runner.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	lock   *flock.Flock

	db     *db.DB
	repo   catalog.Repository
	frames *framestore.Store
	ffmpeg *pipeline.FFmpeg
	doctor *pipeline.CachedDoctor
	hub    *export.Hub
	svc    *catalog.Service
	runner *catalog.Runner
}

// openApp takes the instance lock and wires storage, ffmpeg and the runner.
func openApp(cfg config.Config, logger *slog.Logger) (*app, error) {
	for _, dir := range []string{cfg.DataDir(), cfg.FramesDir(), cfg.ScratchDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, errLocked
	}

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		lock:   lock,
		db:     database,
		repo:   catalog.NewRepository(database.Conn()),
		frames: framestore.New(cfg.FramesDir(), cfg.ScratchDir(), logger),
		ffmpeg: pipeline.New(pipeline.Config{
			FFmpegPath:  cfg.FFmpegPath(),
			FFprobePath: cfg.FFprobePath(),
			Logger:      logger,
		}),
		hub: export.NewHub(logger),
	}
	a.doctor = pipeline.NewCachedDoctor(a.ffmpeg, 0, logger)
	a.svc = catalog.NewService(a.repo, a.frames, logger)
	a.runner = catalog.NewRunner(catalog.RunnerConfig{
		Service:       a.svc,
		Repo:          a.repo,
		Media:         a.ffmpeg,
		Frames:        a.frames,
		Doctor:        a.doctor,
		Hub:           a.hub,
		ExportsDir:    cfg.ExportsDir(),
		FPS:           cfg.ExportFPS(),
		ChunkSize:     cfg.ExportChunkSize(),
		ImportWorkers: cfg.ImportWorkers(),
		PollInterval:  cfg.JobPollInterval(),
		Logger:        logger,
	})
	return a, nil
}

// probe runs the capability doctor once and logs what it found.
func (a *app) probe(ctx context.Context) *pipeline.Capabilities {
	ctx, cancel := context.WithTimeout(ctx, doctorTimeout)
	defer cancel()

	caps, err := a.doctor.Refresh(ctx)
	if err != nil {
		a.logger.Warn("initial doctor probe failed", "error", err)
		return nil
	}
	a.logger.Info("ffmpeg capabilities detected",
		"ffmpeg", caps.FFmpeg.Version,
		"can_export", caps.CanExport(),
		"can_import", caps.CanImport(),
	)
	return caps
}

func (a *app) Close() {
	a.hub.Close()
	if err := a.db.Close(); err != nil {
		a.logger.Warn("failed to close database", "error", err)
	}
	if err := a.lock.Unlock(); err != nil {
		a.logger.Warn("failed to release instance lock", "error", err)
	}
}
