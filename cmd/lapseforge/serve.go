package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lapseforge/lapseforge/internal/api"
	"github.com/lapseforge/lapseforge/internal/catalog"
	"github.com/lapseforge/lapseforge/internal/config"
	"github.com/lapseforge/lapseforge/internal/logging"
	"github.com/lapseforge/lapseforge/internal/playback"
	"github.com/lapseforge/lapseforge/internal/ui"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var headless bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and job runner",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, headless || cfg.Headless())
		},
	}
	cmd.Flags().BoolVar(&headless, "headless", false, "Do not show the system tray")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config, headless bool) error {
	startTime := time.Now()

	logger := logging.NewLogger(cfg.LogLevel(), cfg.LogFormat())
	logger.Info("starting lapseforge", "version", Version, "data_dir", cfg.DataDir())

	a, err := openApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	authToken, err := ensureAuthToken(ctx, a.repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║  LAPSEFORGE %-46s║\n", "v"+Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:  http://127.0.0.1:%-30d║\n", cfg.Port())
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Printf("  Auth Token: %s\n\n", authToken)

	a.probe(ctx)

	if res, err := a.svc.Sweep(ctx); err != nil {
		logger.Warn("startup sweep skipped", "error", err)
	} else {
		logger.Info("startup sweep finished",
			"removed_dirs", res.RemovedDirs,
			"removed_files", res.RemovedFiles,
			"failures", res.Failures,
		)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.runner.Start(ctx)

	apiServer := api.NewServer(api.ServerConfig{
		Port:           cfg.Port(),
		CatalogService: a.svc,
		Repository:     a.repo,
		Frames:         a.frames,
		PlaybackServer: playback.NewServer(logger),
		Runner:         a.runner,
		Hub:            a.hub,
		Doctor:         a.doctor,
		Logger:         logging.WithComponent(logger, "api"),
		StartTime:      startTime,
		ExportFPS:      cfg.ExportFPS(),
		Version:        Version,
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- apiServer.Start()
	}()

	quitCh := make(chan struct{})

	if headless {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray := ui.NewTray(ui.TrayConfig{
			Runner: a.runner,
			Hub:    a.hub,
			Logger: logger,
			OnQuit: func() {
				close(quitCh)
			},
		})
		go tray.Run()
		defer tray.Quit()
	}

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case <-quitCh:
	case err := <-serverErr:
		if err != nil {
			logger.Error("HTTP server error", "error", err)
			return err
		}
	}

	logger.Info("initiating graceful shutdown")
	if id := a.runner.CurrentJobID(); id != "" {
		logger.Info("cancelling running job", "job_id", id)
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func ensureAuthToken(ctx context.Context, repo catalog.Repository) (string, error) {
	existing, err := repo.GetConfig(ctx, catalog.ConfigKeyAuthToken)
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, catalog.ConfigKeyAuthToken, token); err != nil {
		return "", err
	}

	return token, nil
}
