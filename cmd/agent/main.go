package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pickabook/pickabook-agent/internal/api"
	"github.com/pickabook/pickabook-agent/internal/config"
	"github.com/pickabook/pickabook-agent/internal/db"
	"github.com/pickabook/pickabook-agent/internal/history"
	"github.com/pickabook/pickabook-agent/internal/logging"
	"github.com/pickabook/pickabook-agent/internal/preview"
	"github.com/pickabook/pickabook-agent/internal/processing"
	"github.com/pickabook/pickabook-agent/internal/ui"
	"github.com/pickabook/pickabook-agent/internal/upload"
	"github.com/pickabook/pickabook-agent/internal/workflow"
)

// stubPendingPolls is how many polls the offline stub answers "pending".
const stubPendingPolls = 2

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting pickabook agent",
		"version", config.Version,
		"commit", config.GitCommit,
		"data_dir", logging.SanitizePath(cfg.DataDir()),
	)

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	runs := history.NewService(history.NewRepository(database.X()), logging.WithComponent(logger, "history"))

	installID, err := runs.EnsureInstallID(context.Background())
	if err != nil {
		return fmt.Errorf("failed to ensure install ID: %w", err)
	}

	var client processing.Client
	if cfg.StubService() {
		client = processing.NewStubClient(cfg.ServiceURL(), stubPendingPolls, logging.WithComponent(logger, "processing"))
		logger.Warn("using in-process processing stub", "service_url", cfg.ServiceURL())
	} else {
		httpClient := processing.NewHTTPClient(cfg.ServiceURL(), cfg.RequestTimeout(), logging.WithComponent(logger, "processing"))
		httpClient.SetClientID(installID)
		client = httpClient
	}

	previews := preview.NewStore(logging.WithComponent(logger, "preview"))
	widget := upload.NewWidget(upload.WidgetConfig{
		MaxBytes: cfg.MaxUploadBytes(),
		Previews: previews,
		Logger:   logging.WithComponent(logger, "upload"),
	})
	toaster := workflow.NewToaster(workflow.DefaultToastLimit)

	controller := workflow.New(workflow.Config{
		Client:       client,
		Acceptor:     widget,
		Notifier:     toaster,
		Recorder:     runs,
		StageDelay:   cfg.StageDelay(),
		PollInterval: cfg.PollInterval(),
		Logger:       logger,
	})

	studioURL := fmt.Sprintf("http://127.0.0.1:%d/", cfg.Port())

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║                 PICKABOOK AGENT v%-24s ║\n", config.Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  Studio:     %-45s ║\n", studioURL)
	fmt.Printf("║  Service:    %-45s ║\n", logging.SanitizeURL(cfg.ServiceURL()))
	fmt.Printf("║  Install ID: %-45s ║\n", installID[:8]+"...")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	apiServer := api.NewServer(api.ServerConfig{
		Port:        cfg.Port(),
		Version:     config.Version,
		InstallID:   installID,
		StartTime:   startTime,
		Workflow:    controller,
		Widget:      widget,
		Previews:    previews,
		Toaster:     toaster,
		History:     runs,
		Fetcher:     client,
		UploadRate:  cfg.UploadRate(),
		UploadBurst: cfg.UploadBurst(),
		Logger:      logging.WithComponent(logger, "api"),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	quitCh := make(chan struct{})
	var quitOnce sync.Once
	quit := func() { quitOnce.Do(func() { close(quitCh) }) }

	var tray *ui.Tray
	if cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray = ui.NewTray(ui.TrayConfig{
			Workflow:  controller,
			StudioURL: studioURL,
			Logger:    logging.WithComponent(logger, "tray"),
			OnQuit:    quit,
		})
		go tray.Run()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
			logger.Info("received shutdown signal")
		case <-quitCh:
		}

		logger.Info("initiating graceful shutdown")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown HTTP server", "error", err)
		}
		if err := controller.Close(); err != nil {
			logger.Error("failed to close workflow", "error", err)
		}
		if tray != nil {
			tray.Quit()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("shutdown complete")
	return nil
}
