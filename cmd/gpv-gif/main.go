package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/DK-com2/GPV-gif/internal/anim"
	httpapi "github.com/DK-com2/GPV-gif/internal/api/http"
	"github.com/DK-com2/GPV-gif/internal/config"
	"github.com/DK-com2/GPV-gif/internal/fetch"
	"github.com/DK-com2/GPV-gif/internal/forecast"
	"github.com/DK-com2/GPV-gif/internal/grid"
	"github.com/DK-com2/GPV-gif/internal/render"
	"github.com/DK-com2/GPV-gif/internal/scheduler"
	"github.com/DK-com2/GPV-gif/internal/update"
)

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Shared HTTP client for archive downloads.
	httpClient := &http.Client{
		Timeout: cfg.DownloadTimeout,
	}

	// Retrieval attempt recording: append-only file plus bounded history
	// for the API.
	attemptLog, err := fetch.NewAttemptLog(filepath.Join(cfg.LogDir, "download.log"))
	if err != nil {
		log.Fatalf("failed to open attempt log: %v", err)
	}
	history := fetch.NewHistory(cfg.AttemptHistory)

	fetcher := fetch.NewFetcher(httpClient, fetch.Options{
		BaseURL:    cfg.BaseURL,
		RawDir:     cfg.RawDataDir,
		UserAgent:  cfg.UserAgent,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
	}, attemptLog, history)

	acquirer := &fetch.Acquirer{
		Resolver: forecast.Resolver{
			RunHours:      cfg.RunHours,
			DataDelay:     cfg.DataDelay,
			FallbackDepth: cfg.FallbackDepth,
		},
		Fetcher: fetcher,
		RawDir:  cfg.RawDataDir,
	}

	renderer := render.NewRenderer(render.Options{
		Width:        cfg.FrameWidth,
		Height:       cfg.FrameHeight,
		Bounds:       cfg.Bounds,
		Coastline:    render.DefaultCoastline(),
		Peaks:        cfg.Peaks,
		StepInterval: cfg.StepInterval,
	})

	assembler := &anim.Assembler{
		OutDir:        cfg.ImagesDir,
		FrameDuration: cfg.FrameDuration,
	}

	decodeOpts := grid.Options{Bounds: cfg.Bounds, ExpectedSteps: cfg.ExpectedSteps}

	updater := update.New(update.Pipeline{
		Acquire:    acquirer.Acquire,
		AcquireRun: acquirer.AcquireRun,
		Decode: func(path string) (*grid.LayerSeries, error) {
			return grid.Decode(path, decodeOpts)
		},
		Render:   renderer.Render,
		Assemble: assembler.AssembleAll,
	})

	// Scheduler that periodically refreshes the animations.
	sched := scheduler.New(updater, cfg.RefreshInterval)
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	// Run an initial cycle when no animations exist yet.
	if _, err := os.Stat(filepath.Join(cfg.ImagesDir, render.VariantAll.Filename())); os.IsNotExist(err) {
		log.Println("no existing animations found, running initial refresh")
		updater.Trigger()
	}

	// Basic app configuration
	app := fiber.New(fiber.Config{
		AppName:               "gpv-gif",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          30 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	// Basic health endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "gpv-gif",
		})
	})

	// The four animation artifacts as opaque byte streams.
	app.Static("/images", cfg.ImagesDir)

	// API routes.
	httpapi.RegisterRoutes(app, updater, history, cfg.RunHours)

	// Start server with graceful shutdown
	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}
