package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"

	"github.com/codebuildervaibhav/meeting-minutes/internal/cleanup"
	"github.com/codebuildervaibhav/meeting-minutes/internal/config"
	"github.com/codebuildervaibhav/meeting-minutes/internal/engine"
	"github.com/codebuildervaibhav/meeting-minutes/internal/handlers"
	"github.com/codebuildervaibhav/meeting-minutes/internal/intake"
	"github.com/codebuildervaibhav/meeting-minutes/internal/llm"
	"github.com/codebuildervaibhav/meeting-minutes/internal/metrics"
	"github.com/codebuildervaibhav/meeting-minutes/internal/storage"
	"github.com/codebuildervaibhav/meeting-minutes/internal/transcription"
)

const version = "1.0.0"

var configPath string

func main() {
	root := &cobra.Command{
		Use:     "meeting-minutes",
		Short:   "Audio transcription and meeting-minutes service",
		Version: version,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config/config.yaml",
		"path to the YAML config file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server and the pipeline engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}

	purge := &cobra.Command{
		Use:   "purge",
		Short: "Remove expired jobs and their files, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPurge()
		},
	}

	root.AddCommand(serve, purge)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}

	tempDir := filepath.Join(cfg.Storage.DataDir, "tmp")
	for _, dir := range []string{cfg.Storage.DataDir, cfg.Storage.UploadDir, tempDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %v", dir, err)
		}
	}

	// Custom logger setup
	logBuffer := &LogBuffer{lines: make([]string, 0, 1000)}
	log.SetOutput(io.MultiWriter(os.Stdout, logBuffer))

	log.Println("Initializing components...")

	store, err := storage.Open(cfg.Storage.Database)
	if err != nil {
		return fmt.Errorf("failed to open store: %v", err)
	}
	defer store.Close()

	whisper := transcription.NewWhisperClient(
		cfg.Whisper.Model,
		cfg.Whisper.Device,
		time.Duration(cfg.Whisper.TimeoutSeconds)*time.Second,
		tempDir,
	)
	llmClient := llm.NewClient(cfg.Ollama.BaseURL, cfg.Ollama.Model)

	collector := metrics.NewCollector()

	eng := engine.New(store, whisper, llmClient, collector, engine.Options{
		WorkerCount:    cfg.Workers.Count,
		CorrectTimeout: time.Duration(cfg.Ollama.CorrectTimeoutSeconds) * time.Second,
		SummaryTimeout: time.Duration(cfg.Ollama.SummaryTimeoutSeconds) * time.Second,
	})
	if err := eng.Start(); err != nil {
		return fmt.Errorf("failed to start engine: %v", err)
	}

	cleanupScheduler := cleanup.NewScheduler(store,
		time.Duration(cfg.Cleanup.IntervalMinutes)*time.Minute,
		cfg.Cleanup.FileRetentionDays,
	)
	cleanupScheduler.Start()
	defer cleanupScheduler.Stop()

	in := intake.New(store, transcription.FFProbe{}, cfg.Storage.UploadDir,
		cfg.Limits.MaxFileSizeBytes)

	// Create Fiber app; the body limit leaves headroom over the file limit
	// so oversized uploads get the proper FILE_TOO_LARGE envelope.
	app := fiber.New(fiber.Config{
		BodyLimit: int(cfg.Limits.MaxFileSizeBytes) + 10*1024*1024,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	transcriptionsHandler := handlers.NewTranscriptionsHandler(store, in)
	filesHandler := handlers.NewFilesHandler(store)
	healthHandler := handlers.NewHealthHandler(store, llmClient,
		func() bool { return !eng.Degraded() }, version)

	app.Get("/health", healthHandler.Health)
	app.Get("/metrics", adaptor.HTTPHandler(collector.Handler()))

	api := app.Group("/api/v1")
	api.Get("/health", healthHandler.Health)
	api.Get("/status", healthHandler.Status)
	api.Post("/transcriptions", transcriptionsHandler.Create)
	api.Get("/transcriptions", transcriptionsHandler.List)
	api.Get("/transcriptions/:id", transcriptionsHandler.Get)
	api.Get("/transcriptions/:id/summary", transcriptionsHandler.GetSummary)
	api.Get("/transcriptions/:id/logs", transcriptionsHandler.GetLogs)
	api.Delete("/transcriptions/:id", transcriptionsHandler.Delete)
	api.Get("/files/:id/transcription.txt", filesHandler.TranscriptionTxt)
	api.Get("/files/:id/transcription.json", filesHandler.TranscriptionJSON)
	api.Get("/files/:id/summary.txt", filesHandler.SummaryTxt)
	api.Get("/files/:id/summary.json", filesHandler.SummaryJSON)
	api.Get("/files/:id/export", filesHandler.Export)

	// Get server logs
	api.Get("/logs", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"logs": logBuffer.GetLogs()})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Server starting on %s", addr)

	// Graceful shutdown
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Println("Shutting down gracefully...")
		app.Shutdown()
	}()

	if err := app.Listen(addr); err != nil {
		return fmt.Errorf("server failed: %v", err)
	}

	eng.Stop()
	return nil
}

func runPurge() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}

	store, err := storage.Open(cfg.Storage.Database)
	if err != nil {
		return fmt.Errorf("failed to open store: %v", err)
	}
	defer store.Close()

	cutoff := time.Now().AddDate(0, 0, -cfg.Cleanup.FileRetentionDays)
	purged, err := store.Purge(cutoff, cleanup.RemoveFile)
	if err != nil {
		return err
	}
	log.Printf("Purged %d expired job(s)", purged)
	return nil
}

// LogBuffer captures logs in memory
type LogBuffer struct {
	lines []string
	mu    sync.Mutex
}

func (lb *LogBuffer) Write(p []byte) (n int, err error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.lines = append(lb.lines, string(p))

	// Keep last 1000 lines
	if len(lb.lines) > 1000 {
		lb.lines = lb.lines[len(lb.lines)-1000:]
	}

	return len(p), nil
}

func (lb *LogBuffer) GetLogs() []string {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	logs := make([]string, len(lb.lines))
	copy(logs, lb.lines)
	return logs
}
