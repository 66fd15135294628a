package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/lumivox/chapterreel/internal/api"
	"github.com/lumivox/chapterreel/internal/config"
	"github.com/lumivox/chapterreel/internal/db"
	"github.com/lumivox/chapterreel/internal/pipeline"
	"github.com/lumivox/chapterreel/internal/progress"
	"github.com/lumivox/chapterreel/internal/queue"
	"github.com/lumivox/chapterreel/internal/services"
	"github.com/lumivox/chapterreel/internal/storage"
	"github.com/lumivox/chapterreel/internal/worker"
)

func main() {
	log.Println("Starting ChapterReel API...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to database
	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	log.Println("Connected to database")

	// Connect to Redis queue
	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()
	log.Println("Connected to Redis queue")

	// Initialize object storage
	stor := storage.New(cfg.StorageURL, cfg.StorageServiceKey, cfg.StorageBucket)
	log.Printf("Initialized storage (bucket: %s)", cfg.StorageBucket)

	notifier := progress.New(q)
	manager := pipeline.NewManager(database, q, notifier)

	// Create API handler
	handler := api.NewHandler(database, manager, q, stor)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey != "" {
		log.Println("API key authentication enabled")
	} else {
		log.Println("WARNING: No BACKEND_API_KEY set — API is unprotected (dev mode)")
	}

	// Start HTTP server
	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	// Start worker if enabled
	var workerCancel context.CancelFunc
	var w *worker.Worker
	if cfg.WorkerEnabled {
		log.Println("Worker enabled, starting background processing...")

		ffmpegSvc := services.NewFFmpegService(
			cfg.ScratchDir,
			time.Duration(cfg.ComposeTimeoutS)*time.Second,
			time.Duration(cfg.AssembleTimeoutS)*time.Second,
		)

		var corrector *services.CorrectorService
		if cfg.OpenAIKey != "" {
			corrector = services.NewCorrectorService(cfg.OpenAIKey)
			log.Println("Subtitle correction enabled")
		}

		composer := pipeline.NewSentenceComposer(stor, ffmpegSvc, corrector)
		retry := pipeline.RetryPolicy{MaxRetries: cfg.MaxRetries, BaseDelay: 2 * time.Second}

		// One semaphore for the whole process: the render cap holds across
		// every task, not per task.
		sem := semaphore.NewWeighted(int64(cfg.MaxConcurrent))
		controller := pipeline.NewController(database, composer, notifier, retry, sem)
		runner := pipeline.NewRunner(database, controller, stor, ffmpegSvc, notifier, cfg.FailureTolerance)

		w = worker.New(q, runner, cfg.MaxConcurrent)

		var workerCtx context.Context
		workerCtx, workerCancel = context.WithCancel(context.Background())
		w.Start(workerCtx)
		log.Printf("Worker started (max %d concurrent renders)", cfg.MaxConcurrent)
	}

	// Start server in goroutine
	go func() {
		log.Printf("API server listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Shutdown worker and wait for in-progress runs to wind down
	if workerCancel != nil {
		workerCancel()
		w.Wait()
	}

	// Shutdown HTTP server
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
