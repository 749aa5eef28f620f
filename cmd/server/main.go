package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rpattn/trackdim/internal/config"
	"github.com/rpattn/trackdim/internal/db"
	"github.com/rpattn/trackdim/internal/export"
	"github.com/rpattn/trackdim/internal/metrics"
	"github.com/rpattn/trackdim/internal/middleware"
	"github.com/rpattn/trackdim/internal/pipeline"
	"github.com/rpattn/trackdim/internal/reconcile"
	"github.com/rpattn/trackdim/internal/repository"
	"github.com/rpattn/trackdim/internal/secrets"
	"github.com/rpattn/trackdim/internal/source"

	"github.com/rs/cors"
)

func main() {
	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Setup database connection
	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close()

	// Run migrations
	if err := db.RunMigrations(cfg.Database, "./migrations"); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Create repositories
	historyRepo := repository.NewTrackHistoryRepository(conn.Pool)
	stagingRepo := repository.NewStagingRepository(conn.Pool)
	runRepo := repository.NewRunLogRepository(conn.Pool)

	// Create services
	provider := secrets.NewFileProvider(cfg.SecretsDir)
	client := source.NewClient(cfg.Source, provider)
	reconciler := reconcile.New(historyRepo)
	pipelineService := pipeline.NewService(client, stagingRepo, reconciler, runRepo, cfg.Pipeline, cfg.Source.ReleaseLimit)
	exportService := export.NewService(historyRepo, cfg.Export.Dir)

	// Heal any tracks a previous interrupted run left without a current row
	// before accepting new work.
	if healed, err := reconciler.Heal(ctx); err != nil {
		log.Fatalf("Failed to heal dimension on startup: %v", err)
	} else if healed > 0 {
		log.Printf("Healed %d tracks on startup", healed)
	}

	// Setup CORS
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	mux := http.NewServeMux()
	mux.Handle("/run", corsHandler.Handler(middleware.LoggingMiddleware(pipeline.NewHTTPHandler(pipelineService))))
	mux.Handle("/export", corsHandler.Handler(middleware.LoggingMiddleware(export.NewHTTPHandler(exportService))))
	mux.Handle("/metrics", metrics.Handler())

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // a pipeline run is synchronous
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting trackdim server on %s", cfg.Server.Addr)
		log.Printf("Pipeline trigger available at POST %s/run", cfg.Server.Addr)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
