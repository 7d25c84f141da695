package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Tomlord1122/todo-kv/internal/config"
	"github.com/Tomlord1122/todo-kv/internal/database"
	"github.com/Tomlord1122/todo-kv/internal/kv"
	"github.com/Tomlord1122/todo-kv/internal/metrics"
	"github.com/Tomlord1122/todo-kv/internal/repository"
	"github.com/Tomlord1122/todo-kv/internal/server"
	"github.com/Tomlord1122/todo-kv/internal/service"
)

func gracefulShutdown(apiServer *http.Server, store kv.Store, tp *sdktrace.TracerProvider, done chan bool) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	log.Println("Shutting down gracefully, press Ctrl+C again to force")
	stop()

	// In-flight requests get 5 seconds to finish.
	ctxTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctxTimeout); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Closing key-value store...")
	if err := store.Close(); err != nil {
		log.Printf("Error closing key-value store: %v", err)
	} else {
		log.Println("Key-value store closed.")
	}

	if tp != nil {
		if err := tp.Shutdown(ctxTimeout); err != nil {
			log.Printf("Error flushing traces: %v", err)
		}
	}

	log.Println("Server exiting")
	done <- true
}

// openStore connects the configured backend.
func openStore(ctx context.Context, cfg *config.Config) (kv.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		log.Println("Using in-memory key-value store; data is lost on exit")
		return kv.NewMemoryStore(), nil
	case config.BackendSQLite:
		store, err := kv.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.BackendPostgres:
		dbService, err := database.New(cfg.Postgres)
		if err != nil {
			return nil, err
		}
		store, err := database.NewKVStore(dbService)
		if err != nil {
			_ = dbService.Close()
			return nil, err
		}
		return store, nil
	case config.BackendNATS:
		store, err := kv.OpenNATS(ctx, kv.NATSConfig{
			URL:    cfg.NATS.URL,
			Bucket: cfg.NATS.Bucket,
			Name:   "todo-kv",
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func setupTracing() (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return tp, nil
}

func main() {
	// 1. Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	var tp *sdktrace.TracerProvider
	if cfg.TracingEnabled {
		if tp, err = setupTracing(); err != nil {
			log.Fatalf("Failed to set up tracing: %v", err)
		}
		log.Println("Tracing enabled, spans are written to stdout")
	}

	// 2. Key-value store
	openCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	store, err := openStore(openCtx, cfg)
	cancel()
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.Backend, err)
	}
	log.Printf("Key-value store ready (backend=%s, prefix=%s)", cfg.Backend, cfg.KVPrefix)

	m := metrics.New()

	// 3. Repository and service
	todoRepo := repository.NewKVTodoRepository(kv.Instrument(store, cfg.Backend, m), cfg.KVPrefix)
	todoService := service.NewTodoService(todoRepo, service.Options{
		FetchConcurrency: cfg.FetchConcurrency,
	})

	// 4. HTTP server
	apiServer := server.NewServer(cfg, todoService, store, m)

	done := make(chan bool, 1)
	go gracefulShutdown(apiServer, store, tp, done)

	log.Printf("Starting server on %s", apiServer.Addr)
	err = apiServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("HTTP server ListenAndServe error: %v", err)
	}

	<-done
	log.Println("Graceful shutdown complete.")
}
