package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"

	"github.com/rpattn/buildtrack/internal/api"
	"github.com/rpattn/buildtrack/internal/config"
	"github.com/rpattn/buildtrack/internal/db"
	"github.com/rpattn/buildtrack/internal/eventlog"
	"github.com/rpattn/buildtrack/internal/export"
	"github.com/rpattn/buildtrack/internal/ingestion"
	"github.com/rpattn/buildtrack/internal/logger"
	"github.com/rpattn/buildtrack/internal/repository"
	"github.com/rpattn/buildtrack/internal/repository/memory"
	"github.com/rpattn/buildtrack/internal/revision"
	"github.com/rpattn/buildtrack/internal/snapshot"
	"github.com/rpattn/buildtrack/internal/userloader"
)

// backend bundles the repositories for the configured storage driver.
type backend struct {
	builds      repository.BuildRepository
	snapshots   repository.SnapshotRepository
	events      repository.ChangeEventRepository
	users       repository.UserRepository
	maintenance repository.MaintenanceRepository
	ready       func(ctx context.Context) error
	close       func()
}

func openBackend(ctx context.Context, cfg config.Config, log *logger.Logger) (*backend, error) {
	if cfg.Storage.Driver == "memory" {
		log.Warn("using in-memory storage, data is lost on exit")
		store := memory.NewStore()
		return &backend{
			builds:      store.Builds(),
			snapshots:   store.Snapshots(),
			events:      store.ChangeEvents(),
			users:       store.Users(),
			maintenance: store.Maintenance(),
			close:       func() {},
		}, nil
	}

	if cfg.Storage.RunMigrations {
		version, err := db.RunMigrations(cfg.Database)
		if err != nil {
			return nil, err
		}
		log.Info("database migrations applied", "version", version)
	}

	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	queries := db.New(conn.Pool)
	return &backend{
		builds:      repository.NewBuildRepository(queries, conn.Pool),
		snapshots:   repository.NewSnapshotRepository(queries),
		events:      repository.NewChangeEventRepository(queries),
		users:       repository.NewUserRepository(queries),
		maintenance: repository.NewMaintenanceRepository(queries),
		ready:       conn.Ping,
		close:       conn.Close,
	}, nil
}

func main() {
	configPath := os.Getenv("BUILDTRACK_CONFIG_PATH")
	if configPath == "" {
		configPath = "."
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLog, err := logger.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer appLog.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openBackend(ctx, cfg, appLog)
	if err != nil {
		appLog.Fatal("failed to open storage", "driver", cfg.Storage.Driver, "error", err)
	}
	defer store.close()

	users := userloader.NewDirectory(store.users)
	snapshots := snapshot.NewStore(store.builds, store.snapshots, users,
		snapshot.WithLogger(appLog.With("component", "snapshot")))
	events := eventlog.New(store.builds, store.events, users,
		eventlog.WithLogger(appLog.With("component", "eventlog")))
	coordinator := revision.NewCoordinator(store.builds, store.maintenance, snapshots, events,
		revision.WithLogger(appLog.With("component", "revision")))
	importer := ingestion.NewService(coordinator, store.builds,
		ingestion.WithLogger(appLog.With("component", "ingestion")))

	server := api.NewServer(api.Deps{
		Builds:       store.builds,
		Users:        store.users,
		Snapshots:    snapshots,
		Events:       events,
		Coordinator:  coordinator,
		Exporter:     export.NewService(store.builds, snapshots, events),
		Importer:     importer,
		Logger:       appLog.With("component", "http"),
		Ready:        store.ready,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{"*"},
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      corsHandler.Handler(server.Handler()),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		appLog.Info("starting buildtrack server", "addr", cfg.Server.Addr, "storage", cfg.Storage.Driver)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Fatal("failed to start server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLog.Error("server forced to shutdown", "error", err)
		return
	}

	appLog.Info("server exited")
}
