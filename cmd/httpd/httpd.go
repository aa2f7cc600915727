// Package httpd implements the HTTP API server command.
package httpd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/goregistry/internal/api"
	"github.com/jonesrussell/goregistry/internal/config"
	"github.com/jonesrussell/goregistry/internal/database"
	"github.com/jonesrussell/goregistry/internal/logger"
	"github.com/jonesrussell/goregistry/internal/queue"
	"github.com/jonesrussell/goregistry/internal/registry"
)

const (
	signalChannelBufferSize = 1
	errorChannelBufferSize  = 1
	defaultShutdownTimeout  = 30 * time.Second
)

// Command returns the httpd command.
func Command(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "httpd",
		Short: "Run the registry API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return Start(*cfgFile)
		},
	}
}

// Start starts the HTTP server and runs until interrupted.
// It handles graceful shutdown on SIGINT or SIGTERM signals.
func Start(cfgFile string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(&cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	db, err := database.NewPostgresConnection(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if migrateErr := database.Migrate(context.Background(), db); migrateErr != nil {
		return fmt.Errorf("failed to run migrations: %w", migrateErr)
	}

	streams, err := queue.NewStreamsClient(cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer streams.Close()

	producer := queue.NewProducer(streams, queue.ProducerConfig{})

	urlRepo := database.NewDatasetURLRepository(db)
	metadataRepo := database.NewURLMetadataRepository(db)

	service := registry.NewService(urlRepo, metadataRepo, producer, log)
	handler := api.NewHandler(service, log)

	server := api.NewServer(api.ServerOptions{
		Address:      cfg.Server.Address,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, handler, log)

	errChan := make(chan error, errorChannelBufferSize)
	go func() {
		errChan <- server.Start()
	}()

	sigChan := make(chan os.Signal, signalChannelBufferSize)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err = <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case sig := <-sigChan:
		log.Info("shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		return fmt.Errorf("failed to shut down server: %w", shutdownErr)
	}

	return nil
}
