// Package worker implements the background worker command: the task pool
// draining the queue plus the periodic check dispatcher.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/goregistry/internal/cache"
	"github.com/jonesrussell/goregistry/internal/config"
	"github.com/jonesrussell/goregistry/internal/database"
	"github.com/jonesrussell/goregistry/internal/dataset"
	"github.com/jonesrussell/goregistry/internal/dispatch"
	"github.com/jonesrussell/goregistry/internal/logger"
	"github.com/jonesrussell/goregistry/internal/queue"
	"github.com/jonesrussell/goregistry/internal/tasks"
	"github.com/jonesrussell/goregistry/internal/worker"
)

const (
	signalChannelBufferSize = 1
	errorChannelBufferSize  = 1
	defaultShutdownTimeout  = 30 * time.Second
)

// Command returns the worker command.
func Command(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the background task workers and check dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			return Start(cmd.Context(), *cfgFile)
		},
	}
}

// Start runs the worker process until interrupted.
func Start(ctx context.Context, cfgFile string) error {
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

	if migrateErr := database.Migrate(ctx, db); migrateErr != nil {
		return fmt.Errorf("failed to run migrations: %w", migrateErr)
	}

	streams, err := queue.NewStreamsClient(cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer streams.Close()

	producer := queue.NewProducer(streams, queue.ProducerConfig{})
	consumer, err := queue.NewConsumer(ctx, streams, queue.ConsumerConfig{})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	urlRepo := database.NewDatasetURLRepository(db)
	metadataRepo := database.NewURLMetadataRepository(db)

	toolkit := dataset.NewGitToolkit(log)
	allocator := cache.NewAllocator(cfg.Registry.CacheDir)
	extractorRunner := dataset.NewExecExtractor(
		cfg.Registry.ExtractorCommand, dataset.DefaultRequiredFiles, log,
	)

	processor := tasks.NewProcessor(urlRepo, allocator, toolkit, log)
	metaExtractor := tasks.NewMetaExtractor(
		urlRepo, metadataRepo, toolkit, extractorRunner, cfg.Registry.CacheDir, log,
	)
	checker := tasks.NewChecker(urlRepo, toolkit, producer, cfg.Dispatch.MinCheckInterval, log)

	handler := worker.NewDispatcher(
		processor, metaExtractor, checker,
		producer, consumer, cfg.Registry.Extractors, log,
	)

	pool, err := worker.NewPool(cfg.Worker, handler, log)
	if err != nil {
		return fmt.Errorf("failed to create pool: %w", err)
	}

	checkDispatcher, err := dispatch.NewDispatcher(urlRepo, producer, cfg.Dispatch, log)
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if startErr := checkDispatcher.Start(runCtx); startErr != nil {
		return fmt.Errorf("failed to start dispatcher: %w", startErr)
	}

	runner := worker.NewRunner(consumer, pool, log)
	errChan := make(chan error, errorChannelBufferSize)
	go func() {
		errChan <- runner.Run(runCtx)
	}()

	sigChan := make(chan os.Signal, signalChannelBufferSize)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err = <-errChan:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("runner error: %w", err)
		}
	case sig := <-sigChan:
		log.Info("shutdown signal received", "signal", sig.String())
	}

	checkDispatcher.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer shutdownCancel()

	if stopErr := pool.Stop(shutdownCtx); stopErr != nil {
		log.Warn("failed to stop pool cleanly", "error", stopErr)
	}

	return nil
}
