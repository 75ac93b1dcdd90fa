package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"tryon-server/internal/adapter/repo"
	"tryon-server/internal/artifact"
	"tryon-server/internal/events"
	"tryon-server/internal/infra"
	"tryon-server/internal/providers/replicate"
	"tryon-server/internal/quality"
	"tryon-server/internal/storage"
	"tryon-server/internal/tryon"
)

// The worker drives in-flight try-on jobs to completion without serving HTTP.
// Run it when API replicas are deployed without background polling, or to
// drain jobs left in processing after an unclean shutdown.
func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	var store storage.ObjectStore
	switch cfg.StorageBackend {
	case "s3":
		store, err = storage.NewS3Store(ctx, storage.S3Options{
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			ForcePathStyle:  cfg.S3ForcePathStyle,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: s3 storage failed")
		}
	default:
		store, err = storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: filesystem storage failed")
		}
	}

	var publisher events.Publisher
	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: redis connection failed")
	}
	if rdb != nil {
		defer rdb.Close()
		publisher = events.NewRedisPublisher(rdb, logger)
	}

	orchestrator := tryon.NewOrchestrator(
		ctx,
		repo.NewTryOnJobRepository(pool),
		repo.NewCatalogRepository(pool),
		replicate.NewClient(replicate.Options{
			BaseURL: cfg.ReplicateBaseURL,
			Token:   cfg.ReplicateAPIToken,
			Version: cfg.ReplicateModelVersion,
		}),
		artifact.NewFetcher(store, nil, logger),
		quality.NewValidator(nil, logger),
		store,
		publisher,
		logger,
		tryon.Options{
			PollInterval:    cfg.PollInterval,
			MaxPollAttempts: cfg.PollMaxAttempts,
		},
	)

	if err := orchestrator.Resume(ctx); err != nil {
		logger.Fatal().Err(err).Msg("worker: resume failed")
	}
	logger.Info().Msg("worker: polling in-flight jobs")

	<-ctx.Done()
	orchestrator.Wait()
	logger.Info().Msg("worker: stopped")
}
