package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"tryon-server/internal/adapter/repo"
	"tryon-server/internal/artifact"
	"tryon-server/internal/events"
	"tryon-server/internal/http/handlers"
	httpapi "tryon-server/internal/http/httpapi"
	"tryon-server/internal/infra"
	"tryon-server/internal/providers/replicate"
	"tryon-server/internal/quality"
	"tryon-server/internal/storage"
	"tryon-server/internal/tryon"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

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
			logger.Fatal().Err(err).Msg("failed to configure s3 storage")
		}
	default:
		store, err = storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure filesystem storage")
		}
	}

	bus := events.NewBus()
	publishers := events.Fanout{bus}

	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}
	if rdb != nil {
		defer rdb.Close()
		publishers = append(publishers, events.NewRedisPublisher(rdb, logger))
	}

	predictions := replicate.NewClient(replicate.Options{
		BaseURL: cfg.ReplicateBaseURL,
		Token:   cfg.ReplicateAPIToken,
		Version: cfg.ReplicateModelVersion,
	})

	// Background polling is bound to this context; cancel stops the loops.
	workCtx, stopWork := context.WithCancel(ctx)
	defer stopWork()

	orchestrator := tryon.NewOrchestrator(
		workCtx,
		repo.NewTryOnJobRepository(dbpool),
		repo.NewCatalogRepository(dbpool),
		predictions,
		artifact.NewFetcher(store, nil, logger),
		quality.NewValidator(nil, logger),
		store,
		publishers,
		logger,
		tryon.Options{
			PollInterval:    cfg.PollInterval,
			MaxPollAttempts: cfg.PollMaxAttempts,
		},
	)

	if err := orchestrator.Resume(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to resume in-flight jobs")
	}

	app := handlers.NewApp(orchestrator, bus, store, logger)
	router := httpapi.NewRouter(app, httpapi.Options{
		AllowedOrigins:       cfg.CORSAllowedOrigins,
		CreateLimitPerMinute: cfg.RateLimitPerMin,
	})
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}

	stopWork()
	orchestrator.Wait()
	logger.Info().Msg("server stopped")
}
