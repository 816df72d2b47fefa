package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"audioTranscriber/api/cache"
	"audioTranscriber/api/config"
	"audioTranscriber/api/database"
	"audioTranscriber/api/events"
	"audioTranscriber/api/fetch"
	"audioTranscriber/api/handlers"
	"audioTranscriber/api/ingest"
	"audioTranscriber/api/kafka"
	"audioTranscriber/api/middleware"
	"audioTranscriber/api/repository"
	"audioTranscriber/api/service"
	"audioTranscriber/api/store"
	"audioTranscriber/worker/dispatcher"
	"audioTranscriber/worker/engine"
	"audioTranscriber/worker/metrics"
	"audioTranscriber/worker/pool"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("Failed to load config", zap.Error(err))
	}

	logger, err := newLogger(cfg)
	if err != nil {
		zap.NewExample().Fatal("Failed to create logger", zap.Error(err))
	}
	defer logger.Sync()

	logger.Info("API Service starting",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
		zap.Int("workers", cfg.WorkerCount),
		zap.String("model", cfg.Model),
	)

	ctx := context.Background()

	repo, closeRepo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open repository", zap.Error(err))
	}
	defer closeRepo()

	st, err := store.Open(ctx, repo, logger, store.StalePolicy(cfg.StaleTaskPolicy))
	if err != nil {
		logger.Fatal("Failed to load task store", zap.Error(err))
	}

	publisher, closePublishers := openPublishers(ctx, cfg, logger)
	defer closePublishers()

	eng, err := engine.NewHTTPClient(engine.HTTPConfig{
		Endpoint:   cfg.EngineEndpoint,
		APIKey:     cfg.EngineAPIKey,
		Timeout:    cfg.EngineTimeout,
		MaxRetries: cfg.EngineMaxRetries,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create transcription engine", zap.Error(err))
	}

	d := dispatcher.New(st, eng, pool.NewWorkerPool(cfg.WorkerCount), publisher, metrics.New(prometheus.DefaultRegisterer), logger)

	ing := ingest.New(cfg.TempDir, cfg.MaxFileSize, fetch.NewClient(cfg.FetchTimeout, cfg.MaxFileSize), logger)
	taskService := service.NewTaskService(ing, d, st, cfg.Model, cfg.MaxWait, logger)
	taskHandler := handlers.NewTaskHandler(taskService, cfg.MaxFileSize, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/transcribe", taskHandler.Upload)
	mux.HandleFunc("/transcribe_url", taskHandler.TranscribeURL)
	mux.HandleFunc("/task/", taskHandler.Status)
	mux.HandleFunc("/tasks", taskHandler.List)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	var handler http.Handler = mux
	handler = middleware.Logging(logger)(handler)
	handler = middleware.Recovery(logger)(handler)
	handler = middleware.TraceID(handler)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Long enough for a ?wait request at the cap plus transfer.
		WriteTimeout: cfg.MaxWait + 30*time.Second,
	}

	go func() {
		logger.Info("Server started", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	if err := d.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Dispatcher shutdown cut in-flight tasks short", zap.Error(err))
	}

	logger.Info("Server stopped")
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zapCfg := zap.NewDevelopmentConfig()
	if cfg.IsProduction() {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zapCfg.Level = level

	return zapCfg.Build()
}

func openRepository(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.Repository, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, tasks are kept in memory only")
		return repository.NewMemoryRepo(), func() {}, nil
	}

	db, err := database.ConnectDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}

	repo := repository.NewPostgresRepo(db)
	if err := repo.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	logger.Info("Database ready", zap.Int("schema_version", repository.LatestVersion()))

	return repo, db.Close, nil
}

// openPublishers connects the optional event sinks. A sink that cannot be
// reached at startup is skipped with a warning; tasks run without it.
func openPublishers(ctx context.Context, cfg *config.Config, logger *zap.Logger) (events.Publisher, func()) {
	var (
		publishers events.Multi
		closers    []func()
	)

	if cfg.RedisAddr != "" {
		client, err := database.ConnectRedis(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Warn("Redis unavailable, status mirror disabled", zap.Error(err))
		} else {
			publishers = append(publishers, cache.NewStatusMirror(client))
			closers = append(closers, func() { client.Close() })
		}
	}

	if brokers := cfg.Brokers(); len(brokers) > 0 {
		producer, err := kafka.NewEventProducer(brokers, cfg.KafkaTopic)
		if err != nil {
			logger.Warn("Kafka unavailable, event stream disabled", zap.Error(err))
		} else {
			publishers = append(publishers, producer)
			closers = append(closers, func() { producer.Close() })
		}
	}

	return publishers, func() {
		for _, c := range closers {
			c()
		}
	}
}
