package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lalithlochan/cascade/internal/api"
	"github.com/lalithlochan/cascade/internal/channel"
	"github.com/lalithlochan/cascade/internal/config"
	"github.com/lalithlochan/cascade/internal/db"
	"github.com/lalithlochan/cascade/internal/dispatch"
	"github.com/lalithlochan/cascade/internal/metrics"
	"github.com/lalithlochan/cascade/internal/observ"
	"github.com/lalithlochan/cascade/internal/redis"
	"github.com/lalithlochan/cascade/internal/routing"
	"github.com/lalithlochan/cascade/internal/sns"
	"github.com/lalithlochan/cascade/internal/sqs"
	"github.com/lalithlochan/cascade/internal/worker"
)

const gaugeInterval = 15 * time.Second

// auditLog is what both store backends provide.
type auditLog interface {
	dispatch.AuditStore
	api.NotificationStore
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting cascade gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("store", cfg.StoreBackend),
		zap.String("channel_mode", cfg.ChannelMode),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Audit store
	var (
		store    auditLog
		database *db.DB
	)
	switch cfg.StoreBackend {
	case config.StoreMemory:
		store = db.NewMemoryStore()
		logger.Warn("using in-memory audit store, notifications are lost on restart")
	default:
		database, err = db.New(ctx, db.Config{
			Host:     cfg.DBHost,
			Port:     cfg.DBPort,
			User:     cfg.DBUser,
			Password: cfg.DBPassword,
			Database: cfg.DBName,
			SSLMode:  cfg.DBSSLMode,
			MaxConns: int32(cfg.DBMaxConns),
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer database.Close()

		logger.Info("database connection established",
			zap.String("host", cfg.DBHost),
			zap.Int("port", cfg.DBPort),
			zap.String("database", cfg.DBName),
		)
		store = db.NewRepository(database, logger)
	}

	// Redis for idempotency, rate limiting and the inbox channel
	var (
		redisClient *redis.Client
		idempotency *redis.IdempotencyService
		rateLimiter *redis.RateLimiter
		inbox       *redis.InboxStore
	)
	if cfg.RedisEnabled {
		redisClient, err = redis.New(ctx, redis.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
		if err != nil {
			logger.Warn("redis unavailable, idempotency, rate limiting and inbox storage disabled",
				zap.Error(err),
				zap.String("host", cfg.RedisHost),
			)
		} else {
			defer redisClient.Close()

			idempotency = redis.NewIdempotencyService(redisClient, logger)
			inbox = redis.NewInboxStore(redisClient, logger, cfg.InboxMaxItems)
			if cfg.RateLimitPerMinute > 0 {
				rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
					Limit:  cfg.RateLimitPerMinute,
					Window: time.Minute,
				})
			}
		}
	}

	// Channels and routing
	adapters, err := buildAdapters(ctx, cfg, inbox, logger)
	if err != nil {
		return err
	}
	adapters, breakers := protect(adapters, cfg, logger)
	registry := channel.NewRegistry(adapters...)

	table := routing.Default()
	if cfg.RoutingFile != "" {
		table, err = routing.LoadFile(cfg.RoutingFile)
		if err != nil {
			return fmt.Errorf("failed to load routing table: %w", err)
		}
		logger.Info("routing table loaded", zap.String("file", cfg.RoutingFile))
	}

	engine := dispatch.New(store, table, registry, logger)

	if cfg.EventsTopicARN != "" {
		publisher, err := sns.NewPublisher(ctx, cfg.SNSRegion, cfg.EventsTopicARN, logger)
		if err != nil {
			return fmt.Errorf("failed to create outcome publisher: %w", err)
		}
		engine.AddListener(publisher)
		logger.Info("publishing dispatch outcomes", zap.String("topic_arn", cfg.EventsTopicARN))
	}

	logger.Info("dispatch engine ready",
		zap.Int("event_types", len(table.EventTypes())),
		zap.Int("channels", len(registry.Kinds())),
		zap.Bool("inbox_storage", inbox != nil),
	)

	// Optional SQS intake: the gateway enqueues, the worker dispatches
	var producer *sqs.Producer
	workerDone := make(chan error, 1)
	if cfg.SQSQueueURL != "" {
		sqsClient, err := sqs.NewClient(ctx, sqs.Config{Region: cfg.SQSRegion, QueueURL: cfg.SQSQueueURL})
		if err != nil {
			return fmt.Errorf("failed to create sqs client: %w", err)
		}
		producer = sqs.NewProducer(sqsClient, cfg.SQSQueueURL, logger)
		consumer := sqs.NewConsumer(sqsClient, cfg.SQSQueueURL, sqs.ConsumerConfig{}, logger)

		w := worker.New(consumer, engine, worker.Config{Concurrency: cfg.WorkerConcurrency}, logger)
		go func() { workerDone <- w.Start(ctx) }()

		logger.Info("sqs worker started", zap.Int("concurrency", cfg.WorkerConcurrency))
	} else {
		close(workerDone)
	}

	go reportConnections(ctx, database, redisClient)

	opts := api.Options{
		Idempotency: idempotency,
		Breakers:    breakers,
	}
	if producer != nil {
		opts.Queue = producer
	}
	if inbox != nil {
		opts.Inbox = inbox
	}
	handler := api.NewHandler(logger, engine, store, table, registry, opts)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(api.RequestLogger(logger))

	r.Route("/v1", func(r chi.Router) {
		r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.IPKeyFunc))
		handler.Mount(r)
	})

	r.Get("/health", healthHandler(database, redisClient))
	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")

		// In-flight dispatches finish; they ignore request cancellation.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	stop()
	if err := <-workerDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("worker stopped with error", zap.Error(err))
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), dispatch.DefaultListenerTimeout)
	defer cancelDrain()
	if err := engine.Wait(drainCtx); err != nil {
		logger.Warn("outcome listeners still running at shutdown", zap.Error(err))
	}

	logger.Info("server stopped gracefully")
	return nil
}

// healthHandler reports 503 when a configured backend is unreachable.
func healthHandler(database *db.DB, redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if database != nil {
			if err := database.Health(ctx); err != nil {
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		if redisClient != nil {
			if err := redisClient.Ping(ctx); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

func reportConnections(ctx context.Context, database *db.DB, redisClient *redis.Client) {
	ticker := time.NewTicker(gaugeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if database != nil {
				metrics.SetDBConnections(database.AcquiredConns())
			}
			if redisClient != nil {
				metrics.SetRedisConnections(redisClient.ActiveConns())
			}
		}
	}
}
