package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/swagger"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"lobbydocs/docs"
	"lobbydocs/internal/config"
	"lobbydocs/internal/database"
	"lobbydocs/internal/database/migration"
	"lobbydocs/internal/events"
	handlers "lobbydocs/internal/http/handler"
	"lobbydocs/internal/http/middleware"
	"lobbydocs/internal/logging"
	tracing "lobbydocs/internal/otel"
	"lobbydocs/internal/repository"
	"lobbydocs/internal/repository/cache"
	"lobbydocs/internal/repository/dynamodb"
	"lobbydocs/internal/repository/postgres"
	"lobbydocs/internal/service"
	"lobbydocs/internal/storage"
)

// @title Lobby Document API
// @version 1.0
// @description Stores PDF documents tagged by lobby and uploader.
// @BasePath /
func main() {
	// Load configuration from environment variables (.env auto-loaded if present)
	cfg := config.Load()
	log := logging.Default(cfg.Location(), cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("server exited")
	}
}

func run(cfg *config.AppConfig, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.WithError(err).Warn("tracing shutdown")
		}
	}()

	docRepo, pinger, closeRepo, err := openRepository(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeRepo()

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		docRepo = cache.NewDocumentCache(docRepo, rdb, time.Duration(cfg.Redis.TTLSec)*time.Second, log)
		log.WithField("redis_addr", cfg.Redis.Addr).Info("document cache enabled")
	}

	// Initialize reusable object storage client (MinIO or S3)
	objStore, err := storage.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize object storage: %w", err)
	}

	publisher := events.Noop()
	if cfg.AMQP.URL != "" {
		amqpPub, err := events.NewAMQP(cfg.AMQP)
		if err != nil {
			return fmt.Errorf("initialize event publisher: %w", err)
		}
		defer amqpPub.Close()
		publisher = amqpPub
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	promMiddleware, err := middleware.NewPrometheusMiddleware(reg)
	if err != nil {
		return fmt.Errorf("register http metrics: %w", err)
	}
	svcMetrics, err := service.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("register service metrics: %w", err)
	}

	docSvc := service.NewDocumentService(objStore, docRepo,
		service.WithPublisher(publisher),
		service.WithLogger(log),
		service.WithMetrics(svcMetrics),
		service.WithKeyPrefix(cfg.Storage.Prefix),
	)

	app := fiber.New(fiber.Config{
		BodyLimit:    cfg.UploadMaxBytes,
		ErrorHandler: handlers.ErrorHandler(log),
	})

	app.Use(otelfiber.Middleware(otelfiber.WithNext(func(c *fiber.Ctx) bool {
		return c.Path() == "/metrics"
	})))
	// RequestID middleware adds/propagates X-Request-ID and stores it in context
	app.Use(middleware.RequestID())
	app.Use(middleware.Logger(log))
	app.Use(promMiddleware.Handler())

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))

	handlers.RegisterRoutes(app, pinger, docSvc, log, time.Duration(cfg.DownloadURLTTLSec)*time.Second)

	// Swagger UI with dynamic host and scheme
	app.Get("/swagger/*", func(c *fiber.Ctx) error {
		scheme := c.Protocol()
		if proto := c.Get("X-Forwarded-Proto"); proto != "" {
			scheme = strings.Split(proto, ",")[0]
		}

		docs.SwaggerInfo.Host = c.Get("Host")
		docs.SwaggerInfo.Schemes = []string{scheme}

		return swagger.HandlerDefault(c)
	})

	listenErr := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"port":           cfg.Port,
			"db_driver":      cfg.Database.Driver,
			"storage_driver": cfg.Storage.Driver,
		}).Info("server starting")
		listenErr <- app.Listen(":" + cfg.Port)
	}()

	select {
	case err := <-listenErr:
		return fmt.Errorf("start server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeoutSec)*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("shutdown server: %w", err)
	}
	return nil
}

// openRepository connects the metadata backend selected by DB_DRIVER. The returned
// Pinger backs the readiness check.
func openRepository(ctx context.Context, cfg *config.AppConfig, log logrus.FieldLogger) (repository.DocumentRepository, handlers.Pinger, func(), error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		// PostgreSQL connection with pooling via database/sql
		db, err := database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		if cfg.Database.AutoMigrate {
			dsn, err := database.BuildPostgresDSN(cfg.Database)
			if err == nil {
				err = migration.EnsureMigrated(ctx, dsn, log, cfg.Database.Host)
			}
			if err != nil {
				db.Close()
				return nil, nil, nil, err
			}
		}
		return postgres.NewDocumentPostgres(db), db, func() { db.Close() }, nil

	case config.DriverDynamoDB:
		repo, err := dynamodb.New(ctx, cfg.DynamoDB)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect to dynamodb: %w", err)
		}
		return repo, repo, func() {}, nil

	default:
		return nil, nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}
