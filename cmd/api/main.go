package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/kursadbilgin/notification-sync/internal/cache"
	"github.com/kursadbilgin/notification-sync/internal/config"
	"github.com/kursadbilgin/notification-sync/internal/domain"
	"github.com/kursadbilgin/notification-sync/internal/gateway"
	"github.com/kursadbilgin/notification-sync/internal/handler"
	"github.com/kursadbilgin/notification-sync/internal/infra/postgresql"
	"github.com/kursadbilgin/notification-sync/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/notification-sync/internal/infra/redis"
	"github.com/kursadbilgin/notification-sync/internal/observability"
	"github.com/kursadbilgin/notification-sync/internal/push"
	"github.com/kursadbilgin/notification-sync/internal/queue"
	"github.com/kursadbilgin/notification-sync/internal/repository"
	"github.com/kursadbilgin/notification-sync/internal/selection"
	"github.com/kursadbilgin/notification-sync/internal/service"
	"github.com/kursadbilgin/notification-sync/internal/session"
	"github.com/kursadbilgin/notification-sync/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout  = 10 * time.Second
	consumerPrefetch = 16
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	logger, err := observability.NewLogger(cfg.LogLevel, zap.String("instanceId", cfg.InstanceID))
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("notification-sync stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("notification-sync stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	instanceID := cfg.InstanceID

	metrics := observability.NewMetrics()
	guard := session.NewGuard(logger.Named("session"))

	gw, err := gateway.NewHTTPGateway(cfg.NotificationAPIURL, guard.Token, cfg.GatewayTimeout())
	if err != nil {
		return fmt.Errorf("gateway initialization failed: %w", err)
	}

	health := handler.HealthDeps{Session: guard, Metrics: metrics.Handler()}
	cacheOpts := cache.Options{
		ListStaleAfter:  cfg.ListStaleAfter(),
		CountStaleAfter: cfg.CountStaleAfter(),
		MaxAttempts:     cfg.FetchMaxAttempts,
		Metrics:         metrics,
	}
	mutationDeps := service.MutationDeps{Metrics: metrics, InstanceID: instanceID, Tokens: guard.Token}

	var journal repository.MutationLogRepository
	if cfg.DatabaseDSN != "" {
		db, err := postgresql.NewPostgres(cfg.DatabaseDSN, logger.Named("postgres"))
		if err != nil {
			return fmt.Errorf("postgres initialization failed: %w", err)
		}
		if err := migrations.Migrate(db); err != nil {
			return fmt.Errorf("database migrations failed: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("postgres underlying db init failed: %w", err)
		}
		defer sqlDB.Close()

		journal = repository.NewGormMutationLogRepo(db)
		mutationDeps.Journal = journal
		health.DB = sqlDB
	}

	if cfg.RedisURL != "" {
		rdb, err := infraredis.NewRedis(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis initialization failed: %w", err)
		}
		defer rdb.Close()

		store, err := infraredis.NewSnapshotStore(rdb, 0, logger.Named("snapshots"))
		if err != nil {
			return err
		}
		limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.GatewayRateLimitPerSec)
		if err != nil {
			return err
		}
		cacheOpts.Store = store
		cacheOpts.Limiter = limiter
		health.Redis = rdb
	}

	var (
		rabbit   *queue.RabbitMQ
		consumer *queue.RabbitMQConsumer
	)
	if cfg.RabbitMQURL != "" {
		rabbit, err = queue.NewRabbitMQ(cfg.RabbitMQURL, logger.Named("rabbitmq"))
		if err != nil {
			return fmt.Errorf("rabbitmq initialization failed: %w", err)
		}
		defer rabbit.Close()

		publisher := queue.NewRabbitMQPublisher(rabbit)
		defer publisher.Close()
		mutationDeps.Publisher = publisher

		consumer = queue.NewRabbitMQConsumer(rabbit, instanceID, consumerPrefetch, logger.Named("consumer"))
		defer consumer.Close()
	}

	c := cache.New(gw, guard, cacheOpts, logger.Named("cache"))
	defer c.Close()

	mutations, err := service.NewMutationService(c, gw, guard, mutationDeps, logger.Named("mutations"))
	if err != nil {
		return err
	}
	defer mutations.Wait()

	queries, err := service.NewQueryService(c, 0)
	if err != nil {
		return err
	}
	opener, err := service.NewOpener(mutations, logger.Named("opener"))
	if err != nil {
		return err
	}
	dropdown := selection.NewDropdown(c, domain.Filters{}, cfg.PreviewLimit, logger.Named("dropdown"))
	defer dropdown.Close()

	unbind := service.BindSession(guard, c, logger.Named("session"))
	defer unbind()

	poller, err := service.NewPoller(c, guard, cfg.CountPollInterval(), logger.Named("poller"))
	if err != nil {
		return err
	}
	listener, err := service.NewInvalidationListener(c, guard, instanceID, logger.Named("invalidation"))
	if err != nil {
		return err
	}

	var pushClient *push.Client
	if cfg.NotificationWSURL != "" {
		pushClient, err = push.NewClient(cfg.NotificationWSURL, guard.Token, logger.Named("push"))
		if err != nil {
			return fmt.Errorf("push client initialization failed: %w", err)
		}
	}

	app := fiber.New(fiber.Config{
		AppName:               "notification-sync",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(observability.CorrelationMiddleware())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, health)
	if err := handler.RegisterSessionRoutes(app, guard); err != nil {
		return err
	}
	if err := handler.RegisterNotificationRoutes(app, handler.NotificationDeps{
		Queries:      queries,
		Mutations:    mutations,
		Opener:       opener,
		Dropdown:     dropdown,
		PreviewLimit: cfg.PreviewLimit,
	}); err != nil {
		return err
	}
	if journal != nil {
		if err := handler.RegisterMutationLogRoutes(app, journal, guard); err != nil {
			return err
		}
	}

	if cfg.SessionToken != "" {
		if _, err := guard.SetToken(cfg.SessionToken); err != nil {
			logger.Warn("configured session token rejected, waiting for PUT /v1/session", zap.Error(err))
		}
	} else {
		guard.Set(session.Unauthenticated())
	}

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return poller.Start(groupCtx)
	})

	if consumer != nil {
		g.Go(func() error {
			return service.RunPerUser(groupCtx, guard, "invalidation-consumer", func(ctx context.Context, userID string) error {
				return consumer.Consume(ctx, userID, listener.Handle)
			}, logger)
		})
	}

	if pushClient != nil {
		g.Go(func() error {
			return service.RunPerUser(groupCtx, guard, "push-client", func(ctx context.Context, _ string) error {
				return pushClient.Run(ctx, listener.HandlePush)
			}, logger)
		})
	}

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.APIPort)
		logger.Info("notification-sync api started", zap.String("addr", addr))
		if err := app.Listen(addr); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.Warn("http server shutdown failed", zap.Error(err))
		}
		return nil
	})

	return g.Wait()
}
