/**
 * @description
 * This is the main entry point for the ledger-service. It loads configuration,
 * opens the store (PostgreSQL or the in-memory store), connects the optional
 * RabbitMQ and Redis backends, builds the application service, starts the
 * repayment scheduler and the gateway event consumer, and serves HTTP until
 * SIGINT/SIGTERM.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver and connection pool.
 * - github.com/joho/godotenv: local .env loading for development.
 * - github.com/redis/go-redis/v9: bank list cache and withdrawal rate limiting.
 * - internal/api, internal/app, internal/config, internal/store: service packages.
 * - pkg/paystackclient, pkg/rabbitmq: Paystack and broker clients.
 */

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

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/transfa/ledger-service/internal/api"
	"github.com/transfa/ledger-service/internal/app"
	"github.com/transfa/ledger-service/internal/config"
	"github.com/transfa/ledger-service/internal/logging"
	"github.com/transfa/ledger-service/internal/store"
	"github.com/transfa/ledger-service/pkg/paystackclient"
	rmrabbit "github.com/transfa/ledger-service/pkg/rabbitmq"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logrus.WithError(err).Fatal("config load failed")
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	log := logging.Component(logger, "bootstrap")
	log.WithFields(logrus.Fields{"port": cfg.ServerPort, "store": cfg.StoreDriver}).Info("starting ledger-service")

	if cfg.PaystackSecretKey == "" {
		log.Warn("PAYSTACK_SECRET_KEY not set; gateway calls will be rejected upstream")
	}

	repo, closeStore, err := openStore(context.Background(), cfg, log)
	if err != nil {
		log.WithError(err).Fatal("store initialization failed")
	}
	defer closeStore()

	// Publishing falls back to a no-op when the broker is unreachable.
	var publisher rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.WithError(err).Warn("rabbitmq producer unavailable; using fallback")
	} else {
		defer rabbitProducer.Close()
		publisher = rabbitProducer
		log.Info("rabbitmq producer connected")
	}

	var cache redis.UniversalClient
	if cfg.RedisURL == "" {
		log.Warn("REDIS_URL not set; bank cache and withdrawal rate limiting disabled")
	} else if redisClient, err := connectRedis(cfg.RedisURL); err != nil {
		log.WithError(err).Warn("redis unavailable; bank cache and withdrawal rate limiting disabled")
	} else {
		defer redisClient.Close()
		cache = redisClient
		log.Info("redis connected")
	}

	paystack := paystackclient.NewClient(cfg.PaystackBaseURL, cfg.PaystackSecretKey, cfg.GatewayTimeout())
	banks := app.NewBankDirectory(paystack, cache, cfg.RedisKeyPrefix, cfg.BankCacheTTL(), logger)

	var limiter app.RateLimiter
	if cache != nil {
		limiter = app.NewRedisRateLimiter(cache, cfg.RedisKeyPrefix)
	}

	ledgerService := app.NewService(repo, paystack, banks, limiter, publisher, app.Options{
		GL:                   cfg.GLAccounts(),
		LoanTerms:            cfg.LoanTerms(),
		TransferCodeTTL:      cfg.TransferCodeTTL(),
		WithdrawalRateLimit:  cfg.WithdrawalRateLimitPerMinute,
		LedgerEventsExchange: cfg.LedgerEventsExchange,
		CallbackURL:          cfg.PaystackCallbackURL,
	}, logger)

	jobs := app.NewJobs(repo, ledgerService, logger)
	scheduler := app.NewScheduler(jobs, logger, cfg.LoanRepaymentSchedule)
	if err := scheduler.Start(); err != nil {
		log.WithError(err).Fatal("scheduler start failed")
	}

	// Webhooks are queued on the broker when a consumer is running, and
	// applied inline otherwise.
	var dispatchPublisher rmrabbit.Publisher
	rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.WithError(err).Warn("rabbitmq consumer unavailable; gateway events will be handled inline")
	} else {
		defer rabbitConsumer.Close()
		consumer := app.NewGatewayEventConsumer(ledgerService, logger)
		if err := rabbitConsumer.ConsumeWithBindings(app.GatewayExchange, cfg.GatewayEventQueue, consumer.Bindings()); err != nil {
			log.WithError(err).Fatal("gateway event consumer start failed")
		}
		dispatchPublisher = publisher
	}
	dispatcher := app.NewGatewayEventDispatcher(dispatchPublisher, app.GatewayExchange, ledgerService)

	handlers := api.NewLedgerHandlers(ledgerService, jobs, logger)
	webhook := api.NewWebhookHandler(dispatcher, cfg.PaystackWebhookSecret, logger)
	router := api.LedgerRoutes(handlers, webhook, api.RouterConfig{
		InternalAPIKey: cfg.InternalAPIKey,
		JWKSURL:        cfg.JWKSURL,
		AllowedOrigins: cfg.AllowedOrigins(),
		Logger:         logger,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	httpLog := logging.Component(logger, "http")
	go func() {
		httpLog.WithField("addr", server.Addr).Info("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpLog.WithError(err).Fatal("server stopped unexpectedly")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	httpLog.Info("shutdown started")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		httpLog.WithError(err).Error("shutdown failed")
	}
	select {
	case <-scheduler.Stop().Done():
	case <-ctx.Done():
		httpLog.Warn("repayment job still running at shutdown")
	}
	httpLog.Info("shutdown complete")
}

// openStore returns the configured repository and a function releasing it.
func openStore(ctx context.Context, cfg config.Config, log *logrus.Entry) (store.Repository, func(), error) {
	if cfg.StoreDriver == "memory" {
		log.Warn("using in-memory store; data is lost on restart")
		return store.NewMemoryRepository(), func() {}, nil
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse database url: %w", err)
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	// Disable prepared statement caching to work behind PgBouncer.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := dbpool.Ping(pingCtx); err != nil {
		dbpool.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}
	if err := store.Migrate(ctx, dbpool); err != nil {
		dbpool.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info("database connected")
	return store.NewPostgresRepository(dbpool), dbpool.Close, nil
}

func connectRedis(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}
