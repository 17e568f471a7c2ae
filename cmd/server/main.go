package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	grpclib "google.golang.org/grpc"

	grpcadapter "github.com/simaogato/guildbank-backend/internal/adapter/grpc"
	"github.com/simaogato/guildbank-backend/internal/adapter/cache"
	"github.com/simaogato/guildbank-backend/internal/adapter/events/kafka"
	"github.com/simaogato/guildbank-backend/internal/adapter/repository/memory"
	"github.com/simaogato/guildbank-backend/internal/adapter/repository/postgres"
	"github.com/simaogato/guildbank-backend/internal/config"
	"github.com/simaogato/guildbank-backend/internal/domain"
	"github.com/simaogato/guildbank-backend/internal/usecase/balance"
	"github.com/simaogato/guildbank-backend/internal/usecase/history"
	"github.com/simaogato/guildbank-backend/internal/usecase/transfer"
	"github.com/simaogato/guildbank-backend/internal/usecase/validation"
)

// ledger bundles the write and read sides of whichever backend is configured
type ledger struct {
	store transfer.Store
	audit domain.AuditReader
	close func() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := config.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	// 1. Setup Ledger Store
	ledgerBackend, err := setupLedger(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to set up ledger store", zap.Error(err))
	}
	defer ledgerBackend.close()

	// 2. Setup Balance Cache
	balanceCache, closeCache, err := setupCache(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to set up balance cache", zap.Error(err))
	}
	defer closeCache()

	// 3. Initialize Services (Use Cases)
	guard := validation.NewGuard(validation.Config{
		MinTransfer:   cfg.MinTransfer,
		MaxTransfer:   cfg.MaxTransfer,
		MaxAdjustment: cfg.MaxAdjustment,
		MaxMemoLength: cfg.MaxMemoLength,
	})

	engineCfg := transfer.Config{
		InitialGrant: cfg.InitialGrant,
		Retry: transfer.RetryPolicy{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
		},
	}

	var engineOpts []transfer.Option
	if len(cfg.KafkaBrokers) > 0 {
		publisher := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		defer publisher.Close()
		engineOpts = append(engineOpts, transfer.WithPublisher(publisher))
		logger.Info("publishing transaction events", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}

	engine := transfer.NewEngine(ledgerBackend.store, balanceCache, guard, engineCfg, logger.Named("engine"), engineOpts...)
	balanceService := balance.NewBalanceService(ledgerBackend.store, balanceCache, engine, cfg.CacheTTL, logger.Named("balance"))
	historyService := history.NewHistoryService(ledgerBackend.audit)

	// 4. Start gRPC Server
	if cfg.UsesDefaultToken() {
		logger.Warn("API_TOKEN not set, using the development token")
	}

	grpcServer := grpclib.NewServer(
		grpclib.ChainUnaryInterceptor(
			grpcadapter.LoggingInterceptor(logger.Named("grpc")),
			grpcadapter.AuthInterceptor(cfg.APIToken),
		),
	)
	grpcadapter.RegisterGuildBankServer(grpcServer, grpcadapter.NewServer(engine, balanceService, historyService))

	lis, err := net.Listen("tcp", cfg.GRPCPort)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("addr", cfg.GRPCPort), zap.Error(err))
	}

	// Start server in a goroutine
	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCPort), zap.String("ledger", cfg.LedgerBackend))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Fatal("failed to serve gRPC server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	waitForShutdown(grpcServer, logger)
}

// setupLedger connects the configured backend. Postgres is retried with backoff while the database starts.
func setupLedger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*ledger, error) {
	if cfg.LedgerBackend == config.BackendMemory {
		logger.Warn("using in-memory ledger, balances are lost on restart")
		store := memory.NewStore(memory.WithLockTimeout(cfg.LockTimeout))
		return &ledger{store: store, audit: store, close: func() error { return nil }}, nil
	}

	var db *postgres.DB
	connect := func() error {
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		var err error
		db, err = postgres.NewDB(connectCtx, cfg.DBConnStr, postgres.PoolConfig{
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxOpenConns,
			ConnMaxLifetime: 30 * time.Minute,
		})
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 8), ctx)
	err := backoff.RetryNotify(connect, policy, func(err error, wait time.Duration) {
		logger.Warn("database not ready, retrying", zap.Duration("wait", wait), zap.Error(err))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := postgres.Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("database migrations applied")

	return &ledger{
		store: postgres.NewLedgerStore(db, cfg.LockTimeout),
		audit: postgres.NewTransactionRepository(db),
		close: db.Close,
	}, nil
}

// setupCache always keeps a bounded local cache. With REDIS_ADDR set, Redis becomes the shared
// primary and the local cache only serves while Redis is failing.
func setupCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (domain.BalanceCache, func() error, error) {
	local, err := cache.NewMemoryCache(cfg.CacheLocalSize)
	if err != nil {
		return nil, nil, err
	}

	if cfg.RedisAddr == "" {
		return local, func() error { return nil }, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		// Not fatal: the breaker keeps serving from the local cache until Redis answers.
		logger.Warn("redis unreachable at startup", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}

	fallback := cache.NewFallbackCache(cache.NewRedisCache(client), local, cache.DefaultBreakerConfig(), logger.Named("cache"))
	return fallback, client.Close, nil
}

// waitForShutdown waits for SIGTERM or SIGINT and gracefully shuts down the server
func waitForShutdown(grpcServer *grpclib.Server, logger *zap.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	logger.Info("shutting down gracefully", zap.String("signal", sig.String()))

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")
}
