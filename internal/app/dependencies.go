package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/order-lifecycle/internal/health"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/storage/memory"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/order-lifecycle/internal/storage/redis"
)

// runtimeDependencies - хранилища, выбранные конфигурацией.
type runtimeDependencies struct {
	store           domain.UnitOfWork
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository
	storageChecker  healthcheck.Checker

	// idempotencyChecker задан, только если ключи лежат отдельно от основного хранилища.
	idempotencyChecker healthcheck.Checker

	// expiresItself: backend сам удаляет просроченные ключи, cleanup worker не нужен.
	expiresItself bool
	closeFn       func() error
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	var (
		deps *runtimeDependencies
		pg   *postgres.Store
	)

	switch cfg.StorageDriver {
	case StorageDriverMemory:
		deps = &runtimeDependencies{
			store:          memory.NewStore(),
			outboxRepo:     memory.NewOutboxRepository(),
			storageChecker: healthcheck.NewSimpleChecker("storage", func(context.Context) error { return nil }),
			closeFn:        func() error { return nil },
		}
		logger.Info("using in-memory storage")
	case StorageDriverPostgres:
		dsn := strings.TrimSpace(cfg.PostgresDSN)
		if dsn == "" {
			return nil, errors.New("postgres dsn is required for postgres storage driver")
		}

		store, err := postgres.Open(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}

		pg = store
		deps = &runtimeDependencies{
			store:          store,
			outboxRepo:     postgres.NewOutboxRepository(store),
			storageChecker: healthcheck.NewSimpleChecker("storage", store.Ping),
			closeFn:        store.Close,
		}
		logger.Info("using postgres storage")
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}

	if err := attachIdempotencyStore(ctx, cfg, deps, pg, logger); err != nil {
		_ = deps.closeFn()
		return nil, err
	}
	return deps, nil
}

func attachIdempotencyStore(ctx context.Context, cfg Config, deps *runtimeDependencies, pg *postgres.Store, logger *log.Entry) error {
	switch cfg.idempotencyStore() {
	case IdempotencyStoreMemory:
		deps.idempotencyRepo = memory.NewIdempotencyRepository()
	case IdempotencyStorePostgres:
		if pg == nil {
			return errors.New("postgres idempotency store requires postgres storage driver")
		}
		deps.idempotencyRepo = postgres.NewIdempotencyRepository(pg)
	case IdempotencyStoreRedis:
		addr := strings.TrimSpace(cfg.RedisAddr)
		if addr == "" {
			return errors.New("redis address is required for redis idempotency store")
		}
		client, err := redisstore.Open(ctx, addr, cfg.RedisPassword)
		if err != nil {
			return fmt.Errorf("open redis: %w", err)
		}
		repo := redisstore.NewIdempotencyRepository(client)
		deps.idempotencyRepo = repo
		deps.idempotencyChecker = healthcheck.NewSimpleChecker("redis", repo.Ping)
		deps.expiresItself = true

		closeStorage := deps.closeFn
		deps.closeFn = func() error {
			return errors.Join(client.Close(), closeStorage())
		}
		logger.WithField("addr", addr).Info("using redis idempotency store")
	default:
		return fmt.Errorf("unsupported idempotency store %q", cfg.IdempotencyStore)
	}
	return nil
}
