package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/app"
)

const (
	envHTTPAddr    = "LIFECYCLE_HTTP_ADDR"
	envGRPCAddr    = "LIFECYCLE_GRPC_ADDR"
	envMetricsAddr = "LIFECYCLE_METRICS_ADDR"

	envStorageDriver       = "LIFECYCLE_STORAGE_DRIVER"
	envPostgresDSN         = "LIFECYCLE_POSTGRES_DSN"
	envPostgresAutoMigrate = "LIFECYCLE_POSTGRES_AUTO_MIGRATE"

	envAllowMockIntegrations = "LIFECYCLE_ALLOW_MOCK_INTEGRATIONS"
	envKafkaBrokers          = "LIFECYCLE_KAFKA_BROKERS"
	envStripeAPIKey          = "LIFECYCLE_STRIPE_API_KEY"
	envStripeAccountID       = "LIFECYCLE_STRIPE_ACCOUNT_ID"
	envCurrency              = "LIFECYCLE_CURRENCY"
	envSeedDemoData          = "LIFECYCLE_SEED_DEMO_DATA"

	envOutboxPollInterval = "LIFECYCLE_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize    = "LIFECYCLE_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts  = "LIFECYCLE_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay   = "LIFECYCLE_OUTBOX_RETRY_DELAY"
	envOutboxMaxPending   = "LIFECYCLE_OUTBOX_MAX_PENDING"

	envIdempotencyStore            = "LIFECYCLE_IDEMPOTENCY_STORE"
	envRedisAddr                   = "LIFECYCLE_REDIS_ADDR"
	envRedisPassword               = "LIFECYCLE_REDIS_PASSWORD"
	envIdempotencyTTL              = "LIFECYCLE_IDEMPOTENCY_TTL"
	envIdempotencyCleanupInterval  = "LIFECYCLE_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "LIFECYCLE_IDEMPOTENCY_CLEANUP_BATCH_SIZE"

	envRefundReconcileInterval  = "LIFECYCLE_REFUND_RECONCILE_INTERVAL"
	envRefundReconcileBatchSize = "LIFECYCLE_REFUND_RECONCILE_BATCH_SIZE"
	envRefundMaxAttempts        = "LIFECYCLE_REFUND_MAX_ATTEMPTS"

	envSLAAutoCancelEnabled   = "LIFECYCLE_SLA_AUTO_CANCEL_ENABLED"
	envSLAAutoCancelInterval  = "LIFECYCLE_SLA_AUTO_CANCEL_INTERVAL"
	envSLAAutoCancelThreshold = "LIFECYCLE_SLA_AUTO_CANCEL_THRESHOLD"

	envLogLevel = "LIFECYCLE_LOG_LEVEL"
)

type envLookup func(key string) (string, bool)

func positiveInt(v int) bool { return v > 0 }

func nonNegativeInt(v int) bool { return v >= 0 }

func positiveDuration(v time.Duration) bool { return v > 0 }

func nonNegativeDuration(v time.Duration) bool { return v >= 0 }

// envReader накапливает предупреждения; невалидное значение оставляет default.
type envReader struct {
	lookup   envLookup
	warnings []string
}

func (r *envReader) value(key string) (string, bool) {
	raw, ok := r.lookup(key)
	if !ok {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}

func (r *envReader) warn(key, raw string, err error) {
	r.warnings = append(r.warnings, fmt.Sprintf("%s=%q ignored: %v", key, raw, err))
}

func (r *envReader) str(key string, dst *string) {
	if raw, ok := r.value(key); ok {
		*dst = raw
	}
}

func (r *envReader) lower(key string, dst *string) {
	if raw, ok := r.value(key); ok {
		*dst = strings.ToLower(raw)
	}
}

func (r *envReader) boolean(key string, dst *bool) {
	raw, ok := r.value(key)
	if !ok {
		return
	}
	v, err := parseBool(raw)
	if err != nil {
		r.warn(key, raw, err)
		return
	}
	*dst = v
}

func (r *envReader) integer(key string, dst *int, valid func(int) bool, rule string) {
	raw, ok := r.value(key)
	if !ok {
		return
	}
	v, err := parseInt(raw, valid, rule)
	if err != nil {
		r.warn(key, raw, err)
		return
	}
	*dst = v
}

func (r *envReader) duration(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
	raw, ok := r.value(key)
	if !ok {
		return
	}
	v, err := parseDuration(raw, valid, rule)
	if err != nil {
		r.warn(key, raw, err)
		return
	}
	*dst = v
}

// readConfigFromEnv накладывает переменные окружения на app.DefaultConfig.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	r := &envReader{lookup: lookup}

	r.str(envHTTPAddr, &cfg.HTTPAddr)
	r.str(envGRPCAddr, &cfg.GRPCAddr)
	r.str(envMetricsAddr, &cfg.MetricsAddr)

	r.lower(envStorageDriver, &cfg.StorageDriver)
	r.str(envPostgresDSN, &cfg.PostgresDSN)
	r.boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)

	r.boolean(envAllowMockIntegrations, &cfg.AllowMockIntegrations)
	r.str(envKafkaBrokers, &cfg.KafkaBrokers)
	r.str(envStripeAPIKey, &cfg.StripeAPIKey)
	r.str(envStripeAccountID, &cfg.StripeAccountID)
	if raw, ok := r.value(envCurrency); ok {
		cfg.Currency = strings.ToUpper(raw)
	}
	r.boolean(envSeedDemoData, &cfg.SeedDemoData)

	r.duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	r.integer(envOutboxBatchSize, &cfg.OutboxBatchSize, positiveInt, "must be > 0")
	r.integer(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positiveInt, "must be > 0")
	r.duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDuration, "must be >= 0")
	r.integer(envOutboxMaxPending, &cfg.OutboxMaxPending, nonNegativeInt, "must be >= 0")

	r.lower(envIdempotencyStore, &cfg.IdempotencyStore)
	r.str(envRedisAddr, &cfg.RedisAddr)
	r.str(envRedisPassword, &cfg.RedisPassword)
	r.duration(envIdempotencyTTL, &cfg.IdempotencyTTL, positiveDuration, "must be > 0")
	r.duration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDuration, "must be > 0")
	r.integer(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize, positiveInt, "must be > 0")

	r.duration(envRefundReconcileInterval, &cfg.RefundReconcileInterval, positiveDuration, "must be > 0")
	r.integer(envRefundReconcileBatchSize, &cfg.RefundReconcileBatchSize, positiveInt, "must be > 0")
	r.integer(envRefundMaxAttempts, &cfg.RefundMaxAttempts, positiveInt, "must be > 0")

	r.boolean(envSLAAutoCancelEnabled, &cfg.SLAAutoCancelEnabled)
	r.duration(envSLAAutoCancelInterval, &cfg.SLAAutoCancelInterval, positiveDuration, "must be > 0")
	r.duration(envSLAAutoCancelThreshold, &cfg.SLAAutoCancelThreshold, positiveDuration, "must be > 0")

	return cfg, r.warnings
}

// readLogLevel возвращает уровень логирования; по умолчанию info.
func readLogLevel(lookup envLookup) (log.Level, []string) {
	r := &envReader{lookup: lookup}
	raw, ok := r.value(envLogLevel)
	if !ok {
		return log.InfoLevel, nil
	}
	level, err := log.ParseLevel(raw)
	if err != nil {
		r.warn(envLogLevel, raw, err)
		return log.InfoLevel, r.warnings
	}
	return level, nil
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "t", "true", "y", "yes", "on":
		return true, nil
	case "0", "f", "false", "n", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q: %w", raw, err)
	}
	if valid != nil && !valid(v) {
		return 0, fmt.Errorf("value %d %s", v, rule)
	}
	return v, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	if valid != nil && !valid(v) {
		return 0, fmt.Errorf("value %s %s", v, rule)
	}
	return v, nil
}

func osLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}
