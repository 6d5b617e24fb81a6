package app

import "time"

const (
	// StorageDriverMemory хранит данные в памяти процесса.
	StorageDriverMemory   = "memory"
	// StorageDriverPostgres хранит данные в PostgreSQL.
	StorageDriverPostgres = "postgres"
)

const (
	// IdempotencyStoreDefault использует то же хранилище, что и основной драйвер.
	IdempotencyStoreDefault  = ""
	IdempotencyStoreMemory   = "memory"
	IdempotencyStorePostgres = "postgres"
	IdempotencyStoreRedis    = "redis"
)

// Config описывает настройки запуска сервиса.
// Структура остаётся сравнимой, поэтому списки хранятся строками через запятую.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	AllowMockIntegrations bool
	KafkaBrokers          string
	StripeAPIKey          string
	StripeAccountID       string
	Currency              string
	SeedDemoData          bool

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	OutboxMaxPending   int

	IdempotencyStore            string
	RedisAddr                   string
	RedisPassword               string
	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	RefundReconcileInterval  time.Duration
	RefundReconcileBatchSize int
	RefundMaxAttempts        int

	SLAAutoCancelEnabled   bool
	SLAAutoCancelInterval  time.Duration
	SLAAutoCancelThreshold time.Duration
}

// DefaultConfig возвращает настройки для локального запуска.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		Currency: "QAR",

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   100 * time.Millisecond,
		OutboxMaxPending:   1000,

		IdempotencyStore:            IdempotencyStoreDefault,
		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,

		RefundReconcileInterval:  30 * time.Second,
		RefundReconcileBatchSize: 50,
		RefundMaxAttempts:        5,

		SLAAutoCancelEnabled:   true,
		SLAAutoCancelInterval:  15 * time.Minute,
		SLAAutoCancelThreshold: 72 * time.Hour,
	}
}

// idempotencyStore возвращает фактический backend ключей идемпотентности.
func (c Config) idempotencyStore() string {
	if c.IdempotencyStore == IdempotencyStoreDefault {
		return c.StorageDriver
	}
	return c.IdempotencyStore
}
