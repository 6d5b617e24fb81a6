package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
)

const (
	defaultKeyPrefix   = "lifecycle:idempotency:"
	defaultDialTimeout = 5 * time.Second
	opTimeout          = 3 * time.Second
)

// Ключ занимается только если его ещё нет; истечение делегировано самому Redis.
var createScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1],
	'request_hash', ARGV[1],
	'status', ARGV[2],
	'ttl_at', ARGV[3],
	'created_at', ARGV[4],
	'updated_at', ARGV[4])
redis.call('PEXPIREAT', KEYS[1], ARGV[5])
return 1
`)

var markDoneScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1],
	'status', ARGV[1],
	'response_body', ARGV[2],
	'http_status', ARGV[3],
	'updated_at', ARGV[4])
return 1
`)

// Open создаёт клиента и проверяет доступность Redis.
func Open(ctx context.Context, addr, password string) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  defaultDialTimeout,
		ReadTimeout:  opTimeout,
		WriteTimeout: opTimeout,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	pingCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Option настраивает IdempotencyRepository.
type Option func(*IdempotencyRepository)

// WithKeyPrefix задаёт префикс ключей, чтобы несколько окружений делили один Redis.
func WithKeyPrefix(prefix string) Option {
	return func(r *IdempotencyRepository) {
		if strings.TrimSpace(prefix) != "" {
			r.prefix = prefix
		}
	}
}

// IdempotencyRepository хранит ключи идемпотентности в хешах Redis с PEXPIREAT.
type IdempotencyRepository struct {
	client goredis.UniversalClient
	prefix string
}

// NewIdempotencyRepository создаёт Redis-реализацию IdempotencyRepository.
func NewIdempotencyRepository(client goredis.UniversalClient, opts ...Option) *IdempotencyRepository {
	r := &IdempotencyRepository{client: client, prefix: defaultKeyPrefix}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *IdempotencyRepository) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	requestHash = strings.TrimSpace(requestHash)

	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}
	if requestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := time.Now().UTC()
	if ttlAt.IsZero() {
		ttlAt = now.Add(domain.DefaultIdempotencyTTL)
	}
	ttlAt = ttlAt.UTC()

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	created, err := createScript.Run(opCtx, r.client, []string{r.redisKey(key)},
		requestHash,
		string(domain.IdempotencyStatusProcessing),
		formatTime(ttlAt),
		formatTime(now),
		ttlAt.UnixMilli(),
	).Int()
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("create idempotency record: %w", err)
	}

	if created == 0 {
		existing, getErr := r.Get(ctx, key)
		if getErr != nil {
			return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
		}
		if existing.RequestHash != requestHash {
			return existing, domain.ErrIdempotencyHashMismatch
		}
		return existing, domain.ErrIdempotencyKeyAlreadyExists
	}

	return domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (r *IdempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	fields, err := r.client.HGetAll(opCtx, r.redisKey(key)).Result()
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency record: %w", err)
	}
	if len(fields) == 0 {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}

	return decodeRecord(key, fields)
}

func (r *IdempotencyRepository) MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	updated, err := markDoneScript.Run(opCtx, r.client, []string{r.redisKey(key)},
		string(domain.IdempotencyStatusDone),
		string(responseBody),
		httpStatus,
		formatTime(time.Now().UTC()),
	).Int()
	if err != nil {
		return fmt.Errorf("mark idempotency record as done: %w", err)
	}
	if updated == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

func (r *IdempotencyRepository) Release(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	removed, err := r.client.Del(opCtx, r.redisKey(key)).Result()
	if err != nil {
		return fmt.Errorf("release idempotency record: %w", err)
	}
	if removed == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

// DeleteExpired ничего не делает: Redis сам удаляет ключи по PEXPIREAT.
func (r *IdempotencyRepository) DeleteExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

// Ping проверяет доступность Redis для readiness-проверки.
func (r *IdempotencyRepository) Ping(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return r.client.Ping(opCtx).Err()
}

func (r *IdempotencyRepository) redisKey(key string) string {
	return r.prefix + key
}

func decodeRecord(key string, fields map[string]string) (domain.IdempotencyRecord, error) {
	record := domain.IdempotencyRecord{
		Key:         key,
		RequestHash: fields["request_hash"],
		Status:      domain.IdempotencyStatus(fields["status"]),
	}
	if !record.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("idempotency record %s has unknown status %q", key, fields["status"])
	}
	if body, ok := fields["response_body"]; ok {
		record.ResponseBody = []byte(body)
	}
	if raw := fields["http_status"]; raw != "" {
		status, err := strconv.Atoi(raw)
		if err != nil {
			return domain.IdempotencyRecord{}, fmt.Errorf("parse http_status of %s: %w", key, err)
		}
		record.HTTPStatus = status
	}

	var errs []error
	record.TTLAt, errs = parseTimeField(fields, "ttl_at", errs)
	record.CreatedAt, errs = parseTimeField(fields, "created_at", errs)
	record.UpdatedAt, errs = parseTimeField(fields, "updated_at", errs)
	if err := errors.Join(errs...); err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("decode idempotency record %s: %w", key, err)
	}
	return record, nil
}

func parseTimeField(fields map[string]string, name string, errs []error) (time.Time, []error) {
	t, err := time.Parse(time.RFC3339Nano, fields[name])
	if err != nil {
		return time.Time{}, append(errs, fmt.Errorf("%s: %w", name, err))
	}
	return t.UTC(), errs
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
