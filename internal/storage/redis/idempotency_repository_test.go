package redis

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
)

func openRedisRepositoryForIntegrationTest(t *testing.T) *IdempotencyRepository {
	t.Helper()

	addr := strings.TrimSpace(os.Getenv("LIFECYCLE_REDIS_TEST_ADDR"))
	if addr == "" {
		addr = strings.TrimSpace(os.Getenv("LIFECYCLE_REDIS_ADDR"))
	}
	if addr == "" {
		t.Skip("redis integration test skipped: LIFECYCLE_REDIS_TEST_ADDR is not set")
	}

	client, err := Open(context.Background(), addr, os.Getenv("LIFECYCLE_REDIS_PASSWORD"))
	if err != nil {
		t.Skipf("redis integration test skipped: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	return NewIdempotencyRepository(client, WithKeyPrefix("lifecycle-test:"+uuid.NewString()+":"))
}

func TestDecodeRecord(t *testing.T) {
	now := time.Date(2026, time.October, 15, 10, 0, 0, 123, time.UTC)

	record, err := decodeRecord("actor:key", map[string]string{
		"request_hash":  "hash",
		"status":        "done",
		"response_body": `{"ok":true}`,
		"http_status":   "201",
		"ttl_at":        formatTime(now.Add(time.Hour)),
		"created_at":    formatTime(now),
		"updated_at":    formatTime(now),
	})
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusDone, record.Status)
	require.Equal(t, 201, record.HTTPStatus)
	require.JSONEq(t, `{"ok":true}`, string(record.ResponseBody))
	require.True(t, record.TTLAt.Equal(now.Add(time.Hour)))

	_, err = decodeRecord("actor:key", map[string]string{"status": "weird"})
	require.Error(t, err)

	_, err = decodeRecord("actor:key", map[string]string{"status": "processing", "ttl_at": "yesterday"})
	require.ErrorContains(t, err, "ttl_at")
}

func TestWithKeyPrefix_IgnoresBlank(t *testing.T) {
	repo := NewIdempotencyRepository(nil, WithKeyPrefix("  "))
	require.Equal(t, defaultKeyPrefix+"k", repo.redisKey("k"))

	repo = NewIdempotencyRepository(nil, WithKeyPrefix("svc:"))
	require.Equal(t, "svc:k", repo.redisKey("k"))
}

func TestIdempotencyRepository_RedisLifecycle(t *testing.T) {
	repo := openRedisRepositoryForIntegrationTest(t)
	ctx := context.Background()
	ttl := time.Now().UTC().Add(time.Hour)

	created, err := repo.CreateProcessing(ctx, "customer-1:key-1", "hash-a", ttl)
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusProcessing, created.Status)

	_, err = repo.CreateProcessing(ctx, "customer-1:key-1", "hash-a", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)

	_, err = repo.CreateProcessing(ctx, "customer-1:key-1", "hash-b", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)

	require.NoError(t, repo.MarkDone(ctx, "customer-1:key-1", []byte(`{"success":true}`), 200))

	got, err := repo.Get(ctx, "customer-1:key-1")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusDone, got.Status)
	require.Equal(t, 200, got.HTTPStatus)
	require.Equal(t, `{"success":true}`, string(got.ResponseBody))

	require.NoError(t, repo.Release(ctx, "customer-1:key-1"))
	require.ErrorIs(t, repo.Release(ctx, "customer-1:key-1"), domain.ErrIdempotencyKeyNotFound)
	require.ErrorIs(t, repo.MarkDone(ctx, "customer-1:key-1", nil, 200), domain.ErrIdempotencyKeyNotFound)

	_, err = repo.CreateProcessing(ctx, "customer-1:key-1", "hash-b", ttl)
	require.NoError(t, err, "released key can be claimed again")
}

func TestIdempotencyRepository_RedisExpiredKeyIsGone(t *testing.T) {
	repo := openRedisRepositoryForIntegrationTest(t)
	ctx := context.Background()

	_, err := repo.CreateProcessing(ctx, "customer-1:expired", "hash", time.Now().UTC().Add(-time.Second))
	require.NoError(t, err)

	_, err = repo.Get(ctx, "customer-1:expired")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)

	removed, err := repo.DeleteExpired(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Zero(t, removed)
}
