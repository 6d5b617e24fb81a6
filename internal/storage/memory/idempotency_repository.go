package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
)

// IdempotencyOption настраивает in-memory журнал ответов.
type IdempotencyOption func(*replayLedger)

// WithIdempotencyClock подменяет часы, по которым истекают ключи.
func WithIdempotencyClock(now func() time.Time) IdempotencyOption {
	return func(l *replayLedger) {
		if now != nil {
			l.now = now
		}
	}
}

// replayLedger хранит ответы на мутации по ключу области участника.
// Живёт отдельно от Store: запись ключа не должна откатываться вместе с бизнес-транзакцией.
type replayLedger struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]domain.IdempotencyRecord
}

// NewIdempotencyRepository создаёт in-memory реализацию IdempotencyRepository.
func NewIdempotencyRepository(opts ...IdempotencyOption) domain.IdempotencyRepository {
	l := &replayLedger{
		now:     func() time.Time { return time.Now().UTC() },
		entries: make(map[string]domain.IdempotencyRecord),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func scopeKey(raw string) (string, error) {
	key := strings.TrimSpace(raw)
	if key == "" {
		return "", domain.ErrIdempotencyKeyRequired
	}
	return key, nil
}

// CreateProcessing занимает ключ. Живой ключ с другим отпечатком запроса даёт ErrIdempotencyHashMismatch,
// с тем же отпечатком - ErrIdempotencyKeyAlreadyExists. Истёкший ключ занимается заново.
func (l *replayLedger) CreateProcessing(_ context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key, err := scopeKey(key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	requestHash = strings.TrimSpace(requestHash)
	if requestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if prior, ok := l.entries[key]; ok && !prior.Expired(now) {
		if prior.RequestHash != requestHash {
			return copyRecord(prior), domain.ErrIdempotencyHashMismatch
		}
		return copyRecord(prior), domain.ErrIdempotencyKeyAlreadyExists
	}
	if ttlAt.IsZero() {
		ttlAt = now.Add(domain.DefaultIdempotencyTTL)
	}

	claim := domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	l.entries[key] = claim
	return copyRecord(claim), nil
}

func (l *replayLedger) Get(_ context.Context, key string) (domain.IdempotencyRecord, error) {
	key, err := scopeKey(key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	record, ok := l.entries[key]
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return copyRecord(record), nil
}

// MarkDone сохраняет ответ, который будет отдан повторам того же участника.
func (l *replayLedger) MarkDone(_ context.Context, key string, responseBody []byte, httpStatus int) error {
	key, err := scopeKey(key)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	record, ok := l.entries[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	record.Status = domain.IdempotencyStatusDone
	record.ResponseBody = append([]byte(nil), responseBody...)
	record.HTTPStatus = httpStatus
	record.UpdatedAt = l.now()
	l.entries[key] = record
	return nil
}

func (l *replayLedger) Release(_ context.Context, key string) error {
	key, err := scopeKey(key)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[key]; !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	delete(l.entries, key)
	return nil
}

// DeleteExpired удаляет до limit ключей, истёкших к before (limit <= 0 - без ограничения).
func (l *replayLedger) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if before.IsZero() {
		before = l.now()
	}
	removed := 0
	for key, record := range l.entries {
		if limit > 0 && removed >= limit {
			break
		}
		if record.Expired(before) {
			delete(l.entries, key)
			removed++
		}
	}
	return removed, nil
}

func copyRecord(src domain.IdempotencyRecord) domain.IdempotencyRecord {
	dst := src
	dst.ResponseBody = append([]byte(nil), src.ResponseBody...)
	return dst
}

var _ domain.IdempotencyRepository = (*replayLedger)(nil)
