package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
)

// deliveryState - колонка status таблицы outbox_messages.
type deliveryState string

const (
	deliveryPending deliveryState = "pending"
	deliverySent    deliveryState = "sent"
	deliveryFailed  deliveryState = "failed"
)

const (
	defaultRelayBatch = 100

	eventColumns = `id, aggregate_type, aggregate_id, event_type, payload`
)

// eventOutbox копит уведомления об отменах, возвратах и санкциях до публикации в Kafka.
type eventOutbox struct {
	store *Store
	now   func() time.Time
}

// NewOutboxRepository создаёт PostgreSQL-реализацию OutboxRepository.
// Внутри Store.Within событие пишется в транзакцию изменения заказа и не публикуется при откате.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &eventOutbox{store: store, now: func() time.Time { return time.Now().UTC() }}
}

func (o *eventOutbox) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	queuedAt := o.now()
	if _, err := o.store.conn(ctx).ExecContext(ctx, `
		INSERT INTO outbox_messages (`+eventColumns+`, status, attempt_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $7)
	`, msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, string(deliveryPending), queuedAt); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("queue %s event for %s %s: %w", msg.EventType, msg.AggregateType, msg.AggregateID, err)
	}
	return msg, nil
}

// PullPending отдаёт ждущие публикации события в порядке постановки.
func (o *eventOutbox) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultRelayBatch
	}

	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	rows, err := o.store.conn(ctx).QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM outbox_messages
		WHERE status = $1
		ORDER BY created_at, id
		LIMIT $2
	`, string(deliveryPending), limit)
	if err != nil {
		return nil, fmt.Errorf("select pending events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.OutboxMessage, 0, limit)
	for rows.Next() {
		msg, err := scanOutboxEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending event: %w", err)
		}
		events = append(events, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending events: %w", err)
	}
	return events, nil
}

// Stats - размер очереди и возраст самого старого события для readiness.
func (o *eventOutbox) Stats(ctx context.Context) (domain.OutboxStats, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	if err := o.store.conn(ctx).QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(created_at)
		FROM outbox_messages
		WHERE status = $1
	`, string(deliveryPending)).Scan(&stats.PendingCount, &oldest); err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox backlog: %w", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (o *eventOutbox) MarkSent(ctx context.Context, id string) error {
	return o.settle(ctx, id, deliverySent)
}

// MarkFailed снимает событие с публикации; повторно его отправляет только оператор.
func (o *eventOutbox) MarkFailed(ctx context.Context, id string) error {
	return o.settle(ctx, id, deliveryFailed)
}

func (o *eventOutbox) settle(ctx context.Context, id string, state deliveryState) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	res, err := o.store.conn(ctx).ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = $2, attempt_count = attempt_count + 1, updated_at = $3
		WHERE id = $1
	`, id, string(state), o.now())
	if err != nil {
		return fmt.Errorf("mark event %s %s: %w", id, state, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("mark event %s %s: %w", id, state, err)
	} else if n == 0 {
		return fmt.Errorf("%w: event %s is not in the outbox", domain.ErrOutboxPublish, id)
	}
	return nil
}

func scanOutboxEvent(row rowScanner) (domain.OutboxMessage, error) {
	var msg domain.OutboxMessage
	err := row.Scan(&msg.ID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Payload)
	return msg, err
}

var _ domain.OutboxRepository = (*eventOutbox)(nil)
