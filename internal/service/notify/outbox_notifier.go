package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
)

// Типы агрегатов в outbox; по ним Kafka publisher выбирает топик.
const (
	AggregateNotification = "notification"
	AggregateChannel      = "channel"
)

// NotificationPayload - тело пользовательского уведомления в outbox.
type NotificationPayload struct {
	UserID    string           `json:"user_id"`
	Role      domain.ActorRole `json:"role"`
	Type      string           `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Data      map[string]any   `json:"data,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// ChannelPayload - тело широковещательного события.
type ChannelPayload struct {
	Channel   string         `json:"channel"`
	Event     string         `json:"event"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// OutboxNotifier реализует domain.Notifier поверх transactional outbox.
// Доставку выполняет outbox.Worker.
type OutboxNotifier struct {
	repo   domain.OutboxRepository
	logger *log.Entry
	now    func() time.Time
}

// NewOutboxNotifier создаёт notifier. logger может быть nil.
func NewOutboxNotifier(repo domain.OutboxRepository, logger *log.Entry) *OutboxNotifier {
	if logger == nil {
		logger = log.WithField("component", "notifier")
	}
	return &OutboxNotifier{
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Notify ставит уведомление пользователю в очередь.
func (n *OutboxNotifier) Notify(ctx context.Context, note domain.Notification) error {
	if strings.TrimSpace(note.UserID) == "" || note.Type == "" {
		return fmt.Errorf("%w: notification requires user_id and type", domain.ErrInvalidArgument)
	}

	body, err := json.Marshal(NotificationPayload{
		UserID:    note.UserID,
		Role:      note.Role,
		Type:      string(note.Type),
		Title:     note.Title,
		Message:   note.Message,
		Data:      note.Data,
		CreatedAt: n.now(),
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	msg, err := n.repo.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: AggregateNotification,
		AggregateID:   note.UserID,
		EventType:     string(note.Type),
		Payload:       body,
	})
	if err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}

	n.logger.WithFields(log.Fields{
		"outbox_id": msg.ID,
		"user_id":   note.UserID,
		"type":      note.Type,
	}).Debug("notification enqueued")
	return nil
}

// Emit ставит событие канала в очередь.
func (n *OutboxNotifier) Emit(ctx context.Context, channel, event string, payload map[string]any) error {
	if strings.TrimSpace(channel) == "" || strings.TrimSpace(event) == "" {
		return fmt.Errorf("%w: channel event requires channel and event", domain.ErrInvalidArgument)
	}

	body, err := json.Marshal(ChannelPayload{
		Channel:   channel,
		Event:     event,
		Payload:   payload,
		CreatedAt: n.now(),
	})
	if err != nil {
		return fmt.Errorf("marshal channel event: %w", err)
	}

	msg, err := n.repo.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: AggregateChannel,
		AggregateID:   channel,
		EventType:     event,
		Payload:       body,
	})
	if err != nil {
		return fmt.Errorf("enqueue channel event: %w", err)
	}

	n.logger.WithFields(log.Fields{
		"outbox_id": msg.ID,
		"channel":   channel,
		"event":     event,
	}).Debug("channel event enqueued")
	return nil
}

var _ domain.Notifier = (*OutboxNotifier)(nil)
