package domain

import (
	"context"
	"time"
)

// PaymentGateway описывает взаимодействие с платёжным провайдером.
type PaymentGateway interface {
	// Refund возвращает клиенту Amount, оставляя мерчанту RetainAmount.
	// Повторный вызов с тем же IdempotencyKey не создаёт второй возврат.
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
}

// NotificationType - тип пользовательского уведомления.
type NotificationType string

const (
	NotificationOrderCancelled   NotificationType = "order_cancelled"
	NotificationRefundInitiated  NotificationType = "refund_initiated"
	NotificationRefundProcessed  NotificationType = "refund_processed"
	NotificationReturnRequested  NotificationType = "return_requested"
	NotificationReturnSubmitted  NotificationType = "return_submitted"
	NotificationReturnApproved   NotificationType = "return_approved"
	NotificationReturnRejected   NotificationType = "return_rejected"
	NotificationReturnPickup     NotificationType = "return_pickup_scheduled"
	NotificationGaragePenalty    NotificationType = "garage_penalty"
	NotificationSLACancelApology NotificationType = "sla_cancel_apology"
)

// Notification - сообщение конкретному пользователю.
type Notification struct {
	UserID  string
	Role    ActorRole
	Type    NotificationType
	Title   string
	Message string
	Data    map[string]any
}

// Каналы широковещательных событий.
const (
	ChannelOperations = "operations"
	ChannelGarages    = "garages"
)

// Notifier - шина уведомлений. Вызовы fire-and-forget: ошибки логируются вызывающей стороной
// и не откатывают финансовую транзакцию.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
	Emit(ctx context.Context, channel, event string, payload map[string]any) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
