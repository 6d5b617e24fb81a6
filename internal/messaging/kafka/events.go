package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// Topics для Kafka.
const (
	TopicNotifications   = "lifecycle.notifications"
	TopicOperations      = "lifecycle.operations"
	TopicDeadLetterQueue = "lifecycle.dlq"
)

// Типы агрегатов outbox, которые маршрутизируются по топикам.
const (
	AggregateNotification = "notification"
	AggregateChannel      = "channel"
)

// Kafka headers для retry логики.
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	HeaderEventType     = "x-event-type"
)

// DefaultRoutes сопоставляет тип агрегата outbox с топиком.
func DefaultRoutes() map[string]string {
	return map[string]string{
		AggregateNotification: TopicNotifications,
		AggregateChannel:      TopicOperations,
	}
}

// Envelope - формат сообщения, которое outbox публикует в Kafka.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// ParseEnvelope разбирает Envelope из сообщения.
func ParseEnvelope(message *sarama.ConsumerMessage) (*Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(message.Value, &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal outbox envelope: %w", err)
	}
	return &envelope, nil
}
