package kafka

import (
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в топик, выбранный по типу агрегата.
type OutboxTopicPublisher struct {
	producer     *Producer
	routes       map[string]string
	defaultTopic string
}

// PublisherOption настраивает OutboxTopicPublisher.
type PublisherOption func(*OutboxTopicPublisher)

// WithRoute добавляет или переопределяет маршрут aggregateType → topic.
func WithRoute(aggregateType, topic string) PublisherOption {
	return func(p *OutboxTopicPublisher) {
		if aggregateType != "" && topic != "" {
			p.routes[aggregateType] = topic
		}
	}
}

// WithDefaultTopic задаёт топик для агрегатов без маршрута.
func WithDefaultTopic(topic string) PublisherOption {
	return func(p *OutboxTopicPublisher) {
		if topic != "" {
			p.defaultTopic = topic
		}
	}
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer, opts ...PublisherOption) *OutboxTopicPublisher {
	p := &OutboxTopicPublisher{
		producer:     producer,
		routes:       DefaultRoutes(),
		defaultTopic: TopicOperations,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewDLQPublisher создаёт паблишер, который отправляет всё в dead letter queue.
func NewDLQPublisher(producer *Producer) *OutboxTopicPublisher {
	p := &OutboxTopicPublisher{
		producer:     producer,
		routes:       map[string]string{},
		defaultTopic: TopicDeadLetterQueue,
	}
	return p
}

// TopicFor возвращает топик для типа агрегата.
func (p *OutboxTopicPublisher) TopicFor(aggregateType string) string {
	if topic, ok := p.routes[aggregateType]; ok {
		return topic
	}
	return p.defaultTopic
}

func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	envelope := Envelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       event.Payload,
		PublishedAt:   time.Now().UTC(),
	}

	return p.producer.PublishEvent(p.TopicFor(event.AggregateType), key, envelope,
		sarama.RecordHeader{Key: []byte(HeaderEventType), Value: []byte(event.EventType)},
	)
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
