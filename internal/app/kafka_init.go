package app

import (
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/version"
)

var errKafkaNotConfigured = errors.New("kafka brokers are not configured and mock integrations are disabled")

// initKafkaProducer инициализирует Kafka producer, если brokers не пустой.
// Возвращает nil, nil для пустого списка.
func initKafkaProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	brokerList := splitBrokers(brokers)
	if len(brokerList) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokerList, version.UserAgent())
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer")
		return nil, err
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer, nil
}

func splitBrokers(brokers string) []string {
	parts := strings.Split(brokers, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// buildOutboxPublishers выбирает, куда relay отправляет события outbox.
// Без Kafka события только логируются, и это допустимо лишь с моками.
func buildOutboxPublishers(cfg Config, producer *kafka.Producer, logger *log.Entry) (publisher, dlq domain.OutboxPublisher, err error) {
	if producer != nil {
		return kafka.NewOutboxPublisher(producer), kafka.NewDLQPublisher(producer), nil
	}
	if !cfg.AllowMockIntegrations {
		return nil, nil, errKafkaNotConfigured
	}
	logger.Warn("kafka is disabled, outbox events are written to the log")
	return logPublisher{logger: logger.WithField("publisher", "log")}, nil, nil
}

// logPublisher - заглушка relay для локального запуска без брокера.
type logPublisher struct {
	logger *log.Entry
}

func (p logPublisher) Publish(event domain.OutboxMessage) error {
	p.logger.WithFields(log.Fields{
		"event_id":       event.ID,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID,
		"event_type":     event.EventType,
	}).Info("outbox event relayed")
	return nil
}

// closeKafka закрывает Kafka producer, если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
