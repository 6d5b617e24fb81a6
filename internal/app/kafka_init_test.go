package app

import (
	"errors"
	"testing"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
)

func TestInitKafkaProducer_EmptyBrokers(t *testing.T) {
	logger := log.WithField("test", "kafka")

	producer, err := initKafkaProducer("", logger)

	if err != nil {
		t.Errorf("expected no error for empty brokers, got %v", err)
	}

	if producer != nil {
		t.Error("expected nil producer for empty brokers")
	}
}

func TestInitKafkaProducer_InvalidBrokers(t *testing.T) {
	logger := log.WithField("test", "kafka")

	// Используем несуществующий broker
	producer, err := initKafkaProducer("invalid-broker:9999", logger)

	// Должна быть ошибка, но функция продолжает работу
	if err == nil {
		t.Error("expected error for invalid brokers")
	}

	// Producer должен быть nil при ошибке
	if producer != nil {
		t.Error("expected nil producer on error")
	}
}

func TestInitKafkaProducer_MultipleBrokers(t *testing.T) {
	logger := log.WithField("test", "kafka")

	// Несколько несуществующих brokers
	brokers := "broker1:9092,broker2:9092,broker3:9092"
	producer, err := initKafkaProducer(brokers, logger)

	// Ошибка ожидается
	if err == nil {
		t.Error("expected error for invalid brokers")
	}

	if producer != nil {
		t.Error("expected nil producer on error")
	}
}

func TestCloseKafka_NilProducer(t *testing.T) {
	logger := log.WithField("test", "kafka")

	// Не должно паниковать
	closeKafka(nil, logger)
}

func TestCloseKafka_WithProducer(t *testing.T) {
	logger := log.WithField("test", "kafka")

	// Создаём producer (будет ошибка, но это ок для теста)
	producer, _ := initKafkaProducer("localhost:9999", logger)

	// Даже если producer nil, closeKafka должна работать
	closeKafka(producer, logger)
}

func TestInitKafkaProducer_BrokersWithSpaces(t *testing.T) {
	logger := log.WithField("test", "kafka")

	// Brokers с пробелами
	brokers := "broker1:9092, broker2:9092, broker3:9092"
	producer, err := initKafkaProducer(brokers, logger)

	// Ошибка ожидается (invalid brokers)
	if err == nil {
		t.Error("expected error for invalid brokers")
	}

	if producer != nil {
		t.Error("expected nil producer on error")
	}
}

func TestSplitBrokers(t *testing.T) {
	got := splitBrokers(" broker1:9092, ,broker2:9092,")
	if len(got) != 2 || got[0] != "broker1:9092" || got[1] != "broker2:9092" {
		t.Fatalf("unexpected brokers: %v", got)
	}
	if len(splitBrokers("  ")) != 0 {
		t.Fatal("blank brokers must produce an empty list")
	}
}

func TestBuildOutboxPublishers_WithoutKafka(t *testing.T) {
	logger := log.WithField("test", "publishers")

	if _, _, err := buildOutboxPublishers(Config{}, nil, logger); !errors.Is(err, errKafkaNotConfigured) {
		t.Fatalf("expected errKafkaNotConfigured, got %v", err)
	}

	publisher, dlq, err := buildOutboxPublishers(Config{AllowMockIntegrations: true}, nil, logger)
	if err != nil {
		t.Fatalf("expected log publisher with mocks allowed, got %v", err)
	}
	if dlq != nil {
		t.Fatal("log publisher has no dead-letter queue")
	}
	if err := publisher.Publish(domain.OutboxMessage{
		ID:            "evt-1",
		AggregateType: "notification",
		AggregateID:   "customer-1",
		EventType:     "order_cancelled",
		Payload:       []byte(`{}`),
	}); err != nil {
		t.Fatalf("log publisher must not fail: %v", err)
	}
}
