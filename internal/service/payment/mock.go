package payment

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
)

// MockGateway - конфигурируемая заглушка PaymentGateway для локального запуска и тестов.
// Повтор с тем же idempotency-key возвращает первый результат, как у реального провайдера.
type MockGateway struct {
	mu sync.Mutex

	Status domain.RefundStatus
	Err    error

	Calls    int
	Requests []domain.RefundRequest
	results  map[string]domain.RefundResult
}

// NewMockGateway возвращает mock с успешным сценарием по умолчанию.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		Status:  domain.RefundStatusSucceeded,
		results: make(map[string]domain.RefundResult),
	}
}

// Refund возвращает настроенный результат и считает вызовы.
func (m *MockGateway) Refund(_ context.Context, req domain.RefundRequest) (domain.RefundResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls++
	m.Requests = append(m.Requests, req)
	if m.Err != nil {
		return domain.RefundResult{}, m.Err
	}
	if req.Reference == "" {
		return domain.RefundResult{}, domain.ErrPaymentReferenceRequired
	}
	if prev, ok := m.results[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return prev, nil
	}

	result := domain.RefundResult{
		ID:     "re_mock_" + uuid.NewString(),
		Amount: req.Amount,
		Status: m.Status,
	}
	if req.IdempotencyKey != "" {
		m.results[req.IdempotencyKey] = result
	}
	return result, nil
}

// CallCount возвращает число вызовов Refund.
func (m *MockGateway) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls
}

// Fail настраивает ошибку для последующих вызовов; nil возвращает успешный сценарий.
func (m *MockGateway) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}

var _ domain.PaymentGateway = (*MockGateway)(nil)
