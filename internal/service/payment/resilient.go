package payment

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
)

// ErrCircuitOpen возвращается, пока circuit breaker не пропускает вызовы к провайдеру.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// RetryConfig конфигурация для retry логики.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// CircuitState - состояние circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreaker простая реализация circuit breaker паттерна.
type CircuitBreaker struct {
	mu           sync.Mutex
	maxFailures  int
	resetTimeout time.Duration

	failures    int
	lastFailure time.Time
	state       CircuitState
	logger      *log.Entry
	now         func() time.Time
}

// NewCircuitBreaker создаёт новый circuit breaker.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration, logger *log.Entry) *CircuitBreaker {
	if logger == nil {
		logger = log.WithField("component", "circuit-breaker")
	}
	if maxFailures <= 0 {
		maxFailures = 5
	}

	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        CircuitClosed,
		logger:       logger,
		now:          time.Now,
	}
}

// State возвращает текущее состояние.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute выполняет операцию через circuit breaker.
// countable решает, считается ли ошибка отказом провайдера.
func (cb *CircuitBreaker) Execute(operation string, fn func() error, countable func(error) bool) error {
	cb.mu.Lock()
	if cb.state == CircuitOpen {
		if cb.now().Sub(cb.lastFailure) > cb.resetTimeout {
			cb.state = CircuitHalfOpen
			cb.logger.WithField("operation", operation).Info("circuit breaker half-open")
		} else {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil && (countable == nil || countable(err)) {
		cb.failures++
		cb.lastFailure = cb.now()

		if cb.state == CircuitHalfOpen || cb.failures >= cb.maxFailures {
			cb.state = CircuitOpen
			cb.logger.WithFields(log.Fields{
				"operation": operation,
				"failures":  cb.failures,
			}).Warn("circuit breaker opened")
		}
		return err
	}

	if cb.state == CircuitHalfOpen {
		cb.state = CircuitClosed
		cb.logger.WithField("operation", operation).Info("circuit breaker closed")
	}
	cb.failures = 0
	return err
}

// ResilientGateway оборачивает PaymentGateway повторами с экспоненциальной задержкой
// и circuit breaker. Отказы провайдера по бизнес-причинам не повторяются.
type ResilientGateway struct {
	next    domain.PaymentGateway
	config  RetryConfig
	breaker *CircuitBreaker
	logger  *log.Entry
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewResilientGateway создаёт обёртку. breaker может быть nil.
func NewResilientGateway(next domain.PaymentGateway, config RetryConfig, breaker *CircuitBreaker, logger *log.Entry) *ResilientGateway {
	if logger == nil {
		logger = log.WithField("component", "resilient-gateway")
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.BackoffFactor < 1 {
		config.BackoffFactor = 1
	}

	return &ResilientGateway{
		next:    next,
		config:  config,
		breaker: breaker,
		logger:  logger,
		sleep:   sleepContext,
	}
}

// Refund вызывает провайдера с повторами. Все попытки используют один idempotency-key.
func (g *ResilientGateway) Refund(ctx context.Context, req domain.RefundRequest) (domain.RefundResult, error) {
	var (
		result  domain.RefundResult
		lastErr error
	)
	delay := g.config.InitialDelay

	for attempt := 1; attempt <= g.config.MaxAttempts; attempt++ {
		call := func() error {
			var err error
			result, err = g.next.Refund(ctx, req)
			return err
		}

		var err error
		if g.breaker != nil {
			err = g.breaker.Execute("refund", call, shouldRetry)
		} else {
			err = call()
		}
		if err == nil {
			if attempt > 1 {
				g.logger.WithFields(log.Fields{
					"idempotency_key": req.IdempotencyKey,
					"attempt":         attempt,
				}).Info("refund succeeded after retry")
			}
			return result, nil
		}

		lastErr = err
		if errors.Is(err, ErrCircuitOpen) || !shouldRetry(err) {
			return domain.RefundResult{}, err
		}

		if attempt < g.config.MaxAttempts {
			g.logger.WithError(err).WithFields(log.Fields{
				"idempotency_key": req.IdempotencyKey,
				"attempt":         attempt,
				"delay":           delay,
			}).Warn("refund failed, retrying")

			if err := g.sleep(ctx, delay); err != nil {
				return domain.RefundResult{}, err
			}

			delay = time.Duration(float64(delay) * g.config.BackoffFactor)
			if g.config.MaxDelay > 0 && delay > g.config.MaxDelay {
				delay = g.config.MaxDelay
			}
		}
	}

	g.logger.WithError(lastErr).WithFields(log.Fields{
		"idempotency_key": req.IdempotencyKey,
		"max_attempts":    g.config.MaxAttempts,
	}).Error("refund failed after all retry attempts")
	return domain.RefundResult{}, lastErr
}

// shouldRetry определяет, стоит ли повторять вызов при данной ошибке.
func shouldRetry(err error) bool {
	switch {
	case errors.Is(err, domain.ErrPaymentDeclined),
		errors.Is(err, domain.ErrPaymentReferenceRequired),
		errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		return true
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ domain.PaymentGateway = (*ResilientGateway)(nil)
