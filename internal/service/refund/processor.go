package refund

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/metrics"
)

const defaultListLimit = 100

// Option настраивает Processor.
type Option func(*Processor)

func WithMetrics(m *metrics.LifecycleMetrics) Option {
	return func(p *Processor) { p.metrics = m }
}

func WithLogger(logger *log.Entry) Option {
	return func(p *Processor) { p.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// WithNotifier включает уведомление клиента о проведённом возврате.
func WithNotifier(n domain.Notifier) Option {
	return func(p *Processor) { p.notifier = n }
}

// Processor отправляет записи реестра возвратов в платёжный шлюз.
// Вызывается после коммита бизнес-транзакции; повторные вызовы безопасны
// благодаря стабильному idempotency-key записи.
type Processor struct {
	uow      domain.UnitOfWork
	gateway  domain.PaymentGateway
	notifier domain.Notifier
	metrics  *metrics.LifecycleMetrics
	logger   *log.Entry
	now      func() time.Time
}

// NewProcessor создаёт обработчик возвратов.
func NewProcessor(uow domain.UnitOfWork, gateway domain.PaymentGateway, options ...Option) *Processor {
	p := &Processor{
		uow:     uow,
		gateway: gateway,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(p)
	}
	if p.logger == nil {
		p.logger = log.WithField("component", "refund-processor")
	}
	return p
}

// Process проводит возврат у провайдера. Успешная запись возвращается без изменений.
func (p *Processor) Process(ctx context.Context, refundID string) (domain.Refund, error) {
	refund, err := p.uow.Repositories().Refunds.Get(ctx, refundID)
	if err != nil {
		return domain.Refund{}, err
	}
	if refund.Status == domain.RefundStatusSucceeded {
		return refund, nil
	}

	result, callErr := p.submit(ctx, refund)

	var updated domain.Refund
	err = p.uow.Within(ctx, func(ctx context.Context, repos domain.Repositories) error {
		current, err := repos.Refunds.GetForUpdate(ctx, refundID)
		if err != nil {
			return err
		}
		if current.Status == domain.RefundStatusSucceeded {
			updated = current
			return nil
		}

		now := p.now()
		current.Attempts++
		current.UpdatedAt = now
		switch {
		case callErr != nil:
			current.Status = domain.RefundStatusFailed
			current.LastError = callErr.Error()
		case result.Status == domain.RefundStatusFailed:
			current.Status = domain.RefundStatusFailed
			current.GatewayRefundID = result.ID
			current.LastError = "refund failed at payment provider"
		case result.Status == domain.RefundStatusSucceeded:
			current.Status = domain.RefundStatusSucceeded
			current.GatewayRefundID = result.ID
			current.LastError = ""
			current.ProcessedAt = &now
		default:
			current.Status = domain.RefundStatusPending
			current.GatewayRefundID = result.ID
			current.LastError = ""
		}

		if err := repos.Refunds.Update(ctx, current); err != nil {
			return fmt.Errorf("update refund: %w", err)
		}
		updated = current
		return nil
	})
	if err != nil {
		return domain.Refund{}, err
	}

	p.metrics.RecordRefund(string(updated.Type), string(updated.Status))
	fields := log.Fields{
		"refund_id":       updated.ID,
		"order_id":        updated.OrderID,
		"amount":          updated.RefundAmount.String(),
		"status":          updated.Status,
		"attempts":        updated.Attempts,
		"idempotency_key": updated.IdempotencyKey(),
	}
	if callErr != nil {
		p.logger.WithError(callErr).WithFields(fields).Warn("refund submission failed")
		return updated, fmt.Errorf("submit refund %s: %w", refundID, callErr)
	}
	p.logger.WithFields(fields).Info("refund submitted")

	if updated.Status == domain.RefundStatusSucceeded {
		p.notifyProcessed(ctx, updated)
	}
	return updated, nil
}

func (p *Processor) submit(ctx context.Context, refund domain.Refund) (domain.RefundResult, error) {
	if strings.TrimSpace(refund.PaymentReference) == "" {
		return domain.RefundResult{}, domain.ErrPaymentReferenceRequired
	}

	metadata := map[string]string{
		"order_id":    refund.OrderID,
		"refund_id":   refund.ID,
		"refund_type": string(refund.Type),
	}
	if refund.ReturnID != "" {
		metadata["return_id"] = refund.ReturnID
	}

	return p.gateway.Refund(ctx, domain.RefundRequest{
		Reference:      refund.PaymentReference,
		Amount:         refund.RefundAmount,
		RetainAmount:   refund.RetainAmount(),
		Currency:       refund.Currency,
		Reason:         refund.Reason,
		IdempotencyKey: refund.IdempotencyKey(),
		Metadata:       metadata,
	})
}

func (p *Processor) notifyProcessed(ctx context.Context, refund domain.Refund) {
	if p.notifier == nil {
		return
	}
	order, err := p.uow.Repositories().Orders.Get(ctx, refund.OrderID)
	if err != nil {
		p.logger.WithError(err).WithField("order_id", refund.OrderID).Warn("failed to load order for refund notification")
		return
	}

	err = p.notifier.Notify(ctx, domain.Notification{
		UserID:  order.CustomerID,
		Role:    domain.ActorCustomer,
		Type:    domain.NotificationRefundProcessed,
		Title:   "Refund processed",
		Message: fmt.Sprintf("Your refund of %s %s has been processed", refund.RefundAmount.StringFixed(2), refund.Currency),
		Data: map[string]any{
			"order_id":  refund.OrderID,
			"refund_id": refund.ID,
			"amount":    refund.RefundAmount.String(),
		},
	})
	if err != nil {
		p.logger.WithError(err).WithField("refund_id", refund.ID).Warn("failed to send refund notification")
	}
}

// Retry - ручной повтор оператором. Игнорирует лимит попыток сверки;
// успешную запись не трогает. Каждый запрос пишется в журнал аудита.
func (p *Processor) Retry(ctx context.Context, refundID, operatorID string) (domain.Refund, error) {
	if strings.TrimSpace(operatorID) == "" {
		return domain.Refund{}, fmt.Errorf("%w: operator_id is required", domain.ErrInvalidArgument)
	}

	err := p.uow.Within(ctx, func(ctx context.Context, repos domain.Repositories) error {
		refund, err := repos.Refunds.Get(ctx, refundID)
		if err != nil {
			return err
		}
		details, err := json.Marshal(map[string]any{
			"status":   refund.Status,
			"attempts": refund.Attempts,
		})
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
		return repos.Audit.Append(ctx, domain.AuditEntry{
			EntityType: "refund",
			EntityID:   refundID,
			Action:     "retry_requested",
			ActorID:    operatorID,
			Details:    details,
			CreatedAt:  p.now(),
		})
	})
	if err != nil {
		return domain.Refund{}, err
	}

	return p.Process(ctx, refundID)
}

// List возвращает возвраты в статусе status, старые первыми.
func (p *Processor) List(ctx context.Context, status domain.RefundStatus, limit int) ([]domain.Refund, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown refund status %q", domain.ErrInvalidArgument, status)
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	return p.uow.Repositories().Refunds.ListByStatus(ctx, status, limit)
}

// Get возвращает запись реестра.
func (p *Processor) Get(ctx context.Context, refundID string) (domain.Refund, error) {
	return p.uow.Repositories().Refunds.Get(ctx, refundID)
}
