package cancellation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/metrics"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/policy"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/service/fraud"
)

const (
	reasonAlreadyCancelled = "Order already cancelled"
	reasonAlreadyRefunded  = "Order already refunded"
	reasonAfterDelivery    = "Order has been delivered. Please submit a return request instead."
	reasonGarageInDelivery = "Garage cannot cancel an order that is already out for delivery"

	defaultHistoryLimit = 50
)

// AbuseTracker - счётчики злоупотреблений, которые обновляются при отмене.
type AbuseTracker interface {
	IncrementGarageCancellation(ctx context.Context, garageID string) (domain.GaragePenaltyOutcome, error)
	IncrementCancellationCount(ctx context.Context, customerID string) (fraud.CancellationCount, error)
}

// RefundProcessor отправляет созданный возврат в платёжный шлюз после коммита.
type RefundProcessor interface {
	Process(ctx context.Context, refundID string) (domain.Refund, error)
}

// Preview - расчёт отмены без изменения состояния.
type Preview struct {
	OrderID                 string             `json:"order_id"`
	OrderStatus             domain.OrderStatus `json:"order_status"`
	CanCancel               bool               `json:"can_cancel"`
	Stage                   domain.Stage       `json:"stage,omitempty"`
	FeeRate                 decimal.Decimal    `json:"fee_rate"`
	Fee                     decimal.Decimal    `json:"fee"`
	Split                   policy.Split       `json:"fee_split"`
	DeliveryFeeRetained     decimal.Decimal    `json:"delivery_fee_retained"`
	RefundAmount            decimal.Decimal    `json:"refund_amount"`
	FirstCancellationWaived bool               `json:"first_cancellation_waived"`
	Reason                  string             `json:"reason,omitempty"`
}

// ExecuteInput - запрос на отмену заказа.
type ExecuteInput struct {
	OrderID    string
	Initiator  domain.Actor
	ReasonCode domain.CancellationReason
	ReasonText string
	// AfterApply выполняется в транзакции отмены после её записи. Ошибка откатывает отмену целиком.
	AfterApply func(ctx context.Context, repos domain.Repositories, order domain.Order) error
}

// Result - итог отмены. Отказ по бизнес-правилам возвращается с Success=false без ошибки.
type Result struct {
	Success               bool                         `json:"success"`
	Message               string                       `json:"message,omitempty"`
	Reason                string                       `json:"reason,omitempty"`
	OrderID               string                       `json:"order_id"`
	NewStatus             domain.OrderStatus           `json:"new_status,omitempty"`
	Stage                 domain.Stage                 `json:"stage,omitempty"`
	Fee                   decimal.Decimal              `json:"fee"`
	Split                 policy.Split                 `json:"fee_split"`
	DeliveryFeeRetained   decimal.Decimal              `json:"delivery_fee_retained"`
	RefundAmount          decimal.Decimal              `json:"refund_amount"`
	RefundID              string                       `json:"refund_id,omitempty"`
	RefundStatus          domain.RefundStatus          `json:"refund_status,omitempty"`
	GaragePenalty         *domain.GaragePenaltyOutcome `json:"garage_penalty,omitempty"`
	CustomerReviewFlagged bool                         `json:"customer_review_flagged,omitempty"`
}

// Option настраивает Service.
type Option func(*Service)

func WithPolicy(table policy.Table) Option {
	return func(s *Service) { s.policy = table }
}

func WithMetrics(m *metrics.LifecycleMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(logger *log.Entry) Option {
	return func(s *Service) { s.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithNotifier подключает шину уведомлений.
func WithNotifier(n domain.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithRefundProcessor подключает немедленную отправку возврата в шлюз.
// Без него pending-возвраты подхватывает сверка.
func WithRefundProcessor(p RefundProcessor) Option {
	return func(s *Service) { s.refunds = p }
}

// Service рассчитывает и исполняет отмены заказов.
type Service struct {
	uow      domain.UnitOfWork
	abuse    AbuseTracker
	policy   policy.Table
	notifier domain.Notifier
	refunds  RefundProcessor
	metrics  *metrics.LifecycleMetrics
	logger   *log.Entry
	now      func() time.Time
}

// NewService создаёт сервис отмен.
func NewService(uow domain.UnitOfWork, abuse AbuseTracker, options ...Option) *Service {
	s := &Service{
		uow:    uow,
		abuse:  abuse,
		policy: policy.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "cancellation")
	}
	return s
}

// GetPreview рассчитывает удержание и сумму возврата, ничего не меняя.
func (s *Service) GetPreview(ctx context.Context, orderID string, requester domain.Actor) (Preview, error) {
	if strings.TrimSpace(orderID) == "" {
		return Preview{}, domain.ErrOrderIDRequired
	}

	repos := s.uow.Repositories()
	order, err := repos.Orders.Get(ctx, orderID)
	if err != nil {
		return Preview{}, err
	}
	if !requester.CanAccessOrder(order) {
		return Preview{}, domain.ErrAccessDenied
	}
	return s.preview(ctx, repos, order, requester)
}

func (s *Service) preview(ctx context.Context, repos domain.Repositories, order domain.Order, requester domain.Actor) (Preview, error) {
	p := Preview{
		OrderID:             order.ID,
		OrderStatus:         order.Status,
		FeeRate:             decimal.Zero,
		Fee:                 decimal.Zero,
		Split:               policy.Split{Platform: decimal.Zero, Garage: decimal.Zero},
		DeliveryFeeRetained: decimal.Zero,
		RefundAmount:        decimal.Zero,
	}

	switch {
	case order.Status.IsCancelled():
		p.Reason = reasonAlreadyCancelled
		return p, nil
	case order.Status == domain.OrderStatusRefunded:
		p.Reason = reasonAlreadyRefunded
		return p, nil
	}

	stage, err := policy.ResolveStage(order.Status)
	if err != nil {
		return Preview{}, err
	}
	p.Stage = stage

	rate, cancellable := s.policy.CancellationRate(stage)
	if !cancellable {
		p.Reason = reasonAfterDelivery
		return p, nil
	}

	if requester.Role != domain.ActorCustomer {
		if requester.Role == domain.ActorGarage && stage == domain.StageInDelivery {
			p.Reason = reasonGarageInDelivery
			return p, nil
		}
		p.CanCancel = true
		p.RefundAmount = domain.FloorZero(order.TotalAmount)
		return p, nil
	}

	previous, err := repos.Cancellations.CountByCustomer(ctx, order.CustomerID)
	if err != nil {
		return Preview{}, fmt.Errorf("count customer cancellations: %w", err)
	}

	fee, waived := s.policy.CancellationFee(rate, order.PartPrice, previous == 0)
	retained := s.policy.DeliveryFeeRetained(stage, order.DeliveryFee)

	p.CanCancel = true
	p.FeeRate = rate
	p.Fee = fee
	p.Split = s.policy.SplitFee(stage, fee)
	p.DeliveryFeeRetained = retained
	p.RefundAmount = domain.FloorZero(order.PartPrice.Sub(fee).Sub(retained))
	p.FirstCancellationWaived = waived
	return p, nil
}

// Execute отменяет заказ в одной транзакции: статус, история, запись отмены,
// счётчики злоупотреблений и pending-возврат. Шлюз и уведомления вызываются после коммита.
func (s *Service) Execute(ctx context.Context, in ExecuteInput) (Result, error) {
	started := time.Now()
	defer func() { s.metrics.ObserveOperation("cancellation_execute", time.Since(started)) }()

	if strings.TrimSpace(in.OrderID) == "" {
		return Result{}, domain.ErrOrderIDRequired
	}
	actor := in.Initiator
	if !actor.Role.Valid() || strings.TrimSpace(actor.ID) == "" {
		return Result{}, domain.ErrAccessDenied
	}

	reason := in.ReasonCode
	if reason == "" {
		reason = domain.DefaultCancellationReason(actor.Role)
	}
	if !reason.AllowedFor(actor.Role) {
		s.metrics.RecordCancellation("", string(actor.Role), "rejected", decimal.Zero)
		return Result{
			OrderID: in.OrderID,
			Reason:  fmt.Sprintf("Unsupported cancellation reason %q for %s", reason, actor.Role),
		}, nil
	}

	var (
		result Result
		order  domain.Order
	)
	err := s.uow.Within(ctx, func(ctx context.Context, repos domain.Repositories) error {
		var err error
		order, err = repos.Orders.GetForUpdate(ctx, in.OrderID)
		if err != nil {
			return err
		}
		if !actor.CanAccessOrder(order) {
			return domain.ErrAccessDenied
		}
		// Бесплатная первая отмена решается по числу отмен клиента, поэтому до подсчёта
		// параллельные отмены других заказов этого клиента должны завершиться.
		if actor.Role == domain.ActorCustomer {
			if err := repos.Cancellations.LockCustomer(ctx, order.CustomerID); err != nil {
				return err
			}
		}

		preview, err := s.preview(ctx, repos, order, actor)
		if err != nil {
			return err
		}
		if !preview.CanCancel {
			result = Result{OrderID: order.ID, Stage: preview.Stage, Reason: preview.Reason}
			return nil
		}

		result, err = s.apply(ctx, repos, order, actor, reason, in.ReasonText, preview)
		if err != nil {
			return err
		}
		if in.AfterApply != nil {
			return in.AfterApply(ctx, repos, order)
		}
		return nil
	})
	if err != nil {
		s.metrics.RecordCancellation("", string(actor.Role), "error", decimal.Zero)
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id":  in.OrderID,
			"initiator": actor.Role,
		}).Error("cancellation failed")
		return Result{}, err
	}
	if !result.Success {
		s.metrics.RecordCancellation(string(result.Stage), string(actor.Role), "rejected", decimal.Zero)
		s.logger.WithFields(log.Fields{
			"order_id": in.OrderID,
			"reason":   result.Reason,
		}).Info("cancellation rejected")
		return result, nil
	}

	s.metrics.RecordCancellation(string(result.Stage), string(actor.Role), "cancelled", result.Fee)
	s.logger.WithFields(log.Fields{
		"order_id":      order.ID,
		"initiator":     actor.Role,
		"stage":         result.Stage,
		"fee":           result.Fee.String(),
		"refund_amount": result.RefundAmount.String(),
		"refund_id":     result.RefundID,
	}).Info("order cancelled")

	if result.RefundID != "" && s.refunds != nil {
		refund, err := s.refunds.Process(ctx, result.RefundID)
		if err != nil {
			s.logger.WithError(err).WithField("refund_id", result.RefundID).
				Warn("refund submission deferred to reconciliation")
		} else {
			result.RefundStatus = refund.Status
		}
	}

	s.notifyCancelled(ctx, order, actor, result)
	return result, nil
}

func (s *Service) apply(
	ctx context.Context,
	repos domain.Repositories,
	order domain.Order,
	actor domain.Actor,
	reason domain.CancellationReason,
	reasonText string,
	preview Preview,
) (Result, error) {
	now := s.now()
	newStatus, _ := actor.Role.CancelledStatus()

	if err := repos.Orders.UpdateStatus(ctx, order.ID, newStatus, now); err != nil {
		return Result{}, fmt.Errorf("update order status: %w", err)
	}
	if err := repos.Timeline.Append(ctx, domain.TimelineEvent{
		OrderID:       order.ID,
		FromStatus:    order.Status,
		ToStatus:      newStatus,
		ChangedBy:     actor.ID,
		ChangedByRole: actor.Role,
		Reason:        string(reason),
		Occurred:      now,
	}); err != nil {
		return Result{}, fmt.Errorf("append timeline: %w", err)
	}

	if err := repos.Cancellations.Create(ctx, domain.CancellationRecord{
		ID:                  uuid.NewString(),
		OrderID:             order.ID,
		CustomerID:          order.CustomerID,
		GarageID:            order.GarageID,
		RequestedBy:         actor.ID,
		RequestedByRole:     actor.Role,
		ReasonCode:          reason,
		ReasonText:          reasonText,
		StatusAtCancel:      order.Status,
		Stage:               preview.Stage,
		FeeRate:             preview.FeeRate,
		Fee:                 preview.Fee,
		PlatformFee:         preview.Split.Platform,
		GarageFee:           preview.Split.Garage,
		DeliveryFeeRetained: preview.DeliveryFeeRetained,
		RefundAmount:        preview.RefundAmount,
		MinutesSinceOrder:   int(now.Sub(order.CreatedAt).Minutes()),
		CreatedAt:           now,
	}); err != nil {
		return Result{}, fmt.Errorf("create cancellation record: %w", err)
	}

	result := Result{
		Success:             true,
		Message:             "Order cancelled successfully",
		OrderID:             order.ID,
		NewStatus:           newStatus,
		Stage:               preview.Stage,
		Fee:                 preview.Fee,
		Split:               preview.Split,
		DeliveryFeeRetained: preview.DeliveryFeeRetained,
		RefundAmount:        preview.RefundAmount,
	}

	switch actor.Role {
	case domain.ActorGarage:
		outcome, err := s.abuse.IncrementGarageCancellation(ctx, order.GarageID)
		if err != nil {
			return Result{}, err
		}
		if outcome.PenaltyAmount.IsPositive() {
			if err := repos.Penalties.Create(ctx, domain.GaragePenalty{
				ID:        uuid.NewString(),
				GarageID:  order.GarageID,
				OrderID:   order.ID,
				Type:      domain.PenaltyCancellation,
				Action:    outcome.Action,
				Amount:    outcome.PenaltyAmount,
				Status:    domain.PenaltyPending,
				Notes:     fmt.Sprintf("Cancellation #%d this month", outcome.Count),
				CreatedAt: now,
			}); err != nil {
				return Result{}, fmt.Errorf("create garage penalty: %w", err)
			}
		}
		result.GaragePenalty = &outcome
	case domain.ActorCustomer:
		count, err := s.abuse.IncrementCancellationCount(ctx, order.CustomerID)
		if err != nil {
			return Result{}, err
		}
		result.CustomerReviewFlagged = count.Flagged
	}

	if preview.Stage != domain.StageBeforePayment && preview.RefundAmount.IsPositive() {
		seq, err := repos.Refunds.NextSequence(ctx, order.ID)
		if err != nil {
			return Result{}, fmt.Errorf("next refund sequence: %w", err)
		}
		refund := domain.Refund{
			ID:                  uuid.NewString(),
			OrderID:             order.ID,
			Type:                domain.RefundTypeCancellation,
			Sequence:            seq,
			OriginalAmount:      order.TotalAmount,
			RefundAmount:        preview.RefundAmount,
			FeeRetained:         preview.Fee,
			DeliveryFeeRetained: preview.DeliveryFeeRetained,
			Currency:            order.Currency,
			PaymentReference:    order.PaymentIntentID,
			Status:              domain.RefundStatusPending,
			Reason:              string(reason),
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if err := repos.Refunds.Create(ctx, refund); err != nil {
			return Result{}, fmt.Errorf("create refund: %w", err)
		}
		result.RefundID = refund.ID
		result.RefundStatus = refund.Status
	}

	return result, nil
}

func (s *Service) notifyCancelled(ctx context.Context, order domain.Order, actor domain.Actor, result Result) {
	if s.notifier == nil {
		return
	}

	data := map[string]any{
		"order_id":      order.ID,
		"order_number":  order.OrderNumber,
		"cancelled_by":  string(actor.Role),
		"refund_amount": result.RefundAmount.String(),
	}

	var notes []domain.Notification
	switch actor.Role {
	case domain.ActorCustomer:
		notes = append(notes, domain.Notification{
			UserID:  order.GarageID,
			Role:    domain.ActorGarage,
			Type:    domain.NotificationOrderCancelled,
			Title:   "Order cancelled",
			Message: fmt.Sprintf("Order #%s was cancelled by the customer", orderLabel(order)),
			Data:    data,
		})
	default:
		notes = append(notes, domain.Notification{
			UserID:  order.CustomerID,
			Role:    domain.ActorCustomer,
			Type:    domain.NotificationOrderCancelled,
			Title:   "Order cancelled",
			Message: fmt.Sprintf("Order #%s was cancelled by the %s", orderLabel(order), actor.Role),
			Data:    data,
		})
		if actor.Role == domain.ActorOperations {
			notes = append(notes, domain.Notification{
				UserID:  order.GarageID,
				Role:    domain.ActorGarage,
				Type:    domain.NotificationOrderCancelled,
				Title:   "Order cancelled",
				Message: fmt.Sprintf("Order #%s was cancelled by operations", orderLabel(order)),
				Data:    data,
			})
		}
	}
	if result.RefundID != "" {
		notes = append(notes, domain.Notification{
			UserID: order.CustomerID,
			Role:   domain.ActorCustomer,
			Type:   domain.NotificationRefundInitiated,
			Title:  "Refund initiated",
			Message: fmt.Sprintf("A refund of %s %s for order #%s is on its way",
				result.RefundAmount.StringFixed(2), order.Currency, orderLabel(order)),
			Data: map[string]any{
				"order_id":  order.ID,
				"refund_id": result.RefundID,
				"amount":    result.RefundAmount.String(),
			},
		})
	}

	for _, n := range notes {
		if err := s.notifier.Notify(ctx, n); err != nil {
			s.logger.WithError(err).WithFields(log.Fields{
				"order_id": order.ID,
				"user_id":  n.UserID,
				"type":     n.Type,
			}).Warn("failed to send notification")
		}
	}

	payload := map[string]any{
		"order_id":      order.ID,
		"order_number":  order.OrderNumber,
		"cancelled_by":  string(actor.Role),
		"stage":         string(result.Stage),
		"fee":           result.Fee.String(),
		"refund_amount": result.RefundAmount.String(),
	}
	if result.GaragePenalty != nil {
		payload["garage_action"] = string(result.GaragePenalty.Action)
		payload["garage_penalty"] = result.GaragePenalty.PenaltyAmount.String()
	}
	if err := s.notifier.Emit(ctx, domain.ChannelOperations, "order_cancelled", payload); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to emit operations event")
	}
}

func orderLabel(order domain.Order) string {
	if order.OrderNumber != "" {
		return order.OrderNumber
	}
	return order.ID
}

// History возвращает последние отмены, видимые участнику.
func (s *Service) History(ctx context.Context, actor domain.Actor, limit int) ([]domain.CancellationRecord, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	filter := domain.CancellationFilter{Limit: limit}
	switch actor.Role {
	case domain.ActorCustomer:
		filter.CustomerID = actor.ID
	case domain.ActorGarage:
		filter.GarageID = actor.ID
	case domain.ActorOperations:
	default:
		return nil, domain.ErrAccessDenied
	}
	if strings.TrimSpace(actor.ID) == "" {
		return nil, domain.ErrAccessDenied
	}

	records, err := s.uow.Repositories().Cancellations.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list cancellations: %w", err)
	}
	return records, nil
}
