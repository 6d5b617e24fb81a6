package returns

import (
	"context"
	"errors"
	"fmt"
	"math"
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
	reasonReturnExists     = "Return request already exists for this order"
	reasonDeliveryMissing  = "Delivery not yet confirmed"
	reasonWindowExpired    = "Return window expired (7 days from delivery)"
	reasonInvalidReason    = "Invalid return reason"
	defaultOpenReturnLimit = 100
)

// AbuseGuard - проверки и счётчики злоупотреблений, которые нужны возвратам.
type AbuseGuard interface {
	CanCustomerReturn(ctx context.Context, customerID string) (fraud.Decision, error)
	CanClaimDefective(ctx context.Context, customerID string) (fraud.Decision, error)
	IncrementReturnCount(ctx context.Context, customerID string) (fraud.IncrementResult, error)
	IncrementDefectiveClaimCount(ctx context.Context, customerID string) (fraud.IncrementResult, error)
}

// RefundProcessor отправляет созданный возврат в платёжный шлюз после коммита.
type RefundProcessor interface {
	Process(ctx context.Context, refundID string) (domain.Refund, error)
}

// Preview - расчёт возврата без изменения состояния.
type Preview struct {
	OrderID             string          `json:"order_id"`
	CanReturn           bool            `json:"can_return"`
	DaysSinceDelivery   int             `json:"days_since_delivery"`
	HoursRemaining      int             `json:"hours_remaining"`
	PartPrice           decimal.Decimal `json:"part_price"`
	DeliveryFee         decimal.Decimal `json:"delivery_fee"`
	ReturnFee           decimal.Decimal `json:"return_fee"`
	DeliveryFeeRetained decimal.Decimal `json:"delivery_fee_retained"`
	RefundAmount        decimal.Decimal `json:"refund_amount"`
	Reason              string          `json:"reason,omitempty"`
}

// CreateInput - заявка клиента на возврат.
type CreateInput struct {
	OrderID              string
	CustomerID           string
	Reason               domain.ReturnReason
	PhotoURLs            []string
	ConditionDescription string
}

// CreateResult - итог подачи заявки. Отказ возвращается с Success=false без ошибки.
type CreateResult struct {
	Success      bool                `json:"success"`
	Message      string              `json:"message,omitempty"`
	Reason       string              `json:"reason,omitempty"`
	ReturnID     string              `json:"return_id,omitempty"`
	Status       domain.ReturnStatus `json:"status,omitempty"`
	ReturnFee    decimal.Decimal     `json:"return_fee"`
	RefundAmount decimal.Decimal     `json:"refund_amount"`
}

// DecisionResult - итог действия оператора над заявкой.
type DecisionResult struct {
	ReturnID     string              `json:"return_id"`
	OrderID      string              `json:"order_id"`
	Status       domain.ReturnStatus `json:"status"`
	FeeSplit     *policy.Split       `json:"fee_split,omitempty"`
	RefundAmount decimal.Decimal     `json:"refund_amount"`
	RefundID     string              `json:"refund_id,omitempty"`
	RefundStatus domain.RefundStatus `json:"refund_status,omitempty"`
	Message      string              `json:"message,omitempty"`
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

func WithNotifier(n domain.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithRefundProcessor(p RefundProcessor) Option {
	return func(s *Service) { s.refunds = p }
}

// Service ведёт заявки на возврат доставленных запчастей.
type Service struct {
	uow      domain.UnitOfWork
	abuse    AbuseGuard
	policy   policy.Table
	notifier domain.Notifier
	refunds  RefundProcessor
	metrics  *metrics.LifecycleMetrics
	logger   *log.Entry
	now      func() time.Time
}

// NewService создаёт сервис возвратов.
func NewService(uow domain.UnitOfWork, abuse AbuseGuard, options ...Option) *Service {
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
		s.logger = log.WithField("component", "returns")
	}
	return s
}

// GetPreview проверяет право на возврат и рассчитывает суммы.
func (s *Service) GetPreview(ctx context.Context, orderID, customerID string) (Preview, error) {
	if strings.TrimSpace(orderID) == "" {
		return Preview{}, domain.ErrOrderIDRequired
	}

	repos := s.uow.Repositories()
	order, err := repos.Orders.Get(ctx, orderID)
	if err != nil {
		return Preview{}, err
	}
	if customerID == "" || order.CustomerID != customerID {
		return Preview{}, domain.ErrAccessDenied
	}
	return s.preview(ctx, repos, order)
}

func (s *Service) preview(ctx context.Context, repos domain.Repositories, order domain.Order) (Preview, error) {
	returnFee := s.policy.ReturnFee(order.PartPrice)
	p := Preview{
		OrderID:             order.ID,
		PartPrice:           order.PartPrice,
		DeliveryFee:         order.DeliveryFee,
		ReturnFee:           returnFee,
		DeliveryFeeRetained: order.DeliveryFee,
		RefundAmount:        domain.FloorZero(domain.RoundMoney(order.PartPrice.Sub(returnFee))),
	}

	_, err := repos.Returns.GetByOrder(ctx, order.ID)
	switch {
	case err == nil:
		p.Reason = reasonReturnExists
		return p, nil
	case !errors.Is(err, domain.ErrReturnRequestNotFound):
		return Preview{}, fmt.Errorf("lookup existing return: %w", err)
	}

	if order.Status != domain.OrderStatusDelivered && order.Status != domain.OrderStatusCompleted {
		p.Reason = fmt.Sprintf("Cannot return order with status: %s", order.Status)
		return p, nil
	}
	if order.DeliveredAt == nil {
		p.Reason = reasonDeliveryMissing
		return p, nil
	}

	elapsed := s.now().Sub(*order.DeliveredAt)
	if elapsed < 0 {
		elapsed = 0
	}
	p.DaysSinceDelivery = int(elapsed / (24 * time.Hour))
	remaining := s.policy.ReturnWindow - elapsed
	if remaining < 0 {
		remaining = 0
	}
	p.HoursRemaining = int(math.Round(remaining.Hours()))

	if elapsed > s.policy.ReturnWindow {
		p.Reason = reasonWindowExpired
		return p, nil
	}

	decision, err := s.abuse.CanCustomerReturn(ctx, order.CustomerID)
	if err != nil {
		return Preview{}, err
	}
	if !decision.Allowed {
		p.Reason = decision.Reason
		return p, nil
	}

	p.CanReturn = true
	return p, nil
}

// CreateReturnRequest создаёт заявку и увеличивает счётчики клиента в одной транзакции.
func (s *Service) CreateReturnRequest(ctx context.Context, in CreateInput) (CreateResult, error) {
	started := time.Now()
	defer func() { s.metrics.ObserveOperation("return_create", time.Since(started)) }()

	if strings.TrimSpace(in.OrderID) == "" {
		return CreateResult{}, domain.ErrOrderIDRequired
	}
	if strings.TrimSpace(in.CustomerID) == "" {
		return CreateResult{}, domain.ErrAccessDenied
	}
	if len(nonEmpty(in.PhotoURLs)) < s.policy.MinReturnPhotos {
		s.metrics.RecordReturn("rejected")
		return CreateResult{Reason: fmt.Sprintf("Minimum %d photos required for return request", s.policy.MinReturnPhotos)}, nil
	}
	if !in.Reason.Valid() {
		s.metrics.RecordReturn("rejected")
		return CreateResult{Reason: reasonInvalidReason}, nil
	}

	var (
		result CreateResult
		order  domain.Order
		req    domain.ReturnRequest
	)
	err := s.uow.Within(ctx, func(ctx context.Context, repos domain.Repositories) error {
		var err error
		order, err = repos.Orders.GetForUpdate(ctx, in.OrderID)
		if err != nil {
			return err
		}
		if order.CustomerID != in.CustomerID {
			return domain.ErrAccessDenied
		}

		preview, err := s.preview(ctx, repos, order)
		if err != nil {
			return err
		}
		if !preview.CanReturn {
			result = CreateResult{Reason: preview.Reason}
			return nil
		}
		if in.Reason == domain.ReturnReasonDefective {
			decision, err := s.abuse.CanClaimDefective(ctx, order.CustomerID)
			if err != nil {
				return err
			}
			if !decision.Allowed {
				result = CreateResult{Reason: decision.Reason}
				return nil
			}
		}

		now := s.now()
		req = domain.ReturnRequest{
			ID:                   uuid.NewString(),
			OrderID:              order.ID,
			CustomerID:           order.CustomerID,
			GarageID:             order.GarageID,
			Reason:               in.Reason,
			PhotoURLs:            nonEmpty(in.PhotoURLs),
			ConditionDescription: strings.TrimSpace(in.ConditionDescription),
			ReturnFee:            preview.ReturnFee,
			DeliveryFeeRetained:  preview.DeliveryFeeRetained,
			RefundAmount:         preview.RefundAmount,
			Status:               domain.ReturnStatusPending,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		if err := repos.Returns.Create(ctx, req); err != nil {
			return err
		}
		if _, err := s.abuse.IncrementReturnCount(ctx, order.CustomerID); err != nil {
			return err
		}
		if in.Reason == domain.ReturnReasonDefective {
			if _, err := s.abuse.IncrementDefectiveClaimCount(ctx, order.CustomerID); err != nil {
				return err
			}
		}

		result = CreateResult{
			Success:      true,
			ReturnID:     req.ID,
			Status:       req.Status,
			ReturnFee:    req.ReturnFee,
			RefundAmount: req.RefundAmount,
			Message: fmt.Sprintf("Return request submitted. You will receive %s %s after pickup and inspection.",
				req.RefundAmount.StringFixed(2), order.Currency),
		}
		return nil
	})
	switch {
	case errors.Is(err, domain.ErrReturnAlreadyExists):
		s.metrics.RecordReturn("rejected")
		return CreateResult{Reason: reasonReturnExists}, nil
	case err != nil:
		s.metrics.RecordReturn("error")
		return CreateResult{}, err
	case !result.Success:
		s.metrics.RecordReturn("rejected")
		s.logger.WithFields(log.Fields{"order_id": in.OrderID, "reason": result.Reason}).Info("return request rejected")
		return result, nil
	}

	s.metrics.RecordReturn("created")
	s.logger.WithFields(log.Fields{
		"return_id":     req.ID,
		"order_id":      order.ID,
		"reason":        req.Reason,
		"refund_amount": req.RefundAmount.String(),
	}).Info("return request created")
	s.notifyCreated(ctx, order, req)
	return result, nil
}

// ApproveReturn закрывает заявку, создаёт pending-возврат и переводит заказ в refunded.
// Повторное одобрение возвращает ErrReturnStateConflict.
func (s *Service) ApproveReturn(ctx context.Context, returnID, operatorID, notes string) (DecisionResult, error) {
	if strings.TrimSpace(operatorID) == "" {
		return DecisionResult{}, fmt.Errorf("%w: operator_id is required", domain.ErrInvalidArgument)
	}

	var (
		result DecisionResult
		order  domain.Order
	)
	err := s.uow.Within(ctx, func(ctx context.Context, repos domain.Repositories) error {
		req, err := s.transition(ctx, repos, returnID, domain.ReturnStatusCompleted, operatorID, notes)
		if err != nil {
			return err
		}

		order, err = repos.Orders.GetForUpdate(ctx, req.OrderID)
		if err != nil {
			return err
		}

		now := s.now()
		split := s.policy.SplitReturnFee(req.ReturnFee)
		result = DecisionResult{
			ReturnID:     req.ID,
			OrderID:      req.OrderID,
			Status:       req.Status,
			FeeSplit:     &split,
			RefundAmount: req.RefundAmount,
			Message:      "Return approved and refund queued for processing",
		}

		if req.RefundAmount.IsPositive() {
			seq, err := repos.Refunds.NextSequence(ctx, order.ID)
			if err != nil {
				return fmt.Errorf("next refund sequence: %w", err)
			}
			refund := domain.Refund{
				ID:                  uuid.NewString(),
				OrderID:             order.ID,
				ReturnID:            req.ID,
				Type:                domain.RefundTypeReturn,
				Sequence:            seq,
				OriginalAmount:      order.TotalAmount,
				RefundAmount:        req.RefundAmount,
				FeeRetained:         req.ReturnFee,
				DeliveryFeeRetained: req.DeliveryFeeRetained,
				Currency:            order.Currency,
				PaymentReference:    order.PaymentIntentID,
				Status:              domain.RefundStatusPending,
				Reason:              "Return approved",
				CreatedAt:           now,
				UpdatedAt:           now,
			}
			if err := repos.Refunds.Create(ctx, refund); err != nil {
				return fmt.Errorf("create refund: %w", err)
			}
			result.RefundID = refund.ID
			result.RefundStatus = refund.Status
		}

		if err := repos.Orders.UpdateStatus(ctx, order.ID, domain.OrderStatusRefunded, now); err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		return repos.Timeline.Append(ctx, domain.TimelineEvent{
			OrderID:       order.ID,
			FromStatus:    order.Status,
			ToStatus:      domain.OrderStatusRefunded,
			ChangedBy:     operatorID,
			ChangedByRole: domain.ActorOperations,
			Reason:        "return approved",
			Occurred:      now,
		})
	})
	if err != nil {
		return DecisionResult{}, err
	}

	s.metrics.RecordReturn("approved")
	s.logger.WithFields(log.Fields{
		"return_id":     returnID,
		"order_id":      order.ID,
		"operator_id":   operatorID,
		"refund_amount": result.RefundAmount.String(),
	}).Info("return approved")

	if result.RefundID != "" && s.refunds != nil {
		refund, err := s.refunds.Process(ctx, result.RefundID)
		if err != nil {
			s.logger.WithError(err).WithField("refund_id", result.RefundID).
				Warn("refund submission deferred to reconciliation")
		} else {
			result.RefundStatus = refund.Status
		}
	}

	s.notify(ctx, domain.Notification{
		UserID: order.CustomerID,
		Role:   domain.ActorCustomer,
		Type:   domain.NotificationReturnApproved,
		Title:  "Return approved",
		Message: fmt.Sprintf("Your return for order #%s has been approved. Refund of %s %s will be processed.",
			orderLabel(order), result.RefundAmount.StringFixed(2), order.Currency),
		Data: map[string]any{"order_id": order.ID, "return_id": returnID, "refund_amount": result.RefundAmount.String()},
	})
	return result, nil
}

// RejectReturn отклоняет заявку без возврата средств.
func (s *Service) RejectReturn(ctx context.Context, returnID, operatorID, reason string) (DecisionResult, error) {
	reason = strings.TrimSpace(reason)
	if strings.TrimSpace(operatorID) == "" || reason == "" {
		return DecisionResult{}, fmt.Errorf("%w: operator_id and reason are required", domain.ErrInvalidArgument)
	}

	var req domain.ReturnRequest
	err := s.uow.Within(ctx, func(ctx context.Context, repos domain.Repositories) error {
		var err error
		req, err = s.transition(ctx, repos, returnID, domain.ReturnStatusRejected, operatorID, reason)
		return err
	})
	if err != nil {
		return DecisionResult{}, err
	}

	s.metrics.RecordReturn("rejected_by_operator")
	s.logger.WithFields(log.Fields{
		"return_id":   returnID,
		"operator_id": operatorID,
		"reason":      reason,
	}).Info("return rejected")

	s.notify(ctx, domain.Notification{
		UserID:  req.CustomerID,
		Role:    domain.ActorCustomer,
		Type:    domain.NotificationReturnRejected,
		Title:   "Return request rejected",
		Message: fmt.Sprintf("Your return request was rejected: %s", reason),
		Data:    map[string]any{"order_id": req.OrderID, "return_id": req.ID, "reason": reason},
	})
	return DecisionResult{
		ReturnID:     req.ID,
		OrderID:      req.OrderID,
		Status:       req.Status,
		RefundAmount: decimal.Zero,
		Message:      "Return request rejected",
	}, nil
}

// SchedulePickup назначает забор запчасти у клиента.
func (s *Service) SchedulePickup(ctx context.Context, returnID, operatorID, notes string) (domain.ReturnRequest, error) {
	req, err := s.step(ctx, returnID, domain.ReturnStatusPickupScheduled, operatorID, notes)
	if err != nil {
		return domain.ReturnRequest{}, err
	}
	s.notify(ctx, domain.Notification{
		UserID:  req.CustomerID,
		Role:    domain.ActorCustomer,
		Type:    domain.NotificationReturnPickup,
		Title:   "Return pickup scheduled",
		Message: "A driver will collect the part for your return soon",
		Data:    map[string]any{"order_id": req.OrderID, "return_id": req.ID},
	})
	return req, nil
}

// MarkPickedUp фиксирует, что запчасть забрана.
func (s *Service) MarkPickedUp(ctx context.Context, returnID, operatorID, notes string) (domain.ReturnRequest, error) {
	return s.step(ctx, returnID, domain.ReturnStatusPickedUp, operatorID, notes)
}

// MarkInspected фиксирует результат осмотра.
func (s *Service) MarkInspected(ctx context.Context, returnID, operatorID, notes string) (domain.ReturnRequest, error) {
	return s.step(ctx, returnID, domain.ReturnStatusInspected, operatorID, notes)
}

// ListOpenReturns возвращает незакрытые заявки, старые первыми.
func (s *Service) ListOpenReturns(ctx context.Context, limit int) ([]domain.ReturnRequest, error) {
	if limit <= 0 {
		limit = defaultOpenReturnLimit
	}
	return s.uow.Repositories().Returns.ListByStatus(ctx, domain.OpenReturnStatuses(), limit)
}

// Get возвращает заявку, видимую участнику.
func (s *Service) Get(ctx context.Context, returnID string, actor domain.Actor) (domain.ReturnRequest, error) {
	req, err := s.uow.Repositories().Returns.Get(ctx, returnID)
	if err != nil {
		return domain.ReturnRequest{}, err
	}
	switch {
	case actor.Role == domain.ActorOperations && actor.ID != "":
	case actor.Role == domain.ActorCustomer && actor.ID == req.CustomerID:
	case actor.Role == domain.ActorGarage && actor.ID == req.GarageID:
	default:
		return domain.ReturnRequest{}, domain.ErrAccessDenied
	}
	return req, nil
}

func (s *Service) step(ctx context.Context, returnID string, to domain.ReturnStatus, operatorID, notes string) (domain.ReturnRequest, error) {
	if strings.TrimSpace(operatorID) == "" {
		return domain.ReturnRequest{}, fmt.Errorf("%w: operator_id is required", domain.ErrInvalidArgument)
	}

	var req domain.ReturnRequest
	err := s.uow.Within(ctx, func(ctx context.Context, repos domain.Repositories) error {
		var err error
		req, err = s.transition(ctx, repos, returnID, to, operatorID, notes)
		return err
	})
	if err != nil {
		return domain.ReturnRequest{}, err
	}

	s.metrics.RecordReturn(string(to))
	s.logger.WithFields(log.Fields{
		"return_id":   returnID,
		"status":      to,
		"operator_id": operatorID,
	}).Info("return request advanced")
	return req, nil
}

// transition переводит заблокированную заявку по таблице состояний.
func (s *Service) transition(
	ctx context.Context,
	repos domain.Repositories,
	returnID string,
	to domain.ReturnStatus,
	operatorID, notes string,
) (domain.ReturnRequest, error) {
	req, err := repos.Returns.GetForUpdate(ctx, returnID)
	if err != nil {
		return domain.ReturnRequest{}, err
	}
	if !req.Status.CanTransition(to) {
		return domain.ReturnRequest{}, fmt.Errorf("%w: cannot move return from %s to %s",
			domain.ErrReturnStateConflict, req.Status, to)
	}

	now := s.now()
	req.Status = to
	req.UpdatedAt = now
	req.ProcessedBy = operatorID
	if notes = strings.TrimSpace(notes); notes != "" {
		req.AdminNotes = notes
	}
	if to.IsTerminal() {
		req.ProcessedAt = &now
	}
	if err := repos.Returns.Update(ctx, req); err != nil {
		return domain.ReturnRequest{}, fmt.Errorf("update return request: %w", err)
	}
	return req, nil
}

func (s *Service) notifyCreated(ctx context.Context, order domain.Order, req domain.ReturnRequest) {
	data := map[string]any{"order_id": order.ID, "return_id": req.ID}

	s.notify(ctx, domain.Notification{
		UserID:  order.GarageID,
		Role:    domain.ActorGarage,
		Type:    domain.NotificationReturnRequested,
		Title:   "Return requested",
		Message: fmt.Sprintf("Customer requested return for order #%s. Reason: %s", orderLabel(order), req.Reason),
		Data:    data,
	})
	s.notify(ctx, domain.Notification{
		UserID:  order.CustomerID,
		Role:    domain.ActorCustomer,
		Type:    domain.NotificationReturnSubmitted,
		Title:   "Return request submitted",
		Message: fmt.Sprintf("Your return request for order #%s has been submitted. We'll schedule a pickup soon.", orderLabel(order)),
		Data:    data,
	})

	if s.notifier == nil {
		return
	}
	err := s.notifier.Emit(ctx, domain.ChannelOperations, "new_return_request", map[string]any{
		"return_id":       req.ID,
		"order_id":        order.ID,
		"order_number":    order.OrderNumber,
		"customer_id":     order.CustomerID,
		"garage_id":       order.GarageID,
		"reason":          string(req.Reason),
		"refund_amount":   req.RefundAmount.String(),
		"photos_count":    len(req.PhotoURLs),
		"requires_action": true,
	})
	if err != nil {
		s.logger.WithError(err).WithField("return_id", req.ID).Warn("failed to emit operations event")
	}
}

func (s *Service) notify(ctx context.Context, n domain.Notification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"user_id": n.UserID,
			"type":    n.Type,
		}).Warn("failed to send notification")
	}
}

func orderLabel(order domain.Order) string {
	if order.OrderNumber != "" {
		return order.OrderNumber
	}
	return order.ID
}

func nonEmpty(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}
