package sla

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/service/cancellation"
)

const (
	defaultInterval  = 6 * time.Hour
	defaultThreshold = 72 * time.Hour
	defaultBatchSize = 20

	// SystemActorID - идентификатор системного оператора для автоотмен.
	SystemActorID = "00000000-0000-0000-0000-000000000000"
)

var autoCancellations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lifecycle_sla_auto_cancellations_total",
	Help: "Total number of SLA auto-cancellation attempts grouped by result.",
}, []string{"result"})

// Canceller выполняет отмену от имени operations.
type Canceller interface {
	Execute(ctx context.Context, in cancellation.ExecuteInput) (cancellation.Result, error)
}

// Report - итог одного прогона.
type Report struct {
	CancelledCount int      `json:"cancelled_count"`
	OrderNumbers   []string `json:"order_numbers"`
}

// WorkerOptions задаёт параметры SLA worker.
type WorkerOptions struct {
	Logger    *log.Entry
	Notifier  domain.Notifier
	Interval  time.Duration
	Threshold time.Duration
	BatchSize int
	Now       func() time.Time
}

// Option настраивает Worker.
type Option func(*WorkerOptions)

func WithLogger(logger *log.Entry) Option {
	return func(opts *WorkerOptions) { opts.Logger = logger }
}

func WithNotifier(n domain.Notifier) Option {
	return func(opts *WorkerOptions) { opts.Notifier = n }
}

func WithInterval(interval time.Duration) Option {
	return func(opts *WorkerOptions) { opts.Interval = interval }
}

// WithThreshold задаёт, сколько заказ может провести в preparing.
func WithThreshold(threshold time.Duration) Option {
	return func(opts *WorkerOptions) { opts.Threshold = threshold }
}

func WithBatchSize(size int) Option {
	return func(opts *WorkerOptions) { opts.BatchSize = size }
}

func WithClock(now func() time.Time) Option {
	return func(opts *WorkerOptions) { opts.Now = now }
}

// Worker отменяет заказы, застрявшие у гаража в подготовке, с полным возвратом клиенту.
type Worker struct {
	uow       domain.UnitOfWork
	canceller Canceller
	notifier  domain.Notifier
	logger    *log.Entry
	interval  time.Duration
	threshold time.Duration
	batchSize int
	now       func() time.Time
}

// NewWorker создаёт SLA worker.
func NewWorker(uow domain.UnitOfWork, canceller Canceller, options ...Option) *Worker {
	opts := WorkerOptions{
		Interval:  defaultInterval,
		Threshold: defaultThreshold,
		BatchSize: defaultBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "sla-auto-cancel")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Threshold <= 0 {
		opts.Threshold = defaultThreshold
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Worker{
		uow:       uow,
		canceller: canceller,
		notifier:  opts.Notifier,
		logger:    opts.Logger,
		interval:  opts.Interval,
		threshold: opts.Threshold,
		batchSize: opts.BatchSize,
		now:       opts.Now,
	}
}

// Run запускает периодическую проверку до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runLogged(ctx)
		}
	}
}

func (w *Worker) runLogged(ctx context.Context) {
	if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
		w.logger.WithError(err).Error("sla auto-cancel run failed")
	}
}

// RunOnce отменяет до batchSize просроченных заказов. Ошибка по одному заказу не прерывает прогон.
func (w *Worker) RunOnce(ctx context.Context) (Report, error) {
	report := Report{OrderNumbers: []string{}}

	orders, err := w.uow.Repositories().Orders.ListStale(ctx, domain.OrderStatusPreparing, w.now().Add(-w.threshold), w.batchSize)
	if err != nil {
		return report, fmt.Errorf("list stale orders: %w", err)
	}
	if len(orders) == 0 {
		w.logger.Debug("no sla-breaching orders found")
		return report, nil
	}

	hours := int(w.threshold.Hours())
	for _, order := range orders {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		fields := log.Fields{
			"order_id":  order.ID,
			"garage_id": order.GarageID,
		}

		result, err := w.canceller.Execute(ctx, cancellation.ExecuteInput{
			OrderID:    order.ID,
			Initiator:  domain.Actor{ID: SystemActorID, Role: domain.ActorOperations},
			ReasonCode: domain.ReasonGarageSLABreach,
			ReasonText: fmt.Sprintf("Auto-cancel: order stuck in preparing for %d+ hours. SLA breach by garage.", hours),
			AfterApply: w.recordBreach(hours),
		})
		if err != nil {
			autoCancellations.WithLabelValues("error").Inc()
			w.logger.WithError(err).WithFields(fields).Error("failed to auto-cancel order")
			continue
		}
		if !result.Success {
			autoCancellations.WithLabelValues("skipped").Inc()
			w.logger.WithFields(fields).WithField("reason", result.Reason).Info("sla auto-cancel skipped")
			continue
		}

		w.apologise(ctx, order)

		autoCancellations.WithLabelValues("cancelled").Inc()
		report.CancelledCount++
		report.OrderNumbers = append(report.OrderNumbers, orderLabel(order))
		w.logger.WithFields(fields).Info("order auto-cancelled for sla breach")
	}

	if report.CancelledCount > 0 && w.notifier != nil {
		err := w.notifier.Emit(ctx, domain.ChannelOperations, "sla_orders_cancelled", map[string]any{
			"count":         report.CancelledCount,
			"order_numbers": report.OrderNumbers,
			"reason":        fmt.Sprintf("Stuck in preparing > %dh", hours),
			"timestamp":     w.now().Format(time.RFC3339),
		})
		if err != nil {
			w.logger.WithError(err).Warn("failed to emit sla summary")
		}
	}

	w.logger.WithField("cancelled_count", report.CancelledCount).Info("sla auto-cancel run completed")
	return report, nil
}

// recordBreach пишет предупреждение в реестр штрафов гаража в транзакции автоотмены,
// поэтому отмена без предупреждения не фиксируется.
func (w *Worker) recordBreach(hours int) func(ctx context.Context, repos domain.Repositories, order domain.Order) error {
	return func(ctx context.Context, repos domain.Repositories, order domain.Order) error {
		err := repos.Penalties.Create(ctx, domain.GaragePenalty{
			ID:        uuid.NewString(),
			GarageID:  order.GarageID,
			OrderID:   order.ID,
			Type:      domain.PenaltySLABreach,
			Amount:    decimal.Zero,
			Status:    domain.PenaltyWarning,
			Notes:     fmt.Sprintf("Auto-flagged: order stuck in preparing > %dh", hours),
			CreatedAt: w.now(),
		})
		if err != nil {
			return fmt.Errorf("record sla breach penalty: %w", err)
		}
		return nil
	}
}

func (w *Worker) apologise(ctx context.Context, order domain.Order) {
	if w.notifier == nil {
		return
	}
	err := w.notifier.Notify(ctx, domain.Notification{
		UserID: order.CustomerID,
		Role:   domain.ActorCustomer,
		Type:   domain.NotificationSLACancelApology,
		Title:  "Order cancelled - delay apology",
		Message: fmt.Sprintf("We apologize! Order #%s was cancelled because the garage took too long. A full refund is on its way.",
			orderLabel(order)),
		Data: map[string]any{
			"order_id":     order.ID,
			"order_number": order.OrderNumber,
			"reason":       string(domain.ReasonGarageSLABreach),
		},
	})
	if err != nil {
		w.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to send sla apology")
	}
}

func orderLabel(order domain.Order) string {
	if order.OrderNumber != "" {
		return order.OrderNumber
	}
	return order.ID
}
