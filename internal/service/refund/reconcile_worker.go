package refund

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/metrics"
)

const (
	defaultPollInterval = 30 * time.Second
	defaultBatchSize    = 50
	defaultMaxAttempts  = 5
	defaultGracePeriod  = 2 * time.Minute
)

var reconcileAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lifecycle_refund_reconcile_attempts_total",
	Help: "Total number of refund reconciliation attempts grouped by result.",
}, []string{"result"})

// WorkerOptions задаёт параметры сверки.
type WorkerOptions struct {
	Logger       *log.Entry
	Metrics      *metrics.LifecycleMetrics
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	GracePeriod  time.Duration
	Now          func() time.Time
}

// WorkerOption настраивает ReconcileWorker.
type WorkerOption func(*WorkerOptions)

func WithWorkerLogger(logger *log.Entry) WorkerOption {
	return func(opts *WorkerOptions) { opts.Logger = logger }
}

func WithWorkerMetrics(m *metrics.LifecycleMetrics) WorkerOption {
	return func(opts *WorkerOptions) { opts.Metrics = m }
}

// WithPollInterval задаёт частоту опроса реестра.
func WithPollInterval(interval time.Duration) WorkerOption {
	return func(opts *WorkerOptions) { opts.PollInterval = interval }
}

// WithBatchSize задаёт размер батча.
func WithBatchSize(batchSize int) WorkerOption {
	return func(opts *WorkerOptions) { opts.BatchSize = batchSize }
}

// WithMaxAttempts задаёт число попыток, после которого failed-запись ждёт оператора.
func WithMaxAttempts(maxAttempts int) WorkerOption {
	return func(opts *WorkerOptions) { opts.MaxAttempts = maxAttempts }
}

// WithGracePeriod задаёт возраст pending-записи, после которого её подхватывает сверка.
func WithGracePeriod(grace time.Duration) WorkerOption {
	return func(opts *WorkerOptions) { opts.GracePeriod = grace }
}

func WithWorkerClock(now func() time.Time) WorkerOption {
	return func(opts *WorkerOptions) { opts.Now = now }
}

// ReconcileWorker дожимает возвраты, которые не дошли до провайдера сразу после коммита.
type ReconcileWorker struct {
	repo         domain.RefundRepository
	processor    *Processor
	metrics      *metrics.LifecycleMetrics
	logger       *log.Entry
	pollInterval time.Duration
	batchSize    int
	maxAttempts  int
	gracePeriod  time.Duration
	now          func() time.Time
}

// NewReconcileWorker создаёт воркер сверки.
func NewReconcileWorker(repo domain.RefundRepository, processor *Processor, options ...WorkerOption) *ReconcileWorker {
	opts := WorkerOptions{
		PollInterval: defaultPollInterval,
		BatchSize:    defaultBatchSize,
		MaxAttempts:  defaultMaxAttempts,
		GracePeriod:  defaultGracePeriod,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "refund-reconcile")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.GracePeriod < 0 {
		opts.GracePeriod = 0
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &ReconcileWorker{
		repo:         repo,
		processor:    processor,
		metrics:      opts.Metrics,
		logger:       logger,
		pollInterval: opts.PollInterval,
		batchSize:    opts.BatchSize,
		maxAttempts:  opts.MaxAttempts,
		gracePeriod:  opts.GracePeriod,
		now:          opts.Now,
	}
}

// Run запускает периодическую сверку до отмены ctx.
func (w *ReconcileWorker) Run(ctx context.Context) {
	if w.repo == nil || w.processor == nil {
		w.logger.Warn("refund reconcile worker is disabled: repo or processor is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce выполняет один цикл сверки и возвращает число успешно проведённых возвратов.
func (w *ReconcileWorker) ProcessOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}

	rows, err := w.repo.ListForReconcile(ctx, w.now().Add(-w.gracePeriod), w.maxAttempts, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to list refunds for reconciliation")
		return 0
	}

	succeeded := 0
	for _, row := range rows {
		if ctx.Err() != nil {
			break
		}

		updated, err := w.processor.Process(ctx, row.ID)
		switch {
		case err != nil:
			reconcileAttempts.WithLabelValues("error").Inc()
			if updated.Attempts >= w.maxAttempts {
				w.logger.WithError(err).WithFields(log.Fields{
					"refund_id": row.ID,
					"order_id":  row.OrderID,
					"attempts":  updated.Attempts,
				}).Error("refund exhausted reconciliation attempts, manual retry required")
			}
		case updated.Status == domain.RefundStatusSucceeded:
			reconcileAttempts.WithLabelValues("succeeded").Inc()
			succeeded++
		default:
			reconcileAttempts.WithLabelValues(string(updated.Status)).Inc()
		}
	}

	w.refreshBacklogMetrics(ctx)
	return succeeded
}

func (w *ReconcileWorker) refreshBacklogMetrics(ctx context.Context) {
	if w.metrics == nil {
		return
	}
	for _, status := range []domain.RefundStatus{domain.RefundStatusPending, domain.RefundStatusFailed} {
		rows, err := w.repo.ListByStatus(ctx, status, 0)
		if err != nil {
			w.logger.WithError(err).WithField("status", status).Warn("failed to collect refund backlog")
			continue
		}
		w.metrics.SetRefundBacklog(string(status), len(rows))
	}
}
