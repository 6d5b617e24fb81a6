package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/metrics"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/policy"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/service/cancellation"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/service/fraud"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/service/httpapi"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/service/idempotency"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/service/notify"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/service/outbox"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/service/refund"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/service/returns"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/service/sla"
)

// components - собранные сервисы и фоновые воркеры.
type components struct {
	api httpapi.Services

	outboxWorker    *outbox.Worker
	reconcileWorker *refund.ReconcileWorker
	slaWorker       *sla.Worker
	cleanupWorker   *idempotency.CleanupWorker
}

func buildComponents(
	cfg Config,
	deps *runtimeDependencies,
	gateway domain.PaymentGateway,
	publisher, dlq domain.OutboxPublisher,
	lifecycleMetrics *metrics.LifecycleMetrics,
	table policy.Table,
	logger *log.Entry,
) components {
	notifier := notify.NewOutboxNotifier(deps.outboxRepo, logger.WithField("component", "notifier"))

	abuse := fraud.NewService(deps.store,
		fraud.WithPolicy(table),
		fraud.WithMetrics(lifecycleMetrics),
		fraud.WithLogger(logger.WithField("component", "fraud")),
	)
	processor := refund.NewProcessor(deps.store, gateway,
		refund.WithMetrics(lifecycleMetrics),
		refund.WithLogger(logger.WithField("component", "refund-processor")),
		refund.WithNotifier(notifier),
	)
	cancellations := cancellation.NewService(deps.store, abuse,
		cancellation.WithPolicy(table),
		cancellation.WithMetrics(lifecycleMetrics),
		cancellation.WithLogger(logger.WithField("component", "cancellation")),
		cancellation.WithNotifier(notifier),
		cancellation.WithRefundProcessor(processor),
	)
	returnService := returns.NewService(deps.store, abuse,
		returns.WithPolicy(table),
		returns.WithMetrics(lifecycleMetrics),
		returns.WithLogger(logger.WithField("component", "returns")),
		returns.WithNotifier(notifier),
		returns.WithRefundProcessor(processor),
	)

	outboxOpts := []outbox.Option{
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	}
	if dlq != nil {
		outboxOpts = append(outboxOpts, outbox.WithDLQPublisher(dlq))
	}

	c := components{
		api: httpapi.Services{
			Cancellations: cancellations,
			Returns:       returnService,
			Fraud:         abuse,
			Refunds:       processor,
			Store:         deps.store,
		},
		outboxWorker: outbox.NewWorker(deps.outboxRepo, publisher, outboxOpts...),
		reconcileWorker: refund.NewReconcileWorker(deps.store.Repositories().Refunds, processor,
			refund.WithWorkerLogger(logger.WithField("component", "refund-reconcile")),
			refund.WithWorkerMetrics(lifecycleMetrics),
			refund.WithPollInterval(cfg.RefundReconcileInterval),
			refund.WithBatchSize(cfg.RefundReconcileBatchSize),
			refund.WithMaxAttempts(cfg.RefundMaxAttempts),
		),
	}

	if cfg.SLAAutoCancelEnabled {
		c.slaWorker = sla.NewWorker(deps.store, cancellations,
			sla.WithLogger(logger.WithField("component", "sla-auto-cancel")),
			sla.WithNotifier(notifier),
			sla.WithInterval(cfg.SLAAutoCancelInterval),
			sla.WithThreshold(cfg.SLAAutoCancelThreshold),
		)
	}
	if !deps.expiresItself {
		c.cleanupWorker = idempotency.NewCleanupWorker(deps.idempotencyRepo,
			idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
			idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
			idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		)
	}

	return c
}
