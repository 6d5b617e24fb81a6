package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// LifecycleMetrics содержит метрики отмен, возвратов и санкций.
// Все методы безопасны для nil-получателя, чтобы сервисы работали без метрик в тестах.
type LifecycleMetrics struct {
	cancellations     *prometheus.CounterVec
	cancellationFees  prometheus.Counter
	returns           *prometheus.CounterVec
	refunds           *prometheus.CounterVec
	garagePenalties   *prometheus.CounterVec
	flagChanges       *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	refundBacklog     *prometheus.GaugeVec
}

// NewLifecycleMetrics регистрирует метрики в глобальном registry.
func NewLifecycleMetrics() *LifecycleMetrics {
	return NewLifecycleMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewLifecycleMetricsWithRegisterer регистрирует метрики в переданном registry.
func NewLifecycleMetricsWithRegisterer(registerer prometheus.Registerer) *LifecycleMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &LifecycleMetrics{
		cancellations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "lifecycle_cancellations_total",
			Help: "Cancellation executions grouped by stage, initiator role and result",
		}, []string{"stage", "initiator", "result"}),
		cancellationFees: registerCounter(registerer, prometheus.CounterOpts{
			Name: "lifecycle_cancellation_fee_total",
			Help: "Sum of cancellation fees retained, in currency units",
		}),
		returns: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "lifecycle_returns_total",
			Help: "Return workflow actions grouped by action",
		}, []string{"action"}),
		refunds: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "lifecycle_refunds_total",
			Help: "Refund gateway outcomes grouped by refund type and result",
		}, []string{"type", "result"}),
		garagePenalties: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "lifecycle_garage_penalties_total",
			Help: "Garage accountability ladder actions applied",
		}, []string{"action"}),
		flagChanges: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "lifecycle_flag_changes_total",
			Help: "Customer abuse flag changes grouped by new level and source",
		}, []string{"level", "source"}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "lifecycle_operation_duration_seconds",
			Help:    "Duration of lifecycle operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"}),
		refundBacklog: registerGaugeVec(registerer, prometheus.GaugeOpts{
			Name: "lifecycle_refund_backlog",
			Help: "Refunds waiting for the gateway grouped by status",
		}, []string{"status"}),
	}
}

// RecordCancellation учитывает попытку отмены.
func (m *LifecycleMetrics) RecordCancellation(stage, initiator, result string, fee decimal.Decimal) {
	if m == nil {
		return
	}
	m.cancellations.WithLabelValues(stage, initiator, result).Inc()
	if fee.IsPositive() {
		m.cancellationFees.Add(fee.InexactFloat64())
	}
}

// RecordReturn учитывает шаг процесса возврата.
func (m *LifecycleMetrics) RecordReturn(action string) {
	if m == nil {
		return
	}
	m.returns.WithLabelValues(action).Inc()
}

// RecordRefund учитывает ответ платёжного шлюза.
func (m *LifecycleMetrics) RecordRefund(refundType, result string) {
	if m == nil {
		return
	}
	m.refunds.WithLabelValues(refundType, result).Inc()
}

// RecordGaragePenalty учитывает применённую ступень лестницы.
func (m *LifecycleMetrics) RecordGaragePenalty(action string) {
	if m == nil {
		return
	}
	m.garagePenalties.WithLabelValues(action).Inc()
}

// RecordFlagChange учитывает изменение флага клиента (source: auto|operator).
func (m *LifecycleMetrics) RecordFlagChange(level, source string) {
	if m == nil {
		return
	}
	m.flagChanges.WithLabelValues(level, source).Inc()
}

// ObserveOperation записывает длительность операции.
func (m *LifecycleMetrics) ObserveOperation(operation string, duration time.Duration) {
	if m == nil {
		return
	}
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetRefundBacklog выставляет размер очереди возвратов по статусу.
func (m *LifecycleMetrics) SetRefundBacklog(status string, count int) {
	if m == nil {
		return
	}
	m.refundBacklog.WithLabelValues(status).Set(float64(count))
}
