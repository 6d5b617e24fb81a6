package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// OrderRepository описывает доступ к заказам. Движок меняет только статус.
type OrderRepository interface {
	// Create сохраняет новый заказ (загрузка данных и тесты).
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// GetForUpdate читает заказ под row-lock до конца транзакции.
	GetForUpdate(ctx context.Context, id string) (Order, error)
	// UpdateStatus переводит заказ в новый статус.
	UpdateStatus(ctx context.Context, id string, status OrderStatus, at time.Time) error
	// ListStale возвращает заказы в статусе status, не менявшиеся с before.
	ListStale(ctx context.Context, status OrderStatus, before time.Time, limit int) ([]Order, error)
}

// ReturnRepository хранит заявки на возврат.
type ReturnRepository interface {
	// Create сохраняет заявку; вторая заявка по тому же заказу даёт ErrReturnAlreadyExists.
	Create(ctx context.Context, req ReturnRequest) error
	Get(ctx context.Context, id string) (ReturnRequest, error)
	GetForUpdate(ctx context.Context, id string) (ReturnRequest, error)
	// GetByOrder возвращает заявку по заказу или ErrReturnRequestNotFound.
	GetByOrder(ctx context.Context, orderID string) (ReturnRequest, error)
	Update(ctx context.Context, req ReturnRequest) error
	// ListByStatus возвращает заявки в перечисленных статусах, старые первыми.
	ListByStatus(ctx context.Context, statuses []ReturnStatus, limit int) ([]ReturnRequest, error)
	CountByStatus(ctx context.Context, status ReturnStatus) (int, error)
	// SumRefundSince суммирует refund_amount заявок в статусе status, созданных не раньше since.
	SumRefundSince(ctx context.Context, status ReturnStatus, since time.Time) (decimal.Decimal, error)
}

// AbuseRepository хранит помесячные счётчики клиентов.
type AbuseRepository interface {
	// Get возвращает строку месяца; если её нет, возвращается нулевая строка без ошибки.
	Get(ctx context.Context, customerID, monthYear string) (CustomerAbuseTracking, error)
	// Increment атомарно создаёт строку или увеличивает счётчик и возвращает новое состояние.
	Increment(ctx context.Context, customerID, monthYear string, counter AbuseCounter, at time.Time) (CustomerAbuseTracking, error)
	// SaveFlags записывает флаг и признак ручной проверки, создавая строку при необходимости.
	SaveFlags(ctx context.Context, row CustomerAbuseTracking) error
	// ListFlagged возвращает строки месяца с флагом выше none: самые тяжёлые флаги первыми,
	// внутри флага по убыванию числа возвратов. FlagNone в only означает любой флаг.
	ListFlagged(ctx context.Context, monthYear string, only FlagLevel, limit int) ([]CustomerAbuseTracking, error)
	// CountFlagged считает клиентов месяца с флагом выше none.
	CountFlagged(ctx context.Context, monthYear string) (int, error)
}

// GarageRepository хранит подотчётность гаражей.
type GarageRepository interface {
	// Get возвращает строку гаража; нулевая строка, если гараж ещё не отменял заказы.
	Get(ctx context.Context, garageID string) (GarageAccountability, error)
	// ResetIfNewMonth обнуляет счётчик, если последний сброс был в другом календарном месяце.
	ResetIfNewMonth(ctx context.Context, garageID string, now time.Time) (GarageAccountability, error)
	// IncrementCancellation атомарно сбрасывает (при смене месяца) и увеличивает счётчик.
	IncrementCancellation(ctx context.Context, garageID string, now time.Time) (GarageAccountability, error)
	// SaveSanctions записывает маркеры санкций лестницы.
	SaveSanctions(ctx context.Context, row GarageAccountability) error
}

// PenaltyRepository - реестр штрафов гаражей.
type PenaltyRepository interface {
	Create(ctx context.Context, penalty GaragePenalty) error
	ListByGarage(ctx context.Context, garageID string, limit int) ([]GaragePenalty, error)
	PendingSummary(ctx context.Context, garageID string) (PenaltySummary, error)
	// SumSince суммирует штрафы всех гаражей, выписанные не раньше since.
	SumSince(ctx context.Context, since time.Time) (decimal.Decimal, error)
}

// RefundRepository - реестр возвратов средств.
type RefundRepository interface {
	Create(ctx context.Context, refund Refund) error
	Get(ctx context.Context, id string) (Refund, error)
	GetForUpdate(ctx context.Context, id string) (Refund, error)
	// NextSequence возвращает номер следующего возврата по заказу.
	NextSequence(ctx context.Context, orderID string) (int, error)
	Update(ctx context.Context, refund Refund) error
	ListByStatus(ctx context.Context, status RefundStatus, limit int) ([]Refund, error)
	// ListForReconcile возвращает pending-записи старше pendingBefore
	// и failed-записи с числом попыток меньше maxAttempts.
	ListForReconcile(ctx context.Context, pendingBefore time.Time, maxAttempts, limit int) ([]Refund, error)
}

// CancellationRepository хранит историю отмен.
type CancellationRepository interface {
	Create(ctx context.Context, rec CancellationRecord) error
	// LockCustomer держит блокировку клиента до конца текущей транзакции.
	// Отмены разных заказов одного клиента после неё видят отмены друг друга.
	LockCustomer(ctx context.Context, customerID string) error
	// CountByCustomer считает отмены, инициированные самим клиентом.
	CountByCustomer(ctx context.Context, customerID string) (int, error)
	List(ctx context.Context, filter CancellationFilter) ([]CancellationRecord, error)
}

// TimelineRepository хранит историю статусов заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// AuditRepository - журнал ручных действий операторов.
type AuditRepository interface {
	Append(ctx context.Context, entry AuditEntry) error
	List(ctx context.Context, entityType, entityID string) ([]AuditEntry, error)
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	// Release удаляет ключ, чтобы клиент мог повторить запрос после сбоя сервера.
	Release(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// Repositories - набор репозиториев одной транзакции.
type Repositories struct {
	Orders        OrderRepository
	Returns       ReturnRepository
	Abuse         AbuseRepository
	Garages       GarageRepository
	Penalties     PenaltyRepository
	Refunds       RefundRepository
	Cancellations CancellationRepository
	Timeline      TimelineRepository
	Audit         AuditRepository
}

// UnitOfWork выполняет бизнес-операцию в одной транзакции хранилища.
type UnitOfWork interface {
	// Within выполняет fn в транзакции. Если ctx уже несёт транзакцию, fn присоединяется к ней.
	// Ошибка fn откатывает все изменения.
	Within(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
	// Repositories возвращает репозитории вне транзакции (чтение для превью).
	Repositories() Repositories
}
