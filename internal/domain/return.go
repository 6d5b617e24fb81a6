package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReturnReason - причина возврата, заявленная клиентом.
type ReturnReason string

const (
	ReturnReasonUnused    ReturnReason = "unused"
	ReturnReasonDefective ReturnReason = "defective"
	ReturnReasonWrongPart ReturnReason = "wrong_part"
)

// Valid проверяет, что причина из поддерживаемого набора.
func (r ReturnReason) Valid() bool {
	switch r {
	case ReturnReasonUnused, ReturnReasonDefective, ReturnReasonWrongPart:
		return true
	default:
		return false
	}
}

// ReturnStatus описывает жизненный цикл заявки на возврат.
type ReturnStatus string

const (
	ReturnStatusPending         ReturnStatus = "pending"
	ReturnStatusPickupScheduled ReturnStatus = "pickup_scheduled"
	ReturnStatusPickedUp        ReturnStatus = "picked_up"
	ReturnStatusInspected       ReturnStatus = "inspected"
	ReturnStatusCompleted       ReturnStatus = "completed"
	ReturnStatusRejected        ReturnStatus = "rejected"
)

// IsTerminal сообщает, что заявка закрыта.
func (s ReturnStatus) IsTerminal() bool {
	return s == ReturnStatusCompleted || s == ReturnStatusRejected
}

// Решения approve/reject разрешены и до осмотра, чтобы операторы могли ускорить возврат.
var returnTransitions = map[ReturnStatus][]ReturnStatus{
	ReturnStatusPending:         {ReturnStatusPickupScheduled, ReturnStatusCompleted, ReturnStatusRejected},
	ReturnStatusPickupScheduled: {ReturnStatusPickedUp},
	ReturnStatusPickedUp:        {ReturnStatusInspected, ReturnStatusCompleted, ReturnStatusRejected},
	ReturnStatusInspected:       {ReturnStatusCompleted, ReturnStatusRejected},
}

// CanTransition проверяет переход заявки по таблице состояний.
func (s ReturnStatus) CanTransition(to ReturnStatus) bool {
	for _, next := range returnTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// OpenReturnStatuses - статусы, в которых заявка ещё требует действий.
func OpenReturnStatuses() []ReturnStatus {
	return []ReturnStatus{
		ReturnStatusPending,
		ReturnStatusPickupScheduled,
		ReturnStatusPickedUp,
		ReturnStatusInspected,
	}
}

// ReturnRequest - заявка клиента на возврат доставленной запчасти.
type ReturnRequest struct {
	ID                   string
	OrderID              string
	CustomerID           string
	GarageID             string
	Reason               ReturnReason
	PhotoURLs            []string
	ConditionDescription string
	ReturnFee            decimal.Decimal
	DeliveryFeeRetained  decimal.Decimal
	RefundAmount         decimal.Decimal
	Status               ReturnStatus
	AdminNotes           string
	ProcessedBy          string
	ProcessedAt          *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}
