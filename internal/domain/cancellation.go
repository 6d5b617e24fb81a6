package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CancellationReason - код причины отмены.
type CancellationReason string

const (
	// Клиент.
	ReasonChangedMind      CancellationReason = "changed_mind"
	ReasonFoundBetterPrice CancellationReason = "found_better_price"
	ReasonTooSlow          CancellationReason = "too_slow"
	ReasonWrongPartOrdered CancellationReason = "wrong_part_ordered"
	ReasonNoLongerNeeded   CancellationReason = "no_longer_needed"
	ReasonCustomerOther    CancellationReason = "customer_other"

	// Гараж.
	ReasonStockOut       CancellationReason = "stock_out"
	ReasonPartDefective  CancellationReason = "part_defective"
	ReasonWrongPartIdent CancellationReason = "wrong_part_identified"
	ReasonCannotFulfill  CancellationReason = "cannot_fulfill"
	ReasonGarageOther    CancellationReason = "garage_other"

	// Операционная команда.
	ReasonFraudSuspected  CancellationReason = "fraud_suspected"
	ReasonGarageSLABreach CancellationReason = "garage_sla_breach"
	ReasonCustomerRequest CancellationReason = "customer_request"
	ReasonOperationsOther CancellationReason = "operations_other"
)

var reasonsByRole = map[ActorRole][]CancellationReason{
	ActorCustomer: {
		ReasonChangedMind, ReasonFoundBetterPrice, ReasonTooSlow,
		ReasonWrongPartOrdered, ReasonNoLongerNeeded, ReasonCustomerOther,
	},
	ActorGarage: {
		ReasonStockOut, ReasonPartDefective, ReasonWrongPartIdent,
		ReasonCannotFulfill, ReasonGarageOther,
	},
	ActorOperations: {
		ReasonFraudSuspected, ReasonGarageSLABreach, ReasonCustomerRequest, ReasonOperationsOther,
	},
}

// CancellationReasonsFor возвращает допустимые коды причин для роли.
func CancellationReasonsFor(role ActorRole) []CancellationReason {
	return append([]CancellationReason(nil), reasonsByRole[role]...)
}

// DefaultCancellationReason - код по умолчанию, если инициатор его не указал.
func DefaultCancellationReason(role ActorRole) CancellationReason {
	switch role {
	case ActorGarage:
		return ReasonGarageOther
	case ActorOperations:
		return ReasonOperationsOther
	default:
		return ReasonCustomerOther
	}
}

// AllowedFor проверяет, что код причины разрешён для роли.
func (c CancellationReason) AllowedFor(role ActorRole) bool {
	for _, r := range reasonsByRole[role] {
		if r == c {
			return true
		}
	}
	return false
}

// CancellationRecord - зафиксированная отмена с финансовым расчётом.
type CancellationRecord struct {
	ID                  string
	OrderID             string
	CustomerID          string
	GarageID            string
	RequestedBy         string
	RequestedByRole     ActorRole
	ReasonCode          CancellationReason
	ReasonText          string
	StatusAtCancel      OrderStatus
	Stage               Stage
	FeeRate             decimal.Decimal
	Fee                 decimal.Decimal
	PlatformFee         decimal.Decimal
	GarageFee           decimal.Decimal
	DeliveryFeeRetained decimal.Decimal
	RefundAmount        decimal.Decimal
	MinutesSinceOrder   int
	CreatedAt           time.Time
}

// CancellationFilter ограничивает выборку истории отмен.
type CancellationFilter struct {
	CustomerID string
	GarageID   string
	Limit      int
}
