package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа запчасти.
type OrderStatus string

const (
	// Заказ ещё не оплачен.
	OrderStatusRequestActive  OrderStatus = "request_active"
	OrderStatusBidsPending    OrderStatus = "bids_pending"
	OrderStatusBidAccepted    OrderStatus = "bid_accepted"
	OrderStatusOrderPending   OrderStatus = "order_pending"
	OrderStatusPendingPayment OrderStatus = "pending_payment"

	// Оплата прошла, гараж ещё не начал работу.
	OrderStatusPaymentComplete OrderStatus = "payment_complete"
	OrderStatusOrderConfirmed  OrderStatus = "order_confirmed"
	OrderStatusConfirmed       OrderStatus = "confirmed"

	// Гараж готовит запчасть.
	OrderStatusPreparing      OrderStatus = "preparing"
	OrderStatusReadyForPickup OrderStatus = "ready_for_pickup"

	// Запчасть у курьера.
	OrderStatusAssigned  OrderStatus = "assigned"
	OrderStatusPickedUp  OrderStatus = "picked_up"
	OrderStatusInTransit OrderStatus = "in_transit"
	OrderStatusCollected OrderStatus = "collected"

	// Доставлено клиенту.
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCompleted OrderStatus = "completed"

	// Терминальные статусы.
	OrderStatusCancelledByCustomer   OrderStatus = "cancelled_by_customer"
	OrderStatusCancelledByGarage     OrderStatus = "cancelled_by_garage"
	OrderStatusCancelledByOperations OrderStatus = "cancelled_by_operations"
	OrderStatusRefunded              OrderStatus = "refunded"
)

// IsCancelled сообщает, что заказ уже отменён одной из сторон.
func (s OrderStatus) IsCancelled() bool {
	switch s {
	case OrderStatusCancelledByCustomer, OrderStatusCancelledByGarage, OrderStatusCancelledByOperations:
		return true
	default:
		return false
	}
}

// IsTerminal сообщает, что из статуса больше нет переходов.
func (s OrderStatus) IsTerminal() bool {
	return s.IsCancelled() || s == OrderStatusRefunded
}

// Stage - финансовая стадия заказа, от которой зависит политика удержаний.
type Stage string

const (
	StageBeforePayment     Stage = "BEFORE_PAYMENT"
	StageAfterPayment      Stage = "AFTER_PAYMENT"
	StageDuringPreparation Stage = "DURING_PREPARATION"
	StageInDelivery        Stage = "IN_DELIVERY"
	StageAfterDelivery     Stage = "AFTER_DELIVERY"
)

// Stages перечисляет все стадии в порядке прохождения заказа.
func Stages() []Stage {
	return []Stage{
		StageBeforePayment,
		StageAfterPayment,
		StageDuringPreparation,
		StageInDelivery,
		StageAfterDelivery,
	}
}

// Order - заказ запчасти в объёме, который нужен движку отмен и возвратов.
type Order struct {
	ID          string
	OrderNumber string
	Status      OrderStatus
	PartPrice   decimal.Decimal
	DeliveryFee decimal.Decimal
	TotalAmount decimal.Decimal
	Currency    string
	CustomerID  string
	GarageID    string
	// PaymentIntentID - ссылка на исходный платёж у провайдера, пустая до оплаты.
	PaymentIntentID string
	DeliveredAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RoundMoney приводит сумму к двум знакам после запятой.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// FloorZero не даёт сумме уйти в минус.
func FloorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
