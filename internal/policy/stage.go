package policy

import (
	"fmt"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
)

// stageByStatus - исчерпывающая таблица нетерминальных статусов.
// Терминальных статусов здесь нет: у отменённого или возвращённого заказа стадии не существует.
var stageByStatus = map[domain.OrderStatus]domain.Stage{
	domain.OrderStatusRequestActive:  domain.StageBeforePayment,
	domain.OrderStatusBidsPending:    domain.StageBeforePayment,
	domain.OrderStatusBidAccepted:    domain.StageBeforePayment,
	domain.OrderStatusOrderPending:   domain.StageBeforePayment,
	domain.OrderStatusPendingPayment: domain.StageBeforePayment,

	domain.OrderStatusPaymentComplete: domain.StageAfterPayment,
	domain.OrderStatusOrderConfirmed:  domain.StageAfterPayment,
	domain.OrderStatusConfirmed:       domain.StageAfterPayment,

	domain.OrderStatusPreparing:      domain.StageDuringPreparation,
	domain.OrderStatusReadyForPickup: domain.StageDuringPreparation,

	domain.OrderStatusAssigned:  domain.StageInDelivery,
	domain.OrderStatusPickedUp:  domain.StageInDelivery,
	domain.OrderStatusInTransit: domain.StageInDelivery,
	domain.OrderStatusCollected: domain.StageInDelivery,

	domain.OrderStatusDelivered: domain.StageAfterDelivery,
	domain.OrderStatusCompleted: domain.StageAfterDelivery,
}

// KnownStatuses - полный словарь статусов заказа.
func KnownStatuses() []domain.OrderStatus {
	return []domain.OrderStatus{
		domain.OrderStatusRequestActive,
		domain.OrderStatusBidsPending,
		domain.OrderStatusBidAccepted,
		domain.OrderStatusOrderPending,
		domain.OrderStatusPendingPayment,
		domain.OrderStatusPaymentComplete,
		domain.OrderStatusOrderConfirmed,
		domain.OrderStatusConfirmed,
		domain.OrderStatusPreparing,
		domain.OrderStatusReadyForPickup,
		domain.OrderStatusAssigned,
		domain.OrderStatusPickedUp,
		domain.OrderStatusInTransit,
		domain.OrderStatusCollected,
		domain.OrderStatusDelivered,
		domain.OrderStatusCompleted,
		domain.OrderStatusCancelledByCustomer,
		domain.OrderStatusCancelledByGarage,
		domain.OrderStatusCancelledByOperations,
		domain.OrderStatusRefunded,
	}
}

// ResolveStage возвращает финансовую стадию заказа.
// Статус вне таблицы - ошибка конфигурации, стадия по умолчанию не подставляется.
func ResolveStage(status domain.OrderStatus) (domain.Stage, error) {
	stage, ok := stageByStatus[status]
	if !ok {
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownOrderStatus, status)
	}
	return stage, nil
}

// CheckStageTable сверяет таблицу стадий со словарём статусов.
// Вызывается при старте сервиса.
func CheckStageTable() error {
	for _, status := range KnownStatuses() {
		_, mapped := stageByStatus[status]
		switch {
		case status.IsTerminal() && mapped:
			return fmt.Errorf("terminal status %q must not have a stage", status)
		case !status.IsTerminal() && !mapped:
			return fmt.Errorf("status %q has no stage", status)
		}
	}

	known := make(map[domain.OrderStatus]struct{}, len(stageByStatus))
	for _, status := range KnownStatuses() {
		known[status] = struct{}{}
	}
	for status := range stageByStatus {
		if _, ok := known[status]; !ok {
			return fmt.Errorf("stage table has unknown status %q", status)
		}
	}

	return nil
}
