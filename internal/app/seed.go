package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
)

const (
	demoCustomerID = "demo-customer"
	demoGarageID   = "demo-garage"
)

// demoOrders покрывает каждую стадию политики отмены и окно возврата.
var demoOrders = []struct {
	id          string
	status      domain.OrderStatus
	deliveredAt time.Duration
}{
	{id: "demo-pending-payment", status: domain.OrderStatusPendingPayment},
	{id: "demo-confirmed", status: domain.OrderStatusConfirmed},
	{id: "demo-preparing", status: domain.OrderStatusPreparing},
	{id: "demo-in-transit", status: domain.OrderStatusInTransit},
	{id: "demo-delivered", status: domain.OrderStatusDelivered, deliveredAt: 24 * time.Hour},
	{id: "demo-delivered-expired", status: domain.OrderStatusDelivered, deliveredAt: 10 * 24 * time.Hour},
}

// seedDemoOrders заполняет хранилище заказами для ручной проверки API.
// Уже существующие заказы пропускаются, поэтому повторный запуск безопасен.
func seedDemoOrders(ctx context.Context, uow domain.UnitOfWork, currency string, now time.Time, logger *log.Entry) (int, error) {
	created := 0
	err := uow.Within(ctx, func(ctx context.Context, repos domain.Repositories) error {
		for i, demo := range demoOrders {
			if _, err := repos.Orders.Get(ctx, demo.id); err == nil {
				continue
			} else if !errors.Is(err, domain.ErrOrderNotFound) {
				return fmt.Errorf("lookup demo order %s: %w", demo.id, err)
			}

			order := domain.Order{
				ID:              demo.id,
				OrderNumber:     fmt.Sprintf("DEMO-%04d", i+1),
				Status:          demo.status,
				PartPrice:       decimal.NewFromInt(80),
				DeliveryFee:     decimal.NewFromInt(20),
				TotalAmount:     decimal.NewFromInt(100),
				Currency:        currency,
				CustomerID:      demoCustomerID,
				GarageID:        demoGarageID,
				PaymentIntentID: "pi_" + demo.id,
				CreatedAt:       now.Add(-demo.deliveredAt - time.Hour),
				UpdatedAt:       now,
			}
			if demo.deliveredAt > 0 {
				deliveredAt := now.Add(-demo.deliveredAt)
				order.DeliveredAt = &deliveredAt
			}
			if err := repos.Orders.Create(ctx, order); err != nil {
				return fmt.Errorf("create demo order %s: %w", demo.id, err)
			}
			created++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	logger.WithFields(log.Fields{
		"created":     created,
		"customer_id": demoCustomerID,
		"garage_id":   demoGarageID,
	}).Info("demo orders seeded")
	return created, nil
}
