package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
)

type orderRepository struct {
	store *Store
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	var err error
	r.store.write(ctx, func(d *state) {
		if _, exists := d.orders[order.ID]; exists {
			err = fmt.Errorf("%w: order %s already exists", domain.ErrInvalidArgument, order.ID)
			return
		}
		d.orders[order.ID] = order
	})
	return err
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	var (
		order domain.Order
		ok    bool
	)
	r.store.read(ctx, func(d *state) {
		order, ok = d.orders[id]
	})
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

func (r *orderRepository) GetForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return r.Get(ctx, id)
}

func (r *orderRepository) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus, at time.Time) error {
	var err error
	r.store.write(ctx, func(d *state) {
		order, ok := d.orders[id]
		if !ok {
			err = domain.ErrOrderNotFound
			return
		}
		order.Status = status
		order.UpdatedAt = at
		d.orders[id] = order
	})
	return err
}

func (r *orderRepository) ListStale(ctx context.Context, status domain.OrderStatus, before time.Time, limit int) ([]domain.Order, error) {
	result := make([]domain.Order, 0)
	r.store.read(ctx, func(d *state) {
		for _, order := range d.orders {
			if order.Status == status && order.UpdatedAt.Before(before) {
				result = append(result, order)
			}
		}
	})

	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.Before(result[j].UpdatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
