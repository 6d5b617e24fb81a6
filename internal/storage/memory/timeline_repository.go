package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
)

type timelineRepository struct {
	store *Store
}

// Append добавляет событие в историю заказа.
func (r *timelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	r.store.write(ctx, func(d *state) {
		events := append(d.timeline[event.OrderID], event)
		sort.SliceStable(events, func(i, j int) bool {
			return events[i].Occurred.Before(events[j].Occurred)
		})
		d.timeline[event.OrderID] = events
	})
	return nil
}

// List возвращает события заказа в хронологическом порядке.
func (r *timelineRepository) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	var result []domain.TimelineEvent
	r.store.read(ctx, func(d *state) {
		result = append([]domain.TimelineEvent{}, d.timeline[orderID]...)
	})
	return result, nil
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
