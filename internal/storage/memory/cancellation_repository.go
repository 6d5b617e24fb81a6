package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
)

type cancellationRepository struct {
	store *Store
}

func (r *cancellationRepository) Create(ctx context.Context, rec domain.CancellationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	r.store.write(ctx, func(d *state) {
		d.cancellations = append(d.cancellations, rec)
	})
	return nil
}

// LockCustomer ничего не делает: транзакции хранилища и так выполняются по одной.
func (r *cancellationRepository) LockCustomer(context.Context, string) error {
	return nil
}

func (r *cancellationRepository) CountByCustomer(ctx context.Context, customerID string) (int, error) {
	count := 0
	r.store.read(ctx, func(d *state) {
		for _, rec := range d.cancellations {
			if rec.CustomerID == customerID && rec.RequestedByRole == domain.ActorCustomer {
				count++
			}
		}
	})
	return count, nil
}

// List возвращает отмены от новых к старым.
func (r *cancellationRepository) List(ctx context.Context, filter domain.CancellationFilter) ([]domain.CancellationRecord, error) {
	result := make([]domain.CancellationRecord, 0)
	r.store.read(ctx, func(d *state) {
		for i := len(d.cancellations) - 1; i >= 0; i-- {
			rec := d.cancellations[i]
			if filter.CustomerID != "" && rec.CustomerID != filter.CustomerID {
				continue
			}
			if filter.GarageID != "" && rec.GarageID != filter.GarageID {
				continue
			}
			result = append(result, rec)
			if filter.Limit > 0 && len(result) >= filter.Limit {
				return
			}
		}
	})
	return result, nil
}

var _ domain.CancellationRepository = (*cancellationRepository)(nil)
