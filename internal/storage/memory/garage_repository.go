package memory

import (
	"context"
	"time"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
)

type garageRepository struct {
	store *Store
}

func (r *garageRepository) Get(ctx context.Context, garageID string) (domain.GarageAccountability, error) {
	var (
		row domain.GarageAccountability
		ok  bool
	)
	r.store.read(ctx, func(d *state) {
		row, ok = d.garages[garageID]
	})
	if !ok {
		return domain.GarageAccountability{GarageID: garageID}, nil
	}
	return row, nil
}

func (r *garageRepository) ResetIfNewMonth(ctx context.Context, garageID string, now time.Time) (domain.GarageAccountability, error) {
	var row domain.GarageAccountability
	r.store.write(ctx, func(d *state) {
		current, ok := d.garages[garageID]
		if !ok {
			row = domain.GarageAccountability{GarageID: garageID}
			return
		}
		if !domain.SameMonth(current.LastCancellationReset, now) {
			current.CancellationsThisMonth = 0
			current.LastCancellationReset = now
			current.UpdatedAt = now
			d.garages[garageID] = current
		}
		row = current
	})
	return row, nil
}

func (r *garageRepository) IncrementCancellation(ctx context.Context, garageID string, now time.Time) (domain.GarageAccountability, error) {
	var row domain.GarageAccountability
	r.store.write(ctx, func(d *state) {
		current, ok := d.garages[garageID]
		if !ok {
			current = domain.GarageAccountability{GarageID: garageID, LastCancellationReset: now}
		}
		if !domain.SameMonth(current.LastCancellationReset, now) {
			current.CancellationsThisMonth = 0
			current.LastCancellationReset = now
		}
		current.CancellationsThisMonth++
		current.UpdatedAt = now
		d.garages[garageID] = current
		row = current
	})
	return row, nil
}

func (r *garageRepository) SaveSanctions(ctx context.Context, row domain.GarageAccountability) error {
	r.store.write(ctx, func(d *state) {
		current, ok := d.garages[row.GarageID]
		if !ok {
			current = domain.GarageAccountability{GarageID: row.GarageID, LastCancellationReset: row.UpdatedAt}
		}
		current.RepeatOffender = row.RepeatOffender
		current.HoldUntil = row.HoldUntil
		current.SuspendedUntil = row.SuspendedUntil
		current.PermanentReview = row.PermanentReview
		current.UpdatedAt = row.UpdatedAt
		d.garages[row.GarageID] = current
	})
	return nil
}

var _ domain.GarageRepository = (*garageRepository)(nil)
