package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
)

type penaltyRepository struct {
	store *Store
}

func (r *penaltyRepository) Create(ctx context.Context, penalty domain.GaragePenalty) error {
	if penalty.ID == "" {
		penalty.ID = uuid.NewString()
	}
	r.store.write(ctx, func(d *state) {
		d.penalties = append(d.penalties, penalty)
	})
	return nil
}

func (r *penaltyRepository) ListByGarage(ctx context.Context, garageID string, limit int) ([]domain.GaragePenalty, error) {
	result := make([]domain.GaragePenalty, 0)
	r.store.read(ctx, func(d *state) {
		for _, p := range d.penalties {
			if p.GarageID == garageID {
				result = append(result, p)
			}
		}
	})

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *penaltyRepository) PendingSummary(ctx context.Context, garageID string) (domain.PenaltySummary, error) {
	summary := domain.PenaltySummary{PendingTotal: decimal.Zero}
	r.store.read(ctx, func(d *state) {
		for _, p := range d.penalties {
			if p.GarageID == garageID && p.Status == domain.PenaltyPending {
				summary.PendingCount++
				summary.PendingTotal = summary.PendingTotal.Add(p.Amount)
			}
		}
	})
	return summary, nil
}

func (r *penaltyRepository) SumSince(ctx context.Context, since time.Time) (decimal.Decimal, error) {
	total := decimal.Zero
	r.store.read(ctx, func(d *state) {
		for _, p := range d.penalties {
			if !p.CreatedAt.Before(since) {
				total = total.Add(p.Amount)
			}
		}
	})
	return total, nil
}

var _ domain.PenaltyRepository = (*penaltyRepository)(nil)
