package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
)

type penaltyRepository struct {
	store *Store
}

func (r *penaltyRepository) Create(ctx context.Context, penalty domain.GaragePenalty) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	if penalty.ID == "" {
		penalty.ID = uuid.NewString()
	}
	_, err := r.store.conn(ctx).ExecContext(ctx, `
		INSERT INTO garage_penalties (id, garage_id, order_id, penalty_type, action, amount, status, notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, penalty.ID, penalty.GarageID, penalty.OrderID, string(penalty.Type), string(penalty.Action),
		penalty.Amount, string(penalty.Status), penalty.Notes, penalty.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert garage penalty: %w", err)
	}
	return nil
}

// ListByGarage возвращает штрафы от новых к старым.
func (r *penaltyRepository) ListByGarage(ctx context.Context, garageID string, limit int) ([]domain.GaragePenalty, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, garage_id, order_id, penalty_type, action, amount, status, notes, created_at
		FROM garage_penalties
		WHERE garage_id = $1
		ORDER BY created_at DESC, id DESC`
	args := []any{garageID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.store.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list garage penalties: %w", err)
	}
	defer rows.Close()

	result := make([]domain.GaragePenalty, 0)
	for rows.Next() {
		var p domain.GaragePenalty
		var kind, action, status string
		if err := rows.Scan(&p.ID, &p.GarageID, &p.OrderID, &kind, &action, &p.Amount, &status, &p.Notes, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan garage penalty: %w", err)
		}
		p.Type = domain.PenaltyType(kind)
		p.Action = domain.GarageAction(action)
		p.Status = domain.PenaltyStatus(status)
		p.CreatedAt = p.CreatedAt.UTC()
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate garage penalties: %w", err)
	}
	return result, nil
}

func (r *penaltyRepository) PendingSummary(ctx context.Context, garageID string) (domain.PenaltySummary, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	summary := domain.PenaltySummary{PendingTotal: decimal.Zero}
	if err := r.store.conn(ctx).QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(amount), 0)
		FROM garage_penalties
		WHERE garage_id = $1 AND status = $2
	`, garageID, string(domain.PenaltyPending)).Scan(&summary.PendingCount, &summary.PendingTotal); err != nil {
		return domain.PenaltySummary{}, fmt.Errorf("penalty summary: %w", err)
	}
	return summary, nil
}

func (r *penaltyRepository) SumSince(ctx context.Context, since time.Time) (decimal.Decimal, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	total := decimal.Zero
	if err := r.store.conn(ctx).QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM garage_penalties
		WHERE created_at >= $1
	`, since.UTC()).Scan(&total); err != nil {
		return decimal.Decimal{}, fmt.Errorf("sum penalties: %w", err)
	}
	return total, nil
}

var _ domain.PenaltyRepository = (*penaltyRepository)(nil)
