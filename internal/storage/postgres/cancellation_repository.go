package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
)

const cancellationColumns = `
	id, order_id, customer_id, garage_id, requested_by, requested_by_role, reason_code,
	reason_text, status_at_cancel, stage, fee_rate, fee, platform_fee, garage_fee,
	delivery_fee_retained, refund_amount, minutes_since_order, created_at`

type cancellationRepository struct {
	store *Store
}

func (r *cancellationRepository) Create(ctx context.Context, rec domain.CancellationRecord) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := r.store.conn(ctx).ExecContext(ctx, `
		INSERT INTO cancellation_requests (`+cancellationColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`,
		rec.ID, rec.OrderID, rec.CustomerID, rec.GarageID, rec.RequestedBy, string(rec.RequestedByRole),
		string(rec.ReasonCode), rec.ReasonText, string(rec.StatusAtCancel), string(rec.Stage),
		rec.FeeRate, rec.Fee, rec.PlatformFee, rec.GarageFee, rec.DeliveryFeeRetained,
		rec.RefundAmount, rec.MinutesSinceOrder, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert cancellation: %w", err)
	}
	return nil
}

// LockCustomer берёт transaction-level advisory lock в пространстве ключей отмен клиента.
func (r *cancellationRepository) LockCustomer(ctx context.Context, customerID string) error {
	if !r.store.inTx(ctx) {
		return fmt.Errorf("lock customer %s: %w", customerID, errNoTransaction)
	}

	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	if _, err := r.store.conn(ctx).ExecContext(ctx,
		`SELECT pg_advisory_xact_lock($1, hashtext($2))`, customerLockClass, customerID,
	); err != nil {
		return fmt.Errorf("lock customer %s: %w", customerID, err)
	}
	return nil
}

func (r *cancellationRepository) CountByCustomer(ctx context.Context, customerID string) (int, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	var count int
	if err := r.store.conn(ctx).QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM cancellation_requests
		WHERE customer_id = $1 AND requested_by_role = $2
	`, customerID, string(domain.ActorCustomer)).Scan(&count); err != nil {
		return 0, fmt.Errorf("count customer cancellations: %w", err)
	}
	return count, nil
}

// List возвращает отмены от новых к старым.
func (r *cancellationRepository) List(ctx context.Context, filter domain.CancellationFilter) ([]domain.CancellationRecord, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	var (
		conds []string
		args  []any
	)
	if filter.CustomerID != "" {
		args = append(args, filter.CustomerID)
		conds = append(conds, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if filter.GarageID != "" {
		args = append(args, filter.GarageID)
		conds = append(conds, fmt.Sprintf("garage_id = $%d", len(args)))
	}

	query := `SELECT ` + cancellationColumns + ` FROM cancellation_requests`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.store.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cancellations: %w", err)
	}
	defer rows.Close()

	result := make([]domain.CancellationRecord, 0)
	for rows.Next() {
		var rec domain.CancellationRecord
		var role, reason, statusAtCancel, stageRaw string
		if err := rows.Scan(
			&rec.ID, &rec.OrderID, &rec.CustomerID, &rec.GarageID, &rec.RequestedBy, &role,
			&reason, &rec.ReasonText, &statusAtCancel, &stageRaw, &rec.FeeRate, &rec.Fee,
			&rec.PlatformFee, &rec.GarageFee, &rec.DeliveryFeeRetained, &rec.RefundAmount,
			&rec.MinutesSinceOrder, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan cancellation: %w", err)
		}
		rec.RequestedByRole = domain.ActorRole(role)
		rec.ReasonCode = domain.CancellationReason(reason)
		rec.StatusAtCancel = domain.OrderStatus(statusAtCancel)
		rec.Stage = domain.Stage(stageRaw)
		rec.CreatedAt = rec.CreatedAt.UTC()
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cancellations: %w", err)
	}
	return result, nil
}

var _ domain.CancellationRepository = (*cancellationRepository)(nil)
