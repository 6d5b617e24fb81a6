package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
)

const refundColumns = `
	id, order_id, return_id, refund_type, sequence, original_amount, refund_amount,
	fee_retained, delivery_fee_retained, currency, payment_reference, status, reason,
	gateway_refund_id, attempts, last_error, created_at, updated_at, processed_at`

type refundRepository struct {
	store *Store
}

func (r *refundRepository) Create(ctx context.Context, refund domain.Refund) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	_, err := r.store.conn(ctx).ExecContext(ctx, `
		INSERT INTO refunds (`+refundColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	`,
		refund.ID, refund.OrderID, refund.ReturnID, string(refund.Type), refund.Sequence,
		refund.OriginalAmount, refund.RefundAmount, refund.FeeRetained, refund.DeliveryFeeRetained,
		refund.Currency, refund.PaymentReference, string(refund.Status), refund.Reason,
		refund.GatewayRefundID, refund.Attempts, refund.LastError, refund.CreatedAt.UTC(),
		refund.UpdatedAt.UTC(), nullTime(refund.ProcessedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: refund %s or sequence %d for order %s already exists",
				domain.ErrInvalidArgument, refund.ID, refund.Sequence, refund.OrderID)
		}
		return fmt.Errorf("insert refund: %w", err)
	}
	return nil
}

func (r *refundRepository) Get(ctx context.Context, id string) (domain.Refund, error) {
	return r.get(ctx, id, false)
}

func (r *refundRepository) GetForUpdate(ctx context.Context, id string) (domain.Refund, error) {
	return r.get(ctx, id, r.store.inTx(ctx))
}

func (r *refundRepository) get(ctx context.Context, id string, lock bool) (domain.Refund, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	query := `SELECT ` + refundColumns + ` FROM refunds WHERE id = $1`
	if lock {
		query += " FOR UPDATE"
	}
	refund, err := scanRefund(r.store.conn(ctx).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Refund{}, domain.ErrRefundNotFound
		}
		return domain.Refund{}, fmt.Errorf("select refund: %w", err)
	}
	return refund, nil
}

func (r *refundRepository) NextSequence(ctx context.Context, orderID string) (int, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	var next int
	if err := r.store.conn(ctx).QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM refunds WHERE order_id = $1`, orderID,
	).Scan(&next); err != nil {
		return 0, fmt.Errorf("next refund sequence: %w", err)
	}
	return next, nil
}

// Update не трогает успешную запись: повторная обработка не может переписать итог.
func (r *refundRepository) Update(ctx context.Context, refund domain.Refund) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	conn := r.store.conn(ctx)
	res, err := conn.ExecContext(ctx, `
		UPDATE refunds
		SET status = $2,
		    gateway_refund_id = $3,
		    attempts = $4,
		    last_error = $5,
		    updated_at = $6,
		    processed_at = $7
		WHERE id = $1 AND status <> $8
	`, refund.ID, string(refund.Status), refund.GatewayRefundID, refund.Attempts, refund.LastError,
		refund.UpdatedAt.UTC(), nullTime(refund.ProcessedAt), string(domain.RefundStatusSucceeded))
	if err != nil {
		return fmt.Errorf("update refund: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	if err := conn.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM refunds WHERE id = $1)`, refund.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check refund exists: %w", err)
	}
	if !exists {
		return domain.ErrRefundNotFound
	}
	return fmt.Errorf("refund %s already succeeded", refund.ID)
}

func (r *refundRepository) ListByStatus(ctx context.Context, status domain.RefundStatus, limit int) ([]domain.Refund, error) {
	query := `SELECT ` + refundColumns + `
		FROM refunds
		WHERE status = $1
		ORDER BY created_at ASC, id ASC`
	args := []any{string(status)}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	return r.list(ctx, query, args...)
}

func (r *refundRepository) ListForReconcile(ctx context.Context, pendingBefore time.Time, maxAttempts, limit int) ([]domain.Refund, error) {
	query := `SELECT ` + refundColumns + `
		FROM refunds
		WHERE (status = $1 AND created_at < $2)
		   OR (status = $3 AND attempts < $4)
		ORDER BY created_at ASC, id ASC`
	args := []any{
		string(domain.RefundStatusPending), pendingBefore.UTC(),
		string(domain.RefundStatusFailed), maxAttempts,
	}
	if limit > 0 {
		query += " LIMIT $5"
		args = append(args, limit)
	}
	return r.list(ctx, query, args...)
}

func (r *refundRepository) list(ctx context.Context, query string, args ...any) ([]domain.Refund, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	rows, err := r.store.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list refunds: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Refund, 0)
	for rows.Next() {
		refund, err := scanRefund(rows)
		if err != nil {
			return nil, fmt.Errorf("scan refund: %w", err)
		}
		result = append(result, refund)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refunds: %w", err)
	}
	return result, nil
}

func scanRefund(row rowScanner) (domain.Refund, error) {
	var (
		refund      domain.Refund
		kind        string
		status      string
		processedAt sql.NullTime
	)
	if err := row.Scan(
		&refund.ID, &refund.OrderID, &refund.ReturnID, &kind, &refund.Sequence,
		&refund.OriginalAmount, &refund.RefundAmount, &refund.FeeRetained, &refund.DeliveryFeeRetained,
		&refund.Currency, &refund.PaymentReference, &status, &refund.Reason,
		&refund.GatewayRefundID, &refund.Attempts, &refund.LastError, &refund.CreatedAt,
		&refund.UpdatedAt, &processedAt,
	); err != nil {
		return domain.Refund{}, err
	}
	refund.Type = domain.RefundType(kind)
	refund.Status = domain.RefundStatus(status)
	refund.CreatedAt = refund.CreatedAt.UTC()
	refund.UpdatedAt = refund.UpdatedAt.UTC()
	refund.ProcessedAt = timePtr(processedAt)
	return refund, nil
}

var _ domain.RefundRepository = (*refundRepository)(nil)
