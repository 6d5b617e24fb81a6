package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
)

const returnColumns = `
	id, order_id, customer_id, garage_id, reason, photo_urls, condition_description,
	return_fee, delivery_fee_retained, refund_amount, status, admin_notes, processed_by,
	processed_at, created_at, updated_at`

type returnRepository struct {
	store *Store
}

func (r *returnRepository) Create(ctx context.Context, req domain.ReturnRequest) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	photos, err := json.Marshal(nonNilStrings(req.PhotoURLs))
	if err != nil {
		return fmt.Errorf("marshal photo urls: %w", err)
	}

	_, err = r.store.conn(ctx).ExecContext(ctx, `
		INSERT INTO return_requests (`+returnColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`,
		req.ID, req.OrderID, req.CustomerID, req.GarageID, string(req.Reason), photos,
		req.ConditionDescription, req.ReturnFee, req.DeliveryFeeRetained, req.RefundAmount,
		string(req.Status), req.AdminNotes, req.ProcessedBy, nullTime(req.ProcessedAt),
		req.CreatedAt.UTC(), req.UpdatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrReturnAlreadyExists
		}
		return fmt.Errorf("insert return request: %w", err)
	}
	return nil
}

func (r *returnRepository) Get(ctx context.Context, id string) (domain.ReturnRequest, error) {
	return r.getBy(ctx, "id", id, false)
}

func (r *returnRepository) GetForUpdate(ctx context.Context, id string) (domain.ReturnRequest, error) {
	return r.getBy(ctx, "id", id, r.store.inTx(ctx))
}

func (r *returnRepository) GetByOrder(ctx context.Context, orderID string) (domain.ReturnRequest, error) {
	return r.getBy(ctx, "order_id", orderID, false)
}

func (r *returnRepository) getBy(ctx context.Context, column, value string, lock bool) (domain.ReturnRequest, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	query := `SELECT ` + returnColumns + ` FROM return_requests WHERE ` + column + ` = $1`
	if lock {
		query += " FOR UPDATE"
	}
	req, err := scanReturn(r.store.conn(ctx).QueryRowContext(ctx, query, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ReturnRequest{}, domain.ErrReturnRequestNotFound
		}
		return domain.ReturnRequest{}, fmt.Errorf("select return request: %w", err)
	}
	return req, nil
}

func (r *returnRepository) Update(ctx context.Context, req domain.ReturnRequest) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	res, err := r.store.conn(ctx).ExecContext(ctx, `
		UPDATE return_requests
		SET status = $2,
		    admin_notes = $3,
		    processed_by = $4,
		    processed_at = $5,
		    updated_at = $6
		WHERE id = $1
	`, req.ID, string(req.Status), req.AdminNotes, req.ProcessedBy, nullTime(req.ProcessedAt), req.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("update return request: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrReturnRequestNotFound
	}
	return nil
}

func (r *returnRepository) ListByStatus(ctx context.Context, statuses []domain.ReturnStatus, limit int) ([]domain.ReturnRequest, error) {
	if len(statuses) == 0 {
		return []domain.ReturnRequest{}, nil
	}
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	raw := make([]string, 0, len(statuses))
	for _, s := range statuses {
		raw = append(raw, string(s))
	}

	query := `SELECT ` + returnColumns + `
		FROM return_requests
		WHERE status = ANY($1)
		ORDER BY created_at ASC, id ASC`
	args := []any{raw}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.store.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list return requests: %w", err)
	}
	defer rows.Close()

	result := make([]domain.ReturnRequest, 0)
	for rows.Next() {
		req, err := scanReturn(rows)
		if err != nil {
			return nil, fmt.Errorf("scan return request: %w", err)
		}
		result = append(result, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate return requests: %w", err)
	}
	return result, nil
}

func (r *returnRepository) CountByStatus(ctx context.Context, status domain.ReturnStatus) (int, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	var count int
	if err := r.store.conn(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM return_requests WHERE status = $1`, string(status),
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("count return requests: %w", err)
	}
	return count, nil
}

func (r *returnRepository) SumRefundSince(ctx context.Context, status domain.ReturnStatus, since time.Time) (decimal.Decimal, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	total := decimal.Zero
	if err := r.store.conn(ctx).QueryRowContext(ctx, `
		SELECT COALESCE(SUM(refund_amount), 0)
		FROM return_requests
		WHERE status = $1 AND created_at >= $2
	`, string(status), since.UTC()).Scan(&total); err != nil {
		return decimal.Decimal{}, fmt.Errorf("sum return refunds: %w", err)
	}
	return total, nil
}

func scanReturn(row rowScanner) (domain.ReturnRequest, error) {
	var (
		req         domain.ReturnRequest
		reason      string
		status      string
		photos      []byte
		processedAt sql.NullTime
	)
	if err := row.Scan(
		&req.ID, &req.OrderID, &req.CustomerID, &req.GarageID, &reason, &photos,
		&req.ConditionDescription, &req.ReturnFee, &req.DeliveryFeeRetained, &req.RefundAmount,
		&status, &req.AdminNotes, &req.ProcessedBy, &processedAt, &req.CreatedAt, &req.UpdatedAt,
	); err != nil {
		return domain.ReturnRequest{}, err
	}
	if len(photos) > 0 {
		if err := json.Unmarshal(photos, &req.PhotoURLs); err != nil {
			return domain.ReturnRequest{}, fmt.Errorf("decode photo urls: %w", err)
		}
	}
	req.Reason = domain.ReturnReason(reason)
	req.Status = domain.ReturnStatus(status)
	req.ProcessedAt = timePtr(processedAt)
	req.CreatedAt = req.CreatedAt.UTC()
	req.UpdatedAt = req.UpdatedAt.UTC()
	return req, nil
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

var _ domain.ReturnRepository = (*returnRepository)(nil)
