package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
)

const abuseColumns = `
	customer_id, month_year, returns_count, defective_claims_count, cancellations_count,
	flag_level, review_requested, updated_at`

// counterColumns - единственный источник имён колонок для динамического UPSERT.
var counterColumns = map[domain.AbuseCounter]string{
	domain.CounterReturns:         "returns_count",
	domain.CounterDefectiveClaims: "defective_claims_count",
	domain.CounterCancellations:   "cancellations_count",
}

type abuseRepository struct {
	store *Store
}

func (r *abuseRepository) Get(ctx context.Context, customerID, monthYear string) (domain.CustomerAbuseTracking, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	row, err := scanAbuse(r.store.conn(ctx).QueryRowContext(ctx, `
		SELECT `+abuseColumns+`
		FROM customer_abuse_tracking
		WHERE customer_id = $1 AND month_year = $2
	`, customerID, monthYear))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CustomerAbuseTracking{CustomerID: customerID, MonthYear: monthYear}, nil
		}
		return domain.CustomerAbuseTracking{}, fmt.Errorf("select abuse tracking: %w", err)
	}
	return row, nil
}

// Increment создаёт строку месяца или увеличивает счётчик одним UPSERT, без чтения перед записью.
func (r *abuseRepository) Increment(ctx context.Context, customerID, monthYear string, counter domain.AbuseCounter, at time.Time) (domain.CustomerAbuseTracking, error) {
	column, ok := counterColumns[counter]
	if !ok {
		return domain.CustomerAbuseTracking{}, fmt.Errorf("%w: unknown abuse counter %q", domain.ErrInvalidArgument, counter)
	}

	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	row, err := scanAbuse(r.store.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO customer_abuse_tracking (customer_id, month_year, `+column+`, updated_at)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (customer_id, month_year) DO UPDATE
		SET `+column+` = customer_abuse_tracking.`+column+` + 1,
		    updated_at = EXCLUDED.updated_at
		RETURNING `+abuseColumns,
		customerID, monthYear, at.UTC(),
	))
	if err != nil {
		return domain.CustomerAbuseTracking{}, fmt.Errorf("increment %s: %w", column, err)
	}
	return row, nil
}

func (r *abuseRepository) SaveFlags(ctx context.Context, row domain.CustomerAbuseTracking) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	_, err := r.store.conn(ctx).ExecContext(ctx, `
		INSERT INTO customer_abuse_tracking (customer_id, month_year, flag_level, review_requested, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (customer_id, month_year) DO UPDATE
		SET flag_level = EXCLUDED.flag_level,
		    review_requested = EXCLUDED.review_requested,
		    updated_at = EXCLUDED.updated_at
	`, row.CustomerID, row.MonthYear, int(row.FlagLevel), row.ReviewRequested, row.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("save abuse flags: %w", err)
	}
	return nil
}

func (r *abuseRepository) ListFlagged(ctx context.Context, monthYear string, only domain.FlagLevel, limit int) ([]domain.CustomerAbuseTracking, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	query := `SELECT ` + abuseColumns + `
		FROM customer_abuse_tracking
		WHERE month_year = $1 AND flag_level > 0`
	args := []any{monthYear}
	if only != domain.FlagNone {
		args = append(args, int(only))
		query += fmt.Sprintf(" AND flag_level = $%d", len(args))
	}
	query += ` ORDER BY flag_level DESC, returns_count DESC, customer_id ASC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.store.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list flagged customers: %w", err)
	}
	defer rows.Close()

	result := make([]domain.CustomerAbuseTracking, 0)
	for rows.Next() {
		row, err := scanAbuse(rows)
		if err != nil {
			return nil, fmt.Errorf("scan abuse tracking: %w", err)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate abuse tracking: %w", err)
	}
	return result, nil
}

func (r *abuseRepository) CountFlagged(ctx context.Context, monthYear string) (int, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	var count int
	if err := r.store.conn(ctx).QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM customer_abuse_tracking
		WHERE month_year = $1 AND flag_level > 0
	`, monthYear).Scan(&count); err != nil {
		return 0, fmt.Errorf("count flagged customers: %w", err)
	}
	return count, nil
}

func scanAbuse(row rowScanner) (domain.CustomerAbuseTracking, error) {
	var (
		out  domain.CustomerAbuseTracking
		flag int
	)
	if err := row.Scan(
		&out.CustomerID, &out.MonthYear, &out.ReturnsCount, &out.DefectiveClaimsCount,
		&out.CancellationsCount, &flag, &out.ReviewRequested, &out.UpdatedAt,
	); err != nil {
		return domain.CustomerAbuseTracking{}, err
	}
	out.FlagLevel = domain.FlagLevel(flag)
	out.UpdatedAt = out.UpdatedAt.UTC()
	return out, nil
}

var _ domain.AbuseRepository = (*abuseRepository)(nil)
