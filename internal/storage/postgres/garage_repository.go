package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
)

const garageColumns = `
	garage_id, cancellations_this_month, last_cancellation_reset, repeat_offender,
	hold_until, suspended_until, permanent_review, updated_at`

// sameMonthSQL сравнивает календарный месяц (UTC) последнего сброса и $2.
const sameMonthSQL = `date_trunc('month', garage_accountability.last_cancellation_reset AT TIME ZONE 'UTC')
	= date_trunc('month', $2::timestamptz AT TIME ZONE 'UTC')`

type garageRepository struct {
	store *Store
}

func (r *garageRepository) Get(ctx context.Context, garageID string) (domain.GarageAccountability, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	row, err := scanGarage(r.store.conn(ctx).QueryRowContext(ctx,
		`SELECT `+garageColumns+` FROM garage_accountability WHERE garage_id = $1`, garageID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.GarageAccountability{GarageID: garageID}, nil
		}
		return domain.GarageAccountability{}, fmt.Errorf("select garage accountability: %w", err)
	}
	return row, nil
}

func (r *garageRepository) ResetIfNewMonth(ctx context.Context, garageID string, now time.Time) (domain.GarageAccountability, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	_, err := r.store.conn(ctx).ExecContext(ctx, `
		UPDATE garage_accountability
		SET cancellations_this_month = 0,
		    last_cancellation_reset = $2,
		    updated_at = $2
		WHERE garage_id = $1 AND NOT (`+sameMonthSQL+`)
	`, garageID, now.UTC())
	if err != nil {
		return domain.GarageAccountability{}, fmt.Errorf("reset garage month: %w", err)
	}
	return r.Get(ctx, garageID)
}

// IncrementCancellation сбрасывает счётчик при смене месяца и увеличивает его в одном UPSERT.
func (r *garageRepository) IncrementCancellation(ctx context.Context, garageID string, now time.Time) (domain.GarageAccountability, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	row, err := scanGarage(r.store.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO garage_accountability (garage_id, cancellations_this_month, last_cancellation_reset, updated_at)
		VALUES ($1, 1, $2, $2)
		ON CONFLICT (garage_id) DO UPDATE
		SET cancellations_this_month = CASE WHEN `+sameMonthSQL+`
		        THEN garage_accountability.cancellations_this_month + 1
		        ELSE 1 END,
		    last_cancellation_reset = CASE WHEN `+sameMonthSQL+`
		        THEN garage_accountability.last_cancellation_reset
		        ELSE EXCLUDED.last_cancellation_reset END,
		    updated_at = EXCLUDED.updated_at
		RETURNING `+garageColumns,
		garageID, now.UTC(),
	))
	if err != nil {
		return domain.GarageAccountability{}, fmt.Errorf("increment garage cancellations: %w", err)
	}
	return row, nil
}

func (r *garageRepository) SaveSanctions(ctx context.Context, row domain.GarageAccountability) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	_, err := r.store.conn(ctx).ExecContext(ctx, `
		INSERT INTO garage_accountability (
			garage_id, last_cancellation_reset, repeat_offender, hold_until,
			suspended_until, permanent_review, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $2)
		ON CONFLICT (garage_id) DO UPDATE
		SET repeat_offender = EXCLUDED.repeat_offender,
		    hold_until = EXCLUDED.hold_until,
		    suspended_until = EXCLUDED.suspended_until,
		    permanent_review = EXCLUDED.permanent_review,
		    updated_at = EXCLUDED.updated_at
	`, row.GarageID, row.UpdatedAt.UTC(), row.RepeatOffender, nullTime(row.HoldUntil),
		nullTime(row.SuspendedUntil), row.PermanentReview)
	if err != nil {
		return fmt.Errorf("save garage sanctions: %w", err)
	}
	return nil
}

func scanGarage(row rowScanner) (domain.GarageAccountability, error) {
	var (
		out            domain.GarageAccountability
		holdUntil      sql.NullTime
		suspendedUntil sql.NullTime
	)
	if err := row.Scan(
		&out.GarageID, &out.CancellationsThisMonth, &out.LastCancellationReset, &out.RepeatOffender,
		&holdUntil, &suspendedUntil, &out.PermanentReview, &out.UpdatedAt,
	); err != nil {
		return domain.GarageAccountability{}, err
	}
	out.LastCancellationReset = out.LastCancellationReset.UTC()
	out.UpdatedAt = out.UpdatedAt.UTC()
	out.HoldUntil = timePtr(holdUntil)
	out.SuspendedUntil = timePtr(suspendedUntil)
	return out, nil
}

var _ domain.GarageRepository = (*garageRepository)(nil)
