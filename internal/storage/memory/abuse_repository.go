package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
)

type abuseRepository struct {
	store *Store
}

func abuseKey(customerID, monthYear string) string {
	return customerID + "|" + monthYear
}

func (r *abuseRepository) Get(ctx context.Context, customerID, monthYear string) (domain.CustomerAbuseTracking, error) {
	var (
		row domain.CustomerAbuseTracking
		ok  bool
	)
	r.store.read(ctx, func(d *state) {
		row, ok = d.abuse[abuseKey(customerID, monthYear)]
	})
	if !ok {
		return domain.CustomerAbuseTracking{CustomerID: customerID, MonthYear: monthYear}, nil
	}
	return row, nil
}

func (r *abuseRepository) Increment(ctx context.Context, customerID, monthYear string, counter domain.AbuseCounter, at time.Time) (domain.CustomerAbuseTracking, error) {
	var (
		row domain.CustomerAbuseTracking
		err error
	)
	r.store.write(ctx, func(d *state) {
		key := abuseKey(customerID, monthYear)
		row = d.abuse[key]
		row.CustomerID = customerID
		row.MonthYear = monthYear

		switch counter {
		case domain.CounterReturns:
			row.ReturnsCount++
		case domain.CounterDefectiveClaims:
			row.DefectiveClaimsCount++
		case domain.CounterCancellations:
			row.CancellationsCount++
		default:
			err = fmt.Errorf("%w: unknown abuse counter %q", domain.ErrInvalidArgument, counter)
			return
		}
		row.UpdatedAt = at
		d.abuse[key] = row
	})
	if err != nil {
		return domain.CustomerAbuseTracking{}, err
	}
	return row, nil
}

func (r *abuseRepository) SaveFlags(ctx context.Context, row domain.CustomerAbuseTracking) error {
	r.store.write(ctx, func(d *state) {
		key := abuseKey(row.CustomerID, row.MonthYear)
		current := d.abuse[key]
		current.CustomerID = row.CustomerID
		current.MonthYear = row.MonthYear
		current.FlagLevel = row.FlagLevel
		current.ReviewRequested = row.ReviewRequested
		current.UpdatedAt = row.UpdatedAt
		d.abuse[key] = current
	})
	return nil
}

func (r *abuseRepository) ListFlagged(ctx context.Context, monthYear string, only domain.FlagLevel, limit int) ([]domain.CustomerAbuseTracking, error) {
	result := make([]domain.CustomerAbuseTracking, 0)
	r.store.read(ctx, func(d *state) {
		for _, row := range d.abuse {
			if row.MonthYear != monthYear || row.FlagLevel == domain.FlagNone {
				continue
			}
			if only != domain.FlagNone && row.FlagLevel != only {
				continue
			}
			result = append(result, row)
		}
	})

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.FlagLevel != b.FlagLevel {
			return a.FlagLevel > b.FlagLevel
		}
		if a.ReturnsCount != b.ReturnsCount {
			return a.ReturnsCount > b.ReturnsCount
		}
		return a.CustomerID < b.CustomerID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *abuseRepository) CountFlagged(ctx context.Context, monthYear string) (int, error) {
	var count int
	r.store.read(ctx, func(d *state) {
		for _, row := range d.abuse {
			if row.MonthYear == monthYear && row.FlagLevel != domain.FlagNone {
				count++
			}
		}
	})
	return count, nil
}

var _ domain.AbuseRepository = (*abuseRepository)(nil)
