package memory

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
)

type returnRepository struct {
	store *Store
}

func cloneReturn(src domain.ReturnRequest) domain.ReturnRequest {
	dst := src
	dst.PhotoURLs = append([]string(nil), src.PhotoURLs...)
	return dst
}

func (r *returnRepository) Create(ctx context.Context, req domain.ReturnRequest) error {
	var err error
	r.store.write(ctx, func(d *state) {
		for _, existing := range d.returns {
			if existing.OrderID == req.OrderID {
				err = domain.ErrReturnAlreadyExists
				return
			}
		}
		d.returns[req.ID] = cloneReturn(req)
	})
	return err
}

func (r *returnRepository) Get(ctx context.Context, id string) (domain.ReturnRequest, error) {
	var (
		req domain.ReturnRequest
		ok  bool
	)
	r.store.read(ctx, func(d *state) {
		req, ok = d.returns[id]
	})
	if !ok {
		return domain.ReturnRequest{}, domain.ErrReturnRequestNotFound
	}
	return cloneReturn(req), nil
}

func (r *returnRepository) GetForUpdate(ctx context.Context, id string) (domain.ReturnRequest, error) {
	return r.Get(ctx, id)
}

func (r *returnRepository) GetByOrder(ctx context.Context, orderID string) (domain.ReturnRequest, error) {
	var (
		req   domain.ReturnRequest
		found bool
	)
	r.store.read(ctx, func(d *state) {
		for _, existing := range d.returns {
			if existing.OrderID == orderID {
				req, found = existing, true
				return
			}
		}
	})
	if !found {
		return domain.ReturnRequest{}, domain.ErrReturnRequestNotFound
	}
	return cloneReturn(req), nil
}

func (r *returnRepository) Update(ctx context.Context, req domain.ReturnRequest) error {
	var err error
	r.store.write(ctx, func(d *state) {
		if _, ok := d.returns[req.ID]; !ok {
			err = domain.ErrReturnRequestNotFound
			return
		}
		d.returns[req.ID] = cloneReturn(req)
	})
	return err
}

func (r *returnRepository) ListByStatus(ctx context.Context, statuses []domain.ReturnStatus, limit int) ([]domain.ReturnRequest, error) {
	wanted := make(map[domain.ReturnStatus]struct{}, len(statuses))
	for _, status := range statuses {
		wanted[status] = struct{}{}
	}

	result := make([]domain.ReturnRequest, 0)
	r.store.read(ctx, func(d *state) {
		for _, req := range d.returns {
			if _, ok := wanted[req.Status]; ok {
				result = append(result, cloneReturn(req))
			}
		}
	})

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *returnRepository) CountByStatus(ctx context.Context, status domain.ReturnStatus) (int, error) {
	var count int
	r.store.read(ctx, func(d *state) {
		for _, req := range d.returns {
			if req.Status == status {
				count++
			}
		}
	})
	return count, nil
}

func (r *returnRepository) SumRefundSince(ctx context.Context, status domain.ReturnStatus, since time.Time) (decimal.Decimal, error) {
	total := decimal.Zero
	r.store.read(ctx, func(d *state) {
		for _, req := range d.returns {
			if req.Status == status && !req.CreatedAt.Before(since) {
				total = total.Add(req.RefundAmount)
			}
		}
	})
	return total, nil
}

var _ domain.ReturnRepository = (*returnRepository)(nil)
