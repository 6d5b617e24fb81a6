package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
)

type refundRepository struct {
	store *Store
}

func (r *refundRepository) Create(ctx context.Context, refund domain.Refund) error {
	var err error
	r.store.write(ctx, func(d *state) {
		if _, exists := d.refunds[refund.ID]; exists {
			err = fmt.Errorf("%w: refund %s already exists", domain.ErrInvalidArgument, refund.ID)
			return
		}
		for _, existing := range d.refunds {
			if existing.OrderID == refund.OrderID && existing.Sequence == refund.Sequence {
				err = fmt.Errorf("%w: refund sequence %d already used for order %s",
					domain.ErrInvalidArgument, refund.Sequence, refund.OrderID)
				return
			}
		}
		d.refunds[refund.ID] = refund
	})
	return err
}

func (r *refundRepository) Get(ctx context.Context, id string) (domain.Refund, error) {
	var (
		refund domain.Refund
		ok     bool
	)
	r.store.read(ctx, func(d *state) {
		refund, ok = d.refunds[id]
	})
	if !ok {
		return domain.Refund{}, domain.ErrRefundNotFound
	}
	return refund, nil
}

func (r *refundRepository) GetForUpdate(ctx context.Context, id string) (domain.Refund, error) {
	return r.Get(ctx, id)
}

func (r *refundRepository) NextSequence(ctx context.Context, orderID string) (int, error) {
	next := 1
	r.store.read(ctx, func(d *state) {
		for _, existing := range d.refunds {
			if existing.OrderID == orderID && existing.Sequence >= next {
				next = existing.Sequence + 1
			}
		}
	})
	return next, nil
}

func (r *refundRepository) Update(ctx context.Context, refund domain.Refund) error {
	var err error
	r.store.write(ctx, func(d *state) {
		current, ok := d.refunds[refund.ID]
		if !ok {
			err = domain.ErrRefundNotFound
			return
		}
		if current.Status == domain.RefundStatusSucceeded {
			err = fmt.Errorf("refund %s already succeeded", refund.ID)
			return
		}
		d.refunds[refund.ID] = refund
	})
	return err
}

func (r *refundRepository) ListByStatus(ctx context.Context, status domain.RefundStatus, limit int) ([]domain.Refund, error) {
	return r.list(ctx, func(refund domain.Refund) bool {
		return refund.Status == status
	}, limit), nil
}

func (r *refundRepository) ListForReconcile(ctx context.Context, pendingBefore time.Time, maxAttempts, limit int) ([]domain.Refund, error) {
	return r.list(ctx, func(refund domain.Refund) bool {
		switch refund.Status {
		case domain.RefundStatusPending:
			return refund.CreatedAt.Before(pendingBefore)
		case domain.RefundStatusFailed:
			return refund.Attempts < maxAttempts
		default:
			return false
		}
	}, limit), nil
}

func (r *refundRepository) list(ctx context.Context, match func(domain.Refund) bool, limit int) []domain.Refund {
	result := make([]domain.Refund, 0)
	r.store.read(ctx, func(d *state) {
		for _, refund := range d.refunds {
			if match(refund) {
				result = append(result, refund)
			}
		}
	})

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

var _ domain.RefundRepository = (*refundRepository)(nil)
