package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
)

type auditRepository struct {
	store *Store
}

func (r *auditRepository) Append(ctx context.Context, entry domain.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.Details = append([]byte(nil), entry.Details...)
	r.store.write(ctx, func(d *state) {
		d.audit = append(d.audit, entry)
	})
	return nil
}

func (r *auditRepository) List(ctx context.Context, entityType, entityID string) ([]domain.AuditEntry, error) {
	result := make([]domain.AuditEntry, 0)
	r.store.read(ctx, func(d *state) {
		for _, entry := range d.audit {
			if entry.EntityType == entityType && entry.EntityID == entityID {
				result = append(result, entry)
			}
		}
	})
	return result, nil
}

var _ domain.AuditRepository = (*auditRepository)(nil)
