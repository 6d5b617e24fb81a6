package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
)

type txKey struct{}

// state - данные хранилища. Транзакция снимает копию state и восстанавливает её при ошибке.
type state struct {
	orders        map[string]domain.Order
	returns       map[string]domain.ReturnRequest
	abuse         map[string]domain.CustomerAbuseTracking
	garages       map[string]domain.GarageAccountability
	refunds       map[string]domain.Refund
	penalties     []domain.GaragePenalty
	cancellations []domain.CancellationRecord
	timeline      map[string][]domain.TimelineEvent
	audit         []domain.AuditEntry
}

func newState() *state {
	return &state{
		orders:   make(map[string]domain.Order),
		returns:  make(map[string]domain.ReturnRequest),
		abuse:    make(map[string]domain.CustomerAbuseTracking),
		garages:  make(map[string]domain.GarageAccountability),
		refunds:  make(map[string]domain.Refund),
		timeline: make(map[string][]domain.TimelineEvent),
	}
}

func (s *state) clone() *state {
	dst := newState()
	for k, v := range s.orders {
		dst.orders[k] = v
	}
	for k, v := range s.returns {
		dst.returns[k] = cloneReturn(v)
	}
	for k, v := range s.abuse {
		dst.abuse[k] = v
	}
	for k, v := range s.garages {
		dst.garages[k] = v
	}
	for k, v := range s.refunds {
		dst.refunds[k] = v
	}
	for k, v := range s.timeline {
		dst.timeline[k] = append([]domain.TimelineEvent(nil), v...)
	}
	dst.penalties = append([]domain.GaragePenalty(nil), s.penalties...)
	dst.cancellations = append([]domain.CancellationRecord(nil), s.cancellations...)
	dst.audit = append([]domain.AuditEntry(nil), s.audit...)
	return dst
}

// Store - in-memory реализация UnitOfWork для разработки и тестов.
// Транзакции сериализуются глобальным мьютексом, поэтому GetForUpdate эквивалентен Get.
// Операции вне транзакции берут тот же мьютекс: они не видят незакоммиченных изменений
// и не теряются при откате чужой транзакции.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	data *state
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{data: newState()}
}

// Within выполняет fn в транзакции; при ошибке или панике состояние откатывается.
func (s *Store) Within(ctx context.Context, fn func(ctx context.Context, repos domain.Repositories) error) error {
	if s.inTx(ctx) {
		return fn(ctx, s.Repositories())
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.data.clone()
	s.mu.RUnlock()

	committed := false
	defer func() {
		if committed {
			return
		}
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
	}()

	if err := fn(context.WithValue(ctx, txKey{}, s), s.Repositories()); err != nil {
		return err
	}
	committed = true
	return nil
}

// Repositories возвращает репозитории поверх общего состояния.
func (s *Store) Repositories() domain.Repositories {
	return domain.Repositories{
		Orders:        &orderRepository{store: s},
		Returns:       &returnRepository{store: s},
		Abuse:         &abuseRepository{store: s},
		Garages:       &garageRepository{store: s},
		Penalties:     &penaltyRepository{store: s},
		Refunds:       &refundRepository{store: s},
		Cancellations: &cancellationRepository{store: s},
		Timeline:      &timelineRepository{store: s},
		Audit:         &auditRepository{store: s},
	}
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, ok := ctx.Value(txKey{}).(*Store)
	return ok && owner == s
}

// read и write вне транзакции ведут себя как одиночная автокоммит-транзакция.
func (s *Store) read(ctx context.Context, fn func(d *state)) {
	if !s.inTx(ctx) {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.data)
}

func (s *Store) write(ctx context.Context, fn func(d *state)) {
	if !s.inTx(ctx) {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.data)
}

var _ domain.UnitOfWork = (*Store)(nil)
