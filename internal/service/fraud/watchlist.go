package fraud

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
)

// MaxFlaggedPage - верхняя граница выдачи ListFlagged.
const MaxFlaggedPage = 100

// Stats - сводка контроля злоупотреблений за текущий месяц.
type Stats struct {
	WatchlistCount     int             `json:"watchlist_count"`
	PendingReturns     int             `json:"pending_returns"`
	PenaltiesThisMonth decimal.Decimal `json:"penalties_this_month"`
	PreventedAmount    decimal.Decimal `json:"prevented_amount"`
}

// Stats собирает сводку для операторов: клиентов с флагом, ожидающие заявки на возврат,
// штрафы гаражей и отклонённые возвраты с начала месяца.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	now := s.now()
	monthStart := domain.MonthStart(now)
	repos := s.uow.Repositories()

	var stats Stats
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		count, err := repos.Abuse.CountFlagged(ctx, domain.MonthKey(now))
		if err != nil {
			return fmt.Errorf("count watchlist: %w", err)
		}
		stats.WatchlistCount = count
		return nil
	})
	g.Go(func() error {
		count, err := repos.Returns.CountByStatus(ctx, domain.ReturnStatusPending)
		if err != nil {
			return fmt.Errorf("count pending returns: %w", err)
		}
		stats.PendingReturns = count
		return nil
	})
	g.Go(func() error {
		total, err := repos.Penalties.SumSince(ctx, monthStart)
		if err != nil {
			return fmt.Errorf("sum penalties: %w", err)
		}
		stats.PenaltiesThisMonth = total
		return nil
	})
	g.Go(func() error {
		total, err := repos.Returns.SumRefundSince(ctx, domain.ReturnStatusRejected, monthStart)
		if err != nil {
			return fmt.Errorf("sum prevented refunds: %w", err)
		}
		stats.PreventedAmount = total
		return nil
	})
	if err := g.Wait(); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// ListFlagged возвращает клиентов с флагом и их счётчики за текущий месяц.
// FlagNone выдаёт клиентов с любым флагом; limit ограничен MaxFlaggedPage.
func (s *Service) ListFlagged(ctx context.Context, flag domain.FlagLevel, limit int) ([]domain.CustomerAbuseStatus, error) {
	if !flag.Valid() {
		return nil, fmt.Errorf("%w: invalid flag level %d", domain.ErrInvalidArgument, int(flag))
	}
	if limit <= 0 || limit > MaxFlaggedPage {
		limit = MaxFlaggedPage
	}

	rows, err := s.uow.Repositories().Abuse.ListFlagged(ctx, domain.MonthKey(s.now()), flag, limit)
	if err != nil {
		return nil, fmt.Errorf("list flagged customers: %w", err)
	}
	result := make([]domain.CustomerAbuseStatus, 0, len(rows))
	for _, row := range rows {
		result = append(result, s.status(row))
	}
	return result, nil
}
