package fraud

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/metrics"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/policy"
)

const (
	auditEntityCustomerFlag = "customer_fraud_flag"
	auditActionFlagUpdated  = "flag_updated"
)

// Decision - ответ проверки ограничений клиента.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// IncrementResult - состояние счётчика после атомарного увеличения.
type IncrementResult struct {
	Allowed   bool             `json:"allowed"`
	Count     int              `json:"count"`
	FlagLevel domain.FlagLevel `json:"flag_level"`
}

// CancellationCount - счётчик отмен клиента за месяц.
type CancellationCount struct {
	Count   int  `json:"count"`
	Flagged bool `json:"flagged_for_review"`
}

// AccountabilityReport - сводка подотчётности гаража для дашбордов.
type AccountabilityReport struct {
	GarageID               string              `json:"garage_id"`
	CancellationsThisMonth int                 `json:"cancellations_this_month"`
	LastCancellationReset  time.Time           `json:"last_cancellation_reset"`
	Status                 domain.GarageStatus `json:"status"`
	RepeatOffender         bool                `json:"repeat_offender"`
	HoldUntil              *time.Time          `json:"hold_until,omitempty"`
	SuspendedUntil         *time.Time          `json:"suspended_until,omitempty"`
	Suspended              bool                `json:"suspended"`
	PermanentReview        bool                `json:"permanent_review"`
	PendingPenalties       int                 `json:"pending_penalties"`
	PendingPenaltyTotal    decimal.Decimal     `json:"pending_penalty_total"`
}

// Option настраивает Service.
type Option func(*Service)

// WithPolicy задаёт таблицу порогов.
func WithPolicy(table policy.Table) Option {
	return func(s *Service) { s.policy = table }
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.LifecycleMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service ведёт помесячные счётчики злоупотреблений клиентов и лестницу санкций гаражей.
// Все операции присоединяются к транзакции вызывающего кода, если она есть в ctx.
type Service struct {
	uow     domain.UnitOfWork
	policy  policy.Table
	metrics *metrics.LifecycleMetrics
	logger  *log.Entry
	now     func() time.Time
}

// NewService создаёт сервис контроля злоупотреблений.
func NewService(uow domain.UnitOfWork, options ...Option) *Service {
	s := &Service{
		uow:    uow,
		policy: policy.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "fraud")
	}
	return s
}

// GetAbuseStatus возвращает счётчики клиента за текущий месяц и производные ограничения.
func (s *Service) GetAbuseStatus(ctx context.Context, customerID string) (domain.CustomerAbuseStatus, error) {
	row, err := s.uow.Repositories().Abuse.Get(ctx, customerID, domain.MonthKey(s.now()))
	if err != nil {
		return domain.CustomerAbuseStatus{}, fmt.Errorf("get abuse tracking: %w", err)
	}
	return s.status(row), nil
}

func (s *Service) status(row domain.CustomerAbuseTracking) domain.CustomerAbuseStatus {
	blocked := row.FlagLevel >= domain.FlagRed
	return domain.CustomerAbuseStatus{
		CustomerID:           row.CustomerID,
		MonthYear:            row.MonthYear,
		ReturnsCount:         row.ReturnsCount,
		DefectiveClaimsCount: row.DefectiveClaimsCount,
		CancellationsCount:   row.CancellationsCount,
		FlagLevel:            row.FlagLevel,
		ReviewRequested:      row.ReviewRequested,
		CanReturn:            !blocked && row.ReturnsCount < s.policy.MaxReturnsPerMonth,
		CanClaimDefective:    !blocked && row.DefectiveClaimsCount < s.policy.MaxDefectiveClaimsPerMonth,
		RemainingReturns:     max(0, s.policy.MaxReturnsPerMonth-row.ReturnsCount),
		RemainingClaims:      max(0, s.policy.MaxDefectiveClaimsPerMonth-row.DefectiveClaimsCount),
	}
}

// CanCustomerReturn проверяет флаг аккаунта, затем месячный лимит возвратов.
func (s *Service) CanCustomerReturn(ctx context.Context, customerID string) (Decision, error) {
	row, err := s.uow.Repositories().Abuse.Get(ctx, customerID, domain.MonthKey(s.now()))
	if err != nil {
		return Decision{}, fmt.Errorf("get abuse tracking: %w", err)
	}
	if decision, blocked := flagDecision(row.FlagLevel); blocked {
		return decision, nil
	}
	if row.ReturnsCount >= s.policy.MaxReturnsPerMonth {
		return Decision{Reason: fmt.Sprintf(
			"Monthly return limit reached (%d/month). Contact support for assistance.",
			s.policy.MaxReturnsPerMonth,
		)}, nil
	}
	return Decision{Allowed: true}, nil
}

// CanClaimDefective проверяет флаг аккаунта, затем месячный лимит заявлений о браке.
func (s *Service) CanClaimDefective(ctx context.Context, customerID string) (Decision, error) {
	row, err := s.uow.Repositories().Abuse.Get(ctx, customerID, domain.MonthKey(s.now()))
	if err != nil {
		return Decision{}, fmt.Errorf("get abuse tracking: %w", err)
	}
	if decision, blocked := flagDecision(row.FlagLevel); blocked {
		return decision, nil
	}
	if row.DefectiveClaimsCount >= s.policy.MaxDefectiveClaimsPerMonth {
		return Decision{Reason: fmt.Sprintf(
			"Monthly defective claim limit reached (%d/month). Contact support for assistance.",
			s.policy.MaxDefectiveClaimsPerMonth,
		)}, nil
	}
	return Decision{Allowed: true}, nil
}

func flagDecision(level domain.FlagLevel) (Decision, bool) {
	switch level {
	case domain.FlagBlack:
		return Decision{Reason: "Account suspended due to abuse"}, true
	case domain.FlagRed:
		return Decision{Reason: "Account under review"}, true
	default:
		return Decision{}, false
	}
}

// IncrementReturnCount увеличивает счётчик возвратов; с порога поднимает флаг до yellow.
func (s *Service) IncrementReturnCount(ctx context.Context, customerID string) (IncrementResult, error) {
	return s.incrementWithFlag(ctx, customerID, domain.CounterReturns,
		s.policy.ReturnFlagThreshold, domain.FlagYellow, s.policy.MaxReturnsPerMonth)
}

// IncrementDefectiveClaimCount увеличивает счётчик заявлений о браке; с порога поднимает флаг до orange.
func (s *Service) IncrementDefectiveClaimCount(ctx context.Context, customerID string) (IncrementResult, error) {
	return s.incrementWithFlag(ctx, customerID, domain.CounterDefectiveClaims,
		s.policy.DefectiveFlagThreshold, domain.FlagOrange, s.policy.MaxDefectiveClaimsPerMonth)
}

func (s *Service) incrementWithFlag(
	ctx context.Context,
	customerID string,
	counter domain.AbuseCounter,
	threshold int,
	raiseTo domain.FlagLevel,
	limit int,
) (IncrementResult, error) {
	var result IncrementResult

	err := s.uow.Within(ctx, func(ctx context.Context, repos domain.Repositories) error {
		now := s.now()
		row, err := repos.Abuse.Increment(ctx, customerID, domain.MonthKey(now), counter, now)
		if err != nil {
			return fmt.Errorf("increment %s: %w", counter, err)
		}

		count := counterValue(row, counter)
		if count >= threshold {
			escalated := domain.EscalateFlag(row.FlagLevel, raiseTo)
			if escalated != row.FlagLevel {
				row.FlagLevel = escalated
				row.UpdatedAt = now
				if err := repos.Abuse.SaveFlags(ctx, row); err != nil {
					return fmt.Errorf("save escalated flag: %w", err)
				}
				s.metrics.RecordFlagChange(escalated.String(), "auto")
				s.logger.WithFields(log.Fields{
					"customer_id": customerID,
					"counter":     counter,
					"count":       count,
					"flag_level":  escalated.String(),
				}).Warn("customer abuse flag escalated")
			}
		}

		result = IncrementResult{
			Allowed:   count <= limit,
			Count:     count,
			FlagLevel: row.FlagLevel,
		}
		return nil
	})
	if err != nil {
		return IncrementResult{}, err
	}
	return result, nil
}

func counterValue(row domain.CustomerAbuseTracking, counter domain.AbuseCounter) int {
	switch counter {
	case domain.CounterReturns:
		return row.ReturnsCount
	case domain.CounterDefectiveClaims:
		return row.DefectiveClaimsCount
	default:
		return row.CancellationsCount
	}
}

// IncrementCancellationCount увеличивает счётчик отмен клиента.
// Частые отмены помечают аккаунт для ручной проверки, но не блокируют его и не меняют флаг.
func (s *Service) IncrementCancellationCount(ctx context.Context, customerID string) (CancellationCount, error) {
	var result CancellationCount

	err := s.uow.Within(ctx, func(ctx context.Context, repos domain.Repositories) error {
		now := s.now()
		row, err := repos.Abuse.Increment(ctx, customerID, domain.MonthKey(now), domain.CounterCancellations, now)
		if err != nil {
			return fmt.Errorf("increment cancellations: %w", err)
		}

		flagged := row.CancellationsCount >= s.policy.CancellationReviewThreshold
		if flagged && !row.ReviewRequested {
			row.ReviewRequested = true
			row.UpdatedAt = now
			if err := repos.Abuse.SaveFlags(ctx, row); err != nil {
				return fmt.Errorf("save review request: %w", err)
			}
			s.logger.WithFields(log.Fields{
				"customer_id":   customerID,
				"cancellations": row.CancellationsCount,
			}).Warn("customer flagged for cancellation review")
		}

		result = CancellationCount{Count: row.CancellationsCount, Flagged: flagged}
		return nil
	})
	if err != nil {
		return CancellationCount{}, err
	}
	return result, nil
}

// SetFlagLevel - ручная установка флага оператором. Единственный путь понижения флага;
// каждое изменение пишется в журнал аудита.
func (s *Service) SetFlagLevel(ctx context.Context, customerID string, level domain.FlagLevel, reason, operatorID string) (domain.CustomerAbuseStatus, error) {
	reason = strings.TrimSpace(reason)
	operatorID = strings.TrimSpace(operatorID)
	switch {
	case strings.TrimSpace(customerID) == "":
		return domain.CustomerAbuseStatus{}, fmt.Errorf("%w: customer_id is required", domain.ErrInvalidArgument)
	case !level.Valid():
		return domain.CustomerAbuseStatus{}, fmt.Errorf("%w: invalid flag level", domain.ErrInvalidArgument)
	case operatorID == "":
		return domain.CustomerAbuseStatus{}, fmt.Errorf("%w: operator_id is required", domain.ErrInvalidArgument)
	case reason == "":
		return domain.CustomerAbuseStatus{}, fmt.Errorf("%w: reason is required", domain.ErrInvalidArgument)
	}

	var status domain.CustomerAbuseStatus
	err := s.uow.Within(ctx, func(ctx context.Context, repos domain.Repositories) error {
		now := s.now()
		row, err := repos.Abuse.Get(ctx, customerID, domain.MonthKey(now))
		if err != nil {
			return fmt.Errorf("get abuse tracking: %w", err)
		}

		previous := row.FlagLevel
		row.FlagLevel = level
		row.UpdatedAt = now
		if err := repos.Abuse.SaveFlags(ctx, row); err != nil {
			return fmt.Errorf("save flag: %w", err)
		}

		details, err := json.Marshal(map[string]string{
			"old_flag":   previous.String(),
			"new_flag":   level.String(),
			"reason":     reason,
			"month_year": row.MonthYear,
		})
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
		if err := repos.Audit.Append(ctx, domain.AuditEntry{
			EntityType: auditEntityCustomerFlag,
			EntityID:   customerID,
			Action:     auditActionFlagUpdated,
			ActorID:    operatorID,
			Details:    details,
			CreatedAt:  now,
		}); err != nil {
			return fmt.Errorf("append audit entry: %w", err)
		}

		status = s.status(row)
		s.logger.WithFields(log.Fields{
			"customer_id": customerID,
			"operator_id": operatorID,
			"old_flag":    previous.String(),
			"new_flag":    level.String(),
		}).Info("customer abuse flag set by operator")
		return nil
	})
	if err != nil {
		return domain.CustomerAbuseStatus{}, err
	}

	s.metrics.RecordFlagChange(level.String(), "operator")
	return status, nil
}

// GetAccountability сбрасывает счётчик при смене календарного месяца и возвращает сводку гаража.
func (s *Service) GetAccountability(ctx context.Context, garageID string) (AccountabilityReport, error) {
	var report AccountabilityReport

	err := s.uow.Within(ctx, func(ctx context.Context, repos domain.Repositories) error {
		now := s.now()
		row, err := repos.Garages.ResetIfNewMonth(ctx, garageID, now)
		if err != nil {
			return fmt.Errorf("reset garage counter: %w", err)
		}
		summary, err := repos.Penalties.PendingSummary(ctx, garageID)
		if err != nil {
			return fmt.Errorf("pending penalties: %w", err)
		}

		report = AccountabilityReport{
			GarageID:               garageID,
			CancellationsThisMonth: row.CancellationsThisMonth,
			LastCancellationReset:  row.LastCancellationReset,
			Status:                 s.policy.GarageStatus(row.CancellationsThisMonth),
			RepeatOffender:         row.RepeatOffender,
			HoldUntil:              row.HoldUntil,
			SuspendedUntil:         row.SuspendedUntil,
			Suspended:              suspendedAt(row, now),
			PermanentReview:        row.PermanentReview,
			PendingPenalties:       summary.PendingCount,
			PendingPenaltyTotal:    summary.PendingTotal,
		}
		return nil
	})
	if err != nil {
		return AccountabilityReport{}, err
	}
	return report, nil
}

// IncrementGarageCancellation учитывает отмену гаражом и применяет ступень лестницы.
// Штраф как долг гаража записывает вызывающий код.
func (s *Service) IncrementGarageCancellation(ctx context.Context, garageID string) (domain.GaragePenaltyOutcome, error) {
	var outcome domain.GaragePenaltyOutcome

	err := s.uow.Within(ctx, func(ctx context.Context, repos domain.Repositories) error {
		now := s.now()
		row, err := repos.Garages.IncrementCancellation(ctx, garageID, now)
		if err != nil {
			return fmt.Errorf("increment garage cancellations: %w", err)
		}

		rung := s.policy.GarageRung(row.CancellationsThisMonth)
		if applySanctions(&row, rung, now) {
			row.UpdatedAt = now
			if err := repos.Garages.SaveSanctions(ctx, row); err != nil {
				return fmt.Errorf("save garage sanctions: %w", err)
			}
		}

		outcome = domain.GaragePenaltyOutcome{
			GarageID:      garageID,
			Count:         row.CancellationsThisMonth,
			PenaltyAmount: rung.Penalty,
			Action:        rung.Action,
		}
		return nil
	})
	if err != nil {
		return domain.GaragePenaltyOutcome{}, err
	}

	s.metrics.RecordGaragePenalty(string(outcome.Action))
	s.logger.WithFields(log.Fields{
		"garage_id": garageID,
		"count":     outcome.Count,
		"action":    outcome.Action,
		"penalty":   outcome.PenaltyAmount.String(),
	}).Info("garage cancellation recorded")
	return outcome, nil
}

// IsGarageSuspended сообщает, действует ли сейчас приостановка гаража.
func (s *Service) IsGarageSuspended(ctx context.Context, garageID string) (bool, error) {
	row, err := s.uow.Repositories().Garages.Get(ctx, garageID)
	if err != nil {
		return false, fmt.Errorf("get garage accountability: %w", err)
	}
	return suspendedAt(row, s.now()), nil
}

func suspendedAt(row domain.GarageAccountability, now time.Time) bool {
	return row.SuspendedUntil != nil && now.Before(*row.SuspendedUntil)
}

func applySanctions(row *domain.GarageAccountability, rung policy.Rung, now time.Time) bool {
	changed := false
	if rung.RepeatOffender && !row.RepeatOffender {
		row.RepeatOffender = true
		changed = true
	}
	if rung.Hold > 0 {
		until := now.Add(rung.Hold)
		row.HoldUntil = &until
		changed = true
	}
	if rung.Suspend > 0 {
		until := now.Add(rung.Suspend)
		row.SuspendedUntil = &until
		changed = true
	}
	if rung.PermanentReview && !row.PermanentReview {
		row.PermanentReview = true
		changed = true
	}
	return changed
}
