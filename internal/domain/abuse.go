package domain

import (
	"fmt"
	"strings"
	"time"
)

// FlagLevel - уровень подозрительности аккаунта клиента.
// Значения упорядочены: none < yellow < orange < red < black.
type FlagLevel int

const (
	FlagNone FlagLevel = iota
	FlagYellow
	FlagOrange
	FlagRed
	FlagBlack
)

var flagNames = [...]string{
	FlagNone:   "none",
	FlagYellow: "yellow",
	FlagOrange: "orange",
	FlagRed:    "red",
	FlagBlack:  "black",
}

// Valid проверяет, что уровень входит в закрытый набор.
func (f FlagLevel) Valid() bool {
	return f >= FlagNone && f <= FlagBlack
}

func (f FlagLevel) String() string {
	if !f.Valid() {
		return fmt.Sprintf("FlagLevel(%d)", int(f))
	}
	return flagNames[f]
}

// ParseFlagLevel разбирает текстовое значение флага.
func ParseFlagLevel(raw string) (FlagLevel, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	for level, name := range flagNames {
		if name == raw {
			return FlagLevel(level), nil
		}
	}
	return FlagNone, fmt.Errorf("%w: unknown flag level %q", ErrInvalidArgument, raw)
}

func (f FlagLevel) MarshalText() ([]byte, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("invalid flag level %d", int(f))
	}
	return []byte(flagNames[f]), nil
}

func (f *FlagLevel) UnmarshalText(text []byte) error {
	level, err := ParseFlagLevel(string(text))
	if err != nil {
		return err
	}
	*f = level
	return nil
}

// EscalateFlag возвращает более строгий из двух уровней.
// Автоматическая эскалация никогда не понижает флаг.
func EscalateFlag(current, candidate FlagLevel) FlagLevel {
	if candidate > current {
		return candidate
	}
	return current
}

// AbuseCounter - счётчик помесячной статистики клиента.
type AbuseCounter string

const (
	CounterReturns         AbuseCounter = "returns"
	CounterDefectiveClaims AbuseCounter = "defective_claims"
	CounterCancellations   AbuseCounter = "cancellations"
)

// CustomerAbuseTracking - строка помесячной статистики клиента (customer_id, month_year).
type CustomerAbuseTracking struct {
	CustomerID           string
	MonthYear            string
	ReturnsCount         int
	DefectiveClaimsCount int
	CancellationsCount   int
	FlagLevel            FlagLevel
	// ReviewRequested выставляется при частых отменах и не блокирует клиента.
	ReviewRequested bool
	UpdatedAt       time.Time
}

// MonthKey возвращает ключ месяца в формате YYYY-MM (UTC).
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// MonthStart возвращает начало календарного месяца t в UTC.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// CustomerAbuseStatus - сводка для проверок и дашбордов.
type CustomerAbuseStatus struct {
	CustomerID           string    `json:"customer_id"`
	MonthYear            string    `json:"month_year"`
	ReturnsCount         int       `json:"returns_count"`
	DefectiveClaimsCount int       `json:"defective_claims_count"`
	CancellationsCount   int       `json:"cancellations_count"`
	FlagLevel            FlagLevel `json:"flag_level"`
	ReviewRequested      bool      `json:"review_requested"`
	CanReturn            bool      `json:"can_return"`
	CanClaimDefective    bool      `json:"can_claim_defective"`
	RemainingReturns     int       `json:"remaining_returns"`
	RemainingClaims      int       `json:"remaining_claims"`
}

// AuditEntry - запись журнала ручных действий операторов.
type AuditEntry struct {
	ID         string
	EntityType string
	EntityID   string
	Action     string
	ActorID    string
	Details    []byte
	CreatedAt  time.Time
}
