package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// GarageStatus - производный статус подотчётности гаража.
type GarageStatus string

const (
	GarageGoodStanding GarageStatus = "good_standing"
	GarageWarning      GarageStatus = "warning"
	GarageReview       GarageStatus = "review"
	GarageSuspended    GarageStatus = "suspended"
)

// GarageAction - ступень лестницы санкций за отмены.
type GarageAction string

const (
	GarageActionNone            GarageAction = "none"
	GarageActionWarning         GarageAction = "warning"
	GarageActionRepeatOffender  GarageAction = "repeat_offender_penalty"
	GarageActionReviewHold      GarageAction = "review_48h"
	GarageActionSuspend         GarageAction = "suspend_7_days"
	GarageActionPermanentReview GarageAction = "permanent_review"
)

// GarageAccountability хранит счётчик отмен гаража за календарный месяц и активные санкции.
type GarageAccountability struct {
	GarageID               string
	CancellationsThisMonth int
	LastCancellationReset  time.Time
	RepeatOffender         bool
	HoldUntil              *time.Time
	SuspendedUntil         *time.Time
	PermanentReview        bool
	UpdatedAt              time.Time
}

// SameMonth сообщает, что два момента лежат в одном календарном месяце (UTC).
func SameMonth(a, b time.Time) bool {
	a, b = a.UTC(), b.UTC()
	return a.Year() == b.Year() && a.Month() == b.Month()
}

// GaragePenaltyOutcome - результат учёта очередной отмены гаражом.
type GaragePenaltyOutcome struct {
	GarageID      string          `json:"garage_id"`
	Count         int             `json:"count"`
	PenaltyAmount decimal.Decimal `json:"penalty_amount"`
	Action        GarageAction    `json:"action"`
}

// PenaltyType - причина начисления штрафа.
type PenaltyType string

const (
	PenaltyCancellation PenaltyType = "cancellation"
	PenaltySLABreach    PenaltyType = "sla_breach"
)

// PenaltyStatus - состояние строки в реестре штрафов.
type PenaltyStatus string

const (
	PenaltyPending PenaltyStatus = "pending"
	PenaltyWarning PenaltyStatus = "warning"
)

// GaragePenalty - строка реестра штрафов гаража.
type GaragePenalty struct {
	ID        string
	GarageID  string
	OrderID   string
	Type      PenaltyType
	Action    GarageAction
	Amount    decimal.Decimal
	Status    PenaltyStatus
	Notes     string
	CreatedAt time.Time
}

// PenaltySummary - агрегат по неоплаченным штрафам.
type PenaltySummary struct {
	PendingCount int
	PendingTotal decimal.Decimal
}
