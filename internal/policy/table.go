package policy

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
)

// Split - доли платформы и гаража в удержании.
type Split struct {
	Platform decimal.Decimal `json:"platform"`
	Garage   decimal.Decimal `json:"garage"`
}

// Rung - ступень лестницы санкций гаража.
type Rung struct {
	Action          domain.GarageAction
	Penalty         decimal.Decimal
	RepeatOffender  bool
	Hold            time.Duration
	Suspend         time.Duration
	PermanentReview bool
}

// Table - финансовая политика и пороги злоупотреблений.
type Table struct {
	// Ставка удержания при отмене по стадиям; AFTER_DELIVERY отсутствует намеренно.
	CancellationFeeRates map[domain.Stage]decimal.Decimal
	// Ставки для распределения удержания между платформой и гаражом.
	SplitRates map[domain.Stage]Split
	// Стадии, на которых стоимость доставки удерживается целиком.
	RetainDeliveryFee map[domain.Stage]bool

	FeeCap                decimal.Decimal
	FirstCancellationFree bool

	ReturnWindow    time.Duration
	ReturnFeeRate   decimal.Decimal
	ReturnSplit     Split
	MinReturnPhotos int

	MaxReturnsPerMonth          int
	MaxDefectiveClaimsPerMonth  int
	ReturnFlagThreshold         int
	DefectiveFlagThreshold      int
	CancellationReviewThreshold int

	// GarageLadder[i] применяется к (i+1)-й отмене месяца; последняя ступень повторяется.
	GarageLadder       []Rung
	GarageWarningAt    int
	GarageReviewAt     int
	GarageSuspendedAt  int
	WrongPartPenalty   decimal.Decimal
	DamagedPartPenalty decimal.Decimal
	PreparationSLA     time.Duration
}

// Default возвращает действующую политику маркетплейса.
func Default() Table {
	pct := func(v int64) decimal.Decimal { return decimal.New(v, -2) }
	penalty := decimal.NewFromInt(50)

	return Table{
		CancellationFeeRates: map[domain.Stage]decimal.Decimal{
			domain.StageBeforePayment:     decimal.Zero,
			domain.StageAfterPayment:      pct(5),
			domain.StageDuringPreparation: pct(10),
			domain.StageInDelivery:        pct(10),
		},
		SplitRates: map[domain.Stage]Split{
			domain.StageBeforePayment:     {Platform: decimal.Zero, Garage: decimal.Zero},
			domain.StageAfterPayment:      {Platform: pct(5), Garage: decimal.Zero},
			domain.StageDuringPreparation: {Platform: pct(5), Garage: pct(5)},
			domain.StageInDelivery:        {Platform: pct(5), Garage: pct(5)},
		},
		RetainDeliveryFee: map[domain.Stage]bool{
			domain.StageInDelivery: true,
		},
		FeeCap:                decimal.NewFromInt(100),
		FirstCancellationFree: true,

		ReturnWindow:    7 * 24 * time.Hour,
		ReturnFeeRate:   pct(20),
		ReturnSplit:     Split{Platform: pct(10), Garage: pct(10)},
		MinReturnPhotos: 3,

		MaxReturnsPerMonth:          3,
		MaxDefectiveClaimsPerMonth:  3,
		ReturnFlagThreshold:         4,
		DefectiveFlagThreshold:      4,
		CancellationReviewThreshold: 5,

		GarageLadder: []Rung{
			{Action: domain.GarageActionWarning, Penalty: decimal.Zero},
			{Action: domain.GarageActionRepeatOffender, Penalty: penalty, RepeatOffender: true},
			{Action: domain.GarageActionReviewHold, Penalty: penalty, Hold: 48 * time.Hour},
			{Action: domain.GarageActionSuspend, Penalty: penalty, Suspend: 7 * 24 * time.Hour},
			{Action: domain.GarageActionPermanentReview, Penalty: penalty, PermanentReview: true},
		},
		GarageWarningAt:    1,
		GarageReviewAt:     3,
		GarageSuspendedAt:  4,
		WrongPartPenalty:   decimal.NewFromInt(100),
		DamagedPartPenalty: decimal.NewFromInt(50),
		PreparationSLA:     72 * time.Hour,
	}
}

// Validate проверяет согласованность таблицы: все отменяемые стадии описаны,
// ставки неотрицательны, пороги упорядочены.
func (t Table) Validate() error {
	var errs []error

	for _, stage := range domain.Stages() {
		rate, hasRate := t.CancellationFeeRates[stage]
		_, hasSplit := t.SplitRates[stage]
		if stage == domain.StageAfterDelivery {
			if hasRate {
				errs = append(errs, errors.New("AFTER_DELIVERY must not have a cancellation fee rate"))
			}
			continue
		}
		if !hasRate {
			errs = append(errs, fmt.Errorf("stage %s has no cancellation fee rate", stage))
		} else if rate.IsNegative() {
			errs = append(errs, fmt.Errorf("stage %s has negative fee rate", stage))
		}
		if !hasSplit {
			errs = append(errs, fmt.Errorf("stage %s has no fee split", stage))
		}
	}
	if t.FeeCap.IsNegative() {
		errs = append(errs, errors.New("fee cap must be non-negative"))
	}
	if t.ReturnFeeRate.IsNegative() || t.ReturnFeeRate.GreaterThan(decimal.NewFromInt(1)) {
		errs = append(errs, errors.New("return fee rate must be within [0, 1]"))
	}
	if t.ReturnWindow <= 0 {
		errs = append(errs, errors.New("return window must be positive"))
	}
	if len(t.GarageLadder) == 0 {
		errs = append(errs, errors.New("garage ladder is empty"))
	}
	if !(t.GarageWarningAt < t.GarageReviewAt && t.GarageReviewAt < t.GarageSuspendedAt) {
		errs = append(errs, errors.New("garage status thresholds must be increasing"))
	}

	return errors.Join(errs...)
}

// CancellationRate возвращает ставку удержания; ok=false для стадий, где отмена невозможна.
func (t Table) CancellationRate(stage domain.Stage) (decimal.Decimal, bool) {
	rate, ok := t.CancellationFeeRates[stage]
	return rate, ok
}

// CancellationFee считает удержание: процент от цены детали, затем потолок и правило
// бесплатной первой отмены. Результат всегда в [0, FeeCap].
func (t Table) CancellationFee(rate, partPrice decimal.Decimal, firstCancellation bool) (decimal.Decimal, bool) {
	if t.FirstCancellationFree && firstCancellation {
		return decimal.Zero, rate.IsPositive()
	}

	fee := domain.RoundMoney(rate.Mul(partPrice))
	if fee.GreaterThan(t.FeeCap) {
		fee = t.FeeCap
	}
	return domain.FloorZero(fee), false
}

// SplitFee делит удержание между платформой и гаражом пропорционально ставкам стадии.
func (t Table) SplitFee(stage domain.Stage, fee decimal.Decimal) Split {
	return splitProportional(t.SplitRates[stage], fee)
}

// SplitReturnFee делит сбор за возврат.
func (t Table) SplitReturnFee(fee decimal.Decimal) Split {
	return splitProportional(t.ReturnSplit, fee)
}

func splitProportional(rates Split, fee decimal.Decimal) Split {
	total := rates.Platform.Add(rates.Garage)
	if !total.IsPositive() || !fee.IsPositive() {
		return Split{Platform: decimal.Zero, Garage: decimal.Zero}
	}

	platform := domain.RoundMoney(fee.Mul(rates.Platform).Div(total))
	return Split{Platform: platform, Garage: fee.Sub(platform)}
}

// DeliveryFeeRetained возвращает удерживаемую стоимость доставки для стадии.
func (t Table) DeliveryFeeRetained(stage domain.Stage, deliveryFee decimal.Decimal) decimal.Decimal {
	if t.RetainDeliveryFee[stage] {
		return deliveryFee
	}
	return decimal.Zero
}

// ReturnFee считает сбор за возврат от цены детали.
func (t Table) ReturnFee(partPrice decimal.Decimal) decimal.Decimal {
	return domain.FloorZero(domain.RoundMoney(t.ReturnFeeRate.Mul(partPrice)))
}

// GarageRung возвращает ступень лестницы для count-й отмены месяца.
func (t Table) GarageRung(count int) Rung {
	if count <= 0 || len(t.GarageLadder) == 0 {
		return Rung{Action: domain.GarageActionNone, Penalty: decimal.Zero}
	}
	if count > len(t.GarageLadder) {
		count = len(t.GarageLadder)
	}
	return t.GarageLadder[count-1]
}

// GarageStatus выводит статус гаража из количества отмен за месяц.
func (t Table) GarageStatus(count int) domain.GarageStatus {
	switch {
	case count >= t.GarageSuspendedAt:
		return domain.GarageSuspended
	case count >= t.GarageReviewAt:
		return domain.GarageReview
	case count >= t.GarageWarningAt:
		return domain.GarageWarning
	default:
		return domain.GarageGoodStanding
	}
}
