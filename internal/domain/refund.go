package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RefundType - операция, породившая возврат средств.
type RefundType string

const (
	RefundTypeCancellation RefundType = "cancellation"
	RefundTypeReturn       RefundType = "return"
)

// RefundStatus описывает состояние возврата у платёжного провайдера.
type RefundStatus string

const (
	// RefundStatusPending - запись создана, провайдер ещё не подтвердил возврат.
	RefundStatusPending RefundStatus = "pending"
	// RefundStatusSucceeded - деньги отправлены клиенту, запись больше не меняется.
	RefundStatusSucceeded RefundStatus = "succeeded"
	// RefundStatusFailed - последняя попытка неудачна, запись ждёт повтора.
	RefundStatusFailed RefundStatus = "failed"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s RefundStatus) Valid() bool {
	switch s {
	case RefundStatusPending, RefundStatusSucceeded, RefundStatusFailed:
		return true
	default:
		return false
	}
}

// Refund - строка реестра возвратов средств (append-only по смыслу).
type Refund struct {
	ID       string
	OrderID  string
	ReturnID string
	Type     RefundType
	// Sequence - порядковый номер возврата по заказу, начиная с 1.
	Sequence            int
	OriginalAmount      decimal.Decimal
	RefundAmount        decimal.Decimal
	FeeRetained         decimal.Decimal
	DeliveryFeeRetained decimal.Decimal
	Currency            string
	PaymentReference    string
	Status              RefundStatus
	Reason              string
	GatewayRefundID     string
	Attempts            int
	LastError           string
	CreatedAt           time.Time
	UpdatedAt           time.Time
	ProcessedAt         *time.Time
}

// IdempotencyKey - стабильный ключ для провайдера, одинаковый для всех повторов этой записи.
func (r Refund) IdempotencyKey() string {
	return fmt.Sprintf("refund:%s:%d", r.OrderID, r.Sequence)
}

// RetainAmount - сумма, которую провайдер должен оставить мерчанту.
func (r Refund) RetainAmount() decimal.Decimal {
	return r.FeeRetained.Add(r.DeliveryFeeRetained)
}

// RefundRequest - запрос к платёжному шлюзу на частичный или полный возврат.
type RefundRequest struct {
	Reference      string
	Amount         decimal.Decimal
	RetainAmount   decimal.Decimal
	Currency       string
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string
}

// RefundResult - ответ платёжного шлюза.
type RefundResult struct {
	ID     string
	Amount decimal.Decimal
	Status RefundStatus
}
