package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
)

type returnPayload struct {
	ID                   string              `json:"id"`
	OrderID              string              `json:"order_id"`
	CustomerID           string              `json:"customer_id"`
	GarageID             string              `json:"garage_id"`
	Reason               domain.ReturnReason `json:"reason"`
	PhotoURLs            []string            `json:"photo_urls"`
	ConditionDescription string              `json:"condition_description,omitempty"`
	ReturnFee            decimal.Decimal     `json:"return_fee"`
	DeliveryFeeRetained  decimal.Decimal     `json:"delivery_fee_retained"`
	RefundAmount         decimal.Decimal     `json:"refund_amount"`
	Status               domain.ReturnStatus `json:"status"`
	AdminNotes           string              `json:"admin_notes,omitempty"`
	ProcessedBy          string              `json:"processed_by,omitempty"`
	ProcessedAt          *time.Time          `json:"processed_at,omitempty"`
	CreatedAt            time.Time           `json:"created_at"`
}

func buildReturnPayload(req domain.ReturnRequest) returnPayload {
	return returnPayload{
		ID:                   req.ID,
		OrderID:              req.OrderID,
		CustomerID:           req.CustomerID,
		GarageID:             req.GarageID,
		Reason:               req.Reason,
		PhotoURLs:            append([]string{}, req.PhotoURLs...),
		ConditionDescription: req.ConditionDescription,
		ReturnFee:            req.ReturnFee,
		DeliveryFeeRetained:  req.DeliveryFeeRetained,
		RefundAmount:         req.RefundAmount,
		Status:               req.Status,
		AdminNotes:           req.AdminNotes,
		ProcessedBy:          req.ProcessedBy,
		ProcessedAt:          req.ProcessedAt,
		CreatedAt:            req.CreatedAt,
	}
}

type refundPayload struct {
	ID                  string              `json:"id"`
	OrderID             string              `json:"order_id"`
	ReturnID            string              `json:"return_id,omitempty"`
	Type                domain.RefundType   `json:"type"`
	Sequence            int                 `json:"sequence"`
	OriginalAmount      decimal.Decimal     `json:"original_amount"`
	RefundAmount        decimal.Decimal     `json:"refund_amount"`
	FeeRetained         decimal.Decimal     `json:"fee_retained"`
	DeliveryFeeRetained decimal.Decimal     `json:"delivery_fee_retained"`
	Currency            string              `json:"currency"`
	Status              domain.RefundStatus `json:"status"`
	Reason              string              `json:"reason,omitempty"`
	GatewayRefundID     string              `json:"gateway_refund_id,omitempty"`
	Attempts            int                 `json:"attempts"`
	LastError           string              `json:"last_error,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
	ProcessedAt         *time.Time          `json:"processed_at,omitempty"`
}

func buildRefundPayload(r domain.Refund) refundPayload {
	return refundPayload{
		ID:                  r.ID,
		OrderID:             r.OrderID,
		ReturnID:            r.ReturnID,
		Type:                r.Type,
		Sequence:            r.Sequence,
		OriginalAmount:      r.OriginalAmount,
		RefundAmount:        r.RefundAmount,
		FeeRetained:         r.FeeRetained,
		DeliveryFeeRetained: r.DeliveryFeeRetained,
		Currency:            r.Currency,
		Status:              r.Status,
		Reason:              r.Reason,
		GatewayRefundID:     r.GatewayRefundID,
		Attempts:            r.Attempts,
		LastError:           r.LastError,
		CreatedAt:           r.CreatedAt,
		ProcessedAt:         r.ProcessedAt,
	}
}

type cancellationPayload struct {
	ID                  string                    `json:"id"`
	OrderID             string                    `json:"order_id"`
	RequestedBy         string                    `json:"requested_by"`
	RequestedByRole     domain.ActorRole          `json:"requested_by_role"`
	ReasonCode          domain.CancellationReason `json:"reason_code"`
	ReasonText          string                    `json:"reason_text,omitempty"`
	StatusAtCancel      domain.OrderStatus        `json:"status_at_cancel"`
	Stage               domain.Stage              `json:"stage"`
	Fee                 decimal.Decimal           `json:"fee"`
	PlatformFee         decimal.Decimal           `json:"platform_fee"`
	GarageFee           decimal.Decimal           `json:"garage_fee"`
	DeliveryFeeRetained decimal.Decimal           `json:"delivery_fee_retained"`
	RefundAmount        decimal.Decimal           `json:"refund_amount"`
	CreatedAt           time.Time                 `json:"created_at"`
}

func buildCancellationPayload(rec domain.CancellationRecord) cancellationPayload {
	return cancellationPayload{
		ID:                  rec.ID,
		OrderID:             rec.OrderID,
		RequestedBy:         rec.RequestedBy,
		RequestedByRole:     rec.RequestedByRole,
		ReasonCode:          rec.ReasonCode,
		ReasonText:          rec.ReasonText,
		StatusAtCancel:      rec.StatusAtCancel,
		Stage:               rec.Stage,
		Fee:                 rec.Fee,
		PlatformFee:         rec.PlatformFee,
		GarageFee:           rec.GarageFee,
		DeliveryFeeRetained: rec.DeliveryFeeRetained,
		RefundAmount:        rec.RefundAmount,
		CreatedAt:           rec.CreatedAt,
	}
}

type penaltyPayload struct {
	ID        string               `json:"id"`
	OrderID   string               `json:"order_id,omitempty"`
	Type      domain.PenaltyType   `json:"type"`
	Action    domain.GarageAction  `json:"action,omitempty"`
	Amount    decimal.Decimal      `json:"amount"`
	Status    domain.PenaltyStatus `json:"status"`
	Notes     string               `json:"notes,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
}

type timelinePayload struct {
	FromStatus    domain.OrderStatus `json:"from_status"`
	ToStatus      domain.OrderStatus `json:"to_status"`
	ChangedBy     string             `json:"changed_by"`
	ChangedByRole domain.ActorRole   `json:"changed_by_role"`
	Reason        string             `json:"reason,omitempty"`
	Occurred      time.Time          `json:"occurred_at"`
}

func mapSlice[T, P any](items []T, build func(T) P) []P {
	out := make([]P, 0, len(items))
	for _, item := range items {
		out = append(out, build(item))
	}
	return out
}
