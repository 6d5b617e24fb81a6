package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
)

// RefundCreator - часть Stripe API, которая нужна шлюзу.
type RefundCreator interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

// StripeGateway проводит частичные возвраты по PaymentIntent через Stripe.
type StripeGateway struct {
	refunds RefundCreator
	account string
	logger  *log.Entry
}

// NewStripeGateway создаёт шлюз с ключом API.
func NewStripeGateway(secretKey string, logger *log.Entry) *StripeGateway {
	sc := client.New(secretKey, nil)
	return NewStripeGatewayWithClient(sc.Refunds, logger)
}

// NewStripeGatewayWithClient создаёт шлюз поверх произвольного клиента возвратов.
func NewStripeGatewayWithClient(refunds RefundCreator, logger *log.Entry) *StripeGateway {
	if logger == nil {
		logger = log.WithField("component", "stripe-gateway")
	}
	return &StripeGateway{refunds: refunds, logger: logger}
}

// WithAccount проводит возвраты от имени подключённого аккаунта (Stripe Connect).
func (g *StripeGateway) WithAccount(accountID string) *StripeGateway {
	g.account = accountID
	return g
}

// Refund возвращает клиенту req.Amount. Удерживаемая часть остаётся на PaymentIntent
// и передаётся в metadata для сверки.
func (g *StripeGateway) Refund(ctx context.Context, req domain.RefundRequest) (domain.RefundResult, error) {
	if req.Reference == "" {
		return domain.RefundResult{}, domain.ErrPaymentReferenceRequired
	}
	if !req.Amount.IsPositive() {
		return domain.RefundResult{}, fmt.Errorf("%w: refund amount must be positive", domain.ErrInvalidArgument)
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.Reference),
		Amount:        stripe.Int64(MinorUnits(req.Amount)),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	if g.account != "" {
		params.SetStripeAccount(g.account)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.AddMetadata("retain_amount", req.RetainAmount.StringFixed(2))
	if req.Reason != "" {
		params.AddMetadata("reason", req.Reason)
	}

	refund, err := g.refunds.New(params)
	if err != nil {
		mapped := mapStripeError(err)
		g.logger.WithError(err).WithFields(log.Fields{
			"payment_intent":  req.Reference,
			"idempotency_key": req.IdempotencyKey,
		}).Warn("stripe refund failed")
		return domain.RefundResult{}, mapped
	}

	return domain.RefundResult{
		ID:     refund.ID,
		Amount: FromMinorUnits(refund.Amount),
		Status: mapStripeStatus(refund.Status),
	}, nil
}

func mapStripeStatus(status stripe.RefundStatus) domain.RefundStatus {
	switch status {
	case stripe.RefundStatusSucceeded:
		return domain.RefundStatusSucceeded
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		return domain.RefundStatusFailed
	default:
		return domain.RefundStatusPending
	}
}

func mapStripeError(err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return fmt.Errorf("%w: %v", domain.ErrPaymentTemporary, err)
	}
	switch {
	case stripeErr.HTTPStatusCode >= http.StatusInternalServerError,
		stripeErr.HTTPStatusCode == http.StatusTooManyRequests,
		stripeErr.Type == stripe.ErrorTypeAPI:
		return fmt.Errorf("%w: %s", domain.ErrPaymentTemporary, stripeErr.Msg)
	default:
		return fmt.Errorf("%w: %s", domain.ErrPaymentDeclined, stripeErr.Msg)
	}
}

var _ domain.PaymentGateway = (*StripeGateway)(nil)
