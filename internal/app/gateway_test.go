package app

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/service/payment"
)

func TestBuildPaymentGateway_RequiresStripeOrMocks(t *testing.T) {
	_, err := buildPaymentGateway(Config{StripeAPIKey: "   "}, log.WithField("test", "gateway"))
	if !errors.Is(err, errGatewayNotConfigured) {
		t.Fatalf("expected errGatewayNotConfigured, got %v", err)
	}
}

func TestBuildPaymentGateway_MockIsWrapped(t *testing.T) {
	gateway, err := buildPaymentGateway(Config{AllowMockIntegrations: true}, log.WithField("test", "gateway"))
	if err != nil {
		t.Fatalf("buildPaymentGateway failed: %v", err)
	}
	if _, ok := gateway.(*payment.ResilientGateway); !ok {
		t.Fatalf("expected resilient gateway, got %T", gateway)
	}

	result, err := gateway.Refund(context.Background(), domain.RefundRequest{
		Reference:      "pi_demo",
		Amount:         decimal.NewFromInt(52),
		Currency:       "QAR",
		IdempotencyKey: "refund:order-1:1",
	})
	if err != nil {
		t.Fatalf("mock refund failed: %v", err)
	}
	if !result.Amount.Equal(decimal.NewFromInt(52)) {
		t.Fatalf("expected refunded amount 52, got %s", result.Amount)
	}
}

func TestBuildPaymentGateway_StripeKeyWinsOverMocks(t *testing.T) {
	gateway, err := buildPaymentGateway(Config{
		StripeAPIKey:          "sk_test_123",
		StripeAccountID:       "acct_123",
		AllowMockIntegrations: true,
	}, log.WithField("test", "gateway"))
	if err != nil {
		t.Fatalf("buildPaymentGateway failed: %v", err)
	}
	if gateway == nil {
		t.Fatal("expected non-nil gateway")
	}
}
