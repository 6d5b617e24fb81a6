package app

import (
	"errors"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v78"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/service/payment"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/version"
)

const (
	gatewayBreakerMaxFailures  = 5
	gatewayBreakerResetTimeout = 30 * time.Second
)

var errGatewayNotConfigured = errors.New("stripe api key is not configured and mock integrations are disabled")

// buildPaymentGateway собирает платёжный шлюз: Stripe или mock, обёрнутый ретраями и circuit breaker.
func buildPaymentGateway(cfg Config, logger *log.Entry) (domain.PaymentGateway, error) {
	var base domain.PaymentGateway

	switch key := strings.TrimSpace(cfg.StripeAPIKey); {
	case key != "":
		stripe.SetAppInfo(&stripe.AppInfo{Name: version.Service, Version: version.GetVersion()})
		base = payment.NewStripeGateway(key, logger.WithField("gateway", "stripe")).
			WithAccount(strings.TrimSpace(cfg.StripeAccountID))
		logger.Info("stripe payment gateway enabled")
	case cfg.AllowMockIntegrations:
		logger.Warn("stripe is not configured, using mock payment gateway")
		base = payment.NewMockGateway()
	default:
		return nil, errGatewayNotConfigured
	}

	breaker := payment.NewCircuitBreaker(
		gatewayBreakerMaxFailures,
		gatewayBreakerResetTimeout,
		logger.WithField("gateway", "circuit-breaker"),
	)
	return payment.NewResilientGateway(base, payment.DefaultRetryConfig(), breaker, logger), nil
}
