package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/service/cancellation"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/service/fraud"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/service/idempotency"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/service/refund"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/service/returns"
)

const (
	apiPrefix      = "/api/v1"
	defaultTimeout = 30 * time.Second
	maxListLimit   = 500
)

// Services - бизнес-сервисы, которые обслуживает API.
type Services struct {
	Cancellations *cancellation.Service
	Returns       *returns.Service
	Fraud         *fraud.Service
	Refunds       *refund.Processor
	// Store используется для чтения истории статусов и реестра штрафов.
	Store domain.UnitOfWork
}

type routerConfig struct {
	logger         *log.Entry
	idempotency    domain.IdempotencyRepository
	idempotencyTTL time.Duration
	middlewares    []func(http.Handler) http.Handler
}

// Option настраивает роутер.
type Option func(*routerConfig)

func WithLogger(logger *log.Entry) Option {
	return func(cfg *routerConfig) { cfg.logger = logger }
}

// WithIdempotency включает обязательный Idempotency-Key на мутирующих маршрутах.
func WithIdempotency(repo domain.IdempotencyRepository, ttl time.Duration) Option {
	return func(cfg *routerConfig) {
		cfg.idempotency = repo
		cfg.idempotencyTTL = ttl
	}
}

// WithMiddlewares добавляет глобальные middleware.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.middlewares = append(cfg.middlewares, mw...) }
}

type handler struct {
	svc    Services
	logger *log.Entry
}

// NewRouter собирает chi-роутер API.
func NewRouter(svc Services, opts ...Option) chi.Router {
	cfg := routerConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = log.WithField("component", "http-api")
	}

	h := &handler{svc: svc, logger: cfg.logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, middleware.Timeout(defaultTimeout))
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, http.StatusNotFound, "route_not_found", fmt.Sprintf("no route for %s", req.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, http.StatusMethodNotAllowed, "method_not_allowed",
			fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path))
	})

	r.Route(apiPrefix, func(api chi.Router) {
		api.Use(RequireActor)
		if cfg.idempotency != nil {
			api.Use(idempotency.Middleware(cfg.idempotency,
				idempotency.WithTTL(cfg.idempotencyTTL),
				idempotency.WithActor(actorFrom),
				idempotency.WithMiddlewareLogger(cfg.logger.WithField("layer", "idempotency")),
			))
		}

		api.Route("/orders/{orderID}", func(o chi.Router) {
			o.Get("/cancellation-preview", h.cancellationPreview)
			o.Post("/cancel", h.cancelOrder)
			o.Get("/history", h.orderHistory)
			o.Get("/return-preview", h.returnPreview)
			o.Post("/returns", h.createReturn)
		})

		api.Get("/cancellations", h.listCancellations)

		api.Route("/returns", func(rr chi.Router) {
			rr.Use(requireRole(domain.ActorOperations))
			rr.Get("/", h.listOpenReturns)
			rr.Post("/{returnID}/approve", h.approveReturn)
			rr.Post("/{returnID}/reject", h.rejectReturn)
			rr.Post("/{returnID}/schedule-pickup", h.returnStep(h.svc.Returns.SchedulePickup))
			rr.Post("/{returnID}/picked-up", h.returnStep(h.svc.Returns.MarkPickedUp))
			rr.Post("/{returnID}/inspected", h.returnStep(h.svc.Returns.MarkInspected))
		})

		api.Get("/customers/{customerID}/abuse-status", h.abuseStatus)
		api.With(requireRole(domain.ActorOperations)).Put("/customers/{customerID}/flag", h.setFlag)
		api.With(requireRole(domain.ActorOperations)).Get("/customers/flagged", h.flaggedCustomers)
		api.With(requireRole(domain.ActorOperations)).Get("/fraud/stats", h.fraudStats)
		api.Get("/garages/{garageID}/accountability", h.garageAccountability)
		api.Get("/garages/{garageID}/penalties", h.garagePenalties)

		api.Route("/refunds", func(rf chi.Router) {
			rf.Use(requireRole(domain.ActorOperations))
			rf.Get("/", h.listRefunds)
			rf.Post("/{refundID}/retry", h.retryRefund)
		})
	})

	return r
}

func requireRole(role domain.ActorRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if actorFrom(r).Role != role {
				writeError(w, r, http.StatusForbidden, "forbidden", fmt.Sprintf("%s role required", role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// limitParam читает ?limit=; неверное значение даёт 0 (значение сервиса по умолчанию).
func limitParam(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0
	}
	return min(n, maxListLimit)
}
