package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	healthcheck "github.com/vladislavdragonenkov/order-lifecycle/internal/health"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/metrics"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/policy"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/service/httpapi"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/version"
)

// Run собирает сервис по cfg и блокируется до отмены ctx или падения одного из серверов.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	if err := policy.CheckStageTable(); err != nil {
		return fmt.Errorf("stage table: %w", err)
	}
	table := policy.Default()
	if err := table.Validate(); err != nil {
		return fmt.Errorf("policy table: %w", err)
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := deps.closeFn(); closeErr != nil {
			logger.WithError(closeErr).Warn("failed to close storage")
		}
	}()

	gateway, err := buildPaymentGateway(cfg, logger.WithField("component", "payment-gateway"))
	if err != nil {
		return err
	}

	producer, err := initKafkaProducer(cfg.KafkaBrokers, logger)
	if err != nil && !cfg.AllowMockIntegrations {
		return fmt.Errorf("init kafka: %w", err)
	}
	defer closeKafka(producer, logger)

	publisher, dlq, err := buildOutboxPublishers(cfg, producer, logger)
	if err != nil {
		return err
	}

	if cfg.SeedDemoData {
		if _, err := seedDemoOrders(ctx, deps.store, cfg.Currency, time.Now().UTC(), logger); err != nil {
			return fmt.Errorf("seed demo data: %w", err)
		}
	}

	c := buildComponents(cfg, deps, gateway, publisher, dlq, metrics.NewLifecycleMetrics(), table, logger)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	registerHealthChecks(healthHandler, cfg, deps)

	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	apiLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		_ = grpcLis.Close()
		return fmt.Errorf("listen http: %w", err)
	}

	grpcServer, grpcHealth := newGRPCServer(logger)
	apiServer := newAPIServer(cfg.HTTPAddr, httpapi.NewRouter(c.api,
		httpapi.WithLogger(logger.WithField("component", "http-api")),
		httpapi.WithIdempotency(deps.idempotencyRepo, cfg.IdempotencyTTL),
	))

	g, gctx := errgroup.WithContext(ctx)
	startMetricsServer(gctx, cfg.MetricsAddr, logger, healthHandler)

	g.Go(func() error {
		logger.Infof("grpc health server listening on %s", cfg.GRPCAddr)
		return grpcServer.Serve(grpcLis)
	})
	g.Go(func() error {
		logger.Infof("http api listening on %s", cfg.HTTPAddr)
		if err := apiServer.Serve(apiLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down servers")
		shutdownHTTP(apiServer, logger)
		stopGRPC(grpcServer, logger)
		return nil
	})
	g.Go(func() error {
		syncServingStatus(gctx, grpcHealth, healthHandler, readinessSyncInterval)
		return nil
	})

	workers := []func(context.Context){c.outboxWorker.Run, c.reconcileWorker.Run}
	if c.slaWorker != nil {
		workers = append(workers, c.slaWorker.Run)
	}
	if c.cleanupWorker != nil {
		workers = append(workers, c.cleanupWorker.Run)
	}
	for _, run := range workers {
		g.Go(func() error {
			run(gctx)
			return nil
		})
	}

	err = g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}
