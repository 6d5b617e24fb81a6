package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/order-lifecycle/internal/health"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/storage/memory"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/version"
)

// freeAddr резервирует порт и сразу освобождает его для сервера под тестом.
func freeAddr(t *testing.T) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	return listener.Addr().String()
}

func waitServing(t *testing.T, url string) {
	t.Helper()
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}, 2*time.Second, 20*time.Millisecond, "server at %s never came up", url)
}

func TestMetricsServer_ServesHealthAndMetrics(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr := freeAddr(t)
	srv := startMetricsServer(ctx, addr, log.WithField("test", "metrics-server"), healthcheck.NewHandler(version.GetVersion()))
	require.NotNil(t, srv)
	base := "http://" + addr
	waitServing(t, base+"/livez")

	testCases := []struct {
		path     string
		wantCode int
		check    func(t *testing.T, body []byte)
	}{
		{path: "/metrics", wantCode: http.StatusOK, check: func(t *testing.T, body []byte) {
			require.Contains(t, string(body), "go_goroutines")
		}},
		{path: "/livez", wantCode: http.StatusOK, check: func(t *testing.T, body []byte) {
			require.Equal(t, "ok", string(body))
		}},
		{path: "/readyz", wantCode: http.StatusOK},
		{path: "/healthz", wantCode: http.StatusOK, check: func(t *testing.T, body []byte) {
			var payload healthcheck.Response
			require.NoError(t, json.Unmarshal(body, &payload))
			require.Equal(t, healthcheck.StatusHealthy, payload.Status)
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			resp, err := http.Get(base + tc.path)
			require.NoError(t, err)
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			require.Equal(t, tc.wantCode, resp.StatusCode, string(body))
			if tc.check != nil {
				tc.check(t, body)
			}
		})
	}
}

func TestMetricsServer_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	addr := freeAddr(t)
	startMetricsServer(ctx, addr, log.WithField("test", "metrics-stop"), healthcheck.NewHandler(version.GetVersion()))
	url := "http://" + addr + "/livez"
	waitServing(t, url)

	cancel()
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
		}
		return err != nil
	}, 2*time.Second, 20*time.Millisecond, "metrics server kept serving after cancel")
}

func TestMetricsServer_BusyPortDoesNotPanic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	srv := startMetricsServer(ctx, busy.Addr().String(), log.WithField("test", "metrics-busy"), healthcheck.NewHandler(version.GetVersion()))
	require.NotNil(t, srv)
}

func TestReadiness_StorageFailureVersusBacklog(t *testing.T) {
	outboxRepo := memory.NewOutboxRepository()
	for i := 0; i < 3; i++ {
		_, err := outboxRepo.Enqueue(context.Background(), domain.OutboxMessage{
			AggregateType: "notification",
			AggregateID:   fmt.Sprintf("customer-%d", i),
			EventType:     "return_approved",
			Payload:       []byte(`{}`),
		})
		require.NoError(t, err)
	}

	cfg := testRunConfig()
	cfg.OutboxMaxPending = 1

	testCases := []struct {
		name       string
		storageErr error
		wantStatus healthcheck.Status
		wantReady  bool
	}{
		{name: "backlog only degrades", wantStatus: healthcheck.StatusDegraded, wantReady: true},
		{name: "storage down is fatal", storageErr: errors.New("connection refused"), wantStatus: healthcheck.StatusUnhealthy, wantReady: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			deps := &runtimeDependencies{
				outboxRepo: outboxRepo,
				storageChecker: healthcheck.NewSimpleChecker("storage", func(context.Context) error {
					return tc.storageErr
				}),
			}
			checks := healthcheck.NewHandler(version.GetVersion())
			registerHealthChecks(checks, cfg, deps)

			require.Equal(t, tc.wantStatus, checks.Evaluate(context.Background()).Status)
			require.Equal(t, tc.wantReady, checks.Ready(context.Background()))
		})
	}
}

func TestSyncServingStatus_FollowsReadiness(t *testing.T) {
	grpcServer, healthServer := newGRPCServer(log.WithField("test", "grpc-health"))
	defer grpcServer.Stop()

	failing := true
	checks := healthcheck.NewHandler(version.GetVersion())
	checks.RegisterChecker("storage", healthcheck.NewSimpleChecker("storage", func(context.Context) error {
		if failing {
			return errors.New("postgres unreachable")
		}
		return nil
	}))

	servingStatus := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := healthServer.Check(context.Background(), &healthpb.HealthCheckRequest{})
		require.NoError(t, err)
		return resp.GetStatus()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		syncServingStatus(ctx, healthServer, checks, time.Hour)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return servingStatus() == healthpb.HealthCheckResponse_NOT_SERVING
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, servingStatus())

	// Новый цикл с исправной зависимостью сразу публикует SERVING.
	failing = false
	healthServer.Resume()
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	go syncServingStatus(ctx2, healthServer, checks, time.Hour)
	require.Eventually(t, func() bool {
		return servingStatus() == healthpb.HealthCheckResponse_SERVING
	}, time.Second, 10*time.Millisecond)
}

func TestShutdownHTTP(t *testing.T) {
	shutdownHTTP(nil, log.WithField("test", "shutdown-nil"))

	addr := freeAddr(t)
	srv := newAPIServer(addr, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	go func() { _ = srv.ListenAndServe() }()
	waitServing(t, "http://"+addr+"/")

	shutdownHTTP(srv, log.WithField("test", "shutdown-api"))
	_, err := http.Get("http://" + addr + "/")
	require.Error(t, err)
}
