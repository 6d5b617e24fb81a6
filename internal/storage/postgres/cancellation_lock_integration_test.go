package postgres

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/service/cancellation"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/service/fraud"
)

func customerCancellation(orderID string, at time.Time) domain.CancellationRecord {
	return domain.CancellationRecord{
		OrderID:         orderID,
		CustomerID:      "customer-1",
		GarageID:        "garage-1",
		RequestedBy:     "customer-1",
		RequestedByRole: domain.ActorCustomer,
		ReasonCode:      domain.ReasonChangedMind,
		StatusAtCancel:  domain.OrderStatusPreparing,
		Stage:           domain.StageDuringPreparation,
		FeeRate:         decimal.RequireFromString("0.10"),
		Fee:             decimal.Zero,
		RefundAmount:    decimal.NewFromInt(80),
		CreatedAt:       at,
	}
}

func TestCancellationRepository_PostgresLockCustomerRequiresTx(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)

	err := store.Repositories().Cancellations.LockCustomer(context.Background(), "customer-1")
	require.ErrorIs(t, err, errNoTransaction)
}

func TestCancellationRepository_PostgresLockCustomerSerializesCount(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ctx := context.Background()
	now := time.Now().UTC().Round(time.Microsecond)

	locked := make(chan struct{})
	release := make(chan struct{})
	var firstCommitted atomic.Bool

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- store.Within(ctx, func(ctx context.Context, repos domain.Repositories) error {
			if err := repos.Cancellations.LockCustomer(ctx, "customer-1"); err != nil {
				return err
			}
			if err := repos.Cancellations.Create(ctx, customerCancellation("order-a", now)); err != nil {
				return err
			}
			close(locked)
			<-release
			firstCommitted.Store(true)
			return nil
		})
	}()
	<-locked

	secondDone := make(chan error, 1)
	var seen int
	go func() {
		secondDone <- store.Within(ctx, func(ctx context.Context, repos domain.Repositories) error {
			if err := repos.Cancellations.LockCustomer(ctx, "customer-1"); err != nil {
				return err
			}
			if !firstCommitted.Load() {
				return errors.New("customer lock acquired while another cancellation was open")
			}
			var err error
			seen, err = repos.Cancellations.CountByCustomer(ctx, "customer-1")
			return err
		})
	}()

	select {
	case err := <-secondDone:
		t.Fatalf("second transaction finished while the customer was locked: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-firstDone)
	require.NoError(t, <-secondDone)
	require.Equal(t, 1, seen)
}

func TestCancellationService_PostgresConcurrentOrdersWaiveOnce(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ctx := context.Background()
	now := time.Now().UTC().Round(time.Microsecond)

	orderIDs := []string{"order-w1", "order-w2", "order-w3"}
	for _, id := range orderIDs {
		require.NoError(t, store.Repositories().Orders.Create(ctx, sampleOrder(id, domain.OrderStatusPreparing, now)))
	}
	svc := cancellation.NewService(store, fraud.NewService(store))
	customer := domain.Actor{ID: "customer-1", Role: domain.ActorCustomer}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []cancellation.Result
	)
	for _, id := range orderIDs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			res, err := svc.Execute(ctx, cancellation.ExecuteInput{OrderID: id, Initiator: customer})
			if err != nil {
				t.Errorf("execute %s: %v", id, err)
				return
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	require.Len(t, results, len(orderIDs))
	var waived int
	for _, res := range results {
		require.True(t, res.Success)
		if res.Fee.IsZero() {
			waived++
		}
	}
	require.Equal(t, 1, waived)

	count, err := store.Repositories().Cancellations.CountByCustomer(ctx, "customer-1")
	require.NoError(t, err)
	require.Equal(t, len(orderIDs), count)
}
