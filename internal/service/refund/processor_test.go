package refund

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/service/payment"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/storage/memory"
)

type recordingNotifier struct {
	mu    sync.Mutex
	notes []domain.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, note domain.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	return nil
}

func (n *recordingNotifier) Emit(context.Context, string, string, map[string]any) error {
	return nil
}

func seedRefund(t *testing.T, store *memory.Store, id string, status domain.RefundStatus, attempts int, createdAt time.Time) domain.Refund {
	t.Helper()
	ctx := context.Background()
	repos := store.Repositories()

	orderID := "order-" + id
	if _, err := repos.Orders.Get(ctx, orderID); err != nil {
		require.NoError(t, repos.Orders.Create(ctx, domain.Order{
			ID:              orderID,
			Status:          domain.OrderStatusCancelledByCustomer,
			PartPrice:       decimal.NewFromInt(80),
			DeliveryFee:     decimal.NewFromInt(20),
			TotalAmount:     decimal.NewFromInt(100),
			Currency:        "QAR",
			CustomerID:      "customer-1",
			GarageID:        "garage-1",
			PaymentIntentID: "pi_" + id,
			CreatedAt:       createdAt,
			UpdatedAt:       createdAt,
		}))
	}

	refund := domain.Refund{
		ID:               id,
		OrderID:          orderID,
		Type:             domain.RefundTypeCancellation,
		Sequence:         1,
		OriginalAmount:   decimal.NewFromInt(100),
		RefundAmount:     decimal.NewFromInt(72),
		FeeRetained:      decimal.NewFromInt(8),
		Currency:         "QAR",
		PaymentReference: "pi_" + id,
		Status:           status,
		Attempts:         attempts,
		Reason:           "changed_mind",
		CreatedAt:        createdAt,
		UpdatedAt:        createdAt,
	}
	require.NoError(t, repos.Refunds.Create(ctx, refund))
	return refund
}

func TestProcessor_ProcessSucceeds(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	gateway := payment.NewMockGateway()
	notifier := &recordingNotifier{}
	proc := NewProcessor(store, gateway, WithNotifier(notifier))

	seedRefund(t, store, "r-1", domain.RefundStatusPending, 0, time.Now().UTC())

	updated, err := proc.Process(ctx, "r-1")
	require.NoError(t, err)
	require.Equal(t, domain.RefundStatusSucceeded, updated.Status)
	require.Equal(t, 1, updated.Attempts)
	require.NotEmpty(t, updated.GatewayRefundID)
	require.NotNil(t, updated.ProcessedAt)

	require.Len(t, gateway.Requests, 1)
	req := gateway.Requests[0]
	require.Equal(t, "refund:order-r-1:1", req.IdempotencyKey)
	require.Equal(t, "pi_r-1", req.Reference)
	require.True(t, req.Amount.Equal(decimal.NewFromInt(72)))
	require.True(t, req.RetainAmount.Equal(decimal.NewFromInt(8)))
	require.Equal(t, "order-r-1", req.Metadata["order_id"])

	again, err := proc.Process(ctx, "r-1")
	require.NoError(t, err)
	require.Equal(t, updated.GatewayRefundID, again.GatewayRefundID)
	require.Equal(t, 1, gateway.CallCount(), "succeeded refund must not be resubmitted")

	require.Len(t, notifier.notes, 1)
	require.Equal(t, domain.NotificationRefundProcessed, notifier.notes[0].Type)
	require.Equal(t, "customer-1", notifier.notes[0].UserID)
}

func TestProcessor_ProcessFailureMarksFailed(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	gateway := payment.NewMockGateway()
	gateway.Fail(domain.ErrPaymentTemporary)
	proc := NewProcessor(store, gateway)

	seedRefund(t, store, "r-1", domain.RefundStatusPending, 0, time.Now().UTC())

	updated, err := proc.Process(ctx, "r-1")
	require.ErrorIs(t, err, domain.ErrPaymentTemporary)
	require.Equal(t, domain.RefundStatusFailed, updated.Status)
	require.Equal(t, 1, updated.Attempts)
	require.Contains(t, updated.LastError, "temporary")

	stored, err := store.Repositories().Refunds.Get(ctx, "r-1")
	require.NoError(t, err)
	require.Equal(t, domain.RefundStatusFailed, stored.Status)
}

func TestProcessor_MissingPaymentReference(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	gateway := payment.NewMockGateway()
	proc := NewProcessor(store, gateway)

	refund := domain.Refund{
		ID: "r-1", OrderID: "order-1", Sequence: 1,
		RefundAmount: decimal.NewFromInt(10), Status: domain.RefundStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Repositories().Refunds.Create(ctx, refund))

	_, err := proc.Process(ctx, "r-1")
	require.ErrorIs(t, err, domain.ErrPaymentReferenceRequired)
	require.Zero(t, gateway.CallCount())
}

func TestProcessor_RetryWritesAuditAndIgnoresAttemptCap(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	gateway := payment.NewMockGateway()
	proc := NewProcessor(store, gateway)

	seedRefund(t, store, "r-1", domain.RefundStatusFailed, 10, time.Now().UTC())

	updated, err := proc.Retry(ctx, "r-1", "ops-1")
	require.NoError(t, err)
	require.Equal(t, domain.RefundStatusSucceeded, updated.Status)
	require.Equal(t, 11, updated.Attempts)

	entries, err := store.Repositories().Audit.List(ctx, "refund", "r-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "ops-1", entries[0].ActorID)

	_, err = proc.Retry(ctx, "r-1", "")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestProcessor_ListValidatesStatus(t *testing.T) {
	proc := NewProcessor(memory.NewStore(), payment.NewMockGateway())

	_, err := proc.List(context.Background(), domain.RefundStatus("lost"), 10)
	require.True(t, errors.Is(err, domain.ErrInvalidArgument))

	rows, err := proc.List(context.Background(), domain.RefundStatusPending, 10)
	require.NoError(t, err)
	require.Empty(t, rows)
}
