package domain_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
)

func TestReturnStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from domain.ReturnStatus
		to   domain.ReturnStatus
		want bool
	}{
		{from: domain.ReturnStatusPending, to: domain.ReturnStatusPickupScheduled, want: true},
		{from: domain.ReturnStatusPickupScheduled, to: domain.ReturnStatusPickedUp, want: true},
		{from: domain.ReturnStatusPickedUp, to: domain.ReturnStatusInspected, want: true},
		{from: domain.ReturnStatusPending, to: domain.ReturnStatusCompleted, want: true},
		{from: domain.ReturnStatusInspected, to: domain.ReturnStatusRejected, want: true},
		{from: domain.ReturnStatusPickupScheduled, to: domain.ReturnStatusCompleted, want: false},
		{from: domain.ReturnStatusCompleted, to: domain.ReturnStatusRejected, want: false},
		{from: domain.ReturnStatusRejected, to: domain.ReturnStatusCompleted, want: false},
		{from: domain.ReturnStatusInspected, to: domain.ReturnStatusPending, want: false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Fatalf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestRefund_IdempotencyKeyIsStable(t *testing.T) {
	refund := domain.Refund{
		OrderID:             "order-1",
		Sequence:            2,
		FeeRetained:         decimal.NewFromInt(8),
		DeliveryFeeRetained: decimal.NewFromInt(20),
	}

	if got := refund.IdempotencyKey(); got != "refund:order-1:2" {
		t.Fatalf("unexpected key %q", got)
	}
	refund.Attempts = 5
	if got := refund.IdempotencyKey(); got != "refund:order-1:2" {
		t.Fatalf("key must not depend on attempts, got %q", got)
	}
	if !refund.RetainAmount().Equal(decimal.NewFromInt(28)) {
		t.Fatalf("unexpected retain amount %s", refund.RetainAmount())
	}
}

func TestActor_CanAccessOrder(t *testing.T) {
	order := domain.Order{ID: "o-1", CustomerID: "c-1", GarageID: "g-1"}

	tests := []struct {
		name  string
		actor domain.Actor
		want  bool
	}{
		{name: "owner", actor: domain.Actor{ID: "c-1", Role: domain.ActorCustomer}, want: true},
		{name: "other customer", actor: domain.Actor{ID: "c-2", Role: domain.ActorCustomer}, want: false},
		{name: "assigned garage", actor: domain.Actor{ID: "g-1", Role: domain.ActorGarage}, want: true},
		{name: "garage id as customer", actor: domain.Actor{ID: "g-1", Role: domain.ActorCustomer}, want: false},
		{name: "operations", actor: domain.Actor{ID: "ops-1", Role: domain.ActorOperations}, want: true},
		{name: "unknown role", actor: domain.Actor{ID: "c-1", Role: "driver"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.actor.CanAccessOrder(order); got != tt.want {
				t.Fatalf("CanAccessOrder() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCancellationReason_AllowedFor(t *testing.T) {
	if !domain.ReasonStockOut.AllowedFor(domain.ActorGarage) {
		t.Fatal("stock_out must be allowed for garage")
	}
	if domain.ReasonStockOut.AllowedFor(domain.ActorCustomer) {
		t.Fatal("stock_out must not be allowed for customer")
	}
	for _, role := range []domain.ActorRole{domain.ActorCustomer, domain.ActorGarage, domain.ActorOperations} {
		if !domain.DefaultCancellationReason(role).AllowedFor(role) {
			t.Fatalf("default reason for %s is not in its list", role)
		}
	}
}
