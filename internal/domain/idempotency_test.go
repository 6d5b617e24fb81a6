package domain_test

import (
	"testing"
	"time"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
)

func TestScopeForActor(t *testing.T) {
	tests := []struct {
		name  string
		actor domain.Actor
		key   string
		want  string
	}{
		{name: "customer", actor: domain.Actor{ID: "customer-1", Role: domain.ActorCustomer}, key: "k-1", want: "customer:customer-1/k-1"},
		{name: "garage keeps own space", actor: domain.Actor{ID: "customer-1", Role: domain.ActorGarage}, key: "k-1", want: "garage:customer-1/k-1"},
		{name: "anonymous", actor: domain.Actor{Role: domain.ActorOperations}, key: " k-2 ", want: "anonymous/k-2"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := domain.ScopeForActor(tc.actor, tc.key).StorageKey(); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}

	if got := (domain.IdempotencyScope{Key: "k-3"}).StorageKey(); got != "anonymous/k-3" {
		t.Fatalf("empty owner must fall back to anonymous, got %q", got)
	}
}

func TestIdempotencyRecord_ExpiredAndReplayable(t *testing.T) {
	now := time.Date(2026, time.October, 15, 9, 0, 0, 0, time.UTC)
	record := domain.IdempotencyRecord{Status: domain.IdempotencyStatusProcessing, TTLAt: now.Add(time.Minute)}

	if record.Expired(now) {
		t.Fatal("record with future ttl must be live")
	}
	if !record.Expired(now.Add(time.Minute)) {
		t.Fatal("record must expire exactly at ttl")
	}
	if record.Replayable() {
		t.Fatal("processing record must not be replayed")
	}

	record.Status = domain.IdempotencyStatusDone
	if !record.Replayable() {
		t.Fatal("done record must be replayed")
	}
	if domain.IdempotencyStatus("pending").Valid() {
		t.Fatal("unknown status must be invalid")
	}
}
