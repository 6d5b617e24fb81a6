package domain_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
)

func TestEscalateFlag_NeverLowers(t *testing.T) {
	levels := []domain.FlagLevel{
		domain.FlagNone, domain.FlagYellow, domain.FlagOrange, domain.FlagRed, domain.FlagBlack,
	}
	for _, current := range levels {
		for _, candidate := range levels {
			got := domain.EscalateFlag(current, candidate)
			if got < current {
				t.Fatalf("EscalateFlag(%s, %s) = %s, lowered the flag", current, candidate, got)
			}
			if got < candidate {
				t.Fatalf("EscalateFlag(%s, %s) = %s, ignored escalation", current, candidate, got)
			}
		}
	}
}

func TestParseFlagLevel(t *testing.T) {
	tests := []struct {
		raw     string
		want    domain.FlagLevel
		wantErr bool
	}{
		{raw: "none", want: domain.FlagNone},
		{raw: " Orange ", want: domain.FlagOrange},
		{raw: "black", want: domain.FlagBlack},
		{raw: "purple", wantErr: true},
		{raw: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := domain.ParseFlagLevel(tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseFlagLevel(%q) expected error", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseFlagLevel(%q): %v", tt.raw, err)
		}
		if got != tt.want {
			t.Fatalf("ParseFlagLevel(%q) = %s, want %s", tt.raw, got, tt.want)
		}
	}
}

func TestFlagLevel_JSON(t *testing.T) {
	raw, err := json.Marshal(struct {
		Flag domain.FlagLevel `json:"flag"`
	}{Flag: domain.FlagRed})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"flag":"red"}` {
		t.Fatalf("unexpected json: %s", raw)
	}

	var decoded struct {
		Flag domain.FlagLevel `json:"flag"`
	}
	if err := json.Unmarshal([]byte(`{"flag":"yellow"}`), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Flag != domain.FlagYellow {
		t.Fatalf("expected yellow, got %s", decoded.Flag)
	}
}

func TestMonthKeyAndSameMonth(t *testing.T) {
	jan := time.Date(2026, time.January, 31, 23, 59, 0, 0, time.UTC)
	feb := jan.Add(2 * time.Minute)

	if got := domain.MonthKey(jan); got != "2026-01" {
		t.Fatalf("unexpected month key %q", got)
	}
	if domain.SameMonth(jan, feb) {
		t.Fatal("january and february must differ")
	}
	if !domain.SameMonth(feb, feb.Add(24*time.Hour)) {
		t.Fatal("expected same month")
	}
}

func TestMonthStart(t *testing.T) {
	doha := time.FixedZone("AST", 3*60*60)
	// 1 ноября 01:30 по Дохе - это ещё октябрь в UTC.
	local := time.Date(2026, time.November, 1, 1, 30, 0, 0, doha)

	got := domain.MonthStart(local)
	want := time.Date(2026, time.October, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) || got.Location() != time.UTC {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if domain.MonthKey(got) != domain.MonthKey(local) {
		t.Fatalf("month start %s must share the key of %s", got, local)
	}
}
