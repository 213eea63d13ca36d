package policy

import (
	"testing"
	"time"
)

func validSettings() Settings {
	return Settings{
		CheckInterval:   120 * time.Second,
		OutbidStepCents: 1,
		MaxOutbids:      10,
		PriceCeilingPct: 85,
	}
}

func TestDecideRaise(t *testing.T) {
	order := OrderState{PriceCents: 500, OutbidCount: 0, IsActive: true}

	d := Decide(order, 520, 900, validSettings())
	if d.Action != Raise {
		t.Fatalf("expected Raise, got %+v", d)
	}
	if d.NewPriceCents != 521 {
		t.Fatalf("expected new price 521, got %d", d.NewPriceCents)
	}
}

func TestDecideMaxOutbidsReached(t *testing.T) {
	order := OrderState{PriceCents: 500, OutbidCount: 10, IsActive: true}

	d := Decide(order, 520, 900, validSettings())
	if d.Action != NoAction || d.Reason != ReasonMaxOutbids {
		t.Fatalf("expected NoAction(%q), got %+v", ReasonMaxOutbids, d)
	}

	// Regardless of how far ahead the competitor is.
	d = Decide(order, 50000, 900000, validSettings())
	if d.Action != NoAction {
		t.Fatalf("expected NoAction at max outbids, got %+v", d)
	}
}

func TestDecideCeilingReached(t *testing.T) {
	order := OrderState{PriceCents: 500, OutbidCount: 0, IsActive: true}

	// ceiling = floor(600 * 85 / 100) = 510, candidate 521 exceeds it.
	d := Decide(order, 520, 600, validSettings())
	if d.Action != NoAction || d.Reason != ReasonCeilingReached {
		t.Fatalf("expected NoAction(%q), got %+v", ReasonCeilingReached, d)
	}
}

func TestDecideTieIsNotOutbid(t *testing.T) {
	order := OrderState{PriceCents: 500, OutbidCount: 0, IsActive: true}

	d := Decide(order, 500, 900, validSettings())
	if d.Action != NoAction || d.Reason != ReasonNotOutbid {
		t.Fatalf("expected NoAction(%q), got %+v", ReasonNotOutbid, d)
	}

	d = Decide(order, 480, 900, validSettings())
	if d.Action != NoAction || d.Reason != ReasonNotOutbid {
		t.Fatalf("expected NoAction when already leading, got %+v", d)
	}
}

func TestDecideInactiveOrder(t *testing.T) {
	order := OrderState{PriceCents: 500, OutbidCount: 0, IsActive: false}

	d := Decide(order, 520, 900, validSettings())
	if d.Action != NoAction || d.Reason != ReasonInactive {
		t.Fatalf("expected NoAction(%q), got %+v", ReasonInactive, d)
	}
}

func TestDecideIsDeterministic(t *testing.T) {
	order := OrderState{PriceCents: 500, OutbidCount: 3, IsActive: true}

	first := Decide(order, 777, 1200, validSettings())
	second := Decide(order, 777, 1200, validSettings())
	if first != second {
		t.Fatalf("identical inputs produced different decisions: %+v vs %+v", first, second)
	}
}

func TestDecideRaiseBounds(t *testing.T) {
	s := validSettings()
	s.OutbidStepCents = 5

	cases := []struct {
		order      OrderState
		competitor int64
		lowest     int64
	}{
		{OrderState{PriceCents: 100, IsActive: true}, 150, 1000},
		{OrderState{PriceCents: 1, IsActive: true}, 2, 100},
		{OrderState{PriceCents: 9000, OutbidCount: 9, IsActive: true}, 9500, 20000},
	}

	for _, tc := range cases {
		d := Decide(tc.order, tc.competitor, tc.lowest, s)
		if d.Action != Raise {
			continue
		}
		ceiling := Ceiling(tc.lowest, s.PriceCeilingPct)
		if d.NewPriceCents != tc.competitor+s.OutbidStepCents {
			t.Fatalf("new price %d != competitor %d + step %d", d.NewPriceCents, tc.competitor, s.OutbidStepCents)
		}
		if d.NewPriceCents <= tc.order.PriceCents || d.NewPriceCents > ceiling {
			t.Fatalf("raise %d outside (%d, %d]", d.NewPriceCents, tc.order.PriceCents, ceiling)
		}
	}
}

func TestCeilingFloors(t *testing.T) {
	cases := []struct {
		lowest, pct, want int64
	}{
		{900, 85, 765},
		{600, 85, 510},
		{999, 85, 849}, // 849.15 floors down
		{100, 100, 100},
		{1, 85, 0},
	}
	for _, tc := range cases {
		if got := Ceiling(tc.lowest, tc.pct); got != tc.want {
			t.Fatalf("Ceiling(%d, %d) = %d, want %d", tc.lowest, tc.pct, got, tc.want)
		}
	}
}

func TestSettingsValidate(t *testing.T) {
	if err := validSettings().Validate(); err != nil {
		t.Fatalf("valid settings rejected: %v", err)
	}

	bad := []Settings{
		{CheckInterval: time.Second, OutbidStepCents: 1, MaxOutbids: 10, PriceCeilingPct: 85},
		{CheckInterval: time.Minute, OutbidStepCents: 0, MaxOutbids: 10, PriceCeilingPct: 85},
		{CheckInterval: time.Minute, OutbidStepCents: -5, MaxOutbids: 10, PriceCeilingPct: 85},
		{CheckInterval: time.Minute, OutbidStepCents: 1, MaxOutbids: 0, PriceCeilingPct: 85},
		{CheckInterval: time.Minute, OutbidStepCents: 1, MaxOutbids: 10, PriceCeilingPct: 0},
		{CheckInterval: time.Minute, OutbidStepCents: 1, MaxOutbids: 10, PriceCeilingPct: 101},
	}
	for i, s := range bad {
		if err := s.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error for %+v", i, s)
		}
	}
}
