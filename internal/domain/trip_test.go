package domain

import (
	"testing"
	"time"
)

func TestPushPricePoint(t *testing.T) {
	trip := &Trip{PaidPrice: 599}

	trip.PushPricePoint(PricePoint{Price: 549, CheckedAt: time.Now()})
	if trip.LowestSeen == nil || *trip.LowestSeen != 549 {
		t.Fatalf("LowestSeen = %v, want 549", trip.LowestSeen)
	}

	// A higher observation is logged but does not move the floor.
	trip.PushPricePoint(PricePoint{Price: 560, CheckedAt: time.Now()})
	if *trip.LowestSeen != 549 {
		t.Errorf("LowestSeen = %v after higher price, want 549", *trip.LowestSeen)
	}
	if len(trip.PriceHistory) != 2 {
		t.Errorf("history length = %d, want 2", len(trip.PriceHistory))
	}

	trip.PushPricePoint(PricePoint{Price: 400, CheckedAt: time.Now()})
	if *trip.LowestSeen != 400 {
		t.Errorf("LowestSeen = %v, want 400", *trip.LowestSeen)
	}
}

func TestPushPricePointCapsHistory(t *testing.T) {
	trip := &Trip{}
	for i := 0; i < MaxPriceHistory+10; i++ {
		trip.PushPricePoint(PricePoint{Price: float64(i), CheckedAt: time.Now()})
	}
	if len(trip.PriceHistory) != MaxPriceHistory {
		t.Fatalf("history length = %d, want %d", len(trip.PriceHistory), MaxPriceHistory)
	}
	// The oldest entries are the ones dropped.
	if trip.PriceHistory[0].Price != 10 {
		t.Errorf("oldest kept price = %v, want 10", trip.PriceHistory[0].Price)
	}
	if trip.LowestSeen == nil || *trip.LowestSeen != 0 {
		t.Errorf("LowestSeen = %v, want 0 despite eviction", trip.LowestSeen)
	}
}

func TestHasFutureSegment(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	testCases := []struct {
		name  string
		dates []string
		want  bool
	}{
		{"empty itinerary", nil, false},
		{"departs today", []string{"2026-03-15"}, true},
		{"departs tomorrow", []string{"2026-03-16"}, true},
		{"departed yesterday", []string{"2026-03-14"}, false},
		{"return leg still ahead", []string{"2026-03-10", "2026-03-20"}, true},
		{"all legs flown", []string{"2026-03-01", "2026-03-10"}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			trip := &Trip{}
			for _, d := range tc.dates {
				trip.Segments = append(trip.Segments, FlightSegment{DepartureDate: d, Passengers: 1})
			}
			if got := trip.HasFutureSegment(now, time.UTC); got != tc.want {
				t.Errorf("HasFutureSegment = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFirstSegmentDate(t *testing.T) {
	trip := &Trip{Segments: []FlightSegment{{DepartureDate: "2026-03-15"}}}
	got := trip.FirstSegmentDate(time.UTC)
	if got.IsZero() || got.Format(DateLayout) != "2026-03-15" {
		t.Errorf("FirstSegmentDate = %v", got)
	}

	if !(&Trip{}).FirstSegmentDate(time.UTC).IsZero() {
		t.Error("empty itinerary should yield the zero time")
	}
	malformed := &Trip{Segments: []FlightSegment{{DepartureDate: "15/03/2026"}}}
	if !malformed.FirstSegmentDate(time.UTC).IsZero() {
		t.Error("malformed date should yield the zero time")
	}
}
