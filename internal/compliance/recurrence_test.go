package compliance

import (
	"testing"
	"time"
)

func TestNextDueDateOnce(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	any := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	if got := NextDueDate(FreqOnce, &any, now); got != nil {
		t.Fatalf("once should have no recurrence, got %v", got)
	}
	if got := NextDueDate("", nil, now); got != nil {
		t.Fatalf("unset frequency should have no recurrence, got %v", got)
	}
}

func TestNextDueDateQuarterly(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)
	got := NextDueDate(FreqQuarterly, &last, now)
	if got == nil {
		t.Fatal("expected a next due date")
	}
	want := time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestNextDueDateFallsBackToNow(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	got := NextDueDate(FreqMonthly, nil, now)
	if got == nil {
		t.Fatal("expected a next due date")
	}
	want := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestAddMonthsClampedMonthEnd(t *testing.T) {
	cases := []struct {
		in     time.Time
		months int
		want   time.Time
	}{
		// Jan 31 + 1 month clamps to the end of February.
		{time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC), 1, time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)},
		// Leap year keeps the 29th.
		{time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), 1, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)},
		// Oct 31 + 1 month clamps to Nov 30.
		{time.Date(2025, 10, 31, 0, 0, 0, 0, time.UTC), 1, time.Date(2025, 11, 30, 0, 0, 0, 0, time.UTC)},
		// Mid-month days are unaffected.
		{time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC), 3, time.Date(2025, 7, 15, 0, 0, 0, 0, time.UTC)},
		// Year rollover.
		{time.Date(2025, 11, 30, 0, 0, 0, 0, time.UTC), 3, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)},
		// Annual recurrence from Feb 29 lands on Feb 28 next year.
		{time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), 12, time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)},
	}
	for _, c := range cases {
		if got := AddMonthsClamped(c.in, c.months); !got.Equal(c.want) {
			t.Fatalf("AddMonthsClamped(%v, %d) = %v, want %v", c.in, c.months, got, c.want)
		}
	}
}

func TestQuarterlyTaxDeadlines(t *testing.T) {
	d := quarterlyTaxDeadlines(2025)
	want := []time.Time{
		time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 9, 15, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
	}
	for i := range want {
		if !d[i].Equal(want[i]) {
			t.Fatalf("deadline %d = %v, want %v", i, d[i], want[i])
		}
	}
}
