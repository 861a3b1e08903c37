package clock

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestAddMonthsClampsToMonthEnd(t *testing.T) {
	cases := []struct {
		in   time.Time
		n    int
		want time.Time
	}{
		{date(2024, 1, 31), 1, date(2024, 2, 29)},
		{date(2023, 1, 31), 1, date(2023, 2, 28)},
		{date(2024, 1, 15), 3, date(2024, 4, 15)},
		{date(2024, 11, 30), 3, date(2025, 2, 28)},
		{date(2024, 2, 29), 12, date(2025, 2, 28)},
	}
	for _, tc := range cases {
		if got := AddMonths(tc.in, tc.n); !got.Equal(tc.want) {
			t.Fatalf("AddMonths(%s, %d) = %s, want %s", tc.in.Format(time.DateOnly), tc.n, got.Format(time.DateOnly), tc.want.Format(time.DateOnly))
		}
	}
}

func TestDateAndDaysBetween(t *testing.T) {
	ts := time.Date(2024, 3, 10, 23, 59, 0, 0, time.UTC)
	if got := Date(ts); !got.Equal(date(2024, 3, 10)) {
		t.Fatalf("unexpected date %s", got)
	}
	if got := DaysBetween(date(2024, 2, 1), ts); got != 38 {
		t.Fatalf("expected 38 days, got %d", got)
	}
}

func TestFakeClock(t *testing.T) {
	c := NewFakeClock(date(2024, 1, 1))
	c.Advance(36 * time.Hour)
	if got := Today(c); !got.Equal(date(2024, 1, 2)) {
		t.Fatalf("unexpected today %s", got)
	}
}
