package window

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestCompute(t *testing.T) {
	cases := []struct {
		ref        time.Time
		start, end string
	}{
		{date(2025, time.December, 18), "2025-11-01T00:00:00.000", "2025-12-01T00:00:00.000"},
		{date(2025, time.January, 10), "2024-12-01T00:00:00.000", "2025-01-01T00:00:00.000"},
		{date(2024, time.March, 31), "2024-02-01T00:00:00.000", "2024-03-01T00:00:00.000"},
		{date(2024, time.March, 1), "2024-02-01T00:00:00.000", "2024-03-01T00:00:00.000"},
	}
	for _, c := range cases {
		w := Compute(c.ref)
		if w.StartISO() != c.start {
			t.Errorf("Compute(%s).StartISO() = %s, want %s", c.ref.Format(RunDateLayout), w.StartISO(), c.start)
		}
		if w.EndISO() != c.end {
			t.Errorf("Compute(%s).EndISO() = %s, want %s", c.ref.Format(RunDateLayout), w.EndISO(), c.end)
		}
	}
}

func TestBuildKey(t *testing.T) {
	cases := []struct {
		ref  time.Time
		want string
	}{
		{date(2025, time.December, 18), "chicago/chicago_crime_20251101.csv"},
		{date(2025, time.January, 10), "chicago/chicago_crime_20241201.csv"},
	}
	for _, c := range cases {
		if got := BuildKey("chicago", c.ref); got != c.want {
			t.Errorf("BuildKey(%s) = %s, want %s", c.ref.Format(RunDateLayout), got, c.want)
		}
	}
}

func TestWindowAndKeyAgreeForEveryDay(t *testing.T) {
	for d := date(2019, time.January, 1); d.Before(date(2027, time.January, 1)); d = d.AddDate(0, 0, 1) {
		w := Compute(d)
		if w.End.Day() != 1 || w.End.Month() != d.Month() || w.End.Year() != d.Year() {
			t.Fatalf("%s: end %s is not the first of the reference month", d.Format(RunDateLayout), w.EndISO())
		}
		if !w.Start.AddDate(0, 1, 0).Equal(w.End) {
			t.Fatalf("%s: window %s is not exactly one month", d.Format(RunDateLayout), w)
		}
		wantKey := "chicago/chicago_crime_" + w.Start.Format("20060102") + ".csv"
		if got := BuildKey("chicago", d); got != wantKey {
			t.Fatalf("%s: key %s disagrees with window start %s", d.Format(RunDateLayout), got, w.StartISO())
		}
	}
}

func TestParseRunDate(t *testing.T) {
	now := time.Date(2026, time.October, 19, 15, 4, 5, 0, time.UTC)

	got, err := ParseRunDate("", now)
	if err != nil {
		t.Fatalf("ParseRunDate empty: %v", err)
	}
	if !got.Equal(date(2026, time.October, 19)) {
		t.Errorf("unexpected default run date: %s", got)
	}

	got, err = ParseRunDate("2025-01-10", now)
	if err != nil {
		t.Fatalf("ParseRunDate: %v", err)
	}
	if !got.Equal(date(2025, time.January, 10)) {
		t.Errorf("unexpected run date: %s", got)
	}

	for _, bad := range []string{"2025/01/10", "2025-13-01", "yesterday"} {
		if _, err := ParseRunDate(bad, now); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}
