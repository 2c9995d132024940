package window

import (
	"fmt"
	"strings"
	"time"
)

const (
	// TimestampLayout renders window bounds the way the Socrata SoQL $where
	// clause expects them: millisecond precision, no zone suffix.
	TimestampLayout = "2006-01-02T15:04:05.000"
	// RunDateLayout is the accepted form of the run date argument.
	RunDateLayout = "2006-01-02"

	keyDateLayout = "20060102"
)

// Window is the half-open interval [Start, End) covering one calendar month.
type Window struct {
	Start time.Time
	End   time.Time
}

// MonthStart returns midnight UTC on the first day of ref's month.
func MonthStart(ref time.Time) time.Time {
	return time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// PreviousMonthStart returns midnight UTC on the first day of the month
// before ref's month. January rolls back to December of the prior year.
func PreviousMonthStart(ref time.Time) time.Time {
	start := MonthStart(ref)
	return start.AddDate(0, -1, 0)
}

// Compute derives the previous calendar month relative to ref.
func Compute(ref time.Time) Window {
	return Window{
		Start: PreviousMonthStart(ref),
		End:   MonthStart(ref),
	}
}

func (w Window) StartISO() string { return w.Start.Format(TimestampLayout) }

func (w Window) EndISO() string { return w.End.Format(TimestampLayout) }

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", w.StartISO(), w.EndISO())
}

// BuildKey returns <source>/<source>_crime_<YYYYMMDD>.csv where the date is
// the first day of the month preceding ref.
func BuildKey(source string, ref time.Time) string {
	source = strings.Trim(strings.TrimSpace(source), "/")
	date := PreviousMonthStart(ref).Format(keyDateLayout)
	return fmt.Sprintf("%s/%s_crime_%s.csv", source, source, date)
}

// ParseRunDate parses a YYYY-MM-DD run date. An empty value yields now's
// calendar date.
func ParseRunDate(value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	d, err := time.Parse(RunDateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid run date %q, expected YYYY-MM-DD: %w", value, err)
	}
	return d, nil
}
