package dateutil

import (
	"errors"
	"fmt"
	"time"
)

// Layout is the wire format for calendar dates.
const Layout = "2006-01-02"

var ErrBadDate = errors.New("date must be YYYY-MM-DD")

// Date is a civil calendar date with no time or zone component. Task
// dates and instance dates are always civil dates.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func New(year int, month time.Month, day int) Date {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

func Parse(s string) (Date, error) {
	t, err := time.Parse(Layout, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrBadDate, s)
	}
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

func FromTime(t time.Time) Date {
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

func Today() Date {
	return FromTime(time.Now())
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

func (d Date) IsZero() bool {
	return d == Date{}
}

func (d Date) time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func (d Date) AddDays(n int) Date {
	return FromTime(d.time().AddDate(0, 0, n))
}

func (d Date) Weekday() time.Weekday {
	return d.time().Weekday()
}

func (d Date) Before(o Date) bool { return d.time().Before(o.time()) }
func (d Date) After(o Date) bool  { return d.time().After(o.time()) }

// MonthsSince returns the whole-month distance from o to d, ignoring days.
func (d Date) MonthsSince(o Date) int {
	return (d.Year-o.Year)*12 + int(d.Month) - int(o.Month)
}

func DaysInMonth(year int, month time.Month) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// LastOfMonth returns the last calendar day of d's month.
func (d Date) LastOfMonth() Date {
	return Date{Year: d.Year, Month: d.Month, Day: DaysInMonth(d.Year, d.Month)}
}

// WeekRange returns the Sunday-starting week containing pivot.
func WeekRange(pivot Date) (Date, Date) {
	start := pivot.AddDays(-int(pivot.Weekday()))
	return start, start.AddDays(6)
}

func MonthRange(pivot Date) (Date, Date) {
	start := Date{Year: pivot.Year, Month: pivot.Month, Day: 1}
	return start, start.LastOfMonth()
}

func YearRange(pivot Date) (Date, Date) {
	return Date{Year: pivot.Year, Month: time.January, Day: 1},
		Date{Year: pivot.Year, Month: time.December, Day: 31}
}

// Days lists every date in [start, end] inclusive.
func Days(start, end Date) []Date {
	if end.Before(start) {
		return nil
	}
	var out []Date
	for d := start; !d.After(end); d = d.AddDays(1) {
		out = append(out, d)
	}
	return out
}
