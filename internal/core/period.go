package core

import (
	"fmt"
	"time"
)

// YearMonth identifies one calendar month.
type YearMonth struct {
	Year  int
	Month int // 1-12
}

func NewYearMonth(year, month int) YearMonth {
	return YearMonthFromIndex(year*12 + month - 1)
}

// YearMonthFromIndex is the inverse of Index.
func YearMonthFromIndex(idx int) YearMonth {
	return YearMonth{Year: idx / 12, Month: idx%12 + 1}
}

// Index returns year*12 + (month-1), so consecutive months differ by one.
func (ym YearMonth) Index() int {
	return ym.Year*12 + ym.Month - 1
}

func (ym YearMonth) Next() YearMonth {
	return YearMonthFromIndex(ym.Index() + 1)
}

func (ym YearMonth) First() Date {
	return NewDate(ym.Year, ym.Month, 1)
}

func (ym YearMonth) Last() Date {
	return NewDate(ym.Year, ym.Month, DaysIn(ym.Year, ym.Month))
}

func (ym YearMonth) Period() Period {
	return Period{Start: ym.First(), End: ym.Last()}
}

func (ym YearMonth) Validate() error {
	if ym.Month < 1 || ym.Month > 12 {
		return ErrInvalidMonth
	}
	if ym.Year < 1 {
		return Invalidf("invalid year %d", ym.Year)
	}
	return nil
}

func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", ym.Year, ym.Month)
}

// Period is an inclusive civil date range.
type Period struct {
	Start Date
	End   Date
}

func (p Period) Validate() error {
	if err := p.Start.Validate(); err != nil {
		return err
	}
	if err := p.End.Validate(); err != nil {
		return err
	}
	if p.End.Before(p.Start.Time) {
		return Invalid("period end must not be before start")
	}
	return nil
}

func (p Period) Contains(d Date) bool {
	return !d.Before(p.Start.Time) && !d.After(p.End.Time)
}

// IsWholeMonth reports whether the period covers exactly one calendar month.
func (p Period) IsWholeMonth() bool {
	ym := p.Start.YearMonth()
	return p.Start.Equal(ym.First().Time) && p.End.Equal(ym.Last().Time)
}

// Months lists every calendar month the period touches, in order.
func (p Period) Months() []YearMonth {
	var out []YearMonth
	for idx := p.Start.YearMonth().Index(); idx <= p.End.YearMonth().Index(); idx++ {
		out = append(out, YearMonthFromIndex(idx))
	}
	return out
}

// EndInstant is the last instant of the period's final day in loc.
func (p Period) EndInstant(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	next := p.End.AddDays(1)
	return time.Date(next.Year(), next.Time.Month(), next.Day(), 0, 0, 0, 0, loc).Add(-time.Nanosecond)
}

func (p Period) String() string {
	return p.Start.String() + ".." + p.End.String()
}
