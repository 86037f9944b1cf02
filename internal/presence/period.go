// Package presence owns the online/offline state machine and the rolling accumulation
// windows of activity records.
package presence

import (
	"time"

	"example.com/presence/internal/domain"
)

// WeeklyWindow is the rolling length of the weekly window. It is not aligned to a weekday.
const WeeklyWindow = 7 * 24 * time.Hour

// ResetsApplied reports which windows CheckAndReset zeroed.
type ResetsApplied struct {
	Daily   bool
	Weekly  bool
	Monthly bool
}

// Any reports whether at least one window was zeroed.
func (r ResetsApplied) Any() bool {
	return r.Daily || r.Weekly || r.Monthly
}

// PeriodAccountant decides window rollovers. Calendar comparisons use Location.
type PeriodAccountant struct {
	Location *time.Location
}

// NewPeriodAccountant returns an accountant for loc, falling back to UTC.
func NewPeriodAccountant(loc *time.Location) PeriodAccountant {
	if loc == nil {
		loc = time.UTC
	}
	return PeriodAccountant{Location: loc}
}

// CheckAndReset zeroes every window whose boundary has passed since its last reset and stamps
// the reset time with now. It never looks at the record status, so calling it on every access
// cannot double count.
func (a PeriodAccountant) CheckAndReset(record *domain.ActivityRecord, now time.Time) ResetsApplied {
	loc := a.Location
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)

	var applied ResetsApplied

	if !sameDay(local, record.LastDailyReset.In(loc)) {
		record.DailyOnlineTime = 0
		record.LastDailyReset = now
		applied.Daily = true
	}

	if now.Sub(record.LastWeeklyReset) >= WeeklyWindow {
		record.WeeklyOnlineTime = 0
		record.LastWeeklyReset = now
		applied.Weekly = true
	}

	if !sameMonth(local, record.LastMonthlyReset.In(loc)) {
		record.MonthlyOnlineTime = 0
		record.LastMonthlyReset = now
		applied.Monthly = true
	}

	return applied
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func sameMonth(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}
