package schedule

import "time"

// NextExecutionDate advances current by one step of the given frequency.
// It is a pure function: equal inputs always yield equal outputs. Month
// and year steps clamp to the last day of the target month, so a schedule
// anchored on Jan 31 advances to Feb 29 in a leap year and Feb 28
// otherwise. ok is false for Once, which never re-schedules.
func NextExecutionDate(current time.Time, f Frequency) (next time.Time, ok bool) {
	switch f {
	case Daily:
		return current.AddDate(0, 0, 1), true
	case Weekly:
		return current.AddDate(0, 0, 7), true
	case BiWeekly:
		return current.AddDate(0, 0, 14), true
	case Monthly:
		return addMonthsClamped(current, 1), true
	case Quarterly:
		return addMonthsClamped(current, 3), true
	case SemiAnnually:
		return addMonthsClamped(current, 6), true
	case Annually:
		return addMonthsClamped(current, 12), true
	default:
		return time.Time{}, false
	}
}

// addMonthsClamped steps the calendar month, keeping the day-of-month where
// possible and clamping to the last day of the target month otherwise.
// time.AddDate alone would overflow Jan 31 + 1 month into March.
func addMonthsClamped(t time.Time, months int) time.Time {
	firstOfTarget := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).AddDate(0, months, 0)
	day := t.Day()
	if last := lastDayOfMonth(firstOfTarget.Year(), firstOfTarget.Month()); day > last {
		day = last
	}
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func lastDayOfMonth(year int, month time.Month) int {
	// Day zero of the following month.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
