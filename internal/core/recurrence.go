package core

import "time"

// NextOccurrence computes the occurrence that follows ref for the given
// frequency, or nil when the series has ended.
//
// It is pure: the caller supplies the reference date, no clock is read.
// The frequency must already be validated; schedules advance by calendar
// arithmetic:
//
//   - daily:   ref + 1 day
//   - weekly:  ref + 7 days
//   - monthly: ref + 1 calendar month, day clamped to the target month's
//     last valid day. The clamp does not stick: Jan 31 -> Feb 28 -> Mar 28.
//   - yearly:  ref + 1 year, Feb 29 clamped to Feb 28 in non-leap years.
//
// If end is set and the computed date falls after it, nil is returned to
// signal that the series has ended.
func NextOccurrence(freq Frequency, ref time.Time, end *time.Time) *time.Time {
	var next time.Time
	switch freq {
	case Daily:
		next = ref.AddDate(0, 0, 1)
	case Weekly:
		next = ref.AddDate(0, 0, 7)
	case Monthly:
		next = addMonthClamped(ref)
	case Yearly:
		next = addYearClamped(ref)
	default:
		return nil
	}
	if end != nil && next.After(*end) {
		return nil
	}
	return &next
}

// addMonthClamped advances t by one calendar month. time.AddDate would
// normalize Jan 31 + 1 month to Mar 2/3; clamping to the last valid day
// keeps month-end schedules on month ends.
func addMonthClamped(t time.Time) time.Time {
	year, month, day := t.Date()
	month++
	if last := daysInMonth(year, month); day > last {
		day = last
	}
	h, m, s := t.Clock()
	return time.Date(year, month, day, h, m, s, t.Nanosecond(), t.Location())
}

func addYearClamped(t time.Time) time.Time {
	year, month, day := t.Date()
	year++
	if last := daysInMonth(year, month); day > last {
		day = last
	}
	h, m, s := t.Clock()
	return time.Date(year, month, day, h, m, s, t.Nanosecond(), t.Location())
}

// daysInMonth returns the number of days in the given month; month may be
// outside [1,12], time.Date normalizes it.
func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
