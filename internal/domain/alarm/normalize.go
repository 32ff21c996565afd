package alarm

import "time"

// PastTimeGrace is how far ahead a stale one-shot alarm is moved.
const PastTimeGrace = 60 * time.Second

// Normalize corrects requested against now. A future instant is returned as is.
// A stale repeating alarm moves to the same wall-clock time on the next day,
// a stale one-shot alarm to now plus PastTimeGrace. The correction is applied
// once: a repeating alarm more than a day stale stays in the past.
func Normalize(requested, now time.Time, repeatDaily bool) time.Time {
	if requested.After(now) {
		return requested
	}

	if repeatDaily {
		return requested.AddDate(0, 0, 1)
	}

	return now.Add(PastTimeGrace)
}
