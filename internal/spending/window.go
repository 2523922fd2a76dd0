// Package spending tracks judge-panel spend against daily and monthly caps.
// Counters live in a pluggable store and reset lazily: nothing runs at
// midnight, the stale window is simply replaced when next observed.
package spending

import "time"

// Period selects which cap window a counter belongs to.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodMonthly Period = "monthly"
)

// Window is one spend counter and the instant it expires.
type Window struct {
	Amount  float64   `json:"amount"`
	ResetAt time.Time `json:"reset_at"`
}

// Advance returns the window as of now. A window past its reset instant
// comes back empty with the next boundary; a live window is unchanged. The
// function is pure so reset behavior is testable at any simulated clock.
func Advance(now time.Time, w Window, p Period) Window {
	if w.ResetAt.IsZero() || !now.Before(w.ResetAt) {
		return Window{Amount: 0, ResetAt: nextReset(now, p)}
	}
	return w
}

// nextReset computes the boundary after now: the next UTC midnight for
// daily, the first instant of the next UTC month for monthly.
func nextReset(now time.Time, p Period) time.Time {
	now = now.UTC()
	switch p {
	case PeriodMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	default:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	}
}
