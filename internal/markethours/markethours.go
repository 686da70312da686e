// Package markethours answers whether the NSE cash market is trading, which
// the feed client reports as its status and the gateway shows in /api/status.
package markethours

import (
	"fmt"
	"time"
)

// IST is Indian Standard Time. A fixed zone keeps the package independent of
// the host's tzdata.
var IST = time.FixedZone("IST", 19800)

// Session bounds as minutes after IST midnight: 09:15 to 15:30.
const (
	sessionOpen  = 9*60 + 15
	sessionClose = 15*60 + 30
)

// holidays plus weekends never span more than this many days.
const maxClosedRun = 15

// Status is the market state at one instant.
type Status struct {
	Open       bool      `json:"open"`
	Message    string    `json:"message"`
	NextChange time.Time `json:"nextChange"`
}

// at returns the IST instant minutes after midnight of t's IST date.
func at(t time.Time, minutes int) time.Time {
	y, m, d := t.In(IST).Date()
	return time.Date(y, m, d, 0, minutes, 0, 0, IST)
}

// IsTradingDay returns true if t's IST date is a weekday and not a holiday.
func IsTradingDay(t time.Time) bool {
	switch t.In(IST).Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !IsHoliday(t)
}

// IsMarketOpen reports whether t falls inside the trading session of a
// trading day. The close minute itself is already closed.
func IsMarketOpen(t time.Time) bool {
	if !IsTradingDay(t) {
		return false
	}
	return !t.Before(at(t, sessionOpen)) && t.Before(at(t, sessionClose))
}

// NextOpen returns the next session open strictly after t, or today's open
// when t is before it on a trading day.
func NextOpen(t time.Time) time.Time {
	if open := at(t, sessionOpen); t.Before(open) && IsTradingDay(t) {
		return open
	}
	day := at(t, 0)
	for i := 1; i <= maxClosedRun; i++ {
		if d := day.AddDate(0, 0, i); IsTradingDay(d) {
			return at(d, sessionOpen)
		}
	}
	return at(day.AddDate(0, 0, 1), sessionOpen)
}

// TodayClose returns the session close on t's IST date.
func TodayClose(t time.Time) time.Time {
	return at(t, sessionClose)
}

// StatusAt describes the market at t.
func StatusAt(t time.Time) Status {
	if IsMarketOpen(t) {
		closeAt := TodayClose(t)
		return Status{
			Open:       true,
			Message:    "Market open, closes in " + shortDur(closeAt.Sub(t)),
			NextChange: closeAt,
		}
	}
	next := NextOpen(t)
	return Status{
		Message:    fmt.Sprintf("Market closed, opens %s (%s)", next.Format("Mon 15:04"), shortDur(next.Sub(t))),
		NextChange: next,
	}
}

// StatusString returns a human-readable market status.
func StatusString(t time.Time) string {
	return StatusAt(t).Message
}

// shortDur renders d as "1h30m" or "45m".
func shortDur(d time.Duration) string {
	d = d.Truncate(time.Minute)
	if h := d / time.Hour; h > 0 {
		return fmt.Sprintf("%dh%dm", h, (d%time.Hour)/time.Minute)
	}
	return fmt.Sprintf("%dm", d/time.Minute)
}
