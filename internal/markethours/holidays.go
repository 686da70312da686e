package markethours

import (
	"fmt"
	"sync"
	"time"
)

const dateLayout = "2006-01-02"

// NSE equity segment closures, 2026 circular. Entries marked (t) were
// provisional when published.
var calendar = struct {
	sync.RWMutex
	days map[string]string
}{days: map[string]string{
	"2026-01-26": "Republic Day",
	"2026-02-17": "Mahashivratri (t)",
	"2026-03-14": "Holi",
	"2026-03-31": "Id-ul-Fitr (t)",
	"2026-04-02": "Ram Navami (t)",
	"2026-04-06": "Mahavir Jayanti",
	"2026-04-10": "Good Friday",
	"2026-04-14": "Ambedkar Jayanti",
	"2026-05-01": "Maharashtra Day",
	"2026-06-07": "Bakri Id (t)",
	"2026-07-06": "Muharram (t)",
	"2026-08-15": "Independence Day",
	"2026-08-16": "Janmashtami (t)",
	"2026-09-05": "Milad-un-Nabi (t)",
	"2026-10-02": "Gandhi Jayanti",
	"2026-10-20": "Dussehra",
	"2026-10-21": "Dussehra (t)",
	"2026-11-05": "Diwali Laxmi Pujan (t)",
	"2026-11-06": "Diwali Balipratipada (t)",
	"2026-11-07": "Bhai Dooj (t)",
	"2026-11-19": "Guru Nanak Jayanti",
	"2026-12-25": "Christmas",
}}

// AddHolidays marks extra dates ("2006-01-02") as closed, e.g. from the
// MARKET_HOLIDAYS setting. Nothing is added unless every date parses.
func AddHolidays(dates ...string) error {
	keys := make([]string, len(dates))
	for i, d := range dates {
		t, err := time.ParseInLocation(dateLayout, d, IST)
		if err != nil {
			return fmt.Errorf("markethours: holiday %q: %w", d, err)
		}
		keys[i] = t.Format(dateLayout)
	}

	calendar.Lock()
	defer calendar.Unlock()
	for _, k := range keys {
		if _, ok := calendar.days[k]; !ok {
			calendar.days[k] = "configured"
		}
	}
	return nil
}

// Holiday reports whether the IST date of t is a market holiday and its name.
func Holiday(t time.Time) (string, bool) {
	calendar.RLock()
	defer calendar.RUnlock()
	name, ok := calendar.days[t.In(IST).Format(dateLayout)]
	return name, ok
}

// IsHoliday returns true if the date (in IST) is an NSE holiday.
func IsHoliday(t time.Time) bool {
	_, ok := Holiday(t)
	return ok
}
