package markethours

import (
	"time"
)

// IST is the Indian Standard Time location (UTC+5:30).
var IST = time.FixedZone("IST", 5*3600+30*60)

// Market hours in IST
const (
	OpenHour    = 9
	OpenMinute  = 15
	CloseHour   = 15
	CloseMinute = 30
)

// IsMarketOpen returns true if t falls within NSE trading hours
// (9:15 AM to 3:30 PM IST, Mon-Fri, excluding holidays).
func IsMarketOpen(t time.Time) bool {
	ist := t.In(IST)
	if !IsTradingDay(ist) {
		return false
	}
	hm := ist.Hour()*60 + ist.Minute()
	return hm >= OpenHour*60+OpenMinute && hm < CloseHour*60+CloseMinute
}

// IsWeekday returns true if t is Mon-Fri.
func IsWeekday(t time.Time) bool {
	wd := t.In(IST).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// IsTradingDay returns true if t is a weekday and not a holiday.
func IsTradingDay(t time.Time) bool {
	ist := t.In(IST)
	return IsWeekday(ist) && !IsHoliday(ist)
}

// SessionDate returns the IST calendar date of t at midnight IST.
func SessionDate(t time.Time) time.Time {
	ist := t.In(IST)
	return time.Date(ist.Year(), ist.Month(), ist.Day(), 0, 0, 0, 0, IST)
}

// SameSession reports whether a and b fall on the same IST trading date.
func SameSession(a, b time.Time) bool {
	ay, am, ad := a.In(IST).Date()
	by, bm, bd := b.In(IST).Date()
	return ay == by && am == bm && ad == bd
}

// SessionLast marks every bar that is the last of its IST session: either
// the final bar overall or a bar whose successor opens on a different date.
func SessionLast(times []time.Time) []bool {
	out := make([]bool, len(times))
	for i := range times {
		out[i] = i == len(times)-1 || !SameSession(times[i], times[i+1])
	}
	return out
}

// SessionClose returns the market close time on t's IST date.
func SessionClose(t time.Time) time.Time {
	ist := t.In(IST)
	return time.Date(ist.Year(), ist.Month(), ist.Day(), CloseHour, CloseMinute, 0, 0, IST)
}
