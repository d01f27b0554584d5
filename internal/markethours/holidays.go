package markethours

import "time"

// NSE holidays.
// Source: NSE India official holiday list.
var nseHolidays = []struct {
	year  int
	month time.Month
	day   int
}{
	{2025, time.February, 26}, // Mahashivratri
	{2025, time.March, 14},    // Holi
	{2025, time.March, 31},    // Id-ul-Fitr
	{2025, time.April, 10},    // Mahavir Jayanti
	{2025, time.April, 14},    // Dr. Ambedkar Jayanti
	{2025, time.April, 18},    // Good Friday
	{2025, time.May, 1},       // Maharashtra Day
	{2025, time.August, 15},   // Independence Day
	{2025, time.August, 27},   // Ganesh Chaturthi
	{2025, time.October, 2},   // Mahatma Gandhi Jayanti
	{2025, time.October, 21},  // Diwali Laxmi Pujan
	{2025, time.October, 22},  // Balipratipada
	{2025, time.November, 5},  // Guru Nanak Jayanti
	{2025, time.December, 25}, // Christmas
	{2026, time.January, 26},  // Republic Day
	{2026, time.February, 17}, // Mahashivratri (tentative)
	{2026, time.March, 14},    // Holi
	{2026, time.March, 31},    // Id-ul-Fitr (Eid) (tentative)
	{2026, time.April, 2},     // Ram Navami (tentative)
	{2026, time.April, 6},     // Mahavir Jayanti
	{2026, time.April, 10},    // Good Friday
	{2026, time.April, 14},    // Dr. Ambedkar Jayanti
	{2026, time.May, 1},       // Maharashtra Day
	{2026, time.August, 15},   // Independence Day
	{2026, time.October, 2},   // Mahatma Gandhi Jayanti
	{2026, time.October, 20},  // Dussehra
	{2026, time.November, 19}, // Guru Nanak Jayanti
	{2026, time.December, 25}, // Christmas
}

var holidaySet map[string]bool

func init() {
	holidaySet = make(map[string]bool, len(nseHolidays))
	for _, h := range nseHolidays {
		holidaySet[dateKey(h.year, h.month, h.day)] = true
	}
}

// IsHoliday returns true if the date (in IST) is a listed NSE holiday.
func IsHoliday(t time.Time) bool {
	ist := t.In(IST)
	return holidaySet[dateKey(ist.Year(), ist.Month(), ist.Day())]
}

func dateKey(year int, month time.Month, day int) string {
	return time.Date(year, month, day, 0, 0, 0, 0, IST).Format("2006-01-02")
}
