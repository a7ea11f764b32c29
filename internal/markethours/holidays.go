package markethours

import "time"

// NSE trading holidays, keyed "2006-01-02" in IST.
// Source: NSE India official holiday list (tentative dates included).
var nseHolidays = map[string]string{
	"2026-01-26": "Republic Day",
	"2026-02-17": "Mahashivratri",
	"2026-03-14": "Holi",
	"2026-03-31": "Id-ul-Fitr",
	"2026-04-02": "Ram Navami",
	"2026-04-06": "Mahavir Jayanti",
	"2026-04-10": "Good Friday",
	"2026-04-14": "Dr. Ambedkar Jayanti",
	"2026-05-01": "Maharashtra Day",
	"2026-06-07": "Bakrid",
	"2026-07-06": "Muharram",
	"2026-08-15": "Independence Day",
	"2026-08-16": "Janmashtami",
	"2026-09-05": "Milad-un-Nabi",
	"2026-10-02": "Mahatma Gandhi Jayanti",
	"2026-10-20": "Dussehra",
	"2026-10-21": "Dussehra",
	"2026-11-05": "Diwali Lakshmi Puja",
	"2026-11-06": "Diwali Balipratipada",
	"2026-11-07": "Bhai Dooj",
	"2026-11-19": "Guru Nanak Jayanti",
	"2026-12-25": "Christmas",
}

// IsHoliday reports whether the date (in IST) is an NSE holiday.
func IsHoliday(t time.Time) bool {
	_, ok := nseHolidays[t.In(IST).Format("2006-01-02")]
	return ok
}

// HolidayName returns the holiday name for the date, or "" if it is not
// a holiday.
func HolidayName(t time.Time) string {
	return nseHolidays[t.In(IST).Format("2006-01-02")]
}
