// Package markethours knows the NSE trading calendar: session times in
// IST, weekends, and exchange holidays. The recorder only annotates with
// it (a check outside market hours still runs and simply finds no data);
// the candle simulator uses it to decide when to emit rows.
package markethours

import (
	"fmt"
	"time"
)

// IST is the Indian Standard Time location (UTC+5:30).
var IST = time.FixedZone("IST", 5*3600+30*60)

// NSE cash session bounds, minutes from midnight IST.
const (
	openMinute  = 9*60 + 15  // 09:15
	closeMinute = 15*60 + 30 // 15:30
)

// dayAt pins a minutes-from-midnight clock value onto t's calendar day
// in IST.
func dayAt(t time.Time, minutes int) time.Time {
	ist := t.In(IST)
	return time.Date(ist.Year(), ist.Month(), ist.Day(), minutes/60, minutes%60, 0, 0, IST)
}

// TodayOpen returns t's calendar day session open (9:15 AM IST).
func TodayOpen(t time.Time) time.Time { return dayAt(t, openMinute) }

// TodayClose returns t's calendar day session close (3:30 PM IST).
func TodayClose(t time.Time) time.Time { return dayAt(t, closeMinute) }

// IsMarketOpen reports whether t falls within NSE trading hours
// (9:15 AM to 3:30 PM IST, Mon to Fri, excluding holidays).
func IsMarketOpen(t time.Time) bool {
	ist := t.In(IST)
	if !IsTradingDay(ist) {
		return false
	}
	return !ist.Before(TodayOpen(ist)) && ist.Before(TodayClose(ist))
}

// IsWeekday reports whether t is Mon to Fri in IST.
func IsWeekday(t time.Time) bool {
	wd := t.In(IST).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// IsTradingDay reports whether t is a weekday and not an NSE holiday.
func IsTradingDay(t time.Time) bool {
	ist := t.In(IST)
	return IsWeekday(ist) && !IsHoliday(ist)
}

// NextOpen returns the next session open at or after t. On a trading day
// before 9:15 that is today's open; otherwise the first trading day that
// follows.
func NextOpen(t time.Time) time.Time {
	ist := t.In(IST)
	if IsTradingDay(ist) && ist.Before(TodayOpen(ist)) {
		return TodayOpen(ist)
	}
	day := ist
	for i := 0; i < 10; i++ { // weekends and holidays never stack past this
		day = day.AddDate(0, 0, 1)
		if IsTradingDay(day) {
			break
		}
	}
	return TodayOpen(day)
}

// TimeUntilClose returns the duration until today's close, 0 when the
// session is already over.
func TimeUntilClose(t time.Time) time.Duration {
	d := TodayClose(t).Sub(t.In(IST))
	if d < 0 {
		return 0
	}
	return d
}

// TimeUntilOpen returns the duration until the next session open.
func TimeUntilOpen(t time.Time) time.Duration {
	return NextOpen(t).Sub(t.In(IST))
}

// StatusString returns a human-readable market status line.
func StatusString(t time.Time) string {
	if IsMarketOpen(t) {
		return fmt.Sprintf("market open, closes in %s", fmtDur(TimeUntilClose(t)))
	}
	next := NextOpen(t)
	ist := next.In(IST)
	return fmt.Sprintf("market closed, opens %s %s (in %s)",
		ist.Weekday().String()[:3], ist.Format("15:04"), fmtDur(next.Sub(t)))
}

func fmtDur(d time.Duration) string {
	mins := int(d.Round(time.Minute) / time.Minute)
	if mins >= 60 {
		return fmt.Sprintf("%dh%dm", mins/60, mins%60)
	}
	return fmt.Sprintf("%dm", mins)
}
