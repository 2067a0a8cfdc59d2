package engine

import (
	"strings"
	"time"
)

// weekendBound is a broker-local "DOW HH:MM" boundary (e.g. "FRI 23:00").
type weekendBound struct {
	weekday time.Weekday
	hhmm    string
}

var weekdayNames = map[string]time.Weekday{
	"SUN": time.Sunday, "MON": time.Monday, "TUE": time.Tuesday, "WED": time.Wednesday,
	"THU": time.Thursday, "FRI": time.Friday, "SAT": time.Saturday,
}

func parseWeekendBound(s string) (weekendBound, bool) {
	parts := strings.Fields(s)
	if len(parts) != 2 {
		return weekendBound{}, false
	}
	wd, ok := weekdayNames[strings.ToUpper(parts[0])]
	if !ok {
		return weekendBound{}, false
	}
	return weekendBound{weekday: wd, hhmm: parts[1]}, true
}

// minutesOfWeek maps a weekday+HH:MM onto a single linear scale
// (0 = Sunday 00:00) so a wrapping window can be checked with one
// comparison.
func minutesOfWeek(wd time.Weekday, hhmm string) int {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0
	}
	return int(wd)*24*60 + t.Hour()*60 + t.Minute()
}

// isWeekend reports whether now falls within the configured
// weekend_start/weekend_end broker-local window (spec §6), during
// which new entries are suppressed but Layer-1 and existing positions
// keep running (inertly, since no ticks arrive over a real weekend).
func (e *Engine) isWeekend(now time.Time) (bool, string) {
	start, ok1 := parseWeekendBound(e.cfg.WeekendStart)
	end, ok2 := parseWeekendBound(e.cfg.WeekendEnd)
	if !ok1 || !ok2 {
		return false, ""
	}

	local := now.In(e.clock.Location())
	nowMinutes := int(local.Weekday())*24*60 + local.Hour()*60 + local.Minute()
	startMinutes := minutesOfWeek(start.weekday, start.hhmm)
	endMinutes := minutesOfWeek(end.weekday, end.hhmm)

	if startMinutes <= endMinutes {
		if nowMinutes >= startMinutes && nowMinutes < endMinutes {
			return true, "weekend_window"
		}
		return false, ""
	}
	// Window wraps past the end of the week (the default case: Friday
	// night through Monday morning).
	if nowMinutes >= startMinutes || nowMinutes < endMinutes {
		return true, "weekend_window"
	}
	return false, ""
}
