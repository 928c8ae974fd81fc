package policy

import (
	"strconv"
	"strings"
	"time"

	"github.com/conductor-ai/conductor/domain"
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sun":       time.Sunday,
	"mon":       time.Monday,
	"tue":       time.Tuesday,
	"wed":       time.Wednesday,
	"thu":       time.Thursday,
	"fri":       time.Friday,
	"sat":       time.Saturday,
}

// activeQuietWindow returns the first quiet-hours window covering the local
// time, if any. Windows that cross midnight ("22:00"–"06:00") match on
// either side of it.
func activeQuietWindow(windows []domain.QuietWindow, local time.Time) (domain.QuietWindow, bool) {
	minutes := local.Hour()*60 + local.Minute()
	for _, w := range windows {
		if !windowCoversDay(w, local.Weekday()) {
			continue
		}
		start, okStart := parseClock(w.Start)
		end, okEnd := parseClock(w.End)
		if !okStart || !okEnd {
			continue
		}
		if start <= end {
			if minutes >= start && minutes < end {
				return w, true
			}
			continue
		}
		// Overnight window.
		if minutes >= start || minutes < end {
			return w, true
		}
	}
	return domain.QuietWindow{}, false
}

func windowCoversDay(w domain.QuietWindow, day time.Weekday) bool {
	if len(w.Days) == 0 {
		return true
	}
	for _, d := range w.Days {
		if wd, ok := weekdays[strings.ToLower(strings.TrimSpace(d))]; ok && wd == day {
			return true
		}
	}
	return false
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}
