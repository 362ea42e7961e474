package filter

import (
	"fmt"
	"time"
)

// Window is a concrete inclusive time range. Zero bounds are open.
type Window struct {
	From time.Time
	To   time.Time
}

// ExpandPreset turns a named preset into a window as of now. Windows are
// computed in now's location.
func ExpandPreset(preset string, now time.Time) (Window, error) {
	loc := now.Location()
	y, m, d := now.Date()
	startOfDay := time.Date(y, m, d, 0, 0, 0, 0, loc)

	switch preset {
	case PresetToday:
		return Window{From: startOfDay, To: endOfDay(startOfDay)}, nil
	case PresetLast7Days:
		return Window{From: now.AddDate(0, 0, -7), To: now}, nil
	case PresetMonthToDate:
		return Window{From: time.Date(y, m, 1, 0, 0, 0, 0, loc), To: now}, nil
	case PresetQuarter:
		firstMonth := time.Month((int(m)-1)/3*3 + 1)
		return Window{From: time.Date(y, firstMonth, 1, 0, 0, 0, 0, loc), To: now}, nil
	case PresetLastMonth:
		firstThisMonth := time.Date(y, m, 1, 0, 0, 0, 0, loc)
		firstLastMonth := firstThisMonth.AddDate(0, -1, 0)
		return Window{From: firstLastMonth, To: firstThisMonth.Add(-time.Nanosecond)}, nil
	case PresetThisYear:
		return Window{From: time.Date(y, time.January, 1, 0, 0, 0, 0, loc), To: now}, nil
	default:
		return Window{}, fmt.Errorf("unknown date preset %q", preset)
	}
}

// literalWindow converts explicit bounds. A date-only upper bound covers the whole day.
func literalWindow(from, to *Timestamp) Window {
	var w Window
	if from != nil {
		w.From = from.Time
	}
	if to != nil {
		w.To = to.Time
		if to.DateOnly {
			w.To = endOfDay(to.Time)
		}
	}
	return w
}

func endOfDay(day time.Time) time.Time {
	return day.AddDate(0, 0, 1).Add(-time.Nanosecond)
}
