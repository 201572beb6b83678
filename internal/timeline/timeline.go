// Package timeline implements the hour/day model of one machine as a
// persistent value. Every mutation goes through PatchHour or Replace and
// returns a new Timeline; untouched days and hours are shared with the old
// value, so snapshots handed out earlier never change underneath a reader.
package timeline

import (
	"sort"

	"github.com/chrissnell/prodtimeline/internal/types"
)

// Timeline is an immutable sequence of days ordered by date.
type Timeline struct {
	days []types.TimelineDay
}

// New builds a timeline from fetched days. Days are ordered by date and every
// hour is normalised.
func New(days []types.TimelineDay) Timeline {
	out := make([]types.TimelineDay, len(days))
	for i, d := range days {
		hours := make([]types.HourRecord, len(d.Hours))
		for j, h := range d.Hours {
			hours[j] = Normalize(h.Clone())
		}
		sort.SliceStable(hours, func(a, b int) bool { return hours[a].Hour < hours[b].Hour })
		out[i] = types.TimelineDay{Date: d.Date, Hours: hours}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Date.Before(out[b].Date) })
	return Timeline{days: out}
}

// Replace discards the current content in favour of days.
func (t Timeline) Replace(days []types.TimelineDay) Timeline {
	return New(days)
}

// Days returns the days in date order. The returned slice is a fresh copy but
// the hour slices are shared and must be treated as read-only.
func (t Timeline) Days() []types.TimelineDay {
	out := make([]types.TimelineDay, len(t.days))
	copy(out, t.days)
	return out
}

// Len returns the number of loaded days.
func (t Timeline) Len() int { return len(t.days) }

// Day returns the day with the given date.
func (t Timeline) Day(date types.Date) (types.TimelineDay, bool) {
	i, ok := t.dayIndex(date)
	if !ok {
		return types.TimelineDay{}, false
	}
	return t.days[i], true
}

// Hour returns the bucket for (date, hour).
func (t Timeline) Hour(date types.Date, hour int) (types.HourRecord, bool) {
	i, ok := t.dayIndex(date)
	if !ok {
		return types.HourRecord{}, false
	}
	j, ok := hourIndex(t.days[i].Hours, hour)
	if !ok {
		return types.HourRecord{}, false
	}
	return t.days[i].Hours[j], true
}

// PatchHour applies fn to the bucket at (date, hour) and returns the new
// timeline. A missing day or hour is created zero-valued first. fn receives a
// private copy it may modify freely; its result is normalised so that
// RunningMinutes + StoppageMinutes never exceeds an hour. Hours outside 0..23
// leave the timeline unchanged.
func (t Timeline) PatchHour(date types.Date, hour int, fn func(types.HourRecord) types.HourRecord) Timeline {
	if hour < 0 || hour > 23 {
		return t
	}

	di, found := t.dayIndex(date)
	days := make([]types.TimelineDay, len(t.days), len(t.days)+1)
	copy(days, t.days)
	if !found {
		days = append(days, types.TimelineDay{})
		copy(days[di+1:], days[di:])
		days[di] = types.TimelineDay{Date: date}
	}

	day := days[di]
	hi, found := hourIndex(day.Hours, hour)
	hours := make([]types.HourRecord, len(day.Hours), len(day.Hours)+1)
	copy(hours, day.Hours)
	current := types.EmptyHour(hour)
	if found {
		current = hours[hi]
	} else {
		hours = append(hours, types.HourRecord{})
		copy(hours[hi+1:], hours[hi:])
	}

	next := Normalize(fn(current.Clone()))
	next.Hour = hour
	hours[hi] = next
	days[di] = types.TimelineDay{Date: date, Hours: hours}

	return Timeline{days: days}
}

// Normalize restores the per-hour invariants: non-negative counters, minute
// counters within 0..60 and RunningMinutes + StoppageMinutes <= 60, with
// stoppage minutes taking precedence.
func Normalize(h types.HourRecord) types.HourRecord {
	h.UnitsProduced = max(h.UnitsProduced, 0)
	h.DefectiveUnits = max(h.DefectiveUnits, 0)
	h.StoppageMinutes = clamp(h.StoppageMinutes, 0, types.MaxMinutesPerHour)
	h.RunningMinutes = clamp(h.RunningMinutes, 0, types.MaxMinutesPerHour-h.StoppageMinutes)
	if !h.Status.Valid() {
		h.Status = types.StatusInactive
	}
	return h
}

// dayIndex finds date by binary search; when absent it returns the insertion
// point that keeps days ordered.
func (t Timeline) dayIndex(date types.Date) (int, bool) {
	i := sort.Search(len(t.days), func(i int) bool { return !t.days[i].Date.Before(date) })
	return i, i < len(t.days) && t.days[i].Date.Equal(date)
}

func hourIndex(hours []types.HourRecord, hour int) (int, bool) {
	i := sort.Search(len(hours), func(i int) bool { return hours[i].Hour >= hour })
	return i, i < len(hours) && hours[i].Hour == hour
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
