// Package shifts resolves which configured work shift owns an hour and which
// hours belong to that shift.
package shifts

import (
	"fmt"

	"github.com/chrissnell/prodtimeline/internal/types"
)

// Resolver answers shift questions for one shift configuration. The zero
// value has no shifts and resolves nothing.
type Resolver struct {
	shifts []types.Shift
}

// NewResolver keeps shifts in configuration order; that order decides which
// shift wins when definitions overlap.
func NewResolver(shifts []types.Shift) Resolver {
	s := make([]types.Shift, len(shifts))
	copy(s, shifts)
	return Resolver{shifts: s}
}

// Shifts returns the configured shifts.
func (r Resolver) Shifts() []types.Shift {
	out := make([]types.Shift, len(r.shifts))
	copy(out, r.shifts)
	return out
}

// Contains reports whether hour h (0..23) belongs to shift s. Only the hour
// component of the shift bounds is considered.
func Contains(s types.Shift, h int) bool {
	start, end := s.StartTime.Hour, s.EndTime.Hour
	if start <= end {
		return start <= h && h < end
	}
	return h >= start || h < end
}

// Hours enumerates the hours of s in shift order: [start..end) for a shift
// inside one day, [start..24) followed by [0..end) for one that wraps.
func Hours(s types.Shift) []int {
	start, end := s.StartTime.Hour, s.EndTime.Hour
	var out []int
	if start <= end {
		for h := start; h < end; h++ {
			out = append(out, h)
		}
		return out
	}
	for h := start; h < 24; h++ {
		out = append(out, h)
	}
	for h := 0; h < end; h++ {
		out = append(out, h)
	}
	return out
}

// Resolve returns the first active shift containing hour h together with its
// hours. ok is false when no shift contains h, in which case shift-wide edits
// are unavailable and callers fall back to the single hour.
func (r Resolver) Resolve(h int) (shift types.Shift, hours []int, ok bool) {
	if h < 0 || h > 23 {
		return types.Shift{}, nil, false
	}
	for _, s := range r.shifts {
		if !s.IsActive {
			continue
		}
		if Contains(s, h) {
			return s, Hours(s), true
		}
	}
	return types.Shift{}, nil, false
}

// Cell is a (date, hour) pair.
type Cell struct {
	Date types.Date
	Hour int
}

func (c Cell) String() string {
	return fmt.Sprintf("%s %02d:00", c.Date, c.Hour)
}

// Cells maps the shift owning (date, hour) onto concrete days. Without an
// owning shift the result is just the originating cell.
func (r Resolver) Cells(date types.Date, hour int) ([]Cell, bool) {
	_, hours, ok := r.Resolve(hour)
	if !ok {
		return []Cell{{Date: date, Hour: hour}}, false
	}
	return Place(date, hour, hours), true
}

// Place maps an ordered shift hour set onto days. hours is in shift order, so
// a wrap past midnight shows up as a decrease (22, 23, 0, 1, ...). Hours
// before the wrap live on the shift's first day and the rest on the day after;
// the first day is date itself when the originating hour is before the wrap
// and the previous day otherwise. An originating hour missing from hours is
// treated as being on the first day.
func Place(date types.Date, hour int, hours []int) []Cell {
	wrap := len(hours)
	for i := 1; i < len(hours); i++ {
		if hours[i] < hours[i-1] {
			wrap = i
			break
		}
	}

	first := date
	for i, h := range hours {
		if h == hour {
			if i >= wrap {
				first = date.AddDays(-1)
			}
			break
		}
	}

	cells := make([]Cell, len(hours))
	for i, h := range hours {
		d := first
		if i >= wrap {
			d = first.AddDays(1)
		}
		cells[i] = Cell{Date: d, Hour: h}
	}
	return cells
}

// Overlap names two shifts that both claim an hour.
type Overlap struct {
	First  string
	Second string
	Hour   int
}

// Overlaps reports every pair of active shifts that claim the same hour, with
// the first hour they share. Resolve still picks the first shift in
// configuration order; this only lets configuration loading flag the clash.
func (r Resolver) Overlaps() []Overlap {
	var out []Overlap
	for i := 0; i < len(r.shifts); i++ {
		if !r.shifts[i].IsActive {
			continue
		}
		for j := i + 1; j < len(r.shifts); j++ {
			if !r.shifts[j].IsActive {
				continue
			}
			for _, h := range Hours(r.shifts[i]) {
				if Contains(r.shifts[j], h) {
					out = append(out, Overlap{First: r.shifts[i].Name, Second: r.shifts[j].Name, Hour: h})
					break
				}
			}
		}
	}
	return out
}
