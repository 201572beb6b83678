// Package reconcile folds push events into a machine's timeline. Every
// reducer is a pure function of the current state and one event, written so
// that duplicates are absorbed and any delivery order converges.
package reconcile

import (
	"time"

	"github.com/chrissnell/prodtimeline/internal/assignment"
	"github.com/chrissnell/prodtimeline/internal/events"
	"github.com/chrissnell/prodtimeline/internal/shifts"
	"github.com/chrissnell/prodtimeline/internal/timeline"
	"github.com/chrissnell/prodtimeline/internal/types"
)

// Outcome tells the caller what an event did to the state.
type Outcome int

const (
	// Applied means the event was merged in place.
	Applied Outcome = iota
	// Ignored means the event does not concern this state: another machine,
	// a day outside a fixed window, or a stamp older than what is shown.
	Ignored
	// Refresh means the state cannot be trusted incrementally and a full
	// re-fetch should follow. Any in-place change has already been made.
	Refresh
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Ignored:
		return "ignored"
	case Refresh:
		return "refresh"
	}
	return "unknown"
}

// State is everything a view shows for one machine.
type State struct {
	MachineID string
	// Window is the loaded date range. A zero window accepts every date.
	Window   types.DateRange
	Timeline timeline.Timeline
	Machine  types.MachineState
	Refs     assignment.Refs
}

// Reduce applies e to s.
func Reduce(s State, e events.Event) (State, Outcome) {
	if e.Machine() != s.MachineID {
		return s, Ignored
	}

	switch ev := e.(type) {
	case events.MachineStateUpdate:
		return reduceMachineState(s, ev)
	case events.ProductionUpdate:
		return inWindow(s, ev.Cell, func(h types.HourRecord) (types.HourRecord, Outcome) {
			return productionUpdate(h, ev)
		})
	case events.RunningTimeUpdate:
		return inWindow(s, ev.Cell, func(h types.HourRecord) (types.HourRecord, Outcome) {
			return runningTimeUpdate(h, ev)
		})
	case events.UnclassifiedStoppageDetected:
		return inWindow(s, ev.Cell, func(h types.HourRecord) (types.HourRecord, Outcome) {
			return unclassifiedDetected(h, ev)
		})
	case events.StoppageAdded:
		return inWindow(s, ev.Cell, func(h types.HourRecord) (types.HourRecord, Outcome) {
			return stoppageAdded(h, ev)
		})
	case events.StoppageUpdated:
		return inWindow(s, ev.Cell, func(h types.HourRecord) (types.HourRecord, Outcome) {
			return stoppageUpdated(h, ev)
		})
	case events.AssignmentUpdated:
		return reduceAssignment(s, ev)
	}
	return s, Ignored
}

// windowOutcome decides whether an event for date can be merged.
func windowOutcome(w types.DateRange, date types.Date) (Outcome, bool) {
	if w.Start.IsZero() && w.End.IsZero() {
		return Applied, true
	}
	if w.Contains(date) {
		return Applied, true
	}
	if w.Live && date.After(w.End) {
		return Refresh, false
	}
	return Ignored, false
}

// inWindow runs one hour reducer through PatchHour. A reducer reporting
// Ignored leaves the timeline value untouched.
func inWindow(s State, c events.Cell, fn func(types.HourRecord) (types.HourRecord, Outcome)) (State, Outcome) {
	if o, ok := windowOutcome(s.Window, c.Date); !ok {
		return s, o
	}
	if c.Hour < 0 || c.Hour > 23 {
		return s, Ignored
	}

	current, _ := s.Timeline.Hour(c.Date, c.Hour)
	if current.Status == "" {
		current = types.EmptyHour(c.Hour)
	}
	next, outcome := fn(current.Clone())
	if outcome == Ignored {
		return s, Ignored
	}
	s.Timeline = s.Timeline.PatchHour(c.Date, c.Hour, func(types.HourRecord) types.HourRecord { return next })
	return s, outcome
}

// newer reports whether a write stamped at should replace one stamped cur.
// Zero stamps fall back to arrival order.
func newer(at, cur time.Time) bool {
	return at.IsZero() || cur.IsZero() || !at.Before(cur)
}

func later(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func setStatus(h *types.HourRecord, status types.HourStatus, at time.Time) bool {
	if !newer(at, h.StatusAt) {
		return false
	}
	h.Status = status
	h.StatusAt = later(at, h.StatusAt)
	return true
}

func productionUpdate(h types.HourRecord, e events.ProductionUpdate) (types.HourRecord, Outcome) {
	changed := false
	if newer(e.At, h.CountersAt) {
		h.UnitsProduced = e.UnitsProduced
		h.CountersAt = later(e.At, h.CountersAt)
		changed = true
	}
	if (e.RunningMinutes != nil || e.StoppageMinutes != nil) && newer(e.At, h.MinutesAt) {
		if e.RunningMinutes != nil {
			h.RunningMinutes = *e.RunningMinutes
		}
		if e.StoppageMinutes != nil {
			// Known stoppages are a floor for the reported total.
			h.StoppageMinutes = max(*e.StoppageMinutes, h.SumStoppageDurations())
		}
		h.MinutesAt = later(e.At, h.MinutesAt)
		changed = true
	}
	if e.Status != "" && setStatus(&h, e.Status, e.At) {
		changed = true
	}
	if !changed {
		return h, Ignored
	}
	return h, Applied
}

func runningTimeUpdate(h types.HourRecord, e events.RunningTimeUpdate) (types.HourRecord, Outcome) {
	changed := false
	if newer(e.At, h.MinutesAt) {
		h.RunningMinutes = e.RunningMinutes
		h.MinutesAt = later(e.At, h.MinutesAt)
		changed = true
	}
	if setStatus(&h, types.StatusRunning, e.At) {
		changed = true
	}
	if !changed {
		return h, Ignored
	}
	return h, Applied
}

func unclassifiedDetected(h types.HourRecord, e events.UnclassifiedStoppageDetected) (types.HourRecord, Outcome) {
	id := e.Stoppage.ID
	rec := e.Stoppage
	rec.Reason = types.ReasonUnclassified
	rec.PendingID = ""

	// A stoppage-updated that arrived first leaves a record without a reason.
	placeholder := -1
	for i, s := range h.Stoppages {
		switch {
		case s.PendingID == id && s.ID != id:
			return h, Ignored
		case s.ID == id && s.Reason != "":
			return h, Ignored
		case s.ID == id:
			placeholder = i
		}
	}

	if placeholder >= 0 {
		h.Stoppages[placeholder] = mergeStoppage(h.Stoppages[placeholder], rec)
	} else {
		h.Stoppages = append(h.Stoppages, rec)
	}
	h.StoppageMinutes = max(h.StoppageMinutes, h.SumStoppageDurations())
	setStatus(&h, types.StatusStoppage, e.At)
	return h, Applied
}

func stoppageAdded(h types.HourRecord, e events.StoppageAdded) (types.HourRecord, Outcome) {
	rec := e.Stoppage
	existing := h.StoppageIndex(rec.ID)
	merged := rec
	if existing >= 0 {
		merged = mergeStoppage(h.Stoppages[existing], rec)
	}

	out := make([]types.StoppageRecord, 0, len(h.Stoppages)+1)
	placed := false
	for _, s := range h.Stoppages {
		switch {
		case s.ID == rec.ID:
			if !placed {
				out = append(out, merged)
				placed = true
			}
		case s.Pending():
			// The replaced pending record keeps its position.
			if !placed && existing < 0 && rec.PendingID != "" && s.ID == rec.PendingID {
				out = append(out, merged)
				placed = true
			}
		case rec.PendingID != "" && s.PendingID == rec.PendingID:
			// An optimistic classification of the same pending record under
			// another id.
		default:
			out = append(out, s)
		}
	}
	if !placed {
		out = append(out, merged)
	}

	h.Stoppages = out
	h.StoppageMinutes = h.SumStoppageDurations()
	setStatus(&h, types.StatusStoppage, e.At)
	return h, Applied
}

func stoppageUpdated(h types.HourRecord, e events.StoppageUpdated) (types.HourRecord, Outcome) {
	update := types.StoppageRecord{
		ID:        e.StoppageID,
		StartTime: e.StartTime,
		EndTime:   e.EndTime,
		Duration:  e.Duration,
		UpdatedAt: e.UpdatedAt,
	}

	var rec types.StoppageRecord
	if i := h.StoppageIndex(e.StoppageID); i >= 0 {
		rec = mergeStoppage(h.Stoppages[i], update)
		h.Stoppages[i] = rec
	} else {
		rec = update
		h.Stoppages = append(h.Stoppages, rec)
	}
	h.StoppageMinutes = h.SumStoppageDurations()

	if e.Cascade || rec.Open() {
		return h, Refresh
	}
	return h, Applied
}

// mergeStoppage combines two versions of the same stoppage. Classification
// fields come from whichever side has them, preferring incoming; timing
// fields come from the newer version by UpdatedAt, and on a tie from the one
// with the longer duration.
func mergeStoppage(cur, in types.StoppageRecord) types.StoppageRecord {
	out := cur
	if in.Reason != "" {
		out.Reason = in.Reason
		out.Description = in.Description
		out.SAPNotificationNumber = in.SAPNotificationNumber
		if in.PendingID != "" {
			out.PendingID = in.PendingID
		}
	}

	tie := in.UpdatedAt.Equal(cur.UpdatedAt)
	takeIncoming := in.UpdatedAt.After(cur.UpdatedAt) ||
		(tie && in.Duration > cur.Duration) ||
		(tie && in.Duration == cur.Duration && cur.EndTime == nil && in.EndTime != nil)
	if takeIncoming {
		out.Duration = in.Duration
		out.EndTime = in.EndTime
		out.UpdatedAt = in.UpdatedAt
		if !in.StartTime.IsZero() {
			out.StartTime = in.StartTime
		}
	} else if out.StartTime.IsZero() {
		out.StartTime = in.StartTime
	}
	return out
}

func reduceAssignment(s State, e events.AssignmentUpdated) (State, Outcome) {
	if o, ok := windowOutcome(s.Window, e.Date); !ok {
		return s, o
	}

	origin := shifts.Cell{Date: e.Date, Hour: e.Hour}
	cells := []shifts.Cell{origin}
	if len(e.Hours) > 0 {
		cells = shifts.Place(e.Date, e.Hour, e.Hours)
	}
	edit := types.AssignmentEdit{
		Operator:       e.Operator,
		Mold:           e.Mold,
		DefectiveUnits: e.DefectiveUnits,
	}
	s.Timeline = assignment.ApplyCells(s.Timeline, s.Refs, origin, cells, edit)
	return s, Applied
}

func reduceMachineState(s State, e events.MachineStateUpdate) (State, Outcome) {
	if !newer(e.At, s.Machine.UpdatedAt) {
		return s, Ignored
	}
	s.Machine = types.MachineState{
		Status:    e.Status,
		Color:     e.Color,
		UpdatedAt: later(e.At, s.Machine.UpdatedAt),
	}
	return s, Applied
}
