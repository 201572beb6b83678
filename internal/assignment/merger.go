// Package assignment applies operator, mold and defect-count edits to a
// timeline ahead of server confirmation, either to a single hour or to every
// hour of the shift the edited hour belongs to.
package assignment

import (
	"errors"

	"github.com/chrissnell/prodtimeline/internal/shifts"
	"github.com/chrissnell/prodtimeline/internal/timeline"
	"github.com/chrissnell/prodtimeline/internal/types"
)

// ErrNoShift reports that a shift-wide edit fell back to a single hour
// because no active shift owns the edited hour. It is informational only.
var ErrNoShift = errors.New("no active shift owns the hour")

// Refs holds the display objects that edit ids are resolved against.
type Refs struct {
	Operators []types.User
	Molds     []types.Mold
}

// Result describes one applied edit.
type Result struct {
	Timeline timeline.Timeline
	// Origin is the edited cell; it is the only one whose defect count changes.
	Origin shifts.Cell
	// Cells lists every cell whose assignment was patched, Origin included.
	Cells []shifts.Cell
	// Shift names the owning shift for a shift-wide edit.
	Shift string
	// ShiftWide is false when the edit asked for shift-wide apply but no
	// shift owns the hour.
	ShiftWide bool

	requested bool
}

// Fallback returns ErrNoShift when the edit asked for shift-wide apply but was
// narrowed to the originating hour.
func (r Result) Fallback() error {
	if r.requested && !r.ShiftWide {
		return ErrNoShift
	}
	return nil
}

// Hours returns the touched hours as plain integers in shift order.
func (r Result) Hours() []int {
	out := make([]int, len(r.Cells))
	for i, c := range r.Cells {
		out[i] = c.Hour
	}
	return out
}

// Apply patches tl with edit at (date, hour). With ApplyToShift the owning
// shift is resolved and operator and mold are written to every hour of it;
// defective units are only ever written to the originating hour.
func Apply(tl timeline.Timeline, resolver shifts.Resolver, refs Refs, date types.Date, hour int, edit types.AssignmentEdit) Result {
	origin := shifts.Cell{Date: date, Hour: hour}
	res := Result{Origin: origin, Cells: []shifts.Cell{origin}, requested: edit.ApplyToShift}

	if edit.ApplyToShift {
		if s, hours, ok := resolver.Resolve(hour); ok {
			res.Cells = shifts.Place(date, hour, hours)
			res.Shift = s.Name
			res.ShiftWide = true
		}
	}

	res.Timeline = ApplyCells(tl, refs, origin, res.Cells, edit)
	return res
}

// ApplyCells writes edit to an explicit cell set. It is shared by local edits
// and by assignment broadcasts from other observers, which carry the touched
// hours themselves.
func ApplyCells(tl timeline.Timeline, refs Refs, origin shifts.Cell, cells []shifts.Cell, edit types.AssignmentEdit) timeline.Timeline {
	operator := resolveOperator(refs, edit.Operator)
	mold := resolveMold(refs, edit.Mold)

	originSeen := false
	for _, c := range cells {
		isOrigin := c == origin
		originSeen = originSeen || isOrigin
		tl = tl.PatchHour(c.Date, c.Hour, patch(edit, operator, mold, isOrigin))
	}
	if !originSeen {
		tl = tl.PatchHour(origin.Date, origin.Hour, patch(edit, operator, mold, true))
	}
	return tl
}

func patch(edit types.AssignmentEdit, operator *types.User, mold *types.Mold, isOrigin bool) func(types.HourRecord) types.HourRecord {
	return func(h types.HourRecord) types.HourRecord {
		if edit.Operator.Provided {
			h.Operator = copyUser(operator)
		}
		if edit.Mold.Provided {
			h.Mold = copyMold(mold)
		}
		if isOrigin && edit.DefectiveUnits != nil {
			h.DefectiveUnits = *edit.DefectiveUnits
		}
		return h
	}
}

// resolveOperator returns nil for a clear, the known display object for a set,
// or an id-only placeholder when the reference list does not know the id yet.
func resolveOperator(refs Refs, c types.RefChange) *types.User {
	if !c.Provided || c.ID == "" {
		return nil
	}
	if u, ok := types.FindUser(refs.Operators, c.ID); ok {
		return &u
	}
	return &types.User{ID: c.ID}
}

func resolveMold(refs Refs, c types.RefChange) *types.Mold {
	if !c.Provided || c.ID == "" {
		return nil
	}
	if m, ok := types.FindMold(refs.Molds, c.ID); ok {
		return &m
	}
	return &types.Mold{ID: c.ID}
}

func copyUser(u *types.User) *types.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

func copyMold(m *types.Mold) *types.Mold {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}
