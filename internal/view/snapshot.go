package view

import (
	"time"

	"github.com/chrissnell/prodtimeline/internal/assignment"
	"github.com/chrissnell/prodtimeline/internal/timeline"
	"github.com/chrissnell/prodtimeline/internal/types"
)

// Snapshot is an immutable picture of a view. The timeline shares structure
// with later snapshots but never changes.
type Snapshot struct {
	// Generation is the query generation the data was loaded by.
	Generation uint64
	MachineID  string
	Machine    types.Machine
	State      types.MachineState
	Window     types.DateRange
	Timeline   timeline.Timeline
	Shifts     []types.Shift
	Refs       assignment.Refs
	// Loading is set while a fetch for the current selection is in flight.
	Loading bool
	// RefreshPending is set while a debounced refresh is waiting.
	RefreshPending bool
	// Err is the last read failure, cleared by the next successful load.
	Err error
}

// Summary totals the loaded timeline.
func (s Snapshot) Summary() timeline.Summary {
	return s.Timeline.Summarize()
}

// Warnings lists what needs attention up to now in loc.
func (s Snapshot) Warnings(now time.Time, loc *time.Location) []timeline.Warning {
	return s.Timeline.Warnings(now, loc)
}
