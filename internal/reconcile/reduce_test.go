package reconcile

import (
	"testing"
	"time"

	"github.com/chrissnell/prodtimeline/internal/assignment"
	"github.com/chrissnell/prodtimeline/internal/events"
	"github.com/chrissnell/prodtimeline/internal/stoppage"
	"github.com/chrissnell/prodtimeline/internal/timeline"
	"github.com/chrissnell/prodtimeline/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	day  = types.MustParseDate("2025-04-01")
	t0   = time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	cell = events.Cell{MachineID: "m1", Date: day, Hour: 10}
)

func newState() State {
	return State{
		MachineID: "m1",
		Window:    types.DateRange{Start: day, End: day},
		Timeline:  timeline.New(nil),
		Refs: assignment.Refs{
			Operators: []types.User{{ID: "u1", Name: "Ayşe"}},
			Molds:     []types.Mold{{ID: "m1", Name: "Cap"}},
		},
	}
}

func fold(t *testing.T, s State, evs ...events.Event) State {
	t.Helper()
	for _, e := range evs {
		s, _ = Reduce(s, e)
	}
	return s
}

func hour(t *testing.T, s State, d types.Date, h int) types.HourRecord {
	t.Helper()
	rec, ok := s.Timeline.Hour(d, h)
	require.True(t, ok, "hour %d on %s", h, d)
	return rec
}

func TestUnclassifiedDetectedIsIdempotent(t *testing.T) {
	e := events.UnclassifiedStoppageDetected{
		Cell:     cell,
		Stoppage: types.StoppageRecord{ID: "p1", StartTime: t0, Duration: 7},
		At:       t0,
	}

	s := fold(t, newState(), e)
	s2, outcome := Reduce(s, e)

	assert.Equal(t, Ignored, outcome)
	h := hour(t, s2, day, 10)
	require.Len(t, h.Stoppages, 1)
	assert.True(t, h.Stoppages[0].Pending())
	assert.Equal(t, 7, h.StoppageMinutes)
	assert.Equal(t, types.StatusStoppage, h.Status)
}

func TestAddedAndUpdatedConvergeInEitherOrder(t *testing.T) {
	added := events.StoppageAdded{Cell: cell, Stoppage: types.StoppageRecord{ID: "A", Reason: types.ReasonPlanned, StartTime: t0, Duration: 10}}
	updated := events.StoppageUpdated{Cell: cell, StoppageID: "A", Duration: 25}

	forward := hour(t, fold(t, newState(), added, updated), day, 10)
	reverse := hour(t, fold(t, newState(), updated, added), day, 10)

	assert.Equal(t, 25, forward.StoppageMinutes)
	assert.Equal(t, 25, reverse.StoppageMinutes)
	require.Len(t, forward.Stoppages, 1)
	require.Len(t, reverse.Stoppages, 1)
	assert.Equal(t, forward.Stoppages[0], reverse.Stoppages[0])
	assert.Equal(t, types.ReasonPlanned, reverse.Stoppages[0].Reason)
}

func TestDetectedConvergesWithLaterEvents(t *testing.T) {
	end := t0.Add(20 * time.Minute)
	running, stopped := 30, 30
	detected := events.UnclassifiedStoppageDetected{
		Cell:     cell,
		Stoppage: types.StoppageRecord{ID: "p1", StartTime: t0, Duration: 5, UpdatedAt: t0},
		At:       t0,
	}

	tests := []struct {
		name  string
		other events.Event
		check func(t *testing.T, h types.HourRecord)
	}{
		{
			name:  "closed by stoppage-updated",
			other: events.StoppageUpdated{Cell: cell, StoppageID: "p1", Duration: 20, StartTime: t0, EndTime: &end, UpdatedAt: end},
			check: func(t *testing.T, h types.HourRecord) {
				require.Len(t, h.Stoppages, 1)
				assert.True(t, h.Stoppages[0].Pending())
				assert.Equal(t, 20, h.Stoppages[0].Duration)
				assert.Equal(t, 20, h.StoppageMinutes)
				assert.Equal(t, types.StatusStoppage, h.Status)
			},
		},
		{
			name: "production-update with stoppage minutes",
			other: events.ProductionUpdate{
				Cell: cell, UnitsProduced: 50, Status: types.StatusStoppedYetProducing,
				RunningMinutes: &running, StoppageMinutes: &stopped, At: t0.Add(time.Minute),
			},
			check: func(t *testing.T, h types.HourRecord) {
				require.Len(t, h.Stoppages, 1)
				assert.Equal(t, 30, h.StoppageMinutes)
				assert.Equal(t, 30, h.RunningMinutes)
				assert.Equal(t, types.StatusStoppedYetProducing, h.Status)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			forward := hour(t, fold(t, newState(), detected, tt.other), day, 10)
			reverse := hour(t, fold(t, newState(), tt.other, detected), day, 10)

			assert.Equal(t, forward, reverse)
			tt.check(t, forward)
		})
	}
}

func TestDetectedAfterClassificationIsIgnored(t *testing.T) {
	added := events.StoppageAdded{Cell: cell, Stoppage: types.StoppageRecord{ID: "c1", Reason: types.ReasonMaintenance, PendingID: "p1", Duration: 15}}
	detected := events.UnclassifiedStoppageDetected{Cell: cell, Stoppage: types.StoppageRecord{ID: "p1", Duration: 15}}

	s := fold(t, newState(), added)
	_, outcome := Reduce(s, detected)
	assert.Equal(t, Ignored, outcome)
}

func TestTimestampedUpdatesConvergeByRecency(t *testing.T) {
	end := t0.Add(12 * time.Minute)
	first := events.StoppageUpdated{Cell: cell, StoppageID: "A", Duration: 20, UpdatedAt: t0.Add(time.Minute)}
	second := events.StoppageUpdated{Cell: cell, StoppageID: "A", Duration: 12, EndTime: &end, UpdatedAt: t0.Add(2 * time.Minute)}

	a := hour(t, fold(t, newState(), first, second), day, 10)
	b := hour(t, fold(t, newState(), second, first), day, 10)

	assert.Equal(t, 12, a.StoppageMinutes)
	assert.Equal(t, a, b)
}

func TestStoppageAddedReplacesPendingInEitherOrder(t *testing.T) {
	detected := events.UnclassifiedStoppageDetected{Cell: cell, Stoppage: types.StoppageRecord{ID: "p1", StartTime: t0, Duration: 15}}
	added := events.StoppageAdded{Cell: cell, Stoppage: types.StoppageRecord{ID: "s1", Reason: types.ReasonMaintenance, StartTime: t0, Duration: 15, PendingID: "p1"}}

	for name, order := range map[string][]events.Event{
		"detected first": {detected, added},
		"added first":    {added, detected},
		"replayed":       {detected, added, detected, added},
	} {
		t.Run(name, func(t *testing.T) {
			h := hour(t, fold(t, newState(), order...), day, 10)
			require.Len(t, h.Stoppages, 1)
			assert.Equal(t, "s1", h.Stoppages[0].ID)
			assert.Equal(t, types.ReasonMaintenance, h.Stoppages[0].Reason)
			assert.Equal(t, 15, h.StoppageMinutes)
		})
	}
}

func TestStoppageAddedAbsorbsOptimisticClassification(t *testing.T) {
	s := fold(t, newState(), events.UnclassifiedStoppageDetected{Cell: cell, Stoppage: types.StoppageRecord{ID: "p1", StartTime: t0, Duration: 15}})

	// The local view classifies under its own id before the server answers.
	h := hour(t, s, day, 10)
	classified, _, err := stoppage.Apply(h, types.StoppageSubmission{
		Date: day, Hour: 10, Reason: types.ReasonOther, PendingStoppageID: "p1",
	}, "local", t0, time.UTC)
	require.NoError(t, err)
	s.Timeline = s.Timeline.PatchHour(day, 10, func(types.HourRecord) types.HourRecord { return classified })

	s = fold(t, s, events.StoppageAdded{Cell: cell, Stoppage: types.StoppageRecord{ID: "server", Reason: types.ReasonOther, StartTime: t0, Duration: 15, PendingID: "p1"}})

	h = hour(t, s, day, 10)
	require.Len(t, h.Stoppages, 1)
	assert.Equal(t, "server", h.Stoppages[0].ID)
	assert.Equal(t, 15, h.StoppageMinutes)
}

func TestOpenOrCascadingUpdateAsksForRefresh(t *testing.T) {
	end := t0.Add(5 * time.Minute)

	_, outcome := Reduce(newState(), events.StoppageUpdated{Cell: cell, StoppageID: "A", Duration: 5})
	assert.Equal(t, Refresh, outcome, "open stoppage")

	_, outcome = Reduce(newState(), events.StoppageUpdated{Cell: cell, StoppageID: "A", Duration: 5, EndTime: &end})
	assert.Equal(t, Applied, outcome)

	s, outcome := Reduce(newState(), events.StoppageUpdated{Cell: cell, StoppageID: "A", Duration: 5, EndTime: &end, Cascade: true})
	assert.Equal(t, Refresh, outcome)
	assert.Equal(t, 5, hour(t, s, day, 10).StoppageMinutes, "the in-place change is still made")
}

func TestProductionUpdate(t *testing.T) {
	running, stopped := 50, 20
	s, outcome := Reduce(newState(), events.ProductionUpdate{
		Cell: cell, UnitsProduced: 300, Status: types.StatusStoppedYetProducing,
		RunningMinutes: &running, StoppageMinutes: &stopped, At: t0,
	})
	require.Equal(t, Applied, outcome)

	h := hour(t, s, day, 10)
	assert.Equal(t, 300, h.UnitsProduced)
	assert.Equal(t, types.StatusStoppedYetProducing, h.Status)
	assert.Equal(t, 20, h.StoppageMinutes)
	assert.Equal(t, 40, h.RunningMinutes, "running minutes give way to stoppage minutes")

	// Without minute counters only units and status change.
	s = fold(t, s, events.ProductionUpdate{Cell: cell, UnitsProduced: 310, Status: types.StatusRunning, At: t0.Add(time.Minute)})
	h = hour(t, s, day, 10)
	assert.Equal(t, 310, h.UnitsProduced)
	assert.Equal(t, 40, h.RunningMinutes)

	// A late, older update is dropped.
	_, outcome = Reduce(s, events.ProductionUpdate{Cell: cell, UnitsProduced: 1, Status: types.StatusInactive, At: t0.Add(-time.Minute)})
	assert.Equal(t, Ignored, outcome)
}

func TestRunningTimeUpdateForcesRunning(t *testing.T) {
	s := fold(t, newState(),
		events.UnclassifiedStoppageDetected{Cell: cell, Stoppage: types.StoppageRecord{ID: "p1", Duration: 10}, At: t0},
		events.RunningTimeUpdate{Cell: cell, RunningMinutes: 30, At: t0.Add(time.Minute)},
	)

	h := hour(t, s, day, 10)
	assert.Equal(t, types.StatusRunning, h.Status)
	assert.Equal(t, 30, h.RunningMinutes)
	assert.Equal(t, 10, h.StoppageMinutes)
}

func TestStatusConvergesUnderReordering(t *testing.T) {
	evs := []events.Event{
		events.RunningTimeUpdate{Cell: cell, RunningMinutes: 30, At: t0.Add(3 * time.Minute)},
		events.UnclassifiedStoppageDetected{Cell: cell, Stoppage: types.StoppageRecord{ID: "p1", Duration: 4}, At: t0.Add(time.Minute)},
		events.ProductionUpdate{Cell: cell, UnitsProduced: 90, Status: types.StatusRunning, At: t0.Add(2 * time.Minute)},
	}

	var results []types.HourRecord
	for _, perm := range [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}} {
		s := newState()
		for _, i := range perm {
			s, _ = Reduce(s, evs[i])
		}
		results = append(results, hour(t, s, day, 10))
	}
	for _, r := range results[1:] {
		assert.Equal(t, results[0], r)
	}
	assert.Equal(t, types.StatusRunning, results[0].Status)
	assert.Equal(t, 90, results[0].UnitsProduced)
}

func TestOtherMachineIgnored(t *testing.T) {
	s := newState()
	other := cell
	other.MachineID = "m2"

	next, outcome := Reduce(s, events.ProductionUpdate{Cell: other, UnitsProduced: 5})
	assert.Equal(t, Ignored, outcome)
	assert.Equal(t, 0, next.Timeline.Len())
}

func TestWindowHandling(t *testing.T) {
	tomorrow := cell
	tomorrow.Date = day.AddDays(1)
	yesterday := cell
	yesterday.Date = day.AddDays(-1)

	fixed := newState()
	_, outcome := Reduce(fixed, events.ProductionUpdate{Cell: tomorrow, UnitsProduced: 5})
	assert.Equal(t, Ignored, outcome)

	live := newState()
	live.Window.Live = true
	next, outcome := Reduce(live, events.ProductionUpdate{Cell: tomorrow, UnitsProduced: 5})
	assert.Equal(t, Refresh, outcome)
	assert.Equal(t, 0, next.Timeline.Len())

	_, outcome = Reduce(live, events.ProductionUpdate{Cell: yesterday, UnitsProduced: 5})
	assert.Equal(t, Ignored, outcome)
}

func TestAssignmentUpdatedAppliesAcrossMidnight(t *testing.T) {
	s := newState()
	s.Window = types.DateRange{Start: day, End: day.AddDays(1)}
	s.Timeline = timeline.New([]types.TimelineDay{{Date: day.AddDays(1), Hours: []types.HourRecord{{Hour: 1, DefectiveUnits: 4}}}})
	defects := 2

	s, outcome := Reduce(s, events.AssignmentUpdated{
		Cell:           events.Cell{MachineID: "m1", Date: day, Hour: 23},
		Hours:          []int{22, 23, 0, 1},
		Operator:       types.SetRef("u1"),
		DefectiveUnits: &defects,
	})
	require.Equal(t, Applied, outcome)

	for _, c := range []struct {
		d types.Date
		h int
	}{{day, 22}, {day, 23}, {day.AddDays(1), 0}, {day.AddDays(1), 1}} {
		h := hour(t, s, c.d, c.h)
		require.NotNil(t, h.Operator)
		assert.Equal(t, "Ayşe", h.Operator.Name)
	}
	assert.Equal(t, 2, hour(t, s, day, 23).DefectiveUnits)
	assert.Equal(t, 0, hour(t, s, day, 22).DefectiveUnits)
	assert.Equal(t, 4, hour(t, s, day.AddDays(1), 1).DefectiveUnits)
}

func TestMachineStateLastWriterWins(t *testing.T) {
	newerEv := events.MachineStateUpdate{MachineID: "m1", Status: "running", Color: "green", At: t0.Add(time.Minute)}
	olderEv := events.MachineStateUpdate{MachineID: "m1", Status: "stopped", Color: "red", At: t0}

	a := fold(t, newState(), newerEv, olderEv)
	b := fold(t, newState(), olderEv, newerEv)

	assert.Equal(t, "running", a.Machine.Status)
	assert.Equal(t, a.Machine, b.Machine)
	assert.Equal(t, 0, a.Timeline.Len(), "machine state does not touch hours")
}

func TestInvariantHoldsAfterEvents(t *testing.T) {
	big := 90
	s := fold(t, newState(),
		events.ProductionUpdate{Cell: cell, RunningMinutes: &big, StoppageMinutes: &big},
		events.UnclassifiedStoppageDetected{Cell: cell, Stoppage: types.StoppageRecord{ID: "p1", Duration: 45}},
		events.RunningTimeUpdate{Cell: cell, RunningMinutes: 55},
		events.StoppageUpdated{Cell: cell, StoppageID: "x", Duration: 30},
	)
	h := hour(t, s, day, 10)
	assert.LessOrEqual(t, h.RunningMinutes+h.StoppageMinutes, types.MaxMinutesPerHour)
}
