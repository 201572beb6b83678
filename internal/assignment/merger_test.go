package assignment

import (
	"testing"

	"github.com/chrissnell/prodtimeline/internal/shifts"
	"github.com/chrissnell/prodtimeline/internal/timeline"
	"github.com/chrissnell/prodtimeline/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	refs = Refs{
		Operators: []types.User{{ID: "u1", Name: "Ayşe"}, {ID: "u2", Name: "Mehmet"}},
		Molds:     []types.Mold{{ID: "m1", Name: "Cap 28mm"}},
	}
	nightShift = shifts.NewResolver([]types.Shift{
		{Name: "day", StartTime: types.MustParseTimeOfDay("06:00"), EndTime: types.MustParseTimeOfDay("22:00"), IsActive: true},
		{Name: "night", StartTime: types.MustParseTimeOfDay("22:00"), EndTime: types.MustParseTimeOfDay("06:00"), IsActive: true},
	})
	today = types.MustParseDate("2025-04-01")
)

func intPtr(v int) *int { return &v }

func TestApplySingleHour(t *testing.T) {
	tl := timeline.New(nil)

	res := Apply(tl, nightShift, refs, today, 10, types.AssignmentEdit{
		Operator:       types.SetRef("u1"),
		Mold:           types.SetRef("m1"),
		DefectiveUnits: intPtr(4),
	})

	assert.False(t, res.ShiftWide)
	assert.Equal(t, []shifts.Cell{{Date: today, Hour: 10}}, res.Cells)

	h, ok := res.Timeline.Hour(today, 10)
	require.True(t, ok)
	require.NotNil(t, h.Operator)
	assert.Equal(t, "Ayşe", h.Operator.Name)
	require.NotNil(t, h.Mold)
	assert.Equal(t, "Cap 28mm", h.Mold.Name)
	assert.Equal(t, 4, h.DefectiveUnits)
	assert.Equal(t, 1, res.Timeline.Len())
}

func TestApplyDistinguishesClearFromUntouched(t *testing.T) {
	tl := timeline.New([]types.TimelineDay{{Date: today, Hours: []types.HourRecord{{
		Hour:           10,
		Operator:       &types.User{ID: "u1", Name: "Ayşe"},
		Mold:           &types.Mold{ID: "m1", Name: "Cap 28mm"},
		DefectiveUnits: 2,
	}}}})

	res := Apply(tl, nightShift, refs, today, 10, types.AssignmentEdit{Operator: types.ClearRef()})

	h, _ := res.Timeline.Hour(today, 10)
	assert.Nil(t, h.Operator, "explicit clear removes the operator")
	require.NotNil(t, h.Mold, "mold was not part of the edit")
	assert.Equal(t, "m1", h.Mold.ID)
	assert.Equal(t, 2, h.DefectiveUnits)
}

func TestApplyShiftWideAcrossMidnight(t *testing.T) {
	tl := timeline.New([]types.TimelineDay{
		{Date: today, Hours: []types.HourRecord{{Hour: 22, DefectiveUnits: 1}, {Hour: 23}}},
		{Date: today.AddDays(1), Hours: []types.HourRecord{{Hour: 0, DefectiveUnits: 7}}},
	})

	res := Apply(tl, nightShift, refs, today, 23, types.AssignmentEdit{
		Operator:       types.SetRef("u2"),
		DefectiveUnits: intPtr(9),
		ApplyToShift:   true,
	})

	require.True(t, res.ShiftWide)
	require.NoError(t, res.Fallback())
	assert.Equal(t, "night", res.Shift)
	assert.ElementsMatch(t, []int{22, 23, 0, 1, 2, 3, 4, 5}, res.Hours())

	for _, c := range res.Cells {
		h, ok := res.Timeline.Hour(c.Date, c.Hour)
		require.True(t, ok, c.String())
		require.NotNil(t, h.Operator, c.String())
		assert.Equal(t, "u2", h.Operator.ID, c.String())
	}

	h23, _ := res.Timeline.Hour(today, 23)
	assert.Equal(t, 9, h23.DefectiveUnits)
	h22, _ := res.Timeline.Hour(today, 22)
	assert.Equal(t, 1, h22.DefectiveUnits, "defects never copy across hours")
	h0, _ := res.Timeline.Hour(today.AddDays(1), 0)
	assert.Equal(t, 7, h0.DefectiveUnits, "defects never copy across hours")
	h5, _ := res.Timeline.Hour(today.AddDays(1), 5)
	assert.Equal(t, 0, h5.DefectiveUnits)

	_, ok := res.Timeline.Hour(today, 6)
	assert.False(t, ok, "day shift hours are untouched")
}

func TestApplyShiftWideWithoutShiftFallsBack(t *testing.T) {
	r := shifts.NewResolver([]types.Shift{
		{Name: "day", StartTime: types.MustParseTimeOfDay("08:00"), EndTime: types.MustParseTimeOfDay("16:00"), IsActive: true},
	})

	res := Apply(timeline.New(nil), r, refs, today, 3, types.AssignmentEdit{
		Mold:         types.SetRef("m1"),
		ApplyToShift: true,
	})

	assert.False(t, res.ShiftWide)
	assert.ErrorIs(t, res.Fallback(), ErrNoShift)
	assert.Equal(t, []int{3}, res.Hours())
}

func TestApplyUnknownReferenceKeepsID(t *testing.T) {
	res := Apply(timeline.New(nil), nightShift, refs, today, 10, types.AssignmentEdit{Operator: types.SetRef("u9")})

	h, _ := res.Timeline.Hour(today, 10)
	require.NotNil(t, h.Operator)
	assert.Equal(t, types.User{ID: "u9"}, *h.Operator)
}

func TestApplyCellsAddsMissingOrigin(t *testing.T) {
	origin := shifts.Cell{Date: today, Hour: 4}
	cells := []shifts.Cell{{Date: today, Hour: 5}}

	tl := ApplyCells(timeline.New(nil), refs, origin, cells, types.AssignmentEdit{
		Operator:       types.SetRef("u1"),
		DefectiveUnits: intPtr(3),
	})

	h4, ok := tl.Hour(today, 4)
	require.True(t, ok)
	assert.Equal(t, 3, h4.DefectiveUnits)
	h5, _ := tl.Hour(today, 5)
	assert.Equal(t, 0, h5.DefectiveUnits)
	assert.Equal(t, "u1", h5.Operator.ID)
}
