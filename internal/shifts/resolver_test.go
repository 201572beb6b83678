package shifts

import (
	"testing"

	"github.com/chrissnell/prodtimeline/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shift(name, start, end string) types.Shift {
	return types.Shift{
		Name:      name,
		StartTime: types.MustParseTimeOfDay(start),
		EndTime:   types.MustParseTimeOfDay(end),
		IsActive:  true,
	}
}

func threeShifts() Resolver {
	return NewResolver([]types.Shift{
		shift("morning", "06:00", "14:00"),
		shift("evening", "14:00", "22:00"),
		shift("night", "22:00", "06:00"),
	})
}

func TestResolve(t *testing.T) {
	r := threeShifts()

	tests := []struct {
		hour  int
		name  string
		hours []int
	}{
		{6, "morning", []int{6, 7, 8, 9, 10, 11, 12, 13}},
		{13, "morning", []int{6, 7, 8, 9, 10, 11, 12, 13}},
		{14, "evening", []int{14, 15, 16, 17, 18, 19, 20, 21}},
		{23, "night", []int{22, 23, 0, 1, 2, 3, 4, 5}},
		{0, "night", []int{22, 23, 0, 1, 2, 3, 4, 5}},
		{5, "night", []int{22, 23, 0, 1, 2, 3, 4, 5}},
	}

	for _, tt := range tests {
		s, hours, ok := r.Resolve(tt.hour)
		require.True(t, ok, "hour %d", tt.hour)
		assert.Equal(t, tt.name, s.Name, "hour %d", tt.hour)
		assert.Equal(t, tt.hours, hours, "hour %d", tt.hour)
	}
}

func TestResolveNoShift(t *testing.T) {
	r := NewResolver([]types.Shift{shift("day", "08:00", "16:00")})

	_, hours, ok := r.Resolve(20)
	assert.False(t, ok)
	assert.Nil(t, hours)

	_, _, ok = r.Resolve(24)
	assert.False(t, ok)

	_, _, ok = Resolver{}.Resolve(10)
	assert.False(t, ok)
}

func TestResolveSkipsInactiveShifts(t *testing.T) {
	inactive := shift("old", "06:00", "18:00")
	inactive.IsActive = false
	r := NewResolver([]types.Shift{inactive, shift("new", "08:00", "16:00")})

	s, _, ok := r.Resolve(10)
	require.True(t, ok)
	assert.Equal(t, "new", s.Name)

	_, _, ok = r.Resolve(7)
	assert.False(t, ok)
}

func TestResolveOverlapPicksFirst(t *testing.T) {
	r := NewResolver([]types.Shift{
		shift("long", "06:00", "18:00"),
		shift("short", "10:00", "14:00"),
	})

	s, _, ok := r.Resolve(11)
	require.True(t, ok)
	assert.Equal(t, "long", s.Name)

	overlaps := r.Overlaps()
	require.Len(t, overlaps, 1)
	assert.Equal(t, Overlap{First: "long", Second: "short", Hour: 10}, overlaps[0])
	assert.Empty(t, threeShifts().Overlaps())
}

func TestCellsAcrossMidnight(t *testing.T) {
	r := threeShifts()
	d := types.MustParseDate("2025-06-01")
	next := d.AddDays(1)
	prev := d.AddDays(-1)

	cells, ok := r.Cells(d, 23)
	require.True(t, ok)
	assert.Equal(t, []Cell{
		{d, 22}, {d, 23},
		{next, 0}, {next, 1}, {next, 2}, {next, 3}, {next, 4}, {next, 5},
	}, cells)

	cells, ok = r.Cells(d, 2)
	require.True(t, ok)
	assert.Equal(t, []Cell{
		{prev, 22}, {prev, 23},
		{d, 0}, {d, 1}, {d, 2}, {d, 3}, {d, 4}, {d, 5},
	}, cells)

	cells, ok = r.Cells(d, 9)
	require.True(t, ok)
	assert.Len(t, cells, 8)
	for _, c := range cells {
		assert.Equal(t, d, c.Date)
	}
}

func TestCellsWithoutShiftFallsBackToOneHour(t *testing.T) {
	r := NewResolver([]types.Shift{shift("day", "08:00", "16:00")})
	d := types.MustParseDate("2025-06-01")

	cells, ok := r.Cells(d, 3)
	assert.False(t, ok)
	assert.Equal(t, []Cell{{d, 3}}, cells)
}

func TestPlace(t *testing.T) {
	d := types.MustParseDate("2025-12-31")
	jan1 := types.MustParseDate("2026-01-01")

	assert.Equal(t, []Cell{{d, 23}, {jan1, 0}, {jan1, 1}}, Place(d, 23, []int{23, 0, 1}))
	assert.Equal(t, []Cell{{d.AddDays(-1), 23}, {d, 0}, {d, 1}}, Place(d, 1, []int{23, 0, 1}))
	assert.Equal(t, []Cell{{d, 8}, {d, 9}}, Place(d, 8, []int{8, 9}))
	assert.Empty(t, Place(d, 8, nil))
}
