package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chrissnell/prodtimeline/internal/database"
	"github.com/chrissnell/prodtimeline/internal/dataservice"
	"github.com/chrissnell/prodtimeline/internal/events"
	"github.com/chrissnell/prodtimeline/internal/stoppage"
	"github.com/chrissnell/prodtimeline/internal/types"
)

var (
	day = types.MustParseDate("2025-04-01")
	t0  = time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, env events.Envelope) error {
	e, err := events.Decode(env)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) published() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.events...)
}

func newStore(t *testing.T, opts ...Option) (*Store, *recordingPublisher) {
	t.Helper()
	db, err := database.CreateConnection(database.DriverSQLite, ":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	pub := &recordingPublisher{}
	s := New(db, pub, append([]Option{
		WithLogger(zap.NewNop().Sugar()),
		WithClock(func() time.Time { return t0 }),
		WithShifts([]types.Shift{
			{Name: "day", StartTime: types.MustParseTimeOfDay("06:00"), EndTime: types.MustParseTimeOfDay("14:00"), IsActive: true},
			{Name: "night", StartTime: types.MustParseTimeOfDay("22:00"), EndTime: types.MustParseTimeOfDay("06:00"), IsActive: true},
		}),
	}, opts...)...)

	ctx := context.Background()
	require.NoError(t, s.UpsertMachine(ctx, types.Machine{ID: "m1", Name: "Press 1"}))
	require.NoError(t, s.UpsertOperator(ctx, types.User{ID: "u1", Name: "Ayşe"}))
	require.NoError(t, s.UpsertMold(ctx, types.Mold{ID: "k1", Name: "Cap 28mm"}))
	return s, pub
}

func fetchHour(t *testing.T, s *Store, d types.Date, h int) types.HourRecord {
	t.Helper()
	days, err := s.FetchTimeline(context.Background(), "m1", types.DateRange{Start: d, End: d})
	require.NoError(t, err)
	require.Len(t, days, 1)
	for _, rec := range days[0].Hours {
		if rec.Hour == h {
			return rec
		}
	}
	t.Fatalf("hour %d on %s not stored", h, d)
	return types.HourRecord{}
}

func TestFetchUnknownMachine(t *testing.T) {
	s, _ := newStore(t)

	_, err := s.FetchMachine(context.Background(), "nope")
	assert.ErrorIs(t, err, dataservice.ErrNotFound)
	_, err = s.FetchTimeline(context.Background(), "nope", types.DateRange{Start: day, End: day})
	assert.ErrorIs(t, err, dataservice.ErrNotFound)
}

func TestFetchTimelineCoversEveryDay(t *testing.T) {
	s, _ := newStore(t)

	days, err := s.FetchTimeline(context.Background(), "m1", types.DateRange{Start: day, End: day.AddDays(2)})
	require.NoError(t, err)
	require.Len(t, days, 3)
	assert.Equal(t, day.AddDays(2), days[2].Date)
	assert.Empty(t, days[0].Hours)
}

func TestIngestProductionUpdate(t *testing.T) {
	s, pub := newStore(t)
	running := 45

	_, err := s.Ingest(context.Background(), events.ProductionUpdate{
		Cell:           events.Cell{MachineID: "m1", Date: day, Hour: 10},
		UnitsProduced:  120,
		Status:         types.StatusRunning,
		RunningMinutes: &running,
	})
	require.NoError(t, err)

	h := fetchHour(t, s, day, 10)
	assert.Equal(t, 120, h.UnitsProduced)
	assert.Equal(t, 45, h.RunningMinutes)
	assert.Equal(t, types.StatusRunning, h.Status)

	require.Len(t, pub.published(), 1)
	assert.Equal(t, t0, pub.published()[0].(events.ProductionUpdate).At)
}

func TestIngestDetectedStoppageOnce(t *testing.T) {
	s, pub := newStore(t)
	e := events.UnclassifiedStoppageDetected{
		Cell:     events.Cell{MachineID: "m1", Date: day, Hour: 10},
		Stoppage: types.StoppageRecord{ID: "p1", StartTime: t0, Duration: 7},
	}

	_, err := s.Ingest(context.Background(), e)
	require.NoError(t, err)
	_, err = s.Ingest(context.Background(), e)
	require.NoError(t, err)

	h := fetchHour(t, s, day, 10)
	require.Len(t, h.Stoppages, 1)
	assert.True(t, h.Stoppages[0].Pending())
	assert.Len(t, pub.published(), 1)
}

func TestSubmitStoppageClassifiesPending(t *testing.T) {
	s, pub := newStore(t)
	ctx := context.Background()
	end := t0.Add(15 * time.Minute)
	_, err := s.Ingest(ctx, events.UnclassifiedStoppageDetected{
		Cell:     events.Cell{MachineID: "m1", Date: day, Hour: 10},
		Stoppage: types.StoppageRecord{ID: "p1", StartTime: t0, EndTime: &end, Duration: 15},
	})
	require.NoError(t, err)

	rec, err := s.SubmitStoppage(ctx, types.StoppageSubmission{
		ID:                "c1",
		MachineID:         "m1",
		Date:              day,
		Hour:              10,
		Reason:            types.ReasonMaintenance,
		PendingStoppageID: "p1",
	})
	require.NoError(t, err)
	assert.Equal(t, "c1", rec.ID)
	assert.Equal(t, 15, rec.Duration)
	assert.Equal(t, "p1", rec.PendingID)

	h := fetchHour(t, s, day, 10)
	require.Len(t, h.Stoppages, 1)
	assert.Equal(t, types.ReasonMaintenance, h.Stoppages[0].Reason)
	assert.Equal(t, 15, h.StoppageMinutes)

	evs := pub.published()
	require.Len(t, evs, 2)
	added, ok := evs[1].(events.StoppageAdded)
	require.True(t, ok)
	assert.Equal(t, "c1", added.Stoppage.ID)
}

func TestSubmitStoppageStartsAtFacilityHour(t *testing.T) {
	plant := time.FixedZone("plant", -5*60*60)
	s, _ := newStore(t, WithLocation(plant))

	rec, err := s.SubmitStoppage(context.Background(), types.StoppageSubmission{
		MachineID: "m1",
		Date:      day,
		Hour:      10,
		Reason:    types.ReasonPlanned,
		Duration:  20,
	})
	require.NoError(t, err)

	want := time.Date(2025, 4, 1, 10, 0, 0, 0, plant)
	assert.True(t, rec.StartTime.Equal(want), "start %s", rec.StartTime)
	h := fetchHour(t, s, day, 10)
	require.Len(t, h.Stoppages, 1)
	assert.True(t, h.Stoppages[0].StartTime.Equal(want), "stored start %s", h.Stoppages[0].StartTime)
	require.NotNil(t, h.Stoppages[0].EndTime)
	assert.True(t, h.Stoppages[0].EndTime.Equal(want.Add(20*time.Minute)))
}

func TestSubmitStoppageRejects(t *testing.T) {
	s, pub := newStore(t)
	ctx := context.Background()

	_, err := s.SubmitStoppage(ctx, types.StoppageSubmission{
		MachineID:             "m1",
		Date:                  day,
		Hour:                  10,
		Reason:                types.ReasonBreakdown,
		Duration:              10,
		SAPNotificationNumber: "12a",
	})
	assert.ErrorIs(t, err, stoppage.ErrInvalidSubmission)

	_, err = s.SubmitStoppage(ctx, types.StoppageSubmission{
		MachineID:         "m1",
		Date:              day,
		Hour:              10,
		Reason:            types.ReasonPlanned,
		PendingStoppageID: "missing",
	})
	assert.ErrorIs(t, err, dataservice.ErrRejected)
	assert.Empty(t, pub.published())
}

func TestSubmitAssignmentAcrossMidnight(t *testing.T) {
	s, pub := newStore(t)
	defects := 3

	err := s.SubmitAssignment(context.Background(), types.AssignmentSubmission{
		MachineID: "m1",
		Date:      day,
		Hour:      23,
		Edit: types.AssignmentEdit{
			Operator:       types.SetRef("u1"),
			Mold:           types.SetRef("k1"),
			DefectiveUnits: &defects,
			ApplyToShift:   true,
		},
	})
	require.NoError(t, err)

	late := fetchHour(t, s, day, 23)
	require.NotNil(t, late.Operator)
	assert.Equal(t, "Ayşe", late.Operator.Name)
	assert.Equal(t, 3, late.DefectiveUnits)

	early := fetchHour(t, s, day.AddDays(1), 5)
	require.NotNil(t, early.Mold)
	assert.Equal(t, "Cap 28mm", early.Mold.Name)
	assert.Zero(t, early.DefectiveUnits)

	first := fetchHour(t, s, day, 22)
	assert.NotNil(t, first.Operator)
	assert.Empty(t, pub.published())
}

func TestSubmitAssignmentClearsAndRejects(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	sub := types.AssignmentSubmission{MachineID: "m1", Date: day, Hour: 9, Edit: types.AssignmentEdit{Operator: types.SetRef("u1")}}
	require.NoError(t, s.SubmitAssignment(ctx, sub))

	sub.Edit = types.AssignmentEdit{Operator: types.ClearRef()}
	require.NoError(t, s.SubmitAssignment(ctx, sub))
	assert.Nil(t, fetchHour(t, s, day, 9).Operator)

	sub.Edit = types.AssignmentEdit{Operator: types.SetRef("ghost")}
	assert.ErrorIs(t, s.SubmitAssignment(ctx, sub), dataservice.ErrRejected)
}

func TestMachineStateLastWriterWins(t *testing.T) {
	s, pub := newStore(t)
	ctx := context.Background()

	_, err := s.Ingest(ctx, events.MachineStateUpdate{MachineID: "m1", Status: "down", Color: "red", At: t0.Add(time.Minute)})
	require.NoError(t, err)
	_, err = s.Ingest(ctx, events.MachineStateUpdate{MachineID: "m1", Status: "running", Color: "green", At: t0})
	require.NoError(t, err)

	m, err := s.FetchMachine(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "down", m.Status)
	assert.Len(t, pub.published(), 1)
}
