package simulator

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chrissnell/prodtimeline/internal/database"
	"github.com/chrissnell/prodtimeline/internal/events"
	"github.com/chrissnell/prodtimeline/internal/store"
	"github.com/chrissnell/prodtimeline/internal/types"
)

type fakeIngester struct {
	mu       sync.Mutex
	machines []types.Machine
	events   []events.Event
}

func (f *fakeIngester) UpsertMachine(_ context.Context, m types.Machine) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.machines = append(f.machines, m)
	return nil
}

func (f *fakeIngester) Ingest(_ context.Context, e events.Event) (events.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := e.(events.UnclassifiedStoppageDetected); ok {
		d.Stoppage.ID = "s1"
		e = d
	}
	f.events = append(f.events, e)
	return e, nil
}

func (f *fakeIngester) names() []events.Name {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []events.Name
	for _, e := range f.events {
		out = append(out, e.EventName())
	}
	return out
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestStepWithoutToggleProducesUnits(t *testing.T) {
	ing := &fakeIngester{}
	c := &clock{t: time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)}
	sim := New(ing, []string{"m1"}, 30*time.Second,
		WithLogger(zap.NewNop().Sugar()),
		WithClock(c.now),
		WithRand(rand.New(rand.NewPCG(1, 2))),
		WithToggleProbability(0),
	)

	for i := 0; i < 4; i++ {
		sim.Step(context.Background())
		c.t = c.t.Add(30 * time.Second)
	}

	require.Len(t, ing.events, 4)
	prev := 0
	for _, e := range ing.events {
		pu, ok := e.(events.ProductionUpdate)
		require.True(t, ok)
		assert.Equal(t, 10, pu.Hour)
		assert.Greater(t, pu.UnitsProduced, prev)
		prev = pu.UnitsProduced
	}
	last := ing.events[3].(events.ProductionUpdate)
	assert.Equal(t, 2, *last.RunningMinutes)
}

func TestToggleOpensAndClosesStoppage(t *testing.T) {
	ing := &fakeIngester{}
	c := &clock{t: time.Date(2025, 4, 1, 10, 50, 0, 0, time.UTC)}
	sim := New(ing, []string{"m1"}, time.Minute,
		WithLogger(zap.NewNop().Sugar()),
		WithClock(c.now),
		WithToggleProbability(1),
	)

	sim.Step(context.Background())
	c.t = c.t.Add(15 * time.Minute)
	sim.Step(context.Background())

	assert.Equal(t, []events.Name{
		events.NameMachineStateUpdate,
		events.NameUnclassifiedStoppageDetected,
		events.NameMachineStateUpdate,
		events.NameStoppageUpdated,
		events.NameProductionUpdate,
	}, ing.names())

	upd := ing.events[3].(events.StoppageUpdated)
	assert.Equal(t, "s1", upd.StoppageID)
	assert.Equal(t, 10, upd.Hour)
	assert.Equal(t, 15, upd.Duration)
	assert.True(t, upd.Cascade)

	pu := ing.events[4].(events.ProductionUpdate)
	assert.Equal(t, 11, pu.Hour)
}

func TestRunAgainstStore(t *testing.T) {
	db, err := database.CreateConnection(database.DriverSQLite, ":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	st := store.New(db, nil, store.WithLogger(zap.NewNop().Sugar()))

	ctx, cancel := context.WithCancel(context.Background())
	sim := New(st, []string{"press-1"}, 10*time.Millisecond,
		WithLogger(zap.NewNop().Sugar()),
		WithToggleProbability(0),
	)
	done := make(chan error, 1)
	go func() { done <- sim.Run(ctx) }()

	require.Eventually(t, func() bool {
		today := types.DateOf(time.Now().UTC())
		days, err := st.FetchTimeline(ctx, "press-1", types.DateRange{Start: today.AddDays(-1), End: today})
		if err != nil {
			return false
		}
		for _, d := range days {
			for _, h := range d.Hours {
				if h.UnitsProduced > 0 {
					return true
				}
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
