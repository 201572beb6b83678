// Package simulator feeds the reference server with synthetic machine
// signals. Each tick every machine either keeps its power state or flips it;
// running machines produce units and stopped machines accumulate an
// unclassified stoppage that is closed when power returns.
package simulator

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/chrissnell/prodtimeline/internal/events"
	"github.com/chrissnell/prodtimeline/internal/log"
	"github.com/chrissnell/prodtimeline/internal/types"
)

const (
	// DefaultToggleProbability is the per-tick chance a machine changes its
	// power state.
	DefaultToggleProbability = 0.05
	maxUnitsPerTick          = 5
)

// Ingester is the part of the store the simulator drives.
type Ingester interface {
	UpsertMachine(ctx context.Context, m types.Machine) error
	Ingest(ctx context.Context, e events.Event) (events.Event, error)
}

type machineState struct {
	id      string
	running bool

	cell       events.Cell
	units      int
	runSeconds float64

	stoppageID   string
	stoppageCell events.Cell
	stoppedAt    time.Time
}

// Simulator generates production and stoppage events for a set of machines.
type Simulator struct {
	ing      Ingester
	interval time.Duration
	toggle   float64
	loc      *time.Location
	now      func() time.Time
	rng      *rand.Rand
	logger   *zap.SugaredLogger

	machines []*machineState
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithLogger sets the simulator logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Simulator) {
		s.logger = l
	}
}

// WithLocation sets the facility time zone used to bucket events.
func WithLocation(loc *time.Location) Option {
	return func(s *Simulator) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Simulator) {
		s.now = now
	}
}

// WithRand sets the random source.
func WithRand(r *rand.Rand) Option {
	return func(s *Simulator) {
		s.rng = r
	}
}

// WithToggleProbability sets the per-tick chance of a power change.
func WithToggleProbability(p float64) Option {
	return func(s *Simulator) {
		s.toggle = p
	}
}

// New returns a simulator for machineIDs ticking every interval. Machines
// start out running.
func New(ing Ingester, machineIDs []string, interval time.Duration, opts ...Option) *Simulator {
	s := &Simulator{
		ing:      ing,
		interval: interval,
		toggle:   DefaultToggleProbability,
		loc:      time.UTC,
		now:      time.Now,
		rng:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
		logger:   log.Named("simulator"),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, id := range machineIDs {
		s.machines = append(s.machines, &machineState{id: id, running: true})
	}
	return s
}

// Run registers the machines and steps until ctx is done.
func (s *Simulator) Run(ctx context.Context) error {
	for _, m := range s.machines {
		if err := s.ing.UpsertMachine(ctx, types.Machine{ID: m.id, Name: m.id, Status: "running", Color: "green"}); err != nil {
			return err
		}
	}
	s.logger.Infow("simulator started", "machines", len(s.machines), "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("simulator stopped")
			return nil
		case <-ticker.C:
			s.Step(ctx)
		}
	}
}

// Step advances every machine by one tick. Ingest failures are logged and
// the machine keeps its local state.
func (s *Simulator) Step(ctx context.Context) {
	now := s.now().In(s.loc)
	for _, m := range s.machines {
		s.step(ctx, m, now)
	}
}

func (s *Simulator) step(ctx context.Context, m *machineState, now time.Time) {
	cell := events.Cell{MachineID: m.id, Date: types.DateOf(now), Hour: now.Hour()}
	if cell != m.cell {
		m.cell = cell
		m.units = 0
		m.runSeconds = 0
	}

	if s.rng.Float64() < s.toggle {
		if m.running {
			s.stop(ctx, m, now)
		} else {
			s.start(ctx, m, now)
		}
	}

	if !m.running {
		return
	}
	m.units += 1 + s.rng.IntN(maxUnitsPerTick)
	m.runSeconds += s.interval.Seconds()
	running := min(60, int(m.runSeconds/60))
	s.send(ctx, events.ProductionUpdate{
		Cell:           cell,
		UnitsProduced:  m.units,
		Status:         types.StatusRunning,
		RunningMinutes: &running,
		At:             now,
	})
}

func (s *Simulator) stop(ctx context.Context, m *machineState, now time.Time) {
	m.running = false
	s.send(ctx, events.MachineStateUpdate{MachineID: m.id, Status: "stopped", Color: "red", At: now})

	stored := s.send(ctx, events.UnclassifiedStoppageDetected{
		Cell:     m.cell,
		Stoppage: types.StoppageRecord{StartTime: now},
		At:       now,
	})
	if d, ok := stored.(events.UnclassifiedStoppageDetected); ok {
		m.stoppageID = d.Stoppage.ID
		m.stoppageCell = d.Cell
		m.stoppedAt = now
	}
}

func (s *Simulator) start(ctx context.Context, m *machineState, now time.Time) {
	m.running = true
	s.send(ctx, events.MachineStateUpdate{MachineID: m.id, Status: "running", Color: "green", At: now})

	if m.stoppageID == "" {
		return
	}
	end := now
	s.send(ctx, events.StoppageUpdated{
		Cell:       m.stoppageCell,
		StoppageID: m.stoppageID,
		Duration:   int(now.Sub(m.stoppedAt).Round(time.Minute) / time.Minute),
		StartTime:  m.stoppedAt,
		EndTime:    &end,
		Cascade:    m.stoppageCell != m.cell,
		UpdatedAt:  now,
	})
	m.stoppageID = ""
}

func (s *Simulator) send(ctx context.Context, e events.Event) events.Event {
	stored, err := s.ing.Ingest(ctx, e)
	if err != nil {
		s.logger.Warnw("ingest failed", "event", e.EventName(), "machine", e.Machine(), "error", err)
		return nil
	}
	return stored
}
