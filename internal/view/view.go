// Package view owns the timeline of one machine at a time. It loads the
// timeline, keeps it current from push events, applies the user's
// assignment and stoppage edits optimistically and falls back to a debounced
// full refresh when something cannot be merged in place.
//
// All state lives on one loop goroutine. Fetches and writes run outside the
// loop and post their results back to it; a fetch whose query generation is
// no longer current when it completes is discarded.
package view

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/chrissnell/prodtimeline/internal/assignment"
	"github.com/chrissnell/prodtimeline/internal/channel"
	"github.com/chrissnell/prodtimeline/internal/dataservice"
	"github.com/chrissnell/prodtimeline/internal/events"
	"github.com/chrissnell/prodtimeline/internal/log"
	"github.com/chrissnell/prodtimeline/internal/metrics"
	"github.com/chrissnell/prodtimeline/internal/reconcile"
	"github.com/chrissnell/prodtimeline/internal/refresh"
	"github.com/chrissnell/prodtimeline/internal/shifts"
	"github.com/chrissnell/prodtimeline/internal/stoppage"
	"github.com/chrissnell/prodtimeline/internal/timeline"
	"github.com/chrissnell/prodtimeline/internal/types"
)

var (
	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("view closed")
	// ErrNoMachine is returned by operations that need a selected machine.
	ErrNoMachine = errors.New("no machine selected")
	// ErrSuperseded is returned by a load whose selection was replaced
	// before it completed. Its result was discarded.
	ErrSuperseded = errors.New("query superseded")
	// ErrInvalidHour is returned for hours outside 0..23.
	ErrInvalidHour = errors.New("hour out of range")
)

// View is the per-machine timeline model.
type View struct {
	svc  dataservice.Service
	conn *channel.Conn

	logger       *zap.SugaredLogger
	metrics      metrics.Recorder
	hooks        Hooks
	refreshDelay time.Duration
	loc          *time.Location
	now          func() time.Time

	refs      singleflight.Group
	scheduler *refresh.Scheduler
	adapter   *reconcile.Adapter
	snapshot  atomic.Pointer[Snapshot]

	baseCtx    context.Context
	cancelBase context.CancelFunc
	cmds       chan func()
	quit       chan struct{}
	done       chan struct{}
	closeOnce  sync.Once

	// Everything below is owned by the loop goroutine.
	state      reconcile.State
	machine    types.Machine
	shiftList  []types.Shift
	resolver   shifts.Resolver
	sub        *channel.Subscription
	gen        uint64
	cancelLoad context.CancelFunc
	loading    bool
	metaLoaded bool
	readErr    error

	// replay collects events folded while a load is in flight; they are
	// folded again on top of the loaded timeline.
	replay []events.Event
	// While an assignment event waits for fresh reference data, later events
	// queue up behind it to keep their order.
	blocked  uint64
	blockSeq uint64
	backlog  []events.Event
}

// New creates a view. It shows nothing until Open or Select is called.
func New(svc dataservice.Service, conn *channel.Conn, opts ...Option) *View {
	v := &View{
		svc:     svc,
		conn:    conn,
		logger:  log.Named("view"),
		metrics: metrics.Nop{},
		loc:     time.UTC,
		now:     time.Now,
		cmds:    make(chan func(), 256),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(v)
	}

	v.baseCtx, v.cancelBase = context.WithCancel(context.Background())
	v.adapter = reconcile.NewAdapter(v.logger, v.metrics)
	v.scheduler = refresh.New(v.refreshDelay, func() {
		v.post(v.refreshAsync)
	})
	v.publish()

	go v.loop()
	v.metrics.ViewsOpen(1)
	return v
}

func (v *View) loop() {
	defer close(v.done)
	for {
		select {
		case fn := <-v.cmds:
			fn()
		case <-v.quit:
			return
		}
	}
}

// post queues fn on the loop. It reports false once the view is closed.
func (v *View) post(fn func()) bool {
	select {
	case <-v.quit:
		return false
	default:
	}
	select {
	case v.cmds <- fn:
		return true
	case <-v.quit:
		return false
	}
}

// do runs fn on the loop and waits for it.
func (v *View) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !v.post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-v.quit:
		return ErrClosed
	}
}

// Snapshot returns the latest published snapshot.
func (v *View) Snapshot() Snapshot {
	return *v.snapshot.Load()
}

// Open shows machineID over window. It is Select under a name that reads
// better for the first selection.
func (v *View) Open(ctx context.Context, machineID string, window types.DateRange) error {
	return v.Select(ctx, machineID, window)
}

// Select switches the view to machineID over window. The machine's room is
// joined before anything is fetched. Select waits for the load and returns
// ErrSuperseded when another selection or refresh replaced it first.
func (v *View) Select(ctx context.Context, machineID string, window types.DateRange) error {
	if machineID == "" {
		return ErrNoMachine
	}
	if err := window.Validate(); err != nil {
		return err
	}

	var (
		gen     uint64
		loadCtx context.Context
		selErr  error
		scope   fetchScope
	)
	err := v.do(ctx, func() {
		switching := machineID != v.state.MachineID
		if switching {
			if selErr = v.switchMachine(ctx, machineID); selErr != nil {
				return
			}
		}
		scope = fetchShifts
		if !v.metaLoaded {
			scope = fetchAll
		}
		v.state.Window = window.Roll(v.today())
		gen, loadCtx = v.beginQuery()
		v.publish()
	})
	if err != nil {
		return err
	}
	if selErr != nil {
		return selErr
	}

	v.logger.Infow("loading timeline", "machine", machineID, "start", window.Start, "end", window.End, "live", window.Live, "generation", gen)
	return v.load(ctx, loadCtx, gen, machineID, scope)
}

// switchMachine moves the subscription to machineID and resets the model.
func (v *View) switchMachine(ctx context.Context, machineID string) error {
	sub, err := v.conn.Subscribe(ctx, machineID, func(e events.Event) {
		v.post(func() { v.onEvent(e) })
	})
	if err != nil {
		return fmt.Errorf("subscribing to machine %s: %w", machineID, err)
	}

	if v.sub != nil {
		if err := v.sub.Unsubscribe(ctx); err != nil {
			v.logger.Warnw("leaving previous machine failed", "machine", v.sub.MachineID(), "error", err)
		}
	}
	v.sub = sub

	v.state = reconcile.State{MachineID: machineID, Timeline: timeline.New(nil)}
	v.machine = types.Machine{ID: machineID}
	v.shiftList = nil
	v.resolver = shifts.NewResolver(nil)
	v.readErr = nil
	v.metaLoaded = false
	v.blocked = 0
	v.backlog = nil
	return nil
}

// beginQuery starts a new query generation, invalidating every fetch in
// flight and any pending debounced refresh.
func (v *View) beginQuery() (uint64, context.Context) {
	v.scheduler.Cancel()
	if v.cancelLoad != nil {
		v.cancelLoad()
	}
	v.gen++
	v.loading = true
	v.replay = nil

	ctx, cancel := context.WithCancel(v.baseCtx)
	v.cancelLoad = cancel
	return v.gen, ctx
}

// fetchScope says what a load fetches besides the timeline.
type fetchScope int

const (
	fetchTimeline fetchScope = iota
	// Shift definitions can change on the server at any time; explicit
	// loads pick them up so shift-wide edits resolve the current shift.
	fetchShifts
	fetchAll
)

type loadResult struct {
	machine *types.Machine
	shifts  []types.Shift
	refs    *assignment.Refs
	days    []types.TimelineDay
}

// load fetches outside the loop and applies the result on it.
func (v *View) load(ctx, loadCtx context.Context, gen uint64, machineID string, scope fetchScope) error {
	var window types.DateRange
	if err := v.do(ctx, func() { window = v.state.Window }); err != nil {
		return err
	}

	start := time.Now()
	res, err := v.fetch(loadCtx, machineID, window, scope)
	v.metrics.RefreshCompleted(time.Since(start), err)

	stale := false
	postErr := v.do(ctx, func() {
		if gen != v.gen {
			stale = true
			v.metrics.StaleResponseDiscarded()
			v.logger.Debugw("discarding stale response", "machine", machineID, "generation", gen, "current", v.gen)
			return
		}
		v.loading = false
		if err != nil {
			v.readFailed(err)
			return
		}
		v.applyLoad(res)
	})
	switch {
	case postErr != nil:
		return postErr
	case stale:
		return ErrSuperseded
	case err != nil:
		return fmt.Errorf("loading machine %s: %w", machineID, err)
	}
	return nil
}

func (v *View) fetch(ctx context.Context, machineID string, window types.DateRange, scope fetchScope) (loadResult, error) {
	var res loadResult
	g, gctx := errgroup.WithContext(ctx)

	if scope >= fetchShifts {
		g.Go(func() error {
			s, err := v.svc.FetchShifts(gctx)
			if err != nil {
				return fmt.Errorf("fetching shifts: %w", err)
			}
			res.shifts = s
			return nil
		})
	}
	if scope == fetchAll {
		g.Go(func() error {
			m, err := v.svc.FetchMachine(gctx, machineID)
			if err != nil {
				return fmt.Errorf("fetching machine: %w", err)
			}
			res.machine = &m
			return nil
		})
		g.Go(func() error {
			r, err := v.fetchRefs(gctx)
			if err != nil {
				return err
			}
			res.refs = &r
			return nil
		})
	}
	g.Go(func() error {
		days, err := v.svc.FetchTimeline(gctx, machineID, window)
		if err != nil {
			return fmt.Errorf("fetching timeline: %w", err)
		}
		res.days = days
		return nil
	})

	return res, g.Wait()
}

// fetchRefs loads operators and molds. Concurrent callers share one fetch.
func (v *View) fetchRefs(ctx context.Context) (assignment.Refs, error) {
	r, err, _ := v.refs.Do("refs", func() (interface{}, error) {
		var refs assignment.Refs
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			ops, err := v.svc.FetchOperators(gctx)
			if err != nil {
				return fmt.Errorf("fetching operators: %w", err)
			}
			refs.Operators = ops
			return nil
		})
		g.Go(func() error {
			molds, err := v.svc.FetchMolds(gctx)
			if err != nil {
				return fmt.Errorf("fetching molds: %w", err)
			}
			refs.Molds = molds
			return nil
		})
		if err := g.Wait(); err != nil {
			return assignment.Refs{}, err
		}
		return refs, nil
	})
	if err != nil {
		return assignment.Refs{}, err
	}
	return r.(assignment.Refs), nil
}

func (v *View) applyLoad(res loadResult) {
	if res.machine != nil {
		v.machine = *res.machine
		if v.state.Machine.UpdatedAt.IsZero() {
			v.state.Machine = types.MachineState{Status: res.machine.Status, Color: res.machine.Color}
		}
	}
	if res.shifts != nil {
		v.shiftList = res.shifts
		v.resolver = shifts.NewResolver(res.shifts)
		for _, o := range v.resolver.Overlaps() {
			v.logger.Warnw("shifts overlap, the first one wins", "first", o.First, "second", o.Second, "hour", o.Hour)
		}
	}
	if res.refs != nil {
		v.state.Refs = *res.refs
	}
	if res.machine != nil && res.shifts != nil {
		v.metaLoaded = true
	}

	v.state.Timeline = v.state.Timeline.Replace(res.days)
	replay := v.replay
	v.replay = nil
	for _, e := range replay {
		v.state, _ = reconcile.Reduce(v.state, e)
	}
	v.readErr = nil

	v.logger.Debugw("timeline loaded", "machine", v.state.MachineID, "days", v.state.Timeline.Len(), "replayed", len(replay))
	v.publish()
}

func (v *View) readFailed(err error) {
	v.readErr = err
	v.logger.Errorw("timeline read failed, keeping previous model", "machine", v.state.MachineID, "error", err)
	if v.hooks.OnError != nil {
		v.hooks.OnError(err)
	}
	v.publish()
}

// Refresh re-fetches the shift definitions and the current window and
// replaces the timeline. A live window is moved to today first.
func (v *View) Refresh(ctx context.Context) error {
	var (
		gen       uint64
		loadCtx   context.Context
		machineID string
	)
	err := v.do(ctx, func() {
		machineID = v.state.MachineID
		if machineID == "" {
			return
		}
		v.state.Window = v.state.Window.Roll(v.today())
		gen, loadCtx = v.beginQuery()
		v.publish()
	})
	if err != nil {
		return err
	}
	if machineID == "" {
		return ErrNoMachine
	}
	return v.load(ctx, loadCtx, gen, machineID, fetchShifts)
}

// refreshAsync runs a debounced refresh on the loop.
func (v *View) refreshAsync() {
	machineID := v.state.MachineID
	if machineID == "" {
		return
	}
	v.state.Window = v.state.Window.Roll(v.today())
	gen, loadCtx := v.beginQuery()
	v.publish()

	go func() {
		err := v.load(v.baseCtx, loadCtx, gen, machineID, fetchTimeline)
		if err != nil && !errors.Is(err, ErrSuperseded) && !errors.Is(err, ErrClosed) {
			v.logger.Debugw("debounced refresh failed", "machine", machineID, "error", err)
		}
	}()
}

func (v *View) scheduleRefresh() {
	v.scheduler.Schedule()
	v.metrics.RefreshScheduled()
	v.publish()
}

// onEvent folds one push event. Assignment events first refetch the
// reference lists so display names are current.
func (v *View) onEvent(e events.Event) {
	if e.Machine() != v.state.MachineID {
		return
	}
	if v.blocked != 0 {
		v.backlog = append(v.backlog, e)
		return
	}

	if au, ok := e.(events.AssignmentUpdated); ok {
		v.blockSeq++
		token := v.blockSeq
		v.blocked = token
		go func() {
			refs, err := v.fetchRefs(v.baseCtx)
			v.post(func() { v.refsArrived(token, au, refs, err) })
		}()
		return
	}

	v.fold(e)
}

func (v *View) refsArrived(token uint64, e events.AssignmentUpdated, refs assignment.Refs, err error) {
	if token != v.blocked {
		return
	}
	if err != nil {
		v.logger.Warnw("reference refresh failed, using cached lists", "error", err)
	} else {
		v.state.Refs = refs
	}
	v.fold(e)

	v.blocked = 0
	backlog := v.backlog
	v.backlog = nil
	for i, queued := range backlog {
		v.onEvent(queued)
		if v.blocked != 0 {
			v.backlog = append(v.backlog, backlog[i+1:]...)
			return
		}
	}
}

func (v *View) fold(e events.Event) {
	next, outcome := v.adapter.Fold(v.state, e)
	v.state = next
	if v.loading {
		v.replay = append(v.replay, e)
	}

	switch outcome {
	case reconcile.Applied:
		v.publish()
	case reconcile.Refresh:
		v.scheduleRefresh()
	}
}

// EditAssignment applies edit to (date, hour) at once, then writes it. On
// success the change is broadcast to the machine's other observers. On
// failure the optimistic change stays visible, a corrective refresh is
// scheduled and the error is returned.
func (v *View) EditAssignment(ctx context.Context, date types.Date, hour int, edit types.AssignmentEdit) (assignment.Result, error) {
	if hour < 0 || hour > 23 {
		return assignment.Result{}, fmt.Errorf("%d: %w", hour, ErrInvalidHour)
	}

	var (
		res       assignment.Result
		machineID string
	)
	err := v.do(ctx, func() {
		machineID = v.state.MachineID
		if machineID == "" {
			return
		}
		res = assignment.Apply(v.state.Timeline, v.resolver, v.state.Refs, date, hour, edit)
		v.state.Timeline = res.Timeline
		if fb := res.Fallback(); fb != nil {
			v.logger.Infow("shift-wide edit narrowed to one hour", "machine", machineID, "hour", hour, "reason", fb)
		}
		v.publish()
	})
	if err != nil {
		return assignment.Result{}, err
	}
	if machineID == "" {
		return assignment.Result{}, ErrNoMachine
	}

	werr := v.svc.SubmitAssignment(ctx, types.AssignmentSubmission{
		MachineID: machineID,
		Date:      date,
		Hour:      hour,
		Edit:      edit,
	})
	v.metrics.WriteCompleted("assignment", werr)
	if werr != nil {
		v.post(v.scheduleRefresh)
		return res, fmt.Errorf("submitting assignment: %w", werr)
	}

	broadcast := events.AssignmentUpdated{
		Cell:           events.Cell{MachineID: machineID, Date: date, Hour: hour},
		Hours:          res.Hours(),
		Operator:       edit.Operator,
		Mold:           edit.Mold,
		DefectiveUnits: edit.DefectiveUnits,
	}
	if err := v.conn.Publish(ctx, broadcast); err != nil {
		v.logger.Warnw("assignment broadcast failed", "machine", machineID, "error", err)
	}
	return res, nil
}

// SubmitStoppage validates s, applies it to the hour at once and writes it.
// Invalid submissions are rejected before anything changes. The record the
// service stored is returned.
func (v *View) SubmitStoppage(ctx context.Context, s types.StoppageSubmission) (types.StoppageRecord, error) {
	if err := stoppage.Validate(s); err != nil {
		return types.StoppageRecord{}, err
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}

	var applyErr error
	err := v.do(ctx, func() {
		if v.state.MachineID == "" {
			applyErr = ErrNoMachine
			return
		}
		s.MachineID = v.state.MachineID

		next := v.state.Timeline.PatchHour(s.Date, s.Hour, func(h types.HourRecord) types.HourRecord {
			out, _, err := stoppage.Apply(h, s, s.ID, v.now(), v.loc)
			if err != nil {
				applyErr = err
				return h
			}
			return out
		})
		if applyErr != nil {
			return
		}
		v.state.Timeline = next
		v.publish()
	})
	if err != nil {
		return types.StoppageRecord{}, err
	}
	if applyErr != nil {
		return types.StoppageRecord{}, applyErr
	}

	rec, werr := v.svc.SubmitStoppage(ctx, s)
	v.metrics.WriteCompleted("stoppage", werr)
	if werr != nil {
		v.post(v.scheduleRefresh)
		return types.StoppageRecord{}, fmt.Errorf("submitting stoppage: %w", werr)
	}
	return rec, nil
}

// Close leaves the machine's room, stops the refresh timer and the loop.
func (v *View) Close(ctx context.Context) error {
	var err error
	v.closeOnce.Do(func() {
		var sub *channel.Subscription
		if derr := v.do(ctx, func() {
			sub = v.sub
			v.sub = nil
			v.gen++
			if v.cancelLoad != nil {
				v.cancelLoad()
			}
		}); derr != nil {
			err = derr
		}
		v.scheduler.Stop()
		if sub != nil {
			if uerr := sub.Unsubscribe(ctx); uerr != nil && err == nil {
				err = uerr
			}
		}

		close(v.quit)
		<-v.done
		v.cancelBase()
		v.metrics.ViewsOpen(-1)
	})
	return err
}

// publish stores a new snapshot and notifies OnChange.
func (v *View) publish() {
	snap := &Snapshot{
		Generation:     v.gen,
		MachineID:      v.state.MachineID,
		Machine:        v.machine,
		State:          v.state.Machine,
		Window:         v.state.Window,
		Timeline:       v.state.Timeline,
		Shifts:         v.shiftList,
		Refs:           v.state.Refs,
		Loading:        v.loading,
		RefreshPending: v.scheduler.Pending(),
		Err:            v.readErr,
	}
	v.snapshot.Store(snap)
	if v.hooks.OnChange != nil {
		v.hooks.OnChange(*snap)
	}
}

func (v *View) today() types.Date {
	return types.DateOf(v.now().In(v.loc))
}
