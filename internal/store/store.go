// Package store is the reference server's persistence layer. It implements
// the data service boundary on top of gorm and ingests machine-side events,
// publishing every change it makes to the machine's push room.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/chrissnell/prodtimeline/internal/database"
	"github.com/chrissnell/prodtimeline/internal/dataservice"
	"github.com/chrissnell/prodtimeline/internal/events"
	"github.com/chrissnell/prodtimeline/internal/log"
	"github.com/chrissnell/prodtimeline/internal/metrics"
	"github.com/chrissnell/prodtimeline/internal/types"
)

// Publisher hands an encoded event to every observer of its machine.
// channel.Hub satisfies it.
type Publisher interface {
	Publish(ctx context.Context, env events.Envelope) error
}

// Store implements dataservice.Service over a gorm database.
type Store struct {
	db      *gorm.DB
	pub     Publisher
	logger  *zap.SugaredLogger
	metrics metrics.Recorder
	now     func() time.Time
	loc     *time.Location

	mu     sync.RWMutex
	shifts []types.Shift

	// writeMu serialises read-modify-write cycles on hour buckets.
	writeMu sync.Mutex
}

var _ dataservice.Service = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithMetrics sets the recorder that counts published events.
func WithMetrics(r metrics.Recorder) Option {
	return func(s *Store) {
		s.metrics = r
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLocation sets the facility time zone that hour buckets are counted in.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithShifts sets the initial shift configuration.
func WithShifts(shifts []types.Shift) Option {
	return func(s *Store) {
		s.shifts = shifts
	}
}

// New returns a store over db. pub may be nil, in which case changes are not
// broadcast.
func New(db *gorm.DB, pub Publisher, opts ...Option) *Store {
	s := &Store{
		db:      db,
		pub:     pub,
		logger:  log.Named("store"),
		metrics: metrics.Nop{},
		now:     time.Now,
		loc:     time.UTC,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetShifts replaces the shift configuration, e.g. after a config reload.
func (s *Store) SetShifts(shifts []types.Shift) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shifts = append([]types.Shift(nil), shifts...)
}

func (s *Store) currentShifts() []types.Shift {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.Shift(nil), s.shifts...)
}

// UpsertMachine creates or renames a machine.
func (s *Store) UpsertMachine(ctx context.Context, m types.Machine) error {
	row := database.Machine{ID: m.ID, Name: m.Name, Status: m.Status, Color: m.Color}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name"}),
	}).Create(&row).Error
}

// UpsertOperator creates or renames an operator.
func (s *Store) UpsertOperator(ctx context.Context, u types.User) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&database.Operator{ID: u.ID, Name: u.Name}).Error
}

// UpsertMold creates or renames a mold.
func (s *Store) UpsertMold(ctx context.Context, m types.Mold) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&database.Mold{ID: m.ID, Name: m.Name}).Error
}

// Machines lists every machine.
func (s *Store) Machines(ctx context.Context) ([]types.Machine, error) {
	var rows []database.Machine
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing machines: %w", err)
	}
	out := make([]types.Machine, len(rows))
	for i, r := range rows {
		out[i] = machineFromRow(r)
	}
	return out, nil
}

// FetchMachine returns one machine or an error wrapping
// dataservice.ErrNotFound.
func (s *Store) FetchMachine(ctx context.Context, machineID string) (types.Machine, error) {
	var row database.Machine
	err := s.db.WithContext(ctx).Where("id = ?", machineID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.Machine{}, fmt.Errorf("machine %s: %w", machineID, dataservice.ErrNotFound)
	}
	if err != nil {
		return types.Machine{}, fmt.Errorf("fetching machine %s: %w", machineID, err)
	}
	return machineFromRow(row), nil
}

// FetchOperators lists operators by name.
func (s *Store) FetchOperators(ctx context.Context) ([]types.User, error) {
	var rows []database.Operator
	if err := s.db.WithContext(ctx).Order("name").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing operators: %w", err)
	}
	out := make([]types.User, len(rows))
	for i, r := range rows {
		out[i] = types.User{ID: r.ID, Name: r.Name}
	}
	return out, nil
}

// FetchMolds lists molds by name.
func (s *Store) FetchMolds(ctx context.Context) ([]types.Mold, error) {
	var rows []database.Mold
	if err := s.db.WithContext(ctx).Order("name").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing molds: %w", err)
	}
	out := make([]types.Mold, len(rows))
	for i, r := range rows {
		out[i] = types.Mold{ID: r.ID, Name: r.Name}
	}
	return out, nil
}

// FetchShifts returns the configured shifts.
func (s *Store) FetchShifts(context.Context) ([]types.Shift, error) {
	return s.currentShifts(), nil
}

// FetchTimeline returns every day of r with the hours that have data.
func (s *Store) FetchTimeline(ctx context.Context, machineID string, r types.DateRange) ([]types.TimelineDay, error) {
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", dataservice.ErrRejected, err)
	}
	if _, err := s.FetchMachine(ctx, machineID); err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	var hours []database.Hour
	if err := db.Where("machine_id = ? AND day BETWEEN ? AND ?", machineID, r.Start.String(), r.End.String()).
		Order("day, hour").Find(&hours).Error; err != nil {
		return nil, fmt.Errorf("querying hours: %w", err)
	}
	var stoppages []database.Stoppage
	if err := db.Where("machine_id = ? AND day BETWEEN ? AND ?", machineID, r.Start.String(), r.End.String()).
		Order("day, hour, position").Find(&stoppages).Error; err != nil {
		return nil, fmt.Errorf("querying stoppages: %w", err)
	}
	refs, err := s.loadRefs(ctx)
	if err != nil {
		return nil, err
	}

	type key struct {
		day  string
		hour int
	}
	byHour := make(map[key][]database.Stoppage)
	for _, st := range stoppages {
		k := key{st.Day, st.Hour}
		byHour[k] = append(byHour[k], st)
	}

	byDay := make(map[string][]types.HourRecord)
	for _, h := range hours {
		byDay[h.Day] = append(byDay[h.Day], hourFromRows(h, byHour[key{h.Day, h.Hour}], refs))
		delete(byHour, key{h.Day, h.Hour})
	}
	// Stoppages whose hour row is missing still belong to an hour.
	for k, sts := range byHour {
		byDay[k.day] = append(byDay[k.day], hourFromRows(database.Hour{Hour: k.hour, Status: string(types.StatusInactive)}, sts, refs))
	}

	days := make([]types.TimelineDay, 0, len(r.Days()))
	for _, d := range r.Days() {
		days = append(days, types.TimelineDay{Date: d, Hours: byDay[d.String()]})
	}
	return days, nil
}

// publish broadcasts e. Publication failures are logged; the write they
// follow has already been committed.
func (s *Store) publish(ctx context.Context, e events.Event) {
	if s.pub == nil {
		return
	}
	env, err := events.Encode(e)
	if err != nil {
		s.logger.Errorw("encoding event failed", "event", e.EventName(), "machine", e.Machine(), "error", err)
		return
	}
	if err := s.pub.Publish(ctx, env); err != nil {
		s.logger.Warnw("publishing event failed", "event", e.EventName(), "machine", e.Machine(), "error", err)
		return
	}
	s.metrics.EventPublished(string(e.EventName()))
}

type refIndex struct {
	operators map[string]types.User
	molds     map[string]types.Mold
}

func (s *Store) loadRefs(ctx context.Context) (refIndex, error) {
	ops, err := s.FetchOperators(ctx)
	if err != nil {
		return refIndex{}, err
	}
	molds, err := s.FetchMolds(ctx)
	if err != nil {
		return refIndex{}, err
	}
	idx := refIndex{
		operators: make(map[string]types.User, len(ops)),
		molds:     make(map[string]types.Mold, len(molds)),
	}
	for _, o := range ops {
		idx.operators[o.ID] = o
	}
	for _, m := range molds {
		idx.molds[m.ID] = m
	}
	return idx, nil
}
