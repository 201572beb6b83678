package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/chrissnell/prodtimeline/internal/assignment"
	"github.com/chrissnell/prodtimeline/internal/database"
	"github.com/chrissnell/prodtimeline/internal/dataservice"
	"github.com/chrissnell/prodtimeline/internal/events"
	"github.com/chrissnell/prodtimeline/internal/reconcile"
	"github.com/chrissnell/prodtimeline/internal/shifts"
	"github.com/chrissnell/prodtimeline/internal/stoppage"
	"github.com/chrissnell/prodtimeline/internal/timeline"
	"github.com/chrissnell/prodtimeline/internal/types"
)

func rejected(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", dataservice.ErrRejected, fmt.Sprintf(format, args...))
}

// SubmitAssignment writes an operator, mold or defect change. With
// ApplyToShift operator and mold go to every hour of the owning shift;
// defective units only to the submitted hour. The caller broadcasts the
// change once this returns.
func (s *Store) SubmitAssignment(ctx context.Context, sub types.AssignmentSubmission) error {
	if sub.Hour < 0 || sub.Hour > 23 {
		return rejected("hour %d out of range", sub.Hour)
	}
	if sub.Date.IsZero() {
		return rejected("date is required")
	}
	if sub.Edit.DefectiveUnits != nil && *sub.Edit.DefectiveUnits < 0 {
		return rejected("defective units must not be negative")
	}
	if _, err := s.FetchMachine(ctx, sub.MachineID); err != nil {
		return err
	}

	refs, err := s.loadRefs(ctx)
	if err != nil {
		return err
	}
	if c := sub.Edit.Operator; c.Provided && c.ID != "" {
		if _, ok := refs.operators[c.ID]; !ok {
			return rejected("unknown operator %s", c.ID)
		}
	}
	if c := sub.Edit.Mold; c.Provided && c.ID != "" {
		if _, ok := refs.molds[c.ID]; !ok {
			return rejected("unknown mold %s", c.ID)
		}
	}

	resolver := shifts.NewResolver(s.currentShifts())
	cells := []shifts.Cell{{Date: sub.Date, Hour: sub.Hour}}
	if sub.Edit.ApplyToShift {
		cells, _ = resolver.Cells(sub.Date, sub.Hour)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tl := timeline.New(nil)
		for _, c := range cells {
			h, err := loadHour(tx, sub.MachineID, c.Date, c.Hour, refs)
			if err != nil {
				return err
			}
			tl = tl.PatchHour(c.Date, c.Hour, func(types.HourRecord) types.HourRecord { return h })
		}

		res := assignment.Apply(tl, resolver, refs.list(), sub.Date, sub.Hour, sub.Edit)
		for _, c := range res.Cells {
			h, _ := res.Timeline.Hour(c.Date, c.Hour)
			if err := saveHour(tx, sub.MachineID, c.Date, h); err != nil {
				return err
			}
		}

		s.logger.Infow("assignment saved", "machine", sub.MachineID, "date", sub.Date, "hour", sub.Hour,
			"hours", len(res.Cells), "shift", res.Shift)
		return nil
	})
}

// SubmitStoppage stores a user-entered stoppage, classifying the pending
// record it names or creating a new one, and broadcasts stoppage-added.
func (s *Store) SubmitStoppage(ctx context.Context, sub types.StoppageSubmission) (types.StoppageRecord, error) {
	if err := stoppage.Validate(sub); err != nil {
		return types.StoppageRecord{}, err
	}
	if _, err := s.FetchMachine(ctx, sub.MachineID); err != nil {
		return types.StoppageRecord{}, err
	}
	id := sub.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := s.now()

	refs, err := s.loadRefs(ctx)
	if err != nil {
		return types.StoppageRecord{}, err
	}

	s.writeMu.Lock()
	var rec types.StoppageRecord
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		h, err := loadHour(tx, sub.MachineID, sub.Date, sub.Hour, refs)
		if err != nil {
			return err
		}
		next, r, err := stoppage.Apply(h, sub, id, now, s.loc)
		if errors.Is(err, stoppage.ErrPendingNotFound) {
			return fmt.Errorf("%w: %v", dataservice.ErrRejected, err)
		}
		if err != nil {
			return err
		}
		rec = r
		return saveHour(tx, sub.MachineID, sub.Date, timeline.Normalize(next))
	})
	s.writeMu.Unlock()
	if err != nil {
		return types.StoppageRecord{}, err
	}

	s.logger.Infow("stoppage saved", "machine", sub.MachineID, "date", sub.Date, "hour", sub.Hour,
		"stoppage", rec.ID, "reason", rec.Reason, "duration", rec.Duration, "classified", rec.PendingID)
	s.publish(ctx, events.StoppageAdded{
		Cell:     events.Cell{MachineID: sub.MachineID, Date: sub.Date, Hour: sub.Hour},
		Stoppage: rec,
		At:       now,
	})
	return rec, nil
}

// Ingest applies a machine-side event to the stored timeline with the same
// reducers views use and broadcasts it. Missing stamps and stoppage ids are
// filled in; the event as published is returned. Duplicates that change
// nothing are stored and published only once.
func (s *Store) Ingest(ctx context.Context, e events.Event) (events.Event, error) {
	if _, err := s.FetchMachine(ctx, e.Machine()); err != nil {
		return nil, err
	}

	e = s.complete(e)
	if ms, ok := e.(events.MachineStateUpdate); ok {
		return s.ingestMachineState(ctx, ms)
	}

	cell, ok := cellOf(e)
	if !ok {
		return nil, rejected("%s cannot be ingested", e.EventName())
	}
	if cell.Hour < 0 || cell.Hour > 23 || cell.Date.IsZero() {
		return nil, rejected("%s: invalid cell %s %d", e.EventName(), cell.Date, cell.Hour)
	}

	refs, err := s.loadRefs(ctx)
	if err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	changed := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		h, err := loadHour(tx, cell.MachineID, cell.Date, cell.Hour, refs)
		if err != nil {
			return err
		}
		state := reconcile.State{
			MachineID: cell.MachineID,
			Timeline:  timeline.New([]types.TimelineDay{{Date: cell.Date, Hours: []types.HourRecord{h}}}),
		}
		next, outcome := reconcile.Reduce(state, e)
		if outcome == reconcile.Ignored {
			return nil
		}
		changed = true
		updated, _ := next.Timeline.Hour(cell.Date, cell.Hour)
		return saveHour(tx, cell.MachineID, cell.Date, updated)
	})
	s.writeMu.Unlock()
	if err != nil {
		return nil, err
	}

	if changed {
		s.logger.Debugw("event ingested", "event", e.EventName(), "machine", cell.MachineID, "date", cell.Date, "hour", cell.Hour)
		s.publish(ctx, e)
	}
	return e, nil
}

func (s *Store) ingestMachineState(ctx context.Context, e events.MachineStateUpdate) (events.Event, error) {
	s.writeMu.Lock()
	res := s.db.WithContext(ctx).Model(&database.Machine{}).
		Where("id = ? AND (state_updated_at IS NULL OR state_updated_at <= ?)", e.MachineID, e.At).
		Updates(map[string]interface{}{"status": e.Status, "color": e.Color, "state_updated_at": e.At})
	s.writeMu.Unlock()
	if res.Error != nil {
		return nil, fmt.Errorf("updating machine state: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		s.publish(ctx, e)
	}
	return e, nil
}

// complete stamps events that arrive without a time and gives new stoppages
// an id.
func (s *Store) complete(e events.Event) events.Event {
	now := s.now()
	switch ev := e.(type) {
	case events.ProductionUpdate:
		if ev.At.IsZero() {
			ev.At = now
		}
		return ev
	case events.RunningTimeUpdate:
		if ev.At.IsZero() {
			ev.At = now
		}
		return ev
	case events.UnclassifiedStoppageDetected:
		if ev.At.IsZero() {
			ev.At = now
		}
		if ev.Stoppage.ID == "" {
			ev.Stoppage.ID = uuid.NewString()
		}
		ev.Stoppage.Reason = types.ReasonUnclassified
		if ev.Stoppage.UpdatedAt.IsZero() {
			ev.Stoppage.UpdatedAt = ev.At
		}
		return ev
	case events.StoppageAdded:
		if ev.At.IsZero() {
			ev.At = now
		}
		if ev.Stoppage.ID == "" {
			ev.Stoppage.ID = uuid.NewString()
		}
		return ev
	case events.StoppageUpdated:
		if ev.UpdatedAt.IsZero() {
			ev.UpdatedAt = now
		}
		return ev
	case events.MachineStateUpdate:
		if ev.At.IsZero() {
			ev.At = now
		}
		return ev
	}
	return e
}

func cellOf(e events.Event) (events.Cell, bool) {
	switch ev := e.(type) {
	case events.ProductionUpdate:
		return ev.Cell, true
	case events.RunningTimeUpdate:
		return ev.Cell, true
	case events.UnclassifiedStoppageDetected:
		return ev.Cell, true
	case events.StoppageAdded:
		return ev.Cell, true
	case events.StoppageUpdated:
		return ev.Cell, true
	}
	return events.Cell{}, false
}

func (r refIndex) list() assignment.Refs {
	var refs assignment.Refs
	for _, o := range r.operators {
		refs.Operators = append(refs.Operators, o)
	}
	for _, m := range r.molds {
		refs.Molds = append(refs.Molds, m)
	}
	return refs
}
