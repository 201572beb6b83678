// Package stoppage implements the two-state stoppage workflow of an hour
// bucket: automatically detected stoppages start out unclassified and are
// replaced in place once a user picks a reason, while stoppages entered by
// hand are created classified straight away.
package stoppage

import (
	"errors"
	"fmt"
	"time"

	"github.com/chrissnell/prodtimeline/internal/types"
)

var (
	// ErrInvalidSubmission is wrapped by every ValidationError.
	ErrInvalidSubmission = errors.New("invalid stoppage submission")
	// ErrPendingNotFound means the pending record a submission refers to is
	// no longer in the hour, usually because another observer classified it.
	ErrPendingNotFound = errors.New("pending stoppage not found")
)

// ValidationError describes the first field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidSubmission
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Validate checks a submission before anything is written anywhere.
func Validate(s types.StoppageSubmission) error {
	if s.Hour < 0 || s.Hour > 23 {
		return invalid("hour", "must be between 0 and 23")
	}
	switch {
	case s.Reason == "":
		return invalid("reason", "required")
	case s.Reason == types.ReasonUnclassified:
		return invalid("reason", "a stoppage cannot be classified as unclassified")
	case !s.Reason.Classified():
		return invalid("reason", fmt.Sprintf("unknown reason %q", s.Reason))
	}
	if s.Reason == types.ReasonBreakdown && !types.ValidSAPNotificationNumber(s.SAPNotificationNumber) {
		return invalid("sapNotificationNumber", "breakdowns need a numeric SAP notification number")
	}
	if s.PendingStoppageID == "" && (s.Duration < 1 || s.Duration > types.MaxMinutesPerHour) {
		return invalid("duration", fmt.Sprintf("must be between 1 and %d minutes", types.MaxMinutesPerHour))
	}
	return nil
}

// Pending returns the most recent pending record of the hour.
func Pending(h types.HourRecord) (types.StoppageRecord, bool) {
	idx := -1
	for i, s := range h.Stoppages {
		if !s.Pending() {
			continue
		}
		if idx < 0 || !s.StartTime.Before(h.Stoppages[idx].StartTime) {
			idx = i
		}
	}
	if idx < 0 {
		return types.StoppageRecord{}, false
	}
	return h.Stoppages[idx], true
}

// Classify replaces the pending record named by the submission (or the most
// recent pending record when the submission names none) with a classified
// one at the same position. The pending duration and timing carry over.
func Classify(h types.HourRecord, s types.StoppageSubmission, now time.Time) (types.HourRecord, types.StoppageRecord, error) {
	pendingID := s.PendingStoppageID
	if pendingID == "" {
		p, ok := Pending(h)
		if !ok {
			return h, types.StoppageRecord{}, ErrPendingNotFound
		}
		pendingID = p.ID
	}

	idx := h.StoppageIndex(pendingID)
	if idx < 0 || !h.Stoppages[idx].Pending() {
		return h, types.StoppageRecord{}, fmt.Errorf("%s: %w", pendingID, ErrPendingNotFound)
	}
	pending := h.Stoppages[idx]

	id := s.ID
	if id == "" {
		id = pending.ID
	}
	rec := types.StoppageRecord{
		ID:                    id,
		Reason:                s.Reason,
		Description:           s.Description,
		StartTime:             pending.StartTime,
		EndTime:               pending.EndTime,
		Duration:              pending.Duration,
		SAPNotificationNumber: sapFor(s),
		PendingID:             pending.ID,
		UpdatedAt:             now,
	}

	out := h.Clone()
	out.Stoppages[idx] = rec
	return settle(out), rec, nil
}

// Create appends a classified stoppage with the user-supplied duration. The
// stoppage is placed at the start of the hour on the facility clock in loc.
func Create(h types.HourRecord, s types.StoppageSubmission, id string, now time.Time, loc *time.Location) (types.HourRecord, types.StoppageRecord) {
	if loc == nil {
		loc = time.UTC
	}
	start := time.Date(s.Date.Year, s.Date.Month, s.Date.Day, s.Hour, 0, 0, 0, loc)
	end := start.Add(time.Duration(s.Duration) * time.Minute)
	rec := types.StoppageRecord{
		ID:                    id,
		Reason:                s.Reason,
		Description:           s.Description,
		StartTime:             start,
		EndTime:               &end,
		Duration:              s.Duration,
		SAPNotificationNumber: sapFor(s),
		UpdatedAt:             now,
	}

	out := h.Clone()
	out.Stoppages = append(out.Stoppages, rec)
	return settle(out), rec
}

// Apply validates s and then classifies the pending record it names, or
// creates a new record when it names none. id is used for new records and
// for classified records when the submission carries no id of its own. loc
// is the facility time zone that hour buckets are counted in.
func Apply(h types.HourRecord, s types.StoppageSubmission, id string, now time.Time, loc *time.Location) (types.HourRecord, types.StoppageRecord, error) {
	if err := Validate(s); err != nil {
		return h, types.StoppageRecord{}, err
	}
	if s.ID == "" {
		s.ID = id
	}
	if s.PendingStoppageID != "" {
		return Classify(h, s, now)
	}
	out, rec := Create(h, s, s.ID, now, loc)
	return out, rec, nil
}

func sapFor(s types.StoppageSubmission) string {
	if s.Reason != types.ReasonBreakdown {
		return ""
	}
	return s.SAPNotificationNumber
}

// settle recomputes the stoppage total as a sum and marks the hour stopped.
func settle(h types.HourRecord) types.HourRecord {
	h.StoppageMinutes = h.SumStoppageDurations()
	h.Status = types.StatusStoppage
	return h
}
