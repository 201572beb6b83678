// Package types holds the production timeline data model shared by every
// other package: calendar days, hour buckets, stoppages, shifts and the
// reference objects they point at.
package types

import (
	"regexp"
	"time"
)

// MaxMinutesPerHour bounds every per-hour minute counter.
const MaxMinutesPerHour = 60

// HourStatus is the display label for an hour bucket.
type HourStatus string

const (
	StatusRunning             HourStatus = "running"
	StatusStoppage            HourStatus = "stoppage"
	StatusStoppedYetProducing HourStatus = "stopped_yet_producing"
	StatusInactive            HourStatus = "inactive"
)

// Valid reports whether s is one of the known statuses.
func (s HourStatus) Valid() bool {
	switch s {
	case StatusRunning, StatusStoppage, StatusStoppedYetProducing, StatusInactive:
		return true
	}
	return false
}

// StoppageReason categorises a stoppage.
type StoppageReason string

const (
	ReasonPlanned          StoppageReason = "planned"
	ReasonMoldChange       StoppageReason = "mold_change"
	ReasonBreakdown        StoppageReason = "breakdown"
	ReasonMaintenance      StoppageReason = "maintenance"
	ReasonMaterialShortage StoppageReason = "material_shortage"
	ReasonOther            StoppageReason = "other"
	ReasonUnclassified     StoppageReason = "unclassified"
)

// Reasons lists every reason a user may pick when classifying a stoppage.
var Reasons = []StoppageReason{
	ReasonPlanned,
	ReasonMoldChange,
	ReasonBreakdown,
	ReasonMaintenance,
	ReasonMaterialShortage,
	ReasonOther,
}

// Classified reports whether r is a concrete, user-assignable category.
func (r StoppageReason) Classified() bool {
	for _, c := range Reasons {
		if r == c {
			return true
		}
	}
	return false
}

var sapNumber = regexp.MustCompile(`^[0-9]+$`)

// ValidSAPNotificationNumber reports whether s is a non-empty string of digits.
func ValidSAPNotificationNumber(s string) bool {
	return sapNumber.MatchString(s)
}

// StoppageRecord is one stoppage inside an hour bucket.
//
// A record with ReasonUnclassified is pending human categorisation. A record
// with an empty Reason is known only from a duration update whose
// stoppage-added event has not arrived yet.
type StoppageRecord struct {
	ID                    string         `json:"id"`
	Reason                StoppageReason `json:"reason"`
	Description           string         `json:"description,omitempty"`
	StartTime             time.Time      `json:"startTime"`
	EndTime               *time.Time     `json:"endTime,omitempty"`
	Duration              int            `json:"duration"`
	SAPNotificationNumber string         `json:"sapNotificationNumber,omitempty"`
	PendingID             string         `json:"pendingId,omitempty"`
	UpdatedAt             time.Time      `json:"updatedAt,omitempty"`
}

// Pending reports whether the record still awaits classification.
func (s StoppageRecord) Pending() bool {
	return s.Reason == ReasonUnclassified
}

// Open reports whether the stoppage has not ended yet.
func (s StoppageRecord) Open() bool {
	return s.EndTime == nil
}

// HourRecord is one hour bucket of one machine's production timeline.
type HourRecord struct {
	Hour            int              `json:"hour"`
	UnitsProduced   int              `json:"unitsProduced"`
	DefectiveUnits  int              `json:"defectiveUnits"`
	Status          HourStatus       `json:"status"`
	Operator        *User            `json:"operator,omitempty"`
	Mold            *Mold            `json:"mold,omitempty"`
	Stoppages       []StoppageRecord `json:"stoppages,omitempty"`
	RunningMinutes  int              `json:"runningMinutes"`
	StoppageMinutes int              `json:"stoppageMinutes"`

	// StatusAt, CountersAt and MinutesAt are last-writer-wins stamps of the
	// newest event that set Status, UnitsProduced and the minute counters.
	StatusAt   time.Time `json:"statusAt,omitempty"`
	CountersAt time.Time `json:"countersAt,omitempty"`
	MinutesAt  time.Time `json:"minutesAt,omitempty"`
}

// EmptyHour returns the zero-valued bucket for hour h.
func EmptyHour(h int) HourRecord {
	return HourRecord{Hour: h, Status: StatusInactive}
}

// InactiveMinutes is the implicit remainder of the hour.
func (h HourRecord) InactiveMinutes() int {
	return MaxMinutesPerHour - h.RunningMinutes - h.StoppageMinutes
}

// StoppageIndex returns the position of the stoppage with the given id, or -1.
func (h HourRecord) StoppageIndex(id string) int {
	for i, s := range h.Stoppages {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// SumStoppageDurations totals the durations of every stoppage in the hour.
func (h HourRecord) SumStoppageDurations() int {
	total := 0
	for _, s := range h.Stoppages {
		total += s.Duration
	}
	return total
}

// Clone returns a copy of h that shares no slices or pointers with it.
func (h HourRecord) Clone() HourRecord {
	out := h
	if h.Stoppages != nil {
		out.Stoppages = make([]StoppageRecord, len(h.Stoppages))
		copy(out.Stoppages, h.Stoppages)
	}
	if h.Operator != nil {
		op := *h.Operator
		out.Operator = &op
	}
	if h.Mold != nil {
		m := *h.Mold
		out.Mold = &m
	}
	return out
}

// TimelineDay holds the hour buckets of one calendar day.
type TimelineDay struct {
	Date  Date         `json:"date"`
	Hours []HourRecord `json:"hours"`
}

// Shift is a named, configurable work shift. EndTime before StartTime means
// the shift spans midnight.
type Shift struct {
	Name      string    `json:"name"`
	StartTime TimeOfDay `json:"startTime"`
	EndTime   TimeOfDay `json:"endTime"`
	IsActive  bool      `json:"isActive"`
}

// Wraps reports whether the shift crosses midnight.
func (s Shift) Wraps() bool {
	return s.StartTime.Hour > s.EndTime.Hour
}
