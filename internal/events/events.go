// Package events defines the push notifications exchanged between the
// server and timeline observers. Every event name has exactly one struct;
// Event is closed so switches over it can be exhaustive.
package events

import (
	"time"

	"github.com/chrissnell/prodtimeline/internal/types"
)

// Name is the wire name of an event.
type Name string

const (
	NameProductionUpdate             Name = "production-update"
	NameRunningTimeUpdate            Name = "running-time-update"
	NameUnclassifiedStoppageDetected Name = "unclassified-stoppage-detected"
	NameStoppageAdded                Name = "stoppage-added"
	NameStoppageUpdated              Name = "stoppage-updated"
	NameAssignmentUpdated            Name = "production-assignment-updated"
	NameMachineStateUpdate           Name = "machine-state-update"
)

// Names lists every known event name.
var Names = []Name{
	NameProductionUpdate,
	NameRunningTimeUpdate,
	NameUnclassifiedStoppageDetected,
	NameStoppageAdded,
	NameStoppageUpdated,
	NameAssignmentUpdated,
	NameMachineStateUpdate,
}

// Event is implemented only by the structs in this package.
type Event interface {
	EventName() Name
	Machine() string
	sealed()
}

// Cell is the (date, hour) bucket an hour-scoped event targets.
type Cell struct {
	MachineID string     `json:"machineId"`
	Date      types.Date `json:"date"`
	Hour      int        `json:"hour"`
}

func (c Cell) Machine() string { return c.MachineID }

// ProductionUpdate replaces the production counters of an hour. The minute
// counters are only applied when present.
type ProductionUpdate struct {
	Cell
	UnitsProduced   int              `json:"unitsProduced"`
	Status          types.HourStatus `json:"status"`
	RunningMinutes  *int             `json:"runningMinutes,omitempty"`
	StoppageMinutes *int             `json:"stoppageMinutes,omitempty"`
	At              time.Time        `json:"at,omitempty"`
}

// RunningTimeUpdate reports the machine running mid-hour.
type RunningTimeUpdate struct {
	Cell
	RunningMinutes int       `json:"runningMinutes"`
	At             time.Time `json:"at,omitempty"`
}

// UnclassifiedStoppageDetected announces an automatically detected gap.
type UnclassifiedStoppageDetected struct {
	Cell
	Stoppage types.StoppageRecord `json:"stoppage"`
	At       time.Time            `json:"at,omitempty"`
}

// StoppageAdded announces a classified stoppage. Stoppage.PendingID names the
// pending record it replaced, if any.
type StoppageAdded struct {
	Cell
	Stoppage types.StoppageRecord `json:"stoppage"`
	At       time.Time            `json:"at,omitempty"`
}

// StoppageUpdated reports duration drift of an existing stoppage. Cascade is
// set when the change affects other hours and a full refresh is needed.
type StoppageUpdated struct {
	Cell
	StoppageID string     `json:"stoppageId"`
	Duration   int        `json:"duration"`
	StartTime  time.Time  `json:"startTime,omitempty"`
	EndTime    *time.Time `json:"endTime,omitempty"`
	Cascade    bool       `json:"cascade,omitempty"`
	UpdatedAt  time.Time  `json:"updatedAt,omitempty"`
}

// AssignmentUpdated carries an applied assignment edit. Hours lists every
// touched hour in shift order; Hour is the originating hour and the only one
// DefectiveUnits applies to.
type AssignmentUpdated struct {
	Cell
	Hours          []int           `json:"hours"`
	Operator       types.RefChange `json:"operator"`
	Mold           types.RefChange `json:"mold"`
	DefectiveUnits *int            `json:"defectiveUnits,omitempty"`
}

// MachineStateUpdate changes the machine-level indicator.
type MachineStateUpdate struct {
	MachineID string    `json:"machineId"`
	Status    string    `json:"status"`
	Color     string    `json:"color,omitempty"`
	At        time.Time `json:"at,omitempty"`
}

func (ProductionUpdate) EventName() Name             { return NameProductionUpdate }
func (RunningTimeUpdate) EventName() Name            { return NameRunningTimeUpdate }
func (UnclassifiedStoppageDetected) EventName() Name { return NameUnclassifiedStoppageDetected }
func (StoppageAdded) EventName() Name                { return NameStoppageAdded }
func (StoppageUpdated) EventName() Name              { return NameStoppageUpdated }
func (AssignmentUpdated) EventName() Name            { return NameAssignmentUpdated }
func (MachineStateUpdate) EventName() Name           { return NameMachineStateUpdate }

func (e MachineStateUpdate) Machine() string { return e.MachineID }

func (ProductionUpdate) sealed()             {}
func (RunningTimeUpdate) sealed()            {}
func (UnclassifiedStoppageDetected) sealed() {}
func (StoppageAdded) sealed()                {}
func (StoppageUpdated) sealed()              {}
func (AssignmentUpdated) sealed()            {}
func (MachineStateUpdate) sealed()           {}
