package types

import (
	"encoding/json"
	"fmt"
)

// RefChange is an optional reference update. Provided=false leaves the field
// untouched; Provided with an empty ID clears it.
type RefChange struct {
	Provided bool   `json:"provided"`
	ID       string `json:"id,omitempty"`
}

// SetRef returns a change assigning id.
func SetRef(id string) RefChange { return RefChange{Provided: true, ID: id} }

// ClearRef returns a change removing the current reference.
func ClearRef() RefChange { return RefChange{Provided: true} }

// Clears reports whether the change removes the reference.
func (c RefChange) Clears() bool { return c.Provided && c.ID == "" }

// AssignmentEdit is a transient command changing who and what is assigned to
// an hour. DefectiveUnits, when non-nil, only ever applies to the originating
// hour even when ApplyToShift is set.
type AssignmentEdit struct {
	Operator       RefChange
	Mold           RefChange
	DefectiveUnits *int
	ApplyToShift   bool
}

// AssignmentSubmission is the write sent to the data service.
type AssignmentSubmission struct {
	MachineID string
	Date      Date
	Hour      int
	Edit      AssignmentEdit
}

// MarshalJSON encodes cleared references as explicit null and omits
// references the edit does not touch.
func (s AssignmentSubmission) MarshalJSON() ([]byte, error) {
	m := map[string]interface{}{
		"machineId":    s.MachineID,
		"date":         s.Date.String(),
		"hour":         s.Hour,
		"applyToShift": s.Edit.ApplyToShift,
	}
	putRef(m, "operatorId", s.Edit.Operator)
	putRef(m, "moldId", s.Edit.Mold)
	if s.Edit.DefectiveUnits != nil {
		m["defectiveUnits"] = *s.Edit.DefectiveUnits
	}
	return json.Marshal(m)
}

func (s *AssignmentSubmission) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var wire struct {
		MachineID      string `json:"machineId"`
		Date           Date   `json:"date"`
		Hour           int    `json:"hour"`
		ApplyToShift   bool   `json:"applyToShift"`
		DefectiveUnits *int   `json:"defectiveUnits"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	op, err := readRef(raw, "operatorId")
	if err != nil {
		return err
	}
	mold, err := readRef(raw, "moldId")
	if err != nil {
		return err
	}
	*s = AssignmentSubmission{
		MachineID: wire.MachineID,
		Date:      wire.Date,
		Hour:      wire.Hour,
		Edit: AssignmentEdit{
			Operator:       op,
			Mold:           mold,
			DefectiveUnits: wire.DefectiveUnits,
			ApplyToShift:   wire.ApplyToShift,
		},
	}
	return nil
}

func putRef(m map[string]interface{}, key string, c RefChange) {
	if !c.Provided {
		return
	}
	if c.ID == "" {
		m[key] = nil
		return
	}
	m[key] = c.ID
}

func readRef(raw map[string]json.RawMessage, key string) (RefChange, error) {
	v, ok := raw[key]
	if !ok {
		return RefChange{}, nil
	}
	var id *string
	if err := json.Unmarshal(v, &id); err != nil {
		return RefChange{}, fmt.Errorf("%s: %w", key, err)
	}
	if id == nil {
		return ClearRef(), nil
	}
	return SetRef(*id), nil
}

// StoppageSubmission is a user-entered stoppage. PendingStoppageID is set when
// the submission classifies an automatically detected stoppage; Duration is
// then ignored in favour of the pending record's duration. ID is an optional
// client-chosen identifier; the server keeps it so the broadcast of the new
// record matches the optimistic copy.
type StoppageSubmission struct {
	ID                    string         `json:"id,omitempty"`
	MachineID             string         `json:"machineId"`
	Date                  Date           `json:"date"`
	Hour                  int            `json:"hour"`
	Reason                StoppageReason `json:"reason"`
	Description           string         `json:"description"`
	Duration              int            `json:"duration"`
	SAPNotificationNumber string         `json:"sapNotificationNumber,omitempty"`
	PendingStoppageID     string         `json:"pendingStoppageId,omitempty"`
}
