package timeline

import (
	"fmt"
	"time"

	"github.com/chrissnell/prodtimeline/internal/types"
)

// WarningKind classifies a timeline warning.
type WarningKind string

const (
	WarningPendingStoppage WarningKind = "pending_stoppage"
	WarningNoOperator      WarningKind = "no_operator"
)

// Warning flags an hour that needs someone's attention.
type Warning struct {
	Date    types.Date  `json:"date"`
	Hour    int         `json:"hour"`
	Kind    WarningKind `json:"kind"`
	Message string      `json:"message"`
}

// Warnings lists hours with unclassified stoppages and producing hours with no
// operator assigned. Only hours that have already started in the facility
// time zone loc are considered.
func (t Timeline) Warnings(now time.Time, loc *time.Location) []Warning {
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)
	today := types.DateOf(now)

	var out []Warning
	for _, d := range t.days {
		if d.Date.After(today) {
			break
		}
		for _, h := range d.Hours {
			if d.Date.Equal(today) && h.Hour > now.Hour() {
				break
			}
			for _, s := range h.Stoppages {
				if s.Pending() {
					out = append(out, Warning{
						Date:    d.Date,
						Hour:    h.Hour,
						Kind:    WarningPendingStoppage,
						Message: fmt.Sprintf("stoppage %s (%d min) needs a reason", s.ID, s.Duration),
					})
				}
			}
			if h.UnitsProduced > 0 && h.Operator == nil {
				out = append(out, Warning{
					Date:    d.Date,
					Hour:    h.Hour,
					Kind:    WarningNoOperator,
					Message: fmt.Sprintf("%d units produced without an operator", h.UnitsProduced),
				})
			}
		}
	}
	return out
}
