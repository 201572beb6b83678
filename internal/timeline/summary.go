package timeline

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary aggregates the loaded window.
type Summary struct {
	Hours            int     `json:"hours"`
	ProducingHours   int     `json:"producingHours"`
	UnitsProduced    int     `json:"unitsProduced"`
	DefectiveUnits   int     `json:"defectiveUnits"`
	RunningMinutes   int     `json:"runningMinutes"`
	StoppageMinutes  int     `json:"stoppageMinutes"`
	PendingStoppages int     `json:"pendingStoppages"`
	DefectRate       float64 `json:"defectRate"`
	Availability     float64 `json:"availability"`
	MeanUnitsPerHour float64 `json:"meanUnitsPerHour"`
}

// Summarize computes totals and ratios over every loaded hour. Availability
// is running time over running plus stoppage time; inactive time is excluded.
// MeanUnitsPerHour only counts hours that produced something.
func (t Timeline) Summarize() Summary {
	var (
		s         Summary
		units     []float64
		defects   []float64
		running   []float64
		stoppages []float64
		producing []float64
	)

	for _, d := range t.days {
		for _, h := range d.Hours {
			s.Hours++
			units = append(units, float64(h.UnitsProduced))
			defects = append(defects, float64(h.DefectiveUnits))
			running = append(running, float64(h.RunningMinutes))
			stoppages = append(stoppages, float64(h.StoppageMinutes))
			if h.UnitsProduced > 0 {
				producing = append(producing, float64(h.UnitsProduced))
			}
			for _, st := range h.Stoppages {
				if st.Pending() {
					s.PendingStoppages++
				}
			}
		}
	}
	if s.Hours == 0 {
		return s
	}

	s.ProducingHours = len(producing)
	s.UnitsProduced = int(floats.Sum(units))
	s.DefectiveUnits = int(floats.Sum(defects))
	s.RunningMinutes = int(floats.Sum(running))
	s.StoppageMinutes = int(floats.Sum(stoppages))

	if s.UnitsProduced > 0 {
		s.DefectRate = float64(s.DefectiveUnits) / float64(s.UnitsProduced)
	}
	if active := s.RunningMinutes + s.StoppageMinutes; active > 0 {
		s.Availability = float64(s.RunningMinutes) / float64(active)
	}
	if len(producing) > 0 {
		s.MeanUnitsPerHour = stat.Mean(producing, nil)
	}
	return s
}
