package store

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/chrissnell/prodtimeline/internal/database"
	"github.com/chrissnell/prodtimeline/internal/types"
)

func machineFromRow(r database.Machine) types.Machine {
	return types.Machine{ID: r.ID, Name: r.Name, Status: r.Status, Color: r.Color}
}

func hourFromRows(h database.Hour, stoppages []database.Stoppage, refs refIndex) types.HourRecord {
	rec := types.HourRecord{
		Hour:            h.Hour,
		UnitsProduced:   h.UnitsProduced,
		DefectiveUnits:  h.DefectiveUnits,
		Status:          types.HourStatus(h.Status),
		RunningMinutes:  h.RunningMinutes,
		StoppageMinutes: h.StoppageMinutes,
		StatusAt:        h.StatusAt,
		CountersAt:      h.CountersAt,
		MinutesAt:       h.MinutesAt,
	}
	if h.OperatorID != nil {
		u, ok := refs.operators[*h.OperatorID]
		if !ok {
			u = types.User{ID: *h.OperatorID}
		}
		rec.Operator = &u
	}
	if h.MoldID != nil {
		m, ok := refs.molds[*h.MoldID]
		if !ok {
			m = types.Mold{ID: *h.MoldID}
		}
		rec.Mold = &m
	}
	for _, st := range stoppages {
		rec.Stoppages = append(rec.Stoppages, types.StoppageRecord{
			ID:                    st.ID,
			Reason:                types.StoppageReason(st.Reason),
			Description:           st.Description,
			StartTime:             st.StartTime,
			EndTime:               st.EndTime,
			Duration:              st.Duration,
			SAPNotificationNumber: st.SAPNotificationNumber,
			PendingID:             st.PendingID,
			UpdatedAt:             st.ModifiedAt,
		})
	}
	return rec
}

func rowsFromHour(machineID string, date types.Date, rec types.HourRecord) (database.Hour, []database.Stoppage) {
	h := database.Hour{
		MachineID:       machineID,
		Day:             date.String(),
		Hour:            rec.Hour,
		UnitsProduced:   rec.UnitsProduced,
		DefectiveUnits:  rec.DefectiveUnits,
		Status:          string(rec.Status),
		RunningMinutes:  rec.RunningMinutes,
		StoppageMinutes: rec.StoppageMinutes,
		StatusAt:        rec.StatusAt,
		CountersAt:      rec.CountersAt,
		MinutesAt:       rec.MinutesAt,
	}
	if rec.Operator != nil {
		id := rec.Operator.ID
		h.OperatorID = &id
	}
	if rec.Mold != nil {
		id := rec.Mold.ID
		h.MoldID = &id
	}

	stoppages := make([]database.Stoppage, len(rec.Stoppages))
	for i, st := range rec.Stoppages {
		stoppages[i] = database.Stoppage{
			ID:                    st.ID,
			MachineID:             machineID,
			Day:                   h.Day,
			Hour:                  rec.Hour,
			Position:              i,
			Reason:                string(st.Reason),
			Description:           st.Description,
			StartTime:             st.StartTime,
			EndTime:               st.EndTime,
			Duration:              st.Duration,
			SAPNotificationNumber: st.SAPNotificationNumber,
			PendingID:             st.PendingID,
			ModifiedAt:            st.UpdatedAt,
		}
	}
	return h, stoppages
}

// loadHour reads one bucket inside tx. A bucket with no row is returned
// empty.
func loadHour(tx *gorm.DB, machineID string, date types.Date, hour int, refs refIndex) (types.HourRecord, error) {
	var row database.Hour
	err := tx.Where("machine_id = ? AND day = ? AND hour = ?", machineID, date.String(), hour).First(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row = database.Hour{Hour: hour, Status: string(types.StatusInactive)}
	case err != nil:
		return types.HourRecord{}, fmt.Errorf("loading hour %s %d: %w", date, hour, err)
	}

	var stoppages []database.Stoppage
	if err := tx.Where("machine_id = ? AND day = ? AND hour = ?", machineID, date.String(), hour).
		Order("position").Find(&stoppages).Error; err != nil {
		return types.HourRecord{}, fmt.Errorf("loading stoppages %s %d: %w", date, hour, err)
	}
	return hourFromRows(row, stoppages, refs), nil
}

// saveHour replaces one bucket and its stoppages inside tx.
func saveHour(tx *gorm.DB, machineID string, date types.Date, rec types.HourRecord) error {
	h, stoppages := rowsFromHour(machineID, date, rec)
	if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&h).Error; err != nil {
		return fmt.Errorf("saving hour %s %d: %w", date, rec.Hour, err)
	}
	if err := tx.Where("machine_id = ? AND day = ? AND hour = ?", machineID, h.Day, h.Hour).
		Delete(&database.Stoppage{}).Error; err != nil {
		return fmt.Errorf("clearing stoppages %s %d: %w", date, rec.Hour, err)
	}
	if len(stoppages) > 0 {
		if err := tx.Create(&stoppages).Error; err != nil {
			return fmt.Errorf("saving stoppages %s %d: %w", date, rec.Hour, err)
		}
	}
	return nil
}
