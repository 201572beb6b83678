package database

import (
	"time"
)

// Machine is a production machine and its latest machine-level state
type Machine struct {
	ID             string    `gorm:"primaryKey;column:id"`
	Name           string    `gorm:"column:name;not null"`
	Status         string    `gorm:"column:status"`
	Color          string    `gorm:"column:color"`
	StateUpdatedAt time.Time `gorm:"column:state_updated_at"`
}

// TableName specifies the table name for Machine
func (Machine) TableName() string {
	return "machines"
}

// Operator is a person who can be assigned to an hour
type Operator struct {
	ID   string `gorm:"primaryKey;column:id"`
	Name string `gorm:"column:name;not null"`
}

// TableName specifies the table name for Operator
func (Operator) TableName() string {
	return "operators"
}

// Mold is a tool that can be mounted on a machine
type Mold struct {
	ID   string `gorm:"primaryKey;column:id"`
	Name string `gorm:"column:name;not null"`
}

// TableName specifies the table name for Mold
func (Mold) TableName() string {
	return "molds"
}

// Hour is one hour bucket of one machine. Day is stored as YYYY-MM-DD.
type Hour struct {
	MachineID       string    `gorm:"primaryKey;column:machine_id"`
	Day             string    `gorm:"primaryKey;column:day"`
	Hour            int       `gorm:"primaryKey;column:hour"`
	UnitsProduced   int       `gorm:"column:units_produced"`
	DefectiveUnits  int       `gorm:"column:defective_units"`
	Status          string    `gorm:"column:status"`
	OperatorID      *string   `gorm:"column:operator_id"`
	MoldID          *string   `gorm:"column:mold_id"`
	RunningMinutes  int       `gorm:"column:running_minutes"`
	StoppageMinutes int       `gorm:"column:stoppage_minutes"`
	StatusAt        time.Time `gorm:"column:status_at"`
	CountersAt      time.Time `gorm:"column:counters_at"`
	MinutesAt       time.Time `gorm:"column:minutes_at"`
}

// TableName specifies the table name for Hour
func (Hour) TableName() string {
	return "hours"
}

// Stoppage is one stoppage inside an hour bucket
type Stoppage struct {
	ID                    string     `gorm:"primaryKey;column:id"`
	MachineID             string     `gorm:"column:machine_id;index:idx_stoppage_hour"`
	Day                   string     `gorm:"column:day;index:idx_stoppage_hour"`
	Hour                  int        `gorm:"column:hour;index:idx_stoppage_hour"`
	Position              int        `gorm:"column:position"`
	Reason                string     `gorm:"column:reason"`
	Description           string     `gorm:"column:description"`
	StartTime             time.Time  `gorm:"column:start_time"`
	EndTime               *time.Time `gorm:"column:end_time"`
	Duration              int        `gorm:"column:duration"`
	SAPNotificationNumber string     `gorm:"column:sap_notification_number"`
	PendingID             string     `gorm:"column:pending_id"`
	ModifiedAt            time.Time  `gorm:"column:modified_at"`
}

// TableName specifies the table name for Stoppage
func (Stoppage) TableName() string {
	return "stoppages"
}
