package database

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/chrissnell/prodtimeline/internal/log"
)

// Supported drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// CreateConnection opens a database with the standard GORM configuration.
// driver is "postgres" (Postgres or TimescaleDB) or "sqlite" (pure Go, no
// cgo); dsn is handed to the driver unchanged.
func CreateConnection(driver, dsn string) (*gorm.DB, error) {
	// Create a logger for gorm
	dbLogger := logger.New(
		zap.NewStdLog(log.GetZapLogger()),
		logger.Config{
			SlowThreshold:             time.Second, // Slow SQL threshold
			LogLevel:                  logger.Warn, // Log level
			IgnoreRecordNotFoundError: true,        // Ignore ErrRecordNotFound error for logger
			Colorful:                  false,
		},
	)

	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	log.Infow("connecting to database", "driver", driver)
	db, err := gorm.Open(dialector, &gorm.Config{Logger: dbLogger})
	if err != nil {
		log.Warnw("unable to create a database connection", "driver", driver, "error", err)
		return nil, err
	}

	if driver == DriverSQLite {
		// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return db, nil
}

// Migrate creates or updates every table the store uses.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Machine{}, &Operator{}, &Mold{}, &Hour{}, &Stoppage{}); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	return nil
}
