package gormdb

import (
	"fmt"
	"log"
	"os"
	"time"

	"calendar/internal/domain/entity"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Config selects the driver and connection string.
type Config struct {
	Driver   string // sqlite or postgres
	URL      string
	LogLevel string // silent, error, warn, info
}

func parseLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

// Open connects to the database and migrates the schema.
func Open(cfg Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "", "sqlite":
		dialector = sqlite.Open(cfg.URL)
	case "postgres":
		dialector = postgres.Open(cfg.URL)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	newLogger := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags), // io writer
		gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  parseLogLevel(cfg.LogLevel),
			IgnoreRecordNotFoundError: true, // Not-found is reported through ErrNoteNotFound
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: newLogger,
		// Timestamps we write ourselves are UTC; keep gorm's own in UTC too.
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", cfg.Driver, err)
	}

	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// AutoMigrate automatically migrates the database schema for the defined entities.
func AutoMigrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&entity.Note{},
		&entity.Delivery{},
		&entity.Watermark{},
	)
	if err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying *sql.DB: %w", err)
	}
	return sqlDB.Close()
}
