package db

import (
	"fmt"
	stlog "log"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open initializes a database connection for the given DSN and runs
// migrations for the provided models.
func Open(dsn string, modelsToMigrate ...interface{}) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}

	var gormLogLevel gormlogger.LogLevel
	switch log.Logger.GetLevel().String() {
	case "error":
		gormLogLevel = gormlogger.Error
	case "warn":
		gormLogLevel = gormlogger.Warn
	case "debug", "trace":
		gormLogLevel = gormlogger.Info
	default:
		gormLogLevel = gormlogger.Warn
	}

	newLogger := gormlogger.New(
		stlog.New(log.Logger, "", stlog.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormLogLevel,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: newLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if len(modelsToMigrate) > 0 {
		if err := conn.AutoMigrate(modelsToMigrate...); err != nil {
			return nil, fmt.Errorf("failed to auto-migrate database: %w", err)
		}
		log.Info().Int("models", len(modelsToMigrate)).Msg("Database migration completed")
	}

	log.Info().Msg("Database connection established")
	return conn, nil
}
