// Package storage opens the broker's SQLite database.
//
// The driver is glebarez/sqlite (pure Go, no cgo). SQL statements are logged
// through zap by GormLogger.
package storage

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Options tunes the connection.
type Options struct {
	// SlowThreshold marks statements logged as slow.
	SlowThreshold time.Duration
	// LogLevel is the gorm log level; zero means Warn.
	LogLevel gormlogger.LogLevel
}

// Open connects to the database at dsn. Use "file::memory:" for a private
// in-memory database.
func Open(dsn string, logger *zap.Logger, opts Options) (*gorm.DB, error) {
	if opts.LogLevel == 0 {
		opts.LogLevel = gormlogger.Warn
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: NewGormLogger(logger, opts.SlowThreshold).LogMode(opts.LogLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %q: %w", dsn, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	// SQLite has a single writer, and an in-memory database exists once per
	// connection.
	sqlDB.SetMaxOpenConns(1)

	return db, nil
}

// Close releases the connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
