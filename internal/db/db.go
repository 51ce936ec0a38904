// Package db opens the SQLite database that backs the persisted user settings.
package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Options controls how the settings database is opened.
type Options struct {
	Path string
	// Logger receives slow and failed statements. Nil keeps gorm silent.
	Logger        *logrus.Logger
	BusyTimeout   time.Duration
	SlowThreshold time.Duration
}

const (
	defaultBusyTimeout   = 5 * time.Second
	defaultSlowThreshold = 200 * time.Millisecond
)

// Open establishes the SQLite connection, creating the parent directory when needed. The
// settings table sees a handful of writes, so one connection serializes them.
func Open(opts Options) (*gorm.DB, error) {
	if opts.Path == "" {
		return nil, eris.New("database path is required")
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = defaultBusyTimeout
	}
	if opts.SlowThreshold <= 0 {
		opts.SlowThreshold = defaultSlowThreshold
	}

	if dir := filepath.Dir(opts.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "creating database directory: %s", dir)
		}
	}

	busyMillis := int(opts.BusyTimeout / time.Millisecond)
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL", opts.Path, busyMillis)

	var gormLogger logger.Interface = logger.Default.LogMode(logger.Silent)
	if opts.Logger != nil {
		gormLogger = &logrusAdapter{log: opts.Logger, level: logger.Warn, slow: opts.SlowThreshold}
	}

	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, eris.Wrap(err, "opening sqlite database")
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, eris.Wrap(err, "retrieving sql.DB")
	}
	sqlDB.SetMaxOpenConns(1)

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d;", busyMillis),
		"PRAGMA journal_mode = WAL;",
	}
	for _, pragma := range pragmas {
		if err := conn.Exec(pragma).Error; err != nil {
			_ = Close(conn)
			return nil, eris.Wrapf(err, "applying %s", pragma)
		}
	}

	return conn, nil
}

// Ping verifies the connection is usable.
func Ping(ctx context.Context, conn *gorm.DB) error {
	if conn == nil {
		return eris.New("gorm.DB is nil")
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return eris.Wrap(err, "retrieving sql.DB")
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return eris.Wrap(err, "pinging database")
	}
	return nil
}

// Close releases the underlying database resources.
func Close(conn *gorm.DB) error {
	if conn == nil {
		return nil
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return eris.Wrap(err, "retrieving sql.DB for close")
	}
	if err := sqlDB.Close(); err != nil {
		return eris.Wrap(err, "closing database connection")
	}
	return nil
}

// logrusAdapter routes gorm's statement log into the process logger.
type logrusAdapter struct {
	log   *logrus.Logger
	level logger.LogLevel
	slow  time.Duration
}

var _ logger.Interface = (*logrusAdapter)(nil)

func (a *logrusAdapter) LogMode(level logger.LogLevel) logger.Interface {
	clone := *a
	clone.level = level
	return &clone
}

func (a *logrusAdapter) Info(_ context.Context, msg string, args ...any) {
	if a.level >= logger.Info {
		a.entry().Infof(msg, args...)
	}
}

func (a *logrusAdapter) Warn(_ context.Context, msg string, args ...any) {
	if a.level >= logger.Warn {
		a.entry().Warnf(msg, args...)
	}
}

func (a *logrusAdapter) Error(_ context.Context, msg string, args ...any) {
	if a.level >= logger.Error {
		a.entry().Errorf(msg, args...)
	}
}

func (a *logrusAdapter) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if a.level <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && a.level >= logger.Error:
		sql, rows := fc()
		a.entry().WithFields(logrus.Fields{
			"error":       err.Error(),
			"sql":         sql,
			"rows":        rows,
			"duration_ms": elapsed.Milliseconds(),
		}).Error("settings query failed")
	case elapsed > a.slow && a.level >= logger.Warn:
		sql, rows := fc()
		a.entry().WithFields(logrus.Fields{
			"sql":         sql,
			"rows":        rows,
			"duration_ms": elapsed.Milliseconds(),
		}).Warn("slow settings query")
	case a.level >= logger.Info:
		sql, rows := fc()
		a.entry().WithFields(logrus.Fields{"sql": sql, "rows": rows}).Debug("settings query")
	}
}

func (a *logrusAdapter) entry() *logrus.Entry {
	return a.log.WithField("component", "db")
}
