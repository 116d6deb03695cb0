package logger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// GormLoggerAdapter sends GORM output to a Logger. Statements log at trace
// level, so they appear only with module_levels.datastore set to "trace".
// Slow statements and failures other than a missing record log at warn.
type GormLoggerAdapter struct {
	log  Logger
	slow time.Duration
}

var _ gormlogger.Interface = (*GormLoggerAdapter)(nil)

// NewGormLoggerAdapter wraps log. A zero slow threshold disables slow
// statement warnings.
func NewGormLoggerAdapter(log Logger, slow time.Duration) *GormLoggerAdapter {
	if log == nil {
		log = Global().Module("datastore")
	}
	return &GormLoggerAdapter{log: log, slow: slow}
}

// LogMode ignores GORM's level; module levels decide what is written.
func (a *GormLoggerAdapter) LogMode(gormlogger.LogLevel) gormlogger.Interface {
	return a
}

func (a *GormLoggerAdapter) Info(_ context.Context, format string, args ...any) {
	a.log.Debug(fmt.Sprintf(format, args...))
}

func (a *GormLoggerAdapter) Warn(_ context.Context, format string, args ...any) {
	a.log.Warn(fmt.Sprintf(format, args...))
}

func (a *GormLoggerAdapter) Error(_ context.Context, format string, args ...any) {
	a.log.Error(fmt.Sprintf(format, args...))
}

// Trace records one executed statement.
func (a *GormLoggerAdapter) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	failed := err != nil && !errors.Is(err, gorm.ErrRecordNotFound)
	slow := a.slow > 0 && elapsed > a.slow

	log := a.log.WithContext(ctx)
	if !failed && !slow {
		// fc renders the SQL, so skip it when nothing is written.
		if ml, ok := a.log.(*moduleLogger); ok && ml.level > traceLevelValue {
			return
		}
	}

	sql, rows := fc()
	fields := []Field{
		String("sql", sql),
		Int64("rows", rows),
		Duration("elapsed", elapsed),
	}
	switch {
	case failed:
		log.Warn("statement failed", append(fields, Error(err))...)
	case slow:
		log.Warn("slow statement", append(fields, Duration("threshold", a.slow))...)
	default:
		log.Trace("statement", fields...)
	}
}
