package storage

import (
	"context"
	"errors"
	"time"

	"github.com/GriffinCanCode/corsbroker/internal/infrastructure/tracing"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormLogger routes gorm logs to zap.
type GormLogger struct {
	logger        *zap.Logger
	level         logger.LogLevel
	slowThreshold time.Duration
}

// NewGormLogger creates a GormLogger at Info level.
func NewGormLogger(l *zap.Logger, slowThreshold time.Duration) *GormLogger {
	if slowThreshold <= 0 {
		slowThreshold = 200 * time.Millisecond
	}
	return &GormLogger{
		logger:        l.Named("sql"),
		level:         logger.Info,
		slowThreshold: slowThreshold,
	}
}

// LogMode returns a copy at the given level.
func (l *GormLogger) LogMode(level logger.LogLevel) logger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Info {
		l.logger.Sugar().Infow(msg, l.traceFields(ctx, data)...)
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Warn {
		l.logger.Sugar().Warnw(msg, l.traceFields(ctx, data)...)
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Error {
		l.logger.Sugar().Errorw(msg, l.traceFields(ctx, data)...)
	}
}

// Trace logs one executed statement.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := []zap.Field{
		zap.String("trace_id", tracing.GetTraceID(ctx).String()),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
		zap.Duration("elapsed", elapsed),
	}

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= logger.Error:
		l.logger.Error("sql failed", append(fields, zap.Error(err))...)
	case elapsed > l.slowThreshold && l.level >= logger.Warn:
		l.logger.Warn("slow sql", append(fields, zap.Duration("threshold", l.slowThreshold))...)
	case l.level == logger.Info:
		l.logger.Debug("sql", fields...)
	}
}

func (l *GormLogger) traceFields(ctx context.Context, data []any) []any {
	return append([]any{"trace_id", tracing.GetTraceID(ctx).String()}, data...)
}
