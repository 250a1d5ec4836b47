package logger

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// GormLoggerConfig configures the GORM zap logger.
type GormLoggerConfig struct {
	Level                gormlogger.LogLevel
	SlowThreshold        time.Duration
	IgnoreRecordNotFound bool
}

func DefaultGormLoggerConfig() GormLoggerConfig {
	return GormLoggerConfig{
		Level:                gormlogger.Warn,
		SlowThreshold:        200 * time.Millisecond,
		IgnoreRecordNotFound: true,
	}
}

// GormLogger routes GORM statements through zap with request correlation.
// Bound parameters are never logged.
type GormLogger struct {
	base   *zap.Logger
	config GormLoggerConfig
}

func NewGormLogger(base *zap.Logger, cfg GormLoggerConfig) *GormLogger {
	if base == nil {
		base = zap.NewNop()
	}
	return &GormLogger{base: base.Named("gorm"), config: cfg}
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.config.Level = level
	return &clone
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	l.printf(ctx, gormlogger.Info, msg, data)
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	l.printf(ctx, gormlogger.Warn, msg, data)
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	l.printf(ctx, gormlogger.Error, msg, data)
}

func (l *GormLogger) printf(ctx context.Context, level gormlogger.LogLevel, msg string, data []interface{}) {
	if l.config.Level < level {
		return
	}
	sugar := WithContext(ctx, l.base).Sugar()
	switch level {
	case gormlogger.Error:
		sugar.Errorf(msg, data...)
	case gormlogger.Warn:
		sugar.Warnf(msg, data...)
	default:
		sugar.Infof(msg, data...)
	}
}

// Trace logs a finished statement. Failures log at error, except unique
// violations, which version and usage writes hit on lost races and handle
// themselves. Slow statements log at warn; the rest only at Info mode.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.config.Level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)

	var (
		level zapcore.Level
		msg   string
	)
	switch {
	case err != nil && errors.Is(err, gormlogger.ErrRecordNotFound) && l.config.IgnoreRecordNotFound:
		return
	case err != nil && errors.Is(err, gorm.ErrDuplicatedKey) && l.config.Level >= gormlogger.Warn:
		level, msg = zapcore.WarnLevel, "gorm.unique_violation"
	case err != nil && l.config.Level >= gormlogger.Error:
		level, msg = zapcore.ErrorLevel, "gorm.query_failed"
	case l.config.SlowThreshold > 0 && elapsed > l.config.SlowThreshold && l.config.Level >= gormlogger.Warn:
		level, msg = zapcore.WarnLevel, "gorm.slow_query"
	case l.config.Level >= gormlogger.Info:
		level, msg = zapcore.DebugLevel, "gorm.query"
	default:
		return
	}

	sql, rows := fc()
	fields := statementFields(sql, rows, elapsed)
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	if ce := WithContext(ctx, l.base).Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
}

// ParamsFilter keeps bound values out of logs.
func (l *GormLogger) ParamsFilter(_ context.Context, sql string, _ ...interface{}) (string, []interface{}) {
	return sql, nil
}

func statementFields(sql string, rows int64, elapsed time.Duration) []zap.Field {
	op, table := describeSQL(sql)
	fields := []zap.Field{
		zap.String("sql", strings.TrimSpace(sql)),
		zap.String("operation", op),
		zap.Duration("took", elapsed),
	}
	if table != "" {
		fields = append(fields, zap.String("table", table))
	}
	if rows >= 0 {
		fields = append(fields, zap.Int64("rows_affected", rows))
	}
	return fields
}

// describeSQL returns the statement verb and the first table it names.
func describeSQL(sql string) (op, table string) {
	op = "UNKNOWN"
	tokens := strings.Fields(sql)
	for i, raw := range tokens {
		token := strings.ToUpper(strings.Trim(raw, "();"))
		switch token {
		case "SELECT", "INSERT", "UPDATE", "DELETE":
			if op == "UNKNOWN" {
				op = token
			}
			if token == "UPDATE" && table == "" && i+1 < len(tokens) {
				table = cleanTable(tokens[i+1])
			}
		case "FROM", "INTO":
			if table == "" && i+1 < len(tokens) {
				table = cleanTable(tokens[i+1])
			}
		}
		if op != "UNKNOWN" && table != "" {
			break
		}
	}
	return op, table
}

func cleanTable(raw string) string {
	return strings.Trim(raw, "\"`();")
}

var _ gormlogger.Interface = (*GormLogger)(nil)
