package monji

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm/logger"
)

const loggerNameKey = "logger"

var discordGoLogLevels = map[int]slog.Level{
	discordgo.LogDebug:         slog.LevelDebug,
	discordgo.LogError:         slog.LevelError,
	discordgo.LogWarning:       slog.LevelWarn,
	discordgo.LogInformational: slog.LevelInfo,
}

// discordgoLoggerFunc bridges discordgo's printf-style logger onto a
// slog handler. Unknown discordgo levels log at INFO.
func discordgoLoggerFunc(ctx context.Context, handler slog.Handler) func(
	msgL int,
	caller int,
	format string,
	args ...any,
) {
	log := slog.New(handler)
	return func(msgL int, _ int, format string, args ...any) {
		level, ok := discordGoLogLevels[msgL]
		if !ok {
			level = slog.LevelInfo
		}
		msg := strings.ReplaceAll(fmt.Sprintf(format, args...), "\n", "")
		log.LogAttrs(ctx, level, msg)
	}
}

// DBLogLevel is a log level stored as a string column, used for the
// runtime-adjustable levels in RuntimeConfig.
type DBLogLevel string

var (
	DBLogLevelInfo  = DBLogLevel(slog.LevelInfo.String())
	DBLogLevelWarn  = DBLogLevel(slog.LevelWarn.String())
	DBLogLevelError = DBLogLevel(slog.LevelError.String())
	DBLogLevelDebug = DBLogLevel(slog.LevelDebug.String())
)

var dbLogLevels = map[string]slog.Level{
	"DEBUG": slog.LevelDebug,
	"INFO":  slog.LevelInfo,
	"WARN":  slog.LevelWarn,
	"ERROR": slog.LevelError,
}

func (l DBLogLevel) String() string {
	return string(l)
}

// Level returns the slog.Level for the stored value. Values that don't
// name a known level fall back to INFO.
func (l DBLogLevel) Level() slog.Level {
	if level, ok := dbLogLevels[strings.ToUpper(string(l))]; ok {
		return level
	}
	slog.Default().Error(fmt.Sprintf("unknown log level '%s'", string(l)))
	return slog.LevelInfo
}

// Set assigns the level from a string, case-insensitively.
func (l *DBLogLevel) Set(s string) error {
	level, ok := dbLogLevels[strings.ToUpper(s)]
	if !ok {
		return fmt.Errorf("unknown log level: %s", s)
	}
	*l = DBLogLevel(level.String())
	return nil
}

// Scan implements the sql.Scanner interface.
func (l *DBLogLevel) Scan(value any) error {
	switch v := value.(type) {
	case []byte:
		return l.Set(string(v))
	case string:
		return l.Set(v)
	default:
		return errors.New("invalid type for DBLogLevel")
	}
}

// Value implements the driver.Valuer interface.
func (l DBLogLevel) Value() (driver.Value, error) {
	return l.String(), nil
}

// GormDataType implements the gorm.GormDataTypeInterface interface.
func (DBLogLevel) GormDataType() string {
	return "string"
}

// MarshalJSON implements the json.Marshaller interface.
func (l DBLogLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (l *DBLogLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return l.Set(s)
}

// gormStructuredLogger adapts GORM's logger interface onto slog.
// Queries log at DEBUG; queries slower than slowThreshold log at WARN.
type gormStructuredLogger struct {
	logger        *slog.Logger
	slowThreshold time.Duration
}

func newGORMLogger(
	handler slog.Handler,
	slowThreshold time.Duration,
) *gormStructuredLogger {
	return &gormStructuredLogger{
		logger:        slog.New(handler).With(loggerNameKey, "gorm"),
		slowThreshold: slowThreshold,
	}
}

// LogMode is a no-op: verbosity is controlled by the slog handler, not
// by GORM's level.
func (g *gormStructuredLogger) LogMode(_ logger.LogLevel) logger.Interface {
	return g
}

func (g *gormStructuredLogger) Info(ctx context.Context, s string, i ...any) {
	g.logger.InfoContext(ctx, fmt.Sprintf(s, i...))
}

func (g *gormStructuredLogger) Warn(ctx context.Context, s string, i ...any) {
	g.logger.WarnContext(ctx, fmt.Sprintf(s, i...))
}

func (g *gormStructuredLogger) Error(ctx context.Context, s string, i ...any) {
	g.logger.ErrorContext(ctx, fmt.Sprintf(s, i...))
}

func (g *gormStructuredLogger) Trace(
	ctx context.Context,
	begin time.Time,
	fc func() (sql string, rowsAffected int64),
	err error,
) {
	elapsed := time.Since(begin)
	sql, rowsAffected := fc()

	// -1 means the statement doesn't report affected rows
	rows := any(rowsAffected)
	if rowsAffected == -1 {
		rows = "-"
	}
	attrs := []any{
		"elapsed", elapsed,
		"threshold", g.slowThreshold,
		"rows", rows,
		"sql", sql,
		tint.Err(err),
	}

	if g.slowThreshold > 0 && elapsed > g.slowThreshold {
		g.logger.WarnContext(ctx, "slow sql", attrs...)
		return
	}
	g.logger.DebugContext(ctx, "sql completed", attrs...)
}
