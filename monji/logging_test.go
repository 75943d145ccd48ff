package monji

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

func TestDBLogLevel(t *testing.T) {
	var level DBLogLevel
	require.NoError(t, level.Set("debug"))
	assert.Equal(t, slog.LevelDebug, level.Level())

	require.NoError(t, level.Set("WARN"))
	assert.Equal(t, slog.LevelWarn, level.Level())

	assert.Error(t, level.Set("verbose"))

	// unknown stored values fall back to info
	assert.Equal(t, slog.LevelInfo, DBLogLevel("whatever").Level())
}

func TestDBLogLevelJSON(t *testing.T) {
	data, err := json.Marshal(DBLogLevelError)
	require.NoError(t, err)
	assert.Equal(t, `"ERROR"`, string(data))

	var level DBLogLevel
	require.NoError(t, json.Unmarshal([]byte(`"info"`), &level))
	assert.Equal(t, DBLogLevelInfo, level)

	assert.Error(t, json.Unmarshal([]byte(`"nope"`), &level))
}

func TestDBLogLevelScan(t *testing.T) {
	var level DBLogLevel
	require.NoError(t, level.Scan("ERROR"))
	assert.Equal(t, DBLogLevelError, level)

	value, err := level.Value()
	require.NoError(t, err)
	assert.Equal(t, "ERROR", value)

	assert.Error(t, level.Scan(42))
}

func TestGORMLoggerLogMode(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(
		&buf,
		&slog.HandlerOptions{Level: slog.LevelDebug},
	)
	g := newGORMLogger(handler, 500*time.Millisecond)

	// gorm calls LogMode when building sessions (ex: db.Debug()); the
	// returned logger must be usable
	derived := g.LogMode(logger.Info)
	derived.Info(context.Background(), "migrating %s", "players")
	assert.Contains(t, buf.String(), "migrating players")
}

func TestGORMLoggerTrace(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(
		&buf,
		&slog.HandlerOptions{Level: slog.LevelDebug},
	)
	g := newGORMLogger(handler, time.Minute)
	ctx := context.Background()

	g.Trace(
		ctx,
		time.Now(),
		func() (string, int64) { return "SELECT 1", -1 },
		nil,
	)
	out := buf.String()
	assert.Contains(t, out, "sql completed")
	assert.Contains(t, out, "rows=-")

	buf.Reset()
	g.slowThreshold = time.Nanosecond
	g.Trace(
		ctx,
		time.Now().Add(-time.Second),
		func() (string, int64) { return "SELECT * FROM questions", 3 },
		nil,
	)
	out = buf.String()
	assert.Contains(t, out, "slow sql")
	assert.Contains(t, out, "rows=3")
}

func TestDiscordgoLoggerFunc(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(
		&buf,
		&slog.HandlerOptions{Level: slog.LevelDebug},
	)
	logFunc := discordgoLoggerFunc(context.Background(), handler)

	logFunc(discordgo.LogWarning, 0, "gateway %s\n", "reconnecting")
	out := buf.String()
	assert.Contains(t, out, "gateway reconnecting")
	assert.Contains(t, out, "level=WARN")

	buf.Reset()
	logFunc(-1, 0, "unknown level")
	assert.Contains(t, buf.String(), "level=INFO")
}
