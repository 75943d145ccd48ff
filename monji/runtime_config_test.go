package monji

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRuntimeConfigCreatesDefault(t *testing.T) {
	db := setupTestDBI(t)
	ctx := context.Background()

	config, err := loadRuntimeConfig(ctx, db)
	require.NoError(t, err)
	assert.NotZero(t, config.ID)
	assert.Equal(t, DefaultTriviaRoundsMin, config.TriviaRoundsMin)
	assert.Equal(t, DefaultTriviaRoundsMax, config.TriviaRoundsMax)
	assert.Equal(
		t,
		DefaultWinnerGraceWindow,
		config.WinnerGraceWindow.Duration,
	)
	assert.True(t, config.CommentaryEnabled)
	assert.False(t, config.Paused)

	// a second load returns the existing row rather than creating another
	again, err := loadRuntimeConfig(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, config.ID, again.ID)

	var count int64
	require.NoError(t, db.DB().Model(&RuntimeConfig{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestApplyRuntimeConfigUpdate(t *testing.T) {
	config := DefaultRuntimeConfig()
	paused := true
	rounds := 42
	hintDelay := Duration{5 * time.Second}
	password := "hunter2"

	err := applyRuntimeConfigUpdate(
		&config, RuntimeConfigUpdate{
			Paused:          &paused,
			TriviaRoundsMax: &rounds,
			TriviaHintDelay: &hintDelay,
			AdminPassword:   &password,
		},
	)
	require.NoError(t, err)

	assert.True(t, config.Paused)
	assert.Equal(t, 42, config.TriviaRoundsMax)
	assert.Equal(t, 5*time.Second, config.TriviaHintDelay.Duration)

	// the password is stored hashed
	assert.NotEqual(t, password, config.AdminPassword)
	ok, err := VerifyPassword(config.AdminPassword, password)
	require.NoError(t, err)
	assert.True(t, ok)

	// untouched fields keep their defaults
	assert.Equal(t, DefaultTriviaRoundsMin, config.TriviaRoundsMin)
}

func TestRuntimeConfigRefreshOnTrigger(t *testing.T) {
	bot, _ := newTestBot(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go bot.watchRuntimeConfig(ctx)

	config := bot.RuntimeConfig()
	config.TriviaRoundsMax = 55
	_, err := bot.db.Save(ctx, &config)
	require.NoError(t, err)

	bot.dbNotifier.ReloadRuntimeConfig(ctx)
	waitFor(
		t, 2*time.Second, func() bool {
			return bot.RuntimeConfig().TriviaRoundsMax == 55
		},
	)
}

func TestDurationJSON(t *testing.T) {
	d := Duration{90 * time.Second}
	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(data))

	var parsed Duration
	require.NoError(t, json.Unmarshal([]byte(`"25s"`), &parsed))
	assert.Equal(t, 25*time.Second, parsed.Duration)

	assert.Error(t, json.Unmarshal([]byte(`"nope"`), &parsed))
}

func TestDurationScan(t *testing.T) {
	var d Duration
	require.NoError(t, d.Scan("800ms"))
	assert.Equal(t, 800*time.Millisecond, d.Duration)

	value, err := Duration{time.Minute}.Value()
	require.NoError(t, err)
	assert.Equal(t, "1m0s", value)
}
