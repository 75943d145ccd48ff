package monji

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGameManagerStart(t *testing.T) {
	bot, _ := newTestBot(t)
	setTestGameTimings(t, bot)
	seedQuestion(t, bot.db, "What is the capital of France?", "Paris")
	ctx := context.Background()

	session, err := bot.games.Start(
		ctx, GameModeTrivia, "guild-1", "channel-1", "user-1", 1,
	)
	require.NoError(t, err)
	assert.Equal(t, 1, session.maxRounds)
	assert.Equal(t, 1, bot.games.ActiveCount())
	assert.Same(t, session, bot.games.Get("channel-1"))

	_, err = bot.games.Start(
		ctx, GameModeTrivia, "guild-1", "channel-1", "user-2", 1,
	)
	assert.ErrorIs(t, err, ErrGameInProgress)

	session.stop()
	waitFor(
		t, 2*time.Second, func() bool {
			return bot.games.Get("channel-1") == nil
		},
	)
}

func TestGameManagerStartClampsRounds(t *testing.T) {
	bot, _ := newTestBot(t)
	setTestGameTimings(t, bot)
	seedQuestion(t, bot.db, "q?", "a")

	config := bot.RuntimeConfig()
	config.TriviaRoundsMin = 5
	config.TriviaRoundsMax = 10
	bot.setRuntimeConfig(&config)

	session, err := bot.games.Start(
		context.Background(), GameModeTrivia, "guild-1", "channel-1", "user-1", 500,
	)
	require.NoError(t, err)
	assert.Equal(t, 10, session.maxRounds)
	session.stop()

	session, err = bot.games.Start(
		context.Background(), GameModeTrivia, "guild-1", "channel-2", "user-1", 1,
	)
	require.NoError(t, err)
	assert.Equal(t, 5, session.maxRounds)
	session.stop()
}

func TestGameManagerStartPaused(t *testing.T) {
	bot, _ := newTestBot(t)
	config := bot.RuntimeConfig()
	config.Paused = true
	bot.setRuntimeConfig(&config)

	_, err := bot.games.Start(
		context.Background(), GameModeTrivia, "guild-1", "channel-1", "user-1", 5,
	)
	assert.ErrorIs(t, err, ErrBotPaused)
}

func TestTriviaRoundWinner(t *testing.T) {
	bot, session := newTestBot(t)
	setTestGameTimings(t, bot)
	seedQuestion(t, bot.db, "What is the capital of France?", "Paris")
	ctx := context.Background()

	game, err := bot.games.Start(
		ctx, GameModeTrivia, "guild-1", "channel-1", "user-1", 1,
	)
	require.NoError(t, err)

	waitForMessage(t, session, "Round 1/1", 2*time.Second)
	game.submitAnswer(
		playerAnswer{
			userID:    "user-1",
			name:      "alice",
			content:   "paris!",
			messageID: "msg-1",
			timestamp: time.Now(),
		},
	)

	waitFor(
		t, 2*time.Second, func() bool {
			return bot.games.Get("channel-1") == nil
		},
	)
	assert.True(t, session.hasMessageContaining("**alice** got it!"))
	assert.True(t, session.hasMessageContaining("**alice** wins!"))

	player, _, err := PlayerRank(ctx, bot.db, "guild-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), player.Score)
	assert.Equal(t, int64(1), player.Wins)

	var record GameRecord
	require.NoError(t, bot.db.DB().Last(&record).Error)
	assert.Equal(t, "user-1", record.WinnerID)
	assert.Equal(t, 1, record.RoundsPlayed)
	assert.False(t, record.Stopped)
	assert.Positive(t, record.FinishedAt)
}

func TestTriviaRoundGraceWindowPicksEarliest(t *testing.T) {
	bot, session := newTestBot(t)
	setTestGameTimings(t, bot)
	config := bot.RuntimeConfig()
	config.WinnerGraceWindow = Duration{300 * time.Millisecond}
	bot.setRuntimeConfig(&config)
	seedQuestion(t, bot.db, "What is the capital of France?", "Paris")
	ctx := context.Background()

	game, err := bot.games.Start(
		ctx, GameModeTrivia, "guild-1", "channel-1", "user-1", 1,
	)
	require.NoError(t, err)

	waitForMessage(t, session, "Round 1/1", 2*time.Second)
	now := time.Now()
	game.submitAnswer(
		playerAnswer{
			userID:    "user-1",
			name:      "alice",
			content:   "paris",
			timestamp: now,
		},
	)
	// bob's message arrived at discord earlier, but the gateway
	// delivered it second
	game.submitAnswer(
		playerAnswer{
			userID:    "user-2",
			name:      "bob",
			content:   "Paris",
			timestamp: now.Add(-50 * time.Millisecond),
		},
	)

	waitFor(
		t, 2*time.Second, func() bool {
			return bot.games.Get("channel-1") == nil
		},
	)
	assert.True(t, session.hasMessageContaining("**bob** got it!"))
	assert.False(t, session.hasMessageContaining("**alice** got it!"))
}

func TestTriviaRoundTimeout(t *testing.T) {
	bot, session := newTestBot(t)
	setTestGameTimings(t, bot)
	seedQuestion(t, bot.db, "What is the capital of France?", "Paris")

	_, err := bot.games.Start(
		context.Background(), GameModeTrivia, "guild-1", "channel-1", "user-1", 1,
	)
	require.NoError(t, err)

	waitForMessage(t, session, "Hint 1", 2*time.Second)
	waitForMessage(t, session, "Hint 3", 2*time.Second)
	waitForMessage(t, session, "The answer was **Paris**", 2*time.Second)
	waitForMessage(t, session, "Nobody scored", 2*time.Second)
	waitFor(
		t, 2*time.Second, func() bool {
			return bot.games.Get("channel-1") == nil
		},
	)
}

func TestScrambleRound(t *testing.T) {
	bot, session := newTestBot(t)
	setTestGameTimings(t, bot)
	seedScrambleWord(t, bot.db, "banana")
	ctx := context.Background()

	game, err := bot.games.Start(
		ctx, GameModeScramble, "guild-1", "channel-1", "user-1", 1,
	)
	require.NoError(t, err)

	waitForMessage(t, session, "Unscramble:", 2*time.Second)

	// scramble answers must be the exact word, not a fuzzy match
	game.submitAnswer(
		playerAnswer{
			userID:    "user-1",
			name:      "alice",
			content:   "banan",
			timestamp: time.Now(),
		},
	)
	game.submitAnswer(
		playerAnswer{
			userID:    "user-2",
			name:      "bob",
			content:   " BANANA ",
			timestamp: time.Now(),
		},
	)

	waitFor(
		t, 2*time.Second, func() bool {
			return bot.games.Get("channel-1") == nil
		},
	)
	assert.True(t, session.hasMessageContaining("**bob** got it!"))
	assert.False(t, session.hasMessageContaining("**alice** got it!"))
}

func TestGameStoppedEarly(t *testing.T) {
	bot, session := newTestBot(t)
	setTestGameTimings(t, bot)
	config := bot.RuntimeConfig()
	config.TriviaFinalWait = Duration{5 * time.Second}
	bot.setRuntimeConfig(&config)
	seedQuestion(t, bot.db, "q?", "a1")

	game, err := bot.games.Start(
		context.Background(), GameModeTrivia, "guild-1", "channel-1", "user-1", 1,
	)
	require.NoError(t, err)
	waitForMessage(t, session, "Round 1/1", 2*time.Second)

	game.stop()
	waitFor(
		t, 2*time.Second, func() bool {
			return bot.games.Get("channel-1") == nil
		},
	)

	var record GameRecord
	require.NoError(t, bot.db.DB().Last(&record).Error)
	assert.True(t, record.Stopped)
	assert.Equal(t, 0, record.RoundsPlayed)
}

func TestGameEndsWhenOutOfQuestions(t *testing.T) {
	bot, session := newTestBot(t)
	setTestGameTimings(t, bot)

	_, err := bot.games.Start(
		context.Background(), GameModeTrivia, "guild-1", "channel-1", "user-1", 1,
	)
	require.NoError(t, err)

	waitForMessage(t, session, "I'm all out!", 2*time.Second)
	waitFor(
		t, 2*time.Second, func() bool {
			return bot.games.Get("channel-1") == nil
		},
	)
}

func TestStopAll(t *testing.T) {
	bot, _ := newTestBot(t)
	setTestGameTimings(t, bot)
	config := bot.RuntimeConfig()
	config.TriviaFinalWait = Duration{5 * time.Second}
	bot.setRuntimeConfig(&config)
	seedQuestion(t, bot.db, "q1?", "a1")
	seedQuestion(t, bot.db, "q2?", "a2")
	ctx := context.Background()

	_, err := bot.games.Start(ctx, GameModeTrivia, "guild-1", "channel-1", "u", 1)
	require.NoError(t, err)
	_, err = bot.games.Start(ctx, GameModeTrivia, "guild-1", "channel-2", "u", 1)
	require.NoError(t, err)
	require.Equal(t, 2, bot.games.ActiveCount())

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	bot.games.StopAll(stopCtx)
	assert.Equal(t, 0, bot.games.ActiveCount())
}

func TestIsCorrect(t *testing.T) {
	trivia := &GameSession{mode: GameModeTrivia}
	scramble := &GameSession{mode: GameModeScramble}

	assert.True(
		t,
		trivia.isCorrect(
			playerAnswer{content: "the eiffel tower"},
			[]string{"Eiffel Tower"},
		),
	)
	assert.True(
		t,
		scramble.isCorrect(playerAnswer{content: "Banana"}, []string{"banana"}),
	)
	assert.False(
		t,
		scramble.isCorrect(playerAnswer{content: "bananas"}, []string{"banana"}),
	)
}

func TestCategoryTag(t *testing.T) {
	assert.Equal(t, "", categoryTag(&Question{}))
	assert.Equal(
		t,
		"_(History, easy)_",
		categoryTag(&Question{Category: "History", Difficulty: "easy"}),
	)
	assert.Equal(
		t,
		"_(History)_",
		categoryTag(&Question{Category: "History"}),
	)
}
