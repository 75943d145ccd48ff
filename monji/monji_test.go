package monji

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupTestDB(t testing.TB) *gorm.DB {
	t.Helper()
	tmpdir := t.TempDir()
	dbPath := filepath.Join(tmpdir, "test.sqlite3")
	db, err := CreateDB(
		context.Background(),
		"sqlite",
		dbPath,
	)
	if err != nil {
		t.Fatalf("error creating test database: %v", err)
	}
	t.Cleanup(
		func() {
			sqlDB, _ := db.DB()
			if sqlDB != nil {
				_ = sqlDB.Close()
			}
		},
	)
	return db
}

func setupTestDBI(t testing.TB) DBI {
	t.Helper()
	return NewDatabase(setupTestDB(t), testLogger(t), false)
}

func testLogger(t testing.TB) *slog.Logger {
	t.Helper()
	return slog.New(
		slog.NewTextHandler(
			io.Discard,
			&slog.HandlerOptions{Level: slog.LevelError},
		),
	).With("test_name", t.Name())
}

// mockDiscordSession implements DiscordSessionHandler, recording
// everything sent through it.
type mockDiscordSession struct {
	mu           sync.Mutex
	messages     []string
	channelIDs   []string
	responses    []*discordgo.InteractionResponse
	customStatus string
	opened       bool
}

func newMockDiscordSession() *mockDiscordSession {
	return &mockDiscordSession{}
}

func (s *mockDiscordSession) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = true
	return nil
}

func (s *mockDiscordSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = false
	return nil
}

func (s *mockDiscordSession) AddHandler(any) func() {
	return func() {}
}

func (s *mockDiscordSession) ApplicationCommandBulkOverwrite(
	_ string,
	_ string,
	commands []*discordgo.ApplicationCommand,
	_ ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	return commands, nil
}

func (s *mockDiscordSession) InteractionRespond(
	_ *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	_ ...discordgo.RequestOption,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, resp)
	return nil
}

func (s *mockDiscordSession) ChannelMessageSend(
	channelID string,
	content string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelIDs = append(s.channelIDs, channelID)
	s.messages = append(s.messages, content)
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

func (s *mockDiscordSession) UpdateCustomStatus(state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customStatus = state
	return nil
}

func (s *mockDiscordSession) sentMessages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	messages := make([]string, len(s.messages))
	copy(messages, s.messages)
	return messages
}

func (s *mockDiscordSession) hasMessageContaining(substr string) bool {
	for _, msg := range s.sentMessages() {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

// waitForMessage polls until a channel message containing substr has
// been sent, failing the test after the timeout.
func waitForMessage(
	t testing.TB,
	session *mockDiscordSession,
	substr string,
	timeout time.Duration,
) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if session.hasMessageContaining(substr) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf(
		"timed out waiting for message containing %q (got: %v)",
		substr,
		session.sentMessages(),
	)
}

func waitFor(t testing.TB, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

// newTestBot returns a Monji instance with an open sqlite database, a
// default runtime config row, and a mocked discord session.
func newTestBot(t testing.TB) (*Monji, *mockDiscordSession) {
	t.Helper()
	gin.DefaultWriter = io.Discard

	cfg := DefaultConfig()
	tmpdir := t.TempDir()
	cfg.Database = filepath.Join(
		tmpdir,
		fmt.Sprintf("%s.sqlite3", strings.ReplaceAll(t.Name(), "/", "_")),
	)
	cfg.Discord.Token = "test-bot-token"
	cfg.Discord.ApplicationID = "test-application-id"
	cfg.API.Secret = "test-cookie-secret-test-cookie-secret"
	cfg.API.CORS.AllowOrigins = []string{"*"}

	bot, err := New(cfg)
	require.NoError(t, err)

	db, err := CreateDB(context.Background(), cfg.DatabaseType, cfg.Database)
	require.NoError(t, err)
	t.Cleanup(
		func() {
			sqlDB, _ := db.DB()
			if sqlDB != nil {
				_ = sqlDB.Close()
			}
		},
	)
	bot.db = NewDatabase(db, testLogger(t), false)

	notifier, err := newDBNotifier(bot)
	require.NoError(t, err)
	bot.dbNotifier = notifier

	runtimeConfig, err := loadRuntimeConfig(context.Background(), bot.db)
	require.NoError(t, err)
	bot.setRuntimeConfig(runtimeConfig)

	session := newMockDiscordSession()
	bot.discord.session = session
	return bot, session
}

// setTestGameTimings swaps the runtime config's game timers for values
// short enough to play out full rounds in tests.
func setTestGameTimings(t testing.TB, bot *Monji) {
	t.Helper()
	config := bot.RuntimeConfig()
	config.TriviaRoundsMin = 1
	config.TriviaHintDelay = Duration{50 * time.Millisecond}
	config.TriviaHintInterval = Duration{50 * time.Millisecond}
	config.TriviaFinalWait = Duration{50 * time.Millisecond}
	config.ScrambleHintInterval = Duration{50 * time.Millisecond}
	config.ScrambleFinalWait = Duration{50 * time.Millisecond}
	config.WinnerGraceWindow = Duration{30 * time.Millisecond}
	config.RoundTransitionDelay = Duration{10 * time.Millisecond}
	config.ScrambleCooldown = Duration{time.Millisecond}
	bot.setRuntimeConfig(&config)
}

func seedQuestion(t testing.TB, db DBI, prompt string, answers ...string) Question {
	t.Helper()
	question := Question{
		Source:   "test",
		Prompt:   prompt,
		Answers:  StringSlice(answers),
		Approved: true,
	}
	added, err := InsertQuestions(context.Background(), db, []Question{question})
	require.NoError(t, err)
	require.Equal(t, int64(1), added)
	return question
}

func seedScrambleWord(t testing.TB, db DBI, word string) {
	t.Helper()
	_, err := db.Create(
		context.Background(),
		&ScrambleWord{Word: word, Approved: true},
	)
	require.NoError(t, err)
}
