package monji

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChatCompleter struct {
	mu       sync.Mutex
	reply    string
	err      error
	requests []openai.ChatCompletionRequest
}

func (s *stubChatCompleter) CreateChatCompletion(
	_ context.Context,
	request openai.ChatCompletionRequest,
) (openai.ChatCompletionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, request)
	if s.err != nil {
		return openai.ChatCompletionResponse{}, s.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: s.reply}},
		},
	}, nil
}

func (s *stubChatCompleter) requestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func newTestCommentary(
	t testing.TB,
	stub *stubChatCompleter,
) (*Monji, *mockDiscordSession) {
	t.Helper()
	bot, session := newTestBot(t)
	bot.commentary.client = stub
	return bot, session
}

func TestCommentaryNoAnswer(t *testing.T) {
	stub := &stubChatCompleter{reply: "Tough one, apparently."}
	bot, session := newTestCommentary(t, stub)

	bot.commentary.NoAnswer(context.Background(), "channel-1", "Paris")
	waitForMessage(t, session, "Tough one, apparently.", 2*time.Second)

	require.Equal(t, 1, stub.requestCount())
	request := stub.requests[0]
	assert.Equal(t, DefaultOpenAIModel, request.Model)
	require.Len(t, request.Messages, 2)
	assert.Equal(t, commentarySystemPrompt, request.Messages[0].Content)
	assert.Contains(t, request.Messages[1].Content, `"Paris"`)
}

func TestCommentaryLeakGuard(t *testing.T) {
	stub := &stubChatCompleter{reply: "It was obviously Paris, folks."}
	bot, session := newTestCommentary(t, stub)

	// final hint commentary must never reveal the answer
	bot.commentary.FinalHint(context.Background(), "channel-1", "Paris")
	waitFor(
		t, 2*time.Second, func() bool {
			return stub.requestCount() == 1
		},
	)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, session.sentMessages())
}

func TestCommentaryFallbackOnError(t *testing.T) {
	stub := &stubChatCompleter{err: errors.New("api unavailable")}
	bot, session := newTestCommentary(t, stub)

	bot.commentary.NoAnswer(context.Background(), "channel-1", "Paris")
	waitFor(
		t, 2*time.Second, func() bool {
			return len(session.sentMessages()) == 1
		},
	)
	assert.Contains(
		t,
		commentaryFallbacks["no_answer"],
		session.sentMessages()[0],
	)
}

func TestCommentaryMidgameQuip(t *testing.T) {
	stub := &stubChatCompleter{reply: "Halfway! {mention} is cruising."}
	bot, session := newTestCommentary(t, stub)

	bot.commentary.MidgameQuip(context.Background(), "channel-1", "<@user-1>")
	waitForMessage(t, session, "<@user-1> is cruising.", 2*time.Second)
}

func TestCommentaryMidgameQuipNoLeader(t *testing.T) {
	stub := &stubChatCompleter{reply: "Halfway! {mention} is cruising."}
	bot, session := newTestCommentary(t, stub)

	// a reply that needs a mention is dropped when nobody is leading
	bot.commentary.MidgameQuip(context.Background(), "channel-1", "")
	waitFor(
		t, 2*time.Second, func() bool {
			return stub.requestCount() == 1
		},
	)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, session.sentMessages())
}

func TestCommentaryDisabled(t *testing.T) {
	stub := &stubChatCompleter{reply: "should never appear"}
	bot, session := newTestCommentary(t, stub)

	config := bot.RuntimeConfig()
	config.CommentaryEnabled = false
	bot.setRuntimeConfig(&config)

	bot.commentary.NoAnswer(context.Background(), "channel-1", "Paris")
	bot.commentary.MentionReply(context.Background(), "channel-1", "hi monji")
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, stub.requestCount())
	assert.Empty(t, session.sentMessages())
}

func TestCommentaryNilClient(t *testing.T) {
	bot, session := newTestBot(t)
	require.Nil(t, bot.commentary.client)

	// no OpenAI token configured: events are silently skipped
	bot.commentary.NoAnswer(context.Background(), "channel-1", "Paris")
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, session.sentMessages())
}

func TestCommentaryRateLimited(t *testing.T) {
	stub := &stubChatCompleter{reply: "one"}
	bot, session := newTestCommentary(t, stub)

	bot.commentary.NoAnswer(context.Background(), "channel-1", "Paris")
	bot.commentary.NoAnswer(context.Background(), "channel-1", "Paris")
	waitFor(
		t, 2*time.Second, func() bool {
			return len(session.sentMessages()) == 1
		},
	)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, stub.requestCount())
}

func TestCommentaryMentionReply(t *testing.T) {
	stub := &stubChatCompleter{reply: "You rang?"}
	bot, session := newTestCommentary(t, stub)

	bot.commentary.MentionReply(
		context.Background(),
		"channel-1",
		"@monji are you sentient",
	)
	waitForMessage(t, session, "You rang?", 2*time.Second)

	require.Equal(t, 1, stub.requestCount())
	assert.Contains(
		t,
		stub.requests[0].Messages[1].Content,
		"are you sentient",
	)
}
