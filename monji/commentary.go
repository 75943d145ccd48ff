package monji

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const (
	commentaryMaxLength      = 200
	commentaryRequestTimeout = 10 * time.Second
	commentaryMaxTokens      = 120

	// mentionPlaceholder in a generated quip is replaced with the
	// current leader's mention.
	mentionPlaceholder = "{mention}"
)

const commentarySystemPrompt = `You are Monji, a trivia game host on Discord. ` +
	`You are quick-witted, a little smug, and fond of teasing players, but ` +
	`never mean-spirited. Keep replies to one or two short sentences. ` +
	`Never reveal or hint at the answer to an active question. ` +
	`Do not use emoji more than once per reply.`

var commentaryEventPrompts = map[string]string{
	"mention": `A player mentioned you in chat outside of a game. ` +
		`Reply to their message in character.`,
	"final_hint": `The final hint for a trivia question was just shown and ` +
		`nobody has answered yet. Tease the players about how generous the ` +
		`hints have been. The answer is %q. Do not say the answer.`,
	"no_answer": `A trivia round just ended with no correct answer. ` +
		`The answer was %q, which has now been revealed to the players. ` +
		`Make one short remark about the whiff.`,
	"midgame_quip": `The game just passed its halfway point. Make one short ` +
		`remark about the standings. To mention the current leader, include ` +
		`the literal text {mention} in the reply.`,
}

var commentaryFallbacks = map[string][]string{
	"final_hint": {
		"At this point I'm basically spelling it out for you.",
		"Any more hints and I'd be answering for you.",
	},
	"no_answer": {
		"Tough crowd. Or a tough question, I'm told those exist.",
		"Nobody? Really? Noted.",
	},
	"midgame_quip": {
		"Halfway there, and {mention} is making the rest of you look bad.",
		"Halfway mark! Still anyone's game. Technically.",
	},
}

// openAIChatCompleter covers the single go-openai call commentary makes,
// so tests can stub it.
type openAIChatCompleter interface {
	CreateChatCompletion(
		ctx context.Context,
		request openai.ChatCompletionRequest,
	) (openai.ChatCompletionResponse, error)
}

// Commentary generates LLM color commentary for game events and
// mentions. All methods are fire-and-forget: they post to the channel
// themselves (or a canned fallback) and never block the caller on the
// API round trip.
type Commentary struct {
	m       *Monji
	client  openAIChatCompleter
	model   string
	limiter *rate.Limiter
	logger  *slog.Logger
}

func newCommentary(m *Monji) *Commentary {
	c := &Commentary{
		m:      m,
		model:  m.config.OpenAI.Model,
		logger: slog.New(m.logHandler).With(loggerNameKey, "commentary"),
	}
	rpm := m.config.OpenAI.MaxRequestsPerMinute
	if rpm <= 0 {
		rpm = DefaultOpenAIMaxRequestsPerMinute
	}
	c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
	if m.config.OpenAI.Token != "" {
		clientCfg := openai.DefaultConfig(m.config.OpenAI.Token)
		if m.config.HTTPClient != nil {
			clientCfg.HTTPClient = m.config.HTTPClient
		}
		c.client = openai.NewClientWithConfig(clientCfg)
	}
	return c
}

func (c *Commentary) enabled() bool {
	return c.client != nil && c.m.RuntimeConfig().CommentaryEnabled
}

// MentionReply answers an @mention outside of a game. No fallback: if
// commentary is disabled or the request fails, the mention is ignored.
func (c *Commentary) MentionReply(ctx context.Context, channelID string, content string) {
	if !c.enabled() {
		return
	}
	prompt := fmt.Sprintf(
		"%s\nThe player's message: %q",
		commentaryEventPrompts["mention"],
		truncate(content, 500),
	)
	c.dispatch(ctx, channelID, prompt, "", "mention", nil)
}

// FinalHint posts snark after the last trivia hint goes unanswered.
func (c *Commentary) FinalHint(ctx context.Context, channelID string, answer string) {
	c.event(ctx, channelID, "final_hint", answer)
}

// NoAnswer posts a remark when a round times out. The answer has
// already been revealed, so the leak guard isn't applied here.
func (c *Commentary) NoAnswer(ctx context.Context, channelID string, answer string) {
	c.event(ctx, channelID, "no_answer", "", answer)
}

// MidgameQuip posts a remark at the halfway point of longer games.
// mention may be empty when nobody has scored yet.
func (c *Commentary) MidgameQuip(ctx context.Context, channelID string, mention string) {
	if !c.enabled() {
		return
	}
	prompt := commentaryEventPrompts["midgame_quip"]
	c.dispatch(ctx, channelID, prompt, "", "midgame_quip", func(reply string) string {
		if strings.Contains(reply, mentionPlaceholder) && mention == "" {
			return ""
		}
		return strings.ReplaceAll(reply, mentionPlaceholder, mention)
	})
}

func (c *Commentary) event(
	ctx context.Context,
	channelID string,
	event string,
	guardAnswer string,
	promptArgs ...any,
) {
	if !c.enabled() {
		return
	}
	var args []any
	if guardAnswer != "" {
		args = append(args, guardAnswer)
	}
	args = append(args, promptArgs...)
	prompt := commentaryEventPrompts[event]
	if strings.Contains(prompt, "%") {
		prompt = fmt.Sprintf(prompt, args...)
	}
	c.dispatch(ctx, channelID, prompt, guardAnswer, event, nil)
}

// dispatch requests a completion in the background and posts the reply.
// guardAnswer, when non-empty, suppresses replies that leak the answer.
// When the request fails, a canned line for the event is posted instead.
func (c *Commentary) dispatch(
	ctx context.Context,
	channelID string,
	prompt string,
	guardAnswer string,
	event string,
	transform func(string) string,
) {
	if !c.limiter.Allow() {
		c.logger.Debug("commentary rate limited", "channel_id", channelID)
		return
	}

	go func() {
		reqCtx, cancel := context.WithTimeout(
			context.WithoutCancel(ctx),
			commentaryRequestTimeout,
		)
		defer cancel()

		resp, err := c.client.CreateChatCompletion(
			reqCtx, openai.ChatCompletionRequest{
				Model:     c.model,
				MaxTokens: commentaryMaxTokens,
				Messages: []openai.ChatCompletionMessage{
					{
						Role:    openai.ChatMessageRoleSystem,
						Content: commentarySystemPrompt,
					},
					{
						Role:    openai.ChatMessageRoleUser,
						Content: prompt,
					},
				},
			},
		)
		if err != nil {
			c.logger.Warn("commentary request failed", tint.Err(err))
			c.fallback(reqCtx, channelID, event, transform)
			return
		}
		if len(resp.Choices) == 0 {
			c.fallback(reqCtx, channelID, event, transform)
			return
		}
		reply := strings.TrimSpace(resp.Choices[0].Message.Content)
		if reply == "" {
			c.fallback(reqCtx, channelID, event, transform)
			return
		}
		if guardAnswer != "" && strings.Contains(
			normalizeAnswer(reply),
			normalizeAnswer(guardAnswer),
		) {
			c.logger.Warn("commentary reply leaked the answer, dropping")
			return
		}
		if transform != nil {
			reply = transform(reply)
		}
		if reply == "" {
			return
		}
		c.m.channelMessageSend(reqCtx, channelID, truncate(reply, commentaryMaxLength))
	}()
}

func (c *Commentary) fallback(
	ctx context.Context,
	channelID string,
	event string,
	transform func(string) string,
) {
	lines := commentaryFallbacks[event]
	if len(lines) == 0 {
		return
	}
	line := lines[rand.Intn(len(lines))]
	if transform != nil {
		line = transform(line)
	}
	if line == "" || strings.Contains(line, mentionPlaceholder) {
		return
	}
	c.m.channelMessageSend(ctx, channelID, line)
}
