package monji

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lmittmann/tint"
)

// GameMode identifies the type of game running in a channel.
type GameMode string

const (
	GameModeTrivia   GameMode = "trivia"
	GameModeScramble GameMode = "scramble"
)

var (
	// ErrGameInProgress indicates a game is already active in the channel.
	ErrGameInProgress = errors.New("a game is already running in this channel")

	// ErrNoActiveGame indicates a stop command was used with no game running.
	ErrNoActiveGame = errors.New("no game is running in this channel")

	// ErrBotPaused indicates new games are temporarily disabled.
	ErrBotPaused = errors.New("the bot is paused")

	errGameStopped = errors.New("game stopped")

	gameAnswerBuffer = 64
)

// playerAnswer is a channel message submitted while a round is active.
type playerAnswer struct {
	userID    string
	name      string
	content   string
	messageID string
	timestamp time.Time
}

// GameManager tracks active game sessions, one per channel.
type GameManager struct {
	m      *Monji
	logger *slog.Logger
	mu     sync.Mutex
	games  map[string]*GameSession
	wg     sync.WaitGroup
}

func newGameManager(m *Monji) *GameManager {
	return &GameManager{
		m:      m,
		logger: m.logger.With(loggerNameKey, "games"),
		games:  map[string]*GameSession{},
	}
}

// Start begins a new game in the channel. The requested round count is
// clamped to the runtime config's bounds. Returns ErrGameInProgress if
// the channel already has an active game, and ErrBotPaused while the
// bot is paused.
func (gm *GameManager) Start(
	ctx context.Context,
	mode GameMode,
	guildID string,
	channelID string,
	startedByID string,
	rounds int,
) (*GameSession, error) {
	config := gm.m.RuntimeConfig()
	if config.Paused {
		return nil, ErrBotPaused
	}
	if rounds < config.TriviaRoundsMin {
		rounds = config.TriviaRoundsMin
	}
	if rounds > config.TriviaRoundsMax {
		rounds = config.TriviaRoundsMax
	}

	gm.mu.Lock()
	defer gm.mu.Unlock()
	if _, ok := gm.games[channelID]; ok {
		return nil, ErrGameInProgress
	}

	record := &GameRecord{
		Mode:            string(mode),
		GuildID:         guildID,
		ChannelID:       channelID,
		StartedByID:     startedByID,
		RoundsRequested: rounds,
	}
	if _, err := gm.m.db.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("error creating game record: %w", err)
	}

	session := &GameSession{
		id:          uuid.NewString(),
		mode:        mode,
		guildID:     guildID,
		channelID:   channelID,
		startedByID: startedByID,
		maxRounds:   rounds,
		manager:     gm,
		record:      record,
		logger: gm.logger.With(
			"game_id", record.ID,
			"mode", mode,
			"channel_id", channelID,
		),
		answerCh: make(chan playerAnswer, gameAnswerBuffer),
		stopCh:   make(chan struct{}),
		scores:   map[string]int64{},
		names:    map[string]string{},
	}
	gm.games[channelID] = session

	gm.wg.Add(1)
	go func() {
		defer gm.wg.Done()
		session.run(ctx)
	}()
	return session, nil
}

// Stop ends the game running in the channel, if any.
func (gm *GameManager) Stop(channelID string) error {
	gm.mu.Lock()
	session, ok := gm.games[channelID]
	gm.mu.Unlock()
	if !ok {
		return ErrNoActiveGame
	}
	session.stop()
	return nil
}

// Get returns the active session for a channel, or nil.
func (gm *GameManager) Get(channelID string) *GameSession {
	gm.mu.Lock()
	defer gm.mu.Unlock()
	return gm.games[channelID]
}

// ActiveCount returns the number of channels with a game running.
func (gm *GameManager) ActiveCount() int {
	gm.mu.Lock()
	defer gm.mu.Unlock()
	return len(gm.games)
}

// StopAll ends every active game and waits for their goroutines to
// finish, up to the context deadline.
func (gm *GameManager) StopAll(ctx context.Context) {
	gm.mu.Lock()
	for _, session := range gm.games {
		session.stop()
	}
	gm.mu.Unlock()

	done := make(chan struct{})
	go func() {
		gm.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		gm.logger.Warn("timed out waiting for games to stop")
	}
}

func (gm *GameManager) remove(channelID string) {
	gm.mu.Lock()
	delete(gm.games, channelID)
	gm.mu.Unlock()
}

// GameSession is a single multi-round game in one channel, driven by
// its own goroutine.
type GameSession struct {
	id          string
	mode        GameMode
	guildID     string
	channelID   string
	startedByID string
	maxRounds   int

	manager *GameManager
	logger  *slog.Logger
	record  *GameRecord

	answerCh chan playerAnswer
	stopCh   chan struct{}
	stopOnce sync.Once

	// roundActive gates answer submission: messages arriving between
	// rounds or during winner resolution are ignored.
	roundActive atomic.Bool

	mu              sync.Mutex
	scores          map[string]int64
	names           map[string]string
	usedQuestionIDs []uint
	roundsPlayed    int
	midgameQuipDone bool
}

// stop signals the session goroutine to end after the current select.
func (g *GameSession) stop() {
	g.stopOnce.Do(
		func() {
			close(g.stopCh)
		},
	)
}

// submitAnswer forwards a channel message into the active round.
// Non-blocking: when the buffer is full the message is dropped, which
// only happens under spam well past any plausible winner.
func (g *GameSession) submitAnswer(ans playerAnswer) {
	if !g.roundActive.Load() {
		return
	}
	select {
	case g.answerCh <- ans:
	default:
	}
}

func (g *GameSession) run(ctx context.Context) {
	defer g.manager.remove(g.channelID)
	g.logger.Info("game started", "rounds", g.maxRounds)

	stopped := false
	for round := 1; round <= g.maxRounds; round++ {
		if err := g.playRound(ctx, round); err != nil {
			if errors.Is(err, errGameStopped) {
				stopped = true
				break
			}
			if errors.Is(err, ErrNoQuestions) || errors.Is(err, ErrNoScrambleWords) {
				g.send(ctx, "I'm all out! Ending the game early.")
				break
			}
			g.logger.Error("error playing round", tint.Err(err))
			g.send(ctx, "Something went wrong, ending the game.")
			break
		}

		g.mu.Lock()
		g.roundsPlayed = round
		g.mu.Unlock()

		g.maybeMidgameQuip(ctx, round)

		if round < g.maxRounds {
			if !g.pause(ctx, g.runtime().RoundTransitionDelay.Duration) {
				stopped = true
				break
			}
		}
	}

	g.finalize(ctx, stopped)
}

func (g *GameSession) runtime() RuntimeConfig {
	return g.manager.m.RuntimeConfig()
}

// pause sleeps for the given duration, returning false if the game was
// stopped or the context canceled while waiting.
func (g *GameSession) pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-g.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}

// roundEvent is a scheduled point in a round's timeline: a hint, or the
// round timeout.
type roundEvent struct {
	after   time.Duration
	message string

	// snark requests no-answer flavored commentary alongside the final
	// trivia hint.
	snark   bool
	timeout bool
}

func (g *GameSession) playRound(ctx context.Context, round int) error {
	var prompt string
	var answers []string
	var canonical string
	var events []roundEvent
	config := g.runtime()

	switch g.mode {
	case GameModeTrivia:
		g.mu.Lock()
		used := make([]uint, len(g.usedQuestionIDs))
		copy(used, g.usedQuestionIDs)
		g.mu.Unlock()

		question, err := PickQuestion(ctx, g.manager.m.db, g.guildID, used)
		if err != nil {
			return err
		}
		g.mu.Lock()
		g.usedQuestionIDs = append(g.usedQuestionIDs, question.ID)
		g.mu.Unlock()

		answers = question.Answers
		canonical = question.CanonicalAnswer()
		prompt = fmt.Sprintf(
			"**Round %d/%d** %s\n%s",
			round,
			g.maxRounds,
			categoryTag(question),
			question.Prompt,
		)

		if hintEligible(canonical) {
			for level := 1; level <= triviaHintLevels; level++ {
				after := config.TriviaHintDelay.Duration
				if level > 1 {
					after = config.TriviaHintInterval.Duration
				}
				events = append(
					events, roundEvent{
						after: after,
						message: fmt.Sprintf(
							"**Hint %d:** %s",
							level,
							maskAnswer(canonical, level),
						),
						snark: level == triviaHintLevels,
					},
				)
			}
			events = append(
				events, roundEvent{
					after:   config.TriviaFinalWait.Duration,
					timeout: true,
				},
			)
		} else {
			events = append(
				events, roundEvent{
					after: config.TriviaHintDelay.Duration +
						2*config.TriviaHintInterval.Duration +
						config.TriviaFinalWait.Duration,
					timeout: true,
				},
			)
		}

	case GameModeScramble:
		word, err := PickScrambleWord(
			ctx,
			g.manager.m.db,
			g.guildID,
			config.ScrambleCooldown.Duration,
		)
		if err != nil {
			return err
		}
		scrambled, err := scrambleString(word.Word)
		if err != nil {
			return err
		}
		answers = []string{word.Word}
		canonical = word.Word
		prompt = fmt.Sprintf(
			"**Round %d/%d** Unscramble: `%s`",
			round,
			g.maxRounds,
			strings.ToUpper(scrambled),
		)
		events = []roundEvent{
			{
				after: config.ScrambleHintInterval.Duration,
				message: fmt.Sprintf(
					"**Hint 1:** Starts with **%s** (%d letters)",
					strings.ToUpper(string([]rune(word.Word)[:1])),
					len([]rune(word.Word)),
				),
			},
			{
				after: config.ScrambleHintInterval.Duration,
				message: fmt.Sprintf(
					"**Hint 2:** `%s`",
					scramblePatternHint(word.Word),
				),
			},
			{
				after:   config.ScrambleFinalWait.Duration,
				timeout: true,
			},
		}
	default:
		return fmt.Errorf("unknown game mode: %s", g.mode)
	}

	g.drainAnswers()
	g.roundActive.Store(true)
	defer g.roundActive.Store(false)

	g.send(ctx, prompt)

	for _, event := range events {
		won, err := g.collectAnswers(ctx, event.after, answers)
		if err != nil {
			return err
		}
		if won {
			return nil
		}
		if event.timeout {
			g.send(
				ctx,
				fmt.Sprintf("Time's up! The answer was **%s**.", canonical),
			)
			g.manager.m.commentary.NoAnswer(ctx, g.channelID, canonical)
			return nil
		}
		g.send(ctx, event.message)
		if event.snark {
			g.manager.m.commentary.FinalHint(ctx, g.channelID, canonical)
		}
	}
	return nil
}

// collectAnswers reads answers for the given duration. On the first
// correct answer it keeps collecting for the winner grace window, then
// awards the earliest correct message by timestamp. Returns true if the
// round was won.
func (g *GameSession) collectAnswers(
	ctx context.Context,
	d time.Duration,
	answers []string,
) (bool, error) {
	deadline := time.NewTimer(d)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, errGameStopped
		case <-g.stopCh:
			return false, errGameStopped
		case <-deadline.C:
			return false, nil
		case ans := <-g.answerCh:
			if !g.isCorrect(ans, answers) {
				continue
			}
			winner := g.resolveWinner(ctx, ans, answers)
			g.award(ctx, winner)
			return true, nil
		}
	}
}

func (g *GameSession) isCorrect(ans playerAnswer, answers []string) bool {
	if g.mode == GameModeScramble {
		return strings.EqualFold(
			strings.TrimSpace(ans.content),
			answers[0],
		)
	}
	return answerMatches(ans.content, answers)
}

// resolveWinner collects further correct answers for the grace window,
// then returns the earliest by message timestamp. Near-simultaneous
// answers are decided by when discord received them, not by which one
// the gateway delivered first.
func (g *GameSession) resolveWinner(
	ctx context.Context,
	first playerAnswer,
	answers []string,
) playerAnswer {
	winner := first
	grace := time.NewTimer(g.runtime().WinnerGraceWindow.Duration)
	defer grace.Stop()

	for {
		select {
		case <-ctx.Done():
			return winner
		case <-g.stopCh:
			return winner
		case <-grace.C:
			return winner
		case ans := <-g.answerCh:
			if !g.isCorrect(ans, answers) {
				continue
			}
			if ans.timestamp.Before(winner.timestamp) {
				winner = ans
			}
		}
	}
}

func (g *GameSession) award(ctx context.Context, winner playerAnswer) {
	g.mu.Lock()
	g.scores[winner.userID]++
	g.names[winner.userID] = winner.name
	score := g.scores[winner.userID]
	g.mu.Unlock()

	g.send(
		ctx,
		fmt.Sprintf(
			"**%s** got it! (+1 point, %d total)",
			winner.name,
			score,
		),
	)

	if err := AwardPoints(
		ctx,
		g.manager.m.db,
		g.guildID,
		winner.userID,
		winner.name,
		1,
	); err != nil {
		g.logger.Error("error awarding points", tint.Err(err))
	}
}

func (g *GameSession) maybeMidgameQuip(ctx context.Context, round int) {
	if g.maxRounds < DefaultMidgameQuipMinRounds {
		return
	}
	g.mu.Lock()
	done := g.midgameQuipDone
	if round >= g.maxRounds/2 {
		g.midgameQuipDone = true
	}
	leaderID := g.leaderLocked()
	g.mu.Unlock()

	if done || round < g.maxRounds/2 {
		return
	}
	mention := ""
	if leaderID != "" {
		mention = fmt.Sprintf("<@%s>", leaderID)
	}
	g.manager.m.commentary.MidgameQuip(ctx, g.channelID, mention)
}

// leaderLocked returns the current top scorer's user ID. Callers must
// hold g.mu.
func (g *GameSession) leaderLocked() string {
	var leaderID string
	var best int64 = -1
	for userID, score := range g.scores {
		if score > best {
			best = score
			leaderID = userID
		}
	}
	return leaderID
}

func (g *GameSession) finalize(ctx context.Context, stopped bool) {
	g.mu.Lock()
	roundsPlayed := g.roundsPlayed
	winnerID := g.leaderLocked()
	scoreboard := g.scoreboardLocked()
	g.mu.Unlock()

	g.send(ctx, scoreboard)

	updates := map[string]any{
		"rounds_played": roundsPlayed,
		"winner_id":     winnerID,
		"stopped":       stopped,
		"finished_at":   time.Now().UTC().UnixMilli(),
	}
	if _, err := g.manager.m.db.Updates(
		context.WithoutCancel(ctx),
		g.record,
		updates,
	); err != nil {
		g.logger.Error("error finalizing game record", tint.Err(err))
	}
	g.logger.Info(
		"game finished",
		"rounds_played", roundsPlayed,
		"winner_id", winnerID,
		"stopped", stopped,
	)
}

// scoreboardLocked renders the final scoreboard. Callers must hold g.mu.
func (g *GameSession) scoreboardLocked() string {
	if len(g.scores) == 0 {
		return "Game over! Nobody scored this time."
	}

	type entry struct {
		userID string
		score  int64
	}
	entries := make([]entry, 0, len(g.scores))
	for userID, score := range g.scores {
		entries = append(entries, entry{userID: userID, score: score})
	}
	sort.Slice(
		entries, func(i, j int) bool {
			if entries[i].score != entries[j].score {
				return entries[i].score > entries[j].score
			}
			return entries[i].userID < entries[j].userID
		},
	)

	var b strings.Builder
	b.WriteString("**Final scores:**\n")
	for i, e := range entries {
		fmt.Fprintf(
			&b,
			"%d. %s: %d\n",
			i+1,
			g.names[e.userID],
			e.score,
		)
	}
	if len(entries) > 0 {
		fmt.Fprintf(
			&b,
			"\n:trophy: **%s** wins!",
			g.names[entries[0].userID],
		)
	}
	return b.String()
}

func (g *GameSession) drainAnswers() {
	for {
		select {
		case <-g.answerCh:
		default:
			return
		}
	}
}

func (g *GameSession) send(ctx context.Context, content string) {
	if content == "" {
		return
	}
	g.manager.m.channelMessageSend(ctx, g.channelID, content)
}

func categoryTag(q *Question) string {
	var parts []string
	if q.Category != "" {
		parts = append(parts, q.Category)
	}
	if q.Difficulty != "" {
		parts = append(parts, q.Difficulty)
	}
	if len(parts) == 0 {
		return ""
	}
	return fmt.Sprintf("_(%s)_", strings.Join(parts, ", "))
}
