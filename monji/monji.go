package monji

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/Manali-J/monji/monji.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

// Monji is the bot: discord gateway connection, game engine, storage,
// commentary, and the admin API.
type Monji struct {
	config        *Config
	runtimeConfig *RuntimeConfig
	cfgMu         sync.RWMutex

	db         DBI
	dbNotifier DBNotifier

	logger     *slog.Logger
	logHandler slog.Handler

	discord    *Discord
	games      *GameManager
	commentary *Commentary
	api        *API

	signalStop                    chan struct{}
	triggerRuntimeConfigRefreshCh chan bool
}

// New creates a Monji instance from the given config. The database
// isn't opened and the gateway isn't connected until Run.
func New(config *Config) (*Monji, error) {
	if config == nil {
		return nil, errors.New("nil config")
	}
	if err := structValidator.Struct(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logHandler := tint.NewHandler(
		os.Stdout, &tint.Options{
			Level:     config.LogLevel,
			AddSource: true,
		},
	)
	logger := slog.New(logHandler).With(loggerNameKey, "monji")

	m := &Monji{
		config:                        config,
		logger:                        logger,
		logHandler:                    logHandler,
		signalStop:                    make(chan struct{}, 1),
		triggerRuntimeConfigRefreshCh: make(chan bool, 1),
	}

	discordHandler := tint.NewHandler(
		os.Stdout, &tint.Options{
			Level:     config.Discord.LogLevel,
			AddSource: true,
		},
	)
	discord, err := newDiscord(config, discordHandler)
	if err != nil {
		return nil, err
	}
	discord.m = m
	m.discord = discord

	m.games = newGameManager(m)
	m.commentary = newCommentary(m)

	api, err := newAPI(m, config.API)
	if err != nil {
		return nil, err
	}
	m.api = api

	return m, nil
}

// Run starts the bot and blocks until the context is canceled or a stop
// signal is received, then shuts down gracefully.
func (m *Monji) Run(ctx context.Context) error {
	startupCtx, startupCancel := context.WithTimeout(ctx, m.config.StartupTimeout)
	defer startupCancel()

	gormDB, err := CreateDB(startupCtx, m.config.DatabaseType, m.config.Database)
	if err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	m.db = NewDatabase(
		gormDB,
		m.logger,
		m.config.DatabaseType == dbTypePostgres,
	)

	notifier, err := newDBNotifier(m)
	if err != nil {
		return fmt.Errorf("error creating db notifier: %w", err)
	}
	m.dbNotifier = notifier

	runtimeConfig, err := loadRuntimeConfig(startupCtx, m.db)
	if err != nil {
		return fmt.Errorf("error loading runtime config: %w", err)
	}
	m.setRuntimeConfig(runtimeConfig)
	m.logger.InfoContext(startupCtx, "loaded runtime config", "config", runtimeConfig)

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()

	var wg sync.WaitGroup
	if m.config.DatabaseType == dbTypePostgres {
		for _, channel := range []string{
			m.dbNotifier.RuntimeConfigChannelName(),
			m.dbNotifier.StopChannelName(),
		} {
			wg.Add(1)
			go func(ch string) {
				defer wg.Done()
				if listenErr := m.dbNotifier.Listen(runCtx, ch); listenErr != nil &&
					!errors.Is(listenErr, context.Canceled) {
					m.logger.Error(
						"db listener exited",
						"channel", ch,
						tint.Err(listenErr),
					)
				}
			}(channel)
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		m.watchRuntimeConfig(runCtx)
	}()

	apiErrCh := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.logger.Info("starting api server", "listen", m.config.API.Listen)
		if serveErr := m.api.Serve(runCtx); serveErr != nil &&
			!errors.Is(serveErr, http.ErrServerClosed) {
			apiErrCh <- serveErr
		}
	}()

	m.discord.session.AddHandler(m.discord.handlerReady)
	m.discord.session.AddHandler(m.discord.handlerConnect)
	m.discord.session.AddHandler(m.discord.handlerDisconnect)
	m.discord.session.AddHandler(m.discord.handlerMessageCreate)
	m.discord.session.AddHandler(m.handleInteractionCreate)

	if err = m.discord.session.Open(); err != nil {
		runCancel()
		return fmt.Errorf("error opening discord session: %w", err)
	}
	if err = m.discord.registerCommands(startupCtx); err != nil {
		_ = m.discord.session.Close()
		runCancel()
		return err
	}
	m.logger.InfoContext(startupCtx, "startup complete")

	var runErr error
	select {
	case <-ctx.Done():
		m.logger.Info("context canceled, shutting down")
	case <-m.signalStop:
		m.logger.Warn("received stop signal, shutting down")
	case runErr = <-apiErrCh:
		m.logger.Error("api server error, shutting down", tint.Err(runErr))
	}

	runCancel()
	m.shutdown()
	wg.Wait()
	return runErr
}

// shutdown stops active games, the gateway session, and the API server,
// bounded by the configured shutdown timeout.
func (m *Monji) shutdown() {
	ctx, cancel := context.WithTimeout(
		context.Background(),
		m.config.ShutdownTimeout,
	)
	defer cancel()

	m.games.StopAll(ctx)

	if err := m.discord.session.Close(); err != nil {
		m.logger.Error("error closing discord session", tint.Err(err))
	}
	if err := m.api.Shutdown(ctx); err != nil {
		m.logger.Error("error shutting down api server", tint.Err(err))
	}
	m.logger.Info("shutdown complete")
}

// channelMessageSend posts a message to a channel, logging failures.
func (m *Monji) channelMessageSend(
	ctx context.Context,
	channelID string,
	content string,
) {
	if len(content) > discordMaxMessageLength {
		content = truncate(content, discordMaxMessageLength)
	}
	_, err := m.discord.session.ChannelMessageSend(channelID, content)
	if err != nil {
		m.logger.ErrorContext(
			ctx,
			"error sending channel message",
			tint.Err(err),
			"channel_id", channelID,
		)
	}
}

// handleInteractionCreate dispatches slash commands.
func (m *Monji) handleInteractionCreate(
	_ *discordgo.Session,
	i *discordgo.InteractionCreate,
) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	ctx := WithLogger(context.Background(), m.logger)
	m.logger.Info("received interaction", interactionLogAttrs(*i)...)

	go func() {
		if _, err := m.db.Create(ctx, NewInteractionLog(i)); err != nil {
			m.logger.Error("error logging interaction", tint.Err(err))
		}
	}()

	switch i.ApplicationCommandData().Name {
	case DiscordSlashCommandPing:
		m.handlePing(ctx, i)
	case DiscordSlashCommandTrivia:
		m.handleGameStart(ctx, i, GameModeTrivia)
	case DiscordSlashCommandScramble:
		m.handleGameStart(ctx, i, GameModeScramble)
	case DiscordSlashCommandTriviaStop:
		m.handleGameStop(ctx, i, GameModeTrivia)
	case DiscordSlashCommandScrambleStop:
		m.handleGameStop(ctx, i, GameModeScramble)
	case DiscordSlashCommandLeaderboard:
		m.handleLeaderboard(ctx, i)
	case DiscordSlashCommandRank:
		m.handleRank(ctx, i)
	default:
		m.logger.Warn(
			"unknown command",
			"command", i.ApplicationCommandData().Name,
		)
	}
}

func (m *Monji) handlePing(ctx context.Context, i *discordgo.InteractionCreate) {
	m.discord.interactionRespondMessage(ctx, i, "Pong!", true)
}

func (m *Monji) handleGameStart(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	mode GameMode,
) {
	if i.GuildID == "" {
		m.discord.interactionRespondMessage(
			ctx, i, "Games can only be played in a server channel.", true,
		)
		return
	}

	rounds := 0
	if opt, ok := discordInteractionOptions(i)["rounds"]; ok {
		rounds = int(opt.IntValue())
	}
	user := interactionUser(i)
	userID := ""
	if user != nil {
		userID = user.ID
	}

	session, err := m.games.Start(
		ctx,
		mode,
		i.GuildID,
		i.ChannelID,
		userID,
		rounds,
	)
	switch {
	case errors.Is(err, ErrGameInProgress):
		m.discord.interactionRespondMessage(
			ctx, i, "A game is already running in this channel!", true,
		)
	case errors.Is(err, ErrBotPaused):
		m.discord.interactionRespondMessage(
			ctx, i, "I'm taking a break right now. Try again later!", true,
		)
	case err != nil:
		m.logger.Error("error starting game", tint.Err(err))
		m.discord.interactionRespondMessage(
			ctx, i, "Sorry, something went wrong starting the game.", true,
		)
	default:
		m.discord.interactionRespondMessage(
			ctx,
			i,
			fmt.Sprintf(
				"Starting %s: **%d rounds**. First correct answer wins each round!",
				session.mode,
				session.maxRounds,
			),
			false,
		)
	}
}

func (m *Monji) handleGameStop(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	mode GameMode,
) {
	session := m.games.Get(i.ChannelID)
	if session == nil {
		m.discord.interactionRespondMessage(
			ctx, i, "No game is running in this channel.", true,
		)
		return
	}
	if session.mode != mode {
		m.discord.interactionRespondMessage(
			ctx,
			i,
			fmt.Sprintf(
				"The game in this channel is %s. Use /%s-stop instead.",
				session.mode,
				session.mode,
			),
			true,
		)
		return
	}
	session.stop()
	m.discord.interactionRespondMessage(
		ctx, i, fmt.Sprintf("Stopping the %s game.", mode), false,
	)
}

func (m *Monji) handleLeaderboard(ctx context.Context, i *discordgo.InteractionCreate) {
	if i.GuildID == "" {
		m.discord.interactionRespondMessage(
			ctx, i, "Leaderboards are per-server.", true,
		)
		return
	}
	players, err := Leaderboard(ctx, m.db, i.GuildID, DefaultLeaderboardLimit)
	if err != nil {
		m.logger.Error("error loading leaderboard", tint.Err(err))
		m.discord.interactionRespondMessage(
			ctx, i, "Sorry, I couldn't load the leaderboard.", true,
		)
		return
	}
	if len(players) == 0 {
		m.discord.interactionRespondMessage(
			ctx, i, "Nobody has scored yet. Start a game with /trivia!", false,
		)
		return
	}

	fields := make([]*discordgo.MessageEmbedField, 0, len(players))
	for rank, player := range players {
		fields = append(
			fields, &discordgo.MessageEmbedField{
				Name: fmt.Sprintf("%d. %s", rank+1, player.DisplayName),
				Value: fmt.Sprintf(
					"%d points (%d wins)",
					player.Score,
					player.Wins,
				),
			},
		)
	}
	m.discord.interactionRespondEmbed(
		ctx, i, &discordgo.MessageEmbed{
			Title:  ":trophy: Leaderboard",
			Fields: fields,
			Color:  0xf1c40f,
		},
	)
}

func (m *Monji) handleRank(ctx context.Context, i *discordgo.InteractionCreate) {
	user := interactionUser(i)
	if i.GuildID == "" || user == nil {
		m.discord.interactionRespondMessage(
			ctx, i, "Rankings are per-server.", true,
		)
		return
	}
	player, rank, err := PlayerRank(ctx, m.db, i.GuildID, user.ID)
	if errors.Is(err, ErrPlayerNotFound) {
		m.discord.interactionRespondMessage(
			ctx, i, "You haven't scored yet. Start a game with /trivia!", true,
		)
		return
	}
	if err != nil {
		m.logger.Error("error loading rank", tint.Err(err))
		m.discord.interactionRespondMessage(
			ctx, i, "Sorry, I couldn't look up your rank.", true,
		)
		return
	}
	m.discord.interactionRespondMessage(
		ctx,
		i,
		fmt.Sprintf(
			"You're ranked **#%d** with **%d points** (%d wins).",
			rank,
			player.Score,
			player.Wins,
		),
		true,
	)
}

// Pause pauses the bot via the runtime config row, preventing new games
// from starting.
func (m *Monji) Pause(ctx context.Context) error {
	config := m.RuntimeConfig()
	if config.Paused {
		return nil
	}
	if _, err := m.db.Update(
		ctx,
		&config,
		columnRuntimeConfigPaused,
		true,
	); err != nil {
		return err
	}
	config.Paused = true
	m.setRuntimeConfig(&config)
	m.dbNotifier.ReloadRuntimeConfig(ctx)
	return nil
}
