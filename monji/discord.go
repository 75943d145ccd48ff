package monji

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// DiscordSessionHandler covers the discordgo session surface the bot
// uses, so tests can substitute a stub session.
type DiscordSessionHandler interface {
	Open() error
	Close() error
	AddHandler(any) func()
	ApplicationCommandBulkOverwrite(
		appID string,
		guildID string,
		commands []*discordgo.ApplicationCommand,
		options ...discordgo.RequestOption,
	) ([]*discordgo.ApplicationCommand, error)
	InteractionRespond(
		interaction *discordgo.Interaction,
		resp *discordgo.InteractionResponse,
		options ...discordgo.RequestOption,
	) error
	ChannelMessageSend(
		channelID string,
		content string,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)
	UpdateCustomStatus(state string) error
}

// DiscordSession wraps a *discordgo.Session to implement
// DiscordSessionHandler.
type DiscordSession struct {
	*discordgo.Session
}

func (d DiscordSession) AddHandler(handler any) func() {
	return d.Session.AddHandler(handler)
}

// Discord manages the bot's gateway connection and slash commands.
type Discord struct {
	config  *DiscordConfig
	session DiscordSessionHandler
	logger  *slog.Logger
	handler slog.Handler
	m       *Monji
}

func newDiscord(config *Config, handler slog.Handler) (*Discord, error) {
	d := &Discord{
		config:  config.Discord,
		handler: handler,
		logger:  slog.New(handler).With(loggerNameKey, "discord"),
	}

	session, err := discordgo.New(fmt.Sprintf("Bot %s", config.Discord.Token))
	if err != nil {
		return nil, fmt.Errorf("error creating discord session: %w", err)
	}
	session.Identify.Intents = config.Discord.GatewayIntents
	if config.Discord.httpClient != nil {
		session.Client = config.Discord.httpClient
	}
	session.LogLevel = discordgo.LogWarning
	discordgo.Logger = discordgoLoggerFunc(context.Background(), handler)
	d.session = DiscordSession{session}
	return d, nil
}

// commands returns the slash command set registered on startup.
func (d *Discord) commands() []*discordgo.ApplicationCommand {
	config := d.m.RuntimeConfig()
	minRounds := float64(config.TriviaRoundsMin)
	maxRounds := float64(config.TriviaRoundsMax)

	roundsOption := func(game string) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type: discordgo.ApplicationCommandOptionInteger,
			Name: "rounds",
			Description: fmt.Sprintf(
				"Number of %s rounds to play (%d-%d)",
				game,
				config.TriviaRoundsMin,
				config.TriviaRoundsMax,
			),
			MinValue: &minRounds,
			MaxValue: maxRounds,
			Required: true,
		}
	}

	return []*discordgo.ApplicationCommand{
		{
			Name:        DiscordSlashCommandPing,
			Description: "Check whether I'm awake",
		},
		{
			Name:        DiscordSlashCommandTrivia,
			Description: "Start a trivia game in this channel",
			Options: []*discordgo.ApplicationCommandOption{
				roundsOption("trivia"),
			},
		},
		{
			Name:        DiscordSlashCommandTriviaStop,
			Description: "Stop the trivia game running in this channel",
		},
		{
			Name:        DiscordSlashCommandScramble,
			Description: "Start a word scramble game in this channel",
			Options: []*discordgo.ApplicationCommandOption{
				roundsOption("scramble"),
			},
		},
		{
			Name:        DiscordSlashCommandScrambleStop,
			Description: "Stop the scramble game running in this channel",
		},
		{
			Name:        DiscordSlashCommandLeaderboard,
			Description: "Show this server's top trivia players",
		},
		{
			Name:        DiscordSlashCommandRank,
			Description: "Show your rank and score in this server",
		},
	}
}

// registerCommands bulk-overwrites the bot's slash commands. With a
// guild ID configured, commands update immediately; global commands can
// take up to an hour to propagate.
func (d *Discord) registerCommands(ctx context.Context) error {
	commands := d.commands()
	registered, err := d.session.ApplicationCommandBulkOverwrite(
		d.config.ApplicationID,
		d.config.GuildID,
		commands,
	)
	if err != nil {
		return fmt.Errorf("error registering commands: %w", err)
	}
	names := make([]string, 0, len(registered))
	for _, cmd := range registered {
		names = append(names, cmd.Name)
	}
	d.logger.InfoContext(
		ctx,
		"registered slash commands",
		"count", len(registered),
		"commands", strings.Join(names, ", "),
		"guild_id", d.config.GuildID,
	)
	return nil
}

func (d *Discord) handlerReady(_ *discordgo.Session, r *discordgo.Ready) {
	d.logger.Info(
		"discord ready",
		"username", r.User.Username,
		"session_id", r.SessionID,
		"guilds", len(r.Guilds),
	)
	config := d.m.RuntimeConfig()
	if config.DiscordCustomStatus != "" {
		if err := d.session.UpdateCustomStatus(config.DiscordCustomStatus); err != nil {
			d.logger.Warn("error setting custom status", tint.Err(err))
		}
	}
	if d.config.StartupMessage != "" && config.DiscordNotificationChannelID != "" {
		_, err := d.session.ChannelMessageSend(
			config.DiscordNotificationChannelID,
			d.config.StartupMessage,
		)
		if err != nil {
			d.logger.Warn("error sending startup message", tint.Err(err))
		}
	}
}

func (d *Discord) handlerConnect(_ *discordgo.Session, _ *discordgo.Connect) {
	d.logger.Info("discord gateway connected")
}

func (d *Discord) handlerDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	d.logger.Warn("discord gateway disconnected")
}

// handlerMessageCreate routes plain channel messages: answers go to the
// channel's active game; @mentions outside a game get a commentary
// reply.
func (d *Discord) handlerMessageCreate(
	s *discordgo.Session,
	msg *discordgo.MessageCreate,
) {
	if msg.Author == nil || msg.Author.Bot {
		return
	}

	if session := d.m.games.Get(msg.ChannelID); session != nil {
		session.submitAnswer(
			playerAnswer{
				userID:    msg.Author.ID,
				name:      displayName(msg.Author),
				content:   msg.Content,
				messageID: msg.ID,
				timestamp: msg.Timestamp,
			},
		)
		return
	}

	if s.State != nil && s.State.User != nil {
		for _, mention := range msg.Mentions {
			if mention.ID == s.State.User.ID {
				d.m.commentary.MentionReply(
					context.Background(),
					msg.ChannelID,
					msg.Content,
				)
				return
			}
		}
	}
}

// interactionRespondMessage sends a basic text response to an
// interaction.
func (d *Discord) interactionRespondMessage(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	content string,
	ephemeral bool,
) {
	data := &discordgo.InteractionResponseData{Content: content}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	err := d.session.InteractionRespond(
		i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: data,
		},
	)
	if err != nil {
		d.logger.ErrorContext(
			ctx,
			"error responding to interaction",
			tint.Err(err),
			"interaction_id", i.ID,
		)
	}
}

// interactionRespondEmbed responds to an interaction with one embed.
func (d *Discord) interactionRespondEmbed(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	embed *discordgo.MessageEmbed,
) {
	err := d.session.InteractionRespond(
		i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Embeds: []*discordgo.MessageEmbed{embed},
			},
		},
	)
	if err != nil {
		d.logger.ErrorContext(
			ctx,
			"error responding to interaction",
			tint.Err(err),
			"interaction_id", i.ID,
		)
	}
}
