package monji

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

var columnRuntimeConfigPaused = "paused"

// RuntimeConfig represents the runtime configuration of the bot.
// It stores settings that can be modified while running and persisted
// across restarts, including game timing, log levels, and the admin
// credentials for the API.
//
//nolint:lll // struct tags can't be split
type RuntimeConfig struct {
	ModelUintID
	ModelUnixTime

	// Paused indicates whether the bot is currently paused. While paused,
	// new games can't be started (active games play out normally).
	Paused bool `json:"paused" gorm:"not null;default:false"`

	// DiscordCustomStatus is the custom status message displayed for the bot on Discord.
	DiscordCustomStatus string `json:"discord_custom_status" gorm:"type:string"`

	// DiscordNotificationChannelID, if set, receives the startup message
	// whenever the bot connects to the gateway.
	DiscordNotificationChannelID string `json:"discord_notification_channel_id" gorm:"type:string"`

	// TriviaRoundsMin and TriviaRoundsMax bound the `rounds` option of
	// the trivia and scramble commands.
	TriviaRoundsMin int `json:"trivia_rounds_min" gorm:"default:5" binding:"omitempty,min=1"`
	TriviaRoundsMax int `json:"trivia_rounds_max" gorm:"default:100" binding:"omitempty,min=1,gtefield=TriviaRoundsMin"`

	// TriviaHintDelay is how long after a question is posted before the
	// first hint; TriviaHintInterval separates subsequent hints;
	// TriviaFinalWait is the wait after the last hint before the round
	// times out.
	TriviaHintDelay    Duration `json:"trivia_hint_delay" gorm:"type:string"`
	TriviaHintInterval Duration `json:"trivia_hint_interval" gorm:"type:string"`
	TriviaFinalWait    Duration `json:"trivia_final_wait" gorm:"type:string"`

	// ScrambleHintInterval separates the scrambled word, its two hints,
	// and the round timeout; ScrambleFinalWait is the wait after the
	// last hint.
	ScrambleHintInterval Duration `json:"scramble_hint_interval" gorm:"type:string"`
	ScrambleFinalWait    Duration `json:"scramble_final_wait" gorm:"type:string"`

	// WinnerGraceWindow is how long after the first correct answer the
	// bot keeps collecting answers before picking the earliest as winner.
	WinnerGraceWindow Duration `json:"winner_grace_window" gorm:"type:string"`

	// RoundTransitionDelay is the pause between rounds.
	RoundTransitionDelay Duration `json:"round_transition_delay" gorm:"type:string"`

	// ScrambleCooldown is how long before a word can repeat in a guild.
	ScrambleCooldown Duration `json:"scramble_cooldown" gorm:"type:string"`

	// CommentaryEnabled toggles LLM color commentary. Has no effect when
	// no OpenAI token is configured.
	CommentaryEnabled bool `json:"commentary_enabled" gorm:"not null;default:true"`

	// AdminUsername for the admin API
	AdminUsername string `json:"admin_username" gorm:"type:string" log:"[redacted]"`

	// AdminPassword stores the hashed password for the admin user
	AdminPassword string `json:"admin_password" gorm:"type:string" log:"[redacted]"`

	// LogLevel is the general logging level for the application.
	LogLevel DBLogLevel `gorm:"default:INFO;type:string;check:log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"log_level" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`

	// OpenAILogLevel is the logging level for OpenAI-related operations.
	OpenAILogLevel DBLogLevel `gorm:"default:INFO;column:openai_log_level;type:string;check:openai_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"openai_log_level" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`

	// DiscordLogLevel is the logging level for Discord-related operations.
	DiscordLogLevel DBLogLevel `gorm:"default:INFO;type:string;check:discord_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"discord_log_level" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`

	// DiscordGoLogLevel is the logging level for the DiscordGo library.
	DiscordGoLogLevel DBLogLevel `gorm:"default:INFO;column:discordgo_log_level;type:string;check:discordgo_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"discordgo_log_level" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`

	// DatabaseLogLevel is the logging level for database operations.
	DatabaseLogLevel DBLogLevel `gorm:"default:INFO;type:string;check:database_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"database_log_level" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`

	// APILogLevel is the logging level for API operations.
	APILogLevel DBLogLevel `gorm:"default:INFO;type:string;check:api_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"api_log_level" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
}

func (RuntimeConfig) TableName() string {
	return "config"
}

func (c RuntimeConfig) LogValue() slog.Value {
	return structToSlogValue(c)
}

func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		DiscordCustomStatus:  DefaultDiscordCustomStatus,
		TriviaRoundsMin:      DefaultTriviaRoundsMin,
		TriviaRoundsMax:      DefaultTriviaRoundsMax,
		TriviaHintDelay:      Duration{DefaultTriviaHintDelay},
		TriviaHintInterval:   Duration{DefaultTriviaHintInterval},
		TriviaFinalWait:      Duration{DefaultTriviaFinalWait},
		ScrambleHintInterval: Duration{DefaultScrambleHintInterval},
		ScrambleFinalWait:    Duration{DefaultScrambleFinalWait},
		WinnerGraceWindow:    Duration{DefaultWinnerGraceWindow},
		RoundTransitionDelay: Duration{DefaultRoundTransitionDelay},
		ScrambleCooldown:     Duration{DefaultScrambleCooldown},
		CommentaryEnabled:    true,
		LogLevel:             DBLogLevel(slog.LevelInfo.String()),
		OpenAILogLevel:       DBLogLevel(slog.LevelInfo.String()),
		DiscordLogLevel:      DBLogLevel(slog.LevelInfo.String()),
		DiscordGoLogLevel:    DBLogLevel(slog.LevelInfo.String()),
		DatabaseLogLevel:     DBLogLevel(slog.LevelInfo.String()),
		APILogLevel:          DBLogLevel(slog.LevelInfo.String()),
	}
}

// RuntimeConfigUpdate is the PATCH payload for runtime configuration.
// Nil fields are left unchanged.
//
//nolint:lll // struct tags can't be split
type RuntimeConfigUpdate struct {
	Paused                       *bool       `json:"paused,omitempty"`
	DiscordCustomStatus          *string     `json:"discord_custom_status,omitempty"`
	DiscordNotificationChannelID *string     `json:"discord_notification_channel_id,omitempty"`
	TriviaRoundsMin              *int        `json:"trivia_rounds_min,omitempty" binding:"omitnil,min=1"`
	TriviaRoundsMax              *int        `json:"trivia_rounds_max,omitempty" binding:"omitnil,min=1"`
	TriviaHintDelay              *Duration   `json:"trivia_hint_delay,omitempty"`
	TriviaHintInterval           *Duration   `json:"trivia_hint_interval,omitempty"`
	TriviaFinalWait              *Duration   `json:"trivia_final_wait,omitempty"`
	ScrambleHintInterval         *Duration   `json:"scramble_hint_interval,omitempty"`
	ScrambleFinalWait            *Duration   `json:"scramble_final_wait,omitempty"`
	WinnerGraceWindow            *Duration   `json:"winner_grace_window,omitempty"`
	RoundTransitionDelay         *Duration   `json:"round_transition_delay,omitempty"`
	ScrambleCooldown             *Duration   `json:"scramble_cooldown,omitempty"`
	CommentaryEnabled            *bool       `json:"commentary_enabled,omitempty"`
	AdminUsername                *string     `json:"admin_username,omitempty" log:"[redacted]"`
	AdminPassword                *string     `json:"admin_password,omitempty" log:"[redacted]"`
	LogLevel                     *DBLogLevel `json:"log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	OpenAILogLevel               *DBLogLevel `json:"openai_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DiscordLogLevel              *DBLogLevel `json:"discord_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DiscordGoLogLevel            *DBLogLevel `json:"discordgo_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DatabaseLogLevel             *DBLogLevel `json:"database_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	APILogLevel                  *DBLogLevel `json:"api_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
}

// loadRuntimeConfig loads the most recent config row, creating a default
// row if none exists.
func loadRuntimeConfig(ctx context.Context, db DBI) (*RuntimeConfig, error) {
	var config RuntimeConfig
	err := db.DB().WithContext(ctx).Last(&config).Error
	if err == nil {
		return &config, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	config = DefaultRuntimeConfig()
	if _, err = db.Create(ctx, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// RuntimeConfig returns a copy of the current runtime config.
func (m *Monji) RuntimeConfig() RuntimeConfig {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	return *m.runtimeConfig
}

func (m *Monji) setRuntimeConfig(config *RuntimeConfig) {
	m.cfgMu.Lock()
	m.runtimeConfig = config
	m.cfgMu.Unlock()
	m.setRuntimeLevels(*config)
}

// setRuntimeLevels applies the runtime config's log levels to the
// live slog.LevelVar handles.
func (m *Monji) setRuntimeLevels(config RuntimeConfig) {
	m.config.LogLevel.Set(config.LogLevel.Level())
	m.config.DatabaseLogLevel.Set(config.DatabaseLogLevel.Level())
	m.config.Discord.LogLevel.Set(config.DiscordLogLevel.Level())
	m.config.Discord.DiscordGoLogLevel.Set(config.DiscordGoLogLevel.Level())
	m.config.OpenAI.LogLevel.Set(config.OpenAILogLevel.Level())
	m.config.API.LogLevel.Set(config.APILogLevel.Level())
}

// refreshRuntimeConfig re-reads the config row and applies it.
func (m *Monji) refreshRuntimeConfig(ctx context.Context) error {
	config, err := loadRuntimeConfig(ctx, m.db)
	if err != nil {
		return err
	}
	m.setRuntimeConfig(config)
	return nil
}

// watchRuntimeConfig refreshes the runtime config whenever the TTL
// elapses or a refresh is triggered (ex: postgres NOTIFY).
func (m *Monji) watchRuntimeConfig(ctx context.Context) {
	logger := m.logger.With(loggerNameKey, "runtime_config")
	ttl := m.config.RuntimeConfigTTL
	if ttl <= 0 {
		ttl = DefaultRuntimeConfigTTL
	}
	ticker := time.NewTicker(ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.refreshRuntimeConfig(ctx); err != nil {
				logger.Error("error refreshing runtime config", "error", err)
			}
		case <-m.triggerRuntimeConfigRefreshCh:
			logger.Info("refreshing runtime config on trigger")
			if err := m.refreshRuntimeConfig(ctx); err != nil {
				logger.Error("error refreshing runtime config", "error", err)
			}
			ticker.Reset(ttl)
		}
	}
}
