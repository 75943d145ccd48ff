package monji

import (
	"encoding/json"
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// InteractionLog records each Discord interaction received, for
// auditing and debugging.
type InteractionLog struct {
	ModelUintID
	ModelUnixTime
	InteractionID string `json:"interaction_id"`
	Type          string `json:"type"`
	UserID        string `gorm:"index" json:"user_id"`
	Username      string `json:"username"`
	GuildID       string `gorm:"index" json:"guild_id"`
	ChannelID     string `json:"channel_id"`
	CommandName   string `json:"command_name"`

	// Payload is the raw interaction, serialized as JSON.
	Payload string `json:"payload"`
}

func (InteractionLog) TableName() string {
	return "interaction_log"
}

func (i InteractionLog) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("id", uint64(i.ID)),
		slog.String("interaction_id", i.InteractionID),
		slog.String("type", i.Type),
		slog.String("command_name", i.CommandName),
		slog.String("user_id", i.UserID),
		slog.String("guild_id", i.GuildID),
	)
}

// NewInteractionLog creates an InteractionLog from an incoming
// interaction. Marshal errors leave Payload empty rather than failing,
// since logging should never block command handling.
func NewInteractionLog(i *discordgo.InteractionCreate) *InteractionLog {
	rec := &InteractionLog{
		InteractionID: i.ID,
		Type:          i.Type.String(),
		GuildID:       i.GuildID,
		ChannelID:     i.ChannelID,
	}
	if u := interactionUser(i); u != nil {
		rec.UserID = u.ID
		rec.Username = u.Username
	}
	if i.Type == discordgo.InteractionApplicationCommand {
		rec.CommandName = i.ApplicationCommandData().Name
	}
	if payload, err := json.Marshal(i.Interaction); err == nil {
		rec.Payload = string(payload)
	}
	return rec
}

// GameRecord is one row per started game.
type GameRecord struct {
	ModelUintID
	ModelUnixTime
	Mode            string `gorm:"index" json:"mode"`
	GuildID         string `gorm:"index" json:"guild_id"`
	ChannelID       string `gorm:"index" json:"channel_id"`
	StartedByID     string `json:"started_by_id"`
	RoundsRequested int    `json:"rounds_requested"`
	RoundsPlayed    int    `json:"rounds_played"`

	// WinnerID is the user with the highest score when the game ended.
	// Empty when no round was won.
	WinnerID string `json:"winner_id,omitempty"`

	// Stopped is true when the game was ended early via a stop command
	// or shutdown, rather than playing out all requested rounds.
	Stopped    bool  `json:"stopped"`
	FinishedAt int64 `json:"finished_at,omitempty"`
}

func (g GameRecord) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("id", uint64(g.ID)),
		slog.String("mode", g.Mode),
		slog.String("guild_id", g.GuildID),
		slog.String("channel_id", g.ChannelID),
		slog.Int("rounds_requested", g.RoundsRequested),
		slog.Int("rounds_played", g.RoundsPlayed),
	)
}
