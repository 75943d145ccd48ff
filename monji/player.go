package monji

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	columnPlayerGuildID     = "guild_id"
	columnPlayerUserID      = "user_id"
	columnPlayerDisplayName = "display_name"
	columnPlayerScore       = "score"
	columnPlayerWins        = "wins"
	columnPlayerLastSeen    = "last_seen"

	DefaultLeaderboardLimit = 10
)

// ErrPlayerNotFound indicates the user has no score recorded in the guild.
var ErrPlayerNotFound = errors.New("player not found")

// Player is a per-guild score record for a discord user.
type Player struct {
	ModelUintID
	ModelUnixTime
	GuildID     string `gorm:"index:idx_player_guild_user,unique" json:"guild_id"`
	UserID      string `gorm:"index:idx_player_guild_user,unique" json:"user_id"`
	DisplayName string `json:"display_name"`

	// Score is total points across all games; Wins counts rounds won.
	Score    int64 `json:"score"`
	Wins     int64 `json:"wins"`
	LastSeen int64 `json:"last_seen"`
}

func (p Player) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("guild_id", p.GuildID),
		slog.String("user_id", p.UserID),
		slog.String("display_name", p.DisplayName),
		slog.Int64("score", p.Score),
	)
}

// AwardPoints adds points to a player's guild score, creating the record
// if needed. Wins is incremented by one per call.
func AwardPoints(
	ctx context.Context,
	db DBI,
	guildID string,
	userID string,
	name string,
	points int64,
) error {
	now := time.Now().UTC().UnixMilli()
	player := Player{
		GuildID:     guildID,
		UserID:      userID,
		DisplayName: name,
		Score:       points,
		Wins:        1,
		LastSeen:    now,
	}
	return db.Transaction(
		ctx, func(tx *gorm.DB) error {
			return tx.Clauses(
				clause.OnConflict{
					Columns: []clause.Column{
						{Name: columnPlayerGuildID},
						{Name: columnPlayerUserID},
					},
					DoUpdates: clause.Assignments(
						map[string]any{
							columnPlayerScore: gorm.Expr(
								"players.score + ?", points,
							),
							columnPlayerWins: gorm.Expr(
								"players.wins + 1",
							),
							columnPlayerDisplayName: name,
							columnPlayerLastSeen:    now,
						},
					),
				},
			).Create(&player).Error
		},
	)
}

// Leaderboard returns the guild's top players by score.
func Leaderboard(
	ctx context.Context,
	db DBI,
	guildID string,
	limit int,
) ([]Player, error) {
	if limit <= 0 {
		limit = DefaultLeaderboardLimit
	}
	var players []Player
	err := db.DB().WithContext(ctx).
		Where("guild_id = ?", guildID).
		Order("score DESC").
		Order("wins DESC").
		Order("last_seen ASC").
		Limit(limit).
		Find(&players).Error
	return players, err
}

// PlayerRank returns a player's guild record and 1-based rank by score.
func PlayerRank(
	ctx context.Context,
	db DBI,
	guildID string,
	userID string,
) (*Player, int64, error) {
	var player Player
	err := db.DB().WithContext(ctx).
		Where("guild_id = ? AND user_id = ?", guildID, userID).
		Take(&player).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, ErrPlayerNotFound
		}
		return nil, 0, err
	}

	var higher int64
	err = db.DB().WithContext(ctx).Model(&Player{}).
		Where("guild_id = ? AND score > ?", guildID, player.Score).
		Count(&higher).Error
	if err != nil {
		return nil, 0, err
	}
	return &player, higher + 1, nil
}
