package monji

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const columnUsageWordID = "word_id"

var (
	// ErrNoScrambleWords indicates no word was eligible for the guild,
	// usually because everything is inside the reuse cooldown.
	ErrNoScrambleWords = errors.New("no scramble words available")

	// ErrUnscrambleable indicates a word that can't be shuffled into a
	// different ordering (ex: "aaa").
	ErrUnscrambleable = errors.New("word cannot be scrambled")

	scrambleShuffleAttempts = 20
)

// ScrambleWord is a single word for the scramble game.
type ScrambleWord struct {
	ModelUintID
	ModelUnixTime
	Word       string `gorm:"uniqueIndex" json:"word" binding:"required,min=2"`
	Approved   bool   `json:"approved"`
	TimesAsked int64  `json:"times_asked"`
}

func (w ScrambleWord) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("id", uint64(w.ID)),
		slog.String("word", w.Word),
		slog.Int64("times_asked", w.TimesAsked),
	)
}

// ScrambleUsage tracks per-guild word usage, used to enforce the reuse
// cooldown and prefer least-used words.
type ScrambleUsage struct {
	ModelUintID
	GuildID     string `gorm:"index:idx_scramble_usage_guild_word,unique" json:"guild_id"`
	WordID      uint   `gorm:"index:idx_scramble_usage_guild_word,unique" json:"word_id"`
	TimesAsked  int64  `json:"times_asked"`
	LastAskedAt int64  `json:"last_asked_at"`
}

// PickScrambleWord selects the next scramble word for a guild. Words used
// in the guild within the cooldown window are excluded; the rest are
// ordered least-used first (per guild, then globally) with random
// tiebreaking. Usage counters are incremented in the same transaction.
func PickScrambleWord(
	ctx context.Context,
	db DBI,
	guildID string,
	cooldown time.Duration,
) (*ScrambleWord, error) {
	var word ScrambleWord

	err := db.Transaction(
		ctx, func(tx *gorm.DB) error {
			cutoff := time.Now().UTC().Add(-cooldown).UnixMilli()
			rv := tx.Model(&ScrambleWord{}).
				Select("scramble_words.*").
				Joins(
					"LEFT JOIN scramble_usages ON scramble_usages.word_id = scramble_words.id "+
						"AND scramble_usages.guild_id = ?",
					guildID,
				).
				Where("scramble_words.approved = ?", true).
				Where(
					"scramble_usages.last_asked_at IS NULL OR scramble_usages.last_asked_at < ?",
					cutoff,
				).
				Order("COALESCE(scramble_usages.times_asked, 0) ASC").
				Order("scramble_words.times_asked ASC").
				Order("RANDOM()").
				Limit(1).
				Take(&word)
			if rv.Error != nil {
				if errors.Is(rv.Error, gorm.ErrRecordNotFound) {
					return ErrNoScrambleWords
				}
				return rv.Error
			}

			if err := tx.Model(&word).UpdateColumn(
				columnQuestionTimesAsked,
				gorm.Expr("times_asked + ?", 1),
			).Error; err != nil {
				return err
			}
			word.TimesAsked++

			now := time.Now().UTC().UnixMilli()
			usage := ScrambleUsage{
				GuildID:     guildID,
				WordID:      word.ID,
				TimesAsked:  1,
				LastAskedAt: now,
			}
			return tx.Clauses(
				clause.OnConflict{
					Columns: []clause.Column{
						{Name: columnUsageGuildID},
						{Name: columnUsageWordID},
					},
					DoUpdates: clause.Assignments(
						map[string]any{
							columnQuestionTimesAsked: gorm.Expr(
								"scramble_usages.times_asked + 1",
							),
							columnUsageLastAskedAt: now,
						},
					),
				},
			).Create(&usage).Error
		},
	)
	if err != nil {
		return nil, err
	}
	return &word, nil
}

// scrambleString shuffles the letters of a word, guaranteeing the result
// differs from the input. Falls back to reversing the word if shuffling
// keeps producing the original ordering.
func scrambleString(word string) (string, error) {
	runes := []rune(word)
	if len(runes) < 2 {
		return "", ErrUnscrambleable
	}

	shuffled := make([]rune, len(runes))
	for attempt := 0; attempt < scrambleShuffleAttempts; attempt++ {
		copy(shuffled, runes)
		rand.Shuffle(
			len(shuffled), func(i, j int) {
				shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
			},
		)
		if string(shuffled) != word {
			return string(shuffled), nil
		}
	}

	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		shuffled[i], shuffled[j] = runes[j], runes[i]
	}
	if mid := len(runes) / 2; len(runes)%2 == 1 {
		shuffled[mid] = runes[mid]
	}
	if string(shuffled) == word {
		return "", ErrUnscrambleable
	}
	return string(shuffled), nil
}

// scramblePatternHint shows word shape: the first and second-to-last
// letters revealed in position, the rest masked. Two-letter words
// reveal both letters. Used as the second hint.
func scramblePatternHint(word string) string {
	runes := []rune(word)
	reveal := map[int]bool{0: true}
	if len(runes) > 2 {
		reveal[len(runes)-2] = true
	} else {
		reveal[1] = true
	}

	parts := make([]string, len(runes))
	for i, r := range runes {
		if reveal[i] {
			parts[i] = strings.ToUpper(string(r))
		} else {
			parts[i] = "_"
		}
	}
	return strings.Join(parts, " ")
}
