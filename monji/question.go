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
	columnQuestionTimesAsked   = "times_asked"
	columnUsageGuildID         = "guild_id"
	columnUsageQuestionID      = "question_id"
	columnUsageLastAskedAt     = "last_asked_at"
	questionSourceOpenTriviaDB = "opentdb"
)

// ErrNoQuestions indicates no approved question was available for
// selection (for the session exclusions given).
var ErrNoQuestions = errors.New("no approved questions available")

// Question is a single trivia question. Prompt is unique per source so
// re-running the loader doesn't create duplicates.
type Question struct {
	ModelUintID
	ModelUnixTime
	Source     string `gorm:"index:idx_question_source_prompt,unique" json:"source" binding:"required"`
	ExternalID string `json:"external_id,omitempty"`
	Category   string `json:"category,omitempty"`
	Difficulty string `json:"difficulty,omitempty"`
	Prompt     string `gorm:"index:idx_question_source_prompt,unique" json:"prompt" binding:"required"`

	// Answers holds every accepted answer; the first entry is the
	// canonical one shown when a round ends.
	Answers          StringSlice `json:"answers" binding:"required,min=1"`
	IncorrectAnswers StringSlice `json:"incorrect_answers,omitempty"`
	Approved         bool        `json:"approved"`
	TimesAsked       int64       `json:"times_asked"`
}

func (q Question) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("id", uint64(q.ID)),
		slog.String("source", q.Source),
		slog.String("category", q.Category),
		slog.String("difficulty", q.Difficulty),
		slog.Int64("times_asked", q.TimesAsked),
	)
}

// CanonicalAnswer returns the answer shown when a round ends without a
// winner, or revealed to the winner announcement.
func (q Question) CanonicalAnswer() string {
	if len(q.Answers) == 0 {
		return ""
	}
	return q.Answers[0]
}

// QuestionUsage tracks how often a question has been asked in a guild,
// so selection can prefer least-asked questions per guild.
type QuestionUsage struct {
	ModelUintID
	GuildID     string `gorm:"index:idx_usage_guild_question,unique" json:"guild_id"`
	QuestionID  uint   `gorm:"index:idx_usage_guild_question,unique" json:"question_id"`
	TimesAsked  int64  `json:"times_asked"`
	LastAskedAt int64  `json:"last_asked_at"`
}

// PickQuestion selects the next question for a guild, excluding questions
// already asked in the current game session.
//
// Approved questions are ordered by how often they've been asked in this
// guild, then globally, with random tiebreaking, so every guild cycles
// through the full pool before repeats. Usage counters for the selected
// question are incremented in the same transaction.
func PickQuestion(
	ctx context.Context,
	db DBI,
	guildID string,
	exclude []uint,
) (*Question, error) {
	var question Question

	err := db.Transaction(
		ctx, func(tx *gorm.DB) error {
			q := tx.Model(&Question{}).
				Select("questions.*").
				Joins(
					"LEFT JOIN question_usages ON question_usages.question_id = questions.id "+
						"AND question_usages.guild_id = ?",
					guildID,
				).
				Where("questions.approved = ?", true)
			if len(exclude) > 0 {
				q = q.Where("questions.id NOT IN ?", exclude)
			}
			rv := q.Order("COALESCE(question_usages.times_asked, 0) ASC").
				Order("questions.times_asked ASC").
				Order("RANDOM()").
				Limit(1).
				Take(&question)
			if rv.Error != nil {
				if errors.Is(rv.Error, gorm.ErrRecordNotFound) {
					return ErrNoQuestions
				}
				return rv.Error
			}

			if err := tx.Model(&question).UpdateColumn(
				columnQuestionTimesAsked,
				gorm.Expr("times_asked + ?", 1),
			).Error; err != nil {
				return err
			}
			question.TimesAsked++

			now := time.Now().UTC().UnixMilli()
			usage := QuestionUsage{
				GuildID:     guildID,
				QuestionID:  question.ID,
				TimesAsked:  1,
				LastAskedAt: now,
			}
			return tx.Clauses(
				clause.OnConflict{
					Columns: []clause.Column{
						{Name: columnUsageGuildID},
						{Name: columnUsageQuestionID},
					},
					DoUpdates: clause.Assignments(
						map[string]any{
							columnQuestionTimesAsked: gorm.Expr(
								"question_usages.times_asked + 1",
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
	return &question, nil
}

// InsertQuestions inserts questions, ignoring rows whose (source, prompt)
// pair already exists. Returns the number of rows actually added.
func InsertQuestions(
	ctx context.Context,
	db DBI,
	questions []Question,
) (int64, error) {
	if len(questions) == 0 {
		return 0, nil
	}
	var rowsAffected int64
	err := db.Transaction(
		ctx, func(tx *gorm.DB) error {
			rv := tx.Clauses(
				clause.OnConflict{
					Columns: []clause.Column{
						{Name: "source"},
						{Name: "prompt"},
					},
					DoNothing: true,
				},
			).Create(&questions)
			rowsAffected = rv.RowsAffected
			return rv.Error
		},
	)
	return rowsAffected, err
}
