package monji

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const (
	DefaultOTDBBaseURL   = "https://opentdb.com/api.php"
	DefaultOTDBBatchSize = 50

	// otdbEmptyBatchLimit stops the loader after this many consecutive
	// batches that added no new questions.
	otdbEmptyBatchLimit = 5

	otdbBatchPause     = 1 * time.Second
	otdbRequestTimeout = 30 * time.Second
)

// ErrOTDBResponse indicates the Open Trivia DB API returned a non-zero
// response code.
var ErrOTDBResponse = errors.New("unexpected opentdb response code")

// OTDBClient fetches questions from the Open Trivia Database API.
type OTDBClient struct {
	BaseURL    string
	HTTPClient *http.Client
	logger     *slog.Logger
}

func NewOTDBClient(httpClient *http.Client, logger *slog.Logger) *OTDBClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: otdbRequestTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OTDBClient{
		BaseURL:    DefaultOTDBBaseURL,
		HTTPClient: httpClient,
		logger:     logger.With(loggerNameKey, "otdb"),
	}
}

type otdbResponse struct {
	ResponseCode int            `json:"response_code"`
	Results      []otdbQuestion `json:"results"`
}

type otdbQuestion struct {
	Category         string   `json:"category"`
	Type             string   `json:"type"`
	Difficulty       string   `json:"difficulty"`
	Question         string   `json:"question"`
	CorrectAnswer    string   `json:"correct_answer"`
	IncorrectAnswers []string `json:"incorrect_answers"`
}

// Fetch retrieves up to amount questions. API payloads are HTML-encoded;
// everything is unescaped before being returned.
func (c *OTDBClient) Fetch(ctx context.Context, amount int) ([]Question, error) {
	if amount <= 0 {
		amount = DefaultOTDBBatchSize
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, err
	}
	query := u.Query()
	query.Set("amount", fmt.Sprintf("%d", amount))
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching questions: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status fetching questions: %s", resp.Status)
	}

	var payload otdbResponse
	if err = json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("error decoding response: %w", err)
	}
	if payload.ResponseCode != 0 {
		return nil, fmt.Errorf("%w: %d", ErrOTDBResponse, payload.ResponseCode)
	}

	questions := make([]Question, 0, len(payload.Results))
	for _, result := range payload.Results {
		incorrect := make(StringSlice, 0, len(result.IncorrectAnswers))
		for _, answer := range result.IncorrectAnswers {
			incorrect = append(incorrect, html.UnescapeString(answer))
		}
		questions = append(
			questions, Question{
				Source:           questionSourceOpenTriviaDB,
				Category:         html.UnescapeString(result.Category),
				Difficulty:       result.Difficulty,
				Prompt:           html.UnescapeString(result.Question),
				Answers:          StringSlice{html.UnescapeString(result.CorrectAnswer)},
				IncorrectAnswers: incorrect,
				Approved:         true,
			},
		)
	}
	return questions, nil
}

// LoadQuestions fetches question batches and inserts them, skipping
// duplicates. It stops after maxBatches batches, or once
// otdbEmptyBatchLimit consecutive batches add nothing new, and pauses
// between batches to stay inside the API's rate limit. Returns the
// total number of questions added.
func LoadQuestions(
	ctx context.Context,
	db DBI,
	client *OTDBClient,
	maxBatches int,
	batchSize int,
) (int64, error) {
	if maxBatches <= 0 {
		maxBatches = 1
	}
	var total int64
	emptyStreak := 0

	for batch := 0; batch < maxBatches; batch++ {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}

		questions, err := client.Fetch(ctx, batchSize)
		if err != nil {
			return total, err
		}

		added, err := InsertQuestions(ctx, db, questions)
		if err != nil {
			return total, err
		}
		total += added

		client.logger.InfoContext(
			ctx,
			"loaded question batch",
			"batch", batch+1,
			"fetched", len(questions),
			"added", added,
			"total_added", total,
		)

		if added == 0 {
			emptyStreak++
			if emptyStreak >= otdbEmptyBatchLimit {
				client.logger.InfoContext(
					ctx,
					"stopping: no new questions",
					"empty_batches", emptyStreak,
				)
				break
			}
		} else {
			emptyStreak = 0
		}

		if batch < maxBatches-1 {
			select {
			case <-time.After(otdbBatchPause):
			case <-ctx.Done():
				return total, ctx.Err()
			}
		}
	}
	return total, nil
}
