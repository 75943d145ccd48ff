package monji

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestAPI starts the admin API for a test bot with admin credentials
// configured, returning the server URL and a cookie-aware client.
func newTestAPI(t *testing.T) (*Monji, string, *http.Client) {
	t.Helper()
	bot, _ := newTestBot(t)

	hashed, err := HashPassword("hunter2")
	require.NoError(t, err)
	config := bot.RuntimeConfig()
	config.AdminUsername = "admin"
	config.AdminPassword = hashed
	_, err = bot.db.Save(context.Background(), &config)
	require.NoError(t, err)
	bot.setRuntimeConfig(&config)

	srv := httptest.NewServer(bot.api.engine)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := srv.Client()
	client.Jar = jar
	return bot, srv.URL, client
}

func login(t *testing.T, baseURL string, client *http.Client) {
	t.Helper()
	loginAs(t, baseURL, client, "admin", "hunter2", http.StatusOK)
}

func loginAs(
	t *testing.T,
	baseURL string,
	client *http.Client,
	username string,
	password string,
	expectStatus int,
) {
	t.Helper()
	payload, err := json.Marshal(
		map[string]string{"username": username, "password": password},
	)
	require.NoError(t, err)
	resp, err := client.Post(
		baseURL+"/api/login",
		"application/json",
		bytes.NewReader(payload),
	)
	require.NoError(t, err)
	defer func() {
		_ = resp.Body.Close()
	}()
	require.Equal(t, expectStatus, resp.StatusCode)
}

func TestAPIHealthCheck(t *testing.T) {
	_, baseURL, client := newTestAPI(t)

	resp, err := client.Get(baseURL + "/health")
	require.NoError(t, err)
	defer func() {
		_ = resp.Body.Close()
	}()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(xRequestIDHeader))

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["paused"])
}

func TestAPIRequiresAuth(t *testing.T) {
	_, baseURL, client := newTestAPI(t)

	for _, path := range []string{
		"/api/logged_in",
		"/api/questions",
		"/api/config",
		"/api/games",
	} {
		resp, err := client.Get(baseURL + path)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
}

func TestAPILoginBadCredentials(t *testing.T) {
	_, baseURL, client := newTestAPI(t)
	loginAs(t, baseURL, client, "admin", "wrong", http.StatusUnauthorized)
}

func TestAPILoginLogout(t *testing.T) {
	_, baseURL, client := newTestAPI(t)
	login(t, baseURL, client)

	resp, err := client.Get(baseURL + "/api/logged_in")
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "admin", body["username"])

	resp, err = client.Post(baseURL+"/api/logout", "application/json", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = client.Get(baseURL + "/api/logged_in")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPIQuestions(t *testing.T) {
	bot, baseURL, client := newTestAPI(t)
	login(t, baseURL, client)

	payload := `{
		"source": "manual",
		"prompt": "What is the capital of France?",
		"answers": ["Paris"],
		"approved": true
	}`
	resp, err := client.Post(
		baseURL+"/api/questions",
		"application/json",
		bytes.NewReader([]byte(payload)),
	)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// duplicates conflict
	resp, err = client.Post(
		baseURL+"/api/questions",
		"application/json",
		bytes.NewReader([]byte(payload)),
	)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, err = client.Get(baseURL + "/api/questions?approved=true")
	require.NoError(t, err)
	var listing struct {
		Total     int64      `json:"total"`
		Questions []Question `json:"questions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listing))
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, int64(1), listing.Total)
	assert.Equal(t, "What is the capital of France?", listing.Questions[0].Prompt)

	// delete it
	req, err := http.NewRequest(
		http.MethodDelete,
		fmt.Sprintf("%s/api/questions/%d", baseURL, listing.Questions[0].ID),
		nil,
	)
	require.NoError(t, err)
	resp, err = client.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	var count int64
	require.NoError(
		t,
		bot.db.DB().Model(&Question{}).Count(&count).Error,
	)
	assert.Zero(t, count)
}

func TestAPIDeleteMissingQuestion(t *testing.T) {
	_, baseURL, client := newTestAPI(t)
	login(t, baseURL, client)

	req, err := http.NewRequest(
		http.MethodDelete,
		baseURL+"/api/questions/12345",
		nil,
	)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPILeaderboard(t *testing.T) {
	bot, baseURL, client := newTestAPI(t)
	login(t, baseURL, client)

	ctx := context.Background()
	require.NoError(t, AwardPoints(ctx, bot.db, "guild-1", "user-1", "alice", 3))
	require.NoError(t, AwardPoints(ctx, bot.db, "guild-1", "user-2", "bob", 5))

	resp, err := client.Get(baseURL + "/api/leaderboard/guild-1")
	require.NoError(t, err)
	var body struct {
		Players []Player `json:"players"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body.Players, 2)
	assert.Equal(t, "bob", body.Players[0].DisplayName)
}

func TestAPIGetConfigHidesPassword(t *testing.T) {
	_, baseURL, client := newTestAPI(t)
	login(t, baseURL, client)

	resp, err := client.Get(baseURL + "/api/config")
	require.NoError(t, err)
	var config RuntimeConfig
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&config))
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "admin", config.AdminUsername)
	assert.Empty(t, config.AdminPassword)
}

func TestAPIUpdateConfig(t *testing.T) {
	bot, baseURL, client := newTestAPI(t)
	login(t, baseURL, client)

	req, err := http.NewRequest(
		http.MethodPatch,
		baseURL+"/api/config",
		bytes.NewReader([]byte(`{"paused": true, "trivia_rounds_max": 50}`)),
	)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	config := bot.RuntimeConfig()
	assert.True(t, config.Paused)
	assert.Equal(t, 50, config.TriviaRoundsMax)

	// the update was persisted, not just cached
	var stored RuntimeConfig
	require.NoError(t, bot.db.DB().Last(&stored).Error)
	assert.True(t, stored.Paused)
	assert.Equal(t, 50, stored.TriviaRoundsMax)
}

func TestAPIUpdateConfigRejectsInvalid(t *testing.T) {
	bot, baseURL, client := newTestAPI(t)
	login(t, baseURL, client)

	// max rounds below min rounds fails validation
	req, err := http.NewRequest(
		http.MethodPatch,
		baseURL+"/api/config",
		bytes.NewReader([]byte(`{"trivia_rounds_max": 1}`)),
	)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, DefaultTriviaRoundsMax, bot.RuntimeConfig().TriviaRoundsMax)
}

func TestAPIPause(t *testing.T) {
	bot, baseURL, client := newTestAPI(t)
	login(t, baseURL, client)

	resp, err := client.Post(baseURL+"/api/pause", "application/json", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.True(t, bot.RuntimeConfig().Paused)

	var stored RuntimeConfig
	require.NoError(t, bot.db.DB().Last(&stored).Error)
	assert.True(t, stored.Paused)
}

func TestAPIQuit(t *testing.T) {
	bot, baseURL, client := newTestAPI(t)
	login(t, baseURL, client)

	resp, err := client.Post(baseURL+"/api/quit", "application/json", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case <-bot.signalStop:
	case <-time.After(time.Second):
		t.Fatal("expected stop signal")
	}
}
