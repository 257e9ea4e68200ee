package stickykeeper

import (
	"context"
	"encoding/json"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const testAPIToken = "test-api-token"

// newTestAPI returns a StickyKeeper whose API accepts testAPIToken.
func newTestAPI(t testing.TB) (*StickyKeeper, *mockDiscordSession) {
	t.Helper()
	tokenHash, err := HashToken(testAPIToken)
	require.NoError(t, err)

	cfg := testConfig()
	cfg.API.TokenHash = tokenHash
	sk, err := New(cfg)
	require.NoError(t, err)

	session := &mockDiscordSession{}
	sk.discord.session = session
	sk.db = NewDatabase(gormDB(t), nil, false)
	sk.coordinator.store = sk.db
	sk.coordinator.Manage(sk.confessions.managedChannel())
	sk.coordinator.Manage(sk.suggestions.managedChannel())
	return sk, session
}

func apiRequest(
	t testing.TB,
	sk *StickyKeeper,
	method string,
	path string,
	token string,
) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	sk.api.engine.ServeHTTP(w, req)
	return w
}

func TestHealthCheckPublic(t *testing.T) {
	sk, _ := newTestAPI(t)

	w := apiRequest(t, sk, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(xRequestIDHeader))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["discord_connected"])
}

func TestHealthCheckGatewayMetrics(t *testing.T) {
	sk, _ := newTestAPI(t)

	sk.discord.metricConnects.Add(2)
	sk.discord.metricDisconnects.Add(1)
	sk.discord.metricMessagesSeen.Add(5)

	w := apiRequest(t, sk, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Gateway struct {
			Connects     int64 `json:"connects"`
			Disconnects  int64 `json:"disconnects"`
			MessagesSeen int64 `json:"messages_seen"`
		} `json:"gateway"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, int64(2), body.Gateway.Connects)
	assert.Equal(t, int64(1), body.Gateway.Disconnects)
	assert.Equal(t, int64(5), body.Gateway.MessagesSeen)
}

func TestAPILogLevel(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig()
	cfg.API.LogLevel.Set(slog.LevelDebug)
	sk, err := New(cfg)
	require.NoError(t, err)
	assert.True(t, sk.api.logger.Enabled(ctx, slog.LevelDebug))

	cfg = testConfig()
	cfg.API.LogLevel.Set(slog.LevelWarn)
	sk, err = New(cfg)
	require.NoError(t, err)
	assert.False(t, sk.api.logger.Enabled(ctx, slog.LevelInfo))
	assert.True(t, sk.api.logger.Enabled(ctx, slog.LevelWarn))
}

func TestAuthRequired(t *testing.T) {
	sk, _ := newTestAPI(t)

	w := apiRequest(t, sk, http.MethodGet, "/api/stickies", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = apiRequest(t, sk, http.MethodGet, "/api/stickies", "wrong-token")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = apiRequest(t, sk, http.MethodGet, "/api/stickies", testAPIToken)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthDisabledWithoutHash(t *testing.T) {
	sk, _ := newTestStickyKeeper(t)

	w := apiRequest(t, sk, http.MethodGet, "/api/stickies", testAPIToken)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestGetStickies(t *testing.T) {
	sk, _ := newTestAPI(t)
	ctx := context.Background()

	require.NoError(
		t,
		sk.db.SetSticky(ctx, "chan-confess", "msg-1", time.Now()),
	)

	w := apiRequest(t, sk, http.MethodGet, "/api/stickies", testAPIToken)
	require.Equal(t, http.StatusOK, w.Code)

	var records []StickyRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "chan-confess", records[0].ChannelID)
	assert.Equal(t, "msg-1", records[0].MessageID)
}

func TestGetConfessions(t *testing.T) {
	sk, _ := newTestAPI(t)
	ctx := context.Background()

	require.NoError(
		t,
		sk.db.CreateConfession(
			ctx,
			&Confession{UserID: "u", ChannelID: "chan-confess", Content: "hi"},
		),
	)

	w := apiRequest(t, sk, http.MethodGet, "/api/confessions", testAPIToken)
	require.Equal(t, http.StatusOK, w.Code)

	var confessions []Confession
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &confessions))
	require.Len(t, confessions, 1)
	assert.Equal(t, "hi", confessions[0].Content)
}

func TestGetSuggestions(t *testing.T) {
	sk, _ := newTestAPI(t)
	ctx := context.Background()

	require.NoError(
		t,
		sk.db.CreateSuggestion(
			ctx,
			&Suggestion{
				UserID:    "u",
				Username:  "tester",
				ChannelID: "chan-suggest",
				Content:   "more emotes",
			},
		),
	)

	w := apiRequest(t, sk, http.MethodGet, "/api/suggestions", testAPIToken)
	require.Equal(t, http.StatusOK, w.Code)

	var suggestions []Suggestion
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &suggestions))
	require.Len(t, suggestions, 1)
	assert.Equal(t, "tester", suggestions[0].Username)
}

func TestForceRepost(t *testing.T) {
	sk, session := newTestAPI(t)

	w := apiRequest(
		t,
		sk,
		http.MethodPost,
		"/api/stickies/not-managed/repost",
		testAPIToken,
	)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = apiRequest(
		t,
		sk,
		http.MethodPost,
		"/api/stickies/chan-confess/repost",
		testAPIToken,
	)
	require.Equal(t, http.StatusAccepted, w.Code)

	// the repost happens asynchronously
	require.Eventually(
		t,
		func() bool { return session.sentCount() == 1 },
		2*time.Second,
		10*time.Millisecond,
	)
	rec, err := sk.db.GetSticky(context.Background(), "chan-confess")
	require.NoError(t, err)
	require.NotNil(t, rec)
}

// A deferred manual repost must not outlive the bot: the trigger
// goroutine runs on the API's run context, so cancellation aborts the
// cooldown sleep before anything is sent.
func TestForceRepostStopsOnShutdown(t *testing.T) {
	sk, session := newTestAPI(t)
	session.channel = &discordgo.Channel{
		ID:            "chan-confess",
		LastMessageID: "user-msg",
	}

	mc := sk.confessions.managedChannel()
	mc.Cooldown = 50 * time.Millisecond
	sk.coordinator.Manage(mc)

	require.NoError(
		t,
		sk.db.SetSticky(
			context.Background(), "chan-confess", "old-sticky", time.Now(),
		),
	)

	runCtx, cancel := context.WithCancel(context.Background())
	cancel()
	sk.api.runCtx = runCtx

	w := apiRequest(
		t,
		sk,
		http.MethodPost,
		"/api/stickies/chan-confess/repost",
		testAPIToken,
	)
	require.Equal(t, http.StatusAccepted, w.Code)

	// long enough for the cooldown to elapse if the trigger had
	// ignored the canceled context
	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, session.sentCount())
}
