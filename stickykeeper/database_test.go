package stickykeeper

import (
	"context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func TestGetStickyMissing(t *testing.T) {
	writeDB := NewDatabase(gormDB(t), nil, false)

	rec, err := writeDB.GetSticky(context.Background(), "no-such-channel")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestSetStickyRoundtrip(t *testing.T) {
	writeDB := NewDatabase(gormDB(t), nil, false)
	ctx := context.Background()

	postedAt := time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)
	require.NoError(t, writeDB.SetSticky(ctx, "chan-1", "msg-1", postedAt))

	rec, err := writeDB.GetSticky(ctx, "chan-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "chan-1", rec.ChannelID)
	assert.Equal(t, "msg-1", rec.MessageID)
	assert.Equal(t, postedAt, rec.PostedTime())

	// a second write for the same channel replaces, not duplicates
	require.NoError(
		t,
		writeDB.SetSticky(ctx, "chan-1", "msg-2", postedAt.Add(time.Hour)),
	)
	rec, err = writeDB.GetSticky(ctx, "chan-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "msg-2", rec.MessageID)

	records, err := writeDB.StickyRecords(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestPostedTimeZero(t *testing.T) {
	rec := StickyRecord{ChannelID: "chan", MessageID: "msg"}
	assert.True(t, rec.PostedTime().IsZero())
}

func TestStickyRecordsMultipleChannels(t *testing.T) {
	writeDB := NewDatabase(gormDB(t), nil, false)
	ctx := context.Background()
	now := time.Now()

	for _, channelID := range []string{"chan-a", "chan-b", "chan-c"} {
		require.NoError(
			t,
			writeDB.SetSticky(ctx, channelID, "msg-"+channelID, now),
		)
	}

	records, err := writeDB.StickyRecords(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	seen := map[string]string{}
	for _, rec := range records {
		seen[rec.ChannelID] = rec.MessageID
	}
	assert.Equal(t, "msg-chan-b", seen["chan-b"])
}

func TestCreateConfession(t *testing.T) {
	writeDB := NewDatabase(gormDB(t), nil, false)
	ctx := context.Background()

	first := Confession{
		UserID:    "user-1",
		ChannelID: "chan",
		Content:   "I never liked the old logo",
	}
	require.NoError(t, writeDB.CreateConfession(ctx, &first))
	assert.NotZero(t, first.ID)

	second := Confession{
		UserID:    "user-2",
		ChannelID: "chan",
		Content:   "neither did I",
	}
	require.NoError(t, writeDB.CreateConfession(ctx, &second))
	assert.Greater(t, second.ID, first.ID)

	// message ID is filled in after the embed is sent
	first.MessageID = "posted-1"
	require.NoError(t, writeDB.Save(ctx, &first))

	confessions, err := writeDB.Confessions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, confessions, 2)
	// newest first
	assert.Equal(t, second.ID, confessions[0].ID)
	assert.Equal(t, "posted-1", confessions[1].MessageID)

	limited, err := writeDB.Confessions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, second.ID, limited[0].ID)
}

func TestCreateSuggestion(t *testing.T) {
	writeDB := NewDatabase(gormDB(t), nil, false)
	ctx := context.Background()

	suggestion := Suggestion{
		UserID:    "user-1",
		Username:  "somebody",
		ChannelID: "chan",
		Content:   "movie night on fridays",
	}
	require.NoError(t, writeDB.CreateSuggestion(ctx, &suggestion))
	assert.NotZero(t, suggestion.ID)

	suggestions, err := writeDB.Suggestions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	assert.Equal(t, "somebody", suggestions[0].Username)
	assert.NotZero(t, suggestions[0].CreatedAt)
}

func TestCreateDBRejectsUnknownType(t *testing.T) {
	_, err := CreateDB(
		context.Background(),
		"mongodb",
		"dsn",
		slog.LevelWarn,
		500*time.Millisecond,
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database type")
}

func TestCreateDBUsesConfiguredGormLogger(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DatabaseSlowThreshold = 5 * time.Millisecond

	tmpdir := t.TempDir()
	db, err := CreateDB(
		context.Background(),
		dbTypeSQLite,
		filepath.Join(tmpdir, "sticky.sqlite3"),
		cfg.DatabaseLogLevel,
		cfg.DatabaseSlowThreshold,
	)
	require.NoError(t, err)

	gormLogger, ok := db.Config.Logger.(*gormStructuredLogger)
	require.True(t, ok)
	assert.Equal(t, 5*time.Millisecond, gormLogger.SlowThreshold)
}
