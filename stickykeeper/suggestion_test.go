package stickykeeper

import (
	"context"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func TestSuggestionStickyContent(t *testing.T) {
	sk, _ := newTestStickyKeeper(t)

	content := sk.suggestions.stickyContent()
	require.Len(t, content.Embeds, 1)
	assert.Equal(t, "Suggestion Box", content.Embeds[0].Title)
	assert.Equal(
		t,
		DefaultSuggestionStickyMessage,
		content.Embeds[0].Description,
	)
	assert.Equal(t, suggestionEmbedColor, content.Embeds[0].Color)
}

func TestSuggestionInteraction(t *testing.T) {
	sk, session := newTestStickyKeeper(t)
	ctx := context.Background()

	sk.suggestions.handleInteraction(
		ctx,
		submissionInteraction("suggest", "movie night on fridays"),
	)

	suggestions, err := sk.db.Suggestions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	assert.Equal(t, "user-1", suggestions[0].UserID)
	assert.Equal(t, "tester", suggestions[0].Username)
	assert.NotEmpty(t, suggestions[0].MessageID)

	// attributed, unlike confessions
	posted := session.sentAt(0)
	require.Len(t, posted.Embeds, 1)
	assert.Equal(t, "Suggestion #1", posted.Embeds[0].Title)
	require.NotNil(t, posted.Embeds[0].Footer)
	assert.Equal(t, "Suggested by tester", posted.Embeds[0].Footer.Text)

	// voting reactions seeded in order
	assert.Equal(
		t,
		[]string{suggestionUpvoteEmoji, suggestionDownvoteEmoji},
		session.reactionList(),
	)

	resp := session.lastResponse()
	require.NotNil(t, resp)
	assert.Equal(t, "Suggestion #1 submitted!", resp.Data.Content)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)

	require.Eventually(
		t,
		func() bool {
			rec, getErr := sk.db.GetSticky(ctx, sk.suggestions.config.ChannelID)
			return getErr == nil && rec != nil
		},
		2*time.Second,
		10*time.Millisecond,
	)
	assert.Equal(t, 2, session.sentCount())
}

func TestSuggestionAnonymousInvoker(t *testing.T) {
	sk, session := newTestStickyKeeper(t)
	ctx := context.Background()

	// direct interaction without a member or user record
	interaction := submissionInteraction("suggest", "more emotes")
	interaction.Member = nil

	sk.suggestions.handleInteraction(ctx, interaction)

	posted := session.sentAt(0)
	require.Len(t, posted.Embeds, 1)
	assert.Nil(t, posted.Embeds[0].Footer)
}

func TestSuggestionEmptySubmission(t *testing.T) {
	sk, session := newTestStickyKeeper(t)
	ctx := context.Background()

	sk.suggestions.handleInteraction(
		ctx,
		submissionInteraction("suggest", ""),
	)

	assert.Equal(t, 0, session.sentCount())
	suggestions, err := sk.db.Suggestions(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, suggestions)
}
