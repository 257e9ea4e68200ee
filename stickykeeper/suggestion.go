package stickykeeper

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"log/slog"
	"time"
)

const (
	suggestionEmbedColor = 0x57f287

	suggestionUpvoteEmoji   = "\U0001F44D"
	suggestionDownvoteEmoji = "\U0001F44E"
)

// SuggestionBox is the suggestion front-end. Submissions arrive via the
// /suggest command, are posted as numbered embeds with 👍/👎 voting
// reactions, and raise a FreshSubmission trigger on the coordinator.
type SuggestionBox struct {
	sk     *StickyKeeper
	config *StickyChannelConfig
	logger *slog.Logger
}

func newSuggestionBox(sk *StickyKeeper, config *StickyChannelConfig) *SuggestionBox {
	return &SuggestionBox{
		sk:     sk,
		config: config,
		logger: sk.logger.With(loggerNameKey, "suggestion_box"),
	}
}

func (s *SuggestionBox) managedChannel() ManagedChannel {
	return ManagedChannel{
		ChannelID: s.config.ChannelID,
		Cooldown:  s.config.Cooldown,
		Content:   s.stickyContent,
	}
}

func (s *SuggestionBox) stickyContent() *discordgo.MessageSend {
	return &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{
			{
				Title:       "Suggestion Box",
				Description: s.config.StickyMessage,
				Color:       suggestionEmbedColor,
			},
		},
	}
}

func (s *SuggestionBox) handleInteraction(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	content := submissionText(i, s.config.MaxLength)
	if content == "" {
		s.respondEphemeral(ctx, i, "I didn't get any text to suggest!")
		return
	}

	suggestion := &Suggestion{
		UserID:    interactionUserID(i),
		Username:  interactionUsername(i),
		ChannelID: s.config.ChannelID,
		Content:   content,
	}
	if err := s.sk.db.CreateSuggestion(ctx, suggestion); err != nil {
		s.logger.ErrorContext(ctx, "error storing suggestion", tint.Err(err))
		s.respondEphemeral(ctx, i, DefaultDiscordErrorMessage)
		return
	}

	embed := &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("Suggestion #%d", suggestion.ID),
		Description: content,
		Color:       suggestionEmbedColor,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	if suggestion.Username != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Suggested by %s", suggestion.Username),
		}
	}

	messageID, err := s.sk.gateway().SendMessage(
		ctx,
		s.config.ChannelID,
		&discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}},
	)
	if err != nil {
		s.logger.ErrorContext(ctx, "error posting suggestion", tint.Err(err))
		s.respondEphemeral(ctx, i, DefaultDiscordErrorMessage)
		return
	}

	suggestion.MessageID = messageID
	if err = s.sk.db.Save(ctx, suggestion); err != nil {
		s.logger.ErrorContext(
			ctx,
			"error saving suggestion message id",
			tint.Err(err),
		)
	}

	s.addVoteReactions(ctx, messageID)
	s.respondEphemeral(
		ctx,
		i,
		fmt.Sprintf("Suggestion #%d submitted!", suggestion.ID),
	)

	go func() {
		if repostErr := s.sk.coordinator.MaybeRepost(
			ctx,
			s.config.ChannelID,
			Trigger{Kind: TriggerFreshSubmission},
		); repostErr != nil {
			s.logger.ErrorContext(
				ctx,
				"repost after suggestion failed",
				tint.Err(repostErr),
			)
		}
	}()
}

// addVoteReactions seeds the voting reactions. Failures are logged and
// otherwise ignored - the suggestion itself already posted.
func (s *SuggestionBox) addVoteReactions(ctx context.Context, messageID string) {
	for _, emoji := range []string{suggestionUpvoteEmoji, suggestionDownvoteEmoji} {
		if err := s.sk.discord.session.MessageReactionAdd(
			s.config.ChannelID,
			messageID,
			emoji,
			discordgo.WithContext(ctx),
		); err != nil {
			s.logger.WarnContext(
				ctx,
				"error adding vote reaction",
				"emoji", emoji,
				tint.Err(err),
			)
		}
	}
}

func (s *SuggestionBox) respondEphemeral(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	message string,
) {
	err := s.sk.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: message,
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		s.logger.ErrorContext(ctx, "error responding to interaction", tint.Err(err))
	}
}
