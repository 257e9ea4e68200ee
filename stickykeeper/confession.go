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
	confessionEmbedColor = 0xeb459e

	confessionAckMessage = "Your confession has been delivered. " +
		"It was posted anonymously."
)

// ConfessionBox is the anonymous-confession front-end. Submissions
// arrive via the /confess command, are posted as numbered anonymous
// embeds to the configured channel, and raise a FreshSubmission trigger
// so the sticky call-to-action follows them down.
type ConfessionBox struct {
	sk     *StickyKeeper
	config *StickyChannelConfig
	logger *slog.Logger
}

func newConfessionBox(sk *StickyKeeper, config *StickyChannelConfig) *ConfessionBox {
	return &ConfessionBox{
		sk:     sk,
		config: config,
		logger: sk.logger.With(loggerNameKey, "confession_box"),
	}
}

// managedChannel returns the coordinator registration for this
// front-end's channel.
func (c *ConfessionBox) managedChannel() ManagedChannel {
	return ManagedChannel{
		ChannelID: c.config.ChannelID,
		Cooldown:  c.config.Cooldown,
		Content:   c.stickyContent,
	}
}

func (c *ConfessionBox) stickyContent() *discordgo.MessageSend {
	return &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{
			{
				Title:       "Confession Box",
				Description: c.config.StickyMessage,
				Color:       confessionEmbedColor,
			},
		},
	}
}

// handleInteraction processes a /confess command: stores the
// submission, posts it anonymously, and acknowledges the submitter with
// an ephemeral response.
func (c *ConfessionBox) handleInteraction(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	content := submissionText(i, c.config.MaxLength)
	if content == "" {
		c.respondEphemeral(ctx, i, "I didn't get any text to confess!")
		return
	}

	confession := &Confession{
		UserID:    interactionUserID(i),
		ChannelID: c.config.ChannelID,
		Content:   content,
	}
	if err := c.sk.db.CreateConfession(ctx, confession); err != nil {
		c.logger.ErrorContext(ctx, "error storing confession", tint.Err(err))
		c.respondEphemeral(ctx, i, DefaultDiscordErrorMessage)
		return
	}

	messageID, err := c.sk.gateway().SendMessage(
		ctx,
		c.config.ChannelID,
		&discordgo.MessageSend{
			Embeds: []*discordgo.MessageEmbed{
				{
					Title:       fmt.Sprintf("Confession #%d", confession.ID),
					Description: content,
					Color:       confessionEmbedColor,
					Timestamp:   time.Now().UTC().Format(time.RFC3339),
				},
			},
		},
	)
	if err != nil {
		c.logger.ErrorContext(ctx, "error posting confession", tint.Err(err))
		c.respondEphemeral(ctx, i, DefaultDiscordErrorMessage)
		return
	}

	confession.MessageID = messageID
	if err = c.sk.db.Save(ctx, confession); err != nil {
		c.logger.ErrorContext(
			ctx,
			"error saving confession message id",
			tint.Err(err),
		)
	}

	c.respondEphemeral(ctx, i, confessionAckMessage)

	go func() {
		if repostErr := c.sk.coordinator.MaybeRepost(
			ctx,
			c.config.ChannelID,
			Trigger{Kind: TriggerFreshSubmission},
		); repostErr != nil {
			c.logger.ErrorContext(
				ctx,
				"repost after confession failed",
				tint.Err(repostErr),
			)
		}
	}()
}

func (c *ConfessionBox) respondEphemeral(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	message string,
) {
	err := c.sk.discord.session.InteractionRespond(
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
		c.logger.ErrorContext(ctx, "error responding to interaction", tint.Err(err))
	}
}

// submissionText extracts and bounds the text option of a /confess or
// /suggest command.
func submissionText(i *discordgo.InteractionCreate, maxLength int) string {
	data := i.ApplicationCommandData()
	for _, opt := range data.Options {
		if opt.Name == submissionCommandOption {
			if maxLength <= 0 {
				maxLength = discordMaxMessageLength
			}
			return truncateSubmission(opt.StringValue(), maxLength)
		}
	}
	return ""
}

// interactionUserID returns the invoking user's ID for both guild and
// DM interactions.
func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

// interactionUsername returns the invoking user's display name.
func interactionUsername(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.Username
	}
	if i.User != nil {
		return i.User.Username
	}
	return ""
}
