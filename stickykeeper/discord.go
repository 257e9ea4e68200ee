package stickykeeper

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// Discord manages the gateway connection and implements the
// MessagingGateway consumed by the StickyCoordinator.
//
// It wraps the discordgo session behind the DiscordSessionHandler
// interface so tests can substitute a mock, registers the slash
// commands, and translates gateway events (new messages, deletions,
// interactions) into coordinator triggers.
type Discord struct {
	session                     DiscordSessionHandler
	config                      *DiscordConfig
	logger                      *slog.Logger
	metricConnects              atomic.Int64
	metricDisconnects           atomic.Int64
	metricMessagesSeen          atomic.Int64
	connected                   atomic.Bool
	botUserID                   atomic.Value
	discordgoRemoveHandlerFuncs []func()
	sk                          *StickyKeeper
}

// newDiscord initializes a new Discord instance with the provided configuration
func newDiscord(config *DiscordConfig) (*Discord, error) {
	if config == nil {
		return nil, errors.New("nil discord config")
	}
	d := &Discord{
		config:                      config,
		discordgoRemoveHandlerFuncs: []func(){},
	}
	d.botUserID.Store("")
	return d, nil
}

// newSession initializes a new Discord session for the Discord struct.
func (d *Discord) newSession() (DiscordSessionHandler, error) {
	session := DiscordSession{
		logger: d.logger.With(loggerNameKey, "discord_session_handler"),
	}
	disc, err := discordgo.New("Bot " + d.config.Token)
	if err != nil {
		return session, fmt.Errorf("error creating discord session: %w", err)
	}
	disc.SyncEvents = true
	disc.StateEnabled = false
	disc.Identify.Intents = d.config.GatewayIntents
	session.session = disc
	if d.config.httpClient != nil {
		disc.Client = d.config.httpClient
	}
	return session, nil
}

// SendMessage implements MessagingGateway.
func (d *Discord) SendMessage(
	ctx context.Context,
	channelID string,
	content *discordgo.MessageSend,
) (string, error) {
	if d.session == nil {
		return "", ErrNotConnected
	}
	msg, err := d.session.ChannelMessageSendComplex(
		channelID,
		content,
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return "", mapRESTError(err)
	}
	return msg.ID, nil
}

// DeleteMessage implements MessagingGateway.
func (d *Discord) DeleteMessage(
	ctx context.Context,
	channelID string,
	messageID string,
) error {
	if d.session == nil {
		return ErrNotConnected
	}
	err := d.session.ChannelMessageDelete(
		channelID,
		messageID,
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return mapRESTError(err)
	}
	return nil
}

// LastMessageID implements MessagingGateway via the channel endpoint's
// last_message_id field.
func (d *Discord) LastMessageID(
	ctx context.Context,
	channelID string,
) (string, error) {
	if d.session == nil {
		return "", ErrNotConnected
	}
	channel, err := d.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return "", mapRESTError(err)
	}
	return channel.LastMessageID, nil
}

// MessageCreatedAt implements MessagingGateway. Discord message IDs are
// snowflakes with an embedded timestamp, so no network call is needed.
func (*Discord) MessageCreatedAt(messageID string) (time.Time, error) {
	return discordgo.SnowflakeTimestamp(messageID)
}

// mapRESTError translates discordgo REST errors into the package's
// error taxonomy, so callers can check errors.Is(err, ErrMessageNotFound)
// without knowing Discord status codes.
func mapRESTError(err error) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return err
	}
	if restErr.Message != nil {
		switch restErr.Message.Code {
		case discordgo.ErrCodeUnknownMessage, discordgo.ErrCodeUnknownChannel:
			return fmt.Errorf("%w: %s", ErrMessageNotFound, restErr.Message.Message)
		case discordgo.ErrCodeMissingPermissions, discordgo.ErrCodeMissingAccess:
			return fmt.Errorf("%w: %s", ErrPermissionDenied, restErr.Message.Message)
		}
	}
	if restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrMessageNotFound, err)
		case http.StatusForbidden:
			return fmt.Errorf("%w: %s", ErrPermissionDenied, err)
		}
	}
	return err
}

func (d *Discord) handlerReady() func(
	s *discordgo.Session,
	r *discordgo.Ready,
) {
	return func(s *discordgo.Session, r *discordgo.Ready) {
		if r.User != nil {
			d.botUserID.Store(r.User.ID)
		}
		d.logger.Info(
			"Ready",
			"session_id", r.SessionID,
			"user_id", d.botUserID.Load(),
		)
	}
}

func (d *Discord) handlerConnect(ctx context.Context) func(
	s *discordgo.Session,
	r *discordgo.Connect,
) {
	return func(s *discordgo.Session, _ *discordgo.Connect) {
		d.metricConnects.Add(1)
		d.connected.Store(true)
		d.logger.Info("Connected")

		if d.config.NotificationChannelID != "" && d.config.StartupMessage != "" {
			if _, sendErr := d.session.ChannelMessageSendComplex(
				d.config.NotificationChannelID,
				&discordgo.MessageSend{Content: d.config.StartupMessage},
				discordgo.WithContext(ctx),
				discordgo.WithRetryOnRatelimit(false),
				discordgo.WithRestRetries(1),
			); sendErr != nil {
				d.logger.Error("unable to send startup message", tint.Err(sendErr))
			}
		}
	}
}

func (d *Discord) handlerDisconnect() func(
	s *discordgo.Session,
	r *discordgo.Disconnect,
) {
	return func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		d.connected.Store(false)
		d.metricDisconnects.Add(1)
		d.logger.Info("disconnected")
	}
}

// handlerMessageCreate raises a NewMessage trigger for traffic in
// managed channels. The coordinator's scheduler filters out the bot's
// own sticky sends and causally stale events, so the handler forwards
// everything.
func (d *Discord) handlerMessageCreate(ctx context.Context) func(
	s *discordgo.Session,
	m *discordgo.MessageCreate,
) {
	return func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Message == nil {
			return
		}
		if _, managed := d.sk.coordinator.Managed(m.ChannelID); !managed {
			return
		}
		d.metricMessagesSeen.Add(1)

		trigger := Trigger{
			Kind:      TriggerNewMessage,
			MessageID: m.ID,
			CreatedAt: m.Timestamp,
		}
		if trigger.CreatedAt.IsZero() {
			if ts, err := discordgo.SnowflakeTimestamp(m.ID); err == nil {
				trigger.CreatedAt = ts
			}
		}
		go func() {
			if err := d.sk.coordinator.MaybeRepost(
				ctx,
				m.ChannelID,
				trigger,
			); err != nil && !errors.Is(err, context.Canceled) {
				d.logger.Error(
					"repost failed",
					"channel_id", m.ChannelID,
					tint.Err(err),
				)
			}
		}()
	}
}

// handlerMessageDelete raises a StickyDeleted trigger. The scheduler
// drops deletions of anything other than the recorded sticky.
func (d *Discord) handlerMessageDelete(ctx context.Context) func(
	s *discordgo.Session,
	m *discordgo.MessageDelete,
) {
	return func(_ *discordgo.Session, m *discordgo.MessageDelete) {
		if _, managed := d.sk.coordinator.Managed(m.ChannelID); !managed {
			return
		}
		trigger := Trigger{
			Kind:      TriggerStickyDeleted,
			MessageID: m.ID,
		}
		go func() {
			if err := d.sk.coordinator.MaybeRepost(
				ctx,
				m.ChannelID,
				trigger,
			); err != nil && !errors.Is(err, context.Canceled) {
				d.logger.Error(
					"repost after deletion failed",
					"channel_id", m.ChannelID,
					tint.Err(err),
				)
			}
		}()
	}
}

// handlerInteractionCreate dispatches slash commands to the front-ends.
func (d *Discord) handlerInteractionCreate(ctx context.Context) func(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
) {
	return func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		if i.Type != discordgo.InteractionApplicationCommand {
			return
		}
		data := i.ApplicationCommandData()
		switch data.Name {
		case DiscordSlashCommandConfess:
			if d.sk.confessions != nil {
				d.sk.confessions.handleInteraction(ctx, i)
			}
		case DiscordSlashCommandSuggest:
			if d.sk.suggestions != nil {
				d.sk.suggestions.handleInteraction(ctx, i)
			}
		default:
			d.logger.Warn("unknown command", "command", data.Name)
		}
	}
}

func (d *Discord) addHandlers(ctx context.Context) {
	d.discordgoRemoveHandlerFuncs = []func(){
		d.session.AddHandler(d.handlerReady()),
		d.session.AddHandler(d.handlerConnect(ctx)),
		d.session.AddHandler(d.handlerDisconnect()),
		d.session.AddHandler(d.handlerMessageCreate(ctx)),
		d.session.AddHandler(d.handlerMessageDelete(ctx)),
		d.session.AddHandler(d.handlerInteractionCreate(ctx)),
	}
}

func (d *Discord) removeHandlers() {
	for _, remove := range d.discordgoRemoveHandlerFuncs {
		remove()
	}
	d.discordgoRemoveHandlerFuncs = nil
}

func (d *Discord) updateCustomStatus(status string) error {
	return d.session.UpdateCustomStatus(status)
}

// appCommandSubmission builds the shared shape of the /confess and
// /suggest commands: a single required text option.
func appCommandSubmission(
	name string,
	description string,
	optionDescription string,
	maxLength int,
) *discordgo.ApplicationCommand {
	minLength := 1
	if maxLength <= 0 || maxLength > discordMaxMessageLength {
		maxLength = discordMaxMessageLength
	}
	dmPerm := false
	return &discordgo.ApplicationCommand{
		Name:         name,
		Description:  description,
		DMPermission: &dmPerm,
		Type:         discordgo.ChatApplicationCommand,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        submissionCommandOption,
				Description: optionDescription,
				Required:    true,
				MinLength:   &minLength,
				MaxLength:   maxLength,
			},
		},
	}
}

// registerCommands sends the bot's commands to the discord bulk
// overwrite endpoint. Only enabled front-ends register their command.
func (d *Discord) registerCommands(
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	var commands []*discordgo.ApplicationCommand
	if d.sk.config.Confession.Enabled() {
		commands = append(
			commands,
			appCommandSubmission(
				DiscordSlashCommandConfess,
				DefaultConfessCommandDescription,
				DefaultConfessOptionDescription,
				d.sk.config.Confession.MaxLength,
			),
		)
	}
	if d.sk.config.Suggestion.Enabled() {
		commands = append(
			commands,
			appCommandSubmission(
				DiscordSlashCommandSuggest,
				DefaultSuggestCommandDescription,
				DefaultSuggestOptionDescription,
				d.sk.config.Suggestion.MaxLength,
			),
		)
	}
	if len(commands) == 0 {
		d.logger.Warn("no front-ends enabled, no commands to register")
		return nil, nil
	}

	created, err := d.session.ApplicationCommandBulkOverwrite(
		d.config.ApplicationID,
		d.config.GuildID,
		commands,
		options...,
	)
	if err != nil {
		d.logger.Error("error overwriting discord commands", tint.Err(err))
		return created, err
	}
	for _, c := range created {
		d.logger.Info("Created command", "command", c.Name)
	}
	return created, nil
}

// DiscordSessionHandler defines the interface for handling Discord
// sessions. This basically defines the methods from `discordgo.Session`
// which are used in this application, to enable testing/mocking.
type DiscordSessionHandler interface {
	// Open creates a websocket connection to Discord
	Open() error

	// Close closes the websocket connection to Discord
	Close() error

	// ChannelMessageSendComplex sends a message to the given channel
	ChannelMessageSendComplex(
		channelID string,
		data *discordgo.MessageSend,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ChannelMessageDelete deletes a message in the given channel
	ChannelMessageDelete(
		channelID string,
		messageID string,
		options ...discordgo.RequestOption,
	) error

	// Channel retrieves a channel by ID
	Channel(
		channelID string,
		options ...discordgo.RequestOption,
	) (*discordgo.Channel, error)

	// MessageReactionAdd adds a reaction to a message
	MessageReactionAdd(
		channelID string,
		messageID string,
		emojiID string,
		options ...discordgo.RequestOption,
	) error

	// ApplicationCommandBulkOverwrite overwrites application commands in bulk
	ApplicationCommandBulkOverwrite(
		appID string,
		guildID string,
		commands []*discordgo.ApplicationCommand,
		options ...discordgo.RequestOption,
	) ([]*discordgo.ApplicationCommand, error)

	// InteractionRespond sends an interaction response to Discord
	InteractionRespond(
		interaction *discordgo.Interaction,
		resp *discordgo.InteractionResponse,
		options ...discordgo.RequestOption,
	) error

	// UpdateCustomStatus sets the bot's user status to the given string
	UpdateCustomStatus(status string) error

	// AddHandler adds a discord gateway event handler
	AddHandler(handler any) func()
}

// DiscordSession implements DiscordSessionHandler, wrapping a
// *discordgo.Session.
type DiscordSession struct {
	session *discordgo.Session
	logger  *slog.Logger
}

func (s DiscordSession) Open() error {
	return s.session.Open()
}

func (s DiscordSession) Close() error {
	return s.session.Close()
}

func (s DiscordSession) ChannelMessageSendComplex(
	channelID string,
	data *discordgo.MessageSend,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return s.session.ChannelMessageSendComplex(channelID, data, options...)
}

func (s DiscordSession) ChannelMessageDelete(
	channelID string,
	messageID string,
	options ...discordgo.RequestOption,
) error {
	return s.session.ChannelMessageDelete(channelID, messageID, options...)
}

func (s DiscordSession) Channel(
	channelID string,
	options ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	return s.session.Channel(channelID, options...)
}

func (s DiscordSession) MessageReactionAdd(
	channelID string,
	messageID string,
	emojiID string,
	options ...discordgo.RequestOption,
) error {
	return s.session.MessageReactionAdd(channelID, messageID, emojiID, options...)
}

func (s DiscordSession) ApplicationCommandBulkOverwrite(
	appID string,
	guildID string,
	commands []*discordgo.ApplicationCommand,
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	return s.session.ApplicationCommandBulkOverwrite(
		appID,
		guildID,
		commands,
		options...,
	)
}

func (s DiscordSession) InteractionRespond(
	interaction *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	options ...discordgo.RequestOption,
) error {
	return s.session.InteractionRespond(interaction, resp, options...)
}

func (s DiscordSession) UpdateCustomStatus(status string) error {
	return s.session.UpdateCustomStatus(status)
}

func (s DiscordSession) AddHandler(handler any) func() {
	return s.session.AddHandler(handler)
}
