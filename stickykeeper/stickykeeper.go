package stickykeeper

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

var (
	// Set via:
	// -ldflags "-X github.com/kirin-3/stickykeeper/stickykeeper.Version=$$(date +'%Y%m%d')"
	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

// StickyKeeper is the bot: it wires the persistence layer, the Discord
// gateway, the sticky coordinator, and the two submission front-ends
// together, and owns their lifecycle.
type StickyKeeper struct {
	config     *Config
	logger     *slog.Logger
	logHandler slog.Handler

	db          DBI
	discord     *Discord
	coordinator *StickyCoordinator
	api         *API

	confessions *ConfessionBox
	suggestions *SuggestionBox

	startedAt time.Time
	runMu     sync.Mutex
}

// New assembles a StickyKeeper from the given config. The database and
// gateway connections are established later, in Run.
func New(config *Config) (*StickyKeeper, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	sk := &StickyKeeper{config: config}

	sk.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     config.LogLevel,
			AddSource: true,
		},
	)
	sk.logger = slog.New(sk.logHandler)
	slog.SetDefault(sk.logger)

	config.Discord.httpClient = config.HTTPClient
	disc, err := newDiscord(config.Discord)
	if err != nil {
		errs = append(errs, err)
	} else {
		discordgo.Logger = discordgoLoggerFunc(
			context.Background(),
			tint.NewHandler(
				defaultLogWriter, &tint.Options{
					Level:     config.Discord.DiscordGoLogLevel,
					AddSource: true,
				},
			).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
		)
		disc.logger = slog.New(
			tint.NewHandler(
				defaultLogWriter, &tint.Options{
					Level:     config.Discord.LogLevel,
					AddSource: true,
				},
			),
		).With(loggerNameKey, "discord")
		disc.sk = sk
		sk.discord = disc
	}

	sk.coordinator = NewStickyCoordinator(
		disc,
		nil, // store attached in Run, once the database exists
		sk.logger,
		config.SendRatePerSecond,
	)

	if config.Confession.Enabled() {
		sk.confessions = newConfessionBox(sk, config.Confession)
	}
	if config.Suggestion.Enabled() {
		sk.suggestions = newSuggestionBox(sk, config.Suggestion)
	}

	api, err := newAPI(sk, config.API)
	if err != nil {
		errs = append(errs, err)
	}
	sk.api = api

	return sk, errors.Join(errs...)
}

// ValidateConfig runs struct validation over the loaded configuration.
func (sk *StickyKeeper) ValidateConfig() error {
	return structValidator.Struct(sk.config)
}

// gateway returns the coordinator's messaging gateway.
func (sk *StickyKeeper) gateway() MessagingGateway {
	return sk.discord
}

// Coordinator returns the sticky coordinator.
func (sk *StickyKeeper) Coordinator() *StickyCoordinator {
	return sk.coordinator
}

// Run starts the bot and blocks until ctx is canceled or a fatal error
// occurs: opens the database, connects to the Discord gateway, registers
// slash commands and managed channels, and serves the backend API.
func (sk *StickyKeeper) Run(ctx context.Context) error {
	// prevents concurrent runs
	sk.runMu.Lock()
	defer sk.runMu.Unlock()

	sk.startedAt = time.Now()
	logger := sk.logger

	if err := sk.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx, cancel := context.WithCancel(WithLogger(ctx, logger))
	defer cancel()

	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", sk.config))

	startCtx, startCancel := context.WithTimeout(ctx, sk.config.StartupTimeout)
	defer startCancel()

	if err := sk.initRun(startCtx, ctx); err != nil {
		logger.ErrorContext(ctx, "init error", tint.Err(err))
		return err
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(
		func() error {
			serveErr := sk.api.Serve(groupCtx)
			if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				return serveErr
			}
			return nil
		},
	)
	g.Go(
		func() error {
			<-groupCtx.Done()
			return sk.shutdownDiscord()
		},
	)

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// initRun opens the database, registers managed channels, and connects
// the gateway. startCtx carries the startup timeout; runCtx is the
// long-lived context captured by gateway event handlers.
func (sk *StickyKeeper) initRun(startCtx context.Context, runCtx context.Context) error {
	db, err := CreateDB(
		startCtx,
		sk.config.DatabaseType,
		sk.config.Database,
		sk.config.DatabaseLogLevel,
		sk.config.DatabaseSlowThreshold,
	)
	if err != nil {
		return fmt.Errorf("error creating database: %w", err)
	}
	sk.db = NewDatabase(
		db,
		sk.logger,
		sk.config.DatabaseType != dbTypeSQLite,
	)
	sk.coordinator.store = sk.db

	if sk.confessions != nil {
		sk.coordinator.Manage(sk.confessions.managedChannel())
	}
	if sk.suggestions != nil {
		sk.coordinator.Manage(sk.suggestions.managedChannel())
	}
	if len(sk.coordinator.ManagedChannels()) == 0 {
		sk.logger.Warn(
			"no channels under sticky management, check confession/suggestion config",
		)
	}

	session, err := sk.discord.newSession()
	if err != nil {
		return err
	}
	sk.discord.session = session
	sk.discord.addHandlers(runCtx)

	if err = session.Open(); err != nil {
		return fmt.Errorf("error opening discord session: %w", err)
	}

	if _, err = sk.discord.registerCommands(
		discordgo.WithContext(startCtx),
	); err != nil {
		return fmt.Errorf("error registering commands: %w", err)
	}

	if sk.config.Discord.CustomStatus != "" {
		if statusErr := sk.discord.updateCustomStatus(
			sk.config.Discord.CustomStatus,
		); statusErr != nil {
			sk.logger.Warn("error setting custom status", tint.Err(statusErr))
		}
	}

	// On startup, every managed channel gets a bootstrap trigger: if no
	// sticky is recorded (or it was deleted while the bot was offline),
	// this posts one.
	for _, channelID := range sk.coordinator.ManagedChannels() {
		channelID := channelID
		go func() {
			if repostErr := sk.coordinator.MaybeRepost(
				runCtx,
				channelID,
				Trigger{Kind: TriggerFreshSubmission},
			); repostErr != nil && !errors.Is(repostErr, context.Canceled) {
				sk.logger.Error(
					"startup repost failed",
					"channel_id", channelID,
					tint.Err(repostErr),
				)
			}
		}()
	}

	return nil
}

func (sk *StickyKeeper) shutdownDiscord() error {
	if sk.discord == nil || sk.discord.session == nil {
		return nil
	}
	sk.discord.removeHandlers()
	if err := sk.discord.session.Close(); err != nil {
		sk.logger.Error("error closing discord session", tint.Err(err))
		return err
	}
	sk.logger.Info("discord session closed")
	return nil
}
