//nolint:lll // struct tags can't be split
package stickykeeper

import (
	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	"log/slog"
	"net/http"
	"time"
)

const (
	EnvvarSetEnvPrefix = "STICKYKEEPER_ENV_PREFIX"
	DefaultEnvPrefix   = "SK"

	DefaultDatabaseType          = "sqlite"
	DefaultDatabase              = "stickykeeper.sqlite3"
	DefaultDatabaseSlowThreshold = 200 * time.Millisecond
	DefaultDatabaseLogLevel      = slog.LevelInfo

	DefaultLogLevel        = slog.LevelInfo
	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 60 * time.Second

	// DefaultStickyCooldown is the minimum spacing between consecutive
	// reposts on one channel.
	DefaultStickyCooldown = 3 * time.Minute

	// DefaultSendRatePerSecond paces outbound sticky sends.
	DefaultSendRatePerSecond = 1.0

	DefaultDiscordLogLevel   = slog.LevelWarn
	DefaultDiscordgoLogLevel = slog.LevelWarn
	DefaultDiscordGatewayIntent = discordgo.IntentsAllWithoutPrivileged |
		discordgo.IntentGuildMessages
	DefaultDiscordCustomStatus   = "/confess or /suggest!"
	DefaultDiscordStartupMessage = "I'm here!"
	DefaultDiscordErrorMessage   = "sorry, something went wrong!"

	DiscordSlashCommandConfess        = "confess"
	DefaultConfessCommandDescription  = "Anonymously submit a confession"
	DefaultConfessOptionDescription   = "What would you like to confess?"
	DiscordSlashCommandSuggest        = "suggest"
	DefaultSuggestCommandDescription  = "Submit a suggestion for the server"
	DefaultSuggestOptionDescription   = "What would you like to suggest?"
	DefaultSubmissionMaxLength        = 2000
	DefaultConfessionStickyMessage    = "Press nothing, just use **/confess** to anonymously share a confession."
	DefaultSuggestionStickyMessage    = "Use **/suggest** to submit a suggestion - vote with the reactions!"
	submissionCommandOption           = "text"
	discordMaxMessageLength           = 2000

	DefaultAPIListen         = "127.0.0.1:5000"
	DefaultAPILogLevel       = slog.LevelInfo
	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second
)

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodOptions,
		http.MethodHead,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-Requested-With",
		"Cache-Control",
		xRequestIDHeader,
	}
	DefaultCORSExposeHeaders = []string{
		"Content-Type",
		"Content-Length",
		"Accept-Encoding",
		xRequestIDHeader,
	}
	DefaultCORSMaxAge = 12 * time.Hour
)

// Config is the top-level bot configuration, loaded via viper from
// environment variables and optionally a .env file.
type Config struct {
	// Database connection string, or SQLite file path
	Database string `yaml:"database" mapstructure:"database" json:"database"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout limits the time the bot has to connect and register
	// commands. If exceeded, startup is aborted.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After
	// this elapses, remaining connections are force-closed.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	// SendRatePerSecond limits outbound sticky sends across all managed
	// channels. Zero disables the limiter.
	SendRatePerSecond float64 `yaml:"send_rate_per_second" mapstructure:"send_rate_per_second" json:"send_rate_per_second"`

	// Discord configures the Discord connection itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// Confession configures the confession box front-end
	Confession *StickyChannelConfig `yaml:"confession" mapstructure:"confession" json:"confession"`

	// Suggestion configures the suggestion box front-end
	Suggestion *StickyChannelConfig `yaml:"suggestion" mapstructure:"suggestion" json:"suggestion"`

	// API configures the backend HTTP API
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// DiscordConfig holds the gateway connection settings.
type DiscordConfig struct {
	Token string `yaml:"token" mapstructure:"token" json:"token" binding:"required" log:"[redacted]"`

	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// GuildID limits slash-command registration to one guild. Empty
	// registers the commands globally.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	// CustomStatus is displayed as the bot user's activity
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	// StartupMessage, if NotificationChannelID is set, is sent there
	// on connect
	StartupMessage string `yaml:"startup_message" mapstructure:"startup_message" json:"startup_message"`

	// NotificationChannelID optionally receives startup notifications
	NotificationChannelID string `yaml:"notification_channel_id" mapstructure:"notification_channel_id" json:"notification_channel_id"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	httpClient *http.Client
}

func (c DiscordConfig) LogValue() slog.Value {
	return structToSlogValue(c)
}

// StickyChannelConfig configures one sticky-managed channel and the
// slash command feeding it.
type StickyChannelConfig struct {
	// ChannelID is the managed channel. Empty disables the front-end.
	ChannelID string `yaml:"channel_id" mapstructure:"channel_id" json:"channel_id"`

	// Cooldown is the minimum spacing between reposts in this channel
	Cooldown time.Duration `yaml:"cooldown" mapstructure:"cooldown" json:"cooldown" binding:"min=0"`

	// StickyMessage is the call-to-action text kept at the bottom of
	// the channel
	StickyMessage string `yaml:"sticky_message" mapstructure:"sticky_message" json:"sticky_message"`

	// MaxLength caps submission length. Zero uses the Discord message
	// limit.
	MaxLength int `yaml:"max_length" mapstructure:"max_length" json:"max_length" binding:"min=0,max=2000"`
}

// Enabled reports whether the front-end has a channel to manage.
func (c *StickyChannelConfig) Enabled() bool {
	return c != nil && c.ChannelID != ""
}

// APIConfig configures the backend HTTP API server.
type APIConfig struct {
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required"`

	// TokenHash is the argon2id hash of the API bearer token, as
	// produced by the hash-token subcommand. Empty disables the
	// authenticated endpoints.
	TokenHash string `yaml:"token_hash" mapstructure:"token_hash" json:"token_hash" log:"[redacted]"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	ReadTimeout       time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"`

	// Development enables permissive CORS and gin debug behavior
	Development bool `yaml:"development" mapstructure:"development" json:"development"`
}

func (c APIConfig) LogValue() slog.Value {
	return structToSlogValue(c)
}

type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers" mapstructure:"expose_headers" json:"expose_headers"`
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	return cors.Config{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		MaxAge:           c.MaxAge,
		ExposeHeaders:    c.ExposeHeaders,
		AllowCredentials: c.AllowCredentials,
	}
}

func levelVar(level slog.Level) *slog.LevelVar {
	v := &slog.LevelVar{}
	v.Set(level)
	return v
}

// DefaultConfig returns a Config with every default set.
func DefaultConfig() *Config {
	return &Config{
		Database:              DefaultDatabase,
		DatabaseType:          DefaultDatabaseType,
		DatabaseLogLevel:      levelVar(DefaultDatabaseLogLevel),
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              levelVar(DefaultLogLevel),
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		SendRatePerSecond:     DefaultSendRatePerSecond,
		Discord: &DiscordConfig{
			GatewayIntents:    DefaultDiscordGatewayIntent,
			CustomStatus:      DefaultDiscordCustomStatus,
			StartupMessage:    DefaultDiscordStartupMessage,
			LogLevel:          levelVar(DefaultDiscordLogLevel),
			DiscordGoLogLevel: levelVar(DefaultDiscordgoLogLevel),
		},
		Confession: &StickyChannelConfig{
			Cooldown:      DefaultStickyCooldown,
			StickyMessage: DefaultConfessionStickyMessage,
			MaxLength:     DefaultSubmissionMaxLength,
		},
		Suggestion: &StickyChannelConfig{
			Cooldown:      DefaultStickyCooldown,
			StickyMessage: DefaultSuggestionStickyMessage,
			MaxLength:     DefaultSubmissionMaxLength,
		},
		API: &APIConfig{
			Listen:            DefaultAPIListen,
			LogLevel:          levelVar(DefaultAPILogLevel),
			ReadTimeout:       DefaultReadTimeout,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			CORS: CORSConfig{
				AllowMethods:     DefaultCORSAllowMethods,
				AllowHeaders:     DefaultCORSAllowHeaders,
				ExposeHeaders:    DefaultCORSExposeHeaders,
				MaxAge:           DefaultCORSMaxAge,
				AllowCredentials: true,
			},
		},
	}
}
