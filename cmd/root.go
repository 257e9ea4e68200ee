package cmd

import (
	"context"
	"fmt"
	"github.com/joho/godotenv"
	"github.com/kirin-3/stickykeeper/stickykeeper"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"
)

var (
	cfg        = stickykeeper.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use: "stickykeeper [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch level {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

// LevelToStringHookFunc decodes log level strings into *slog.LevelVar
// during viper unmarshaling.
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Println("No .env file found")
		}
	}

	viper.SetDefault("database", stickykeeper.DefaultDatabase)
	viper.SetDefault("database_type", stickykeeper.DefaultDatabaseType)
	viper.SetDefault(
		"database_slow_threshold",
		stickykeeper.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault(
		"database_log_level",
		stickykeeper.DefaultDatabaseLogLevel.String(),
	)

	viper.SetDefault("log_level", stickykeeper.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", stickykeeper.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", stickykeeper.DefaultShutdownTimeout)
	viper.SetDefault(
		"send_rate_per_second",
		stickykeeper.DefaultSendRatePerSecond,
	)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.notification_channel_id", "")
	viper.SetDefault(
		"discord.custom_status",
		stickykeeper.DefaultDiscordCustomStatus,
	)
	viper.SetDefault(
		"discord.startup_message",
		stickykeeper.DefaultDiscordStartupMessage,
	)
	viper.SetDefault(
		"discord.gateway_intents",
		stickykeeper.DefaultDiscordGatewayIntent,
	)
	viper.SetDefault(
		"discord.log_level",
		stickykeeper.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		stickykeeper.DefaultDiscordgoLogLevel.String(),
	)

	// Front-end config
	viper.SetDefault("confession.channel_id", "")
	viper.SetDefault("confession.cooldown", stickykeeper.DefaultStickyCooldown)
	viper.SetDefault(
		"confession.sticky_message",
		stickykeeper.DefaultConfessionStickyMessage,
	)
	viper.SetDefault(
		"confession.max_length",
		stickykeeper.DefaultSubmissionMaxLength,
	)
	viper.SetDefault("suggestion.channel_id", "")
	viper.SetDefault("suggestion.cooldown", stickykeeper.DefaultStickyCooldown)
	viper.SetDefault(
		"suggestion.sticky_message",
		stickykeeper.DefaultSuggestionStickyMessage,
	)
	viper.SetDefault(
		"suggestion.max_length",
		stickykeeper.DefaultSubmissionMaxLength,
	)

	// API config
	viper.SetDefault("api.listen", stickykeeper.DefaultAPIListen)
	viper.SetDefault("api.token_hash", "")
	viper.SetDefault("api.log_level", stickykeeper.DefaultAPILogLevel.String())
	viper.SetDefault("api.read_timeout", stickykeeper.DefaultReadTimeout)
	viper.SetDefault(
		"api.read_header_timeout",
		stickykeeper.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("api.write_timeout", stickykeeper.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", stickykeeper.DefaultIdleTimeout)
	viper.SetDefault("api.development", false)

	// API: CORS config
	viper.SetDefault(
		"api.cors.allow_headers",
		stickykeeper.DefaultCORSAllowHeaders,
	)
	viper.SetDefault(
		"api.cors.allow_methods",
		stickykeeper.DefaultCORSAllowMethods,
	)
	viper.SetDefault(
		"api.cors.expose_headers",
		stickykeeper.DefaultCORSExposeHeaders,
	)
	viper.SetDefault("api.cors.allow_origins", []string{})
	viper.SetDefault("api.cors.max_age", stickykeeper.DefaultCORSMaxAge)
	viper.SetDefault("api.cors.allow_credentials", true)

	envPrefix := os.Getenv(stickykeeper.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = stickykeeper.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// Convert values to correct types
	viper.Set(
		"api.cors.allow_headers",
		viper.GetStringSlice("api.cors.allow_headers"),
	)
	viper.Set(
		"api.cors.allow_origins",
		viper.GetStringSlice("api.cors.allow_origins"),
	)
	viper.Set(
		"api.cors.allow_methods",
		viper.GetStringSlice("api.cors.allow_methods"),
	)
	viper.Set(
		"api.cors.expose_headers",
		viper.GetStringSlice("api.cors.expose_headers"),
	)

	for _, key := range []string{
		"log_level",
		"database_log_level",
		"discord.log_level",
		"discord.discordgo_log_level",
		"api.log_level",
	} {
		logLevelVar, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, logLevelVar)
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Config file to use",
	)
}
