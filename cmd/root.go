package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strconv"
	"strings"
	"syscall"

	"github.com/St0nefish/discord-openai/aithena"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg     = aithena.DefaultConfig()
	envFile string
)

var rootCmd = &cobra.Command{
	Use: "discord-openai [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
					SnowflakeHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
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
	if envFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		if err := godotenv.Load(envFile); err != nil {
			log.Fatalf("error loading env file %s: %v", envFile, err)
		}
	}

	viper.SetDefault("bot_name", aithena.DefaultBotName)
	viper.SetDefault("database", aithena.DefaultDatabase)
	viper.SetDefault("database_type", aithena.DefaultDatabaseType)
	viper.SetDefault(
		"database_slow_threshold",
		aithena.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault(
		"database_log_level",
		aithena.DefaultDatabaseLogLevel.String(),
	)
	viper.SetDefault("log_level", aithena.DefaultLogLevel.String())

	viper.SetDefault("owner", "")
	viper.SetDefault("admin_users", "")
	viper.SetDefault("admin_guilds", "")
	viper.SetDefault("allow_channels", "")
	viper.SetDefault("allow_users", "")
	viper.SetDefault("unlimited_users", "")
	viper.SetDefault("usage_cost_value", aithena.DefaultUsageCostValue)
	viper.SetDefault("usage_cost_interval", aithena.DefaultUsageCostInterval)

	viper.SetDefault("startup_timeout", aithena.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", aithena.DefaultShutdownTimeout)

	// OpenAI config
	viper.SetDefault("openai.token", "")
	viper.SetDefault("openai.chat_model", aithena.DefaultChatModel)
	viper.SetDefault("openai.image_model", aithena.DefaultImageModel)
	viper.SetDefault(
		"openai.request_timeout",
		aithena.DefaultOpenAIRequestTimeout,
	)
	viper.SetDefault(
		"openai.max_requests_per_second",
		aithena.DefaultOpenAIMaxRequestsPerSecond,
	)
	viper.SetDefault("openai.log_level", aithena.DefaultOpenAILogLevel.String())

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault(
		"discord.startup_message",
		aithena.DefaultDiscordStartupMessage,
	)
	viper.SetDefault(
		"discord.error_message",
		aithena.DefaultDiscordErrorMessage,
	)
	viper.SetDefault(
		"discord.custom_status",
		aithena.DefaultDiscordCustomStatus,
	)
	viper.SetDefault(
		"discord.log_level",
		aithena.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		aithena.DefaultDiscordLogLevel.String(),
	)

	// API config
	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.listen", aithena.DefaultAPIListen)
	viper.SetDefault("api.read_timeout", aithena.DefaultReadTimeout)
	viper.SetDefault(
		"api.read_header_timeout",
		aithena.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("api.write_timeout", aithena.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", aithena.DefaultIdleTimeout)
	viper.SetDefault("api.cors_allow_origins", []string{})
	viper.SetDefault("api.log_level", aithena.DefaultAPILogLevel.String())

	envPrefix := os.Getenv(aithena.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = aithena.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	for _, key := range []string{
		"log_level",
		"database_log_level",
		"discord.log_level",
		"discord.discordgo_log_level",
		"openai.log_level",
		"api.log_level",
	} {
		levelVar, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, levelVar)
	}
}

// LevelToStringHookFunc decodes log level strings into *slog.LevelVar
// config fields.
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
		if t.Elem() != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvlVar, err := levelStringToLevelVar(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		return lvlVar, nil
	}
}

// SnowflakeHookFunc decodes Discord snowflake strings (the environment
// representation of the owner ID and the ID allow lists) into uint64
// and []uint64 config fields.
func SnowflakeHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		switch {
		case t == reflect.TypeOf([]uint64{}):
			return aithena.ParseSnowflakeList(data.(string)), nil
		case t.Kind() == reflect.Uint64:
			s := strings.TrimSpace(data.(string))
			if s == "" {
				return uint64(0), nil
			}
			return strconv.ParseUint(s, 10, 64)
		default:
			return data, nil
		}
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
		&envFile,
		"env-file",
		"",
		"Env file to load before reading configuration",
	)
}
