//nolint:lll // struct tags can't be split
package aithena

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	EnvvarSetEnvPrefix = "DISCORD_OPENAI_ENV_PREFIX"
	DefaultEnvPrefix   = "AITHENA"

	DefaultBotName      = "Aithena"
	DefaultDatabaseType = "sqlite"
	DefaultDatabase     = "aithena.sqlite3"

	// DefaultUsageCostValue is the dollar cap applied to limited users
	// per usage interval.
	DefaultUsageCostValue = 1.0

	// DefaultUsageCostInterval is the rolling window, in hours, over
	// which the cost cap is enforced.
	DefaultUsageCostInterval = 168

	DefaultChatModel    = "gpt-4o-mini"
	DefaultImageModel   = "dall-e-3"
	DefaultImageSize    = "1024x1024"
	DefaultImageQuality = "standard"

	DefaultLogLevel         = slog.LevelInfo
	DefaultDatabaseLogLevel = slog.LevelWarn
	DefaultDiscordLogLevel  = slog.LevelWarn
	DefaultOpenAILogLevel   = slog.LevelInfo
	DefaultAPILogLevel      = slog.LevelInfo

	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 60 * time.Second

	DefaultOpenAIRequestTimeout        = 3 * time.Minute
	DefaultOpenAIMaxRequestsPerSecond  = 1
	DefaultDatabaseSlowThreshold       = 200 * time.Millisecond
	DefaultDiscordStartupMessage       = "I'm here!"
	DefaultDiscordErrorMessage         = "sorry, something went wrong!"
	DefaultDiscordCustomStatus         = "/chat with me!"
	DefaultAPIListen                   = "127.0.0.1:5000"
	DefaultReadTimeout                 = 5 * time.Second
	DefaultReadHeaderTimeout           = 5 * time.Second
	DefaultWriteTimeout                = 10 * time.Second
	DefaultIdleTimeout                 = 30 * time.Second
	defaultListenNetwork               = "tcp"
)

// Config is the top-level bot configuration. It's loaded once at startup
// (see cmd/) and passed by reference to every component; the only fields
// that ever change afterward are the usage limit pair, which admins can
// adjust at runtime via /config, guarded by an internal mutex.
type Config struct {
	// BotName is used for display/logging only
	BotName string `yaml:"bot_name" mapstructure:"bot_name" json:"bot_name"`

	// Database connection string, or SQLite file path
	Database string `yaml:"database" mapstructure:"database" json:"database" binding:"required"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Owner is the Discord user ID of the bot owner. The owner bypasses
	// all usage and channel restrictions.
	Owner uint64 `yaml:"owner" mapstructure:"owner" json:"owner" binding:"required"`

	// AdminUsers are Discord user IDs allowed to run admin commands.
	// Admins also bypass the usage cap.
	AdminUsers []uint64 `yaml:"admin_users" mapstructure:"admin_users" json:"admin_users"`

	// AdminGuilds are guild IDs where admin commands are registered
	AdminGuilds []uint64 `yaml:"admin_guilds" mapstructure:"admin_guilds" json:"admin_guilds"`

	// AllowChannels are guild channel IDs the bot will respond in
	AllowChannels []uint64 `yaml:"allow_channels" mapstructure:"allow_channels" json:"allow_channels"`

	// AllowUsers are user IDs allowed to use the bot via direct message
	AllowUsers []uint64 `yaml:"allow_users" mapstructure:"allow_users" json:"allow_users"`

	// UnlimitedUsers are user IDs exempt from the usage cap
	UnlimitedUsers []uint64 `yaml:"unlimited_users" mapstructure:"unlimited_users" json:"unlimited_users"`

	// UsageCostValue is the dollar cap per interval for limited users
	UsageCostValue float64 `yaml:"usage_cost_value" mapstructure:"usage_cost_value" json:"usage_cost_value" binding:"gte=0"`

	// UsageCostInterval is the rolling window, in hours
	UsageCostInterval int `yaml:"usage_cost_interval" mapstructure:"usage_cost_interval" json:"usage_cost_interval" binding:"gt=0"`

	// OpenAI holds the configuration for OpenAI integration
	OpenAI *OpenAIConfig `yaml:"openai" mapstructure:"openai" json:"openai"`

	// Discord configures aspects of the Discord bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// API configures the operator HTTP API
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// initialize. If this is passed, the bot will abort startup.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After
	// this elapses, the bot will force close all connections and exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	// guards UsageCostValue/UsageCostInterval after startup
	limitMu sync.RWMutex `yaml:"-" mapstructure:"-" json:"-"`
}

// OpenAIConfig holds configuration for the OpenAI integration.
type OpenAIConfig struct {
	// Token is the OpenAI API key
	Token string `yaml:"token" mapstructure:"token" json:"token" binding:"required"`

	// ChatModel is the default model for /chat and /private
	ChatModel string `yaml:"chat_model" mapstructure:"chat_model" json:"chat_model"`

	// ImageModel is the default model for /image
	ImageModel string `yaml:"image_model" mapstructure:"image_model" json:"image_model"`

	// RequestTimeout caps the duration of a single API call
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout" json:"request_timeout"`

	// MaxRequestsPerSecond limits outgoing API calls
	MaxRequestsPerSecond int `yaml:"max_requests_per_second" mapstructure:"max_requests_per_second" json:"max_requests_per_second"`

	// LogLevel sets the log level for the OpenAI integration
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// DiscordConfig configures the Discord gateway session.
type DiscordConfig struct {
	// Token is the Discord bot token
	Token string `yaml:"token" mapstructure:"token" json:"token" binding:"required"`

	// ApplicationID is the Discord application ID, used to register
	// slash commands
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// GuildID, if set, registers slash commands for a single guild
	// (instant propagation, useful for development). If empty, commands
	// are registered globally.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// StartupMessage is set as the bot's custom status when it comes online
	StartupMessage string `yaml:"startup_message" mapstructure:"startup_message" json:"startup_message"`

	// ErrorMessage is the generic user-facing failure message
	ErrorMessage string `yaml:"error_message" mapstructure:"error_message" json:"error_message"`

	// CustomStatus is the bot's persistent custom status
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	// LogLevel sets the log level for Discord integration events
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// DiscordGoLogLevel sets the log level for the discordgo library
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`
}

// APIConfig configures the read-only operator HTTP API.
type APIConfig struct {
	// Enabled toggles the API server
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// Listen address, like "127.0.0.1:5000"
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen"`

	ReadTimeout       time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"`

	// CORSAllowOrigins is passed through to the CORS middleware
	CORSAllowOrigins []string `yaml:"cors_allow_origins" mapstructure:"cors_allow_origins" json:"cors_allow_origins"`

	// LogLevel sets the log level for API requests
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// DefaultConfig returns a Config with all defaults set. Tokens, the owner
// ID and the allow lists must still be provided.
func DefaultConfig() *Config {
	logLevel := &slog.LevelVar{}
	logLevel.Set(DefaultLogLevel)

	dbLogLevel := &slog.LevelVar{}
	dbLogLevel.Set(DefaultDatabaseLogLevel)

	discordLogLevel := &slog.LevelVar{}
	discordLogLevel.Set(DefaultDiscordLogLevel)

	discordgoLogLevel := &slog.LevelVar{}
	discordgoLogLevel.Set(DefaultDiscordLogLevel)

	openaiLogLevel := &slog.LevelVar{}
	openaiLogLevel.Set(DefaultOpenAILogLevel)

	apiLogLevel := &slog.LevelVar{}
	apiLogLevel.Set(DefaultAPILogLevel)

	return &Config{
		BotName:               DefaultBotName,
		Database:              DefaultDatabase,
		DatabaseType:          DefaultDatabaseType,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              logLevel,
		UsageCostValue:        DefaultUsageCostValue,
		UsageCostInterval:     DefaultUsageCostInterval,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		OpenAI: &OpenAIConfig{
			ChatModel:            DefaultChatModel,
			ImageModel:           DefaultImageModel,
			RequestTimeout:       DefaultOpenAIRequestTimeout,
			MaxRequestsPerSecond: DefaultOpenAIMaxRequestsPerSecond,
			LogLevel:             openaiLogLevel,
		},
		Discord: &DiscordConfig{
			StartupMessage:    DefaultDiscordStartupMessage,
			ErrorMessage:      DefaultDiscordErrorMessage,
			CustomStatus:      DefaultDiscordCustomStatus,
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
		},
		API: &APIConfig{
			Listen:            DefaultAPIListen,
			ReadTimeout:       DefaultReadTimeout,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			LogLevel:          apiLogLevel,
		},
	}
}

// Validate checks the binding tags on Config and its nested structs.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.SetTagName("binding")
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// IsOwner reports whether userID is the bot owner.
func (c *Config) IsOwner(userID uint64) bool {
	return userID != 0 && userID == c.Owner
}

// IsAdmin reports whether userID is the owner or a configured admin.
func (c *Config) IsAdmin(userID uint64) bool {
	return c.IsOwner(userID) || slices.Contains(c.AdminUsers, userID)
}

// IsUnlimited reports whether userID is exempt from the usage cap.
func (c *Config) IsUnlimited(userID uint64) bool {
	return slices.Contains(c.UnlimitedUsers, userID)
}

// AllowsChannel reports whether the bot may respond in the given guild
// channel.
func (c *Config) AllowsChannel(channelID uint64) bool {
	return slices.Contains(c.AllowChannels, channelID)
}

// AllowsDM reports whether the bot may respond to direct messages from
// the given user.
func (c *Config) AllowsDM(userID uint64) bool {
	return slices.Contains(c.AllowUsers, userID)
}

// UsageLimit returns the current dollar cap and rolling window length.
func (c *Config) UsageLimit() (float64, time.Duration) {
	c.limitMu.RLock()
	defer c.limitMu.RUnlock()
	return c.UsageCostValue, time.Duration(c.UsageCostInterval) * time.Hour
}

// SetUsageLimit updates the dollar cap and window length at runtime.
func (c *Config) SetUsageLimit(cost float64, intervalHours int) error {
	if cost < 0 {
		return fmt.Errorf("usage cost value must be >= 0, got %v", cost)
	}
	if intervalHours <= 0 {
		return fmt.Errorf("usage cost interval must be > 0, got %d", intervalHours)
	}
	c.limitMu.Lock()
	defer c.limitMu.Unlock()
	c.UsageCostValue = cost
	c.UsageCostInterval = intervalHours
	return nil
}

// UsageLimitString describes the current limit, like "$1.0000/168 hrs".
func (c *Config) UsageLimitString() string {
	limit, interval := c.UsageLimit()
	return fmt.Sprintf(
		"%s/%d hrs",
		formatDollarString(limit),
		int(interval.Hours()),
	)
}
