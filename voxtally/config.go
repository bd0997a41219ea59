//nolint:lll // struct tags can't be split
package voxtally

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
)

const (
	DefaultEnvPrefix = "VOXTALLY"

	// EnvvarSetEnvPrefix overrides the prefix used for environment
	// variable configuration
	EnvvarSetEnvPrefix = "VOXTALLY_ENV_PREFIX"

	DefaultDatabaseType = "sqlite"
	DefaultDatabase     = "voxtally.sqlite3"
	DefaultLogLevel     = slog.LevelInfo

	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 60 * time.Second

	// DefaultSamplerInterval is how often connected voice channels are
	// scanned, and is also the amount of credit granted per scan - one
	// tick, one minute.
	DefaultSamplerInterval = time.Minute

	// DefaultRecapCheckInterval is how often the monthly recap task wakes
	// up to check whether it's the first day of the month.
	DefaultRecapCheckInterval = 24 * time.Hour

	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second

	DiscordSlashCommandVoiceTime          = "voicetime"
	DefaultDiscordVoiceTimeDescription    = "Shows the leaderboard for time spent in voice channels (total or a specific month)"
	DefaultDiscordMonthOptionDescription  = "Optional: month to show the leaderboard for (format: YYYY-MM). Defaults to total time."
	DefaultDiscordGatewayIntent           = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers | discordgo.IntentsGuildVoiceStates
	DefaultDiscordErrorMessage            = "sorry, something went wrong!"
	DefaultDiscordCustomStatus            = "/voicetime with me!"
	DefaultDiscordStartupMessage          = "I'm here!"
	DefaultDiscordUserLookupsPerSecond    = 2
	DefaultLeaderboardSize                = 10
	DefaultAPIListen                      = "127.0.0.1:5000"
	defaultListenNetwork                  = "tcp"
	DefaultDatabaseSlowThreshold          = 200 * time.Millisecond
	DefaultDatabaseLogLevel               = slog.LevelInfo
	DefaultDiscordgoLogLevel              = slog.LevelWarn
	DefaultDiscordLogLevel                = slog.LevelWarn
	DefaultAPILogLevel                    = slog.LevelInfo
)

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodOptions,
		http.MethodHead,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Cache-Control",
		xRequestIDHeader,
	}
	DefaultCORSExposeHeaders = []string{
		"Content-Type",
		"Content-Length",
		xRequestIDHeader,
	}
	DefaultCORSMaxAge = 12 * time.Hour
)

type Config struct {
	// Database connection string, or SQLite file path
	Database string `yaml:"database" mapstructure:"database" json:"database"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// Sampler configures the periodic voice-presence sampler
	Sampler *SamplerConfig `yaml:"sampler" mapstructure:"sampler" json:"sampler"`

	// Recap configures the automated monthly leaderboard recap
	Recap *RecapConfig `yaml:"recap" mapstructure:"recap" json:"recap"`

	// Discord configures the discord bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// API configures the read-only status/leaderboard HTTP API
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// initialize. If this is passed, the bot will abort startup.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After
	// this elapses, the bot will force close all connections and exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	// RecordingStartedOn, when set (YYYY-MM-DD), is noted in the footer of
	// the all-time leaderboard so readers know how far back the data goes
	RecordingStartedOn string `yaml:"recording_started_on" mapstructure:"recording_started_on" json:"recording_started_on" binding:"omitempty,datetime=2006-01-02"`

	Development bool `yaml:"development" mapstructure:"development" json:"development"`

	HTTPClient *http.Client `log:"[redacted]"`
}

// SamplerConfig configures the voice-presence sampler.
type SamplerConfig struct {
	// Interval between voice channel scans. Each scan credits one minute
	// to every audibly-present member, so changing this changes what a
	// "minute" means - leave it at one minute unless you know better.
	Interval time.Duration `yaml:"interval" mapstructure:"interval" json:"interval" binding:"min=1000000000"`
}

// RecapConfig configures the automated monthly recap report.
type RecapConfig struct {
	// ChannelID is the destination text channel for the monthly recap.
	// Empty, unknown or non-text channel IDs disable the recap only -
	// nothing else.
	ChannelID string `yaml:"channel_id" mapstructure:"channel_id" json:"channel_id" binding:"omitempty,number"`

	// CheckInterval is how often the recap task checks the current date.
	// The substantive report only fires on the first day of a month.
	CheckInterval time.Duration `yaml:"check_interval" mapstructure:"check_interval" json:"check_interval" binding:"min=1000000000"`

	// Mention is prepended to the recap message (ex: "@everyone")
	Mention string `yaml:"mention" mapstructure:"mention" json:"mention"`
}

// DiscordConfig configures the discord bot itself.
//
//nolint:lll // can't break tags
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]"`

	// Discord application ID
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id"`

	// GuildID, when set, registers the slash command for a single guild
	// rather than globally
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// GatewayIntents must include guilds, guild members and voice states
	// for the sampler to see anything
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	// CustomStatus sets the bot's custom status on connect
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	// StartupMessage is sent to the recap channel on connect, if both are set
	StartupMessage string `yaml:"startup_message" mapstructure:"startup_message" json:"startup_message"`

	// UserLookupsPerSecond caps REST user lookups made while resolving
	// leaderboard display names
	UserLookupsPerSecond float64 `yaml:"user_lookups_per_second" mapstructure:"user_lookups_per_second" json:"user_lookups_per_second" binding:"gt=0"`

	LogLevel          *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	httpClient *http.Client
}

// APIConfig configures the read-only HTTP API.
type APIConfig struct {
	Enabled           bool           `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	Listen            string         `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true"`
	ListenNetwork     string         `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network"`
	LogLevel          *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
	ReadTimeout       time.Duration  `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout"`
	ReadHeaderTimeout time.Duration  `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"`
	WriteTimeout      time.Duration  `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"`
	IdleTimeout       time.Duration  `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"`
	CORS              CORSConfig     `yaml:"cors" mapstructure:"cors" json:"cors"`
}

// CORSConfig specifies the CORS configuration for the API.
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers" mapstructure:"expose_headers" json:"expose_headers"`
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

// GINConfig returns the gin-contrib/cors config for this CORSConfig.
func (c CORSConfig) GINConfig() cors.Config {
	return cors.Config{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		ExposeHeaders:    c.ExposeHeaders,
		AllowCredentials: c.AllowCredentials,
		MaxAge:           c.MaxAge,
	}
}

func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowMethods:  DefaultCORSAllowMethods,
		AllowHeaders:  DefaultCORSAllowHeaders,
		ExposeHeaders: DefaultCORSExposeHeaders,
		MaxAge:        DefaultCORSMaxAge,
	}
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

func (c DiscordConfig) LogValue() slog.Value {
	return structToSlogValue(c)
}

func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)

	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              mainLogLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		Sampler: &SamplerConfig{
			Interval: DefaultSamplerInterval,
		},
		Recap: &RecapConfig{
			CheckInterval: DefaultRecapCheckInterval,
		},
		Discord: &DiscordConfig{
			GatewayIntents:       DefaultDiscordGatewayIntent,
			LogLevel:             discordLogLevel,
			DiscordGoLogLevel:    discordgoLogLevel,
			CustomStatus:         DefaultDiscordCustomStatus,
			StartupMessage:       DefaultDiscordStartupMessage,
			UserLookupsPerSecond: DefaultDiscordUserLookupsPerSecond,
		},
		API: &APIConfig{
			Listen:            DefaultAPIListen,
			ListenNetwork:     defaultListenNetwork,
			LogLevel:          apiLogLevel,
			ReadTimeout:       DefaultReadTimeout,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			CORS:              DefaultCORSConfig(),
		},
	}
}
