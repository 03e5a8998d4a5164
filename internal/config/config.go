package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/goodtune/puzzlegate/internal/settings"
	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server        ServerConfig           `mapstructure:"server"`
	Storage       StorageConfig          `mapstructure:"storage"`
	History       HistoryConfig          `mapstructure:"history"`
	Logging       LoggingConfig          `mapstructure:"logging"`
	Puzzles       PuzzlesConfig          `mapstructure:"puzzles"`
	Matching      MatchingConfig         `mapstructure:"matching"`
	Notifications NotificationsConfig    `mapstructure:"notifications"`
	Economy       settings.Economy       `mapstructure:"economy"`
	Destinations  []settings.Destination `mapstructure:"destinations"`
}

// ServerConfig defines server ports and addresses
type ServerConfig struct {
	BindAddress    string   `mapstructure:"bind_address"`
	ViewerPort     int      `mapstructure:"viewer_port"`
	MetricsPort    int      `mapstructure:"metrics_port"`
	SendBufferSize int      `mapstructure:"send_buffer_size"`
	PersistQueue   int      `mapstructure:"persist_queue"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines the Redis connection
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// HistoryConfig defines the attempt history database
type HistoryConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Path          string `mapstructure:"path"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// PuzzlesConfig defines the puzzle corpus and solving behavior
type PuzzlesConfig struct {
	CorpusPath      string `mapstructure:"corpus_path"`
	RatingTolerance int    `mapstructure:"rating_tolerance"`
	MaxTolerance    int    `mapstructure:"max_tolerance"`
	RecentSize      int    `mapstructure:"recent_size"`
	ReplyDelay      string `mapstructure:"reply_delay"`
	AttemptTimeout  string `mapstructure:"attempt_timeout"`
}

// ReplyDelayDuration parses the opponent reply delay.
func (p PuzzlesConfig) ReplyDelayDuration() time.Duration {
	d, err := time.ParseDuration(p.ReplyDelay)
	if err != nil {
		return 300 * time.Millisecond
	}
	return d
}

// AttemptTimeoutDuration parses the time limit of a single attempt. Zero
// disables the limit.
func (p PuzzlesConfig) AttemptTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(p.AttemptTimeout)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// MatchingConfig defines destination matching policy settings
type MatchingConfig struct {
	PolicyDir string `mapstructure:"policy_dir"`
}

// NotificationsConfig defines user notification settings
type NotificationsConfig struct {
	Desktop bool `mapstructure:"desktop"`
}

// Settings returns the gating settings seeded from configuration.
func (c *Config) Settings() settings.Settings {
	dests, _ := settings.Sanitize(c.Destinations)
	return settings.Settings{Destinations: dests, Economy: c.Economy}
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := newViper(configPath)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	return decode(v)
}

// Watch re-reads the configuration file whenever it changes on disk and hands
// the result to onChange. Invalid edits are reported through the error.
func Watch(configPath string, onChange func(*Config, error)) error {
	v := newViper(configPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	v.OnConfigChange(func(fsnotify.Event) {
		onChange(decode(v))
	})
	v.WatchConfig()
	return nil
}

// Defaults returns the configuration used when no file or environment
// overrides are present.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func newViper(configPath string) *viper.Viper {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("PUZZLEGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	eco := settings.DefaultEconomy()

	// Server defaults
	v.SetDefault("server.bind_address", "127.0.0.1")
	v.SetDefault("server.viewer_port", 8484)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.send_buffer_size", 16)
	v.SetDefault("server.persist_queue", 64)
	v.SetDefault("server.allowed_origins", []string{})

	// Storage defaults
	v.SetDefault("storage.redis.host", "127.0.0.1")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// History defaults
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "/var/lib/puzzlegate/history.db")
	v.SetDefault("history.retention_days", 90)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Puzzle defaults
	v.SetDefault("puzzles.corpus_path", "/usr/share/puzzlegate/puzzles.csv")
	v.SetDefault("puzzles.rating_tolerance", 100)
	v.SetDefault("puzzles.max_tolerance", 800)
	v.SetDefault("puzzles.recent_size", 256)
	v.SetDefault("puzzles.reply_delay", "300ms")
	v.SetDefault("puzzles.attempt_timeout", "5m")

	// Matching defaults
	v.SetDefault("matching.policy_dir", "")

	// Notification defaults
	v.SetDefault("notifications.desktop", false)

	// Economy defaults
	v.SetDefault("economy.min_rating", eco.MinRating)
	v.SetDefault("economy.max_rating", eco.MaxRating)
	v.SetDefault("economy.time_bonus_seconds", eco.TimeBonusSeconds)
	v.SetDefault("economy.wrong_move_penalty_seconds", eco.WrongMovePenaltySeconds)
	v.SetDefault("economy.hint_penalty_seconds", eco.HintPenaltySeconds)
	v.SetDefault("economy.skip_penalty_seconds", eco.SkipPenaltySeconds)
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.ViewerPort <= 0 || cfg.Server.ViewerPort > 65535 {
		return fmt.Errorf("invalid viewer port: %d", cfg.Server.ViewerPort)
	}
	if cfg.Server.MetricsPort < 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}
	if cfg.Server.SendBufferSize <= 0 {
		cfg.Server.SendBufferSize = 16
	}
	if cfg.Server.PersistQueue <= 0 {
		cfg.Server.PersistQueue = 64
	}

	if cfg.Storage.Redis.Host == "" {
		return fmt.Errorf("redis host is required")
	}
	for name, value := range map[string]string{
		"dial_timeout":  cfg.Storage.Redis.DialTimeout,
		"read_timeout":  cfg.Storage.Redis.ReadTimeout,
		"write_timeout": cfg.Storage.Redis.WriteTimeout,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid redis %s %q: %w", name, value, err)
		}
	}

	if cfg.History.Enabled && cfg.History.Path == "" {
		return fmt.Errorf("history path is required when history is enabled")
	}

	if cfg.Puzzles.RatingTolerance <= 0 {
		return fmt.Errorf("rating tolerance must be positive: %d", cfg.Puzzles.RatingTolerance)
	}
	if cfg.Puzzles.MaxTolerance < cfg.Puzzles.RatingTolerance {
		cfg.Puzzles.MaxTolerance = cfg.Puzzles.RatingTolerance
	}
	if _, err := time.ParseDuration(cfg.Puzzles.ReplyDelay); err != nil {
		return fmt.Errorf("invalid reply delay %q: %w", cfg.Puzzles.ReplyDelay, err)
	}
	if d, err := time.ParseDuration(cfg.Puzzles.AttemptTimeout); err != nil {
		return fmt.Errorf("invalid attempt timeout %q: %w", cfg.Puzzles.AttemptTimeout, err)
	} else if d < 0 {
		return fmt.Errorf("attempt timeout must not be negative: %s", cfg.Puzzles.AttemptTimeout)
	}

	if err := cfg.Economy.Validate(); err != nil {
		return fmt.Errorf("invalid economy: %w", err)
	}

	return nil
}
