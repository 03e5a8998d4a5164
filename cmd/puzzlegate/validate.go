package main

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/puzzlegate/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	validateDump bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the PuzzleGate configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump full configuration with defaults highlighted")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	// Unknown keys are reported even without --dump
	unknownKeys, err := findUnknownKeys(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "⚠️  Warning: Could not check for unknown keys: %v\n", err)
	}

	_, _ = fmt.Fprintf(os.Stdout, "✅ Configuration is valid: %s\n", configPath)

	// Warn about unknown keys
	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		fmt.Fprintln(os.Stdout)
		red.Fprintf(os.Stdout, "⚠️  WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	// Show the full configuration against the built-in defaults
	if validateDump {
		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
		_, _ = fmt.Fprintln(os.Stdout, "FULL CONFIGURATION (values different from defaults are highlighted)")
		_, _ = fmt.Fprintln(os.Stdout, strings.Repeat("=", 80))

		dumpConfig(cfg, config.Defaults(), unknownKeys)
	}

	return nil
}

// findUnknownKeys loads the config file and checks for unknown keys
func findUnknownKeys(configPath string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	validKeys := getValidKeys()

	// Keys in the file that the config package never reads
	unknown := []string{}
	for _, key := range v.AllKeys() {
		if !validKeys[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)

	return unknown, nil
}

// getValidKeys returns a set of all valid configuration keys
func getValidKeys() map[string]bool {
	return map[string]bool{
		// Server
		"server.bind_address":     true,
		"server.viewer_port":      true,
		"server.metrics_port":     true,
		"server.send_buffer_size": true,
		"server.persist_queue":    true,
		"server.allowed_origins":  true,

		// Storage
		"storage.redis.host":           true,
		"storage.redis.port":           true,
		"storage.redis.password":       true,
		"storage.redis.db":             true,
		"storage.redis.pool_size":      true,
		"storage.redis.min_idle_conns": true,
		"storage.redis.dial_timeout":   true,
		"storage.redis.read_timeout":   true,
		"storage.redis.write_timeout":  true,

		// History
		"history.enabled":        true,
		"history.path":           true,
		"history.retention_days": true,

		// Logging
		"logging.level":  true,
		"logging.format": true,

		// Puzzles
		"puzzles.corpus_path":      true,
		"puzzles.rating_tolerance": true,
		"puzzles.max_tolerance":    true,
		"puzzles.recent_size":      true,
		"puzzles.reply_delay":      true,
		"puzzles.attempt_timeout":  true,

		// Matching
		"matching.policy_dir": true,

		// Notifications
		"notifications.desktop": true,

		// Economy
		"economy.min_rating":                 true,
		"economy.max_rating":                 true,
		"economy.time_bonus_seconds":         true,
		"economy.wrong_move_penalty_seconds": true,
		"economy.hint_penalty_seconds":       true,
		"economy.skip_penalty_seconds":       true,

		// Destinations are a list; viper reports the list as a single key
		"destinations": true,
	}
}

// dumpConfig dumps configuration with color highlighting for non-default values
func dumpConfig(cfg, defaultCfg *config.Config, unknownKeys []string) {
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	_, _ = cyan.Println("\n[server]")
	dumpField("  bind_address", cfg.Server.BindAddress, defaultCfg.Server.BindAddress, yellow, green)
	dumpField("  viewer_port", cfg.Server.ViewerPort, defaultCfg.Server.ViewerPort, yellow, green)
	dumpField("  metrics_port", cfg.Server.MetricsPort, defaultCfg.Server.MetricsPort, yellow, green)
	dumpField("  send_buffer_size", cfg.Server.SendBufferSize, defaultCfg.Server.SendBufferSize, yellow, green)
	dumpField("  persist_queue", cfg.Server.PersistQueue, defaultCfg.Server.PersistQueue, yellow, green)
	dumpField("  allowed_origins", cfg.Server.AllowedOrigins, defaultCfg.Server.AllowedOrigins, yellow, green)

	_, _ = cyan.Println("\n[storage]")
	_, _ = cyan.Println("  [storage.redis]")
	dumpField("    host", cfg.Storage.Redis.Host, defaultCfg.Storage.Redis.Host, yellow, green)
	dumpField("    port", cfg.Storage.Redis.Port, defaultCfg.Storage.Redis.Port, yellow, green)
	dumpField("    password", redactPassword(cfg.Storage.Redis.Password), redactPassword(defaultCfg.Storage.Redis.Password), yellow, green)
	dumpField("    db", cfg.Storage.Redis.DB, defaultCfg.Storage.Redis.DB, yellow, green)
	dumpField("    pool_size", cfg.Storage.Redis.PoolSize, defaultCfg.Storage.Redis.PoolSize, yellow, green)
	dumpField("    min_idle_conns", cfg.Storage.Redis.MinIdleConns, defaultCfg.Storage.Redis.MinIdleConns, yellow, green)
	dumpField("    dial_timeout", cfg.Storage.Redis.DialTimeout, defaultCfg.Storage.Redis.DialTimeout, yellow, green)
	dumpField("    read_timeout", cfg.Storage.Redis.ReadTimeout, defaultCfg.Storage.Redis.ReadTimeout, yellow, green)
	dumpField("    write_timeout", cfg.Storage.Redis.WriteTimeout, defaultCfg.Storage.Redis.WriteTimeout, yellow, green)

	_, _ = cyan.Println("\n[history]")
	dumpField("  enabled", cfg.History.Enabled, defaultCfg.History.Enabled, yellow, green)
	dumpField("  path", cfg.History.Path, defaultCfg.History.Path, yellow, green)
	dumpField("  retention_days", cfg.History.RetentionDays, defaultCfg.History.RetentionDays, yellow, green)

	_, _ = cyan.Println("\n[logging]")
	dumpField("  level", cfg.Logging.Level, defaultCfg.Logging.Level, yellow, green)
	dumpField("  format", cfg.Logging.Format, defaultCfg.Logging.Format, yellow, green)

	_, _ = cyan.Println("\n[puzzles]")
	dumpField("  corpus_path", cfg.Puzzles.CorpusPath, defaultCfg.Puzzles.CorpusPath, yellow, green)
	dumpField("  rating_tolerance", cfg.Puzzles.RatingTolerance, defaultCfg.Puzzles.RatingTolerance, yellow, green)
	dumpField("  max_tolerance", cfg.Puzzles.MaxTolerance, defaultCfg.Puzzles.MaxTolerance, yellow, green)
	dumpField("  recent_size", cfg.Puzzles.RecentSize, defaultCfg.Puzzles.RecentSize, yellow, green)
	dumpField("  reply_delay", cfg.Puzzles.ReplyDelay, defaultCfg.Puzzles.ReplyDelay, yellow, green)
	dumpField("  attempt_timeout", cfg.Puzzles.AttemptTimeout, defaultCfg.Puzzles.AttemptTimeout, yellow, green)

	_, _ = cyan.Println("\n[matching]")
	dumpField("  policy_dir", cfg.Matching.PolicyDir, defaultCfg.Matching.PolicyDir, yellow, green)

	_, _ = cyan.Println("\n[notifications]")
	dumpField("  desktop", cfg.Notifications.Desktop, defaultCfg.Notifications.Desktop, yellow, green)

	_, _ = cyan.Println("\n[economy]")
	dumpField("  min_rating", cfg.Economy.MinRating, defaultCfg.Economy.MinRating, yellow, green)
	dumpField("  max_rating", cfg.Economy.MaxRating, defaultCfg.Economy.MaxRating, yellow, green)
	dumpField("  time_bonus_seconds", cfg.Economy.TimeBonusSeconds, defaultCfg.Economy.TimeBonusSeconds, yellow, green)
	dumpField("  wrong_move_penalty_seconds", cfg.Economy.WrongMovePenaltySeconds, defaultCfg.Economy.WrongMovePenaltySeconds, yellow, green)
	dumpField("  hint_penalty_seconds", cfg.Economy.HintPenaltySeconds, defaultCfg.Economy.HintPenaltySeconds, yellow, green)
	dumpField("  skip_penalty_seconds", cfg.Economy.SkipPenaltySeconds, defaultCfg.Economy.SkipPenaltySeconds, yellow, green)

	_, _ = cyan.Println("\n[destinations]")
	for _, d := range cfg.Settings().Destinations {
		_, _ = yellow.Printf("  %s = %d sessions/day, %d min/session\n", d.ID, d.SessionsPerDay, d.MinutesPerSession)
	}

	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)

		_, _ = cyan.Println("\n[UNKNOWN KEYS - These will be ignored!]")
		for _, key := range unknownKeys {
			_, _ = red.Printf("  %s = (unknown key - check for typos)\n", key)
		}
	}

	_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
}

// dumpField prints a field with color if it differs from default
func dumpField(name string, value, defaultValue interface{}, modifiedColor, defaultColor *color.Color) {
	isDefault := reflect.DeepEqual(value, defaultValue)

	valueStr := fmt.Sprintf("%v", value)

	if isDefault {
		_, _ = defaultColor.Printf("%s = %s\n", name, valueStr)
	} else {
		_, _ = modifiedColor.Printf("%s = %s  (modified from default: %v)\n", name, valueStr, defaultValue)
	}
}

// redactPassword redacts password if not empty
func redactPassword(password string) string {
	if password == "" {
		return ""
	}
	return "***REDACTED***"
}
