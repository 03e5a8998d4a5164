package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "puzzlegate.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "logging:\n  level: debug\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("expected level debug, got %s", cfg.Logging.Level)
	}
	if cfg.Server.ViewerPort != 8484 {
		t.Errorf("expected viewer port 8484, got %d", cfg.Server.ViewerPort)
	}
	if cfg.Economy.MinRating != 800 || cfg.Economy.MaxRating != 2000 {
		t.Errorf("unexpected economy band: %+v", cfg.Economy)
	}
	if cfg.Puzzles.ReplyDelayDuration() != 300*time.Millisecond {
		t.Errorf("unexpected reply delay: %v", cfg.Puzzles.ReplyDelayDuration())
	}
	if cfg.Puzzles.AttemptTimeoutDuration() != 5*time.Minute {
		t.Errorf("unexpected attempt timeout: %v", cfg.Puzzles.AttemptTimeoutDuration())
	}
}

func TestLoadDestinations(t *testing.T) {
	body := `
destinations:
  - id: youtube.com
    sessions_per_day: 2
    minutes_per_session: 10
  - id: ""
  - id: reddit.com
economy:
  time_bonus_seconds: 5
`
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	s := cfg.Settings()
	if len(s.Destinations) != 2 {
		t.Fatalf("expected 2 destinations, got %+v", s.Destinations)
	}
	if s.Destinations[0].MinutesPerSession != 10 {
		t.Errorf("unexpected first destination: %+v", s.Destinations[0])
	}
	if s.Destinations[1].SessionsPerDay != 3 || s.Destinations[1].MinutesPerSession != 30 {
		t.Errorf("expected defaults on reddit.com, got %+v", s.Destinations[1])
	}
	if s.Economy.TimeBonusSeconds != 5 || s.Economy.SkipPenaltySeconds != 2 {
		t.Errorf("unexpected economy: %+v", s.Economy)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad port", "server:\n  viewer_port: 70000\n"},
		{"inverted ratings", "economy:\n  min_rating: 1500\n  max_rating: 1000\n"},
		{"bad reply delay", "puzzles:\n  reply_delay: soon\n"},
		{"bad attempt timeout", "puzzles:\n  attempt_timeout: later\n"},
		{"negative attempt timeout", "puzzles:\n  attempt_timeout: -1m\n"},
		{"bad redis timeout", "storage:\n  redis:\n    dial_timeout: never\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.body)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.BindAddress != "127.0.0.1" || cfg.Server.MetricsPort != 9090 {
		t.Errorf("unexpected server defaults: %+v", cfg.Server)
	}
	if len(cfg.Server.AllowedOrigins) != 0 {
		t.Errorf("expected no allowed origins, got %v", cfg.Server.AllowedOrigins)
	}
	if cfg.History.RetentionDays != 90 {
		t.Errorf("expected 90 day retention, got %d", cfg.History.RetentionDays)
	}
}
