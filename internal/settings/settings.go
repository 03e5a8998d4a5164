package settings

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/goodtune/puzzlegate/internal/storage"
)

const (
	// DefaultSessionsPerDay is the quota given to a newly added destination
	DefaultSessionsPerDay = 3

	// DefaultMinutesPerSession is the session cap given to a newly added destination
	DefaultMinutesPerSession = 30
)

// Destination is a monitored host subject to access gating.
type Destination struct {
	ID                string `json:"id" mapstructure:"id"`
	SessionsPerDay    int    `json:"sessionsPerDay" mapstructure:"sessions_per_day"`
	MinutesPerSession int    `json:"minutesPerSession" mapstructure:"minutes_per_session"`
}

// NewDestination returns a destination with the default quotas.
func NewDestination(id string) Destination {
	return Destination{
		ID:                strings.TrimSpace(id),
		SessionsPerDay:    DefaultSessionsPerDay,
		MinutesPerSession: DefaultMinutesPerSession,
	}
}

// MaxSeconds is the longest timer a single session may grant.
func (d Destination) MaxSeconds() int {
	return d.MinutesPerSession * 60
}

// Economy holds the tunables that convert puzzle performance into time.
type Economy struct {
	MinRating               int `json:"minRating" mapstructure:"min_rating"`
	MaxRating               int `json:"maxRating" mapstructure:"max_rating"`
	TimeBonusSeconds        int `json:"timeBonusSeconds" mapstructure:"time_bonus_seconds"`
	WrongMovePenaltySeconds int `json:"wrongMovePenaltySeconds" mapstructure:"wrong_move_penalty_seconds"`
	HintPenaltySeconds      int `json:"hintPenaltySeconds" mapstructure:"hint_penalty_seconds"`
	SkipPenaltySeconds      int `json:"skipPenaltySeconds" mapstructure:"skip_penalty_seconds"`
}

// DefaultEconomy returns the economy used when nothing has been configured.
func DefaultEconomy() Economy {
	return Economy{
		MinRating:               800,
		MaxRating:               2000,
		TimeBonusSeconds:        2,
		WrongMovePenaltySeconds: 1,
		HintPenaltySeconds:      1,
		SkipPenaltySeconds:      2,
	}
}

// Validate reports economy values that cannot produce a sensible rating band.
func (e Economy) Validate() error {
	if e.MinRating <= 0 {
		return fmt.Errorf("min rating must be positive: %d", e.MinRating)
	}
	if e.MaxRating < e.MinRating {
		return fmt.Errorf("max rating %d is below min rating %d", e.MaxRating, e.MinRating)
	}
	for name, v := range map[string]int{
		"time bonus":         e.TimeBonusSeconds,
		"wrong move penalty": e.WrongMovePenaltySeconds,
		"hint penalty":       e.HintPenaltySeconds,
		"skip penalty":       e.SkipPenaltySeconds,
	} {
		if v < 0 {
			return fmt.Errorf("%s must not be negative: %d", name, v)
		}
	}
	return nil
}

// Settings is the complete gating configuration.
type Settings struct {
	Destinations []Destination `json:"destinations"`
	Economy      Economy       `json:"economy"`
}

// Find returns the destination with the given id.
func (s Settings) Find(id string) (Destination, bool) {
	for _, d := range s.Destinations {
		if d.ID == id {
			return d, true
		}
	}
	return Destination{}, false
}

// IDs returns destination ids in configured order.
func (s Settings) IDs() []string {
	ids := make([]string, 0, len(s.Destinations))
	for _, d := range s.Destinations {
		ids = append(ids, d.ID)
	}
	return ids
}

// Sanitize drops destinations without a usable id, removes duplicates and
// fills non-positive quotas with defaults. It reports whether anything changed.
func Sanitize(in []Destination) ([]Destination, bool) {
	out := make([]Destination, 0, len(in))
	seen := make(map[string]bool, len(in))
	changed := false

	for _, d := range in {
		id := strings.TrimSpace(d.ID)
		if !validID(id) || seen[id] {
			changed = true
			continue
		}
		if id != d.ID {
			d.ID = id
			changed = true
		}
		if d.SessionsPerDay <= 0 {
			d.SessionsPerDay = DefaultSessionsPerDay
			changed = true
		}
		if d.MinutesPerSession <= 0 {
			d.MinutesPerSession = DefaultMinutesPerSession
			changed = true
		}
		seen[id] = true
		out = append(out, d)
	}

	return out, changed
}

// ParseDestinations decodes a persisted destination list. Entries that are not
// objects or lack a valid id are dropped; healed is true when the cleaned list
// differs from what was stored and should be written back.
func ParseDestinations(data []byte) (destinations []Destination, healed bool, err error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, false, fmt.Errorf("failed to decode destination list: %w", err)
	}

	decoded := make([]Destination, 0, len(raw))
	for _, entry := range raw {
		var d Destination
		if err := json.Unmarshal(entry, &d); err != nil {
			healed = true
			continue
		}
		decoded = append(decoded, d)
	}

	cleaned, changed := Sanitize(decoded)
	return cleaned, healed || changed, nil
}

func validID(id string) bool {
	return id != "" && id != "undefined" && id != "null"
}

// Record converts the economy to its persisted form.
func (e Economy) Record() storage.EconomyRecord {
	return storage.EconomyRecord{
		MinRating:               e.MinRating,
		MaxRating:               e.MaxRating,
		TimeBonusSeconds:        e.TimeBonusSeconds,
		WrongMovePenaltySeconds: e.WrongMovePenaltySeconds,
		HintPenaltySeconds:      e.HintPenaltySeconds,
		SkipPenaltySeconds:      e.SkipPenaltySeconds,
	}
}

// EconomyFromRecord converts a persisted economy record.
func EconomyFromRecord(r storage.EconomyRecord) Economy {
	return Economy{
		MinRating:               r.MinRating,
		MaxRating:               r.MaxRating,
		TimeBonusSeconds:        r.TimeBonusSeconds,
		WrongMovePenaltySeconds: r.WrongMovePenaltySeconds,
		HintPenaltySeconds:      r.HintPenaltySeconds,
		SkipPenaltySeconds:      r.SkipPenaltySeconds,
	}
}

// EncodeDestinations serializes a destination list for storage.
func EncodeDestinations(destinations []Destination) ([]byte, error) {
	if destinations == nil {
		destinations = []Destination{}
	}
	data, err := json.Marshal(destinations)
	if err != nil {
		return nil, fmt.Errorf("failed to encode destination list: %w", err)
	}
	return data, nil
}
