package redis

import (
	"fmt"
	"strconv"

	"github.com/goodtune/puzzlegate/internal/storage"
)

// parseSessionRecord converts a Redis hash to SessionRecord
func parseSessionRecord(data map[string]string) (*storage.SessionRecord, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	count, err := strconv.Atoi(data["count"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse count: %w", err)
	}

	return &storage.SessionRecord{
		DestinationID: data["destination_id"],
		Count:         count,
		LastResetDate: data["last_reset_date"],
	}, nil
}

// parseEconomyRecord converts a Redis hash to EconomyRecord
func parseEconomyRecord(data map[string]string) (*storage.EconomyRecord, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	var r storage.EconomyRecord
	fields := []struct {
		name string
		dst  *int
	}{
		{"min_rating", &r.MinRating},
		{"max_rating", &r.MaxRating},
		{"time_bonus_seconds", &r.TimeBonusSeconds},
		{"wrong_move_penalty_seconds", &r.WrongMovePenaltySeconds},
		{"hint_penalty_seconds", &r.HintPenaltySeconds},
		{"skip_penalty_seconds", &r.SkipPenaltySeconds},
	}

	for _, f := range fields {
		v, err := strconv.Atoi(data[f.name])
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", f.name, err)
		}
		*f.dst = v
	}

	return &r, nil
}

// economyFields flattens an EconomyRecord for HSET
func economyFields(r storage.EconomyRecord) []interface{} {
	return []interface{}{
		"min_rating", r.MinRating,
		"max_rating", r.MaxRating,
		"time_bonus_seconds", r.TimeBonusSeconds,
		"wrong_move_penalty_seconds", r.WrongMovePenaltySeconds,
		"hint_penalty_seconds", r.HintPenaltySeconds,
		"skip_penalty_seconds", r.SkipPenaltySeconds,
	}
}
