// Package difficulty maps daily session progress to a target puzzle rating.
package difficulty

import (
	"math"

	"github.com/goodtune/puzzlegate/internal/settings"
	"github.com/goodtune/puzzlegate/internal/storage"
)

// Label names a rating band for display.
type Label string

const (
	Easy   Label = "Easy"
	Medium Label = "Medium"
	Hard   Label = "Hard"
)

// TargetRating returns min + (max-min) * count/sessionsPerDay, rounded and
// clamped to the configured band. Later sessions of the day get harder puzzles.
func TargetRating(record storage.SessionRecord, dest settings.Destination, eco settings.Economy) int {
	lo, hi := eco.MinRating, eco.MaxRating
	if lo > hi {
		lo, hi = hi, lo
	}

	if dest.SessionsPerDay <= 0 {
		return lo
	}

	count := record.Count
	if count < 0 {
		count = 0
	}

	rating := float64(lo) + float64(hi-lo)*float64(count)/float64(dest.SessionsPerDay)
	r := int(math.Round(rating))
	if r < lo {
		return lo
	}
	if r > hi {
		return hi
	}
	return r
}

// LabelFor classifies a puzzle rating.
func LabelFor(rating int) Label {
	switch {
	case rating < 1500:
		return Easy
	case rating < 2000:
		return Medium
	default:
		return Hard
	}
}
