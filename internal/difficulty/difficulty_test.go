package difficulty

import (
	"testing"

	"github.com/goodtune/puzzlegate/internal/settings"
	"github.com/goodtune/puzzlegate/internal/storage"
)

func TestTargetRating(t *testing.T) {
	eco := settings.DefaultEconomy()
	dest := settings.Destination{ID: "youtube.com", SessionsPerDay: 3, MinutesPerSession: 30}

	tests := []struct {
		name  string
		count int
		dest  settings.Destination
		eco   settings.Economy
		want  int
	}{
		{"first session", 0, dest, eco, 800},
		{"one third", 1, dest, eco, 1200},
		{"two thirds", 2, dest, eco, 1600},
		{"quota used", 3, dest, eco, 2000},
		{"beyond quota clamps", 7, dest, eco, 2000},
		{"negative count clamps", -2, dest, eco, 800},
		{"rounds half away", 1, settings.Destination{SessionsPerDay: 8}, settings.Economy{MinRating: 1000, MaxRating: 1004}, 1001},
		{"zero sessions", 2, settings.Destination{SessionsPerDay: 0}, eco, 800},
		{"flat band", 2, dest, settings.Economy{MinRating: 1500, MaxRating: 1500}, 1500},
		{"swapped band", 0, dest, settings.Economy{MinRating: 2000, MaxRating: 800}, 800},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TargetRating(storage.SessionRecord{Count: tt.count}, tt.dest, tt.eco)
			if got != tt.want {
				t.Errorf("TargetRating() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestTargetRatingMonotonic(t *testing.T) {
	eco := settings.Economy{MinRating: 813, MaxRating: 1977}
	dest := settings.Destination{SessionsPerDay: 7}

	prev := 0
	for count := 0; count <= 10; count++ {
		got := TargetRating(storage.SessionRecord{Count: count}, dest, eco)
		if got < prev {
			t.Fatalf("rating decreased at count %d: %d < %d", count, got, prev)
		}
		if got < eco.MinRating || got > eco.MaxRating {
			t.Fatalf("rating %d outside band", got)
		}
		prev = got
	}
}

func TestLabelFor(t *testing.T) {
	tests := map[int]Label{
		600:  Easy,
		1499: Easy,
		1500: Medium,
		1999: Medium,
		2000: Hard,
		2600: Hard,
	}
	for rating, want := range tests {
		if got := LabelFor(rating); got != want {
			t.Errorf("LabelFor(%d) = %s, want %s", rating, got, want)
		}
	}
}
