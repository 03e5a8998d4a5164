// Package corpus serves puzzles from a local collection by target rating.
package corpus

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/goodtune/puzzlegate/internal/puzzle"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

// ErrNoPuzzle is returned when no puzzle lies within reach of the requested rating.
var ErrNoPuzzle = errors.New("corpus: no puzzle available for rating")

// Config controls how far Fetch searches around a target rating.
type Config struct {
	// Tolerance is the initial half-width of the rating band.
	Tolerance int
	// MaxTolerance caps how far the band may widen.
	MaxTolerance int
	// RecentSize is how many served puzzle IDs are remembered to avoid repeats.
	RecentSize int
	// Rand overrides the random source; nil uses a randomly seeded one.
	Rand *rand.Rand
}

// Corpus holds puzzles sorted by rating.
type Corpus struct {
	mu      sync.Mutex
	cfg     Config
	logger  zerolog.Logger
	puzzles []puzzle.Puzzle
	recent  *lru.Cache[string, struct{}]
	rng     *rand.Rand
}

// Load reads a corpus file; ".json" files are parsed as JSON, anything else as CSV.
func Load(path string, cfg Config, logger zerolog.Logger) (*Corpus, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open puzzle corpus: %w", err)
	}
	defer f.Close()

	var (
		puzzles []puzzle.Puzzle
		skipped int
	)
	if strings.EqualFold(filepath.Ext(path), ".json") {
		puzzles, skipped, err = ParseJSON(f)
	} else {
		puzzles, skipped, err = ParseCSV(f)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse puzzle corpus %s: %w", path, err)
	}

	c, err := New(puzzles, cfg, logger)
	if err != nil {
		return nil, err
	}

	lo, hi := c.RatingRange()
	c.logger.Info().
		Str("path", path).
		Int("puzzles", len(puzzles)).
		Int("skipped", skipped).
		Int("min_rating", lo).
		Int("max_rating", hi).
		Msg("Puzzle corpus loaded")

	return c, nil
}

// New builds a corpus from puzzles.
func New(puzzles []puzzle.Puzzle, cfg Config, logger zerolog.Logger) (*Corpus, error) {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = 100
	}
	if cfg.MaxTolerance < cfg.Tolerance {
		cfg.MaxTolerance = cfg.Tolerance
	}
	if cfg.RecentSize <= 0 {
		cfg.RecentSize = 256
	}

	recent, err := lru.New[string, struct{}](cfg.RecentSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create recent puzzle cache: %w", err)
	}

	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	sorted := make([]puzzle.Puzzle, len(puzzles))
	copy(sorted, puzzles)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Rating < sorted[j].Rating
	})

	return &Corpus{
		cfg:     cfg,
		logger:  logger.With().Str("component", "corpus").Logger(),
		puzzles: sorted,
		recent:  recent,
		rng:     rng,
	}, nil
}

// Len returns the number of puzzles.
func (c *Corpus) Len() int {
	return len(c.puzzles)
}

// RatingRange returns the lowest and highest puzzle ratings.
func (c *Corpus) RatingRange() (int, int) {
	if len(c.puzzles) == 0 {
		return 0, 0
	}
	return c.puzzles[0].Rating, c.puzzles[len(c.puzzles)-1].Rating
}

// Fetch returns a random puzzle near rating, preferring puzzles not served
// recently. The band doubles from Tolerance up to MaxTolerance. When every
// puzzle in reach was served recently, the memory is cleared and one is reused.
func (c *Corpus) Fetch(ctx context.Context, rating int) (puzzle.Puzzle, error) {
	if err := ctx.Err(); err != nil {
		return puzzle.Puzzle{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tol := c.cfg.Tolerance
	for {
		lo, hi := c.bandLocked(rating, tol)
		if p, ok := c.pickLocked(lo, hi); ok {
			return p, nil
		}
		if tol >= c.cfg.MaxTolerance {
			break
		}
		tol = min(tol*2, c.cfg.MaxTolerance)
	}

	lo, hi := c.bandLocked(rating, c.cfg.MaxTolerance)
	if hi > lo {
		c.logger.Debug().Int("rating", rating).Msg("All nearby puzzles served recently, resetting")
		c.recent.Purge()
		if p, ok := c.pickLocked(lo, hi); ok {
			return p, nil
		}
	}

	return puzzle.Puzzle{}, fmt.Errorf("%w %d", ErrNoPuzzle, rating)
}

// bandLocked returns the index range [lo, hi) of puzzles rated within tol of rating.
func (c *Corpus) bandLocked(rating, tol int) (int, int) {
	lo := sort.Search(len(c.puzzles), func(i int) bool {
		return c.puzzles[i].Rating >= rating-tol
	})
	hi := sort.Search(len(c.puzzles), func(i int) bool {
		return c.puzzles[i].Rating > rating+tol
	})
	return lo, hi
}

func (c *Corpus) pickLocked(lo, hi int) (puzzle.Puzzle, bool) {
	candidates := make([]int, 0, hi-lo)
	for i := lo; i < hi; i++ {
		if !c.recent.Contains(c.puzzles[i].ID) {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return puzzle.Puzzle{}, false
	}

	p := c.puzzles[candidates[c.rng.IntN(len(candidates))]]
	c.recent.Add(p.ID, struct{}{})
	return p, true
}
