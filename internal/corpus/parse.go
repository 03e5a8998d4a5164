package corpus

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/goodtune/puzzlegate/internal/puzzle"
)

// ParseCSV reads a puzzle export in the lichess CSV layout. The header row
// must name at least PuzzleId, FEN, Moves and Rating. Rows that cannot form
// a playable puzzle are skipped and counted.
func ParseCSV(r io.Reader) ([]puzzle.Puzzle, int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{"PuzzleId", "FEN", "Moves", "Rating"} {
		if _, ok := columns[required]; !ok {
			return nil, 0, fmt.Errorf("missing column %q", required)
		}
	}

	field := func(record []string, name string) string {
		i, ok := columns[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var (
		puzzles []puzzle.Puzzle
		skipped int
	)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, skipped, fmt.Errorf("failed to read puzzle row: %w", err)
		}

		p, ok := build(field(record, "PuzzleId"), field(record, "FEN"), field(record, "Moves"),
			field(record, "Rating"), field(record, "Themes"))
		if !ok {
			skipped++
			continue
		}
		puzzles = append(puzzles, p)
	}

	return puzzles, skipped, nil
}

type jsonPuzzle struct {
	PuzzleID string `json:"PuzzleId"`
	FEN      string `json:"FEN"`
	Moves    string `json:"Moves"`
	Rating   any    `json:"Rating"`
	Themes   string `json:"Themes"`
}

// ParseJSON reads an array of puzzle objects using the same field names as
// the CSV header. Rating may be a number or a string.
func ParseJSON(r io.Reader) ([]puzzle.Puzzle, int, error) {
	var raw []jsonPuzzle
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, 0, fmt.Errorf("failed to decode puzzles: %w", err)
	}

	var (
		puzzles []puzzle.Puzzle
		skipped int
	)
	for _, jp := range raw {
		var rating string
		switch v := jp.Rating.(type) {
		case float64:
			rating = strconv.Itoa(int(v))
		case string:
			rating = v
		}

		p, ok := build(jp.PuzzleID, jp.FEN, jp.Moves, rating, jp.Themes)
		if !ok {
			skipped++
			continue
		}
		puzzles = append(puzzles, p)
	}

	return puzzles, skipped, nil
}

func build(id, fen, moves, rating, themes string) (puzzle.Puzzle, bool) {
	if id == "" || fen == "" {
		return puzzle.Puzzle{}, false
	}

	r, err := strconv.Atoi(strings.TrimSpace(rating))
	if err != nil || r <= 0 {
		return puzzle.Puzzle{}, false
	}

	solution := strings.Fields(moves)
	if len(solution) < 2 {
		return puzzle.Puzzle{}, false
	}
	for _, m := range solution {
		if _, err := puzzle.ParseUCI(m); err != nil {
			return puzzle.Puzzle{}, false
		}
	}

	return puzzle.Puzzle{
		ID:       id,
		StartFEN: fen,
		Solution: solution,
		Rating:   r,
		Themes:   strings.Fields(themes),
	}, true
}
