package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/goodtune/puzzlegate/internal/difficulty"
	"github.com/goodtune/puzzlegate/internal/settings"
	"github.com/goodtune/puzzlegate/internal/storage"
	"github.com/spf13/cobra"
)

var (
	checkSessions int
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check gating decisions interactively",
	Long:  `Check which destination a URL maps to and which puzzle rating a destination would get.`,
}

var checkMatchCmd = &cobra.Command{
	Use:   "match URL",
	Short: "Check which destination a URL belongs to",
	Example: `  puzzlegate check match https://www.youtube.com/watch?v=abc
  puzzlegate -c config.yaml check match https://old.reddit.com/r/chess`,
	Args: cobra.ExactArgs(1),
	RunE: runCheckMatch,
}

var checkRatingCmd = &cobra.Command{
	Use:   "rating DESTINATION",
	Short: "Check the puzzle rating for a destination's next session",
	Example: `  puzzlegate check rating youtube.com
  puzzlegate check rating youtube.com --sessions 2`,
	Args: cobra.ExactArgs(1),
	RunE: runCheckRating,
}

func init() {
	checkRatingCmd.Flags().IntVar(&checkSessions, "sessions", -1, "Sessions already used today (defaults to the stored count)")

	checkCmd.AddCommand(checkMatchCmd)
	checkCmd.AddCommand(checkRatingCmd)
	rootCmd.AddCommand(checkCmd)
}

func runCheckMatch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	current := s.reg.Settings()
	dest, err := s.matcher.Match(ctx, args[0], current.IDs())
	if err != nil {
		return fmt.Errorf("failed to evaluate matching policy: %w", err)
	}

	printMatchResult(args[0], dest, current)
	return nil
}

func runCheckRating(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	current := s.reg.Settings()
	dest, ok := current.Find(args[0])
	if !ok {
		return fmt.Errorf("unknown destination: %s", args[0])
	}

	rec, _ := s.reg.Session(dest.ID)
	if checkSessions >= 0 {
		rec.Count = checkSessions
	}

	printRatingResult(dest, rec, current.Economy)
	return nil
}

// printMatchResult prints the match check result with colors
func printMatchResult(url, dest string, current settings.Settings) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println("DESTINATION MATCH CHECK")
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	fmt.Printf("URL:          %s\n", url)
	fmt.Printf("Destinations: %d configured\n", len(current.Destinations))
	fmt.Println()

	cyan.Print("Decision:     ")
	if dest == "" {
		green.Println("NOT MONITORED")
		fmt.Println("              → No challenge will be shown")
	} else {
		d, _ := current.Find(dest)
		yellow.Printf("GATED (%s)\n", dest)
		fmt.Printf("              → %d sessions/day, up to %d minutes each\n", d.SessionsPerDay, d.MinutesPerSession)
	}

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}

// printRatingResult prints the rating check result with colors
func printRatingResult(dest settings.Destination, rec storage.SessionRecord, eco settings.Economy) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	rating := difficulty.TargetRating(rec, dest, eco)
	label := difficulty.LabelFor(rating)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println("DIFFICULTY CHECK")
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	fmt.Printf("Destination: %s\n", dest.ID)
	fmt.Printf("Sessions:    %d of %d used today\n", rec.Count, dest.SessionsPerDay)
	fmt.Printf("Band:        %d - %d\n", eco.MinRating, eco.MaxRating)
	fmt.Println()

	cyan.Print("Rating:      ")
	switch label {
	case difficulty.Easy:
		green.Printf("%d (%s)\n", rating, label)
	case difficulty.Medium:
		yellow.Printf("%d (%s)\n", rating, label)
	default:
		red.Printf("%d (%s)\n", rating, label)
	}

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}
