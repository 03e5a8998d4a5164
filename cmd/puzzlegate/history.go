package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/puzzlegate/internal/config"
	"github.com/goodtune/puzzlegate/internal/difficulty"
	"github.com/goodtune/puzzlegate/internal/storage"
	"github.com/goodtune/puzzlegate/internal/storage/sqlite"
	"github.com/spf13/cobra"
)

var (
	historyDestination string
	historySolvedOnly  bool
	historySince       time.Duration
	historyLimit       int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent puzzle attempts",
	Example: `  puzzlegate history --since 24h
  puzzlegate history --destination youtube.com --solved`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyDestination, "destination", "", "Only show attempts for this destination")
	historyCmd.Flags().BoolVar(&historySolvedOnly, "solved", false, "Only show solved attempts")
	historyCmd.Flags().DurationVar(&historySince, "since", 0, "Only show attempts that ended within this duration")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of attempts to show")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if !cfg.History.Enabled {
		return fmt.Errorf("attempt history is disabled in %s", configPath)
	}

	history, err := sqlite.Open(cfg.History.Path)
	if err != nil {
		return fmt.Errorf("failed to open attempt history: %w", err)
	}
	defer history.Close()

	filter := storage.AttemptFilter{
		DestinationID: historyDestination,
		SolvedOnly:    historySolvedOnly,
		Limit:         historyLimit,
	}
	if historySince > 0 {
		start := time.Now().Add(-historySince)
		filter.StartTime = &start
	}

	attempts, err := history.QueryAttempts(context.Background(), filter)
	if err != nil {
		return fmt.Errorf("failed to query attempt history: %w", err)
	}

	if len(attempts) == 0 {
		fmt.Println("No attempts recorded")
		return nil
	}

	printAttempts(attempts)
	return nil
}

// printAttempts prints attempts as a table, newest first.
func printAttempts(attempts []storage.AttemptRecord) {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ENDED\tDESTINATION\tPUZZLE\tRATING\tRESULT\tWRONG\tHINTS\tSKIPS\tGRANTED\tTOOK")

	solved, granted := 0, 0
	for _, a := range attempts {
		result := red.Sprint("abandoned")
		if a.Solved {
			result = green.Sprint("solved")
			solved++
			granted += a.GrantedSeconds
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%d %s\t%s\t%d\t%d\t%d\t%ds\t%s\n",
			a.EndedAt.Local().Format("2006-01-02 15:04"),
			a.DestinationID,
			a.PuzzleID,
			a.Rating,
			difficulty.LabelFor(a.Rating),
			result,
			a.WrongMoves,
			a.Hints,
			a.Skips,
			a.GrantedSeconds,
			a.Duration().Round(time.Second),
		)
	}
	_ = w.Flush()

	fmt.Printf("\n%d attempt(s), %d solved, %s granted\n", len(attempts), solved, time.Duration(granted)*time.Second)
}
