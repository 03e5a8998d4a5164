package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/goodtune/puzzlegate/internal/settings"
	"github.com/spf13/cobra"
)

var economyCmd = &cobra.Command{
	Use:   "economy",
	Short: "Show or change how puzzles convert into time",
}

var economyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the economy settings in force",
	Args:  cobra.NoArgs,
	RunE:  runEconomyShow,
}

var economySetCmd = &cobra.Command{
	Use:     "set",
	Short:   "Change economy settings",
	Example: `  puzzlegate economy set --time-bonus 90 --hint-penalty 15`,
	Args:    cobra.NoArgs,
	RunE:    runEconomySet,
}

func init() {
	f := economySetCmd.Flags()
	f.Int("min-rating", 0, "Rating of the first session of the day")
	f.Int("max-rating", 0, "Rating once the daily sessions are used up")
	f.Int("time-bonus", 0, "Seconds granted for solving a puzzle")
	f.Int("wrong-move-penalty", 0, "Seconds deducted per wrong move")
	f.Int("hint-penalty", 0, "Seconds deducted per hint")
	f.Int("skip-penalty", 0, "Seconds deducted per skipped puzzle")

	economyCmd.AddCommand(economyShowCmd)
	economyCmd.AddCommand(economySetCmd)
	rootCmd.AddCommand(economyCmd)
}

func runEconomyShow(cmd *cobra.Command, args []string) error {
	s, err := openSession(context.Background())
	if err != nil {
		return err
	}
	defer s.close()

	printEconomy(s.reg.Settings().Economy, s.cfg.Economy)
	return nil
}

func runEconomySet(cmd *cobra.Command, args []string) error {
	s, err := openSession(context.Background())
	if err != nil {
		return err
	}
	defer s.close()

	current := s.reg.Settings()
	eco := &current.Economy

	fields := map[string]*int{
		"min-rating":         &eco.MinRating,
		"max-rating":         &eco.MaxRating,
		"time-bonus":         &eco.TimeBonusSeconds,
		"wrong-move-penalty": &eco.WrongMovePenaltySeconds,
		"hint-penalty":       &eco.HintPenaltySeconds,
		"skip-penalty":       &eco.SkipPenaltySeconds,
	}

	changed := 0
	for name, field := range fields {
		if !cmd.Flags().Changed(name) {
			continue
		}
		v, err := cmd.Flags().GetInt(name)
		if err != nil {
			return err
		}
		*field = v
		changed++
	}
	if changed == 0 {
		return fmt.Errorf("nothing to change: pass at least one flag")
	}

	if err := s.reg.UpdateSettings(current); err != nil {
		return err
	}

	color.New(color.FgGreen).Println("✅ Economy saved")
	printEconomy(current.Economy, s.cfg.Economy)
	return nil
}

// printEconomy prints the economy, highlighting values that differ from the
// configuration file.
func printEconomy(eco, configured settings.Economy) {
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	_, _ = cyan.Println("\n[economy]")
	dumpField("  min_rating", eco.MinRating, configured.MinRating, yellow, green)
	dumpField("  max_rating", eco.MaxRating, configured.MaxRating, yellow, green)
	dumpField("  time_bonus_seconds", eco.TimeBonusSeconds, configured.TimeBonusSeconds, yellow, green)
	dumpField("  wrong_move_penalty_seconds", eco.WrongMovePenaltySeconds, configured.WrongMovePenaltySeconds, yellow, green)
	dumpField("  hint_penalty_seconds", eco.HintPenaltySeconds, configured.HintPenaltySeconds, yellow, green)
	dumpField("  skip_penalty_seconds", eco.SkipPenaltySeconds, configured.SkipPenaltySeconds, yellow, green)
	fmt.Println()
}
