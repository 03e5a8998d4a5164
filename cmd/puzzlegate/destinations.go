package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/goodtune/puzzlegate/internal/settings"
	"github.com/spf13/cobra"
)

var (
	destSessions int
	destMinutes  int
)

var destinationsCmd = &cobra.Command{
	Use:     "destinations",
	Aliases: []string{"dest"},
	Short:   "Manage gated destinations",
	Long: `List and edit the destinations that require a puzzle. Changes are saved to
the store and picked up by a running server.`,
}

var destinationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List destinations and today's session use",
	Args:  cobra.NoArgs,
	RunE:  runDestinationsList,
}

var destinationsAddCmd = &cobra.Command{
	Use:     "add ID",
	Short:   "Add a destination",
	Example: `  puzzlegate destinations add youtube.com --sessions 2 --minutes 20`,
	Args:    cobra.ExactArgs(1),
	RunE:    runDestinationsAdd,
}

var destinationsRemoveCmd = &cobra.Command{
	Use:   "remove ID",
	Short: "Remove a destination",
	Args:  cobra.ExactArgs(1),
	RunE:  runDestinationsRemove,
}

var destinationsSetCmd = &cobra.Command{
	Use:     "set ID",
	Short:   "Change a destination's quotas",
	Example: `  puzzlegate destinations set reddit.com --minutes 10`,
	Args:    cobra.ExactArgs(1),
	RunE:    runDestinationsSet,
}

func init() {
	for _, cmd := range []*cobra.Command{destinationsAddCmd, destinationsSetCmd} {
		cmd.Flags().IntVar(&destSessions, "sessions", 0, "Sessions per day")
		cmd.Flags().IntVar(&destMinutes, "minutes", 0, "Minutes per session")
	}

	destinationsCmd.AddCommand(destinationsListCmd)
	destinationsCmd.AddCommand(destinationsAddCmd)
	destinationsCmd.AddCommand(destinationsRemoveCmd)
	destinationsCmd.AddCommand(destinationsSetCmd)
	rootCmd.AddCommand(destinationsCmd)
}

func runDestinationsList(cmd *cobra.Command, args []string) error {
	s, err := openSession(context.Background())
	if err != nil {
		return err
	}
	defer s.close()

	current := s.reg.Settings()
	if len(current.Destinations) == 0 {
		fmt.Println("No destinations configured")
		return nil
	}

	red := color.New(color.FgRed)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DESTINATION\tSESSIONS/DAY\tMINUTES\tUSED TODAY")
	for _, d := range current.Destinations {
		rec, _ := s.reg.Session(d.ID)
		used := fmt.Sprintf("%d", rec.Count)
		if rec.Count >= d.SessionsPerDay {
			used = red.Sprint(used)
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", d.ID, d.SessionsPerDay, d.MinutesPerSession, used)
	}
	return w.Flush()
}

func runDestinationsAdd(cmd *cobra.Command, args []string) error {
	return editDestinations(func(dests []settings.Destination) ([]settings.Destination, error) {
		d := settings.NewDestination(strings.ToLower(args[0]))
		for _, existing := range dests {
			if existing.ID == d.ID {
				return nil, fmt.Errorf("destination already exists: %s", d.ID)
			}
		}
		if destSessions > 0 {
			d.SessionsPerDay = destSessions
		}
		if destMinutes > 0 {
			d.MinutesPerSession = destMinutes
		}
		return append(dests, d), nil
	})
}

func runDestinationsRemove(cmd *cobra.Command, args []string) error {
	return editDestinations(func(dests []settings.Destination) ([]settings.Destination, error) {
		out := dests[:0]
		for _, d := range dests {
			if d.ID != args[0] {
				out = append(out, d)
			}
		}
		if len(out) == len(dests) {
			return nil, fmt.Errorf("unknown destination: %s", args[0])
		}
		return out, nil
	})
}

func runDestinationsSet(cmd *cobra.Command, args []string) error {
	if destSessions <= 0 && destMinutes <= 0 {
		return fmt.Errorf("nothing to change: pass --sessions or --minutes")
	}

	return editDestinations(func(dests []settings.Destination) ([]settings.Destination, error) {
		for i := range dests {
			if dests[i].ID != args[0] {
				continue
			}
			if destSessions > 0 {
				dests[i].SessionsPerDay = destSessions
			}
			if destMinutes > 0 {
				dests[i].MinutesPerSession = destMinutes
			}
			return dests, nil
		}
		return nil, fmt.Errorf("unknown destination: %s", args[0])
	})
}

// editDestinations applies edit to a copy of the stored destination list and
// saves the result.
func editDestinations(edit func([]settings.Destination) ([]settings.Destination, error)) error {
	s, err := openSession(context.Background())
	if err != nil {
		return err
	}
	defer s.close()

	current := s.reg.Settings()
	dests, err := edit(append([]settings.Destination(nil), current.Destinations...))
	if err != nil {
		return err
	}

	current.Destinations = dests
	if err := s.reg.UpdateSettings(current); err != nil {
		return fmt.Errorf("failed to save destinations: %w", err)
	}

	color.New(color.FgGreen).Printf("✅ Saved %d destination(s)\n", len(dests))
	return nil
}
