package cmd

import (
	"fmt"

	"github.com/aweist/lab-booking/scheduler"
	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Report overdue reservations once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		sweeper := scheduler.NewSweeper(scheduler.SweeperConfig{
			Source:    a.bookings,
			Notifiers: a.notifiers(),
			Clock:     a.clock,
		})

		overdue, err := sweeper.RunOnce(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, r := range overdue {
			fmt.Fprintf(out, "%s\t%s %s-%s\t%s\t%s\n", r.ID, r.Date, r.StartTime, r.EndTime, r.Team, r.Status)
		}
		fmt.Fprintf(out, "%d overdue reservation(s)\n", len(overdue))
		return nil
	},
}
