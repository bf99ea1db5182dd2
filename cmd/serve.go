package cmd

import (
	"os/signal"
	"syscall"

	"github.com/aweist/lab-booking/scheduler"
	"github.com/aweist/lab-booking/web"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server and the overdue sweep",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(); err != nil {
				log.Error().Err(err).Msg("closing storage")
			}
		}()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := a.teams.RebuildColors(ctx); err != nil {
			log.Warn().Err(err).Msg("could not load team colours, falling back to derived colours")
		}

		authenticator, throttle, err := a.authenticator()
		if err != nil {
			return err
		}

		sweeper := scheduler.NewSweeper(scheduler.SweeperConfig{
			Source:       a.bookings,
			Notifiers:    a.notifiers(),
			Housekeepers: []scheduler.Housekeeper{throttle},
			Observer:     a.metrics,
			Interval:     cfg.Schedule.SweepInterval,
			Clock:        a.clock,
		})

		log.Info().
			Dur("sweep_interval", cfg.Schedule.SweepInterval).
			Int("max_attempts", cfg.Throttle.MaxAttempts).
			Dur("reset_window", cfg.Throttle.ResetWindow).
			Msg("starting lab-booking")

		done := make(chan struct{})
		go func() {
			sweeper.Start(ctx)
			close(done)
		}()

		if cfg.Web.Enabled {
			server := web.NewServer(web.Config{
				Bookings:       a.bookings,
				Teams:          a.teams,
				Authenticator:  authenticator,
				Exporter:       a.exporter,
				Metrics:        a.metrics,
				Clock:          a.clock,
				Location:       a.location,
				Port:           cfg.Web.Port,
				TrustProxy:     cfg.Web.TrustProxy,
				AllowedOrigins: cfg.Web.AllowedOrigins,
			})
			if err := server.Start(ctx); err != nil {
				stop()
				<-done
				return err
			}
		} else {
			log.Warn().Msg("web server disabled, only the overdue sweep is running")
			<-ctx.Done()
		}

		<-done
		log.Info().Msg("shutting down lab-booking")
		return nil
	},
}
