package cmd

import (
	"fmt"
	"time"

	"github.com/aweist/lab-booking/auth"
	"github.com/aweist/lab-booking/booking"
	"github.com/aweist/lab-booking/config"
	"github.com/aweist/lab-booking/metrics"
	"github.com/aweist/lab-booking/notifier"
	"github.com/aweist/lab-booking/report"
	"github.com/aweist/lab-booking/storage"
	"github.com/aweist/lab-booking/teamcolor"
	"github.com/aweist/lab-booking/teams"
	"github.com/aweist/lab-booking/throttle"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// app holds the services every command shares.
type app struct {
	cfg      *config.Config
	clock    clockwork.Clock
	location *time.Location
	store    storage.Store
	metrics  *metrics.Metrics
	bookings *booking.Service
	teams    *teams.Service
	exporter *report.Exporter
}

func newApp(cfg *config.Config) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.DatabasePath, cfg.Storage.Timeout)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	clock := clockwork.NewRealClock()
	m := metrics.New()

	a := &app{
		cfg:      cfg,
		clock:    clock,
		location: loc,
		store:    store,
		metrics:  m,
		bookings: booking.NewService(booking.ServiceConfig{
			Store:    store,
			Clock:    clock,
			Location: loc,
			Observer: m,
		}),
		teams: teams.NewService(teams.ServiceConfig{
			Store:  store,
			Colors: teamcolor.NewResolver(teamcolor.DefaultPalette),
			Clock:  clock,
		}),
		exporter: report.NewExporter(cfg.Report.Prefix),
	}

	log.Info().
		Str("driver", cfg.Storage.Driver).
		Str("database", cfg.Storage.DatabasePath).
		Str("timezone", loc.String()).
		Msg("storage opened")

	return a, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func (a *app) authenticator() (*auth.Authenticator, *throttle.Throttle, error) {
	sessions, err := auth.NewSessionManager(a.cfg.Auth.SessionSecret, a.cfg.Auth.SessionTTL, a.clock)
	if err != nil {
		return nil, nil, err
	}

	t := throttle.New(a.cfg.Throttle, throttle.WithClock(a.clock))
	return auth.NewAuthenticator(auth.Config{
		Secrets: auth.Secrets{
			Enter: a.cfg.Auth.EnterPassword,
			CSV:   a.cfg.Auth.CSVPassword,
			Admin: a.cfg.Auth.AdminPassword,
		},
		Throttle: t,
		Sessions: sessions,
		Clock:    a.clock,
		Observer: a.metrics,
	}), t, nil
}

func (a *app) notifiers() []notifier.Notifier {
	notifiers := []notifier.Notifier{notifier.NewLogNotifier()}

	if a.cfg.Email.Enabled {
		notifiers = append(notifiers, notifier.NewEmailNotifier(notifier.EmailConfig{
			SMTPHost:   a.cfg.Email.SMTPHost,
			SMTPPort:   a.cfg.Email.SMTPPort,
			Username:   a.cfg.Email.Username,
			Password:   a.cfg.Email.Password,
			From:       a.cfg.Email.From,
			Recipients: a.cfg.Email.To,
			AppURL:     a.cfg.Email.AppURL,
		}))
		log.Info().Strs("recipients", a.cfg.Email.To).Msg("email notifications enabled")
	}
	return notifiers
}
