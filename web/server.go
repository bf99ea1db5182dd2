package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/aweist/lab-booking/auth"
	"github.com/aweist/lab-booking/booking"
	"github.com/aweist/lab-booking/metrics"
	"github.com/aweist/lab-booking/models"
	"github.com/aweist/lab-booking/report"
	"github.com/aweist/lab-booking/teams"
	"github.com/aweist/lab-booking/throttle"
	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 1 << 20

type Server struct {
	bookings       *booking.Service
	teams          *teams.Service
	authenticator  *auth.Authenticator
	exporter       *report.Exporter
	metrics        *metrics.Metrics
	clock          clockwork.Clock
	location       *time.Location
	port           string
	trustProxy     bool
	allowedOrigins []string
}

type Config struct {
	Bookings      *booking.Service
	Teams         *teams.Service
	Authenticator *auth.Authenticator
	Exporter      *report.Exporter
	// Metrics is optional. When set, requests are instrumented and /metrics
	// is served.
	Metrics        *metrics.Metrics
	Clock          clockwork.Clock
	Location       *time.Location
	Port           string
	TrustProxy     bool
	AllowedOrigins []string
}

func NewServer(config Config) *Server {
	s := &Server{
		bookings:       config.Bookings,
		teams:          config.Teams,
		authenticator:  config.Authenticator,
		exporter:       config.Exporter,
		metrics:        config.Metrics,
		clock:          config.Clock,
		location:       config.Location,
		port:           config.Port,
		trustProxy:     config.TrustProxy,
		allowedOrigins: config.AllowedOrigins,
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.location == nil {
		s.location = time.Local
	}
	if s.exporter == nil {
		s.exporter = report.NewExporter(report.DefaultPrefix)
	}
	if s.port == "" {
		s.port = "8080"
	}
	return s
}

// Handler builds the router with CORS and, when configured, request metrics.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auth/validate", s.handleValidate).Methods(http.MethodPost)
	api.HandleFunc("/session", s.handleSession).Methods(http.MethodGet)

	enter := s.requireSession(auth.PurposeEnter)
	admin := s.requireSession(auth.PurposeAdmin)
	csv := s.requireSession(auth.PurposeCSV)

	api.Handle("/reservations", enter(s.handleListReservations)).Methods(http.MethodGet)
	api.Handle("/reservations", enter(s.handleCreateReservation)).Methods(http.MethodPost)
	api.Handle("/reservations/overdue", enter(s.handleOverdue)).Methods(http.MethodGet)
	api.Handle("/reservations/{id}", enter(s.handleGetReservation)).Methods(http.MethodGet)
	api.Handle("/reservations/{id}", enter(s.handleAmendReservation)).Methods(http.MethodPatch)
	api.Handle("/reservations/{id}", enter(s.handleCancelReservation)).Methods(http.MethodDelete)
	api.Handle("/reservations/{id}/begin", enter(s.handleBeginUse)).Methods(http.MethodPost)
	api.Handle("/reservations/{id}/complete", enter(s.handleComplete)).Methods(http.MethodPost)

	api.Handle("/teams", enter(s.handleListTeams)).Methods(http.MethodGet)
	api.Handle("/teams", admin(s.handleCreateTeam)).Methods(http.MethodPost)
	api.Handle("/teams/{id}", enter(s.handleGetTeam)).Methods(http.MethodGet)
	api.Handle("/teams/{id}", admin(s.handleUpdateTeam)).Methods(http.MethodPatch)
	api.Handle("/teams/{id}", admin(s.handleDeleteTeam)).Methods(http.MethodDelete)
	api.Handle("/teams/{id}/members", admin(s.handleAddMember)).Methods(http.MethodPost)
	api.Handle("/teams/{id}/members/{memberID}", admin(s.handleRemoveMember)).Methods(http.MethodDelete)
	api.Handle("/colors", enter(s.handleColors)).Methods(http.MethodGet)

	api.Handle("/export", csv(s.handleExport)).Methods(http.MethodGet)
	api.Handle("/calendar.ics", enter(s.handleCalendar)).Methods(http.MethodGet)

	origins := s.allowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedOrigins: origins,
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		ExposedHeaders: []string{"Content-Disposition", "Retry-After"},
	})
	return c.Handler(r)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("web server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down web server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		log.Error().Err(err).Msg("writing health check response")
	}
}

type validateRequest struct {
	Credential string `json:"credential"`
	Password   string `json:"password"`
	Purpose    string `json:"purpose"`
	Type       string `json:"type"`
}

type validateResponse struct {
	*auth.Result
	Error *APIError `json:"error,omitempty"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	clientKey := s.clientIP(r)

	// The guards run before the body is read so that malformed requests are
	// throttled like wrong credentials.
	if err := s.authenticator.Admit(clientKey, ""); err != nil {
		writeValidateError(w, r, err)
		return
	}

	var req validateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, "invalid request body: %v", err)
		return
	}

	credential := req.Credential
	if credential == "" {
		credential = req.Password
	}
	purpose := req.Purpose
	if purpose == "" {
		purpose = req.Type
	}

	result, err := s.authenticator.Verify(clientKey, auth.Request{
		Credential: credential,
		Purpose:    purpose,
	})
	if err != nil {
		writeValidateError(w, r, err)
		return
	}

	if !result.Success {
		writeJSON(w, http.StatusUnauthorized, validateResponse{Result: result})
		return
	}
	writeJSON(w, http.StatusOK, validateResponse{Result: result})
}

// writeValidateError reports a lockout with the validate response shape and
// everything else with the common error envelope.
func writeValidateError(w http.ResponseWriter, r *http.Request, err error) {
	var lockErr *throttle.LockoutError
	if !errors.As(err, &lockErr) {
		writeError(w, r, err)
		return
	}

	zero := 0
	status, apiErr := mapError(err)
	w.Header().Set("Retry-After", retryAfter(lockErr.RetryAfter.Seconds()))
	writeJSON(w, status, validateResponse{
		Result: &auth.Result{Success: false, RemainingAttempts: &zero},
		Error:  &apiErr,
	})
}

type sessionResponse struct {
	Purpose   auth.Purpose `json:"purpose"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.authenticator.Sessions().Verify(bearerToken(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Purpose: session.Purpose, ExpiresAt: session.ExpiresAt.UTC()})
}

func (s *Server) handleListReservations(w http.ResponseWriter, r *http.Request) {
	reservations, err := s.bookings.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	if date := r.URL.Query().Get("date"); date != "" {
		filtered := reservations[:0]
		for _, res := range reservations {
			if res.Date == date {
				filtered = append(filtered, res)
			}
		}
		reservations = filtered
	}
	if reservations == nil {
		reservations = []models.Reservation{}
	}
	writeJSON(w, http.StatusOK, reservations)
}

func (s *Server) handleCreateReservation(w http.ResponseWriter, r *http.Request) {
	var req booking.CreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, "invalid request body: %v", err)
		return
	}

	reservation, err := s.bookings.Create(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, reservation)
}

func (s *Server) handleGetReservation(w http.ResponseWriter, r *http.Request) {
	reservation, err := s.bookings.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func (s *Server) handleAmendReservation(w http.ResponseWriter, r *http.Request) {
	var req booking.AmendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, "invalid request body: %v", err)
		return
	}

	reservation, err := s.bookings.Amend(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func (s *Server) handleCancelReservation(w http.ResponseWriter, r *http.Request) {
	if err := s.bookings.Cancel(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBeginUse(w http.ResponseWriter, r *http.Request) {
	reservation, err := s.bookings.BeginUse(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req models.Report
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, "invalid request body: %v", err)
		return
	}

	reservation, err := s.bookings.Complete(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func (s *Server) handleOverdue(w http.ResponseWriter, r *http.Request) {
	overdue, err := s.bookings.Overdue(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if overdue == nil {
		overdue = []models.Reservation{}
	}
	writeJSON(w, http.StatusOK, overdue)
}

// handleListTeams lists all teams, or looks up a single team when a name
// query parameter is given.
func (s *Server) handleListTeams(w http.ResponseWriter, r *http.Request) {
	if name := r.URL.Query().Get("name"); name != "" {
		team, err := s.teams.GetByName(r.Context(), name)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, team)
		return
	}

	list, err := s.teams.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []models.Team{}
	}
	writeJSON(w, http.StatusOK, list)
}

type createTeamRequest struct {
	Name  string        `json:"name"`
	Color *models.Color `json:"color,omitempty"`
}

func (s *Server) handleCreateTeam(w http.ResponseWriter, r *http.Request) {
	var req createTeamRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, "invalid request body: %v", err)
		return
	}

	team, err := s.teams.Create(r.Context(), req.Name, req.Color)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, team)
}

func (s *Server) handleGetTeam(w http.ResponseWriter, r *http.Request) {
	team, err := s.teams.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}

func (s *Server) handleUpdateTeam(w http.ResponseWriter, r *http.Request) {
	var req teams.UpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, "invalid request body: %v", err)
		return
	}

	team, err := s.teams.Update(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}

func (s *Server) handleDeleteTeam(w http.ResponseWriter, r *http.Request) {
	if err := s.teams.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addMemberRequest struct {
	Name      string `json:"name"`
	StudentID string `json:"studentId"`
}

func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	var req addMemberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, "invalid request body: %v", err)
		return
	}

	team, err := s.teams.AddMember(r.Context(), mux.Vars(r)["id"], req.Name, req.StudentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, team)
}

func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	team, err := s.teams.RemoveMember(r.Context(), vars["id"], vars["memberID"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}

// handleColors returns the colour of every team, plus any extra names given
// as repeated "team" query parameters.
func (s *Server) handleColors(w http.ResponseWriter, r *http.Request) {
	colors, err := s.teams.Colors(r.Context(), r.URL.Query()["team"]...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, colors)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	reservations, err := s.bookings.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	directory, err := s.teams.Directory(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	rows, err := s.exporter.Export(&buf, reservations, directory.StudentID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	filename := s.exporter.Filename(s.clock.Now().In(s.location))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		log.Error().Err(err).Msg("writing export")
		return
	}

	log.Info().Int("rows", rows).Str("filename", filename).Msg("usage report exported")
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	reservations, err := s.bookings.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := report.WriteCalendar(&buf, reservations, s.location, s.clock.Now()); err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=\"reservations.ics\"")
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		log.Error().Err(err).Msg("writing calendar")
	}
}

// requireSession wraps handlers that need a session valid for want.
func (s *Server) requireSession(want auth.Purpose) func(http.HandlerFunc) http.Handler {
	return func(next http.HandlerFunc) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := s.authenticator.Sessions().Require(bearerToken(r), want); err != nil {
				writeError(w, r, err)
				return
			}
			next(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// clientIP is the throttle key for a request. Behind a proxy the first
// X-Forwarded-For entry is used.
func (s *Server) clientIP(r *http.Request) string {
	if s.trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return dec.Decode(v)
}
