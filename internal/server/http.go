package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/coffersTech/attendance/internal/engine"
	"github.com/coffersTech/attendance/internal/export"
	"github.com/coffersTech/attendance/internal/logging"
	"github.com/coffersTech/attendance/internal/session"
)

// maxWait bounds a long-poll on GET /api/sessions/{id}?wait=<version>.
const maxWait = 25 * time.Second

// Unknown access keys cost a full bcrypt compare each. These bound how many
// such compares run per second across all callers.
const (
	keyCheckRate  = rate.Limit(5)
	keyCheckBurst = 10
)

// Options configures the API server.
type Options struct {
	// WebDir holds static files served at /. Empty disables them.
	WebDir string
	// AccessKeyHash is a bcrypt hash of the key required on /api routes.
	// Empty leaves the API open.
	AccessKeyHash string
	CORSOrigins   []string
	// Location renders timestamps in exports.
	Location *time.Location
	Logger   *zerolog.Logger
}

// APIServer exposes attendance sessions to the presentation layer.
type APIServer struct {
	registry *session.Registry
	opts     Options
	log      *zerolog.Logger
	verified sync.Map // access keys that already passed bcrypt
	keyCheck *rate.Limiter

	mu  sync.Mutex
	srv *http.Server
}

// NewAPIServer creates the server. Call Start to listen.
func NewAPIServer(registry *session.Registry, opts Options) *APIServer {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Logger == nil {
		opts.Logger = logging.Log()
	}
	return &APIServer{
		registry: registry,
		opts:     opts,
		log:      opts.Logger,
		keyCheck: rate.NewLimiter(keyCheckRate, keyCheckBurst),
	}
}

// Handler builds the routed handler with its middleware.
func (s *APIServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(requestID)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.AuthMiddleware)
	api.HandleFunc("/sessions", s.handleOpen).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}", s.handleState).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleClose).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}/place", s.handlePlace).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/device", s.handleDevice).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/range", s.handleRange).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/submit", s.handleSubmit).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/places/reload", s.handleReloadPlaces).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/histogram", s.handleHistogram).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/export.xlsx", s.handleExport).Methods(http.MethodGet)

	// Static file serving for web directory
	if s.opts.WebDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(s.opts.WebDir)))
	}

	var h http.Handler = r
	if len(s.opts.CORSOrigins) > 0 {
		h = handlers.CORS(
			handlers.AllowedOrigins(s.opts.CORSOrigins),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete}),
			handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
		)(h)
	}
	return handlers.CombinedLoggingHandler(logging.Writer(), h)
}

// Start runs the HTTP server.
func (s *APIServer) Start(addr string) error {
	s.mu.Lock()
	if s.srv == nil {
		s.srv = &http.Server{
			Addr:              addr,
			Handler:           s.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
	srv := s.srv
	s.mu.Unlock()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server. A server shut down before
// Start never listens.
func (s *APIServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.srv == nil {
		s.srv = &http.Server{}
	}
	srv := s.srv
	s.mu.Unlock()
	return srv.Shutdown(ctx)
}

// AuthMiddleware checks for a valid access key in the Authorization header.
func (s *APIServer) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.AccessKeyHash == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || token == r.Header.Get("Authorization") {
			w.Header().Set("WWW-Authenticate", `Bearer realm="attendance"`)
			http.Error(w, "Unauthorized: Missing token", http.StatusUnauthorized)
			return
		}

		if _, ok := s.verified.Load(token); !ok {
			if !s.keyCheck.Allow() {
				s.log.Warn().Str("remote", r.RemoteAddr).Msg("access key checks throttled")
				w.Header().Set("Retry-After", "1")
				http.Error(w, "Too many authentication attempts", http.StatusTooManyRequests)
				return
			}
			if err := bcrypt.CompareHashAndPassword([]byte(s.opts.AccessKeyHash), []byte(token)); err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="attendance"`)
				http.Error(w, "Unauthorized: Invalid token", http.StatusUnauthorized)
				return
			}
			s.verified.Store(token, struct{}{})
		}

		next.ServeHTTP(w, r)
	})
}

// requestID tags every request and response with an X-Request-ID.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
			r.Header.Set("X-Request-ID", id)
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// sessionView is the JSON snapshot handed to the presentation layer.
type sessionView struct {
	ID string `json:"id"`
	session.State
	Phase        session.Phase        `json:"phase"`
	CanSubmit    bool                 `json:"canSubmit"`
	PlacesPhase  session.CatalogPhase `json:"placesPhase"`
	DevicesPhase session.CatalogPhase `json:"devicesPhase"`
}

func view(id string, st session.State) sessionView {
	return sessionView{
		ID:           id,
		State:        st,
		Phase:        st.Phase(),
		CanSubmit:    st.CanSubmit(),
		PlacesPhase:  st.PlacesPhase(),
		DevicesPhase: st.DevicesPhase(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Log().Warn().Err(err).Msg("JSON encode error")
	}
}

func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"sessions": s.registry.Len(),
	})
}

// openWait bounds how long opening a session waits for its first event.
const openWait = 5 * time.Second

func (s *APIServer) handleOpen(w http.ResponseWriter, r *http.Request) {
	sess := s.registry.Open()

	// Answer once the initial place load has been applied, so the first
	// snapshot already reports it as loading.
	ctx, cancel := context.WithTimeout(r.Context(), openWait)
	defer cancel()
	st, err := sess.Wait(ctx, 0)
	if err != nil {
		st = sess.State()
	}
	writeJSON(w, http.StatusCreated, view(sess.ID(), st))
}

// lookup resolves the {id} route variable, writing a 404 when unknown.
func (s *APIServer) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, ok := s.registry.Get(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
	}
	return sess, ok
}

func (s *APIServer) handleState(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	waitStr := r.URL.Query().Get("wait")
	if waitStr == "" {
		writeJSON(w, http.StatusOK, view(sess.ID(), sess.State()))
		return
	}

	version, err := strconv.ParseUint(waitStr, 10, 64)
	if err != nil {
		http.Error(w, "Invalid wait version", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), maxWait)
	defer cancel()

	st, err := sess.Wait(ctx, version)
	if errors.Is(err, session.ErrClosed) {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	// A timed out long-poll still answers with the current state.
	writeJSON(w, http.StatusOK, view(sess.ID(), st))
}

func (s *APIServer) handleClose(w http.ResponseWriter, r *http.Request) {
	if !s.registry.Close(mux.Vars(r)["id"]) {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// dispatch applies ev to the session and answers with the resulting state.
func (s *APIServer) dispatch(w http.ResponseWriter, r *http.Request, sess *session.Session, status int, ev session.Event) {
	st, err := sess.Send(r.Context(), ev)
	if err != nil {
		s.fail(w, sess, err)
		return
	}
	writeJSON(w, status, view(sess.ID(), st))
}

func (s *APIServer) fail(w http.ResponseWriter, sess *session.Session, err error) {
	if errors.Is(err, session.ErrClosed) {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	s.log.Warn().Err(err).Str("session", sess.ID()).Msg("dispatch failed")
	http.Error(w, "Request cancelled", http.StatusServiceUnavailable)
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *APIServer) handlePlace(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req struct {
		PlaceID string `json:"placeId"`
	}
	if !decode(w, r, &req) {
		return
	}
	s.dispatch(w, r, sess, http.StatusOK, session.PlaceChanged{PlaceID: req.PlaceID})
}

func (s *APIServer) handleDevice(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req struct {
		DeviceID string `json:"deviceId"`
	}
	if !decode(w, r, &req) {
		return
	}
	s.dispatch(w, r, sess, http.StatusOK, session.DeviceChanged{DeviceID: req.DeviceID})
}

func (s *APIServer) handleRange(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if !decode(w, r, &req) {
		return
	}
	s.dispatch(w, r, sess, http.StatusOK, session.RangeChanged{From: req.From, To: req.To})
}

func (s *APIServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	st, err := sess.Submit(r.Context())
	if err != nil {
		s.fail(w, sess, err)
		return
	}
	writeJSON(w, http.StatusAccepted, view(sess.ID(), st))
}

func (s *APIServer) handleReloadPlaces(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.dispatch(w, r, sess, http.StatusAccepted, session.PlacesRequested{})
}

func (s *APIServer) handleStats(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	st := sess.State()
	writeJSON(w, http.StatusOK, engine.ComputeStats(st.Events, st.Results))
}

// handleHistogram buckets the last result's check-ins. The interval query
// parameter is a Go duration and defaults to one hour.
func (s *APIServer) handleHistogram(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	interval := time.Hour
	if v := r.URL.Query().Get("interval"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < time.Minute {
			http.Error(w, "Invalid interval", http.StatusBadRequest)
			return
		}
		interval = d
	}

	st := sess.State()
	writeJSON(w, http.StatusOK, engine.ComputeHistogram(st.Events, interval.Milliseconds(), s.opts.Location))
}

func (s *APIServer) handleExport(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	st := sess.State()
	if st.Results == nil {
		http.Error(w, "No results to export", http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="attendance.xlsx"`)
	if err := export.WriteSummaries(w, st.Results, s.opts.Location); err != nil {
		s.log.Error().Err(err).Str("session", sess.ID()).Msg("export failed")
	}
}
