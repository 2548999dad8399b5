package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dvcrn/restream-bridge/internal/auth"
	"github.com/dvcrn/restream-bridge/internal/instance"
	"github.com/dvcrn/restream-bridge/internal/poller"
	"github.com/dvcrn/restream-bridge/internal/restream"
	"github.com/dvcrn/restream-bridge/internal/surface"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Surface is the control surface the HTTP routes expose.
type Surface interface {
	Snapshot() *restream.Snapshot
	ChannelEnabled(channelID int64) (enabled, ok bool)
	ChannelChoices() []surface.Choice
	Variables() surface.Variables
	ChangeChannelState(ctx context.Context, channelID int64, enabled bool) error
	SetChannelTitle(ctx context.Context, channelID int64, title string) error
	StreamKey(ctx context.Context) (string, error)
}

// CallbackHandler completes the webhook authorization flow.
type CallbackHandler interface {
	HandleCallback(ctx context.Context, query url.Values) auth.CallbackResult
}

// Poller runs a poll cycle on demand.
type Poller interface {
	Poll(ctx context.Context) error
}

// StatusSource reports the connection status.
type StatusSource interface {
	Status() (instance.Status, string)
}

// Deps are the components the server routes to.
type Deps struct {
	Status      StatusSource
	Surface     Surface
	Callback    CallbackHandler
	Poller      Poller
	Feed        *Feed
	AdminAPIKey string
}

type Server struct {
	deps   Deps
	router chi.Router
	logger zerolog.Logger
}

func New(logger zerolog.Logger, deps Deps) *Server {
	s := &Server{
		deps:   deps,
		router: chi.NewRouter(),
		logger: logger,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)

	s.router.Get("/health", s.healthHandler)
	s.router.Get("/status", s.statusHandler)
	s.router.Get("/oauth/callback", s.callbackHandler)
	s.router.Get("/feedbacks/channels/{id}", s.channelFeedbackHandler)
	s.router.Get("/choices/channels", s.channelChoicesHandler)
	s.router.Get("/variables", s.variablesHandler)
	s.router.Method(http.MethodGet, "/metrics", promhttp.Handler())
	if s.deps.Feed != nil {
		s.router.Method(http.MethodGet, "/ws", s.deps.Feed)
	}

	s.router.Route("/actions", func(r chi.Router) {
		r.Use(s.adminMiddleware)
		r.Post("/channels/{id}/state", s.channelStateHandler)
		r.Post("/channels/{id}/title", s.channelTitleHandler)
		r.Get("/stream-key", s.streamKeyHandler)
		r.Post("/poll", s.pollHandler)
	})

	s.router.NotFound(s.notFoundHandler)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		s.logger.Debug().
			Str("method", r.Method).
			Str("uri", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Str("user_agent", r.UserAgent()).
			Msg("Incoming request")
		next.ServeHTTP(w, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("uri", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("Finished request")
	})
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	s.logger.Warn().
		Str("method", r.Method).
		Str("uri", r.RequestURI).
		Str("remote_addr", r.RemoteAddr).
		Str("user_agent", r.UserAgent()).
		Msg("Unhandled route")
	http.NotFound(w, r)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status": "ok"}`))
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	status, message := s.deps.Status.Status()
	response := map[string]interface{}{
		"status":  status,
		"message": message,
	}
	if snap := s.deps.Surface.Snapshot(); snap != nil {
		response["snapshot"] = snap
	}
	s.writeJSON(w, http.StatusOK, response)
}

// callbackHandler handles GET /oauth/callback in webhook mode.
func (s *Server) callbackHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Callback == nil {
		http.Error(w, "Authorization callback not available", http.StatusNotFound)
		return
	}
	res := s.deps.Callback.HandleCallback(r.Context(), r.URL.Query())
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(res.Status)
	w.Write([]byte(res.Body))
}

func (s *Server) channelFeedbackHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.channelID(w, r)
	if !ok {
		return
	}
	enabled, found := s.deps.Surface.ChannelEnabled(id)
	if !found {
		http.Error(w, "Unknown channel", http.StatusNotFound)
		return
	}

	want := true
	if v := r.URL.Query().Get("enabled"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, "Invalid enabled parameter", http.StatusBadRequest)
			return
		}
		want = parsed
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"channelId": id,
		"enabled":   enabled,
		"active":    enabled == want,
	})
}

func (s *Server) channelChoicesHandler(w http.ResponseWriter, r *http.Request) {
	choices := s.deps.Surface.ChannelChoices()
	if choices == nil {
		choices = []surface.Choice{}
	}
	s.writeJSON(w, http.StatusOK, choices)
}

func (s *Server) variablesHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.Surface.Variables())
}

func (s *Server) channelStateHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.channelID(w, r)
	if !ok {
		return
	}

	var reqBody struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		s.logger.Error().Err(err).Msg("Failed to parse request body")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if reqBody.Enabled == nil {
		http.Error(w, "Missing required field: enabled", http.StatusBadRequest)
		return
	}

	if err := s.deps.Surface.ChangeChannelState(r.Context(), id, *reqBody.Enabled); err != nil {
		s.writeActionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "success",
		"channelId": id,
		"enabled":   *reqBody.Enabled,
	})
}

func (s *Server) channelTitleHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.channelID(w, r)
	if !ok {
		return
	}

	var reqBody struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		s.logger.Error().Err(err).Msg("Failed to parse request body")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if reqBody.Title == "" {
		http.Error(w, "Missing required field: title", http.StatusBadRequest)
		return
	}

	if err := s.deps.Surface.SetChannelTitle(r.Context(), id, reqBody.Title); err != nil {
		s.writeActionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "success",
		"channelId": id,
		"title":     reqBody.Title,
	})
}

func (s *Server) streamKeyHandler(w http.ResponseWriter, r *http.Request) {
	key, err := s.deps.Surface.StreamKey(r.Context())
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"streamKey": key})
}

func (s *Server) pollHandler(w http.ResponseWriter, r *http.Request) {
	err := s.deps.Poller.Poll(r.Context())
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
	case errors.Is(err, poller.ErrPollInProgress):
		s.writeJSON(w, http.StatusConflict, map[string]string{"status": "skipped", "error": err.Error()})
	case errors.Is(err, poller.ErrBadConfig):
		s.writeJSON(w, http.StatusPreconditionFailed, map[string]string{"status": "skipped", "error": err.Error()})
	default:
		s.writeActionError(w, err)
	}
}

func (s *Server) channelID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid channel id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// writeActionError maps Restream client errors onto gateway responses.
func (s *Server) writeActionError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	var apiErr *restream.APIError
	var transportErr *restream.TransportError
	switch {
	case errors.Is(err, restream.ErrNoAccessToken):
		status = http.StatusServiceUnavailable
	case errors.As(err, &apiErr):
		status = http.StatusBadGateway
	case errors.As(err, &transportErr):
		status = http.StatusGatewayTimeout
	}

	s.logger.Error().Err(err).Int("status_code", status).Msg("Action failed")
	s.writeJSON(w, status, map[string]string{
		"status": "error",
		"error":  err.Error(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}
