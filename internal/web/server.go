package web

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"scriptroom/internal/broadcast"
	"scriptroom/internal/events"
	"scriptroom/internal/script"
	"scriptroom/internal/session"
	"scriptroom/internal/transport"
)

// maxBodySize bounds request bodies.
const maxBodySize = 1 << 20

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey enables API key authentication.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithAllowedOrigins sets allowed CORS and WebSocket origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithVersion sets the application version string.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// WithHTTPClient sets the client used to import scripts from URLs.
func WithHTTPClient(c *http.Client) ServerOption {
	return func(s *Server) {
		s.httpClient = c
	}
}

// WithValidator checks records before they are stored. The engine's
// compile check is the usual choice.
func WithValidator(fn func(script.Record) error) ServerOption {
	return func(s *Server) {
		s.validate = fn
	}
}

// Server is the HTTP JSON API and event stream for one participant.
type Server struct {
	state          *session.State
	msgr           transport.Messenger
	wsHub          *WSHub
	logger         *slog.Logger
	mux            *http.ServeMux
	apiKey         string
	allowedOrigins []string
	version        string
	httpClient     *http.Client
	validate       func(script.Record) error
	wg             sync.WaitGroup
	unsubEvents    func()
}

// NewServer creates a new web server. Every event on bus is forwarded to
// WebSocket clients.
func NewServer(state *session.State, bus *events.Bus, msgr transport.Messenger, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		state:      state,
		msgr:       msgr,
		logger:     logger.With("component", "web"),
		mux:        http.NewServeMux(),
		httpClient: http.DefaultClient,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.wsHub = NewWSHub(s.logger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.wsHub.Run()
	}()

	s.unsubEvents = bus.Subscribe(func(event events.Event) {
		s.wsHub.Broadcast(event)
	})

	s.routes()
	return s
}

// Stop gracefully shuts down the WebSocket hub and waits for goroutines.
func (s *Server) Stop() {
	if s.unsubEvents != nil {
		s.unsubEvents()
	}
	s.wsHub.Stop()
	s.wg.Wait()
}

func (s *Server) routes() {
	// Scripts
	s.mux.HandleFunc("GET /api/scripts", s.handleAPIListScripts)
	s.mux.HandleFunc("POST /api/scripts", s.handleAPIAddScript)
	s.mux.HandleFunc("POST /api/scripts/import", s.handleAPIImportScript)
	s.mux.HandleFunc("GET /api/scripts/{id}", s.handleAPIGetScript)
	s.mux.HandleFunc("PATCH /api/scripts/{id}", s.handleAPIUpdateScript)
	s.mux.HandleFunc("DELETE /api/scripts/{id}", s.handleAPIDeleteScript)
	s.mux.HandleFunc("POST /api/scripts/{id}/run", s.handleAPIRunScript)
	s.mux.HandleFunc("POST /api/scripts/{id}/share", s.handleAPIShareScript)
	s.mux.HandleFunc("POST /api/scripts/{id}/unshare", s.handleAPIUnshareScript)
	s.mux.HandleFunc("POST /api/scripts/{id}/copy", s.handleAPICopyScript)
	s.mux.HandleFunc("POST /api/scripts/{id}/refresh", s.handleAPIRefreshScript)
	s.mux.HandleFunc("PUT /api/scripts/{id}/parameters/{index}", s.handleAPISetParameter)

	// Executions
	s.mux.HandleFunc("GET /api/executions", s.handleAPIListExecutions)
	s.mux.HandleFunc("POST /api/scripts/{id}/executions/{eid}/stop", s.handleAPIStopExecution)
	s.mux.HandleFunc("POST /api/broadcast", s.handleAPIBroadcast)

	// Shortcuts
	s.mux.HandleFunc("GET /api/shortcuts", s.handleAPIListShortcuts)
	s.mux.HandleFunc("PUT /api/shortcuts/enabled", s.handleAPIToggleShortcuts)
	s.mux.HandleFunc("PUT /api/shortcuts/{letter}", s.handleAPIBindShortcut)
	s.mux.HandleFunc("DELETE /api/shortcuts/{letter}", s.handleAPIUnbindShortcut)
	s.mux.HandleFunc("POST /api/shortcuts/{letter}/press", s.handleAPIPressShortcut)

	s.mux.HandleFunc("GET /api/participant", s.handleAPIParticipant)
	s.mux.HandleFunc("GET /api/version", s.handleAPIVersion)

	// WebSocket
	s.mux.HandleFunc("GET /ws", s.handleWS)
}

// ServeHTTP implements http.Handler, applying auth and CORS middleware.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// CORS: check Origin on mutating requests to prevent CSRF.
	if len(s.allowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if r.Method == http.MethodOptions {
				// Preflight request.
				if s.isOriginAllowed(origin) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
					w.Header().Set("Access-Control-Max-Age", "3600")
					w.WriteHeader(http.StatusNoContent)
					return
				}
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			if r.Method != http.MethodGet {
				if !s.isOriginAllowed(origin) {
					http.Error(w, "Forbidden", http.StatusForbidden)
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
		}
	}

	if s.apiKey != "" {
		// Browsers cannot send custom headers on a WebSocket upgrade, so
		// only /api/ is key-protected.
		if strings.HasPrefix(r.URL.Path, "/api/") {
			key := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}
	}
	s.mux.ServeHTTP(w, r)
}

// isOriginAllowed checks if the origin matches any allowed origin pattern.
func (s *Server) isOriginAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Server) handleAPIParticipant(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.state.Participant())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}

// writeError maps domain errors onto status codes. Unknown errors are
// logged and hidden.
func (s *Server) writeError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, session.ErrReadOnly), errors.Is(err, session.ErrToolDisabled):
		status = http.StatusConflict
	case errors.Is(err, script.ErrValidation),
		errors.Is(err, broadcast.ErrInvalidMessage),
		errors.Is(err, session.ErrInvalidShortcut):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		s.logger.Error(op, "err", err)
		s.writeJSON(w, status, map[string]string{"error": "internal server error"})
		return
	}
	s.logger.Debug(op, "status", status, "err", err)
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// decodeBody reads a JSON body into v, writing a 400 on failure.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

// requireGM writes a 403 unless the participant is a GM.
func (s *Server) requireGM(w http.ResponseWriter, op string) bool {
	if s.state.Participant().IsGM() {
		return true
	}
	s.writeError(w, op, fmt.Errorf("%s: GM role required: %w", op, session.ErrForbidden))
	return false
}
