// Package api provides the diagnostics REST API for Heimdall.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rennerdo30/heimdall/internal/eventlog"
	"github.com/rennerdo30/heimdall/internal/logging"
	"github.com/rennerdo30/heimdall/internal/metrics"
	"github.com/rennerdo30/heimdall/internal/version"
)

// Config holds API configuration. The status and network callbacks come
// from the supervisor; passing functions keeps the dependency one-way.
type Config struct {
	// Token enables bearer-token authentication when non-empty.
	Token string

	// Status returns the aggregated service status.
	Status func() any

	// Network returns the current network view.
	Network func() any

	// Healthy reports whether the service is in a working state.
	Healthy func() bool

	// RequestReset queues a network-stack reset.
	RequestReset func(reason string, force bool)

	// Events is the coordination event log. May be nil.
	Events *eventlog.Recorder

	// Metrics mounts /metrics when non-nil.
	Metrics *metrics.Metrics
}

// API provides the REST API for Heimdall.
type API struct {
	config Config
	hub    *WebSocketHub
	logger *logging.Logger
}

// New creates a new API server and starts its WebSocket hub.
func New(cfg Config) *API {
	a := &API{
		config: cfg,
		hub:    NewWebSocketHub(),
		logger: logging.WithComponent("api"),
	}
	go a.hub.Run()
	return a
}

// BroadcastEvent pushes a coordination event to connected WebSocket
// clients. Never blocks.
func (a *API) BroadcastEvent(entry eventlog.Entry) {
	a.hub.Broadcast(string(entry.Type), entry)
}

// Handler returns the HTTP handler for the API.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.requestLogger)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(securityHeadersMiddleware)

	// Auth middleware if token is set
	if a.config.Token != "" {
		r.Use(a.authMiddleware)
	}

	// CORS for local tooling
	r.Use(corsMiddleware)

	a.addAPIRoutes(r)

	return r
}

// addAPIRoutes adds all API routes to the router.
func (a *API) addAPIRoutes(r chi.Router) {
	r.Get("/api/v1/health", a.handleHealth)
	r.Get("/api/v1/version", a.handleVersion)
	r.Get("/api/v1/status", a.handleStatus)
	r.Get("/api/v1/network", a.handleNetwork)
	r.Post("/api/v1/reset", a.handleReset)

	// Event log routes
	r.Route("/api/v1/events", func(r chi.Router) {
		r.Get("/", a.handleGetEvents)
		r.Get("/last/{count}", a.handleGetLastEvents)
		r.Get("/errors", a.handleGetEventErrors)
		r.Delete("/", a.handleClearEvents)
	})

	r.Handle("/api/v1/ws", a.hub.WebSocketHandler())

	if a.config.Metrics != nil {
		r.Handle("/metrics", a.config.Metrics.Handler())
	}
}

// requestLogger stores a request-scoped logger in the context so
// downstream handlers log with the request identity attached.
func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.WithContext(r.Context(), a.logger)
		ctx = logging.ContextWith(ctx,
			"request_id", middleware.GetReqID(r.Context()),
			"remote", r.RemoteAddr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("Authorization")
		if token == "" {
			// Fallback to query parameter for WebSocket connections
			token = r.URL.Query().Get("token")
		}

		// Remove "Bearer " prefix if present
		if len(token) > 7 && token[:7] == "Bearer " {
			token = token[7:]
		}

		// Use constant-time comparison to prevent timing attacks
		if subtle.ConstantTimeCompare([]byte(token), []byte(a.config.Token)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		// Same-origin requests carry no Origin header and need no CORS
		// headers; anything else must come from localhost.
		if origin != "" && isLocalOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// isLocalOrigin checks if the origin is from localhost or 127.0.0.1
func isLocalOrigin(origin string) bool {
	localPrefixes := []string{
		"http://localhost",
		"https://localhost",
		"http://127.0.0.1",
		"https://127.0.0.1",
		"http://[::1]",
		"https://[::1]",
	}
	for _, prefix := range localPrefixes {
		if len(origin) >= len(prefix) && origin[:len(prefix)] == prefix {
			// Check that what follows is either empty, a colon (port), or a slash
			rest := origin[len(prefix):]
			if rest == "" || rest[0] == ':' || rest[0] == '/' {
				return true
			}
		}
	}
	return false
}

// securityHeadersMiddleware adds common security headers to all responses.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		next.ServeHTTP(w, r)
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if a.config.Healthy != nil && !a.config.Healthy() {
		status = "degraded"
	}

	response := map[string]interface{}{
		"status": status,
		"time":   time.Now().Format(time.RFC3339),
	}
	a.writeJSON(w, r, http.StatusOK, response)
}

func (a *API) handleVersion(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, r, http.StatusOK, version.GetInfo())
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	if a.config.Status == nil {
		a.writeJSON(w, r, http.StatusOK, map[string]string{"status": "unknown"})
		return
	}
	a.writeJSON(w, r, http.StatusOK, a.config.Status())
}

func (a *API) handleNetwork(w http.ResponseWriter, r *http.Request) {
	if a.config.Network == nil {
		a.writeJSON(w, r, http.StatusOK, map[string]string{})
		return
	}
	a.writeJSON(w, r, http.StatusOK, a.config.Network())
}

// resetRequest is the body of POST /api/v1/reset.
type resetRequest struct {
	Reason string `json:"reason"`
	Force  bool   `json:"force"`
}

func (a *API) handleReset(w http.ResponseWriter, r *http.Request) {
	if a.config.RequestReset == nil {
		http.Error(w, "reset not available", http.StatusServiceUnavailable)
		return
	}

	var req resetRequest
	if r.Body != nil {
		// An empty body is a plain unforced reset.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Reason == "" {
		req.Reason = "api request"
	}

	logging.InfoContext(r.Context(), "Reset requested", "reason", req.Reason, "force", req.Force)
	a.config.RequestReset(req.Reason, req.Force)
	a.writeJSON(w, r, http.StatusAccepted, map[string]interface{}{
		"message": "reset requested",
		"reason":  req.Reason,
		"force":   req.Force,
	})
}

func (a *API) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	if a.config.Events == nil {
		a.writeJSON(w, r, http.StatusOK, []eventlog.Entry{})
		return
	}
	a.writeJSON(w, r, http.StatusOK, a.config.Events.GetEntries())
}

func (a *API) handleGetLastEvents(w http.ResponseWriter, r *http.Request) {
	if a.config.Events == nil {
		a.writeJSON(w, r, http.StatusOK, []eventlog.Entry{})
		return
	}

	count := 100
	if countStr := chi.URLParam(r, "count"); countStr != "" {
		if n, err := strconv.Atoi(countStr); err == nil && n > 0 {
			count = n
		}
	}

	a.writeJSON(w, r, http.StatusOK, a.config.Events.GetLastEntries(count))
}

func (a *API) handleGetEventErrors(w http.ResponseWriter, r *http.Request) {
	if a.config.Events == nil {
		a.writeJSON(w, r, http.StatusOK, []eventlog.Entry{})
		return
	}
	a.writeJSON(w, r, http.StatusOK, a.config.Events.FindErrors())
}

func (a *API) handleClearEvents(w http.ResponseWriter, r *http.Request) {
	if a.config.Events != nil {
		a.config.Events.Clear()
	}
	a.writeJSON(w, r, http.StatusOK, map[string]string{"message": "cleared"})
}

func (a *API) writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.ErrorContext(r.Context(), "Failed to encode API response", "error", err)
	}
}
