package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rennerdo30/heimdall/internal/eventlog"
	"github.com/rennerdo30/heimdall/internal/logging"
)

func TestNew(t *testing.T) {
	api := New(Config{Token: "test-token"})
	require.NotNil(t, api)
	assert.Equal(t, "test-token", api.config.Token)
	assert.NotNil(t, api.hub)
}

func TestAPI_Handler(t *testing.T) {
	api := New(Config{})
	handler := api.Handler()
	require.NotNil(t, handler)
}

func TestAPI_Handler_WithAuth(t *testing.T) {
	api := New(Config{Token: "secret-token"})
	handler := api.Handler()

	// Without auth
	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// With auth
	req = httptest.NewRequest("GET", "/api/v1/health", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPI_AuthMiddleware_QueryParam(t *testing.T) {
	api := New(Config{Token: "secret-token"})
	handler := api.Handler()

	// With token in query param
	req := httptest.NewRequest("GET", "/api/v1/health?token=secret-token", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPI_HandleHealth(t *testing.T) {
	api := New(Config{})
	handler := api.Handler()

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "healthy", resp["status"])
	assert.NotEmpty(t, resp["time"])
}

func TestAPI_HandleHealth_Degraded(t *testing.T) {
	api := New(Config{
		Healthy: func() bool { return false },
	})
	handler := api.Handler()

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "degraded", resp["status"])
}

func TestAPI_HandleVersion(t *testing.T) {
	api := New(Config{})
	handler := api.Handler()

	req := httptest.NewRequest("GET", "/api/v1/version", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
}

func TestAPI_HandleStatus(t *testing.T) {
	api := New(Config{
		Status: func() any {
			return map[string]interface{}{"running": true, "engine": "static"}
		},
	})
	handler := api.Handler()

	req := httptest.NewRequest("GET", "/api/v1/status", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, true, resp["running"])
	assert.Equal(t, "static", resp["engine"])
}

func TestAPI_HandleNetwork(t *testing.T) {
	api := New(Config{
		Network: func() any {
			return map[string]interface{}{"bound": "wlan0"}
		},
	})
	handler := api.Handler()

	req := httptest.NewRequest("GET", "/api/v1/network", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "wlan0", resp["bound"])
}

func TestAPI_HandleReset(t *testing.T) {
	var gotReason string
	var gotForce bool
	api := New(Config{
		RequestReset: func(reason string, force bool) {
			gotReason = reason
			gotForce = force
		},
	})
	handler := api.Handler()

	body := strings.NewReader(`{"reason":"operator","force":true}`)
	req := httptest.NewRequest("POST", "/api/v1/reset", body)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "operator", gotReason)
	assert.True(t, gotForce)
}

func TestAPI_HandleReset_EmptyBody(t *testing.T) {
	var gotReason string
	api := New(Config{
		RequestReset: func(reason string, force bool) {
			gotReason = reason
		},
	})
	handler := api.Handler()

	req := httptest.NewRequest("POST", "/api/v1/reset", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "api request", gotReason)
}

func TestAPI_HandleReset_Unavailable(t *testing.T) {
	api := New(Config{})
	handler := api.Handler()

	req := httptest.NewRequest("POST", "/api/v1/reset", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAPI_HandleGetEvents(t *testing.T) {
	events := eventlog.NewRecorder(eventlog.Config{MaxEntries: 10})
	events.RecordNetworkChanged("wlan0")
	events.RecordReset("test", false)

	api := New(Config{Events: events})
	handler := api.Handler()

	req := httptest.NewRequest("GET", "/api/v1/events/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var entries []eventlog.Entry
	err := json.Unmarshal(w.Body.Bytes(), &entries)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestAPI_HandleGetEvents_NoRecorder(t *testing.T) {
	api := New(Config{})
	handler := api.Handler()

	req := httptest.NewRequest("GET", "/api/v1/events/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]\n", w.Body.String())
}

func TestAPI_HandleGetLastEvents(t *testing.T) {
	events := eventlog.NewRecorder(eventlog.Config{MaxEntries: 10})
	for i := 0; i < 5; i++ {
		events.RecordNetworkChanged("wlan0")
	}

	api := New(Config{Events: events})
	handler := api.Handler()

	req := httptest.NewRequest("GET", "/api/v1/events/last/2", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var entries []eventlog.Entry
	err := json.Unmarshal(w.Body.Bytes(), &entries)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestAPI_HandleClearEvents(t *testing.T) {
	events := eventlog.NewRecorder(eventlog.Config{MaxEntries: 10})
	events.RecordNetworkChanged("wlan0")

	api := New(Config{Events: events})
	handler := api.Handler()

	req := httptest.NewRequest("DELETE", "/api/v1/events/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, events.Count())
}

func TestAPI_RequestLoggerStoresContextLogger(t *testing.T) {
	api := New(Config{})

	var got *logging.Logger
	h := api.requestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = logging.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.NotNil(t, got)
	// The handler must see a request-scoped logger, not the process-wide
	// default.
	assert.NotSame(t, logging.Default(), got)
}

func TestAPI_SecurityHeaders(t *testing.T) {
	api := New(Config{})
	handler := api.Handler()

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}

func TestAPI_CORS_LocalOrigin(t *testing.T) {
	api := New(Config{})
	handler := api.Handler()

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestAPI_CORS_RemoteOrigin(t *testing.T) {
	api := New(Config{})
	handler := api.Handler()

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	req.Header.Set("Origin", "http://evil.example.com")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestIsLocalOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"http://localhost", true},
		{"http://localhost:8080", true},
		{"https://127.0.0.1:3000", true},
		{"http://[::1]:8080", true},
		{"http://localhost.evil.com", false},
		{"http://evil.com", false},
		{"", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, isLocalOrigin(tt.origin), "origin %q", tt.origin)
	}
}
