package proxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventix/eventix/internal/gateway/breaker"
	"github.com/eventix/eventix/internal/gateway/registry"
)

func newTestProxy(t *testing.T, serviceURLs map[string][]string, timeout time.Duration) (*gin.Engine, *breaker.CircuitBreaker) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := registry.NewRegistry()
	routes := make([]Route, 0, len(serviceURLs))
	for name, urls := range serviceURLs {
		reg.Add(registry.NewService(name, urls))
		routes = append(routes, Route{PathPrefix: "/api/v1/" + strings.TrimSuffix(name, "-service") + "s", Service: name})
	}

	cb := breaker.New(breaker.NewMemoryStore(), &breaker.Config{FailureThreshold: 2, OpenDuration: time.Minute})
	p := New(&Config{
		Routes:          routes,
		Registry:        reg,
		Breaker:         cb,
		UpstreamTimeout: timeout,
	})

	router := gin.New()
	router.NoRoute(p.Handler())
	return router, cb
}

func TestProxyForwardsRequestAndResponse(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/bookings", r.URL.Path)
		assert.Equal(t, "limit=5", r.URL.RawQuery)
		assert.Equal(t, "user-1", r.Header.Get("X-User-ID"))

		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"event_id":"e-1"}`, string(body))

		w.Header().Set("X-Upstream", "booking-a")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"success":true}`))
	}))
	defer upstream.Close()

	router, _ := newTestProxy(t, map[string][]string{"booking-service": {upstream.URL}}, 0)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings?limit=5", strings.NewReader(`{"event_id":"e-1"}`))
	req.Header.Set("X-User-ID", "user-1")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())
	assert.Equal(t, "booking-a", w.Header().Get("X-Upstream"))
	assert.NotEmpty(t, w.Header().Get("X-Process-Time"))
}

func TestProxyUnknownRoute(t *testing.T) {
	router, _ := newTestProxy(t, map[string][]string{"booking-service": {"http://127.0.0.1:1"}}, 0)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/unknown", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "ROUTE_NOT_FOUND")
}

func TestProxyNoInstances(t *testing.T) {
	router, _ := newTestProxy(t, map[string][]string{"booking-service": nil}, 0)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/bookings", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "SERVICE_UNAVAILABLE")
}

func TestProxyDeadUpstreamReturnsBadGateway(t *testing.T) {
	router, _ := newTestProxy(t, map[string][]string{"booking-service": {"http://127.0.0.1:1"}}, 0)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/bookings", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "BAD_GATEWAY")
}

func TestProxySlowUpstreamReturnsGatewayTimeout(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer upstream.Close()

	router, _ := newTestProxy(t, map[string][]string{"booking-service": {upstream.URL}}, 50*time.Millisecond)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/bookings", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.Contains(t, w.Body.String(), "GATEWAY_TIMEOUT")
}

func TestProxyOpensBreakerAfterRepeatedFailures(t *testing.T) {
	router, cb := newTestProxy(t, map[string][]string{"booking-service": {"http://127.0.0.1:1"}}, 0)

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/bookings", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadGateway, w.Code)
	}

	require.Equal(t, breaker.StateOpen, cb.StateOf(context.Background(), "http://127.0.0.1:1"))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/bookings", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "CIRCUIT_OPEN")
}

func TestProxyUpstreamErrorsCountAgainstBreaker(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	router, cb := newTestProxy(t, map[string][]string{"booking-service": {upstream.URL}}, 0)

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/bookings", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	}
	assert.Equal(t, breaker.StateOpen, cb.StateOf(context.Background(), upstream.URL))
}
