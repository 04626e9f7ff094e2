package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newLimitedRouter(counter Counter, limit int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimiter(counter, limit))
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"pong": true})
	})
	return router
}

func doRequest(router *gin.Engine) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "203.0.113.9:52100"
	router.ServeHTTP(w, req)
	return w
}

func TestRateLimiterAllowsUnderLimit(t *testing.T) {
	router := newLimitedRouter(NewMemoryCounter(), 3)

	for i := 0; i < 3; i++ {
		w := doRequest(router)
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestRateLimiterRejectsOverLimit(t *testing.T) {
	router := newLimitedRouter(NewMemoryCounter(), 2)

	doRequest(router)
	doRequest(router)
	w := doRequest(router)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Contains(t, w.Body.String(), "TOO_MANY_REQUESTS")
}

func TestRateLimiterSetsHeaders(t *testing.T) {
	router := newLimitedRouter(NewMemoryCounter(), 5)

	w := doRequest(router)
	assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "4", w.Header().Get("X-RateLimit-Remaining"))
}

type brokenCounter struct{}

func (brokenCounter) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return 0, errors.New("redis down")
}

func TestRateLimiterFailsOpenOnStoreError(t *testing.T) {
	router := newLimitedRouter(brokenCounter{}, 1)

	for i := 0; i < 5; i++ {
		w := doRequest(router)
		assert.Equal(t, http.StatusOK, w.Code)
	}
}
