package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatParseRoundTrip(t *testing.T) {
	record := Format(http.MethodGet, "/api/v1/bookings", 200, 12345*time.Microsecond, "203.0.113.9")
	assert.Equal(t, "GET:/api/v1/bookings:200:12.345:203.0.113.9", record)

	entry, ok := Parse(record)
	require.True(t, ok)
	assert.Equal(t, "GET", entry.Method)
	assert.Equal(t, "/api/v1/bookings", entry.Path)
	assert.Equal(t, 200, entry.Status)
	assert.InDelta(t, 12.345, entry.ElapsedMs, 0.001)
	assert.Equal(t, "203.0.113.9", entry.ClientIP)
}

func TestParseKeepsIPv6Intact(t *testing.T) {
	record := Format(http.MethodPost, "/api/v1/payments", 201, time.Millisecond, "2001:db8::1")
	entry, ok := Parse(record)
	require.True(t, ok)
	assert.Equal(t, "2001:db8::1", entry.ClientIP)
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, record := range []string{"", "GET:/x", "GET:/x:abc:1.0:ip", "GET:/x:200:abc:ip"} {
		_, ok := Parse(record)
		assert.False(t, ok, "record %q", record)
	}
}

func TestMemoryRecorderNewestFirst(t *testing.T) {
	ctx := context.Background()
	rec := NewMemoryRecorder()

	require.NoError(t, rec.Record(ctx, "first"))
	require.NoError(t, rec.Record(ctx, "second"))
	require.NoError(t, rec.Record(ctx, "third"))

	got, err := rec.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"third", "second"}, got)

	all, err := rec.Recent(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMiddlewareRecordsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := NewMemoryRecorder()

	router := gin.New()
	router.Use(Middleware(rec))
	router.GET("/api/v1/events", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
	req.RemoteAddr = "203.0.113.9:40000"
	router.ServeHTTP(w, req)

	records, err := rec.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)

	entry, ok := Parse(records[0])
	require.True(t, ok)
	assert.Equal(t, "GET", entry.Method)
	assert.Equal(t, "/api/v1/events", entry.Path)
	assert.Equal(t, http.StatusOK, entry.Status)
	assert.Equal(t, "203.0.113.9", entry.ClientIP)
}
