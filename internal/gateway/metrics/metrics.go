// Package metrics keeps a capped ring of recent request records the
// /metrics endpoint reads back.
package metrics

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/eventix/eventix/pkg/logger"
	"github.com/eventix/eventix/pkg/redis"
)

// RingSize caps how many request records are retained.
const RingSize = 10000

// Recorder appends request records and reads the most recent back.
type Recorder interface {
	Record(ctx context.Context, entry string) error
	Recent(ctx context.Context, n int) ([]string, error)
}

const ringKey = "gateway:metrics"

// RedisRecorder keeps the ring in a Redis list, trimmed on every push.
type RedisRecorder struct {
	client *redis.Client
}

// NewRedisRecorder creates a Redis-backed recorder.
func NewRedisRecorder(client *redis.Client) *RedisRecorder {
	return &RedisRecorder{client: client}
}

func (r *RedisRecorder) Record(ctx context.Context, entry string) error {
	pipe := r.client.Client().TxPipeline()
	pipe.LPush(ctx, ringKey, entry)
	pipe.LTrim(ctx, ringKey, 0, RingSize-1)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisRecorder) Recent(ctx context.Context, n int) ([]string, error) {
	return r.client.Client().LRange(ctx, ringKey, 0, int64(n-1)).Result()
}

// MemoryRecorder is an in-process ring for tests.
type MemoryRecorder struct {
	mu      sync.Mutex
	entries []string
}

// NewMemoryRecorder creates an empty in-memory recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (r *MemoryRecorder) Record(ctx context.Context, entry string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append([]string{entry}, r.entries...)
	if len(r.entries) > RingSize {
		r.entries = r.entries[:RingSize]
	}
	return nil
}

func (r *MemoryRecorder) Recent(ctx context.Context, n int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n > len(r.entries) {
		n = len(r.entries)
	}
	out := make([]string, n)
	copy(out, r.entries[:n])
	return out, nil
}

// Entry is one parsed request record.
type Entry struct {
	Method    string  `json:"method"`
	Path      string  `json:"path"`
	Status    int     `json:"status"`
	ElapsedMs float64 `json:"elapsed_ms"`
	ClientIP  string  `json:"client_ip"`
}

// Format renders an entry as METHOD:PATH:STATUS:ELAPSED:IP.
func Format(method, path string, status int, elapsed time.Duration, ip string) string {
	return fmt.Sprintf("%s:%s:%d:%.3f:%s", method, path, status, elapsed.Seconds()*1000, ip)
}

// Parse reads a record back into its fields. Paths contain no colons,
// so a plain split is enough.
func Parse(record string) (Entry, bool) {
	parts := strings.Split(record, ":")
	if len(parts) < 5 {
		return Entry{}, false
	}
	status, err := strconv.Atoi(parts[2])
	if err != nil {
		return Entry{}, false
	}
	elapsed, err := strconv.ParseFloat(parts[3], 64)
	if err != nil {
		return Entry{}, false
	}
	return Entry{
		Method:    parts[0],
		Path:      parts[1],
		Status:    status,
		ElapsedMs: elapsed,
		ClientIP:  strings.Join(parts[4:], ":"),
	}, true
}

// Middleware records every request into the ring. The proxy stamps
// X-Process-Time itself, before the upstream response is written.
func Middleware(recorder Recorder) gin.HandlerFunc {
	log := logger.Get().With(zap.String("component", "gateway_metrics"))

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		record := Format(c.Request.Method, c.Request.URL.Path, c.Writer.Status(), elapsed, c.ClientIP())
		if err := recorder.Record(c.Request.Context(), record); err != nil {
			log.Warn("failed to record request metric", zap.Error(err))
		}
	}
}
