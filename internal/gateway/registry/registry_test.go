package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPickRoundRobin(t *testing.T) {
	svc := NewService("booking-service", []string{"http://a:8080", "http://b:8080", "http://c:8080"})

	got := []string{
		svc.Pick().BaseURL,
		svc.Pick().BaseURL,
		svc.Pick().BaseURL,
		svc.Pick().BaseURL,
	}
	assert.Equal(t, []string{"http://a:8080", "http://b:8080", "http://c:8080", "http://a:8080"}, got)
}

func TestPickSkipsUnhealthy(t *testing.T) {
	svc := NewService("booking-service", []string{"http://a:8080", "http://b:8080"})
	svc.SetHealth("http://a:8080", false)

	for i := 0; i < 4; i++ {
		inst := svc.Pick()
		require.NotNil(t, inst)
		assert.Equal(t, "http://b:8080", inst.BaseURL)
	}
}

func TestPickFailsOpenWhenAllUnhealthy(t *testing.T) {
	svc := NewService("booking-service", []string{"http://a:8080", "http://b:8080"})
	svc.SetHealth("http://a:8080", false)
	svc.SetHealth("http://b:8080", false)

	first := svc.Pick()
	second := svc.Pick()
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.NotEqual(t, first.BaseURL, second.BaseURL)
}

func TestPickEmptyService(t *testing.T) {
	svc := NewService("booking-service", nil)
	assert.Nil(t, svc.Pick())
}

func TestHealthyCount(t *testing.T) {
	svc := NewService("booking-service", []string{"http://a:8080", "http://b:8080", "http://c:8080"})
	assert.Equal(t, 3, svc.HealthyCount())

	svc.SetHealth("http://b:8080", false)
	assert.Equal(t, 2, svc.HealthyCount())

	svc.SetHealth("http://b:8080", true)
	assert.Equal(t, 3, svc.HealthyCount())
}

func TestRegistryGet(t *testing.T) {
	reg := NewRegistry()
	reg.Add(NewService("user-service", []string{"http://u:8080"}))

	assert.NotNil(t, reg.Get("user-service"))
	assert.Nil(t, reg.Get("unknown-service"))
	assert.Len(t, reg.All(), 1)
}

func TestSweepMarksInstances(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer up.Close()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()

	reg := NewRegistry()
	svc := NewService("event-service", []string{up.URL, down.URL, "http://127.0.0.1:1"})
	reg.Add(svc)

	checker := NewHealthChecker(reg, 0, 0)
	checker.Sweep(context.Background())

	states := map[string]bool{}
	for _, inst := range svc.Snapshot() {
		states[inst.BaseURL] = inst.Healthy
	}
	assert.True(t, states[up.URL])
	assert.False(t, states[down.URL])
	assert.False(t, states["http://127.0.0.1:1"])
}
