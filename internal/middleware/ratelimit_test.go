package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	current := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryRateStore().(*memoryRateStore)
	store.clock = func() time.Time { return current }

	r := gin.New()
	r.Use(RateLimit(store, 2, time.Minute))
	r.GET("/line/:action", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	// First two requests should pass
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/line/login", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}

	// Third request within window should be rate-limited, whatever the action
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/line/connect", nil))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	require.NotEmpty(t, w.Header().Get("Retry-After"))

	current = current.Add(61 * time.Second)

	// After window resets, should pass again
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/line/login", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

type fakeCounter struct {
	count int64
	err   error
}

func (f *fakeCounter) IncrementWithTTL(context.Context, string, time.Duration) (int64, time.Duration, error) {
	if f.err != nil {
		return 0, 0, f.err
	}
	f.count++
	return f.count, 30 * time.Second, nil
}

func TestRateLimitSharedStore(t *testing.T) {
	gin.SetMode(gin.TestMode)

	counter := &fakeCounter{}
	r := gin.New()
	r.Use(RateLimit(NewSharedRateStore(counter), 1, time.Minute))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	counter.err = errors.New("redis down")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, w.Code, "store failures fail open")
}

func TestNewSharedRateStoreNil(t *testing.T) {
	require.Nil(t, NewSharedRateStore(nil))
}
