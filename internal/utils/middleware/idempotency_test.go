package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIdempotencyRouter(t *testing.T, handler gin.HandlerFunc) (*gin.Engine, *miniredis.Miniredis) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	router := gin.New()
	router.Use(Idempotency(client, DefaultIdempotencyConfig()))
	router.POST("/charge", handler)
	return router, s
}

func TestIdempotencyReplaysCachedResponse(t *testing.T) {
	calls := 0
	router, _ := newIdempotencyRouter(t, func(c *gin.Context) {
		calls++
		c.JSON(http.StatusCreated, gin.H{"attempt": calls})
	})

	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/charge", nil)
		req.Header.Set(IdempotencyKeyHeader, "key-1")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	first := post()
	second := post()

	assert.Equal(t, 1, calls, "retry must not reach the handler")
	assert.Equal(t, first.Code, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
}

func TestIdempotencyWithoutKeyPassesThrough(t *testing.T) {
	calls := 0
	router, _ := newIdempotencyRouter(t, func(c *gin.Context) {
		calls++
		c.Status(http.StatusCreated)
	})

	for range 2 {
		req := httptest.NewRequest(http.MethodPost, "/charge", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
	}
	assert.Equal(t, 2, calls)
}

func TestIdempotencyLockReleasedAfterClientDisconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	router, s := newIdempotencyRouter(t, func(c *gin.Context) {
		// The client goes away mid-request.
		cancel()
		c.Status(http.StatusCreated)
	})

	req := httptest.NewRequest(http.MethodPost, "/charge", nil).WithContext(ctx)
	req.Header.Set(IdempotencyKeyHeader, "key-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	for _, key := range s.Keys() {
		assert.False(t, strings.HasSuffix(key, ":lock"), "lock %s must not outlive the request", key)
	}
}
