package observer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/tracehub/internal/domain/trace"
	"github.com/GriffinCanCode/tracehub/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/tracehub/internal/infrastructure/tracing"
)

func newFallbackServer(t *testing.T, handler gin.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	hits := &atomic.Int32{}
	router := gin.New()
	router.Use(func(c *gin.Context) {
		hits.Add(1)
		c.Next()
	})
	router.Any("/*path", handler)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, hits
}

func TestFallbackDecodesPage(t *testing.T) {
	var requestID string
	server, _ := newFallbackServer(t, func(c *gin.Context) {
		requestID = c.GetHeader(tracing.HeaderRequestID)
		assert.Equal(t, "/traces", c.Request.URL.Path)
		assert.Equal(t, "2", c.Query("page"))
		assert.Equal(t, "5", c.Query("limit"))
		c.JSON(http.StatusOK, trace.Page{
			Traces:     []trace.Record{{ID: "trc_1", Method: "GET", Path: "/x"}},
			Pagination: trace.NewPagination(6, 2, 5),
		})
	})

	f := NewFallback(FallbackOptions{BaseURL: server.URL})
	page, err := f.ListTraces(context.Background(), 2, 5)

	require.NoError(t, err)
	require.Len(t, page.Traces, 1)
	assert.Equal(t, "/x", page.Traces[0].Path)
	assert.Equal(t, 2, page.Pagination.Pages)
	assert.True(t, strings.HasPrefix(requestID, "req_"), requestID)
}

func TestFallbackEscapesTraceID(t *testing.T) {
	server, _ := newFallbackServer(t, func(c *gin.Context) {
		assert.Equal(t, "/traces/a%2Fb%3Fx", c.Request.URL.EscapedPath())
		assert.Empty(t, c.Request.URL.RawQuery)
		c.JSON(http.StatusOK, trace.Record{ID: "a/b?x", Method: "GET"})
	})

	f := NewFallback(FallbackOptions{BaseURL: server.URL})
	rec, err := f.GetTrace(context.Background(), "a/b?x")

	require.NoError(t, err)
	assert.Equal(t, "a/b?x", rec.ID)
}

func TestFallbackNotFoundDoesNotTrip(t *testing.T) {
	server, hits := newFallbackServer(t, func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "trace not found: x"})
	})

	f := NewFallback(FallbackOptions{BaseURL: server.URL})
	for i := 0; i < 5; i++ {
		_, err := f.GetTrace(context.Background(), "x")
		assert.ErrorIs(t, err, ErrTraceNotFound)
	}

	assert.Equal(t, int32(5), hits.Load())
	assert.Equal(t, resilience.StateClosed, f.BreakerState())
}

func TestFallbackBreakerOpensOnServerErrors(t *testing.T) {
	server, hits := newFallbackServer(t, func(c *gin.Context) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "restarting"})
	})

	f := NewFallback(FallbackOptions{
		BaseURL: server.URL,
		Breaker: &resilience.Settings{
			Timeout: time.Minute,
			ReadyToTrip: func(counts resilience.Counts) bool {
				return counts.ConsecutiveFailures >= 2
			},
		},
	})

	for i := 0; i < 2; i++ {
		_, err := f.Stats(context.Background())
		var se *HTTPStatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusServiceUnavailable, se.Code)
		assert.Equal(t, "restarting", se.Message)
	}
	assert.Equal(t, resilience.StateOpen, f.BreakerState())

	_, err := f.Stats(context.Background())
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFallbackRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	server, hits := newFallbackServer(t, func(c *gin.Context) {
		if calls.Add(1) == 1 {
			c.Status(http.StatusBadGateway)
			return
		}
		assert.Equal(t, http.MethodPost, c.Request.Method)
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	f := NewFallback(FallbackOptions{
		BaseURL:      server.URL,
		RetryMax:     2,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 5 * time.Millisecond,
	})

	require.NoError(t, f.Clear(context.Background()))
	assert.Equal(t, int32(2), hits.Load())
}

func TestFallbackRateLimitHonoursContext(t *testing.T) {
	server, hits := newFallbackServer(t, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	f := NewFallback(FallbackOptions{BaseURL: server.URL, RateLimit: 1})
	require.NoError(t, f.Health(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := f.Health(ctx)

	assert.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}
