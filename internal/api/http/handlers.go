package http

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/tracehub/internal/domain/trace"
)

// ChannelCounter reports open observer channels
type ChannelCounter interface {
	Len() int
}

// Handlers serves the request/response view of the store. Observers use it
// whenever their channel is down, so every payload matches the channel reply
// for the same request.
type Handlers struct {
	store    *trace.Store
	stats    *trace.Aggregator
	channels ChannelCounter
	metrics  *HandlerMetrics
	version  string
}

// NewHandlers creates a new handler set
func NewHandlers(store *trace.Store, stats *trace.Aggregator, channels ChannelCounter, metrics *HandlerMetrics, version string) *Handlers {
	if metrics == nil {
		metrics = NewHandlerMetrics(nil)
	}
	return &Handlers{
		store:    store,
		stats:    stats,
		channels: channels,
		metrics:  metrics,
		version:  version,
	}
}

// Register mounts the fallback routes on r
func (h *Handlers) Register(r gin.IRoutes) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.GET("/traces", h.ListTraces)
	r.GET("/traces/stats", h.Stats)
	r.GET("/traces/:id", h.GetTrace)
	r.POST("/traces/clear", h.ClearTraces)
}

// Root handles the service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "tracehub",
		"version": h.version,
	})
}

// Health reports resident and lifetime counts
func (h *Handlers) Health(c *gin.Context) {
	channels := 0
	if h.channels != nil {
		channels = h.channels.Len()
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"resident": h.store.Len(),
		"capacity": h.store.Capacity(),
		"counters": h.store.Counters(),
		"channels": channels,
	})
}

// ListTraces returns one page of records
func (h *Handlers) ListTraces(c *gin.Context) {
	page, err := queryInt(c, "page")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	defer h.metrics.TrackStoreOperation("list")()
	c.JSON(http.StatusOK, h.store.List(page, limit))
}

// GetTrace returns a single record
func (h *Handlers) GetTrace(c *gin.Context) {
	traceID := c.Param("id")

	defer h.metrics.TrackStoreOperation("get")()
	rec, ok := h.store.Get(traceID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "trace not found: " + traceID})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Stats returns the current summary
func (h *Handlers) Stats(c *gin.Context) {
	defer h.metrics.TrackStoreOperation("stats")()
	c.JSON(http.StatusOK, h.stats.Compute())
}

// ClearTraces empties the store
func (h *Handlers) ClearTraces(c *gin.Context) {
	defer h.metrics.TrackStoreOperation("clear")()
	h.store.Clear()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return v, nil
}
