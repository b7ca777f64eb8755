package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracehub/internal/domain/trace"
	"github.com/GriffinCanCode/tracehub/internal/infrastructure/logging"
	"github.com/GriffinCanCode/tracehub/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/tracehub/internal/protocol"
	"github.com/GriffinCanCode/tracehub/internal/shared/id"
)

// ErrHubClosed is returned when a connection arrives after Close.
var ErrHubClosed = errors.New("hub closed")

// Config tunes per-channel behaviour
type Config struct {
	SendQueueSize   int
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	PongTimeout     time.Duration
	MaxMessageBytes int64
	StatsInterval   time.Duration
}

// DefaultConfig returns the hub defaults
func DefaultConfig() Config {
	return Config{
		SendQueueSize:   256,
		WriteTimeout:    10 * time.Second,
		PingInterval:    54 * time.Second,
		PongTimeout:     60 * time.Second,
		MaxMessageBytes: 64 << 10,
		StatsInterval:   5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = def.SendQueueSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = def.PongTimeout
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = def.MaxMessageBytes
	}
	return c
}

// Hub owns the set of open channels. It answers requests against the store
// and fans store changes out to every channel.
type Hub struct {
	store   *trace.Store
	stats   *trace.Aggregator
	cfg     Config
	log     *logging.Logger
	metrics *monitoring.Metrics

	upgrader websocket.Upgrader

	mu       sync.RWMutex
	channels map[string]*Channel
	closed   bool
	writers  sync.WaitGroup
}

// NewHub creates a hub over store. Attach it to the store with
// store.WithPublisher(hub) so records are broadcast.
func NewHub(store *trace.Store, stats *trace.Aggregator, cfg Config, log *logging.Logger, metrics *monitoring.Metrics) *Hub {
	if log == nil {
		log = logging.NewNop()
	}
	return &Hub{
		store:   store,
		stats:   stats,
		cfg:     cfg.withDefaults(),
		log:     log.Component("ws"),
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true // Observers run on localhost dev tooling
			},
		},
		channels: make(map[string]*Channel),
	}
}

// HandleConnection upgrades the request and serves the channel until it
// closes. Nothing is sent until the observer asks.
func (h *Hub) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	ch := newChannel(id.NewChannelID().String(), conn, h)
	if err := h.register(ch); err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, err.Error()),
			time.Now().Add(h.cfg.WriteTimeout))
		conn.Close()
		return
	}

	h.log.Debug("Channel open", zap.String("channel", ch.id), zap.String("remote", c.ClientIP()))
	go ch.writePump()
	ch.readPump()
	h.log.Debug("Channel closed", zap.String("channel", ch.id))
}

func (h *Hub) register(ch *Channel) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}
	h.channels[ch.id] = ch
	h.writers.Add(1)
	ch.open()
	h.metrics.IncWSConnections()
	return nil
}

func (h *Hub) unregister(ch *Channel) {
	h.mu.Lock()
	_, ok := h.channels[ch.id]
	delete(h.channels, ch.id)
	h.mu.Unlock()

	if ok {
		h.metrics.DecWSConnections()
	}
}

// Len returns the number of open channels
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels)
}

func (h *Hub) snapshot() []*Channel {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Channel, 0, len(h.channels))
	for _, ch := range h.channels {
		out = append(out, ch)
	}
	return out
}

// Broadcast encodes ev once and queues it on every open channel. A channel
// that cannot keep up is closed; the others are unaffected.
func (h *Hub) Broadcast(ev protocol.Event) {
	frame, err := protocol.EncodeEvent(ev, "")
	if err != nil {
		h.log.Error("Failed to encode broadcast", zap.String("type", string(ev.EventType())), zap.Error(err))
		return
	}

	h.metrics.RecordBroadcast(string(ev.EventType()))
	for _, ch := range h.snapshot() {
		if ch.enqueue(frame) {
			h.metrics.RecordWSMessage("out", string(ev.EventType()))
		}
	}
}

// TraceRecorded broadcasts a record new to the store
func (h *Hub) TraceRecorded(rec trace.Record) {
	h.Broadcast(protocol.NewTrace{Record: rec})
}

// TraceUpdated broadcasts the current state of a resident record as an
// untagged trace event
func (h *Hub) TraceUpdated(rec trace.Record) {
	h.Broadcast(protocol.Trace{Record: rec})
}

// TracesCleared broadcasts that the store was emptied
func (h *Hub) TracesCleared() {
	h.Broadcast(protocol.TracesCleared{})
}

func (h *Hub) handleFrame(ch *Channel, data []byte) {
	req, env, err := protocol.DecodeRequest(data)
	if err != nil {
		h.metrics.RecordWSMessage("in", "invalid")
		h.log.Debug("Rejected request",
			zap.String("channel", ch.id),
			zap.String("type", string(env.Type)),
			zap.Error(err))
		h.reply(ch, protocol.Error{Message: err.Error()}, env.RequestID)
		return
	}
	h.metrics.RecordWSMessage("in", string(env.Type))
	h.HandleRequest(ch, req, env.RequestID)
}

// HandleRequest serves one decoded request and replies on ch with the same
// request id.
func (h *Hub) HandleRequest(ch *Channel, req protocol.Request, requestID string) {
	h.reply(ch, h.Resolve(req), requestID)
}

// Resolve computes the reply for req against the store.
func (h *Hub) Resolve(req protocol.Request) protocol.Event {
	switch r := req.(type) {
	case protocol.GetTraces:
		defer monitoring.NewTimer(h.metrics, "list").Stop("ws")
		return protocol.Traces{Page: h.store.List(r.Page, r.Limit)}

	case protocol.GetTrace:
		defer monitoring.NewTimer(h.metrics, "get").Stop("ws")
		rec, ok := h.store.Get(r.ID)
		if !ok {
			return protocol.Error{Message: fmt.Sprintf("trace not found: %s", r.ID)}
		}
		return protocol.Trace{Record: rec}

	case protocol.GetStats:
		defer monitoring.NewTimer(h.metrics, "stats").Stop("ws")
		return protocol.Stats{Stats: h.stats.Compute()}

	case protocol.ClearTraces:
		defer monitoring.NewTimer(h.metrics, "clear").Stop("ws")
		h.store.Clear()
		return protocol.TracesCleared{}

	case protocol.Ping:
		return protocol.Pong{}

	default:
		return protocol.Error{Message: fmt.Sprintf("%v: %T", protocol.ErrUnknownType, req)}
	}
}

func (h *Hub) reply(ch *Channel, ev protocol.Event, requestID string) {
	frame, err := protocol.EncodeEvent(ev, requestID)
	if err != nil {
		h.log.Error("Failed to encode reply", zap.String("type", string(ev.EventType())), zap.Error(err))
		return
	}
	if ch.enqueue(frame) {
		h.metrics.RecordWSMessage("out", string(ev.EventType()))
	}
}

// Run pushes stats to every channel each StatsInterval until ctx is done.
// A non-positive interval disables the push.
func (h *Hub) Run(ctx context.Context) {
	if h.cfg.StatsInterval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(h.cfg.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if h.Len() == 0 {
				continue
			}
			h.Broadcast(protocol.Stats{Stats: h.stats.Compute()})
		}
	}
}

// Close tears down every channel and waits for their writers. The store is
// untouched. Later connections are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	for _, ch := range h.snapshot() {
		ch.close(reasonShutdown)
	}
	h.writers.Wait()
}
