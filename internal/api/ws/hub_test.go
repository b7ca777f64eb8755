package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/tracehub/internal/domain/trace"
	"github.com/GriffinCanCode/tracehub/internal/infrastructure/logging"
	"github.com/GriffinCanCode/tracehub/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/tracehub/internal/protocol"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	store   *trace.Store
	hub     *Hub
	metrics *monitoring.Metrics
	server  *httptest.Server
	url     string
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	store := trace.NewStore(trace.Options{Capacity: 10}).WithMetrics(metrics)
	hub := NewHub(store, trace.NewAggregator(store), cfg, logging.NewNop(), metrics)
	store.WithPublisher(hub)

	router := gin.New()
	router.GET("/ws", hub.HandleConnection)
	server := httptest.NewServer(router)

	f := &fixture{
		store:   store,
		hub:     hub,
		metrics: metrics,
		server:  server,
		url:     "ws" + strings.TrimPrefix(server.URL, "http") + "/ws",
	}
	t.Cleanup(func() {
		hub.Close()
		server.Close()
	})
	return f
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	before := f.hub.Len()
	conn, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return f.hub.Len() == before+1 }, time.Second, 5*time.Millisecond)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func next(t *testing.T, conn *websocket.Conn) (protocol.Event, protocol.Envelope) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	ev, env, err := protocol.DecodeEvent(data)
	require.NoError(t, err)
	return ev, env
}

func TestNothingPushedOnOpen(t *testing.T) {
	f := newFixture(t, Config{})
	f.store.Record(trace.Record{Method: "GET", Path: "/before"})

	conn := f.dial(t)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "timeout"), err.Error())
}

func TestGetTracesReplyIsTagged(t *testing.T) {
	f := newFixture(t, Config{})
	for _, p := range []string{"/a", "/b", "/c"} {
		f.store.Record(trace.Record{Method: "GET", Path: p})
	}
	conn := f.dial(t)

	send(t, conn, `{"type":"getTraces","requestId":"X","params":{"page":1,"limit":2}}`)
	send(t, conn, `{"type":"getTraces","requestId":"Y","params":{"page":2,"limit":2}}`)

	ev, env := next(t, conn)
	assert.Equal(t, "X", env.RequestID)
	page := ev.(protocol.Traces)
	require.Len(t, page.Traces, 2)
	assert.Equal(t, "/c", page.Traces[0].Path)
	assert.Equal(t, 3, page.Pagination.Total)
	assert.Equal(t, 2, page.Pagination.Pages)

	ev, env = next(t, conn)
	assert.Equal(t, "Y", env.RequestID)
	page = ev.(protocol.Traces)
	require.Len(t, page.Traces, 1)
	assert.Equal(t, "/a", page.Traces[0].Path)
}

func TestGetTrace(t *testing.T) {
	f := newFixture(t, Config{})
	rec := f.store.Record(trace.Record{Method: "PUT", Path: "/item"})
	conn := f.dial(t)

	send(t, conn, `{"type":"getTrace","requestId":"1","params":{"id":"`+rec.ID+`"}}`)
	ev, env := next(t, conn)
	assert.Equal(t, "1", env.RequestID)
	assert.Equal(t, "/item", ev.(protocol.Trace).Record.Path)

	send(t, conn, `{"type":"getTrace","requestId":"2","params":{"id":"missing"}}`)
	ev, env = next(t, conn)
	assert.Equal(t, "2", env.RequestID)
	require.IsType(t, protocol.Error{}, ev)
	assert.Contains(t, ev.(protocol.Error).Message, "missing")
}

func TestGetStats(t *testing.T) {
	f := newFixture(t, Config{})
	ok, fail := 200, 500
	f.store.Record(trace.Record{Method: "GET", Path: "/a", StatusCode: &ok, DurationMs: 10})
	f.store.Record(trace.Record{Method: "POST", Path: "/b", StatusCode: &fail, DurationMs: 20})
	f.store.Record(trace.Record{Method: "GET", Path: "/c"})
	conn := f.dial(t)

	send(t, conn, `{"type":"getStats","requestId":"s"}`)
	ev, env := next(t, conn)

	assert.Equal(t, "s", env.RequestID)
	stats := ev.(protocol.Stats)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, map[string]int{"GET": 2, "POST": 1}, stats.MethodCounts)
	assert.Equal(t, map[int]int{200: 1, 500: 1}, stats.StatusCounts)
	assert.InDelta(t, 15.0, stats.AvgResponseTime, 1e-9)
	assert.InDelta(t, 50.0, stats.SuccessRate, 1e-9)
}

func TestMalformedRequestKeepsChannelOpen(t *testing.T) {
	f := newFixture(t, Config{})
	conn := f.dial(t)

	send(t, conn, `{"type":"launchMissiles","requestId":"bad"}`)
	ev, env := next(t, conn)
	assert.Equal(t, "bad", env.RequestID)
	assert.IsType(t, protocol.Error{}, ev)

	send(t, conn, `not even json`)
	ev, _ = next(t, conn)
	assert.IsType(t, protocol.Error{}, ev)

	send(t, conn, `{"type":"ping","requestId":"p"}`)
	ev, env = next(t, conn)
	assert.Equal(t, "p", env.RequestID)
	assert.Equal(t, protocol.Pong{}, ev)
	assert.Equal(t, 1, f.hub.Len())
}

func TestRecordIsBroadcastToEveryChannel(t *testing.T) {
	f := newFixture(t, Config{})
	a := f.dial(t)
	b := f.dial(t)

	f.store.Record(trace.Record{Method: "GET", Path: "/live"})

	for _, conn := range []*websocket.Conn{a, b} {
		ev, env := next(t, conn)
		assert.Empty(t, env.RequestID)
		assert.Equal(t, "/live", ev.(protocol.NewTrace).Record.Path)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Broadcasts.WithLabelValues("newTrace")))
}

func TestCompletionIsBroadcastAsUpdate(t *testing.T) {
	f := newFixture(t, Config{})
	conn := f.dial(t)

	rec := f.store.Record(trace.Record{Method: "GET", Path: "/slow"})
	ev, _ := next(t, conn)
	require.IsType(t, protocol.NewTrace{}, ev)

	f.store.Complete(rec.ID, trace.Completion{StatusCode: 204})
	ev, env := next(t, conn)
	assert.Empty(t, env.RequestID)
	require.IsType(t, protocol.Trace{}, ev)
	updated := ev.(protocol.Trace).Record
	assert.Equal(t, rec.ID, updated.ID)
	assert.Equal(t, 204, *updated.StatusCode)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Broadcasts.WithLabelValues("newTrace")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Broadcasts.WithLabelValues("trace")))
}

func TestClearTracesBroadcastsAndReplies(t *testing.T) {
	f := newFixture(t, Config{})
	f.store.Record(trace.Record{Method: "GET"})
	requester := f.dial(t)
	watcher := f.dial(t)

	send(t, requester, `{"type":"clearTraces","requestId":"c"}`)

	ev, env := next(t, requester)
	assert.Equal(t, protocol.TracesCleared{}, ev)
	assert.Empty(t, env.RequestID)

	ev, env = next(t, requester)
	assert.Equal(t, protocol.TracesCleared{}, ev)
	assert.Equal(t, "c", env.RequestID)

	ev, _ = next(t, watcher)
	assert.Equal(t, protocol.TracesCleared{}, ev)
	assert.Equal(t, 0, f.store.Len())
}

func TestSlowChannelIsDropped(t *testing.T) {
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	store := trace.NewStore(trace.Options{})
	hub := NewHub(store, trace.NewAggregator(store), Config{SendQueueSize: 2}, logging.NewNop(), metrics)

	// No writer goroutine, so the queue never drains
	ch := newChannel("slow", nil, hub)
	require.NoError(t, hub.register(ch))
	require.Equal(t, StateOpen, ch.State())

	hub.Broadcast(protocol.Pong{})
	hub.Broadcast(protocol.Pong{})
	assert.Equal(t, StateOpen, ch.State())

	hub.Broadcast(protocol.Pong{})
	assert.Equal(t, StateClosed, ch.State())
	assert.Equal(t, 0, hub.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.WSDropped.WithLabelValues(reasonSlowConsumer)))

	select {
	case <-ch.Done():
	default:
		t.Fatal("done not closed")
	}

	// Closed is terminal
	assert.False(t, ch.open())
	assert.False(t, ch.enqueue([]byte("x")))
}

func TestSlowChannelDoesNotAffectOthers(t *testing.T) {
	f := newFixture(t, Config{SendQueueSize: 1})
	healthy := f.dial(t)

	stuck := newChannel("stuck", nil, f.hub)
	require.NoError(t, f.hub.register(stuck))
	require.Equal(t, 2, f.hub.Len())

	f.store.Record(trace.Record{Method: "GET", Path: "/1"})
	ev, _ := next(t, healthy)
	assert.Equal(t, "/1", ev.(protocol.NewTrace).Record.Path)

	f.store.Record(trace.Record{Method: "GET", Path: "/2"})
	ev, _ = next(t, healthy)
	assert.Equal(t, "/2", ev.(protocol.NewTrace).Record.Path)

	assert.Equal(t, StateClosed, stuck.State())
	assert.Equal(t, 1, f.hub.Len())

	// stuck never ran a writer, so release its slot for Close
	f.hub.writers.Done()
}

func TestRunPushesStats(t *testing.T) {
	f := newFixture(t, Config{StatsInterval: 20 * time.Millisecond})
	conn := f.dial(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.hub.Run(ctx)

	ev, env := next(t, conn)
	assert.Empty(t, env.RequestID)
	assert.IsType(t, protocol.Stats{}, ev)
}

func TestCloseTearsDownChannels(t *testing.T) {
	f := newFixture(t, Config{})
	f.store.Record(trace.Record{Method: "GET"})
	conn := f.dial(t)

	f.hub.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.Equal(t, 0, f.hub.Len())
	assert.Equal(t, 1, f.store.Len())

	// Connections after Close are refused once upgraded
	late, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	require.NoError(t, err)
	defer late.Close()
	require.NoError(t, late.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = late.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, f.hub.Len())
}
