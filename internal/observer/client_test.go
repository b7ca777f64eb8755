package observer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpapi "github.com/GriffinCanCode/tracehub/internal/api/http"
	"github.com/GriffinCanCode/tracehub/internal/api/ws"
	"github.com/GriffinCanCode/tracehub/internal/domain/trace"
	"github.com/GriffinCanCode/tracehub/internal/infrastructure/logging"
	"github.com/GriffinCanCode/tracehub/internal/protocol"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const waitFor = 2 * time.Second

// hubFixture runs a real hub with the HTTP fallback routes beside it
type hubFixture struct {
	store *trace.Store
	hub   *ws.Hub
	wsURL string
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()
	return newHubFixtureWithCapacity(t, 100)
}

func newHubFixtureWithCapacity(t *testing.T, capacity int) *hubFixture {
	t.Helper()

	store := trace.NewStore(trace.Options{Capacity: capacity})
	stats := trace.NewAggregator(store)
	hub := ws.NewHub(store, stats, ws.Config{}, logging.NewNop(), nil)
	store.WithPublisher(hub)

	router := gin.New()
	router.GET("/ws", hub.HandleConnection)
	httpapi.NewHandlers(store, stats, hub, nil, "test").Register(router)
	server := httptest.NewServer(router)

	t.Cleanup(func() {
		hub.Close()
		server.Close()
	})
	return &hubFixture{store: store, hub: hub, wsURL: toWS(server.URL) + "/ws"}
}

// scriptedHub accepts (or rejects) connections and never answers on its
// own, so tests decide what the client sees and when.
type scriptedHub struct {
	hits   atomic.Int32
	reject atomic.Bool
	conns  chan *websocket.Conn
	frames chan []byte
	url    string
}

func newScriptedHub(t *testing.T) *scriptedHub {
	t.Helper()

	h := &scriptedHub{
		conns:  make(chan *websocket.Conn, 8),
		frames: make(chan []byte, 64),
	}
	upgrader := websocket.Upgrader{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.hits.Add(1)
		if h.reject.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.conns <- conn
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			h.frames <- data
		}
	}))
	t.Cleanup(server.Close)

	h.url = toWS(server.URL) + "/ws"
	return h
}

func (h *scriptedHub) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-h.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(waitFor):
		t.Fatal("no connection")
		return nil
	}
}

func (h *scriptedHub) request(t *testing.T) (protocol.Request, protocol.Envelope) {
	t.Helper()
	select {
	case data := <-h.frames:
		req, env, err := protocol.DecodeRequest(data)
		require.NoError(t, err)
		return req, env
	case <-time.After(waitFor):
		t.Fatal("no request")
		return nil, protocol.Envelope{}
	}
}

func paths(records []trace.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Path
	}
	return out
}

func toWS(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func newTestClient(t *testing.T, opts Options) *Client {
	t.Helper()
	c := New(opts, logging.NewNop())
	t.Cleanup(c.Disconnect)
	return c
}

func TestConnectAndTypedCalls(t *testing.T) {
	f := newHubFixture(t)
	ok, fail := 200, 500
	first := f.store.Record(trace.Record{Method: "GET", Path: "/a", StatusCode: &ok, DurationMs: 10})
	f.store.Record(trace.Record{Method: "POST", Path: "/b", StatusCode: &fail, DurationMs: 20})
	f.store.Record(trace.Record{Method: "GET", Path: "/c"})

	c := newTestClient(t, Options{URL: f.wsURL})
	ctx := context.Background()

	require.NoError(t, c.Connect(ctx))
	assert.Equal(t, StatusConnected, c.Status())
	assert.NotEmpty(t, c.ClientID())

	page := c.GetTraces(ctx, 1, 2)
	require.Len(t, page.Traces, 2)
	assert.Equal(t, "/c", page.Traces[0].Path)
	assert.Equal(t, 3, page.Pagination.Total)
	assert.Equal(t, 2, page.Pagination.Pages)
	assert.Equal(t, []string{page.Traces[0].ID, page.Traces[1].ID}, ids(c.View().Traces))

	stats := c.GetStats(ctx)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, map[string]int{"GET": 2, "POST": 1}, stats.MethodCounts)
	assert.InDelta(t, 15.0, stats.AvgResponseTime, 1e-9)
	assert.InDelta(t, 50.0, stats.SuccessRate, 1e-9)
	assert.Equal(t, 3, c.View().Stats.Total)

	got, found := c.GetTrace(ctx, first.ID)
	assert.True(t, found)
	assert.Equal(t, "/a", got.Path)

	_, found = c.GetTrace(ctx, "trc_missing")
	assert.False(t, found)

	assert.True(t, c.Ping(ctx))

	assert.True(t, c.ClearTraces(ctx))
	assert.Equal(t, 0, f.store.Len())
	assert.Empty(t, c.View().Traces)
	assert.Equal(t, StatusConnected, c.Status())
}

func TestDoSurfacesRemoteError(t *testing.T) {
	f := newHubFixture(t)
	c := newTestClient(t, Options{URL: f.wsURL})
	require.NoError(t, c.Connect(context.Background()))

	_, err := c.Do(context.Background(), protocol.GetTrace{ID: "trc_missing"})

	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, protocol.TypeGetTrace, remote.Request)
	assert.Contains(t, remote.Message, "trc_missing")
}

func TestBroadcastsReachListenersAndView(t *testing.T) {
	f := newHubFixture(t)
	c := newTestClient(t, Options{URL: f.wsURL})
	require.NoError(t, c.Connect(context.Background()))

	first := make(chan protocol.Event, 4)
	second := make(chan protocol.Event, 4)
	c.On(protocol.TypeNewTrace, func(ev protocol.Event) { first <- ev })
	unsubscribe := c.On(protocol.TypeNewTrace, func(ev protocol.Event) { second <- ev })

	rec := f.store.Record(trace.Record{Method: "DELETE", Path: "/live"})

	for _, ch := range []chan protocol.Event{first, second} {
		select {
		case ev := <-ch:
			assert.Equal(t, rec.ID, ev.(protocol.NewTrace).Record.ID)
		case <-time.After(waitFor):
			t.Fatal("listener not called")
		}
	}
	view := c.View()
	require.NotEmpty(t, view.Traces)
	assert.Equal(t, rec.ID, view.Traces[0].ID)
	assert.Equal(t, 1, view.Pagination.Total)

	unsubscribe()
	f.store.Record(trace.Record{Method: "GET", Path: "/again"})

	select {
	case <-first:
	case <-time.After(waitFor):
		t.Fatal("remaining listener not called")
	}
	assert.Empty(t, second)
}

func TestCompletionOutsideWindowKeepsTotal(t *testing.T) {
	f := newHubFixtureWithCapacity(t, 2)
	f.store.Record(trace.Record{Method: "GET", Path: "/a"})
	slow := f.store.Record(trace.Record{Method: "GET", Path: "/b"})
	f.store.Record(trace.Record{Method: "GET", Path: "/c"})

	c := newTestClient(t, Options{URL: f.wsURL, PageLimit: 1})
	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))

	updates := make(chan protocol.Event, 4)
	inserts := make(chan protocol.Event, 4)
	c.On(protocol.TypeTrace, func(ev protocol.Event) { updates <- ev })
	c.On(protocol.TypeNewTrace, func(ev protocol.Event) { inserts <- ev })

	page := c.GetTraces(ctx, 1, 1)
	require.Len(t, page.Traces, 1)
	assert.Equal(t, 2, page.Pagination.Total)

	f.store.Complete(slow.ID, trace.Completion{StatusCode: 200})
	select {
	case <-updates:
	case <-time.After(waitFor):
		t.Fatal("completion not delivered")
	}

	view := c.View()
	assert.Equal(t, []string{"/c"}, paths(view.Traces))
	assert.Equal(t, 2, view.Pagination.Total)

	f.store.Record(trace.Record{Method: "GET", Path: "/d"})
	select {
	case <-inserts:
	case <-time.After(waitFor):
		t.Fatal("newTrace not delivered")
	}

	view = c.View()
	assert.Equal(t, []string{"/d"}, paths(view.Traces))
	assert.Equal(t, f.store.Len(), view.Pagination.Total)
}

func TestPinnedRecordSurvivesRefresh(t *testing.T) {
	f := newHubFixture(t)
	oldest := f.store.Record(trace.Record{Method: "GET", Path: "/oldest"})
	f.store.Record(trace.Record{Method: "GET", Path: "/2"})
	f.store.Record(trace.Record{Method: "GET", Path: "/3"})

	c := newTestClient(t, Options{URL: f.wsURL, PageLimit: 3})
	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))

	c.GetTraces(ctx, 1, 3)
	c.Pin(oldest.ID)

	for i := 0; i < 5; i++ {
		f.store.Record(trace.Record{Method: "GET", Path: "/new"})
	}
	page := c.GetTraces(ctx, 1, 3)
	require.Len(t, page.Traces, 3)

	view := c.View()
	assert.NotContains(t, ids(view.Traces), oldest.ID)
	require.NotNil(t, view.Pinned)
	assert.Equal(t, "/oldest", view.Pinned.Path)
	assert.Contains(t, ids(view.Records()), oldest.ID)

	c.Unpin()
	assert.Nil(t, c.View().Pinned)
}

func TestReconnectStopsAfterCap(t *testing.T) {
	h := newScriptedHub(t)
	h.reject.Store(true)

	var mu sync.Mutex
	var seen []Status
	c := newTestClient(t, Options{
		URL:                  h.url,
		ReconnectInterval:    10 * time.Millisecond,
		MaxReconnectAttempts: 3,
		DisableFallback:      true,
	})
	c.OnStatus(func(s Status) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s)
	})

	require.Error(t, c.Connect(context.Background()))

	require.Eventually(t, func() bool { return c.Status() == StatusError }, waitFor, 5*time.Millisecond)
	assert.Equal(t, int32(3), h.hits.Load())
	assert.Error(t, c.LastError())

	// No automatic attempts once the cap is reached
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(3), h.hits.Load())
	assert.Equal(t, StatusError, c.Status())

	mu.Lock()
	assert.Equal(t, StatusError, seen[len(seen)-1])
	assert.Contains(t, seen, StatusConnecting)
	mu.Unlock()

	// An external trigger starts a fresh round
	require.Error(t, c.Rearm(context.Background()))
	require.Eventually(t, func() bool {
		return h.hits.Load() == 6 && c.Status() == StatusError
	}, waitFor, 5*time.Millisecond)

	// So does a manual connect, which then succeeds
	h.reject.Store(false)
	require.NoError(t, c.Connect(context.Background()))
	h.accept(t)
	assert.Equal(t, StatusConnected, c.Status())
	assert.NoError(t, c.LastError())
}

func TestRearmIsIgnoredAfterDisconnect(t *testing.T) {
	h := newScriptedHub(t)
	h.reject.Store(true)

	c := newTestClient(t, Options{
		URL:                  h.url,
		ReconnectInterval:    time.Hour,
		MaxReconnectAttempts: 5,
		DisableFallback:      true,
	})
	require.Error(t, c.Connect(context.Background()))
	assert.Equal(t, StatusDisconnected, c.Status())

	c.Disconnect()
	require.NoError(t, c.Rearm(context.Background()))

	assert.Equal(t, int32(1), h.hits.Load())
	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestReconnectAfterDrop(t *testing.T) {
	h := newScriptedHub(t)

	var mu sync.Mutex
	var seen []Status
	c := newTestClient(t, Options{URL: h.url, ReconnectInterval: 20 * time.Millisecond, DisableFallback: true})
	c.OnStatus(func(s Status) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s)
	})

	require.NoError(t, c.Connect(context.Background()))
	conn := h.accept(t)
	conn.Close()

	h.accept(t)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 5
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, StatusConnected, c.Status())
	assert.Equal(t, int32(2), h.hits.Load())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Status{
		StatusConnecting, StatusConnected,
		StatusDisconnected,
		StatusConnecting, StatusConnected,
	}, seen)
}

func TestTimeoutResolvesToDefaultAndLateReplyStillApplies(t *testing.T) {
	h := newScriptedHub(t)
	c := newTestClient(t, Options{
		URL:             h.url,
		Timeouts:        Timeouts{GetStats: 50 * time.Millisecond},
		DisableFallback: true,
	})
	require.NoError(t, c.Connect(context.Background()))
	conn := h.accept(t)

	stats := c.GetStats(context.Background())
	assert.Equal(t, trace.EmptyStats(), stats)
	assert.Equal(t, 0, c.inFlight())

	req, env := h.request(t)
	assert.Equal(t, protocol.GetStats{}, req)
	assert.True(t, strings.HasPrefix(env.RequestID, "req_"), env.RequestID)
	assert.Equal(t, c.ClientID(), env.ClientID)

	late := trace.EmptyStats()
	late.Total = 7
	frame, err := protocol.EncodeEvent(protocol.Stats{Stats: late}, env.RequestID)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

	require.Eventually(t, func() bool { return c.View().Stats.Total == 7 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, StatusConnected, c.Status())
	assert.NoError(t, c.LastError())
}

func TestDoTimesOut(t *testing.T) {
	h := newScriptedHub(t)
	c := newTestClient(t, Options{URL: h.url, Timeouts: Timeouts{Ping: 30 * time.Millisecond}, DisableFallback: true})
	require.NoError(t, c.Connect(context.Background()))
	h.accept(t)

	_, err := c.Do(context.Background(), protocol.Ping{})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.False(t, c.Ping(context.Background()))
}

func TestReplyForOtherRequestIsNotMatched(t *testing.T) {
	h := newScriptedHub(t)
	c := newTestClient(t, Options{URL: h.url, Timeouts: Timeouts{GetTraces: time.Second}, DisableFallback: true})
	require.NoError(t, c.Connect(context.Background()))
	conn := h.accept(t)

	done := make(chan trace.Page, 1)
	go func() { done <- c.GetTraces(context.Background(), 1, 10) }()
	_, env := h.request(t)

	write := func(ev protocol.Event, requestID string) {
		frame, err := protocol.EncodeEvent(ev, requestID)
		require.NoError(t, err)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
	}

	// Wrong id, then right id but wrong type: neither settles the call
	write(protocol.Traces{Page: pageOf(9, 1, 10)}, "req_other")
	write(protocol.Pong{}, env.RequestID)
	write(protocol.Traces{Page: pageOf(2, 1, 10, rec("b"), rec("a"))}, env.RequestID)

	select {
	case page := <-done:
		assert.Equal(t, 2, page.Pagination.Total)
	case <-time.After(waitFor):
		t.Fatal("call not settled")
	}
}

func TestDisconnectSettlesInFlightAsClosed(t *testing.T) {
	h := newScriptedHub(t)
	c := newTestClient(t, Options{URL: h.url, Timeouts: Timeouts{GetTraces: 5 * time.Second}, DisableFallback: true})
	require.NoError(t, c.Connect(context.Background()))
	h.accept(t)

	errs := make(chan error, 1)
	go func() {
		_, err := c.Do(context.Background(), protocol.GetTraces{Page: 1, Limit: 10})
		errs <- err
	}()
	require.Eventually(t, func() bool { return c.inFlight() == 1 }, waitFor, 5*time.Millisecond)

	c.Disconnect()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrConnectionClosed)
		assert.False(t, errors.Is(err, ErrTimeout))
	case <-time.After(time.Second):
		t.Fatal("in-flight call not settled")
	}
	assert.Equal(t, StatusDisconnected, c.Status())

	_, err := c.Do(context.Background(), protocol.Ping{})
	assert.ErrorIs(t, err, ErrNotConnected)

	// No reconnect is scheduled after an explicit disconnect
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), h.hits.Load())
}

func TestFallbackServesCallsWhileDisconnected(t *testing.T) {
	f := newHubFixture(t)
	ok := 200
	rec := f.store.Record(trace.Record{Method: "GET", Path: "/a", StatusCode: &ok, DurationMs: 4})
	f.store.Record(trace.Record{Method: "POST", Path: "/b"})

	c := newTestClient(t, Options{URL: f.wsURL})
	ctx := context.Background()
	assert.Equal(t, StatusDisconnected, c.Status())

	_, err := c.Do(ctx, protocol.GetStats{})
	assert.ErrorIs(t, err, ErrNotConnected)

	page := c.GetTraces(ctx, 1, 10)
	require.Len(t, page.Traces, 2)
	assert.Equal(t, "/b", page.Traces[0].Path)
	assert.Len(t, c.View().Traces, 2)

	stats := c.GetStats(ctx)
	assert.Equal(t, 2, stats.Total)
	assert.InDelta(t, 100.0, stats.SuccessRate, 1e-9)

	got, found := c.GetTrace(ctx, rec.ID)
	assert.True(t, found)
	assert.Equal(t, "/a", got.Path)

	_, found = c.GetTrace(ctx, "trc_missing")
	assert.False(t, found)

	assert.True(t, c.Ping(ctx))
	assert.True(t, c.ClearTraces(ctx))
	assert.Equal(t, 0, f.store.Len())
	assert.Empty(t, c.View().Traces)
}

func TestDefaultsWithoutChannelOrFallback(t *testing.T) {
	c := newTestClient(t, Options{URL: "ws://127.0.0.1:1/ws", DisableFallback: true})
	ctx := context.Background()

	assert.Equal(t, trace.EmptyStats(), c.GetStats(ctx))
	page := c.GetTraces(ctx, 2, 5)
	assert.Empty(t, page.Traces)
	assert.Equal(t, trace.NewPagination(0, 2, 5), page.Pagination)
	_, found := c.GetTrace(ctx, "x")
	assert.False(t, found)
	assert.False(t, c.ClearTraces(ctx))
	assert.False(t, c.Ping(ctx))
}

func TestDeriveBaseURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ws://127.0.0.1:8000/ws", "http://127.0.0.1:8000"},
		{"wss://hub.local/ws/", "https://hub.local"},
		{"ws://127.0.0.1:8000/api/ws?x=1", "http://127.0.0.1:8000/api"},
		{"not a url", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, deriveBaseURL(tt.in))
		})
	}
}
