package observer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracehub/internal/infrastructure/logging"
	"github.com/GriffinCanCode/tracehub/internal/protocol"
	"github.com/GriffinCanCode/tracehub/internal/shared/id"
)

var (
	ErrTimeout          = errors.New("request timed out")
	ErrConnectionClosed = errors.New("connection closed")
	ErrNotConnected     = errors.New("not connected")
)

// RemoteError is an error event the hub sent in reply to a request
type RemoteError struct {
	Request protocol.Type
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Request, e.Message)
}

// Status is the connection state surfaced to the UI
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	// StatusError means automatic reconnects gave up; Connect or Rearm
	// starts over.
	StatusError Status = "error"
)

// Listener receives every event of the type it subscribed to
type Listener func(protocol.Event)

type listenerEntry[F any] struct {
	id uint64
	fn F
}

type result struct {
	event protocol.Event
	err   error
}

// call is one outstanding request. It is settled at most once, by whoever
// removes it from the pending map.
type call struct {
	request protocol.Type
	expect  protocol.Type
	done    chan result
}

// Client holds one connection to a hub, reconnecting on loss, and keeps a
// local View current from every event it receives.
type Client struct {
	opts     Options
	log      *logging.Logger
	fallback *Fallback

	writeMu sync.Mutex

	mu       sync.Mutex
	status   Status
	lastErr  error
	conn     *websocket.Conn
	connGen  uint64
	attempts int
	retry    bool
	timer    *time.Timer
	timerSeq uint64
	pending  map[string]*call
	view     View

	nextListener    uint64
	listeners       map[protocol.Type][]listenerEntry[Listener]
	statusListeners []listenerEntry[func(Status)]
}

// New creates a disconnected client. Nothing is dialed until Connect.
func New(opts Options, log *logging.Logger) *Client {
	opts = opts.withDefaults()
	if opts.ClientID == "" {
		opts.ClientID = uuid.NewString()
	}
	if log == nil {
		log = logging.NewNop()
	}

	c := &Client{
		opts:      opts,
		log:       log.Component("observer"),
		status:    StatusDisconnected,
		pending:   make(map[string]*call),
		view:      EmptyView(opts.PageLimit),
		listeners: make(map[protocol.Type][]listenerEntry[Listener]),
	}
	if !opts.DisableFallback && opts.Fallback.BaseURL != "" {
		c.fallback = NewFallback(opts.Fallback)
	}
	return c
}

// ClientID returns the id sent with every request
func (c *Client) ClientID() string {
	return c.opts.ClientID
}

// Status returns the current connection status
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// LastError returns the most recent transport error, if any
func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Connect dials the hub. It resets the attempt counter, cancels a pending
// reconnect and re-enables automatic retries.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.stopTimerLocked()
	c.attempts = 0
	c.retry = true
	c.mu.Unlock()

	return c.dial(ctx)
}

// Rearm is the external trigger for a client that stopped retrying, such as
// network restored or window refocused. It does nothing after Disconnect
// or while a connection is up.
func (c *Client) Rearm(ctx context.Context) error {
	c.mu.Lock()
	skip := !c.retry || c.status == StatusConnected || c.status == StatusConnecting
	c.mu.Unlock()
	if skip {
		return nil
	}
	return c.Connect(ctx)
}

// Disconnect closes the connection and halts automatic retries until the
// next Connect. In-flight calls return ErrConnectionClosed.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.retry = false
	c.stopTimerLocked()
	conn := c.conn
	c.conn = nil
	c.connGen++
	pending := c.takePendingLocked()
	changed := c.setStatusLocked(StatusDisconnected, nil)
	c.mu.Unlock()

	settleAll(pending, ErrConnectionClosed)
	if conn != nil {
		deadline := time.Now().Add(c.opts.WriteTimeout)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		conn.Close()
	}
	if changed {
		c.emitStatus(StatusDisconnected)
	}
}

func (c *Client) dial(ctx context.Context) error {
	c.mu.Lock()
	if c.status == StatusConnected || c.status == StatusConnecting {
		c.mu.Unlock()
		return nil
	}
	changed := c.setStatusLocked(StatusConnecting, nil)
	c.mu.Unlock()
	if changed {
		c.emitStatus(StatusConnecting)
	}

	c.log.Debug("Dialing hub", zap.String("url", c.opts.URL))
	conn, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, nil)

	c.mu.Lock()
	if err != nil {
		c.attempts++
		err = fmt.Errorf("dial %s: %w", c.opts.URL, err)
		next := c.scheduleLocked()
		changed = c.setStatusLocked(next, err)
		attempts := c.attempts
		c.mu.Unlock()

		c.log.Warn("Hub connection failed",
			zap.Int("attempt", attempts),
			zap.String("status", string(next)),
			zap.Error(err))
		if changed {
			c.emitStatus(next)
		}
		return err
	}

	// Disconnect ran while dialing
	if !c.retry || c.status != StatusConnecting {
		c.mu.Unlock()
		conn.Close()
		return ErrConnectionClosed
	}

	c.conn = conn
	c.connGen++
	gen := c.connGen
	c.attempts = 0
	c.lastErr = nil
	c.setStatusLocked(StatusConnected, nil)
	c.mu.Unlock()

	c.log.Info("Connected to hub", zap.String("url", c.opts.URL), zap.String("client_id", c.opts.ClientID))
	c.emitStatus(StatusConnected)

	go c.readLoop(conn, gen)
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.dropped(gen, err)
			return
		}
		c.handleFrame(data)
	}
}

// dropped handles the loss of connection gen. Losses of connections that
// were already replaced or closed on purpose are ignored.
func (c *Client) dropped(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.connGen || c.conn == nil {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	c.connGen++
	pending := c.takePendingLocked()
	next := c.scheduleLocked()
	changed := c.setStatusLocked(next, fmt.Errorf("connection lost: %w", err))
	c.mu.Unlock()

	conn.Close()
	c.log.Warn("Hub connection lost", zap.Error(err))
	settleAll(pending, ErrConnectionClosed)
	if changed {
		c.emitStatus(next)
	}
}

// scheduleLocked arms the single reconnect timer, or gives up once the
// attempt cap is reached. It returns the status to move to.
func (c *Client) scheduleLocked() Status {
	c.stopTimerLocked()
	if !c.retry {
		return StatusDisconnected
	}
	if c.attempts >= c.opts.MaxReconnectAttempts {
		return StatusError
	}

	seq := c.timerSeq
	c.timer = time.AfterFunc(c.opts.ReconnectInterval, func() { c.reconnect(seq) })
	return StatusDisconnected
}

// stopTimerLocked cancels the pending reconnect. Bumping the sequence also
// voids a timer that already fired but has not taken the lock yet.
func (c *Client) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerSeq++
}

func (c *Client) reconnect(seq uint64) {
	c.mu.Lock()
	if seq != c.timerSeq || !c.retry {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()

	_ = c.dial(context.Background())
}

// Do sends req and waits for its reply, the request's own timeout, or ctx.
// A reply that arrives after the timeout still updates the View.
func (c *Client) Do(ctx context.Context, req protocol.Request) (protocol.Event, error) {
	reqType := req.RequestType()
	requestID := id.NewRequestID().String()
	frame, err := protocol.EncodeRequest(req, requestID, c.opts.ClientID)
	if err != nil {
		return nil, err
	}

	pc := &call{
		request: reqType,
		expect:  protocol.ResponseType(reqType),
		done:    make(chan result, 1),
	}

	c.mu.Lock()
	conn := c.conn
	if c.status != StatusConnected || conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.pending[requestID] = pc
	c.mu.Unlock()

	if err := c.write(conn, frame); err != nil {
		c.forget(requestID)
		return nil, fmt.Errorf("send %s: %w", reqType, err)
	}

	timer := time.NewTimer(c.opts.Timeouts.For(reqType))
	defer timer.Stop()

	select {
	case res := <-pc.done:
		return res.event, res.err
	case <-timer.C:
		if c.forget(requestID) {
			return nil, ErrTimeout
		}
	case <-ctx.Done():
		if c.forget(requestID) {
			return nil, ctx.Err()
		}
	}
	// Settled while we were giving up
	res := <-pc.done
	return res.event, res.err
}

func (c *Client) write(conn *websocket.Conn, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// forget drops a pending call, reporting whether it was still pending.
func (c *Client) forget(requestID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[requestID]
	delete(c.pending, requestID)
	return ok
}

func (c *Client) takePendingLocked() map[string]*call {
	pending := c.pending
	c.pending = make(map[string]*call)
	return pending
}

func settleAll(pending map[string]*call, err error) {
	for _, pc := range pending {
		pc.done <- result{err: err}
	}
}

func (c *Client) handleFrame(data []byte) {
	ev, env, err := protocol.DecodeEvent(data)
	if err != nil {
		c.log.Warn("Ignoring hub frame", zap.Error(err))
		return
	}

	c.mu.Lock()
	c.view = c.applyLocked(ev)

	var pc *call
	if env.RequestID != "" {
		if p, ok := c.pending[env.RequestID]; ok && (ev.EventType() == p.expect || ev.EventType() == protocol.TypeError) {
			delete(c.pending, env.RequestID)
			pc = p
		}
	}
	listeners := append([]listenerEntry[Listener](nil), c.listeners[ev.EventType()]...)
	c.mu.Unlock()

	if pc != nil {
		if e, ok := ev.(protocol.Error); ok {
			pc.done <- result{err: &RemoteError{Request: pc.request, Message: e.Message}}
		} else {
			pc.done <- result{event: ev}
		}
	}
	for _, l := range listeners {
		l.fn(ev)
	}
}

// applyLocked folds an event into the view
func (c *Client) applyLocked(ev protocol.Event) View {
	v := c.view
	switch e := ev.(type) {
	case protocol.Traces:
		return Merge(v, e.Page, v.PinnedID)
	case protocol.NewTrace:
		return Prepend(v, e.Record, c.opts.PageLimit, v.PinnedID)
	case protocol.Trace:
		if i := v.indexOf(e.Record.ID); i >= 0 {
			v.Traces = cloneRecords(v.Traces)
			v.Traces[i] = Overlay(v.Traces[i], e.Record)
		}
		if e.Record.ID == v.PinnedID {
			rec := e.Record.Clone()
			if v.Pinned != nil {
				rec = Overlay(*v.Pinned, e.Record)
			}
			v.Pinned = &rec
		}
		return v
	case protocol.Stats:
		v.Stats = cloneStats(e.Stats)
		return v
	case protocol.TracesCleared:
		return EmptyView(v.Pagination.Limit)
	}
	return v
}

// apply folds a fallback reply into the view without notifying listeners
func (c *Client) apply(ev protocol.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view = c.applyLocked(ev)
}

// View returns a snapshot of the local state
func (c *Client) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view.Clone()
}

// Pin keeps traceID in the view across refreshes until Unpin
func (c *Client) Pin(traceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.view.PinnedID = traceID
	c.view.Pinned = nil
	if rec, ok := c.view.Find(traceID); ok {
		rec = rec.Clone()
		c.view.Pinned = &rec
	}
}

// Unpin releases the pinned record
func (c *Client) Unpin() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view.PinnedID = ""
	c.view.Pinned = nil
}

// On subscribes fn to events of type typ. Any number of listeners may share
// a type. Listeners run on the read goroutine, after the View has been
// updated, and must not block. The returned func unsubscribes.
func (c *Client) On(typ protocol.Type, fn Listener) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextListener++
	lid := c.nextListener
	c.listeners[typ] = append(c.listeners[typ], listenerEntry[Listener]{id: lid, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.listeners[typ] = removeListener(c.listeners[typ], lid)
	}
}

// OnStatus subscribes fn to status changes. fn runs on the goroutine that
// changed the status and must not block. The returned func unsubscribes.
func (c *Client) OnStatus(fn func(Status)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextListener++
	lid := c.nextListener
	c.statusListeners = append(c.statusListeners, listenerEntry[func(Status)]{id: lid, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.statusListeners = removeListener(c.statusListeners, lid)
	}
}

func removeListener[F any](entries []listenerEntry[F], lid uint64) []listenerEntry[F] {
	out := entries[:0:0]
	for _, e := range entries {
		if e.id != lid {
			out = append(out, e)
		}
	}
	return out
}

// setStatusLocked records s and err, reporting whether s is new
func (c *Client) setStatusLocked(s Status, err error) bool {
	if err != nil {
		c.lastErr = err
	}
	if c.status == s {
		return false
	}
	c.status = s
	return true
}

func (c *Client) emitStatus(s Status) {
	c.mu.Lock()
	listeners := append([]listenerEntry[func(Status)](nil), c.statusListeners...)
	c.mu.Unlock()

	for _, l := range listeners {
		l.fn(s)
	}
}

func (c *Client) inFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
