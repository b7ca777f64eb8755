package ws

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// State is a channel's position in its lifecycle. Closed is terminal.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Drop reasons reported to metrics
const (
	reasonSlowConsumer = "slow_consumer"
	reasonWriteError   = "write_error"
	reasonShutdown     = "shutdown"
)

// Channel is one observer connection. Outbound frames go through a bounded
// queue drained by a single writer goroutine; the queue never blocks the
// caller.
type Channel struct {
	id    string
	conn  *websocket.Conn
	hub   *Hub
	send  chan []byte
	done  chan struct{}
	state atomic.Int32

	closeOnce sync.Once
}

func newChannel(id string, conn *websocket.Conn, hub *Hub) *Channel {
	ch := &Channel{
		id:   id,
		conn: conn,
		hub:  hub,
		send: make(chan []byte, hub.cfg.SendQueueSize),
		done: make(chan struct{}),
	}
	ch.state.Store(int32(StateConnecting))
	return ch
}

// ID returns the channel identifier
func (c *Channel) ID() string {
	return c.id
}

// State returns the current lifecycle state
func (c *Channel) State() State {
	return State(c.state.Load())
}

// Done is closed once the channel reaches StateClosed.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

func (c *Channel) open() bool {
	return c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen))
}

// enqueue hands a frame to the writer. A full queue closes the channel
// instead of waiting.
func (c *Channel) enqueue(frame []byte) bool {
	if c.State() != StateOpen {
		return false
	}
	select {
	case c.send <- frame:
		return true
	case <-c.done:
		return false
	default:
		c.hub.log.Warn("Dropping slow channel",
			zap.String("channel", c.id),
			zap.Int("queue", cap(c.send)))
		c.close(reasonSlowConsumer)
		return false
	}
}

// close moves the channel to StateClosed and releases it from the hub.
// Safe to call from any goroutine, any number of times.
func (c *Channel) close(reason string) {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		close(c.done)
		c.hub.unregister(c)
		if reason != "" {
			c.hub.metrics.RecordDroppedChannel(reason)
		}
	})
}

// writePump is the only goroutine that writes to conn.
func (c *Channel) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.hub.writers.Done()
	}()

	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				c.hub.log.Debug("Write failed", zap.String("channel", c.id), zap.Error(err))
				c.close(reasonWriteError)
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.close(reasonWriteError)
				return
			}
		case <-c.done:
			deadline := time.Now().Add(c.hub.cfg.WriteTimeout)
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		}
	}
}

func (c *Channel) write(messageType int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

// readPump reads requests until the peer goes away or the channel closes.
func (c *Channel) readPump() {
	defer c.close("")

	c.conn.SetReadLimit(c.hub.cfg.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.hub.log.Debug("Channel read error", zap.String("channel", c.id), zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongTimeout))
		c.hub.handleFrame(c, data)
	}
}
