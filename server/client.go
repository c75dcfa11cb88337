package server

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"arcade-server/throttle"

	"github.com/gorilla/websocket" // Gorilla WebSocket library for plain WebSockets
)

const (
	// WebSocket heartbeat settings to detect disconnected clients
	PING_INTERVAL = 10 * time.Second // Frequency of sending ping messages
	PONG_WAIT     = 60 * time.Second // Time to wait for a pong response before considering client disconnected
	WRITE_WAIT    = 10 * time.Second // Deadline for a single frame write

	controlBuffer = 16   // Pending control frames (assignment, errors, advisories)
	maxInputBytes = 1024 // Inputs are tiny; anything larger is abuse
)

var (
	ErrConnClosed  = errors.New("connection closed")
	ErrControlFull = errors.New("control buffer full")
)

// WebSocketClient represents a single connected player.
//
// Snapshots are coalesced: at most one snapshot is in flight, and a snapshot
// offered while the previous one is still being written is skipped. Control
// frames are queued and always written before the next snapshot.
type WebSocketClient struct {
	id       string
	conn     *websocket.Conn
	control  chan []byte   // Queued control frames
	snapshot chan []byte   // At most one pending snapshot
	inFlight atomic.Bool   // A snapshot is queued or being written
	ready    atomic.Bool   // Snapshots are accepted only after the room assignment is queued
	done     chan struct{} // Closed once when the client shuts down
	once     sync.Once
	limiter  *throttle.Limiter // Owned by ReadPump
	logger   *slog.Logger
}

// NewWebSocketClient wraps an upgraded connection.
func NewWebSocketClient(conn *websocket.Conn, id string, limiter *throttle.Limiter, logger *slog.Logger) *WebSocketClient {
	return &WebSocketClient{
		id:       id,
		conn:     conn,
		control:  make(chan []byte, controlBuffer),
		snapshot: make(chan []byte, 1),
		done:     make(chan struct{}),
		limiter:  limiter,
		logger:   logger.With("client", id),
	}
}

// ID returns the connection identity used as the player key.
func (c *WebSocketClient) ID() string { return c.id }

// MarkReady starts accepting snapshots.
func (c *WebSocketClient) MarkReady() { c.ready.Store(true) }

// Offer hands a snapshot to the writer unless the previous one is still in
// flight. It reports whether the frame was accepted.
func (c *WebSocketClient) Offer(frame []byte) (bool, error) {
	select {
	case <-c.done:
		return false, ErrConnClosed
	default:
	}
	if !c.ready.Load() || !c.inFlight.CompareAndSwap(false, true) {
		return false, nil
	}
	select {
	case c.snapshot <- frame:
		return true, nil
	default:
		c.inFlight.Store(false)
		return false, nil
	}
}

// Send queues a control frame.
func (c *WebSocketClient) Send(frame []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.control <- frame:
		return nil
	default:
		return ErrControlFull
	}
}

// Close stops both pumps. Queued control frames are flushed first.
func (c *WebSocketClient) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// ReadPump continuously reads messages from the WebSocket connection and
// hands them to the server. It unregisters the client when the connection ends.
func (c *WebSocketClient) ReadPump(s *InstanceServer) {
	defer func() {
		s.unregisterClient(c)
		c.Close()
	}()

	c.conn.SetReadLimit(maxInputBytes)
	c.conn.SetReadDeadline(time.Now().Add(PONG_WAIT))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(PONG_WAIT)) // Extend deadline on pong
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info("unexpected close", "error", err)
			} else {
				c.logger.Debug("read loop ended", "error", err)
			}
			return
		}
		s.handleClientMessage(c, message)
	}
}

// WritePump sends queued frames and periodic pings, and closes the socket on exit.
func (c *WebSocketClient) WritePump() {
	ticker := time.NewTicker(PING_INTERVAL)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		// Control frames first so an assignment or error always precedes the next snapshot
		select {
		case frame := <-c.control:
			if !c.write(websocket.TextMessage, frame) {
				return
			}
			continue
		default:
		}

		select {
		case frame := <-c.control:
			if !c.write(websocket.TextMessage, frame) {
				return
			}
		case frame := <-c.snapshot:
			ok := c.write(websocket.TextMessage, frame)
			c.inFlight.Store(false)
			if !ok {
				return
			}
		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				return
			}
		case <-c.done:
			c.flushControl()
			c.conn.SetWriteDeadline(time.Now().Add(WRITE_WAIT))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *WebSocketClient) flushControl() {
	for {
		select {
		case frame := <-c.control:
			if !c.write(websocket.TextMessage, frame) {
				return
			}
		default:
			return
		}
	}
}

func (c *WebSocketClient) write(messageType int, data []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(WRITE_WAIT))
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		c.logger.Debug("write failed", "error", err)
		c.Close() // Mark closed so the room evicts this client
		return false
	}
	return true
}
