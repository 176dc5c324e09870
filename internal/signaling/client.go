package signaling

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait is the deadline for a single websocket write.
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong before dropping the
	// connection; pings go out at pingPeriod.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds inbound frames. SDP offers are the largest
	// legitimate payload and stay well under this.
	maxMessageSize = 64 * 1024

	// sendBuffer is the per-client outbound queue. When it is full the
	// event is dropped: delivery is fire-and-forget with no replay.
	sendBuffer = 64
)

// ErrClientGone is returned by Send when the connection is closed or
// its outbound buffer is full.
var ErrClientGone = errors.New("client connection gone")

// Client is one live signaling connection. Reads are driven by the
// router's connection loop; writes are serialized through a buffered
// channel drained by writePump.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger

	mu     sync.Mutex
	closed bool

	// Identity, set by the register handler. userID is empty until the
	// client has registered.
	userID    string
	extension string
	name      string

	// authUserID is the identity proven by the connection token, empty
	// when token auth is disabled.
	authUserID string
}

func newClient(conn *websocket.Conn, authUserID string, logger *slog.Logger) *Client {
	return &Client{
		conn:       conn,
		send:       make(chan []byte, sendBuffer),
		authUserID: authUserID,
		logger:     logger,
	}
}

// Send queues one event for delivery. It never blocks: when the buffer
// is full or the connection is closed the event is dropped and
// ErrClientGone is returned.
func (c *Client) Send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientGone
	}

	select {
	case c.send <- frame:
		return nil
	default:
		c.logger.Warn("send buffer full, dropping event",
			"event", event,
			"user_id", c.userID,
		)
		return ErrClientGone
	}
}

// close shuts the outbound channel exactly once and closes the socket.
func (c *Client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
	}
}

// writePump drains the send queue onto the socket and keeps the
// connection alive with pings. It exits when the queue is closed or a
// write fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendError reports a handler failure to this connection as a
// structured error event.
func (c *Client) sendError(code, message string) {
	c.Send(EventError, ErrorPayload{Code: code, Message: message}) //nolint:errcheck
}
