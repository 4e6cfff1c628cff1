package ws

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	// maxFrameSize bounds a single inbound frame.
	maxFrameSize = 1 << 20
)

// Client is one live connection for a user. Outbound frames go through a
// bounded queue drained by writePump; a full queue marks the connection for
// eviction rather than blocking the sender.
type Client struct {
	ID          string
	UserID      int64
	DeviceID    string
	IP          string
	ConnectedAt time.Time

	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	limiter *rate.Limiter
	closing sync.Once

	// typing holds the rooms this connection has an active typing
	// indicator in. Only the read loop touches it.
	typing map[int64]struct{}
}

// NewClient wraps an upgraded connection. The limiter throttles inbound
// events; conn may be nil in tests that never run the pumps.
func NewClient(userID int64, conn *websocket.Conn, queueSize int, limiter *rate.Limiter) *Client {
	return &Client{
		ID:          newConnID(),
		UserID:      userID,
		ConnectedAt: time.Now(),
		conn:        conn,
		send:        make(chan []byte, queueSize),
		done:        make(chan struct{}),
		limiter:     limiter,
		typing:      make(map[int64]struct{}),
	}
}

// setTyping tracks the connection's typing indicator per room so a lost
// connection can be cleared down to "not typing".
func (c *Client) setTyping(roomID int64, on bool) {
	if on {
		c.typing[roomID] = struct{}{}
		return
	}
	delete(c.typing, roomID)
}

// trySend enqueues a frame without blocking. False means the connection is
// closing or its queue is full.
func (c *Client) trySend(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// close tears down the transport exactly once. Pending queued frames are
// dropped; the read loop's deferred unregister completes the cleanup.
func (c *Client) close() {
	c.closing.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// writePump drains the outbound queue onto the socket and keeps the
// connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
			return
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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

func newConnID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}
