package wsserver

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gpumon/gpumon/internal/monitor"
)

const writeTimeout = 10 * time.Second

var errClosed = errors.New("subscriber closed")

// client is one websocket subscriber. Envelopes pass through a bounded
// outbox; when the peer cannot keep up the oldest queued envelope is
// dropped so the producer never blocks and the peer always converges on
// recent data.
type client struct {
	id   string
	conn *websocket.Conn
	out  chan monitor.Envelope

	mu     sync.Mutex
	closed bool
}

var _ monitor.Subscriber = (*client)(nil)

func newClient(conn *websocket.Conn, queueSize int) *client {
	return &client{
		id:   uuid.NewString(),
		conn: conn,
		out:  make(chan monitor.Envelope, queueSize),
	}
}

func (c *client) ID() string {
	return c.id
}

// Send enqueues an envelope without blocking, evicting the oldest queued
// one when the outbox is full.
func (c *client) Send(env monitor.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errClosed
	}

	for {
		select {
		case c.out <- env:
			return nil
		default:
		}
		select {
		case <-c.out:
		default:
		}
	}
}

// Close marks the client dead and lets the write loop drain out. Safe to
// call more than once.
func (c *client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.out)
}

func (c *client) writeLoop(l *zap.SugaredLogger) {
	defer c.conn.Close()

	for env := range c.out {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteJSON(env); err != nil {
			l.Errorw("websocket write failed", "subscriber", c.id, "error", err)
			c.Close()
			return
		}
	}

	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readLoop discards whatever the peer sends; its only purpose is noticing
// the connection going away.
func (c *client) readLoop(onDisconnect func()) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			onDisconnect()
			return
		}
	}
}
