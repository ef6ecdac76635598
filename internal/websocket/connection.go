package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Connection wraps one gorilla WebSocket connection. Writes are serialized
// through a buffered channel drained by a single writer goroutine, so
// WriteJSON is safe from any goroutine.
type Connection struct {
	conn         *websocket.Conn
	writeCh      chan []byte
	roomID       string
	userID       string
	writeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
}

const (
	writeBufferSize = 100
	writeTimeout    = 5 * time.Second
)

// NewConnection creates a connection wrapper for an authenticated (room,
// user) pair and starts its writer goroutine.
func NewConnection(conn *websocket.Conn, roomID, userID string) *Connection {
	return newConnection(conn, roomID, userID, writeBufferSize, writeTimeout)
}

func newConnection(conn *websocket.Conn, roomID, userID string, bufferSize int, timeout time.Duration) *Connection {
	if bufferSize <= 0 {
		bufferSize = writeBufferSize
	}
	if timeout <= 0 {
		timeout = writeTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:         conn,
		writeCh:      make(chan []byte, bufferSize),
		roomID:       roomID,
		userID:       userID,
		writeTimeout: timeout,
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()

	return c
}

// writeLoop is the single writer for the underlying socket.
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				c.cancel()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.cancel()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON queues a JSON message for delivery. It fails fast when the
// connection is closed, the payload cannot be marshaled, or the write
// buffer stays full past the write timeout. A failed write means the
// client is gone or too slow; callers treat it as an implicit disconnect.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(c.writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// TryWriteJSON queues a JSON message without waiting. Used on the
// broadcast path so one slow client with a full buffer cannot stall the
// room; a full buffer reports ErrWriteTimeout and the caller evicts.
func (c *Connection) TryWriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	default:
		return ErrWriteTimeout
	}
}

// Close closes the connection and stops the writer goroutine. Safe to call
// more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// Done exposes the connection's lifetime for read-loop coordination.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// GetRoomID returns the room this connection belongs to.
func (c *Connection) GetRoomID() string {
	return c.roomID
}

// GetUserID returns the connected user's id.
func (c *Connection) GetUserID() string {
	return c.userID
}
