package transport

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/liveroom/liveroom/internal/v1/logging"
	"github.com/liveroom/liveroom/internal/v1/metrics"
	"github.com/liveroom/liveroom/internal/v1/types"
	"go.uber.org/zap"
)

// wsConnection defines the interface for WebSocket connection operations.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

// Client is one open WebSocket session. It implements
// types.ClientInterface and owns the read/write pumps; all frame
// semantics live in the room layer.
type Client struct {
	conn wsConnection
	room types.Roomer
	id   types.ConnectionIDType

	mu     sync.RWMutex // Protects closed
	closed bool

	send chan []byte // Buffered outbound queue drained by writePump
}

func newClient(conn wsConnection, room types.Roomer, id types.ConnectionIDType) *Client {
	return &Client{
		conn: conn,
		room: room,
		id:   id,
		send: make(chan []byte, 256),
	}
}

// GetID satisfies types.ClientInterface.
func (c *Client) GetID() types.ConnectionIDType {
	return c.id
}

// Disconnect closes the outbound queue, which causes writePump to send
// a close frame and tear down the connection. Safe to call repeatedly.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.send)
}

// SendRaw satisfies types.ClientInterface. Sends to a closed or
// backed-up client are dropped rather than blocking the caller.
func (c *Client) SendRaw(data []byte) {
	if data == nil {
		return
	}

	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		logging.GetLogger().Debug("Skipping send to closed client", zap.String("connectionId", string(c.id)))
		return
	}
	c.mu.RUnlock()

	// Safety net for the race between the closed check and a concurrent
	// Disconnect closing the channel.
	defer func() {
		if r := recover(); r != nil {
			logging.Warn(context.Background(), "Recovered from panic in SendRaw", zap.String("connectionId", string(c.id)), zap.Any("panic", r))
		}
	}()

	select {
	case c.send <- data:
	default:
		logging.Warn(context.Background(), "Client send channel full or closed", zap.String("connectionId", string(c.id)))
	}
}

// readPump drains inbound frames into the room until the socket errors
// or closes, then unregisters the connection.
func (c *Client) readPump() {
	defer func() {
		c.room.HandleClientDisconnect(c)
		c.Disconnect()
		c.conn.Close()
		metrics.DecConnection()
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		// The protocol is JSON text; binary frames are ignored.
		if messageType != websocket.TextMessage {
			continue
		}
		c.room.HandleFrame(c, data)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	writeWait := 10 * time.Second

	for {
		message, ok := <-c.send
		if !ok {
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			logging.Error(context.Background(), "error writing message", zap.Error(err))
			return
		}
	}
}
