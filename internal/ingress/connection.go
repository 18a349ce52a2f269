package ingress

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// connection serializes writes; gorilla connections allow one concurrent writer
type connection struct {
	ws *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func newConnection(ws *websocket.Conn) *connection {
	return &connection{ws: ws}
}

func (c *connection) writeBinary(data []byte) error {
	return c.write(websocket.BinaryMessage, data)
}

func (c *connection) writeEvent(ev ServerEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, data)
}

func (c *connection) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(messageType, data)
}

// close sends a close frame with reason and closes the socket once
func (c *connection) close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	_ = c.ws.Close()
}
