package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/straub/table/internal/protocol"
	"github.com/straub/table/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 120 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 << 10
)

// conn adapts a websocket connection to session.Conn. Writes are serialized by mu; the
// hub's pump is the only regular writer, pings go through WriteControl.
type conn struct {
	ws   *websocket.Conn
	mu   sync.Mutex
	once sync.Once
	done chan struct{}
}

func newConn(ws *websocket.Conn) *conn {
	return &conn{ws: ws, done: make(chan struct{})}
}

func (c *conn) Send(msg protocol.Outbound) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		err = c.ws.Close()
	})
	return err
}

// keepAlive pings until the connection closes.
func (c *conn) keepAlive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

var _ session.Conn = (*conn)(nil)
