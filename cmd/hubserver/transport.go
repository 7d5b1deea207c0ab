package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/adred-codev/hublifetime/internal/lifetime"
)

// Demonstration-only transport: a gorilla/websocket connection carrying
// JSON-framed invocation messages to a browser client, authenticated by
// a JWT on the upgrade request. None of this is imported by
// internal/lifetime — it is purely a Connection implementation.

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// outboundFrame is the wire shape a browser client receives. It is
// intentionally simpler than the inter-server CBOR envelope: a
// demonstration client only needs JSON.
type outboundFrame struct {
	InvocationID uint64        `json:"invocationId"`
	Target       string        `json:"target"`
	Arguments    []interface{} `json:"arguments"`
}

// wsConn bridges a gorilla/websocket.Conn into lifetime.Connection.
type wsConn struct {
	id     string
	userID string
	conn   *websocket.Conn
	send   chan []byte
	logger zerolog.Logger
}

func newWSConn(id, userID string, conn *websocket.Conn, logger zerolog.Logger) *wsConn {
	return &wsConn{
		id:     id,
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		logger: logger,
	}
}

func (c *wsConn) ID() string     { return c.id }
func (c *wsConn) UserID() string { return c.userID }

// Write serializes msg and enqueues it for the write pump. A full send
// buffer means this connection is not draining fast enough; treated as
// a write failure so the caller's fan-out logs and moves on.
func (c *wsConn) Write(_ context.Context, msg lifetime.InvocationMessage) error {
	data, err := json.Marshal(outboundFrame{
		InvocationID: msg.InvocationID,
		Target:       msg.Target,
		Arguments:    msg.Arguments,
	})
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

var errSendBufferFull = &transportError{"wsConn: send buffer full"}

type transportError struct{ msg string }

func (e *transportError) Error() string { return e.msg }

// writePump drains c.send to the socket and keeps the connection alive
// with periodic pings. Grounded on go-server's pkg/websocket Client
// write loop (writeWait/pongWait/pingPeriod deadlines).
func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

// readPump discards application-level frames (this demonstration
// transport only needs to detect disconnects and keep pongs flowing)
// and calls onClose once the socket goes away.
func (c *wsConn) readPump(onClose func()) {
	defer onClose()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
