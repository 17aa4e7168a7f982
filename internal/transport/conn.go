package transport

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/buildbridge/internal/dispatch"
)

// WebSocket timeout constants, grounded on the example pack's established
// gorilla/websocket practice (teranos-QNTX/server/client.go): write
// deadline per frame, pong-extended read deadline, ping cadence shorter
// than the read deadline.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// Conn binds one websocket connection to one dispatch.Client. readPump
// turns incoming frames into ServerRequest submissions; writePump drains
// the Client's event and reply channels onto the wire.
type Conn struct {
	ws       *websocket.Conn
	client   *dispatch.Client
	requests *dispatch.RequestQueue
	log      *slog.Logger
	onClose  func(*Conn)
}

func newConn(ws *websocket.Conn, client *dispatch.Client, requests *dispatch.RequestQueue, log *slog.Logger, onClose func(*Conn)) *Conn {
	return &Conn{ws: ws, client: client, requests: requests, log: log, onClose: onClose}
}

// Client returns the dispatch.Client handle backing this connection,
// matching pointer identity to whatever the Reader registered.
func (c *Conn) Client() *dispatch.Client { return c.client }

func (c *Conn) readPump() {
	defer func() {
		if c.onClose != nil {
			c.onClose(c)
		}
		c.requests.Enqueue(dispatch.ServerRequest{Client: c.client, Request: dispatch.ClientClosed{}})
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Warn("websocket read error", "client", c.client.ID(), "error", err)
			}
			return
		}

		var wr wireRequest
		if err := json.Unmarshal(data, &wr); err != nil {
			c.log.Warn("malformed request", "client", c.client.ID(), "error", err)
			continue
		}
		req, err := decodeRequest(wr)
		if err != nil {
			c.client.Reply(wr.Serial, dispatch.ErrorResponse{Message: err.Error()})
			continue
		}
		if err := c.requests.Enqueue(dispatch.ServerRequest{Client: c.client, Serial: wr.Serial, Request: req}); err != nil {
			c.client.Reply(wr.Serial, dispatch.ErrorResponse{Message: err.Error()})
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case ev, ok := <-c.client.Events():
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := marshalEvent(ev)
			if err != nil {
				c.log.Error("marshal event", "error", err)
				continue
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case reply, ok := <-c.client.Replies():
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				return
			}
			data, err := marshalReply(reply)
			if err != nil {
				c.log.Error("marshal reply", "error", err)
				continue
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
