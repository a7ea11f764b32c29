package gateway

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Client is a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// sendBacklog queues retained envelopes newer than afterSeq. Runs once on
// connect, before live broadcasts interleave.
func (c *Client) sendBacklog(afterSeq int64) {
	for _, data := range c.hub.backlog.After(afterSeq) {
		select {
		case c.send <- data:
		default:
			return
		}
	}
}

func (c *Client) writePump() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if c.flush(msg) != nil {
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// flush writes first plus everything already queued as a single text
// frame, newline separated.
func (c *Client) flush(first []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	w.Write(first)
	for queued := len(c.send); queued > 0; queued-- {
		w.Write([]byte{'\n'})
		w.Write(<-c.send)
	}
	return w.Close()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Println("[gateway] ws client disconnected")
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		// Application-level ping: {"ping":<client_ts>} gets a pong with
		// the server clock so the dashboard can estimate drift.
		var in struct {
			Ping int64 `json:"ping"`
		}
		if json.Unmarshal(msg, &in) != nil || in.Ping <= 0 {
			continue
		}
		select {
		case c.send <- pongEnvelope(in.Ping):
		default:
		}
	}
}

// pongEnvelope answers an application-level ping, echoing the client's
// timestamp next to the server clock.
func pongEnvelope(clientTS int64) []byte {
	b, _ := json.Marshal(struct {
		Type     string `json:"type"`
		Ping     int64  `json:"ping"`
		ServerTS int64  `json:"server_ts"`
	}{Type: "pong", Ping: clientTS, ServerTS: time.Now().UnixMilli()})
	return b
}
