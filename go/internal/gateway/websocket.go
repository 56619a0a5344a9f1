package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// clientMessage is what a socket surface may send.
type clientMessage struct {
	Type    string `json:"type"`
	EventID string `json:"eventId,omitempty"`
}

type serverReply struct {
	Type      string    `json:"type"`
	EventID   string    `json:"eventId,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// UpgradeConnection upgrades an HTTP connection to a socket surface. A
// non-nil eventID joins that room right away.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, eventID uuid.UUID) error {
	ws, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	conn := cm.NewConnection(TransportSocket)
	sc := &socketConn{Connection: conn, ws: ws, manager: cm}

	go sc.writePump()
	go sc.readPump()

	if eventID != uuid.Nil {
		cm.Join(conn, eventID)
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("event_id", eventID.String()).
		Str("remote_addr", r.RemoteAddr).
		Msg("socket connection established")
	return nil
}

type socketConn struct {
	*Connection
	ws      *websocket.Conn
	manager *ConnectionManager
}

// writePump is the only writer of ws.
func (c *socketConn) writePump() {
	ticker := c.manager.clock.NewTicker(c.manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
		c.manager.Drop(c.Connection)
	}()

	for {
		select {
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case message := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write to socket")
				return
			}

		case <-ticker.Chan():
			c.ws.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

func (c *socketConn) readPump() {
	defer func() {
		c.manager.Drop(c.Connection)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(c.manager.config.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Warn().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected socket close")
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
		c.handleClientMessage(message)
	}
}

func (c *socketConn) handleClientMessage(message []byte) {
	var msg clientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.reply(serverReply{Type: "error", Error: "malformed message"})
		return
	}

	switch msg.Type {
	case "join":
		eventID, err := uuid.Parse(msg.EventID)
		if err != nil {
			c.reply(serverReply{Type: "error", Error: "invalid eventId"})
			return
		}
		c.manager.Join(c.Connection, eventID)
		c.reply(serverReply{Type: "joined", EventID: eventID.String()})
	case "leave":
		c.manager.Leave(c.Connection)
		c.reply(serverReply{Type: "left"})
	case "ping":
		c.reply(serverReply{Type: "pong"})
	default:
		log.Debug().
			Str("connection_id", c.ID).
			Str("type", msg.Type).
			Msg("ignoring unknown client message")
	}
}

func (c *socketConn) reply(r serverReply) {
	r.Timestamp = c.manager.clock.Now()
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	if !c.trySend(data) {
		c.manager.Drop(c.Connection)
	}
}
