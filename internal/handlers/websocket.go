package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/coderoom/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 1 << 20
	sendQueueSize  = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// Client is one websocket connection. It implements registry.Peer.
type Client struct {
	id          string
	displayName string
	conn        *websocket.Conn
	send        chan []byte
	done        chan struct{}
	closeOnce   sync.Once
	logger      *slog.Logger
}

func (c *Client) ID() string { return c.id }

// Send queues env for the write pump. It never blocks: a full queue or a
// closed connection drops the message.
func (c *Client) Send(env models.Envelope) bool {
	data, err := json.Marshal(env)
	if err != nil {
		c.logger.Error("failed to marshal message", "event", env.Event, "error", err)
		return false
	}

	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close stops the write pump, which sends a close frame and closes the
// socket.
func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// HandleWebSocket upgrades the request and runs the connection until the
// peer goes away. The optional displayName query parameter is used for
// joinRoom events that carry no name of their own.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade connection", "error", err)
		return
	}

	// Generate unique peer ID
	peerID := uuid.NewString()
	client := &Client{
		id:          peerID,
		displayName: c.Query("displayName"),
		conn:        conn,
		send:        make(chan []byte, sendQueueSize),
		done:        make(chan struct{}),
		logger:      h.logger.With("conn", peerID),
	}

	if _, err := h.registry.Connect(client); err != nil {
		h.logger.Error("failed to register connection", "conn", peerID, "error", err)
		conn.Close()
		return
	}

	// Send connection confirmation
	if env, err := models.NewEnvelope(models.EventConnected, models.Connected{ConnectionID: peerID}); err == nil {
		client.Send(env)
	}

	// Start goroutines for reading and writing
	go client.writePump()
	go h.readPump(client)
}

func (h *Handler) readPump(c *Client) {
	defer func() {
		h.registry.Disconnect(c.id)
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket error", "error", err)
			}
			return
		}

		// Parse message
		var env models.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.logger.Debug("dropping unparsable frame", "error", err)
			continue
		}
		if env.Event == models.EventJoinRoom && c.displayName != "" {
			env = withDefaultName(env, c.displayName)
		}

		if err := h.relay.Dispatch(c.id, env); err != nil {
			c.logger.Debug("dropped event", "event", env.Event, "error", err)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// withDefaultName fills the display name of a joinRoom envelope that has
// none. Anything it cannot decode is passed through for Dispatch to reject.
func withDefaultName(env models.Envelope, name string) models.Envelope {
	var join models.JoinRoom
	if err := json.Unmarshal(env.Data, &join); err != nil || join.DisplayName != "" {
		return env
	}
	join.DisplayName = name
	named, err := models.NewEnvelope(env.Event, join)
	if err != nil {
		return env
	}
	return named
}
