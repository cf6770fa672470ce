// Package client is a Go client for the room socket: it joins rooms, sends
// and receives relayed events and keeps a docsync workspace in step with
// the other members.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mossy-p/coderoom/internal/models"
	"github.com/pion/webrtc/v4"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	queueSize      = 64
)

var (
	ErrClosed          = errors.New("client closed")
	ErrNoHandshake     = errors.New("server did not confirm the connection")
	ErrUnexpectedEvent = errors.New("unexpected event")
)

// Client manages one websocket connection to the relay.
type Client struct {
	id       string
	conn     *websocket.Conn
	incoming chan models.Envelope
	outgoing chan models.Envelope
	done     chan struct{}
	once     sync.Once
	logger   *slog.Logger
}

// Dial connects to serverURL (ws:// or wss://, path included) and waits
// for the server to announce the connection id.
func Dial(ctx context.Context, serverURL, displayName string, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if displayName != "" {
		q := u.Query()
		q.Set("displayName", displayName)
		u.RawQuery = q.Encode()
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)

	id, err := handshake(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	c := &Client{
		id:       id,
		conn:     conn,
		incoming: make(chan models.Envelope, queueSize),
		outgoing: make(chan models.Envelope, queueSize),
		done:     make(chan struct{}),
		logger:   logger.With("component", "client", "conn", id),
	}
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()
	return c, nil
}

func handshake(ctx context.Context, conn *websocket.Conn) (string, error) {
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)

	var env models.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoHandshake, err)
	}
	if env.Event != models.EventConnected {
		return "", fmt.Errorf("%w: got %s", ErrNoHandshake, env.Event)
	}
	var connected models.Connected
	if err := json.Unmarshal(env.Data, &connected); err != nil || connected.ConnectionID == "" {
		return "", fmt.Errorf("%w: bad connected payload", ErrNoHandshake)
	}
	return connected.ConnectionID, nil
}

// ID is the connection id the server assigned.
func (c *Client) ID() string { return c.id }

// Events delivers every envelope the server sends. It is closed when the
// connection ends.
func (c *Client) Events() <-chan models.Envelope { return c.incoming }

func (c *Client) readPump() {
	defer func() {
		close(c.incoming)
		c.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		var env models.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("read failed", "error", err)
			}
			return
		}
		select {
		case c.incoming <- env:
		case <-c.done:
			return
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
		case env := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				c.logger.Debug("write failed", "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// SendEnvelope queues env for sending. It blocks while the queue is full.
func (c *Client) SendEnvelope(env models.Envelope) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.outgoing <- env:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Send marshals payload and queues it as event.
func (c *Client) Send(event models.EventType, payload any) error {
	env, err := models.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	return c.SendEnvelope(env)
}

func (c *Client) Join(roomID, displayName string) error {
	return c.Send(models.EventJoinRoom, models.JoinRoom{RoomID: roomID, DisplayName: displayName})
}

func (c *Client) Leave(roomID string) error {
	return c.Send(models.EventLeaveRoom, models.RoomRef{RoomID: roomID})
}

// Chat sends a chat line; the server stamps it with the receipt time.
func (c *Client) Chat(roomID, username, message string) error {
	return c.Send(models.EventSendMessage, models.ChatMessage{RoomID: roomID, Username: username, Message: message})
}

// SendOffer relays a local offer to the room.
func (c *Client) SendOffer(roomID string, sd webrtc.SessionDescription) error {
	return c.sendDescription(models.EventOffer, roomID, sd)
}

// SendAnswer relays a local answer to the room.
func (c *Client) SendAnswer(roomID string, sd webrtc.SessionDescription) error {
	return c.sendDescription(models.EventAnswer, roomID, sd)
}

func (c *Client) sendDescription(event models.EventType, roomID string, sd webrtc.SessionDescription) error {
	raw, err := json.Marshal(sd)
	if err != nil {
		return fmt.Errorf("marshal session description: %w", err)
	}
	return c.Send(event, models.SessionDescription{RoomID: roomID, SDP: raw})
}

// SendCandidate relays a trickled ICE candidate.
func (c *Client) SendCandidate(roomID string, candidate webrtc.ICECandidateInit) error {
	raw, err := json.Marshal(candidate)
	if err != nil {
		return fmt.Errorf("marshal candidate: %w", err)
	}
	return c.Send(models.EventICECandidate, models.ICECandidate{RoomID: roomID, Candidate: raw})
}

// SetMedia announces a camera or microphone toggle.
func (c *Client) SetMedia(roomID string, event models.EventType) error {
	return c.Send(event, models.RoomRef{RoomID: roomID})
}

func (c *Client) EndCall(roomID string) error {
	return c.Send(models.EventCallEnded, models.RoomRef{RoomID: roomID})
}

// Close ends the connection. It is safe to call more than once.
func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
}

// DecodeSessionDescription extracts the offer or answer from a relayed
// signal along with its sender.
func DecodeSessionDescription(env models.Envelope) (webrtc.SessionDescription, string, error) {
	if env.Event != models.EventOffer && env.Event != models.EventAnswer {
		return webrtc.SessionDescription{}, "", fmt.Errorf("%w: %s", ErrUnexpectedEvent, env.Event)
	}
	var sig models.RelayedSignal
	if err := json.Unmarshal(env.Data, &sig); err != nil {
		return webrtc.SessionDescription{}, "", fmt.Errorf("decode %s: %w", env.Event, err)
	}
	var sd webrtc.SessionDescription
	if err := json.Unmarshal(sig.SDP, &sd); err != nil {
		return webrtc.SessionDescription{}, "", fmt.Errorf("decode sdp: %w", err)
	}
	return sd, sig.From, nil
}

// DecodeCandidate extracts a trickled ICE candidate and its sender.
func DecodeCandidate(env models.Envelope) (webrtc.ICECandidateInit, string, error) {
	if env.Event != models.EventICECandidate {
		return webrtc.ICECandidateInit{}, "", fmt.Errorf("%w: %s", ErrUnexpectedEvent, env.Event)
	}
	var sig models.RelayedSignal
	if err := json.Unmarshal(env.Data, &sig); err != nil {
		return webrtc.ICECandidateInit{}, "", fmt.Errorf("decode candidate: %w", err)
	}
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(sig.Candidate, &candidate); err != nil {
		return webrtc.ICECandidateInit{}, "", fmt.Errorf("decode candidate: %w", err)
	}
	return candidate, sig.From, nil
}
