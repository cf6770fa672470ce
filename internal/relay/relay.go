// Package relay routes client events to the other members of a room.
// Nothing is queued, retried or interpreted: a message reaches whoever is
// in the room at the moment it is handled.
package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mossy-p/coderoom/internal/models"
	"github.com/mossy-p/coderoom/internal/rooms"
)

// ErrNotMember is returned when a connection relays into a room it has not
// joined.
var ErrNotMember = errors.New("sender is not a member of the room")

// Relay dispatches inbound events for connections.
type Relay struct {
	dir    *rooms.Directory
	logger *slog.Logger
	now    func() time.Time
}

func New(dir *rooms.Directory, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		dir:    dir,
		logger: logger.With("component", "relay"),
		now:    time.Now,
	}
}

// Dispatch validates env and hands it to the matching operation. The
// returned error is for logging; the event has already been dropped.
func (r *Relay) Dispatch(from string, env models.Envelope) error {
	payload, err := models.Parse(env)
	if err != nil {
		return err
	}

	switch p := payload.(type) {
	case *models.JoinRoom:
		return r.dir.Join(p.RoomID, from, p.DisplayName)
	case *models.RoomRef:
		switch env.Event {
		case models.EventLeaveRoom:
			r.dir.Leave(p.RoomID, from)
			return nil
		case models.EventCallEnded:
			return r.RelayCallEnded(from, p.RoomID)
		default:
			return r.RelayMediaState(from, p.RoomID, env.Event)
		}
	case *models.SessionDescription:
		if env.Event == models.EventOffer {
			return r.RelayOffer(from, *p)
		}
		return r.RelayAnswer(from, *p)
	case *models.ICECandidate:
		return r.RelayIceCandidate(from, *p)
	case *models.NewFile:
		return r.RelayNewFile(from, *p)
	case *models.CodeDiff:
		return r.RelayCodeDiff(from, *p)
	case *models.CodeFullSync:
		if env.Event == models.EventRunCode {
			return r.RelayRunCode(from, *p)
		}
		return r.RelayCodeFullSync(from, *p)
	case *models.ChatMessage:
		return r.RelayMessage(from, *p)
	}
	return fmt.Errorf("%w: %q", models.ErrUnknownEvent, env.Event)
}

// forward sends payload as event to every member of roomID except from.
func (r *Relay) forward(from, roomID string, event models.EventType, payload any) error {
	if !r.dir.IsMember(roomID, from) {
		return fmt.Errorf("%s in %q: %w", event, roomID, ErrNotMember)
	}
	env, err := models.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	n := r.dir.Broadcast(roomID, from, env)
	r.logger.Debug("relayed", "event", event, "room", roomID, "from", from, "recipients", n)
	return nil
}
