package relay

import (
	"fmt"

	"github.com/mossy-p/coderoom/internal/models"
)

// RelayOffer forwards an SDP offer to the other members of the room.
func (r *Relay) RelayOffer(from string, p models.SessionDescription) error {
	return r.forward(from, p.RoomID, models.EventOffer, models.RelayedSignal{SDP: p.SDP, From: from})
}

// RelayAnswer forwards an SDP answer to the other members of the room.
func (r *Relay) RelayAnswer(from string, p models.SessionDescription) error {
	return r.forward(from, p.RoomID, models.EventAnswer, models.RelayedSignal{SDP: p.SDP, From: from})
}

// RelayIceCandidate forwards a trickled ICE candidate.
func (r *Relay) RelayIceCandidate(from string, p models.ICECandidate) error {
	return r.forward(from, p.RoomID, models.EventICECandidate, models.RelayedSignal{Candidate: p.Candidate, From: from})
}

// RelayMediaState forwards a camera or microphone toggle. Receivers treat
// a repeated state as already applied.
func (r *Relay) RelayMediaState(from, roomID string, kind models.EventType) error {
	switch kind {
	case models.EventCameraOn, models.EventCameraOff, models.EventMicrophoneOn, models.EventMicrophoneOff:
	default:
		return fmt.Errorf("%w: %q is not a media state", models.ErrUnknownEvent, kind)
	}
	return r.forward(from, roomID, kind, models.RelayedSignal{From: from})
}

// RelayCallEnded tells the other members to tear down their peer
// connection with the sender. The server keeps no call state, so a new
// offer may follow at any time.
func (r *Relay) RelayCallEnded(from, roomID string) error {
	return r.forward(from, roomID, models.EventCallEnded, models.RelayedSignal{From: from})
}
