package relay

import (
	"encoding/json"
	"time"

	"github.com/mossy-p/coderoom/internal/models"
)

// RelayMessage fans a chat line out to the rest of the room. Lines without
// a username or text are dropped; a missing timestamp is set to the
// receipt time.
func (r *Relay) RelayMessage(from string, p models.ChatMessage) error {
	if err := p.Validate(); err != nil {
		return err
	}

	ts := p.Timestamp
	if len(ts) == 0 || string(ts) == "null" {
		stamp, err := json.Marshal(r.now().UTC().Format(time.RFC3339Nano))
		if err != nil {
			return err
		}
		ts = stamp
	}

	return r.forward(from, p.RoomID, models.EventReceiveMessage, models.RelayedChat{
		Username:  p.Username,
		Message:   p.Message,
		Timestamp: ts,
		From:      from,
	})
}
