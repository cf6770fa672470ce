package models

import "encoding/json"

// Member is a connection's membership record in a room.
type Member struct {
	ConnectionID string `json:"connectionId" msgpack:"c"`
	DisplayName  string `json:"displayName" msgpack:"n"`
}

// Label is the name to show for the member; anonymous members are shown
// by connection id.
func (m Member) Label() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.ConnectionID
}

// RoomInfo is the public view of a room's roster.
type RoomInfo struct {
	ID          string   `json:"id"`
	Members     []Member `json:"members"`
	MemberCount int      `json:"memberCount"`
}

// Connected is sent to a connection right after the upgrade.
type Connected struct {
	ConnectionID string `json:"connectionId"`
}

// UserJoined is broadcast to existing members when someone joins.
type UserJoined struct {
	ConnectionID string `json:"connectionId"`
	DisplayName  string `json:"displayName"`
}

// UserLeft is broadcast to remaining members when someone leaves.
type UserLeft struct {
	ConnectionID string `json:"connectionId"`
}

// RelayedSignal is what peers receive for offer, answer, ice-candidate and
// the media-state events.
type RelayedSignal struct {
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	From      string          `json:"from"`
}

// RelayedNewFile is what peers receive for newFile.
type RelayedNewFile struct {
	File json.RawMessage `json:"file"`
	From string          `json:"from"`
}

// RelayedCodeDiff is what peers receive for codeDiff.
type RelayedCodeDiff struct {
	Filename string `json:"filename"`
	Patch    string `json:"patch"`
	From     string `json:"from"`
}

// RelayedContent is what peers receive for codeFullSync and runCode.
type RelayedContent struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
	From     string `json:"from"`
}

// RelayedChat is what peers receive for a chat line.
type RelayedChat struct {
	Username  string          `json:"username"`
	Message   string          `json:"message"`
	Timestamp json.RawMessage `json:"timestamp"`
	From      string          `json:"from"`
}
