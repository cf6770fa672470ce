package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// EventType names a message carried over the room socket.
type EventType string

const (
	// Client to server.
	EventJoinRoom    EventType = "joinRoom"
	EventLeaveRoom   EventType = "leaveRoom"
	EventSendMessage EventType = "sendMessage"

	// Relayed client to server to peers.
	EventOffer         EventType = "offer"
	EventAnswer        EventType = "answer"
	EventICECandidate  EventType = "ice-candidate"
	EventCameraOn      EventType = "camera-on"
	EventCameraOff     EventType = "camera-off"
	EventMicrophoneOn  EventType = "microphone-on"
	EventMicrophoneOff EventType = "microphone-off"
	EventCallEnded     EventType = "call-ended"
	EventNewFile       EventType = "newFile"
	EventCodeDiff      EventType = "codeDiff"
	EventCodeFullSync  EventType = "codeFullSync"
	EventRunCode       EventType = "runCode"

	// Server to client.
	EventConnected      EventType = "connected"
	EventUserJoined     EventType = "user-joined"
	EventUserLeft       EventType = "user-left"
	EventReceiveMessage EventType = "receiveMessage"
)

var (
	ErrUnknownEvent     = errors.New("unknown event")
	ErrMissingRoomID    = errors.New("roomId is required")
	ErrMissingSDP       = errors.New("sdp is required")
	ErrMissingCandidate = errors.New("candidate is required")
	ErrMissingFilename  = errors.New("filename is required")
	ErrMissingPatch     = errors.New("patch is required")
	ErrMissingUsername  = errors.New("username is required")
	ErrMissingMessage   = errors.New("message is required")
)

// Envelope is the frame exchanged over the websocket.
type Envelope struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into the data field of an envelope.
func NewEnvelope(event EventType, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return Envelope{Event: event, Data: data}, nil
}

// Payload is implemented by every client-originated event body.
type Payload interface {
	Room() string
	Validate() error
}

// RoomRef is the body of events that carry nothing but the room, such as
// the media-state toggles, call-ended and leaveRoom.
type RoomRef struct {
	RoomID string `json:"roomId"`
}

func (p RoomRef) Room() string { return p.RoomID }

func (p RoomRef) Validate() error {
	if p.RoomID == "" {
		return ErrMissingRoomID
	}
	return nil
}

// JoinRoom announces a room and display name for the connection.
type JoinRoom struct {
	RoomID      string `json:"roomId"`
	DisplayName string `json:"displayName"`
}

func (p JoinRoom) Room() string { return p.RoomID }

func (p JoinRoom) Validate() error {
	if p.RoomID == "" {
		return ErrMissingRoomID
	}
	return nil
}

// SessionDescription carries an SDP offer or answer. The sdp value is
// forwarded untouched.
type SessionDescription struct {
	RoomID string          `json:"roomId"`
	SDP    json.RawMessage `json:"sdp"`
}

func (p SessionDescription) Room() string { return p.RoomID }

func (p SessionDescription) Validate() error {
	if p.RoomID == "" {
		return ErrMissingRoomID
	}
	if isEmptyJSON(p.SDP) {
		return ErrMissingSDP
	}
	return nil
}

// ICECandidate carries a trickled ICE candidate.
type ICECandidate struct {
	RoomID    string          `json:"roomId"`
	Candidate json.RawMessage `json:"candidate"`
}

func (p ICECandidate) Room() string { return p.RoomID }

func (p ICECandidate) Validate() error {
	if p.RoomID == "" {
		return ErrMissingRoomID
	}
	if isEmptyJSON(p.Candidate) {
		return ErrMissingCandidate
	}
	return nil
}

// File is a document announced to the room. LanguageTag is whatever the
// creator sent: a Judge0 id, or a name such as "javascript".
type File struct {
	Filename    string          `json:"filename"`
	Content     string          `json:"content"`
	LanguageTag json.RawMessage `json:"languageTag,omitempty"`
}

// LanguageID returns the tag as a Judge0 language id when it is numeric.
func (f File) LanguageID() (int, bool) {
	var id int
	if len(f.LanguageTag) == 0 || json.Unmarshal(f.LanguageTag, &id) != nil {
		return 0, false
	}
	return id, true
}

// NumericTag encodes a Judge0 language id as a language tag.
func NumericTag(id int) json.RawMessage {
	return json.RawMessage(strconv.Itoa(id))
}

// DecodeFile reads the typed view of a relayed file object.
func DecodeFile(raw json.RawMessage) (File, error) {
	var f File
	if err := json.Unmarshal(raw, &f); err != nil {
		return File{}, fmt.Errorf("decode file: %w", err)
	}
	return f, nil
}

// NewFile announces a file created locally. The file object is forwarded
// as sent; only its filename is checked.
type NewFile struct {
	RoomID string          `json:"roomId"`
	File   json.RawMessage `json:"file"`
}

func (p NewFile) Room() string { return p.RoomID }

func (p NewFile) Validate() error {
	if p.RoomID == "" {
		return ErrMissingRoomID
	}
	if isEmptyJSON(p.File) {
		return ErrMissingFilename
	}
	var head struct {
		Filename string `json:"filename"`
	}
	if err := json.Unmarshal(p.File, &head); err != nil {
		return fmt.Errorf("decode file: %w", err)
	}
	if head.Filename == "" {
		return ErrMissingFilename
	}
	return nil
}

// CodeDiff is an incremental patch for one file.
type CodeDiff struct {
	RoomID   string `json:"roomId"`
	Filename string `json:"filename"`
	Patch    string `json:"patch"`
}

func (p CodeDiff) Room() string { return p.RoomID }

func (p CodeDiff) Validate() error {
	if p.RoomID == "" {
		return ErrMissingRoomID
	}
	if p.Filename == "" {
		return ErrMissingFilename
	}
	if p.Patch == "" {
		return ErrMissingPatch
	}
	return nil
}

// CodeFullSync is an authoritative snapshot of one file. It is also the
// body of runCode broadcasts.
type CodeFullSync struct {
	RoomID   string `json:"roomId"`
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

func (p CodeFullSync) Room() string { return p.RoomID }

func (p CodeFullSync) Validate() error {
	if p.RoomID == "" {
		return ErrMissingRoomID
	}
	if p.Filename == "" {
		return ErrMissingFilename
	}
	return nil
}

// ChatMessage is a chat line. Timestamp is whatever the sender supplied.
type ChatMessage struct {
	RoomID    string          `json:"roomId"`
	Username  string          `json:"username"`
	Message   string          `json:"message"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

func (p ChatMessage) Room() string { return p.RoomID }

func (p ChatMessage) Validate() error {
	if p.RoomID == "" {
		return ErrMissingRoomID
	}
	if p.Username == "" {
		return ErrMissingUsername
	}
	if p.Message == "" {
		return ErrMissingMessage
	}
	return nil
}

// Parse decodes the data of a client-originated envelope into its typed
// payload and validates it.
func Parse(env Envelope) (Payload, error) {
	var p Payload
	switch env.Event {
	case EventJoinRoom:
		p = &JoinRoom{}
	case EventLeaveRoom, EventCameraOn, EventCameraOff, EventMicrophoneOn, EventMicrophoneOff, EventCallEnded:
		p = &RoomRef{}
	case EventOffer, EventAnswer:
		p = &SessionDescription{}
	case EventICECandidate:
		p = &ICECandidate{}
	case EventNewFile:
		p = &NewFile{}
	case EventCodeDiff:
		p = &CodeDiff{}
	case EventCodeFullSync, EventRunCode:
		p = &CodeFullSync{}
	case EventSendMessage:
		p = &ChatMessage{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}

	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", env.Event, err)
	}
	return p, nil
}

func isEmptyJSON(raw json.RawMessage) bool {
	s := string(raw)
	return s == "" || s == "null" || s == `""` || s == "{}"
}
