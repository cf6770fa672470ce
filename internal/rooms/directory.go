// Package rooms keeps the room to member mapping and implements the
// not-to-self fan-out every relay uses.
package rooms

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mossy-p/coderoom/internal/models"
	"github.com/mossy-p/coderoom/internal/registry"
)

var (
	ErrEmptyRoomID       = errors.New("room id is empty")
	ErrEmptyConnectionID = errors.New("connection id is empty")
	ErrUnknownConnection = errors.New("connection is not registered")
)

const mirrorTimeout = 2 * time.Second

// PresenceMirror receives membership changes after they are applied in
// memory. It is never consulted for routing.
type PresenceMirror interface {
	Joined(ctx context.Context, roomID string, m models.Member) error
	Left(ctx context.Context, roomID, connectionID string) error
}

type room struct {
	id      string
	mu      sync.RWMutex
	members map[string]models.Member
}

// Directory maps room ids to their members.
type Directory struct {
	reg    *registry.Registry
	mirror PresenceMirror
	logger *slog.Logger

	mu    sync.RWMutex
	rooms map[string]*room
	// joined indexes connection id -> room ids for disconnect cleanup.
	joined map[string]map[string]struct{}
}

type Option func(*Directory)

// WithPresenceMirror mirrors membership changes to m.
func WithPresenceMirror(m PresenceMirror) Option {
	return func(d *Directory) { d.mirror = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Directory) { d.logger = l }
}

// NewDirectory creates a directory that resolves recipients through reg and
// drops a connection from all of its rooms when reg reports it gone.
func NewDirectory(reg *registry.Registry, opts ...Option) *Directory {
	d := &Directory{
		reg:    reg,
		logger: slog.Default(),
		rooms:  make(map[string]*room),
		joined: make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "rooms")
	reg.OnDisconnect(d.removeConnection)
	return d
}

// Join adds connID to roomID and tells the other members. Joining a room
// twice keeps a single membership but announces again.
func (d *Directory) Join(roomID, connID, displayName string) error {
	if roomID == "" {
		return ErrEmptyRoomID
	}
	if connID == "" {
		return ErrEmptyConnectionID
	}
	if _, ok := d.reg.Lookup(connID); !ok {
		return ErrUnknownConnection
	}

	member := models.Member{ConnectionID: connID, DisplayName: displayName}

	d.mu.Lock()
	r, exists := d.rooms[roomID]
	if !exists {
		r = &room{id: roomID, members: make(map[string]models.Member)}
		d.rooms[roomID] = r
		d.logger.Info("room created", "room", roomID)
	}
	r.mu.Lock()
	recipients := d.peersLocked(r, connID)
	r.members[connID] = member
	size := len(r.members)
	r.mu.Unlock()
	if d.joined[connID] == nil {
		d.joined[connID] = make(map[string]struct{})
	}
	d.joined[connID][roomID] = struct{}{}
	d.mu.Unlock()

	d.logger.Info("member joined", "room", roomID, "conn", connID, "name", member.Label(), "members", size)

	env, err := models.NewEnvelope(models.EventUserJoined, models.UserJoined{
		ConnectionID: connID,
		DisplayName:  displayName,
	})
	if err == nil {
		d.deliver(roomID, recipients, env)
	}
	d.mirrorJoined(roomID, member)
	return nil
}

// Leave removes connID from roomID and tells the remaining members.
// Leaving a room one is not in does nothing.
func (d *Directory) Leave(roomID, connID string) {
	d.mu.Lock()
	recipients, removed := d.removeLocked(roomID, connID)
	if removed {
		if rooms := d.joined[connID]; rooms != nil {
			delete(rooms, roomID)
			if len(rooms) == 0 {
				delete(d.joined, connID)
			}
		}
	}
	d.mu.Unlock()

	if removed {
		d.announceLeft(roomID, connID, recipients)
	}
}

func (d *Directory) removeConnection(connID string) {
	d.mu.Lock()
	rooms := d.joined[connID]
	delete(d.joined, connID)
	left := make(map[string][]registry.Peer, len(rooms))
	for roomID := range rooms {
		if recipients, removed := d.removeLocked(roomID, connID); removed {
			left[roomID] = recipients
		}
	}
	d.mu.Unlock()

	for roomID, recipients := range left {
		d.announceLeft(roomID, connID, recipients)
	}
}

// removeLocked drops the membership and garbage-collects an empty room.
// It returns the peers still in the room. d.mu must be held.
func (d *Directory) removeLocked(roomID, connID string) ([]registry.Peer, bool) {
	r, ok := d.rooms[roomID]
	if !ok {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, member := r.members[connID]; !member {
		return nil, false
	}
	delete(r.members, connID)
	if len(r.members) == 0 {
		delete(d.rooms, roomID)
		d.logger.Info("room removed", "room", roomID)
		return nil, true
	}
	return d.peersLocked(r, connID), true
}

func (d *Directory) announceLeft(roomID, connID string, recipients []registry.Peer) {
	d.logger.Info("member left", "room", roomID, "conn", connID)
	env, err := models.NewEnvelope(models.EventUserLeft, models.UserLeft{ConnectionID: connID})
	if err == nil {
		d.deliver(roomID, recipients, env)
	}
	d.mirrorLeft(roomID, connID)
}

// peersLocked resolves the open peers of r except exclude. r.mu must be held.
func (d *Directory) peersLocked(r *room, exclude string) []registry.Peer {
	peers := make([]registry.Peer, 0, len(r.members))
	for id := range r.members {
		if id == exclude {
			continue
		}
		if p, ok := d.reg.Lookup(id); ok {
			peers = append(peers, p)
		}
	}
	return peers
}

func (d *Directory) lookup(roomID string) *room {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rooms[roomID]
}

// Broadcast sends env to every member of roomID except exclude and
// returns how many accepted it.
func (d *Directory) Broadcast(roomID, exclude string, env models.Envelope) int {
	r := d.lookup(roomID)
	if r == nil {
		return 0
	}
	r.mu.RLock()
	recipients := d.peersLocked(r, exclude)
	r.mu.RUnlock()
	return d.deliver(roomID, recipients, env)
}

func (d *Directory) deliver(roomID string, recipients []registry.Peer, env models.Envelope) int {
	delivered := 0
	for _, p := range recipients {
		if p.Send(env) {
			delivered++
			continue
		}
		d.logger.Warn("dropped message, send buffer full", "room", roomID, "conn", p.ID(), "event", env.Event)
	}
	return delivered
}

// MembersOf lists the members of roomID except exclude, ordered by
// connection id.
func (d *Directory) MembersOf(roomID, exclude string) []models.Member {
	r := d.lookup(roomID)
	if r == nil {
		return nil
	}
	r.mu.RLock()
	members := make([]models.Member, 0, len(r.members))
	for id, m := range r.members {
		if id != exclude {
			members = append(members, m)
		}
	}
	r.mu.RUnlock()

	sort.Slice(members, func(i, j int) bool {
		return members[i].ConnectionID < members[j].ConnectionID
	})
	return members
}

// IsMember reports whether connID is in roomID.
func (d *Directory) IsMember(roomID, connID string) bool {
	r := d.lookup(roomID)
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[connID]
	return ok
}

// RoomsOf lists the rooms connID is in, sorted.
func (d *Directory) RoomsOf(connID string) []string {
	d.mu.RLock()
	ids := make([]string, 0, len(d.joined[connID]))
	for id := range d.joined[connID] {
		ids = append(ids, id)
	}
	d.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Room returns the roster of roomID; ok is false for unknown or empty rooms.
func (d *Directory) Room(roomID string) (models.RoomInfo, bool) {
	members := d.MembersOf(roomID, "")
	if len(members) == 0 {
		return models.RoomInfo{}, false
	}
	return models.RoomInfo{ID: roomID, Members: members, MemberCount: len(members)}, true
}

// RoomCount returns the number of non-empty rooms.
func (d *Directory) RoomCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rooms)
}

func (d *Directory) mirrorJoined(roomID string, m models.Member) {
	if d.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := d.mirror.Joined(ctx, roomID, m); err != nil {
		d.logger.Warn("presence mirror join failed", "room", roomID, "conn", m.ConnectionID, "error", err)
	}
}

func (d *Directory) mirrorLeft(roomID, connID string) {
	if d.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := d.mirror.Left(ctx, roomID, connID); err != nil {
		d.logger.Warn("presence mirror leave failed", "room", roomID, "conn", connID, "error", err)
	}
}
