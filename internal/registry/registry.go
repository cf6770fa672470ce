// Package registry tracks open transport connections and notifies
// dependents when one goes away.
package registry

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/mossy-p/coderoom/internal/models"
)

var (
	ErrEmptyConnectionID   = errors.New("connection id is empty")
	ErrDuplicateConnection = errors.New("connection id already registered")
)

// Peer is an open connection that can be handed envelopes.
// Send must not block; it reports false when the message was dropped.
type Peer interface {
	ID() string
	Send(env models.Envelope) bool
}

// Registry maps connection ids to peers.
type Registry struct {
	mu           sync.RWMutex
	peers        map[string]Peer
	onDisconnect []func(id string)
	logger       *slog.Logger
}

func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		peers:  make(map[string]Peer),
		logger: logger.With("component", "registry"),
	}
}

// OnDisconnect registers a cleanup callback. Callbacks run in
// registration order, outside the registry lock.
func (r *Registry) OnDisconnect(fn func(id string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDisconnect = append(r.onDisconnect, fn)
}

// Connect records an open connection under its transport-provided id.
func (r *Registry) Connect(p Peer) (string, error) {
	id := p.ID()
	if id == "" {
		return "", ErrEmptyConnectionID
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.peers[id]; exists {
		return "", ErrDuplicateConnection
	}
	r.peers[id] = p
	r.logger.Debug("connection registered", "conn", id, "open", len(r.peers))
	return id, nil
}

// Disconnect forgets the connection and fires the cleanup callbacks.
// Only the first call for an id has any effect.
func (r *Registry) Disconnect(id string) {
	r.mu.Lock()
	if _, exists := r.peers[id]; !exists {
		r.mu.Unlock()
		return
	}
	delete(r.peers, id)
	callbacks := append([]func(string){}, r.onDisconnect...)
	open := len(r.peers)
	r.mu.Unlock()

	r.logger.Debug("connection unregistered", "conn", id, "open", open)
	for _, fn := range callbacks {
		fn(id)
	}
}

// Lookup returns the peer for id.
func (r *Registry) Lookup(id string) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	return p, ok
}

// Count returns the number of open connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
