package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mossy-p/coderoom/internal/docsync"
	"github.com/mossy-p/coderoom/internal/models"
)

// Session keeps a docsync workspace in step with one room. Document events
// are applied to the workspace; everything else is handed to the event
// handler.
type Session struct {
	client    *Client
	roomID    string
	workspace *docsync.Workspace
	interval  time.Duration
	now       func() time.Time
	onEvent   func(models.Envelope)

	// sendMu keeps updates on the wire in the order the workspace made them.
	sendMu sync.Mutex
}

type SessionOption func(*Session)

// WithTickInterval sets how often pending patches and full syncs are
// checked.
func WithTickInterval(d time.Duration) SessionOption {
	return func(s *Session) { s.interval = d }
}

// WithEventHandler receives every event that is not a document update.
func WithEventHandler(fn func(models.Envelope)) SessionOption {
	return func(s *Session) { s.onEvent = fn }
}

func NewSession(c *Client, roomID string, cfg docsync.Config, opts ...SessionOption) *Session {
	s := &Session{
		client:    c,
		roomID:    roomID,
		workspace: docsync.NewWorkspace(roomID, cfg),
		interval:  50 * time.Millisecond,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) Workspace() *docsync.Workspace { return s.workspace }

// CreateFile adds a file locally and announces it to the room.
func (s *Session) CreateFile(filename, content string) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	env, err := s.workspace.CreateFile(filename, content, 0)
	if err != nil {
		return err
	}
	return s.client.SendEnvelope(env)
}

// Edit records a local edit and sends whatever is due.
func (s *Session) Edit(filename, content string) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	envs, err := s.workspace.Edit(filename, content, s.now())
	if err != nil {
		return err
	}
	return s.sendAll(envs)
}

// Run pumps timers and incoming events until ctx is done or the connection
// closes.
func (s *Session) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			if err := s.tick(); err != nil {
				return err
			}

		case env, ok := <-s.client.Events():
			if !ok {
				return ErrClosed
			}
			s.handle(env)
		}
	}
}

func (s *Session) tick() error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	envs, err := s.workspace.Tick(s.now())
	if err != nil {
		return err
	}
	return s.sendAll(envs)
}

func (s *Session) handle(env models.Envelope) {
	var err error
	switch env.Event {
	case models.EventNewFile:
		var p models.RelayedNewFile
		if err = json.Unmarshal(env.Data, &p); err == nil {
			var f models.File
			if f, err = models.DecodeFile(p.File); err == nil {
				s.workspace.ReceiveNewFile(f)
			}
		}
	case models.EventCodeDiff:
		var p models.RelayedCodeDiff
		if err = json.Unmarshal(env.Data, &p); err == nil {
			_, err = s.workspace.ReceivePatch(p.Filename, p.Patch)
		}
	case models.EventCodeFullSync:
		var p models.RelayedContent
		if err = json.Unmarshal(env.Data, &p); err == nil {
			s.workspace.ReceiveFullSync(p.Filename, p.Content)
		}
	default:
		if s.onEvent != nil {
			s.onEvent(env)
		}
		return
	}
	if err != nil {
		s.client.logger.Debug("ignoring document event", "event", env.Event, "error", err)
	}
}

func (s *Session) sendAll(envs []models.Envelope) error {
	for _, env := range envs {
		if err := s.client.SendEnvelope(env); err != nil {
			return fmt.Errorf("send %s: %w", env.Event, err)
		}
	}
	return nil
}
