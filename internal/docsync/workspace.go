package docsync

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mossy-p/coderoom/internal/judge"
	"github.com/mossy-p/coderoom/internal/models"
)

// RemoteHook shows a remote change in the editor. Edits it triggers are
// suppressed.
type RemoteHook func(filename, content string)

// Workspace is the set of files a client shares in one room, keyed by
// filename.
type Workspace struct {
	roomID string
	cfg    Config

	mu       sync.Mutex
	files    map[string]*FileSync
	onRemote RemoteHook
}

func NewWorkspace(roomID string, cfg Config) *Workspace {
	return &Workspace{
		roomID: roomID,
		cfg:    cfg,
		files:  make(map[string]*FileSync),
	}
}

// OnRemoteChange sets the hook run for every applied remote update.
func (w *Workspace) OnRemoteChange(fn RemoteHook) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onRemote = fn
}

// CreateFile adds a local file and returns the newFile announcement. A zero
// languageTag is inferred from the file extension.
func (w *Workspace) CreateFile(filename, content string, languageTag int) (models.Envelope, error) {
	if filename == "" {
		return models.Envelope{}, models.ErrMissingFilename
	}
	if languageTag == 0 {
		languageTag, _ = judge.LanguageForFilename(filename)
	}
	var tag json.RawMessage
	if languageTag != 0 {
		tag = models.NumericTag(languageTag)
	}

	w.mu.Lock()
	if _, exists := w.files[filename]; exists {
		w.mu.Unlock()
		return models.Envelope{}, fmt.Errorf("%w: %s", ErrFileExists, filename)
	}
	w.files[filename] = NewFileSync(filename, content, tag, w.cfg)
	w.mu.Unlock()

	file, err := json.Marshal(models.File{Filename: filename, Content: content, LanguageTag: tag})
	if err != nil {
		return models.Envelope{}, err
	}
	return models.NewEnvelope(models.EventNewFile, models.NewFile{RoomID: w.roomID, File: file})
}

// ReceiveNewFile adds a peer's file unless one with the same name exists.
// The language tag is kept as the peer sent it.
func (w *Workspace) ReceiveNewFile(f models.File) bool {
	if f.Filename == "" {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.files[f.Filename]; exists {
		return false
	}
	w.files[f.Filename] = NewFileSync(f.Filename, f.Content, f.LanguageTag, w.cfg)
	return true
}

// Edit records a local edit and returns the messages to send now.
func (w *Workspace) Edit(filename, content string, now time.Time) ([]models.Envelope, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	f, ok := w.files[filename]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFile, filename)
	}
	return w.envelopes(f.Edit(content, now))
}

// Tick fires due timers across all files, in filename order.
func (w *Workspace) Tick(now time.Time) ([]models.Envelope, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	names := make([]string, 0, len(w.files))
	for name := range w.files {
		names = append(names, name)
	}
	sort.Strings(names)

	var updates []Update
	for _, name := range names {
		updates = append(updates, w.files[name].Tick(now)...)
	}
	return w.envelopes(updates)
}

// ReceivePatch applies a peer's patch. Drift is reported through applied,
// never as an error.
func (w *Workspace) ReceivePatch(filename, patch string) (applied bool, err error) {
	w.mu.Lock()
	f, ok := w.files[filename]
	if !ok {
		w.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrUnknownFile, filename)
	}
	applied, err = f.ApplyPatch(patch)
	if err != nil {
		w.mu.Unlock()
		return false, err
	}
	w.settle(f)
	return applied, nil
}

// ReceiveFullSync overwrites filename with content, creating it when
// missing.
func (w *Workspace) ReceiveFullSync(filename, content string) {
	w.mu.Lock()
	f, ok := w.files[filename]
	if !ok {
		var tag json.RawMessage
		if id, ok := judge.LanguageForFilename(filename); ok {
			tag = models.NumericTag(id)
		}
		f = NewFileSync(filename, "", tag, w.cfg)
		w.files[filename] = f
	}
	f.ApplyFullSync(content)
	w.settle(f)
}

// settle runs the remote hook without the lock, so the editor may report
// its change back through Edit, then leaves ApplyingRemote. w.mu must be
// held on entry and is released on return.
func (w *Workspace) settle(f *FileSync) {
	hook, name, content := w.onRemote, f.Filename(), f.Content()
	if hook != nil {
		w.mu.Unlock()
		hook(name, content)
		w.mu.Lock()
	}
	f.Settle()
	w.mu.Unlock()
}

// Content returns the current content of filename.
func (w *Workspace) Content(filename string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	f, ok := w.files[filename]
	if !ok {
		return "", false
	}
	return f.Content(), true
}

// State returns the sync state of filename.
func (w *Workspace) State(filename string) (State, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	f, ok := w.files[filename]
	if !ok {
		return Idle, false
	}
	return f.State(), true
}

// Files lists the workspace sorted by filename.
func (w *Workspace) Files() []models.File {
	w.mu.Lock()
	defer w.mu.Unlock()
	files := make([]models.File, 0, len(w.files))
	for _, f := range w.files {
		files = append(files, models.File{Filename: f.Filename(), Content: f.Content(), LanguageTag: f.LanguageTag()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Filename < files[j].Filename })
	return files
}

func (w *Workspace) envelopes(updates []Update) ([]models.Envelope, error) {
	out := make([]models.Envelope, 0, len(updates))
	for _, u := range updates {
		var (
			env models.Envelope
			err error
		)
		switch u.Kind {
		case PatchUpdate:
			env, err = models.NewEnvelope(models.EventCodeDiff, models.CodeDiff{RoomID: w.roomID, Filename: u.Filename, Patch: u.Patch})
		case FullSyncUpdate:
			env, err = models.NewEnvelope(models.EventCodeFullSync, models.CodeFullSync{RoomID: w.roomID, Filename: u.Filename, Content: u.Content})
		}
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, nil
}
