// Package docsync is the client side of document synchronization: one
// explicit state machine per file that turns local edits into throttled
// patches and debounced full snapshots, and applies the ones received from
// peers without echoing them back.
package docsync

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
)

var (
	ErrMalformedPatch = errors.New("malformed patch")
	ErrUnknownFile    = errors.New("unknown file")
	ErrFileExists     = errors.New("file already exists")
)

// State of a FileSync. Patch and full-sync timers run in parallel; State
// reports the most specific one.
type State int

const (
	Idle State = iota
	PendingPatch
	PendingFullSync
	ApplyingRemote
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case PendingPatch:
		return "pending-patch"
	case PendingFullSync:
		return "pending-full-sync"
	case ApplyingRemote:
		return "applying-remote"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Config holds the sync timings.
type Config struct {
	// PatchInterval is the throttle window for patches.
	PatchInterval time.Duration
	// FullSyncQuiet is how long edits must pause before a full sync.
	FullSyncQuiet time.Duration
	// FullSyncMaxWait forces a full sync during continuous editing.
	FullSyncMaxWait time.Duration
}

func DefaultConfig() Config {
	return Config{
		PatchInterval:   300 * time.Millisecond,
		FullSyncQuiet:   2 * time.Second,
		FullSyncMaxWait: 10 * time.Second,
	}
}

// UpdateKind says what an Update carries.
type UpdateKind int

const (
	PatchUpdate UpdateKind = iota
	FullSyncUpdate
)

// Update is an outgoing message produced by a transition.
type Update struct {
	Kind     UpdateKind
	Filename string
	Patch    string
	Content  string
}

// FileSync tracks one file. It is not safe for concurrent use; Workspace
// serializes access.
type FileSync struct {
	filename    string
	languageTag json.RawMessage
	cfg         Config
	dmp         *diffmatchpatch.DiffMatchPatch

	content  string
	lastSent string

	patchPending bool
	lastPatchAt  time.Time

	fullSyncPending bool
	lastEditAt      time.Time
	firstUnsynced   time.Time

	applying bool
}

// NewFileSync starts tracking filename with content that peers are assumed
// to already have.
func NewFileSync(filename, content string, languageTag json.RawMessage, cfg Config) *FileSync {
	return &FileSync{
		filename:    filename,
		languageTag: languageTag,
		cfg:         cfg,
		dmp:         diffmatchpatch.New(),
		content:     content,
		lastSent:    content,
	}
}

func (f *FileSync) Filename() string { return f.filename }
func (f *FileSync) Content() string  { return f.content }
func (f *FileSync) LanguageTag() json.RawMessage { return f.languageTag }

func (f *FileSync) State() State {
	switch {
	case f.applying:
		return ApplyingRemote
	case f.patchPending:
		return PendingPatch
	case f.fullSyncPending:
		return PendingFullSync
	}
	return Idle
}

// Edit records a local change. Edits reported while a remote update is
// being applied are the echo of that update and are ignored.
func (f *FileSync) Edit(content string, now time.Time) []Update {
	if f.applying || content == f.content {
		return nil
	}
	f.content = content
	f.lastEditAt = now
	f.patchPending = true
	if !f.fullSyncPending {
		f.fullSyncPending = true
		f.firstUnsynced = now
	}
	return f.Tick(now)
}

// Tick fires whichever timers are due at now.
func (f *FileSync) Tick(now time.Time) []Update {
	if f.applying {
		return nil
	}

	var out []Update
	if f.patchPending && (f.lastPatchAt.IsZero() || now.Sub(f.lastPatchAt) >= f.cfg.PatchInterval) {
		if u, ok := f.flushPatch(now); ok {
			out = append(out, u)
		}
	}
	if f.fullSyncPending && (now.Sub(f.lastEditAt) >= f.cfg.FullSyncQuiet || now.Sub(f.firstUnsynced) >= f.cfg.FullSyncMaxWait) {
		out = append(out, f.flushFullSync())
	}
	return out
}

func (f *FileSync) flushPatch(now time.Time) (Update, bool) {
	f.patchPending = false
	f.lastPatchAt = now
	if f.content == f.lastSent {
		return Update{}, false
	}

	patches := f.dmp.PatchMake(f.lastSent, f.content)
	f.lastSent = f.content
	return Update{Kind: PatchUpdate, Filename: f.filename, Patch: f.dmp.PatchToText(patches)}, true
}

// flushFullSync supersedes any throttled patch: receivers get the whole
// content, so the patch baseline moves to it as well.
func (f *FileSync) flushFullSync() Update {
	f.fullSyncPending = false
	f.patchPending = false
	f.lastSent = f.content
	return Update{Kind: FullSyncUpdate, Filename: f.filename, Content: f.content}
}

// ApplyPatch applies a peer's patch with fuzzy matching and enters
// ApplyingRemote until Settle. applied is false when some hunks did not
// match; the next full sync repairs that.
func (f *FileSync) ApplyPatch(text string) (applied bool, err error) {
	patches, err := f.dmp.PatchFromText(text)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedPatch, err)
	}

	f.applying = true
	content, results := f.dmp.PatchApply(patches, f.content)
	f.content = content
	// Rebase the baseline so the next local patch carries only local edits.
	f.lastSent, _ = f.dmp.PatchApply(patches, f.lastSent)

	applied = true
	for _, ok := range results {
		applied = applied && ok
	}
	return applied, nil
}

// ApplyFullSync overwrites the content and drops any unsent local edits.
// It enters ApplyingRemote until Settle. A full sync that was already due
// stays due: peers may have applied the dropped edits, so this replica
// re-broadcasts the content it was overwritten with.
func (f *FileSync) ApplyFullSync(content string) {
	f.applying = true
	f.content = content
	f.lastSent = content
	f.patchPending = false
}

// Settle ends a remote update once the editor shows the new content.
func (f *FileSync) Settle() {
	f.applying = false
}
