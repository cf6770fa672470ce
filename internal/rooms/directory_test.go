package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/mossy-p/coderoom/internal/models"
	"github.com/mossy-p/coderoom/internal/registry"
)

type recordingPeer struct {
	id   string
	full bool

	mu  sync.Mutex
	got []models.Envelope
}

func (p *recordingPeer) ID() string { return p.id }

func (p *recordingPeer) Send(env models.Envelope) bool {
	if p.full {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, env)
	return true
}

func (p *recordingPeer) events() []models.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Envelope(nil), p.got...)
}

func (p *recordingPeer) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = nil
}

func newTestDirectory(t *testing.T, ids ...string) (*registry.Registry, *Directory, map[string]*recordingPeer) {
	t.Helper()
	reg := registry.New(nil)
	dir := NewDirectory(reg)
	peers := make(map[string]*recordingPeer, len(ids))
	for _, id := range ids {
		p := &recordingPeer{id: id}
		if _, err := reg.Connect(p); err != nil {
			t.Fatalf("connect %s: %v", id, err)
		}
		peers[id] = p
	}
	return reg, dir, peers
}

func decode[T any](t *testing.T, env models.Envelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatalf("decode %s: %v", env.Event, err)
	}
	return v
}

func TestJoinAnnouncesToExistingMembersOnly(t *testing.T) {
	for _, order := range [][2]string{{"A", "B"}, {"B", "A"}} {
		t.Run(order[0]+"_then_"+order[1], func(t *testing.T) {
			_, dir, peers := newTestDirectory(t, "A", "B")
			names := map[string]string{"A": "Alice", "B": "Bob"}

			first, second := order[0], order[1]
			if err := dir.Join("alpha", first, names[first]); err != nil {
				t.Fatal(err)
			}
			if err := dir.Join("alpha", second, names[second]); err != nil {
				t.Fatal(err)
			}

			got := peers[first].events()
			if len(got) != 1 || got[0].Event != models.EventUserJoined {
				t.Fatalf("expected one user-joined for %s, got %+v", first, got)
			}
			joined := decode[models.UserJoined](t, got[0])
			if joined.ConnectionID != second || joined.DisplayName != names[second] {
				t.Fatalf("unexpected user-joined payload: %+v", joined)
			}

			if got := peers[second].events(); len(got) != 0 {
				t.Fatalf("joiner must not hear about itself, got %+v", got)
			}
		})
	}
}

func TestRepeatedJoinKeepsSingleMembershipButAnnouncesAgain(t *testing.T) {
	_, dir, peers := newTestDirectory(t, "A", "B")
	dir.Join("alpha", "A", "Alice")
	dir.Join("alpha", "B", "Bob")
	dir.Join("alpha", "B", "Bobby")

	members := dir.MembersOf("alpha", "")
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %+v", members)
	}
	if members[1].DisplayName != "Bobby" {
		t.Fatalf("expected latest display name, got %+v", members[1])
	}
	if n := len(peers["A"].events()); n != 2 {
		t.Fatalf("expected 2 user-joined broadcasts to A, got %d", n)
	}
}

func TestJoinValidation(t *testing.T) {
	_, dir, _ := newTestDirectory(t, "A")

	cases := []struct {
		room, conn string
		want       error
	}{
		{"", "A", ErrEmptyRoomID},
		{"alpha", "", ErrEmptyConnectionID},
		{"alpha", "ghost", ErrUnknownConnection},
	}
	for _, tc := range cases {
		if err := dir.Join(tc.room, tc.conn, ""); !errors.Is(err, tc.want) {
			t.Errorf("Join(%q, %q): expected %v, got %v", tc.room, tc.conn, tc.want, err)
		}
	}
	if dir.RoomCount() != 0 {
		t.Fatalf("rejected joins must not create rooms")
	}
}

func TestLeaveAnnouncesAndCollectsEmptyRooms(t *testing.T) {
	_, dir, peers := newTestDirectory(t, "A", "B")
	dir.Join("alpha", "A", "Alice")
	dir.Join("alpha", "B", "Bob")
	peers["A"].reset()

	dir.Leave("alpha", "B")
	got := peers["A"].events()
	if len(got) != 1 || got[0].Event != models.EventUserLeft {
		t.Fatalf("expected user-left, got %+v", got)
	}
	if left := decode[models.UserLeft](t, got[0]); left.ConnectionID != "B" {
		t.Fatalf("unexpected user-left payload: %+v", left)
	}

	// Not a member any more: silent.
	dir.Leave("alpha", "B")
	dir.Leave("nowhere", "B")
	if n := len(peers["A"].events()); n != 1 {
		t.Fatalf("leave of non-member must not broadcast, got %d events", n)
	}

	dir.Leave("alpha", "A")
	if dir.RoomCount() != 0 {
		t.Fatalf("expected empty room to be discarded")
	}
	if _, ok := dir.Room("alpha"); ok {
		t.Fatalf("expected no roster for an empty room")
	}
}

func TestDisconnectLeavesEveryRoom(t *testing.T) {
	reg, dir, peers := newTestDirectory(t, "A", "B", "C")
	dir.Join("alpha", "A", "")
	dir.Join("beta", "A", "")
	dir.Join("alpha", "B", "")
	dir.Join("beta", "C", "")
	peers["B"].reset()
	peers["C"].reset()

	reg.Disconnect("A")

	for _, id := range []string{"B", "C"} {
		got := peers[id].events()
		if len(got) != 1 || got[0].Event != models.EventUserLeft {
			t.Fatalf("%s: expected one user-left, got %+v", id, got)
		}
	}
	if dir.IsMember("alpha", "A") || dir.IsMember("beta", "A") {
		t.Fatalf("A must be gone from all rooms")
	}
	if rooms := dir.RoomsOf("A"); len(rooms) != 0 {
		t.Fatalf("expected no rooms for A, got %v", rooms)
	}
}

func TestBroadcastNeverReachesSender(t *testing.T) {
	_, dir, peers := newTestDirectory(t, "A", "B", "C")
	for _, id := range []string{"A", "B", "C"} {
		dir.Join("alpha", id, "")
	}
	for _, p := range peers {
		p.reset()
	}

	env := models.Envelope{Event: models.EventCallEnded, Data: json.RawMessage(`{"from":"A"}`)}
	if n := dir.Broadcast("alpha", "A", env); n != 2 {
		t.Fatalf("expected 2 deliveries, got %d", n)
	}
	if n := len(peers["A"].events()); n != 0 {
		t.Fatalf("sender received its own message")
	}
	if n := dir.Broadcast("empty-room", "A", env); n != 0 {
		t.Fatalf("broadcast to unknown room must be a no-op, got %d", n)
	}
}

func TestBroadcastSkipsFullPeers(t *testing.T) {
	_, dir, peers := newTestDirectory(t, "A", "B", "C")
	for _, id := range []string{"A", "B", "C"} {
		dir.Join("alpha", id, "")
	}
	peers["C"].full = true

	if n := dir.Broadcast("alpha", "A", models.Envelope{Event: models.EventCameraOff}); n != 1 {
		t.Fatalf("expected 1 delivery with C full, got %d", n)
	}
}

func TestMembershipMatchesModel(t *testing.T) {
	ids := []string{"c0", "c1", "c2", "c3", "c4"}
	reg, dir, _ := newTestDirectory(t, ids...)
	rooms := []string{"alpha", "beta"}
	model := map[string]map[string]bool{"alpha": {}, "beta": {}}
	connected := map[string]bool{}
	for _, id := range ids {
		connected[id] = true
	}

	rng := rand.New(rand.NewSource(42))
	for step := 0; step < 500; step++ {
		id := ids[rng.Intn(len(ids))]
		roomID := rooms[rng.Intn(len(rooms))]
		switch rng.Intn(5) {
		case 0, 1:
			if connected[id] {
				dir.Join(roomID, id, id)
				model[roomID][id] = true
			}
		case 2, 3:
			dir.Leave(roomID, id)
			delete(model[roomID], id)
		case 4:
			if connected[id] {
				reg.Disconnect(id)
				connected[id] = false
				for _, r := range rooms {
					delete(model[r], id)
				}
			} else {
				if _, err := reg.Connect(&recordingPeer{id: id}); err != nil {
					t.Fatal(err)
				}
				connected[id] = true
			}
		}

		for _, r := range rooms {
			want := make([]string, 0, len(model[r]))
			for id := range model[r] {
				want = append(want, id)
			}
			sort.Strings(want)
			var got []string
			for _, m := range dir.MembersOf(r, "") {
				got = append(got, m.ConnectionID)
			}
			if fmt.Sprint(got) != fmt.Sprint(want) && !(len(got) == 0 && len(want) == 0) {
				t.Fatalf("step %d room %s: members %v, want %v", step, r, got, want)
			}
		}
	}
}

type fakeMirror struct {
	mu     sync.Mutex
	joined []string
	left   []string
}

func (m *fakeMirror) Joined(_ context.Context, roomID string, member models.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.joined = append(m.joined, roomID+"/"+member.ConnectionID)
	return nil
}

func (m *fakeMirror) Left(_ context.Context, roomID, connID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.left = append(m.left, roomID+"/"+connID)
	return errors.New("mirror offline")
}

func TestPresenceMirrorFollowsMembership(t *testing.T) {
	reg := registry.New(nil)
	mirror := &fakeMirror{}
	dir := NewDirectory(reg, WithPresenceMirror(mirror))
	reg.Connect(&recordingPeer{id: "A"})

	dir.Join("alpha", "A", "Alice")
	reg.Disconnect("A")

	if fmt.Sprint(mirror.joined) != "[alpha/A]" || fmt.Sprint(mirror.left) != "[alpha/A]" {
		t.Fatalf("unexpected mirror calls: joined=%v left=%v", mirror.joined, mirror.left)
	}
	// A failing mirror must not affect in-memory state.
	if dir.RoomCount() != 0 {
		t.Fatalf("expected room to be gone")
	}
}
