package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/coderoom/internal/judge"
	"github.com/mossy-p/coderoom/internal/models"
	"github.com/mossy-p/coderoom/internal/registry"
	"github.com/mossy-p/coderoom/internal/relay"
	"github.com/mossy-p/coderoom/internal/rooms"
)

const testOrigin = "https://editor.example.com"

type stubRunner struct {
	result *judge.Result
	err    error
	got    judge.Submission
}

func (s *stubRunner) Run(_ context.Context, sub judge.Submission) (*judge.Result, error) {
	s.got = sub
	return s.result, s.err
}

type testEnv struct {
	router *gin.Engine
	dir    *rooms.Directory
	reg    *registry.Registry
	runner *stubRunner
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New(logger)
	dir := rooms.NewDirectory(reg, rooms.WithLogger(logger))
	runner := &stubRunner{}
	router := NewRouter(Deps{
		Registry:       reg,
		Directory:      dir,
		Relay:          relay.New(dir, logger),
		Runner:         runner,
		AllowedOrigins: []string{testOrigin},
		Logger:         logger,
	})
	return &testEnv{router: router, dir: dir, reg: reg, runner: runner}
}

func (e *testEnv) do(method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "ok" || body["connections"] != float64(0) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestOriginFilter(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/health", "", map[string]string{"Origin": "https://evil.example.com"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for unknown origin, got %d", rec.Code)
	}

	rec = env.do(http.MethodGet, "/health", "", map[string]string{"Origin": testOrigin})
	if rec.Code != http.StatusOK || rec.Header().Get("Access-Control-Allow-Origin") != testOrigin {
		t.Fatalf("expected CORS headers for allowed origin, got %d %v", rec.Code, rec.Header())
	}
	if rec.Header().Get("Vary") != "Origin" {
		t.Fatalf("expected Vary: Origin, got %q", rec.Header().Get("Vary"))
	}

	rec = env.do(http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK || rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("request without origin should pass without CORS headers, got %d %v", rec.Code, rec.Header())
	}

	rec = env.do(http.MethodOptions, "/run-code", "", map[string]string{"Origin": testOrigin})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", rec.Code)
	}
}

func TestRunCode(t *testing.T) {
	str := func(s string) *string { return &s }

	t.Run("stdout", func(t *testing.T) {
		env := newTestEnv(t)
		env.runner.result = &judge.Result{Stdout: str("hi\n")}

		rec := env.do(http.MethodPost, "/run-code", `{"languageId":71,"sourceCode":"print('hi')","stdin":""}`, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if rec.Body.String() != `{"stdout":"hi\n"}` {
			t.Fatalf("unexpected body %s", rec.Body.String())
		}
		if env.runner.got.LanguageID != judge.LanguagePython || env.runner.got.SourceCode != "print('hi')" {
			t.Fatalf("runner got %+v", env.runner.got)
		}
	})

	t.Run("stderr", func(t *testing.T) {
		env := newTestEnv(t)
		env.runner.result = &judge.Result{Stderr: str("NameError")}

		rec := env.do(http.MethodPost, "/run-code", `{"languageId":71,"sourceCode":"x"}`, nil)
		if rec.Code != http.StatusOK || rec.Body.String() != `{"stderr":"NameError"}` {
			t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("validation", func(t *testing.T) {
		env := newTestEnv(t)
		for _, body := range []string{`{"sourceCode":"print(1)"}`, `{"languageId":71}`, `not json`} {
			rec := env.do(http.MethodPost, "/run-code", body, nil)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("%s: expected 400, got %d", body, rec.Code)
			}
		}
		if env.runner.got != (judge.Submission{}) {
			t.Fatalf("runner should not be called, got %+v", env.runner.got)
		}
	})

	t.Run("upstream failure", func(t *testing.T) {
		env := newTestEnv(t)
		env.runner.err = &judge.UpstreamError{StatusCode: http.StatusTooManyRequests, Body: `{"message":"quota"}`}

		rec := env.do(http.MethodPost, "/run-code", `{"languageId":71,"sourceCode":"1"}`, nil)
		if rec.Code != http.StatusBadGateway {
			t.Fatalf("expected 502, got %d", rec.Code)
		}
		var body struct {
			Error   string          `json:"error"`
			Details json.RawMessage `json:"details"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if body.Error == "" || string(body.Details) != `{"message":"quota"}` {
			t.Fatalf("unexpected body %s", rec.Body.String())
		}
	})
}

func TestGetRoomNotFound(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.do(http.MethodGet, "/api/rooms/nowhere", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

// websocket integration

func dialWS(t *testing.T, srv *httptest.Server, query string) (*websocket.Conn, string) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	var connected models.Connected
	readEvent(t, conn, models.EventConnected, &connected)
	if connected.ConnectionID == "" {
		t.Fatal("connected event without id")
	}
	return conn, connected.ConnectionID
}

func writeWS(t *testing.T, conn *websocket.Conn, event models.EventType, payload any) {
	t.Helper()
	env, err := models.NewEnvelope(event, payload)
	if err != nil {
		t.Fatal(err)
	}
	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := conn.WriteJSON(env); err != nil {
		t.Fatalf("failed to write websocket message: %v", err)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn, want models.EventType, payload any) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env models.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("failed to read %s: %v", want, err)
	}
	if env.Event != want {
		t.Fatalf("expected %s, got %s (%s)", want, env.Event, env.Data)
	}
	if payload != nil {
		if err := json.Unmarshal(env.Data, payload); err != nil {
			t.Fatalf("decode %s: %v", want, err)
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebSocketRelayEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	alice, aliceID := dialWS(t, srv, "?displayName=alice")
	bob, bobID := dialWS(t, srv, "")

	writeWS(t, alice, models.EventJoinRoom, models.JoinRoom{RoomID: "alpha"})
	waitFor(t, "alice to join", func() bool { return env.dir.IsMember("alpha", aliceID) })

	writeWS(t, bob, models.EventJoinRoom, models.JoinRoom{RoomID: "alpha", DisplayName: "bob"})
	var joined models.UserJoined
	readEvent(t, alice, models.EventUserJoined, &joined)
	if joined.ConnectionID != bobID || joined.DisplayName != "bob" {
		t.Fatalf("unexpected user-joined %+v", joined)
	}

	// The query-string name is used when joinRoom carries none.
	info, ok := env.dir.Room("alpha")
	if !ok || info.MemberCount != 2 {
		t.Fatalf("unexpected room %+v", info)
	}
	for _, m := range info.Members {
		if m.ConnectionID == aliceID && m.DisplayName != "alice" {
			t.Fatalf("alice joined as %q", m.DisplayName)
		}
	}

	writeWS(t, bob, models.EventOffer, map[string]any{"roomId": "alpha", "sdp": "v=0..."})
	var offer models.RelayedSignal
	readEvent(t, alice, models.EventOffer, &offer)
	if offer.From != bobID || string(offer.SDP) != `"v=0..."` {
		t.Fatalf("unexpected offer %+v", offer)
	}

	writeWS(t, alice, models.EventSendMessage, models.ChatMessage{RoomID: "alpha", Username: "alice", Message: "hi"})
	var chat models.RelayedChat
	readEvent(t, bob, models.EventReceiveMessage, &chat)
	if chat.Message != "hi" || chat.From != aliceID || len(chat.Timestamp) == 0 {
		t.Fatalf("unexpected chat %+v", chat)
	}

	rec := env.do(http.MethodGet, "/api/rooms/alpha", "", nil)
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte(`"memberCount":2`)) {
		t.Fatalf("unexpected room response %d %s", rec.Code, rec.Body.String())
	}

	bob.Close()
	var left models.UserLeft
	readEvent(t, alice, models.EventUserLeft, &left)
	if left.ConnectionID != bobID {
		t.Fatalf("unexpected user-left %+v", left)
	}
	waitFor(t, "bob to unregister", func() bool { return env.reg.Count() == 1 })
}

func TestWebSocketDropsInvalidFrames(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	alice, aliceID := dialWS(t, srv, "")
	bob, _ := dialWS(t, srv, "")
	writeWS(t, alice, models.EventJoinRoom, models.JoinRoom{RoomID: "alpha"})
	waitFor(t, "alice to join", func() bool { return env.dir.IsMember("alpha", aliceID) })
	writeWS(t, bob, models.EventJoinRoom, models.JoinRoom{RoomID: "alpha"})
	readEvent(t, alice, models.EventUserJoined, nil)

	bob.SetWriteDeadline(time.Now().Add(2 * time.Second))
	bob.WriteMessage(websocket.TextMessage, []byte("{not json"))
	writeWS(t, bob, models.EventSendMessage, map[string]any{"roomId": "alpha", "username": "bob"})
	writeWS(t, bob, "no-such-event", map[string]any{"roomId": "alpha"})
	writeWS(t, bob, models.EventCodeDiff, models.CodeDiff{RoomID: "alpha", Filename: "main.py", Patch: "@@ -1 +1 @@"})

	// Only the valid event arrives, and the connection survived the rest.
	var diff models.RelayedCodeDiff
	readEvent(t, alice, models.EventCodeDiff, &diff)
	if diff.Filename != "main.py" {
		t.Fatalf("unexpected diff %+v", diff)
	}
}
