package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/egeaydin1/fal-freya-garsonai/internal/config"
	"github.com/egeaydin1/fal-freya-garsonai/internal/menu"
	"github.com/egeaydin1/fal-freya-garsonai/internal/protocol"
	"github.com/egeaydin1/fal-freya-garsonai/internal/session"
)

type stubStore struct {
	scope menu.Scope
	err   error
}

func (s stubStore) LookupScope(_ context.Context, token string) (menu.Scope, error) {
	if s.err != nil {
		return menu.Scope{}, s.err
	}
	return s.scope, nil
}

// echoRunner answers pings and bounces audio frames back as binary chunks,
// which is enough to exercise the gateway plumbing end to end.
type echoRunner struct{}

func (echoRunner) RunConnection(ctx context.Context, sess *session.Session, scope menu.Scope, inbound <-chan any, outbound chan<- any) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-inbound:
			if !ok {
				return
			}
			switch m := msg.(type) {
			case protocol.ClientControl:
				if m.Type == protocol.TypePing {
					outbound <- protocol.NewPong()
				}
			case protocol.AudioFrame:
				outbound <- protocol.AudioChunk{Data: m.Data}
			}
		}
	}
}

func newTestServer(t *testing.T, store menu.Store) *httptest.Server {
	t.Helper()
	cfg := config.Config{
		AllowAnyOrigin:           false,
		SessionInactivityTimeout: 2 * time.Minute,
	}
	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	srv := New(cfg, sessions, store, echoRunner{}, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t, stubStore{})

	for _, path := range []string{"/healthz", "/readyz"} {
		res, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d, want 200", path, res.StatusCode)
		}
	}
}

func TestPerfLatencyWithoutMetrics(t *testing.T) {
	ts := newTestServer(t, stubStore{})

	res, err := http.Get(ts.URL + "/v1/perf/latency")
	if err != nil {
		t.Fatalf("GET /v1/perf/latency error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := body["stages"]; !ok {
		t.Fatalf("latency response missing stages: %v", body)
	}
}

func TestVoiceWSUnknownTokenCloses4004(t *testing.T) {
	ts := newTestServer(t, stubStore{err: menu.ErrScopeNotFound})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws/voice/ghost-token"), nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("expected close error, got %v", err)
	}
	if closeErr.Code != closeCodeTableNotFound {
		t.Fatalf("close code = %d, want %d", closeErr.Code, closeCodeTableNotFound)
	}
	if closeErr.Text != "Table not found" {
		t.Fatalf("close reason = %q", closeErr.Text)
	}
}

func TestVoiceWSGreetingAndDuplexFrames(t *testing.T) {
	store := stubStore{scope: menu.Scope{ScopeID: "rest-1/table-5"}}
	ts := newTestServer(t, store)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws/voice/good-token"), nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var greeting protocol.Greeting
	if err := conn.ReadJSON(&greeting); err != nil {
		t.Fatalf("read greeting: %v", err)
	}
	if greeting.Type != protocol.TypeGreeting || greeting.Text == "" {
		t.Fatalf("greeting = %+v", greeting)
	}

	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	var pong protocol.Pong
	if err := conn.ReadJSON(&pong); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if pong.Type != protocol.TypePong {
		t.Fatalf("pong = %+v", pong)
	}

	audio := []byte{1, 2, 3, 4}
	if err := conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read audio echo: %v", err)
	}
	if msgType != websocket.BinaryMessage {
		t.Fatalf("echo message type = %d, want binary", msgType)
	}
	if string(data) != string(audio) {
		t.Fatalf("echo payload = %v", data)
	}
}

func TestVoiceWSRejectsInvalidControlMessage(t *testing.T) {
	store := stubStore{scope: menu.Scope{ScopeID: "rest-1/table-5"}}
	ts := newTestServer(t, store)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws/voice/good-token"), nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var greeting protocol.Greeting
	if err := conn.ReadJSON(&greeting); err != nil {
		t.Fatalf("read greeting: %v", err)
	}

	if err := conn.WriteJSON(map[string]string{"type": "make_coffee"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var errEvent protocol.ErrorEvent
	if err := conn.ReadJSON(&errEvent); err != nil {
		t.Fatalf("read error event: %v", err)
	}
	if errEvent.Type != protocol.TypeErrorEvent {
		t.Fatalf("event = %+v", errEvent)
	}

	// The connection survives a bad control frame.
	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	var pong protocol.Pong
	if err := conn.ReadJSON(&pong); err != nil {
		t.Fatalf("read pong after bad frame: %v", err)
	}
}

func TestVoiceWSRejectsForeignOrigin(t *testing.T) {
	store := stubStore{scope: menu.Scope{ScopeID: "rest-1/table-5"}}
	ts := newTestServer(t, store)

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, res, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws/voice/good-token"), header)
	if err == nil {
		t.Fatalf("expected handshake rejection for foreign origin")
	}
	if res != nil && res.StatusCode != http.StatusForbidden {
		t.Fatalf("handshake status = %d, want 403", res.StatusCode)
	}
}

func TestVoiceWSSessionLifecycle(t *testing.T) {
	cfg := config.Config{SessionInactivityTimeout: 2 * time.Minute}
	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	srv := New(cfg, sessions, stubStore{scope: menu.Scope{ScopeID: "rest-1/table-5"}}, echoRunner{}, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws/voice/good-token"), nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var greeting protocol.Greeting
	if err := conn.ReadJSON(&greeting); err != nil {
		t.Fatalf("read greeting: %v", err)
	}
	if got := sessions.ActiveCount(); got != 1 {
		t.Fatalf("ActiveCount = %d, want 1 while connected", got)
	}

	conn.Close()
	deadline := time.After(2 * time.Second)
	for sessions.ActiveCount() != 0 {
		select {
		case <-deadline:
			t.Fatalf("session not removed after disconnect")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
