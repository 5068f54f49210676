package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/nova/internal/assistant"
	"github.com/ent0n29/nova/internal/auth"
	"github.com/ent0n29/nova/internal/brain"
	"github.com/ent0n29/nova/internal/commands"
	"github.com/ent0n29/nova/internal/config"
	"github.com/ent0n29/nova/internal/credential"
	"github.com/ent0n29/nova/internal/memory"
	"github.com/ent0n29/nova/internal/persona"
	"github.com/ent0n29/nova/internal/protocol"
	"github.com/ent0n29/nova/internal/recall"
	"github.com/ent0n29/nova/internal/session"
	"github.com/ent0n29/nova/internal/voice"
)

func newTestServer(t *testing.T) (*httptest.Server, *credential.FileStore) {
	t.Helper()
	cfg := config.Config{
		SessionInactivityTimeout: 2 * time.Minute,
		MemoryTopK:               5,
	}
	creds := credential.NewFileStore(filepath.Join(t.TempDir(), "nova_auth.json"))
	if err := creds.SetSecret("open sesame"); err != nil {
		t.Fatalf("SetSecret() error = %v", err)
	}
	authn := auth.New(creds, "Anon")

	store := memory.NewInMemoryStore()
	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	registry := commands.NewRegistry(nil)
	commands.RegisterBuiltins(registry, commands.Builtins{Store: store, CreatorName: "Anon"})
	retriever := recall.New(store, 5, 5)
	orch := assistant.New(sessions, store, registry, retriever, persona.New("Anon"),
		brain.NewMockAdapter(), nil, voice.NewMockProvider(), nil, nil, 1)

	srv := New(cfg, sessions, orch, authn, creds, retriever, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, creds
}

func createSession(t *testing.T, ts *httptest.Server, phrase string) map[string]any {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"secret_phrase": phrase})
	res, err := http.Post(ts.URL+"/v1/session", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("create session request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	var created map[string]any
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	return created
}

func TestCreateSessionCreatorAndGuest(t *testing.T) {
	ts, _ := newTestServer(t)

	creator := createSession(t, ts, "open sesame")
	if creator["username"] != "Anon" || creator["is_creator"] != true {
		t.Fatalf("creator session = %+v", creator)
	}

	guest := createSession(t, ts, "wrong phrase")
	if guest["username"] != auth.GuestName || guest["is_creator"] != false {
		t.Fatalf("guest session = %+v", guest)
	}

	empty := createSession(t, ts, "")
	if empty["username"] != auth.GuestName {
		t.Fatalf("empty phrase session = %+v", empty)
	}
}

func TestEndSession(t *testing.T) {
	ts, _ := newTestServer(t)
	created := createSession(t, ts, "")
	sessionID, _ := created["session_id"].(string)
	if sessionID == "" {
		t.Fatalf("missing session_id in create response: %+v", created)
	}

	res, err := http.Post(ts.URL+"/v1/session/"+sessionID+"/end", "application/json", nil)
	if err != nil {
		t.Fatalf("end session request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("end status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	again, err := http.Post(ts.URL+"/v1/session/unknown/end", "application/json", nil)
	if err != nil {
		t.Fatalf("end unknown session request error = %v", err)
	}
	defer again.Body.Close()
	if again.StatusCode != http.StatusNotFound {
		t.Fatalf("end unknown status = %d, want %d", again.StatusCode, http.StatusNotFound)
	}
}

func TestMemoryEndpointScoping(t *testing.T) {
	ts, _ := newTestServer(t)
	guest := createSession(t, ts, "")
	guestID := guest["session_id"].(string)
	creator := createSession(t, ts, "open sesame")
	creatorID := creator["session_id"].(string)

	res, err := http.Get(ts.URL + "/v1/memory?session_id=" + guestID)
	if err != nil {
		t.Fatalf("GET /v1/memory error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("guest own memory status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	forbidden, err := http.Get(ts.URL + "/v1/memory?session_id=" + guestID + "&username=Anon")
	if err != nil {
		t.Fatalf("GET /v1/memory error = %v", err)
	}
	defer forbidden.Body.Close()
	if forbidden.StatusCode != http.StatusForbidden {
		t.Fatalf("guest cross-user memory status = %d, want %d", forbidden.StatusCode, http.StatusForbidden)
	}

	allowed, err := http.Get(ts.URL + "/v1/memory?session_id=" + creatorID + "&username=Guest")
	if err != nil {
		t.Fatalf("GET /v1/memory error = %v", err)
	}
	defer allowed.Body.Close()
	if allowed.StatusCode != http.StatusOK {
		t.Fatalf("creator cross-user memory status = %d, want %d", allowed.StatusCode, http.StatusOK)
	}
}

func TestAuthStatusAndReset(t *testing.T) {
	ts, creds := newTestServer(t)

	res, err := http.Get(ts.URL + "/v1/auth/status")
	if err != nil {
		t.Fatalf("GET /v1/auth/status error = %v", err)
	}
	defer res.Body.Close()
	var status map[string]any
	if err := json.NewDecoder(res.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status["configured"] != true {
		t.Fatalf("configured = %v, want true", status["configured"])
	}

	guest := createSession(t, ts, "")
	guestID := guest["session_id"].(string)
	denied, err := http.Post(ts.URL+"/v1/auth/reset?session_id="+guestID, "application/json", nil)
	if err != nil {
		t.Fatalf("guest reset request error = %v", err)
	}
	defer denied.Body.Close()
	if denied.StatusCode != http.StatusForbidden {
		t.Fatalf("guest reset status = %d, want %d", denied.StatusCode, http.StatusForbidden)
	}

	creator := createSession(t, ts, "open sesame")
	creatorID := creator["session_id"].(string)
	ok, err := http.Post(ts.URL+"/v1/auth/reset?session_id="+creatorID, "application/json", nil)
	if err != nil {
		t.Fatalf("creator reset request error = %v", err)
	}
	defer ok.Body.Close()
	if ok.StatusCode != http.StatusOK {
		t.Fatalf("creator reset status = %d, want %d", ok.StatusCode, http.StatusOK)
	}
	if creds.Configured() {
		t.Fatalf("credential still configured after reset")
	}
}

func TestSessionWSTextTurn(t *testing.T) {
	ts, _ := newTestServer(t)
	created := createSession(t, ts, "open sesame")
	sessionID := created["session_id"].(string)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/session/ws?session_id=" + sessionID
	conn, _, err := websocket.DefaultDialer.DialContext(context.Background(), wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial error = %v", err)
	}
	defer conn.Close()

	err = conn.WriteJSON(protocol.ClientText{
		Type:      protocol.TypeClientText,
		SessionID: sessionID,
		Text:      "tell me something",
	})
	if err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	var reply protocol.AssistantReply
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("ReadJSON(reply) error = %v", err)
	}
	if reply.Type != protocol.TypeAssistantReply || reply.Text == "" {
		t.Fatalf("unexpected reply: %+v", reply)
	}

	var end protocol.AssistantTurnEnd
	if err := conn.ReadJSON(&end); err != nil {
		t.Fatalf("ReadJSON(turn_end) error = %v", err)
	}
	if end.Type != protocol.TypeAssistantTurnEnd {
		t.Fatalf("unexpected turn end: %+v", end)
	}
}

func TestSessionWSRejectsUnknownSession(t *testing.T) {
	ts, _ := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/session/ws?session_id=missing"
	_, res, err := websocket.DefaultDialer.DialContext(context.Background(), wsURL, nil)
	if err == nil {
		t.Fatalf("websocket dial succeeded for unknown session")
	}
	if res == nil || res.StatusCode != http.StatusNotFound {
		t.Fatalf("dial response = %+v, want 404", res)
	}
	if res.Body != nil {
		res.Body.Close()
	}
}
