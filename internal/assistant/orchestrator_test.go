package assistant

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ent0n29/nova/internal/auth"
	"github.com/ent0n29/nova/internal/brain"
	"github.com/ent0n29/nova/internal/commands"
	"github.com/ent0n29/nova/internal/memory"
	"github.com/ent0n29/nova/internal/persona"
	"github.com/ent0n29/nova/internal/recall"
	"github.com/ent0n29/nova/internal/session"
	"github.com/ent0n29/nova/internal/voice"
)

// flakyStore fails the first failures appends, then behaves normally.
type flakyStore struct {
	*memory.InMemoryStore
	failures int
	appends  int
}

func (f *flakyStore) AppendTurn(ctx context.Context, turn memory.Turn) (int64, error) {
	f.appends++
	if f.appends <= f.failures {
		return 0, errors.New("connection reset")
	}
	return f.InMemoryStore.AppendTurn(ctx, turn)
}

func newTestOrchestrator(t *testing.T, store memory.Store) (*Orchestrator, *session.Manager) {
	t.Helper()
	sessions := session.NewManager(time.Minute)
	silent := &commands.SilentSwitch{}
	registry := commands.NewRegistry(nil)
	commands.RegisterBuiltins(registry, commands.Builtins{Store: store, Silencer: silent, CreatorName: "Anon"})
	retriever := recall.New(store, 5, 5)
	o := New(sessions, store, registry, retriever, persona.New("Anon"),
		brain.NewMockAdapter(), nil, voice.NewMockProvider(), silent, nil, 2)
	return o, sessions
}

func TestHandleTurnGeneratesAndPersists(t *testing.T) {
	store := memory.NewInMemoryStore()
	o, sessions := newTestOrchestrator(t, store)
	s := sessions.Create(auth.Identity{Username: "Anon", IsCreator: true})

	result, err := o.HandleTurn(context.Background(), s.ID, "tell me a story")
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if result.Command {
		t.Fatalf("HandleTurn() handled as command, want model response")
	}
	if result.Degraded {
		t.Fatalf("HandleTurn() degraded with healthy store")
	}
	if result.Response == "" {
		t.Fatalf("HandleTurn() returned empty response")
	}

	turns, err := store.RecentTurns(context.Background(), s.ID, "Anon", 10)
	if err != nil {
		t.Fatalf("RecentTurns() error = %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("RecentTurns() = %d turns, want 1", len(turns))
	}
	if turns[0].UserInput != "tell me a story" {
		t.Fatalf("persisted input = %q", turns[0].UserInput)
	}
	if !turns[0].IsCreator {
		t.Fatalf("persisted turn lost creator flag")
	}
}

func TestHandleTurnCommandBypassesModel(t *testing.T) {
	store := memory.NewInMemoryStore()
	o, sessions := newTestOrchestrator(t, store)
	s := sessions.Create(auth.Guest())

	result, err := o.HandleTurn(context.Background(), s.ID, "what time is it")
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if !result.Command {
		t.Fatalf("time question not dispatched to command registry")
	}
	if strings.Contains(result.Response, "Simulated reply") {
		t.Fatalf("command turn reached the model: %q", result.Response)
	}
}

func TestHandleTurnRetriesThenSucceeds(t *testing.T) {
	store := &flakyStore{InMemoryStore: memory.NewInMemoryStore(), failures: 1}
	o, sessions := newTestOrchestrator(t, store)
	s := sessions.Create(auth.Guest())

	result, err := o.HandleTurn(context.Background(), s.ID, "hello there")
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if result.Degraded {
		t.Fatalf("HandleTurn() degraded, want retry to recover")
	}
	if store.appends != 2 {
		t.Fatalf("appends = %d, want 2 (one failure, one success)", store.appends)
	}
}

func TestHandleTurnDegradesToFallback(t *testing.T) {
	store := &flakyStore{InMemoryStore: memory.NewInMemoryStore(), failures: 100}
	o, sessions := newTestOrchestrator(t, store)
	s := sessions.Create(auth.Guest())

	result, err := o.HandleTurn(context.Background(), s.ID, "hello there")
	if err != nil {
		t.Fatalf("HandleTurn() error = %v, want degraded success", err)
	}
	if !result.Degraded {
		t.Fatalf("HandleTurn() not marked degraded with dead store")
	}
	if result.Response == "" {
		t.Fatalf("degraded turn lost its response")
	}

	turns, err := o.fallback.RecentTurns(context.Background(), s.ID, auth.GuestName, 10)
	if err != nil {
		t.Fatalf("fallback RecentTurns() error = %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("fallback holds %d turns, want 1", len(turns))
	}
}

// captureAdapter records the context block handed to generation.
type captureAdapter struct {
	lastContext string
}

func (a *captureAdapter) Generate(_ context.Context, req brain.Request) (string, error) {
	a.lastContext = req.ContextBlock
	return "ok", nil
}

func TestDegradedTurnsFeedLaterContext(t *testing.T) {
	store := &flakyStore{InMemoryStore: memory.NewInMemoryStore(), failures: 100}
	sessions := session.NewManager(time.Minute)
	registry := commands.NewRegistry(nil)
	commands.RegisterBuiltins(registry, commands.Builtins{Store: store})
	retriever := recall.New(store, 5, 5)
	adapter := &captureAdapter{}
	o := New(sessions, store, registry, retriever, persona.New("Anon"),
		adapter, nil, voice.NewMockProvider(), nil, nil, 1)
	s := sessions.Create(auth.Guest())

	first, err := o.HandleTurn(context.Background(), s.ID, "i moved to oslo last week")
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if !first.Degraded {
		t.Fatalf("first turn not degraded with dead store")
	}

	if _, err := o.HandleTurn(context.Background(), s.ID, "where do i live now"); err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if !strings.Contains(adapter.lastContext, "i moved to oslo last week") {
		t.Fatalf("degraded turn missing from later context: %q", adapter.lastContext)
	}
}

func TestHandleTurnRejectsEndedSession(t *testing.T) {
	store := memory.NewInMemoryStore()
	o, sessions := newTestOrchestrator(t, store)
	s := sessions.Create(auth.Guest())
	if _, err := sessions.End(s.ID); err != nil {
		t.Fatalf("End() error = %v", err)
	}

	if _, err := o.HandleTurn(context.Background(), s.ID, "hi"); err == nil {
		t.Fatalf("HandleTurn() accepted ended session")
	}
}

func TestHandleVoiceTurnRoundTrip(t *testing.T) {
	store := memory.NewInMemoryStore()
	o, sessions := newTestOrchestrator(t, store)
	s := sessions.Create(auth.Guest())

	result, spoken, err := o.HandleVoiceTurn(context.Background(), s.ID, []byte("hello nova"))
	if err != nil {
		t.Fatalf("HandleVoiceTurn() error = %v", err)
	}
	if result.Response == "" {
		t.Fatalf("voice turn produced no response")
	}
	if len(spoken) == 0 {
		t.Fatalf("voice turn produced no audio")
	}
}

func TestSilentModeSuppressesSpeechButKeepsMemory(t *testing.T) {
	store := memory.NewInMemoryStore()
	o, sessions := newTestOrchestrator(t, store)
	s := sessions.Create(auth.Guest())
	ctx := context.Background()

	if _, err := o.HandleTurn(ctx, s.ID, "silent mode please"); err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}

	result, spoken, err := o.HandleVoiceTurn(ctx, s.ID, []byte("hello nova"))
	if err != nil {
		t.Fatalf("HandleVoiceTurn() error = %v", err)
	}
	if result.Response == "" {
		t.Fatalf("silent turn lost its text response")
	}
	if len(spoken) != 0 {
		t.Fatalf("silent mode still produced audio")
	}

	turns, err := store.RecentTurns(ctx, s.ID, auth.GuestName, 10)
	if err != nil {
		t.Fatalf("RecentTurns() error = %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("silent turns not remembered: %d turns, want 2", len(turns))
	}

	if _, err := o.HandleTurn(ctx, s.ID, "ok you can talk again"); err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if _, spoken, err = o.HandleVoiceTurn(ctx, s.ID, []byte("hello again")); err != nil || len(spoken) == 0 {
		t.Fatalf("speech not restored after silent mode off: spoken=%d err=%v", len(spoken), err)
	}
}
