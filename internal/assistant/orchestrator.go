// Package assistant runs the turn loop: commands first, then recall,
// generation, and the durable append.
package assistant

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ent0n29/nova/internal/brain"
	"github.com/ent0n29/nova/internal/commands"
	"github.com/ent0n29/nova/internal/memory"
	"github.com/ent0n29/nova/internal/observability"
	"github.com/ent0n29/nova/internal/persona"
	"github.com/ent0n29/nova/internal/recall"
	"github.com/ent0n29/nova/internal/reliability"
	"github.com/ent0n29/nova/internal/session"
	"github.com/ent0n29/nova/internal/summarizer"
	"github.com/ent0n29/nova/internal/voice"
)

const (
	retryBase = 100 * time.Millisecond
	retryCap  = 1 * time.Second
)

// TurnResult is the outcome of one handled turn.
type TurnResult struct {
	Response string
	TurnID   int64
	// Command is true when a registry command produced the response
	// instead of the language model.
	Command bool
	// Degraded is true when the turn could not be durably persisted
	// and lives only in the in-memory fallback log.
	Degraded bool
}

// Orchestrator coordinates one session's turns. Memory failures degrade
// the turn rather than abort it; session continuity wins over strict
// consistency.
type Orchestrator struct {
	sessions   *session.Manager
	store      memory.Store
	fallback   *memory.InMemoryStore
	registry   *commands.Registry
	retriever  *recall.Retriever
	persona    *persona.Persona
	adapter    brain.Adapter
	summarizer *summarizer.Summarizer
	speech     voice.Provider
	silent     *commands.SilentSwitch
	metrics    *observability.Metrics
	maxRetries int
}

func New(
	sessions *session.Manager,
	store memory.Store,
	registry *commands.Registry,
	retriever *recall.Retriever,
	p *persona.Persona,
	adapter brain.Adapter,
	sum *summarizer.Summarizer,
	speech voice.Provider,
	silent *commands.SilentSwitch,
	metrics *observability.Metrics,
	maxRetries int,
) *Orchestrator {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if silent == nil {
		silent = &commands.SilentSwitch{}
	}
	fallback := memory.NewInMemoryStore()
	if retriever != nil {
		// Degraded turns must still surface in recalled context.
		retriever.SetFallback(fallback)
	}
	return &Orchestrator{
		sessions:   sessions,
		store:      store,
		fallback:   fallback,
		registry:   registry,
		retriever:  retriever,
		persona:    p,
		adapter:    adapter,
		summarizer: sum,
		speech:     speech,
		silent:     silent,
		metrics:    metrics,
		maxRetries: maxRetries,
	}
}

// HandleTurn processes one user input for an active session.
func (o *Orchestrator) HandleTurn(ctx context.Context, sessionID, input string) (TurnResult, error) {
	s, err := o.sessions.Get(sessionID)
	if err != nil {
		return TurnResult{}, err
	}
	if s.Status != session.StatusActive {
		return TurnResult{}, fmt.Errorf("session %s already ended", sessionID)
	}

	start := time.Now()
	id := s.Identity

	result := TurnResult{}
	if resp, handled := o.registry.Dispatch(ctx, id, sessionID, input); handled {
		result.Response = resp
		result.Command = true
	} else {
		// BuildContext is best-effort: on primary store failure it still
		// carries whatever the fallback log holds.
		rc, err := o.retriever.BuildContext(ctx, id.Username, sessionID)
		if err != nil {
			log.Printf("context recall degraded: %v", err)
			o.countStorageError("recall")
		}

		resp, err := o.adapter.Generate(ctx, brain.Request{
			Username:     id.Username,
			SessionID:    sessionID,
			SystemPrompt: o.persona.Render(id),
			ContextBlock: rc.PromptBlock(),
			InputText:    input,
		})
		if err != nil {
			return TurnResult{}, fmt.Errorf("generate response: %w", err)
		}
		result.Response = resp
	}

	turn := memory.Turn{
		Username:     id.Username,
		IsCreator:    id.IsCreator,
		UserInput:    input,
		NovaResponse: result.Response,
		SessionID:    sessionID,
	}
	result.TurnID, result.Degraded = o.appendTurn(ctx, turn)

	if !result.Degraded && o.summarizer != nil {
		o.summarizer.NoteTurn(sessionID, id.Username)
	}
	_ = o.sessions.NoteTurn(sessionID)

	if o.metrics != nil {
		o.metrics.ObserveTurnLatency(time.Since(start))
	}
	return result, nil
}

// HandleVoiceTurn transcribes audio, runs the turn, and speaks the
// response. It needs a configured speech provider.
func (o *Orchestrator) HandleVoiceTurn(ctx context.Context, sessionID string, audio []byte) (TurnResult, []byte, error) {
	if o.speech == nil {
		return TurnResult{}, nil, fmt.Errorf("no speech provider configured")
	}

	text, err := o.speech.Transcribe(ctx, audio)
	if err != nil {
		return TurnResult{}, nil, fmt.Errorf("transcribe: %w", err)
	}

	result, err := o.HandleTurn(ctx, sessionID, text)
	if err != nil {
		return TurnResult{}, nil, err
	}

	// Silent mode keeps the text response but skips speech synthesis.
	if o.silent.On() {
		return result, nil, nil
	}

	spoken, err := o.speech.Speak(ctx, result.Response)
	if err != nil {
		// The text response is still useful without audio.
		log.Printf("speak failed, returning text only: %v", err)
		return result, nil, nil
	}
	return result, spoken, nil
}

// appendTurn persists with retry, then degrades to the in-memory
// fallback so the turn is never silently dropped.
func (o *Orchestrator) appendTurn(ctx context.Context, turn memory.Turn) (int64, bool) {
	var lastErr error
retry:
	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				break retry
			case <-time.After(reliability.ExponentialBackoff(attempt-1, retryBase, retryCap)):
			}
		}

		id, err := o.store.AppendTurn(ctx, turn)
		if err == nil {
			if o.metrics != nil {
				o.metrics.TurnsAppended.WithLabelValues("primary").Inc()
			}
			return id, false
		}
		lastErr = err
		o.countStorageError("append")
	}

	log.Printf("turn append degraded to in-memory fallback: %v", lastErr)
	id, err := o.fallback.AppendTurn(ctx, turn)
	if err != nil {
		// The fallback store cannot fail today; guard anyway.
		log.Printf("fallback append failed: %v", err)
	}
	if o.metrics != nil {
		o.metrics.TurnsAppended.WithLabelValues("fallback").Inc()
		o.metrics.TurnFallbacks.Inc()
	}
	return id, true
}

func (o *Orchestrator) countStorageError(op string) {
	if o.metrics != nil {
		o.metrics.StorageErrors.WithLabelValues(op).Inc()
	}
}
