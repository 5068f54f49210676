// Package recall selects long-term memory and recent turns to inject
// as context for the next generation.
package recall

import (
	"context"
	"fmt"
	"strings"

	"github.com/ent0n29/nova/internal/memory"
)

// Retriever reads memory for prompt construction. It never mutates the
// stores.
type Retriever struct {
	store        memory.Store
	fallback     memory.Store
	contextTurns int
	topK         int
}

func New(store memory.Store, contextTurns, topK int) *Retriever {
	if contextTurns <= 0 {
		contextTurns = 5
	}
	if topK <= 0 {
		topK = 5
	}
	return &Retriever{store: store, contextTurns: contextTurns, topK: topK}
}

// SetFallback registers the volatile store holding turns appended while
// the primary was unavailable. Its turns are merged into recent context
// so a degraded turn still informs the next response.
func (r *Retriever) SetFallback(store memory.Store) {
	r.fallback = store
}

// Retrieve returns up to topK long-term entries for the user, ranked by
// importance descending with newest-first tie breaks. No entries is an
// empty slice, not an error.
func (r *Retriever) Retrieve(ctx context.Context, username string, topK int) ([]memory.Entry, error) {
	if topK <= 0 {
		topK = r.topK
	}
	return r.store.TopEntries(ctx, username, topK)
}

// Context bundles everything recalled for one turn.
type Context struct {
	Entries     []memory.Entry
	RecentTurns []memory.Turn
}

// BuildContext gathers long-term entries and the session's recent
// turns, merging in any fallback turns captured during an outage. The
// returned Context is best-effort: when the primary store errors, the
// error is reported alongside whatever could still be recalled.
func (r *Retriever) BuildContext(ctx context.Context, username, sessionID string) (Context, error) {
	var c Context
	var firstErr error

	entries, err := r.store.TopEntries(ctx, username, r.topK)
	if err != nil {
		firstErr = err
	} else {
		c.Entries = entries
	}

	turns, err := r.store.RecentTurns(ctx, sessionID, username, r.contextTurns)
	if err != nil {
		if firstErr == nil {
			firstErr = err
		}
	} else {
		c.RecentTurns = turns
	}

	if r.fallback != nil {
		// Fallback turns postdate anything durably stored for the session.
		extra, err := r.fallback.RecentTurns(ctx, sessionID, username, r.contextTurns)
		if err == nil && len(extra) > 0 {
			c.RecentTurns = append(c.RecentTurns, extra...)
			if len(c.RecentTurns) > r.contextTurns {
				c.RecentTurns = c.RecentTurns[len(c.RecentTurns)-r.contextTurns:]
			}
		}
	}

	return c, firstErr
}

// PromptBlock renders the recalled context as the text block placed
// between the system prompt and the user's input.
func (c Context) PromptBlock() string {
	var b strings.Builder
	if len(c.Entries) > 0 {
		b.WriteString("Long-term memory:\n")
		for _, e := range c.Entries {
			fmt.Fprintf(&b, "- %s\n", e.Summary)
		}
	}
	for _, t := range c.RecentTurns {
		fmt.Fprintf(&b, "%s: %s\nNova: %s\n", t.Username, t.UserInput, t.NovaResponse)
	}
	return strings.TrimRight(b.String(), "\n")
}
