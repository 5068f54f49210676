// Package summarizer condenses raw conversation turns into scored
// long-term memory entries.
package summarizer

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/ent0n29/nova/internal/memory"
	"github.com/ent0n29/nova/internal/observability"
)

const (
	windowLimit = 200
	runTimeout  = 30 * time.Second
)

type sessionKey struct {
	sessionID string
	username  string
}

// Summarizer runs off the live turn path. It windows turns above the
// per-session watermark, asks the policy for candidates, and persists
// them with strictly ordered importance scores. The watermark makes
// re-summarizing an unchanged window a no-op.
type Summarizer struct {
	store   memory.Store
	policy  Policy
	metrics *observability.Metrics
	everyN  int

	mu       sync.Mutex
	pending  map[sessionKey]int
	runLocks map[sessionKey]*sync.Mutex
}

func New(store memory.Store, policy Policy, metrics *observability.Metrics, everyN int) *Summarizer {
	if policy == nil {
		policy = NewHeuristicPolicy()
	}
	if everyN <= 0 {
		everyN = 8
	}
	return &Summarizer{
		store:    store,
		policy:   policy,
		metrics:  metrics,
		everyN:   everyN,
		pending:  make(map[sessionKey]int),
		runLocks: make(map[sessionKey]*sync.Mutex),
	}
}

// NoteTurn records that a turn was durably appended. Every N turns it
// kicks off an asynchronous run so the live loop never waits on
// summarization.
func (s *Summarizer) NoteTurn(sessionID, username string) {
	key := sessionKey{sessionID: sessionID, username: username}

	s.mu.Lock()
	s.pending[key]++
	due := s.pending[key] >= s.everyN
	if due {
		s.pending[key] = 0
	}
	s.mu.Unlock()

	if due {
		go s.runDetached(sessionID, username)
	}
}

// Flush summarizes whatever is outstanding for the session. Called on
// session close.
func (s *Summarizer) Flush(ctx context.Context, sessionID, username string) {
	key := sessionKey{sessionID: sessionID, username: username}
	s.mu.Lock()
	delete(s.pending, key)
	s.mu.Unlock()

	if err := s.Run(ctx, sessionID, username); err != nil {
		s.skip(sessionID, err)
	}
}

// Start launches the periodic sweep over sessions with pending turns.
func (s *Summarizer) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 45 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

func (s *Summarizer) sweep() {
	s.mu.Lock()
	keys := make([]sessionKey, 0, len(s.pending))
	for key, n := range s.pending {
		if n > 0 {
			keys = append(keys, key)
			s.pending[key] = 0
		}
	}
	s.mu.Unlock()

	for _, key := range keys {
		s.runDetached(key.sessionID, key.username)
	}
}

func (s *Summarizer) runDetached(sessionID, username string) {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()
	if err := s.Run(ctx, sessionID, username); err != nil {
		s.skip(sessionID, err)
	}
}

// Run summarizes the unsummarized window for one (session, user) pair.
// It only ever reads turns already durably appended, and advances the
// watermark in lockstep so no window is summarized twice. Runs for the
// same key are serialized: the every-N trigger, the sweep, and the
// close-time flush are all detached, and two overlapping runs would
// each read the watermark before the other advances it.
func (s *Summarizer) Run(ctx context.Context, sessionID, username string) error {
	lock := s.runLock(sessionKey{sessionID: sessionID, username: username})
	lock.Lock()
	defer lock.Unlock()

	watermark, err := s.store.Watermark(ctx, sessionID, username)
	if err != nil {
		return err
	}

	turns, err := s.store.TurnsAfter(ctx, sessionID, username, watermark, windowLimit)
	if err != nil {
		return err
	}
	if len(turns) == 0 {
		if s.metrics != nil {
			s.metrics.SummarizerRuns.WithLabelValues("empty").Inc()
		}
		return nil
	}

	entries := scoreCandidates(s.policy.Summarize(turns), sessionID, username)
	if len(entries) > 0 {
		if err := s.store.InsertEntries(ctx, entries); err != nil {
			return err
		}
		if s.metrics != nil {
			s.metrics.MemoryEntries.Add(float64(len(entries)))
		}
	}

	lastID := turns[len(turns)-1].ID
	if err := s.store.SetWatermark(ctx, sessionID, username, lastID); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.SummarizerRuns.WithLabelValues("ok").Inc()
	}
	return nil
}

func (s *Summarizer) runLock(key sessionKey) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.runLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.runLocks[key] = lock
	}
	return lock
}

func (s *Summarizer) skip(sessionID string, err error) {
	log.Printf("summarization skipped for session %s: %v", sessionID, err)
	if s.metrics != nil {
		s.metrics.SummarizerRuns.WithLabelValues("skipped").Inc()
	}
}

// scoreCandidates converts policy output into memory entries whose
// importance scores are strictly increasing with salience within the
// batch, so downstream ranking is deterministic.
func scoreCandidates(cands []Candidate, sessionID, username string) []memory.Entry {
	if len(cands) == 0 {
		return nil
	}

	sorted := make([]Candidate, len(cands))
	copy(sorted, cands)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Salience != sorted[j].Salience {
			return sorted[i].Salience < sorted[j].Salience
		}
		return sorted[i].Summary < sorted[j].Summary
	})

	entries := make([]memory.Entry, 0, len(sorted))
	prevScore := 0
	prevSalience := 0
	for _, c := range sorted {
		score := c.Salience
		if score < 1 {
			score = 1
		}
		switch {
		case prevScore == 0:
			// first candidate keeps its own score
		case c.Salience == prevSalience:
			score = prevScore
		case score <= prevScore:
			score = prevScore + 1
		}
		entries = append(entries, memory.Entry{
			Username:        username,
			SessionID:       sessionID,
			Summary:         c.Summary,
			ImportanceScore: score,
		})
		prevScore = score
		prevSalience = c.Salience
	}
	return entries
}
