package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type sessionKey struct {
	sessionID string
	username  string
}

// InMemoryStore is an in-process store used when no database is
// configured and as the degraded fallback when the database is down.
type InMemoryStore struct {
	mu         sync.RWMutex
	nextTurnID int64
	turns      []Turn
	entries    []Entry
	watermarks map[sessionKey]int64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{watermarks: make(map[sessionKey]int64)}
}

func (s *InMemoryStore) AppendTurn(_ context.Context, turn Turn) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTurnID++
	turn.ID = s.nextTurnID
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	s.turns = append(s.turns, turn)
	return turn.ID, nil
}

func (s *InMemoryStore) RecentTurns(_ context.Context, sessionID, username string, limit int) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := s.sessionTurns(sessionID, username)
	if limit <= 0 || limit > len(matched) {
		limit = len(matched)
	}
	out := make([]Turn, limit)
	copy(out, matched[len(matched)-limit:])
	return out, nil
}

func (s *InMemoryStore) TurnsAfter(_ context.Context, sessionID, username string, afterID int64, limit int) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Turn
	for _, t := range s.sessionTurns(sessionID, username) {
		if t.ID <= afterID {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *InMemoryStore) ClearSession(_ context.Context, sessionID, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.turns[:0]
	for _, t := range s.turns {
		if t.SessionID == sessionID && t.Username == username {
			continue
		}
		kept = append(kept, t)
	}
	s.turns = kept

	keptEntries := s.entries[:0]
	for _, e := range s.entries {
		if e.SessionID == sessionID && e.Username == username {
			continue
		}
		keptEntries = append(keptEntries, e)
	}
	s.entries = keptEntries

	delete(s.watermarks, sessionKey{sessionID: sessionID, username: username})
	return nil
}

func (s *InMemoryStore) InsertEntries(_ context.Context, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		s.entries = append(s.entries, e)
	}
	return nil
}

func (s *InMemoryStore) TopEntries(_ context.Context, username string, topK int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []Entry
	for _, e := range s.entries {
		if e.Username == username {
			matched = append(matched, e)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].ImportanceScore != matched[j].ImportanceScore {
			return matched[i].ImportanceScore > matched[j].ImportanceScore
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if topK > 0 && len(matched) > topK {
		matched = matched[:topK]
	}
	return matched, nil
}

func (s *InMemoryStore) Watermark(_ context.Context, sessionID, username string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.watermarks[sessionKey{sessionID: sessionID, username: username}], nil
}

func (s *InMemoryStore) SetWatermark(_ context.Context, sessionID, username string, lastTurnID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sessionKey{sessionID: sessionID, username: username}
	if lastTurnID > s.watermarks[key] {
		s.watermarks[key] = lastTurnID
	}
	return nil
}

func (s *InMemoryStore) Close() error { return nil }

// sessionTurns must be called with the lock held.
func (s *InMemoryStore) sessionTurns(sessionID, username string) []Turn {
	var matched []Turn
	for _, t := range s.turns {
		if t.SessionID == sessionID && t.Username == username {
			matched = append(matched, t)
		}
	}
	return matched
}
