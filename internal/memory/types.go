package memory

import (
	"context"
	"time"
)

// Turn stores one user-input/assistant-response pair. Rows are
// append-only and immutable once written; id order defines the turn
// sequence within a session.
type Turn struct {
	ID           int64     `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Username     string    `json:"username"`
	IsCreator    bool      `json:"is_creator"`
	UserInput    string    `json:"user_input"`
	NovaResponse string    `json:"nova_response"`
	SessionID    string    `json:"session_id"`
}

// Entry is a long-term memory record distilled from one or more turns.
// Higher importance scores rank earlier at retrieval time.
type Entry struct {
	ID              string    `json:"id"`
	Username        string    `json:"username"`
	Summary         string    `json:"summary"`
	ImportanceScore int       `json:"importance_score"`
	CreatedAt       time.Time `json:"created_at"`
	SessionID       string    `json:"session_id"`
}

// Store persists the conversation log and derived long-term memory.
type Store interface {
	// AppendTurn assigns a monotonic id (and timestamp if absent) and
	// persists the turn. It never overwrites prior rows.
	AppendTurn(ctx context.Context, turn Turn) (int64, error)

	// RecentTurns returns up to limit most recent turns for the
	// session and user, ordered oldest to newest. An unknown session
	// yields an empty slice, not an error.
	RecentTurns(ctx context.Context, sessionID, username string, limit int) ([]Turn, error)

	// TurnsAfter returns up to limit turns with id greater than
	// afterID for the session and user, ordered by id ascending.
	TurnsAfter(ctx context.Context, sessionID, username string, afterID int64, limit int) ([]Turn, error)

	// ClearSession removes turns and memory entries for the session
	// and user. Used by the memory-wipe command only.
	ClearSession(ctx context.Context, sessionID, username string) error

	// InsertEntries persists summarizer output.
	InsertEntries(ctx context.Context, entries []Entry) error

	// TopEntries returns up to topK entries for the user, sorted by
	// importance descending, ties broken by newest created_at first.
	TopEntries(ctx context.Context, username string, topK int) ([]Entry, error)

	// Watermark returns the id of the last turn already summarized for
	// the session and user; zero means nothing summarized yet.
	Watermark(ctx context.Context, sessionID, username string) (int64, error)

	// SetWatermark advances the summarized-through marker. It never
	// moves backwards.
	SetWatermark(ctx context.Context, sessionID, username string, lastTurnID int64) error

	Close() error
}
