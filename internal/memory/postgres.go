package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists the conversation log and long-term memory in
// PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversation_memory (
			id BIGSERIAL PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT now(),
			username TEXT NOT NULL DEFAULT 'Guest',
			is_creator BOOLEAN NOT NULL DEFAULT FALSE,
			user_input TEXT NOT NULL,
			nova_response TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT 'default'
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_memory_session ON conversation_memory (session_id, username, id);`,
		`CREATE TABLE IF NOT EXISTS memory_context (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL DEFAULT 'Guest',
			summary TEXT NOT NULL,
			importance_score INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			session_id TEXT NOT NULL DEFAULT 'default'
		);`,
		`CREATE INDEX IF NOT EXISTS idx_memory_context_user_rank ON memory_context (username, importance_score DESC, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS summary_watermarks (
			session_id TEXT NOT NULL,
			username TEXT NOT NULL,
			last_turn_id BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (session_id, username)
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) AppendTurn(ctx context.Context, turn Turn) (int64, error) {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	if turn.Username == "" {
		turn.Username = "Guest"
	}

	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO conversation_memory (timestamp, username, is_creator, user_input, nova_response, session_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		turn.Timestamp,
		turn.Username,
		turn.IsCreator,
		turn.UserInput,
		turn.NovaResponse,
		turn.SessionID,
	).Scan(&id)
	if err != nil {
		return 0, storageErr("append turn", err)
	}
	return id, nil
}

func (s *PostgresStore) RecentTurns(ctx context.Context, sessionID, username string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, timestamp, username, is_creator, user_input, nova_response, session_id
		 FROM conversation_memory
		 WHERE session_id=$1 AND username=$2
		 ORDER BY id DESC LIMIT $3`,
		sessionID, username, limit,
	)
	if err != nil {
		return nil, storageErr("query recent turns", err)
	}
	defer rows.Close()

	turns, err := scanTurns(rows)
	if err != nil {
		return nil, err
	}

	// Reverse into chronological order for prompt coherence.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func (s *PostgresStore) TurnsAfter(ctx context.Context, sessionID, username string, afterID int64, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, timestamp, username, is_creator, user_input, nova_response, session_id
		 FROM conversation_memory
		 WHERE session_id=$1 AND username=$2 AND id > $3
		 ORDER BY id ASC LIMIT $4`,
		sessionID, username, afterID, limit,
	)
	if err != nil {
		return nil, storageErr("query turns after", err)
	}
	defer rows.Close()

	return scanTurns(rows)
}

func (s *PostgresStore) ClearSession(ctx context.Context, sessionID, username string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storageErr("begin clear session", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM conversation_memory WHERE session_id=$1 AND username=$2`,
		sessionID, username,
	); err != nil {
		return storageErr("clear turns", err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM memory_context WHERE session_id=$1 AND username=$2`,
		sessionID, username,
	); err != nil {
		return storageErr("clear memory entries", err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM summary_watermarks WHERE session_id=$1 AND username=$2`,
		sessionID, username,
	); err != nil {
		return storageErr("clear watermark", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return storageErr("commit clear session", err)
	}
	return nil
}

func (s *PostgresStore) InsertEntries(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storageErr("begin insert entries", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO memory_context (id, username, summary, importance_score, created_at, session_id)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			e.ID, e.Username, e.Summary, e.ImportanceScore, e.CreatedAt, e.SessionID,
		); err != nil {
			return storageErr("insert entry", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return storageErr("commit insert entries", err)
	}
	return nil
}

func (s *PostgresStore) TopEntries(ctx context.Context, username string, topK int) ([]Entry, error) {
	if topK <= 0 {
		topK = 5
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, username, summary, importance_score, created_at, session_id
		 FROM memory_context
		 WHERE username=$1
		 ORDER BY importance_score DESC, created_at DESC
		 LIMIT $2`,
		username, topK,
	)
	if err != nil {
		return nil, storageErr("query top entries", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, topK)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Username, &e.Summary, &e.ImportanceScore, &e.CreatedAt, &e.SessionID); err != nil {
			return nil, storageErr("scan entry row", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate entry rows", err)
	}
	return entries, nil
}

func (s *PostgresStore) Watermark(ctx context.Context, sessionID, username string) (int64, error) {
	var last int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(last_turn_id), 0) FROM summary_watermarks WHERE session_id=$1 AND username=$2`,
		sessionID, username,
	).Scan(&last)
	if err != nil {
		return 0, storageErr("query watermark", err)
	}
	return last, nil
}

func (s *PostgresStore) SetWatermark(ctx context.Context, sessionID, username string, lastTurnID int64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO summary_watermarks (session_id, username, last_turn_id, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (session_id, username)
		 DO UPDATE SET last_turn_id = GREATEST(summary_watermarks.last_turn_id, EXCLUDED.last_turn_id), updated_at = now()`,
		sessionID, username, lastTurnID,
	)
	if err != nil {
		return storageErr("set watermark", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanTurns(rows rowScanner) ([]Turn, error) {
	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.Timestamp, &t.Username, &t.IsCreator, &t.UserInput, &t.NovaResponse, &t.SessionID); err != nil {
			return nil, storageErr("scan turn row", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate turn rows", err)
	}
	return turns, nil
}
