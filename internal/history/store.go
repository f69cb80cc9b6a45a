// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     history
// Description: Chat turn persistence
// Created:     2025-12-14
// License:     MIT
// ============================================================================

// Package history persists completed chat turns and feeds the most recent
// ones back into prompts as conversational memory.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Session is one run of the agent
type Session struct {
	ID        string    `json:"id"`
	Persona   string    `json:"persona"`
	StartedAt time.Time `json:"started_at"`
}

// Turn is one stored exchange
type Turn struct {
	ID          string        `json:"id"`
	SessionID   string        `json:"session_id"`
	Source      string        `json:"source"`
	User        string        `json:"user"`
	Assistant   string        `json:"assistant"`
	Provider    string        `json:"provider"`
	Latency     time.Duration `json:"latency"`
	Interrupted bool          `json:"interrupted"`
	Dropped     string        `json:"dropped,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Answered reports whether the assistant actually replied
func (t *Turn) Answered() bool {
	return t.Dropped == "" && t.Assistant != ""
}

// Store defines the interface for turn persistence
type Store interface {
	// Session operations
	CreateSession(ctx context.Context, s *Session) error
	ListSessions(ctx context.Context, limit int) ([]*Session, error)

	// Turn operations
	AddTurn(ctx context.Context, t *Turn) error
	Recent(ctx context.Context, sessionID string, limit int) ([]*Turn, error)

	// Utility
	Close() error
	Statistics(ctx context.Context) (map[string]interface{}, error)
}

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore creates a store at path, creating the directory if needed
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	// Open database with WAL mode
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// initSchema creates the necessary tables
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		persona TEXT NOT NULL DEFAULT '',
		started_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS turns (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		user_text TEXT NOT NULL,
		assistant_text TEXT NOT NULL DEFAULT '',
		provider TEXT NOT NULL DEFAULT '',
		latency_ms INTEGER DEFAULT 0,
		interrupted INTEGER DEFAULT 0,
		dropped TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id);
	CREATE INDEX IF NOT EXISTS idx_turns_created ON turns(created_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// CreateSession creates a new session
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.ID == "" {
		return fmt.Errorf("session ID is required")
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, persona, started_at) VALUES (?, ?, ?)
	`, sess.ID, sess.Persona, sess.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// ListSessions returns the most recent sessions first
func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, persona, started_at FROM sessions
		ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Persona, &sess.StartedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, &sess)
	}
	return sessions, rows.Err()
}

// AddTurn stores a turn
func (s *SQLiteStore) AddTurn(ctx context.Context, t *Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		return fmt.Errorf("turn ID is required")
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO turns (id, session_id, source, user_text, assistant_text, provider,
			latency_ms, interrupted, dropped, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.SessionID, t.Source, t.User, t.Assistant, t.Provider,
		t.Latency.Milliseconds(), t.Interrupted, t.Dropped, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add turn: %w", err)
	}
	return nil
}

// Recent returns the last limit turns of a session, oldest first
func (s *SQLiteStore) Recent(ctx context.Context, sessionID string, limit int) ([]*Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, source, user_text, assistant_text, provider,
			latency_ms, interrupted, dropped, created_at
		FROM turns
		WHERE session_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get turns: %w", err)
	}
	defer rows.Close()

	var turns []*Turn
	for rows.Next() {
		var t Turn
		var latencyMs int64
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Source, &t.User, &t.Assistant, &t.Provider,
			&latencyMs, &t.Interrupted, &t.Dropped, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		t.Latency = time.Duration(latencyMs) * time.Millisecond
		turns = append(turns, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read turns: %w", err)
	}

	// Reverse the DESC order
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Statistics returns store statistics
func (s *SQLiteStore) Statistics(ctx context.Context) (map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]interface{})

	var sessions, turns, interrupted int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&sessions); err != nil {
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns`).Scan(&turns)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns WHERE interrupted = 1`).Scan(&interrupted)

	stats["total_sessions"] = sessions
	stats["total_turns"] = turns
	stats["interrupted_turns"] = interrupted

	var avgLatency sql.NullFloat64
	s.db.QueryRowContext(ctx, `SELECT AVG(latency_ms) FROM turns WHERE dropped = ''`).Scan(&avgLatency)
	if avgLatency.Valid {
		stats["avg_latency_ms"] = avgLatency.Float64
	}
	return stats, nil
}

// MemoryStore is an in-memory implementation for tests and --no-history runs
type MemoryStore struct {
	mu       sync.RWMutex
	sessions []*Session
	turns    map[string][]*Turn
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{turns: make(map[string][]*Turn)}
}

// CreateSession creates a new session
func (s *MemoryStore) CreateSession(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.ID == "" {
		return fmt.Errorf("session ID is required")
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now()
	}
	s.sessions = append(s.sessions, sess)
	return nil
}

// ListSessions returns the most recent sessions first
func (s *MemoryStore) ListSessions(ctx context.Context, limit int) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Session
	for i := len(s.sessions) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, s.sessions[i])
	}
	return out, nil
}

// AddTurn stores a turn
func (s *MemoryStore) AddTurn(ctx context.Context, t *Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		return fmt.Errorf("turn ID is required")
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	s.turns[t.SessionID] = append(s.turns[t.SessionID], t)
	return nil
}

// Recent returns the last limit turns of a session, oldest first
func (s *MemoryStore) Recent(ctx context.Context, sessionID string, limit int) ([]*Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := s.turns[sessionID]
	if limit <= 0 || limit >= len(turns) {
		return append([]*Turn(nil), turns...), nil
	}
	return append([]*Turn(nil), turns[len(turns)-limit:]...), nil
}

// Close is a no-op for memory store
func (s *MemoryStore) Close() error {
	return nil
}

// Statistics returns store statistics
func (s *MemoryStore) Statistics(ctx context.Context) (map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total, interrupted int
	for _, turns := range s.turns {
		total += len(turns)
		for _, t := range turns {
			if t.Interrupted {
				interrupted++
			}
		}
	}
	return map[string]interface{}{
		"total_sessions":    len(s.sessions),
		"total_turns":       total,
		"interrupted_turns": interrupted,
	}, nil
}
