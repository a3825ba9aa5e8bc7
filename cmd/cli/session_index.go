package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const (
	sessionIndexDriver = "sqlite"
	sessionIndexDSNOpt = "?_pragma=busy_timeout(3000)&_pragma=journal_mode(WAL)"
)

// sessionIndex records per-workspace session metadata. Conversation
// content stays in memory; only enough survives here to list and
// describe past sessions.
type sessionIndex struct {
	db *sql.DB
	mu sync.Mutex
}

type sessionIndexRecord struct {
	SessionID     string
	ModelAlias    string
	WorkspaceCWD  string
	StartedAt     time.Time
	LastActiveAt  time.Time
	TurnCount     int64
	LastUserInput string
}

func newSessionIndex(path string) (*sessionIndex, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("session index: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("session index: create dir: %w", err)
	}
	db, err := sql.Open(sessionIndexDriver, path+sessionIndexDSNOpt)
	if err != nil {
		return nil, fmt.Errorf("session index: open db: %w", err)
	}
	idx := &sessionIndex{db: db}
	if err := idx.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return idx, nil
}

func (s *sessionIndex) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sessionIndex) UpsertSession(workspace workspaceContext, sessionID, modelAlias string, at time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	if strings.TrimSpace(workspace.Key) == "" || strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("session index: workspace and session_id are required")
	}
	if at.IsZero() {
		at = time.Now()
	}
	ts := at.UnixMilli()
	const q = `
INSERT INTO session_index (
	workspace_key, session_id, workspace_cwd, model_alias,
	started_at, last_active_at, turn_count, last_user_input
) VALUES (?, ?, ?, ?, ?, ?, 0, '')
ON CONFLICT(workspace_key, session_id) DO UPDATE SET
	workspace_cwd = excluded.workspace_cwd,
	model_alias = excluded.model_alias,
	last_active_at = CASE
		WHEN session_index.last_active_at > excluded.last_active_at THEN session_index.last_active_at
		ELSE excluded.last_active_at
	END`
	_, err := s.db.ExecContext(context.Background(), q,
		workspace.Key, sessionID, workspace.CWD, strings.TrimSpace(modelAlias),
		ts, ts,
	)
	return err
}

// TouchTurn bumps activity after a user turn.
func (s *sessionIndex) TouchTurn(workspace workspaceContext, sessionID, modelAlias, userInput string, at time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	if strings.TrimSpace(workspace.Key) == "" || strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("session index: workspace and session_id are required")
	}
	if at.IsZero() {
		at = time.Now()
	}
	ts := at.UnixMilli()
	lastInput := strings.TrimSpace(userInput)
	if len(lastInput) > 200 {
		lastInput = lastInput[:200]
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.UpsertSession(workspace, sessionID, modelAlias, at); err != nil {
		return err
	}
	const q = `
UPDATE session_index SET
	last_active_at = ?,
	turn_count = turn_count + 1,
	last_user_input = CASE
		WHEN ? <> '' THEN ?
		ELSE last_user_input
	END
WHERE workspace_key = ? AND session_id = ?`
	_, err := s.db.ExecContext(context.Background(), q, ts, lastInput, lastInput, workspace.Key, sessionID)
	return err
}

func (s *sessionIndex) ListWorkspaceSessions(workspaceKey string, limit int) ([]sessionIndexRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	workspaceKey = strings.TrimSpace(workspaceKey)
	if workspaceKey == "" {
		return nil, fmt.Errorf("session index: workspace_key is required")
	}
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT session_id, model_alias, workspace_cwd, started_at, last_active_at, turn_count, last_user_input
FROM session_index
WHERE workspace_key = ?
ORDER BY last_active_at DESC, started_at DESC
LIMIT ?`
	rows, err := s.db.QueryContext(context.Background(), q, workspaceKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]sessionIndexRecord, 0, limit)
	for rows.Next() {
		var rec sessionIndexRecord
		var startedAt, lastActiveAt int64
		if err := rows.Scan(&rec.SessionID, &rec.ModelAlias, &rec.WorkspaceCWD, &startedAt, &lastActiveAt, &rec.TurnCount, &rec.LastUserInput); err != nil {
			return nil, err
		}
		rec.StartedAt = time.UnixMilli(startedAt)
		rec.LastActiveAt = time.UnixMilli(lastActiveAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sessionIndex) migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS session_index (
	workspace_key TEXT NOT NULL,
	session_id TEXT NOT NULL,
	workspace_cwd TEXT NOT NULL DEFAULT '',
	model_alias TEXT NOT NULL DEFAULT '',
	started_at INTEGER NOT NULL,
	last_active_at INTEGER NOT NULL,
	turn_count INTEGER NOT NULL DEFAULT 0,
	last_user_input TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (workspace_key, session_id)
);
CREATE INDEX IF NOT EXISTS idx_session_index_workspace_last_active
ON session_index(workspace_key, last_active_at DESC);`
	_, err := s.db.ExecContext(ctx, ddl)
	if err != nil {
		return fmt.Errorf("session index: migrate: %w", err)
	}
	return nil
}
