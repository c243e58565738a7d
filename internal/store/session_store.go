package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/soyeahso/codexm/internal/domain"
)

// SessionStore persists sessions and their append-only message logs.
type SessionStore struct {
	db *DB
}

// NewSessionStore creates a session store using the given database.
func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db}
}

const sessionColumns = `id, workspace_id, title, thread_id, mode, tool_servers, created_at, updated_at`

// Create starts an empty session in a workspace.
func (s *SessionStore) Create(ctx context.Context, workspaceID, title string) (*domain.Session, error) {
	now := time.Now().UTC()
	sess := &domain.Session{
		ID:          uuid.New().String(),
		WorkspaceID: workspaceID,
		Title:       title,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := insertSession(ctx, s.db.sql, sess); err != nil {
		return nil, err
	}
	s.db.log.Debug().Str("session", sess.ID).Str("workspace", workspaceID).Msg("session created")
	return sess, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertSession(ctx context.Context, ex execer, sess *domain.Session) error {
	tools, err := json.Marshal(nonNil(sess.ToolServers))
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.WorkspaceID, sess.Title, sess.ThreadID, string(sess.Mode), string(tools),
		formatTime(sess.CreatedAt), formatTime(sess.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// Get returns a session by id.
func (s *SessionStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	row := s.db.sql.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err != nil {
		return nil, notFound(err, "session", id)
	}
	return sess, nil
}

// List returns the sessions of a workspace, most recently updated first.
// An empty workspaceID lists every session.
func (s *SessionStore) List(ctx context.Context, workspaceID string) ([]domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	var args []any
	if workspaceID != "" {
		query += ` WHERE workspace_id = ?`
		args = append(args, workspaceID)
	}
	query += ` ORDER BY updated_at DESC, rowid DESC`

	rows, err := s.db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

// Rename sets the session title.
func (s *SessionStore) Rename(ctx context.Context, id, title string) error {
	return s.update(ctx, id, `title = ?`, title)
}

// SetMode stores the collaboration mode.
func (s *SessionStore) SetMode(ctx context.Context, id string, mode domain.Mode) error {
	return s.update(ctx, id, `mode = ?`, string(mode))
}

// BindThread stores the agent thread bound to the session.
func (s *SessionStore) BindThread(ctx context.Context, id, threadID string) error {
	return s.update(ctx, id, `thread_id = ?`, threadID)
}

// SetToolServers stores the enabled MCP server ids.
func (s *SessionStore) SetToolServers(ctx context.Context, id string, ids []string) error {
	data, err := json.Marshal(nonNil(ids))
	if err != nil {
		return err
	}
	return s.update(ctx, id, `tool_servers = ?`, string(data))
}

func (s *SessionStore) update(ctx context.Context, id, set string, value any) error {
	res, err := s.db.sql.ExecContext(ctx,
		`UPDATE sessions SET `+set+`, updated_at = ? WHERE id = ?`,
		value, formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	return nil
}

// Delete removes a session and its message log.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.sql.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	return nil
}

// Messages returns the message log of a session in creation order.
func (s *SessionStore) Messages(ctx context.Context, sessionID string) ([]domain.ChatMessage, error) {
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT id, session_id, workspace_id, role, content, created_at
		 FROM messages WHERE session_id = ? ORDER BY seq`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []domain.ChatMessage
	for rows.Next() {
		var m domain.ChatMessage
		var role, createdAt string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.WorkspaceID, &role, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Role = domain.Role(role)
		m.CreatedAt = parseTime(createdAt)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// AppendPair writes a settled user message and its response in one
// transaction and bumps the session's updated time.
func (s *SessionStore) AppendPair(ctx context.Context, user, response domain.ChatMessage) error {
	if user.SessionID == "" || user.SessionID != response.SessionID {
		return errors.New("message pair must belong to one session")
	}

	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	for _, m := range []domain.ChatMessage{user, response} {
		if err := insertMessage(ctx, tx, m); err != nil {
			return err
		}
	}
	res, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`,
		formatTime(time.Now()), user.SessionID)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %q: %w", user.SessionID, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

func insertMessage(ctx context.Context, ex execer, m domain.ChatMessage) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if !m.Role.Valid() {
		return fmt.Errorf("invalid message role %q", m.Role)
	}
	_, err := ex.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, workspace_id, role, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.WorkspaceID, string(m.Role), m.Content, formatTime(m.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("appending message: %w", err)
	}
	return nil
}

// Fork creates a new session in src's workspace that copies src's message
// log, mode and tool servers and is bound to threadID. It runs in one
// transaction.
func (s *SessionStore) Fork(ctx context.Context, src *domain.Session, threadID, title string) (*domain.Session, error) {
	now := time.Now().UTC()
	fork := src.Clone()
	fork.ID = uuid.New().String()
	fork.Title = title
	fork.ThreadID = threadID
	fork.CreatedAt = now
	fork.UpdatedAt = now

	msgs, err := s.Messages(ctx, src.ID)
	if err != nil {
		return nil, fmt.Errorf("reading source log: %w", err)
	}

	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin fork: %w", err)
	}
	defer tx.Rollback()

	if err := insertSession(ctx, tx, fork); err != nil {
		return nil, err
	}
	for _, m := range msgs {
		m.ID = uuid.New().String()
		m.SessionID = fork.ID
		if err := insertMessage(ctx, tx, m); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit fork: %w", err)
	}

	s.db.log.Debug().
		Str("source", src.ID).
		Str("session", fork.ID).
		Str("thread", threadID).
		Int("messages", len(msgs)).
		Msg("session forked")
	return fork, nil
}

// SearchHit is one message matching a full-text query.
type SearchHit struct {
	SessionID string
	MessageID string
	Role      domain.Role
	Snippet   string
	Rank      float64
}

// Search finds messages matching query with FTS5, best matches first.
// Limit of 0 defaults to 20.
func (s *SessionStore) Search(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT m.session_id, m.id, m.role, snippet(messages_fts, 0, '[', ']', '...', 12), rank
		 FROM messages_fts
		 JOIN messages m ON m.seq = messages_fts.rowid
		 WHERE messages_fts MATCH ?
		 ORDER BY rank
		 LIMIT ?`,
		ftsQuery(query), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		var role string
		if err := rows.Scan(&h.SessionID, &h.MessageID, &role, &h.Snippet, &h.Rank); err != nil {
			return nil, err
		}
		h.Role = domain.Role(role)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// ftsQuery quotes each term so user input is never parsed as FTS syntax.
func ftsQuery(q string) string {
	terms := strings.Fields(q)
	for i, t := range terms {
		terms[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(terms, " ")
}

func scanSession(row scanner) (*domain.Session, error) {
	var sess domain.Session
	var mode, tools, createdAt, updatedAt string
	if err := row.Scan(&sess.ID, &sess.WorkspaceID, &sess.Title, &sess.ThreadID, &mode, &tools, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	sess.Mode = domain.Mode(mode)
	if tools != "" {
		_ = json.Unmarshal([]byte(tools), &sess.ToolServers)
	}
	if len(sess.ToolServers) == 0 {
		sess.ToolServers = nil
	}
	sess.CreatedAt = parseTime(createdAt)
	sess.UpdatedAt = parseTime(updatedAt)
	return &sess, nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
