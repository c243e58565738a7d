package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/soyeahso/codexm/internal/domain"
)

// WorkspaceStore persists workspaces.
type WorkspaceStore struct {
	db *DB
}

// NewWorkspaceStore creates a workspace store using the given database.
func NewWorkspaceStore(db *DB) *WorkspaceStore {
	return &WorkspaceStore{db: db}
}

const workspaceColumns = `id, name, path, sync_kind, remote, git_branch, git_username, git_token,
	git_allow_insecure, git_author_name, git_author_email, created_at, updated_at`

// Create inserts w, assigning an id and timestamps.
func (s *WorkspaceStore) Create(ctx context.Context, w domain.Workspace) (*domain.Workspace, error) {
	if w.Name == "" {
		return nil, errors.New("workspace name is required")
	}
	if w.Path == "" {
		return nil, errors.New("workspace path is required")
	}
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	if w.SyncKind == "" {
		w.SyncKind = domain.SyncNone
	}
	now := time.Now().UTC()
	w.CreatedAt = now
	w.UpdatedAt = now

	_, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO workspaces (`+workspaceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.Name, w.Path, string(w.SyncKind), w.Remote,
		w.Git.Branch, w.Git.Username, w.Git.Token, w.Git.AllowInsecure, w.Git.AuthorName, w.Git.AuthorEmail,
		formatTime(now), formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("creating workspace %q: %w", w.Name, err)
	}
	s.db.log.Debug().Str("workspace", w.ID).Str("name", w.Name).Msg("workspace created")
	return &w, nil
}

// Get returns a workspace by id.
func (s *WorkspaceStore) Get(ctx context.Context, id string) (*domain.Workspace, error) {
	row := s.db.sql.QueryRowContext(ctx, `SELECT `+workspaceColumns+` FROM workspaces WHERE id = ?`, id)
	w, err := scanWorkspace(row)
	if err != nil {
		return nil, notFound(err, "workspace", id)
	}
	return w, nil
}

// Resolve finds a workspace by id or by name.
func (s *WorkspaceStore) Resolve(ctx context.Context, ref string) (*domain.Workspace, error) {
	row := s.db.sql.QueryRowContext(ctx,
		`SELECT `+workspaceColumns+` FROM workspaces WHERE id = ? OR name = ? LIMIT 1`, ref, ref)
	w, err := scanWorkspace(row)
	if err != nil {
		return nil, notFound(err, "workspace", ref)
	}
	return w, nil
}

// List returns every workspace ordered by name.
func (s *WorkspaceStore) List(ctx context.Context) ([]domain.Workspace, error) {
	rows, err := s.db.sql.QueryContext(ctx, `SELECT `+workspaceColumns+` FROM workspaces ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Workspace
	for rows.Next() {
		w, err := scanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

// SetGitSync replaces the git sync options of a workspace.
func (s *WorkspaceStore) SetGitSync(ctx context.Context, id string, g domain.GitSync) error {
	res, err := s.db.sql.ExecContext(ctx,
		`UPDATE workspaces SET git_branch = ?, git_username = ?, git_token = ?, git_allow_insecure = ?,
		 git_author_name = ?, git_author_email = ?, updated_at = ? WHERE id = ?`,
		g.Branch, g.Username, g.Token, g.AllowInsecure, g.AuthorName, g.AuthorEmail,
		formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("updating workspace: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("workspace %q: %w", id, ErrNotFound)
	}
	return nil
}

// Delete removes a workspace together with its sessions and messages.
func (s *WorkspaceStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.sql.ExecContext(ctx, `DELETE FROM workspaces WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting workspace: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("workspace %q: %w", id, ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWorkspace(row scanner) (*domain.Workspace, error) {
	var w domain.Workspace
	var kind, createdAt, updatedAt string
	err := row.Scan(&w.ID, &w.Name, &w.Path, &kind, &w.Remote,
		&w.Git.Branch, &w.Git.Username, &w.Git.Token, &w.Git.AllowInsecure, &w.Git.AuthorName, &w.Git.AuthorEmail,
		&createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning workspace: %w", err)
	}
	w.SyncKind = domain.SyncKind(kind)
	w.CreatedAt = parseTime(createdAt)
	w.UpdatedAt = parseTime(updatedAt)
	return &w, nil
}
