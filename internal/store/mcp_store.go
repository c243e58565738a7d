package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/soyeahso/codexm/internal/domain"
)

// MCPStore persists MCP server registrations.
type MCPStore struct {
	db *DB
}

// NewMCPStore creates an MCP registration store using the given database.
func NewMCPStore(db *DB) *MCPStore {
	return &MCPStore{db: db}
}

const mcpColumns = `id, name, transport, command, args, url, env, created_at`

// Create registers a server, assigning an id and creation time.
func (s *MCPStore) Create(ctx context.Context, srv domain.MCPServer) (*domain.MCPServer, error) {
	if srv.ID == "" {
		srv.ID = uuid.New().String()
	}
	srv.CreatedAt = time.Now().UTC()

	args, err := json.Marshal(nonNil(srv.Args))
	if err != nil {
		return nil, err
	}
	env := srv.Env
	if env == nil {
		env = map[string]string{}
	}
	envJSON, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}

	_, err = s.db.sql.ExecContext(ctx,
		`INSERT INTO mcp_servers (`+mcpColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		srv.ID, srv.Name, string(srv.Transport), srv.Command, string(args), srv.URL, string(envJSON),
		formatTime(srv.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("registering mcp server %q: %w", srv.Name, err)
	}
	return &srv, nil
}

// Resolve finds a registration by id or name.
func (s *MCPStore) Resolve(ctx context.Context, ref string) (*domain.MCPServer, error) {
	row := s.db.sql.QueryRowContext(ctx,
		`SELECT `+mcpColumns+` FROM mcp_servers WHERE id = ? OR name = ? LIMIT 1`, ref, ref)
	srv, err := scanMCP(row)
	if err != nil {
		return nil, notFound(err, "mcp server", ref)
	}
	return srv, nil
}

// List returns every registration ordered by name.
func (s *MCPStore) List(ctx context.Context) ([]domain.MCPServer, error) {
	rows, err := s.db.sql.QueryContext(ctx, `SELECT `+mcpColumns+` FROM mcp_servers ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.MCPServer
	for rows.Next() {
		srv, err := scanMCP(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *srv)
	}
	return out, rows.Err()
}

// Lookup returns the registrations with the given ids, in the order given.
// Unknown ids are skipped.
func (s *MCPStore) Lookup(ctx context.Context, ids []string) ([]domain.MCPServer, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.MCPServer, len(all))
	for _, srv := range all {
		byID[srv.ID] = srv
	}
	var out []domain.MCPServer
	for _, id := range ids {
		if srv, ok := byID[id]; ok {
			out = append(out, srv)
		}
	}
	return out, nil
}

// Delete removes a registration.
func (s *MCPStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.sql.ExecContext(ctx, `DELETE FROM mcp_servers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting mcp server: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mcp server %q: %w", id, ErrNotFound)
	}
	return nil
}

func scanMCP(row scanner) (*domain.MCPServer, error) {
	var srv domain.MCPServer
	var transport, args, env, createdAt string
	if err := row.Scan(&srv.ID, &srv.Name, &transport, &srv.Command, &args, &srv.URL, &env, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning mcp server: %w", err)
	}
	srv.Transport = domain.MCPTransport(transport)
	_ = json.Unmarshal([]byte(args), &srv.Args)
	_ = json.Unmarshal([]byte(env), &srv.Env)
	if len(srv.Args) == 0 {
		srv.Args = nil
	}
	if len(srv.Env) == 0 {
		srv.Env = nil
	}
	srv.CreatedAt = parseTime(createdAt)
	return &srv, nil
}
