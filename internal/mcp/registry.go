// Package mcp manages MCP tool server registrations and checks that a
// registered server answers the MCP handshake.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/soyeahso/codexm/internal/domain"
	"github.com/soyeahso/codexm/internal/logging"
	"github.com/soyeahso/codexm/internal/store"
)

// Registry validates and stores MCP server registrations.
type Registry struct {
	store *store.MCPStore
	log   *logging.Logger
}

// NewRegistry creates a registry over st.
func NewRegistry(st *store.MCPStore, log *logging.Logger) *Registry {
	if log == nil {
		log = logging.Nop()
	}
	return &Registry{store: st, log: log.Sub("mcp")}
}

// Validate checks that srv is complete for its transport.
func Validate(srv domain.MCPServer) error {
	if strings.TrimSpace(srv.Name) == "" {
		return errors.New("mcp server name is required")
	}
	switch srv.Transport {
	case domain.MCPStdio:
		if srv.Command == "" {
			return errors.New("stdio mcp server needs a command")
		}
	case domain.MCPSSE:
		u, err := url.Parse(srv.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("sse mcp server needs an http(s) url, got %q", srv.URL)
		}
	default:
		return fmt.Errorf("unknown mcp transport %q", srv.Transport)
	}
	return nil
}

// Register validates and stores srv.
func (r *Registry) Register(ctx context.Context, srv domain.MCPServer) (*domain.MCPServer, error) {
	if err := Validate(srv); err != nil {
		return nil, err
	}
	saved, err := r.store.Create(ctx, srv)
	if err != nil {
		return nil, err
	}
	r.log.Info().Str("name", saved.Name).Str("transport", string(saved.Transport)).Msg("mcp server registered")
	return saved, nil
}

// List returns every registration.
func (r *Registry) List(ctx context.Context) ([]domain.MCPServer, error) {
	return r.store.List(ctx)
}

// Resolve finds a registration by id or name.
func (r *Registry) Resolve(ctx context.Context, ref string) (*domain.MCPServer, error) {
	return r.store.Resolve(ctx, ref)
}

// Remove deletes the registration named by ref.
func (r *Registry) Remove(ctx context.Context, ref string) error {
	srv, err := r.store.Resolve(ctx, ref)
	if err != nil {
		return err
	}
	return r.store.Delete(ctx, srv.ID)
}

// Enabled returns the registrations a session has switched on.
func (r *Registry) Enabled(ctx context.Context, sess *domain.Session) ([]domain.MCPServer, error) {
	if sess == nil {
		return nil, nil
	}
	return r.store.Lookup(ctx, sess.ToolServers)
}
