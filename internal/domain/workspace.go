// Package domain holds the entities shared by the turn engine, the store and
// the CLI host.
package domain

import "time"

// SyncKind describes how a workspace directory is kept in sync.
type SyncKind string

const (
	SyncNone   SyncKind = "none"
	SyncGit    SyncKind = "git"
	SyncWebDAV SyncKind = "webdav"
)

// Workspace is a named directory that scopes sessions.
type Workspace struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Path     string   `json:"path"`
	SyncKind SyncKind `json:"syncKind"`
	Remote   string   `json:"remote,omitempty"`
	Git      GitSync  `json:"git"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// GitSync holds the options a git workspace is synced with.
type GitSync struct {
	// Branch is cloned, pulled and pushed instead of the current one.
	Branch string `json:"branch,omitempty"`
	// Username and Token authenticate HTTPS remotes. Token may be a
	// ${VAR} reference resolved at sync time.
	Username      string `json:"username,omitempty"`
	Token         string `json:"-"`
	AllowInsecure bool   `json:"allowInsecure,omitempty"`
	// AuthorName and AuthorEmail are set in a fresh clone's config.
	AuthorName  string `json:"authorName,omitempty"`
	AuthorEmail string `json:"authorEmail,omitempty"`
}

// MCPTransport is how an MCP server registration is reached.
type MCPTransport string

const (
	MCPStdio MCPTransport = "stdio"
	MCPSSE   MCPTransport = "sse"
)

// MCPServer is a user-registered tool server.
type MCPServer struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Transport MCPTransport      `json:"transport"`
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	URL       string            `json:"url,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}
