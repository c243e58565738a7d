package domain

import "time"

// Mode is the collaboration mode a session sends with each turn.
type Mode string

const (
	ModeCode Mode = "code"
	ModePlan Mode = "plan"
)

// Normalize maps the empty mode to ModeCode.
func (m Mode) Normalize() Mode {
	if m == ModePlan {
		return ModePlan
	}
	return ModeCode
}

// Toggle returns the other mode.
func (m Mode) Toggle() Mode {
	if m.Normalize() == ModePlan {
		return ModeCode
	}
	return ModePlan
}

// Session is one conversation scoped to a workspace.
type Session struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspaceId"`
	Title       string    `json:"title"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	ThreadID    string    `json:"threadId,omitempty"` // agent thread bound to this session
	Mode        Mode      `json:"mode,omitempty"`
	ToolServers []string  `json:"toolServers,omitempty"` // enabled MCP server IDs
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	c := *s
	if s.ToolServers != nil {
		c.ToolServers = append([]string(nil), s.ToolServers...)
	}
	return &c
}
