package dispatch

import (
	"context"
	"fmt"

	"github.com/soyeahso/codexm/internal/agent"
	"github.com/soyeahso/codexm/internal/domain"
	"github.com/soyeahso/codexm/internal/settings"
)

// Environment resolves the options of a new agent thread from the
// session's workspace, the agent settings file and the enabled MCP
// servers. It satisfies agent.ThreadEnvironment.
type Environment struct {
	Workspaces WorkspaceStore
	Tools      ToolRegistry
	Settings   *settings.File
}

var _ agent.ThreadEnvironment = (*Environment)(nil)

// ThreadOptions implements agent.ThreadEnvironment.
func (e *Environment) ThreadOptions(ctx context.Context, sess *domain.Session) (agent.ThreadOptions, error) {
	var opts agent.ThreadOptions

	ws, err := e.Workspaces.Get(ctx, sess.WorkspaceID)
	if err != nil {
		return opts, fmt.Errorf("resolving workspace: %w", err)
	}
	opts.Cwd = ws.Path

	if e.Settings != nil {
		s, err := e.Settings.Load()
		if err != nil {
			return opts, err
		}
		opts.Model = s.Model
		opts.ApprovalPolicy = s.ApprovalPolicy
		opts.Personality = s.Personality
	}

	if e.Tools != nil {
		servers, err := e.Tools.Enabled(ctx, sess)
		if err != nil {
			return opts, fmt.Errorf("resolving mcp servers: %w", err)
		}
		opts.MCPServers = servers
	}
	return opts, nil
}
