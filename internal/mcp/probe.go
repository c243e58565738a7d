package mcp

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"github.com/soyeahso/codexm/internal/domain"
	"github.com/soyeahso/codexm/internal/version"
)

// DefaultProbeTimeout bounds a probe when the caller's context has no deadline.
const DefaultProbeTimeout = 15 * time.Second

// Tool is one tool a server advertises.
type Tool struct {
	Name        string
	Description string
}

// ProbeResult is what a server reported during the handshake.
type ProbeResult struct {
	ServerName      string
	ServerVersion   string
	ProtocolVersion string
	Tools           []Tool
}

// Probe starts or connects to srv, performs the MCP handshake, lists its
// tools and disconnects.
func Probe(ctx context.Context, srv domain.MCPServer) (*ProbeResult, error) {
	if err := Validate(srv); err != nil {
		return nil, err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultProbeTimeout)
		defer cancel()
	}

	c, err := connect(ctx, srv)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", srv.Name, err)
	}
	defer c.Close()

	return probeClient(ctx, c)
}

func connect(ctx context.Context, srv domain.MCPServer) (*client.Client, error) {
	switch srv.Transport {
	case domain.MCPSSE:
		var opts []transport.ClientOption
		if len(srv.Env) > 0 {
			opts = append(opts, transport.WithHeaders(srv.Env))
		}
		c, err := client.NewSSEMCPClient(srv.URL, opts...)
		if err != nil {
			return nil, err
		}
		// SSE must be started before Initialize.
		if err := c.Start(ctx); err != nil {
			c.Close()
			return nil, fmt.Errorf("starting sse transport: %w", err)
		}
		return c, nil
	default:
		return client.NewStdioMCPClient(srv.Command, processEnv(srv.Env), srv.Args...)
	}
}

// processEnv starts from the current environment so PATH survives.
func processEnv(extra map[string]string) []string {
	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

func probeClient(ctx context.Context, c *client.Client) (*ProbeResult, error) {
	info := version.Client()
	initReq := mcptypes.InitializeRequest{
		Params: mcptypes.InitializeParams{
			ProtocolVersion: mcptypes.LATEST_PROTOCOL_VERSION,
			Capabilities:    mcptypes.ClientCapabilities{},
			ClientInfo: mcptypes.Implementation{
				Name:    info.Name,
				Version: info.Version,
			},
		},
	}
	initRes, err := c.Initialize(ctx, initReq)
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}

	toolsRes, err := c.ListTools(ctx, mcptypes.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}

	res := &ProbeResult{
		ServerName:      initRes.ServerInfo.Name,
		ServerVersion:   initRes.ServerInfo.Version,
		ProtocolVersion: initRes.ProtocolVersion,
	}
	for _, t := range toolsRes.Tools {
		res.Tools = append(res.Tools, Tool{Name: t.Name, Description: t.Description})
	}
	return res, nil
}
