package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/soyeahso/codexm/internal/jsonrpc"
	"github.com/soyeahso/codexm/internal/logging"
	"github.com/soyeahso/codexm/internal/transport"
	"github.com/soyeahso/codexm/internal/version"
)

var (
	// ErrNoConnection is returned when no way to reach the app-server is
	// configured.
	ErrNoConnection = errors.New("agent: no app-server configured")
	// ErrConnectionClosed rejects calls pending when the transport ends
	// without a more specific reason.
	ErrConnectionClosed = errors.New("agent: app-server connection closed")
)

// connection is one live transport plus the client correlating over it.
type connection struct {
	client *jsonrpc.Client
	tr     transport.Transport
	log    *logging.Logger
	done   chan struct{}
	stderr func(string)

	mu     sync.Mutex
	loaded map[string]bool
	err    error
}

func newConnection(tr transport.Transport, log *logging.Logger) *connection {
	c := &connection{
		tr:     tr,
		log:    log,
		done:   make(chan struct{}),
		loaded: make(map[string]bool),
	}
	c.client = jsonrpc.New(tr.Send, log)
	return c
}

// pump feeds stdout lines to the client until the transport ends, then
// fails every pending call.
func (c *connection) pump() {
	for line := range c.tr.Lines() {
		if line.Stream == transport.Stderr {
			c.log.Debug().Str("line", line.Text).Msg("app-server stderr")
			if c.stderr != nil {
				c.stderr(line.Text)
			}
			continue
		}
		c.client.HandleLine(line.Text)
	}

	err := c.tr.Err()
	if err == nil {
		err = ErrConnectionClosed
	}
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	close(c.done)
	c.client.RejectAllPending(err)
	c.log.Info().Err(err).Msg("app-server connection ended")
}

func (c *connection) alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// closeErr reports why the connection ended.
func (c *connection) closeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		return ErrConnectionClosed
	}
	return c.err
}

func (c *connection) isLoaded(threadID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded[threadID]
}

func (c *connection) markLoaded(threadID string) {
	c.mu.Lock()
	c.loaded[threadID] = true
	c.mu.Unlock()
}

// initialize performs the handshake every app-server expects before any
// other request.
func (c *connection) initialize(ctx context.Context) error {
	params := map[string]any{"clientInfo": version.Client()}
	var result struct {
		UserAgent string `json:"userAgent"`
	}
	if err := c.client.Call(ctx, MethodInitialize, params, &result); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if err := c.client.Notify(ctx, MethodInitialized, nil); err != nil {
		return err
	}
	c.log.Debug().Str("userAgent", result.UserAgent).Msg("app-server initialized")
	return nil
}

func (c *connection) close() error {
	return c.tr.Close()
}

// approvalReply maps the configured decision onto both approval
// dialects the app-server speaks.
func approvalReply(method, decision string) (any, error) {
	accept := decision != "decline"
	switch method {
	case RequestCommandApproval, RequestFileChangeApproval:
		if accept {
			return map[string]string{"decision": "accept"}, nil
		}
		return map[string]string{"decision": "decline"}, nil
	case RequestLegacyExecApproval, RequestLegacyPatchApprove:
		if accept {
			return map[string]string{"decision": "approved"}, nil
		}
		return map[string]string{"decision": "denied"}, nil
	}
	return nil, &jsonrpc.Error{Code: jsonrpc.CodeMethodNotFound, Message: "unsupported request: " + method}
}

// requestHandler answers server-initiated requests on this connection.
func (a *Adapter) requestHandler(log *logging.Logger) jsonrpc.RequestHandler {
	return func(_ context.Context, method string, params json.RawMessage) (any, error) {
		reply, err := approvalReply(method, a.opts.ApprovalDecision)
		if err != nil {
			log.Warn().Str("method", method).Msg("unhandled server request")
			return nil, err
		}
		log.Info().
			Str("method", method).
			Str("decision", a.opts.ApprovalDecision).
			RawJSON("params", nonEmptyJSON(params)).
			Msg("answered approval request")
		return reply, nil
	}
}

func nonEmptyJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	return raw
}
