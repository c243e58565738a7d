// Package agent maps turns, reviews and rpc batches onto the codex
// app-server JSON-RPC vocabulary and streams the outcome as Events.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/soyeahso/codexm/internal/domain"
	"github.com/soyeahso/codexm/internal/logging"
	"github.com/soyeahso/codexm/internal/transport"
)

// ThreadBinder persists the thread id created for a session. It is called
// before the content call that needs the thread.
type ThreadBinder interface {
	BindThread(ctx context.Context, sessionID, threadID string) error
}

// ThreadOptions are the parameters of a new thread.
type ThreadOptions struct {
	Cwd            string
	Model          string
	ApprovalPolicy string
	Personality    string
	MCPServers     []domain.MCPServer
}

// ThreadEnvironment resolves the thread options for a session.
type ThreadEnvironment interface {
	ThreadOptions(ctx context.Context, sess *domain.Session) (ThreadOptions, error)
}

// Options configures an Adapter.
type Options struct {
	Dialer      transport.Dialer
	Binder      ThreadBinder
	Environment ThreadEnvironment
	// ApprovalDecision answers approval requests: "accept" or "decline".
	ApprovalDecision string
	// RequestTimeout bounds each non-streaming request.
	RequestTimeout time.Duration
	// InterruptGrace bounds the turn/interrupt exchange after cancellation.
	InterruptGrace time.Duration
	// Stderr, when set, receives every stderr line of the app-server.
	Stderr func(line string)
}

// Adapter owns the connection to one app-server and runs turns on it.
type Adapter struct {
	opts Options
	log  *logging.Logger

	mu   sync.Mutex
	conn *connection
}

// New creates an adapter. The connection is dialled on first use.
func New(opts Options, log *logging.Logger) *Adapter {
	if log == nil {
		log = logging.Nop()
	}
	if opts.ApprovalDecision == "" {
		opts.ApprovalDecision = "decline"
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if opts.InterruptGrace <= 0 {
		opts.InterruptGrace = 5 * time.Second
	}
	return &Adapter{opts: opts, log: log.Sub("agent")}
}

// connect returns the live connection, dialling and initializing a new one
// if there is none or the previous one ended.
func (a *Adapter) connect(ctx context.Context) (*connection, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.conn != nil && a.conn.alive() {
		return a.conn, nil
	}
	if a.opts.Dialer == nil {
		return nil, ErrNoConnection
	}

	tr, err := a.opts.Dialer(ctx)
	if err != nil {
		return nil, fmt.Errorf("connecting to app-server: %w", err)
	}

	log := a.log.Sub("connection")
	conn := newConnection(tr, log)
	conn.stderr = a.opts.Stderr
	conn.client.SetRequestHandler(a.requestHandler(log))
	go conn.pump()

	ictx, cancel := context.WithTimeout(ctx, a.opts.RequestTimeout)
	defer cancel()
	if err := conn.initialize(ictx); err != nil {
		_ = conn.close()
		return nil, err
	}

	a.conn = conn
	return conn, nil
}

// Close shuts the current connection, if any.
func (a *Adapter) Close() error {
	a.mu.Lock()
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.close()
}

// Connected reports whether a live connection exists.
func (a *Adapter) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn != nil && a.conn.alive()
}

// RunTurn executes req for sess and streams events on the returned
// channel, which is closed when the turn is over. Failures arrive as
// ErrorEvents; cancelling ctx ends the stream with a CancelledEvent. The
// caller must drain the channel.
func (a *Adapter) RunTurn(ctx context.Context, sess *domain.Session, req TurnRequest) <-chan Event {
	out := make(chan Event, 64)
	r := &run{
		a:        a,
		ctx:      ctx,
		sess:     sess.Clone(),
		threadID: sess.ThreadID,
		out:      out,
		log:      a.log.With("session", sess.ID),
	}

	go func() {
		defer close(out)
		defer func() {
			if p := recover(); p != nil {
				r.log.Error().Interface("panic", p).Msg("turn panicked")
				r.terminal(ErrorEvent{Message: fmt.Sprintf("internal error: %v", p)})
			}
		}()
		r.execute(req)
	}()
	return out
}
