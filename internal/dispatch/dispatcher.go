// Package dispatch turns one line of chat input into exactly one settled
// user/response pair: a navigation, a locally resolved command, or an agent
// turn, review or rpc batch.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/codexm/internal/agent"
	"github.com/soyeahso/codexm/internal/domain"
	"github.com/soyeahso/codexm/internal/logging"
	"github.com/soyeahso/codexm/internal/settings"
	"github.com/soyeahso/codexm/internal/transcript"
)

var (
	// ErrSessionBusy is returned while a previous dispatch on the same
	// session has not settled.
	ErrSessionBusy = errors.New("session is busy")
	// ErrEmptyInput is returned for blank input.
	ErrEmptyInput = errors.New("empty input")
)

// PlanPreamble is prepended to a one-shot /plan request.
const PlanPreamble = "Plan mode: do not change any files yet. Study the request below, " +
	"then reply with a numbered step-by-step plan and any open questions.\n\n"

// Runner starts agent turns.
type Runner interface {
	RunTurn(ctx context.Context, sess *domain.Session, req agent.TurnRequest) <-chan agent.Event
}

// SessionStore is the session persistence the dispatcher uses.
type SessionStore interface {
	Get(ctx context.Context, id string) (*domain.Session, error)
	Create(ctx context.Context, workspaceID, title string) (*domain.Session, error)
	List(ctx context.Context, workspaceID string) ([]domain.Session, error)
	SetMode(ctx context.Context, id string, mode domain.Mode) error
	AppendPair(ctx context.Context, user, response domain.ChatMessage) error
	Fork(ctx context.Context, src *domain.Session, threadID, title string) (*domain.Session, error)
}

// WorkspaceStore looks up workspaces.
type WorkspaceStore interface {
	Get(ctx context.Context, id string) (*domain.Workspace, error)
}

// ToolRegistry returns the MCP servers a session has enabled.
type ToolRegistry interface {
	Enabled(ctx context.Context, sess *domain.Session) ([]domain.MCPServer, error)
}

// Deps wires a Dispatcher.
type Deps struct {
	Runner     Runner
	Sessions   SessionStore
	Workspaces WorkspaceStore
	Tools      ToolRegistry
	Settings   *settings.File
	// Credentials is the agent login file removed by /logout.
	Credentials  string
	MentionLimit int
}

// Navigation tells the host where to go after a dispatch.
type Navigation int

const (
	NavNone Navigation = iota
	// NavBack leaves the chat.
	NavBack
	// NavSession opens Outcome.SessionID.
	NavSession
)

// Outcome is the settled result of one dispatch.
type Outcome struct {
	Nav       Navigation
	SessionID string
	// Insert is text for the compose box instead of a message (/apps <slug>).
	Insert string
	// User and Response are the persisted pair. Both are zero for
	// navigations and inserts.
	User     domain.ChatMessage
	Response domain.ChatMessage
	// Result is the reduced agent output; zero for local commands.
	Result transcript.Result
}

// Dispatcher classifies and executes chat input for any number of sessions,
// one dispatch per session at a time.
type Dispatcher struct {
	deps Deps
	log  *logging.Logger

	mu       sync.Mutex
	sending  map[string]bool
	mentions map[string]*Mentions
}

// New creates a dispatcher.
func New(deps Deps, log *logging.Logger) *Dispatcher {
	if log == nil {
		log = logging.Nop()
	}
	return &Dispatcher{
		deps:     deps,
		log:      log.Sub("dispatch"),
		sending:  make(map[string]bool),
		mentions: make(map[string]*Mentions),
	}
}

// Busy reports whether a dispatch is in flight for the session.
func (d *Dispatcher) Busy(sessionID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sending[sessionID]
}

func (d *Dispatcher) acquire(sessionID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sending[sessionID] {
		return false
	}
	d.sending[sessionID] = true
	return true
}

func (d *Dispatcher) release(sessionID string) {
	d.mu.Lock()
	delete(d.sending, sessionID)
	d.mu.Unlock()
}

// Mentions returns the mention queue of a session.
func (d *Dispatcher) Mentions(sessionID string) *Mentions {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.mentions[sessionID]
	if !ok {
		m = NewMentions(d.deps.MentionLimit)
		d.mentions[sessionID] = m
	}
	return m
}

// action is the execution path chosen for one input.
type action struct {
	role  domain.Role
	local func(ctx context.Context) (string, error)
	req   *agent.TurnRequest
	// drain consumes the mention queue into the turn input.
	drain bool
	// after adjusts the reduced result before it is persisted.
	after func(ctx context.Context, res *transcript.Result)
}

// Dispatch executes one line of input for sess. tr is the session's
// visible transcript: the user message and an empty placeholder are
// appended before anything runs and the placeholder is updated in place.
// The pair is persisted once, after the response settles, even when ctx is
// cancelled. sess is refreshed from the store when the dispatch changes it.
func (d *Dispatcher) Dispatch(ctx context.Context, sess *domain.Session, tr *transcript.Transcript, input string) (*Outcome, error) {
	text := strings.TrimSpace(input)
	if text == "" {
		return nil, ErrEmptyInput
	}
	if !d.acquire(sess.ID) {
		return nil, ErrSessionBusy
	}
	defer d.release(sess.ID)

	log := d.log.With("session", sess.ID)
	cmd, arg, isCmd := Parse(text)

	var act action
	switch {
	case isCmd && cmd.Class == ClassNav:
		out, msg := d.navigate(ctx, sess, cmd, arg)
		if out != nil {
			log.Debug().Str("cmd", cmd.Name).Msg("navigating")
			return out, nil
		}
		act = d.reply(msg)
	case isCmd && cmd.Name == CmdApps && arg != "":
		return &Outcome{Insert: "$" + arg + " "}, nil
	case isCmd:
		act = d.command(sess, cmd, arg)
	default:
		act = action{
			role:  domain.RoleAssistant,
			req:   &agent.TurnRequest{Kind: agent.KindTurn, Input: text, Mode: sess.Mode.Normalize()},
			drain: true,
		}
	}
	if act.req != nil && d.deps.Runner == nil {
		act = d.reply(agent.ErrNoConnection.Error())
	}

	user := newMessage(sess, domain.RoleUser, text)
	resp := newMessage(sess, act.role, "")
	tr.Append(user, resp)

	persistCtx := context.WithoutCancel(ctx)
	out := &Outcome{}

	if act.local != nil {
		resp.Content = d.runLocal(ctx, log, act.local)
		tr.Update(resp.ID, resp.Content)
	} else {
		req := *act.req
		if act.drain {
			req.Input = withMentions(d.Mentions(sess.ID).DrainAll(), req.Input)
		}
		log.Debug().Str("kind", string(req.Kind)).Int("calls", len(req.Calls)).Msg("running agent request")

		res := transcript.NewReducer(tr, resp.ID).Consume(d.deps.Runner.RunTurn(ctx, sess, req))
		if act.after != nil {
			act.after(persistCtx, &res)
		}
		d.refresh(persistCtx, sess)

		if hasCall(req, agent.MethodThreadFork) {
			d.finishFork(persistCtx, log, sess, req, &res, out)
		}
		resp.Content = res.Content
		tr.Update(resp.ID, resp.Content)
		out.Result = res
	}

	out.User = user
	out.Response = resp
	if err := d.deps.Sessions.AppendPair(persistCtx, user, resp); err != nil {
		log.Error().Err(err).Msg("failed to persist messages")
		return out, fmt.Errorf("saving messages: %w", err)
	}
	return out, nil
}

// reply is a local action that answers with a fixed message.
func (d *Dispatcher) reply(msg string) action {
	return action{
		role:  domain.RoleSystem,
		local: func(context.Context) (string, error) { return msg, nil },
	}
}

func (d *Dispatcher) localAction(fn func(ctx context.Context) (string, error)) action {
	return action{role: domain.RoleSystem, local: fn}
}

func rpcAction(sess *domain.Session, calls ...agent.RPCCall) action {
	return action{
		role: domain.RoleSystem,
		req:  &agent.TurnRequest{Kind: agent.KindRPC, Mode: sess.Mode.Normalize(), Calls: calls},
	}
}

// runLocal runs a local handler; its error or panic becomes the content.
func (d *Dispatcher) runLocal(ctx context.Context, log *logging.Logger, fn func(ctx context.Context) (string, error)) (content string) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Msg("local command panicked")
			content = fmt.Sprintf("internal error: %v", p)
		}
	}()
	content, err := fn(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("local command failed")
		return err.Error()
	}
	return content
}

// refresh reloads sess so thread bindings made during the turn are visible
// to the caller.
func (d *Dispatcher) refresh(ctx context.Context, sess *domain.Session) {
	fresh, err := d.deps.Sessions.Get(ctx, sess.ID)
	if err != nil {
		d.log.Warn().Err(err).Str("session", sess.ID).Msg("failed to reload session")
		return
	}
	*sess = *fresh
}

// finishFork creates the forked session from a successful thread/fork call
// and points the outcome at it. The source log is copied before the /fork
// exchange itself is persisted.
func (d *Dispatcher) finishFork(ctx context.Context, log *logging.Logger, sess *domain.Session, req agent.TurnRequest, res *transcript.Result, out *Outcome) {
	threadID := forkedThread(req, *res)
	if threadID == "" {
		if !res.Failed() {
			res.Content = joinBlocks(res.Content, "The agent did not return a forked thread.")
		}
		return
	}

	title := "Fork"
	if sess.Title != "" {
		title = sess.Title + " (fork)"
	}
	forked, err := d.deps.Sessions.Fork(ctx, sess, threadID, title)
	if err != nil {
		log.Error().Err(err).Msg("failed to create forked session")
		res.Content = joinBlocks(res.Content, "Fork failed: "+err.Error())
		return
	}

	log.Info().Str("fork", forked.ID).Str("thread", threadID).Msg("session forked")
	res.Content = joinBlocks(res.Content, fmt.Sprintf("Forked into session %s.", forked.ID))
	out.Nav = NavSession
	out.SessionID = forked.ID
}

func forkedThread(req agent.TurnRequest, res transcript.Result) string {
	if req.Kind != agent.KindRPC {
		return ""
	}
	for _, r := range res.Results {
		if r.Method == agent.MethodThreadFork {
			return agent.ThreadIDFromResult(r.Result)
		}
	}
	return ""
}

func hasCall(req agent.TurnRequest, method string) bool {
	if req.Kind != agent.KindRPC {
		return false
	}
	for _, c := range req.Calls {
		if c.Method == method {
			return true
		}
	}
	return false
}

func newMessage(sess *domain.Session, role domain.Role, content string) domain.ChatMessage {
	return domain.ChatMessage{
		ID:          uuid.New().String(),
		SessionID:   sess.ID,
		WorkspaceID: sess.WorkspaceID,
		Role:        role,
		CreatedAt:   time.Now().UTC(),
		Content:     content,
	}
}

func joinBlocks(blocks ...string) string {
	var parts []string
	for _, b := range blocks {
		if b != "" {
			parts = append(parts, b)
		}
	}
	return strings.Join(parts, "\n\n")
}
