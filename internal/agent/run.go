package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/soyeahso/codexm/internal/domain"
	"github.com/soyeahso/codexm/internal/jsonrpc"
	"github.com/soyeahso/codexm/internal/logging"
)

// run is the state of one RunTurn invocation.
type run struct {
	a        *Adapter
	ctx      context.Context
	sess     *domain.Session
	threadID string
	out      chan<- Event
	log      *logging.Logger

	wroteText bool
}

type note struct {
	method string
	params json.RawMessage
}

type startReply struct {
	raw json.RawMessage
	err error
}

// turnState tracks one streaming turn.
type turnState struct {
	threadID string
	turnID   string
	lastItem string
	deltas   map[string]bool
	text     bool
}

func (r *run) execute(req TurnRequest) {
	conn, err := r.a.connect(r.ctx)
	if err != nil {
		r.fail(err)
		return
	}

	switch req.Kind {
	case KindTurn, KindReview:
		r.stream(conn, req)
	case KindRPC:
		r.batch(conn, req.Calls)
	default:
		r.terminal(ErrorEvent{Message: fmt.Sprintf("unknown request kind %q", req.Kind)})
	}
}

// emit delivers ev unless the turn was cancelled first.
func (r *run) emit(ev Event) bool {
	select {
	case r.out <- ev:
		return true
	case <-r.ctx.Done():
		return false
	}
}

// terminal delivers the last event of the turn.
func (r *run) terminal(ev Event) {
	r.out <- ev
}

func (r *run) fail(err error) {
	if r.ctx.Err() != nil {
		r.terminal(CancelledEvent{})
		return
	}
	r.log.Warn().Err(err).Msg("turn failed")
	r.terminal(ErrorEvent{Message: err.Error()})
}

func (r *run) request(conn *connection, method string, params any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(r.ctx, r.a.opts.RequestTimeout)
	defer cancel()
	raw, err := conn.client.Request(ctx, method, params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return raw, nil
}

// ensureThread makes sure the session has a thread loaded on conn. A new
// thread id is persisted through the binder before it is used.
func (r *run) ensureThread(conn *connection) error {
	if r.threadID != "" {
		if conn.isLoaded(r.threadID) {
			return nil
		}
		_, err := r.request(conn, MethodThreadResume, map[string]any{"threadId": r.threadID})
		if err == nil {
			conn.markLoaded(r.threadID)
			return nil
		}
		var rpcErr *jsonrpc.Error
		if !errors.As(err, &rpcErr) {
			return err
		}
		r.log.Warn().Err(err).Str("thread", r.threadID).Msg("resume failed, starting a new thread")
	}
	return r.startThread(conn)
}

func (r *run) startThread(conn *connection) error {
	params := map[string]any{}
	if env := r.a.opts.Environment; env != nil {
		opts, err := env.ThreadOptions(r.ctx, r.sess)
		if err != nil {
			return fmt.Errorf("resolving thread options: %w", err)
		}
		params = threadStartParams(opts)
	}

	raw, err := r.request(conn, MethodThreadStart, params)
	if err != nil {
		return err
	}
	id := threadIDFrom(raw)
	if id == "" {
		return fmt.Errorf("%s returned no thread id", MethodThreadStart)
	}
	if b := r.a.opts.Binder; b != nil {
		if err := b.BindThread(r.ctx, r.sess.ID, id); err != nil {
			return fmt.Errorf("saving thread id: %w", err)
		}
	}

	conn.markLoaded(id)
	r.threadID = id
	r.sess.ThreadID = id
	r.log.Debug().Str("thread", id).Msg("thread started")
	return nil
}

func (r *run) contentCall(req TurnRequest) (string, map[string]any) {
	if req.Kind == KindReview {
		target := map[string]any{"type": "uncommittedChanges"}
		if req.Input != "" {
			target = map[string]any{"type": "custom", "instructions": req.Input}
		}
		return MethodReviewStart, map[string]any{
			"threadId": r.threadID,
			"target":   target,
			"delivery": "inline",
		}
	}
	return MethodTurnStart, map[string]any{
		"threadId": r.threadID,
		"input": []map[string]any{
			{"type": "text", "text": req.Input},
		},
		"collaborationMode": map[string]any{"mode": collaborationMode(req.Mode)},
	}
}

// stream runs a turn or review and relays its notifications until the turn
// completes, fails, or is cancelled.
func (r *run) stream(conn *connection, req TurnRequest) {
	if err := r.ensureThread(conn); err != nil {
		r.fail(err)
		return
	}
	if r.ctx.Err() != nil {
		r.terminal(CancelledEvent{})
		return
	}

	method, params := r.contentCall(req)

	notes := make(chan note, 256)
	finished := make(chan struct{})
	defer close(finished)
	remove := conn.client.OnNotification(func(m string, p json.RawMessage) {
		select {
		case notes <- note{method: m, params: p}:
		case <-finished:
		}
	})
	defer remove()

	// The start request outlives cancellation so the turn id needed by
	// turn/interrupt can still be read.
	startCtx, cancelStart := context.WithTimeout(context.WithoutCancel(r.ctx), r.a.opts.RequestTimeout)
	defer cancelStart()
	started := make(chan startReply, 1)
	go func() {
		raw, err := conn.client.Request(startCtx, method, params)
		started <- startReply{raw: raw, err: err}
	}()

	s := &turnState{threadID: r.threadID, deltas: make(map[string]bool)}
	pendingStart := started
	for {
		select {
		case <-r.ctx.Done():
			r.interrupt(conn, s, pendingStart)
			return
		case rep := <-pendingStart:
			pendingStart = nil
			if rep.err != nil {
				r.fail(fmt.Errorf("%s: %w", method, rep.err))
				return
			}
			if s.turnID == "" {
				s.turnID = turnIDFrom(rep.raw)
			}
		case n := <-notes:
			if r.handle(s, n) {
				return
			}
		case <-conn.done:
			for {
				select {
				case n := <-notes:
					if r.handle(s, n) {
						return
					}
				default:
					r.fail(conn.closeErr())
					return
				}
			}
		}
	}
}

// handle applies one notification and reports whether the turn is over.
func (r *run) handle(s *turnState, n note) bool {
	var env struct {
		ThreadID string `json:"threadId"`
		TurnID   string `json:"turnId"`
		Turn     *struct {
			ID string `json:"id"`
		} `json:"turn"`
	}
	_ = json.Unmarshal(n.params, &env)
	if env.ThreadID != "" && env.ThreadID != s.threadID {
		return false
	}
	turnID := env.TurnID
	if turnID == "" && env.Turn != nil {
		turnID = env.Turn.ID
	}
	if s.turnID != "" && turnID != "" && turnID != s.turnID {
		return false
	}

	switch n.method {
	case NotifyTurnStarted:
		if s.turnID == "" {
			s.turnID = turnID
		}

	case NotifyAgentDelta:
		var p struct {
			ItemID string `json:"itemId"`
			Delta  string `json:"delta"`
		}
		if json.Unmarshal(n.params, &p) != nil || p.Delta == "" {
			return false
		}
		s.deltas[p.ItemID] = true
		r.text(s, p.ItemID, p.Delta)

	case NotifyItemCompleted:
		var p struct {
			Item struct {
				Type   string `json:"type"`
				ID     string `json:"id"`
				Text   string `json:"text"`
				Review string `json:"review"`
			} `json:"item"`
		}
		if json.Unmarshal(n.params, &p) != nil {
			return false
		}
		switch p.Item.Type {
		case ItemAgentMessage:
			if !s.deltas[p.Item.ID] && p.Item.Text != "" {
				r.text(s, p.Item.ID, p.Item.Text)
			}
		case ItemExitedReviewMode:
			if !s.text && p.Item.Review != "" {
				r.text(s, p.Item.ID, p.Item.Review)
			}
		}

	case NotifyError:
		var p struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
			WillRetry bool `json:"willRetry"`
		}
		_ = json.Unmarshal(n.params, &p)
		if p.WillRetry {
			r.log.Info().Str("error", p.Error.Message).Msg("agent retrying")
			return false
		}
		msg := p.Error.Message
		if msg == "" {
			msg = "agent reported an error"
		}
		r.terminal(ErrorEvent{Message: msg})
		return true

	case NotifyTurnCompleted:
		var p struct {
			Turn struct {
				Status string `json:"status"`
				Error  *struct {
					Message string `json:"message"`
				} `json:"error"`
			} `json:"turn"`
		}
		_ = json.Unmarshal(n.params, &p)
		switch p.Turn.Status {
		case TurnFailed:
			msg := "turn failed"
			if p.Turn.Error != nil && p.Turn.Error.Message != "" {
				msg = p.Turn.Error.Message
			}
			r.terminal(ErrorEvent{Message: msg})
		case TurnInterrupted:
			r.terminal(CancelledEvent{})
		}
		return true
	}
	return false
}

// text emits a delta, separating consecutive agent messages with a blank
// line.
func (r *run) text(s *turnState, itemID, delta string) {
	if s.text && itemID != s.lastItem {
		delta = "\n\n" + delta
	}
	s.text = true
	s.lastItem = itemID
	r.emit(TextEvent{Text: delta})
}

// interrupt asks the agent to stop the in-flight turn and ends the stream.
func (r *run) interrupt(conn *connection, s *turnState, pendingStart <-chan startReply) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), r.a.opts.InterruptGrace)
	defer cancel()

	if s.turnID == "" && pendingStart != nil {
		select {
		case rep := <-pendingStart:
			if rep.err == nil {
				s.turnID = turnIDFrom(rep.raw)
			}
		case <-ctx.Done():
		}
	}

	if s.turnID != "" && conn.alive() {
		params := map[string]any{"threadId": s.threadID, "turnId": s.turnID}
		if _, err := conn.client.Request(ctx, MethodTurnInterrupt, params); err != nil {
			r.log.Warn().Err(err).Str("turn", s.turnID).Msg("interrupt failed")
		}
	}
	r.terminal(CancelledEvent{})
}

// batch issues calls in order. A failing call yields an ErrorEvent and the
// batch moves on.
func (r *run) batch(conn *connection, calls []RPCCall) {
	for _, call := range calls {
		if r.ctx.Err() != nil {
			r.terminal(CancelledEvent{})
			return
		}
		if !conn.alive() {
			next, err := r.a.connect(r.ctx)
			if err != nil {
				r.fail(err)
				return
			}
			conn = next
		}

		params := make(map[string]any, len(call.Params)+1)
		for k, v := range call.Params {
			params[k] = v
		}
		if call.RequiresThread {
			if err := r.ensureThread(conn); err != nil {
				if !r.callFailed(call.Method, err) {
					return
				}
				continue
			}
			params["threadId"] = r.threadID
		}

		raw, err := r.request(conn, call.Method, params)
		if err != nil {
			if !r.callFailed(call.Method, err) {
				return
			}
			continue
		}

		if call.Method == MethodThreadFork {
			if id := threadIDFrom(raw); id != "" {
				conn.markLoaded(id)
			}
		}
		if call.EmitText {
			text := formatResult(call, raw)
			if r.wroteText {
				text = "\n\n" + text
			}
			r.wroteText = true
			if !r.emit(TextEvent{Text: text}) {
				continue
			}
		}
		r.emit(RPCResultEvent{Method: call.Method, Result: raw})
	}
	if r.ctx.Err() != nil {
		r.terminal(CancelledEvent{})
	}
}

// callFailed reports a batch call failure and whether the batch should go
// on.
func (r *run) callFailed(method string, err error) bool {
	if r.ctx.Err() != nil {
		r.terminal(CancelledEvent{})
		return false
	}
	r.log.Debug().Err(err).Str("method", method).Msg("rpc call failed")
	return r.emit(ErrorEvent{Message: err.Error(), Method: method})
}

func formatResult(call RPCCall, raw json.RawMessage) string {
	title := call.Title
	if title == "" {
		title = call.Method
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return title + "\n" + string(raw)
	}
	return title + "\n" + buf.String()
}

func threadStartParams(o ThreadOptions) map[string]any {
	p := map[string]any{}
	if o.Cwd != "" {
		p["cwd"] = o.Cwd
	}
	if o.Model != "" {
		p["model"] = o.Model
	}
	if o.ApprovalPolicy != "" {
		p["approvalPolicy"] = o.ApprovalPolicy
	}
	if o.Personality != "" {
		p["personality"] = o.Personality
	}
	if len(o.MCPServers) > 0 {
		servers := make(map[string]any, len(o.MCPServers))
		for _, s := range o.MCPServers {
			servers[s.Name] = mcpServerConfig(s)
		}
		p["config"] = map[string]any{"mcp_servers": servers}
	}
	return p
}

func mcpServerConfig(s domain.MCPServer) map[string]any {
	if s.Transport == domain.MCPSSE {
		return map[string]any{"url": s.URL}
	}
	cfg := map[string]any{"command": s.Command}
	if len(s.Args) > 0 {
		cfg["args"] = s.Args
	}
	if len(s.Env) > 0 {
		cfg["env"] = s.Env
	}
	return cfg
}

func collaborationMode(m domain.Mode) string {
	if m.Normalize() == domain.ModePlan {
		return "plan"
	}
	return "default"
}

// threadIDFrom reads result.thread.id.
func threadIDFrom(raw json.RawMessage) string {
	var res struct {
		Thread struct {
			ID string `json:"id"`
		} `json:"thread"`
	}
	if json.Unmarshal(raw, &res) != nil {
		return ""
	}
	return res.Thread.ID
}

// turnIDFrom reads result.turn.id.
func turnIDFrom(raw json.RawMessage) string {
	var res struct {
		Turn struct {
			ID string `json:"id"`
		} `json:"turn"`
	}
	if json.Unmarshal(raw, &res) != nil {
		return ""
	}
	return res.Turn.ID
}

// ThreadIDFromResult extracts the thread id from a thread/start or
// thread/fork result.
func ThreadIDFromResult(raw json.RawMessage) string {
	return threadIDFrom(raw)
}
