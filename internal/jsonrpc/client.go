// Package jsonrpc implements a bidirectional JSON-RPC correlator over an
// abstract line transport.
//
// The caller owns framing: it sends one serialized message per call of the
// SendFunc and hands every complete inbound line to HandleLine. Outbound
// messages omit the "jsonrpc" member, matching the codex app-server dialect;
// inbound messages may carry it.
package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/soyeahso/codexm/internal/logging"
)

// SendFunc writes one line to the transport.
type SendFunc func(ctx context.Context, line string) error

// NotificationHandler receives server notifications.
type NotificationHandler func(method string, params json.RawMessage)

// RequestHandler answers server-initiated requests. The returned value is
// serialized as the reply's result; a returned *Error is sent as-is, any
// other error becomes an internal error reply.
type RequestHandler func(ctx context.Context, method string, params json.RawMessage) (any, error)

type outcome struct {
	result json.RawMessage
	err    error
}

type listener struct {
	id uint64
	fn NotificationHandler
}

// Client correlates requests and responses over a line transport.
type Client struct {
	send SendFunc
	log  *logging.Logger

	nextID atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan outcome

	lmu        sync.RWMutex
	listeners  []listener
	listenerID uint64
	handler    RequestHandler
}

// New creates a client that writes through send.
func New(send SendFunc, log *logging.Logger) *Client {
	if log == nil {
		log = logging.Nop()
	}
	return &Client{
		send:    send,
		log:     log.Sub("jsonrpc"),
		pending: make(map[int64]chan outcome),
	}
}

// Request sends a call and waits for its response. If ctx ends first the
// pending entry is dropped and ctx.Err() is returned.
func (c *Client) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	data, err := json.Marshal(request{ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", method, err)
	}

	ch := make(chan outcome, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	c.log.Trace().Int64("id", id).Str("method", method).Msg("request")

	if err := c.send(ctx, string(data)); err != nil {
		c.drop(id)
		return nil, fmt.Errorf("sending %s: %w", method, err)
	}

	select {
	case out := <-ch:
		return out.result, out.err
	case <-ctx.Done():
		c.drop(id)
		return nil, ctx.Err()
	}
}

// Call is Request followed by decoding the result into out. A nil out
// discards the result.
func (c *Client) Call(ctx context.Context, method string, params, out any) error {
	raw, err := c.Request(ctx, method, params)
	if err != nil {
		return err
	}
	if out == nil || isNull(raw) {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding %s result: %w", method, err)
	}
	return nil
}

// Notify sends a notification. No pending entry is created.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	data, err := json.Marshal(notification{Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("encoding %s: %w", method, err)
	}
	if err := c.send(ctx, string(data)); err != nil {
		return fmt.Errorf("sending %s: %w", method, err)
	}
	return nil
}

// OnNotification registers fn for every inbound notification and returns a
// function that removes it.
func (c *Client) OnNotification(fn NotificationHandler) (remove func()) {
	c.lmu.Lock()
	c.listenerID++
	id := c.listenerID
	c.listeners = append(c.listeners, listener{id: id, fn: fn})
	c.lmu.Unlock()

	return func() {
		c.lmu.Lock()
		defer c.lmu.Unlock()
		for i, l := range c.listeners {
			if l.id == id {
				c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

// SetRequestHandler installs the handler for server-initiated requests.
func (c *Client) SetRequestHandler(h RequestHandler) {
	c.lmu.Lock()
	c.handler = h
	c.lmu.Unlock()
}

// Pending returns the number of outstanding requests.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// RejectAllPending fails every outstanding request with reason and clears
// the pending set. Calling it with nothing pending is a no-op.
func (c *Client) RejectAllPending(reason error) {
	if reason == nil {
		reason = errors.New("jsonrpc: connection closed")
	}
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int64]chan outcome)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- outcome{err: reason}
	}
	if len(pending) > 0 {
		c.log.Debug().Int("count", len(pending)).Err(reason).Msg("rejected pending requests")
	}
}

// HandleLine processes one inbound message. Malformed input and responses
// for unknown ids are dropped; nothing propagates to the caller.
func (c *Client) HandleLine(line string) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Msg("recovered while handling line")
		}
	}()

	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		c.log.Debug().Err(err).Msg("ignoring malformed line")
		return
	}

	idRaw, hasID := fields["id"]
	if hasID && isNull(idRaw) {
		hasID = false
	}
	var method string
	if raw, ok := fields["method"]; ok {
		_ = json.Unmarshal(raw, &method)
	}
	resultRaw, hasResult := fields["result"]
	errRaw, hasError := fields["error"]

	switch {
	case hasID && (hasResult || hasError):
		c.resolve(idRaw, resultRaw, errRaw, hasError)
	case hasID && method != "":
		go c.serve(idRaw, method, fields["params"])
	case method != "":
		c.notify(method, fields["params"])
	default:
		c.log.Debug().Msg("ignoring message without id or method")
	}
}

func (c *Client) resolve(idRaw, resultRaw, errRaw json.RawMessage, hasError bool) {
	id, ok := parseID(idRaw)
	if !ok {
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if !ok {
		c.log.Debug().Int64("id", id).Msg("dropping response for unknown id")
		return
	}

	if hasError && !isNull(errRaw) {
		ch <- outcome{err: parseError(errRaw)}
		return
	}
	ch <- outcome{result: resultRaw}
}

func (c *Client) serve(id json.RawMessage, method string, params json.RawMessage) {
	c.lmu.RLock()
	h := c.handler
	c.lmu.RUnlock()

	var reply any
	if h == nil {
		reply = errorReply{ID: id, Error: &Error{Code: CodeMethodNotFound, Message: "method not found: " + method}}
	} else if result, err := c.callHandler(h, method, params); err != nil {
		reply = errorReply{ID: id, Error: toError(err)}
	} else {
		reply = resultReply{ID: id, Result: result}
	}

	data, err := json.Marshal(reply)
	if err != nil {
		c.log.Warn().Err(err).Str("method", method).Msg("encoding reply failed")
		data, _ = json.Marshal(errorReply{ID: id, Error: &Error{Code: CodeInternalError, Message: err.Error()}})
	}
	if err := c.send(context.Background(), string(data)); err != nil {
		c.log.Warn().Err(err).Str("method", method).Msg("sending reply failed")
	}
}

func (c *Client) callHandler(h RequestHandler, method string, params json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &Error{Code: CodeInternalError, Message: fmt.Sprint(r)}
		}
	}()
	return h(context.Background(), method, params)
}

func (c *Client) notify(method string, params json.RawMessage) {
	c.lmu.RLock()
	listeners := make([]listener, len(c.listeners))
	copy(listeners, c.listeners)
	c.lmu.RUnlock()

	for _, l := range listeners {
		c.deliver(l, method, params)
	}
}

func (c *Client) deliver(l listener, method string, params json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Warn().Interface("panic", r).Str("method", method).Msg("notification listener panicked")
		}
	}()
	l.fn(method, params)
}

func (c *Client) drop(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func toError(err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return &Error{Code: CodeInternalError, Message: err.Error()}
}
