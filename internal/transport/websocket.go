package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/soyeahso/codexm/internal/logging"
)

// WebSocketConfig describes a remote app-server endpoint.
type WebSocketConfig struct {
	URL string
	// Token, when set, is sent as a bearer Authorization header.
	Token            string
	HandshakeTimeout time.Duration
}

// WebSocket talks to an app-server listening on a websocket. Each text
// frame carries one or more newline-separated messages.
type WebSocket struct {
	conn *websocket.Conn
	log  *logging.Logger

	lines chan Line

	wmu    sync.Mutex
	mu     sync.Mutex
	closed bool
	err    error

	releaseOnce sync.Once
	releaseErr  error
}

// DialWebSocket connects to cfg.URL.
func DialWebSocket(ctx context.Context, cfg WebSocketConfig, log *logging.Logger) (*WebSocket, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("transport: no websocket url configured")
	}
	if log == nil {
		log = logging.Nop()
	}
	timeout := cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}
	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}

	conn, resp, err := dialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing %s: %w (status %d)", cfg.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dialing %s: %w", cfg.URL, err)
	}
	conn.SetReadLimit(maxLine)

	w := &WebSocket{
		conn:  conn,
		log:   log.Sub("transport.websocket"),
		lines: make(chan Line, 256),
	}
	w.log.Debug().Str("url", cfg.URL).Msg("connected")
	go w.readLoop()
	return w, nil
}

func (w *WebSocket) readLoop() {
	defer close(w.lines)
	for {
		_, msg, err := w.conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			if !w.closed && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.err = fmt.Errorf("websocket read: %w", err)
				w.log.Warn().Err(err).Msg("read error")
			}
			w.closed = true
			w.mu.Unlock()
			_ = w.release(false)
			return
		}
		for _, text := range strings.Split(string(msg), "\n") {
			text = strings.TrimRight(text, "\r")
			if text == "" {
				continue
			}
			w.lines <- Line{Stream: Stdout, Text: text}
		}
	}
}

// Send writes line as a single text frame.
func (w *WebSocket) Send(ctx context.Context, line string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return ErrClosed
	}

	w.wmu.Lock()
	defer w.wmu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = w.conn.SetWriteDeadline(deadline)
		defer w.conn.SetWriteDeadline(time.Time{})
	}
	if err := w.conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

func (w *WebSocket) Lines() <-chan Line { return w.lines }

func (w *WebSocket) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Close sends a close frame and tears down the connection.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return w.release(true)
}

// release closes the underlying connection exactly once, whether the peer
// went away first or Close was called.
func (w *WebSocket) release(sayGoodbye bool) error {
	w.releaseOnce.Do(func() {
		if sayGoodbye {
			w.wmu.Lock()
			_ = w.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
				time.Now().Add(time.Second))
			w.wmu.Unlock()
		}
		w.releaseErr = w.conn.Close()
	})
	return w.releaseErr
}

// WebSocketDialer returns a Dialer for cfg.
func WebSocketDialer(cfg WebSocketConfig, log *logging.Logger) Dialer {
	return func(ctx context.Context) (Transport, error) {
		return DialWebSocket(ctx, cfg, log)
	}
}
