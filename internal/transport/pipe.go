package transport

import (
	"context"
	"sync"
)

// Pipe is an in-process transport. The agent tests use it to script an
// app-server; the peer side reads Outbound and answers with Emit.
type Pipe struct {
	lines    chan Line
	outbound chan string

	mu     sync.Mutex
	closed bool
	err    error
}

// NewPipe returns an open pipe.
func NewPipe() *Pipe {
	return &Pipe{
		lines:    make(chan Line, 256),
		outbound: make(chan string, 256),
	}
}

func (p *Pipe) Send(ctx context.Context, line string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrClosed
	}
	select {
	case p.outbound <- line:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipe) Lines() <-chan Line { return p.lines }

func (p *Pipe) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Pipe) Close() error {
	p.Shutdown(nil)
	return nil
}

// Outbound yields every line sent through the pipe.
func (p *Pipe) Outbound() <-chan string { return p.outbound }

// Emit delivers a stdout line to the reader. It reports false once the pipe
// is closed.
func (p *Pipe) Emit(text string) bool {
	return p.emit(Line{Stream: Stdout, Text: text})
}

// EmitStderr delivers a diagnostic line.
func (p *Pipe) EmitStderr(text string) bool {
	return p.emit(Line{Stream: Stderr, Text: text})
}

func (p *Pipe) emit(l Line) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.lines <- l
	return true
}

// Shutdown closes the pipe as if the peer went away with err.
func (p *Pipe) Shutdown(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.err = err
	close(p.lines)
}

// Closed reports whether the pipe has shut down.
func (p *Pipe) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
