// Package transport carries newline-delimited JSON between codexm and a
// codex app-server. Each Transport delivers complete inbound lines on a
// channel and writes one outbound line per Send.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by Send after the transport has shut down.
var ErrClosed = errors.New("transport: closed")

// maxLine bounds a single inbound line. Item payloads with large diffs
// routinely exceed bufio's 64KiB default.
const maxLine = 8 * 1024 * 1024

// Stream identifies where an inbound line came from.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// Line is one inbound line with its trailing newline removed.
type Line struct {
	Stream Stream
	Text   string
}

// Transport is a bidirectional line channel to an app-server.
type Transport interface {
	// Send writes line followed by a newline.
	Send(ctx context.Context, line string) error
	// Lines is closed when the peer goes away or Close is called.
	Lines() <-chan Line
	// Err reports why Lines closed. It is nil before then and after a
	// clean Close.
	Err() error
	Close() error
}

// Dialer opens a fresh transport. The agent connection calls it lazily and
// again after the previous transport dies.
type Dialer func(ctx context.Context) (Transport, error)
