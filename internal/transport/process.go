package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/soyeahso/codexm/internal/logging"
)

// ProcessConfig describes the app-server child process.
type ProcessConfig struct {
	Command string
	Args    []string
	Dir     string
	// Env entries are appended to the current environment.
	Env []string
	// Grace is how long Close waits for the child to exit after stdin is
	// closed before killing it.
	Grace time.Duration
}

// Process runs the app-server as a child and talks to it over stdio.
type Process struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	log   *logging.Logger
	grace time.Duration

	lines chan Line
	done  chan struct{}

	mu      sync.Mutex
	closed  bool
	readErr error
	waitErr error
}

// StartProcess launches cfg.Command and begins streaming its output.
func StartProcess(ctx context.Context, cfg ProcessConfig, log *logging.Logger) (*Process, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("transport: no command configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Nop()
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 2 * time.Second
	}

	// The child outlives the dial context, so it is not bound to ctx.
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Dir
	detach(cmd)
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", cfg.Command, err)
	}

	p := &Process{
		cmd:   cmd,
		stdin: stdin,
		log:   log.Sub("transport.process"),
		grace: cfg.Grace,
		lines: make(chan Line, 256),
		done:  make(chan struct{}),
	}

	p.log.Debug().
		Str("cmd", cfg.Command).
		Strs("args", cfg.Args).
		Int("pid", cmd.Process.Pid).
		Msg("app-server started")

	var readers sync.WaitGroup
	readers.Add(2)
	go p.scan(stdout, Stdout, &readers)
	go p.scan(stderr, Stderr, &readers)

	go func() {
		readers.Wait()
		err := cmd.Wait()
		p.mu.Lock()
		switch {
		case p.readErr != nil:
			p.waitErr = p.readErr
		case !p.closed && err != nil:
			p.waitErr = fmt.Errorf("%s exited: %w", cfg.Command, err)
		}
		p.closed = true
		p.mu.Unlock()
		close(p.lines)
		close(p.done)
		p.log.Debug().Err(err).Msg("app-server exited")
	}()

	return p, nil
}

func (p *Process) scan(r io.Reader, stream Stream, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	for scanner.Scan() {
		p.lines <- Line{Stream: stream, Text: scanner.Text()}
	}
	if err := scanner.Err(); err != nil {
		p.log.Warn().Err(err).Str("stream", stream.String()).Msg("read failed")
		if stream == Stdout {
			// The protocol stream is out of sync; nothing after this line
			// can be trusted.
			p.mu.Lock()
			p.readErr = fmt.Errorf("reading app-server output: %w", err)
			p.mu.Unlock()
			p.kill()
		}
		// Drain so the child never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, r)
	}
}

// kill stops the child and everything it spawned, so inherited pipes close.
func (p *Process) kill() {
	if err := killTree(p.cmd); err != nil {
		p.log.Debug().Err(err).Msg("kill failed")
	}
}

// Send writes one line to the child's stdin.
func (p *Process) Send(ctx context.Context, line string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if _, err := io.WriteString(p.stdin, line+"\n"); err != nil {
		return fmt.Errorf("writing to app-server: %w", err)
	}
	return nil
}

func (p *Process) Lines() <-chan Line { return p.lines }

func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

// Close shuts stdin, waits up to the grace period, then kills the child.
func (p *Process) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.done
		return nil
	}
	p.closed = true
	_ = p.stdin.Close()
	p.mu.Unlock()

	select {
	case <-p.done:
	case <-time.After(p.grace):
		p.log.Debug().Msg("app-server did not exit, killing")
		p.kill()
		<-p.done
	}
	return nil
}

// Pid returns the child's process id.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// ProcessDialer returns a Dialer that spawns a new child per dial.
func ProcessDialer(cfg ProcessConfig, log *logging.Logger) Dialer {
	return func(ctx context.Context) (Transport, error) {
		return StartProcess(ctx, cfg, log)
	}
}
