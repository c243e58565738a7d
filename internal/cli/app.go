package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/soyeahso/codexm/internal/agent"
	"github.com/soyeahso/codexm/internal/config"
	"github.com/soyeahso/codexm/internal/dispatch"
	"github.com/soyeahso/codexm/internal/domain"
	"github.com/soyeahso/codexm/internal/logging"
	"github.com/soyeahso/codexm/internal/mcp"
	"github.com/soyeahso/codexm/internal/settings"
	"github.com/soyeahso/codexm/internal/store"
	"github.com/soyeahso/codexm/internal/transport"
)

// app holds what every data command needs: the validated config, the
// resolved paths and the open store.
type app struct {
	cfg   config.Config
	paths config.Paths
	log   *logging.Logger
	db    *store.DB
	st    *store.Store
	tools *mcp.Registry

	closers []io.Closer
}

// openApp loads and validates the config and opens the database.
func openApp() (*app, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return nil, err
	}
	if issues := config.Validate(&cfg); len(issues) > 0 {
		for _, issue := range issues {
			log.Error().Str("path", issue.Path).Msg(issue.Message)
		}
		return nil, fmt.Errorf("config validation failed with %d issue(s)", len(issues))
	}

	p := paths.WithConfig(cfg)
	if err := p.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("creating data directories: %w", err)
	}

	db, err := store.Open(p.Database, log)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	st := store.New(db)
	return &app{
		cfg:   cfg,
		paths: p,
		log:   log,
		db:    db,
		st:    st,
		tools: mcp.NewRegistry(st.MCPServers, log),
	}, nil
}

// Close releases the agent connection, log file and database.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	errs = append(errs, a.db.Close())
	return errors.Join(errs...)
}

// logToFile redirects logging to a file so it does not interleave with
// interactive output. logging.file wins over the default logs directory.
func (a *app) logToFile() error {
	path := a.cfg.Logging.File
	if path == "" {
		path = filepath.Join(a.paths.Logs, "codexm.log")
	}
	level := logLevel
	if level == "" {
		level = a.cfg.Logging.Level
	}
	fileLog, closer, err := logging.NewFile(path, level)
	if err != nil {
		return err
	}
	a.log = fileLog
	a.closers = append(a.closers, closer)
	return nil
}

// dialer picks the app-server transport from the agent config.
func (a *app) dialer() transport.Dialer {
	ac := a.cfg.Agent
	if ac.Remote() {
		return transport.WebSocketDialer(transport.WebSocketConfig{
			URL:              ac.URL,
			Token:            ac.Token,
			HandshakeTimeout: ac.Timeout(),
		}, a.log)
	}
	return transport.ProcessDialer(transport.ProcessConfig{
		Command: ac.Command,
		Args:    ac.Args,
		Dir:     ac.Dir,
		Env:     []string{"CODEX_HOME=" + a.paths.AgentHome},
		Grace:   ac.Grace(),
	}, a.log)
}

func (a *app) settings() *settings.File {
	return settings.Open(a.paths.SettingsFile())
}

// environment resolves thread options for new agent threads.
func (a *app) environment() *dispatch.Environment {
	return &dispatch.Environment{
		Workspaces: a.st.Workspaces,
		Tools:      a.tools,
		Settings:   a.settings(),
	}
}

// adapter builds the agent adapter. stderr may be nil.
func (a *app) adapter(stderr func(string)) *agent.Adapter {
	ad := agent.New(agent.Options{
		Dialer:           a.dialer(),
		Binder:           a.st.Sessions,
		Environment:      a.environment(),
		ApprovalDecision: a.cfg.Agent.ApprovalDecision,
		RequestTimeout:   a.cfg.Agent.Timeout(),
		InterruptGrace:   a.cfg.Agent.Grace(),
		Stderr:           stderr,
	}, a.log)
	a.closers = append(a.closers, ad)
	return ad
}

func (a *app) dispatcher(runner dispatch.Runner) *dispatch.Dispatcher {
	return dispatch.New(dispatch.Deps{
		Runner:       runner,
		Sessions:     a.st.Sessions,
		Workspaces:   a.st.Workspaces,
		Tools:        a.tools,
		Settings:     a.settings(),
		Credentials:  a.paths.CredentialsFile(),
		MentionLimit: a.cfg.Chat.MentionLimit,
	}, a.log)
}

// resolveSession finds a session by exact id or unique id prefix.
func resolveSession(ctx context.Context, st *store.SessionStore, ref string) (*domain.Session, error) {
	if sess, err := st.Get(ctx, ref); err == nil {
		return sess, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	all, err := st.List(ctx, "")
	if err != nil {
		return nil, err
	}
	var matches []domain.Session
	for _, s := range all {
		if strings.HasPrefix(s.ID, ref) {
			matches = append(matches, s)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("session %q: %w", ref, store.ErrNotFound)
	case 1:
		return &matches[0], nil
	}
	return nil, fmt.Errorf("session prefix %q is ambiguous (%d matches)", ref, len(matches))
}
