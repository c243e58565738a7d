package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/sahilm/fuzzy"

	"github.com/soyeahso/codexm/internal/agent"
	"github.com/soyeahso/codexm/internal/domain"
	"github.com/soyeahso/codexm/internal/settings"
	"github.com/soyeahso/codexm/internal/transcript"
	"github.com/soyeahso/codexm/internal/workspace"
)

func usage(cmd Command) string {
	return "Usage: " + cmd.Usage()
}

// navigate resolves a navigation command. When it cannot navigate it
// returns a message to show in the current session instead.
func (d *Dispatcher) navigate(ctx context.Context, sess *domain.Session, cmd Command, arg string) (*Outcome, string) {
	switch cmd.Name {
	case CmdExit, CmdQuit:
		return &Outcome{Nav: NavBack}, ""

	case CmdNew:
		if arg != "" {
			return nil, usage(cmd)
		}
		created, err := d.deps.Sessions.Create(ctx, sess.WorkspaceID, "")
		if err != nil {
			return nil, "Could not create a session: " + err.Error()
		}
		return &Outcome{Nav: NavSession, SessionID: created.ID}, ""

	case CmdResume:
		if arg == "" {
			return nil, usage(cmd)
		}
		target, msg := d.resolveSession(ctx, sess.WorkspaceID, arg)
		if target == nil {
			return nil, msg
		}
		return &Outcome{Nav: NavSession, SessionID: target.ID}, ""
	}
	return nil, usage(cmd)
}

// resolveSession finds a session of the workspace by exact id, unique id
// prefix, or best fuzzy title match.
func (d *Dispatcher) resolveSession(ctx context.Context, workspaceID, ref string) (*domain.Session, string) {
	sessions, err := d.deps.Sessions.List(ctx, workspaceID)
	if err != nil {
		return nil, "Could not list sessions: " + err.Error()
	}

	var prefixed []domain.Session
	for i := range sessions {
		if sessions[i].ID == ref {
			return &sessions[i], ""
		}
		if strings.HasPrefix(sessions[i].ID, ref) {
			prefixed = append(prefixed, sessions[i])
		}
	}
	switch len(prefixed) {
	case 1:
		return &prefixed[0], ""
	case 0:
	default:
		ids := make([]string, len(prefixed))
		for i, s := range prefixed {
			ids[i] = s.ID
		}
		return nil, fmt.Sprintf("%q matches several sessions: %s", ref, strings.Join(ids, ", "))
	}

	titles := make([]string, len(sessions))
	for i, s := range sessions {
		titles[i] = s.Title
	}
	if matches := fuzzy.Find(ref, titles); len(matches) > 0 {
		return &sessions[matches[0].Index], ""
	}
	return nil, fmt.Sprintf("No session matches %q.", ref)
}

// command picks the execution path for a non-navigation command.
func (d *Dispatcher) command(sess *domain.Session, cmd Command, arg string) action {
	if cmd.Args == "" && arg != "" {
		return d.reply(usage(cmd))
	}
	switch cmd.Name {
	case CmdPlan:
		switch arg {
		case "", "on", "off":
			return d.localAction(func(ctx context.Context) (string, error) {
				return d.setPlanMode(ctx, sess, arg)
			})
		}
		return action{
			role:  domain.RoleAssistant,
			req:   &agent.TurnRequest{Kind: agent.KindTurn, Input: PlanPreamble + arg, Mode: domain.ModePlan},
			drain: true,
		}

	case CmdReview:
		return action{
			role: domain.RoleAssistant,
			req:  &agent.TurnRequest{Kind: agent.KindReview, Input: arg, Mode: sess.Mode.Normalize()},
		}

	case CmdFork:
		return rpcAction(sess, agent.RPCCall{Method: agent.MethodThreadFork, RequiresThread: true})

	case CmdCompact:
		return rpcAction(sess, agent.RPCCall{Method: agent.MethodThreadCompact, RequiresThread: true})

	case CmdModel:
		if arg == "" {
			return rpcAction(sess, agent.RPCCall{Method: agent.MethodModelList, EmitText: true, Title: "Models"})
		}
		return d.localAction(func(context.Context) (string, error) {
			if strings.ContainsAny(arg, " \t") {
				return usage(cmd), nil
			}
			sf, err := d.settingsFile()
			if err != nil {
				return "", err
			}
			if err := sf.SetModel(arg); err != nil {
				return "", err
			}
			return fmt.Sprintf("Model set to %s. New threads will use it.", arg), nil
		})

	case CmdDebugConfig:
		return rpcAction(sess,
			agent.RPCCall{Method: agent.MethodConfigRead, Params: map[string]any{"includeLayers": false}, EmitText: true, Title: "Config"},
			agent.RPCCall{Method: agent.MethodConfigReqs, EmitText: true, Title: "Config requirements"},
		)

	case CmdMCP:
		act := rpcAction(sess, agent.RPCCall{Method: agent.MethodMCPStatusList, EmitText: true, Title: "MCP servers"})
		act.after = func(ctx context.Context, res *transcript.Result) {
			res.Content = joinBlocks(res.Content, d.enabledTools(ctx, sess))
		}
		return act

	case CmdApps:
		return rpcAction(sess, agent.RPCCall{Method: agent.MethodAppList, EmitText: true, Title: "Apps"})

	case CmdPs:
		return rpcAction(sess, agent.RPCCall{Method: agent.MethodThreadLoaded, EmitText: true, Title: "Loaded threads"})

	case CmdAgent:
		return rpcAction(sess, agent.RPCCall{Method: agent.MethodCollabModeList, EmitText: true, Title: "Collaboration modes"})

	case CmdPermissions:
		return d.localAction(func(context.Context) (string, error) {
			if arg == "" || !slices.Contains(settings.ApprovalPolicies, arg) {
				return usage(cmd) + "\nPolicies: " + strings.Join(settings.ApprovalPolicies, ", "), nil
			}
			sf, err := d.settingsFile()
			if err != nil {
				return "", err
			}
			if err := sf.SetApprovalPolicy(arg); err != nil {
				return "", err
			}
			return fmt.Sprintf("Approval policy set to %s.", arg), nil
		})

	case CmdPersonality:
		return d.localAction(func(context.Context) (string, error) {
			if arg == "" || strings.ContainsAny(arg, " \t") {
				return usage(cmd), nil
			}
			sf, err := d.settingsFile()
			if err != nil {
				return "", err
			}
			if err := sf.SetPersonality(arg); err != nil {
				return "", err
			}
			return fmt.Sprintf("Personality set to %s.", arg), nil
		})

	case CmdExperimental:
		return d.localAction(func(context.Context) (string, error) {
			fields := strings.Fields(arg)
			if len(fields) != 2 || (fields[1] != "on" && fields[1] != "off") {
				return usage(cmd), nil
			}
			on := fields[1] == "on"
			sf, err := d.settingsFile()
			if err != nil {
				return "", err
			}
			if err := sf.SetFeature(fields[0], on); err != nil {
				return "", err
			}
			return fmt.Sprintf("Experimental feature %s turned %s.", fields[0], fields[1]), nil
		})

	case CmdStatus:
		return d.localAction(func(ctx context.Context) (string, error) {
			return d.status(ctx, sess)
		})

	case CmdDiff:
		return d.localAction(func(ctx context.Context) (string, error) {
			return d.diff(ctx, sess)
		})

	case CmdMention:
		return d.localAction(func(ctx context.Context) (string, error) {
			return d.mention(ctx, sess, cmd, arg)
		})

	case CmdLogout:
		return d.localAction(func(context.Context) (string, error) {
			if d.deps.Credentials == "" {
				return "No credentials file is configured.", nil
			}
			removed, err := settings.RemoveCredentials(d.deps.Credentials)
			if err != nil {
				return "", err
			}
			if !removed {
				return "Not logged in.", nil
			}
			return "Logged out. Stored agent credentials were removed.", nil
		})

	case CmdInit:
		return d.localAction(func(ctx context.Context) (string, error) {
			ws, err := d.deps.Workspaces.Get(ctx, sess.WorkspaceID)
			if err != nil {
				return "", err
			}
			path, err := workspace.ScaffoldAgents(ws.Path)
			if errors.Is(err, workspace.ErrExists) {
				return fmt.Sprintf("%s already exists; leaving it unchanged.", path), nil
			}
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Created %s. Edit it to tell the agent how to work in this repository.", path), nil
		})

	case CmdStatusline, CmdSandboxRead, CmdFeedback:
		return d.reply(fmt.Sprintf("%s is not supported in codexm.", cmd.Name))

	case CmdHelp:
		return d.reply(helpText())
	}
	return d.reply(usage(cmd))
}

var errNoSettings = errors.New("no agent settings file is configured")

func (d *Dispatcher) settingsFile() (*settings.File, error) {
	if d.deps.Settings == nil {
		return nil, errNoSettings
	}
	return d.deps.Settings, nil
}

func (d *Dispatcher) setPlanMode(ctx context.Context, sess *domain.Session, arg string) (string, error) {
	var mode domain.Mode
	switch arg {
	case "on":
		mode = domain.ModePlan
	case "off":
		mode = domain.ModeCode
	default:
		mode = sess.Mode.Toggle()
	}
	if err := d.deps.Sessions.SetMode(ctx, sess.ID, mode); err != nil {
		return "", err
	}
	sess.Mode = mode
	if mode == domain.ModePlan {
		return "Plan mode on. The agent will plan before making changes.", nil
	}
	return "Plan mode off.", nil
}

func (d *Dispatcher) status(ctx context.Context, sess *domain.Session) (string, error) {
	var b strings.Builder
	row := func(label, value string) {
		fmt.Fprintf(&b, "%-12s %s\n", label+":", value)
	}

	title := sess.Title
	if title == "" {
		title = "untitled"
	}
	row("Session", fmt.Sprintf("%s (%s)", title, sess.ID))
	if !sess.CreatedAt.IsZero() {
		row("Created", humanize.Time(sess.CreatedAt))
	}

	ws, err := d.deps.Workspaces.Get(ctx, sess.WorkspaceID)
	if err != nil {
		return "", err
	}
	row("Workspace", fmt.Sprintf("%s (%s)", ws.Name, ws.Path))
	row("Sync", string(ws.SyncKind))
	git := workspace.NewGit(ws.Path, d.log)
	if branch, err := git.Branch(ctx); err == nil {
		row("Branch", branch)
	}

	thread := sess.ThreadID
	if thread == "" {
		thread = "none yet"
	}
	row("Thread", thread)
	row("Mode", string(sess.Mode.Normalize()))
	row("Tools", fmt.Sprintf("%d enabled", len(sess.ToolServers)))
	row("Mentions", fmt.Sprintf("%d queued", d.Mentions(sess.ID).Len()))

	sf, err := d.settingsFile()
	if err != nil {
		row("Settings", err.Error())
		return strings.TrimRight(b.String(), "\n"), nil
	}
	s, err := sf.Load()
	if err != nil {
		return "", err
	}
	row("Model", orDefault(s.Model))
	row("Approval", orDefault(s.ApprovalPolicy))
	row("Personality", orDefault(s.Personality))
	if names := s.FeatureNames(); len(names) > 0 {
		flags := make([]string, len(names))
		for i, n := range names {
			state := "off"
			if s.Features[n] {
				state = "on"
			}
			flags[i] = n + "=" + state
		}
		row("Features", strings.Join(flags, ", "))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func orDefault(v string) string {
	if v == "" {
		return "(agent default)"
	}
	return v
}

func (d *Dispatcher) diff(ctx context.Context, sess *domain.Session) (string, error) {
	ws, err := d.deps.Workspaces.Get(ctx, sess.WorkspaceID)
	if err != nil {
		return "", err
	}
	patch, err := workspace.NewGit(ws.Path, d.log).Diff(ctx)
	if errors.Is(err, workspace.ErrNotRepository) {
		return fmt.Sprintf("%s is not a git repository.", ws.Path), nil
	}
	if err != nil {
		return "", err
	}
	if patch == "" {
		return "No changes.", nil
	}
	return patch, nil
}

func (d *Dispatcher) mention(ctx context.Context, sess *domain.Session, cmd Command, arg string) (string, error) {
	queue := d.Mentions(sess.ID)
	switch arg {
	case "":
		queued := queue.Peek()
		if len(queued) == 0 {
			return usage(cmd) + "\nNo mentions queued.", nil
		}
		return "Queued mentions:\n@" + strings.Join(queued, "\n@"), nil
	case "clear":
		queue.Clear()
		return "Mentions cleared.", nil
	}

	ws, err := d.deps.Workspaces.Get(ctx, sess.WorkspaceID)
	if err != nil {
		return "", err
	}
	full := arg
	if !filepath.IsAbs(full) {
		full = filepath.Join(ws.Path, arg)
	}
	if _, err := os.Stat(full); err != nil {
		return fmt.Sprintf("No such file: %s", arg), nil
	}
	if !queue.Push(arg) {
		return fmt.Sprintf("Mention queue is full (%d paths). Send a message or /mention clear.", queue.Limit()), nil
	}
	return fmt.Sprintf("@%s will be attached to your next message (%d queued).", arg, queue.Len()), nil
}

func (d *Dispatcher) enabledTools(ctx context.Context, sess *domain.Session) string {
	if d.deps.Tools == nil {
		return ""
	}
	servers, err := d.deps.Tools.Enabled(ctx, sess)
	if err != nil {
		return "Enabled for this session: unavailable (" + err.Error() + ")"
	}
	if len(servers) == 0 {
		return "Enabled for this session: none"
	}
	var b strings.Builder
	b.WriteString("Enabled for this session:")
	for _, s := range servers {
		target := s.URL
		if s.Transport == domain.MCPStdio {
			target = strings.TrimSpace(s.Command + " " + strings.Join(s.Args, " "))
		}
		fmt.Fprintf(&b, "\n- %s (%s: %s)", s.Name, s.Transport, target)
	}
	return b.String()
}

func helpText() string {
	var b strings.Builder
	b.WriteString("Commands:")
	for _, c := range Commands {
		fmt.Fprintf(&b, "\n  %-32s %s", c.Usage(), c.Summary)
	}
	return b.String()
}
