package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/soyeahso/codexm/internal/dispatch"
	"github.com/soyeahso/codexm/internal/domain"
	"github.com/soyeahso/codexm/internal/store"
	"github.com/soyeahso/codexm/internal/transcript"
	"github.com/spf13/cobra"
)

// historyShown is how many earlier messages are printed when a session opens.
const historyShown = 10

func newChatCmd() *cobra.Command {
	var (
		sessionRef string
		fresh      bool
	)

	cmd := &cobra.Command{
		Use:   "chat [workspace]",
		Short: "Chat with the agent in a workspace",
		Long: "Open the most recent session of the workspace (or a new one) and read\n" +
			"messages from stdin. Type /help for commands; Ctrl-C cancels a running turn.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.logToFile(); err != nil {
				return err
			}

			ctx := cmd.Context()
			var sess *domain.Session
			switch {
			case sessionRef != "":
				sess, err = resolveSession(ctx, a.st.Sessions, sessionRef)
			default:
				var ws *domain.Workspace
				ws, err = pickWorkspace(ctx, a.st.Workspaces, args)
				if err != nil {
					return err
				}
				sess, err = openSession(ctx, a.st.Sessions, ws.ID, fresh)
			}
			if err != nil {
				return err
			}

			var stderr func(string)
			if a.cfg.Chat.ShowStderr {
				stderr = func(line string) {
					fmt.Fprintln(os.Stderr, dimStyle.Render("app-server: "+line))
				}
			}
			r := &repl{
				app:  a,
				d:    a.dispatcher(a.adapter(stderr)),
				in:   bufio.NewScanner(os.Stdin),
				out:  os.Stdout,
				sess: sess,
			}
			r.in.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			return r.run(ctx)
		},
	}

	cmd.Flags().StringVarP(&sessionRef, "session", "s", "", "open this session (id or id prefix)")
	cmd.Flags().BoolVar(&fresh, "new", false, "start a new session instead of resuming the latest")
	return cmd
}

// pickWorkspace resolves the named workspace, or the only one when no name
// is given.
func pickWorkspace(ctx context.Context, st *store.WorkspaceStore, args []string) (*domain.Workspace, error) {
	if len(args) == 1 {
		return st.Resolve(ctx, args[0])
	}
	list, err := st.List(ctx)
	if err != nil {
		return nil, err
	}
	switch len(list) {
	case 0:
		return nil, errors.New("no workspaces yet; add one with `codexm workspace add <name> <dir>`")
	case 1:
		return &list[0], nil
	}
	names := make([]string, len(list))
	for i, w := range list {
		names[i] = w.Name
	}
	return nil, fmt.Errorf("several workspaces exist, name one of: %s", strings.Join(names, ", "))
}

// openSession returns the workspace's most recent session, creating one if
// there is none or fresh is set.
func openSession(ctx context.Context, st *store.SessionStore, workspaceID string, fresh bool) (*domain.Session, error) {
	if !fresh {
		list, err := st.List(ctx, workspaceID)
		if err != nil {
			return nil, err
		}
		if len(list) > 0 {
			return &list[0], nil
		}
	}
	return st.Create(ctx, workspaceID, "")
}

// repl is the interactive chat loop for one terminal.
type repl struct {
	app *app
	d   *dispatch.Dispatcher
	in  *bufio.Scanner
	out io.Writer

	sess   *domain.Session
	tr     *transcript.Transcript
	view   *streamView
	insert string
}

func (r *repl) run(ctx context.Context) error {
	if err := r.open(ctx, r.sess.ID); err != nil {
		return err
	}

	for {
		fmt.Fprint(r.out, promptStyle.Render(r.prompt())+" "+r.insert)
		if !r.in.Scan() {
			fmt.Fprintln(r.out)
			return r.in.Err()
		}
		line := r.insert + r.in.Text()
		r.insert = ""
		if strings.TrimSpace(line) == "" {
			continue
		}

		out, err := r.send(ctx, line)
		if err != nil && out == nil {
			printErr("%v", err)
			continue
		}
		if err != nil {
			printErr("%v", err)
		}

		switch {
		case out.Nav == dispatch.NavBack:
			return nil
		case out.Nav == dispatch.NavSession:
			if err := r.open(ctx, out.SessionID); err != nil {
				printErr("%v", err)
			}
		case out.Insert != "":
			r.insert = out.Insert
		}
	}
}

// send dispatches one line. Ctrl-C while it runs cancels only the turn.
func (r *repl) send(ctx context.Context, line string) (*dispatch.Outcome, error) {
	turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	wasUntitled := r.sess.Title == ""
	r.view.begin()
	out, err := r.d.Dispatch(turnCtx, r.sess, r.tr, line)
	if out != nil && out.Response.ID != "" {
		r.view.finish(out)
	}
	if err == nil && wasUntitled && out.Response.Role == domain.RoleAssistant {
		r.autoTitle(ctx, line)
	}
	return out, err
}

// autoTitle names an untitled session after its first agent exchange.
func (r *repl) autoTitle(ctx context.Context, input string) {
	title := sessionTitle(input)
	if err := r.app.st.Sessions.Rename(ctx, r.sess.ID, title); err != nil {
		r.app.log.Warn().Err(err).Msg("failed to title session")
		return
	}
	r.sess.Title = title
}

const maxTitleRunes = 48

// sessionTitle collapses whitespace in input and cuts it to maxTitleRunes
// runes.
func sessionTitle(input string) string {
	title := strings.Join(strings.Fields(input), " ")
	runes := []rune(title)
	if len(runes) <= maxTitleRunes {
		return title
	}
	return strings.TrimSpace(string(runes[:maxTitleRunes])) + "..."
}

// open switches the loop to session id and prints its recent history.
func (r *repl) open(ctx context.Context, id string) error {
	sess, err := r.app.st.Sessions.Get(ctx, id)
	if err != nil {
		return err
	}
	ws, err := r.app.st.Workspaces.Get(ctx, sess.WorkspaceID)
	if err != nil {
		return err
	}
	history, err := r.app.st.Sessions.Messages(ctx, sess.ID)
	if err != nil {
		return err
	}

	r.sess = sess
	r.tr = transcript.New(history)
	r.view = newStreamView(r.out, r.tr)
	r.tr.OnChange(r.view.changed)
	r.insert = ""

	fmt.Fprintln(r.out, headerStyle.Render(fmt.Sprintf("%s / %s", ws.Name, titleOf(*sess))))
	fmt.Fprintln(r.out, dimStyle.Render(fmt.Sprintf("session %s, %d messages, updated %s. /help lists commands.",
		shortID(sess.ID), len(history), humanize.Time(sess.UpdatedAt))))
	start := max(0, len(history)-historyShown)
	if start > 0 {
		fmt.Fprintln(r.out, dimStyle.Render(fmt.Sprintf("... %d earlier messages", start)))
	}
	for _, m := range history[start:] {
		fmt.Fprintln(r.out, renderMessage(m))
	}
	return nil
}

func (r *repl) prompt() string {
	if r.sess.Mode.Normalize() == domain.ModePlan {
		return "plan>"
	}
	return ">"
}

// streamView prints the response placeholder of the running dispatch as it
// grows.
type streamView struct {
	mu  sync.Mutex
	w   io.Writer
	tr  *transcript.Transcript
	idx int

	role    domain.Role
	started bool
	printed string
}

func newStreamView(w io.Writer, tr *transcript.Transcript) *streamView {
	return &streamView{w: w, tr: tr, idx: -1}
}

// begin marks where the next dispatch's messages will be appended.
func (v *streamView) begin() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.idx = v.tr.Len() + 1
	v.started = false
	v.printed = ""
}

func (v *streamView) changed() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.idx < 0 {
		return
	}
	msgs := v.tr.Messages()
	if len(msgs) <= v.idx {
		return
	}
	resp := msgs[v.idx]
	if !v.started {
		v.started = true
		v.role = resp.Role
		fmt.Fprintln(v.w, roleLabel(resp.Role))
	}
	v.emit(resp.Content)
}

// finish prints whatever of the settled response was not streamed.
func (v *streamView) finish(out *dispatch.Outcome) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.started {
		v.started = true
		v.role = out.Response.Role
		fmt.Fprintln(v.w, roleLabel(out.Response.Role))
	}
	v.emit(out.Response.Content)
	fmt.Fprint(v.w, "\n\n")
	for _, e := range out.Result.Errors {
		if !strings.Contains(v.printed, e) {
			fmt.Fprintln(v.w, errorStyle.Render("error: "+e))
		}
	}
	v.idx = -1
}

func (v *streamView) emit(content string) {
	chunk := content
	if strings.HasPrefix(content, v.printed) {
		chunk = content[len(v.printed):]
	} else {
		chunk = "\n" + content
	}
	v.printed = content
	if chunk == "" {
		return
	}
	if v.role == domain.RoleSystem {
		chunk = systemStyle.Render(chunk)
	}
	fmt.Fprint(v.w, chunk)
}
