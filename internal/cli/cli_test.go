package cli

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/soyeahso/codexm/internal/config"
	"github.com/soyeahso/codexm/internal/dispatch"
	"github.com/soyeahso/codexm/internal/domain"
	"github.com/soyeahso/codexm/internal/logging"
	"github.com/soyeahso/codexm/internal/store"
	"github.com/soyeahso/codexm/internal/transcript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.Open(":memory:", logging.New(nil, "silent"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return store.New(db)
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		key  string
		in   string
		want any
	}{
		{"chat.showStderr", "true", true},
		{"chat.showStderr", "FALSE", false},
		{"agent.requestTimeout", "90", 90},
		{"agent.command", "codex", "codex"},
		{"agent.command", "1.5", "1.5"},
		{"agent.args", "app-server, --listen,stdio", []any{"app-server", "--listen", "stdio"}},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseValue(tt.key, tt.in))
		})
	}
}

func TestCheckRaw(t *testing.T) {
	assert.NoError(t, checkRaw(map[string]any{}))
	assert.NoError(t, checkRaw(map[string]any{"agent": map[string]any{"url": "wss://agent.example.com"}}))

	err := checkRaw(map[string]any{"agent": map[string]any{"approvalDecision": "maybe"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent.approvalDecision")

	err = checkRaw(map[string]any{"agent": map[string]any{"requestTimeout": "soon"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not fit")
}

func TestEffectiveMap(t *testing.T) {
	m, err := effectiveMap(config.Defaults())
	require.NoError(t, err)

	v, ok := config.GetValueAtPath(m, []string{"agent", "command"})
	require.True(t, ok)
	assert.Equal(t, "codex", v)

	v, ok = config.GetValueAtPath(m, []string{"chat", "mentionLimit"})
	require.True(t, ok)
	assert.Equal(t, 16, v)
}

func TestMCPServerFromArgs(t *testing.T) {
	srv, err := mcpServerFromArgs("docs", []string{"npx", "-y", "docs-mcp"}, "", []string{"TOKEN=abc", "MODE=a=b"})
	require.NoError(t, err)
	assert.Equal(t, domain.MCPStdio, srv.Transport)
	assert.Equal(t, "npx", srv.Command)
	assert.Equal(t, []string{"-y", "docs-mcp"}, srv.Args)
	assert.Equal(t, map[string]string{"TOKEN": "abc", "MODE": "a=b"}, srv.Env)
	assert.Equal(t, "npx -y docs-mcp", mcpTarget(srv))

	srv, err = mcpServerFromArgs("web", nil, "https://mcp.example.com/sse", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.MCPSSE, srv.Transport)
	assert.Equal(t, "https://mcp.example.com/sse", mcpTarget(srv))

	_, err = mcpServerFromArgs("both", []string{"x"}, "https://a/sse", nil)
	assert.Error(t, err)
	_, err = mcpServerFromArgs("none", nil, "", nil)
	assert.Error(t, err)
	_, err = mcpServerFromArgs("bad", []string{"x"}, "", []string{"NOEQUALS"})
	assert.Error(t, err)
	_, err = mcpServerFromArgs("ftp", nil, "ftp://host/sse", nil)
	assert.Error(t, err)
}

func TestResolveSession(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	ws, err := st.Workspaces.Create(ctx, domain.Workspace{Name: "w", Path: t.TempDir()})
	require.NoError(t, err)
	sess, err := st.Sessions.Create(ctx, ws.ID, "one")
	require.NoError(t, err)

	got, err := resolveSession(ctx, st.Sessions, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)

	got, err = resolveSession(ctx, st.Sessions, sess.ID[:6])
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)

	_, err = resolveSession(ctx, st.Sessions, "zzz")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPickWorkspaceAndOpenSession(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	_, err := pickWorkspace(ctx, st.Workspaces, nil)
	assert.Error(t, err)

	first, err := st.Workspaces.Create(ctx, domain.Workspace{Name: "first", Path: t.TempDir()})
	require.NoError(t, err)
	got, err := pickWorkspace(ctx, st.Workspaces, nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	_, err = st.Workspaces.Create(ctx, domain.Workspace{Name: "second", Path: t.TempDir()})
	require.NoError(t, err)
	_, err = pickWorkspace(ctx, st.Workspaces, nil)
	assert.ErrorContains(t, err, "first, second")
	got, err = pickWorkspace(ctx, st.Workspaces, []string{"second"})
	require.NoError(t, err)
	assert.Equal(t, "second", got.Name)

	created, err := openSession(ctx, st.Sessions, first.ID, false)
	require.NoError(t, err)
	again, err := openSession(ctx, st.Sessions, first.ID, false)
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)
	fresh, err := openSession(ctx, st.Sessions, first.ID, true)
	require.NoError(t, err)
	assert.NotEqual(t, created.ID, fresh.ID)
}

func TestSyncWorkspaceRejectsNonGit(t *testing.T) {
	ctx := context.Background()
	_, err := syncWorkspace(ctx, &domain.Workspace{Name: "plain", Path: t.TempDir(), SyncKind: domain.SyncNone}, syncOptions{}, nil)
	assert.ErrorContains(t, err, "no sync remote")

	_, err = syncWorkspace(ctx, &domain.Workspace{Name: "dav", Path: t.TempDir(), SyncKind: domain.SyncWebDAV}, syncOptions{}, nil)
	assert.ErrorContains(t, err, "WebDAV")
}

func TestSyncWorkspaceUnsetToken(t *testing.T) {
	t.Setenv("CODEXM_TEST_GIT_TOKEN", "")
	w := &domain.Workspace{
		Name:     "site",
		Path:     t.TempDir(),
		SyncKind: domain.SyncGit,
		Remote:   "https://git.example.com/site.git",
		Git:      domain.GitSync{Username: "ada", Token: "${CODEXM_TEST_GIT_TOKEN}"},
	}
	_, err := syncWorkspace(context.Background(), w, syncOptions{}, nil)
	assert.ErrorContains(t, err, "expands to nothing")
}

func TestSyncWorkspaceClonesThenPulls(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	git := func(dir string, args ...string) {
		t.Helper()
		cmd := exec.Command("git", append([]string{"-c", "user.name=Test", "-c", "user.email=test@example.com", "-c", "commit.gpgsign=false"}, args...)...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	src := t.TempDir()
	git(src, "init", "-q")
	git(src, "symbolic-ref", "HEAD", "refs/heads/trunk")
	require.NoError(t, os.WriteFile(filepath.Join(src, "README.md"), []byte("hi\n"), 0o644))
	git(src, "add", "README.md")
	git(src, "commit", "-q", "-m", "init")

	w := &domain.Workspace{
		Name:     "site",
		Path:     t.TempDir(),
		SyncKind: domain.SyncGit,
		Remote:   src,
		Git:      domain.GitSync{Branch: "trunk", AuthorName: "Ada", AuthorEmail: "ada@example.com"},
	}
	ctx := context.Background()
	msg, err := syncWorkspace(ctx, w, syncOptions{}, nil)
	require.NoError(t, err)
	assert.Contains(t, msg, "Cloned")
	assert.FileExists(t, filepath.Join(w.Path, "README.md"))

	require.NoError(t, os.WriteFile(filepath.Join(src, "CHANGES.md"), []byte("v2\n"), 0o644))
	git(src, "add", "CHANGES.md")
	git(src, "commit", "-q", "-m", "v2")

	msg, err = syncWorkspace(ctx, w, syncOptions{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Pulled site", msg)
	assert.FileExists(t, filepath.Join(w.Path, "CHANGES.md"))
}

func TestMergeGitSync(t *testing.T) {
	cur := domain.GitSync{Branch: "main", Username: "ada", Token: "old"}
	next := domain.GitSync{Branch: "ignored", Token: "new", AllowInsecure: true}
	changed := func(name string) bool { return name == "token" || name == "insecure" }

	got := mergeGitSync(cur, next, changed)
	assert.Equal(t, domain.GitSync{Branch: "main", Username: "ada", Token: "new", AllowInsecure: true}, got)
}

func TestDescribeGitSyncHidesToken(t *testing.T) {
	w := &domain.Workspace{Remote: "https://x/y.git", Git: domain.GitSync{Username: "ada", Token: "s3cret"}}
	out := describeGitSync(w)
	assert.Contains(t, out, "Token:     (set)")
	assert.NotContains(t, out, "s3cret")

	w.Git.Token = "${SITE_TOKEN}"
	assert.Contains(t, describeGitSync(w), "${SITE_TOKEN}")
}

func TestSessionTitle(t *testing.T) {
	assert.Equal(t, "fix the build", sessionTitle("  fix\tthe\n build "))

	long := strings.Repeat("é", 60)
	title := sessionTitle(long)
	assert.True(t, utf8.ValidString(title))
	assert.Equal(t, strings.Repeat("é", 48)+"...", title)

	exact := strings.Repeat("日", 48)
	assert.Equal(t, exact, sessionTitle(exact))
}

func TestTable(t *testing.T) {
	out := table([]string{"ID", "NAME"}, [][]string{{"1", "alpha"}, {"22", "b"}})
	assert.Contains(t, out, "1   alpha\n")
	assert.Contains(t, out, "22  b\n")
}

func TestStreamViewPrintsGrowingResponse(t *testing.T) {
	var buf bytes.Buffer
	tr := transcript.New([]domain.ChatMessage{{ID: "old", Role: domain.RoleUser, Content: "earlier"}})
	v := newStreamView(&buf, tr)
	tr.OnChange(v.changed)

	v.begin()
	tr.Append(
		domain.ChatMessage{ID: "u", Role: domain.RoleUser, Content: "hi"},
		domain.ChatMessage{ID: "p", Role: domain.RoleAssistant},
	)
	tr.Update("p", "Hel")
	tr.Update("p", "Hello")
	v.finish(&dispatch.Outcome{Response: domain.ChatMessage{ID: "p", Role: domain.RoleAssistant, Content: "Hello"}})

	out := buf.String()
	assert.Contains(t, out, "Hello\n\n")
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("Hel")))
	assert.NotContains(t, out, "earlier")
}

func TestStreamViewReplacedContent(t *testing.T) {
	var buf bytes.Buffer
	tr := transcript.New(nil)
	v := newStreamView(&buf, tr)
	tr.OnChange(v.changed)

	v.begin()
	tr.Append(
		domain.ChatMessage{ID: "u", Role: domain.RoleUser, Content: "hi"},
		domain.ChatMessage{ID: "p", Role: domain.RoleAssistant},
	)
	tr.Update("p", "draft")
	v.finish(&dispatch.Outcome{
		Response: domain.ChatMessage{ID: "p", Role: domain.RoleAssistant, Content: "boom"},
		Result:   transcript.Result{Content: "boom", Errors: []string{"boom", "second failure"}},
	})

	out := buf.String()
	assert.Contains(t, out, "draft\nboom")
	assert.Contains(t, out, "error: second failure")
	assert.NotContains(t, out, "error: boom")
}
