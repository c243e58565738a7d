package workspace

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

// testRepo creates a repository on branch "trunk" with one committed file.
func testRepo(t *testing.T) string {
	t.Helper()
	requireGit(t)
	dir := t.TempDir()
	gitCmd := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", append([]string{"-c", "user.name=Test", "-c", "user.email=test@example.com", "-c", "commit.gpgsign=false"}, args...)...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	gitCmd("init", "-q")
	gitCmd("symbolic-ref", "HEAD", "refs/heads/trunk")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0o644))
	gitCmd("add", "main.go")
	gitCmd("commit", "-q", "-m", "init")
	return dir
}

func TestGit_BranchAndRepository(t *testing.T) {
	dir := testRepo(t)
	g := NewGit(dir, nil)
	ctx := context.Background()

	assert.True(t, g.IsRepository(ctx))
	branch, err := g.Branch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "trunk", branch)
}

func TestGit_NotRepository(t *testing.T) {
	requireGit(t)
	g := NewGit(t.TempDir(), nil)
	ctx := context.Background()

	assert.False(t, g.IsRepository(ctx))
	_, err := g.Branch(ctx)
	assert.ErrorIs(t, err, ErrNotRepository)
	_, err = g.Diff(ctx)
	assert.ErrorIs(t, err, ErrNotRepository)
	_, err = g.Status(ctx)
	assert.ErrorIs(t, err, ErrNotRepository)
}

func TestGit_DiffAndStatus(t *testing.T) {
	dir := testRepo(t)
	g := NewGit(dir, nil)
	ctx := context.Background()

	diff, err := g.Diff(ctx)
	require.NoError(t, err)
	assert.Empty(t, diff)
	st, err := g.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Clean())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n\nfunc main() {}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("todo\n"), 0o644))

	diff, err = g.Diff(ctx)
	require.NoError(t, err)
	assert.Contains(t, diff, "diff --git a/main.go b/main.go")
	assert.Contains(t, diff, "+func main() {}")
	assert.NotContains(t, diff, "notes.txt")

	st, err = g.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Clean())
	assert.Equal(t, []string{"main.go"}, st.Unstaged)
	assert.Equal(t, []string{"notes.txt"}, st.Untracked)
	assert.Empty(t, st.Staged)
}

func TestGit_CloneFromLocal(t *testing.T) {
	src := testRepo(t)
	dst := t.TempDir()
	g := NewGit(dst, nil)

	require.NoError(t, g.Clone(context.Background(), src, CloneOptions{Branch: "trunk"}))
	assert.FileExists(t, filepath.Join(dst, "main.go"))

	branch, err := g.Branch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "trunk", branch)
	require.NoError(t, g.Pull(context.Background(), "", ""))
}

// runGit runs git in dir and returns trimmed stdout.
func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-c", "commit.gpgsign=false"}, args...)...)
	cmd.Dir = dir
	out, err := cmd.Output()
	require.NoError(t, err, "git %s", strings.Join(args, " "))
	return strings.TrimSpace(string(out))
}

// bareRemote clones a fresh test repository into a bare repository.
func bareRemote(t *testing.T) string {
	t.Helper()
	src := testRepo(t)
	bare := filepath.Join(t.TempDir(), "remote.git")
	runGit(t, src, "clone", "-q", "--bare", src, bare)
	return bare
}

func TestGit_SyncWithBareRemote(t *testing.T) {
	remote := bareRemote(t)
	ctx := context.Background()

	first := t.TempDir()
	g1 := NewGit(first, nil)
	require.NoError(t, g1.Clone(ctx, remote, CloneOptions{
		Branch:    "trunk",
		UserName:  "Ada",
		UserEmail: "ada@example.com",
	}))
	assert.Equal(t, "Ada", runGit(t, first, "config", "user.name"))
	assert.Equal(t, "ada@example.com", runGit(t, first, "config", "user.email"))

	require.NoError(t, os.WriteFile(filepath.Join(first, "notes.md"), []byte("hello\n"), 0o644))
	runGit(t, first, "add", "notes.md")
	runGit(t, first, "commit", "-q", "-m", "notes")
	require.NoError(t, g1.Push(ctx, "", ""))
	assert.Equal(t, runGit(t, first, "rev-parse", "HEAD"), runGit(t, remote, "rev-parse", "refs/heads/trunk"))

	second := t.TempDir()
	g2 := NewGit(second, nil)
	require.NoError(t, g2.Clone(ctx, remote, CloneOptions{}))
	assert.FileExists(t, filepath.Join(second, "notes.md"))

	require.NoError(t, os.WriteFile(filepath.Join(first, "more.md"), []byte("more\n"), 0o644))
	runGit(t, first, "add", "more.md")
	runGit(t, first, "commit", "-q", "-m", "more")
	require.NoError(t, g1.Push(ctx, DefaultRemote, "trunk"))

	require.NoError(t, g2.Pull(ctx, "", "trunk"))
	assert.FileExists(t, filepath.Join(second, "more.md"))
}

func TestGit_Checkout(t *testing.T) {
	dir := testRepo(t)
	g := NewGit(dir, nil)
	ctx := context.Background()
	first := runGit(t, dir, "rev-parse", "HEAD")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n\n// v2\n"), 0o644))
	runGit(t, dir, "-c", "user.name=Test", "-c", "user.email=test@example.com", "commit", "-q", "-am", "v2")

	require.NoError(t, g.Checkout(ctx, first))
	assert.Equal(t, first, runGit(t, dir, "rev-parse", "HEAD"))
	branch, err := g.Branch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "HEAD", branch)
	data, err := os.ReadFile(filepath.Join(dir, "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(data))

	err = g.Push(ctx, "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "detached")

	// A local edit the checkout would overwrite blocks it.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main // dirty\n"), 0o644))
	var gerr *GitError
	require.ErrorAs(t, g.Checkout(ctx, "trunk"), &gerr)

	assert.Error(t, g.Checkout(ctx, ""))
	assert.Error(t, g.Checkout(ctx, "no-such-ref"))
}

func TestGit_AuthEnvironment(t *testing.T) {
	g := NewGit(t.TempDir(), nil)
	assert.Equal(t, []string{"GIT_TERMINAL_PROMPT=0"}, g.env())

	g.Auth = Auth{Username: "ada", Token: "s3cret", AllowInsecure: true}
	env := g.env()
	assert.Contains(t, env, "GIT_CONFIG_COUNT=2")
	assert.Contains(t, env, "GIT_CONFIG_KEY_0=http.extraHeader")
	assert.Contains(t, env, "GIT_CONFIG_VALUE_0=Authorization: Basic YWRhOnMzY3JldA==")
	assert.Contains(t, env, "GIT_CONFIG_KEY_1=http.sslVerify")
	assert.Contains(t, env, "GIT_CONFIG_VALUE_1=false")

	// A token without a username is not sent.
	g.Auth = Auth{Token: "s3cret"}
	assert.Equal(t, []string{"GIT_TERMINAL_PROMPT=0"}, g.env())
}

func TestGit_ErrorCarriesStderr(t *testing.T) {
	dir := testRepo(t)
	g := NewGit(dir, nil)

	err := g.Clone(context.Background(), filepath.Join(t.TempDir(), "missing"), CloneOptions{})
	require.Error(t, err)
	var gerr *GitError
	require.True(t, errors.As(err, &gerr))
	assert.Contains(t, gerr.Command, "git clone")
	assert.NotEmpty(t, gerr.Stderr)
}

func TestParsePorcelain(t *testing.T) {
	out := "M  staged.go\x00 M unstaged.go\x00MM both.go\x00?? new.txt\x00R  renamed.go\x00old.go\x00"
	st := parsePorcelain(out)
	assert.Equal(t, []string{"staged.go", "both.go", "renamed.go"}, st.Staged)
	assert.Equal(t, []string{"unstaged.go", "both.go"}, st.Unstaged)
	assert.Equal(t, []string{"new.txt"}, st.Untracked)

	assert.True(t, parsePorcelain("").Clean())
}

func TestScaffoldAgents(t *testing.T) {
	dir := t.TempDir()

	path, err := ScaffoldAgents(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, AgentsFile), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Repository Guidelines")

	require.NoError(t, os.WriteFile(path, []byte("custom"), 0o644))
	_, err = ScaffoldAgents(dir)
	assert.ErrorIs(t, err, ErrExists)
	data, _ = os.ReadFile(path)
	assert.Equal(t, "custom", string(data), "existing file untouched")
}

func TestScaffoldAgents_MissingDir(t *testing.T) {
	_, err := ScaffoldAgents(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrExists)
}
