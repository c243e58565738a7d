// Package workspace runs the opaque git operations and file scaffolding a
// workspace directory needs.
package workspace

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/soyeahso/codexm/internal/logging"
)

// ErrNotRepository is returned when the workspace is not inside a git work tree.
var ErrNotRepository = errors.New("not a git repository")

// GitError carries the failing command and its stderr.
type GitError struct {
	Command string
	Stderr  string
	Err     error
}

func (e *GitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s: %s", e.Command, e.Stderr)
	}
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

func (e *GitError) Unwrap() error { return e.Err }

// Auth carries HTTPS credentials for remote operations. They are handed to
// git through the environment and never appear in its arguments.
type Auth struct {
	Username string
	Token    string
	// AllowInsecure skips TLS certificate verification.
	AllowInsecure bool
}

// Git runs git commands inside one directory.
type Git struct {
	Dir  string
	Bin  string
	Auth Auth
	log  *logging.Logger
}

// NewGit returns a runner for dir using the git binary on PATH.
func NewGit(dir string, log *logging.Logger) *Git {
	if log == nil {
		log = logging.Nop()
	}
	return &Git{Dir: dir, Bin: "git", log: log.Sub("git")}
}

func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, g.Bin, args...)
	cmd.Dir = g.Dir
	cmd.Env = append(os.Environ(), g.env()...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	command := "git " + strings.Join(args, " ")
	g.log.Debug().Str("cmd", command).Str("dir", g.Dir).Msg("executing")

	out, err := cmd.Output()
	if err != nil {
		gerr := &GitError{Command: command, Stderr: strings.TrimSpace(stderr.String()), Err: err}
		g.log.Debug().Err(gerr).Msg("git command failed")
		return "", gerr
	}
	return string(out), nil
}

// env returns the variables that keep git non-interactive and apply Auth
// as command-line scoped config.
func (g *Git) env() []string {
	env := []string{"GIT_TERMINAL_PROMPT=0"}
	var config [][2]string
	if g.Auth.Username != "" && g.Auth.Token != "" {
		basic := base64.StdEncoding.EncodeToString([]byte(g.Auth.Username + ":" + g.Auth.Token))
		config = append(config, [2]string{"http.extraHeader", "Authorization: Basic " + basic})
	}
	if g.Auth.AllowInsecure {
		config = append(config, [2]string{"http.sslVerify", "false"})
	}
	if len(config) == 0 {
		return env
	}
	env = append(env, fmt.Sprintf("GIT_CONFIG_COUNT=%d", len(config)))
	for i, kv := range config {
		env = append(env,
			fmt.Sprintf("GIT_CONFIG_KEY_%d=%s", i, kv[0]),
			fmt.Sprintf("GIT_CONFIG_VALUE_%d=%s", i, kv[1]),
		)
	}
	return env
}

// IsRepository reports whether Dir is inside a git work tree.
func (g *Git) IsRepository(ctx context.Context) bool {
	out, err := g.run(ctx, "rev-parse", "--is-inside-work-tree")
	return err == nil && strings.TrimSpace(out) == "true"
}

func (g *Git) requireRepository(ctx context.Context) error {
	if !g.IsRepository(ctx) {
		return fmt.Errorf("%s: %w", g.Dir, ErrNotRepository)
	}
	return nil
}

// Branch returns the current branch name, or "HEAD" when detached.
func (g *Git) Branch(ctx context.Context) (string, error) {
	if err := g.requireRepository(ctx); err != nil {
		return "", err
	}
	out, err := g.run(ctx, "symbolic-ref", "--short", "-q", "HEAD")
	if err != nil {
		var gerr *GitError
		if errors.As(err, &gerr) && gerr.Stderr == "" {
			return "HEAD", nil
		}
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Diff returns staged and unstaged changes against HEAD as one patch.
// Untracked files are not included.
func (g *Git) Diff(ctx context.Context) (string, error) {
	if err := g.requireRepository(ctx); err != nil {
		return "", err
	}
	staged, err := g.run(ctx, "--no-pager", "diff", "--no-color", "--cached")
	if err != nil {
		return "", err
	}
	unstaged, err := g.run(ctx, "--no-pager", "diff", "--no-color")
	if err != nil {
		return "", err
	}
	return strings.TrimRight(staged+unstaged, "\n"), nil
}

// Status groups changed paths the way the sync screen shows them.
type Status struct {
	Staged    []string
	Unstaged  []string
	Untracked []string
}

// Clean reports whether nothing changed.
func (s Status) Clean() bool {
	return len(s.Staged) == 0 && len(s.Unstaged) == 0 && len(s.Untracked) == 0
}

// Status lists changed paths. A path may appear as both staged and unstaged.
func (g *Git) Status(ctx context.Context) (Status, error) {
	var st Status
	if err := g.requireRepository(ctx); err != nil {
		return st, err
	}
	out, err := g.run(ctx, "status", "--porcelain=v1", "-z", "--untracked-files=all")
	if err != nil {
		return st, err
	}
	return parsePorcelain(out), nil
}

// parsePorcelain reads NUL-separated `git status --porcelain=v1 -z` output.
// Renames carry the original path as an extra entry, which is skipped.
func parsePorcelain(out string) Status {
	var st Status
	entries := strings.Split(out, "\x00")
	for i := 0; i < len(entries); i++ {
		e := entries[i]
		if len(e) < 4 {
			continue
		}
		x, y, path := e[0], e[1], e[3:]
		if x == '?' && y == '?' {
			st.Untracked = append(st.Untracked, path)
			continue
		}
		if x != ' ' {
			st.Staged = append(st.Staged, path)
		}
		if y != ' ' {
			st.Unstaged = append(st.Unstaged, path)
		}
		if x == 'R' || x == 'C' {
			i++
		}
	}
	return st
}

// CloneOptions tune Clone.
type CloneOptions struct {
	// Branch is checked out instead of the remote's default branch.
	Branch string
	// UserName and UserEmail are written to the clone's local config so
	// commits made in the workspace carry them.
	UserName  string
	UserEmail string
}

// Clone clones remote into Dir.
func (g *Git) Clone(ctx context.Context, remote string, opts CloneOptions) error {
	args := []string{"clone"}
	if opts.Branch != "" {
		args = append(args, "--branch", opts.Branch)
	}
	args = append(args, "--", remote, ".")
	if _, err := g.run(ctx, args...); err != nil {
		return err
	}
	if opts.UserName != "" {
		if _, err := g.run(ctx, "config", "user.name", opts.UserName); err != nil {
			return err
		}
	}
	if opts.UserEmail != "" {
		if _, err := g.run(ctx, "config", "user.email", opts.UserEmail); err != nil {
			return err
		}
	}
	return nil
}

// Checkout detaches HEAD at ref, which may be a branch, tag or commit.
// Local changes that the checkout would overwrite make it fail.
func (g *Git) Checkout(ctx context.Context, ref string) error {
	if ref == "" {
		return errors.New("checkout: ref is required")
	}
	if err := g.requireRepository(ctx); err != nil {
		return err
	}
	_, err := g.run(ctx, "-c", "advice.detachedHead=false", "checkout", "--detach", ref, "--")
	return err
}

// Pull fast-forwards the current branch. With no remote and branch the
// upstream is used; a branch without a remote pulls from origin.
func (g *Git) Pull(ctx context.Context, remote, branch string) error {
	if err := g.requireRepository(ctx); err != nil {
		return err
	}
	args := []string{"pull", "--ff-only"}
	if branch != "" && remote == "" {
		remote = DefaultRemote
	}
	if remote != "" {
		args = append(args, remote)
	}
	if branch != "" {
		args = append(args, branch)
	}
	_, err := g.run(ctx, args...)
	return err
}

// DefaultRemote is used when a sync names a branch but no remote.
const DefaultRemote = "origin"

// Push pushes branch to the same branch name on remote. Empty remote means
// origin and empty branch means the current one.
func (g *Git) Push(ctx context.Context, remote, branch string) error {
	if err := g.requireRepository(ctx); err != nil {
		return err
	}
	if remote == "" {
		remote = DefaultRemote
	}
	if branch == "" {
		current, err := g.Branch(ctx)
		if err != nil {
			return err
		}
		if current == "HEAD" {
			return errors.New("push: HEAD is detached; name the branch to push")
		}
		branch = current
	}
	ref := "refs/heads/" + branch
	_, err := g.run(ctx, "push", remote, ref+":"+ref)
	return err
}
