package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/soyeahso/codexm/internal/domain"
	"github.com/soyeahso/codexm/internal/logging"
	"github.com/soyeahso/codexm/internal/workspace"
	"github.com/spf13/cobra"
)

func newWorkspaceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "workspace",
		Aliases: []string{"ws"},
		Short:   "Manage workspaces",
	}

	cmd.AddCommand(newWorkspaceAddCmd())
	cmd.AddCommand(newWorkspaceListCmd())
	cmd.AddCommand(newWorkspaceRemoveCmd())
	cmd.AddCommand(newWorkspaceSyncCmd())
	cmd.AddCommand(newWorkspaceGitCmd())
	cmd.AddCommand(newWorkspaceCheckoutCmd())

	return cmd
}

func newWorkspaceAddCmd() *cobra.Command {
	var (
		remote string
		webdav string
		gs     domain.GitSync
	)

	cmd := &cobra.Command{
		Use:   "add <name> <dir>",
		Short: "Register a directory as a workspace",
		Long: "Register dir as a workspace. With --git the directory is kept in sync with\n" +
			"the remote through `workspace sync`; an empty directory is cloned on first sync.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if remote != "" && webdav != "" {
				return errors.New("--git and --webdav are mutually exclusive")
			}
			dir, err := filepath.Abs(args[1])
			if err != nil {
				return err
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("creating workspace directory: %w", err)
			}

			w := domain.Workspace{Name: args[0], Path: dir, SyncKind: domain.SyncNone}
			switch {
			case remote != "":
				w.SyncKind, w.Remote, w.Git = domain.SyncGit, remote, gs
			case webdav != "":
				w.SyncKind, w.Remote = domain.SyncWebDAV, webdav
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			created, err := a.st.Workspaces.Create(cmd.Context(), w)
			if err != nil {
				return err
			}
			fmt.Printf("Added workspace %s (%s) at %s\n", created.Name, shortID(created.ID), created.Path)
			return nil
		},
	}

	cmd.Flags().StringVar(&remote, "git", "", "git remote to sync with")
	cmd.Flags().StringVar(&webdav, "webdav", "", "WebDAV URL the directory is synced with")
	gitSyncFlags(cmd, &gs)
	return cmd
}

func gitSyncFlags(cmd *cobra.Command, gs *domain.GitSync) {
	cmd.Flags().StringVar(&gs.Branch, "branch", "", "branch to clone, pull and push")
	cmd.Flags().StringVar(&gs.Username, "username", "", "username for an HTTPS remote")
	cmd.Flags().StringVar(&gs.Token, "token", "", "access token for an HTTPS remote (${VAR} is expanded at sync time)")
	cmd.Flags().BoolVar(&gs.AllowInsecure, "insecure", false, "skip TLS certificate verification")
	cmd.Flags().StringVar(&gs.AuthorName, "author-name", "", "user.name set in a fresh clone")
	cmd.Flags().StringVar(&gs.AuthorEmail, "author-email", "", "user.email set in a fresh clone")
}

func newWorkspaceGitCmd() *cobra.Command {
	var gs domain.GitSync

	cmd := &cobra.Command{
		Use:   "git <name|id>",
		Short: "Show or change the git sync options of a workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			w, err := a.st.Workspaces.Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			if w.SyncKind != domain.SyncGit {
				return fmt.Errorf("workspace %s is not synced with git", w.Name)
			}

			if cmd.Flags().NFlag() > 0 {
				w.Git = mergeGitSync(w.Git, gs, cmd.Flags().Changed)
				if err := a.st.Workspaces.SetGitSync(ctx, w.ID, w.Git); err != nil {
					return err
				}
			}
			fmt.Print(describeGitSync(w))
			return nil
		},
	}

	gitSyncFlags(cmd, &gs)
	return cmd
}

// mergeGitSync copies the options whose flags were given from next onto cur.
func mergeGitSync(cur, next domain.GitSync, changed func(string) bool) domain.GitSync {
	if changed("branch") {
		cur.Branch = next.Branch
	}
	if changed("username") {
		cur.Username = next.Username
	}
	if changed("token") {
		cur.Token = next.Token
	}
	if changed("insecure") {
		cur.AllowInsecure = next.AllowInsecure
	}
	if changed("author-name") {
		cur.AuthorName = next.AuthorName
	}
	if changed("author-email") {
		cur.AuthorEmail = next.AuthorEmail
	}
	return cur
}

func describeGitSync(w *domain.Workspace) string {
	orNone := func(s string) string {
		if s == "" {
			return "(none)"
		}
		return s
	}
	token := "(none)"
	if w.Git.Token != "" {
		token = "(set)"
		if strings.HasPrefix(w.Git.Token, "${") {
			token = w.Git.Token
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-10s %s\n", "Remote:", w.Remote)
	fmt.Fprintf(&b, "%-10s %s\n", "Branch:", orNone(w.Git.Branch))
	fmt.Fprintf(&b, "%-10s %s\n", "Username:", orNone(w.Git.Username))
	fmt.Fprintf(&b, "%-10s %s\n", "Token:", token)
	fmt.Fprintf(&b, "%-10s %t\n", "Insecure:", w.Git.AllowInsecure)
	fmt.Fprintf(&b, "%-10s %s\n", "Author:", orNone(strings.TrimSpace(w.Git.AuthorName+" "+angle(w.Git.AuthorEmail))))
	return b.String()
}

func angle(email string) string {
	if email == "" {
		return ""
	}
	return "<" + email + ">"
}

func newWorkspaceCheckoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkout <name|id> <ref>",
		Short: "Check out a branch, tag or commit in a workspace (detached)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			w, err := a.st.Workspaces.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := workspace.NewGit(w.Path, a.log).Checkout(cmd.Context(), args[1]); err != nil {
				return err
			}
			fmt.Printf("Checked out %s in %s\n", args[1], w.Name)
			return nil
		},
	}
}

func newWorkspaceListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List workspaces",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			list, err := a.st.Workspaces.List(ctx)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println("No workspaces. Add one with `codexm workspace add <name> <dir>`.")
				return nil
			}

			rows := make([][]string, 0, len(list))
			for _, w := range list {
				sessions, err := a.st.Sessions.List(ctx, w.ID)
				if err != nil {
					return err
				}
				rows = append(rows, []string{
					shortID(w.ID), w.Name, string(w.SyncKind),
					fmt.Sprint(len(sessions)), humanize.Time(w.UpdatedAt), w.Path,
				})
			}
			fmt.Print(table([]string{"ID", "NAME", "SYNC", "SESSIONS", "UPDATED", "PATH"}, rows))
			return nil
		},
	}
}

func newWorkspaceRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <name|id>",
		Aliases: []string{"rm"},
		Short:   "Remove a workspace and its sessions (files on disk are kept)",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			w, err := a.st.Workspaces.Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			if err := a.st.Workspaces.Delete(ctx, w.ID); err != nil {
				return err
			}
			fmt.Printf("Removed workspace %s\n", w.Name)
			return nil
		},
	}
}

func newWorkspaceSyncCmd() *cobra.Command {
	var (
		push   bool
		remote string
		branch string
	)

	cmd := &cobra.Command{
		Use:   "sync <name|id>",
		Short: "Pull (or clone) a git workspace from its remote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			w, err := a.st.Workspaces.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if branch != "" {
				w.Git.Branch = branch
			}
			msg, err := syncWorkspace(cmd.Context(), w, syncOptions{Push: push, Remote: remote}, a.log)
			if err != nil {
				return err
			}
			fmt.Println(msg)
			return nil
		},
	}

	cmd.Flags().BoolVar(&push, "push", false, "push local commits after pulling")
	cmd.Flags().StringVar(&remote, "remote", "", "remote to pull from and push to (default: upstream, or origin)")
	cmd.Flags().StringVar(&branch, "branch", "", "branch to sync instead of the workspace's configured one")
	return cmd
}

type syncOptions struct {
	Push   bool
	Remote string
}

// syncWorkspace runs the opaque sync operations for w and reports what
// happened.
func syncWorkspace(ctx context.Context, w *domain.Workspace, opts syncOptions, log *logging.Logger) (string, error) {
	switch w.SyncKind {
	case domain.SyncGit:
	case domain.SyncWebDAV:
		return "", fmt.Errorf("workspace %s syncs over WebDAV, which codexm does not drive", w.Name)
	default:
		return "", fmt.Errorf("workspace %s has no sync remote", w.Name)
	}

	git := workspace.NewGit(w.Path, log)
	git.Auth = workspace.Auth{
		Username:      w.Git.Username,
		Token:         os.ExpandEnv(w.Git.Token),
		AllowInsecure: w.Git.AllowInsecure,
	}
	if w.Git.Token != "" && git.Auth.Token == "" {
		return "", fmt.Errorf("workspace %s: token %s expands to nothing", w.Name, w.Git.Token)
	}

	if !git.IsRepository(ctx) {
		entries, err := os.ReadDir(w.Path)
		if err != nil {
			return "", err
		}
		if len(entries) > 0 {
			return "", fmt.Errorf("%s is not empty and not a git repository; refusing to clone into it", w.Path)
		}
		err = git.Clone(ctx, w.Remote, workspace.CloneOptions{
			Branch:    w.Git.Branch,
			UserName:  w.Git.AuthorName,
			UserEmail: w.Git.AuthorEmail,
		})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Cloned %s into %s", w.Remote, w.Path), nil
	}

	if err := git.Pull(ctx, opts.Remote, w.Git.Branch); err != nil {
		return "", err
	}
	if !opts.Push {
		return fmt.Sprintf("Pulled %s", w.Name), nil
	}
	if err := git.Push(ctx, opts.Remote, w.Git.Branch); err != nil {
		return "", err
	}
	return fmt.Sprintf("Pulled and pushed %s", w.Name), nil
}
