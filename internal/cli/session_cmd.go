package cli

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/soyeahso/codexm/internal/domain"
	"github.com/spf13/cobra"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and manage chat sessions",
	}

	cmd.AddCommand(newSessionListCmd())
	cmd.AddCommand(newSessionShowCmd())
	cmd.AddCommand(newSessionRenameCmd())
	cmd.AddCommand(newSessionDeleteCmd())
	cmd.AddCommand(newSessionSearchCmd())
	cmd.AddCommand(newSessionToolsCmd())

	return cmd
}

func newSessionListCmd() *cobra.Command {
	var wsRef string

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List sessions, most recent first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			wsID := ""
			if wsRef != "" {
				w, err := a.st.Workspaces.Resolve(ctx, wsRef)
				if err != nil {
					return err
				}
				wsID = w.ID
			}
			workspaces, err := a.st.Workspaces.List(ctx)
			if err != nil {
				return err
			}
			names := make(map[string]string, len(workspaces))
			for _, w := range workspaces {
				names[w.ID] = w.Name
			}

			sessions, err := a.st.Sessions.List(ctx, wsID)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("No sessions.")
				return nil
			}
			rows := make([][]string, 0, len(sessions))
			for _, s := range sessions {
				rows = append(rows, []string{
					shortID(s.ID), names[s.WorkspaceID], string(s.Mode.Normalize()),
					humanize.Time(s.UpdatedAt), titleOf(s),
				})
			}
			fmt.Print(table([]string{"ID", "WORKSPACE", "MODE", "UPDATED", "TITLE"}, rows))
			return nil
		},
	}

	cmd.Flags().StringVarP(&wsRef, "workspace", "w", "", "only sessions of this workspace")
	return cmd
}

func newSessionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a session transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			sess, err := resolveSession(ctx, a.st.Sessions, args[0])
			if err != nil {
				return err
			}
			msgs, err := a.st.Sessions.Messages(ctx, sess.ID)
			if err != nil {
				return err
			}

			fmt.Println(headerStyle.Render(titleOf(*sess)))
			thread := sess.ThreadID
			if thread == "" {
				thread = "none"
			}
			fmt.Println(dimStyle.Render(fmt.Sprintf("%s  thread %s  %s  created %s",
				sess.ID, thread, sess.Mode.Normalize(), humanize.Time(sess.CreatedAt))))
			fmt.Println()
			for _, m := range msgs {
				fmt.Println(renderMessage(m))
			}
			return nil
		},
	}
}

func newSessionRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <title>",
		Short: "Rename a session",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			sess, err := resolveSession(ctx, a.st.Sessions, args[0])
			if err != nil {
				return err
			}
			title := strings.Join(args[1:], " ")
			if err := a.st.Sessions.Rename(ctx, sess.ID, title); err != nil {
				return err
			}
			fmt.Printf("Renamed %s to %q\n", shortID(sess.ID), title)
			return nil
		},
	}
}

func newSessionDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a session and its messages",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			sess, err := resolveSession(ctx, a.st.Sessions, args[0])
			if err != nil {
				return err
			}
			if err := a.st.Sessions.Delete(ctx, sess.ID); err != nil {
				return err
			}
			fmt.Printf("Deleted session %s\n", shortID(sess.ID))
			return nil
		},
	}
}

func newSessionSearchCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search across every session's messages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			hits, err := a.st.Sessions.Search(cmd.Context(), strings.Join(args, " "), limit)
			if err != nil {
				return err
			}
			if len(hits) == 0 {
				fmt.Println("No matches.")
				return nil
			}
			for _, h := range hits {
				fmt.Printf("%s %s  %s\n", dimStyle.Render(shortID(h.SessionID)), roleLabel(h.Role), h.Snippet)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of matches")
	return cmd
}

func newSessionToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools <id> [mcp-server...]",
		Short: "Set the MCP servers enabled for a session's new threads",
		Long: "Replace the session's enabled MCP servers with the named registrations.\n" +
			"With no servers, the session's current list is printed. Use `none` to clear it.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			sess, err := resolveSession(ctx, a.st.Sessions, args[0])
			if err != nil {
				return err
			}

			if len(args) == 1 {
				enabled, err := a.tools.Enabled(ctx, sess)
				if err != nil {
					return err
				}
				if len(enabled) == 0 {
					fmt.Println("No MCP servers enabled.")
				}
				for _, srv := range enabled {
					fmt.Println(srv.Name)
				}
				return nil
			}

			var ids []string
			if !(len(args) == 2 && args[1] == "none") {
				for _, ref := range args[1:] {
					srv, err := a.tools.Resolve(ctx, ref)
					if err != nil {
						return err
					}
					ids = append(ids, srv.ID)
				}
			}
			if err := a.st.Sessions.SetToolServers(ctx, sess.ID, ids); err != nil {
				return err
			}
			fmt.Printf("Session %s now enables %d MCP server(s). They apply to threads started from now on.\n",
				shortID(sess.ID), len(ids))
			return nil
		},
	}
}

func titleOf(s domain.Session) string {
	if s.Title == "" {
		return "(untitled)"
	}
	return s.Title
}
