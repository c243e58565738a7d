package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/soyeahso/codexm/internal/domain"
	"github.com/soyeahso/codexm/internal/mcp"
	"github.com/spf13/cobra"
)

func newMCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Register and check MCP tool servers",
	}

	cmd.AddCommand(newMCPAddCmd())
	cmd.AddCommand(newMCPListCmd())
	cmd.AddCommand(newMCPRemoveCmd())
	cmd.AddCommand(newMCPProbeCmd())

	return cmd
}

func newMCPAddCmd() *cobra.Command {
	var (
		url   string
		env   []string
		probe bool
	)

	cmd := &cobra.Command{
		Use:   "add <name> [-- command [args...]]",
		Short: "Register an MCP server",
		Long: "Register a stdio server by giving its command after --, or an SSE server with --url.\n" +
			"--env KEY=VALUE sets the process environment (stdio) or request headers (sse).",
		Example: "  codexm mcp add docs -- npx -y @acme/docs-mcp\n" +
			"  codexm mcp add search --url https://mcp.example.com/sse --env Authorization=Bearer\\ abc",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := mcpServerFromArgs(args[0], args[1:], url, env)
			if err != nil {
				return err
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if probe {
				res, err := mcp.Probe(cmd.Context(), srv)
				if err != nil {
					return fmt.Errorf("probe failed, not registering: %w", err)
				}
				fmt.Printf("%s %s answered with %d tool(s)\n", res.ServerName, res.ServerVersion, len(res.Tools))
			}

			saved, err := a.tools.Register(cmd.Context(), srv)
			if err != nil {
				return err
			}
			fmt.Printf("Registered %s (%s, %s)\n", saved.Name, saved.Transport, shortID(saved.ID))
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "SSE endpoint of a remote server")
	cmd.Flags().StringArrayVarP(&env, "env", "e", nil, "KEY=VALUE environment entry or header (repeatable)")
	cmd.Flags().BoolVar(&probe, "probe", false, "check the server answers before registering it")
	return cmd
}

// mcpServerFromArgs builds a registration from the add command's inputs.
func mcpServerFromArgs(name string, command []string, url string, env []string) (domain.MCPServer, error) {
	srv := domain.MCPServer{Name: name}
	switch {
	case url != "" && len(command) > 0:
		return srv, fmt.Errorf("give either --url or a command, not both")
	case url != "":
		srv.Transport = domain.MCPSSE
		srv.URL = url
	case len(command) > 0:
		srv.Transport = domain.MCPStdio
		srv.Command = command[0]
		srv.Args = command[1:]
	default:
		return srv, fmt.Errorf("give a command after -- or an --url")
	}

	if len(env) > 0 {
		srv.Env = make(map[string]string, len(env))
		for _, kv := range env {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				return srv, fmt.Errorf("invalid --env %q, want KEY=VALUE", kv)
			}
			srv.Env[k] = v
		}
	}
	return srv, mcp.Validate(srv)
}

func newMCPListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List registered MCP servers",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := a.tools.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println("No MCP servers registered.")
				return nil
			}
			rows := make([][]string, 0, len(list))
			for _, s := range list {
				rows = append(rows, []string{
					shortID(s.ID), s.Name, string(s.Transport), humanize.Time(s.CreatedAt), mcpTarget(s),
				})
			}
			fmt.Print(table([]string{"ID", "NAME", "TRANSPORT", "ADDED", "TARGET"}, rows))
			return nil
		},
	}
}

func mcpTarget(s domain.MCPServer) string {
	if s.Transport == domain.MCPSSE {
		return s.URL
	}
	return strings.TrimSpace(s.Command + " " + strings.Join(s.Args, " "))
}

func newMCPRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <name|id>",
		Aliases: []string{"rm"},
		Short:   "Remove an MCP server registration",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.tools.Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Removed %s\n", args[0])
			return nil
		},
	}
}

func newMCPProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe <name|id>",
		Short: "Connect to a registered server and list its tools",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			srv, err := a.tools.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			res, err := mcp.Probe(cmd.Context(), *srv)
			if err != nil {
				return err
			}

			fmt.Printf("%s %s (protocol %s)\n", headerStyle.Render(res.ServerName), res.ServerVersion, res.ProtocolVersion)
			tools := append([]mcp.Tool(nil), res.Tools...)
			sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
			for _, t := range tools {
				fmt.Printf("  %-24s %s\n", t.Name, dimStyle.Render(t.Description))
			}
			return nil
		},
	}
}
