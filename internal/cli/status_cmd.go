package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/soyeahso/codexm/internal/config"
	"github.com/soyeahso/codexm/internal/settings"
	"github.com/soyeahso/codexm/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show codexm paths, agent connection settings and data summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(headerStyle.Render(version.Info()))
			fmt.Println()

			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Printf("Config:    error loading: %v\n", err)
				return nil
			}
			p := paths.WithConfig(cfg)

			configNote := ""
			if _, err := os.Stat(p.Config); os.IsNotExist(err) {
				configNote = " (not found, using defaults)"
			}
			fmt.Printf("Config:    %s%s\n", p.Config, configNote)
			fmt.Printf("Database:  %s%s\n", p.Database, fileSize(p.Database))
			fmt.Printf("Logs:      %s\n", p.Logs)
			fmt.Printf("Agent:     %s\n", p.AgentHome)
			fmt.Println()

			if cfg.Agent.Remote() {
				auth := "none"
				if cfg.Agent.Token != "" {
					auth = "bearer token"
				}
				fmt.Printf("App-server: %s (auth: %s)\n", cfg.Agent.URL, auth)
			} else {
				fmt.Printf("App-server: %s\n", strings.TrimSpace(cfg.Agent.Command+" "+strings.Join(cfg.Agent.Args, " ")))
			}
			fmt.Printf("Approvals:  %s, request timeout %s\n", cfg.Agent.ApprovalDecision, cfg.Agent.Timeout())

			if s, err := settingsSummary(p); err == nil {
				fmt.Printf("Settings:   %s\n", s)
			} else {
				fmt.Printf("Settings:   error: %v\n", err)
			}

			if issues := config.Validate(&cfg); len(issues) > 0 {
				fmt.Printf("\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Printf("  - %s\n", issue)
				}
				return nil
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			workspaces, err := a.st.Workspaces.List(ctx)
			if err != nil {
				return err
			}
			sessions, err := a.st.Sessions.List(ctx, "")
			if err != nil {
				return err
			}
			servers, err := a.tools.List(ctx)
			if err != nil {
				return err
			}
			fmt.Println()
			fmt.Printf("Data:       %d workspace(s), %d session(s), %d MCP server(s)\n",
				len(workspaces), len(sessions), len(servers))
			if len(sessions) > 0 {
				fmt.Printf("Last chat:  %s (%s)\n", titleOf(sessions[0]), humanize.Time(sessions[0].UpdatedAt))
			}
			return nil
		},
	}
}

func fileSize(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return ""
	}
	return " (" + humanize.Bytes(uint64(info.Size())) + ")"
}

func settingsSummary(p config.Paths) (string, error) {
	s, err := settings.Open(p.SettingsFile()).Load()
	if err != nil {
		return "", err
	}
	model := s.Model
	if model == "" {
		model = "default model"
	}
	policy := s.ApprovalPolicy
	if policy == "" {
		policy = "default approval policy"
	}
	return fmt.Sprintf("%s, %s (%s)", model, policy, p.SettingsFile()), nil
}
