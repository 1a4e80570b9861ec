package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"agenthub/internal/app"
	"agenthub/internal/credentials"
	"agenthub/internal/domain"
	"agenthub/internal/engine"
	"agenthub/internal/repo"
)

var rootCmd = &cobra.Command{
	Use:           "agenthub",
	Short:         "Agent orchestration service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().Bool("json", false, "print JSON instead of tables")
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(seedCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.New(app.LoadConfig())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func serveCmd() *cobra.Command {
	var addr, dbURL string
	var tick time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.LoadConfig()
			if addr != "" {
				host, port, err := net.SplitHostPort(addr)
				if err != nil {
					return fmt.Errorf("parse --addr: %w", err)
				}
				n, err := strconv.Atoi(port)
				if err != nil {
					return fmt.Errorf("parse --addr port: %w", err)
				}
				cfg.BindHost, cfg.BindPort = host, n
			}
			if dbURL != "" {
				cfg.DBURL = dbURL
			}
			if tick > 0 {
				cfg.TickInterval = tick
			}
			a, err := app.New(cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			fmt.Printf("Serving AgentHub API on http://%s (OpenAPI at /openapi.json)\n", cfg.Addr())
			return a.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "bind address as host:port, overrides env")
	cmd.Flags().StringVar(&dbURL, "db", "", "database path, overrides env")
	cmd.Flags().DurationVar(&tick, "tick-interval", 0, "metrics tick interval, overrides env")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			// app.New migrates on open; reaching here means it succeeded.
			return withApp(cmd.Context(), func(context.Context, *app.App) error {
				fmt.Println("migrations up to date")
				return nil
			})
		},
	}
}

func userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Manage users"}
	user.AddCommand(userCreateCmd())
	user.AddCommand(userListCmd())
	user.AddCommand(userDeactivateCmd())
	return user
}

func userCreateCmd() *cobra.Command {
	var username, email, password, role string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				signer := credentials.NewSigner(a.Config.SigningSecret, a.Config.TokenLifetime)
				svc := credentials.NewService(a.Repo, signer)
				u, err := svc.Register(ctx, credentials.RegisterInput{
					Username: username,
					Email:    email,
					Password: password,
					Role:     role,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "username")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&password, "password", "", "password")
	cmd.Flags().StringVar(&role, "role", "user", "user or admin")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func userListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				users, err := a.Repo.ListUsers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Username", "Email", "Role", "Active", "Logins"})
				for _, u := range users {
					tw.AppendRow(table.Row{u.ID, u.Username, u.Email, u.Role, u.IsActive, u.LoginCount})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func userDeactivateCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "deactivate",
		Short: "Deactivate a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				now := a.Engine.Now().UTC().Format(time.RFC3339)
				if err := a.Repo.DeactivateUser(ctx, id, now); err != nil {
					return err
				}
				u, err := a.Repo.GetUser(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "user id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func agentCmd() *cobra.Command {
	agent := &cobra.Command{Use: "agent", Short: "Manage agents"}
	agent.AddCommand(agentCreateCmd())
	agent.AddCommand(agentListCmd())
	return agent
}

func agentCreateCmd() *cobra.Command {
	var name, description, agentType, version string
	var capabilities []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				created, err := a.Engine.CreateAgent(ctx, engine.CreateAgentInput{
					Name:         name,
					Description:  description,
					AgentType:    agentType,
					Version:      version,
					Capabilities: capabilities,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(created)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "agent name")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&agentType, "type", "", "agent type")
	cmd.Flags().StringVar(&version, "version", "", "agent version")
	cmd.Flags().StringSliceVar(&capabilities, "capability", nil, "capability (repeatable)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func agentListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agents by performance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				agents, err := a.Repo.ListAgents(ctx, repo.AgentFilters{Status: status})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(agents)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Type", "Status", "Score", "Health", "Active", "Done"})
				for _, ag := range agents {
					tw.AppendRow(table.Row{ag.ID, ag.Name, ag.AgentType, ag.Status,
						fmt.Sprintf("%.1f", ag.PerformanceScore), fmt.Sprintf("%.1f", ag.HealthScore),
						ag.ActiveTasks, ag.TotalTasksCompleted})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	return cmd
}

func seedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load a YAML fixture into storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				signer := credentials.NewSigner(a.Config.SigningSecret, a.Config.TokenLifetime)
				svc := credentials.NewService(a.Repo, signer)
				if err := app.Seed(ctx, a, svc, file); err != nil {
					return err
				}
				fmt.Println("seeded", file)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "seed.yaml", "seed file path")
	return cmd
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	switch e := v.(type) {
	case domain.User:
		tw.AppendHeader(table.Row{"ID", "Username", "Email", "Role", "Active", "Logins"})
		tw.AppendRow(table.Row{e.ID, e.Username, e.Email, e.Role, e.IsActive, e.LoginCount})
	case domain.Agent:
		tw.AppendHeader(table.Row{"ID", "Name", "Type", "Status", "Score", "Health", "Active", "Done"})
		tw.AppendRow(table.Row{e.ID, e.Name, e.AgentType, e.Status,
			fmt.Sprintf("%.1f", e.PerformanceScore), fmt.Sprintf("%.1f", e.HealthScore),
			e.ActiveTasks, e.TotalTasksCompleted})
	default:
		return printJSON(v)
	}
	tw.Render()
	return nil
}
