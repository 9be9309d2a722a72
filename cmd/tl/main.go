package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"teamledger/internal/app"
	"teamledger/internal/db"
	"teamledger/internal/domain"
	"teamledger/internal/engine"
	"teamledger/internal/engine/auth"
	"teamledger/internal/migrate"
	"teamledger/internal/report"
	"teamledger/internal/repo"
	"teamledger/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "tl",
	Short: "Teamledger CLI",
	Long: `Teamledger keeps a team's project knowledge in one place: tasks with
versioned updates, work logs as proof of progress, an immutable decision
registry, and AI-synthesized reports over all of it.
The workspace is a .teamledger directory holding the database; config lives in
teamledger.yml next to it.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TEAMLEDGER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Int64("as", 0, "user id to act as (defaults to the first admin)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("as", rootCmd.PersistentFlags().Lookup("as"))
}

func registerCommands() {
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(logCmd())
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, _, err := app.Setup(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer conn.Close()
			v, err := migrate.Version(conn)
			if err != nil {
				return err
			}
			fmt.Printf("migrations applied, schema version %d\n", v)
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	var name, email, password string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the initial admin account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.CreateInitialAdmin(ctx, engine.UserCreateOptions{
					Name:     name,
					Email:    email,
					Password: password,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "admin display name")
	cmd.Flags().StringVar(&email, "email", "", "admin email")
	cmd.Flags().StringVar(&password, "password", "", "admin password")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, cfg, err := app.Setup(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer conn.Close()

			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			secret := cfg.Auth.JWTSecret
			if env := os.Getenv("TEAMLEDGER_JWT_SECRET"); env != "" {
				secret = env
			}
			if secret == "" && !cfg.Auth.AllowLegacyUserHeader {
				return fmt.Errorf("jwt secret is required; set TEAMLEDGER_JWT_SECRET or auth.jwt_secret")
			}

			e := engine.New(conn, cfg)
			var gen report.Generator = report.TemplateGenerator{}
			if cfg.Reports.BaseURL != "" {
				gen = report.HTTPGenerator{
					BaseURL: cfg.Reports.BaseURL,
					APIKey:  cfg.Reports.APIKey,
					Model:   cfg.Reports.Model,
				}
			}
			synth := report.New(conn, cfg.Reports, gen)
			handler, err := server.New(server.Config{
				Engine:   e,
				Synth:    synth,
				BasePath: basePath,
				Auth: server.AuthConfig{
					JWTSecret:             secret,
					TokenTTL:              time.Duration(cfg.Auth.TokenTTLMinutes) * time.Minute,
					AllowLegacyUserHeader: cfg.Auth.AllowLegacyUserHeader,
				},
				Logger: logger,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			logger.Info("serving Teamledger API",
				zap.String("addr", addr),
				zap.String("base_path", basePath))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to config)")
	return cmd
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectStatsCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Start", "Target"})
				for _, p := range items {
					target := ""
					if p.TargetDate != nil {
						target = *p.TargetDate
					}
					tw.AppendRow(table.Row{p.ID, p.Name, p.Status, p.StartDate, target})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectCreateCmd() *cobra.Command {
	var name, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				id, err := cliIdentity(ctx, e)
				if err != nil {
					return err
				}
				p, err := e.CreateProject(ctx, id, engine.ProjectCreateOptions{Name: name, Description: desc})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectStatsCmd() *cobra.Command {
	var projectID int64
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show project statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.ProjectStats(ctx, projectID)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().Int64Var(&projectID, "project", 0, "project id")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func taskCmd() *cobra.Command {
	tsk := &cobra.Command{Use: "task", Short: "Manage tasks"}
	tsk.AddCommand(taskListCmd())
	tsk.AddCommand(taskCreateCmd())
	tsk.AddCommand(taskCompleteCmd())
	return tsk
}

func taskListCmd() *cobra.Command {
	var projectID, assigneeID int64
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var f repo.TaskFilter
				if projectID != 0 {
					f.ProjectID = &projectID
				}
				if assigneeID != 0 {
					f.AssigneeID = &assigneeID
				}
				f.Status = status
				items, err := e.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Priority", "Assignee", "Version"})
				for _, t := range items {
					assignee := ""
					if t.AssigneeID != nil {
						assignee = fmt.Sprintf("%d", *t.AssigneeID)
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.Priority, assignee, t.Version})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&projectID, "project", 0, "filter by project id")
	cmd.Flags().Int64Var(&assigneeID, "assignee", 0, "filter by assignee id")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	return cmd
}

func taskCreateCmd() *cobra.Command {
	var projectID, assigneeID int64
	var title, desc, priority string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				id, err := cliIdentity(ctx, e)
				if err != nil {
					return err
				}
				opts := engine.TaskCreateOptions{
					ProjectID:   projectID,
					Title:       title,
					Description: desc,
					Priority:    priority,
				}
				if assigneeID != 0 {
					opts.AssigneeID = &assigneeID
				}
				t, err := e.CreateTask(ctx, id, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().Int64Var(&projectID, "project", 0, "project id")
	cmd.Flags().Int64Var(&assigneeID, "assignee", 0, "assignee user id")
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&priority, "priority", "", "priority (Low, Medium, High)")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskCompleteCmd() *cobra.Command {
	var taskID, version int64
	cmd := &cobra.Command{
		Use:   "complete",
		Short: "Complete a task (requires at least one work log)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				id, err := cliIdentity(ctx, e)
				if err != nil {
					return err
				}
				t, err := e.CompleteTask(ctx, id, taskID, version)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().Int64Var(&taskID, "task", 0, "task id")
	cmd.Flags().Int64Var(&version, "version", 0, "version token last read")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}

func userCmd() *cobra.Command {
	usr := &cobra.Command{Use: "user", Short: "Manage users"}
	usr.AddCommand(userListCmd())
	usr.AddCommand(userCreateCmd())
	return usr
}

func userListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListUsers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Email", "Role", "Status"})
				for _, u := range items {
					tw.AppendRow(table.Row{u.ID, u.Name, u.Email, u.Role, u.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func userCreateCmd() *cobra.Command {
	var name, email, password, role string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				id, err := cliIdentity(ctx, e)
				if err != nil {
					return err
				}
				u, err := e.CreateUser(ctx, id, engine.UserCreateOptions{
					Name:     name,
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
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "email")
	cmd.Flags().StringVar(&password, "password", "", "password")
	cmd.Flags().StringVar(&role, "role", "", "role (Admin, Member)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "System event log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				id, err := cliIdentity(ctx, e)
				if err != nil {
					return err
				}
				items, err := e.LatestEvents(ctx, id, n)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	conn, cfg, err := app.Setup(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

// cliIdentity resolves --as, falling back to the first admin account.
func cliIdentity(ctx context.Context, e engine.Engine) (auth.Identity, error) {
	if as := viper.GetInt64("as"); as != 0 {
		return e.Identify(ctx, as)
	}
	users, err := e.ListUsers(ctx)
	if err != nil {
		return auth.Identity{}, err
	}
	for _, u := range users {
		if u.Role == domain.RoleAdmin && u.Status == domain.UserActive {
			return auth.Identity{UserID: u.ID, Role: u.Role, Status: u.Status}, nil
		}
	}
	return auth.Identity{}, fmt.Errorf("no admin account; run 'tl seed' first or pass --as")
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
