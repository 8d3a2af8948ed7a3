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

	"ideahub/internal/app"
	"ideahub/internal/config"
	"ideahub/internal/db"
	"ideahub/internal/domain"
	"ideahub/internal/repo"
	"ideahub/internal/server"
	"ideahub/internal/sla"
)

var rootCmd = &cobra.Command{
	Use:   "ih",
	Short: "IdeaHub CLI",
	Long: `IdeaHub runs ideas through a staged approval pipeline.
An idea is checked against earlier submissions, reviewed by an analyst and
then by finance, offered to developers, and implemented. Overdue stages are
escalated automatically, and every transition lands in the audit log.`,
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
	viper.SetEnvPrefix("IDEAHUB")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(ideaCmd())
	rootCmd.AddCommand(reviewCmd())
	rootCmd.AddCommand(assignmentCmd())
	rootCmd.AddCommand(marketplaceCmd())
	rootCmd.AddCommand(slaCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(notifyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func submitCmd() *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit an idea",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(text) == "" {
				return fmt.Errorf("--text required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				idea, err := a.Engine.SubmitIdea(ctx, text, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(idea)
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "idea text")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func ideaCmd() *cobra.Command {
	idea := &cobra.Command{
		Use:   "idea",
		Short: "Inspect ideas",
	}
	idea.AddCommand(ideaListCmd())
	idea.AddCommand(ideaShowCmd())
	idea.AddCommand(ideaCompleteCmd())
	idea.AddCommand(ideaStatusCmd())
	return idea
}

func ideaListCmd() *cobra.Command {
	var f repo.IdeaFilter
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List ideas",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Status = domain.IdeaStatus(status)
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ideas, err := a.Engine.ListIdeas(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(ideas)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Author", "Updated"})
				for _, i := range ideas {
					tw.AppendRow(table.Row{i.ID, i.Title, i.Status, i.AuthorID, i.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.AuthorID, "author", "", "author filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	cmd.Flags().IntVar(&f.Offset, "offset", 0, "rows to skip")
	return cmd
}

func ideaShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an idea with its reviews and assignments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				idea, err := a.Engine.GetIdea(ctx, id)
				if err != nil {
					return err
				}
				reviews, err := a.Engine.Repo.ListReviewsByIdea(ctx, id)
				if err != nil {
					return err
				}
				assignments, err := a.Engine.Repo.ListAssignmentsByIdea(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"idea":        idea,
					"reviews":     reviews,
					"assignments": assignments,
				})
			})
		},
	}
	return cmd
}

func ideaCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Mark an implemented idea completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				idea, err := a.Engine.CompleteIdea(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(idea)
			})
		},
	}
	return cmd
}

func ideaStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show pipeline counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				counts, err := a.Engine.StatusCounts(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(counts)
				}
				fmt.Println("Ideas:")
				for status, c := range counts {
					fmt.Printf("  %s: %d\n", status, c)
				}
				return nil
			})
		},
	}
	return cmd
}

func reviewCmd() *cobra.Command {
	review := &cobra.Command{
		Use:   "review",
		Short: "Review decisions",
	}
	review.AddCommand(reviewDecideCmd())
	return review
}

func reviewDecideCmd() *cobra.Command {
	var stage, decision, notes string
	cmd := &cobra.Command{
		Use:   "decide <idea-id>",
		Short: "Record an analyst or finance decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				status, err := a.Engine.DecideReview(ctx, args[0], stage, decision, viper.GetString("actor-id"), notes)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"idea_id": args[0],
					"status":  status,
				})
			})
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "", "review stage (analyst, finance)")
	cmd.Flags().StringVar(&decision, "decision", "", "approved, rejected, or needs_info")
	cmd.Flags().StringVar(&notes, "notes", "", "reviewer notes")
	_ = cmd.MarkFlagRequired("stage")
	_ = cmd.MarkFlagRequired("decision")
	return cmd
}

func assignmentCmd() *cobra.Command {
	asg := &cobra.Command{
		Use:   "assignment",
		Short: "Developer invitations",
	}
	asg.AddCommand(assignmentListCmd())
	asg.AddCommand(assignmentRespondCmd())
	return asg
}

func assignmentListCmd() *cobra.Command {
	var developer string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List assignments for a developer",
		RunE: func(cmd *cobra.Command, args []string) error {
			if developer == "" {
				developer = viper.GetString("actor-id")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListAssignmentsByDeveloper(ctx, developer)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Idea", "Status", "Invited", "Responded"})
				for _, it := range items {
					responded := ""
					if it.RespondedAt != nil {
						responded = *it.RespondedAt
					}
					tw.AppendRow(table.Row{it.ID, it.IdeaID, it.Status, it.InvitedAt, responded})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&developer, "developer", "", "developer id (defaults to --actor-id)")
	return cmd
}

func assignmentRespondCmd() *cobra.Command {
	var action string
	cmd := &cobra.Command{
		Use:   "respond <assignment-id>",
		Short: "Accept or decline an invitation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				asg, err := a.Engine.RespondAssignment(ctx, args[0], viper.GetString("actor-id"), action)
				if err != nil {
					return err
				}
				return printJSONOrTable(asg)
			})
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "accept or decline")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func marketplaceCmd() *cobra.Command {
	mkt := &cobra.Command{
		Use:   "marketplace",
		Short: "Escalated ideas open for claiming",
	}
	mkt.AddCommand(marketplaceListCmd())
	mkt.AddCommand(marketplaceClaimCmd())
	return mkt
}

func marketplaceListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List marketplace entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListMarketplace(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Idea", "Listed"})
				for _, m := range items {
					tw.AppendRow(table.Row{m.ID, m.IdeaID, m.ListedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func marketplaceClaimCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claim <idea-id>",
		Short: "Claim an escalated idea",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				asg, err := a.Engine.ClaimMarketplace(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(asg)
			})
		},
	}
	return cmd
}

func slaCmd() *cobra.Command {
	s := &cobra.Command{
		Use:   "sla",
		Short: "SLA escalation",
	}
	s.AddCommand(slaRunCmd())
	return s
}

func slaRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one escalation sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				counts, err := a.Sweeper.Sweep(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(counts)
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{
		Use:   "log",
		Short: "Audit log",
	}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show recent audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if entityKind != "" && entityID != "" {
					events, err := a.Engine.History(ctx, domain.EntityKind(entityKind), entityID, true)
					if err != nil {
						return err
					}
					return printJSONOrTable(events)
				}
				events, err := a.Engine.Audit.Tail(ctx, n)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func userCmd() *cobra.Command {
	u := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	u.AddCommand(userAddCmd())
	u.AddCommand(userListCmd())
	return u
}

func userAddCmd() *cobra.Command {
	var email, name, role, department string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				u, err := a.Engine.AddUser(ctx, email, name, role, department)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&name, "name", "", "full name")
	cmd.Flags().StringVar(&role, "role", "user", "role (user, analyst, finance, developer, admin)")
	cmd.Flags().StringVar(&department, "department", "", "department")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func userListCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var users []domain.User
				var err error
				if role != "" {
					users, err = a.Engine.Repo.ListUsersByRole(ctx, role)
				} else {
					users, err = a.Engine.Repo.ListUsers(ctx)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Email", "Name", "Role", "Department"})
				for _, u := range users {
					tw.AppendRow(table.Row{u.ID, u.Email, u.FullName, u.Role, u.Department})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role filter")
	return cmd
}

func notifyCmd() *cobra.Command {
	n := &cobra.Command{
		Use:   "notify",
		Short: "Notification outbox",
	}
	n.AddCommand(notifyDrainCmd())
	return n
}

func notifyDrainCmd() *cobra.Command {
	var requeue bool
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Deliver pending notifications once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if requeue {
					n, err := a.Engine.Repo.RequeueFailedNotifications(ctx)
					if err != nil {
						return err
					}
					fmt.Printf("Requeued %d failed notifications\n", n)
				}
				sent, err := a.Sender.DrainOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Sent %d notifications\n", sent)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&requeue, "requeue-failed", false, "retry failed notifications too")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Workspace configuration",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default ideahub.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server with background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			a, err := app.Open(workspace, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			secret := os.Getenv("IDEAHUB_JWT_SECRET")
			if secret == "" {
				secret = a.Config.Server.JWTSecret
			}
			if secret == "" {
				return fmt.Errorf("IDEAHUB_JWT_SECRET (or server.jwt_secret) is required for bearer auth")
			}
			if addr == "" {
				addr = a.Config.Server.Listen
			}
			if basePath == "" {
				basePath = a.Config.Server.BasePath
			}
			handler, err := server.New(server.Config{
				Engine:   a.Engine,
				Sweeper:  a.Sweeper,
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: secret, DevAuth: a.Config.Server.DevAuth},
			})
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			sweepInterval, err := a.Config.SweepInterval()
			if err != nil {
				sweepInterval = time.Minute
			}
			runner := sla.Runner{Sweeper: a.Sweeper, Interval: sweepInterval}
			go runner.Run(ctx)
			go a.Sender.Run(ctx)

			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-ctx.Done()
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				srv.Shutdown(shutdownCtx)
			}()
			fmt.Printf("Serving IdeaHub API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
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

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(viper.GetString("workspace"), nil)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
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
