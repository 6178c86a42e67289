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

	"cutline/internal/app"
	"cutline/internal/config"
	"cutline/internal/db"
	"cutline/internal/domain"
	"cutline/internal/server"
	"cutline/internal/status"
	"cutline/internal/timeline"
)

var rootCmd = &cobra.Command{
	Use:   "cutline",
	Short: "Cutline CLI",
	Long: `Cutline manages video edit projects and their render pipeline.
- Workspace: the .cutline directory holding the database and draft cache.
- Projects: each video lives in a project that moves idea -> scripting ->
  rendering -> rendered -> scheduled/published, with failed as the retry exit.
- Edits: timeline documents are sanitized on every save and submission.
- Renders: 'cutline render submit' hands the edit to the external render
  service; the service reports back through the callback endpoint.`,
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
	viper.SetEnvPrefix("CUTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("user-id", "local-user", "project owner")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("user-id", rootCmd.PersistentFlags().Lookup("user-id"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(editCmd())
	rootCmd.AddCommand(renderCmd())
	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(notificationCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectStatusCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListProjects(ctx, userID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Video URL", "Updated"})
				for _, p := range items {
					videoURL := ""
					if p.VideoURL != nil {
						videoURL = *p.VideoURL
					}
					tw.AppendRow(table.Row{p.ID, p.Title, p.Status, videoURL, p.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "filter by owner")
	return cmd
}

func projectCreateCmd() *cobra.Command {
	var title string
	var autopilot bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if title == "" {
				return fmt.Errorf("--title required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.CreateProject(ctx, "", viper.GetString("user-id"), title, autopilot, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "project title")
	cmd.Flags().BoolVar(&autopilot, "autopilot", false, "create in autopilot state")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.Repo.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	return cmd
}

func projectStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Apply a status transition",
		Long:  "Legal user moves: idea/autopilot -> scripting, failed -> scripting, rendered -> scheduled/published, scheduled -> published.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			at, _ := cmd.Flags().GetString("at")
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor := viper.GetString("actor-id")
				var p domain.Project
				var err error
				if status.Status(args[1]) == status.Scheduled {
					p, err = a.Engine.Schedule(ctx, args[0], at, actor)
				} else {
					p, err = a.Engine.SetStatus(ctx, args[0], status.Status(args[1]), actor)
				}
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().String("at", "", "publish time (RFC3339) recorded when scheduling")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default cutline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
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
			return printJSON(cfg)
		},
	}
	return cmd
}

func editCmd() *cobra.Command {
	edit := &cobra.Command{Use: "edit", Short: "Manage edit documents"}
	edit.AddCommand(editSaveCmd())
	edit.AddCommand(editShowCmd())
	edit.AddCommand(editDraftCmd())
	return edit
}

func editSaveCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "save <project-id>",
		Short: "Sanitize and store an edit document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				doc, err := a.Engine.SaveEdit(ctx, args[0], data, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(doc)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to the edit document JSON")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func editShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show the stored edit document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				doc, ok, err := a.Engine.Edit(ctx, args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("project %s has no stored edit", args[0])
				}
				return printJSON(doc)
			})
		},
	}
	return cmd
}

func editDraftCmd() *cobra.Command {
	draft := &cobra.Command{Use: "draft", Short: "Local draft cache"}

	var filePath string
	save := &cobra.Command{
		Use:   "save <project-id>",
		Short: "Cache an in-progress draft locally",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				a.Drafts.Save(ctx, args[0], timeline.Sanitize(data))
				return nil
			})
		},
	}
	save.Flags().StringVar(&filePath, "file", "", "path to the draft JSON")
	_ = save.MarkFlagRequired("file")

	show := &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show the cached draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				doc, ok, err := a.Drafts.Load(ctx, args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no cached draft for %s", args[0])
				}
				return printJSON(doc)
			})
		},
	}

	clear := &cobra.Command{
		Use:   "clear <project-id>",
		Short: "Drop the cached draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Drafts.Clear(ctx, args[0])
			})
		},
	}

	draft.AddCommand(save, show, clear)
	return draft
}

func renderCmd() *cobra.Command {
	render := &cobra.Command{Use: "render", Short: "Render pipeline"}
	render.AddCommand(renderSubmitCmd())
	return render
}

func renderSubmitCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "submit <project-id>",
		Short: "Submit a project for rendering",
		Long:  "Sanitizes the document, flips the project to rendering, and dispatches to the configured render service. Without --file the stored edit is submitted.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var raw []byte
				if filePath != "" {
					data, err := os.ReadFile(filePath)
					if err != nil {
						return err
					}
					raw = data
				} else {
					p, err := a.Engine.Repo.GetProject(ctx, args[0])
					if err != nil {
						return err
					}
					if p.EditJSON == nil || *p.EditJSON == "" {
						return fmt.Errorf("project %s has no stored edit; pass --file", args[0])
					}
					raw = []byte(*p.EditJSON)
				}
				job, err := a.Engine.Submit(ctx, args[0], raw, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(job)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to the edit document JSON")
	return cmd
}

func jobCmd() *cobra.Command {
	job := &cobra.Command{Use: "job", Short: "Render jobs"}
	job.AddCommand(jobListCmd())
	return job
}

func jobListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <project-id>",
		Short: "List a project's render jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				jobs, err := a.Engine.Repo.ListRenderJobs(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(jobs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Status", "Provider", "Output", "Updated"})
				for _, j := range jobs {
					provider, output := "", ""
					if j.ProviderID != nil {
						provider = *j.ProviderID
					}
					if j.OutputURL != nil {
						output = *j.OutputURL
					}
					tw.AppendRow(table.Row{j.ID, j.Status, provider, output, j.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func notificationCmd() *cobra.Command {
	n := &cobra.Command{Use: "notification", Short: "Notifications"}
	n.AddCommand(notificationListCmd())
	n.AddCommand(notificationReadCmd())
	return n
}

func notificationListCmd() *cobra.Command {
	var unread bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notifications for the current user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListNotifications(ctx, viper.GetString("user-id"), unread)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Kind", "Message", "Read", "Created"})
				for _, n := range items {
					tw.AppendRow(table.Row{n.ID, n.Kind, n.Message, n.IsRead, n.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&unread, "unread", false, "unread only")
	return cmd
}

func notificationReadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <id>",
		Short: "Mark a notification read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.Repo.MarkNotificationRead(ctx, args[0])
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Audit event log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var projectID string
	var after int64
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				events, err := a.Engine.Repo.EventsAfter(ctx, n, after, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Project", "Entity", "Actor"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.ProjectID, evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&projectID, "project", "", "project filter")
	cmd.Flags().Int64Var(&after, "after", 0, "events after this id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if addr == "" {
					addr = a.Config.Server.Addr
				}
				if basePath == "" {
					basePath = a.Config.Server.BasePath
				}
				handler, err := server.New(server.Config{Engine: a.Engine, BasePath: basePath})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Cutline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to config)")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
