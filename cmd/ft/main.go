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

	"formtrack/internal/app"
	"formtrack/internal/config"
	"formtrack/internal/db"
	"formtrack/internal/domain"
	"formtrack/internal/engine"
	"formtrack/internal/migrate"
	"formtrack/internal/overview"
	"formtrack/internal/repo"
	"formtrack/internal/report"
	"formtrack/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "ft",
	Short: "Formtrack CLI",
	Long: `Formtrack is the back office for a pedagogical training program.
It keeps the shared picture in one place:
- Trainers (formadores): the people who run training sessions in the field.
- Trainings: sessions that move preparation -> in_training -> post_training -> completed (archived is an exit).
  Reaching a status with an automation rule spawns its follow-up task exactly once.
- Projects: one per municipality, each with a fixed nine-slot schedule
  (diagnostic, simulado 1-4, devolutiva 1-4).
- Tasks (demandas): manual or automatic follow-up work with due dates and priorities.
- Expenses: trainer reimbursement requests reviewed through submitted -> approved -> reimbursed.
- Dashboard: which municipalities need attention, critical tasks, and the week ahead.
- Event log: diary of changes, view with 'ft log tail'.`,
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
	viper.SetEnvPrefix("FORMTRACK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("program", "", "program id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("program", rootCmd.PersistentFlags().Lookup("program"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(trainerCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(trainingCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(expenseCmd())
	rootCmd.AddCommand(dashboardCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configImportCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var programID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default formtrack.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if programID == "" {
				programID = "default-program"
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(programID)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&programID, "program-id", "", "program identifier")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a config file into the workspace database",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file required")
			}
			cfg, err := config.FromFile(file)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				programID := viper.GetString("program")
				if programID == "" {
					programID = cfg.Program.ID
				}
				return r.UpsertConfig(ctx, programID, cfg)
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "config file path")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func trainerCmd() *cobra.Command {
	tr := &cobra.Command{Use: "trainer", Short: "Manage trainers"}
	tr.AddCommand(trainerCreateCmd())
	tr.AddCommand(trainerListCmd())
	tr.AddCommand(trainerShowCmd())
	tr.AddCommand(trainerSetActiveCmd("activate", true))
	tr.AddCommand(trainerSetActiveCmd("deactivate", false))
	return tr
}

func trainerCreateCmd() *cobra.Command {
	var name, email, municipality string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a trainer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTrainer(ctx, name, email, municipality, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "trainer name")
	cmd.Flags().StringVar(&email, "email", "", "contact email")
	cmd.Flags().StringVar(&municipality, "municipality", "", "home municipality")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func trainerListCmd() *cobra.Command {
	var f repo.TrainerFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List trainers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListTrainers(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Municipality", "Active"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.Name, t.Municipality, t.Active})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Municipality, "municipality", "", "municipality filter")
	cmd.Flags().BoolVar(&f.ActiveOnly, "active", false, "active trainers only")
	return cmd
}

func trainerShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <trainer-id>",
		Short: "Show a trainer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				t, err := r.GetTrainer(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func trainerSetActiveCmd(use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <trainer-id>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a trainer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.SetTrainerActive(ctx, args[0], active, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage municipality projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectDeleteCmd())
	prj.AddCommand(milestoneCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var municipality, region string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an implementation project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateProject(ctx, municipality, region, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&municipality, "municipality", "", "municipality name")
	cmd.Flags().StringVar(&region, "region", "", "region")
	_ = cmd.MarkFlagRequired("municipality")
	return cmd
}

func projectListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Municipality", "Region", "Created"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Municipality, p.Region, p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show a project and its schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				p, err := r.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				fmt.Printf("%s (%s)\n", p.Municipality, p.ID)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Milestone", "Start", "End", "Done"})
				for _, m := range p.Milestones {
					tw.AppendRow(table.Row{m.Name(), deref(m.StartDate), deref(m.EndDate), m.Completed})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <project-id>",
		Short: "Delete a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteProject(ctx, args[0])
			})
		},
	}
	return cmd
}

func milestoneCmd() *cobra.Command {
	var start, end string
	var completed bool
	cmd := &cobra.Command{
		Use:   "milestone <project-id> <slot>",
		Short: "Update a milestone slot (diagnostic, simulado-1..4, devolutiva-1..4)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, seq, err := parseSlot(args[1])
			if err != nil {
				return err
			}
			var u repo.MilestoneUpdate
			if cmd.Flags().Changed("start") {
				u.StartDate = &start
			}
			if cmd.Flags().Changed("end") {
				u.EndDate = &end
			}
			if cmd.Flags().Changed("completed") {
				u.Completed = &completed
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.UpdateMilestone(ctx, args[0], kind, seq, u, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "start date (RFC3339, empty clears)")
	cmd.Flags().StringVar(&end, "end", "", "end date (RFC3339, empty clears)")
	cmd.Flags().BoolVar(&completed, "completed", false, "mark completed")
	return cmd
}

func parseSlot(name string) (domain.MilestoneKind, int, error) {
	if name == string(domain.KindDiagnostic) {
		return domain.KindDiagnostic, 0, nil
	}
	idx := strings.LastIndex(name, "-")
	if idx <= 0 {
		return "", 0, fmt.Errorf("invalid slot %q", name)
	}
	var seq int
	if _, err := fmt.Sscanf(name[idx+1:], "%d", &seq); err != nil {
		return "", 0, fmt.Errorf("invalid slot %q", name)
	}
	return domain.MilestoneKind(name[:idx]), seq, nil
}

func trainingCmd() *cobra.Command {
	tr := &cobra.Command{Use: "training", Short: "Manage training sessions"}
	tr.AddCommand(trainingCreateCmd())
	tr.AddCommand(trainingListCmd())
	tr.AddCommand(trainingShowCmd())
	tr.AddCommand(trainingStatusCmd())
	return tr
}

func trainingCreateCmd() *cobra.Command {
	var opts engine.TrainingCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a training session",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTraining(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "training title")
	cmd.Flags().StringVar(&opts.Municipality, "municipality", "", "municipality")
	cmd.Flags().StringVar(&opts.TrainerID, "trainer-id", "", "assigned trainer")
	cmd.Flags().StringVar(&opts.StartDate, "start", "", "start date (RFC3339)")
	cmd.Flags().StringVar(&opts.EndDate, "end", "", "end date (RFC3339)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func trainingListCmd() *cobra.Command {
	var f repo.TrainingFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List trainings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListTrainings(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Municipality", "Start"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.Municipality, deref(t.StartDate)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Municipality, "municipality", "", "municipality filter")
	cmd.Flags().StringVar(&f.TrainerID, "trainer-id", "", "trainer filter")
	return cmd
}

func trainingShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <training-id>",
		Short: "Show a training",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				t, err := r.GetTraining(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func trainingStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <training-id> <status>",
		Short: "Move a training to a new status",
		Long:  "Statuses: preparation, in_training, post_training, completed, archived. A status with an automation rule spawns its follow-up task exactly once.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, task, err := e.SetTrainingStatus(ctx, args[0], domain.TrainingStatus(args[1]), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				out := map[string]any{"training": t}
				if task != nil {
					out["task"] = task
				}
				return printJSONOrTable(out)
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	t := &cobra.Command{Use: "task", Short: "Manage tasks (demandas)"}
	t.AddCommand(taskCreateCmd())
	t.AddCommand(taskListCmd())
	t.AddCommand(taskShowCmd())
	t.AddCommand(taskStatusCmd())
	return t
}

func taskCreateCmd() *cobra.Command {
	var opts engine.ManualTaskOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a manual task",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				task, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(task)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Description, "description", "", "task description")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "normal or urgent")
	cmd.Flags().StringVar(&opts.DueDate, "due", "", "due date (RFC3339)")
	cmd.Flags().StringVar(&opts.ProjectID, "project-id", "", "linked project")
	cmd.Flags().StringVar(&opts.TrainingID, "training-id", "", "linked training")
	cmd.Flags().StringVar(&opts.ResponsibleID, "responsible-id", "", "responsible actor")
	_ = cmd.MarkFlagRequired("description")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				tasks, err := r.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Description", "Status", "Priority", "Due", "Origin"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Description, t.Status, t.Priority, deref(t.DueDate), t.Origin})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ProjectID, "project-id", "", "project filter")
	cmd.Flags().StringVar(&f.TrainingID, "training-id", "", "training filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Priority, "priority", "", "priority filter")
	cmd.Flags().StringVar(&f.Origin, "origin", "", "manual or automatic")
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				t, err := r.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <task-id> <status>",
		Short: "Set task status",
		Long:  "Statuses: pending, in_progress, done, awaiting_reply.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTaskStatus(ctx, args[0], domain.TaskStatus(args[1]), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func expenseCmd() *cobra.Command {
	ex := &cobra.Command{Use: "expense", Short: "Trainer expense reimbursement"}
	ex.AddCommand(expenseSubmitCmd())
	ex.AddCommand(expenseListCmd())
	ex.AddCommand(expenseShowCmd())
	ex.AddCommand(expenseReviewCmd())
	return ex
}

func expenseSubmitCmd() *cobra.Command {
	var opts engine.ExpenseSubmitOptions
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a reimbursement request",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				exp, err := e.SubmitExpense(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(exp)
			})
		},
	}
	cmd.Flags().StringVar(&opts.TrainerID, "trainer-id", "", "trainer")
	cmd.Flags().StringVar(&opts.TrainingID, "training-id", "", "linked training")
	cmd.Flags().Int64Var(&opts.AmountCents, "amount-cents", 0, "amount in cents")
	cmd.Flags().StringVar(&opts.Description, "description", "", "what the expense covers")
	_ = cmd.MarkFlagRequired("trainer-id")
	_ = cmd.MarkFlagRequired("amount-cents")
	return cmd
}

func expenseListCmd() *cobra.Command {
	var f repo.ExpenseFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List expenses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListExpenses(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Trainer", "Amount (cents)", "Status", "Submitted"})
				for _, e := range items {
					tw.AppendRow(table.Row{e.ID, e.TrainerID, e.AmountCents, e.Status, e.SubmittedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.TrainerID, "trainer-id", "", "trainer filter")
	cmd.Flags().StringVar(&f.TrainingID, "training-id", "", "training filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	return cmd
}

func expenseShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <expense-id>",
		Short: "Show an expense",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				exp, err := r.GetExpense(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(exp)
			})
		},
	}
	return cmd
}

func expenseReviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review <expense-id> <status>",
		Short: "Review an expense",
		Long:  "Moves: submitted -> approved or rejected, approved -> reimbursed.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				exp, err := e.ReviewExpense(ctx, args[0], domain.ExpenseStatus(args[1]), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(exp)
			})
		},
	}
	return cmd
}

func dashboardCmd() *cobra.Command {
	d := &cobra.Command{Use: "dashboard", Short: "Program overview"}
	d.AddCommand(dashboardProjectsCmd())
	d.AddCommand(dashboardCriticalCmd())
	d.AddCommand(dashboardWeekCmd())
	return d
}

func loadSnapshot(ctx context.Context, r repo.Repo) (overview.Snapshot, error) {
	var snap overview.Snapshot
	var err error
	if snap.Projects, err = r.ListProjects(ctx); err != nil {
		return snap, err
	}
	if snap.Tasks, err = r.ListTasks(ctx, repo.TaskFilters{}); err != nil {
		return snap, err
	}
	if snap.Trainings, err = r.ListTrainings(ctx, repo.TrainingFilters{}); err != nil {
		return snap, err
	}
	return snap, nil
}

func dashboardProjectsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "Project views ordered by attention need",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				snap, err := loadSnapshot(ctx, e.Repo)
				if err != nil {
					return err
				}
				views := overview.NeedingAttention(overview.ProjectViews(snap, time.Now().UTC()))
				if viper.GetBool("json") {
					return printJSON(views)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Municipality", "Completion %", "Next milestone", "Tasks", "Urgent", "Overdue"})
				for _, v := range views {
					next := ""
					if v.Next != nil {
						next = fmt.Sprintf("%s %s", v.Next.Name, v.Next.Date.Format("2006-01-02"))
					}
					tw.AppendRow(table.Row{v.Municipality, fmt.Sprintf("%.0f", v.Completion), next, v.TaskCount, v.UrgentCount, v.OverdueCount})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func dashboardCriticalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "critical",
		Short: "Urgent and overdue tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{})
				if err != nil {
					return err
				}
				limit := overview.DefaultCriticalLimit
				if e.Config != nil && e.Config.Dashboard.CriticalLimit > 0 {
					limit = e.Config.Dashboard.CriticalLimit
				}
				crit := overview.Critical(tasks, time.Now().UTC(), limit)
				if viper.GetBool("json") {
					return printJSON(crit)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Bucket", "ID", "Description", "Due"})
				for _, t := range crit.Urgent {
					tw.AppendRow(table.Row{"urgent", t.ID, t.Description, deref(t.DueDate)})
				}
				for _, t := range crit.Overdue {
					tw.AppendRow(table.Row{"overdue", t.ID, t.Description, deref(t.DueDate)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func dashboardWeekCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "week",
		Short: "Trainings and milestones in the coming window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				snap, err := loadSnapshot(ctx, e.Repo)
				if err != nil {
					return err
				}
				horizon := overview.DefaultHorizonDays
				if e.Config != nil && e.Config.Dashboard.HorizonDays > 0 {
					horizon = e.Config.Dashboard.HorizonDays
				}
				entries := overview.WeekAhead(snap, time.Now().UTC(), horizon)
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Date", "Kind", "Label"})
				for _, en := range entries {
					tw.AppendRow(table.Row{en.Date.Format("2006-01-02"), en.Kind, en.Label})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func reportCmd() *cobra.Command {
	r := &cobra.Command{Use: "report", Short: "Reports"}
	r.AddCommand(reportByYearCmd())
	r.AddCommand(reportExportCmd())
	return r
}

func reportByYearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "by-year",
		Short: "Projects grouped by creation year",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				snap, err := loadSnapshot(ctx, e.Repo)
				if err != nil {
					return err
				}
				groups := report.GroupByYear(overview.ProjectViews(snap, time.Now().UTC()))
				if viper.GetBool("json") {
					return printJSON(groups)
				}
				for _, g := range groups {
					if g.Year == report.UndatedYear {
						fmt.Println("== undated ==")
					} else {
						fmt.Printf("== %d ==\n", g.Year)
					}
					for _, v := range g.Projects {
						fmt.Printf("  %s (%.0f%% complete)\n", v.Municipality, v.Completion)
					}
				}
				return nil
			})
		},
	}
	return cmd
}

func reportExportCmd() *cobra.Command {
	var csv bool
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Flat milestone rows for spreadsheet export",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				projects, err := r.ListProjects(ctx)
				if err != nil {
					return err
				}
				rows := report.ExportRows(projects)
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Municipality", "Region", "Milestone", "Start", "End", "Status"})
				for _, row := range rows {
					tw.AppendRow(table.Row{row.Municipality, row.Region, row.Milestone, row.StartDate, row.EndDate, row.Status})
				}
				if csv {
					tw.RenderCSV()
					return nil
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&csv, "csv", false, "emit CSV instead of a table")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: status moves, task creation, expense reviews, and more.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func apikeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "API key management"}
	k.AddCommand(apikeyCreateCmd())
	k.AddCommand(apikeyListCmd())
	k.AddCommand(apikeyDeleteCmd())
	return k
}

func apikeyCreateCmd() *cobra.Command {
	var actor, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				raw := repo.HashAPIKey(fmt.Sprintf("%d-%s", time.Now().UnixNano(), actor))
				key := domain.APIKey{
					ID:        raw[:8],
					ActorID:   actor,
					Name:      name,
					KeyHash:   repo.HashAPIKey(raw),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"id": key.ID, "actor_id": key.ActorID, "key": raw})
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor bound to the key")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range items {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveProgramConfig(cmd.Context(), workspace, viper.GetString("program"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer logger.Sync()
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("FORMTRACK_JWT_SECRET"), Logger: logger}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("FORMTRACK_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg, Logger: logger})
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
			logger.Info("serving Formtrack API",
				zap.String("addr", addr),
				zap.String("base_path", basePath))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveProgramConfig(ctx, workspace, viper.GetString("program"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
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

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
