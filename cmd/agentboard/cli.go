package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/c360studio/agentboard/config"
	"github.com/c360studio/agentboard/intake"
	"github.com/c360studio/agentboard/kernel"
	"github.com/c360studio/agentboard/model"
	"github.com/c360studio/agentboard/project"
)

// cliApp builds the app for one-shot subcommands. The store's advisory
// locks make these safe to run while a server holds the same data root.
func cliApp(configPath string) (*App, error) {
	logger := newLogger("warn")
	slog.SetDefault(logger)
	cfg, err := config.NewLoader(logger).Load(configPath)
	if err != nil {
		return nil, err
	}
	return NewApp(cfg, logger)
}

func projectCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
	}

	var name, repo, description string
	create := &cobra.Command{
		Use:   "create",
		Short: "Register a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := cliApp(*configPath)
			if err != nil {
				return err
			}
			p, err := app.projects.Create(project.CreateInput{
				Name:        name,
				RepoPath:    repo,
				Description: description,
			})
			if err != nil {
				return err
			}
			fmt.Printf("%s\t%s\t%s\n", p.ID, p.Name, p.RepoPath)
			return nil
		},
	}
	create.Flags().StringVar(&name, "name", "", "Project name")
	create.Flags().StringVar(&repo, "repo", "", "Absolute path to the project git repo")
	create.Flags().StringVar(&description, "description", "", "Project description")
	_ = create.MarkFlagRequired("name")
	_ = create.MarkFlagRequired("repo")

	list := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := cliApp(*configPath)
			if err != nil {
				return err
			}
			projects, err := app.projects.List()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSTATUS\tREPO")
			for _, p := range projects {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Status, p.RepoPath)
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(create, list)
	return cmd
}

func taskCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}

	var projectID string
	cmd.PersistentFlags().StringVar(&projectID, "project", model.DefaultProjectID, "Project id")

	add := &cobra.Command{
		Use:   "add [request text]",
		Short: "Create a task from a free-form request",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := cliApp(*configPath)
			if err != nil {
				return err
			}
			draft, err := app.intake.Extract(context.Background(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			t, err := app.kernel.CreateTask(projectID, draftToInput(draft))
			if err != nil {
				return err
			}
			fmt.Printf("%s\t%s\t%s/%s\t%s\n", t.ID, t.TaskType, t.Priority, t.SLATier, t.Title)
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := cliApp(*configPath)
			if err != nil {
				return err
			}
			tasks, err := app.kernel.ListTasks(projectID)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tTYPE\tPRI\tSLA\tENGINE\tTITLE")
			for _, t := range tasks {
				engine := string(t.RoutedEngine)
				if engine == "" {
					engine = string(t.Engine)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					t.ID, t.Status, t.TaskType, t.Priority, t.SLATier, engine, t.Title)
			}
			return w.Flush()
		},
	}

	show := &cobra.Command{
		Use:   "show [task-id]",
		Short: "Print one task as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := cliApp(*configPath)
			if err != nil {
				return err
			}
			t, err := app.kernel.GetTask(projectID, args[0])
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(t, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}

	retry := &cobra.Command{
		Use:   "retry [task-id]",
		Short: "Queue a failed or cancelled task again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := cliApp(*configPath)
			if err != nil {
				return err
			}
			t, err := app.kernel.RetryTask(projectID, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s\t%s\n", t.ID, t.Status)
			return nil
		},
	}

	approve := &cobra.Command{
		Use:   "approve [task-id]",
		Short: "Approve a plan awaiting review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := cliApp(*configPath)
			if err != nil {
				return err
			}
			t, err := app.kernel.ApprovePlan(projectID, args[0], "")
			if err != nil {
				return err
			}
			fmt.Printf("%s\t%s\n", t.ID, t.Status)
			return nil
		},
	}

	cmd.AddCommand(add, list, show, retry, approve)
	return cmd
}

func draftToInput(d intake.Draft) kernel.CreateTaskInput {
	return kernel.CreateTaskInput{
		Title:       d.Title,
		Description: d.Description,
		TaskType:    d.TaskType,
		Priority:    d.Priority,
		SLATier:     d.SLATier,
		PlanMode:    d.PlanMode,
	}
}
