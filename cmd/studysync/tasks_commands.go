package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/MarcoPoloResearchLab/studysync/internal/models"
	"github.com/MarcoPoloResearchLab/studysync/internal/services"
	"github.com/spf13/cobra"
)

func newTasksCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Manage tasks in the local cache",
	}
	cmd.AddCommand(newTasksListCommand(), newTasksAddCommand(), newTasksDoneCommand(), newTasksRemoveCommand())
	return cmd
}

func newTasksListCommand() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApplication(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer app.Close()

			var tasks []models.Task
			if status != "" {
				tasks, err = app.tasks.ByStatus(cmd.Context(), status)
			} else {
				tasks, err = app.tasks.GetAll(cmd.Context())
			}
			if err != nil {
				return err
			}

			writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(writer, "ID\tTITLE\tSTATUS\tPRIORITY\tDUE\tSYNCED")
			for _, task := range tasks {
				due := "-"
				if task.DueDate != nil {
					due = time.Unix(*task.DueDate, 0).UTC().Format("2006-01-02")
				}
				fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%t\n", task.ID, task.Title, task.Status, task.Priority, due, task.IsSynced)
			}
			return writer.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only show tasks in this status")
	return cmd
}

func newTasksAddCommand() *cobra.Command {
	var (
		description string
		priority    string
		due         string
		classID     string
		tags        []string
	)
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Create a task; it is pushed on the next sync",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := services.TaskInput{
				Title:       strings.Join(args, " "),
				Description: description,
				Priority:    priority,
				Tags:        tags,
			}
			if due != "" {
				parsed, err := time.Parse("2006-01-02", due)
				if err != nil {
					return fmt.Errorf("--due must be YYYY-MM-DD: %w", err)
				}
				dueDate := parsed.Unix()
				input.DueDate = &dueDate
			}
			if classID != "" {
				input.ClassID = &classID
			}

			app, err := openApplication(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer app.Close()

			task, err := app.tasks.Create(cmd.Context(), input)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), task.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "Task description")
	cmd.Flags().StringVar(&priority, "priority", "", "low, medium or high")
	cmd.Flags().StringVar(&due, "due", "", "Due date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&classID, "class", "", "Class id")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Tag (repeatable)")
	return cmd
}

func newTasksDoneCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "done <id>",
		Short: "Mark a task completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApplication(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer app.Close()

			task, err := app.tasks.Complete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if task == nil {
				return fmt.Errorf("task %s not found", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s completed\n", task.ID)
			return nil
		},
	}
}

func newTasksRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApplication(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer app.Close()

			deleted, err := app.tasks.Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !deleted {
				fmt.Fprintf(cmd.OutOrStdout(), "%s was not cached\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s deleted\n", args[0])
			return nil
		},
	}
}
