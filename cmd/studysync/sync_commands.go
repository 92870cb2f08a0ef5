package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/MarcoPoloResearchLab/studysync/internal/syncer"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSyncCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one push-then-pull cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApplication(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer app.Close()

			if !app.client.IsAuthenticated() {
				return errNotAuthenticated
			}
			run := app.manager.Sync
			if force {
				run = app.manager.ForcePull
			}
			report, err := run(cmd.Context())
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), report)
			if report.Failed() {
				return errors.New("sync finished with errors")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Discard the pull watermark and re-pull everything")
	return cmd
}

func newDaemonCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Sync on start and then periodically until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := openApplication(ctx, true)
			if err != nil {
				return err
			}
			defer app.Close()

			app.logger.Info("daemon started",
				zap.String("device_id", app.manager.DeviceID()),
				zap.Duration("interval", app.config.SyncInterval))
			if app.client.IsAuthenticated() {
				app.manager.PerformSync(ctx)
			} else {
				app.logger.Warn("no usable api token; periodic sync will idle until one is configured")
			}
			<-ctx.Done()
			app.logger.Info("daemon stopping")
			return nil
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show watermark, pending rows and journal length",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApplication(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer app.Close()

			snapshot, err := app.manager.Status(cmd.Context())
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), snapshot)
			return nil
		},
	}
}

func newResetCommand() *cobra.Command {
	var confirmed bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every locally stored row",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmed {
				return errors.New("reset deletes all local data; pass --yes to confirm")
			}
			app, err := openApplication(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.store.ClearAll(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "local data cleared")
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirmed, "yes", false, "Confirm deletion of local data")
	return cmd
}

func newQueueCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect or prune the mutation journal",
	}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List journal entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApplication(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer app.Close()

			entries, err := app.queue.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(writer, "ID\tTABLE\tRECORD\tACTION\tCREATED")
			for _, entry := range entries {
				fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%s\n",
					entry.ID, entry.Table, entry.RecordID, entry.Action,
					time.Unix(entry.CreatedAtSeconds, 0).UTC().Format(time.RFC3339))
			}
			return writer.Flush()
		},
	}
	listCmd.Flags().IntVar(&limit, "limit", 50, "Maximum entries to show (0 for all)")

	var olderThan time.Duration
	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete journal entries older than a duration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return errors.New("--older-than must be positive")
			}
			app, err := openApplication(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer app.Close()

			removed, err := app.queue.Prune(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries\n", removed)
			return nil
		},
	}
	pruneCmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Age cutoff, e.g. 720h")

	cmd.AddCommand(listCmd, pruneCmd)
	return cmd
}

func printReport(out io.Writer, report syncer.Report) {
	fmt.Fprintf(out, "pushed %d, pulled %d in %s\n", report.TotalPushed(), report.TotalPulled(), report.Duration.Round(time.Millisecond))
	for _, table := range sortedKeys(report.PushErrors) {
		fmt.Fprintf(out, "  push %s failed: %v\n", table, report.PushErrors[table])
	}
	if report.PullErr != nil {
		fmt.Fprintf(out, "  pull failed: %v\n", report.PullErr)
	}
	if report.OverwrittenPending > 0 {
		fmt.Fprintf(out, "  %d unpushed local edits were replaced by server data\n", report.OverwrittenPending)
	}
}

func printStatus(out io.Writer, snapshot syncer.StatusSnapshot) {
	fmt.Fprintf(out, "device:  %s\n", snapshot.DeviceID)
	fmt.Fprintf(out, "state:   %s\n", snapshot.State)
	if global := snapshot.Global; global != nil {
		if global.LastSync != nil {
			fmt.Fprintf(out, "watermark: %s\n", *global.LastSync)
		}
		if global.LastPullSeconds != nil {
			fmt.Fprintf(out, "last pull: %s\n", time.Unix(*global.LastPullSeconds, 0).UTC().Format(time.RFC3339))
		}
		if global.LastError != nil {
			fmt.Fprintf(out, "last error: %s\n", *global.LastError)
		}
	} else {
		fmt.Fprintln(out, "never synced")
	}
	for _, table := range sortedKeys(snapshot.Pending) {
		fmt.Fprintf(out, "pending %-16s %d\n", table, snapshot.Pending[table])
	}
	fmt.Fprintf(out, "journal entries: %d\n", snapshot.QueueLength)
}

func sortedKeys[V any](values map[string]V) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
