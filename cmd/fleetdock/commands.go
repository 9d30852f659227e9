package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fleetdock/fleetdock/internal/compose"
	"github.com/fleetdock/fleetdock/internal/models"
	"github.com/fleetdock/fleetdock/pkg/version"
)

func newBackupCommand() *cobra.Command {
	containerCmd := &cobra.Command{
		Use:   "container <name-or-id>",
		Short: "Back up a single container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return enqueueAndWait(models.JobBackupContainer, args[0])
		},
	}
	stackCmd := &cobra.Command{
		Use:   "stack <stack-name>",
		Short: "Back up every container of an imported stack",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return enqueueAndWait(models.JobBackupStack, args[0])
		},
	}

	cmd := &cobra.Command{Use: "backup", Short: "Capture a container or stack into an artifact"}
	cmd.AddCommand(containerCmd, stackCmd)
	return cmd
}

func newRestoreCommand() *cobra.Command {
	var networkOverride string
	containerCmd := &cobra.Command{
		Use:   "container <artifact-path>",
		Short: "Clone a container from a single-container or legacy nested-zip archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if networkOverride != "" {
				fmt.Fprintf(os.Stderr, "note: --network is not applied; the queued job resolves its own network\n")
			}
			return enqueueAndWait(models.JobRestoreContainer, args[0])
		},
	}
	containerCmd.Flags().StringVar(&networkOverride, "network", "", "Not applied: the queued restore attaches the clone to the archive's original network, or bridge if that network is gone")

	stackCmd := &cobra.Command{
		Use:   "stack <artifact-path>",
		Short: "Restore a unified stack archive into place",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return enqueueAndWait(models.JobRestoreStackIntoPlace, args[0])
		},
	}

	cmd := &cobra.Command{Use: "restore", Short: "Restore a container or stack from an artifact"}
	cmd.AddCommand(containerCmd, stackCmd)
	return cmd
}

func newStackCommand() *cobra.Command {
	var envFilePath string
	importCmd := &cobra.Command{
		Use:   "import <compose-file>",
		Short: "Parse a compose manifest and remember it as a stack",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manifestBytes, err := os.ReadFile(args[0]) // #nosec G304 - operator-supplied path
			if err != nil {
				return fmt.Errorf("read manifest: %w", err)
			}
			parsed, err := compose.Parse(string(manifestBytes))
			if err != nil {
				return err
			}
			if parsed.StackName == "" {
				return fmt.Errorf("manifest has no top-level name: and none was inferred; add a name")
			}

			envVars := map[string]string{}
			if envFilePath != "" {
				envBytes, err := os.ReadFile(envFilePath) // #nosec G304 - operator-supplied path
				if err != nil {
					return fmt.Errorf("read env file: %w", err)
				}
				envVars = parseDotEnv(string(envBytes))
			}

			def := models.StackDefinition{
				StackName:    parsed.StackName,
				ManifestText: string(manifestBytes),
				EnvVars:      envVars,
				EnvFilePath:  envFilePath,
				Services:     parsed.Services,
				ImportedAt:   time.Now(),
			}
			if err := store.PutStack(def); err != nil {
				return err
			}
			fmt.Printf("imported stack %q with %d service(s)\n", def.StackName, len(def.Services))
			return nil
		},
	}
	importCmd.Flags().StringVar(&envFilePath, "env-file", "", "Path to the stack's .env file")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List imported stacks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stacks, err := store.Stacks()
			if err != nil {
				return err
			}
			for name, def := range stacks {
				fmt.Printf("%s\t%d service(s)\timported %s\n", name, len(def.Services), def.ImportedAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	removeCmd := &cobra.Command{
		Use:   "remove <stack-name>",
		Short: "Forget an imported stack",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return store.DeleteStack(args[0])
		},
	}

	cmd := &cobra.Command{Use: "stack", Short: "Manage imported stack definitions"}
	cmd.AddCommand(importCmd, listCmd, removeCmd)
	return cmd
}

func newJobsCommand() *cobra.Command {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all known jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, job := range queue.AllJobs() {
				fmt.Printf("%s\t%s\t%s\t%s\t%s\n", job.ID, job.Kind, job.Target, job.Status, job.Message)
			}
			return nil
		},
	}
	statusCmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show one job's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, ok := queue.Status(args[0])
			if !ok {
				return fmt.Errorf("unknown job %q", args[0])
			}
			fmt.Printf("%s\t%s\t%s\t%s\t%s\n", job.ID, job.Kind, job.Target, job.Status, job.Message)
			return nil
		},
	}

	cmd := &cobra.Command{Use: "jobs", Short: "Inspect the job queue"}
	cmd.AddCommand(listCmd, statusCmd)
	return cmd
}

func newHistoryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List finished job outcomes, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := store.History()
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Printf("%s\t%s\t%s\t%s\t%s\n", e.Timestamp.Format(time.RFC3339), e.Subject, e.Status, e.Destination, e.Message)
			}
			return nil
		},
	}
}

func newScheduleCommand() *cobra.Command {
	var frequency string
	var timeOfDay string
	var dayOfWeek int

	setCmd := &cobra.Command{
		Use:   "set <target>",
		Short: "Set or replace a recurring backup trigger for a container or stack",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sched := models.Schedule{
				Target:    args[0],
				Frequency: models.ScheduleFrequency(frequency),
				Time:      timeOfDay,
				DayOfWeek: dayOfWeek,
			}
			if err := store.PutSchedule(sched); err != nil {
				return err
			}
			return schedule.Set(sched)
		},
	}
	setCmd.Flags().StringVar(&frequency, "frequency", "daily", "manual, daily or weekly")
	setCmd.Flags().StringVar(&timeOfDay, "time", "02:00", "Trigger time as HH:MM")
	setCmd.Flags().IntVar(&dayOfWeek, "day", 0, "Day of week (0=Sunday..6=Saturday), only used when --frequency=weekly")

	removeCmd := &cobra.Command{
		Use:   "remove <target>",
		Short: "Remove a target's recurring trigger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schedule.Remove(args[0])
			return store.DeleteSchedule(args[0])
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recurring backup triggers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			schedules, err := store.Schedules()
			if err != nil {
				return err
			}
			for target, sched := range schedules {
				fmt.Printf("%s\t%s\t%s\tday=%d\n", target, sched.Frequency, sched.Time, sched.DayOfWeek)
			}
			return nil
		},
	}

	cmd := &cobra.Command{Use: "schedule", Short: "Manage recurring backup triggers"}
	cmd.AddCommand(setCmd, removeCmd, listCmd)
	return cmd
}

// newSnapshotsCommand introspects the ArtifactStore's versioned
// archive history (spec.md's "Supplemented features": a fleet-domain
// take on the teacher's snapshots/versions/delete commands, adapted
// from named volumes to containers and stacks). Each of its commands
// returns an error when no ARCHIVE_STORE_TYPE is configured.
func newSnapshotsCommand() *cobra.Command {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List containers/stacks with an archived history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if archiveRepo == nil {
				return fmt.Errorf("no ARCHIVE_STORE_TYPE configured")
			}
			names, err := archiveRepo.ListContainers(cmd.Context())
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}

	versionsCmd := &cobra.Command{
		Use:   "versions <name>",
		Short: "List every archived version for a container or stack",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if archiveRepo == nil {
				return fmt.Errorf("no ARCHIVE_STORE_TYPE configured")
			}
			refs, err := archiveRepo.ListBackups(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, ref := range refs {
				fmt.Printf("v%d\t%s\t%d bytes\n", ref.Version, ref.CreatedAt.Format(time.RFC3339), ref.Size)
			}
			return nil
		},
	}

	infoCmd := &cobra.Command{
		Use:   "info <name>",
		Short: "Show archive history for a container or stack",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if archiveRepo == nil {
				return fmt.Errorf("no ARCHIVE_STORE_TYPE configured")
			}
			hist, err := archiveRepo.GetContainerHistory(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s\tlatest=%s\t%d version(s)\n", hist.Name, hist.LatestID, len(hist.Backups))
			return nil
		},
	}

	var version int
	deleteCmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete an archived version (or every version, without --version)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if archiveRepo == nil {
				return fmt.Errorf("no ARCHIVE_STORE_TYPE configured")
			}
			if version != 0 {
				return archiveRepo.DeleteBackup(cmd.Context(), args[0], version)
			}
			refs, err := archiveRepo.ListBackups(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			// Newest first: DeleteBackup renumbers the versions after the
			// one it removes.
			for i := len(refs) - 1; i >= 0; i-- {
				if err := archiveRepo.DeleteBackup(cmd.Context(), args[0], refs[i].Version); err != nil {
					return err
				}
			}
			return nil
		},
	}
	deleteCmd.Flags().IntVar(&version, "version", 0, "Specific version to delete; every version when omitted")

	cmd := &cobra.Command{Use: "snapshots", Short: "Inspect the ArtifactStore's versioned archive history"}
	cmd.AddCommand(listCmd, versionsCmd, infoCmd, deleteCmd)
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version.Info())
			return nil
		},
	}
}

// enqueueAndWait submits a job and blocks until it reaches a terminal
// status, printing each status transition as it happens. The CLI's
// single-shot commands want synchronous behavior even though the queue
// underneath is asynchronous (spec.md §4.9).
func enqueueAndWait(kind models.JobKind, target string) error {
	id, err := queue.Enqueue(kind, target)
	if err != nil {
		return err
	}

	var last models.JobStatus
	for {
		job, ok := queue.Status(id)
		if !ok {
			return fmt.Errorf("job %q disappeared from the queue", id)
		}
		if job.Status != last {
			fmt.Printf("[%s] %s %s\n", job.Status, job.Target, job.Message)
			last = job.Status
		}
		if job.Status == models.JobCompleted {
			return nil
		}
		if job.Status == models.JobFailed {
			return fmt.Errorf("job failed: %s", job.Message)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

// parseDotEnv mirrors internal/restore's parseEnvFile on the CLI side,
// where the file hasn't been routed through an artifact reader yet.
func parseDotEnv(content string) map[string]string {
	out := map[string]string{}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if idx := strings.Index(line, "="); idx > 0 {
			out[line[:idx]] = line[idx+1:]
		}
	}
	return out
}
