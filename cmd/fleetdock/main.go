package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fleetdock/fleetdock/internal/compose"
	"github.com/fleetdock/fleetdock/internal/config"
	"github.com/fleetdock/fleetdock/internal/engine"
	"github.com/fleetdock/fleetdock/internal/fleetstore"
	"github.com/fleetdock/fleetdock/internal/jobs"
	"github.com/fleetdock/fleetdock/internal/logging"
	"github.com/fleetdock/fleetdock/internal/models"
	"github.com/fleetdock/fleetdock/internal/orchestrator"
	"github.com/fleetdock/fleetdock/internal/scheduler"
	"github.com/fleetdock/fleetdock/internal/storage"
	"github.com/fleetdock/fleetdock/internal/upload"
	"github.com/fleetdock/fleetdock/pkg/version"
)

// Global flags, following the teacher's package-level flag-variable
// convention rather than a config struct threaded through every
// RunE closure.
var (
	dataDir     string
	artifactDir string
	workDir     string
	verbose     bool

	eng         *engine.Client
	store       *fleetstore.Store
	queue       *jobs.Queue
	schedule    *scheduler.Scheduler
	archiveRepo storage.RepositoryBackend
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "fleetdock",
		Short:   "Container fleet backup and restore",
		Long:    "fleetdock captures and restores Docker containers and compose stacks: single-container clones, unified stack archives, and scheduled backups with optional Telegram upload.",
		Version: version.Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			if err := os.MkdirAll(artifactDir, 0o750); err != nil {
				return fmt.Errorf("create artifact directory %q: %w", artifactDir, err)
			}

			var err error
			eng, err = engine.New()
			if err != nil {
				return fmt.Errorf("connect to container engine: %w", err)
			}
			store, err = fleetstore.New(dataDir)
			if err != nil {
				return err
			}

			logger := logging.New("fleetdock", verbose)
			queue = jobs.New(store, logger)

			uploader := upload.New(config.LoadUploadConfig())
			if archiveCfg := config.LoadStorageConfig(filepath.Join(artifactDir, "archive")); archiveCfg != nil {
				repo, err := storage.NewRepositoryBackend(cmd.Context(), archiveCfg)
				if err != nil {
					return fmt.Errorf("build artifact store backend: %w", err)
				}
				archiveRepo = repo
				uploader = uploader.WithArchiveStore(repo, archiveCfg.Type)
			}

			handlers := &orchestrator.Handlers{
				Engine:      eng,
				Store:       store,
				Deployer:    compose.NewCLIDeployer(logger),
				Uploader:    uploader,
				ArtifactDir: artifactDir,
				WorkDir:     workDir,
			}
			handlers.Register(queue)

			schedule = scheduler.New(queue, scheduleJobKind, logger)
			persisted, err := store.Schedules()
			if err != nil {
				return err
			}
			for _, sched := range persisted {
				if err := schedule.Set(sched); err != nil {
					logger.Error().Err(err).Str("target", sched.Target).Msg("failed to restore persisted schedule")
				}
			}

			ctx := cmd.Context()
			queue.Start(ctx)
			schedule.Start()
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if queue != nil {
				queue.Stop()
			}
			if schedule != nil {
				schedule.Stop()
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "./fleetdock-data", "Directory for stacks.json, history.json and settings.json")
	rootCmd.PersistentFlags().StringVar(&artifactDir, "artifact-dir", "./fleetdock-artifacts", "Directory finished backup archives are written to")
	rootCmd.PersistentFlags().StringVar(&workDir, "work-dir", "./fleetdock-work", "Scratch directory for rewritten compose manifests during restore")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose (debug-level) logging")

	rootCmd.AddCommand(newBackupCommand())
	rootCmd.AddCommand(newRestoreCommand())
	rootCmd.AddCommand(newStackCommand())
	rootCmd.AddCommand(newJobsCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newScheduleCommand())
	rootCmd.AddCommand(newSnapshotsCommand())
	rootCmd.AddCommand(newVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// scheduleJobKind maps a schedule's target to the job kind to enqueue.
// A target already known to the stack store is a stack; anything else
// is treated as a container name or id.
func scheduleJobKind(target string) models.JobKind {
	if store != nil {
		if stacks, err := store.Stacks(); err == nil {
			if _, ok := stacks[target]; ok {
				return models.JobBackupStack
			}
		}
	}
	return models.JobBackupContainer
}
