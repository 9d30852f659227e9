// Package models holds the core data shapes the backup/restore engine
// operates on. Types here are plain data: construction, persistence and
// mutation rules live in the packages that own the corresponding
// lifecycle (internal/backupengine, internal/restore, internal/jobs).
package models

import "time"

// ContainerHandle is the engine's view of a single container. It is
// read-only to the core; the engine is the sole writer.
type ContainerHandle struct {
	ID          string
	Name        string
	Image       string
	Env         []string
	Ports       map[string]string // containerPort/proto -> hostPort, empty if unpublished
	Binds       []string          // "hostPath:containerPath[:ro]"
	Mounts      []MountInfo
	Labels      map[string]string
	Networks    []string
	Cmd         []string
	WorkingDir  string
	Running     bool
}

// MountInfo describes one mount point on a container.
type MountInfo struct {
	Source      string
	Destination string
	Type        string // "bind", "volume", ...
}

// ComposeServiceLabel and ComposeProjectLabel are the well-known labels
// docker compose stamps onto containers it creates.
const (
	ComposeProjectLabel = "com.docker.compose.project"
	ComposeServiceLabel = "com.docker.compose.service"
)

// ServiceDefinition is one service entry derived from a parsed compose
// manifest.
type ServiceDefinition struct {
	Image                    string
	DeclaredVolumeDestinations []string
	EnvOverrides             map[string]string
}

// StackDefinition is an imported compose manifest plus the bookkeeping
// needed to decide what to back up and how to redeploy.
type StackDefinition struct {
	StackName      string
	ManifestText   string
	EnvVars        map[string]string
	EnvFilePath    string
	Services       map[string]ServiceDefinition
	ImportedAt     time.Time
}

// ArtifactKind distinguishes the two mutually exclusive archive shapes.
type ArtifactKind int

const (
	ArtifactUnknown ArtifactKind = iota
	ArtifactSingleContainer
	ArtifactUnifiedStack
)

// Artifact is a reference to one finalized archive on disk or in the
// artifact store.
type Artifact struct {
	Name      string
	Path      string
	Kind      ArtifactKind
	SizeBytes int64
	CreatedAt time.Time
}

// JobKind enumerates the operations the job queue can run.
type JobKind string

const (
	JobBackupContainer        JobKind = "backup-container"
	JobBackupStack             JobKind = "backup-stack"
	JobRestoreContainer        JobKind = "restore-container"
	JobRestoreStackIntoPlace   JobKind = "restore-stack-into-place"
	JobRestoreClone            JobKind = "restore-clone"
)

// JobStatus enumerates the terminal and in-flight states of a Job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobUploading  JobStatus = "uploading"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Job is a single unit of work tracked by the JobQueue. Status
// transitions are monotonic except that Failed is always final.
type Job struct {
	ID          string
	Kind        JobKind
	Target      string
	Status      JobStatus
	Message     string
	LastUpdated time.Time
}

// HistoryDestination records where a finished artifact ended up.
type HistoryDestination string

const (
	DestinationLocal    HistoryDestination = "local"
	DestinationTelegram HistoryDestination = "telegram"
	DestinationCloud    HistoryDestination = "cloud"
)

// HistoryStatus is the terminal outcome recorded for a job.
type HistoryStatus string

const (
	HistorySuccess HistoryStatus = "success"
	HistoryFailed  HistoryStatus = "failed"
)

// HistoryEntry is one append-only record of a job's terminal outcome.
type HistoryEntry struct {
	ID           string
	Timestamp    time.Time
	Subject      string
	Status       HistoryStatus
	Destination  HistoryDestination
	Message      string
	SizeBytes    int64
	ArtifactPath string
}

// ScheduleFrequency enumerates how often a Schedule fires.
type ScheduleFrequency string

const (
	FrequencyManual ScheduleFrequency = "manual"
	FrequencyDaily  ScheduleFrequency = "daily"
	FrequencyWeekly ScheduleFrequency = "weekly"
)

// Schedule maps a recurring trigger to a backup target (container id or
// stack name).
type Schedule struct {
	Target    string
	Frequency ScheduleFrequency
	Time      string // "HH:MM"
	DayOfWeek int    // 0..6, only meaningful when Frequency == FrequencyWeekly
}
