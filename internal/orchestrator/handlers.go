// Package orchestrator wires the JobQueue's five job kinds (spec.md
// §4.9) to the backup/restore packages that actually do the work.
// Grounded in the teacher's cmd/dvom/main.go, which built one
// *backup.Client per invocation and called its Backup*/Restore*
// methods directly; here that call site moves behind jobs.Handler so
// the queue's single worker can run it instead of the CLI blocking
// inline.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/fleetdock/fleetdock/internal/backupengine"
	"github.com/fleetdock/fleetdock/internal/compose"
	"github.com/fleetdock/fleetdock/internal/engine"
	"github.com/fleetdock/fleetdock/internal/errkind"
	"github.com/fleetdock/fleetdock/internal/jobs"
	"github.com/fleetdock/fleetdock/internal/models"
	"github.com/fleetdock/fleetdock/internal/restore"
	"github.com/fleetdock/fleetdock/internal/upload"
)

// StackLister is the narrow slice of fleetstore.Store the job handlers
// read from. Both backupStack and declaredPathsFor only ever need the
// imported-stacks map, never the schedule/history/settings documents,
// so the seam is this one method rather than *fleetstore.Store itself —
// mirroring compose.Deployer and engine.EngineClient, the other two
// collaborator interfaces a fake can drive in tests.
type StackLister interface {
	Stacks() (map[string]models.StackDefinition, error)
}

// Handlers holds the collaborators every job kind needs. One instance
// is shared by all five handlers; none of them carry per-job state.
type Handlers struct {
	Engine      engine.EngineClient
	Store       StackLister
	Deployer    compose.Deployer
	Uploader    *upload.Uploader
	ArtifactDir string
	WorkDir     string
}

// Register binds all five job kinds onto queue.
func (h *Handlers) Register(queue *jobs.Queue) {
	queue.RegisterHandler(models.JobBackupContainer, jobs.HandlerFunc(h.backupContainer))
	queue.RegisterHandler(models.JobBackupStack, jobs.HandlerFunc(h.backupStack))
	queue.RegisterHandler(models.JobRestoreContainer, jobs.HandlerFunc(h.restoreContainer))
	queue.RegisterHandler(models.JobRestoreClone, jobs.HandlerFunc(h.restoreContainer))
	queue.RegisterHandler(models.JobRestoreStackIntoPlace, jobs.HandlerFunc(h.restoreStackIntoPlace))
}

// backupContainer handles JobBackupContainer: target is a container
// name or id. ContainerRestore's counterpart, ContainerBackup (spec.md
// §4.5), is resolved against any stack the container belongs to so a
// compose-declared volume still backs up even when the operator backs
// up one service on its own.
func (h *Handlers) backupContainer(ctx context.Context, job *models.Job, progress func(models.JobStatus, string)) (jobs.Outcome, error) {
	handle, err := h.Engine.InspectContainer(ctx, job.Target)
	if err != nil {
		return jobs.Outcome{}, err
	}

	declaredPaths := h.declaredPathsFor(*handle)

	progress(models.JobProcessing, fmt.Sprintf("capturing %s", handle.Name))
	artifactPath, err := backupengine.ContainerBackup(ctx, h.Engine, *handle, declaredPaths, nil, h.ArtifactDir)
	if err != nil {
		return jobs.Outcome{}, err
	}

	return h.upload(ctx, progress, artifactPath)
}

// backupStack handles JobBackupStack: target is a stack name
// previously imported via PutStack (spec.md §4.6).
func (h *Handlers) backupStack(ctx context.Context, job *models.Job, progress func(models.JobStatus, string)) (jobs.Outcome, error) {
	stacks, err := h.Store.Stacks()
	if err != nil {
		return jobs.Outcome{}, err
	}
	def, ok := stacks[job.Target]
	if !ok {
		return jobs.Outcome{}, fmt.Errorf("%w: stack %q not imported", errkind.ErrNotFound, job.Target)
	}

	all, err := h.Engine.ListContainers(ctx, true)
	if err != nil {
		return jobs.Outcome{}, err
	}
	containers, err := backupengine.SelectContainers(all, job.Target, &def)
	if err != nil {
		return jobs.Outcome{}, err
	}

	artifactPath, warnings, err := backupengine.StackBackup(ctx, h.Engine, def, containers, h.ArtifactDir, func(i, n int) {
		progress(models.JobProcessing, fmt.Sprintf("[%d/%d] capturing %s", i, n, job.Target))
	})
	if err != nil {
		return jobs.Outcome{}, err
	}

	outcome, err := h.upload(ctx, progress, artifactPath)
	if err != nil {
		return jobs.Outcome{}, err
	}
	if len(warnings) > 0 {
		outcome.Message = fmt.Sprintf("%s (%d service warning(s))", outcome.Message, len(warnings))
	}
	return outcome, nil
}

// restoreContainer handles both JobRestoreContainer and
// JobRestoreClone: target is an artifact path, not a live container.
// ContainerRestore (spec.md §4.7) is a clone by construction regardless
// of which of the two job kinds named it, since its root-detection
// already dispatches between a plain single-container archive and a
// legacy nested-zip clone internally; the two kinds exist so callers
// can say which shape they expect without changing the outcome.
func (h *Handlers) restoreContainer(ctx context.Context, job *models.Job, progress func(models.JobStatus, string)) (jobs.Outcome, error) {
	progress(models.JobProcessing, fmt.Sprintf("restoring %s", job.Target))
	result, err := restore.ContainerRestore(ctx, h.Engine, job.Target, "")
	if err != nil {
		return jobs.Outcome{}, err
	}

	message := fmt.Sprintf("restored as %s", result.Name)
	if len(result.Remappings) > 0 {
		message = fmt.Sprintf("%s (%d remapping(s))", message, len(result.Remappings))
	}
	return jobs.Outcome{Destination: models.DestinationLocal, Message: message}, nil
}

// restoreStackIntoPlace handles JobRestoreStackIntoPlace: target is a
// unified-stack artifact path, restored over the existing stack of the
// same name (spec.md §4.8).
func (h *Handlers) restoreStackIntoPlace(ctx context.Context, job *models.Job, progress func(models.JobStatus, string)) (jobs.Outcome, error) {
	progress(models.JobProcessing, fmt.Sprintf("restoring stack from %s", job.Target))
	result, err := restore.StackRestore(ctx, h.Engine, h.Deployer, h.WorkDir, job.Target)
	if err != nil {
		return jobs.Outcome{}, err
	}

	message := fmt.Sprintf("stack %q restored into place", result.StackName)
	if len(result.Warnings) > 0 {
		message = fmt.Sprintf("%s (%d warning(s))", message, len(result.Warnings))
	}
	return jobs.Outcome{Destination: models.DestinationLocal, Message: message}, nil
}

// upload hands a finished artifact to the Uploader and translates its
// Result into a jobs.Outcome.
func (h *Handlers) upload(ctx context.Context, progress func(models.JobStatus, string), artifactPath string) (jobs.Outcome, error) {
	progress(models.JobUploading, "uploading artifact")
	result, err := h.Uploader.Upload(ctx, artifactPath)
	if err != nil {
		return jobs.Outcome{}, err
	}
	return jobs.Outcome{
		Destination:  result.Destination,
		ArtifactPath: artifactPath,
		SizeBytes:    result.SizeBytes,
		Message:      result.Message,
	}, nil
}

// declaredPathsFor looks up the compose-declared volume destinations
// for handle's service, if it belongs to an imported stack.
func (h *Handlers) declaredPathsFor(handle models.ContainerHandle) []string {
	stackName := handle.Labels[models.ComposeProjectLabel]
	serviceName := handle.Labels[models.ComposeServiceLabel]
	if stackName == "" || serviceName == "" {
		return nil
	}
	stacks, err := h.Store.Stacks()
	if err != nil {
		return nil
	}
	def, ok := stacks[stackName]
	if !ok {
		return nil
	}
	svc, ok := def.Services[serviceName]
	if !ok {
		return nil
	}
	return svc.DeclaredVolumeDestinations
}
