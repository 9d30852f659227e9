package backupengine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cheggaaa/pb/v3"

	"github.com/fleetdock/fleetdock/internal/appdetect"
	"github.com/fleetdock/fleetdock/internal/artifact"
	"github.com/fleetdock/fleetdock/internal/engine"
	"github.com/fleetdock/fleetdock/internal/errkind"
	"github.com/fleetdock/fleetdock/internal/models"
)

const stackFinalizeTimeout = 600 * time.Second

type stackMetadataDoc struct {
	StackName  string                `json:"stackName"`
	Timestamp  string                `json:"timestamp"`
	Containers []stackContainerEntry `json:"containers"`
}

type stackContainerEntry struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Service string `json:"service"`
}

// SelectContainers enumerates candidate containers for stackName:
// primary filter by compose project label, falling back to service
// labels matching the imported StackDefinition (spec.md §4.6).
func SelectContainers(all []models.ContainerHandle, stackName string, def *models.StackDefinition) ([]models.ContainerHandle, error) {
	var primary []models.ContainerHandle
	for _, h := range all {
		if h.Labels[models.ComposeProjectLabel] == stackName {
			primary = append(primary, h)
		}
	}
	if len(primary) > 0 {
		return primary, nil
	}

	if def != nil {
		var fallback []models.ContainerHandle
		for _, h := range all {
			if _, ok := def.Services[h.Labels[models.ComposeServiceLabel]]; ok {
				fallback = append(fallback, h)
			}
		}
		if len(fallback) > 0 {
			return fallback, nil
		}
	}

	return nil, fmt.Errorf("%w: no containers found for stack %q", errkind.ErrNotFound, stackName)
}

// StackBackup archives every container of a stack sequentially under
// services/<name>/... (spec.md §4.6), reporting [i/N] progress via
// onProgress. A service whose capture fails is recorded as a
// services/<name>/ERROR_<name>.txt entry (<name> being the container
// name) and the archive continues
// with the remaining services, the same non-fatal downgrade
// volumeBranch already applies per path; the returned warnings list
// carries one entry per failed service, and the returned error is
// non-nil only when at least one of those failures classifies as
// fatal (errkind.FatalInSingleContainerJob).
func StackBackup(ctx context.Context, eng engine.EngineClient, def models.StackDefinition, containers []models.ContainerHandle, artifactDir string, onProgress func(i, n int)) (string, []string, error) {
	if len(containers) == 0 {
		return "", nil, fmt.Errorf("%w: stack %q has no containers to back up", errkind.ErrNotFound, def.StackName)
	}

	outputPath := fmt.Sprintf("%s/%s_%d.zip", artifactDir, def.StackName, time.Now().Unix())
	w, err := artifact.New(outputPath)
	if err != nil {
		return "", nil, err
	}

	meta := stackMetadataDoc{StackName: def.StackName, Timestamp: time.Now().UTC().Format(time.RFC3339)}
	for _, h := range containers {
		meta.Containers = append(meta.Containers, stackContainerEntry{
			ID:      h.ID,
			Name:    h.Name,
			Service: h.Labels[models.ComposeServiceLabel],
		})
	}
	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		w.Abort()
		return "", nil, fmt.Errorf("marshal stack_metadata.json: %w", err)
	}
	if err := w.AppendBytes("stack_metadata.json", metaBytes); err != nil {
		w.Abort()
		return "", nil, fmt.Errorf("%w: %v", errkind.ErrIO, err)
	}

	if def.ManifestText != "" {
		if err := w.AppendBytes("docker-compose.yml", []byte(def.ManifestText)); err != nil {
			w.Abort()
			return "", nil, fmt.Errorf("%w: %v", errkind.ErrIO, err)
		}
	}
	if envContent := renderEnvFile(def); envContent != "" {
		if err := w.AppendBytes(".env", []byte(envContent)); err != nil {
			w.Abort()
			return "", nil, fmt.Errorf("%w: %v", errkind.ErrIO, err)
		}
	}

	bar := pb.New(len(containers))
	bar.SetTemplateString(fmt.Sprintf(`{{ "%s" }} [{{counters . }}] {{ bar . "[" "=" ">" " " "]"}}`, def.StackName))
	bar.Start()
	defer bar.Finish()

	var warnings []string
	var fatalErr error
	for i, h := range containers {
		onProgress(i+1, len(containers))

		service := h.Labels[models.ComposeServiceLabel]
		prefix := fmt.Sprintf("services/%s/", h.Name)
		appType := appdetect.Detect(h.Image, h.Labels)

		var branchErr error
		if appdetect.IsDumpStrategy(appType) {
			branchErr = dumpBranch(ctx, eng, h, appType, w, prefix)
		} else {
			declared := def.Services[service].DeclaredVolumeDestinations
			branchErr = volumeBranch(ctx, eng, h, declared, nil, appType, w, prefix, prefix+"volumes/")
		}
		if branchErr != nil {
			if appendErr := w.AppendBytes(prefix+artifact.EscapeErrorName(h.Name), []byte(branchErr.Error())); appendErr != nil {
				w.Abort()
				return "", nil, fmt.Errorf("%w: %v", errkind.ErrIO, appendErr)
			}
			warnings = append(warnings, fmt.Sprintf("service %q: %v", h.Name, branchErr))
			if fatalErr == nil && errkind.FatalInSingleContainerJob(errkind.Classify(branchErr)) {
				fatalErr = fmt.Errorf("service %q: %w", h.Name, branchErr)
			}
		}
		bar.Increment()
	}

	finalizeCtx, cancel := context.WithTimeout(ctx, stackFinalizeTimeout)
	defer cancel()
	if err := w.Finalize(finalizeCtx, stackFinalizeTimeout); err != nil {
		return "", warnings, err
	}
	return outputPath, warnings, fatalErr
}

// renderEnvFile produces .env content from envVars (K=V lines) if
// present, else the contents of envFile if it exists, else empty
// (omitted) per spec.md §4.6.
func renderEnvFile(def models.StackDefinition) string {
	if len(def.EnvVars) > 0 {
		var b strings.Builder
		for k, v := range def.EnvVars {
			fmt.Fprintf(&b, "%s=%s\n", k, v)
		}
		return b.String()
	}
	if def.EnvFilePath != "" {
		if content, err := os.ReadFile(def.EnvFilePath); err == nil { // #nosec G304 - operator-provided stack env file path
			return string(content)
		}
	}
	return ""
}
