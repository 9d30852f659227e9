package backupengine

import (
	"context"
	"fmt"
	"time"

	"github.com/fleetdock/fleetdock/internal/appdetect"
	"github.com/fleetdock/fleetdock/internal/artifact"
	"github.com/fleetdock/fleetdock/internal/engine"
	"github.com/fleetdock/fleetdock/internal/errkind"
	"github.com/fleetdock/fleetdock/internal/models"
)

const (
	containerDumpTimeout     = 300 * time.Second
	containerFinalizeTimeout = 300 * time.Second
)

// ContainerBackup captures a single container into a new artifact
// under artifactDir, returning the artifact's path (spec.md §4.5).
// declaredPaths is the stack-provided volume destination set, if this
// container belongs to an imported stack and service; customPaths is
// user-supplied. Either may be nil.
func ContainerBackup(ctx context.Context, eng engine.EngineClient, handle models.ContainerHandle, declaredPaths, customPaths []string, artifactDir string) (string, error) {
	appType := appdetect.Detect(handle.Image, handle.Labels)

	outputPath := fmt.Sprintf("%s/%s_%d.zip", artifactDir, handle.Name, time.Now().Unix())
	w, err := artifact.New(outputPath)
	if err != nil {
		return "", err
	}

	if appdetect.IsDumpStrategy(appType) {
		if err := dumpBranch(ctx, eng, handle, appType, w, ""); err != nil {
			w.Abort()
			return "", err
		}
	} else {
		if err := volumeBranch(ctx, eng, handle, declaredPaths, customPaths, appType, w, "", ""); err != nil {
			w.Abort()
			return "", err
		}
	}

	finalizeCtx, cancel := context.WithTimeout(ctx, containerFinalizeTimeout)
	defer cancel()
	if err := w.Finalize(finalizeCtx, containerFinalizeTimeout); err != nil {
		return "", err
	}
	return outputPath, nil
}

// dumpBranch and volumeBranch write their entries under prefix so
// StackBackup can namespace them as services/<name>/... (spec.md
// §4.6) while ContainerBackup uses an empty prefix for root entries.
func dumpBranch(ctx context.Context, eng engine.EngineClient, handle models.ContainerHandle, appType appdetect.AppType, w *artifact.Writer, prefix string) error {
	env := parseEnvMap(handle.Env)

	dumpCtx, cancel := context.WithTimeout(ctx, containerDumpTimeout)
	defer cancel()

	var cmd []string
	switch appType {
	case appdetect.Postgres:
		user := env["POSTGRES_USER"]
		if user == "" {
			user = "postgres"
		}
		password := env["POSTGRES_PASSWORD"]
		if password == "" {
			password = env["POSTGRES_PASS"]
		}
		dumpCmd := fmt.Sprintf("pg_dumpall -U %s -w --clean --if-exists", user)
		if password != "" {
			dumpCmd = fmt.Sprintf("PGPASSWORD=%s %s", password, dumpCmd)
		}
		cmd = []string{"sh", "-c", dumpCmd}
	case appdetect.MySQL:
		password := env["MYSQL_ROOT_PASSWORD"]
		if password != "" {
			cmd = []string{"sh", "-c", fmt.Sprintf(`mysqldump -u root -p"%s" --all-databases`, password)}
		} else {
			cmd = []string{"sh", "-c", "mysqldump -u root --all-databases --skip-lock-tables"}
		}
	default:
		return fmt.Errorf("%w: unsupported dump app type %q", errkind.ErrCaptureFailed, appType)
	}

	result, err := eng.Exec(dumpCtx, handle.ID, cmd, nil, nil)
	if err != nil {
		return fmt.Errorf("%w: dump exec: %v", errkind.ErrCaptureFailed, err)
	}
	if len(result.Stdout) == 0 {
		return fmt.Errorf("%w: zero-byte dump, stderr: %s", errkind.ErrCaptureEmpty, result.Stderr)
	}

	doc := buildConfigDoc(handle, appType, nil)
	configBytes, err := doc.marshal()
	if err != nil {
		return err
	}
	if err := w.AppendBytes(prefix+"config.json", configBytes); err != nil {
		return fmt.Errorf("%w: %v", errkind.ErrIO, err)
	}
	if err := w.AppendBytes(prefix+"dump.sql", result.Stdout); err != nil {
		return fmt.Errorf("%w: %v", errkind.ErrIO, err)
	}
	return nil
}

// volumeBranch writes config.json and per-path ERROR_ entries under
// prefix and tar entries under volumeDir. Single-container archives pass
// volumeDir="" (root layout, spec.md §6); stack archives pass
// volumeDir=prefix+"volumes/".
func volumeBranch(ctx context.Context, eng engine.EngineClient, handle models.ContainerHandle, declaredPaths, customPaths []string, appType appdetect.AppType, w *artifact.Writer, prefix, volumeDir string) error {
	paths := unionPaths(declaredPaths, customPaths)

	doc := buildConfigDoc(handle, appType, paths)
	configBytes, err := doc.marshal()
	if err != nil {
		return err
	}
	if err := w.AppendBytes(prefix+"config.json", configBytes); err != nil {
		return fmt.Errorf("%w: %v", errkind.ErrIO, err)
	}

	for _, p := range paths {
		reader, err := eng.GetArchive(ctx, handle.ID, p)
		if err != nil {
			if appendErr := w.AppendBytes(prefix+artifact.EscapeErrorName(p), []byte(err.Error())); appendErr != nil {
				return fmt.Errorf("%w: %v", errkind.ErrIO, appendErr)
			}
			continue
		}
		streamErr := w.AppendStream(volumeDir+artifact.EscapePath(p), reader)
		reader.Close()
		if streamErr != nil {
			if appendErr := w.AppendBytes(prefix+artifact.EscapeErrorName(p), []byte(streamErr.Error())); appendErr != nil {
				return fmt.Errorf("%w: %v", errkind.ErrIO, appendErr)
			}
		}
	}
	return nil
}

func unionPaths(declared, custom []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, p := range append(append([]string{}, declared...), custom...) {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
