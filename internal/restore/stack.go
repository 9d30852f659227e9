package restore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fleetdock/fleetdock/internal/appdetect"
	"github.com/fleetdock/fleetdock/internal/artifact"
	"github.com/fleetdock/fleetdock/internal/compose"
	"github.com/fleetdock/fleetdock/internal/config"
	"github.com/fleetdock/fleetdock/internal/engine"
	"github.com/fleetdock/fleetdock/internal/errkind"
	"github.com/fleetdock/fleetdock/internal/models"
)

const sqlReplayTimeout = 300 * time.Second

type stackContainerRef struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Service string `json:"service"`
}

type stackMetadataDoc struct {
	StackName  string              `json:"stackName"`
	Timestamp  string              `json:"timestamp"`
	Containers []stackContainerRef `json:"containers"`
}

// StackRestoreResult reports the outcome of one phased stack restore.
type StackRestoreResult struct {
	StackName  string
	Remappings []compose.Remapping
	Warnings   []string
}

// StackRestore runs the 8-phase into-place pipeline (spec.md §4.8). Each
// phase completes for every service before the next begins.
func StackRestore(ctx context.Context, eng engine.EngineClient, deployer compose.Deployer, workDir, artifactPath string) (StackRestoreResult, error) {
	r, err := artifact.Open(artifactPath)
	if err != nil {
		return StackRestoreResult{}, fmt.Errorf("%w: %v", errkind.ErrNotFound, err)
	}
	defer r.Close()

	if !r.Has("stack_metadata.json") {
		return StackRestoreResult{}, fmt.Errorf("%w: archive missing stack_metadata.json", errkind.ErrParse)
	}
	metaRaw, err := r.ReadAll("stack_metadata.json")
	if err != nil {
		return StackRestoreResult{}, fmt.Errorf("%w: %v", errkind.ErrParse, err)
	}
	var meta stackMetadataDoc
	if err := json.Unmarshal(metaRaw, &meta); err != nil {
		return StackRestoreResult{}, fmt.Errorf("%w: %v", errkind.ErrParse, err)
	}

	if !r.Has("docker-compose.yml") {
		return StackRestoreResult{}, fmt.Errorf("%w: archive missing docker-compose.yml", errkind.ErrParse)
	}
	manifestText, err := r.ReadAll("docker-compose.yml")
	if err != nil {
		return StackRestoreResult{}, fmt.Errorf("%w: %v", errkind.ErrParse, err)
	}

	var envText string
	if r.Has(".env") {
		raw, err := r.ReadAll(".env")
		if err != nil {
			return StackRestoreResult{}, fmt.Errorf("%w: %v", errkind.ErrParse, err)
		}
		envText = string(raw)
	}
	envMap := parseEnvFile(envText)

	result := StackRestoreResult{StackName: meta.StackName}

	// Phase 0: stop and remove any existing containers of the same
	// stack; volumes are left on the host.
	if err := teardownExistingStack(ctx, eng, meta.StackName); err != nil {
		return StackRestoreResult{}, err
	}

	// Phase 1: rewrite conflicts, ensure external networks exist.
	published, err := eng.ListPublishedPorts(ctx)
	if err != nil {
		published = nil
	}
	rewritten, remappings, err := compose.Rewrite(ctx, string(manifestText), eng, published)
	if err != nil {
		return StackRestoreResult{}, fmt.Errorf("%w: %v", errkind.ErrRewriteFailed, err)
	}
	result.Remappings = remappings

	manifestPath, err := compose.WriteManifest(workDir, "docker-compose.yml", rewritten)
	if err != nil {
		return StackRestoreResult{}, fmt.Errorf("%w: %v", errkind.ErrRewriteFailed, err)
	}
	defer os.Remove(manifestPath)
	if envText != "" {
		envPath, err := compose.WriteManifest(workDir, ".env", envText)
		if err != nil {
			return StackRestoreResult{}, fmt.Errorf("%w: %v", errkind.ErrRewriteFailed, err)
		}
		defer os.Remove(envPath)
	}

	// Phase 2: infra-only deploy, create-but-do-not-start.
	if err := deployer.CreateOnly(ctx, workDir, manifestPath, meta.StackName); err != nil {
		return StackRestoreResult{}, fmt.Errorf("%w: %v", errkind.ErrDeployFailed, err)
	}

	containers, err := eng.ListContainers(ctx, true)
	if err != nil {
		return StackRestoreResult{}, err
	}
	byService := indexByComposeService(containers, meta.StackName)

	// Phase 3: offline volume injection, per-path failures are
	// warnings only.
	for _, entry := range meta.Containers {
		handle, ok := byService[entry.Service]
		if !ok {
			result.Warnings = append(result.Warnings, fmt.Sprintf("service %q: no matching container after deploy", entry.Service))
			continue
		}
		prefix := fmt.Sprintf("services/%s/volumes/", entry.Name)
		for _, tarName := range r.EntriesUnder(prefix) {
			if err := injectStackTar(ctx, eng, r, handle.ID, tarName, prefix); err != nil {
				result.Warnings = append(result.Warnings, fmt.Sprintf("service %q: volume inject %q: %v", entry.Service, tarName, err))
			}
		}
	}

	// Phase 4: database cohort boot + readiness.
	dbServices := partitionDatabaseServices(meta, byService)
	for _, entry := range dbServices {
		handle := byService[entry.Service]
		if err := eng.StartContainer(ctx, handle.ID); err != nil {
			return StackRestoreResult{}, fmt.Errorf("%w: start db service %q: %v", errkind.ErrDeployFailed, entry.Service, err)
		}
	}
	for _, entry := range dbServices {
		handle := byService[entry.Service]
		appType := appdetect.Detect(handle.Image, handle.Labels)
		env := mergeEnv(parseEnvMap(handle.Env), envMap)
		if err := waitReady(ctx, eng, handle.ID, appType, env); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("service %q: %v", entry.Service, err))
		}
	}

	// Phase 5: SQL replay for every DB service carrying a dump. Replay
	// failures are not in the fatal-kind set (errkind.FatalInStackRestore),
	// so they are recorded as warnings and the restore continues to the
	// next service, the same as phase 4's readiness warnings above.
	for _, entry := range dbServices {
		handle := byService[entry.Service]
		dumpName := fmt.Sprintf("services/%s/dump.sql", entry.Name)
		if !r.Has(dumpName) {
			continue
		}
		appType := appdetect.Detect(handle.Image, handle.Labels)
		env := mergeEnv(parseEnvMap(handle.Env), envMap)
		if err := replayStackDump(ctx, eng, r, dumpName, handle.ID, appType, env, &result.Warnings); err != nil {
			if errkind.FatalInStackRestore(errkind.Classify(err)) {
				return StackRestoreResult{}, err
			}
			result.Warnings = append(result.Warnings, fmt.Sprintf("service %q: %v", entry.Service, err))
			continue
		}

		// Phase 6: Postgres-only credential resync.
		if appType == appdetect.Postgres {
			if err := resyncPostgresCredentials(ctx, eng, handle.ID, env); err != nil {
				if errkind.FatalInStackRestore(errkind.Classify(err)) {
					return StackRestoreResult{}, err
				}
				result.Warnings = append(result.Warnings, fmt.Sprintf("service %q: credential resync: %v", entry.Service, err))
			}
		}
	}

	// Phase 7: application boot. compose up -d with no service filter
	// starts every remaining (application-tier) container; databases
	// are already running from phase 4.
	if err := deployer.Up(ctx, workDir, manifestPath, meta.StackName, nil); err != nil {
		return StackRestoreResult{}, fmt.Errorf("%w: %v", errkind.ErrDeployFailed, err)
	}

	return result, nil
}

func teardownExistingStack(ctx context.Context, eng engine.EngineClient, stackName string) error {
	containers, err := eng.ListContainers(ctx, true)
	if err != nil {
		return err
	}
	for _, h := range containers {
		if h.Labels[models.ComposeProjectLabel] != stackName {
			continue
		}
		if _, err := eng.StopContainer(ctx, h.ID); err != nil {
			return fmt.Errorf("%w: stop existing %q: %v", errkind.ErrDeployFailed, h.Name, err)
		}
		if err := eng.RemoveContainer(ctx, h.ID); err != nil {
			return fmt.Errorf("%w: remove existing %q: %v", errkind.ErrDeployFailed, h.Name, err)
		}
	}
	return nil
}

func indexByComposeService(containers []models.ContainerHandle, stackName string) map[string]models.ContainerHandle {
	byService := map[string]models.ContainerHandle{}
	for _, h := range containers {
		if h.Labels[models.ComposeProjectLabel] != stackName {
			continue
		}
		byService[h.Labels[models.ComposeServiceLabel]] = h
	}
	return byService
}

func partitionDatabaseServices(meta stackMetadataDoc, byService map[string]models.ContainerHandle) []stackContainerRef {
	var db []stackContainerRef
	for _, entry := range meta.Containers {
		handle, ok := byService[entry.Service]
		if !ok {
			continue
		}
		if appdetect.IsDatabase(appdetect.Detect(handle.Image, handle.Labels)) {
			db = append(db, entry)
		}
	}
	return db
}

func injectStackTar(ctx context.Context, eng engine.EngineClient, r *artifact.Reader, containerID, entryName, prefix string) error {
	original := artifact.UnescapePath(strings.TrimPrefix(entryName, prefix))
	destDir := original[:strings.LastIndex(original, "/")+1]
	if destDir == "" {
		destDir = "/"
	}
	rc, err := r.OpenEntry(entryName)
	if err != nil {
		return err
	}
	defer rc.Close()
	return eng.PutArchive(ctx, containerID, destDir, rc)
}

func replayStackDump(ctx context.Context, eng engine.EngineClient, r *artifact.Reader, dumpName, containerID string, appType appdetect.AppType, env map[string]string, warnings *[]string) error {
	raw, err := r.ReadAll(dumpName)
	if err != nil {
		return fmt.Errorf("%w: %v", errkind.ErrIO, err)
	}
	if len(raw) < 100 {
		*warnings = append(*warnings, fmt.Sprintf("%s: dump smaller than 100 bytes", dumpName))
	}

	replayCtx, cancel := context.WithTimeout(ctx, sqlReplayTimeout)
	defer cancel()

	var cmd []string
	switch appType {
	case appdetect.Postgres:
		user := env["POSTGRES_USER"]
		if user == "" {
			user = "postgres"
		}
		cmd = []string{"psql", "-U", user, "-d", "postgres"}
	case appdetect.MySQL:
		password := env["MYSQL_ROOT_PASSWORD"]
		if password != "" {
			cmd = []string{"sh", "-c", fmt.Sprintf(`mysql -u root -p"%s"`, password)}
		} else {
			cmd = []string{"mysql", "-u", "root"}
		}
	default:
		return nil
	}

	if _, err := eng.Exec(replayCtx, containerID, cmd, nil, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("%w: replay %s: %v", errkind.ErrReplayFailed, dumpName, err)
	}
	return nil
}

// resyncPostgresCredentials runs the idempotent role-creation and
// password/superuser statements from spec.md §4.8 phase 6, quoting
// identifiers and literals per its exact rules.
func resyncPostgresCredentials(ctx context.Context, eng engine.EngineClient, containerID string, env map[string]string) error {
	user := config.ResolvePlaceholder("POSTGRES_USER", "postgres", env)
	password := config.ResolvePlaceholder("POSTGRES_PASSWORD", "", env)

	quotedUser := quoteIdentifier(user)
	quotedPassword := quoteLiteral(password)

	script := fmt.Sprintf(`DO $$ BEGIN
  IF NOT EXISTS (SELECT FROM pg_catalog.pg_roles WHERE rolname=%s) THEN
    CREATE ROLE %s WITH LOGIN PASSWORD %s;
  END IF;
END $$;
ALTER ROLE %s WITH PASSWORD %s;
ALTER ROLE %s SUPERUSER;
`, quoteLiteral(user), quotedUser, quotedPassword, quotedUser, quotedPassword, quotedUser)

	replayCtx, cancel := context.WithTimeout(ctx, sqlReplayTimeout)
	defer cancel()

	// Piped over stdin rather than a shell -c argument, so the §4.8
	// shell-level '\'' escaping rule does not apply here; it only
	// matters for callers that embed this script in a shell command line.
	cmd := []string{"psql", "-U", user, "-d", "postgres", "-v", "ON_ERROR_STOP=1"}
	if _, err := eng.Exec(replayCtx, containerID, cmd, nil, bytes.NewReader([]byte(script))); err != nil {
		return fmt.Errorf("%w: credential resync: %v", errkind.ErrReplayFailed, err)
	}
	return nil
}

// quoteIdentifier double-quotes a SQL identifier, escaping embedded
// quotes as "" (spec.md §4.8 phase 6 quoting rules).
func quoteIdentifier(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// quoteLiteral single-quotes a SQL string literal, escaping embedded
// quotes as ''.
func quoteLiteral(s string) string {
	return `'` + strings.ReplaceAll(s, `'`, `''`) + `'`
}

func parseEnvFile(content string) map[string]string {
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

func mergeEnv(primary, fallback map[string]string) map[string]string {
	merged := make(map[string]string, len(primary)+len(fallback))
	for k, v := range fallback {
		merged[k] = v
	}
	for k, v := range primary {
		merged[k] = v
	}
	return merged
}
