package restore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fleetdock/fleetdock/internal/appdetect"
	"github.com/fleetdock/fleetdock/internal/artifact"
	"github.com/fleetdock/fleetdock/internal/engine"
	"github.com/fleetdock/fleetdock/internal/errkind"
)

const (
	pullTimeout       = 300 * time.Second
	legacyNetPrefix   = "stack_restore_"
	dumpReplayTimeout = 300 * time.Second
)

// Remapping records one value ContainerRestore substituted in place of
// the original, for operator-visible diagnostics.
type Remapping struct {
	Kind string // "port", "bind", "network"
	From string
	To   string
}

// ContainerRestoreResult is the outcome of a single clone restore.
type ContainerRestoreResult struct {
	ContainerID string
	Name        string
	Remappings  []Remapping
}

// ContainerRestore clones a container from a single-container archive,
// or recurses across a legacy nested-zip archive (spec.md §4.7).
func ContainerRestore(ctx context.Context, eng engine.EngineClient, artifactPath string, networkOverride string) (ContainerRestoreResult, error) {
	r, err := artifact.Open(artifactPath)
	if err != nil {
		return ContainerRestoreResult{}, fmt.Errorf("%w: %v", errkind.ErrNotFound, err)
	}
	defer r.Close()

	switch r.DetectRoot() {
	case artifact.RootLegacyNestedZip:
		return restoreLegacyNested(ctx, eng, r)
	case artifact.RootSingleContainer:
		return restoreSingleContainer(ctx, eng, r, networkOverride)
	default:
		return ContainerRestoreResult{}, fmt.Errorf("%w: archive has no config.json at root", errkind.ErrParse)
	}
}

// restoreLegacyNested handles the deprecated "any *.zip at root is a
// child archive" layout (spec.md §9 open question): database-like
// children are restored first, all children share one fresh network,
// and success requires every child to succeed.
func restoreLegacyNested(ctx context.Context, eng engine.EngineClient, r *artifact.Reader) (ContainerRestoreResult, error) {
	names := r.RootZipEntries()
	sort.SliceStable(names, func(i, j int) bool {
		return dbLikeRank(names[i]) < dbLikeRank(names[j])
	})

	netName := fmt.Sprintf("%s%d", legacyNetPrefix, time.Now().Unix())
	if err := eng.EnsureNetwork(ctx, netName); err != nil {
		return ContainerRestoreResult{}, fmt.Errorf("%w: %v", errkind.ErrDeployFailed, err)
	}

	var last ContainerRestoreResult
	for _, name := range names {
		childPath, cleanup, err := extractToTemp(r, name)
		if err != nil {
			return ContainerRestoreResult{}, err
		}
		result, err := ContainerRestore(ctx, eng, childPath, netName)
		cleanup()
		if err != nil {
			return ContainerRestoreResult{}, fmt.Errorf("nested archive %q: %w", name, err)
		}
		last = result
	}
	return last, nil
}

func dbLikeRank(name string) int {
	lower := strings.ToLower(name)
	for _, substr := range []string{"postgres", "mysql", "mariadb", "redis", "db"} {
		if strings.Contains(lower, substr) {
			return 0
		}
	}
	return 1
}

func extractToTemp(r *artifact.Reader, name string) (tempPath string, cleanup func(), err error) {
	rc, err := r.OpenEntry(name)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", errkind.ErrIO, err)
	}
	defer rc.Close()

	f, err := os.CreateTemp("", "fleetdock-nested-*.zip")
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", errkind.ErrIO, err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", nil, fmt.Errorf("%w: %v", errkind.ErrIO, err)
	}
	f.Close()
	return f.Name(), func() { os.Remove(f.Name()) }, nil
}

func restoreSingleContainer(ctx context.Context, eng engine.EngineClient, r *artifact.Reader, networkOverride string) (ContainerRestoreResult, error) {
	raw, err := r.ReadAll("config.json")
	if err != nil {
		return ContainerRestoreResult{}, fmt.Errorf("%w: %v", errkind.ErrParse, err)
	}
	doc, err := parseConfigDoc(raw)
	if err != nil {
		return ContainerRestoreResult{}, fmt.Errorf("%w: %v", errkind.ErrParse, err)
	}

	exists, err := eng.ImageExists(ctx, doc.Image)
	if err != nil {
		return ContainerRestoreResult{}, err
	}
	if !exists {
		pullCtx, cancel := context.WithTimeout(ctx, pullTimeout)
		defer cancel()
		if err := eng.PullImage(pullCtx, doc.Image); err != nil {
			return ContainerRestoreResult{}, err
		}
	}

	epoch := time.Now().Unix()
	newName := fmt.Sprintf("%s_restored_%d", doc.Name, epoch)
	var remappings []Remapping

	netName, netAliases := resolveRestoreNetwork(ctx, eng, doc, networkOverride)
	if networkOverride != "" {
		remappings = append(remappings, Remapping{Kind: "network", From: strings.Join(doc.NetworkSettings.Networks, ","), To: netName})
	}

	portBindings, _, err := rebindPorts(ctx, eng, doc.HostConfig.PortBindings, &remappings)
	if err != nil {
		return ContainerRestoreResult{}, err
	}

	binds := rebindMounts(doc.HostConfig.Binds, epoch, &remappings)

	exposedPorts := make([]string, 0, len(portBindings))
	for containerPort := range portBindings {
		exposedPorts = append(exposedPorts, containerPort)
	}

	spec := engine.CreateSpec{
		Name:           newName,
		Image:          doc.Image,
		Cmd:            doc.Cmd,
		Env:            doc.Env,
		ExposedPorts:   exposedPorts,
		PortBindings:   portBindings,
		Binds:          binds,
		NetworkName:    netName,
		NetworkAliases: netAliases,
		RestartPolicy:  "unless-stopped",
	}

	containerID, err := eng.CreateContainer(ctx, spec)
	if err != nil {
		return ContainerRestoreResult{}, err
	}
	if err := eng.StartContainer(ctx, containerID); err != nil {
		return ContainerRestoreResult{}, fmt.Errorf("%w: start restored container: %v", errkind.ErrDeployFailed, err)
	}

	appType := appdetect.AppType(doc.AppType)
	if r.Has("dump.sql") {
		if err := replayDump(ctx, eng, r, containerID, appType, parseEnvMap(doc.Env)); err != nil {
			return ContainerRestoreResult{}, err
		}
	} else {
		for _, tarName := range r.RootTarEntries() {
			if err := injectTar(ctx, eng, r, containerID, tarName); err != nil {
				return ContainerRestoreResult{}, err
			}
		}
	}

	return ContainerRestoreResult{ContainerID: containerID, Name: newName, Remappings: remappings}, nil
}

func resolveRestoreNetwork(ctx context.Context, eng engine.EngineClient, doc configDoc, networkOverride string) (string, []string) {
	if networkOverride != "" {
		return networkOverride, []string{doc.ComposeService, doc.Name}
	}
	for _, n := range doc.NetworkSettings.Networks {
		if ok, err := eng.NetworkExists(ctx, n); err == nil && ok {
			return n, nil
		}
	}
	return "bridge", nil
}

func rebindPorts(ctx context.Context, eng engine.EngineClient, original map[string]string, remappings *[]Remapping) (map[string]string, map[int]bool, error) {
	published, err := eng.ListPublishedPorts(ctx)
	if err != nil {
		published = nil
	}
	rebind, portRemaps := rebindPortsWithPublished(original, published)
	*remappings = append(*remappings, portRemaps...)
	return rebind, published, nil
}

// rebindPortsWithPublished is the pure substitution rule behind port
// rebinding (spec.md §4.7 step 6): probe from the original host port
// upward, never past 65534 (spec.md §8 boundary).
func rebindPortsWithPublished(original map[string]string, published map[int]bool) (map[string]string, []Remapping) {
	rebind := make(map[string]string, len(original))
	var remappings []Remapping
	for containerPort, hostPortStr := range original {
		hostPort, parseErr := strconv.Atoi(hostPortStr)
		if parseErr != nil {
			rebind[containerPort] = hostPortStr
			continue
		}
		candidate := hostPort
		for candidate <= 65534 && !engine.PortAvailable(candidate, published) {
			candidate++
		}
		if candidate > 65534 {
			candidate = hostPort
		}
		rebind[containerPort] = strconv.Itoa(candidate)
		if candidate != hostPort {
			remappings = append(remappings, Remapping{Kind: "port", From: hostPortStr, To: strconv.Itoa(candidate)})
		}
	}
	return rebind, remappings
}

func rebindMounts(original []string, epoch int64, remappings *[]Remapping) []string {
	rebound := make([]string, 0, len(original))
	for _, bind := range original {
		parts := strings.SplitN(bind, ":", 3)
		if len(parts) < 2 {
			rebound = append(rebound, bind)
			continue
		}
		hostPath, containerPath := parts[0], parts[1]
		suffix := ""
		if len(parts) == 3 {
			suffix = ":" + parts[2]
		}
		if _, err := os.Stat(hostPath); err == nil {
			newHostPath := fmt.Sprintf("%s_restored_%d", hostPath, epoch)
			if mkErr := os.MkdirAll(path.Dir(newHostPath), 0o755); mkErr == nil {
				*remappings = append(*remappings, Remapping{Kind: "bind", From: hostPath, To: newHostPath})
				rebound = append(rebound, newHostPath+":"+containerPath+suffix)
				continue
			}
		}
		rebound = append(rebound, bind)
	}
	return rebound
}

func injectTar(ctx context.Context, eng engine.EngineClient, r *artifact.Reader, containerID, tarName string) error {
	original := artifact.UnescapePath(tarName)
	destDir := path.Dir(original)

	rc, err := r.OpenEntry(tarName)
	if err != nil {
		return fmt.Errorf("%w: %v", errkind.ErrIO, err)
	}
	defer rc.Close()

	if err := eng.PutArchive(ctx, containerID, destDir, rc); err != nil {
		return err
	}
	return nil
}

func replayDump(ctx context.Context, eng engine.EngineClient, r *artifact.Reader, containerID string, appType appdetect.AppType, env map[string]string) error {
	if !appdetect.IsDumpStrategy(appType) {
		return nil
	}
	if err := waitReady(ctx, eng, containerID, appType, env); err != nil {
		return err
	}

	replayCtx, cancel := context.WithTimeout(ctx, dumpReplayTimeout)
	defer cancel()

	rc, err := r.OpenEntry("dump.sql")
	if err != nil {
		return fmt.Errorf("%w: %v", errkind.ErrIO, err)
	}
	defer rc.Close()

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

	if _, err := eng.Exec(replayCtx, containerID, cmd, nil, rc); err != nil {
		return fmt.Errorf("%w: replay dump.sql: %v", errkind.ErrReplayFailed, err)
	}
	return nil
}
