package restore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fleetdock/fleetdock/internal/artifact"
)

// buildSingleContainerArtifact writes a minimal single-container
// archive with a config.json root and, when dumpContent is non-empty,
// a dump.sql sibling (dump-strategy restore path).
func buildSingleContainerArtifact(t *testing.T, dumpContent string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "container.zip")
	w, err := artifact.New(path)
	if err != nil {
		t.Fatalf("artifact.New: %v", err)
	}
	config := `{
		"name": "app-1",
		"image": "postgres:16",
		"hostConfig": {"PortBindings": {"5432/tcp": "15432"}, "Binds": []},
		"appType": "postgres",
		"backupPaths": []
	}`
	if err := w.AppendBytes("config.json", []byte(config)); err != nil {
		t.Fatalf("append config: %v", err)
	}
	if dumpContent != "" {
		if err := w.AppendBytes("dump.sql", []byte(dumpContent)); err != nil {
			t.Fatalf("append dump: %v", err)
		}
	}
	if err := w.Finalize(context.Background(), 5*time.Second); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	return path
}

func TestContainerRestoreReplaysDumpIntoFreshContainer(t *testing.T) {
	eng := &fakeEngine{}
	artifactPath := buildSingleContainerArtifact(t, "insert into accounts values (1);")

	result, err := ContainerRestore(context.Background(), eng, artifactPath, "")
	if err != nil {
		t.Fatalf("ContainerRestore: %v", err)
	}
	if len(eng.createdSpecs) != 1 {
		t.Fatalf("expected one CreateContainer call, got %d", len(eng.createdSpecs))
	}
	if eng.createdSpecs[0].Image != "postgres:16" {
		t.Errorf("Image = %q, want postgres:16", eng.createdSpecs[0].Image)
	}
	if len(eng.startedIDs) != 1 || eng.startedIDs[0] != result.ContainerID {
		t.Errorf("expected the created container to be started, got %+v", eng.startedIDs)
	}
}

func TestContainerRestoreKeepsFreeRecordedPort(t *testing.T) {
	eng := &fakeEngine{}
	artifactPath := buildSingleContainerArtifact(t, "")

	result, err := ContainerRestore(context.Background(), eng, artifactPath, "")
	if err != nil {
		t.Fatalf("ContainerRestore: %v", err)
	}
	if len(result.Remappings) != 0 {
		t.Errorf("expected no remappings when the recorded port is free, got %+v", result.Remappings)
	}
}

func TestDbLikeRankPrioritizesDatabaseNames(t *testing.T) {
	if dbLikeRank("postgres_1700000000.zip") != 0 {
		t.Error("postgres archive should rank 0")
	}
	if dbLikeRank("web_1700000000.zip") != 1 {
		t.Error("non-database archive should rank 1")
	}
}

func TestRebindPortsWithPublishedSubstitutesOnConflict(t *testing.T) {
	published := map[int]bool{8080: true}
	rebind, remaps := rebindPortsWithPublished(map[string]string{"80/tcp": "8080"}, published)

	if rebind["80/tcp"] == "8080" {
		t.Fatal("expected port 8080 to be rebound due to conflict")
	}
	if len(remaps) != 1 || remaps[0].Kind != "port" {
		t.Fatalf("expected one port remapping, got %+v", remaps)
	}
}

func TestRebindPortsWithPublishedKeepsFreePort(t *testing.T) {
	rebind, remaps := rebindPortsWithPublished(map[string]string{"80/tcp": "18080"}, nil)
	if rebind["80/tcp"] != "18080" {
		t.Errorf("expected free port to be kept unchanged, got %q", rebind["80/tcp"])
	}
	if len(remaps) != 0 {
		t.Errorf("expected no remapping for a free port, got %+v", remaps)
	}
}

func TestRebindMountsRetargetsExistingHostPath(t *testing.T) {
	dir := t.TempDir()
	hostPath := filepath.Join(dir, "data")
	if err := os.MkdirAll(hostPath, 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}

	var remaps []Remapping
	rebound := rebindMounts([]string{hostPath + ":/data"}, 1700000000, &remaps)

	want := hostPath + "_restored_1700000000:/data"
	if rebound[0] != want {
		t.Errorf("rebindMounts = %q, want %q", rebound[0], want)
	}
	if len(remaps) != 1 || remaps[0].Kind != "bind" {
		t.Fatalf("expected one bind remapping, got %+v", remaps)
	}
}

func TestRebindMountsLeavesMissingHostPathAlone(t *testing.T) {
	var remaps []Remapping
	rebound := rebindMounts([]string{"/does/not/exist:/data"}, 1700000000, &remaps)

	if rebound[0] != "/does/not/exist:/data" {
		t.Errorf("rebindMounts = %q, want unchanged", rebound[0])
	}
	if len(remaps) != 0 {
		t.Errorf("expected no remapping when host path is absent, got %+v", remaps)
	}
}

func TestParseConfigDocRoundTrip(t *testing.T) {
	raw := []byte(`{
		"name": "nginx-1",
		"image": "nginx:latest",
		"hostConfig": {"PortBindings": {"80/tcp": "8080"}, "Binds": ["/srv/www:/usr/share/nginx/html"]},
		"appType": "nginx",
		"backupPaths": ["/usr/share/nginx/html"],
		"composeProject": "myapp",
		"composeService": "web"
	}`)
	doc, err := parseConfigDoc(raw)
	if err != nil {
		t.Fatalf("parseConfigDoc: %v", err)
	}
	if doc.Name != "nginx-1" || doc.Image != "nginx:latest" {
		t.Errorf("unexpected doc: %+v", doc)
	}
	if doc.HostConfig.PortBindings["80/tcp"] != "8080" {
		t.Errorf("unexpected port bindings: %+v", doc.HostConfig)
	}
}

func TestParseEnvMapSkipsMalformed(t *testing.T) {
	env := parseEnvMap([]string{"POSTGRES_USER=app", "malformed"})
	if env["POSTGRES_USER"] != "app" {
		t.Errorf("unexpected env map: %+v", env)
	}
	if _, ok := env["malformed"]; ok {
		t.Error("entries without '=' should be skipped")
	}
}
