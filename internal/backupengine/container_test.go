package backupengine

import (
	"context"
	"testing"

	"github.com/fleetdock/fleetdock/internal/artifact"
	"github.com/fleetdock/fleetdock/internal/models"
)

func TestContainerBackupVolumeStrategyRoundTrip(t *testing.T) {
	handle := models.ContainerHandle{
		ID:    "c1",
		Name:  "web-1",
		Image: "nginx:latest",
	}
	eng := &fakeEngine{archives: map[string][]byte{
		"/usr/share/nginx/html": []byte("fake-tar-bytes"),
	}}

	artifactDir := t.TempDir()
	path, err := ContainerBackup(context.Background(), eng, handle, []string{"/usr/share/nginx/html"}, nil, artifactDir)
	if err != nil {
		t.Fatalf("ContainerBackup: %v", err)
	}

	r, err := artifact.Open(path)
	if err != nil {
		t.Fatalf("artifact.Open: %v", err)
	}
	defer r.Close()

	if r.DetectRoot() != artifact.RootSingleContainer {
		t.Fatalf("DetectRoot = %v, want RootSingleContainer", r.DetectRoot())
	}
	if !r.Has("config.json") {
		t.Error("expected config.json at root")
	}
	entries := r.EntriesUnder(artifact.EscapePath("/usr/share/nginx/html"))
	if len(entries) == 0 {
		t.Error("expected the captured path's tar entry to be present")
	}
}

func TestContainerBackupVolumeStrategyRecordsPathFailure(t *testing.T) {
	handle := models.ContainerHandle{ID: "c1", Name: "web-1", Image: "nginx:latest"}
	eng := &fakeEngine{failPath: map[string]bool{"/missing": true}}

	path, err := ContainerBackup(context.Background(), eng, handle, []string{"/missing"}, nil, t.TempDir())
	if err != nil {
		t.Fatalf("ContainerBackup should not hard-fail on a missing path: %v", err)
	}

	r, err := artifact.Open(path)
	if err != nil {
		t.Fatalf("artifact.Open: %v", err)
	}
	defer r.Close()

	if !r.Has(artifact.EscapeErrorName("/missing")) {
		t.Error("expected an ERROR_ entry for the failed path")
	}
}

func TestContainerBackupDumpStrategyCapturesOutput(t *testing.T) {
	handle := models.ContainerHandle{
		ID:    "c1",
		Name:  "db-1",
		Image: "postgres:16",
		Env:   []string{"POSTGRES_USER=app", "POSTGRES_PASSWORD=s3cret"},
	}
	eng := &fakeEngine{execOut: []byte("-- pg_dumpall output\n")}

	path, err := ContainerBackup(context.Background(), eng, handle, nil, nil, t.TempDir())
	if err != nil {
		t.Fatalf("ContainerBackup: %v", err)
	}

	r, err := artifact.Open(path)
	if err != nil {
		t.Fatalf("artifact.Open: %v", err)
	}
	defer r.Close()

	data, err := r.ReadAll("dump.sql")
	if err != nil {
		t.Fatalf("ReadAll(dump.sql): %v", err)
	}
	if string(data) != "-- pg_dumpall output\n" {
		t.Errorf("dump.sql contents = %q", data)
	}
}

func TestContainerBackupDumpStrategyFailsOnZeroByteDump(t *testing.T) {
	handle := models.ContainerHandle{ID: "c1", Name: "db-1", Image: "postgres:16"}
	eng := &fakeEngine{execOut: nil}

	if _, err := ContainerBackup(context.Background(), eng, handle, nil, nil, t.TempDir()); err == nil {
		t.Fatal("expected a zero-byte dump to be a hard error")
	}
}
