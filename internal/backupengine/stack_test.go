package backupengine

import (
	"context"
	"testing"

	"github.com/fleetdock/fleetdock/internal/artifact"
	"github.com/fleetdock/fleetdock/internal/models"
)

func TestSelectContainersByProjectLabel(t *testing.T) {
	all := []models.ContainerHandle{
		{Name: "web", Labels: map[string]string{models.ComposeProjectLabel: "myapp"}},
		{Name: "unrelated", Labels: map[string]string{models.ComposeProjectLabel: "other"}},
	}
	got, err := SelectContainers(all, "myapp", nil)
	if err != nil {
		t.Fatalf("SelectContainers: %v", err)
	}
	if len(got) != 1 || got[0].Name != "web" {
		t.Fatalf("unexpected selection: %+v", got)
	}
}

func TestSelectContainersFallsBackToServiceLabels(t *testing.T) {
	all := []models.ContainerHandle{
		{Name: "db-1", Labels: map[string]string{models.ComposeServiceLabel: "db"}},
		{Name: "irrelevant", Labels: map[string]string{}},
	}
	def := &models.StackDefinition{
		StackName: "myapp",
		Services:  map[string]models.ServiceDefinition{"db": {Image: "postgres:16"}},
	}
	got, err := SelectContainers(all, "myapp", def)
	if err != nil {
		t.Fatalf("SelectContainers: %v", err)
	}
	if len(got) != 1 || got[0].Name != "db-1" {
		t.Fatalf("unexpected selection: %+v", got)
	}
}

func TestSelectContainersFailsWhenEmpty(t *testing.T) {
	_, err := SelectContainers(nil, "myapp", nil)
	if err == nil {
		t.Fatal("expected StackEmpty-equivalent error")
	}
}

func TestRenderEnvFilePrefersEnvVars(t *testing.T) {
	def := models.StackDefinition{EnvVars: map[string]string{"FOO": "bar"}}
	got := renderEnvFile(def)
	if got != "FOO=bar\n" {
		t.Errorf("renderEnvFile = %q", got)
	}
}

func TestRenderEnvFileOmittedWhenNeitherPresent(t *testing.T) {
	if got := renderEnvFile(models.StackDefinition{}); got != "" {
		t.Errorf("renderEnvFile = %q, want empty", got)
	}
}

// TestStackBackupContinuesPastFailedService verifies the per-service
// failure handling: one service's dump capture fails outright (a
// zero-byte dump, errkind.ErrCaptureEmpty), but the remaining service
// is still captured and the job is reported failed overall since that
// kind is fatal in a single-container-style capture
// (errkind.FatalInSingleContainerJob).
func TestStackBackupContinuesPastFailedService(t *testing.T) {
	def := models.StackDefinition{
		StackName: "myapp",
		Services: map[string]models.ServiceDefinition{
			"db":    {},
			"cache": {},
		},
	}
	containers := []models.ContainerHandle{
		{ID: "c1", Name: "myapp-db-1", Image: "postgres:16", Labels: map[string]string{models.ComposeServiceLabel: "db"}},
		{ID: "c2", Name: "myapp-cache-1", Image: "redis:7", Labels: map[string]string{models.ComposeServiceLabel: "cache"}},
	}
	eng := &fakeEngine{execOut: nil} // zero-byte dump for the db service

	path, warnings, err := StackBackup(context.Background(), eng, def, containers, t.TempDir(), func(int, int) {})
	if err == nil {
		t.Fatal("expected the fatal per-service failure to surface as a job error")
	}
	if len(warnings) != 1 {
		t.Fatalf("expected one warning for the failed db service, got %+v", warnings)
	}
	if path == "" {
		t.Fatal("expected the archive to still be produced despite the fatal service error")
	}

	r, err := artifact.Open(path)
	if err != nil {
		t.Fatalf("artifact.Open: %v", err)
	}
	defer r.Close()
	if !r.Has("stack_metadata.json") {
		t.Error("expected stack_metadata.json at root")
	}
	if !r.Has("services/myapp-db-1/" + artifact.EscapeErrorName("myapp-db-1")) {
		t.Error("expected an ERROR_ entry for the failed db service")
	}
	if !r.Has("services/myapp-cache-1/config.json") {
		t.Error("expected the cache service to still be captured despite the db service's failure")
	}
}

func TestStackBackupRecordsServiceErrorEntryAndKeepsGoing(t *testing.T) {
	def := models.StackDefinition{
		StackName: "myapp",
		Services: map[string]models.ServiceDefinition{
			"web":   {DeclaredVolumeDestinations: []string{"/missing"}},
			"cache": {},
		},
	}
	containers := []models.ContainerHandle{
		{ID: "c1", Name: "myapp-web-1", Image: "nginx:latest", Labels: map[string]string{models.ComposeServiceLabel: "web"}},
		{ID: "c2", Name: "myapp-cache-1", Image: "redis:7", Labels: map[string]string{models.ComposeServiceLabel: "cache"}},
	}
	eng := &fakeEngine{failPath: map[string]bool{"/missing": true}}

	path, warnings, err := StackBackup(context.Background(), eng, def, containers, t.TempDir(), func(int, int) {})
	if err != nil {
		t.Fatalf("volumeBranch path failures are non-fatal per-path; StackBackup should not hard-error: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("a per-path GetArchive failure downgrades to an ERROR_ entry, not a service warning; got %+v", warnings)
	}

	r, err := artifact.Open(path)
	if err != nil {
		t.Fatalf("artifact.Open: %v", err)
	}
	defer r.Close()
	if !r.Has("services/myapp-web-1/" + artifact.EscapeErrorName("/missing")) {
		t.Error("expected an ERROR_ entry for the failed path under the web service")
	}
	if !r.Has("services/myapp-cache-1/config.json") {
		t.Error("expected the cache service to still be captured")
	}
}
