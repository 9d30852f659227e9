package orchestrator

import (
	"testing"

	"github.com/fleetdock/fleetdock/internal/fleetstore"
	"github.com/fleetdock/fleetdock/internal/models"
)

func TestDeclaredPathsForResolvesImportedStack(t *testing.T) {
	store, err := fleetstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	def := models.StackDefinition{
		StackName: "myapp",
		Services: map[string]models.ServiceDefinition{
			"db": {DeclaredVolumeDestinations: []string{"/var/lib/postgresql/data"}},
		},
	}
	if err := store.PutStack(def); err != nil {
		t.Fatalf("PutStack: %v", err)
	}

	h := &Handlers{Store: store}
	handle := models.ContainerHandle{
		Labels: map[string]string{
			models.ComposeProjectLabel: "myapp",
			models.ComposeServiceLabel: "db",
		},
	}

	got := h.declaredPathsFor(handle)
	if len(got) != 1 || got[0] != "/var/lib/postgresql/data" {
		t.Fatalf("declaredPathsFor = %+v", got)
	}
}

func TestDeclaredPathsForReturnsNilOutsideStack(t *testing.T) {
	store, err := fleetstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h := &Handlers{Store: store}
	got := h.declaredPathsFor(models.ContainerHandle{Name: "standalone"})
	if got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

// fakeStackLister is a StackLister double, used here instead of a
// real fleetstore.Store to show the seam works without touching disk.
type fakeStackLister struct {
	stacks map[string]models.StackDefinition
	err    error
}

func (f *fakeStackLister) Stacks() (map[string]models.StackDefinition, error) {
	return f.stacks, f.err
}

func TestDeclaredPathsForWithFakeStackLister(t *testing.T) {
	h := &Handlers{Store: &fakeStackLister{stacks: map[string]models.StackDefinition{
		"myapp": {
			StackName: "myapp",
			Services: map[string]models.ServiceDefinition{
				"db": {DeclaredVolumeDestinations: []string{"/var/lib/postgresql/data"}},
			},
		},
	}}}
	handle := models.ContainerHandle{
		Labels: map[string]string{
			models.ComposeProjectLabel: "myapp",
			models.ComposeServiceLabel: "db",
		},
	}
	got := h.declaredPathsFor(handle)
	if len(got) != 1 || got[0] != "/var/lib/postgresql/data" {
		t.Fatalf("declaredPathsFor = %+v", got)
	}
}
