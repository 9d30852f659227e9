package restore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/fleetdock/fleetdock/internal/engine"
	"github.com/fleetdock/fleetdock/internal/models"
)

// fakeEngine is a minimal engine.EngineClient double that lets
// container- and stack-restore tests drive the round-trip without a
// live Docker daemon, grounded in the pack's fakeEnsurer/fakeHandler
// pattern (compose/rewrite_test.go, jobs/queue_test.go).
type fakeEngine struct {
	containers   []models.ContainerHandle
	failReplay   bool
	putArchives  int
	createdSpecs []engine.CreateSpec
	startedIDs   []string
}

var _ engine.EngineClient = (*fakeEngine)(nil)

func (f *fakeEngine) ListContainers(context.Context, bool) ([]models.ContainerHandle, error) {
	return f.containers, nil
}

func (f *fakeEngine) InspectContainer(_ context.Context, nameOrID string) (*models.ContainerHandle, error) {
	for _, h := range f.containers {
		if h.ID == nameOrID || h.Name == nameOrID {
			return &h, nil
		}
	}
	return nil, errors.New("not found")
}

func (f *fakeEngine) Exec(_ context.Context, _ string, cmd []string, _ []string, _ io.Reader) (engine.ExecResult, error) {
	joined := strings.Join(cmd, " ")
	switch {
	case strings.Contains(joined, "pg_isready"):
		return engine.ExecResult{Stdout: []byte("accepting connections")}, nil
	case strings.Contains(joined, "mysqladmin"):
		return engine.ExecResult{Stdout: []byte("mysqld is alive")}, nil
	case strings.Contains(joined, "psql") || strings.Contains(joined, "mysql"):
		if f.failReplay {
			return engine.ExecResult{}, errors.New("connection refused")
		}
		return engine.ExecResult{}, nil
	default:
		return engine.ExecResult{}, nil
	}
}

func (f *fakeEngine) GetArchive(context.Context, string, string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(nil)), nil
}

func (f *fakeEngine) PutArchive(context.Context, string, string, io.Reader) error {
	f.putArchives++
	return nil
}

func (f *fakeEngine) CreateContainer(_ context.Context, spec engine.CreateSpec) (string, error) {
	f.createdSpecs = append(f.createdSpecs, spec)
	return "container-" + spec.Name, nil
}

func (f *fakeEngine) StartContainer(_ context.Context, containerID string) error {
	f.startedIDs = append(f.startedIDs, containerID)
	return nil
}

func (f *fakeEngine) StopContainer(context.Context, string) (bool, error) {
	return false, nil
}

func (f *fakeEngine) RemoveContainer(context.Context, string) error {
	return nil
}

func (f *fakeEngine) PullImage(context.Context, string) error {
	return nil
}

func (f *fakeEngine) ImageExists(context.Context, string) (bool, error) {
	return true, nil
}

func (f *fakeEngine) EnsureNetwork(context.Context, string) error {
	return nil
}

func (f *fakeEngine) NetworkExists(context.Context, string) (bool, error) {
	return false, nil
}

func (f *fakeEngine) ListPublishedPorts(context.Context) (map[int]bool, error) {
	return map[int]bool{}, nil
}

// fakeDeployer is a compose.Deployer double. CreateOnly populates the
// engine's container list the way a real "compose up --no-start"
// would, so the phase-3-onward lookups in StackRestore find a
// container per declared service.
type fakeDeployer struct {
	eng          *fakeEngine
	postDeploy   []models.ContainerHandle
	createErr    error
	upErr        error
	createCalled bool
	upCalled     bool
}

func (d *fakeDeployer) CreateOnly(context.Context, string, string, string) error {
	d.createCalled = true
	if d.createErr != nil {
		return d.createErr
	}
	d.eng.containers = d.postDeploy
	return nil
}

func (d *fakeDeployer) Up(context.Context, string, string, string, []string) error {
	d.upCalled = true
	return d.upErr
}

func (d *fakeDeployer) Down(context.Context, string, string, string) error {
	return nil
}
