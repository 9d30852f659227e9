package backupengine

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/fleetdock/fleetdock/internal/engine"
	"github.com/fleetdock/fleetdock/internal/models"
)

// fakeEngine is a minimal engine.EngineClient double, grounded in the
// pack's fakeEnsurer/fakeHandler pattern (compose/rewrite_test.go,
// jobs/queue_test.go), letting backup round-trips run without a live
// Docker daemon.
type fakeEngine struct {
	archives map[string][]byte // container path -> tar-ish payload
	failPath map[string]bool
	execOut  []byte
	execErr  error
}

var _ engine.EngineClient = (*fakeEngine)(nil)

func (f *fakeEngine) ListContainers(context.Context, bool) ([]models.ContainerHandle, error) {
	return nil, nil
}

func (f *fakeEngine) InspectContainer(context.Context, string) (*models.ContainerHandle, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeEngine) Exec(context.Context, string, []string, []string, io.Reader) (engine.ExecResult, error) {
	if f.execErr != nil {
		return engine.ExecResult{}, f.execErr
	}
	return engine.ExecResult{Stdout: f.execOut}, nil
}

func (f *fakeEngine) GetArchive(_ context.Context, _, path string) (io.ReadCloser, error) {
	if f.failPath[path] {
		return nil, errors.New("path not found: " + path)
	}
	data := f.archives[path]
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeEngine) PutArchive(context.Context, string, string, io.Reader) error {
	return nil
}

func (f *fakeEngine) CreateContainer(context.Context, engine.CreateSpec) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeEngine) StartContainer(context.Context, string) error { return nil }

func (f *fakeEngine) StopContainer(context.Context, string) (bool, error) { return false, nil }

func (f *fakeEngine) RemoveContainer(context.Context, string) error { return nil }

func (f *fakeEngine) PullImage(context.Context, string) error { return nil }

func (f *fakeEngine) ImageExists(context.Context, string) (bool, error) { return true, nil }

func (f *fakeEngine) EnsureNetwork(context.Context, string) error { return nil }

func (f *fakeEngine) NetworkExists(context.Context, string) (bool, error) { return false, nil }

func (f *fakeEngine) ListPublishedPorts(context.Context) (map[int]bool, error) {
	return map[int]bool{}, nil
}
