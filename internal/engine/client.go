// Package engine implements the EngineClient collaborator: the single
// seam through which the backup/restore core talks to the container
// runtime (list/inspect/exec/get-archive/put-archive/create/start/stop/
// remove/pull/network-ops). Grounded in the teacher's
// internal/docker/client.go wrapper, extended to the full surface the
// orchestrator needs.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/fleetdock/fleetdock/internal/errkind"
	"github.com/fleetdock/fleetdock/internal/models"
)

// ExecResult carries the outcome of a single exec call.
type ExecResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// CreateSpec describes a container to create. Mirrors the subset of
// docker container.Config/HostConfig fields ContainerRestore needs to
// set explicitly (spec.md §4.7 step 8).
type CreateSpec struct {
	Name           string
	Image          string
	Cmd            []string
	Env            []string
	ExposedPorts   []string          // "80/tcp"
	PortBindings   map[string]string // "80/tcp" -> "8080"
	Binds          []string
	NetworkName    string
	NetworkAliases []string
	RestartPolicy  string // "unless-stopped", "" for none
}

// EngineClient is the seam backupengine, restore and orchestrator call
// through instead of depending on *Client directly, grounded in the
// teacher's internal/docker/client.go wrapper (itself a thin interface
// candidate) and mirroring compose.Deployer's narrow-interface shape.
// A fake satisfying this lets the backup/restore round-trip properties
// (spec.md §8) run without a live Docker daemon.
type EngineClient interface {
	ListContainers(ctx context.Context, all bool) ([]models.ContainerHandle, error)
	InspectContainer(ctx context.Context, nameOrID string) (*models.ContainerHandle, error)
	Exec(ctx context.Context, containerID string, cmd []string, env []string, stdin io.Reader) (ExecResult, error)
	GetArchive(ctx context.Context, containerID, path string) (io.ReadCloser, error)
	PutArchive(ctx context.Context, containerID, destDir string, content io.Reader) error
	CreateContainer(ctx context.Context, spec CreateSpec) (string, error)
	StartContainer(ctx context.Context, containerID string) error
	StopContainer(ctx context.Context, containerID string) (bool, error)
	RemoveContainer(ctx context.Context, containerID string) error
	PullImage(ctx context.Context, ref string) error
	ImageExists(ctx context.Context, ref string) (bool, error)
	EnsureNetwork(ctx context.Context, name string) error
	NetworkExists(ctx context.Context, name string) (bool, error)
	ListPublishedPorts(ctx context.Context) (map[int]bool, error)
}

// Client is the EngineClient collaborator. It is a thin, serialized
// wrapper: the job worker is the only caller that matters for ordering
// guarantees, but readiness probes are allowed to exec concurrently
// across a database cohort (spec.md §5).
type Client struct {
	docker *client.Client
}

var _ EngineClient = (*Client)(nil)

// New creates an EngineClient backed by the local Docker daemon,
// negotiating the API version the way the teacher's NewClient does.
func New() (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if _, err := cli.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("%w: %v", errkind.ErrEngineUnavailable, err)
	}
	return &Client{docker: cli}, nil
}

// Raw exposes the underlying docker client for callers that need an
// operation not yet wrapped here (mirrors the teacher's GetDockerClient
// escape hatch).
func (c *Client) Raw() *client.Client {
	return c.docker
}

// ListContainers returns every container handle known to the engine.
func (c *Client) ListContainers(ctx context.Context, all bool) ([]models.ContainerHandle, error) {
	list, err := c.docker.ContainerList(ctx, container.ListOptions{All: all})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	handles := make([]models.ContainerHandle, 0, len(list))
	for _, item := range list {
		handles = append(handles, fromSummary(item))
	}
	return handles, nil
}

func fromSummary(item types.Container) models.ContainerHandle {
	name := item.ID
	for _, n := range item.Names {
		name = strings.TrimPrefix(n, "/")
		break
	}
	return models.ContainerHandle{
		ID:      item.ID,
		Name:    name,
		Image:   item.Image,
		Labels:  item.Labels,
		Running: item.State == "running",
	}
}

// InspectContainer resolves a container by name or ID into a full
// ContainerHandle, the way the teacher's GetContainer + GetContainerVolumes
// pair does, folded into one call.
func (c *Client) InspectContainer(ctx context.Context, nameOrID string) (*models.ContainerHandle, error) {
	info, err := c.docker.ContainerInspect(ctx, nameOrID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, fmt.Errorf("%w: container %q", errkind.ErrNotFound, nameOrID)
		}
		return nil, fmt.Errorf("inspect container %q: %w", nameOrID, err)
	}

	handle := &models.ContainerHandle{
		ID:      info.ID,
		Name:    strings.TrimPrefix(info.Name, "/"),
		Running: info.State != nil && info.State.Running,
		Labels:  info.Config.Labels,
		Env:     info.Config.Env,
		Ports:   map[string]string{},
	}
	if info.Config != nil {
		handle.Image = info.Config.Image
		handle.Cmd = []string(info.Config.Cmd)
		handle.WorkingDir = info.Config.WorkingDir
	}
	if info.HostConfig != nil {
		for port, bindings := range info.HostConfig.PortBindings {
			if len(bindings) > 0 {
				handle.Ports[string(port)] = bindings[0].HostPort
			}
		}
		handle.Binds = append(handle.Binds, info.HostConfig.Binds...)
	}
	for _, m := range info.Mounts {
		handle.Mounts = append(handle.Mounts, models.MountInfo{
			Source:      m.Source,
			Destination: m.Destination,
			Type:        string(m.Type),
		})
	}
	if info.NetworkSettings != nil {
		for netName := range info.NetworkSettings.Networks {
			handle.Networks = append(handle.Networks, netName)
		}
	}
	return handle, nil
}

// Exec runs cmd inside containerID, optionally piping stdin, and
// demultiplexes stdout/stderr via stdcopy, the pattern grounded in the
// retrieval pack's docker exec helper.
func (c *Client) Exec(ctx context.Context, containerID string, cmd []string, env []string, stdin io.Reader) (ExecResult, error) {
	execCfg := container.ExecOptions{
		Cmd:          cmd,
		Env:          env,
		AttachStdout: true,
		AttachStderr: true,
		AttachStdin:  stdin != nil,
	}
	created, err := c.docker.ContainerExecCreate(ctx, containerID, execCfg)
	if err != nil {
		return ExecResult{}, fmt.Errorf("%w: create exec: %v", errkind.ErrCaptureFailed, err)
	}

	attached, err := c.docker.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, fmt.Errorf("%w: attach exec: %v", errkind.ErrCaptureFailed, err)
	}
	defer attached.Close()

	if stdin != nil {
		go func() {
			_, _ = io.Copy(attached.Conn, stdin)
			if cw, ok := attached.Conn.(interface{ CloseWrite() error }); ok {
				_ = cw.CloseWrite()
			}
		}()
	}

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attached.Reader); err != nil && err != io.EOF {
		return ExecResult{}, fmt.Errorf("%w: read exec output: %v", errkind.ErrCaptureFailed, err)
	}

	inspect, err := c.docker.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return ExecResult{}, fmt.Errorf("%w: inspect exec: %v", errkind.ErrCaptureFailed, err)
	}

	return ExecResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), ExitCode: inspect.ExitCode}, nil
}

// GetArchive streams a tar of path from containerID's filesystem
// (volume-strategy capture, spec.md §4.5).
func (c *Client) GetArchive(ctx context.Context, containerID, path string) (io.ReadCloser, error) {
	reader, _, err := c.docker.CopyFromContainer(ctx, containerID, path)
	if err != nil {
		return nil, fmt.Errorf("%w: get archive %q: %v", errkind.ErrCaptureFailed, path, err)
	}
	return reader, nil
}

// PutArchive streams a tar into containerID's filesystem rooted at
// destDir, working whether the container is running or stopped (offline
// injection, spec.md §4.8 phase 3).
func (c *Client) PutArchive(ctx context.Context, containerID, destDir string, content io.Reader) error {
	if err := c.docker.CopyToContainer(ctx, containerID, destDir, content, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("%w: put archive to %q: %v", errkind.ErrCaptureFailed, destDir, err)
	}
	return nil
}

// CreateContainer creates (but does not start) a container from spec.
func (c *Client) CreateContainer(ctx context.Context, spec CreateSpec) (string, error) {
	cfg := &container.Config{
		Image:        spec.Image,
		Cmd:          spec.Cmd,
		Env:          spec.Env,
		ExposedPorts: toExposedPorts(spec.ExposedPorts),
	}

	hostCfg := &container.HostConfig{
		Binds:        spec.Binds,
		PortBindings: toPortBindings(spec.PortBindings),
	}
	if spec.RestartPolicy != "" {
		hostCfg.RestartPolicy = container.RestartPolicy{Name: container.RestartPolicyMode(spec.RestartPolicy)}
	}

	var netCfg *network.NetworkingConfig
	if spec.NetworkName != "" {
		netCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				spec.NetworkName: {Aliases: spec.NetworkAliases},
			},
		}
	}

	resp, err := c.docker.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("%w: create container %q: %v", errkind.ErrDeployFailed, spec.Name, err)
	}
	return resp.ID, nil
}

// StartContainer starts a previously created container.
func (c *Client) StartContainer(ctx context.Context, containerID string) error {
	if err := c.docker.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container %q: %w", containerID, err)
	}
	return nil
}

// StopContainer stops a container if running and reports whether it was
// running beforehand, grounded in the teacher's StopContainer.
func (c *Client) StopContainer(ctx context.Context, containerID string) (bool, error) {
	info, err := c.docker.ContainerInspect(ctx, containerID)
	if err != nil {
		return false, fmt.Errorf("inspect before stop: %w", err)
	}
	wasRunning := info.State != nil && info.State.Running
	if wasRunning {
		timeout := 30
		if err := c.docker.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
			return wasRunning, fmt.Errorf("stop container %q: %w", containerID, err)
		}
	}
	return wasRunning, nil
}

// RemoveContainer force-removes a container object (volumes untouched).
func (c *Client) RemoveContainer(ctx context.Context, containerID string) error {
	if err := c.docker.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("remove container %q: %w", containerID, err)
	}
	return nil
}

// PullImage pulls ref with the caller-supplied timeout context already
// applied, draining the progress stream the way docker requires.
func (c *Client) PullImage(ctx context.Context, ref string) error {
	out, err := c.docker.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("%w: pull image %q: %v", errkind.ErrIO, ref, err)
	}
	defer out.Close()
	if _, err := io.Copy(io.Discard, out); err != nil {
		return fmt.Errorf("%w: drain pull stream: %v", errkind.ErrIO, err)
	}
	return nil
}

// ImageExists checks whether ref is present locally.
func (c *Client) ImageExists(ctx context.Context, ref string) (bool, error) {
	_, err := c.docker.ImageInspect(ctx, ref)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("inspect image %q: %w", ref, err)
	}
	return true, nil
}

// EnsureNetwork creates a bridge network named name if it does not
// already exist (spec.md §4.2 rule 6, §4.8 phase 1).
func (c *Client) EnsureNetwork(ctx context.Context, name string) error {
	exists, err := c.NetworkExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = c.docker.NetworkCreate(ctx, name, network.CreateOptions{Driver: "bridge"})
	if err != nil {
		return fmt.Errorf("create network %q: %w", name, err)
	}
	return nil
}

// NetworkExists reports whether a network named name exists.
func (c *Client) NetworkExists(ctx context.Context, name string) (bool, error) {
	nets, err := c.docker.NetworkList(ctx, network.ListOptions{
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return false, fmt.Errorf("list networks: %w", err)
	}
	for _, n := range nets {
		if n.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// ListPublishedPorts returns every host port currently published by any
// container, used by the port-availability probe (spec.md §4.2).
func (c *Client) ListPublishedPorts(ctx context.Context) (map[int]bool, error) {
	list, err := c.docker.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	published := map[int]bool{}
	for _, item := range list {
		for _, p := range item.Ports {
			if p.PublicPort != 0 {
				published[int(p.PublicPort)] = true
			}
		}
	}
	return published, nil
}

// PortAvailable implements the two-condition probe from spec.md §4.2:
// a clean TCP bind/close on 0.0.0.0:port AND the port not already
// published by another container. Callers that could not obtain
// published (ListPublishedPorts failed) pass nil, falling back to the
// bind check alone.
func PortAvailable(port int, published map[int]bool) bool {
	if published != nil && published[port] {
		return false
	}
	ln, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

func toExposedPorts(ports []string) nat.PortSet {
	if len(ports) == 0 {
		return nil
	}
	set := nat.PortSet{}
	for _, p := range ports {
		set[nat.Port(p)] = struct{}{}
	}
	return set
}

func toPortBindings(bindings map[string]string) nat.PortMap {
	if len(bindings) == 0 {
		return nil
	}
	m := nat.PortMap{}
	for containerPort, hostPort := range bindings {
		m[nat.Port(containerPort)] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: hostPort}}
	}
	return m
}

// TimeoutContext applies one of the per-stage deadlines spec.md §5
// names (300s dump/finalize/pull, 600s stack archive, 30s readiness).
func TimeoutContext(parent context.Context, seconds int) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, time.Duration(seconds)*time.Second)
}
