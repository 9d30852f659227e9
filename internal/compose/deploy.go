package compose

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Deployer brings a rewritten compose manifest up on the host, with Up
// optionally limited to a subset of services. StackRestore (spec.md
// §4.8) calls CreateOnly for its infra phase and an unfiltered Up for
// its final phase; it starts database containers through the engine,
// not through Deployer.
type Deployer interface {
	Up(ctx context.Context, workDir, manifestPath, project string, services []string) error
	CreateOnly(ctx context.Context, workDir, manifestPath, project string) error
	Down(ctx context.Context, workDir, manifestPath, project string) error
}

// CLIDeployer shells out to the host's "docker compose" binary, the
// same CLI-driving approach MacJediWizard-keldris's Detector uses
// rather than reimplementing compose's orchestration semantics.
type CLIDeployer struct {
	logger zerolog.Logger
}

// NewCLIDeployer constructs a CLIDeployer logging under the "compose"
// component.
func NewCLIDeployer(logger zerolog.Logger) *CLIDeployer {
	return &CLIDeployer{logger: logger.With().Str("component", "compose-deploy").Logger()}
}

// Up runs "docker compose -f <manifestPath> -p <project> up -d
// [services...]" from workDir so relative .env and bind-mount paths
// resolve correctly.
func (d *CLIDeployer) Up(ctx context.Context, workDir, manifestPath, project string, services []string) error {
	args := d.baseArgs(manifestPath, project, "up", "-d")
	args = append(args, services...)
	return d.run(ctx, workDir, args...)
}

// CreateOnly runs "docker compose ... up --no-start", realizing every
// container object without starting it (spec.md §4.8 phase 2).
func (d *CLIDeployer) CreateOnly(ctx context.Context, workDir, manifestPath, project string) error {
	args := d.baseArgs(manifestPath, project, "up", "--no-start")
	return d.run(ctx, workDir, args...)
}

// Down runs "docker compose -f <manifestPath> -p <project> down",
// leaving volumes intact.
func (d *CLIDeployer) Down(ctx context.Context, workDir, manifestPath, project string) error {
	args := d.baseArgs(manifestPath, project, "down")
	return d.run(ctx, workDir, args...)
}

func (d *CLIDeployer) baseArgs(manifestPath, project string, rest ...string) []string {
	args := []string{"compose", "-f", manifestPath}
	if project != "" {
		args = append(args, "-p", project)
	}
	return append(args, rest...)
}

func (d *CLIDeployer) run(ctx context.Context, workDir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "docker", args...)
	cmd.Dir = workDir
	cmd.Env = os.Environ()
	out, err := cmd.CombinedOutput()
	d.logger.Debug().Str("cmd", fmt.Sprintf("docker %v", args)).Str("output", string(out)).Msg("compose command")
	if err != nil {
		return fmt.Errorf("docker %v: %w: %s", args, err, out)
	}
	return nil
}

// WriteManifest writes manifestText to workDir/fileName, creating
// workDir if needed, and returns the full path used for -f.
func WriteManifest(workDir, fileName, manifestText string) (string, error) {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", fmt.Errorf("create stack work dir: %w", err)
	}
	path := filepath.Join(workDir, fileName)
	if err := os.WriteFile(path, []byte(manifestText), 0o644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return path, nil
}
